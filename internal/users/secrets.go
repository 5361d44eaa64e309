package users

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"time"

	"golang.org/x/crypto/bcrypt"
)

const (
	// VerificationCodeTTL is how long an emailed verification code stays valid.
	VerificationCodeTTL = 10 * time.Minute

	// ResetTokenTTL is how long a password-reset link stays valid.
	ResetTokenTTL = time.Hour

	// MinPasswordLength applies to reset and change-password.
	MinPasswordLength = 6

	resetTokenBytes = 32
)

// NewVerificationCode returns a random six-digit numeric code.
func NewVerificationCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", fmt.Errorf("generate verification code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}

// NewResetToken returns a hex-encoded 256-bit random token.
func NewResetToken() (string, error) {
	buf := make([]byte, resetTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate reset token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// PasswordHasher wraps bcrypt with a configurable work factor.
type PasswordHasher struct {
	cost int
}

// NewPasswordHasher creates a PasswordHasher. A zero cost selects bcrypt.DefaultCost;
// out-of-range values are clamped.
func NewPasswordHasher(cost int) *PasswordHasher {
	switch {
	case cost == 0:
		cost = bcrypt.DefaultCost
	case cost < bcrypt.MinCost:
		cost = bcrypt.MinCost
	case cost > bcrypt.MaxCost:
		cost = bcrypt.MaxCost
	}
	return &PasswordHasher{cost: cost}
}

// Hash returns the bcrypt hash of password.
func (h *PasswordHasher) Hash(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Verify reports whether password matches hash.
func (h *PasswordHasher) Verify(hash, password string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// hashPassword maps hasher failures onto service errors.
func (s *UserService) hashPassword(password string) (string, error) {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", newError(KindValidation, msgPasswordTooLong)
		}
		return "", internalError(fmt.Errorf("hash password: %w", err))
	}
	return hash, nil
}
