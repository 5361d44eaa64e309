package identity

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// UserTokenTTL is the fixed lifetime of a user bearer token.
const UserTokenTTL = 7 * 24 * time.Hour

const tokenTypeUser = "user"

// ErrInvalidToken is returned by Verify for any token that fails validation.
var ErrInvalidToken = errors.New("invalid user token")

// UserTokenClaims are the JWT claims carried by an Animora bearer token.
type UserTokenClaims struct {
	jwt.RegisteredClaims
	UserID string `json:"id"`
	Email  string `json:"email"`
	Role   string `json:"role"`
	Type   string `json:"type"`
}

// UserTokenIssuer issues and verifies user bearer tokens.
type UserTokenIssuer struct {
	key    *rsa.PrivateKey
	pub    *rsa.PublicKey
	kid    string
	issuer string
	now    func() time.Time
}

// NewUserTokenIssuer creates a UserTokenIssuer.
//
//	issuerURL: the "iss" claim value; matches the API's base URL.
func NewUserTokenIssuer(keys *KeyManager, issuerURL string) *UserTokenIssuer {
	key := keys.Key()
	return &UserTokenIssuer{
		key:    key,
		pub:    &key.PublicKey,
		kid:    keys.KeyID(),
		issuer: issuerURL,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the time source used for iat/exp and validation.
func (u *UserTokenIssuer) SetClock(now func() time.Time) {
	u.now = now
}

// Issue creates a signed token for the given user.
func (u *UserTokenIssuer) Issue(userID, email, role string) (string, error) {
	now := u.now()
	claims := UserTokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    u.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(UserTokenTTL)),
			ID:        uuid.New().String(),
		},
		UserID: userID,
		Email:  email,
		Role:   role,
		Type:   tokenTypeUser,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = u.kid
	signed, err := token.SignedString(u.key)
	if err != nil {
		return "", fmt.Errorf("sign user token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a token, returning its claims. It is a pure
// signature and expiry check with no I/O.
func (u *UserTokenIssuer) Verify(tokenStr string) (*UserTokenClaims, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&UserTokenClaims{},
		func(tok *jwt.Token) (any, error) {
			if _, ok := tok.Method.(*jwt.SigningMethodRSA); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
			}
			return u.pub, nil
		},
		jwt.WithIssuer(u.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithTimeFunc(u.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	claims, ok := token.Claims.(*UserTokenClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Type != tokenTypeUser || claims.UserID == "" {
		return nil, fmt.Errorf("%w: not a user token", ErrInvalidToken)
	}
	return claims, nil
}

// PublicKey returns the verification key.
func (u *UserTokenIssuer) PublicKey() *rsa.PublicKey { return u.pub }

// KeyID returns the "kid" header value set on issued tokens.
func (u *UserTokenIssuer) KeyID() string { return u.kid }
