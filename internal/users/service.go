package users

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/animora/animora/internal/email"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// tokenIssuer signs bearer tokens for authenticated users.
type tokenIssuer interface {
	Issue(userID, email, role string) (string, error)
}

// mailer queues transactional email without blocking.
type mailer interface {
	Dispatch(msg email.Message)
}

// RegisterInput is the payload for Register.
type RegisterInput struct {
	Email    string
	Password string
	Name     string
	Username string
	Role     string
	Phone    string
	Address  string
}

// RegisterResult is returned by Register. DevCode is only set in development mode.
type RegisterResult struct {
	UserID               string
	Email                string
	RequiresVerification bool
	DevCode              string
}

// AuthResult carries a freshly issued bearer token and the user it was issued for.
type AuthResult struct {
	Token string
	User  *User
}

// ForgotPasswordResult is returned by ForgotPassword. Both fields are only
// set in development mode and only when the account exists.
type ForgotPasswordResult struct {
	DevToken    string
	DevResetURL string
}

// OAuthProfile is the federated identity returned by an OAuth provider.
type OAuthProfile struct {
	Provider   string
	ProviderID string
	Email      string
	// EmailVerified reports whether the provider vouches for Email. Accounts
	// are only matched or created by email when it is set.
	EmailVerified bool
	Name          string
	AvatarURL     string
}

// OAuthResult is returned by ReconcileOAuth.
type OAuthResult struct {
	AuthResult
	IsNewUser bool
}

// UserService implements the account lifecycle: registration, verification,
// login, password recovery, federated sign-in and deletion.
type UserService struct {
	store         Store
	hasher        *PasswordHasher
	tokens        tokenIssuer
	mailer        mailer
	frontendURL   string
	devMode       bool
	requireVerify bool
	storeTimeout  time.Duration
	now           func() time.Time
	logger        *zap.Logger
}

// NewUserService creates a new UserService.
func NewUserService(store Store, hasher *PasswordHasher, tokens tokenIssuer, m mailer, logger *zap.Logger) *UserService {
	return &UserService{
		store:        store,
		hasher:       hasher,
		tokens:       tokens,
		mailer:       m,
		frontendURL:  "http://localhost:3000",
		storeTimeout: 5 * time.Second,
		now:          func() time.Time { return time.Now().UTC() },
		logger:       logger,
	}
}

// SetFrontendURL overrides the base URL used to build password-reset links.
func (s *UserService) SetFrontendURL(url string) {
	s.frontendURL = strings.TrimRight(url, "/")
}

// SetDevelopmentMode makes Register, ResendCode and ForgotPassword echo the
// generated secrets in their results.
func (s *UserService) SetDevelopmentMode(on bool) {
	s.devMode = on
}

// SetRequireVerifiedLogin makes Login reject accounts whose email is unverified.
func (s *UserService) SetRequireVerifiedLogin(on bool) {
	s.requireVerify = on
}

// SetStoreTimeout bounds how long a single operation may spend in the store.
func (s *UserService) SetStoreTimeout(d time.Duration) {
	if d > 0 {
		s.storeTimeout = d
	}
}

// SetClock replaces the time source.
func (s *UserService) SetClock(now func() time.Time) {
	s.now = now
}

func (s *UserService) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.storeTimeout)
}

// Register creates an unverified local account and emails a verification code.
func (s *UserService) Register(ctx context.Context, in RegisterInput) (*RegisterResult, error) {
	in.Email = NormalizeEmail(in.Email)
	in.Username = strings.TrimSpace(in.Username)
	in.Name = strings.TrimSpace(in.Name)
	if in.Email == "" || in.Password == "" || in.Name == "" || in.Username == "" {
		return nil, newError(KindValidation, msgMissingFields)
	}
	if !ValidEmail(in.Email) {
		return nil, newError(KindValidation, msgInvalidEmail)
	}
	if !ValidUsername(in.Username) {
		return nil, newError(KindValidation, msgInvalidUsername)
	}

	role := RoleClient
	if in.Role != "" {
		role = Role(strings.ToLower(strings.TrimSpace(in.Role)))
		if !role.SelfAssignable() {
			return nil, newError(KindValidation, msgInvalidRole)
		}
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	existing, err := s.store.FindConflicts(ctx, in.Email, in.Username)
	if err != nil {
		return nil, internalError(fmt.Errorf("check existing user: %w", err))
	}
	for _, u := range existing {
		if u.Email == in.Email {
			return nil, newError(KindConflict, msgEmailTaken)
		}
	}
	if len(existing) > 0 {
		return nil, newError(KindConflict, msgUsernameTaken)
	}

	hash, err := s.hashPassword(in.Password)
	if err != nil {
		return nil, err
	}

	code, err := NewVerificationCode()
	if err != nil {
		return nil, internalError(err)
	}

	now := s.now()
	u := &User{
		ID:               uuid.NewString(),
		Username:         in.Username,
		Email:            in.Email,
		PasswordHash:     hash,
		HasLocalPassword: true,
		Name:             in.Name,
		Role:             role,
		Phone:            strings.TrimSpace(in.Phone),
		Address:          strings.TrimSpace(in.Address),
		ProfileCompleted: true,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	u.setVerificationCode(code, now.Add(VerificationCodeTTL))

	if err := s.store.Create(ctx, u); err != nil {
		return nil, mapWriteError("create user", err)
	}

	s.logger.Info("user registered", zap.String("user_id", u.ID), zap.String("role", string(u.Role)))
	s.sendVerificationCode(u, code)

	res := &RegisterResult{
		UserID:               u.ID,
		Email:                u.Email,
		RequiresVerification: true,
	}
	if s.devMode {
		res.DevCode = code
	}
	return res, nil
}

// Login authenticates with an email or username plus password.
func (s *UserService) Login(ctx context.Context, identifier, password string) (*AuthResult, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || password == "" {
		return nil, newError(KindValidation, msgMissingFields)
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	u, err := s.store.GetByLogin(ctx, identifier)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, newError(KindAuthentication, msgInvalidCredentials)
		}
		return nil, internalError(fmt.Errorf("lookup user: %w", err))
	}

	if !u.HasLocalPassword || !s.hasher.Verify(u.PasswordHash, password) {
		return nil, newError(KindAuthentication, msgInvalidCredentials)
	}

	if s.requireVerify && !u.IsVerified {
		return nil, newError(KindAuthentication, msgNotVerified)
	}

	return s.issue(u)
}

// VerifyEmail checks a registration code and marks the account verified.
func (s *UserService) VerifyEmail(ctx context.Context, emailAddr, code string) (*AuthResult, error) {
	emailAddr = NormalizeEmail(emailAddr)
	code = strings.TrimSpace(code)
	if emailAddr == "" || code == "" {
		return nil, newError(KindValidation, msgMissingFields)
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	u, err := s.getByEmail(ctx, emailAddr)
	if err != nil {
		return nil, err
	}
	if u.IsVerified {
		return nil, newError(KindAlreadyVerified, msgAlreadyVerified)
	}
	if u.VerificationCode == "" || subtle.ConstantTimeCompare([]byte(code), []byte(u.VerificationCode)) != 1 {
		return nil, newError(KindInvalidCode, msgInvalidCode)
	}
	if u.VerificationCodeExpires == nil || s.now().After(*u.VerificationCodeExpires) {
		return nil, newError(KindExpiredCode, msgExpiredCode)
	}

	u.IsVerified = true
	u.clearVerificationCode()
	u.UpdatedAt = s.now()
	if err := s.store.Update(ctx, u); err != nil {
		return nil, mapWriteError("verify email", err)
	}

	s.logger.Info("email verified", zap.String("user_id", u.ID))
	return s.issue(u)
}

// ResendCode rotates the verification code, invalidating the previous one.
// The returned string is the new code in development mode and empty otherwise.
func (s *UserService) ResendCode(ctx context.Context, emailAddr string) (string, error) {
	emailAddr = NormalizeEmail(emailAddr)
	if emailAddr == "" {
		return "", newError(KindValidation, msgMissingFields)
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	u, err := s.getByEmail(ctx, emailAddr)
	if err != nil {
		return "", err
	}
	if u.IsVerified {
		return "", newError(KindAlreadyVerified, msgAlreadyVerified)
	}

	code, err := NewVerificationCode()
	if err != nil {
		return "", internalError(err)
	}
	now := s.now()
	u.setVerificationCode(code, now.Add(VerificationCodeTTL))
	u.UpdatedAt = now
	if err := s.store.Update(ctx, u); err != nil {
		return "", mapWriteError("rotate verification code", err)
	}

	s.sendVerificationCode(u, code)
	if s.devMode {
		return code, nil
	}
	return "", nil
}

// ForgotPassword issues a reset token and emails a reset link. The outcome is
// indistinguishable to the caller whether or not the address is registered.
func (s *UserService) ForgotPassword(ctx context.Context, emailAddr string) (*ForgotPasswordResult, error) {
	emailAddr = NormalizeEmail(emailAddr)
	if emailAddr == "" {
		return nil, newError(KindValidation, msgMissingFields)
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	res := &ForgotPasswordResult{}

	u, err := s.store.GetByEmail(ctx, emailAddr)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.logger.Error("forgot password: lookup user", zap.Error(err))
		}
		return res, nil
	}

	token, err := NewResetToken()
	if err != nil {
		s.logger.Error("forgot password: generate token", zap.Error(err))
		return res, nil
	}

	now := s.now()
	u.setResetToken(token, now.Add(ResetTokenTTL))
	u.UpdatedAt = now
	if err := s.store.Update(ctx, u); err != nil {
		s.logger.Error("forgot password: persist token", zap.String("user_id", u.ID), zap.Error(err))
		return res, nil
	}

	link := s.resetLink(token)
	msg, err := email.PasswordResetEmail(u.Email, u.Name, link, ResetTokenTTL)
	if err != nil {
		s.logger.Error("render password reset email", zap.Error(err))
	} else {
		s.mailer.Dispatch(msg)
	}

	if s.devMode {
		res.DevToken = token
		res.DevResetURL = link
	}
	return res, nil
}

// ResetPassword consumes a reset token and sets a new password.
// Wrong and expired tokens are reported identically.
func (s *UserService) ResetPassword(ctx context.Context, token, newPassword string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return newError(KindInvalidOrExpiredToken, msgInvalidResetToken)
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	u, err := s.store.GetByResetToken(ctx, token, s.now())
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return newError(KindInvalidOrExpiredToken, msgInvalidResetToken)
		}
		return internalError(fmt.Errorf("lookup reset token: %w", err))
	}

	if len(newPassword) < MinPasswordLength {
		return newError(KindValidation, msgPasswordTooShort)
	}
	hash, err := s.hashPassword(newPassword)
	if err != nil {
		return err
	}

	u.PasswordHash = hash
	u.HasLocalPassword = true
	u.clearResetToken()
	u.UpdatedAt = s.now()
	if err := s.store.Update(ctx, u); err != nil {
		return mapWriteError("reset password", err)
	}

	s.logger.Info("password reset", zap.String("user_id", u.ID))
	return nil
}

// ChangePassword replaces the password of an authenticated user.
func (s *UserService) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	u, err := s.getByID(ctx, userID)
	if err != nil {
		return err
	}
	if !u.HasLocalPassword {
		return newError(KindOAuthAccount, msgOAuthAccount)
	}
	if currentPassword == "" || newPassword == "" {
		return newError(KindValidation, msgMissingFields)
	}
	if !s.hasher.Verify(u.PasswordHash, currentPassword) {
		return newError(KindAuthentication, msgWrongPassword)
	}
	if len(newPassword) < MinPasswordLength {
		return newError(KindValidation, msgPasswordTooShort)
	}

	hash, err := s.hashPassword(newPassword)
	if err != nil {
		return err
	}
	u.PasswordHash = hash
	u.UpdatedAt = s.now()
	if err := s.store.Update(ctx, u); err != nil {
		return mapWriteError("change password", err)
	}

	s.logger.Info("password changed", zap.String("user_id", u.ID))
	return nil
}

// ReconcileOAuth finds the account matching a federated profile by email,
// creating a verified, password-less account when none exists.
func (s *UserService) ReconcileOAuth(ctx context.Context, p OAuthProfile) (*OAuthResult, error) {
	emailAddr := NormalizeEmail(p.Email)
	if emailAddr == "" {
		return nil, newError(KindValidation, msgNoOAuthEmail)
	}
	if p.ProviderID == "" {
		return nil, newError(KindValidation, msgMissingFields)
	}
	if !p.EmailVerified {
		return nil, newError(KindAuthentication, msgOAuthUnverified)
	}
	provider := p.Provider
	if provider == "" {
		provider = "google"
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	existing, err := s.store.GetByEmail(ctx, emailAddr)
	switch {
	case err == nil:
		if err := s.linkOAuth(ctx, existing, p); err != nil {
			return nil, err
		}
		auth, err := s.issue(existing)
		if err != nil {
			return nil, err
		}
		return &OAuthResult{AuthResult: *auth}, nil
	case !errors.Is(err, ErrNotFound):
		return nil, internalError(fmt.Errorf("lookup by email: %w", err))
	}

	now := s.now()
	name := strings.TrimSpace(p.Name)
	if name == "" {
		name = emailAddr
	}
	u := &User{
		ID:               uuid.NewString(),
		Username:         provider + "_" + p.ProviderID,
		Email:            emailAddr,
		Name:             name,
		Role:             RoleClient,
		IsVerified:       true,
		ProfileImage:     p.AvatarURL,
		GoogleID:         p.ProviderID,
		ProfileCompleted: false,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := s.store.Create(ctx, u); err != nil {
		if !errors.Is(err, ErrDuplicateEmail) {
			return nil, mapWriteError("create oauth user", err)
		}
		// Lost a race with a concurrent sign-in for the same email.
		winner, getErr := s.store.GetByEmail(ctx, emailAddr)
		if getErr != nil {
			return nil, internalError(fmt.Errorf("reload oauth user: %w", getErr))
		}
		auth, err := s.issue(winner)
		if err != nil {
			return nil, err
		}
		return &OAuthResult{AuthResult: *auth}, nil
	}

	s.logger.Info("oauth user created", zap.String("user_id", u.ID), zap.String("provider", provider))
	auth, err := s.issue(u)
	if err != nil {
		return nil, err
	}
	return &OAuthResult{AuthResult: *auth, IsNewUser: true}, nil
}

// linkOAuth records the provider identity on an existing account. A provider
// that vouches for the email also satisfies email verification.
func (s *UserService) linkOAuth(ctx context.Context, u *User, p OAuthProfile) error {
	changed := false
	if u.GoogleID == "" {
		u.GoogleID = p.ProviderID
		changed = true
	}
	if u.ProfileImage == "" && p.AvatarURL != "" {
		u.ProfileImage = p.AvatarURL
		changed = true
	}
	if !u.IsVerified {
		u.IsVerified = true
		u.clearVerificationCode()
		changed = true
	}
	if !changed {
		return nil
	}
	u.UpdatedAt = s.now()
	if err := s.store.Update(ctx, u); err != nil {
		return mapWriteError("link oauth identity", err)
	}
	return nil
}

// CompleteOAuthProfile sets the username and role of an account created by
// federated sign-in. It may run once per account.
func (s *UserService) CompleteOAuthProfile(ctx context.Context, userID, username, role string) (*AuthResult, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, newError(KindValidation, msgMissingFields)
	}
	if !ValidUsername(username) {
		return nil, newError(KindValidation, msgInvalidUsername)
	}
	r := RoleClient
	if role != "" {
		r = Role(strings.ToLower(strings.TrimSpace(role)))
		if !r.SelfAssignable() {
			return nil, newError(KindValidation, msgInvalidRole)
		}
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	u, err := s.getByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u.ProfileCompleted {
		return nil, newError(KindValidation, msgProfileCompleted)
	}

	other, err := s.store.GetByUsername(ctx, username)
	switch {
	case err == nil && other.ID != u.ID:
		return nil, newError(KindConflict, msgUsernameTaken)
	case err != nil && !errors.Is(err, ErrNotFound):
		return nil, internalError(fmt.Errorf("lookup username: %w", err))
	}

	u.Username = username
	u.Role = r
	u.ProfileCompleted = true
	u.UpdatedAt = s.now()
	if err := s.store.Update(ctx, u); err != nil {
		return nil, mapWriteError("complete profile", err)
	}

	s.logger.Info("oauth profile completed", zap.String("user_id", u.ID), zap.String("role", string(r)))
	return s.issue(u)
}

// Me returns the account of an authenticated user.
func (s *UserService) Me(ctx context.Context, userID string) (*User, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.getByID(ctx, userID)
}

// DeleteAccount permanently removes an account.
func (s *UserService) DeleteAccount(ctx context.Context, userID string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.store.Delete(ctx, userID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return newError(KindNotFound, msgUserNotFound)
		}
		return internalError(fmt.Errorf("delete user: %w", err))
	}
	s.logger.Info("account deleted", zap.String("user_id", userID))
	return nil
}

func (s *UserService) getByID(ctx context.Context, id string) (*User, error) {
	u, err := s.store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, newError(KindNotFound, msgUserNotFound)
		}
		return nil, internalError(fmt.Errorf("get user: %w", err))
	}
	return u, nil
}

func (s *UserService) getByEmail(ctx context.Context, emailAddr string) (*User, error) {
	u, err := s.store.GetByEmail(ctx, emailAddr)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, newError(KindNotFound, msgUserNotFound)
		}
		return nil, internalError(fmt.Errorf("get user by email: %w", err))
	}
	return u, nil
}

func (s *UserService) issue(u *User) (*AuthResult, error) {
	tok, err := s.tokens.Issue(u.ID, u.Email, string(u.Role))
	if err != nil {
		return nil, internalError(fmt.Errorf("issue token: %w", err))
	}
	return &AuthResult{Token: tok, User: u}, nil
}

func (s *UserService) sendVerificationCode(u *User, code string) {
	msg, err := email.VerificationCodeEmail(u.Email, u.Name, code, VerificationCodeTTL)
	if err != nil {
		s.logger.Error("render verification email", zap.String("user_id", u.ID), zap.Error(err))
		return
	}
	s.mailer.Dispatch(msg)
}

func (s *UserService) resetLink(token string) string {
	return s.frontendURL + "/reset-password/" + token
}

// mapWriteError translates store write failures. Unique-constraint
// violations become the same conflicts a pre-check would have reported.
func mapWriteError(op string, err error) error {
	switch {
	case errors.Is(err, ErrDuplicateEmail):
		return newError(KindConflict, msgEmailTaken)
	case errors.Is(err, ErrDuplicateUsername):
		return newError(KindConflict, msgUsernameTaken)
	case errors.Is(err, ErrNotFound):
		return newError(KindNotFound, msgUserNotFound)
	default:
		return internalError(fmt.Errorf("%s: %w", op, err))
	}
}
