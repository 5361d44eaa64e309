package users

import (
	"errors"
)

// Store-level sentinel errors. Implementations of Store return these so the
// service can translate them without knowing the backend.
var (
	// ErrNotFound is returned when a user lookup finds no matching record.
	ErrNotFound = errors.New("user not found")

	// ErrDuplicateEmail is returned when a write collides with another user's email.
	ErrDuplicateEmail = errors.New("email already registered")

	// ErrDuplicateUsername is returned when a write collides with another user's username.
	ErrDuplicateUsername = errors.New("username already taken")
)

// Kind classifies the errors UserService returns to its callers.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindConflict
	KindAuthentication
	KindNotFound
	KindAlreadyVerified
	KindInvalidCode
	KindExpiredCode
	KindInvalidOrExpiredToken
	KindOAuthAccount
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindAuthentication:
		return "authentication"
	case KindNotFound:
		return "not_found"
	case KindAlreadyVerified:
		return "already_verified"
	case KindInvalidCode:
		return "invalid_code"
	case KindExpiredCode:
		return "expired_code"
	case KindInvalidOrExpiredToken:
		return "invalid_or_expired_token"
	case KindOAuthAccount:
		return "oauth_account"
	default:
		return "internal"
	}
}

// Error is the only error type UserService lets escape. Message is safe to
// show to end users; Err carries the underlying cause for logs.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the Kind of err, or KindInternal for anything that is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// User-facing messages. Login failures share one message on purpose.
const (
	msgMissingFields      = "Please provide all required fields"
	msgInvalidRole        = "Role must be either client or owner"
	msgInvalidEmail       = "Please provide a valid email address"
	msgInvalidUsername    = "Username must not contain @"
	msgOAuthUnverified    = "Google account email is not verified"
	msgEmailTaken         = "Email already registered"
	msgUsernameTaken      = "Username already taken"
	msgInvalidCredentials = "Invalid credentials"
	msgNotVerified        = "Please verify your email before logging in"
	msgUserNotFound       = "User not found"
	msgAlreadyVerified    = "Email already verified"
	msgInvalidCode        = "Invalid verification code"
	msgExpiredCode        = "Verification code has expired. Please request a new one"
	msgInvalidResetToken  = "Invalid or expired reset token"
	msgPasswordTooShort   = "Password must be at least 6 characters"
	msgPasswordTooLong    = "Password must be at most 72 bytes"
	msgOAuthAccount       = "This account uses Google sign-in and has no password to change"
	msgWrongPassword      = "Current password is incorrect"
	msgProfileCompleted   = "Profile already completed"
	msgNoOAuthEmail       = "Google account did not provide an email address"
	msgInternal           = "Internal server error"
)

func newError(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

func internalError(err error) *Error {
	return &Error{Kind: KindInternal, Message: msgInternal, Err: err}
}
