package users

import (
	"context"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Store is the credential store consumed by UserService. Every mutating
// method is a single atomic write of one user document.
type Store interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
	// GetByLogin matches identifier against email (case-insensitive) when it
	// contains "@", otherwise against username.
	GetByLogin(ctx context.Context, identifier string) (*User, error)
	// FindConflicts returns every user whose email or username matches, in one lookup.
	FindConflicts(ctx context.Context, email, username string) ([]*User, error)
	// GetByResetToken returns the user holding token with an expiry after now.
	GetByResetToken(ctx context.Context, token string, now time.Time) (*User, error)
	// Update replaces the stored document with u. Returns ErrNotFound if u.ID is unknown.
	Update(ctx context.Context, u *User) error
	Delete(ctx context.Context, id string) error
}

// NormalizeEmail lowercases and trims an email address for storage and lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidEmail reports whether email is a well-formed address.
func ValidEmail(email string) bool {
	return validate.Var(email, "required,email") == nil
}

// IsEmailIdentifier reports whether a login identifier names an email address.
func IsEmailIdentifier(identifier string) bool {
	return strings.Contains(identifier, "@")
}

// ValidUsername reports whether username can be stored. Usernames may not
// contain "@" so a login identifier never matches both an email and a username.
func ValidUsername(username string) bool {
	return username != "" && !strings.Contains(username, "@")
}
