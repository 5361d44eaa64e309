package users

import (
	"time"
)

// Role is the marketplace role of an account holder.
type Role string

const (
	RoleClient Role = "client"
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleClient, RoleOwner, RoleAdmin:
		return true
	}
	return false
}

// SelfAssignable reports whether a user may pick r for themselves at
// registration or profile completion. Admin is granted out of band only.
func (r Role) SelfAssignable() bool {
	return r == RoleClient || r == RoleOwner
}

// User is an Animora account holder as persisted in the credential store.
//
// VerificationCode/VerificationCodeExpires and ResetPasswordToken/
// ResetPasswordExpires are always set or cleared together.
type User struct {
	ID           string `json:"id"            bson:"_id"           db:"id"`
	Username     string `json:"username"      bson:"username"      db:"username"`
	Email        string `json:"email"         bson:"email"         db:"email"`
	PasswordHash string `json:"-"             bson:"password_hash,omitempty" db:"password_hash"`
	// HasLocalPassword is false for accounts created through Google sign-in
	// until a password is set through the reset flow.
	HasLocalPassword bool   `json:"-" bson:"has_local_password" db:"has_local_password"`
	Name             string `json:"name"          bson:"name"          db:"name"`
	Role             Role   `json:"role"          bson:"role"          db:"role"`
	IsVerified       bool   `json:"is_verified"   bson:"is_verified"   db:"is_verified"`

	VerificationCode        string     `json:"-" bson:"verification_code,omitempty"         db:"verification_code"`
	VerificationCodeExpires *time.Time `json:"-" bson:"verification_code_expires,omitempty" db:"verification_code_expires"`

	ResetPasswordToken   string     `json:"-" bson:"reset_password_token,omitempty"   db:"reset_password_token"`
	ResetPasswordExpires *time.Time `json:"-" bson:"reset_password_expires,omitempty" db:"reset_password_expires"`

	ProfileImage     string    `json:"profile_image,omitempty" bson:"profile_image,omitempty" db:"profile_image"`
	Phone            string    `json:"phone,omitempty"         bson:"phone,omitempty"         db:"phone"`
	Address          string    `json:"address,omitempty"       bson:"address,omitempty"       db:"address"`
	GoogleID         string    `json:"-"                       bson:"google_id,omitempty"     db:"google_id"`
	ProfileCompleted bool      `json:"profile_completed"       bson:"profile_completed"       db:"profile_completed"`
	CreatedAt        time.Time `json:"created_at"              bson:"created_at"              db:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"              bson:"updated_at"              db:"updated_at"`
}

// PublicUser is the projection of a User returned to API clients.
type PublicUser struct {
	ID               string    `json:"id"`
	Username         string    `json:"username"`
	Email            string    `json:"email"`
	Name             string    `json:"name"`
	Role             Role      `json:"role"`
	IsVerified       bool      `json:"isVerified"`
	ProfileImage     string    `json:"profileImage,omitempty"`
	Phone            string    `json:"phone,omitempty"`
	Address          string    `json:"address,omitempty"`
	HasLocalPassword bool      `json:"hasLocalPassword"`
	ProfileCompleted bool      `json:"profileCompleted"`
	CreatedAt        time.Time `json:"createdAt"`
}

// Public strips credentials and pending verification/reset state.
func (u *User) Public() *PublicUser {
	if u == nil {
		return nil
	}
	return &PublicUser{
		ID:               u.ID,
		Username:         u.Username,
		Email:            u.Email,
		Name:             u.Name,
		Role:             u.Role,
		IsVerified:       u.IsVerified,
		ProfileImage:     u.ProfileImage,
		Phone:            u.Phone,
		Address:          u.Address,
		HasLocalPassword: u.HasLocalPassword,
		ProfileCompleted: u.ProfileCompleted,
		CreatedAt:        u.CreatedAt,
	}
}

// setVerificationCode rotates the pending verification code.
func (u *User) setVerificationCode(code string, expires time.Time) {
	u.VerificationCode = code
	u.VerificationCodeExpires = &expires
}

func (u *User) clearVerificationCode() {
	u.VerificationCode = ""
	u.VerificationCodeExpires = nil
}

func (u *User) setResetToken(token string, expires time.Time) {
	u.ResetPasswordToken = token
	u.ResetPasswordExpires = &expires
}

func (u *User) clearResetToken() {
	u.ResetPasswordToken = ""
	u.ResetPasswordExpires = nil
}
