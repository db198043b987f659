package types

import "time"

// Roles form a closed set. Every authorization decision compares
// against one of these two values.
const (
	RoleMember = "member"
	RoleAdmin  = "admin"
)

// User represents an account in the system.
// It contains identity, role, and audit metadata.
type User struct {
	// ID is the unique identifier of the user.
	ID int `json:"id" db:"id"`

	// Name is the user's display or full name.
	Name string `json:"name" db:"name"`

	// Email is the user's email address. Uniqueness is case-insensitive.
	Email string `json:"email" db:"email"`

	// Role indicates the user's authorization level within the
	// system ("member" or "admin").
	Role string `json:"role" db:"role"`

	// PasswordHash stores the hashed representation of the user's password.
	// This field is never exposed in API responses.
	PasswordHash string `json:"-" db:"password_hash"`

	// ResetTokenHash stores the SHA-256 hash of the most recently issued
	// password-reset token, empty when no reset is pending. The plaintext
	// token is never persisted.
	ResetTokenHash string `json:"-" db:"reset_token_hash"`

	// ResetTokenExpiresAt bounds the pending reset token's validity.
	// Set iff ResetTokenHash is set.
	ResetTokenExpiresAt *time.Time `json:"-" db:"reset_token_expires_at"`

	// CreatedAt is the timestamp when the user account was created.
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// UpdatedAt is the timestamp of the most recent update to the user account.
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
