package types

import "time"

// User represents an identity owned by the authentication subsystem.
// A Profile extends it with community-specific data; the email address
// stays here and is never part of the public profile.
type User struct {
	// ID is the unique identifier (UUID) of the identity.
	ID string `json:"id" db:"id"`

	// Email is the address used to sign in and to receive access
	// notifications. It is only read through the privileged lookup.
	Email string `json:"email" db:"email"`

	// PasswordHash stores the hashed representation of the user's password.
	// This field is never exposed in API responses.
	PasswordHash string `json:"-" db:"password_hash"`

	// CreatedAt is the timestamp when the identity was created.
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// UpdatedAt is the timestamp of the most recent update to the identity.
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
