package types

import "time"

// Role is the authorization level of a profile.
type Role string

// Supported roles.
const (
	RoleUser  Role = "USER"
	RoleMod   Role = "MOD"
	RoleAdmin Role = "ADMIN"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleMod, RoleAdmin:
		return true
	default:
		return false
	}
}

// AccessStatus is the lifecycle state governing platform access.
type AccessStatus string

// Supported access states.
const (
	// AccessPending is the state of a profile that onboarded without a
	// certificate, or that an admin sent back for reconsideration.
	AccessPending AccessStatus = "PENDING"

	// AccessUnderReview indicates a certificate is waiting for review.
	AccessUnderReview AccessStatus = "UNDER_REVIEW"

	// AccessActive is the only state that grants access to the community.
	AccessActive AccessStatus = "ACTIVE"

	// AccessSuspended is set manually by an admin.
	AccessSuspended AccessStatus = "SUSPENDED"

	// AccessRevoked follows a rejected certificate or a cancelled,
	// refunded or charged back purchase.
	AccessRevoked AccessStatus = "REVOKED"
)

// AccessStatuses lists every access state in lifecycle order.
var AccessStatuses = []AccessStatus{
	AccessPending,
	AccessUnderReview,
	AccessActive,
	AccessSuspended,
	AccessRevoked,
}

// Valid reports whether s is one of the known access states.
func (s AccessStatus) Valid() bool {
	for _, known := range AccessStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// GrantsAccess reports whether the state allows using the feed,
// the materials library and profile features.
func (s AccessStatus) GrantsAccess() bool {
	return s == AccessActive
}

// Profile represents the community account that extends an identity.
// It carries the access lifecycle state and descriptive fields.
type Profile struct {
	// ID is the identity this profile extends. The profile does not own it.
	ID string `json:"id" db:"id"`

	// FullName is the display name used in the community and in emails.
	FullName string `json:"full_name" db:"full_name"`

	// Bio is an optional professional description.
	Bio *string `json:"bio" db:"bio"`

	// City is an optional location.
	City *string `json:"city" db:"city"`

	// AvatarURL is an optional avatar location.
	AvatarURL *string `json:"avatar_url" db:"avatar_url"`

	// Role is the authorization level. Normal users cannot change it.
	Role Role `json:"role" db:"role"`

	// StatusAccess is the lifecycle state governing platform access.
	StatusAccess AccessStatus `json:"status_access" db:"status_access"`

	// VerifiedBadge is a visible trust marker granted on approval.
	VerifiedBadge bool `json:"verified_badge" db:"verified_badge"`

	// CreatedAt is the immutable creation timestamp.
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
