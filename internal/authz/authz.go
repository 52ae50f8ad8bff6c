// Package authz centralizes the access rules for admin operations.
package authz

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/comunidade-maf/apiserver/internal/store"
	"github.com/comunidade-maf/apiserver/types"
)

var (
	// ErrUnauthorized means no authenticated principal was presented.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden means the principal is authenticated but not allowed.
	ErrForbidden = errors.New("forbidden: admin access required")
)

// Action names an operation guarded by the rule table.
type Action string

const (
	ActionViewAdminSurface  Action = "admin.view"
	ActionReviewCertificate Action = "certificate.review"
	ActionReadCertificate   Action = "certificate.read"
	ActionChangeStatus      Action = "user.status"
	ActionToggleBadge       Action = "user.badge"
	ActionDeleteUser        Action = "user.delete"
)

// Principal is the acting user as seen by the rule table.
type Principal struct {
	ID     string
	Role   types.Role
	Status types.AccessStatus
}

// adminActions are only available to ACTIVE admins.
var adminActions = map[Action]bool{
	ActionViewAdminSurface:  true,
	ActionReviewCertificate: true,
	ActionReadCertificate:   true,
	ActionChangeStatus:      true,
	ActionToggleBadge:       true,
	ActionDeleteUser:        true,
}

// Can reports whether p may perform a.
func Can(p Principal, a Action) bool {
	if strings.TrimSpace(p.ID) == "" {
		return false
	}
	if adminActions[a] {
		return p.Role == types.RoleAdmin && p.Status == types.AccessActive
	}
	return false
}

// ProfileReader loads the profile backing a principal.
type ProfileReader interface {
	GetByID(ctx context.Context, id string) (types.Profile, error)
}

// Guard resolves principals and applies Can.
type Guard struct {
	profiles ProfileReader
}

func NewGuard(profiles ProfileReader) *Guard {
	return &Guard{profiles: profiles}
}

// Authorize resolves principalID and checks it against action.
// It fails closed: a missing identity is ErrUnauthorized, a principal
// without a profile or without permission is ErrForbidden.
func (g *Guard) Authorize(ctx context.Context, principalID string, action Action) (Principal, error) {
	principalID = strings.TrimSpace(principalID)
	if principalID == "" {
		return Principal{}, ErrUnauthorized
	}

	profile, err := g.profiles.GetByID(ctx, principalID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Principal{}, ErrForbidden
		}
		return Principal{}, fmt.Errorf("load principal: %w", err)
	}

	principal := Principal{
		ID:     profile.ID,
		Role:   profile.Role,
		Status: profile.StatusAccess,
	}
	if !Can(principal, action) {
		return principal, ErrForbidden
	}
	return principal, nil
}

// RequireAdmin authorizes entry to the admin surface.
func (g *Guard) RequireAdmin(ctx context.Context, principalID string) (Principal, error) {
	return g.Authorize(ctx, principalID, ActionViewAdminSurface)
}
