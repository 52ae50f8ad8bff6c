package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/comunidade-maf/apiserver/internal/authz"
	"github.com/comunidade-maf/apiserver/internal/store"
	"github.com/comunidade-maf/apiserver/types"
)

var (
	// ErrValidation marks errors caused by bad input.
	ErrValidation = errors.New("validation failed")

	// ErrAlreadyOnboarded is returned when a profile already exists.
	ErrAlreadyOnboarded = errors.New("profile already exists")

	// ErrInvalidPayload is returned for undecodable webhook bodies.
	ErrInvalidPayload = fmt.Errorf("%w: invalid payload", ErrValidation)
)

func validationErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// ActionResult is the outcome of an admin action. It carries a message
// for the caller; Err keeps the cause for status mapping.
type ActionResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func succeed(message string) ActionResult {
	return ActionResult{Success: true, Message: message}
}

func fail(err error, message string) ActionResult {
	return ActionResult{Success: false, Message: message, Err: err}
}

// denied builds the result for a failed guard check.
func denied(err error) ActionResult {
	switch {
	case errors.Is(err, authz.ErrUnauthorized):
		return fail(err, "Unauthorized")
	case errors.Is(err, authz.ErrForbidden):
		return fail(err, "Forbidden: Admin access required")
	default:
		return fail(err, "Failed to verify admin access")
	}
}

// Authorizer checks whether a principal may perform an action.
type Authorizer interface {
	Authorize(ctx context.Context, principalID string, action authz.Action) (authz.Principal, error)
}

// TxRunner runs a group of access writes atomically.
type TxRunner interface {
	WithinTx(ctx context.Context, fn func(w store.AccessWriter) error) error
}

// UserRepository defines persistence operations for identities.
type UserRepository interface {
	GetByID(ctx context.Context, id string) (types.User, error)
	GetByEmail(ctx context.Context, email string) (types.User, error)
	LookupEmail(ctx context.Context, id string) (string, error)
	Create(ctx context.Context, user types.User) (types.User, error)
	Delete(ctx context.Context, id string) error
}

// ProfileRepository defines persistence operations for profiles.
type ProfileRepository interface {
	GetByID(ctx context.Context, id string) (types.Profile, error)
	List(ctx context.Context, status types.AccessStatus, offset, limit int) ([]types.Profile, int, error)
	CountByStatus(ctx context.Context, status types.AccessStatus) (int, error)
	UpdateDetails(ctx context.Context, profile types.Profile) error
	SetAccessState(ctx context.Context, id string, status types.AccessStatus, badge bool) error
	SetBadge(ctx context.Context, id string, badge bool) error
}

// CertificateRepository defines read operations for certificates.
type CertificateRepository interface {
	Get(ctx context.Context, id string) (types.Certificate, error)
	Latest(ctx context.Context, userID string) (types.Certificate, error)
	ListQueue(ctx context.Context, status types.ReviewStatus, offset, limit int) ([]types.CertificateQueueItem, int, error)
	CountByStatus(ctx context.Context, status types.ReviewStatus) (int, error)
	FilePaths(ctx context.Context, userID string) ([]string, error)
}

// HotmartRepository defines read operations for linked Hotmart customers.
type HotmartRepository interface {
	CustomerByEmail(ctx context.Context, email string) (types.HotmartCustomer, error)
	CountCustomers(ctx context.Context) (int, error)
}

// Page is a slice of results with the total count.
type Page[T any] struct {
	Items []T `json:"items"`
	Total int `json:"total"`
	Page  int `json:"page"`
	Size  int `json:"page_size"`
}

const defaultPageSize = 20

func pageBounds(page, size int) (offset, limit int) {
	if page < 1 {
		page = 1
	}
	if size <= 0 {
		size = defaultPageSize
	}
	if size > 100 {
		size = 100
	}
	return (page - 1) * size, size
}

type clock func() time.Time

func systemClock() time.Time { return time.Now().UTC() }
