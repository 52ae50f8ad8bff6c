// Package access models the access-status lifecycle of a profile.
//
// Automated paths (certificate review, purchase webhooks, resubmission) go
// through Apply, which only allows the transitions listed in its table.
// Override is the admin escape hatch and accepts any known status.
package access

import (
	"errors"
	"fmt"

	"github.com/comunidade-maf/apiserver/types"
)

var (
	// ErrIllegalTransition is returned when a trigger cannot fire from the
	// current status.
	ErrIllegalTransition = errors.New("illegal access transition")

	// ErrUnknownStatus is returned for status values outside the known set.
	ErrUnknownStatus = errors.New("unknown access status")
)

// State is the part of a profile the lifecycle owns.
type State struct {
	Status        types.AccessStatus
	VerifiedBadge bool
}

// StateOf extracts the lifecycle state of a profile.
func StateOf(p types.Profile) State {
	return State{Status: p.StatusAccess, VerifiedBadge: p.VerifiedBadge}
}

// Trigger is an automated event that moves a profile through the lifecycle.
type Trigger int

const (
	CertificateSubmitted Trigger = iota + 1
	CertificateApproved
	CertificateRejected
	PurchaseApproved
	PurchaseCancelled
	PurchaseRefunded
	PurchaseChargeback
)

func (t Trigger) String() string {
	switch t {
	case CertificateSubmitted:
		return "certificate_submitted"
	case CertificateApproved:
		return "certificate_approved"
	case CertificateRejected:
		return "certificate_rejected"
	case PurchaseApproved:
		return "purchase_approved"
	case PurchaseCancelled:
		return "purchase_cancelled"
	case PurchaseRefunded:
		return "purchase_refunded"
	case PurchaseChargeback:
		return "purchase_chargeback"
	default:
		return "unknown"
	}
}

// Initial returns the state of a freshly onboarded profile.
func Initial(hasCertificate bool) State {
	if hasCertificate {
		return State{Status: types.AccessUnderReview}
	}
	return State{Status: types.AccessPending}
}

// Apply returns the state reached by firing t from current.
func Apply(current State, t Trigger) (State, error) {
	if !current.Status.Valid() {
		return current, fmt.Errorf("%w: %q", ErrUnknownStatus, current.Status)
	}

	switch t {
	case CertificateSubmitted:
		switch current.Status {
		case types.AccessPending, types.AccessUnderReview, types.AccessRevoked:
			return State{Status: types.AccessUnderReview, VerifiedBadge: current.VerifiedBadge}, nil
		default:
			return current, fmt.Errorf("%w: %s from %s", ErrIllegalTransition, t, current.Status)
		}
	case CertificateApproved, PurchaseApproved:
		return State{Status: types.AccessActive, VerifiedBadge: true}, nil
	case CertificateRejected, PurchaseCancelled, PurchaseRefunded, PurchaseChargeback:
		return State{Status: types.AccessRevoked, VerifiedBadge: false}, nil
	default:
		return current, fmt.Errorf("%w: unknown trigger %d", ErrIllegalTransition, int(t))
	}
}

// ForDecision maps a certificate review decision to its trigger.
func ForDecision(decision types.ReviewStatus) (Trigger, error) {
	switch decision {
	case types.ReviewApproved:
		return CertificateApproved, nil
	case types.ReviewRejected:
		return CertificateRejected, nil
	default:
		return 0, fmt.Errorf("%w: %q is not a review decision", ErrIllegalTransition, decision)
	}
}

// Override sets target as the new status on an admin's behalf.
// The badge is left as is; admins toggle it separately.
func Override(current State, target types.AccessStatus) (State, error) {
	if !target.Valid() {
		return current, fmt.Errorf("%w: %q", ErrUnknownStatus, target)
	}
	return State{Status: target, VerifiedBadge: current.VerifiedBadge}, nil
}
