package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/comunidade-maf/apiserver/internal/access"
	"github.com/comunidade-maf/apiserver/internal/authz"
	"github.com/comunidade-maf/apiserver/internal/cache"
	"github.com/comunidade-maf/apiserver/internal/metrics"
	"github.com/comunidade-maf/apiserver/internal/notify"
	"github.com/comunidade-maf/apiserver/internal/store"
	"github.com/comunidade-maf/apiserver/types"
	"go.uber.org/zap"
)

// ReviewRequest is an admin decision on a member's certificate.
// CertificateID may be empty, in which case the member's latest
// certificate is decided if one exists.
type ReviewRequest struct {
	CertificateID string             `json:"certificate_id,omitempty"`
	UserID        string             `json:"user_id"`
	Decision      types.ReviewStatus `json:"decision"`
	Reason        string             `json:"reason,omitempty"`
}

// ReviewService orchestrates certificate review decisions.
type ReviewService struct {
	guard        Authorizer
	tx           TxRunner
	users        UserRepository
	profiles     ProfileRepository
	certificates CertificateRepository
	notifier     notify.Notifier
	cache        cache.StatusCache
	metrics      *metrics.Metrics
	logger       *zap.Logger
	now          clock
}

type ReviewDeps struct {
	Guard        Authorizer
	Tx           TxRunner
	Users        UserRepository
	Profiles     ProfileRepository
	Certificates CertificateRepository
	Notifier     notify.Notifier
	Cache        cache.StatusCache
	Metrics      *metrics.Metrics
	Logger       *zap.Logger
}

func NewReviewService(deps ReviewDeps) *ReviewService {
	s := &ReviewService{
		guard:        deps.Guard,
		tx:           deps.Tx,
		users:        deps.Users,
		profiles:     deps.Profiles,
		certificates: deps.Certificates,
		notifier:     deps.Notifier,
		cache:        deps.Cache,
		metrics:      deps.Metrics,
		logger:       deps.Logger,
		now:          systemClock,
	}
	if s.cache == nil {
		s.cache = cache.Noop{}
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s
}

// stepError tags a transaction failure with the step that failed.
type stepError struct {
	message string
	err     error
}

func (e *stepError) Error() string { return e.message + ": " + e.err.Error() }
func (e *stepError) Unwrap() error { return e.err }

// ReviewCertificate records an approval or rejection, moves the member's
// access status and notifies them by email.
func (s *ReviewService) ReviewCertificate(ctx context.Context, actorID string, req ReviewRequest) ActionResult {
	decision := string(req.Decision)
	result := s.review(ctx, actorID, req)
	if result.Success {
		s.metrics.ObserveReview(decision, "success")
	} else {
		s.metrics.ObserveReview(decision, "failed")
	}
	return result
}

func (s *ReviewService) review(ctx context.Context, actorID string, req ReviewRequest) ActionResult {
	principal, err := s.guard.Authorize(ctx, actorID, authz.ActionReviewCertificate)
	if err != nil {
		return denied(err)
	}

	req.UserID = strings.TrimSpace(req.UserID)
	req.CertificateID = strings.TrimSpace(req.CertificateID)
	if req.UserID == "" {
		return fail(validationErr("user_id is required"), "user_id is required")
	}
	trigger, err := access.ForDecision(req.Decision)
	if err != nil {
		return fail(validationErr("decision must be APPROVED or REJECTED"), "Invalid decision")
	}

	logger := s.logger.With(
		zap.String("admin_id", principal.ID),
		zap.String("user_id", req.UserID),
		zap.String("decision", string(req.Decision)),
	)

	profile, err := s.profiles.GetByID(ctx, req.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fail(err, "User not found")
		}
		logger.Error("load profile", zap.Error(err))
		return fail(err, "Failed to load user")
	}

	email, err := s.users.LookupEmail(ctx, req.UserID)
	if err != nil || strings.TrimSpace(email) == "" {
		logger.Warn("could not find email for user, notification will be skipped", zap.Error(err))
		email = ""
	}

	certID := req.CertificateID
	if certID == "" {
		// Without an explicit id only a certificate still awaiting review is
		// decided; otherwise this is a manual decision on the profile alone.
		latest, err := s.certificates.Latest(ctx, req.UserID)
		switch {
		case err == nil && latest.ReviewStatus == types.ReviewUploaded:
			certID = latest.ID
		case err == nil:
		case errors.Is(err, store.ErrNotFound):
		default:
			logger.Error("load latest certificate", zap.Error(err))
			return fail(err, "Failed to update certificate")
		}
	}

	next, err := access.Apply(access.StateOf(profile), trigger)
	if err != nil {
		return fail(err, "Failed to update profile status")
	}

	// The certificate and profile writes must land together even if the
	// caller goes away mid-request.
	ctx = context.WithoutCancel(ctx)
	at := s.now()
	err = s.tx.WithinTx(ctx, func(w store.AccessWriter) error {
		if certID != "" {
			if err := w.DecideCertificate(ctx, certID, req.UserID, req.Decision, principal.ID, at); err != nil {
				return &stepError{message: "Failed to update certificate", err: err}
			}
		}
		if err := w.SetAccessState(ctx, req.UserID, next.Status, next.VerifiedBadge); err != nil {
			return &stepError{message: "Failed to update profile status", err: err}
		}
		return nil
	})
	if err != nil {
		var step *stepError
		message := "Failed to update profile status"
		if errors.As(err, &step) {
			message = step.message
		}
		if errors.Is(err, store.ErrAlreadyReviewed) {
			message = "Certificate already reviewed"
		}
		logger.Error("record review", zap.String("certificate_id", certID), zap.Error(err))
		return fail(err, message)
	}

	s.metrics.ObserveTransition(trigger.String(), string(next.Status))
	logger.Info("review recorded",
		zap.String("certificate_id", certID),
		zap.String("status_access", string(next.Status)),
	)

	if email != "" {
		s.sendDecision(ctx, logger, req, email, profile.FullName)
	} else {
		logger.Warn("skipping email notification: no email found")
	}

	if err := s.cache.Invalidate(ctx, req.UserID); err != nil {
		logger.Warn("invalidate status cache", zap.Error(err))
	}

	return succeed(fmt.Sprintf("Review %s processed successfully", req.Decision))
}

func (s *ReviewService) sendDecision(ctx context.Context, logger *zap.Logger, req ReviewRequest, email, name string) {
	kind := notify.KindApproved
	if req.Decision == types.ReviewRejected {
		kind = notify.KindRejected
	}

	err := s.notifier.NotifyAccessDecision(ctx, notify.Notification{
		Kind:   kind,
		Email:  email,
		Name:   name,
		Reason: req.Reason,
	})
	if err != nil {
		s.metrics.ObserveNotification(string(kind), "failed")
		logger.Error("send decision email", zap.Error(err))
		return
	}
	s.metrics.ObserveNotification(string(kind), "dispatched")
}
