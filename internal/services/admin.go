package services

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/comunidade-maf/apiserver/internal/access"
	"github.com/comunidade-maf/apiserver/internal/authz"
	"github.com/comunidade-maf/apiserver/internal/cache"
	"github.com/comunidade-maf/apiserver/internal/metrics"
	"github.com/comunidade-maf/apiserver/internal/store"
	"github.com/comunidade-maf/apiserver/types"
	"go.uber.org/zap"
)

// Stats are the admin dashboard counters.
type Stats struct {
	ActiveUsers      int `json:"active_users"`
	PendingReviews   int `json:"pending_reviews"`
	HotmartCustomers int `json:"hotmart_customers"`
	RevokedUsers     int `json:"revoked_users"`
}

// CertificateFileStream is an opened certificate file.
type CertificateFileStream struct {
	Certificate types.Certificate
	Body        io.ReadCloser
}

// AdminService manages member lifecycle on behalf of administrators.
type AdminService struct {
	guard        Authorizer
	users        UserRepository
	profiles     ProfileRepository
	certificates CertificateRepository
	hotmart      HotmartRepository
	storage      CertificateStorage
	cache        cache.StatusCache
	metrics      *metrics.Metrics
	logger       *zap.Logger
}

type AdminDeps struct {
	Guard        Authorizer
	Users        UserRepository
	Profiles     ProfileRepository
	Certificates CertificateRepository
	Hotmart      HotmartRepository
	Storage      CertificateStorage
	Cache        cache.StatusCache
	Metrics      *metrics.Metrics
	Logger       *zap.Logger
}

func NewAdminService(deps AdminDeps) *AdminService {
	s := &AdminService{
		guard:        deps.Guard,
		users:        deps.Users,
		profiles:     deps.Profiles,
		certificates: deps.Certificates,
		hotmart:      deps.Hotmart,
		storage:      deps.Storage,
		cache:        deps.Cache,
		metrics:      deps.Metrics,
		logger:       deps.Logger,
	}
	if s.cache == nil {
		s.cache = cache.Noop{}
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s
}

// DeleteUser removes the identity; profile, certificates and Hotmart rows
// go with it. Stored certificate files are removed afterwards.
func (s *AdminService) DeleteUser(ctx context.Context, actorID, userID string) ActionResult {
	principal, err := s.guard.Authorize(ctx, actorID, authz.ActionDeleteUser)
	if err != nil {
		return denied(err)
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fail(validationErr("user id is required"), "user id is required")
	}
	if userID == principal.ID {
		return fail(validationErr("cannot delete own account"), "Você não pode excluir sua própria conta.")
	}

	paths, err := s.certificates.FilePaths(ctx, userID)
	if err != nil {
		s.logger.Warn("list certificate files", zap.String("user_id", userID), zap.Error(err))
	}

	if err := s.users.Delete(ctx, userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fail(err, "User not found")
		}
		s.logger.Error("delete user", zap.String("user_id", userID), zap.Error(err))
		return fail(err, "Failed to delete user: "+err.Error())
	}

	if len(paths) > 0 {
		if err := s.storage.DeleteAll(context.WithoutCancel(ctx), paths); err != nil {
			s.logger.Warn("remove certificate files", zap.String("user_id", userID), zap.Error(err))
		}
	}
	if err := s.cache.Invalidate(ctx, userID); err != nil {
		s.logger.Warn("invalidate status cache", zap.String("user_id", userID), zap.Error(err))
	}

	s.logger.Info("user deleted", zap.String("admin_id", principal.ID), zap.String("user_id", userID))
	return succeed("Usuário excluído com sucesso.")
}

// SetAccessStatus overrides a member's access status.
func (s *AdminService) SetAccessStatus(ctx context.Context, actorID, userID string, status types.AccessStatus) ActionResult {
	principal, err := s.guard.Authorize(ctx, actorID, authz.ActionChangeStatus)
	if err != nil {
		return denied(err)
	}
	if !status.Valid() {
		return fail(validationErr("unknown status %q", status), "Invalid status")
	}

	profile, err := s.profiles.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fail(err, "User not found")
		}
		return fail(err, "Failed to load user")
	}

	next, err := access.Override(access.StateOf(profile), status)
	if err != nil {
		return fail(err, "Invalid status")
	}
	if err := s.profiles.SetAccessState(ctx, userID, next.Status, next.VerifiedBadge); err != nil {
		s.logger.Error("override status", zap.String("user_id", userID), zap.Error(err))
		return fail(err, "Failed to update status")
	}
	if err := s.cache.Invalidate(ctx, userID); err != nil {
		s.logger.Warn("invalidate status cache", zap.String("user_id", userID), zap.Error(err))
	}

	s.metrics.ObserveTransition("admin_override", string(next.Status))
	s.logger.Info("status overridden",
		zap.String("admin_id", principal.ID),
		zap.String("user_id", userID),
		zap.String("from", string(profile.StatusAccess)),
		zap.String("to", string(next.Status)),
	)
	return succeed("Status atualizado para " + string(next.Status))
}

// SetVerifiedBadge grants or removes a member's verified badge.
func (s *AdminService) SetVerifiedBadge(ctx context.Context, actorID, userID string, verified bool) ActionResult {
	if _, err := s.guard.Authorize(ctx, actorID, authz.ActionToggleBadge); err != nil {
		return denied(err)
	}
	if err := s.profiles.SetBadge(ctx, userID, verified); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fail(err, "User not found")
		}
		s.logger.Error("set badge", zap.String("user_id", userID), zap.Error(err))
		return fail(err, "Failed to update badge")
	}
	if err := s.cache.Invalidate(ctx, userID); err != nil {
		s.logger.Warn("invalidate status cache", zap.String("user_id", userID), zap.Error(err))
	}
	if verified {
		return succeed("Selo de verificação concedido.")
	}
	return succeed("Selo de verificação removido.")
}

// ListUsers pages through profiles, optionally filtered by status.
func (s *AdminService) ListUsers(ctx context.Context, actorID string, status types.AccessStatus, page, size int) (Page[types.Profile], error) {
	if _, err := s.guard.Authorize(ctx, actorID, authz.ActionViewAdminSurface); err != nil {
		return Page[types.Profile]{}, err
	}
	if status != "" && !status.Valid() {
		return Page[types.Profile]{}, validationErr("unknown status %q", status)
	}

	offset, limit := pageBounds(page, size)
	items, total, err := s.profiles.List(ctx, status, offset, limit)
	if err != nil {
		return Page[types.Profile]{}, err
	}
	return Page[types.Profile]{Items: items, Total: total, Page: offset/limit + 1, Size: limit}, nil
}

// ListCertificates pages through the review queue, optionally filtered by
// review status.
func (s *AdminService) ListCertificates(ctx context.Context, actorID string, status types.ReviewStatus, page, size int) (Page[types.CertificateQueueItem], error) {
	if _, err := s.guard.Authorize(ctx, actorID, authz.ActionViewAdminSurface); err != nil {
		return Page[types.CertificateQueueItem]{}, err
	}
	if status != "" && !status.Valid() {
		return Page[types.CertificateQueueItem]{}, validationErr("unknown review status %q", status)
	}

	offset, limit := pageBounds(page, size)
	items, total, err := s.certificates.ListQueue(ctx, status, offset, limit)
	if err != nil {
		return Page[types.CertificateQueueItem]{}, err
	}
	return Page[types.CertificateQueueItem]{Items: items, Total: total, Page: offset/limit + 1, Size: limit}, nil
}

func (s *AdminService) Stats(ctx context.Context, actorID string) (Stats, error) {
	if _, err := s.guard.Authorize(ctx, actorID, authz.ActionViewAdminSurface); err != nil {
		return Stats{}, err
	}

	var (
		stats Stats
		err   error
	)
	if stats.ActiveUsers, err = s.profiles.CountByStatus(ctx, types.AccessActive); err != nil {
		return Stats{}, err
	}
	if stats.PendingReviews, err = s.certificates.CountByStatus(ctx, types.ReviewUploaded); err != nil {
		return Stats{}, err
	}
	if stats.HotmartCustomers, err = s.hotmart.CountCustomers(ctx); err != nil {
		return Stats{}, err
	}
	if stats.RevokedUsers, err = s.profiles.CountByStatus(ctx, types.AccessRevoked); err != nil {
		return Stats{}, err
	}
	return stats, nil
}

// OpenCertificate opens a stored certificate file for an admin to read.
// The caller closes Body.
func (s *AdminService) OpenCertificate(ctx context.Context, actorID, certificateID string) (CertificateFileStream, error) {
	if _, err := s.guard.Authorize(ctx, actorID, authz.ActionReadCertificate); err != nil {
		return CertificateFileStream{}, err
	}

	cert, err := s.certificates.Get(ctx, certificateID)
	if err != nil {
		return CertificateFileStream{}, err
	}
	body, err := s.storage.Open(ctx, cert.FilePath)
	if err != nil {
		return CertificateFileStream{}, err
	}
	return CertificateFileStream{Certificate: cert, Body: body}, nil
}
