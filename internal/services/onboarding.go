package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/comunidade-maf/apiserver/internal/access"
	"github.com/comunidade-maf/apiserver/internal/cache"
	"github.com/comunidade-maf/apiserver/internal/storage"
	"github.com/comunidade-maf/apiserver/internal/store"
	"github.com/comunidade-maf/apiserver/types"
	"go.uber.org/zap"
)

// CertificateStorage stores certificate files.
type CertificateStorage interface {
	PutCertificate(ctx context.Context, userID, filename string, r io.Reader, now time.Time) (storage.Upload, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	DeleteAll(ctx context.Context, keys []string) error
}

// CertificateFile is an uploaded certificate awaiting storage.
type CertificateFile struct {
	Filename string
	Content  io.Reader
}

type OnboardingRequest struct {
	FullName     string
	Bio          string
	City         string
	HotmartEmail string
	Certificate  *CertificateFile
}

// MemberStatus is what a member sees on their status page.
type MemberStatus struct {
	Profile     types.Profile      `json:"profile"`
	Certificate *types.Certificate `json:"certificate,omitempty"`
}

// ProfileUpdate carries the member-editable profile fields. Nil fields are
// left unchanged.
type ProfileUpdate struct {
	FullName  *string `json:"full_name"`
	Bio       *string `json:"bio"`
	City      *string `json:"city"`
	AvatarURL *string `json:"avatar_url"`
}

// OnboardingService handles member intake and certificate resubmission.
type OnboardingService struct {
	tx           TxRunner
	profiles     ProfileRepository
	certificates CertificateRepository
	storage      CertificateStorage
	cache        cache.StatusCache
	logger       *zap.Logger
	now          clock
}

type OnboardingDeps struct {
	Tx           TxRunner
	Profiles     ProfileRepository
	Certificates CertificateRepository
	Storage      CertificateStorage
	Cache        cache.StatusCache
	Logger       *zap.Logger
}

func NewOnboardingService(deps OnboardingDeps) *OnboardingService {
	s := &OnboardingService{
		tx:           deps.Tx,
		profiles:     deps.Profiles,
		certificates: deps.Certificates,
		storage:      deps.Storage,
		cache:        deps.Cache,
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

// Onboard creates the member's profile. With a certificate the profile
// starts UNDER_REVIEW, otherwise PENDING.
func (s *OnboardingService) Onboard(ctx context.Context, userID string, req OnboardingRequest) (types.Profile, error) {
	fullName := strings.TrimSpace(req.FullName)
	if fullName == "" {
		return types.Profile{}, validationErr("full_name is required")
	}
	var hotmartEmail string
	if strings.TrimSpace(req.HotmartEmail) != "" {
		email, err := validEmail(req.HotmartEmail)
		if err != nil {
			return types.Profile{}, err
		}
		hotmartEmail = email
	}

	if _, err := s.profiles.GetByID(ctx, userID); err == nil {
		return types.Profile{}, ErrAlreadyOnboarded
	} else if !errors.Is(err, store.ErrNotFound) {
		return types.Profile{}, fmt.Errorf("check profile: %w", err)
	}

	var upload *storage.Upload
	if req.Certificate != nil {
		up, err := s.storage.PutCertificate(ctx, userID, req.Certificate.Filename, req.Certificate.Content, s.now())
		if err != nil {
			return types.Profile{}, uploadErr(err)
		}
		upload = &up
	}

	initial := access.Initial(upload != nil)
	profile := types.Profile{
		ID:            userID,
		FullName:      fullName,
		Bio:           optional(req.Bio),
		City:          optional(req.City),
		Role:          types.RoleUser,
		StatusAccess:  initial.Status,
		VerifiedBadge: initial.VerifiedBadge,
	}

	err := s.tx.WithinTx(ctx, func(w store.AccessWriter) error {
		created, err := w.CreateProfile(ctx, profile)
		if err != nil {
			return fmt.Errorf("create profile: %w", err)
		}
		profile = created

		if upload != nil {
			if _, err := w.CreateCertificate(ctx, types.Certificate{
				UserID:   userID,
				FilePath: upload.Key,
				FileHash: upload.Hash,
			}); err != nil {
				return fmt.Errorf("create certificate: %w", err)
			}
		}

		if hotmartEmail != "" {
			if _, err := w.CreateCustomer(ctx, types.HotmartCustomer{
				UserID:       userID,
				HotmartEmail: hotmartEmail,
			}); err != nil {
				return fmt.Errorf("link hotmart customer: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		s.discard(ctx, upload)
		return types.Profile{}, err
	}

	s.logger.Info("member onboarded",
		zap.String("user_id", userID),
		zap.String("status_access", string(profile.StatusAccess)),
		zap.Bool("hotmart_linked", hotmartEmail != ""),
	)
	return profile, nil
}

// ResubmitCertificate uploads a new certificate and moves the member back
// to UNDER_REVIEW. Active and suspended members cannot resubmit.
func (s *OnboardingService) ResubmitCertificate(ctx context.Context, userID string, file CertificateFile) (types.Certificate, error) {
	profile, err := s.profiles.GetByID(ctx, userID)
	if err != nil {
		return types.Certificate{}, err
	}
	next, err := access.Apply(access.StateOf(profile), access.CertificateSubmitted)
	if err != nil {
		return types.Certificate{}, err
	}

	up, err := s.storage.PutCertificate(ctx, userID, file.Filename, file.Content, s.now())
	if err != nil {
		return types.Certificate{}, uploadErr(err)
	}

	var cert types.Certificate
	err = s.tx.WithinTx(ctx, func(w store.AccessWriter) error {
		created, err := w.CreateCertificate(ctx, types.Certificate{
			UserID:   userID,
			FilePath: up.Key,
			FileHash: up.Hash,
		})
		if err != nil {
			return fmt.Errorf("create certificate: %w", err)
		}
		cert = created
		if err := w.SetAccessState(ctx, userID, next.Status, next.VerifiedBadge); err != nil {
			return fmt.Errorf("update profile status: %w", err)
		}
		return nil
	})
	if err != nil {
		s.discard(ctx, &up)
		return types.Certificate{}, err
	}

	if err := s.cache.Invalidate(ctx, userID); err != nil {
		s.logger.Warn("invalidate status cache", zap.String("user_id", userID), zap.Error(err))
	}
	return cert, nil
}

// Status returns the member's profile and latest certificate.
func (s *OnboardingService) Status(ctx context.Context, userID string) (MemberStatus, error) {
	profile, err := s.profiles.GetByID(ctx, userID)
	if err != nil {
		return MemberStatus{}, err
	}

	status := MemberStatus{Profile: profile}
	cert, err := s.certificates.Latest(ctx, userID)
	switch {
	case err == nil:
		status.Certificate = &cert
	case errors.Is(err, store.ErrNotFound):
	default:
		return MemberStatus{}, fmt.Errorf("load latest certificate: %w", err)
	}
	return status, nil
}

// UpdateProfile edits the member's own profile details.
func (s *OnboardingService) UpdateProfile(ctx context.Context, userID string, update ProfileUpdate) (types.Profile, error) {
	profile, err := s.profiles.GetByID(ctx, userID)
	if err != nil {
		return types.Profile{}, err
	}

	if update.FullName != nil {
		name := strings.TrimSpace(*update.FullName)
		if name == "" {
			return types.Profile{}, validationErr("full_name cannot be empty")
		}
		profile.FullName = name
	}
	if update.Bio != nil {
		profile.Bio = optional(*update.Bio)
	}
	if update.City != nil {
		profile.City = optional(*update.City)
	}
	if update.AvatarURL != nil {
		profile.AvatarURL = optional(*update.AvatarURL)
	}

	if err := s.profiles.UpdateDetails(ctx, profile); err != nil {
		return types.Profile{}, err
	}
	return profile, nil
}

func (s *OnboardingService) discard(ctx context.Context, upload *storage.Upload) {
	if upload == nil {
		return
	}
	if err := s.storage.Delete(context.WithoutCancel(ctx), upload.Key); err != nil {
		s.logger.Warn("remove orphaned certificate", zap.String("key", upload.Key), zap.Error(err))
	}
}

func uploadErr(err error) error {
	switch {
	case errors.Is(err, storage.ErrUnsupportedFileType),
		errors.Is(err, storage.ErrFileTooLarge),
		errors.Is(err, storage.ErrEmptyFile):
		return fmt.Errorf("%w: %v", ErrValidation, err)
	default:
		return fmt.Errorf("store certificate: %w", err)
	}
}

func optional(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}
