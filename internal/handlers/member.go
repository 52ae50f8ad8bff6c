package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"

	"github.com/comunidade-maf/apiserver/internal/services"
	"github.com/comunidade-maf/apiserver/internal/storage"
	"github.com/comunidade-maf/apiserver/types"
	"github.com/go-chi/chi/v5"
)

const (
	maxMultipartMemory  = 8 << 20
	maxUploadBodySize   = storage.MaxCertificateSize + 1<<20
	formFieldCert       = "certificate"
	formFieldFullName   = "full_name"
	formFieldBio        = "bio"
	formFieldCity       = "city"
	formFieldHotmartKey = "hotmart_email"
)

type MemberService interface {
	Onboard(ctx context.Context, userID string, req services.OnboardingRequest) (types.Profile, error)
	ResubmitCertificate(ctx context.Context, userID string, file services.CertificateFile) (types.Certificate, error)
	Status(ctx context.Context, userID string) (services.MemberStatus, error)
	UpdateProfile(ctx context.Context, userID string, update services.ProfileUpdate) (types.Profile, error)
}

// MemberHandler serves the member's own onboarding and status endpoints.
type MemberHandler struct {
	members MemberService
}

func NewMemberHandler(members MemberService) *MemberHandler {
	return &MemberHandler{members: members}
}

// MemberRouter registers /onboarding and /me routes. Profile edits also
// require an ACTIVE member.
func MemberRouter(r chi.Router, members MemberService, authMiddleware, activeMiddleware func(http.Handler) http.Handler) {
	h := NewMemberHandler(members)

	r.With(authMiddleware).Post("/onboarding", h.Onboard)
	r.Route("/me", func(r chi.Router) {
		r.Use(authMiddleware)
		r.Get("/status", h.Status)
		r.Post("/certificates", h.ResubmitCertificate)
		r.With(activeMiddleware).Patch("/profile", h.UpdateProfile)
	})
}

func (h *MemberHandler) Onboard(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBodySize)
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	req := services.OnboardingRequest{
		FullName:     r.FormValue(formFieldFullName),
		Bio:          r.FormValue(formFieldBio),
		City:         r.FormValue(formFieldCity),
		HotmartEmail: r.FormValue(formFieldHotmartKey),
	}

	file, header, err := r.FormFile(formFieldCert)
	switch {
	case err == nil:
		defer file.Close()
		req.Certificate = &services.CertificateFile{Filename: header.Filename, Content: file}
	case errors.Is(err, http.ErrMissingFile):
	default:
		writeError(w, http.StatusBadRequest, "invalid certificate file")
		return
	}

	profile, err := h.members.Onboard(r.Context(), userID, req)
	if err != nil {
		writeServiceError(w, err, "failed to complete onboarding")
		return
	}
	writeJSON(w, http.StatusCreated, profile)
}

func (h *MemberHandler) ResubmitCertificate(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBodySize)
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile(formFieldCert)
	if err != nil {
		writeError(w, http.StatusBadRequest, "certificate file is required")
		return
	}
	defer file.Close()

	cert, err := h.members.ResubmitCertificate(r.Context(), userID, certificateFile(file, header))
	if err != nil {
		writeServiceError(w, err, "failed to submit certificate")
		return
	}
	writeJSON(w, http.StatusCreated, cert)
}

func (h *MemberHandler) Status(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	status, err := h.members.Status(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err, "failed to load status")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *MemberHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var update services.ProfileUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	profile, err := h.members.UpdateProfile(r.Context(), userID, update)
	if err != nil {
		writeServiceError(w, err, "failed to update profile")
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func certificateFile(file multipart.File, header *multipart.FileHeader) services.CertificateFile {
	return services.CertificateFile{Filename: header.Filename, Content: file}
}
