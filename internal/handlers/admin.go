package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/comunidade-maf/apiserver/internal/services"
	"github.com/comunidade-maf/apiserver/internal/storage"
	"github.com/comunidade-maf/apiserver/types"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type AdminService interface {
	DeleteUser(ctx context.Context, actorID, userID string) services.ActionResult
	SetAccessStatus(ctx context.Context, actorID, userID string, status types.AccessStatus) services.ActionResult
	SetVerifiedBadge(ctx context.Context, actorID, userID string, verified bool) services.ActionResult
	ListUsers(ctx context.Context, actorID string, status types.AccessStatus, page, size int) (services.Page[types.Profile], error)
	ListCertificates(ctx context.Context, actorID string, status types.ReviewStatus, page, size int) (services.Page[types.CertificateQueueItem], error)
	Stats(ctx context.Context, actorID string) (services.Stats, error)
	OpenCertificate(ctx context.Context, actorID, certificateID string) (services.CertificateFileStream, error)
}

type CertificateReviewer interface {
	ReviewCertificate(ctx context.Context, actorID string, req services.ReviewRequest) services.ActionResult
}

// AdminHandler exposes the administrator surface. Authorization is decided
// by the services; the handler only requires an authenticated caller.
type AdminHandler struct {
	admin    AdminService
	reviewer CertificateReviewer
	logger   *zap.Logger
}

func NewAdminHandler(admin AdminService, reviewer CertificateReviewer, logger *zap.Logger) *AdminHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AdminHandler{admin: admin, reviewer: reviewer, logger: logger}
}

// AdminRouter registers admin routes on the given router.
func AdminRouter(r chi.Router, admin AdminService, reviewer CertificateReviewer, authMiddleware func(http.Handler) http.Handler, logger *zap.Logger) {
	h := NewAdminHandler(admin, reviewer, logger)

	r.Use(authMiddleware)
	r.Get("/stats", h.Stats)
	r.Post("/reviews", h.Review)

	r.Route("/users", func(r chi.Router) {
		r.Get("/", h.ListUsers)
		r.Delete("/{userID}", h.DeleteUser)
		r.Post("/{userID}/status", h.SetStatus)
		r.Post("/{userID}/badge", h.SetBadge)
	})

	r.Route("/certificates", func(r chi.Router) {
		r.Get("/", h.ListCertificates)
		r.Get("/{certificateID}/file", h.CertificateFile)
	})
}

type StatusRequest struct {
	Status types.AccessStatus `json:"status"`
}

type BadgeRequest struct {
	Verified *bool `json:"verified"`
}

func (h *AdminHandler) Review(w http.ResponseWriter, r *http.Request) {
	actorID, err := userIDFromContext(r.Context())
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, services.ActionResult{Message: "Unauthorized"})
		return
	}

	var req services.ReviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	writeResult(w, h.reviewer.ReviewCertificate(r.Context(), actorID, req))
}

func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	actorID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	stats, err := h.admin.Stats(r.Context(), actorID)
	if err != nil {
		writeServiceError(w, err, "failed to load stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *AdminHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	actorID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	page, limit, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	status := types.AccessStatus(strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("status"))))
	result, err := h.admin.ListUsers(r.Context(), actorID, status, page, limit)
	if err != nil {
		writeServiceError(w, err, "failed to list users")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *AdminHandler) ListCertificates(w http.ResponseWriter, r *http.Request) {
	actorID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	page, limit, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	status := types.ReviewStatus(strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("status"))))
	result, err := h.admin.ListCertificates(r.Context(), actorID, status, page, limit)
	if err != nil {
		writeServiceError(w, err, "failed to list certificates")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *AdminHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	actorID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	writeResult(w, h.admin.DeleteUser(r.Context(), actorID, chi.URLParam(r, "userID")))
}

func (h *AdminHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	actorID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req StatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	writeResult(w, h.admin.SetAccessStatus(r.Context(), actorID, chi.URLParam(r, "userID"), req.Status))
}

func (h *AdminHandler) SetBadge(w http.ResponseWriter, r *http.Request) {
	actorID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req BadgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Verified == nil {
		writeError(w, http.StatusBadRequest, "verified is required")
		return
	}
	writeResult(w, h.admin.SetVerifiedBadge(r.Context(), actorID, chi.URLParam(r, "userID"), *req.Verified))
}

// CertificateFile streams a stored certificate to the admin.
func (h *AdminHandler) CertificateFile(w http.ResponseWriter, r *http.Request) {
	actorID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	stream, err := h.admin.OpenCertificate(r.Context(), actorID, chi.URLParam(r, "certificateID"))
	if err != nil {
		writeServiceError(w, err, "failed to open certificate")
		return
	}
	defer stream.Body.Close()

	contentType := "application/octet-stream"
	if _, ct, err := storage.ContentTypeFor(stream.Certificate.FilePath); err == nil {
		contentType = ct
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `inline; filename="`+path.Base(stream.Certificate.FilePath)+`"`)
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, stream.Body); err != nil {
		h.logger.Warn("certificate stream interrupted",
			zap.String("certificate_id", stream.Certificate.ID),
			zap.Error(err),
		)
	}
}
