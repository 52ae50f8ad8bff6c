package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/comunidade-maf/apiserver/internal/services"
	"github.com/comunidade-maf/apiserver/types"
	"github.com/go-chi/chi/v5"
)

const (
	hottokHeader       = "x-hotmart-hottok"
	maxWebhookBodySize = 1 << 20
)

type WebhookIngestor interface {
	VerifyToken(token string) bool
	Ingest(ctx context.Context, payload []byte) (services.WebhookResult, error)
}

// HotmartHandler receives Hotmart purchase webhooks.
type HotmartHandler struct {
	ingestor WebhookIngestor
}

func NewHotmartHandler(ingestor WebhookIngestor) *HotmartHandler {
	return &HotmartHandler{ingestor: ingestor}
}

// HotmartRouter registers the webhook route on the given router.
func HotmartRouter(r chi.Router, ingestor WebhookIngestor) {
	h := NewHotmartHandler(ingestor)
	r.Post("/webhook", h.Webhook)
}

type WebhookResponse struct {
	Message string             `json:"message"`
	Status  types.AccessStatus `json:"status,omitempty"`
}

func (h *HotmartHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	if !h.ingestor.VerifyToken(r.Header.Get(hottokHeader)) {
		writeError(w, http.StatusUnauthorized, "Invalid signature")
		return
	}

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	result, err := h.ingestor.Ingest(r.Context(), payload)
	if err != nil {
		if errors.Is(err, services.ErrValidation) {
			writeError(w, http.StatusBadRequest, "invalid payload")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	switch result.Outcome {
	case services.OutcomeUnmatched:
		writeJSON(w, http.StatusOK, WebhookResponse{Message: "User not found, webhook received", Status: "pending"})
	case services.OutcomeIgnored:
		writeJSON(w, http.StatusOK, WebhookResponse{Message: "Event not handled"})
	default:
		writeJSON(w, http.StatusOK, WebhookResponse{Message: "Webhook processed successfully", Status: result.Status})
	}
}
