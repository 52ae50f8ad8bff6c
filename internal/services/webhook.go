package services

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/comunidade-maf/apiserver/internal/access"
	"github.com/comunidade-maf/apiserver/internal/cache"
	"github.com/comunidade-maf/apiserver/internal/metrics"
	"github.com/comunidade-maf/apiserver/internal/store"
	"github.com/comunidade-maf/apiserver/types"
	"go.uber.org/zap"
)

// HotmartEvent is the subset of a Hotmart webhook delivery we act on.
type HotmartEvent struct {
	Event string `json:"event"`
	Data  struct {
		Buyer struct {
			Email string `json:"email"`
		} `json:"buyer"`
		Purchase struct {
			Transaction  string `json:"transaction"`
			OfferType    string `json:"offer_type"`
			Subscription *struct {
				Status string `json:"status"`
			} `json:"subscription"`
		} `json:"purchase"`
		Product struct {
			ID flexibleID `json:"id"`
		} `json:"product"`
	} `json:"data"`
}

// flexibleID accepts JSON numbers and strings.
type flexibleID string

func (f *flexibleID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexibleID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexibleID(n.String())
	return nil
}

type purchaseRule struct {
	trigger access.Trigger
	status  types.PurchaseStatus
}

var purchaseRules = map[string]purchaseRule{
	"PURCHASE_APPROVED":   {trigger: access.PurchaseApproved, status: types.PurchaseApproved},
	"PURCHASE_CANCELLED":  {trigger: access.PurchaseCancelled, status: types.PurchaseCancelled},
	"PURCHASE_REFUNDED":   {trigger: access.PurchaseRefunded, status: types.PurchaseRefunded},
	"PURCHASE_CHARGEBACK": {trigger: access.PurchaseChargeback, status: types.PurchaseChargeback},
}

// WebhookOutcome says what an accepted delivery did.
type WebhookOutcome int

const (
	// OutcomeUnmatched means no linked customer has the buyer email.
	OutcomeUnmatched WebhookOutcome = iota + 1
	// OutcomeIgnored means the event type is not handled.
	OutcomeIgnored
	// OutcomeProcessed means the order and access status were written.
	OutcomeProcessed
)

type WebhookResult struct {
	Outcome WebhookOutcome
	Status  types.AccessStatus
}

// WebhookService ingests Hotmart purchase notifications.
type WebhookService struct {
	secret   []byte
	tx       TxRunner
	hotmart  HotmartRepository
	profiles ProfileRepository
	cache    cache.StatusCache
	metrics  *metrics.Metrics
	logger   *zap.Logger
	now      clock
}

type WebhookDeps struct {
	Secret   string
	Tx       TxRunner
	Hotmart  HotmartRepository
	Profiles ProfileRepository
	Cache    cache.StatusCache
	Metrics  *metrics.Metrics
	Logger   *zap.Logger
}

func NewWebhookService(deps WebhookDeps) *WebhookService {
	s := &WebhookService{
		secret:   []byte(strings.TrimSpace(deps.Secret)),
		tx:       deps.Tx,
		hotmart:  deps.Hotmart,
		profiles: deps.Profiles,
		cache:    deps.Cache,
		metrics:  deps.Metrics,
		logger:   deps.Logger,
		now:      systemClock,
	}
	if s.cache == nil {
		s.cache = cache.Noop{}
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s
}

// VerifyToken reports whether token matches the configured hottok.
// It always fails when no secret is configured.
func (s *WebhookService) VerifyToken(token string) bool {
	if len(s.secret) == 0 || token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), s.secret) == 1
}

// Ingest applies one webhook delivery. Redelivering the same event is
// harmless: the order is upserted by transaction id and the status
// transition is the same.
func (s *WebhookService) Ingest(ctx context.Context, payload []byte) (WebhookResult, error) {
	var event HotmartEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		s.metrics.ObserveWebhook("unknown", "invalid")
		return WebhookResult{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	buyerEmail := strings.TrimSpace(event.Data.Buyer.Email)
	if buyerEmail == "" {
		s.metrics.ObserveWebhook(event.Event, "invalid")
		return WebhookResult{}, fmt.Errorf("%w: missing buyer email", ErrInvalidPayload)
	}

	logger := s.logger.With(zap.String("event", event.Event), zap.String("transaction", event.Data.Purchase.Transaction))

	customer, err := s.hotmart.CustomerByEmail(ctx, buyerEmail)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			logger.Info("hotmart buyer not linked to any user")
			s.metrics.ObserveWebhook(event.Event, "unmatched")
			return WebhookResult{Outcome: OutcomeUnmatched}, nil
		}
		s.metrics.ObserveWebhook(event.Event, "error")
		return WebhookResult{}, fmt.Errorf("find customer: %w", err)
	}

	rule, ok := purchaseRules[event.Event]
	if !ok {
		s.metrics.ObserveWebhook(event.Event, "ignored")
		return WebhookResult{Outcome: OutcomeIgnored}, nil
	}

	transaction := strings.TrimSpace(event.Data.Purchase.Transaction)
	if transaction == "" {
		s.metrics.ObserveWebhook(event.Event, "invalid")
		return WebhookResult{}, fmt.Errorf("%w: missing transaction", ErrInvalidPayload)
	}

	profile, err := s.profiles.GetByID(ctx, customer.UserID)
	if err != nil {
		s.metrics.ObserveWebhook(event.Event, "error")
		return WebhookResult{}, fmt.Errorf("load profile: %w", err)
	}
	next, err := access.Apply(access.StateOf(profile), rule.trigger)
	if err != nil {
		s.metrics.ObserveWebhook(event.Event, "error")
		return WebhookResult{}, err
	}

	order := types.HotmartOrder{
		UserID:         customer.UserID,
		OrderID:        transaction,
		ProductID:      string(event.Data.Product.ID),
		PurchaseStatus: rule.status,
		PurchaseType:   types.PurchaseOneTime,
		RawPayload:     json.RawMessage(payload),
	}
	if event.Data.Purchase.OfferType == "SUBSCRIPTION" {
		order.PurchaseType = types.PurchaseSubscription
	}
	if sub := event.Data.Purchase.Subscription; sub != nil && sub.Status != "" {
		status := sub.Status
		order.SubscriptionStatus = &status
	}

	ctx = context.WithoutCancel(ctx)
	at := s.now()
	err = s.tx.WithinTx(ctx, func(w store.AccessWriter) error {
		if err := w.UpsertOrder(ctx, order); err != nil {
			return fmt.Errorf("upsert order: %w", err)
		}
		if err := w.SetAccessState(ctx, customer.UserID, next.Status, next.VerifiedBadge); err != nil {
			return fmt.Errorf("update profile status: %w", err)
		}
		if err := w.TouchCustomer(ctx, customer.UserID, buyerEmail, at); err != nil {
			return fmt.Errorf("update customer: %w", err)
		}
		return nil
	})
	if err != nil {
		s.metrics.ObserveWebhook(event.Event, "error")
		logger.Error("apply hotmart event", zap.String("user_id", customer.UserID), zap.Error(err))
		return WebhookResult{}, err
	}

	if err := s.cache.Invalidate(ctx, customer.UserID); err != nil {
		logger.Warn("invalidate status cache", zap.Error(err))
	}

	s.metrics.ObserveWebhook(event.Event, "processed")
	s.metrics.ObserveTransition(rule.trigger.String(), string(next.Status))
	logger.Info("hotmart event applied",
		zap.String("user_id", customer.UserID),
		zap.String("status_access", string(next.Status)),
	)
	return WebhookResult{Outcome: OutcomeProcessed, Status: next.Status}, nil
}
