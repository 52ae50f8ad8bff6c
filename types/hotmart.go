package types

import (
	"encoding/json"
	"time"
)

// PurchaseStatus is the state of a Hotmart order.
type PurchaseStatus string

// Supported purchase states.
const (
	PurchaseApproved   PurchaseStatus = "APPROVED"
	PurchaseCancelled  PurchaseStatus = "CANCELLED"
	PurchaseRefunded   PurchaseStatus = "REFUNDED"
	PurchaseChargeback PurchaseStatus = "CHARGEBACK"
	PurchasePending    PurchaseStatus = "PENDING"
)

// PurchaseType distinguishes one-time purchases from subscriptions.
type PurchaseType string

// Supported purchase types.
const (
	PurchaseOneTime      PurchaseType = "ONE_TIME"
	PurchaseSubscription PurchaseType = "SUBSCRIPTION"
)

// HotmartCustomer links a Hotmart buyer email to a platform user so that
// webhook deliveries can be correlated.
type HotmartCustomer struct {
	// ID is the unique identifier (UUID) of the link.
	ID string `json:"id" db:"id"`

	// UserID identifies the linked user. A user has at most one link.
	UserID string `json:"user_id" db:"user_id"`

	// HotmartEmail is the buyer email reported by Hotmart.
	HotmartEmail string `json:"hotmart_email" db:"hotmart_email"`

	// HotmartCustomerID is the external customer id, set by the webhook.
	HotmartCustomerID *string `json:"hotmart_customer_id" db:"hotmart_customer_id"`

	// LastVerifiedAt is the time of the last processed webhook delivery.
	LastVerifiedAt *time.Time `json:"last_verified_at" db:"last_verified_at"`

	// CreatedAt is the timestamp when the link was created.
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// HotmartOrder is a purchase transaction reported by Hotmart.
// Orders are upserted by OrderID so redelivered events never duplicate rows.
type HotmartOrder struct {
	// ID is the unique identifier (UUID) of the row.
	ID string `json:"id" db:"id"`

	// UserID identifies the buyer's platform user.
	UserID string `json:"user_id" db:"user_id"`

	// OrderID is the Hotmart transaction id and the upsert key.
	OrderID string `json:"order_id" db:"order_id"`

	// ProductID is the Hotmart product id.
	ProductID string `json:"product_id" db:"product_id"`

	// PurchaseStatus is the latest known state of the order.
	PurchaseStatus PurchaseStatus `json:"purchase_status" db:"purchase_status"`

	// PurchaseType distinguishes subscriptions from one-time purchases.
	PurchaseType PurchaseType `json:"purchase_type" db:"purchase_type"`

	// SubscriptionStatus is the subscription state reported with the event.
	SubscriptionStatus *string `json:"subscription_status" db:"subscription_status"`

	// RawPayload retains the full webhook event for audit and replay.
	RawPayload json.RawMessage `json:"raw_payload" db:"raw_payload"`

	// CreatedAt is the timestamp when the order was first seen.
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// UpdatedAt is the timestamp of the most recent delivery for the order.
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
