package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/comunidade-maf/apiserver/types"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// HotmartRepository handles persistence for Hotmart customer links and orders.
type HotmartRepository struct {
	db sqlx.ExtContext
}

func NewHotmartRepository(db sqlx.ExtContext) *HotmartRepository {
	return &HotmartRepository{db: db}
}

// CustomerByEmail finds the link for a buyer email, ignoring case.
func (r *HotmartRepository) CustomerByEmail(ctx context.Context, email string) (types.HotmartCustomer, error) {
	const query = `
		SELECT id, user_id, hotmart_email, hotmart_customer_id, last_verified_at, created_at
		FROM hotmart_customers
		WHERE lower(hotmart_email) = lower($1)`
	var customer types.HotmartCustomer
	if err := sqlx.GetContext(ctx, r.db, &customer, query, strings.TrimSpace(email)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.HotmartCustomer{}, ErrNotFound
		}
		return types.HotmartCustomer{}, err
	}
	return customer, nil
}

func (r *HotmartRepository) CreateCustomer(ctx context.Context, customer types.HotmartCustomer) (types.HotmartCustomer, error) {
	if customer.ID == "" {
		customer.ID = uuid.NewString()
	}
	customer.HotmartEmail = strings.TrimSpace(customer.HotmartEmail)
	customer.CreatedAt = time.Now().UTC()

	const query = `
		INSERT INTO hotmart_customers (id, user_id, hotmart_email, created_at)
		VALUES ($1, $2, $3, $4)`
	if _, err := r.db.ExecContext(ctx, query, customer.ID, customer.UserID, customer.HotmartEmail, customer.CreatedAt); err != nil {
		return types.HotmartCustomer{}, translate(err)
	}
	return customer, nil
}

// TouchCustomer records a processed delivery on the user's link.
func (r *HotmartRepository) TouchCustomer(ctx context.Context, userID, customerID string, at time.Time) error {
	const query = `
		UPDATE hotmart_customers
		SET last_verified_at = $1,
			hotmart_customer_id = $2
		WHERE user_id = $3`
	result, err := r.db.ExecContext(ctx, query, at, customerID, userID)
	if err != nil {
		return err
	}
	return requireAffected(result)
}

func (r *HotmartRepository) CountCustomers(ctx context.Context) (int, error) {
	const query = `SELECT COUNT(1) FROM hotmart_customers`
	var total int
	if err := sqlx.GetContext(ctx, r.db, &total, query); err != nil {
		return 0, err
	}
	return total, nil
}

// UpsertOrder inserts the order or refreshes it when the transaction id is
// already known, so redelivered events never create a second row.
func (r *HotmartRepository) UpsertOrder(ctx context.Context, order types.HotmartOrder) error {
	if order.ID == "" {
		order.ID = uuid.NewString()
	}
	payload := string(order.RawPayload)
	if strings.TrimSpace(payload) == "" {
		payload = "{}"
	}
	now := time.Now().UTC()

	const query = `
		INSERT INTO hotmart_orders (
			id, user_id, order_id, product_id, purchase_status, purchase_type,
			subscription_status, raw_payload, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb, $9, $9)
		ON CONFLICT (order_id) DO UPDATE
		SET user_id = EXCLUDED.user_id,
			product_id = EXCLUDED.product_id,
			purchase_status = EXCLUDED.purchase_status,
			purchase_type = EXCLUDED.purchase_type,
			subscription_status = EXCLUDED.subscription_status,
			raw_payload = EXCLUDED.raw_payload,
			updated_at = EXCLUDED.updated_at`
	_, err := r.db.ExecContext(
		ctx,
		query,
		order.ID,
		order.UserID,
		order.OrderID,
		order.ProductID,
		order.PurchaseStatus,
		order.PurchaseType,
		order.SubscriptionStatus,
		payload,
		now,
	)
	return err
}

func (r *HotmartRepository) GetOrder(ctx context.Context, orderID string) (types.HotmartOrder, error) {
	const query = `
		SELECT id, user_id, order_id, product_id, purchase_status, purchase_type,
		       subscription_status, raw_payload, created_at, updated_at
		FROM hotmart_orders
		WHERE order_id = $1`
	var order types.HotmartOrder
	if err := sqlx.GetContext(ctx, r.db, &order, query, orderID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.HotmartOrder{}, ErrNotFound
		}
		return types.HotmartOrder{}, err
	}
	return order, nil
}
