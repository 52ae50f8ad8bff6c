package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/comunidade-maf/apiserver/types"
	"github.com/jmoiron/sqlx"
)

// AccessWriter is the set of writes that make up one onboarding, one
// certificate review or one webhook delivery. Store.WithinTx hands out an
// implementation bound to a single transaction.
type AccessWriter interface {
	CreateProfile(ctx context.Context, profile types.Profile) (types.Profile, error)
	CreateCertificate(ctx context.Context, cert types.Certificate) (types.Certificate, error)
	CreateCustomer(ctx context.Context, customer types.HotmartCustomer) (types.HotmartCustomer, error)
	DecideCertificate(ctx context.Context, id, userID string, status types.ReviewStatus, reviewerID string, at time.Time) error
	SetAccessState(ctx context.Context, userID string, status types.AccessStatus, badge bool) error
	UpsertOrder(ctx context.Context, order types.HotmartOrder) error
	TouchCustomer(ctx context.Context, userID, customerID string, at time.Time) error
}

// Store bundles the repositories over one connection pool.
type Store struct {
	db *sqlx.DB

	Users        *UserRepository
	Profiles     *ProfileRepository
	Certificates *CertificateRepository
	Hotmart      *HotmartRepository
}

func New(db *sqlx.DB) *Store {
	return &Store{
		db:           db,
		Users:        NewUserRepository(db),
		Profiles:     NewProfileRepository(db),
		Certificates: NewCertificateRepository(db),
		Hotmart:      NewHotmartRepository(db),
	}
}

// WithinTx runs fn inside a transaction. The transaction commits when fn
// returns nil and rolls back otherwise.
func (s *Store) WithinTx(ctx context.Context, fn func(w AccessWriter) error) error {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	if err := fn(newTxWriter(tx)); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type txWriter struct {
	profiles     *ProfileRepository
	certificates *CertificateRepository
	hotmart      *HotmartRepository
}

func newTxWriter(tx *sqlx.Tx) *txWriter {
	return &txWriter{
		profiles:     NewProfileRepository(tx),
		certificates: NewCertificateRepository(tx),
		hotmart:      NewHotmartRepository(tx),
	}
}

func (w *txWriter) CreateProfile(ctx context.Context, profile types.Profile) (types.Profile, error) {
	return w.profiles.Create(ctx, profile)
}

func (w *txWriter) CreateCertificate(ctx context.Context, cert types.Certificate) (types.Certificate, error) {
	return w.certificates.Create(ctx, cert)
}

func (w *txWriter) CreateCustomer(ctx context.Context, customer types.HotmartCustomer) (types.HotmartCustomer, error) {
	return w.hotmart.CreateCustomer(ctx, customer)
}

func (w *txWriter) DecideCertificate(ctx context.Context, id, userID string, status types.ReviewStatus, reviewerID string, at time.Time) error {
	return w.certificates.Decide(ctx, id, userID, status, reviewerID, at)
}

func (w *txWriter) SetAccessState(ctx context.Context, userID string, status types.AccessStatus, badge bool) error {
	return w.profiles.SetAccessState(ctx, userID, status, badge)
}

func (w *txWriter) UpsertOrder(ctx context.Context, order types.HotmartOrder) error {
	return w.hotmart.UpsertOrder(ctx, order)
}

func (w *txWriter) TouchCustomer(ctx context.Context, userID, customerID string, at time.Time) error {
	return w.hotmart.TouchCustomer(ctx, userID, customerID, at)
}

func normalizePage(offset, limit int) (int, int) {
	if offset < 0 {
		offset = 0
	}
	if limit < 1 {
		limit = 20
	}
	return offset, limit
}

func requireAffected(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
