package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/comunidade-maf/apiserver/types"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// CertificateRepository handles persistence for certificate submissions.
type CertificateRepository struct {
	db sqlx.ExtContext
}

func NewCertificateRepository(db sqlx.ExtContext) *CertificateRepository {
	return &CertificateRepository{db: db}
}

const certificateColumns = `id, user_id, file_path, file_hash, review_status, reviewed_by, reviewed_at, created_at`

func (r *CertificateRepository) Get(ctx context.Context, id string) (types.Certificate, error) {
	query := `SELECT ` + certificateColumns + ` FROM certificates WHERE id = $1`
	var cert types.Certificate
	if err := sqlx.GetContext(ctx, r.db, &cert, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Certificate{}, ErrNotFound
		}
		return types.Certificate{}, err
	}
	return cert, nil
}

// Latest returns the authoritative (most recently created) certificate of a user.
func (r *CertificateRepository) Latest(ctx context.Context, userID string) (types.Certificate, error) {
	query := `
		SELECT ` + certificateColumns + `
		FROM certificates
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT 1`
	var cert types.Certificate
	if err := sqlx.GetContext(ctx, r.db, &cert, query, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Certificate{}, ErrNotFound
		}
		return types.Certificate{}, err
	}
	return cert, nil
}

// ListQueue returns certificates for the admin review queue, newest first,
// with the owner's display name.
func (r *CertificateRepository) ListQueue(ctx context.Context, status types.ReviewStatus, offset, limit int) ([]types.CertificateQueueItem, int, error) {
	offset, limit = normalizePage(offset, limit)

	const countQuery = `SELECT COUNT(1) FROM certificates WHERE ($1 = '' OR review_status = $1)`
	var total int
	if err := sqlx.GetContext(ctx, r.db, &total, countQuery, string(status)); err != nil {
		return nil, 0, err
	}

	const listQuery = `
		SELECT c.id, c.user_id, c.file_path, c.file_hash, c.review_status,
		       c.reviewed_by, c.reviewed_at, c.created_at,
		       COALESCE(p.full_name, '') AS owner_name
		FROM certificates c
		LEFT JOIN profiles p ON p.id = c.user_id
		WHERE ($1 = '' OR c.review_status = $1)
		ORDER BY c.created_at DESC
		OFFSET $2 LIMIT $3`
	items := make([]types.CertificateQueueItem, 0, limit)
	if err := sqlx.SelectContext(ctx, r.db, &items, listQuery, string(status), offset, limit); err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *CertificateRepository) CountByStatus(ctx context.Context, status types.ReviewStatus) (int, error) {
	const query = `SELECT COUNT(1) FROM certificates WHERE review_status = $1`
	var total int
	if err := sqlx.GetContext(ctx, r.db, &total, query, string(status)); err != nil {
		return 0, err
	}
	return total, nil
}

// FilePaths returns the storage keys of every certificate a user uploaded.
func (r *CertificateRepository) FilePaths(ctx context.Context, userID string) ([]string, error) {
	const query = `SELECT file_path FROM certificates WHERE user_id = $1`
	var paths []string
	if err := sqlx.SelectContext(ctx, r.db, &paths, query, userID); err != nil {
		return nil, err
	}
	return paths, nil
}

func (r *CertificateRepository) Create(ctx context.Context, cert types.Certificate) (types.Certificate, error) {
	if cert.ID == "" {
		cert.ID = uuid.NewString()
	}
	cert.ReviewStatus = types.ReviewUploaded
	cert.ReviewedBy = nil
	cert.ReviewedAt = nil
	cert.CreatedAt = time.Now().UTC()

	const query = `
		INSERT INTO certificates (id, user_id, file_path, file_hash, review_status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	if _, err := r.db.ExecContext(
		ctx,
		query,
		cert.ID,
		cert.UserID,
		cert.FilePath,
		cert.FileHash,
		cert.ReviewStatus,
		cert.CreatedAt,
	); err != nil {
		return types.Certificate{}, translate(err)
	}
	return cert, nil
}

// Decide records a review decision. Only certificates of userID that are
// still UPLOADED are updated; decided ones yield ErrAlreadyReviewed.
func (r *CertificateRepository) Decide(ctx context.Context, id, userID string, status types.ReviewStatus, reviewerID string, at time.Time) error {
	const query = `
		UPDATE certificates
		SET review_status = $1,
			reviewed_by = $2,
			reviewed_at = $3
		WHERE id = $4 AND user_id = $5 AND review_status = 'UPLOADED'`
	result, err := r.db.ExecContext(ctx, query, status, reviewerID, at, id, userID)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}

	current, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	if current.UserID != userID {
		return ErrNotFound
	}
	return ErrAlreadyReviewed
}
