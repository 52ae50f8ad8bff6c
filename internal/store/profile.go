package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/comunidade-maf/apiserver/types"
	"github.com/jmoiron/sqlx"
)

// ProfileRepository handles persistence for community profiles.
type ProfileRepository struct {
	db sqlx.ExtContext
}

func NewProfileRepository(db sqlx.ExtContext) *ProfileRepository {
	return &ProfileRepository{db: db}
}

const profileColumns = `id, full_name, bio, city, avatar_url, role, status_access, verified_badge, created_at`

func (r *ProfileRepository) GetByID(ctx context.Context, id string) (types.Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM profiles WHERE id = $1`
	var profile types.Profile
	if err := sqlx.GetContext(ctx, r.db, &profile, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Profile{}, ErrNotFound
		}
		return types.Profile{}, err
	}
	return profile, nil
}

// List returns profiles newest first, optionally filtered by access status.
func (r *ProfileRepository) List(ctx context.Context, status types.AccessStatus, offset, limit int) ([]types.Profile, int, error) {
	offset, limit = normalizePage(offset, limit)

	const countQuery = `SELECT COUNT(1) FROM profiles WHERE ($1 = '' OR status_access = $1)`
	var total int
	if err := sqlx.GetContext(ctx, r.db, &total, countQuery, string(status)); err != nil {
		return nil, 0, err
	}

	listQuery := `
		SELECT ` + profileColumns + `
		FROM profiles
		WHERE ($1 = '' OR status_access = $1)
		ORDER BY created_at DESC
		OFFSET $2 LIMIT $3`
	profiles := make([]types.Profile, 0, limit)
	if err := sqlx.SelectContext(ctx, r.db, &profiles, listQuery, string(status), offset, limit); err != nil {
		return nil, 0, err
	}
	return profiles, total, nil
}

func (r *ProfileRepository) CountByStatus(ctx context.Context, status types.AccessStatus) (int, error) {
	const query = `SELECT COUNT(1) FROM profiles WHERE status_access = $1`
	var total int
	if err := sqlx.GetContext(ctx, r.db, &total, query, string(status)); err != nil {
		return 0, err
	}
	return total, nil
}

func (r *ProfileRepository) Create(ctx context.Context, profile types.Profile) (types.Profile, error) {
	profile.CreatedAt = time.Now().UTC()
	if profile.Role == "" {
		profile.Role = types.RoleUser
	}

	const query = `
		INSERT INTO profiles (id, full_name, bio, city, avatar_url, role, status_access, verified_badge, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	if _, err := r.db.ExecContext(
		ctx,
		query,
		profile.ID,
		profile.FullName,
		profile.Bio,
		profile.City,
		profile.AvatarURL,
		profile.Role,
		profile.StatusAccess,
		profile.VerifiedBadge,
		profile.CreatedAt,
	); err != nil {
		return types.Profile{}, translate(err)
	}
	return profile, nil
}

// UpdateDetails writes the descriptive fields a user may edit.
// Role and access state are never touched here.
func (r *ProfileRepository) UpdateDetails(ctx context.Context, profile types.Profile) error {
	const query = `
		UPDATE profiles
		SET full_name = $1,
			bio = $2,
			city = $3,
			avatar_url = $4
		WHERE id = $5`
	result, err := r.db.ExecContext(ctx, query, profile.FullName, profile.Bio, profile.City, profile.AvatarURL, profile.ID)
	if err != nil {
		return err
	}
	return requireAffected(result)
}

func (r *ProfileRepository) SetAccessState(ctx context.Context, id string, status types.AccessStatus, badge bool) error {
	const query = `
		UPDATE profiles
		SET status_access = $1,
			verified_badge = $2
		WHERE id = $3`
	result, err := r.db.ExecContext(ctx, query, status, badge, id)
	if err != nil {
		return err
	}
	return requireAffected(result)
}

func (r *ProfileRepository) SetBadge(ctx context.Context, id string, badge bool) error {
	const query = `UPDATE profiles SET verified_badge = $1 WHERE id = $2`
	result, err := r.db.ExecContext(ctx, query, badge, id)
	if err != nil {
		return err
	}
	return requireAffected(result)
}
