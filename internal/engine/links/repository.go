package links

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const linkColumns = `id, organization_id, short_code, destination_url, title, created_by,
	redirect_type, status, expires_at, click_count, last_click_at, created_at, updated_at`

func (r *Repository) Create(ctx context.Context, link *Link) error {
	query := `
		INSERT INTO links (
			id, organization_id, short_code, destination_url, title, created_by,
			redirect_type, status, expires_at, click_count, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		link.ID,
		link.TenantID,
		link.ShortCode,
		link.DestinationURL,
		link.Title,
		link.CreatedBy,
		link.RedirectType,
		link.Status,
		link.ExpiresAt,
		link.ClickCount,
		link.CreatedAt,
		link.UpdatedAt,
	)
	return err
}

func (r *Repository) GetByID(ctx context.Context, tenantID, id string) (*Link, error) {
	query := `SELECT ` + linkColumns + ` FROM links WHERE id = ? AND organization_id = ?`
	return scanLink(r.db.QueryRowContext(ctx, query, id, tenantID))
}

// GetByShortCode resolves a code across all tenants, for redirects.
func (r *Repository) GetByShortCode(ctx context.Context, shortCode string) (*Link, error) {
	query := `SELECT ` + linkColumns + ` FROM links WHERE short_code = ?`
	return scanLink(r.db.QueryRowContext(ctx, query, shortCode))
}

func (r *Repository) ExistsByShortCode(ctx context.Context, shortCode string) (bool, error) {
	var exists bool
	query := "SELECT EXISTS(SELECT 1 FROM links WHERE short_code = ?)"
	err := r.db.QueryRowContext(ctx, query, shortCode).Scan(&exists)
	return exists, err
}

func (r *Repository) Update(ctx context.Context, link *Link) error {
	query := `
		UPDATE links SET
			destination_url = ?, title = ?, redirect_type = ?,
			status = ?, expires_at = ?, updated_at = ?
		WHERE id = ? AND organization_id = ?
	`
	res, err := r.db.ExecContext(ctx, query,
		link.DestinationURL,
		link.Title,
		link.RedirectType,
		link.Status,
		link.ExpiresAt,
		link.UpdatedAt,
		link.ID,
		link.TenantID,
	)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// Archive soft-deletes a link; its short code stays reserved.
func (r *Repository) Archive(ctx context.Context, tenantID, id string, at int64) error {
	query := `UPDATE links SET status = ?, updated_at = ? WHERE id = ? AND organization_id = ?`
	res, err := r.db.ExecContext(ctx, query, StatusArchived, at, id, tenantID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (r *Repository) IncrementClickCount(ctx context.Context, id string, at int64) error {
	query := `UPDATE links SET click_count = click_count + 1, last_click_at = ? WHERE id = ?`
	_, err := r.db.ExecContext(ctx, query, at, id)
	return err
}

// ExpireDue marks active links whose expiry has passed as expired.
func (r *Repository) ExpireDue(ctx context.Context, now time.Time) (int64, error) {
	query := `
		UPDATE links SET status = ?, updated_at = ?
		WHERE status = ? AND expires_at IS NOT NULL AND expires_at <= ?
	`
	res, err := r.db.ExecContext(ctx, query, StatusExpired, now.Unix(), StatusActive, now.Unix())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *Repository) List(ctx context.Context, tenantID string, limit, offset int) ([]*Link, error) {
	query := `
		SELECT ` + linkColumns + `
		FROM links
		WHERE organization_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ? OFFSET ?
	`
	rows, err := r.db.QueryContext(ctx, query, tenantID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	links := []*Link{}
	for rows.Next() {
		link, err := scanLink(rows)
		if err != nil {
			return nil, err
		}
		links = append(links, link)
	}
	return links, rows.Err()
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanLink(s interface {
	Scan(dest ...interface{}) error
}) (*Link, error) {
	var link Link
	var expiresAt, lastClickAt sql.NullInt64

	err := s.Scan(
		&link.ID,
		&link.TenantID,
		&link.ShortCode,
		&link.DestinationURL,
		&link.Title,
		&link.CreatedBy,
		&link.RedirectType,
		&link.Status,
		&expiresAt,
		&link.ClickCount,
		&lastClickAt,
		&link.CreatedAt,
		&link.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if expiresAt.Valid {
		val := expiresAt.Int64
		link.ExpiresAt = &val
	}
	if lastClickAt.Valid {
		val := lastClickAt.Int64
		link.LastClickAt = &val
	}
	return &link, nil
}
