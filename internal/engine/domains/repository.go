package domains

import (
	"context"
	"database/sql"
	"errors"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const domainColumns = `id, organization_id, hostname, verification_token, verified, verified_at, created_at`

func (r *Repository) Create(ctx context.Context, d *Domain) error {
	query := `
		INSERT INTO domains (id, organization_id, hostname, verification_token, verified, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query, d.ID, d.TenantID, d.Hostname, d.VerificationToken, d.Verified, d.CreatedAt)
	return err
}

func (r *Repository) HostnameExists(ctx context.Context, hostname string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM domains WHERE hostname = ?)", hostname).Scan(&exists)
	return exists, err
}

func (r *Repository) GetByID(ctx context.Context, tenantID, id string) (*Domain, error) {
	query := `SELECT ` + domainColumns + ` FROM domains WHERE id = ? AND organization_id = ?`
	return scanDomain(r.db.QueryRowContext(ctx, query, id, tenantID))
}

func (r *Repository) List(ctx context.Context, tenantID string) ([]*Domain, error) {
	query := `SELECT ` + domainColumns + ` FROM domains WHERE organization_id = ? ORDER BY created_at DESC, rowid DESC`
	rows, err := r.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	domains := []*Domain{}
	for rows.Next() {
		d, err := scanDomain(rows)
		if err != nil {
			return nil, err
		}
		domains = append(domains, d)
	}
	return domains, rows.Err()
}

// MarkVerified flips the verified flag once. It reports false when the domain
// was already verified.
func (r *Repository) MarkVerified(ctx context.Context, tenantID, id string, at int64) (bool, error) {
	query := `UPDATE domains SET verified = 1, verified_at = ? WHERE id = ? AND organization_id = ? AND verified = 0`
	res, err := r.db.ExecContext(ctx, query, at, id, tenantID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func scanDomain(s interface {
	Scan(dest ...interface{}) error
}) (*Domain, error) {
	var d Domain
	var verifiedAt sql.NullInt64

	err := s.Scan(&d.ID, &d.TenantID, &d.Hostname, &d.VerificationToken, &d.Verified, &verifiedAt, &d.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if verifiedAt.Valid {
		v := verifiedAt.Int64
		d.VerifiedAt = &v
	}
	return &d, nil
}
