package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"klips/internal/platform/models"
)

// ErrNotFound is returned when a row does not exist or is not owned by the
// requesting organization.
var ErrNotFound = errors.New("not found")

type OrganizationRepository struct {
	db *sql.DB
}

func NewOrganizationRepository(db *sql.DB) *OrganizationRepository {
	return &OrganizationRepository{db: db}
}

func (r *OrganizationRepository) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return r.db.BeginTx(ctx, nil)
}

func (r *OrganizationRepository) CreateTx(ctx context.Context, tx *sql.Tx, org *models.Organization) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO organizations (id, slug, name, plan_tier, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, org.ID, org.Slug, org.Name, org.PlanTier, org.CreatedAt, org.UpdatedAt)
	return err
}

func (r *OrganizationRepository) GetByID(ctx context.Context, id string) (*models.Organization, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, slug, name, plan_tier, created_at, updated_at, deleted_at
		FROM organizations WHERE id = ?
	`, id)
	return scanOrganization(row)
}

func (r *OrganizationRepository) SlugExists(ctx context.Context, slug string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM organizations WHERE slug = ?)`, slug).Scan(&exists)
	return exists, err
}

func scanOrganization(s interface {
	Scan(dest ...interface{}) error
}) (*models.Organization, error) {
	var org models.Organization
	var deletedAt sql.NullInt64

	err := s.Scan(&org.ID, &org.Slug, &org.Name, &org.PlanTier, &org.CreatedAt, &org.UpdatedAt, &deletedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if deletedAt.Valid {
		val := deletedAt.Int64
		org.DeletedAt = &val
	}
	return &org, nil
}

func nowUnix() int64 {
	return time.Now().Unix()
}
