package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"klips/internal/platform/models"
)

type APIKeyRepository struct {
	db *sql.DB
}

func NewAPIKeyRepository(db *sql.DB) *APIKeyRepository {
	return &APIKeyRepository{db: db}
}

const apiKeyColumns = `id, organization_id, user_id, name, key_prefix, role, scopes, last_used_at, created_at, expires_at, revoked_at`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (r *APIKeyRepository) Create(ctx context.Context, key *models.APIKey) error {
	return r.create(ctx, r.db, key)
}

// CreateTx inserts the key inside tx; used when bootstrapping an organization.
func (r *APIKeyRepository) CreateTx(ctx context.Context, tx *sql.Tx, key *models.APIKey) error {
	return r.create(ctx, tx, key)
}

func (r *APIKeyRepository) create(ctx context.Context, ex execer, key *models.APIKey) error {
	if key.ID == "" {
		key.ID = "key_" + uuid.New().String()
	}
	if key.CreatedAt == 0 {
		key.CreatedAt = nowUnix()
	}
	if key.Scopes == nil {
		key.Scopes = []string{}
	}

	scopesJSON, err := json.Marshal(key.Scopes)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO api_keys (id, organization_id, user_id, name, key_hash, key_prefix, role, scopes, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = ex.ExecContext(ctx, query, key.ID, key.OrganizationID, key.UserID, key.Name, key.KeyHash, key.KeyPrefix, key.Role, string(scopesJSON), key.CreatedAt, key.ExpiresAt)
	return err
}

func (r *APIKeyRepository) GetByHash(ctx context.Context, hash string) (*models.APIKey, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+apiKeyColumns+` FROM api_keys WHERE key_hash = ?`, hash)
	k, err := scanAPIKey(row)
	if err != nil {
		return nil, err
	}
	k.KeyHash = hash
	return k, nil
}

func (r *APIKeyRepository) ListByOrg(ctx context.Context, orgID string) ([]*models.APIKey, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+apiKeyColumns+` FROM api_keys WHERE organization_id = ? ORDER BY created_at DESC`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keys := []*models.APIKey{}
	for rows.Next() {
		k, err := scanAPIKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Revoke marks the key revoked. Keys of other organizations are reported as
// ErrNotFound.
func (r *APIKeyRepository) Revoke(ctx context.Context, orgID, id string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE api_keys SET revoked_at = ? WHERE id = ? AND organization_id = ? AND revoked_at IS NULL`, nowUnix(), id, orgID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *APIKeyRepository) UpdateLastUsed(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE api_keys SET last_used_at = ? WHERE id = ?`, nowUnix(), id)
	return err
}

func scanAPIKey(s interface {
	Scan(dest ...interface{}) error
}) (*models.APIKey, error) {
	var k models.APIKey
	var scopesStr string
	var lastUsedAt, expiresAt, revokedAt sql.NullInt64

	err := s.Scan(&k.ID, &k.OrganizationID, &k.UserID, &k.Name, &k.KeyPrefix, &k.Role, &scopesStr, &lastUsedAt, &k.CreatedAt, &expiresAt, &revokedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if lastUsedAt.Valid {
		val := lastUsedAt.Int64
		k.LastUsedAt = &val
	}
	if expiresAt.Valid {
		val := expiresAt.Int64
		k.ExpiresAt = &val
	}
	if revokedAt.Valid {
		val := revokedAt.Int64
		k.RevokedAt = &val
	}
	if err := json.Unmarshal([]byte(scopesStr), &k.Scopes); err != nil {
		k.Scopes = []string{}
	}
	return &k, nil
}
