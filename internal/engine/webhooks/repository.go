package webhooks

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"klips/internal/engine/events"
)

// Repository persists webhooks and their delivery log. Secrets are sealed
// with the SecretBox before they reach the database.
type Repository struct {
	db  *sql.DB
	box *SecretBox
}

func NewRepository(db *sql.DB, box *SecretBox) *Repository {
	return &Repository{db: db, box: box}
}

// publicColumns deliberately omits the secret.
const publicColumns = `id, organization_id, name, url, events, active, failure_count, last_status, last_triggered_at, created_at, updated_at`

func (r *Repository) Create(ctx context.Context, w *Webhook) error {
	if w.ID == "" {
		w.ID = "wh_" + uuid.New().String()
	}

	sealed, err := r.box.Seal(w.Secret)
	if err != nil {
		return fmt.Errorf("seal secret: %w", err)
	}
	eventsJSON, err := json.Marshal(w.Events)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO webhooks (id, organization_id, name, url, events, secret, active, failure_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = r.db.ExecContext(ctx, query, w.ID, w.TenantID, w.Name, w.URL, string(eventsJSON), sealed, w.Active, w.FailureCount, w.CreatedAt, w.UpdatedAt)
	return err
}

func (r *Repository) GetByID(ctx context.Context, tenantID, id string) (*Webhook, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+publicColumns+` FROM webhooks WHERE id = ? AND organization_id = ?`, id, tenantID)
	return scanWebhook(row)
}

// GetWithSecret loads the webhook including its opened signing secret.
func (r *Repository) GetWithSecret(ctx context.Context, tenantID, id string) (*Webhook, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+publicColumns+`, secret FROM webhooks WHERE id = ? AND organization_id = ?`, id, tenantID)
	return r.scanWithSecret(row)
}

func (r *Repository) List(ctx context.Context, tenantID string) ([]*Webhook, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+publicColumns+` FROM webhooks WHERE organization_id = ? ORDER BY created_at DESC, rowid DESC`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	hooks := []*Webhook{}
	for rows.Next() {
		w, err := scanWebhook(rows)
		if err != nil {
			return nil, err
		}
		hooks = append(hooks, w)
	}
	return hooks, rows.Err()
}

// ListSubscribed returns the tenant's active webhooks subscribed to name,
// with secrets opened for signing. Subscription filtering happens here since
// events are stored as a JSON array.
func (r *Repository) ListSubscribed(ctx context.Context, tenantID string, name events.Name) ([]*Webhook, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+publicColumns+`, secret FROM webhooks WHERE organization_id = ? AND active = 1`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var matched []*Webhook
	for rows.Next() {
		w, err := r.scanWithSecret(rows)
		if err != nil {
			return nil, err
		}
		if w.Subscribed(name) {
			matched = append(matched, w)
		}
	}
	return matched, rows.Err()
}

// Update writes the definition fields. active and failure_count are written
// only when includeState is set, so a rename racing the executor cannot undo
// an auto-deactivation. The secret is never touched.
func (r *Repository) Update(ctx context.Context, w *Webhook, includeState bool) error {
	eventsJSON, err := json.Marshal(w.Events)
	if err != nil {
		return err
	}

	query := `UPDATE webhooks SET name = ?, url = ?, events = ?, updated_at = ? WHERE id = ? AND organization_id = ?`
	args := []interface{}{w.Name, w.URL, string(eventsJSON), w.UpdatedAt, w.ID, w.TenantID}
	if includeState {
		query = `
			UPDATE webhooks
			SET name = ?, url = ?, events = ?, active = ?, failure_count = ?, updated_at = ?
			WHERE id = ? AND organization_id = ?
		`
		args = []interface{}{w.Name, w.URL, string(eventsJSON), w.Active, w.FailureCount, w.UpdatedAt, w.ID, w.TenantID}
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// RotateSecret overwrites the stored secret in a single statement;
// concurrent rotations resolve as last write wins.
func (r *Repository) RotateSecret(ctx context.Context, tenantID, id, secret string, at int64) error {
	sealed, err := r.box.Seal(secret)
	if err != nil {
		return fmt.Errorf("seal secret: %w", err)
	}

	res, err := r.db.ExecContext(ctx, `UPDATE webhooks SET secret = ?, updated_at = ? WHERE id = ? AND organization_id = ?`, sealed, at, id, tenantID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// Delete removes the webhook and its delivery log in one transaction.
func (r *Repository) Delete(ctx context.Context, tenantID, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM webhook_deliveries WHERE webhook_id = ? AND organization_id = ?`, id, tenantID); err != nil {
		return err
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM webhooks WHERE id = ? AND organization_id = ?`, id, tenantID)
	if err != nil {
		return err
	}
	if err := requireRow(res); err != nil {
		return err
	}
	return tx.Commit()
}

// Outcome is the terminal result of one attempt-sequence.
type Outcome struct {
	Success    bool
	StatusCode *int
	At         int64
}

// RecordOutcome applies delivery bookkeeping and, on failure, disables the
// webhook once its consecutive failures reach threshold. It reports whether
// this call deactivated the webhook.
func (r *Repository) RecordOutcome(ctx context.Context, id string, o Outcome, threshold int) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	if o.Success {
		_, err = tx.ExecContext(ctx, `UPDATE webhooks SET failure_count = 0, last_status = ?, last_triggered_at = ? WHERE id = ?`, o.StatusCode, o.At, id)
		if err != nil {
			return false, err
		}
		return false, tx.Commit()
	}

	if _, err := tx.ExecContext(ctx, `UPDATE webhooks SET failure_count = failure_count + 1, last_status = ? WHERE id = ?`, o.StatusCode, id); err != nil {
		return false, err
	}

	deactivated := false
	if threshold > 0 {
		res, err := tx.ExecContext(ctx, `UPDATE webhooks SET active = 0, updated_at = ? WHERE id = ? AND active = 1 AND failure_count >= ?`, o.At, id, threshold)
		if err != nil {
			return false, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return false, err
		}
		deactivated = n > 0
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	return deactivated, nil
}

func (r *Repository) InsertDelivery(ctx context.Context, d *Delivery) error {
	if d.ID == "" {
		d.ID = "dlv_" + uuid.New().String()
	}

	query := `
		INSERT INTO webhook_deliveries (id, webhook_id, organization_id, event, status_code, duration_ms, success, attempts, test, error, response_snippet, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query, d.ID, d.WebhookID, d.TenantID, string(d.Event), d.StatusCode, d.DurationMs, d.Success, d.Attempts, d.Test, d.Error, d.ResponseSnippet, d.CreatedAt)
	return err
}

// ListDeliveries returns the newest records first.
func (r *Repository) ListDeliveries(ctx context.Context, webhookID string, limit int) ([]*Delivery, error) {
	query := `
		SELECT id, webhook_id, organization_id, event, status_code, duration_ms, success, attempts, test, error, response_snippet, created_at
		FROM webhook_deliveries
		WHERE webhook_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`
	rows, err := r.db.QueryContext(ctx, query, webhookID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	deliveries := []*Delivery{}
	for rows.Next() {
		var d Delivery
		var event string
		var status sql.NullInt64
		if err := rows.Scan(&d.ID, &d.WebhookID, &d.TenantID, &event, &status, &d.DurationMs, &d.Success, &d.Attempts, &d.Test, &d.Error, &d.ResponseSnippet, &d.CreatedAt); err != nil {
			return nil, err
		}
		d.Event = events.Name(event)
		if status.Valid {
			code := int(status.Int64)
			d.StatusCode = &code
		}
		deliveries = append(deliveries, &d)
	}
	return deliveries, rows.Err()
}

// PruneDeliveries deletes delivery records created before the cutoff.
func (r *Repository) PruneDeliveries(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM webhook_deliveries WHERE created_at < ?`, before.Unix())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
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

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanWebhook(s scanner) (*Webhook, error) {
	w, _, err := scanWebhookColumns(s, false)
	return w, err
}

func (r *Repository) scanWithSecret(s scanner) (*Webhook, error) {
	w, sealed, err := scanWebhookColumns(s, true)
	if err != nil {
		return nil, err
	}
	secret, err := r.box.Open(sealed)
	if err != nil {
		return nil, fmt.Errorf("webhook %s: %w", w.ID, err)
	}
	w.Secret = secret
	return w, nil
}

func scanWebhookColumns(s scanner, withSecret bool) (*Webhook, string, error) {
	var w Webhook
	var eventsStr, sealed string
	var lastStatus, lastTriggeredAt sql.NullInt64

	dest := []interface{}{
		&w.ID, &w.TenantID, &w.Name, &w.URL, &eventsStr, &w.Active, &w.FailureCount,
		&lastStatus, &lastTriggeredAt, &w.CreatedAt, &w.UpdatedAt,
	}
	if withSecret {
		dest = append(dest, &sealed)
	}

	if err := s.Scan(dest...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, "", ErrNotFound
		}
		return nil, "", err
	}

	if lastStatus.Valid {
		code := int(lastStatus.Int64)
		w.LastStatus = &code
	}
	if lastTriggeredAt.Valid {
		val := lastTriggeredAt.Int64
		w.LastTriggeredAt = &val
	}
	if err := json.Unmarshal([]byte(eventsStr), &w.Events); err != nil {
		return nil, "", fmt.Errorf("decode events of webhook %s: %w", w.ID, err)
	}
	return &w, sealed, nil
}
