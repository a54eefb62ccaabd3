package audit

import (
	"context"
	"database/sql"
	"net"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	apiContext "klips/internal/api/context"
	"klips/internal/platform/auth"
)

const (
	ActionWebhookCreate = "webhook.create"
	ActionWebhookUpdate = "webhook.update"
	ActionWebhookDelete = "webhook.delete"
	ActionWebhookRotate = "webhook.rotate_secret"
	ActionAPIKeyCreate  = "api_key.create"
	ActionAPIKeyRevoke  = "api_key.revoke"
	ActionDomainAdd     = "domain.add"
	ActionOrgCreate     = "organization.create"

	DefaultListLimit = 100
)

type AuditLog struct {
	ID             string                 `json:"id"`
	OrganizationID string                 `json:"organization_id"`
	UserID         string                 `json:"user_id"`
	Action         string                 `json:"action"`
	ResourceType   string                 `json:"resource_type"`
	ResourceID     string                 `json:"resource_id"`
	Metadata       map[string]interface{} `json:"metadata"`
	IPAddress      string                 `json:"ip_address"`
	UserAgent      string                 `json:"user_agent"`
	CreatedAt      int64                  `json:"created_at"`
}

type Logger struct {
	db  *sql.DB
	now func() time.Time
}

func NewLogger(db *sql.DB) *Logger {
	return &Logger{db: db, now: time.Now}
}

// Log records an administrative action. The actor comes from the claims in
// ctx, the client from the request in ctx. Failures are logged, never
// returned, so the audited operation is unaffected.
func (l *Logger) Log(ctx context.Context, action, resourceType, resourceID string, metadata map[string]interface{}) {
	var orgID, userID string
	if claims, ok := ctx.Value(apiContext.Claims).(*auth.Claims); ok {
		orgID = claims.OrganizationID
		userID = claims.UserID
	}

	ip := "unknown"
	ua := "unknown"
	if req, ok := ctx.Value(apiContext.Request).(*http.Request); ok {
		ip = clientIP(req)
		ua = req.UserAgent()
	}

	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		log.Error().Err(err).Str("action", action).Msg("failed to encode audit metadata")
		return
	}

	entry := &AuditLog{
		ID:             "audit_" + uuid.New().String(),
		OrganizationID: orgID,
		UserID:         userID,
		Action:         action,
		ResourceType:   resourceType,
		ResourceID:     resourceID,
		IPAddress:      ip,
		UserAgent:      ua,
		CreatedAt:      l.now().Unix(),
	}

	query := `
		INSERT INTO audit_logs (id, organization_id, user_id, action, resource_type, resource_id, metadata, ip_address, user_agent, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = l.db.ExecContext(context.WithoutCancel(ctx), query,
		entry.ID, entry.OrganizationID, entry.UserID, entry.Action, entry.ResourceType, entry.ResourceID,
		string(metaJSON), entry.IPAddress, entry.UserAgent, entry.CreatedAt)
	if err != nil {
		log.Error().Err(err).Str("action", action).Str("resource_id", resourceID).Msg("failed to write audit log")
	}
}

// List returns the newest entries of an organization.
func (l *Logger) List(ctx context.Context, orgID string, limit int) ([]*AuditLog, error) {
	if limit <= 0 || limit > DefaultListLimit {
		limit = DefaultListLimit
	}

	query := `
		SELECT id, organization_id, user_id, action, resource_type, resource_id, metadata, ip_address, user_agent, created_at
		FROM audit_logs
		WHERE organization_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`
	rows, err := l.db.QueryContext(ctx, query, orgID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := []*AuditLog{}
	for rows.Next() {
		var e AuditLog
		var metaStr string
		if err := rows.Scan(&e.ID, &e.OrganizationID, &e.UserID, &e.Action, &e.ResourceType, &e.ResourceID, &metaStr, &e.IPAddress, &e.UserAgent, &e.CreatedAt); err != nil {
			return nil, err
		}
		if metaStr != "" {
			json.Unmarshal([]byte(metaStr), &e.Metadata)
		}
		logs = append(logs, &e)
	}
	return logs, rows.Err()
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
