package handlers

import (
	"context"
	stderrors "errors"
	"net/http"
	"time"

	apiContext "klips/internal/api/context"
	"klips/internal/pkg/errors"
	"klips/internal/pkg/validator"
	"klips/internal/platform/audit"
	"klips/internal/platform/auth"
	"klips/internal/platform/models"
	"klips/internal/platform/repositories"
)

const resourceAPIKey = "api_key"

type APIKeyHandler struct {
	repo  *repositories.APIKeyRepository
	audit *audit.Logger
}

func NewAPIKeyHandler(repo *repositories.APIKeyRepository, auditLogger *audit.Logger) *APIKeyHandler {
	return &APIKeyHandler{repo: repo, audit: auditLogger}
}

type CreateAPIKeyRequest struct {
	Name          string   `json:"name" validate:"required,max=100"`
	Role          string   `json:"role" validate:"omitempty,oneof=owner admin member"`
	Scopes        []string `json:"scopes" validate:"omitempty,dive,required,max=64"`
	ExpiresInDays int      `json:"expires_in_days" validate:"min=0,max=3650"`
}

// CreatedAPIKey carries the raw key; it is returned once at creation.
type CreatedAPIKey struct {
	*models.APIKey
	Key string `json:"key"`
}

func newCreatedAPIKey(key *models.APIKey, raw string) *CreatedAPIKey {
	return &CreatedAPIKey{APIKey: key, Key: raw}
}

func (h *APIKeyHandler) Create(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)

	var req CreateAPIKeyRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := validator.Struct(req); err != nil {
		if !writeFieldError(w, err) {
			writeInternal(w, err, "Failed to validate request")
		}
		return
	}

	role := req.Role
	if role == "" {
		role = auth.RoleMember
	}
	// A key never carries more privilege than its creator.
	if roleRank(role) > roleRank(claims.Role) {
		errors.WriteError(w, http.StatusForbidden, errors.ErrCodeForbidden, "Cannot create a key above your own role", errors.FieldDetails("role", "exceeds caller role"))
		return
	}

	raw, hash, prefix, err := auth.GenerateAPIKey()
	if err != nil {
		writeInternal(w, err, "Failed to generate API key")
		return
	}

	now := time.Now()
	key := &models.APIKey{
		OrganizationID: tenantID(r),
		UserID:         claims.UserID,
		Name:           req.Name,
		KeyHash:        hash,
		KeyPrefix:      prefix,
		Role:           role,
		Scopes:         req.Scopes,
		CreatedAt:      now.Unix(),
	}
	if key.Scopes == nil {
		key.Scopes = []string{}
	}
	if req.ExpiresInDays > 0 {
		exp := now.Add(time.Duration(req.ExpiresInDays) * 24 * time.Hour).Unix()
		key.ExpiresAt = &exp
	}

	if err := h.repo.Create(r.Context(), key); err != nil {
		writeInternal(w, err, "Failed to create API key")
		return
	}

	h.audit.Log(r.Context(), audit.ActionAPIKeyCreate, resourceAPIKey, key.ID, map[string]interface{}{"role": key.Role})
	writeJSON(w, http.StatusCreated, newCreatedAPIKey(key, raw))
}

func (h *APIKeyHandler) List(w http.ResponseWriter, r *http.Request) {
	keys, err := h.repo.ListByOrg(r.Context(), tenantID(r))
	if err != nil {
		writeInternal(w, err, "Failed to list API keys")
		return
	}
	writeJSON(w, http.StatusOK, keys)
}

func (h *APIKeyHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	id := param(r, "key_id")
	err := h.repo.Revoke(r.Context(), tenantID(r), id)
	if stderrors.Is(err, repositories.ErrNotFound) {
		errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "API key not found", nil)
		return
	}
	if err != nil {
		writeInternal(w, err, "Failed to revoke API key")
		return
	}

	h.audit.Log(r.Context(), audit.ActionAPIKeyRevoke, resourceAPIKey, id, nil)
	w.WriteHeader(http.StatusNoContent)
}

func roleRank(role string) int {
	switch role {
	case auth.RoleOwner:
		return 3
	case auth.RoleAdmin:
		return 2
	case auth.RoleMember:
		return 1
	}
	return 0
}

// withActor attributes audit entries for requests that carry no claims yet.
func withActor(r *http.Request, userID, orgID string) context.Context {
	return context.WithValue(r.Context(), apiContext.Claims, &auth.Claims{
		UserID:         userID,
		OrganizationID: orgID,
		Role:           auth.RoleOwner,
	})
}
