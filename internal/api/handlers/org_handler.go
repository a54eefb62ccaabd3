package handlers

import (
	stderrors "errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"klips/internal/pkg/errors"
	"klips/internal/pkg/validator"
	"klips/internal/platform/audit"
	"klips/internal/platform/auth"
	"klips/internal/platform/models"
	"klips/internal/platform/repositories"
)

const defaultPlanTier = "free"

type OrgHandler struct {
	orgRepo  *repositories.OrganizationRepository
	keyRepo  *repositories.APIKeyRepository
	tokenSvc *auth.TokenService
	audit    *audit.Logger
}

func NewOrgHandler(orgRepo *repositories.OrganizationRepository, keyRepo *repositories.APIKeyRepository, tokenSvc *auth.TokenService, auditLogger *audit.Logger) *OrgHandler {
	return &OrgHandler{
		orgRepo:  orgRepo,
		keyRepo:  keyRepo,
		tokenSvc: tokenSvc,
		audit:    auditLogger,
	}
}

type CreateOrgRequest struct {
	Name  string `json:"name" validate:"required,max=100"`
	Slug  string `json:"slug" validate:"required,min=3,max=48,lowercase,hostname_rfc1123,excludesall=."`
	Email string `json:"email" validate:"omitempty,email"`
}

type CreateOrgResponse struct {
	Organization *models.Organization `json:"organization"`
	AccessToken  string               `json:"access_token"`
	APIKey       *CreatedAPIKey       `json:"api_key"`
}

// Create bootstraps a tenant: the organization, an owner access token and a
// first API key. The key is only ever returned here.
func (h *OrgHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateOrgRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := validator.Struct(req); err != nil {
		if !writeFieldError(w, err) {
			writeInternal(w, err, "Failed to validate request")
		}
		return
	}

	exists, err := h.orgRepo.SlugExists(r.Context(), req.Slug)
	if err != nil {
		writeInternal(w, err, "Database error")
		return
	}
	if exists {
		errors.WriteError(w, http.StatusConflict, errors.ErrCodeConflict, "Slug already taken", errors.FieldDetails("slug", "already taken"))
		return
	}

	now := time.Now().Unix()
	org := &models.Organization{
		ID:        "org_" + uuid.NewString(),
		Slug:      req.Slug,
		Name:      req.Name,
		PlanTier:  defaultPlanTier,
		CreatedAt: now,
		UpdatedAt: now,
	}
	ownerID := "usr_" + uuid.NewString()

	raw, hash, prefix, err := auth.GenerateAPIKey()
	if err != nil {
		writeInternal(w, err, "Failed to generate API key")
		return
	}
	key := &models.APIKey{
		OrganizationID: org.ID,
		UserID:         ownerID,
		Name:           "default",
		KeyHash:        hash,
		KeyPrefix:      prefix,
		Role:           auth.RoleOwner,
		Scopes:         []string{},
		CreatedAt:      now,
	}

	tx, err := h.orgRepo.BeginTx(r.Context())
	if err != nil {
		writeInternal(w, err, "Database error")
		return
	}
	defer tx.Rollback()

	if err := h.orgRepo.CreateTx(r.Context(), tx, org); err != nil {
		writeInternal(w, err, "Failed to create organization")
		return
	}
	if err := h.keyRepo.CreateTx(r.Context(), tx, key); err != nil {
		writeInternal(w, err, "Failed to create API key")
		return
	}
	if err := tx.Commit(); err != nil {
		writeInternal(w, err, "Failed to commit transaction")
		return
	}

	token, err := h.tokenSvc.GenerateAccessToken(ownerID, org.ID, auth.RoleOwner, req.Email)
	if err != nil {
		writeInternal(w, err, "Failed to issue access token")
		return
	}

	log.Info().Str("organization_id", org.ID).Str("slug", org.Slug).Msg("organization created")
	h.audit.Log(withActor(r, ownerID, org.ID), audit.ActionOrgCreate, "organization", org.ID, map[string]interface{}{"slug": org.Slug})

	writeJSON(w, http.StatusCreated, CreateOrgResponse{
		Organization: org,
		AccessToken:  token,
		APIKey:       newCreatedAPIKey(key, raw),
	})
}

func (h *OrgHandler) GetCurrent(w http.ResponseWriter, r *http.Request) {
	org, err := h.orgRepo.GetByID(r.Context(), tenantID(r))
	if stderrors.Is(err, repositories.ErrNotFound) {
		errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "Organization not found", nil)
		return
	}
	if err != nil {
		writeInternal(w, err, "Database error")
		return
	}
	writeJSON(w, http.StatusOK, org)
}
