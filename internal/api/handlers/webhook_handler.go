package handlers

import (
	stderrors "errors"
	"net/http"
	"strconv"

	"klips/internal/engine/webhooks"
	"klips/internal/pkg/errors"
	"klips/internal/platform/audit"
)

const resourceWebhook = "webhook"

type WebhookHandler struct {
	registry *webhooks.Registry
	audit    *audit.Logger
}

func NewWebhookHandler(registry *webhooks.Registry, auditLogger *audit.Logger) *WebhookHandler {
	return &WebhookHandler{registry: registry, audit: auditLogger}
}

func (h *WebhookHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req webhooks.RegisterInput
	if !decodeBody(w, r, &req) {
		return
	}

	hook, err := h.registry.Register(r.Context(), tenantID(r), req)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.audit.Log(r.Context(), audit.ActionWebhookCreate, resourceWebhook, hook.ID, map[string]interface{}{
		"url":    hook.URL,
		"events": hook.Events,
	})
	writeJSON(w, http.StatusCreated, hook)
}

func (h *WebhookHandler) List(w http.ResponseWriter, r *http.Request) {
	hooks, err := h.registry.List(r.Context(), tenantID(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, hooks)
}

func (h *WebhookHandler) Get(w http.ResponseWriter, r *http.Request) {
	hook, err := h.registry.Get(r.Context(), tenantID(r), param(r, "webhook_id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, hook)
}

func (h *WebhookHandler) Update(w http.ResponseWriter, r *http.Request) {
	var patch webhooks.Patch
	if !decodeBody(w, r, &patch) {
		return
	}

	hook, err := h.registry.Update(r.Context(), tenantID(r), param(r, "webhook_id"), patch)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.audit.Log(r.Context(), audit.ActionWebhookUpdate, resourceWebhook, hook.ID, map[string]interface{}{
		"active": hook.Active,
	})
	writeJSON(w, http.StatusOK, hook)
}

func (h *WebhookHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := param(r, "webhook_id")
	if err := h.registry.Delete(r.Context(), tenantID(r), id); err != nil {
		h.writeError(w, err)
		return
	}

	h.audit.Log(r.Context(), audit.ActionWebhookDelete, resourceWebhook, id, nil)
	w.WriteHeader(http.StatusNoContent)
}

// Test blocks until the single attempt finishes so the caller sees the result.
func (h *WebhookHandler) Test(w http.ResponseWriter, r *http.Request) {
	result, err := h.registry.Test(r.Context(), tenantID(r), param(r, "webhook_id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *WebhookHandler) Deliveries(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "limit must be an integer", errors.FieldDetails("limit", "must be an integer"))
			return
		}
		limit = n
	}

	deliveries, err := h.registry.Deliveries(r.Context(), tenantID(r), param(r, "webhook_id"), limit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, deliveries)
}

func (h *WebhookHandler) RotateSecret(w http.ResponseWriter, r *http.Request) {
	hook, err := h.registry.RotateSecret(r.Context(), tenantID(r), param(r, "webhook_id"))
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.audit.Log(r.Context(), audit.ActionWebhookRotate, resourceWebhook, hook.ID, nil)
	writeJSON(w, http.StatusOK, hook)
}

func (h *WebhookHandler) writeError(w http.ResponseWriter, err error) {
	var verr *webhooks.ValidationError
	switch {
	case stderrors.As(err, &verr):
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, verr.Error(), errors.FieldDetails(verr.Field, verr.Reason))
	case stderrors.Is(err, webhooks.ErrNotFound):
		errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "Webhook not found", nil)
	default:
		writeInternal(w, err, "Webhook operation failed")
	}
}
