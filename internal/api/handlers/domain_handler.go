package handlers

import (
	stderrors "errors"
	"net/http"

	"klips/internal/engine/domains"
	"klips/internal/pkg/errors"
	"klips/internal/platform/audit"
)

type DomainHandler struct {
	service *domains.Service
	audit   *audit.Logger
}

func NewDomainHandler(service *domains.Service, auditLogger *audit.Logger) *DomainHandler {
	return &DomainHandler{service: service, audit: auditLogger}
}

func (h *DomainHandler) Add(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Hostname string `json:"hostname"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	d, err := h.service.Add(r.Context(), tenantID(r), req.Hostname)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.audit.Log(r.Context(), audit.ActionDomainAdd, "domain", d.ID, map[string]interface{}{"hostname": d.Hostname})
	writeJSON(w, http.StatusCreated, d)
}

func (h *DomainHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.List(r.Context(), tenantID(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *DomainHandler) Verify(w http.ResponseWriter, r *http.Request) {
	d, err := h.service.Verify(r.Context(), tenantID(r), param(r, "domain_id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (h *DomainHandler) writeError(w http.ResponseWriter, err error) {
	switch {
	case writeFieldError(w, err):
	case stderrors.Is(err, domains.ErrTaken):
		errors.WriteError(w, http.StatusConflict, errors.ErrCodeConflict, err.Error(), errors.FieldDetails("hostname", "already registered"))
	case stderrors.Is(err, domains.ErrNotVerified):
		errors.WriteError(w, http.StatusUnprocessableEntity, errors.ErrCodeInvalidInput, "Verification TXT record not found", nil)
	case stderrors.Is(err, domains.ErrNotFound):
		errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "Domain not found", nil)
	default:
		writeInternal(w, err, "Domain operation failed")
	}
}
