package handlers

import (
	"net/http"
	"strconv"

	"klips/internal/platform/audit"
)

type AuditHandler struct {
	logger *audit.Logger
}

func NewAuditHandler(logger *audit.Logger) *AuditHandler {
	return &AuditHandler{logger: logger}
}

func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	logs, err := h.logger.List(r.Context(), tenantID(r), limit)
	if err != nil {
		writeInternal(w, err, "Failed to list audit logs")
		return
	}
	writeJSON(w, http.StatusOK, logs)
}
