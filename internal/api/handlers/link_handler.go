package handlers

import (
	stderrors "errors"
	"net/http"
	"strconv"

	"klips/internal/engine/links"
	"klips/internal/pkg/errors"
)

type LinkHandler struct {
	service     *links.Service
	shortDomain string
}

func NewLinkHandler(service *links.Service, shortDomain string) *LinkHandler {
	return &LinkHandler{service: service, shortDomain: shortDomain}
}

func (h *LinkHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req links.CreateInput
	if !decodeBody(w, r, &req) {
		return
	}

	link, err := h.service.CreateLink(r.Context(), tenantID(r), claimsFrom(r).UserID, req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, link)
}

func (h *LinkHandler) List(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit < 1 || limit > links.MaxListLimit {
		limit = links.DefaultListLimit
	}

	list, err := h.service.ListLinks(r.Context(), tenantID(r), limit, (page-1)*limit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *LinkHandler) Get(w http.ResponseWriter, r *http.Request) {
	link, err := h.service.GetLink(r.Context(), tenantID(r), param(r, "link_id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, link)
}

func (h *LinkHandler) Update(w http.ResponseWriter, r *http.Request) {
	var patch links.Patch
	if !decodeBody(w, r, &patch) {
		return
	}

	link, err := h.service.UpdateLink(r.Context(), tenantID(r), param(r, "link_id"), patch)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, link)
}

func (h *LinkHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.ArchiveLink(r.Context(), tenantID(r), param(r, "link_id")); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetQRCode renders a PNG whose target is tagged so scans are told apart
// from ordinary clicks.
func (h *LinkHandler) GetQRCode(w http.ResponseWriter, r *http.Request) {
	link, err := h.service.GetLink(r.Context(), tenantID(r), param(r, "link_id"))
	if err != nil {
		h.writeError(w, err)
		return
	}

	size := links.DefaultQRSize
	if raw := r.URL.Query().Get("size"); raw != "" {
		size, err = strconv.Atoi(raw)
		if err != nil {
			errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "size must be an integer", errors.FieldDetails("size", "must be an integer"))
			return
		}
	}

	png, err := links.GenerateQRCode(links.QRTargetURL(h.shortDomain, link.ShortCode), size)
	if stderrors.Is(err, links.ErrInvalidQRSize) {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, err.Error(), errors.FieldDetails("size", "out of range"))
		return
	}
	if err != nil {
		writeInternal(w, err, "Failed to render QR code")
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}

func (h *LinkHandler) writeError(w http.ResponseWriter, err error) {
	switch {
	case writeFieldError(w, err):
	case stderrors.Is(err, links.ErrInvalidShortCode):
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, err.Error(), errors.FieldDetails("short_code", "invalid format"))
	case stderrors.Is(err, links.ErrShortCodeTaken):
		errors.WriteError(w, http.StatusConflict, errors.ErrCodeConflict, err.Error(), errors.FieldDetails("short_code", "already taken"))
	case stderrors.Is(err, links.ErrNotFound):
		errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "Link not found", nil)
	default:
		writeInternal(w, err, "Link operation failed")
	}
}
