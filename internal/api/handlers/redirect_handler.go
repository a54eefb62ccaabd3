package handlers

import (
	stderrors "errors"
	"net/http"
	"time"

	"klips/internal/engine/links"
	"klips/internal/engine/redirect"
)

type RedirectHandler struct {
	resolver *redirect.Resolver
	clicks   *redirect.ClickRecorder
}

func NewRedirectHandler(resolver *redirect.Resolver, clicks *redirect.ClickRecorder) *RedirectHandler {
	return &RedirectHandler{resolver: resolver, clicks: clicks}
}

func (h *RedirectHandler) Handle(w http.ResponseWriter, r *http.Request) {
	shortCode := param(r, "short_code")
	if shortCode == "" {
		http.NotFound(w, r)
		return
	}

	link, err := h.resolver.Resolve(r.Context(), shortCode)
	switch {
	case stderrors.Is(err, redirect.ErrNotFound):
		http.NotFound(w, r)
		return
	case stderrors.Is(err, redirect.ErrGone):
		http.Error(w, "Link is not active", http.StatusGone)
		return
	case err != nil:
		writeInternal(w, err, "Failed to resolve link")
		return
	}

	h.clicks.Record(r.Context(), link, redirect.Click{
		UserAgent: r.UserAgent(),
		Referrer:  r.Referer(),
		FromQR:    r.URL.Query().Get("src") == "qr",
		At:        time.Now(),
	})

	statusCode := http.StatusFound
	if link.RedirectType == links.RedirectPermanent {
		statusCode = http.StatusMovedPermanently
	}
	w.Header().Set("Cache-Control", "no-store")
	http.Redirect(w, r, link.DestinationURL, statusCode)
}
