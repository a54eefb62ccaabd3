package links

import (
	"errors"
	"net/http"
)

const (
	StatusActive   = "active"
	StatusPaused   = "paused"
	StatusArchived = "archived"
	StatusExpired  = "expired"

	RedirectTemporary = "temporary" // 302
	RedirectPermanent = "permanent" // 301
)

var (
	ErrNotFound         = errors.New("link not found")
	ErrShortCodeTaken   = errors.New("short code already taken")
	ErrInvalidShortCode = errors.New("invalid short code format")
)

type Link struct {
	ID             string `json:"id"`
	TenantID       string `json:"organization_id"`
	ShortCode      string `json:"short_code"`
	DestinationURL string `json:"destination_url"`
	Title          string `json:"title"`
	CreatedBy      string `json:"created_by"`
	RedirectType   string `json:"redirect_type"`
	Status         string `json:"status"`
	ExpiresAt      *int64 `json:"expires_at,omitempty"`
	ClickCount     int    `json:"click_count"`
	LastClickAt    *int64 `json:"last_click_at,omitempty"`
	CreatedAt      int64  `json:"created_at"`
	UpdatedAt      int64  `json:"updated_at"`
}

// HTTPStatus is the redirect status code for the link.
func (l *Link) HTTPStatus() int {
	if l.RedirectType == RedirectPermanent {
		return http.StatusMovedPermanently
	}
	return http.StatusFound
}

// Expired reports whether the link has an expiry at or before now.
func (l *Link) Expired(now int64) bool {
	return l.ExpiresAt != nil && *l.ExpiresAt <= now
}

// Resolvable reports whether a redirect may be served for the link.
func (l *Link) Resolvable(now int64) bool {
	return l.Status == StatusActive && !l.Expired(now)
}

// eventData is the payload carried by link.* events.
func (l *Link) eventData() map[string]any {
	data := map[string]any{
		"link_id":         l.ID,
		"short_code":      l.ShortCode,
		"destination_url": l.DestinationURL,
		"title":           l.Title,
		"status":          l.Status,
	}
	if l.ExpiresAt != nil {
		data["expires_at"] = *l.ExpiresAt
	}
	return data
}

type CreateInput struct {
	DestinationURL string `json:"destination_url" validate:"required,http_url,max=2048"`
	Title          string `json:"title" validate:"max=200"`
	ShortCode      string `json:"short_code" validate:"omitempty,min=3,max=12,alphanum"`
	RedirectType   string `json:"redirect_type" validate:"omitempty,oneof=temporary permanent"`
	ExpiresAt      *int64 `json:"expires_at"`
}

// Patch carries a partial update; nil fields are left unchanged.
type Patch struct {
	DestinationURL *string `json:"destination_url"`
	Title          *string `json:"title"`
	RedirectType   *string `json:"redirect_type"`
	Status         *string `json:"status"`
	ExpiresAt      *int64  `json:"expires_at"`
}
