package links

import (
	"klips/internal/pkg/validator"
)

type linkFields struct {
	DestinationURL string `json:"destination_url" validate:"required,http_url,max=2048"`
	Title          string `json:"title" validate:"max=200"`
	RedirectType   string `json:"redirect_type" validate:"required,oneof=temporary permanent"`
	Status         string `json:"status" validate:"required,oneof=active paused archived expired"`
}

// ValidateLink checks a complete link before it is written. Failures are
// *validator.FieldError.
func ValidateLink(link *Link) error {
	return validator.Struct(linkFields{
		DestinationURL: link.DestinationURL,
		Title:          link.Title,
		RedirectType:   link.RedirectType,
		Status:         link.Status,
	})
}
