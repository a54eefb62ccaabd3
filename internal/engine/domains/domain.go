// Package domains manages custom short-link hostnames and their DNS
// ownership checks.
package domains

import "errors"

var (
	ErrNotFound    = errors.New("domain not found")
	ErrTaken       = errors.New("hostname already registered")
	ErrNotVerified = errors.New("verification record not found")
)

type Domain struct {
	ID                string `json:"id"`
	TenantID          string `json:"organization_id"`
	Hostname          string `json:"hostname"`
	VerificationToken string `json:"verification_token"`
	Verified          bool   `json:"verified"`
	VerifiedAt        *int64 `json:"verified_at,omitempty"`
	CreatedAt         int64  `json:"created_at"`

	// RecordName is the TXT record that must carry VerificationToken.
	RecordName string `json:"record_name"`
}
