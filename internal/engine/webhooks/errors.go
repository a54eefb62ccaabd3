package webhooks

import (
	"errors"
	"fmt"
)

// ErrNotFound covers both missing webhooks and webhooks owned by another
// tenant, so callers cannot probe for existence.
var ErrNotFound = errors.New("webhook not found")

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// TransportError describes a failed delivery attempt. It stays inside the
// delivery pipeline and is only reflected in the Delivery record.
type TransportError struct {
	Attempt    int
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("attempt %d: %v", e.Attempt, e.Err)
	}
	return fmt.Sprintf("attempt %d: HTTP %d", e.Attempt, e.StatusCode)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
