// Package events defines the typed domain events raised by link, redirect
// and domain operations, and the bus that carries them to the webhook
// dispatcher.
package events

import (
	"context"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type Name string

const (
	LinkClick      Name = "link.click"
	LinkCreated    Name = "link.created"
	LinkUpdated    Name = "link.updated"
	LinkDeleted    Name = "link.deleted"
	DomainVerified Name = "domain.verified"
	QRScanned      Name = "qr.scanned"

	// WebhookTest is only produced by test deliveries and cannot be subscribed to.
	WebhookTest Name = "webhook.test"
)

// Subscribable lists the event names a webhook may subscribe to.
var Subscribable = []Name{LinkClick, LinkCreated, LinkUpdated, LinkDeleted, DomainVerified, QRScanned}

func (n Name) Valid() bool {
	for _, s := range Subscribable {
		if n == s {
			return true
		}
	}
	return false
}

type Event struct {
	ID         string          `json:"id"`
	TenantID   string          `json:"tenant_id"`
	Name       Name            `json:"name"`
	Data       json.RawMessage `json:"data"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// New builds an event, encoding data as its JSON payload.
func New(tenantID string, name Name, data any) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, err
	}
	return Event{
		ID:         "evt_" + uuid.New().String(),
		TenantID:   tenantID,
		Name:       name,
		Data:       raw,
		OccurredAt: time.Now().UTC(),
	}, nil
}

// Publisher is the only view business code has of the delivery pipeline.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
}

// Emit builds and publishes an event. Failures are logged and never returned
// so the triggering operation is unaffected.
func Emit(ctx context.Context, p Publisher, tenantID string, name Name, data any) {
	if p == nil {
		return
	}

	evt, err := New(tenantID, name, data)
	if err != nil {
		log.Error().Err(err).Str("event", string(name)).Str("tenant_id", tenantID).Msg("failed to encode event")
		return
	}
	if err := p.Publish(ctx, evt); err != nil {
		log.Error().Err(err).Str("event", string(name)).Str("event_id", evt.ID).Str("tenant_id", tenantID).Msg("failed to publish event")
	}
}

// Discard is a Publisher that drops every event.
type Discard struct{}

func (Discard) Publish(context.Context, Event) error { return nil }

// Recorder is a Publisher that keeps events in memory, for tests.
type Recorder struct {
	Events []Event
}

func (r *Recorder) Publish(_ context.Context, evt Event) error {
	r.Events = append(r.Events, evt)
	return nil
}

// Names returns the names of the recorded events in order.
func (r *Recorder) Names() []Name {
	names := make([]Name, 0, len(r.Events))
	for _, e := range r.Events {
		names = append(names, e.Name)
	}
	return names
}
