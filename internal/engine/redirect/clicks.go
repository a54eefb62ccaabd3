package redirect

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"klips/internal/engine/events"
	"klips/internal/engine/links"
	"klips/internal/pkg/parser"
)

// ClickCounter persists click counters.
type ClickCounter interface {
	IncrementClickCount(ctx context.Context, id string, at int64) error
}

// Click is everything captured from a redirect request.
type Click struct {
	UserAgent string
	Referrer  string
	FromQR    bool
	At        time.Time
}

// ClickRecorder counts clicks and raises link.click and qr.scanned without
// holding up the redirect response.
type ClickRecorder struct {
	counter   ClickCounter
	publisher events.Publisher
	logger    zerolog.Logger
	wg        sync.WaitGroup
}

func NewClickRecorder(counter ClickCounter, publisher events.Publisher, logger zerolog.Logger) *ClickRecorder {
	return &ClickRecorder{counter: counter, publisher: publisher, logger: logger}
}

// Record is non-blocking. The work outlives the request context.
func (r *ClickRecorder) Record(ctx context.Context, link *CachedLink, click Click) {
	ctx = context.WithoutCancel(ctx)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			if p := recover(); p != nil {
				r.logger.Error().Interface("panic", p).Str("link_id", link.ID).Msg("recovered from panic while recording click")
			}
		}()
		r.record(ctx, link, click)
	}()
}

func (r *ClickRecorder) record(ctx context.Context, link *CachedLink, click Click) {
	if err := r.counter.IncrementClickCount(ctx, link.ID, click.At.Unix()); err != nil {
		r.logger.Error().Err(err).Str("link_id", link.ID).Msg("failed to increment click count")
	}

	client := parser.ParseUserAgent(click.UserAgent)
	data := map[string]any{
		"link_id":         link.ID,
		"short_code":      link.ShortCode,
		"destination_url": link.DestinationURL,
		"device":          client.Device,
		"os":              client.OS,
		"browser":         client.Browser,
		"referrer":        click.Referrer,
		"qr":              click.FromQR,
	}
	events.Emit(ctx, r.publisher, link.TenantID, events.LinkClick, data)

	if click.FromQR {
		events.Emit(ctx, r.publisher, link.TenantID, events.QRScanned, map[string]any{
			"link_id":    link.ID,
			"short_code": link.ShortCode,
			"device":     client.Device,
			"os":         client.OS,
		})
	}
}

// Wait blocks until every recorded click has been processed.
func (r *ClickRecorder) Wait() {
	r.wg.Wait()
}

// compile-time check that the link repository can count clicks
var _ ClickCounter = (*links.Repository)(nil)
