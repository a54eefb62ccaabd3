package webhooks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/rs/zerolog"
	"github.com/thejerf/suture/v4"
	"klips/internal/engine/events"
)

// EventSubscriber yields the raw event stream.
type EventSubscriber interface {
	Subscribe(ctx context.Context) (<-chan *message.Message, error)
}

// SubscriptionStore finds the active webhooks of a tenant subscribed to an
// event and reloads one when its task starts.
type SubscriptionStore interface {
	ListSubscribed(ctx context.Context, tenantID string, name events.Name) ([]*Webhook, error)
	GetWithSecret(ctx context.Context, tenantID, id string) (*Webhook, error)
}

// drainTimeout bounds how long Serve keeps handling already-buffered events
// after its context is cancelled.
const drainTimeout = 5 * time.Second

// Deliverer runs one attempt-sequence.
type Deliverer interface {
	Deliver(ctx context.Context, hook *Webhook, evt events.Event) (*Delivery, error)
	WorstCase() time.Duration
}

// Dispatcher fans each event out to every subscribed webhook, one
// independent background task per webhook.
type Dispatcher struct {
	subscriber EventSubscriber
	store      SubscriptionStore
	deliverer  Deliverer
	runner     *TaskRunner
	logger     zerolog.Logger
}

// NewDispatcher refuses a retry policy that cannot finish inside the
// runner's task budget.
func NewDispatcher(sub EventSubscriber, store SubscriptionStore, deliverer Deliverer, runner *TaskRunner, logger zerolog.Logger) (*Dispatcher, error) {
	if worst := deliverer.WorstCase(); worst > runner.Budget() {
		return nil, fmt.Errorf("retry policy worst case %s exceeds task budget %s", worst, runner.Budget())
	}
	return &Dispatcher{
		subscriber: sub,
		store:      store,
		deliverer:  deliverer,
		runner:     runner,
		logger:     logger,
	}, nil
}

func (d *Dispatcher) String() string {
	return "webhook-dispatcher"
}

// Serve consumes the event bus until ctx is done.
func (d *Dispatcher) Serve(ctx context.Context) error {
	msgs, err := d.subscriber.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("subscribe to events: %w", err)
	}
	d.logger.Info().Msg("webhook dispatcher started")

	for {
		if ctx.Err() != nil {
			d.drain(msgs)
			return nil
		}

		select {
		case <-ctx.Done():
			d.drain(msgs)
			return nil
		case msg, ok := <-msgs:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("event stream closed: %w", suture.ErrDoNotRestart)
			}
			// A message already taken off the stream is dispatched even if
			// shutdown begins meanwhile.
			d.handle(context.WithoutCancel(ctx), msg)
		}
	}
}

// drain dispatches events still sitting in the subscription buffer so events
// published just before shutdown are not lost.
func (d *Dispatcher) drain(msgs <-chan *message.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()

	drained := 0
	for {
		select {
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			d.handle(ctx, msg)
			drained++
		case <-ctx.Done():
			d.logger.Warn().Int("drained", drained).Msg("event drain timed out, remaining events dropped")
			return
		default:
			if drained > 0 {
				d.logger.Info().Int("drained", drained).Msg("buffered events dispatched before stop")
			}
			return
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, msg *message.Message) {
	// Acked up front: redelivery would duplicate webhook calls.
	msg.Ack()

	evt, err := events.Decode(msg)
	if err != nil {
		d.logger.Error().Err(err).Msg("dropping undecodable event")
		return
	}
	if _, err := d.Dispatch(ctx, evt); err != nil {
		d.logger.Error().Err(err).Str("event_id", evt.ID).Str("event", string(evt.Name)).Msg("event dispatch failed")
	}
}

// Dispatch starts one delivery task per subscribed active webhook and
// returns how many were started. It does not wait for deliveries.
func (d *Dispatcher) Dispatch(ctx context.Context, evt events.Event) (int, error) {
	if !evt.Name.Valid() {
		return 0, nil
	}

	hooks, err := d.store.ListSubscribed(ctx, evt.TenantID, evt.Name)
	if err != nil {
		return 0, fmt.Errorf("lookup subscriptions: %w", err)
	}

	started := 0
	for _, hook := range hooks {
		err := d.runner.Go("deliver "+hook.ID, func(taskCtx context.Context) {
			d.deliver(taskCtx, hook, evt)
		})
		if err != nil {
			return started, err
		}
		started++
	}

	if started > 0 {
		d.logger.Debug().Str("event_id", evt.ID).Str("event", string(evt.Name)).Int("webhooks", started).Msg("event dispatched")
	}
	return started, nil
}

// deliver reloads the webhook when the task actually starts, since it may
// have waited for a worker: the current secret signs the request, and a
// webhook deleted, deactivated or unsubscribed in the meantime is skipped.
func (d *Dispatcher) deliver(ctx context.Context, queued *Webhook, evt events.Event) {
	log := d.logger.With().Str("webhook_id", queued.ID).Str("event_id", evt.ID).Logger()

	hook, err := d.store.GetWithSecret(ctx, queued.TenantID, queued.ID)
	if errors.Is(err, ErrNotFound) {
		log.Debug().Msg("webhook deleted before delivery started")
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("reload webhook before delivery")
		return
	}
	if !hook.Active || !hook.Subscribed(evt.Name) {
		log.Debug().Bool("active", hook.Active).Msg("webhook no longer wants this event")
		return
	}

	if _, err := d.deliverer.Deliver(ctx, hook, evt); err != nil {
		log.Error().Err(err).Msg("delivery bookkeeping failed")
	}
}
