package events

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"
	"klips/internal/platform/metrics"
)

// Topic carries every tenant event on the in-process bus.
const Topic = "tenant.events"

// Bus is the message-passing boundary between event sources and the webhook
// dispatcher.
type Bus struct {
	pubsub *gochannel.GoChannel
}

func NewBus(buffer int64, logger watermill.LoggerAdapter) *Bus {
	return &Bus{
		pubsub: gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer:            buffer,
			BlockPublishUntilSubscriberAck: false,
		}, logger),
	}
}

func (b *Bus) Publish(_ context.Context, evt Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	msg := message.NewMessage(evt.ID, payload)
	msg.Metadata.Set("event", string(evt.Name))
	msg.Metadata.Set("tenant_id", evt.TenantID)

	if err := b.pubsub.Publish(Topic, msg); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	metrics.EventsPublished.WithLabelValues(string(evt.Name)).Inc()
	return nil
}

// Subscribe returns the message stream for Topic. The channel closes when ctx
// is done or the bus is closed.
func (b *Bus) Subscribe(ctx context.Context) (<-chan *message.Message, error) {
	return b.pubsub.Subscribe(ctx, Topic)
}

func (b *Bus) Close() error {
	return b.pubsub.Close()
}

// Decode turns a bus message back into an Event.
func Decode(msg *message.Message) (Event, error) {
	var evt Event
	if err := json.Unmarshal(msg.Payload, &evt); err != nil {
		return Event{}, fmt.Errorf("decode event %s: %w", msg.UUID, err)
	}
	return evt, nil
}
