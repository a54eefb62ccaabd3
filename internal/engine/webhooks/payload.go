package webhooks

import (
	"bytes"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"klips/internal/engine/events"
)

// TimestampFormat is RFC 3339 in UTC with millisecond precision.
const TimestampFormat = "2006-01-02T15:04:05.000Z07:00"

// payload field order is the wire order.
type payload struct {
	Event     events.Name `json:"event"`
	Data      any         `json:"data"`
	Timestamp string      `json:"timestamp"`
}

// EncodePayload produces the canonical body that is signed and sent. The
// data object is re-encoded so its keys are sorted; numbers keep their
// original text.
func EncodePayload(name events.Name, data json.RawMessage, at time.Time) ([]byte, error) {
	var decoded any = map[string]any{}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null")) {
		dec := json.NewDecoder(bytes.NewReader(trimmed))
		dec.UseNumber()
		if err := dec.Decode(&decoded); err != nil {
			return nil, fmt.Errorf("decode event data: %w", err)
		}
	}

	return json.Marshal(payload{
		Event:     name,
		Data:      decoded,
		Timestamp: at.UTC().Format(TimestampFormat),
	})
}
