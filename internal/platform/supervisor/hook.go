package supervisor

import (
	"github.com/rs/zerolog"
	"github.com/thejerf/suture/v4"
)

// EventHook logs supervisor events through zerolog. Panics and backoff are
// errors; routine terminations are warnings.
func EventHook(logger zerolog.Logger) suture.EventHook {
	return func(e suture.Event) {
		var evt *zerolog.Event
		switch e.Type() {
		case suture.EventTypeServicePanic, suture.EventTypeBackoff:
			evt = logger.Error()
		case suture.EventTypeResume:
			evt = logger.Info()
		default:
			evt = logger.Warn()
		}
		evt.Fields(e.Map()).Msg(e.String())
	}
}
