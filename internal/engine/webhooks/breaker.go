package webhooks

import (
	"sync"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"github.com/rs/zerolog"
	"klips/internal/platform/config"
	"klips/internal/platform/metrics"
)

// breakerSet holds one circuit breaker per webhook endpoint. Breakers are
// never shared, so one webhook's dead endpoint cannot fail another's
// deliveries even when both live on the same host. A URL change starts a
// fresh breaker.
type breakerSet struct {
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[attemptResult]
	settings config.BreakerConfig
	logger   zerolog.Logger
}

func newBreakerSet(cfg config.BreakerConfig, logger zerolog.Logger) *breakerSet {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	if cfg.HalfOpenRequests == 0 {
		cfg.HalfOpenRequests = 1
	}
	return &breakerSet{
		breakers: make(map[string]*gobreaker.CircuitBreaker[attemptResult]),
		settings: cfg,
		logger:   logger,
	}
}

func (s *breakerSet) forWebhook(hook *Webhook) *gobreaker.CircuitBreaker[attemptResult] {
	key := hook.ID + " " + hook.URL

	s.mu.Lock()
	defer s.mu.Unlock()

	if cb, ok := s.breakers[key]; ok {
		return cb
	}

	threshold := s.settings.FailureThreshold
	cb := gobreaker.NewCircuitBreaker[attemptResult](gobreaker.Settings{
		Name:        hook.ID,
		MaxRequests: s.settings.HalfOpenRequests,
		Timeout:     s.settings.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			s.logger.Warn().Str("webhook_id", name).Str("from", from.String()).Str("to", to.String()).Msg("delivery circuit changed state")
			metrics.WebhookBreakerState.WithLabelValues(name).Set(stateValue(to))
		},
	})
	s.breakers[key] = cb
	return cb
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
