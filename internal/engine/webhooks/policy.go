package webhooks

import (
	"net/http"
	"strconv"
	"time"

	"klips/internal/platform/config"
)

type RetryPolicy struct {
	MaxAttempts    int
	BaseDelay      time.Duration
	Factor         int
	MaxRetryAfter  time.Duration
	AttemptTimeout time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    4,
		BaseDelay:      time.Second,
		Factor:         5,
		MaxRetryAfter:  30 * time.Second,
		AttemptTimeout: 10 * time.Second,
	}
}

// PolicyFromConfig fills unset values from DefaultRetryPolicy.
func PolicyFromConfig(cfg config.WebhooksConfig) RetryPolicy {
	p := DefaultRetryPolicy()
	if cfg.RetryAttempts > 0 {
		p.MaxAttempts = cfg.RetryAttempts
	}
	if cfg.RetryBaseDelay > 0 {
		p.BaseDelay = cfg.RetryBaseDelay
	}
	if cfg.RetryFactor > 0 {
		p.Factor = cfg.RetryFactor
	}
	if cfg.MaxRetryAfter > 0 {
		p.MaxRetryAfter = cfg.MaxRetryAfter
	}
	if cfg.RequestTimeout > 0 {
		p.AttemptTimeout = cfg.RequestTimeout
	}
	return p
}

// Delay is the wait after the given failed attempt (1-based):
// BaseDelay * Factor^(attempt-1).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= time.Duration(p.Factor)
	}
	return d
}

// WorstCase bounds a full attempt-sequence: every attempt times out and every
// wait is the larger of the backoff delay and the Retry-After cap.
func (p RetryPolicy) WorstCase() time.Duration {
	total := time.Duration(p.MaxAttempts) * p.AttemptTimeout
	for attempt := 1; attempt < p.MaxAttempts; attempt++ {
		total += max(p.Delay(attempt), p.MaxRetryAfter)
	}
	return total
}

// retryAfter parses a Retry-After header (delay-seconds or HTTP-date),
// capped at MaxRetryAfter.
func (p RetryPolicy) retryAfter(h http.Header, now time.Time) (time.Duration, bool) {
	v := h.Get("Retry-After")
	if v == "" {
		return 0, false
	}

	var d time.Duration
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0, false
		}
		d = time.Duration(secs) * time.Second
	} else if at, err := http.ParseTime(v); err == nil {
		d = at.Sub(now)
		if d < 0 {
			d = 0
		}
	} else {
		return 0, false
	}

	return min(d, p.MaxRetryAfter), true
}

type attemptClass int

const (
	classSuccess attemptClass = iota
	classClientError
	classThrottled
	classServerError
	classTransport
	classCircuitOpen
)

func (c attemptClass) String() string {
	switch c {
	case classSuccess:
		return "success"
	case classClientError:
		return "client_error"
	case classThrottled:
		return "throttled"
	case classServerError:
		return "server_error"
	case classTransport:
		return "transport_error"
	case classCircuitOpen:
		return "circuit_open"
	default:
		return "unknown"
	}
}

// classifyStatus maps a response status to its attempt class. Redirects are
// not followed and count as client errors.
func classifyStatus(status int) attemptClass {
	switch {
	case status >= 200 && status < 300:
		return classSuccess
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests:
		return classThrottled
	case status >= 500:
		return classServerError
	default:
		return classClientError
	}
}

func (c attemptClass) retryable() bool {
	return c == classThrottled || c == classServerError || c == classTransport || c == classCircuitOpen
}

// breakerFailure reports whether the class counts against the host's circuit.
func (c attemptClass) breakerFailure() bool {
	return c == classServerError || c == classTransport
}
