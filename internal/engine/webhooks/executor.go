package webhooks

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"
	"klips/internal/engine/events"
	"klips/internal/platform/config"
	"klips/internal/platform/metrics"
)

const userAgent = "klips-webhooks/1.0"

// DeliveryStore is the persistence the executor needs.
type DeliveryStore interface {
	GetWithSecret(ctx context.Context, tenantID, id string) (*Webhook, error)
	InsertDelivery(ctx context.Context, d *Delivery) error
	RecordOutcome(ctx context.Context, id string, o Outcome, threshold int) (bool, error)
}

type ExecutorOptions struct {
	Policy           RetryPolicy
	FailureThreshold int
	SnippetBytes     int
	Breaker          config.BreakerConfig
	Client           *http.Client
	Logger           zerolog.Logger
}

// Executor performs signed deliveries with bounded retry and writes exactly
// one Delivery record per attempt-sequence.
type Executor struct {
	store        DeliveryStore
	client       *http.Client
	policy       RetryPolicy
	threshold    int
	snippetBytes int
	breakers     *breakerSet
	logger       zerolog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewExecutor(store DeliveryStore, opts ExecutorOptions) *Executor {
	client := opts.Client
	if client == nil {
		client = &http.Client{}
	}
	// Redirects are reported as-is and never followed.
	c := *client
	c.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }

	snippet := opts.SnippetBytes
	if snippet <= 0 {
		snippet = 512
	}
	policy := opts.Policy
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}

	return &Executor{
		store:        store,
		client:       &c,
		policy:       policy,
		threshold:    opts.FailureThreshold,
		snippetBytes: snippet,
		breakers:     newBreakerSet(opts.Breaker, opts.Logger),
		logger:       opts.Logger,
		now:          time.Now,
		sleep:        sleepContext,
	}
}

func (e *Executor) WorstCase() time.Duration {
	return e.policy.WorstCase()
}

type attemptResult struct {
	class      attemptClass
	status     *int
	duration   time.Duration
	snippet    string
	err        error
	retryAfter time.Duration
}

type request struct {
	hook       *Webhook
	event      events.Name
	body       []byte
	signature  string
	deliveryID string
}

// Deliver runs the full attempt-sequence for one (webhook, event) pair and
// returns the persisted Delivery. Attempts are strictly sequential and the
// webhook is reloaded before each retry. A webhook deleted mid-sequence
// yields a nil Delivery and no record.
func (e *Executor) Deliver(ctx context.Context, hook *Webhook, evt events.Event) (*Delivery, error) {
	body, err := EncodePayload(evt.Name, evt.Data, evt.OccurredAt)
	if err != nil {
		return nil, err
	}

	req := request{
		hook:       hook,
		event:      evt.Name,
		body:       body,
		signature:  Sign(hook.Secret, body),
		deliveryID: "dlv_" + uuid.New().String(),
	}
	log := e.logger.With().Str("webhook_id", hook.ID).Str("event", string(evt.Name)).Str("delivery_id", req.deliveryID).Logger()

	var res attemptResult
	attempts := 0
	for attempts < e.policy.MaxAttempts {
		attempts++
		res = e.attemptWithBreaker(ctx, req, attempts)

		if res.class == classSuccess || !res.class.retryable() || attempts == e.policy.MaxAttempts {
			break
		}

		delay := e.policy.Delay(attempts)
		if res.retryAfter > 0 {
			delay = res.retryAfter
		}
		log.Debug().Err(res.err).Int("attempt", attempts).Dur("delay", delay).Msg("delivery attempt failed, retrying")

		if err := e.sleep(ctx, delay); err != nil {
			res.err = fmt.Errorf("retry aborted: %w", err)
			break
		}

		current, err := e.store.GetWithSecret(ctx, hook.TenantID, hook.ID)
		if errors.Is(err, ErrNotFound) {
			log.Info().Int("attempt", attempts).Msg("webhook deleted mid-sequence, delivery abandoned")
			return nil, nil
		}
		if err != nil {
			log.Warn().Err(err).Msg("reload before retry failed, keeping the loaded definition")
			continue
		}
		if !current.Active {
			res.err = fmt.Errorf("webhook deactivated after attempt %d", attempts)
			break
		}
		// A rotated secret or a new URL applies from the next attempt on.
		req.hook = current
		req.signature = Sign(current.Secret, body)
	}

	d := &Delivery{
		ID:              req.deliveryID,
		WebhookID:       hook.ID,
		TenantID:        hook.TenantID,
		Event:           evt.Name,
		StatusCode:      res.status,
		DurationMs:      res.duration.Milliseconds(),
		Success:         res.class == classSuccess,
		Attempts:        attempts,
		ResponseSnippet: res.snippet,
		CreatedAt:       e.now().Unix(),
	}
	if res.err != nil && !d.Success {
		d.Error = res.err.Error()
	}

	// Bookkeeping must land even if the task budget just expired.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := e.store.InsertDelivery(writeCtx, d); err != nil {
		return d, fmt.Errorf("record delivery: %w", err)
	}

	deactivated, err := e.store.RecordOutcome(writeCtx, hook.ID, Outcome{Success: d.Success, StatusCode: d.StatusCode, At: d.CreatedAt}, e.threshold)
	if err != nil {
		return d, fmt.Errorf("record outcome: %w", err)
	}

	outcome := "failure"
	if d.Success {
		outcome = "success"
	}
	metrics.WebhookDeliveries.WithLabelValues(outcome).Inc()

	if d.Success {
		log.Info().Int("attempts", attempts).Int64("duration_ms", d.DurationMs).Msg("webhook delivered")
	} else {
		log.Warn().Int("attempts", attempts).Str("error", d.Error).Msg("webhook delivery failed")
	}
	if deactivated {
		metrics.WebhookDeactivations.Inc()
		log.Warn().Int("threshold", e.threshold).Msg("webhook deactivated after consecutive failures")
	}
	return d, nil
}

// Test performs a single unretried attempt of the synthetic webhook.test
// event. It bypasses the circuit breaker and leaves the failure counter and
// active flag untouched.
func (e *Executor) Test(ctx context.Context, hook *Webhook) (*TestResult, error) {
	evt, err := events.New(hook.TenantID, events.WebhookTest, map[string]string{
		"message":    "This is a test delivery from klips.",
		"webhook_id": hook.ID,
	})
	if err != nil {
		return nil, err
	}

	body, err := EncodePayload(evt.Name, evt.Data, e.now())
	if err != nil {
		return nil, err
	}
	req := request{
		hook:       hook,
		event:      evt.Name,
		body:       body,
		signature:  Sign(hook.Secret, body),
		deliveryID: "dlv_" + uuid.New().String(),
	}

	res := e.attempt(ctx, req, 1)

	d := &Delivery{
		ID:              req.deliveryID,
		WebhookID:       hook.ID,
		TenantID:        hook.TenantID,
		Event:           evt.Name,
		StatusCode:      res.status,
		DurationMs:      res.duration.Milliseconds(),
		Success:         res.class == classSuccess,
		Attempts:        1,
		Test:            true,
		ResponseSnippet: res.snippet,
		CreatedAt:       e.now().Unix(),
	}
	if res.err != nil && !d.Success {
		d.Error = res.err.Error()
	}
	if err := e.store.InsertDelivery(context.WithoutCancel(ctx), d); err != nil {
		return nil, fmt.Errorf("record test delivery: %w", err)
	}

	return &TestResult{
		DeliveryID:      d.ID,
		Success:         d.Success,
		StatusCode:      d.StatusCode,
		DurationMs:      d.DurationMs,
		ResponseSnippet: d.ResponseSnippet,
		Error:           d.Error,
	}, nil
}

func (e *Executor) attemptWithBreaker(ctx context.Context, req request, n int) attemptResult {
	cb := e.breakers.forWebhook(req.hook)

	res, err := cb.Execute(func() (attemptResult, error) {
		r := e.attempt(ctx, req, n)
		if r.class.breakerFailure() {
			return r, r.err
		}
		return r, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		metrics.WebhookAttempts.WithLabelValues(classCircuitOpen.String()).Inc()
		return attemptResult{
			class: classCircuitOpen,
			err:   &TransportError{Attempt: n, Err: fmt.Errorf("circuit open for %s: %w", cb.Name(), err)},
		}
	}
	return res
}

func (e *Executor) attempt(ctx context.Context, req request, n int) attemptResult {
	attemptCtx, cancel := context.WithTimeout(ctx, e.policy.AttemptTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, req.hook.URL, bytes.NewReader(req.body))
	if err != nil {
		return attemptResult{class: classTransport, err: &TransportError{Attempt: n, Err: err}}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", userAgent)
	httpReq.Header.Set("X-Webhook-Signature", req.signature)
	httpReq.Header.Set("X-Webhook-Event", string(req.event))
	httpReq.Header.Set("X-Webhook-Delivery", req.deliveryID)
	httpReq.Header.Set("X-Webhook-Attempt", strconv.Itoa(n))

	start := e.now()
	resp, err := e.client.Do(httpReq)
	if err != nil {
		res := attemptResult{class: classTransport, duration: e.now().Sub(start), err: &TransportError{Attempt: n, Err: err}}
		e.observe(res)
		return res
	}
	defer resp.Body.Close()

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, int64(e.snippetBytes)))
	// Drain a little more so the connection can be reused.
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	status := resp.StatusCode
	res := attemptResult{
		class:    classifyStatus(status),
		status:   &status,
		duration: e.now().Sub(start),
		snippet:  validUTF8(snippet),
	}
	if res.class != classSuccess {
		res.err = &TransportError{Attempt: n, StatusCode: status}
	}
	if status == http.StatusTooManyRequests || status == http.StatusServiceUnavailable {
		if d, ok := e.policy.retryAfter(resp.Header, e.now()); ok {
			res.retryAfter = d
		}
	}
	e.observe(res)
	return res
}

func (e *Executor) observe(res attemptResult) {
	metrics.WebhookAttempts.WithLabelValues(res.class.String()).Inc()
	metrics.WebhookAttemptDuration.Observe(res.duration.Seconds())
}

// validUTF8 drops invalid sequences, including a rune cut by the snippet limit.
func validUTF8(b []byte) string {
	return strings.ToValidUTF8(string(b), "")
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
