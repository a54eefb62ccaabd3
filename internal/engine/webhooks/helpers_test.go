package webhooks

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"klips/internal/engine/events"
	"klips/internal/platform/config"
	"klips/internal/platform/database/testdb"
)

func newTestRepository(t *testing.T, orgs ...string) *Repository {
	t.Helper()

	db := testdb.New(t)
	for _, org := range orgs {
		testdb.SeedOrg(t, db, org)
	}
	box, err := NewSecretBox("test-master-key")
	if err != nil {
		t.Fatalf("NewSecretBox() error = %v", err)
	}
	return NewRepository(db, box)
}

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	return nil
}

func (s *sleepRecorder) recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration{}, s.delays...)
}

// newTestExecutor returns an executor whose retry waits are recorded
// instead of slept.
func newTestExecutor(repo *Repository, policy RetryPolicy, threshold int) (*Executor, *sleepRecorder) {
	exec := NewExecutor(repo, ExecutorOptions{
		Policy:           policy,
		FailureThreshold: threshold,
		SnippetBytes:     512,
		Breaker:          config.BreakerConfig{FailureThreshold: 5, OpenTimeout: 30 * time.Second, HalfOpenRequests: 1},
		Client:           &http.Client{},
		Logger:           zerolog.Nop(),
	})
	rec := &sleepRecorder{}
	exec.sleep = rec.sleep
	return exec, rec
}

func fastPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    4,
		BaseDelay:      time.Second,
		Factor:         5,
		MaxRetryAfter:  30 * time.Second,
		AttemptTimeout: 2 * time.Second,
	}
}

func registerHook(t *testing.T, reg *Registry, tenant, url string, names ...events.Name) *RevealedWebhook {
	t.Helper()

	hook, err := reg.Register(context.Background(), tenant, RegisterInput{Name: "test hook", URL: url, Events: names})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	return hook
}

func mustEvent(t *testing.T, tenant string, name events.Name, data any) events.Event {
	t.Helper()

	evt, err := events.New(tenant, name, data)
	if err != nil {
		t.Fatalf("events.New() error = %v", err)
	}
	return evt
}
