package webhooks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"klips/internal/platform/metrics"
)

var ErrRunnerClosed = errors.New("task runner is shut down")

// TaskRunner executes background delivery tasks detached from the request
// that caused them. Every task runs under a hard wall-clock budget and at
// most workers tasks run at once.
type TaskRunner struct {
	base   context.Context
	cancel context.CancelFunc
	budget time.Duration
	sem    chan struct{}
	wg     sync.WaitGroup
	logger zerolog.Logger

	mu     sync.Mutex
	closed bool
}

func NewTaskRunner(workers int, budget time.Duration, logger zerolog.Logger) *TaskRunner {
	if workers <= 0 {
		workers = 1
	}
	base, cancel := context.WithCancel(context.Background())
	return &TaskRunner{
		base:   base,
		cancel: cancel,
		budget: budget,
		sem:    make(chan struct{}, workers),
		logger: logger,
	}
}

func (r *TaskRunner) Budget() time.Duration {
	return r.budget
}

// Go schedules fn without blocking the caller. fn receives a context that is
// cancelled when the budget elapses or the runner is force-stopped.
func (r *TaskRunner) Go(name string, fn func(ctx context.Context)) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrRunnerClosed
	}
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()

		select {
		case r.sem <- struct{}{}:
		case <-r.base.Done():
			r.logger.Warn().Str("task", name).Msg("task dropped before start: runner stopped")
			return
		}
		defer func() { <-r.sem }()

		ctx, cancel := context.WithTimeout(r.base, r.budget)
		defer cancel()

		metrics.WebhookTasksInFlight.Inc()
		defer metrics.WebhookTasksInFlight.Dec()

		defer func() {
			if p := recover(); p != nil {
				r.logger.Error().Str("task", name).Interface("panic", p).Msg("task panicked")
			}
		}()

		fn(ctx)

		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			r.logger.Warn().Str("task", name).Dur("budget", r.budget).Msg("task exceeded its budget")
		}
	}()
	return nil
}

// Shutdown stops accepting tasks and waits for running ones. If ctx expires
// first, remaining tasks are cancelled and the deadline error is returned.
func (r *TaskRunner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.cancel()
		return nil
	case <-ctx.Done():
		r.cancel()
		<-done
		return fmt.Errorf("tasks force-terminated: %w", ctx.Err())
	}
}
