// Package supervisor runs long-lived components under a suture tree so a
// crashed component is restarted without taking the process down.
package supervisor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/thejerf/suture/v4"
)

type TreeConfig struct {
	FailureThreshold float64
	FailureDecay     float64
	FailureBackoff   time.Duration
	ShutdownTimeout  time.Duration
}

// DefaultTreeConfig mirrors suture's own defaults.
func DefaultTreeConfig() TreeConfig {
	return TreeConfig{
		FailureThreshold: 5,
		FailureDecay:     30,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  10 * time.Second,
	}
}

// Tree has two layers: api (HTTP server) and background (event dispatch and
// maintenance jobs). A failing background service never restarts the API.
// On shutdown the api layer stops first, then the drain hooks run, then the
// background layer stops.
type Tree struct {
	root       *suture.Supervisor
	api        *suture.Supervisor
	background *suture.Supervisor
	apiToken   suture.ServiceToken
	timeout    time.Duration
	logger     zerolog.Logger

	mu     sync.Mutex
	drains []func()
}

func NewTree(name string, logger zerolog.Logger, cfg TreeConfig) *Tree {
	defaults := DefaultTreeConfig()
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = defaults.FailureThreshold
	}
	if cfg.FailureDecay == 0 {
		cfg.FailureDecay = defaults.FailureDecay
	}
	if cfg.FailureBackoff == 0 {
		cfg.FailureBackoff = defaults.FailureBackoff
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = defaults.ShutdownTimeout
	}

	rootSpec := suture.Spec{
		EventHook:        EventHook(logger),
		FailureThreshold: cfg.FailureThreshold,
		FailureDecay:     cfg.FailureDecay,
		FailureBackoff:   cfg.FailureBackoff,
		Timeout:          cfg.ShutdownTimeout,
	}
	childSpec := suture.Spec{
		FailureThreshold: cfg.FailureThreshold,
		FailureDecay:     cfg.FailureDecay,
		FailureBackoff:   cfg.FailureBackoff,
		Timeout:          cfg.ShutdownTimeout,
	}

	root := suture.New(name, rootSpec)
	api := suture.New("api-layer", childSpec)
	background := suture.New("background-layer", childSpec)
	apiToken := root.Add(api)
	root.Add(background)

	return &Tree{
		root:       root,
		api:        api,
		background: background,
		apiToken:   apiToken,
		timeout:    cfg.ShutdownTimeout,
		logger:     logger,
	}
}

func (t *Tree) AddAPIService(svc suture.Service) suture.ServiceToken {
	return t.api.Add(svc)
}

func (t *Tree) AddBackgroundService(svc suture.Service) suture.ServiceToken {
	return t.background.Add(svc)
}

// BeforeBackgroundStop registers fn to run after the api layer has stopped
// and before background services are cancelled.
func (t *Tree) BeforeBackgroundStop(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.drains = append(t.drains, fn)
}

// Serve blocks until ctx is cancelled and every service has stopped or timed out.
func (t *Tree) Serve(ctx context.Context) error {
	rootCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()
	errCh := t.root.ServeBackground(rootCtx)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	if err := t.root.RemoveAndWait(t.apiToken, t.timeout); err != nil {
		t.logger.Warn().Err(err).Dur("timeout", t.timeout).Msg("api layer did not stop cleanly")
	}

	t.mu.Lock()
	drains := append([]func(){}, t.drains...)
	t.mu.Unlock()
	for _, fn := range drains {
		fn()
	}

	cancel()
	if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return ctx.Err()
}

func (t *Tree) ServeBackground(ctx context.Context) <-chan error {
	errCh := make(chan error, 1)
	go func() { errCh <- t.Serve(ctx) }()
	return errCh
}

func (t *Tree) UnstoppedServiceReport() ([]suture.UnstoppedService, error) {
	return t.root.UnstoppedServiceReport()
}
