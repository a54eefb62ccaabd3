// Package workers holds the periodic maintenance jobs run by cmd/worker.
package workers

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"klips/internal/platform/metrics"
)

const (
	DefaultRetentionInterval = time.Hour
	DefaultExpiryInterval    = 5 * time.Minute
)

// DeliveryPruner deletes delivery records created before a cutoff.
type DeliveryPruner interface {
	PruneDeliveries(ctx context.Context, before time.Time) (int64, error)
}

// LinkExpirer flips links past their expiry to expired.
type LinkExpirer interface {
	ExpireDue(ctx context.Context, now time.Time) (int64, error)
}

// Job is one unit of maintenance. Run returns the number of rows it touched.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context, now time.Time) (int64, error)
}

// DeliveryRetention prunes the webhook delivery log to the last days days.
func DeliveryRetention(pruner DeliveryPruner, days int) Job {
	return Job{
		Name:     "delivery-retention",
		Interval: DefaultRetentionInterval,
		Run: func(ctx context.Context, now time.Time) (int64, error) {
			if days <= 0 {
				return 0, nil
			}
			return pruner.PruneDeliveries(ctx, now.AddDate(0, 0, -days))
		},
	}
}

func LinkExpiry(expirer LinkExpirer) Job {
	return Job{
		Name:     "link-expiry",
		Interval: DefaultExpiryInterval,
		Run:      expirer.ExpireDue,
	}
}

// Service runs a Job on its interval under a supervisor. The first run
// happens immediately so a restarted worker catches up.
type Service struct {
	job    Job
	logger zerolog.Logger
	now    func() time.Time
}

func NewService(job Job, logger zerolog.Logger) *Service {
	return &Service{
		job:    job,
		logger: logger.With().Str("job", job.Name).Logger(),
		now:    time.Now,
	}
}

func (s *Service) String() string {
	return s.job.Name
}

func (s *Service) Serve(ctx context.Context) error {
	if s.job.Interval <= 0 {
		return fmt.Errorf("job %s: interval must be positive", s.job.Name)
	}

	ticker := time.NewTicker(s.job.Interval)
	defer ticker.Stop()

	s.RunOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce executes the job a single time. Errors are logged; the next tick
// retries.
func (s *Service) RunOnce(ctx context.Context) {
	start := s.now()
	n, err := s.job.Run(ctx, start)
	if err != nil {
		s.logger.Error().Err(err).Msg("maintenance job failed")
		return
	}

	metrics.MaintenanceRuns.WithLabelValues(s.job.Name).Add(float64(n))
	s.logger.Info().Int64("rows", n).Dur("duration", time.Since(start)).Msg("maintenance job finished")
}
