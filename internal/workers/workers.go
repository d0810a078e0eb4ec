// Package workers holds the periodic background jobs run by cmd/worker.
package workers

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// DeliveryRetrier makes one attempt for each stored callback delivery that is due.
type DeliveryRetrier interface {
	RetryDue(ctx context.Context, limit int) (int, error)
}

// DeliveryPruner deletes finished deliveries last touched before cutoff.
type DeliveryPruner interface {
	PruneBefore(ctx context.Context, cutoff int64) (int64, error)
}

// Job runs fn once at start and then every Interval. It satisfies
// suture.Service; a failed run is logged and does not stop the job.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

func (j *Job) String() string { return j.Name }

func (j *Job) Serve(ctx context.Context) error {
	if j.Interval <= 0 {
		return fmt.Errorf("job %s: interval must be positive", j.Name)
	}
	ticker := time.NewTicker(j.Interval)
	defer ticker.Stop()

	for {
		start := time.Now()
		if err := j.Run(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Error().Err(err).Str("job", j.Name).Msg("Worker run failed")
		} else {
			log.Debug().Str("job", j.Name).Dur("took", time.Since(start)).Msg("Worker run finished")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RetryDeliveries drains due deliveries in batches until a batch comes back short.
func RetryDeliveries(r DeliveryRetrier, batch int) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		total := 0
		for {
			n, err := r.RetryDue(ctx, batch)
			total += n
			if err != nil {
				return fmt.Errorf("retrying deliveries: %w", err)
			}
			if n < batch || ctx.Err() != nil {
				break
			}
		}
		if total > 0 {
			log.Info().Int("deliveries", total).Msg("Retried callback deliveries")
		}
		return nil
	}
}

// PruneDeliveries removes delivered and abandoned rows older than retention.
func PruneDeliveries(p DeliveryPruner, retention time.Duration, now func() time.Time) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		cutoff := now().Add(-retention).UnixMilli()
		n, err := p.PruneBefore(ctx, cutoff)
		if err != nil {
			return fmt.Errorf("pruning deliveries: %w", err)
		}
		if n > 0 {
			log.Info().Int64("deleted", n).Dur("retention", retention).Msg("Pruned callback deliveries")
		}
		return nil
	}
}
