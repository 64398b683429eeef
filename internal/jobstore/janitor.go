package jobstore

import (
	"context"
	"fmt"
	"time"

	"github.com/civicpipeline/grievance-pipeline/internal/obs"
)

// RequeueStuck returns processing rows whose last_attempt_at is older than
// the configured stuck timeout back to pending. Intentionally idempotent
// and lock-free: re-running it on an already-requeued row is a no-op.
func (s *Store) RequeueStuck(ctx context.Context) (int64, error) {
	n, err := s.requeue(ctx, StatusProcessing, s.cfg.JobStore.RequeueStuckAfter)
	if err == nil && n > 0 {
		obs.JobsRequeuedStuck.Add(float64(n))
	}
	return n, err
}

// RequeueFailed returns failed rows older than the configured retry
// timeout back to pending, giving a transient failure another attempt.
func (s *Store) RequeueFailed(ctx context.Context) (int64, error) {
	n, err := s.requeue(ctx, StatusFailed, s.cfg.JobStore.RequeueFailedAfter)
	if err == nil && n > 0 {
		obs.JobsRequeuedFailed.Add(float64(n))
	}
	return n, err
}

func (s *Store) requeue(ctx context.Context, from string, after time.Duration) (int64, error) {
	query := fmt.Sprintf(`
		UPDATE %s SET status = $1, updated_at = now()
		WHERE status = $2 AND last_attempt_at < $3`, s.table)
	res, err := s.db.ExecContext(ctx, query, StatusPending, from, time.Now().Add(-after))
	if err != nil {
		return 0, fmt.Errorf("requeue %s: %w", from, err)
	}
	return res.RowsAffected()
}

// RunJanitor calls both requeue passes once per interval until ctx is
// cancelled. Every worker invokes this at the start of its loop, not just
// a dedicated process, so the janitor survives as long as any worker does.
func (s *Store) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := s.RequeueStuck(ctx); err != nil {
				s.log.Warn("requeue stuck failed", obs.Err(err))
			} else if n > 0 {
				s.log.Warn("requeued stuck jobs", obs.Int("count", int(n)))
			}
			if n, err := s.RequeueFailed(ctx); err != nil {
				s.log.Warn("requeue failed-jobs failed", obs.Err(err))
			} else if n > 0 {
				s.log.Warn("requeued failed jobs", obs.Int("count", int(n)))
			}
		}
	}
}
