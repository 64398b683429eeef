package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/civicpipeline/grievance-pipeline/internal/obs"
	"go.uber.org/zap"
)

// Handler processes one raw wire message leased from a stage queue. It owns
// envelope decoding, status gating, business logic, and emitting any
// downstream messages; the Runner owns only leasing, acking, and metrics.
type Handler func(ctx context.Context, wire string) Result

// Runner drives a Queue's lease loop for one stage worker.
type Runner struct {
	q            *Queue
	stage        string
	handler      Handler
	log          *zap.Logger
	leaseTimeout time.Duration
}

// NewRunner builds a Runner. leaseTimeout bounds how long Lease blocks per
// poll; the worker re-checks ctx after each timeout so shutdown is prompt.
func NewRunner(q *Queue, stage string, handler Handler, log *zap.Logger, leaseTimeout time.Duration) *Runner {
	return &Runner{q: q, stage: stage, handler: handler, log: log, leaseTimeout: leaseTimeout}
}

// Run leases and dispatches messages until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if _, err := r.once(ctx); err != nil {
			r.log.Error("lease error", obs.String("stage", r.stage), obs.Err(err))
			time.Sleep(time.Second)
		}
	}
}

// RunOnce leases and dispatches a single message and returns whether one
// was available. Used by --once CLI flags and tests.
func (r *Runner) RunOnce(ctx context.Context) (bool, error) {
	return r.once(ctx)
}

func (r *Runner) once(ctx context.Context) (bool, error) {
	wire, ok, err := r.q.Lease(ctx, r.leaseTimeout)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	start := time.Now()
	result := r.dispatch(ctx, wire)
	obs.HandlerDuration.WithLabelValues(r.stage).Observe(time.Since(start).Seconds())

	if err := r.q.Ack(ctx, wire); err != nil {
		r.log.Error("ack failed", obs.String("stage", r.stage), obs.Err(err))
	}
	return true, nil
}

func (r *Runner) dispatch(ctx context.Context, wire string) (result Result) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("handler panic recovered", obs.String("stage", r.stage), obs.String("panic", fmt.Sprint(rec)))
			result = Failed(fmt.Errorf("panic: %v", rec))
		}
	}()

	result = r.handler(ctx, wire)
	switch result.Outcome {
	case Success:
		obs.MessagesSucceeded.WithLabelValues(r.stage).Inc()
	case Business:
		obs.MessagesBusinessFailed.WithLabelValues(r.stage).Inc()
		r.log.Warn("business rejection", obs.String("stage", r.stage), obs.String("reason", result.Reason))
	case Quarantined:
		obs.MessagesQuarantined.WithLabelValues(r.stage).Inc()
		r.log.Warn("quarantined message", obs.String("stage", r.stage), obs.String("reason", result.Reason))
	case Transient:
		obs.MessagesTransientFailed.WithLabelValues(r.stage).Inc()
		r.log.Error("transient handler error", obs.String("stage", r.stage), obs.Err(result.Err))
	}
	return result
}
