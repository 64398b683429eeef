// Copyright 2025 James Ross
// Package queue implements the visibility-timeout message runtime shared by
// every pipeline stage: BRPOPLPUSH onto a per-worker processing list, a
// heartbeat key that lets the janitor tell a slow worker from a dead one,
// and an Outcome-tagged dispatch loop that never retries a message a
// handler has already looked at.
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/civicpipeline/grievance-pipeline/internal/config"
	"github.com/civicpipeline/grievance-pipeline/internal/envelope"
	"github.com/civicpipeline/grievance-pipeline/internal/obs"
	"github.com/redis/go-redis/v9"
)

// Queue is one worker's view of a single stage's input: the shared queue it
// leases from, and the processing list and heartbeat key that belong to
// this worker alone.
type Queue struct {
	rdb        *redis.Client
	stage      string
	inputKey   string
	workerID   string
	procKey    string
	hbKey      string
	visibility time.Duration
}

// New builds a Queue for one worker of one stage. workerID must be unique
// per running process (a hostname-pid or a uuid is typical) so the janitor
// can tell processing lists apart.
func New(cfg *config.Config, rdb *redis.Client, stage, inputKey, workerID string) *Queue {
	return &Queue{
		rdb:        rdb,
		stage:      stage,
		inputKey:   inputKey,
		workerID:   workerID,
		procKey:    fmt.Sprintf(cfg.Worker.ProcessingListPattern, stage, workerID),
		hbKey:      fmt.Sprintf(cfg.Worker.HeartbeatKeyPattern, stage, workerID),
		visibility: cfg.Worker.VisibilityTimeout,
	}
}

// Send encodes payload in an envelope and pushes it onto a queue. Stage
// handlers call this directly to emit downstream messages; it takes a raw
// queue key rather than a Queue because the stage doing the sending is
// rarely the stage that owns that queue.
func Send(ctx context.Context, rdb *redis.Client, queueKey string, payload any) error {
	wire, err := envelope.Encode(payload)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	return rdb.LPush(ctx, queueKey, wire).Err()
}

// Lease blocks up to timeout for a message, atomically moving it from the
// input queue onto this worker's processing list and stamping a heartbeat
// key with the configured visibility timeout as its TTL. Returns ok=false
// on a timeout with no message available, which is the normal idle case.
func (q *Queue) Lease(ctx context.Context, timeout time.Duration) (wire string, ok bool, err error) {
	wire, err = q.rdb.BRPopLPush(ctx, q.inputKey, q.procKey, timeout).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if err := q.Heartbeat(ctx); err != nil {
		return "", false, fmt.Errorf("set heartbeat: %w", err)
	}
	obs.MessagesReceived.WithLabelValues(q.stage).Inc()
	return wire, true, nil
}

// Heartbeat refreshes this worker's liveness key. Long-running handlers
// should call it periodically so the janitor doesn't reclaim a message
// that is still legitimately in flight.
func (q *Queue) Heartbeat(ctx context.Context) error {
	return q.rdb.Set(ctx, q.hbKey, time.Now().UTC().Format(time.RFC3339), q.visibility).Err()
}

// Ack removes a leased message from the processing list. Called exactly
// once per lease regardless of outcome: the runtime's unit of retry is a
// whole abandoned processing list recovered by the janitor, never a single
// message a handler already examined.
func (q *Queue) Ack(ctx context.Context, wire string) error {
	return q.rdb.LRem(ctx, q.procKey, 1, wire).Err()
}
