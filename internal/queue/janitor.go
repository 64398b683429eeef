package queue

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/civicpipeline/grievance-pipeline/internal/config"
	"github.com/civicpipeline/grievance-pipeline/internal/obs"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Janitor recovers messages left behind by a worker that leased them and
// crashed before acking. It scans every stage's processing lists, and for
// any whose worker's heartbeat key has expired, pushes the abandoned
// messages back onto that stage's input queue.
type Janitor struct {
	cfg         *config.Config
	rdb         *redis.Client
	log         *zap.Logger
	stageQueues map[string]string
}

// NewJanitor builds a Janitor that knows the input queue for every stage
// that participates in the processing-list protocol. The Progress stage is
// cron-triggered rather than queue-driven and has no entry here.
func NewJanitor(cfg *config.Config, rdb *redis.Client, log *zap.Logger) *Janitor {
	return &Janitor{
		cfg: cfg,
		rdb: rdb,
		log: log,
		stageQueues: map[string]string{
			"queryanalyst":  cfg.Queues.Grievances,
			"crawler":       cfg.Queues.WebCrawler,
			"embeddings":    cfg.Queues.Embeddings,
			"knowledgebase": cfg.Queues.KnowledgeBase,
		},
	}
}

// Run scans on a fixed interval until ctx is cancelled.
func (j *Janitor) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.ScanOnce(ctx)
		}
	}
}

// ScanOnce performs a single sweep of every stage's processing lists.
func (j *Janitor) ScanOnce(ctx context.Context) {
	var cursor uint64
	for {
		keys, cur, err := j.rdb.Scan(ctx, cursor, "pipeline:*:worker:*:processing", 100).Result()
		if err != nil {
			j.log.Warn("janitor scan error", obs.Err(err))
			return
		}
		cursor = cur
		for _, plist := range keys {
			j.reclaim(ctx, plist)
		}
		if cursor == 0 {
			return
		}
	}
}

func (j *Janitor) reclaim(ctx context.Context, plist string) {
	// pipeline:<stage>:worker:<workerID>:processing
	parts := strings.Split(plist, ":")
	if len(parts) < 5 {
		return
	}
	stage, workerID := parts[1], parts[3]

	hbKey := fmt.Sprintf(j.cfg.Worker.HeartbeatKeyPattern, stage, workerID)
	exists, err := j.rdb.Exists(ctx, hbKey).Result()
	if err != nil {
		j.log.Warn("janitor heartbeat check error", obs.Err(err))
		return
	}
	if exists == 1 {
		return
	}

	dest, ok := j.stageQueues[stage]
	if !ok {
		j.log.Warn("janitor found processing list for unknown stage", obs.String("stage", stage))
		return
	}

	for {
		wire, err := j.rdb.RPop(ctx, plist).Result()
		if err == redis.Nil {
			return
		}
		if err != nil {
			j.log.Warn("janitor rpop error", obs.Err(err))
			return
		}
		if err := j.rdb.LPush(ctx, dest, wire).Err(); err != nil {
			j.log.Error("janitor requeue failed", obs.String("stage", stage), obs.Err(err))
			continue
		}
		obs.ReaperRecovered.WithLabelValues(stage).Inc()
		j.log.Warn("requeued abandoned message", obs.String("stage", stage), obs.String("worker", workerID))
	}
}
