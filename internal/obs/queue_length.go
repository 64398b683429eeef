// Copyright 2025 James Ross
package obs

import (
	"context"
	"time"

	"github.com/civicpipeline/grievance-pipeline/internal/config"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// StartQueueLengthUpdater samples every stage queue's length on an interval
// and publishes it to the QueueLength gauge for dashboards and alerting.
func StartQueueLengthUpdater(ctx context.Context, cfg *config.Config, rdb *redis.Client, log *zap.Logger) {
	interval := cfg.Observability.QueueSampleInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	queues := []string{
		cfg.Queues.Grievances,
		cfg.Queues.WebCrawler,
		cfg.Queues.Embeddings,
		cfg.Queues.KnowledgeBase,
		cfg.Queues.Processed,
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, q := range queues {
					n, err := rdb.LLen(ctx, q).Result()
					if err != nil {
						log.Debug("queue length poll error", String("queue", q), Err(err))
						continue
					}
					QueueLength.WithLabelValues(q).Set(float64(n))
				}
			}
		}
	}()
}
