// Package bootstrap gathers the startup sequence every worker binary
// repeats: load config, open logging, connect to Redis and Postgres, and
// start the metrics/health HTTP server. Each cmd/*-worker main stays a
// short, stage-specific wiring list on top of this.
package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/civicpipeline/grievance-pipeline/internal/config"
	"github.com/civicpipeline/grievance-pipeline/internal/obs"
	"github.com/civicpipeline/grievance-pipeline/internal/pgdb"
	"github.com/civicpipeline/grievance-pipeline/internal/redisclient"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Runtime holds the shared resources a worker main assembles its stage
// handler on top of.
type Runtime struct {
	Config     *config.Config
	Log        *zap.Logger
	Redis      *redis.Client
	DB         *sql.DB
	httpServer *http.Server
}

// Init loads configuration, opens logging, Redis, and Postgres, and starts
// the metrics/healthz/readyz server. stage names the calling worker binary
// (e.g. "crawler", "queryanalyst") and is threaded into every log line and
// into the health endpoints, so an operator running all six side by side
// can tell which process answered. requireServiceKeys gates whether
// missing external-service API keys are a fatal startup error; workers
// that never call out to those services (the Crawler stage, for example)
// pass false.
func Init(configPath, stage string, requireServiceKeys bool) (*Runtime, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if requireServiceKeys {
		if err := config.ValidateServiceKeys(cfg); err != nil {
			return nil, err
		}
	}

	log, err := obs.NewLogger(cfg.Observability.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	log = obs.WithStage(log, stage)

	rdb := redisclient.New(cfg)
	db, err := pgdb.Open(cfg)
	if err != nil {
		rdb.Close()
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	readyCheck := func(ctx context.Context) error {
		if err := db.PingContext(ctx); err != nil {
			return err
		}
		return rdb.Ping(ctx).Err()
	}
	httpSrv := obs.StartHTTPServer(cfg, stage, readyCheck)

	return &Runtime{Config: cfg, Log: log, Redis: rdb, DB: db, httpServer: httpSrv}, nil
}

// Shutdown releases every resource Init opened, in reverse order.
func (r *Runtime) Shutdown() {
	if r.httpServer != nil {
		_ = r.httpServer.Shutdown(context.Background())
	}
	_ = r.DB.Close()
	_ = r.Redis.Close()
	_ = r.Log.Sync()
}

// WatchSignals cancels ctx on SIGINT/SIGTERM and force-exits if a second
// signal arrives within five seconds of the first.
func (r *Runtime) WatchSignals(cancel context.CancelFunc) {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		r.Log.Info("signal received, shutting down", obs.String("signal", sig.String()))
		cancel()
		select {
		case sig2 := <-sigCh:
			r.Log.Warn("second signal received, exiting immediately", obs.String("signal", sig2.String()))
			os.Exit(1)
		case <-time.After(5 * time.Second):
		}
	}()
}
