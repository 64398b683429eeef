// Package pgdb owns the shared Postgres connection pool and the
// LISTEN/NOTIFY subscription the Research stage rides on.
package pgdb

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/civicpipeline/grievance-pipeline/internal/config"
	"github.com/lib/pq"
)

// Open returns a connection pool sized per config. One pool is created per
// worker process and shared by every handler it runs, replacing
// per-operation dial-and-retry with a single owned resource.
func Open(cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.Postgres.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Postgres.MaxIdleConns)
	db.SetConnMaxLifetime(30 * time.Minute)
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// NewListener opens a dedicated LISTEN connection for the configured
// notify channel. The Research stage is triggered by rows arriving on
// this channel rather than by a queue.
func NewListener(cfg *config.Config, eventCb func(ev pq.ListenerEventType, err error)) (*pq.Listener, error) {
	listener := pq.NewListener(cfg.Postgres.DSN, 10*time.Second, time.Minute, eventCb)
	if err := listener.Listen(cfg.Postgres.NotifyChannel); err != nil {
		return nil, fmt.Errorf("listen %s: %w", cfg.Postgres.NotifyChannel, err)
	}
	return listener, nil
}
