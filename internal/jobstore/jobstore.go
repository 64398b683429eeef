// Package jobstore implements the transactional row-claiming protocol
// (section 4.2): a cooperative, multi-worker claim over a Postgres job
// table using SELECT ... FOR UPDATE SKIP LOCKED, plus the janitor that
// returns stuck or aged-out rows to pending.
package jobstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/civicpipeline/grievance-pipeline/internal/config"
	"github.com/civicpipeline/grievance-pipeline/internal/obs"
	"go.uber.org/zap"
)

const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Job is one row of the embedding_jobs table.
type Job struct {
	ID            string
	TableName     string
	RowID         string
	Status        string
	Error         string
	LastAttemptAt time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Store wraps a Postgres pool with the job-table claim protocol.
type Store struct {
	db    *sql.DB
	cfg   *config.Config
	log   *zap.Logger
	table string
}

func New(db *sql.DB, cfg *config.Config, log *zap.Logger) *Store {
	return &Store{db: db, cfg: cfg, log: log, table: cfg.JobStore.Table}
}

// ClaimPending atomically moves up to limit pending rows to processing and
// returns them. Two callers racing on this statement never see the same
// row: the lock and the status update happen in one statement.
func (s *Store) ClaimPending(ctx context.Context, limit int) ([]Job, error) {
	start := time.Now()
	defer func() { obs.JobClaimDuration.Observe(time.Since(start).Seconds()) }()

	query := fmt.Sprintf(`
		UPDATE %s SET status = $1, last_attempt_at = now(), updated_at = now()
		WHERE id IN (
			SELECT id FROM %s WHERE status = $2
			ORDER BY created_at ASC
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, table_name, row_id, status, error, last_attempt_at, created_at, updated_at`,
		s.table, s.table)

	rows, err := s.db.QueryContext(ctx, query, StatusProcessing, StatusPending, limit)
	if err != nil {
		return nil, fmt.Errorf("claim pending: %w", err)
	}
	defer rows.Close()

	var out []Job
	for rows.Next() {
		var j Job
		var errText sql.NullString
		if err := rows.Scan(&j.ID, &j.TableName, &j.RowID, &j.Status, &errText, &j.LastAttemptAt, &j.CreatedAt, &j.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan claimed job: %w", err)
		}
		j.Error = errText.String
		out = append(out, j)
	}
	return out, rows.Err()
}

// Complete marks a row completed. Only the worker that claimed a row
// should call this, but the statement itself does not enforce ownership;
// that discipline lives in the caller.
func (s *Store) Complete(ctx context.Context, id string) error {
	query := fmt.Sprintf(`UPDATE %s SET status = $1, updated_at = now() WHERE id = $2`, s.table)
	_, err := s.db.ExecContext(ctx, query, StatusCompleted, id)
	return err
}

// Fail marks a row failed, truncating the error text to the configured
// bound so a pathological stack trace never bloats the table.
func (s *Store) Fail(ctx context.Context, id string, cause error) error {
	msg := cause.Error()
	if max := s.cfg.JobStore.MaxErrorLen; max > 0 && len(msg) > max {
		msg = msg[:max]
	}
	query := fmt.Sprintf(`UPDATE %s SET status = $1, error = $2, updated_at = now() WHERE id = $3`, s.table)
	_, err := s.db.ExecContext(ctx, query, StatusFailed, msg, id)
	return err
}
