package jobstore

import (
	"context"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/civicpipeline/grievance-pipeline/internal/config"
	"go.uber.org/zap"
)

func testStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	cfg, err := config.Load("nonexistent.yaml")
	if err != nil {
		t.Fatal(err)
	}
	log, _ := zap.NewDevelopment()
	return New(db, cfg, log), mock
}

func TestClaimPendingScansReturnedRows(t *testing.T) {
	s, mock := testStore(t)
	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "table_name", "row_id", "status", "error", "last_attempt_at", "created_at", "updated_at"}).
		AddRow("j1", "embedding_jobs", "r1", StatusProcessing, nil, now, now, now)
	mock.ExpectQuery("UPDATE embedding_jobs").WillReturnRows(rows)

	jobs, err := s.ClaimPending(context.Background(), 10)
	if err != nil {
		t.Fatalf("claim pending: %v", err)
	}
	if len(jobs) != 1 || jobs[0].ID != "j1" {
		t.Fatalf("unexpected claimed jobs: %+v", jobs)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestFailTruncatesErrorText(t *testing.T) {
	s, mock := testStore(t)
	s.cfg.JobStore.MaxErrorLen = 5
	mock.ExpectExec("UPDATE embedding_jobs").WithArgs(StatusFailed, "boom!", "j1").WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.Fail(context.Background(), "j1", errors.New("boom!!!!!!!!")); err != nil {
		t.Fatalf("fail: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRequeueStuckUpdatesRowsOlderThanTimeout(t *testing.T) {
	s, mock := testStore(t)
	mock.ExpectExec("UPDATE embedding_jobs").WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := s.RequeueStuck(context.Background())
	if err != nil {
		t.Fatalf("requeue stuck: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 requeued rows, got %d", n)
	}
}
