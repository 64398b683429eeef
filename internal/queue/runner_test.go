package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/civicpipeline/grievance-pipeline/internal/config"
	"github.com/civicpipeline/grievance-pipeline/internal/envelope"
	"go.uber.org/zap"
)

func TestRunnerRunOnceDispatchesAndAcks(t *testing.T) {
	rdb, mr := testRedis(t)
	cfg, err := config.Load("nonexistent.yaml")
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := Send(ctx, rdb, cfg.Queues.Grievances, envelope.GrievanceMessage{GrievanceID: "g1"}); err != nil {
		t.Fatal(err)
	}

	q := New(cfg, rdb, "queryanalyst", cfg.Queues.Grievances, "w1")
	log, _ := zap.NewDevelopment()

	var got string
	handler := func(_ context.Context, wire string) Result {
		got = wire
		return Ok()
	}
	r := NewRunner(q, "queryanalyst", handler, log, time.Second)

	processed, err := r.RunOnce(ctx)
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if !processed {
		t.Fatal("expected a message to be processed")
	}
	if got == "" {
		t.Fatal("handler was never invoked with the leased wire payload")
	}
	if n, _ := mr.List(q.procKey); len(n) != 0 {
		t.Fatalf("expected processing list drained after successful handle, got %v", n)
	}
}

func TestRunnerAcksOnBusinessAndTransientOutcomes(t *testing.T) {
	rdb, mr := testRedis(t)
	cfg, err := config.Load("nonexistent.yaml")
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	log, _ := zap.NewDevelopment()

	for _, result := range []Result{Rejected("bad url"), Failed(errors.New("boom"))} {
		if err := Send(ctx, rdb, cfg.Queues.Grievances, envelope.GrievanceMessage{GrievanceID: "g1"}); err != nil {
			t.Fatal(err)
		}
		q := New(cfg, rdb, "queryanalyst", cfg.Queues.Grievances, "w1")
		r := NewRunner(q, "queryanalyst", func(context.Context, string) Result { return result }, log, time.Second)

		if _, err := r.RunOnce(ctx); err != nil {
			t.Fatalf("run once: %v", err)
		}
		if n, _ := mr.List(q.procKey); len(n) != 0 {
			t.Fatalf("expected processing list drained for outcome %v, got %v", result.Outcome, n)
		}
	}
}

func TestRunnerRecoversHandlerPanic(t *testing.T) {
	rdb, mr := testRedis(t)
	cfg, err := config.Load("nonexistent.yaml")
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := Send(ctx, rdb, cfg.Queues.Grievances, envelope.GrievanceMessage{GrievanceID: "g1"}); err != nil {
		t.Fatal(err)
	}
	q := New(cfg, rdb, "queryanalyst", cfg.Queues.Grievances, "w1")
	log, _ := zap.NewDevelopment()
	r := NewRunner(q, "queryanalyst", func(context.Context, string) Result { panic("kaboom") }, log, time.Second)

	processed, err := r.RunOnce(ctx)
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if !processed {
		t.Fatal("expected the panicking message to still count as processed")
	}
	if n, _ := mr.List(q.procKey); len(n) != 0 {
		t.Fatalf("expected processing list drained after recovered panic, got %v", n)
	}
}
