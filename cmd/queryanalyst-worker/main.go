// Command queryanalyst-worker runs the QueryAnalyst stage: it leases raw
// grievance messages off the grievances queue and drives each one through
// validation, location extraction, classification, department allocation,
// report generation, and persistence.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/civicpipeline/grievance-pipeline/internal/aiservices"
	"github.com/civicpipeline/grievance-pipeline/internal/blob"
	"github.com/civicpipeline/grievance-pipeline/internal/bootstrap"
	"github.com/civicpipeline/grievance-pipeline/internal/departments"
	"github.com/civicpipeline/grievance-pipeline/internal/grievance"
	"github.com/civicpipeline/grievance-pipeline/internal/jobstore"
	"github.com/civicpipeline/grievance-pipeline/internal/obs"
	"github.com/civicpipeline/grievance-pipeline/internal/queue"
	"github.com/civicpipeline/grievance-pipeline/internal/reportrenderer"
	"github.com/civicpipeline/grievance-pipeline/internal/stages/queryanalyst"
	"github.com/civicpipeline/grievance-pipeline/internal/vectorindex"
	"github.com/google/uuid"
)

func main() {
	var configPath string
	var once bool
	var targetID string
	flag.StringVar(&configPath, "config", "config/config.yaml", "path to YAML config")
	flag.BoolVar(&once, "once", false, "lease and process a single message, then exit")
	flag.StringVar(&targetID, "target-id", "", "informational only: this stage consumes an opaque shared queue and cannot address a single grievance")
	flag.Parse()

	rt, err := bootstrap.Init(configPath, "queryanalyst", true)
	if err != nil {
		fmt.Fprintf(os.Stderr, "queryanalyst-worker: %v\n", err)
		os.Exit(1)
	}
	defer rt.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rt.WatchSignals(cancel)
	if targetID != "" {
		rt.Log.Warn("target-id ignored: queryanalyst-worker consumes from a shared queue, not by id", obs.String("target_id", targetID))
	}

	blobs, err := blob.NewS3Store(rt.Config)
	if err != nil {
		rt.Log.Fatal("open blob store", obs.Err(err))
	}

	repo := grievance.NewRepository(rt.DB, rt.Log)
	depts := departments.NewRepository(rt.DB, rt.Config)
	vision := aiservices.NewHTTPVisionAnalyzer(rt.Config, rt.Config.Services.VisionBaseURL)
	analyzer := aiservices.NewHTTPTextAnalyzer(rt.Config, rt.Config.Services.TextAnalyzerBaseURL)
	embedder := aiservices.NewHTTPEmbedder(rt.Config, rt.Config.Services.EmbedderBaseURL)
	search := aiservices.NewHTTPWebSearch(rt.Config, rt.Config.Services.WebSearchBaseURL)
	renderer := reportrenderer.NewMinimalPDFRenderer()
	index, err := vectorindex.New(rt.Config)
	if err != nil {
		rt.Log.Fatal("open vector index", obs.Err(err))
	}
	defer index.Close()

	handler := queryanalyst.New(rt.Redis, rt.Config, repo, depts, vision, analyzer, embedder, index, search, renderer, blobs, rt.Log)

	store := jobstore.New(rt.DB, rt.Config, rt.Log)
	go store.RunJanitor(ctx, rt.Config.Worker.PollInterval)
	go queue.NewJanitor(rt.Config, rt.Redis, rt.Log).Run(ctx, rt.Config.Worker.PollInterval)

	q := queue.New(rt.Config, rt.Redis, "queryanalyst", rt.Config.Queues.Grievances, uuid.NewString())
	runner := queue.NewRunner(q, "queryanalyst", handler.Handle, rt.Log, rt.Config.Worker.PollInterval)

	if once {
		if _, err := runner.RunOnce(ctx); err != nil {
			rt.Log.Fatal("run once failed", obs.Err(err))
		}
		return
	}
	runner.Run(ctx)
}
