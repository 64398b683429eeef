// Command crawler-worker runs the Crawler stage: it leases web-crawl jobs
// off the webcrawler queue, downloads or traverses the target, uploads
// every page it fetches to blob storage, and emits one embeddings-queue
// message when the job completes or times out.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"

	"github.com/civicpipeline/grievance-pipeline/internal/aiservices"
	"github.com/civicpipeline/grievance-pipeline/internal/blob"
	"github.com/civicpipeline/grievance-pipeline/internal/bootstrap"
	"github.com/civicpipeline/grievance-pipeline/internal/jobstore"
	"github.com/civicpipeline/grievance-pipeline/internal/obs"
	"github.com/civicpipeline/grievance-pipeline/internal/queue"
	"github.com/civicpipeline/grievance-pipeline/internal/stages/crawler"
	"github.com/google/uuid"
)

func main() {
	var configPath string
	var once bool
	var targetID string
	flag.StringVar(&configPath, "config", "config/config.yaml", "path to YAML config")
	flag.BoolVar(&once, "once", false, "lease and process a single message, then exit")
	flag.StringVar(&targetID, "target-id", "", "informational only: this stage consumes an opaque shared queue and cannot address a single job")
	flag.Parse()

	rt, err := bootstrap.Init(configPath, "crawler", false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "crawler-worker: %v\n", err)
		os.Exit(1)
	}
	defer rt.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rt.WatchSignals(cancel)
	if targetID != "" {
		rt.Log.Warn("target-id ignored: crawler-worker consumes from a shared queue, not by id", obs.String("target_id", targetID))
	}

	blobs, err := blob.NewS3Store(rt.Config)
	if err != nil {
		rt.Log.Fatal("open blob store", obs.Err(err))
	}

	httpClient := &http.Client{Timeout: rt.Config.Crawler.PageTimeout}
	pageCrawler := aiservices.NewGoqueryCrawler(httpClient)
	pdfExtractor := aiservices.NewFitzPDFExtractor()

	handler := crawler.New(rt.Redis, rt.Config, httpClient, pageCrawler, pdfExtractor, blobs, rt.Log)

	store := jobstore.New(rt.DB, rt.Config, rt.Log)
	go store.RunJanitor(ctx, rt.Config.Worker.PollInterval)
	go queue.NewJanitor(rt.Config, rt.Redis, rt.Log).Run(ctx, rt.Config.Worker.PollInterval)

	q := queue.New(rt.Config, rt.Redis, "crawler", rt.Config.Queues.WebCrawler, uuid.NewString())
	runner := queue.NewRunner(q, "crawler", handler.Handle, rt.Log, rt.Config.Worker.PollInterval)

	if once {
		if _, err := runner.RunOnce(ctx); err != nil {
			rt.Log.Fatal("run once failed", obs.Err(err))
		}
		return
	}
	runner.Run(ctx)
}
