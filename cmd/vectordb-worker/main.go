// Command vectordb-worker runs the Embeddings/VectorDB stage: it leases
// completed crawl jobs off the embeddings queue, chunks the uploaded blob
// content, embeds each chunk, and upserts the vectors into the index.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/civicpipeline/grievance-pipeline/internal/aiservices"
	"github.com/civicpipeline/grievance-pipeline/internal/blob"
	"github.com/civicpipeline/grievance-pipeline/internal/bootstrap"
	"github.com/civicpipeline/grievance-pipeline/internal/jobstore"
	"github.com/civicpipeline/grievance-pipeline/internal/obs"
	"github.com/civicpipeline/grievance-pipeline/internal/queue"
	"github.com/civicpipeline/grievance-pipeline/internal/stages/embeddings"
	"github.com/civicpipeline/grievance-pipeline/internal/vectorindex"
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

	rt, err := bootstrap.Init(configPath, "embeddings", true)
	if err != nil {
		fmt.Fprintf(os.Stderr, "vectordb-worker: %v\n", err)
		os.Exit(1)
	}
	defer rt.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rt.WatchSignals(cancel)
	if targetID != "" {
		rt.Log.Warn("target-id ignored: vectordb-worker consumes from a shared queue, not by id", obs.String("target_id", targetID))
	}

	blobs, err := blob.NewS3Store(rt.Config)
	if err != nil {
		rt.Log.Fatal("open blob store", obs.Err(err))
	}
	index, err := vectorindex.New(rt.Config)
	if err != nil {
		rt.Log.Fatal("open vector index", obs.Err(err))
	}
	defer index.Close()
	if err := index.EnsureCollection(ctx, rt.Config.VectorIndex.VectorDim); err != nil {
		rt.Log.Fatal("ensure vector collection", obs.Err(err))
	}

	embedder := aiservices.NewHTTPEmbedder(rt.Config, rt.Config.Services.EmbedderBaseURL)
	handler := embeddings.New(rt.Config, blobs, embedder, index, rt.Log)

	store := jobstore.New(rt.DB, rt.Config, rt.Log)
	go store.RunJanitor(ctx, rt.Config.Worker.PollInterval)
	go queue.NewJanitor(rt.Config, rt.Redis, rt.Log).Run(ctx, rt.Config.Worker.PollInterval)

	q := queue.New(rt.Config, rt.Redis, "embeddings", rt.Config.Queues.Embeddings, uuid.NewString())
	runner := queue.NewRunner(q, "embeddings", handler.Handle, rt.Log, rt.Config.Worker.PollInterval)

	if once {
		if _, err := runner.RunOnce(ctx); err != nil {
			rt.Log.Fatal("run once failed", obs.Err(err))
		}
		return
	}
	runner.Run(ctx)
}
