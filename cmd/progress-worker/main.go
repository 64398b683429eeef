// Command progress-worker runs the Progress/Escalation stage on a cron
// schedule: for each active department it analyzes grievance progress,
// rolls up department performance, writes a narrative report, and raises
// escalations where the configured triggers fire.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/civicpipeline/grievance-pipeline/internal/aiservices"
	"github.com/civicpipeline/grievance-pipeline/internal/blob"
	"github.com/civicpipeline/grievance-pipeline/internal/bootstrap"
	"github.com/civicpipeline/grievance-pipeline/internal/escalation"
	"github.com/civicpipeline/grievance-pipeline/internal/jobstore"
	"github.com/civicpipeline/grievance-pipeline/internal/obs"
	"github.com/civicpipeline/grievance-pipeline/internal/stages/progress"
	"github.com/robfig/cron/v3"
)

func main() {
	var configPath string
	var once bool
	var targetID string
	flag.StringVar(&configPath, "config", "config/config.yaml", "path to YAML config")
	flag.BoolVar(&once, "once", false, "run a single pass (all departments, or --target-id) then exit")
	flag.StringVar(&targetID, "target-id", "", "department id to process instead of every active department")
	flag.Parse()

	rt, err := bootstrap.Init(configPath, "progress", true)
	if err != nil {
		fmt.Fprintf(os.Stderr, "progress-worker: %v\n", err)
		os.Exit(1)
	}
	defer rt.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rt.WatchSignals(cancel)

	casing, err := escalation.ProbeEnumCasing(ctx, rt.DB)
	if err != nil {
		rt.Log.Fatal("probe escalation enum casing", obs.Err(err))
	}

	repo := progress.NewRepository(rt.DB)
	escal := escalation.NewRepository(rt.DB)
	analyzer := aiservices.NewHTTPTextAnalyzer(rt.Config, rt.Config.Services.TextAnalyzerBaseURL)
	blobs, err := blob.NewS3Store(rt.Config)
	if err != nil {
		rt.Log.Fatal("open blob store", obs.Err(err))
	}

	processor := progress.New(repo, escal, analyzer, blobs, casing, rt.Log)

	store := jobstore.New(rt.DB, rt.Config, rt.Log)
	go store.RunJanitor(ctx, rt.Config.Worker.PollInterval)

	runPass := func() {
		var err error
		if targetID != "" {
			err = processor.RunDepartment(ctx, targetID)
		} else {
			err = processor.RunAll(ctx)
		}
		if err != nil {
			rt.Log.Error("progress pass failed", obs.Err(err))
		}
	}

	if once {
		runPass()
		return
	}

	c := cron.New()
	if _, err := c.AddFunc(rt.Config.Progress.Schedule, runPass); err != nil {
		rt.Log.Fatal("schedule progress cron", obs.Err(err))
	}
	c.Start()
	defer c.Stop()

	<-ctx.Done()
}
