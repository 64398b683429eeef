// Command research-worker runs the Research stage: it listens on the
// Postgres notify channel for newly analyzed grievances and, for each one,
// either reuses a matching pattern or runs the full four-slot research
// pipeline and caches the result as a new pattern.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/civicpipeline/grievance-pipeline/internal/aiservices"
	"github.com/civicpipeline/grievance-pipeline/internal/bootstrap"
	"github.com/civicpipeline/grievance-pipeline/internal/grievance"
	"github.com/civicpipeline/grievance-pipeline/internal/jobstore"
	"github.com/civicpipeline/grievance-pipeline/internal/obs"
	"github.com/civicpipeline/grievance-pipeline/internal/pattern"
	"github.com/civicpipeline/grievance-pipeline/internal/pgdb"
	"github.com/civicpipeline/grievance-pipeline/internal/stages/research"
	"github.com/lib/pq"
)

// notifyPayload is the shape of the JSON body sent on the notify channel.
// category and location are accepted and ignored: Process re-fetches fresh
// state from the database rather than trusting a value that may already be
// stale by the time this handler runs.
type notifyPayload struct {
	GrievanceID string `json:"grievance_id"`
}

func main() {
	var configPath string
	var once bool
	var targetID string
	flag.StringVar(&configPath, "config", "config/config.yaml", "path to YAML config")
	flag.BoolVar(&once, "once", false, "process a single notification (or --target-id), then exit")
	flag.StringVar(&targetID, "target-id", "", "grievance id to research immediately instead of waiting on a notification")
	flag.Parse()

	rt, err := bootstrap.Init(configPath, "research", true)
	if err != nil {
		fmt.Fprintf(os.Stderr, "research-worker: %v\n", err)
		os.Exit(1)
	}
	defer rt.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rt.WatchSignals(cancel)

	grievances := grievance.NewRepository(rt.DB, rt.Log)
	patterns := pattern.NewRepository(rt.DB, rt.Config)
	search := aiservices.NewHTTPWebSearch(rt.Config, rt.Config.Services.WebSearchBaseURL)
	analyzer := aiservices.NewHTTPTextAnalyzer(rt.Config, rt.Config.Services.TextAnalyzerBaseURL)

	processor := research.New(rt.Redis, rt.Config, grievances, patterns, search, analyzer, rt.Log)

	store := jobstore.New(rt.DB, rt.Config, rt.Log)
	go store.RunJanitor(ctx, rt.Config.Worker.PollInterval)

	if targetID != "" {
		if err := processor.Process(ctx, targetID); err != nil {
			rt.Log.Fatal("research failed", obs.String("grievance_id", targetID), obs.Err(err))
		}
		return
	}

	listener, err := pgdb.NewListener(rt.Config, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			rt.Log.Warn("notify listener event", obs.Err(err))
		}
	})
	if err != nil {
		rt.Log.Fatal("open notify listener", obs.Err(err))
	}
	defer listener.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case notification := <-listener.Notify:
			if notification == nil {
				continue
			}
			var payload notifyPayload
			if err := json.Unmarshal([]byte(notification.Extra), &payload); err != nil || payload.GrievanceID == "" {
				rt.Log.Warn("malformed research notification", obs.String("payload", notification.Extra))
				continue
			}
			if err := processor.Process(ctx, payload.GrievanceID); err != nil {
				rt.Log.Error("research failed", obs.String("grievance_id", payload.GrievanceID), obs.Err(err))
			}
			if once {
				return
			}
		}
	}
}
