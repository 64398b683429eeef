// Copyright 2025 James Ross
package obs

import (
    "context"
    "encoding/json"
    "fmt"
    "net/http"

    "github.com/civicpipeline/grievance-pipeline/internal/config"
    promhttp "github.com/prometheus/client_golang/prometheus/promhttp"
)

// StartHTTPServer exposes /metrics, /healthz, /readyz and /stage on the
// configured metrics port. stage identifies which of the six worker
// binaries answered: unlike a single monolithic service, an operator
// hitting a worker's health port needs to know which stage is behind it
// before acting on the result. readiness should return nil when the
// process can do useful work (DB and Redis reachable).
func StartHTTPServer(cfg *config.Config, stage string, readiness func(context.Context) error) *http.Server {
    mux := http.NewServeMux()
    mux.Handle("/metrics", promhttp.Handler())
    mux.HandleFunc("/stage", func(w http.ResponseWriter, r *http.Request) {
        w.Header().Set("Content-Type", "application/json")
        _ = json.NewEncoder(w).Encode(map[string]string{"stage": stage})
    })
    mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
        // Liveness only: the process answering is enough, no dependency checks.
        w.WriteHeader(http.StatusOK)
        _, _ = fmt.Fprintf(w, "ok: %s\n", stage)
    })
    mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
        if readiness != nil {
            if err := readiness(r.Context()); err != nil {
                http.Error(w, fmt.Sprintf("not ready: %s: %v", stage, err), http.StatusServiceUnavailable)
                return
            }
        }
        w.WriteHeader(http.StatusOK)
        _, _ = fmt.Fprintf(w, "ready: %s\n", stage)
    })
    srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Observability.MetricsPort), Handler: mux}
    go func() { _ = srv.ListenAndServe() }()
    return srv
}
