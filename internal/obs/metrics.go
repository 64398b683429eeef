// Copyright 2025 James Ross
package obs

import (
    "fmt"
    "net/http"

    "github.com/civicpipeline/grievance-pipeline/internal/config"
    "github.com/prometheus/client_golang/prometheus"
    promhttp "github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
    MessagesReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
        Name: "pipeline_messages_received_total",
        Help: "Total number of queue messages leased by a stage worker",
    }, []string{"stage"})
    MessagesQuarantined = prometheus.NewCounterVec(prometheus.CounterOpts{
        Name: "pipeline_messages_quarantined_total",
        Help: "Total number of malformed or misrouted messages deleted without retry",
    }, []string{"stage"})
    MessagesSucceeded = prometheus.NewCounterVec(prometheus.CounterOpts{
        Name: "pipeline_messages_succeeded_total",
        Help: "Total number of messages whose handler returned success",
    }, []string{"stage"})
    MessagesBusinessFailed = prometheus.NewCounterVec(prometheus.CounterOpts{
        Name: "pipeline_messages_business_failed_total",
        Help: "Total number of messages whose handler returned a business-level rejection",
    }, []string{"stage"})
    MessagesTransientFailed = prometheus.NewCounterVec(prometheus.CounterOpts{
        Name: "pipeline_messages_transient_failed_total",
        Help: "Total number of messages whose handler raised an unexpected error",
    }, []string{"stage"})
    HandlerDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
        Name:    "pipeline_handler_duration_seconds",
        Help:    "Histogram of stage handler durations",
        Buckets: prometheus.DefBuckets,
    }, []string{"stage"})
    QueueLength = prometheus.NewGaugeVec(prometheus.GaugeOpts{
        Name: "pipeline_queue_length",
        Help: "Current length of a stage queue",
    }, []string{"queue"})
    CircuitBreakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
        Name: "pipeline_circuit_breaker_state",
        Help: "0 Closed, 1 HalfOpen, 2 Open",
    }, []string{"service"})
    ReaperRecovered = prometheus.NewCounterVec(prometheus.CounterOpts{
        Name: "pipeline_reaper_recovered_total",
        Help: "Total number of messages recovered by the janitor from abandoned processing lists",
    }, []string{"stage"})
    JobClaimDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
        Name:    "pipeline_job_claim_duration_seconds",
        Help:    "Histogram of job-table claim round-trip durations",
        Buckets: prometheus.DefBuckets,
    })
    JobsRequeuedStuck = prometheus.NewCounter(prometheus.CounterOpts{
        Name: "pipeline_jobs_requeued_stuck_total",
        Help: "Total number of job rows the janitor moved from processing back to pending",
    })
    JobsRequeuedFailed = prometheus.NewCounter(prometheus.CounterOpts{
        Name: "pipeline_jobs_requeued_failed_total",
        Help: "Total number of job rows the janitor moved from failed back to pending",
    })
    PatternCacheHits = prometheus.NewCounter(prometheus.CounterOpts{
        Name: "pipeline_pattern_cache_hits_total",
        Help: "Total number of grievances served by reusing a cached research pattern",
    })
    PatternCacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
        Name: "pipeline_pattern_cache_misses_total",
        Help: "Total number of grievances that required full research and a new pattern",
    })
    CrawlerPagesFetched = prometheus.NewCounter(prometheus.CounterOpts{
        Name: "pipeline_crawler_pages_fetched_total",
        Help: "Total number of pages successfully crawled and uploaded",
    })
    VectorUpserts = prometheus.NewCounter(prometheus.CounterOpts{
        Name: "pipeline_vector_upserts_total",
        Help: "Total number of chunk vectors upserted into the vector index",
    })
    EscalationsRaised = prometheus.NewCounterVec(prometheus.CounterOpts{
        Name: "pipeline_escalations_raised_total",
        Help: "Total number of escalation rows inserted, by level",
    }, []string{"level"})
)

func init() {
    prometheus.MustRegister(
        MessagesReceived, MessagesQuarantined, MessagesSucceeded, MessagesBusinessFailed,
        MessagesTransientFailed, HandlerDuration, QueueLength, CircuitBreakerState,
        ReaperRecovered, JobClaimDuration, JobsRequeuedStuck, JobsRequeuedFailed,
        PatternCacheHits, PatternCacheMisses, CrawlerPagesFetched, VectorUpserts,
        EscalationsRaised,
    )
}

// StartMetricsServer exposes /metrics and returns a server for controlled shutdown.
// Prefer StartHTTPServer, which also registers health endpoints.
func StartMetricsServer(cfg *config.Config) *http.Server {
    mux := http.NewServeMux()
    mux.Handle("/metrics", promhttp.Handler())
    srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Observability.MetricsPort), Handler: mux}
    go func() { _ = srv.ListenAndServe() }()
    return srv
}
