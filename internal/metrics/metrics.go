// Package metrics registers the control plane's logbook_* Prometheus
// series, grounded in the teacher's prometheus/client_golang registration
// style. It does not register the scm_* status-summary series.
package metrics

import (
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/scm-sync/logbook/internal/health"
)

var (
	// Scheduler / scan loop

	ScanDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "logbook",
		Name:      "scan_duration_seconds",
		Help:      "Duration of one scheduler scan pass.",
		Buckets:   prometheus.DefBuckets,
	})

	JobsEnqueuedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "logbook",
		Name:      "jobs_enqueued_total",
		Help:      "Total sync jobs enqueued, by job_type and reason.",
	}, []string{"job_type", "reason"})

	CandidatesSkippedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "logbook",
		Name:      "candidates_skipped_total",
		Help:      "Total eligible candidates dropped before enqueue, by reason.",
	}, []string{"reason"})

	// Worker / job execution

	JobPickupLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "logbook",
		Name:      "job_pickup_latency_seconds",
		Help:      "Time from job not_before to a worker claiming it.",
		Buckets:   []float64{.1, .5, 1, 5, 15, 30, 60, 300, 900},
	})

	RunDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "logbook",
		Name:      "run_duration_seconds",
		Help:      "Duration of one sync run, by job_type and status.",
		Buckets:   []float64{.5, 1, 5, 15, 30, 60, 120, 300, 900, 1800},
	}, []string{"job_type", "status"})

	RunsCompletedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "logbook",
		Name:      "runs_completed_total",
		Help:      "Total sync runs finished, by job_type and status.",
	}, []string{"job_type", "status"})

	SyncedItemsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "logbook",
		Name:      "synced_items_total",
		Help:      "Total items (commits/MRs/reviews/revisions) persisted, by job_type.",
	}, []string{"job_type"})

	JobsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "logbook",
		Name:      "worker_jobs_in_flight",
		Help:      "Jobs currently being executed by this worker process.",
	})

	// Reaper

	ReaperRescuedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "logbook",
		Name:      "reaper_rescued_total",
		Help:      "Total stale jobs/runs/locks handled by the reaper, by kind and action.",
	}, []string{"kind", "action"})

	ReaperCycleDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "logbook",
		Name:      "reaper_cycle_duration_seconds",
		Help:      "Time taken for one reaper sweep.",
		Buckets:   prometheus.DefBuckets,
	})

	// Circuit breaker

	BreakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "logbook",
		Name:      "breaker_state",
		Help:      "Circuit breaker state per scope key (0=closed, 1=half_open, 2=open).",
	}, []string{"scope_key"})

	BreakerTripsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "logbook",
		Name:      "breaker_trips_total",
		Help:      "Total breaker trips into OPEN, by scope key and trigger.",
	}, []string{"scope_key", "trigger"})

	// Rate limiting

	RateLimitPausesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "logbook",
		Name:      "rate_limit_pauses_total",
		Help:      "Total 429-triggered pauses, by GitLab instance.",
	}, []string{"instance"})

	BucketTokens = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "logbook",
		Name:      "rate_limit_bucket_tokens",
		Help:      "Current token count per GitLab instance bucket.",
	}, []string{"instance"})

	// HTTP (admin/status surface)

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "logbook",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency for the admin/status surface.",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	}, []string{"method", "path", "status"})
)

func Register() {
	prometheus.MustRegister(
		ScanDuration, JobsEnqueuedTotal, CandidatesSkippedTotal,
		JobPickupLatency, RunDuration, RunsCompletedTotal, SyncedItemsTotal, JobsInFlight,
		ReaperRescuedTotal, ReaperCycleDuration,
		BreakerState, BreakerTripsTotal,
		RateLimitPausesTotal, BucketTokens,
		HTTPRequestDuration,
	)
}

func NewServer(addr string, checker *health.Checker) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if checker != nil {
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, checker.Liveness(r.Context()))
		})
		mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, checker.Readiness(r.Context()))
		})
	}
	return &http.Server{Addr: addr, Handler: mux}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
