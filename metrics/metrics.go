// Package metrics registers the Prometheus collectors this client exposes:
// planner decisions, bytes moved, and commit durations, so an operator
// running a long batch install can watch progress the same way the
// teacher's services do.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// PlanDecisions counts whole-archive vs ranged fetch decisions made by
	// the planner, labeled by the chosen strategy.
	PlanDecisions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "steed",
		Subsystem: "planner",
		Name:      "decisions_total",
		Help:      "Number of fetch-plan decisions, by chosen strategy.",
	}, []string{"strategy"})

	// BytesFetched counts bytes pulled from CDN mirrors, labeled by
	// whether the fetch was a whole-object GET or a ranged GET.
	BytesFetched = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "steed",
		Subsystem: "cdn",
		Name:      "bytes_fetched_total",
		Help:      "Bytes fetched from CDN mirrors.",
	}, []string{"kind"})

	// FetchDuration observes how long a single CDN fetch took, labeled by
	// kind, feeding the same signal the planner's Estimator consumes.
	FetchDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "steed",
		Subsystem: "cdn",
		Name:      "fetch_duration_seconds",
		Help:      "Duration of a CDN fetch.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"kind"})

	// CommitDuration observes how long installer.Commit took end to end,
	// labeled by the terminal phase reached (useful for spotting a commit
	// that keeps stalling at the same phase across retries).
	CommitDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "steed",
		Subsystem: "installer",
		Name:      "commit_duration_seconds",
		Help:      "Duration of Installer.Commit calls.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"phase"})

	// BucketRewrites counts how many times an idx bucket file was
	// rewritten to disk, incremented by Installer.Close for each bucket it
	// writes.
	BucketRewrites = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "steed",
		Subsystem: "installer",
		Name:      "bucket_rewrites_total",
		Help:      "Number of idx bucket files rewritten.",
	}, []string{"bucket"})
)

func init() {
	prometheus.MustRegister(PlanDecisions, BytesFetched, FetchDuration, CommitDuration, BucketRewrites)
}
