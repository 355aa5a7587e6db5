// Package metrics registers the process-wide Prometheus collectors used by
// the ingest, feature and scheduler pipelines. No HTTP exposition endpoint
// is mounted here: spec.md explicitly keeps Prometheus exposition out of
// scope. The collectors exist so the pipeline is instrumented the way the
// original service was; wiring a /metrics handler is left to an operator
// that wants it.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	PostsIngested = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rep0st_posts_ingested_total",
		Help: "Posts newly inserted by the ingest controller.",
	})

	PostsReconciled = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rep0st_posts_reconciled_total",
		Help: "Posts touched by a full reconcile pass, by outcome.",
	}, []string{"outcome"})

	LatestPostID = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "rep0st_latest_post_id",
		Help: "Highest post id observed from the local repository.",
	})

	FeaturesAdded = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rep0st_features_added_total",
		Help: "FeatureVector rows persisted by the feature worker.",
	})

	FeatureWorkerErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rep0st_feature_worker_errors_total",
		Help: "Posts that failed feature extraction, by error_status.",
	}, []string{"error_status"})

	LoginFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rep0st_upstream_login_failures_total",
		Help: "Upstream login attempts that failed or were banned.",
	})

	SchedulerJobDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name: "rep0st_scheduler_job_duration_seconds",
		Help: "Duration of scheduler-triggered jobs.",
	}, []string{"job"})

	SearchQueries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rep0st_search_queries_total",
		Help: "Search Service queries, by outcome.",
	}, []string{"outcome"})
)

func init() {
	prometheus.MustRegister(
		PostsIngested,
		PostsReconciled,
		LatestPostID,
		FeaturesAdded,
		FeatureWorkerErrors,
		LoginFailures,
		SchedulerJobDuration,
		SearchQueries,
	)
}
