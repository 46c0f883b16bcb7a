// Package metrics holds the Prometheus collectors for the node. The
// packages that do the work increment these directly; exposition lives
// on its own listener in cmd.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "semfed_build_info",
		Help: "Build information of the running node",
	}, []string{"version"})

	NotificationsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "semfed_notifications_received_total", Help: "Notifications accepted at the boundary.",
	}, []string{"origin"})
	NotificationsSettled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "semfed_notifications_settled_total", Help: "Notifications that reached a terminal status.",
	}, []string{"status"})

	ProofVerifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "semfed_proof_verifications_total", Help: "Proof verification attempts.",
	}, []string{"kind", "result"})

	GraphParseErrs = promauto.NewCounter(prometheus.CounterOpts{
		Name: "semfed_graph_parse_errors_total", Help: "Documents that failed JSON-LD to RDF conversion.",
	})
	TriplesStripped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "semfed_authority_triples_stripped_total", Help: "Sensitive triples removed during sanitization.",
	})
	ActivitiesApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "semfed_activities_applied_total", Help: "Activities whose side effects were applied.",
	}, []string{"type"})
	OutboundQueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "semfed_outbound_queued_total", Help: "Minted responses handed to outbound delivery.",
	})

	FetchOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "semfed_fetch_outcomes_total", Help: "Remote dereference outcomes.",
	}, []string{"result"})

	ReingestedDocuments = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "semfed_reingested_documents_total", Help: "Documents replayed through extraction.",
	}, []string{"source"})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "semfed_pipeline_stage_duration_seconds",
		Help:    "Time spent per processing stage.",
		Buckets: prometheus.DefBuckets,
	}, []string{"stage"})

	JobsInflight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "semfed_pipeline_jobs_inflight", Help: "Notifications currently being processed.",
	})
	WorkersRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "semfed_pipeline_workers_running", Help: "Number of pipeline workers currently running.",
	})
)
