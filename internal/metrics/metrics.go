package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Ingestion metrics
var (
	// IngestJobsEnqueued tracks jobs accepted or rejected at enqueue time
	IngestJobsEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_jobs_enqueued_total",
			Help: "Total number of ingestion jobs offered to the queue by outcome",
		},
		[]string{"outcome"}, // accepted, queue_full, inactive, not_found, invalid
	)

	// IngestJobsProcessed tracks finished jobs by status
	IngestJobsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_jobs_processed_total",
			Help: "Total number of ingestion jobs processed by status",
		},
		[]string{"tool", "status"}, // success, parse_error, merge_error
	)

	// IngestJobsDropped tracks jobs discarded at shutdown
	IngestJobsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ingest_jobs_dropped_total",
			Help: "Total number of queued ingestion jobs dropped on stop",
		},
	)

	// IngestQueueDepth tracks pending jobs per shard
	IngestQueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ingest_queue_depth",
			Help: "Number of pending ingestion jobs per shard",
		},
		[]string{"shard"},
	)

	// IngestDuration tracks parse+merge duration
	IngestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ingest_duration_seconds",
			Help:    "Ingestion duration (parse and merge) in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
		},
		[]string{"tool"},
	)

	// IngestFacts tracks merged facts by entity kind and result
	IngestFacts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_facts_total",
			Help: "Total number of report facts merged by kind and result",
		},
		[]string{"kind", "result"}, // result: created, updated, failed, skipped
	)
)

// Rule engine metrics
var (
	// SearcherRuns tracks rule runs by trigger
	SearcherRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "searcher_runs_total",
			Help: "Total number of rule engine runs by trigger",
		},
		[]string{"trigger"}, // api, schedule, cli
	)

	// SearcherMutations tracks applied actions
	SearcherMutations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "searcher_mutations_total",
			Help: "Total number of rule actions applied by command",
		},
		[]string{"command"},
	)

	// SearcherErrors tracks rule errors by kind
	SearcherErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "searcher_errors_total",
			Help: "Total number of rule errors by kind",
		},
		[]string{"kind"},
	)

	// SearcherRunDuration tracks one Process call
	SearcherRunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "searcher_run_duration_seconds",
			Help:    "Rule engine run duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		},
	)
)

// Alert delivery metrics
var (
	// AlertsDelivered tracks rule alerts handed to a notification provider
	AlertsDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alerts_delivered_total",
			Help: "Total number of rule alerts delivered by provider and status",
		},
		[]string{"provider", "status"},
	)
)
