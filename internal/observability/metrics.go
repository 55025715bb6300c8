package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the settlement service.
type Metrics struct {
	// --- Engine ---
	CommandsApplied  *prometheus.CounterVec
	CommandsRejected *prometheus.CounterVec
	CommandDuration  *prometheus.HistogramVec
	JournalEntries   *prometheus.CounterVec
	EngineSequence   prometheus.Gauge

	// --- Settlement state ---
	SettlementsPending prometheus.Gauge
	LedgerTotalHeld    prometheus.Gauge
	ActiveListings     prometheus.Gauge
	TransfersIssued    *prometheus.CounterVec
	RegistryRequests   *prometheus.CounterVec

	// --- Ingestion ---
	MessagesConsumed *prometheus.CounterVec
	ParseFailures    *prometheus.CounterVec

	// --- Persistence ---
	PersistCommandsWritten prometheus.Counter
	PersistBatchDur        prometheus.Histogram
	PersistErrors          *prometheus.CounterVec

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	latencyBuckets := []float64{
		0.000005, 0.00001, 0.000025, 0.00005, 0.0001,
		0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		CommandsApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "tix_engine_commands_applied_total",
			Help: "Commands processed by the settlement engine",
		}, []string{"command_type", "outcome"}),

		CommandsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "tix_engine_commands_rejected_total",
			Help: "Commands rejected before processing (dedup, parse)",
		}, []string{"command_type", "reason"}),

		CommandDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tix_engine_command_duration_seconds",
			Help:    "Time to process a single command",
			Buckets: latencyBuckets,
		}, []string{"command_type"}),

		JournalEntries: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "tix_engine_journal_entries_total",
			Help: "Ledger journal entries generated",
		}, []string{"kind"}),

		EngineSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "tix_engine_sequence",
			Help: "Current engine sequence number",
		}),

		SettlementsPending: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "tix_settlements_pending",
			Help: "Settlements waiting on a registry result",
		}),

		LedgerTotalHeld: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "tix_ledger_total_held",
			Help: "Sum of all pre-funded balances",
		}),

		ActiveListings: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "tix_active_listings",
			Help: "Listings currently on the market",
		}),

		TransfersIssued: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "tix_transfers_issued_total",
			Help: "Outward payment instructions issued",
		}, []string{"reason"}),

		RegistryRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "tix_registry_requests_total",
			Help: "Registry calls issued",
		}, []string{"kind"}),

		MessagesConsumed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "tix_ingest_messages_total",
			Help: "NATS messages consumed per subject",
		}, []string{"subject"}),

		ParseFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "tix_ingest_parse_failures_total",
			Help: "Messages that failed to parse into commands",
		}, []string{"subject"}),

		PersistCommandsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tix_persist_commands_written_total",
			Help: "Command envelopes written to Postgres",
		}),

		PersistBatchDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "tix_persist_batch_duration_seconds",
			Help:    "Time to commit one persistence batch",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		PersistErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "tix_persist_errors_total",
			Help: "Persistence failures by stage",
		}, []string{"stage"}),

		QueryRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "tix_query_requests_total",
			Help: "Query API requests",
		}, []string{"endpoint", "status"}),

		QueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tix_query_duration_seconds",
			Help:    "Query API request duration",
			Buckets: []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
		}, []string{"endpoint"}),
	}
}
