package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the fee ledger.
type Metrics struct {
	// --- Fee quoting ---
	QuotesIssued   *prometheus.CounterVec
	QuotesRejected *prometheus.CounterVec
	QuoteDuration  prometheus.Histogram

	// --- Settlement ---
	FeesProcessed    *prometheus.CounterVec
	FeesRejected     *prometheus.CounterVec
	FeeAmountTotal   *prometheus.CounterVec
	ProcessDuration  *prometheus.HistogramVec
	PendingPool      *prometheus.GaugeVec
	AccountBalance   *prometheus.GaugeVec
	LockWaitDuration *prometheus.HistogramVec

	// --- Transfers ---
	TransfersAttempted *prometheus.CounterVec
	TransfersSucceeded *prometheus.CounterVec
	TransfersFailed    *prometheus.CounterVec
	TransferAmount     *prometheus.CounterVec
	TransferDuration   prometheus.Histogram

	// --- Persistence ---
	RecordsWritten  *prometheus.CounterVec
	SnapshotWrites  prometheus.Counter
	PersistErrors   *prometheus.CounterVec
	PersistDuration prometheus.Histogram

	// --- Ingestion ---
	EventsReceived *prometheus.CounterVec
	EventsRejected *prometheus.CounterVec

	// --- HTTP API ---
	APIRequests *prometheus.CounterVec
	APIDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	quoteBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001,
	}

	processBuckets := []float64{
		0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0,
	}

	return &Metrics{
		// Fee quoting
		QuotesIssued: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fee_quotes_issued_total",
			Help: "Fee quotes successfully computed",
		}, []string{"platform_type", "tier"}),

		QuotesRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fee_quotes_rejected_total",
			Help: "Fee quote requests rejected (validation)",
		}, []string{"reason"}),

		QuoteDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "fee_quote_duration_seconds",
			Help:    "Time to compute a single fee quote",
			Buckets: quoteBuckets,
		}),

		// Settlement
		FeesProcessed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fee_settlements_processed_total",
			Help: "Fee events settled",
		}, []string{"mode", "currency"}),

		FeesRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fee_settlements_rejected_total",
			Help: "Fee events rejected (validation, persistence)",
		}, []string{"reason"}),

		FeeAmountTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fee_settled_amount_total",
			Help: "Total fee amount settled per currency",
		}, []string{"currency"}),

		ProcessDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fee_process_duration_seconds",
			Help:    "End-to-end processFee duration incl. persistence",
			Buckets: processBuckets,
		}, []string{"mode"}),

		PendingPool: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fee_pending_pool",
			Help: "Current pending pool per currency (auto-transfer mode)",
		}, []string{"currency"}),

		AccountBalance: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fee_account_balance",
			Help: "Current account balance (distribution mode)",
		}, []string{"account"}),

		LockWaitDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fee_currency_lock_wait_seconds",
			Help:    "Time spent waiting on the per-currency lock",
			Buckets: processBuckets,
		}, []string{"currency"}),

		// Transfers
		TransfersAttempted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fee_transfers_attempted_total",
			Help: "Pool flush attempts",
		}, []string{"currency"}),

		TransfersSucceeded: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fee_transfers_succeeded_total",
			Help: "Successful pool flushes",
		}, []string{"currency"}),

		TransfersFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fee_transfers_failed_total",
			Help: "Failed pool flushes",
		}, []string{"currency"}),

		TransferAmount: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fee_transferred_amount_total",
			Help: "Total amount successfully flushed per currency",
		}, []string{"currency"}),

		TransferDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "fee_transfer_duration_seconds",
			Help:    "External transfer gateway call duration",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 10.0, 30.0},
		}),

		// Persistence
		RecordsWritten: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fee_records_written_total",
			Help: "Records written to Postgres",
		}, []string{"kind"}),

		SnapshotWrites: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fee_snapshot_writes_total",
			Help: "Ledger snapshot upserts",
		}),

		PersistErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fee_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "fee_persist_duration_seconds",
			Help:    "Postgres write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		// Ingestion
		EventsReceived: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fee_events_received_total",
			Help: "Fee events received from NATS",
		}, []string{"subject"}),

		EventsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fee_events_rejected_total",
			Help: "Fee events rejected at parse or validation",
		}, []string{"subject", "reason"}),

		// HTTP API
		APIRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fee_api_requests_total",
			Help: "API requests",
		}, []string{"endpoint", "status"}),

		APIDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fee_api_duration_seconds",
			Help:    "API latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"endpoint"}),
	}
}
