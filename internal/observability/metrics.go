package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the clearinghouse.
type Metrics struct {
	// Core processing
	OpsApplied   *prometheus.CounterVec
	OpsRejected  *prometheus.CounterVec
	OpDuration   *prometheus.HistogramVec
	CoreSequence prometheus.Gauge

	// Risk
	LiquidationsTotal    prometheus.Counter
	BankruptciesTotal    prometheus.Counter
	SocializedLossTotal  prometheus.Counter
	InsuranceFundBalance *prometheus.GaugeVec

	// Orders
	FillsTotal          prometheus.Counter
	ReplayRejectedTotal prometheus.Counter
	OpenOrdersGauge     *prometheus.GaugeVec

	// Persistence
	PersistEventsWritten prometheus.Counter
	PersistBatchDur      prometheus.Histogram
	PersistBatchSize     prometheus.Histogram
	PersistErrors        *prometheus.CounterVec
	PersistRetry         prometheus.Counter
	PersistLastSequence  prometheus.Gauge
	SnapshotsTotal       prometheus.Counter
	SnapshotDuration     prometheus.Histogram

	// Projections
	ProjectionDrops     *prometheus.CounterVec
	ProjectionUpdateDur *prometheus.HistogramVec

	// Ingestion & publish
	OracleUpdates prometheus.Counter
	PublishDrops  prometheus.Counter
}

var latencyBuckets = []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0}

// NewMetrics registers and returns all metrics. Call once per process.
func NewMetrics() *Metrics {
	return &Metrics{
		OpsApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "clearing_ops_applied_total",
			Help: "Operations applied by the core",
		}, []string{"op"}),

		OpsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "clearing_ops_rejected_total",
			Help: "Operations rejected before applying",
		}, []string{"op", "reason"}),

		OpDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "clearing_op_duration_seconds",
			Help:    "Core operation processing time",
			Buckets: latencyBuckets,
		}, []string{"op"}),

		CoreSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "clearing_core_sequence",
			Help: "Current core sequence number",
		}),

		LiquidationsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "clearing_liquidations_total",
			Help: "Spot liquidations applied",
		}),

		BankruptciesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "clearing_bankruptcies_total",
			Help: "Spot bankruptcies resolved",
		}),

		SocializedLossTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "clearing_socialized_loss_total",
			Help: "Token amount of forgiven debt socialized across depositors",
		}),

		InsuranceFundBalance: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "clearing_insurance_fund_balance",
			Help: "Insurance fund balance per market",
		}, []string{"market_index"}),

		FillsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "clearing_fills_total",
			Help: "Maker/taker crosses settled",
		}),

		ReplayRejectedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "clearing_replay_rejected_total",
			Help: "Signed orders rejected by the replay store",
		}),

		OpenOrdersGauge: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "clearing_open_orders",
			Help: "Resting orders per market",
		}, []string{"market_index"}),

		PersistEventsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "clearing_persist_events_written_total",
			Help: "Envelopes written to Postgres",
		}),

		PersistBatchDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "clearing_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		PersistBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "clearing_persist_batch_size",
			Help:    "Envelopes per batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "clearing_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistRetry: promauto.NewCounter(prometheus.CounterOpts{
			Name: "clearing_persist_retry_total",
			Help: "Persistence retries",
		}),

		PersistLastSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "clearing_persist_last_sequence",
			Help: "Last persisted sequence",
		}),

		SnapshotsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "clearing_snapshots_total",
			Help: "State snapshots written and verified",
		}),

		SnapshotDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "clearing_snapshot_duration_seconds",
			Help:    "Snapshot cut, write and verify duration",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
		}),

		ProjectionDrops: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "clearing_projection_drops_total",
			Help: "Envelopes dropped due to full projection channel",
		}, []string{"projection"}),

		ProjectionUpdateDur: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "clearing_projection_update_duration_seconds",
			Help:    "Projection table update duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1},
		}, []string{"projection"}),

		OracleUpdates: promauto.NewCounter(prometheus.CounterOpts{
			Name: "clearing_oracle_updates_total",
			Help: "Oracle price observations ingested",
		}),

		PublishDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "clearing_publish_drops_total",
			Help: "Envelopes dropped due to full publish channel",
		}),
	}
}
