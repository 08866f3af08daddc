package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the smart margin service.
type Metrics struct {
	// --- Dispatcher ---
	DispatcherBatches  *prometheus.CounterVec
	DispatcherCommands *prometheus.CounterVec
	DispatcherRollback prometheus.Counter
	DispatcherDuration prometheus.Histogram

	// --- Conditional orders ---
	OrdersPlaced    prometheus.Counter
	OrdersCancelled *prometheus.CounterVec
	OrdersFilled    prometheus.Counter
	CommittedMargin prometheus.Gauge

	// --- Keeper ---
	KeeperChecks     prometheus.Counter
	KeeperExecutions *prometheus.CounterVec
	KeeperTasks      prometheus.Gauge
	KeeperPollDur    prometheus.Histogram

	// --- Fees ---
	FeesImposed prometheus.Counter

	// --- Relay ---
	RelayPublished *prometheus.CounterVec
	RelayDrops     prometheus.Counter

	// --- Persistence ---
	PersistNotificationsWritten prometheus.Counter
	PersistBatchSize            prometheus.Histogram
	PersistErrors               *prometheus.CounterVec

	// --- HTTP API ---
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	latencyBuckets := []float64{
		0.00001, 0.00005, 0.0001, 0.00025, 0.0005,
		0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1,
	}

	return &Metrics{
		DispatcherBatches: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "margin_dispatcher_batches_total",
			Help: "Command batches executed, by result",
		}, []string{"result"}),

		DispatcherCommands: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "margin_dispatcher_commands_total",
			Help: "Commands dispatched, by tag",
		}, []string{"tag"}),

		DispatcherRollback: promauto.NewCounter(prometheus.CounterOpts{
			Name: "margin_dispatcher_rollbacks_total",
			Help: "Batches rolled back after a step failure",
		}),

		DispatcherDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "margin_dispatcher_batch_duration_seconds",
			Help:    "Time to execute one command batch",
			Buckets: latencyBuckets,
		}),

		OrdersPlaced: promauto.NewCounter(prometheus.CounterOpts{
			Name: "margin_conditional_orders_placed_total",
			Help: "Conditional orders placed",
		}),

		OrdersCancelled: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "margin_conditional_orders_cancelled_total",
			Help: "Conditional orders cancelled, by reason",
		}, []string{"reason"}),

		OrdersFilled: promauto.NewCounter(prometheus.CounterOpts{
			Name: "margin_conditional_orders_filled_total",
			Help: "Conditional orders filled by the keeper",
		}),

		CommittedMargin: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "margin_committed_margin_units",
			Help: "Committed margin across all accounts",
		}),

		KeeperChecks: promauto.NewCounter(prometheus.CounterOpts{
			Name: "margin_keeper_checks_total",
			Help: "Checker evaluations performed by the keeper poller",
		}),

		KeeperExecutions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "margin_keeper_executions_total",
			Help: "Keeper execution attempts, by result",
		}, []string{"result"}),

		KeeperTasks: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "margin_keeper_tasks",
			Help: "Automation tasks currently registered",
		}),

		KeeperPollDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "margin_keeper_poll_duration_seconds",
			Help:    "Time for one keeper poll sweep",
			Buckets: latencyBuckets,
		}),

		FeesImposed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "margin_fees_imposed_units_total",
			Help: "Fee units debited and forwarded to the treasury",
		}),

		RelayPublished: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "margin_relay_published_total",
			Help: "Notifications published to the event relay, by type",
		}, []string{"event_type"}),

		RelayDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "margin_relay_drops_total",
			Help: "Notifications dropped because the relay channel was full",
		}),

		PersistNotificationsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "margin_persist_notifications_written_total",
			Help: "Notification rows written to Postgres",
		}),

		PersistBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "margin_persist_batch_size",
			Help:    "Rows per persistence batch",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100},
		}),

		PersistErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "margin_persist_errors_total",
			Help: "Persistence failures, by operation",
		}, []string{"op"}),

		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "margin_http_requests_total",
			Help: "HTTP API requests, by route and status",
		}, []string{"route", "status"}),

		HTTPDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "margin_http_request_duration_seconds",
			Help:    "HTTP API request latency",
			Buckets: latencyBuckets,
		}, []string{"route"}),
	}
}
