package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for CricLedger.
// Every component accepts a nil *Metrics and skips recording.
type Metrics struct {
	// --- Ledger ---
	LedgerPostings      *prometheus.CounterVec
	LedgerRejections    *prometheus.CounterVec
	LockConflicts       *prometheus.CounterVec
	IntegrityViolations *prometheus.CounterVec
	UnitOfWorkDuration  *prometheus.HistogramVec

	// --- Deposits ---
	DepositsIngested      *prometheus.CounterVec
	DepositsProcessed     *prometheus.CounterVec
	DepositConfirmLatency prometheus.Histogram
	DepositsRequeued      prometheus.Counter

	// --- Queue ---
	QueueRedeliveries   prometheus.Counter
	QueuePublishErrors  prometheus.Counter
	QueueHandleDuration prometheus.Histogram

	// --- Contests ---
	ContestJoins       *prometheus.CounterVec
	ContestSettlements *prometheus.CounterVec
	ContestsClosed     prometheus.Counter
	SettlementWinners  prometheus.Histogram

	// --- Withdrawals ---
	WithdrawalTransitions *prometheus.CounterVec
	PayoutSignalErrors    prometheus.Counter

	// --- Outbound events ---
	EventsPublished    *prometheus.CounterVec
	EventPublishErrors *prometheus.CounterVec

	// --- HTTP API ---
	HTTPRequests  *prometheus.CounterVec
	HTTPDuration  *prometheus.HistogramVec
	HTTPRateLimit prometheus.Counter

	// --- Scheduler ---
	SchedulerRuns *prometheus.CounterVec
}

// NewMetrics registers all metrics with the default registry.
// Call once per process.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith registers all metrics with reg. Tests pass a fresh
// prometheus.NewRegistry() so repeated construction does not panic.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		LedgerPostings: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cric_ledger_postings_total",
			Help: "Wallet mutations applied, by transaction kind and direction.",
		}, []string{"kind", "direction"}),
		LedgerRejections: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cric_ledger_rejections_total",
			Help: "Wallet mutations refused, by error kind.",
		}, []string{"reason"}),
		LockConflicts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cric_lock_conflicts_total",
			Help: "Units of work that failed with a concurrency conflict.",
		}, []string{"op"}),
		IntegrityViolations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cric_integrity_violations_total",
			Help: "Units of work aborted because a storage invariant would break. Alert on any increase.",
		}, []string{"op"}),
		UnitOfWorkDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cric_unit_of_work_duration_seconds",
			Help:    "Wall time of one unit of work, by operation.",
			Buckets: []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"op"}),

		DepositsIngested: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cric_deposits_ingested_total",
			Help: "Deposit notifications received, by outcome (accepted, duplicate, rejected).",
		}, []string{"outcome"}),
		DepositsProcessed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cric_deposits_processed_total",
			Help: "Confirm-and-credit job results.",
		}, []string{"result"}),
		DepositConfirmLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "cric_deposit_ingest_to_credit_seconds",
			Help:    "Time from deposit ingest to credit.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14),
		}),
		DepositsRequeued: f.NewCounter(prometheus.CounterOpts{
			Name: "cric_deposits_requeued_total",
			Help: "Stale pending deposits re-scheduled by the sweeper.",
		}),

		QueueRedeliveries: f.NewCounter(prometheus.CounterOpts{
			Name: "cric_queue_redeliveries_total",
			Help: "Confirm jobs delivered more than once.",
		}),
		QueuePublishErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "cric_queue_publish_errors_total",
			Help: "Failures scheduling a confirm job.",
		}),
		QueueHandleDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "cric_queue_handle_duration_seconds",
			Help:    "Time spent handling one confirm job.",
			Buckets: prometheus.DefBuckets,
		}),

		ContestJoins: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cric_contest_joins_total",
			Help: "Join attempts by outcome.",
		}, []string{"outcome"}),
		ContestSettlements: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cric_contest_settlements_total",
			Help: "Settle attempts by outcome.",
		}, []string{"outcome"}),
		ContestsClosed: f.NewCounter(prometheus.CounterOpts{
			Name: "cric_contests_closed_total",
			Help: "Contests closed by the entry cutoff.",
		}),
		SettlementWinners: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "cric_settlement_winners",
			Help:    "Number of winners paid per settlement.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),

		WithdrawalTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cric_withdrawal_transitions_total",
			Help: "Withdrawal requests entering each status.",
		}, []string{"status"}),
		PayoutSignalErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "cric_payout_signal_errors_total",
			Help: "Failed or timed out payout signals.",
		}),

		EventsPublished: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cric_events_published_total",
			Help: "Ledger events published downstream.",
		}, []string{"sink", "type"}),
		EventPublishErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cric_event_publish_errors_total",
			Help: "Ledger event publish failures.",
		}, []string{"sink"}),

		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cric_http_requests_total",
			Help: "HTTP API requests by route and status code.",
		}, []string{"route", "code"}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cric_http_request_duration_seconds",
			Help:    "HTTP API latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		HTTPRateLimit: f.NewCounter(prometheus.CounterOpts{
			Name: "cric_http_rate_limited_total",
			Help: "Deposit webhook requests rejected by the rate limiter.",
		}),

		SchedulerRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cric_scheduler_runs_total",
			Help: "Scheduled job executions by job and outcome.",
		}, []string{"job", "outcome"}),
	}
}
