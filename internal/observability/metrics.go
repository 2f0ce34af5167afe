package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the round engine.
type Metrics struct {
	// --- Rounds ---
	RoundsStarted   prometheus.Counter
	RoundsCrashed   *prometheus.CounterVec // trigger: multiplier|exposure
	RoundsDegraded  prometheus.Counter
	CrashPoints     prometheus.Histogram
	RoundMultiplier prometheus.Gauge
	RoundExposure   prometheus.Gauge
	ActiveBets      prometheus.Gauge

	// --- Wagers ---
	BetsPlaced    prometheus.Counter
	BetsRejected  *prometheus.CounterVec // reason
	Cashouts      prometheus.Counter
	AmountWagered prometheus.Counter
	AmountPaidOut prometheus.Counter
	InsuranceSold *prometheus.CounterVec // tier
	InsurancePaid prometheus.Counter
	RealizedEdge  prometheus.Gauge
	LockedWagers  prometheus.Gauge

	// --- Settlement ---
	SettlementRuns       prometheus.Counter
	SettlementRetries    prometheus.Counter
	SettlementFailures   prometheus.Counter
	SettlementDuration   prometheus.Histogram
	BetsSettled          *prometheus.CounterVec // outcome
	ReconciliationNeeded prometheus.Counter

	// --- Broadcast ---
	BroadcastEvents prometheus.Counter
	BroadcastDrops  prometheus.Counter
	BroadcastErrors prometheus.Counter

	// --- Persistence ---
	StoreErrors  *prometheus.CounterVec // op
	StoreRetries prometheus.Counter

	// --- Commands ---
	CommandsReceived *prometheus.CounterVec // command
	CommandErrors    *prometheus.CounterVec // command
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	crashBuckets := []float64{1.0, 1.25, 1.5, 2.0, 2.5, 3.0, 4.0, 5.0, 6.0, 7.0, 10.0}
	durationBuckets := []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}

	return &Metrics{
		RoundsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "crash_rounds_started_total",
			Help: "Rounds entering the waiting phase",
		}),
		RoundsCrashed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "crash_rounds_crashed_total",
			Help: "Rounds crashed, by trigger",
		}, []string{"trigger"}),
		RoundsDegraded: promauto.NewCounter(prometheus.CounterOpts{
			Name: "crash_rounds_degraded_total",
			Help: "Rounds running in-memory only after store failures",
		}),
		CrashPoints: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "crash_point_multiplier",
			Help:    "Distribution of generated crash points",
			Buckets: crashBuckets,
		}),
		RoundMultiplier: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "crash_round_multiplier",
			Help: "Current multiplier of the running round",
		}),
		RoundExposure: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "crash_round_exposure",
			Help: "Current aggregate liability of the running round in minor units",
		}),
		ActiveBets: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "crash_active_bets",
			Help: "Active bets in the current round",
		}),

		BetsPlaced: promauto.NewCounter(prometheus.CounterOpts{
			Name: "crash_bets_placed_total",
			Help: "Accepted bets",
		}),
		BetsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "crash_bets_rejected_total",
			Help: "Rejected bets, by reason",
		}, []string{"reason"}),
		Cashouts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "crash_cashouts_total",
			Help: "Successful cash-outs",
		}),
		AmountWagered: promauto.NewCounter(prometheus.CounterOpts{
			Name: "crash_amount_wagered_total",
			Help: "Total wagered in minor units",
		}),
		AmountPaidOut: promauto.NewCounter(prometheus.CounterOpts{
			Name: "crash_amount_paid_out_total",
			Help: "Total paid out to players in minor units",
		}),
		InsuranceSold: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "crash_insurance_sold_total",
			Help: "Insurance side-wagers sold, by tier",
		}, []string{"tier"}),
		InsurancePaid: promauto.NewCounter(prometheus.CounterOpts{
			Name: "crash_insurance_paid_total",
			Help: "Insurance coverage paid in minor units",
		}),
		RealizedEdge: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "crash_realized_edge",
			Help: "Operator's realized edge since start in minor units",
		}),
		LockedWagers: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "crash_locked_wagers",
			Help: "Sum of currently-locked bet stakes in minor units",
		}),

		SettlementRuns: promauto.NewCounter(prometheus.CounterOpts{
			Name: "crash_settlement_runs_total",
			Help: "Settlement batches executed",
		}),
		SettlementRetries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "crash_settlement_retries_total",
			Help: "Settlement batch retries",
		}),
		SettlementFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "crash_settlement_failures_total",
			Help: "Settlement batches that exhausted retries",
		}),
		SettlementDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "crash_settlement_duration_seconds",
			Help:    "Settlement batch duration",
			Buckets: durationBuckets,
		}),
		BetsSettled: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "crash_bets_settled_total",
			Help: "Bets finalized by settlement, by outcome",
		}, []string{"outcome"}),
		ReconciliationNeeded: promauto.NewCounter(prometheus.CounterOpts{
			Name: "crash_reconciliation_needed_total",
			Help: "Rounds marked for manual reconciliation",
		}),

		BroadcastEvents: promauto.NewCounter(prometheus.CounterOpts{
			Name: "crash_broadcast_events_total",
			Help: "Events published by the broadcaster",
		}),
		BroadcastDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "crash_broadcast_drops_total",
			Help: "Events dropped because the broadcast buffer was full",
		}),
		BroadcastErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "crash_broadcast_errors_total",
			Help: "Sink delivery failures",
		}),

		StoreErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "crash_store_errors_total",
			Help: "Persistent store failures, by operation",
		}, []string{"op"}),
		StoreRetries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "crash_store_retries_total",
			Help: "Persistent store retries",
		}),

		CommandsReceived: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "crash_commands_received_total",
			Help: "Inbound commands, by command",
		}, []string{"command"}),
		CommandErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "crash_command_errors_total",
			Help: "Inbound command failures, by command",
		}, []string{"command"}),
	}
}
