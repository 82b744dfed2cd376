package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Intent Manager (C5) metrics
	IntentsAcceptedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "execd_intents_accepted_total",
			Help: "Total number of intents that passed the risk gate and were accepted",
		},
	)

	IntentsRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "execd_intents_rejected_total",
			Help: "Total number of intents rejected or failed, by reason",
		},
		[]string{"reason"},
	)

	// Execution Planner (C6) metrics
	PlansCreatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "execd_plans_created_total",
			Help: "Total number of execution plans created",
		},
	)

	PlansRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "execd_plans_rejected_total",
			Help: "Total number of execution plans rejected, by reason",
		},
		[]string{"reason"},
	)

	// Orchestrator (C7) metrics
	ExecStepAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "execd_exec_step_attempts_total",
			Help: "Total number of plan step submission attempts, by outcome",
		},
		[]string{"outcome"},
	)

	ExecStepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "execd_exec_step_duration_seconds",
			Help:    "Duration of one build/submit/await attempt of a plan step",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"venue"},
	)

	ExecCompletedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "execd_exec_completed_total",
			Help: "Total number of plans that completed successfully",
		},
	)

	ExecFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "execd_exec_failed_total",
			Help: "Total number of plans that failed, by reason",
		},
		[]string{"reason"},
	)

	// State Coordinator (C8) metrics
	SequenceConflictTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "execd_sequence_conflict_total",
			Help: "Total number of envelopes rejected for an already-occupied sequence slot",
		},
	)

	SequenceGapTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "execd_sequence_gap_total",
			Help: "Total number of sequence gaps skipped (fail-forward) after the buffer window expired",
		},
	)

	InvalidTransitionTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "execd_invalid_transition_total",
			Help: "Total number of envelopes rejected by the reducer for an invalid state transition",
		},
		[]string{"topic"},
	)

	RaftLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "execd_raft_is_leader",
			Help: "Whether this node is the Raft leader (1 = leader, 0 = follower)",
		},
	)

	RaftApplyDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "execd_raft_apply_duration_seconds",
			Help:    "Time spent in the coordinator's per-envelope ingest critical section",
			Buckets: prometheus.DefBuckets,
		},
	)

	StoreAppendDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "execd_store_append_duration_seconds",
			Help:    "Time taken to durably append an envelope",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Event Bus (C2) metrics
	BusDedupSuppressedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "execd_bus_dedup_suppressed_total",
			Help: "Total number of publishes suppressed as duplicates within the dedup window",
		},
	)

	BusRedeliveriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "execd_bus_redeliveries_total",
			Help: "Total number of queue-group redeliveries after a missed ack",
		},
	)

	BusQueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "execd_bus_queue_depth",
			Help: "Current number of unacked envelopes in flight per pattern/group",
		},
		[]string{"pattern", "group"},
	)

	// Realtime Gateway (C9) metrics
	GatewayConnectionsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "execd_gateway_connections_total",
			Help: "Current number of active gateway client sessions",
		},
	)

	GatewayQueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "execd_gateway_queue_depth",
			Help: "Current per-connection outbound queue depth",
		},
		[]string{"session_id"},
	)

	GatewayDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "execd_gateway_dropped_total",
			Help: "Total number of envelopes dropped for backpressure, by topic class",
		},
		[]string{"topic_class"},
	)
)

func init() {
	prometheus.MustRegister(
		IntentsAcceptedTotal,
		IntentsRejectedTotal,
		PlansCreatedTotal,
		PlansRejectedTotal,
		ExecStepAttemptsTotal,
		ExecStepDuration,
		ExecCompletedTotal,
		ExecFailedTotal,
		SequenceConflictTotal,
		SequenceGapTotal,
		InvalidTransitionTotal,
		RaftLeader,
		RaftApplyDuration,
		StoreAppendDuration,
		BusDedupSuppressedTotal,
		BusRedeliveriesTotal,
		BusQueueDepth,
		GatewayConnectionsTotal,
		GatewayQueueDepth,
		GatewayDroppedTotal,
	)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
