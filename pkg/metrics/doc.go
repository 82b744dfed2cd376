/*
Package metrics provides Prometheus metrics collection and exposition for execd.

The metrics package defines and registers every execd metric using the
Prometheus client library, giving observability into intent throughput,
risk gate decisions, execution outcomes, sequencing conflicts, and
realtime gateway backpressure. Metrics are exposed via an HTTP endpoint
for scraping by Prometheus servers, alongside health/readiness/liveness
handlers for process supervisors.

# Architecture

	┌──────────────────── METRICS SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │          Prometheus Registry                │          │
	│  │  - Global DefaultRegistry                   │          │
	│  │  - Explicit prometheus.MustRegister of      │          │
	│  │    every collector in the package init()    │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Metric Categories                  │          │
	│  │                                              │          │
	│  │  Intent Manager (C5): accepted/rejected     │          │
	│  │  Execution Planner (C6): created/rejected   │          │
	│  │  Orchestrator (C7): step attempts, duration │          │
	│  │  State Coordinator (C8): conflicts, Raft    │          │
	│  │  Event Bus (C2): dedup, redeliveries, queue │          │
	│  │  Realtime Gateway (C9): connections, drops  │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │          HTTP Endpoints                      │          │
	│  │  - /metrics: Prometheus text exposition      │          │
	│  │  - /health, /ready, /live: process health    │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Metrics Catalog

Intent Manager (C5):

execd_intents_accepted_total:
  - Type: Counter
  - Description: Intents that passed the risk gate and were accepted

execd_intents_rejected_total{reason}:
  - Type: CounterVec
  - Description: Intents rejected or failed, by reason code (SLIPPAGE_LIMIT, NOTIONAL_LIMIT,
    ACCEPT_PUBLISH_FAILED, ...)

Execution Planner (C6):

execd_plans_created_total:
  - Type: Counter
  - Description: Execution plans created

execd_plans_rejected_total{reason}:
  - Type: CounterVec
  - Description: Execution plans rejected, by reason

Orchestrator (C7):

execd_exec_step_attempts_total{outcome}:
  - Type: CounterVec
  - Description: Plan step attempts, by outcome (retry, exhausted, deadline_exceeded); an
    attempt that ends the step without a retry is not counted

execd_exec_step_duration_seconds{venue}:
  - Type: HistogramVec
  - Description: Duration of one build/submit/await attempt of a plan step, by venue

execd_exec_completed_total:
  - Type: Counter
  - Description: Plans that completed successfully

execd_exec_failed_total{reason}:
  - Type: CounterVec
  - Description: Plans that failed, by reason

State Coordinator (C8):

execd_sequence_conflict_total:
  - Type: Counter
  - Description: Envelopes rejected for an already-occupied sequence slot

execd_sequence_gap_total:
  - Type: Counter
  - Description: Sequence gaps skipped (fail-forward) after the buffer window expired

execd_invalid_transition_total{topic}:
  - Type: CounterVec
  - Description: Envelopes rejected by the reducer for an invalid state transition

execd_raft_is_leader:
  - Type: Gauge
  - Description: Whether this node is Raft leader (1=leader, 0=follower)

execd_raft_apply_duration_seconds:
  - Type: Histogram
  - Description: Time spent in the coordinator's per-envelope ingest critical section
    (Raft only elects the leader; no command is applied through it)

execd_store_append_duration_seconds:
  - Type: Histogram
  - Description: Time to durably append an envelope

Event Bus (C2):

execd_bus_dedup_suppressed_total:
  - Type: Counter
  - Description: Publishes suppressed as duplicates within the dedup window

execd_bus_redeliveries_total:
  - Type: Counter
  - Description: Queue-group redeliveries after a missed ack

execd_bus_queue_depth{pattern, group}:
  - Type: GaugeVec
  - Description: Unacked envelopes in flight per pattern/group

Realtime Gateway (C9):

execd_gateway_connections_total:
  - Type: Gauge
  - Description: Active gateway client sessions

execd_gateway_queue_depth{session_id}:
  - Type: GaugeVec
  - Description: Per-connection outbound queue depth

execd_gateway_dropped_total{topic_class}:
  - Type: CounterVec
  - Description: Envelopes dropped for backpressure, by topic class (critical topics
    disconnect the client instead of dropping; see pkg/gateway)

# Usage

Recording Counter/Gauge Metrics:

	metrics.IntentsAcceptedTotal.Inc()
	metrics.IntentsRejectedTotal.WithLabelValues(string(types.ReasonNotionalLimit)).Inc()
	metrics.RaftLeader.Set(1)

Recording Histogram Observations with the Timer Helper:

	timer := metrics.NewTimer()
	// ... perform operation ...
	timer.ObserveDuration(metrics.StoreAppendDuration)

	timer = metrics.NewTimer()
	// ... submit to venue ...
	timer.ObserveDurationVec(metrics.ExecStepDuration, "uniswap_v3")

Exposing Metrics and Health Endpoints:

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", metrics.HealthHandler())
	mux.HandleFunc("/ready", metrics.ReadyHandler())
	mux.HandleFunc("/live", metrics.LivenessHandler())
	http.ListenAndServe(":9090", mux)

Component Health Registration:

	metrics.RegisterComponent("bus", true, "running")
	metrics.RegisterComponent("coordinator", true, "running")
	metrics.RegisterComponent("venue", true, "running")

# Integration Points

This package integrates with:

  - pkg/intentmgr: intents accepted/rejected counters
  - pkg/planner: plans created/rejected counters
  - pkg/orchestrator: exec step attempts, duration, completion/failure
  - pkg/coordinator: sequencing, Raft leadership, store append timing
  - pkg/events: bus dedup/redelivery/queue depth
  - pkg/gateway: connection count, queue depth, drop counters
  - cmd/execd: wires the /metrics, /health, /ready, /live HTTP handlers
  - Prometheus: scrapes /metrics

# Design Patterns

Package Init Registration:
  - Metrics constructed once as package-level vars
  - Constructed with prometheus.NewCounter/NewGaugeVec-style
    constructors and registered explicitly against the default registry
    by MustRegister in init()
  - Accessible from any execd package with no passed-in dependency

Label Discipline:
  - Labels bounded by a small enum (outcome, reason, topic class), never
    by intent_id or correlation_id
  - The one exception is execd_gateway_queue_depth, labeled by
    session_id, so its cardinality grows with the number of sessions

Timer Pattern:
  - Create a Timer at operation start, observe duration at completion
  - ObserveDuration for a plain Histogram, ObserveDurationVec for one
    with labels

# See Also

  - Prometheus documentation: https://prometheus.io/docs/
  - Prometheus client library: https://github.com/prometheus/client_golang
*/
package metrics
