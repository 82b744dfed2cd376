/*
Package storage provides BoltDB-backed state persistence for the
coordinator: the durable event log and the projected read models.

The package splits into two bbolt databases rather than one, because
they have different access shapes: the event log is append-only and
ordered by (correlation_id, sequence), while the read models are
point-lookup key/value with no ordering requirement.

# Architecture

	┌──────────────────── BOLTDB STORAGE ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │             EventStore                        │          │
	│  │  - File: <dataDir>/events.db                │          │
	│  │  - Bucket: events                            │          │
	│  │  - Key: correlation_id\x00%020d\x00event_id │          │
	│  └────────────────────────────────────────────┘          │
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │           ReadModelStore                      │          │
	│  │  - File: <dataDir>/readmodels.db            │          │
	│  │  ┌────────────────────────────┐             │          │
	│  │  │ intents   (Intent ID)      │             │          │
	│  │  │ plans     (Plan ID)        │             │          │
	│  │  │ seen      (Event ID)       │             │          │
	│  │  │ seq       (Correlation ID) │             │          │
	│  │  └────────────────────────────┘             │          │
	│  └────────────────────────────────────────────┘          │
	└────────────────────────────────────────────────────────┘

# Core Components

EventStore:
  - Append-only durable log of every envelope the coordinator accepts
  - Composite key orders a correlation's events by sequence for free
  - GetEvents supports the §6 read API and the rebuild-from-log invariant

ReadModelStore:
  - ClaimSeen: idempotency claim per event_id (coordinator step 1)
  - LastSequence/AdvanceSequence: per-correlation sequencing state
  - GetIntent/GetPlan: materialized projections for external readers

Transaction Model:
  - Read transactions: db.View() - concurrent, consistent snapshots
  - Write transactions: db.Update() - serialized, atomic commits
  - Durability: fsync on commit

# Usage

	events, err := storage.NewEventStore(dataDir)
	models, err := storage.NewReadModelStore(dataDir)
	defer events.Close()
	defer models.Close()

	claimed, err := models.ClaimSeen(env.EventID)
	if claimed {
		if err := events.Append(env); err != nil {
			return err
		}
		if err := models.AdvanceSequence(env.CorrelationID, env.Sequence); err != nil {
			return err
		}
	}

# Integration Points

This package integrates with:

  - pkg/coordinator: owns both stores, runs the apply() reducer
  - pkg/planner: falls back to EventStore.GetEvents on a cache miss
  - pkg/gateway: replays EventStore.GetEvents for resume-from-sequence
  - cmd/execd: the `events` and `rebuild` operator subcommands

# Data Integrity

Atomicity spans a single bbolt database, not both files at once: the
coordinator serializes ClaimSeen -> Append -> AdvanceSequence -> project
under its own per-correlation critical section (see pkg/coordinator),
rather than relying on a cross-file transaction bbolt cannot provide.

  - BoltDB documentation: https://github.com/etcd-io/bbolt
*/
package storage
