// Package storage holds the durable bbolt-backed state behind the
// coordinator: the append-only event log and the projected read models.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/execd/pkg/types"
)

var bucketEvents = []byte("events")

// EventStore is the durable append-only log from spec §6: every envelope
// ever accepted by the coordinator, ordered within a correlation by
// sequence. The bucket key is a composite
// `correlation_id\x00%020d\x00event_id` so that a bbolt cursor range over
// a correlation's key prefix yields ascending-sequence order for free,
// without a secondary index.
type EventStore struct {
	db *bolt.DB
}

// NewEventStore opens (or creates) the event log at dataDir/events.db.
func NewEventStore(dataDir string) (*EventStore, error) {
	path := filepath.Join(dataDir, "events.db")
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open event store: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketEvents)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create events bucket: %w", err)
	}
	return &EventStore{db: db}, nil
}

func (s *EventStore) Close() error {
	return s.db.Close()
}

func eventKey(correlationID string, sequence int, eventID types.EventID) []byte {
	return []byte(fmt.Sprintf("%s\x00%020d\x00%s", correlationID, sequence, eventID.String()))
}

// Append writes env to the log. It is not idempotent on its own; the
// coordinator's idempotency claim (ReadModelStore.ClaimSeen) guards
// against double-append of the same event_id before Append is ever
// called, per spec §4.8 steps 1 and 3.
func (s *EventStore) Append(env *types.EventEnvelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEvents)
		return b.Put(eventKey(env.CorrelationID, env.Sequence, env.EventID), data)
	})
}

// GetEvents returns every envelope for correlationID with sequence >=
// fromSequence, in ascending sequence order, per the §6 read API and the
// §4.8 rebuild-from-log invariant. ctx is accepted (and currently
// ignored) so EventStore satisfies planner.IntentLookup and any future
// gateway replay consumer without an adapter shim; bbolt reads complete
// fast enough that cancellation mid-scan isn't worth the bookkeeping.
func (s *EventStore) GetEvents(ctx context.Context, correlationID string, fromSequence int) ([]*types.EventEnvelope, error) {
	prefix := []byte(correlationID + "\x00")
	var envs []*types.EventEnvelope
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketEvents).Cursor()
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			var env types.EventEnvelope
			if err := json.Unmarshal(v, &env); err != nil {
				return fmt.Errorf("decode envelope %s: %w", k, err)
			}
			if env.Sequence >= fromSequence {
				envs = append(envs, &env)
			}
		}
		return nil
	})
	return envs, err
}

// AllEvents returns every envelope in the log in key order: ascending by
// correlation ID, and ascending by sequence within a correlation. Used
// by the rebuild path to replay the entire log from empty read-model
// state; cross-correlation ordering doesn't matter since projection is
// scoped per correlation.
func (s *EventStore) AllEvents(ctx context.Context) ([]*types.EventEnvelope, error) {
	var envs []*types.EventEnvelope
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketEvents).ForEach(func(k, v []byte) error {
			var env types.EventEnvelope
			if err := json.Unmarshal(v, &env); err != nil {
				return fmt.Errorf("decode envelope %s: %w", k, err)
			}
			envs = append(envs, &env)
			return nil
		})
	})
	return envs, err
}

func hasPrefix(k, prefix []byte) bool {
	if len(k) < len(prefix) {
		return false
	}
	for i := range prefix {
		if k[i] != prefix[i] {
			return false
		}
	}
	return true
}
