package storage

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/execd/pkg/types"
)

// ErrNotFound is returned by GetIntent/GetPlan when no projection exists
// yet for the given id.
var ErrNotFound = errors.New("read model not found")

var (
	bucketIntents = []byte("intents")
	bucketPlans   = []byte("plans")
	bucketSeen    = []byte("seen")
	bucketSeq     = []byte("seq")
)

// ReadModelStore holds the projections the coordinator maintains: the
// `intent:{id}`, `plan:{id}`, `seen:{event_id}`, and `seq:{correlation_id}`
// keys from spec §6, one bbolt bucket per concern.
type ReadModelStore struct {
	db *bolt.DB
}

// NewReadModelStore opens (or creates) the projection store at
// dataDir/readmodels.db.
func NewReadModelStore(dataDir string) (*ReadModelStore, error) {
	path := filepath.Join(dataDir, "readmodels.db")
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open read model store: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketIntents, bucketPlans, bucketSeen, bucketSeq} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &ReadModelStore{db: db}, nil
}

func (s *ReadModelStore) Close() error {
	return s.db.Close()
}

// Reset wipes every projection bucket (intents, plans, seen, seq) so the
// caller can replay the event log from empty state, per the §4.8
// rebuild-from-log invariant. It does not touch the event log itself.
func (s *ReadModelStore) Reset() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketIntents, bucketPlans, bucketSeen, bucketSeq} {
			if err := tx.DeleteBucket(b); err != nil {
				return fmt.Errorf("delete bucket %s: %w", b, err)
			}
			if _, err := tx.CreateBucket(b); err != nil {
				return fmt.Errorf("recreate bucket %s: %w", b, err)
			}
		}
		return nil
	})
}

// ClaimSeen attempts to atomically claim event_id, per spec §4.8 step 1.
// It reports true if this call made the claim (the event has not been
// seen before); false means a prior call already claimed it and the
// caller must acknowledge and drop the envelope without re-appending it.
func (s *ReadModelStore) ClaimSeen(eventID types.EventID) (bool, error) {
	claimed := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSeen)
		key := []byte(eventID.String())
		if b.Get(key) != nil {
			return nil
		}
		claimed = true
		return b.Put(key, []byte{1})
	})
	return claimed, err
}

// LastSequence returns the highest sequence number appended for
// correlationID, or 0 if none has been recorded yet.
func (s *ReadModelStore) LastSequence(correlationID string) (int, error) {
	var last int
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketSeq).Get([]byte(correlationID))
		if v == nil {
			return nil
		}
		last = int(binary.BigEndian.Uint64(v))
		return nil
	})
	return last, err
}

// AdvanceSequence sets last_sequence[correlationID] to sequence. The
// coordinator calls this in the same critical section as EventStore.Append
// so the two stay consistent, per the §4.8 step 3 atomicity requirement;
// bbolt gives per-store transaction atomicity, not cross-store, so the
// coordinator serializes both calls under its own per-correlation lock
// rather than relying on a single bbolt transaction spanning both files.
func (s *ReadModelStore) AdvanceSequence(correlationID string, sequence int) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, uint64(sequence))
		return tx.Bucket(bucketSeq).Put([]byte(correlationID), buf)
	})
}

func (s *ReadModelStore) GetIntent(intentID string) (*types.IntentReadModel, error) {
	var rm types.IntentReadModel
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketIntents).Get([]byte(intentID))
		if v == nil {
			return nil
		}
		found = true
		return json.Unmarshal(v, &rm)
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: intent %s", ErrNotFound, intentID)
	}
	return &rm, nil
}

// SaveIntent upserts the intent projection. Called by the coordinator
// after apply() produces a new state; never called directly by other
// components, which only read through GetIntent.
func (s *ReadModelStore) SaveIntent(rm *types.IntentReadModel) error {
	data, err := json.Marshal(rm)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketIntents).Put([]byte(rm.IntentID), data)
	})
}

func (s *ReadModelStore) GetPlan(planID string) (*types.PlanReadModel, error) {
	var rm types.PlanReadModel
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketPlans).Get([]byte(planID))
		if v == nil {
			return nil
		}
		found = true
		return json.Unmarshal(v, &rm)
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: plan %s", ErrNotFound, planID)
	}
	return &rm, nil
}

// SavePlan upserts the plan projection. Called by the coordinator after
// apply() produces a new state.
func (s *ReadModelStore) SavePlan(rm *types.PlanReadModel) error {
	data, err := json.Marshal(rm)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPlans).Put([]byte(rm.PlanID), data)
	})
}
