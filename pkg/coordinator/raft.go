package coordinator

import (
	"io"

	"github.com/hashicorp/raft"
)

// noopFSM backs the Raft group that gates coordinator leadership. No
// domain command ever flows through Raft's own log here: Raft exists
// purely to elect a single leader permitted to run the ingest critical
// section (claim -> sequence -> append -> project). The durable domain
// log lives in storage.EventStore instead, keyed by correlation ID and
// sequence for direct range queries, which Raft's own log format
// cannot serve.
type noopFSM struct{}

func (noopFSM) Apply(*raft.Log) interface{} { return nil }

func (noopFSM) Snapshot() (raft.FSMSnapshot, error) { return noopSnapshot{}, nil }

func (noopFSM) Restore(rc io.ReadCloser) error {
	return rc.Close()
}

type noopSnapshot struct{}

func (noopSnapshot) Persist(sink raft.SnapshotSink) error { return sink.Close() }
func (noopSnapshot) Release()                             {}
