// Package coordinator implements the State Coordinator (C8): the single
// writer that ingests every envelope on the bus, assigns sequence
// numbers, appends to the durable log, and projects read models, per
// spec §4.8. A Raft group gates which instance is allowed to run that
// critical section, generalizing from a single node to an HA
// coordinator without further changes.
package coordinator

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
	"github.com/rs/zerolog"

	"github.com/cuemby/execd/pkg/events"
	"github.com/cuemby/execd/pkg/log"
	"github.com/cuemby/execd/pkg/metrics"
	"github.com/cuemby/execd/pkg/storage"
	"github.com/cuemby/execd/pkg/types"
)

const (
	queueGroup = "coordinator"
	// pattern "*" covers every topic family (intent.*, risk.*, plan.*,
	// exec.*): the fixed registry in pkg/types has no topics outside
	// those four families, so a single subscription is equivalent to
	// subscribing to all of them individually.
	pattern = "*"

	maxBufferedPerCorrelation = 256
	bufferWindow              = 30 * time.Second
)

// Config configures a Coordinator's Raft node. A single-node deployment
// bootstraps itself as the sole voter; additional nodes join an
// existing group via AddVoter on the current leader.
type Config struct {
	NodeID   string
	BindAddr string
	DataDir  string
}

// Coordinator is the bus consumer that owns the durable log and read
// models. Only the Raft leader processes deliveries; followers nack
// immediately so the bus redelivers to whichever instance currently
// holds leadership.
type Coordinator struct {
	bus    *events.Bus
	events *storage.EventStore
	models *storage.ReadModelStore
	raft   *raft.Raft
	logger zerolog.Logger

	// corrLocks serializes the claim->sequence->append->project critical
	// section per correlation_id, per spec §5: no cross-correlation
	// locking, so independent correlations proceed fully in parallel.
	corrLocks sync.Map // string -> *sync.Mutex
	buffers   sync.Map // string -> *gapBuffer

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// gapBuffer holds out-of-order envelopes for one correlation while the
// coordinator waits for the missing sequence(s) to arrive.
type gapBuffer struct {
	mu      sync.Mutex
	pending map[int]*types.EventEnvelope
	timer   *time.Timer
}

// New constructs a Coordinator and its single-node Raft group, bootstrapping
// a fresh cluster if the data directory is empty. It does not start
// consuming until Start is called.
func New(cfg Config, bus *events.Bus, es *storage.EventStore, rms *storage.ReadModelStore) (*Coordinator, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	raftCfg := raft.DefaultConfig()
	raftCfg.LocalID = raft.ServerID(cfg.NodeID)

	addr, err := net.ResolveTCPAddr("tcp", cfg.BindAddr)
	if err != nil {
		return nil, fmt.Errorf("resolve bind address: %w", err)
	}
	transport, err := raft.NewTCPTransport(cfg.BindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("create raft transport: %w", err)
	}

	snapshotStore, err := raft.NewFileSnapshotStore(cfg.DataDir, 2, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("create snapshot store: %w", err)
	}

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "raft-log.db"))
	if err != nil {
		return nil, fmt.Errorf("create raft log store: %w", err)
	}
	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "raft-stable.db"))
	if err != nil {
		return nil, fmt.Errorf("create raft stable store: %w", err)
	}

	r, err := raft.NewRaft(raftCfg, noopFSM{}, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		return nil, fmt.Errorf("create raft node: %w", err)
	}

	hasState, err := raft.HasExistingState(logStore, stableStore, snapshotStore)
	if err != nil {
		return nil, fmt.Errorf("check raft state: %w", err)
	}
	if !hasState {
		configuration := raft.Configuration{
			Servers: []raft.Server{{ID: raftCfg.LocalID, Address: transport.LocalAddr()}},
		}
		if err := r.BootstrapCluster(configuration).Error(); err != nil {
			return nil, fmt.Errorf("bootstrap raft cluster: %w", err)
		}
	}

	return &Coordinator{
		bus:    bus,
		events: es,
		models: rms,
		raft:   r,
		logger: log.WithComponent("coordinator"),
		stopCh: make(chan struct{}),
	}, nil
}

// IsLeader reports whether this instance currently holds the single
// writer lease.
func (c *Coordinator) IsLeader() bool {
	return c.raft.State() == raft.Leader
}

// Start subscribes to the bus and runs the ingest loop until Stop.
func (c *Coordinator) Start(ctx context.Context) error {
	sub, err := c.bus.SubscribeQueue(pattern, queueGroup)
	if err != nil {
		return fmt.Errorf("subscribe %s/%s: %w", pattern, queueGroup, err)
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer sub.Close()
		leaderTicker := time.NewTicker(time.Second)
		defer leaderTicker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stopCh:
				return
			case <-leaderTicker.C:
				metrics.RaftLeader.Set(boolToFloat(c.IsLeader()))
			case env := <-sub.Envelopes():
				if !c.IsLeader() {
					sub.Nack(env.EventID)
					continue
				}
				if err := c.ingest(env); err != nil {
					c.logger.Error().Err(err).Str("event_id", env.EventID.String()).Msg("ingest failed")
					sub.Nack(env.EventID)
					continue
				}
				sub.Ack(env.EventID)
			}
		}
	}()
	return nil
}

// Stop halts the ingest loop, waits for it to exit, and shuts down Raft.
func (c *Coordinator) Stop() {
	close(c.stopCh)
	c.wg.Wait()
	c.raft.Shutdown()
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// ingest runs the per-correlation critical section from spec §4.8 steps
// 1-4: idempotency claim, sequencing, atomic append + last_sequence
// advance, and projection.
func (c *Coordinator) ingest(env *types.EventEnvelope) error {
	lock := c.correlationLock(env.CorrelationID)
	lock.Lock()
	defer lock.Unlock()

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.RaftApplyDuration)

	claimed, err := c.models.ClaimSeen(env.EventID)
	if err != nil {
		return fmt.Errorf("claim seen: %w", err)
	}
	if !claimed {
		return nil
	}

	return c.sequence(env)
}

// sequence implements spec §4.8 step 2. Caller holds the correlation lock.
func (c *Coordinator) sequence(env *types.EventEnvelope) error {
	last, err := c.models.LastSequence(env.CorrelationID)
	if err != nil {
		return fmt.Errorf("read last sequence: %w", err)
	}

	seq := env.Sequence
	if seq == 0 {
		seq = last + 1
		env.Sequence = seq
	}

	switch {
	case seq <= last:
		metrics.SequenceConflictTotal.Inc()
		return nil
	case seq == last+1:
		if err := c.appendAndProject(env); err != nil {
			return err
		}
		c.drainBuffered(env.CorrelationID)
		return nil
	default:
		c.bufferOutOfOrder(env)
		return nil
	}
}

// appendAndProject performs step 3 (atomic append + sequence advance)
// and step 4 (projection) for an in-order envelope. Caller holds the
// correlation lock.
func (c *Coordinator) appendAndProject(env *types.EventEnvelope) error {
	appendTimer := metrics.NewTimer()
	if err := c.events.Append(env); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	appendTimer.ObserveDuration(metrics.StoreAppendDuration)

	if err := c.models.AdvanceSequence(env.CorrelationID, env.Sequence); err != nil {
		return fmt.Errorf("advance sequence: %w", err)
	}
	return c.project(env)
}

func (c *Coordinator) project(env *types.EventEnvelope) error {
	intentID := intentIDForProjection(env)
	// A not-found error just means this is the first event for the
	// correlation; apply() treats a nil intent as the empty start state.
	intent, _ := c.models.GetIntent(intentID)

	var plan *types.PlanReadModel
	if intent != nil && intent.LatestPlanID != "" {
		plan, _ = c.models.GetPlan(intent.LatestPlanID)
	}

	nextIntent, nextPlan, err := apply(intent, plan, env)
	if err != nil {
		metrics.InvalidTransitionTotal.WithLabelValues(string(env.Topic)).Inc()
		c.logger.Warn().Err(err).Str("correlation_id", env.CorrelationID).Str("topic", string(env.Topic)).Msg("skipped invalid transition, event still appended")
		return nil
	}

	if nextIntent != nil {
		if err := c.models.SaveIntent(nextIntent); err != nil {
			return fmt.Errorf("save intent projection: %w", err)
		}
	}
	if nextPlan != nil {
		if err := c.models.SavePlan(nextPlan); err != nil {
			return fmt.Errorf("save plan projection: %w", err)
		}
	}
	return nil
}

// intentIDForProjection resolves the read-model key an envelope's
// projection applies to. intent.submitted carries it in its own payload;
// every other topic in a correlation shares that correlation's intent id,
// recovered by stripping the "intent-" prefix that types.CorrelationID
// puts in front of the intent id.
func intentIDForProjection(env *types.EventEnvelope) string {
	if env.Topic == types.TopicIntentSubmitted {
		if intent, err := env.DecodeIntent(); err == nil && intent.IntentID != "" {
			return intent.IntentID
		}
	}
	return strings.TrimPrefix(env.CorrelationID, "intent-")
}

func (c *Coordinator) correlationLock(correlationID string) *sync.Mutex {
	v, _ := c.corrLocks.LoadOrStore(correlationID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// bufferOutOfOrder implements the buffering half of spec §4.8 step 2:
// hold env until the gap fills, up to maxBufferedPerCorrelation entries
// or bufferWindow, whichever comes first.
func (c *Coordinator) bufferOutOfOrder(env *types.EventEnvelope) {
	v, _ := c.buffers.LoadOrStore(env.CorrelationID, &gapBuffer{pending: make(map[int]*types.EventEnvelope)})
	gb := v.(*gapBuffer)

	gb.mu.Lock()
	defer gb.mu.Unlock()

	if len(gb.pending) >= maxBufferedPerCorrelation {
		c.logger.Warn().Str("correlation_id", env.CorrelationID).Msg("gap buffer full, dropping oldest to make room")
		oldest := 0
		for k := range gb.pending {
			if oldest == 0 || k < oldest {
				oldest = k
			}
		}
		delete(gb.pending, oldest)
	}
	gb.pending[env.Sequence] = env

	if gb.timer == nil {
		gb.timer = time.AfterFunc(bufferWindow, func() {
			c.failForward(env.CorrelationID)
		})
	}
}

// drainBuffered releases any buffered envelopes that are now contiguous
// with last_sequence, after an in-order append fills part of a gap.
// Caller holds the correlation lock.
func (c *Coordinator) drainBuffered(correlationID string) {
	v, ok := c.buffers.Load(correlationID)
	if !ok {
		return
	}
	gb := v.(*gapBuffer)

	for {
		last, err := c.models.LastSequence(correlationID)
		if err != nil {
			return
		}
		gb.mu.Lock()
		next, ok := gb.pending[last+1]
		if ok {
			delete(gb.pending, last+1)
		}
		empty := len(gb.pending) == 0
		if empty && gb.timer != nil {
			gb.timer.Stop()
			gb.timer = nil
		}
		gb.mu.Unlock()

		if !ok {
			return
		}
		if err := c.appendAndProject(next); err != nil {
			c.logger.Error().Err(err).Str("correlation_id", correlationID).Msg("failed to append buffered envelope")
			return
		}
	}
}

// failForward implements the timeout half of spec §4.8 step 2: when the
// gap never fills within bufferWindow, skip it by advancing
// last_sequence to just before the lowest buffered entry, record
// sequence_gap, and process whatever was buffered from there forward.
func (c *Coordinator) failForward(correlationID string) {
	lock := c.correlationLock(correlationID)
	lock.Lock()
	defer lock.Unlock()

	v, ok := c.buffers.Load(correlationID)
	if !ok {
		return
	}
	gb := v.(*gapBuffer)

	gb.mu.Lock()
	if len(gb.pending) == 0 {
		gb.timer = nil
		gb.mu.Unlock()
		return
	}
	lowest := 0
	for seq := range gb.pending {
		if lowest == 0 || seq < lowest {
			lowest = seq
		}
	}
	gb.timer = nil
	gb.mu.Unlock()

	metrics.SequenceGapTotal.Inc()
	if err := c.models.AdvanceSequence(correlationID, lowest-1); err != nil {
		c.logger.Error().Err(err).Str("correlation_id", correlationID).Msg("failed to advance sequence past gap")
		return
	}
	c.drainBuffered(correlationID)
}

// GetIntent, GetPlan, and GetEvents are the §6 read API, used directly
// by C6's fallback lookup, C9's resume-replay, and the cmd/execd CLI.

func (c *Coordinator) GetIntent(intentID string) (*types.IntentReadModel, error) {
	return c.models.GetIntent(intentID)
}

func (c *Coordinator) GetPlan(planID string) (*types.PlanReadModel, error) {
	return c.models.GetPlan(planID)
}

func (c *Coordinator) GetEvents(ctx context.Context, correlationID string, fromSequence int) ([]*types.EventEnvelope, error) {
	return c.events.GetEvents(ctx, correlationID, fromSequence)
}

// Rebuild replays the entire durable event log through the projector
// from empty read-model state, per the §4.8 rebuild-from-log invariant.
// It must not run concurrently with the ingest loop; callers are
// expected to run it before Start, against an offline data directory
// (cmd/execd's rebuild subcommand does this).
func (c *Coordinator) Rebuild(ctx context.Context) (int, error) {
	if err := c.models.Reset(); err != nil {
		return 0, fmt.Errorf("reset read models: %w", err)
	}

	envs, err := c.events.AllEvents(ctx)
	if err != nil {
		return 0, fmt.Errorf("read event log: %w", err)
	}

	for _, env := range envs {
		if _, err := c.models.ClaimSeen(env.EventID); err != nil {
			return 0, fmt.Errorf("claim seen %s: %w", env.EventID, err)
		}
		if err := c.models.AdvanceSequence(env.CorrelationID, env.Sequence); err != nil {
			return 0, fmt.Errorf("advance sequence %s: %w", env.CorrelationID, err)
		}
		if err := c.project(env); err != nil {
			return 0, fmt.Errorf("project %s: %w", env.EventID, err)
		}
	}
	return len(envs), nil
}
