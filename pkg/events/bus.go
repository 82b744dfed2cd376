// Package events implements the single logical broker abstraction (C2):
// named-topic pub/sub with wildcard subscriptions, server-side dedup by
// event id, durable queue groups with at-least-once delivery, and
// ephemeral live subscribers with no redelivery.
package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/execd/pkg/metrics"
	"github.com/cuemby/execd/pkg/types"
)

// PublishResult reports the outcome of a Publish call.
type PublishResult int

const (
	Ack PublishResult = iota
	DuplicateSuppressed
)

func (r PublishResult) String() string {
	if r == DuplicateSuppressed {
		return "DuplicateSuppressed"
	}
	return "Ack"
}

// ErrPublishFailed wraps transport-level publish failures.
var ErrPublishFailed = errors.New("publish failed")

// Headers are opaque per-publish metadata; the bus always dedups on
// envelope.EventID regardless of what headers carry, per §6.
type Headers map[string]string

// Config controls bus-wide tunables, mirroring the §6 configuration table.
type Config struct {
	DedupWindow     time.Duration
	QueueAckTimeout time.Duration
	QueueBufferSize int
	EphemeralBuffer int
}

func (c Config) withDefaults() Config {
	if c.DedupWindow <= 0 {
		c.DedupWindow = 2 * time.Minute
	}
	if c.QueueAckTimeout <= 0 {
		c.QueueAckTimeout = 5 * time.Second
	}
	if c.QueueBufferSize <= 0 {
		c.QueueBufferSize = 64
	}
	if c.EphemeralBuffer <= 0 {
		c.EphemeralBuffer = 256
	}
	return c
}

// ResumePoint names the last envelope an ephemeral subscriber has seen
// for a given correlation, accepted for API symmetry with C9's replay
// composition. The bus performs no replay of its own.
type ResumePoint struct {
	CorrelationID string
	Sequence      int
}

// Bus is the in-process broker implementation of C2.
type Bus struct {
	cfg Config

	mu   sync.Mutex
	seen map[types.EventID]time.Time

	groups    map[string]*queueGroup // keyed by group name
	ephemeral map[string]*ephemeralMember
	pending   map[types.EventID]*pendingDelivery

	closed   bool
	stopOnce sync.Once
	stopCh   chan struct{}

	nextMemberID int
}

// NewBus constructs a Bus with the given configuration and starts its
// dedup-window janitor.
func NewBus(cfg Config) *Bus {
	cfg = cfg.withDefaults()
	b := &Bus{
		cfg:       cfg,
		seen:      make(map[types.EventID]time.Time),
		groups:    make(map[string]*queueGroup),
		ephemeral: make(map[string]*ephemeralMember),
		pending:   make(map[types.EventID]*pendingDelivery),
		stopCh:    make(chan struct{}),
	}
	go b.janitor()
	return b
}

// Close stops the janitor loop. Existing subscriptions remain valid but
// will no longer receive deliveries once Publish observes b.closed.
func (b *Bus) Close() {
	b.stopOnce.Do(func() {
		close(b.stopCh)
		b.mu.Lock()
		b.closed = true
		b.mu.Unlock()
	})
}

func (b *Bus) janitor() {
	ticker := time.NewTicker(b.cfg.DedupWindow / 4)
	defer ticker.Stop()
	for {
		select {
		case <-b.stopCh:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-b.cfg.DedupWindow)
			b.mu.Lock()
			for id, seenAt := range b.seen {
				if seenAt.Before(cutoff) {
					delete(b.seen, id)
				}
			}
			b.mu.Unlock()
		}
	}
}

// queueGroup is a durable, load-balanced consumer set for one pattern.
type queueGroup struct {
	name    string
	pattern string
	mu      sync.Mutex
	members []*queueMember
	rrIndex int
}

type queueMember struct {
	id     string
	ch     chan *types.EventEnvelope
	active bool
}

type pendingDelivery struct {
	envelope  *types.EventEnvelope
	group     *queueGroup
	memberIdx int
	timer     *time.Timer
	attempts  int
}

// ephemeralMember is a best-effort live tap.
type ephemeralMember struct {
	id      string
	pattern string
	ch      chan *types.EventEnvelope
	active  bool
}

// QueueSubscription is a handle returned by SubscribeQueue.
type QueueSubscription struct {
	bus    *Bus
	group  *queueGroup
	member *queueMember
	once   sync.Once
}

// EphemeralSubscription is a handle returned by SubscribeEphemeral.
type EphemeralSubscription struct {
	bus    *Bus
	member *ephemeralMember
	once   sync.Once
}

// Publish dedups on envelope.EventID within the configured window and
// fans the envelope out to matching queue groups (load-balanced, exactly
// one member per group) and ephemeral subscribers (best-effort, all
// matching subscribers).
func (b *Bus) Publish(ctx context.Context, envelope *types.EventEnvelope, headers Headers) (PublishResult, error) {
	if envelope == nil {
		return 0, fmt.Errorf("%w: nil envelope", ErrPublishFailed)
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return 0, fmt.Errorf("%w: bus closed", ErrPublishFailed)
	}
	if _, dup := b.seen[envelope.EventID]; dup {
		b.mu.Unlock()
		metrics.BusDedupSuppressedTotal.Inc()
		return DuplicateSuppressed, nil
	}
	b.seen[envelope.EventID] = time.Now()

	var matchedGroups []*queueGroup
	for _, g := range b.groups {
		if envelope.Topic.MatchesPattern(g.pattern) {
			matchedGroups = append(matchedGroups, g)
		}
	}
	var matchedEphemeral []*ephemeralMember
	for _, m := range b.ephemeral {
		if m.active && envelope.Topic.MatchesPattern(m.pattern) {
			matchedEphemeral = append(matchedEphemeral, m)
		}
	}
	b.mu.Unlock()

	for _, g := range matchedGroups {
		b.deliverToGroup(g, envelope)
	}
	for _, m := range matchedEphemeral {
		select {
		case m.ch <- envelope:
		default:
			// Best-effort: drop on a full ephemeral buffer rather than block.
		}
	}

	return Ack, nil
}

func (b *Bus) deliverToGroup(g *queueGroup, envelope *types.EventEnvelope) {
	g.mu.Lock()
	if len(g.members) == 0 {
		g.mu.Unlock()
		return
	}
	idx := b.pickMemberLocked(g)
	if idx < 0 {
		g.mu.Unlock()
		return
	}
	member := g.members[idx]
	g.mu.Unlock()

	b.mu.Lock()
	pd := &pendingDelivery{
		envelope:  envelope,
		group:     g,
		memberIdx: idx,
		attempts:  1,
	}
	pd.timer = time.AfterFunc(b.cfg.QueueAckTimeout, func() { b.redeliver(envelope.EventID) })
	b.pending[envelope.EventID] = pd
	depth := len(b.pending)
	b.mu.Unlock()
	metrics.BusQueueDepth.WithLabelValues(g.pattern, g.name).Set(float64(depth))

	select {
	case member.ch <- envelope:
	default:
		// Member buffer full; treat as an immediate missed delivery so the
		// redelivery path picks another member.
		b.redeliver(envelope.EventID)
	}
}

// pickMemberLocked returns the next active member index via round robin.
// Caller holds g.mu.
func (b *Bus) pickMemberLocked(g *queueGroup) int {
	n := len(g.members)
	for i := 0; i < n; i++ {
		idx := (g.rrIndex + i) % n
		if g.members[idx].active {
			g.rrIndex = (idx + 1) % n
			return idx
		}
	}
	return -1
}

func (b *Bus) redeliver(id types.EventID) {
	b.mu.Lock()
	pd, ok := b.pending[id]
	if !ok {
		b.mu.Unlock()
		return
	}
	delete(b.pending, id)
	b.mu.Unlock()

	if pd.timer != nil {
		pd.timer.Stop()
	}

	pd.group.mu.Lock()
	n := len(pd.group.members)
	idx := -1
	for i := 1; i <= n; i++ {
		candidate := (pd.memberIdx + i) % n
		if pd.group.members[candidate].active {
			idx = candidate
			break
		}
	}
	if idx < 0 {
		pd.group.mu.Unlock()
		return
	}
	member := pd.group.members[idx]
	pd.group.mu.Unlock()

	pd.memberIdx = idx
	pd.attempts++
	pd.timer = time.AfterFunc(b.cfg.QueueAckTimeout, func() { b.redeliver(id) })
	metrics.BusRedeliveriesTotal.Inc()

	b.mu.Lock()
	b.pending[id] = pd
	b.mu.Unlock()

	select {
	case member.ch <- pd.envelope:
	default:
		b.redeliver(id)
	}
}

// SubscribeQueue attaches a worker to a durable, load-balanced consumer
// group for pattern. Every member of a group must subscribe with the
// same pattern; subsequent subscribers joining an existing group name
// reuse its pattern.
func (b *Bus) SubscribeQueue(pattern, group string) (*QueueSubscription, error) {
	if pattern == "" || group == "" {
		return nil, errors.New("pattern and group must be provided")
	}
	b.mu.Lock()
	g, ok := b.groups[group]
	if !ok {
		g = &queueGroup{name: group, pattern: pattern}
		b.groups[group] = g
	} else if g.pattern != pattern {
		b.mu.Unlock()
		return nil, fmt.Errorf("group %q already subscribed with pattern %q, got %q", group, g.pattern, pattern)
	}
	b.nextMemberID++
	memberID := fmt.Sprintf("%s-%d", group, b.nextMemberID)
	b.mu.Unlock()

	member := &queueMember{id: memberID, ch: make(chan *types.EventEnvelope, b.cfg.QueueBufferSize), active: true}
	g.mu.Lock()
	g.members = append(g.members, member)
	g.mu.Unlock()

	return &QueueSubscription{bus: b, group: g, member: member}, nil
}

// Envelopes exposes the delivery channel for a queue subscription.
func (q *QueueSubscription) Envelopes() <-chan *types.EventEnvelope {
	return q.member.ch
}

// Ack acknowledges successful processing of id, clearing its pending
// redelivery timer.
func (q *QueueSubscription) Ack(id types.EventID) error {
	q.bus.mu.Lock()
	pd, ok := q.bus.pending[id]
	if ok {
		delete(q.bus.pending, id)
	}
	depth := len(q.bus.pending)
	q.bus.mu.Unlock()
	if !ok {
		return fmt.Errorf("no pending delivery for event %s", id)
	}
	if pd.timer != nil {
		pd.timer.Stop()
	}
	metrics.BusQueueDepth.WithLabelValues(pd.group.pattern, pd.group.name).Set(float64(depth))
	return nil
}

// Nack signals failed processing of id, triggering immediate redelivery
// to another group member.
func (q *QueueSubscription) Nack(id types.EventID) {
	q.bus.redeliver(id)
}

// Close removes the member from its group. Any delivery already in
// flight to this member is redelivered on its normal ack-timeout
// schedule rather than dropped.
func (q *QueueSubscription) Close() {
	q.once.Do(func() {
		q.group.mu.Lock()
		q.member.active = false
		q.group.mu.Unlock()
	})
}

// SubscribeEphemeral attaches a best-effort live tap for pattern. from is
// accepted for API symmetry with the gateway's resume-from-log
// composition (C9); the bus itself never replays past envelopes.
func (b *Bus) SubscribeEphemeral(ctx context.Context, pattern string, from *ResumePoint) (*EphemeralSubscription, error) {
	if pattern == "" {
		return nil, errors.New("pattern must be provided")
	}
	b.mu.Lock()
	b.nextMemberID++
	id := fmt.Sprintf("ephemeral-%d", b.nextMemberID)
	member := &ephemeralMember{id: id, pattern: pattern, ch: make(chan *types.EventEnvelope, b.cfg.EphemeralBuffer), active: true}
	b.ephemeral[id] = member
	b.mu.Unlock()

	sub := &EphemeralSubscription{bus: b, member: member}
	go func() {
		<-ctx.Done()
		sub.Close()
	}()
	return sub, nil
}

// Envelopes exposes the delivery channel for an ephemeral subscription.
func (s *EphemeralSubscription) Envelopes() <-chan *types.EventEnvelope {
	return s.member.ch
}

// Close detaches the ephemeral subscriber; no redelivery occurs.
func (s *EphemeralSubscription) Close() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.ephemeral, s.member.id)
		s.bus.mu.Unlock()
		s.member.active = false
	})
}
