// Package gateway implements the Realtime Gateway (C9): the
// subscription and resume-from-log contract a thin transport (HTTP,
// WebSocket) calls into. The transport itself is out of scope; this
// package exposes the contract as a plain Go API.
package gateway

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/cuemby/execd/pkg/events"
	"github.com/cuemby/execd/pkg/log"
	"github.com/cuemby/execd/pkg/metrics"
	"github.com/cuemby/execd/pkg/types"
)

// ControlResumeComplete marks the end of historical replay on a session
// that requested ResumeFrom, per spec §6's subscription contract.
const ControlResumeComplete = "resume_complete"

const defaultQueueDepth = 1024

// knownFamilies are the topic prefixes this core ever publishes under.
// Anything else (a future market-data feed, say) is classified as
// droppable under backpressure; these four are never dropped.
var knownFamilies = []string{"intent.", "risk.", "plan.", "exec."}

func isCriticalTopic(topic types.Topic) bool {
	for _, prefix := range knownFamilies {
		if strings.HasPrefix(string(topic), prefix) {
			return true
		}
	}
	return false
}

func topicClass(topic types.Topic) string {
	for _, prefix := range knownFamilies {
		if strings.HasPrefix(string(topic), prefix) {
			return strings.TrimSuffix(prefix, ".")
		}
	}
	return "other"
}

func validPattern(pattern string) bool {
	if types.Topic(pattern).IsRegistered() {
		return true
	}
	if !strings.HasSuffix(pattern, "*") {
		return false
	}
	if pattern == "*" {
		return true
	}
	prefix := strings.TrimSuffix(pattern, "*")
	for _, family := range knownFamilies {
		if prefix == family {
			return true
		}
	}
	return false
}

// EventLookup resolves historical envelopes for resume replay. C8's
// EventStore (and the Coordinator facade in front of it) implement this.
type EventLookup interface {
	GetEvents(ctx context.Context, correlationID string, fromSequence int) ([]*types.EventEnvelope, error)
}

// SubscribeRequest is the gateway's subscribe operation input, per §4.9
// and the §6 subscription contract.
type SubscribeRequest struct {
	Topics        []string
	CorrelationID string
	ResumeFrom    *int
}

// Message is either a domain envelope or a control marker; exactly one
// of the two fields is set.
type Message struct {
	Envelope *types.EventEnvelope
	Control  string
}

// Gateway mediates between the bus/log and per-connection sessions.
type Gateway struct {
	bus        *events.Bus
	lookup     EventLookup
	queueDepth int
	logger     zerolog.Logger
}

// New constructs a Gateway. queueDepth <= 0 uses GATEWAY_QUEUE_DEPTH's
// default of 1024.
func New(bus *events.Bus, lookup EventLookup, queueDepth int) *Gateway {
	if queueDepth <= 0 {
		queueDepth = defaultQueueDepth
	}
	return &Gateway{
		bus:        bus,
		lookup:     lookup,
		queueDepth: queueDepth,
		logger:     log.WithComponent("gateway"),
	}
}

// ClientSession is the per-connection state: subscriptions, last-seen
// sequence per correlation, and the bounded outbound queue.
type ClientSession struct {
	id   string
	out  chan *Message
	done chan struct{}
	once sync.Once

	mu       sync.Mutex
	lastSeen map[string]int
	closed   bool

	cancel context.CancelFunc
}

// Messages is the channel a transport drains to push data to the client.
// The channel is not closed when the session ends (client disconnect or
// backpressure violation on a never-drop topic); after the session ends
// no further messages are queued on it.
func (s *ClientSession) Messages() <-chan *Message {
	return s.out
}

// LastSeen returns the sequence last delivered for correlationID, or 0.
func (s *ClientSession) LastSeen(correlationID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen[correlationID]
}

// Close tears down the session's bus subscriptions and stops further
// enqueueing. It does not close the Messages channel.
func (s *ClientSession) Close() {
	s.once.Do(func() {
		s.cancel()
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.done)
	})
}

func (s *ClientSession) enqueue(env *types.EventEnvelope) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.lastSeen[env.CorrelationID] = env.Sequence
	s.mu.Unlock()

	msg := &Message{Envelope: env}
	select {
	case s.out <- msg:
		return
	default:
	}

	if isCriticalTopic(env.Topic) {
		metrics.GatewayDroppedTotal.WithLabelValues(topicClass(env.Topic)).Inc()
		s.Close()
		return
	}

	// Droppable class: make room by discarding the oldest queued
	// message, then enqueue the new one. A concurrent drain can race
	// this, in which case the send below simply succeeds without
	// needing the drop; either outcome keeps the queue within depth.
	select {
	case <-s.out:
		metrics.GatewayDroppedTotal.WithLabelValues(topicClass(env.Topic)).Inc()
	default:
	}
	select {
	case s.out <- msg:
	default:
	}
}

func (s *ClientSession) enqueueControl(control string) {
	select {
	case s.out <- &Message{Control: control}:
	default:
	}
}

// Subscribe establishes a session for req, replaying missed envelopes
// from the durable log when ResumeFrom is set, then live-tailing the
// bus for every requested pattern, per §4.9.
func (g *Gateway) Subscribe(ctx context.Context, req SubscribeRequest) (*ClientSession, error) {
	if len(req.Topics) == 0 {
		return nil, fmt.Errorf("subscribe requires at least one topic pattern")
	}
	for _, pattern := range req.Topics {
		if !validPattern(pattern) {
			return nil, fmt.Errorf("invalid topic pattern %q", pattern)
		}
	}
	if req.ResumeFrom != nil && req.CorrelationID == "" {
		return nil, fmt.Errorf("resume_from requires correlation_id")
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	session := &ClientSession{
		id:       types.NewEventID().String(),
		out:      make(chan *Message, g.queueDepth),
		done:     make(chan struct{}),
		lastSeen: make(map[string]int),
		cancel:   cancel,
	}
	metrics.GatewayConnectionsTotal.Inc()

	if req.ResumeFrom != nil {
		if err := g.replay(sessionCtx, session, req); err != nil {
			cancel()
			metrics.GatewayConnectionsTotal.Dec()
			return nil, fmt.Errorf("resume replay: %w", err)
		}
		session.enqueueControl(ControlResumeComplete)
	}

	for _, pattern := range req.Topics {
		sub, err := g.bus.SubscribeEphemeral(sessionCtx, pattern, nil)
		if err != nil {
			cancel()
			metrics.GatewayConnectionsTotal.Dec()
			return nil, fmt.Errorf("subscribe %s: %w", pattern, err)
		}
		go g.pump(sub, session, req.CorrelationID)
	}

	go func() {
		<-session.done
		metrics.GatewayConnectionsTotal.Dec()
	}()

	return session, nil
}

func (g *Gateway) replay(ctx context.Context, session *ClientSession, req SubscribeRequest) error {
	envs, err := g.lookup.GetEvents(ctx, req.CorrelationID, *req.ResumeFrom+1)
	if err != nil {
		return err
	}
	for _, env := range envs {
		session.enqueue(env)
	}
	return nil
}

func (g *Gateway) pump(sub *events.EphemeralSubscription, session *ClientSession, correlationFilter string) {
	defer sub.Close()
	for {
		select {
		case <-session.done:
			return
		case env, ok := <-sub.Envelopes():
			if !ok {
				return
			}
			if correlationFilter != "" && env.CorrelationID != correlationFilter {
				continue
			}
			metrics.GatewayQueueDepth.WithLabelValues(session.id).Set(float64(len(session.out)))
			session.enqueue(env)
		}
	}
}
