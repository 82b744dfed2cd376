package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/execd/pkg/events"
	"github.com/cuemby/execd/pkg/storage"
	"github.com/cuemby/execd/pkg/types"
)

func newTestGateway(t *testing.T) (*Gateway, *events.Bus, *storage.EventStore) {
	t.Helper()
	bus := events.NewBus(events.Config{})
	t.Cleanup(bus.Close)

	es, err := storage.NewEventStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { es.Close() })

	return New(bus, es, 4), bus, es
}

func submitted(t *testing.T, corrID string, seq int) *types.EventEnvelope {
	t.Helper()
	e, err := types.MakeEnvelope(types.TopicIntentSubmitted, types.Intent{IntentID: corrID}, corrID, nil, &seq)
	require.NoError(t, err)
	return e
}

func TestSubscribeRejectsUnknownPattern(t *testing.T) {
	gw, _, _ := newTestGateway(t)
	_, err := gw.Subscribe(context.Background(), SubscribeRequest{Topics: []string{"market.ticks"}})
	assert.Error(t, err)
}

func TestSubscribeRejectsResumeFromWithoutCorrelationID(t *testing.T) {
	gw, _, _ := newTestGateway(t)
	from := 1
	_, err := gw.Subscribe(context.Background(), SubscribeRequest{Topics: []string{"intent.*"}, ResumeFrom: &from})
	assert.Error(t, err)
}

func TestSubscribeAcceptsWildcardFamilyAndStar(t *testing.T) {
	gw, _, _ := newTestGateway(t)
	sess, err := gw.Subscribe(context.Background(), SubscribeRequest{Topics: []string{"intent.*", "exec.*"}})
	require.NoError(t, err)
	defer sess.Close()

	sess2, err := gw.Subscribe(context.Background(), SubscribeRequest{Topics: []string{"*"}})
	require.NoError(t, err)
	defer sess2.Close()
}

func TestSubscribeLiveTailsMatchingEnvelope(t *testing.T) {
	gw, bus, _ := newTestGateway(t)
	sess, err := gw.Subscribe(context.Background(), SubscribeRequest{Topics: []string{"intent.*"}})
	require.NoError(t, err)
	defer sess.Close()

	e := submitted(t, "intent-1", 1)
	_, err = bus.Publish(context.Background(), e, nil)
	require.NoError(t, err)

	select {
	case msg := <-sess.Messages():
		require.NotNil(t, msg.Envelope)
		assert.Equal(t, "intent-1", msg.Envelope.CorrelationID)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for envelope")
	}
}

func TestSubscribeFiltersByCorrelationID(t *testing.T) {
	gw, bus, _ := newTestGateway(t)
	sess, err := gw.Subscribe(context.Background(), SubscribeRequest{Topics: []string{"intent.*"}, CorrelationID: "intent-match"})
	require.NoError(t, err)
	defer sess.Close()

	_, err = bus.Publish(context.Background(), submitted(t, "intent-other", 1), nil)
	require.NoError(t, err)
	_, err = bus.Publish(context.Background(), submitted(t, "intent-match", 1), nil)
	require.NoError(t, err)

	select {
	case msg := <-sess.Messages():
		require.NotNil(t, msg.Envelope)
		assert.Equal(t, "intent-match", msg.Envelope.CorrelationID)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for envelope")
	}
}

func TestSubscribeResumeFromReplaysThenMarksComplete(t *testing.T) {
	gw, _, es := newTestGateway(t)

	for seq := 1; seq <= 3; seq++ {
		require.NoError(t, es.Append(submitted(t, "intent-resume", seq)))
	}

	from := 1
	sess, err := gw.Subscribe(context.Background(), SubscribeRequest{
		Topics:        []string{"intent.*"},
		CorrelationID: "intent-resume",
		ResumeFrom:    &from,
	})
	require.NoError(t, err)
	defer sess.Close()

	var gotSeqs []int
	var sawResumeComplete bool
	for i := 0; i < 2; i++ {
		select {
		case msg := <-sess.Messages():
			if msg.Envelope != nil {
				gotSeqs = append(gotSeqs, msg.Envelope.Sequence)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for replay")
		}
	}
	select {
	case msg := <-sess.Messages():
		sawResumeComplete = msg.Control == ControlResumeComplete
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for resume_complete")
	}

	assert.Equal(t, []int{2, 3}, gotSeqs)
	assert.True(t, sawResumeComplete)
}

func TestClientSessionDisconnectsOnCriticalQueueFull(t *testing.T) {
	gw, bus, _ := newTestGateway(t)
	sess, err := gw.Subscribe(context.Background(), SubscribeRequest{Topics: []string{"intent.*"}})
	require.NoError(t, err)

	for seq := 1; seq <= 8; seq++ {
		_, err := bus.Publish(context.Background(), submitted(t, "intent-flood", seq), nil)
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		sess.mu.Lock()
		defer sess.mu.Unlock()
		return sess.closed
	}, 2*time.Second, 10*time.Millisecond, "session should disconnect when a never-drop queue fills")
}
