package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/execd/pkg/types"
)

func mustEnvelope(t *testing.T, topic types.Topic, seq int) *types.EventEnvelope {
	t.Helper()
	env, err := types.MakeEnvelope(topic, types.RiskDecisionPayload{Reason: types.ReasonNotionalLimit}, "intent-x", nil, &seq)
	require.NoError(t, err)
	return env
}

func TestPublishDedupSuppressesRepeat(t *testing.T) {
	b := NewBus(Config{})
	defer b.Close()

	env := mustEnvelope(t, types.TopicRiskApproved, 2)

	res, err := b.Publish(context.Background(), env, nil)
	require.NoError(t, err)
	assert.Equal(t, Ack, res)

	res, err = b.Publish(context.Background(), env, nil)
	require.NoError(t, err)
	assert.Equal(t, DuplicateSuppressed, res)
}

func TestSubscribeQueueWildcardDelivery(t *testing.T) {
	b := NewBus(Config{})
	defer b.Close()

	sub, err := b.SubscribeQueue("risk.*", "planner-workers")
	require.NoError(t, err)
	defer sub.Close()

	env := mustEnvelope(t, types.TopicRiskApproved, 2)
	_, err = b.Publish(context.Background(), env, nil)
	require.NoError(t, err)

	select {
	case got := <-sub.Envelopes():
		assert.Equal(t, env.EventID, got.EventID)
	case <-time.After(time.Second):
		t.Fatal("expected delivery within timeout")
	}
}

func TestSubscribeQueueRoundRobinAcrossMembers(t *testing.T) {
	b := NewBus(Config{})
	defer b.Close()

	subA, err := b.SubscribeQueue("risk.*", "planner-workers")
	require.NoError(t, err)
	defer subA.Close()
	subB, err := b.SubscribeQueue("risk.*", "planner-workers")
	require.NoError(t, err)
	defer subB.Close()

	delivered := map[string]int{}
	for i := 0; i < 4; i++ {
		env := mustEnvelope(t, types.TopicRiskApproved, i+1)
		_, err := b.Publish(context.Background(), env, nil)
		require.NoError(t, err)

		select {
		case e := <-subA.Envelopes():
			delivered["A"]++
			require.NoError(t, subA.Ack(e.EventID))
		case e := <-subB.Envelopes():
			delivered["B"]++
			require.NoError(t, subB.Ack(e.EventID))
		case <-time.After(time.Second):
			t.Fatal("expected delivery within timeout")
		}
	}

	assert.Equal(t, 2, delivered["A"])
	assert.Equal(t, 2, delivered["B"])
}

func TestQueueGroupMismatchedPatternRejected(t *testing.T) {
	b := NewBus(Config{})
	defer b.Close()

	_, err := b.SubscribeQueue("risk.*", "group")
	require.NoError(t, err)

	_, err = b.SubscribeQueue("exec.*", "group")
	assert.Error(t, err)
}

func TestUnackedDeliveryIsRedeliveredToOtherMember(t *testing.T) {
	b := NewBus(Config{QueueAckTimeout: 30 * time.Millisecond})
	defer b.Close()

	subA, err := b.SubscribeQueue("risk.*", "planner-workers")
	require.NoError(t, err)
	defer subA.Close()
	subB, err := b.SubscribeQueue("risk.*", "planner-workers")
	require.NoError(t, err)
	defer subB.Close()

	env := mustEnvelope(t, types.TopicRiskApproved, 2)
	_, err = b.Publish(context.Background(), env, nil)
	require.NoError(t, err)

	// Drain whichever member got the first delivery, but never ack it.
	select {
	case <-subA.Envelopes():
	case <-subB.Envelopes():
	case <-time.After(time.Second):
		t.Fatal("expected initial delivery")
	}

	// After the ack timeout elapses, the envelope should be redelivered
	// to the other member.
	select {
	case got := <-subA.Envelopes():
		assert.Equal(t, env.EventID, got.EventID)
	case got := <-subB.Envelopes():
		assert.Equal(t, env.EventID, got.EventID)
	case <-time.After(2 * time.Second):
		t.Fatal("expected redelivery after ack timeout")
	}
}

func TestNackTriggersImmediateRedelivery(t *testing.T) {
	b := NewBus(Config{QueueAckTimeout: time.Minute})
	defer b.Close()

	subA, err := b.SubscribeQueue("risk.*", "planner-workers")
	require.NoError(t, err)
	defer subA.Close()
	subB, err := b.SubscribeQueue("risk.*", "planner-workers")
	require.NoError(t, err)
	defer subB.Close()

	env := mustEnvelope(t, types.TopicRiskApproved, 2)
	_, err = b.Publish(context.Background(), env, nil)
	require.NoError(t, err)

	var first *QueueSubscription
	select {
	case e := <-subA.Envelopes():
		_ = e
		first = subA
	case e := <-subB.Envelopes():
		_ = e
		first = subB
	case <-time.After(time.Second):
		t.Fatal("expected initial delivery")
	}
	first.Nack(env.EventID)

	select {
	case got := <-subA.Envelopes():
		assert.Equal(t, env.EventID, got.EventID)
	case got := <-subB.Envelopes():
		assert.Equal(t, env.EventID, got.EventID)
	case <-time.After(time.Second):
		t.Fatal("expected immediate redelivery after nack")
	}
}

func TestSubscribeEphemeralReceivesAllMatching(t *testing.T) {
	b := NewBus(Config{})
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub, err := b.SubscribeEphemeral(ctx, "risk.*", nil)
	require.NoError(t, err)

	env := mustEnvelope(t, types.TopicRiskApproved, 2)
	_, err = b.Publish(context.Background(), env, nil)
	require.NoError(t, err)

	select {
	case got := <-sub.Envelopes():
		assert.Equal(t, env.EventID, got.EventID)
	case <-time.After(time.Second):
		t.Fatal("expected ephemeral delivery")
	}
}

func TestEphemeralSubscriptionClosesOnContextCancel(t *testing.T) {
	b := NewBus(Config{})
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	sub, err := b.SubscribeEphemeral(ctx, "risk.*", nil)
	require.NoError(t, err)
	cancel()

	assert.Eventually(t, func() bool {
		b.mu.Lock()
		defer b.mu.Unlock()
		_, exists := b.ephemeral[sub.member.id]
		return !exists
	}, time.Second, 10*time.Millisecond)
}

func TestPublishAfterCloseFails(t *testing.T) {
	b := NewBus(Config{})
	b.Close()

	env := mustEnvelope(t, types.TopicRiskApproved, 2)
	_, err := b.Publish(context.Background(), env, nil)
	assert.ErrorIs(t, err, ErrPublishFailed)
}
