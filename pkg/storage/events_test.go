package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/execd/pkg/types"
)

func envelope(t *testing.T, correlationID string, seq int, topic types.Topic) *types.EventEnvelope {
	t.Helper()
	env, err := types.MakeEnvelope(topic, types.IntentAcceptedPayload{}, correlationID, nil, &seq)
	require.NoError(t, err)
	return env
}

func TestEventStoreGetEventsReturnsAscendingBySequence(t *testing.T) {
	store, err := NewEventStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	e3 := envelope(t, "corr-1", 3, types.TopicIntentAccepted)
	e1 := envelope(t, "corr-1", 1, types.TopicIntentAccepted)
	e2 := envelope(t, "corr-1", 2, types.TopicIntentAccepted)
	require.NoError(t, store.Append(e3))
	require.NoError(t, store.Append(e1))
	require.NoError(t, store.Append(e2))

	got, err := store.GetEvents(context.Background(), "corr-1", 1)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, 1, got[0].Sequence)
	assert.Equal(t, 2, got[1].Sequence)
	assert.Equal(t, 3, got[2].Sequence)
}

func TestEventStoreGetEventsFiltersFromSequence(t *testing.T) {
	store, err := NewEventStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Append(envelope(t, "corr-1", 1, types.TopicIntentAccepted)))
	require.NoError(t, store.Append(envelope(t, "corr-1", 2, types.TopicIntentAccepted)))

	got, err := store.GetEvents(context.Background(), "corr-1", 2)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 2, got[0].Sequence)
}

func TestEventStoreGetEventsIsolatesCorrelations(t *testing.T) {
	store, err := NewEventStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Append(envelope(t, "corr-1", 1, types.TopicIntentAccepted)))
	require.NoError(t, store.Append(envelope(t, "corr-2", 1, types.TopicIntentAccepted)))

	got, err := store.GetEvents(context.Background(), "corr-1", 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "corr-1", got[0].CorrelationID)
}

func TestEventStoreAllEventsSpansCorrelations(t *testing.T) {
	store, err := NewEventStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Append(envelope(t, "corr-1", 1, types.TopicIntentAccepted)))
	require.NoError(t, store.Append(envelope(t, "corr-1", 2, types.TopicIntentAccepted)))
	require.NoError(t, store.Append(envelope(t, "corr-2", 1, types.TopicIntentAccepted)))

	got, err := store.AllEvents(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 3)

	var corr1Seqs []int
	for _, env := range got {
		if env.CorrelationID == "corr-1" {
			corr1Seqs = append(corr1Seqs, env.Sequence)
		}
	}
	assert.Equal(t, []int{1, 2}, corr1Seqs)
}
