package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/execd/pkg/events"
	"github.com/cuemby/execd/pkg/types"
	"github.com/cuemby/execd/pkg/venue"
	"github.com/cuemby/execd/pkg/venue/uniswapv3"
)

func samplePlan() types.ExecutionPlan {
	return types.ExecutionPlan{
		PlanID:              "plan-1",
		IntentID:            "intent-abc",
		EstimatedDurationMs: 5_000,
		Steps: []types.PlanStep{
			{
				Venue:     "uniswap_v3",
				Base:      types.Asset{Symbol: "WETH", ChainID: 1, Address: "0xweth", Decimals: 18},
				Quote:     types.Asset{Symbol: "USDC", ChainID: 1, Address: "0xusdc", Decimals: 6},
				AmountIn:  decimal.NewFromInt(1),
				MinOut:    decimal.NewFromInt(1),
				Recipient: "0xrecipient",
			},
		},
	}
}

func planCreatedEnvelope(t *testing.T, correlationID string, seq int) *types.EventEnvelope {
	t.Helper()
	causation := types.NewEventID()
	env, err := types.MakeEnvelope(types.TopicPlanCreated, samplePlan(), correlationID, &causation, &seq)
	require.NoError(t, err)
	return env
}

func pools() map[string]*uniswapv3.Pool {
	return map[string]*uniswapv3.Pool{
		"WETH/USDC": {Reserve0: decimal.NewFromInt(1000), Reserve1: decimal.NewFromInt(2_000_000), FeeBps: 30},
	}
}

func TestOrchestratorPublishesStartedSubmittedFilledCompleted(t *testing.T) {
	bus := events.NewBus(events.Config{})
	defer bus.Close()
	adapter := uniswapv3.NewAdapter(pools())

	o := New(bus, adapter)
	sub, err := bus.SubscribeEphemeral(context.Background(), "exec.*", nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, o.Start(ctx))
	defer o.Stop()

	env := planCreatedEnvelope(t, "intent-abc", 4)
	_, err = bus.Publish(context.Background(), env, nil)
	require.NoError(t, err)

	var topics []types.Topic
	for i := 0; i < 4; i++ {
		select {
		case got := <-sub.Envelopes():
			topics = append(topics, got.Topic)
		case <-time.After(2 * time.Second):
			t.Fatalf("expected 4 exec.* envelopes, got %d: %v", len(topics), topics)
		}
	}

	assert.Equal(t, []types.Topic{
		types.TopicExecStarted,
		types.TopicExecStepSubmitted,
		types.TopicExecStepFilled,
		types.TopicExecCompleted,
	}, topics)
}

func TestOrchestratorPublishesFailedOnReverted(t *testing.T) {
	bus := events.NewBus(events.Config{})
	defer bus.Close()
	adapter := uniswapv3.NewAdapter(pools())
	adapter.Script = func(txHash string, attempt int) (venue.Receipt, error) {
		return venue.Receipt{Status: venue.ReceiptReverted}, nil
	}

	o := New(bus, adapter)
	sub, err := bus.SubscribeEphemeral(context.Background(), "exec.*", nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, o.Start(ctx))
	defer o.Stop()

	env := planCreatedEnvelope(t, "intent-abc", 4)
	_, err = bus.Publish(context.Background(), env, nil)
	require.NoError(t, err)

	var last *types.EventEnvelope
	deadline := time.After(5 * time.Second)
	for {
		select {
		case got := <-sub.Envelopes():
			last = got
			if got.Topic == types.TopicExecFailed {
				decoded, err := got.DecodeExecFailed()
				require.NoError(t, err)
				assert.Equal(t, types.ReasonMaxAttemptsExceeded, decoded.Reason)
				return
			}
		case <-deadline:
			t.Fatalf("expected exec.failed eventually, last topic: %v", last)
		}
	}
}
