package coordinator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/execd/pkg/types"
)

func env(t *testing.T, topic types.Topic, payload any, seq int) *types.EventEnvelope {
	t.Helper()
	e, err := types.MakeEnvelope(topic, payload, "corr-1", nil, &seq)
	require.NoError(t, err)
	return e
}

func TestApplyIntentSubmittedFromEmptyState(t *testing.T) {
	intent := types.Intent{IntentID: "intent-1"}
	e := env(t, types.TopicIntentSubmitted, intent, 1)

	gotIntent, gotPlan, err := apply(nil, nil, e)
	require.NoError(t, err)
	assert.Nil(t, gotPlan)
	assert.Equal(t, types.IntentStateSubmitted, gotIntent.State)
	assert.Equal(t, "intent-1", gotIntent.IntentID)
}

func TestApplyFullHappyPathSequence(t *testing.T) {
	intent := types.Intent{IntentID: "intent-1"}
	i, p, err := apply(nil, nil, env(t, types.TopicIntentSubmitted, intent, 1))
	require.NoError(t, err)

	i, p, err = apply(i, p, env(t, types.TopicRiskApproved, types.RiskDecisionPayload{}, 2))
	require.NoError(t, err)
	assert.Equal(t, types.IntentStateSubmitted, i.State)

	i, p, err = apply(i, p, env(t, types.TopicIntentAccepted, types.IntentAcceptedPayload{}, 3))
	require.NoError(t, err)
	assert.Equal(t, types.IntentStateAccepted, i.State)

	plan := types.ExecutionPlan{PlanID: "plan-1", IntentID: "intent-1"}
	i, p, err = apply(i, p, env(t, types.TopicPlanCreated, plan, 4))
	require.NoError(t, err)
	assert.Equal(t, types.IntentStatePlanned, i.State)
	require.NotNil(t, p)
	assert.Equal(t, types.PlanStatePlanned, p.Status)
	assert.Equal(t, "plan-1", i.LatestPlanID)

	i, p, err = apply(i, p, env(t, types.TopicExecStarted, types.ExecStartedPayload{PlanID: "plan-1"}, 5))
	require.NoError(t, err)
	assert.Equal(t, types.IntentStateExecuting, i.State)
	assert.Equal(t, types.PlanStateExecuting, p.Status)

	i, p, err = apply(i, p, env(t, types.TopicExecStepFilled, types.ExecStepFilledPayload{AmountOut: "100"}, 6))
	require.NoError(t, err)
	assert.Equal(t, "100", i.AmountOut)
	assert.Equal(t, float64(1), p.Progress)

	i, p, err = apply(i, p, env(t, types.TopicExecCompleted, types.ExecCompletedPayload{AmountOut: "100", TxHash: "0xabc"}, 7))
	require.NoError(t, err)
	assert.Equal(t, types.IntentStateCompleted, i.State)
	assert.Equal(t, types.PlanStateCompleted, p.Status)
}

func TestApplyRejectsTransitionFromWrongState(t *testing.T) {
	intent := &types.IntentReadModel{IntentID: "intent-1", State: types.IntentStateCompleted}
	_, _, err := apply(intent, nil, env(t, types.TopicIntentAccepted, types.IntentAcceptedPayload{}, 2))
	assert.Error(t, err)
}

func TestApplyRiskRejectedSetsReason(t *testing.T) {
	intent := &types.IntentReadModel{IntentID: "intent-1", State: types.IntentStateSubmitted}
	got, _, err := apply(intent, nil, env(t, types.TopicRiskRejected, types.RiskDecisionPayload{Reason: types.ReasonNotionalLimit}, 2))
	require.NoError(t, err)
	assert.Equal(t, types.IntentStateRejected, got.State)
	assert.Equal(t, types.ReasonNotionalLimit, got.Reason)
}

func TestApplyExecFailedFromAnyState(t *testing.T) {
	intent := &types.IntentReadModel{IntentID: "intent-1", State: types.IntentStateExecuting}
	plan := &types.PlanReadModel{PlanID: "plan-1", Status: types.PlanStateExecuting}
	gotIntent, gotPlan, err := apply(intent, plan, env(t, types.TopicExecFailed, types.ExecFailedPayload{Reason: types.ReasonMaxAttemptsExceeded}, 8))
	require.NoError(t, err)
	assert.Equal(t, types.IntentStateFailed, gotIntent.State)
	assert.Equal(t, types.PlanStateFailed, gotPlan.Status)
}

// TestApplyExecFailedFromTerminalStateRejected asserts the absorbing
// terminal-state invariant (spec §8 property #6): a redelivered or
// stray exec.failed must never flip an already-terminal intent back
// to Failed.
func TestApplyExecFailedFromTerminalStateRejected(t *testing.T) {
	intent := &types.IntentReadModel{IntentID: "intent-1", State: types.IntentStateCompleted, TxHash: "0xdeadbeef"}
	plan := &types.PlanReadModel{PlanID: "plan-1", Status: types.PlanStateCompleted}
	gotIntent, gotPlan, err := apply(intent, plan, env(t, types.TopicExecFailed, types.ExecFailedPayload{Reason: types.ReasonMaxAttemptsExceeded}, 9))
	var invalid *invalidTransition
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, types.IntentStateCompleted, gotIntent.State)
	assert.Equal(t, "0xdeadbeef", gotIntent.TxHash)
	assert.Equal(t, types.PlanStateCompleted, gotPlan.Status)
}
