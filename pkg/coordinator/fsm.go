package coordinator

import (
	"fmt"

	"github.com/cuemby/execd/pkg/types"
)

// invalidTransition reports that a topic arrived for a read model in a
// state the reducer table from spec §4.8 does not recognize. The caller
// still appends the envelope to the durable log; only the projection is
// skipped.
type invalidTransition struct {
	topic types.Topic
}

func (e *invalidTransition) Error() string {
	return fmt.Sprintf("no transition defined for topic %q in current state", e.topic)
}

// apply is the pure reducer from spec §4.8: given the current intent and
// plan read models (either may be nil when this is the first event for
// the correlation) and a newly-appended envelope, it returns the updated
// models. It performs no I/O and has no side effects beyond its return
// values, so replaying a correlation's log from empty state through
// apply deterministically reproduces the current read model.
func apply(intent *types.IntentReadModel, plan *types.PlanReadModel, env *types.EventEnvelope) (*types.IntentReadModel, *types.PlanReadModel, error) {
	switch env.Topic {
	case types.TopicIntentSubmitted:
		return &types.IntentReadModel{
			IntentID:     intentIDFromEnvelope(env, intent),
			State:        types.IntentStateSubmitted,
			LastEventID:  env.EventID,
			LastSequence: env.Sequence,
			UpdatedAt:    env.Timestamp,
		}, plan, nil

	case types.TopicRiskApproved:
		if intent == nil || intent.State != types.IntentStateSubmitted {
			return intent, plan, &invalidTransition{topic: env.Topic}
		}
		next := *intent
		next.State = types.IntentStateSubmitted
		next.LastEventID = env.EventID
		next.LastSequence = env.Sequence
		next.UpdatedAt = env.Timestamp
		return &next, plan, nil

	case types.TopicIntentAccepted:
		if intent == nil || intent.State != types.IntentStateSubmitted {
			return intent, plan, &invalidTransition{topic: env.Topic}
		}
		next := *intent
		next.State = types.IntentStateAccepted
		next.LastEventID = env.EventID
		next.LastSequence = env.Sequence
		next.UpdatedAt = env.Timestamp
		return &next, plan, nil

	case types.TopicRiskRejected:
		if intent == nil || intent.State != types.IntentStateSubmitted {
			return intent, plan, &invalidTransition{topic: env.Topic}
		}
		payload, err := env.DecodeRiskDecision()
		if err != nil {
			return intent, plan, err
		}
		next := *intent
		next.State = types.IntentStateRejected
		next.Reason = payload.Reason
		next.LastEventID = env.EventID
		next.LastSequence = env.Sequence
		next.UpdatedAt = env.Timestamp
		return &next, plan, nil

	case types.TopicPlanCreated:
		if intent == nil || intent.State != types.IntentStateAccepted {
			return intent, plan, &invalidTransition{topic: env.Topic}
		}
		execPlan, err := env.DecodePlan()
		if err != nil {
			return intent, plan, err
		}
		nextIntent := *intent
		nextIntent.State = types.IntentStatePlanned
		nextIntent.LatestPlanID = execPlan.PlanID
		nextIntent.LastEventID = env.EventID
		nextIntent.LastSequence = env.Sequence
		nextIntent.UpdatedAt = env.Timestamp
		nextPlan := &types.PlanReadModel{
			PlanID:    execPlan.PlanID,
			Status:    types.PlanStatePlanned,
			Steps:     execPlan.Steps,
			UpdatedAt: env.Timestamp,
		}
		return &nextIntent, nextPlan, nil

	case types.TopicPlanRejected:
		if intent == nil || intent.State != types.IntentStateAccepted {
			return intent, plan, &invalidTransition{topic: env.Topic}
		}
		payload, err := env.DecodePlanRejected()
		if err != nil {
			return intent, plan, err
		}
		next := *intent
		next.State = types.IntentStateFailed
		next.Reason = payload.Reason
		next.LastEventID = env.EventID
		next.LastSequence = env.Sequence
		next.UpdatedAt = env.Timestamp
		return &next, plan, nil

	case types.TopicExecStarted:
		if intent == nil || intent.State != types.IntentStatePlanned || plan == nil || plan.Status != types.PlanStatePlanned {
			return intent, plan, &invalidTransition{topic: env.Topic}
		}
		nextIntent := *intent
		nextIntent.State = types.IntentStateExecuting
		nextIntent.LastEventID = env.EventID
		nextIntent.LastSequence = env.Sequence
		nextIntent.UpdatedAt = env.Timestamp
		nextPlan := *plan
		nextPlan.Status = types.PlanStateExecuting
		nextPlan.UpdatedAt = env.Timestamp
		return &nextIntent, &nextPlan, nil

	case types.TopicExecStepSubmitted:
		if intent == nil || intent.State != types.IntentStateExecuting || plan == nil || plan.Status != types.PlanStateExecuting {
			return intent, plan, &invalidTransition{topic: env.Topic}
		}
		payload, err := env.DecodeExecStepSubmitted()
		if err != nil {
			return intent, plan, err
		}
		nextIntent := *intent
		nextIntent.TxHash = payload.TxHash
		nextIntent.LastEventID = env.EventID
		nextIntent.LastSequence = env.Sequence
		nextIntent.UpdatedAt = env.Timestamp
		nextPlan := *plan
		nextPlan.UpdatedAt = env.Timestamp
		return &nextIntent, &nextPlan, nil

	case types.TopicExecStepFilled:
		if intent == nil || intent.State != types.IntentStateExecuting || plan == nil || plan.Status != types.PlanStateExecuting {
			return intent, plan, &invalidTransition{topic: env.Topic}
		}
		payload, err := env.DecodeExecStepFilled()
		if err != nil {
			return intent, plan, err
		}
		nextIntent := *intent
		nextIntent.AmountOut = payload.AmountOut
		nextIntent.LastEventID = env.EventID
		nextIntent.LastSequence = env.Sequence
		nextIntent.UpdatedAt = env.Timestamp
		nextPlan := *plan
		nextPlan.Progress = 1
		nextPlan.UpdatedAt = env.Timestamp
		return &nextIntent, &nextPlan, nil

	case types.TopicExecCompleted:
		if intent == nil || intent.State != types.IntentStateExecuting || plan == nil || plan.Status != types.PlanStateExecuting {
			return intent, plan, &invalidTransition{topic: env.Topic}
		}
		payload, err := env.DecodeExecCompleted()
		if err != nil {
			return intent, plan, err
		}
		nextIntent := *intent
		nextIntent.State = types.IntentStateCompleted
		nextIntent.TxHash = payload.TxHash
		nextIntent.AmountOut = payload.AmountOut
		nextIntent.LastEventID = env.EventID
		nextIntent.LastSequence = env.Sequence
		nextIntent.UpdatedAt = env.Timestamp
		nextPlan := *plan
		nextPlan.Status = types.PlanStateCompleted
		nextPlan.UpdatedAt = env.Timestamp
		return &nextIntent, &nextPlan, nil

	case types.TopicExecFailed:
		if intent == nil || intent.State.IsTerminal() {
			return intent, plan, &invalidTransition{topic: env.Topic}
		}
		payload, err := env.DecodeExecFailed()
		if err != nil {
			return intent, plan, err
		}
		nextIntent := *intent
		nextIntent.State = types.IntentStateFailed
		nextIntent.Reason = payload.Reason
		nextIntent.LastEventID = env.EventID
		nextIntent.LastSequence = env.Sequence
		nextIntent.UpdatedAt = env.Timestamp
		var nextPlan *types.PlanReadModel
		if plan != nil {
			p := *plan
			p.Status = types.PlanStateFailed
			p.UpdatedAt = env.Timestamp
			nextPlan = &p
		}
		return &nextIntent, nextPlan, nil

	default:
		// Unknown/forward-compatible topic: append-only, never projected.
		return intent, plan, nil
	}
}

// intentIDFromEnvelope extracts the intent id carried by an
// intent.submitted payload, falling back to the prior projection's id
// (there should not be one yet) so a decode failure never produces an
// empty-keyed read model.
func intentIDFromEnvelope(env *types.EventEnvelope, prior *types.IntentReadModel) string {
	decoded, err := env.DecodeIntent()
	if err != nil || decoded.IntentID == "" {
		if prior != nil {
			return prior.IntentID
		}
		return ""
	}
	return decoded.IntentID
}
