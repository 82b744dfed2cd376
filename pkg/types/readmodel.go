package types

import "time"

// IntentState is the lifecycle state of an Intent read model.
type IntentState string

const (
	IntentStateSubmitted IntentState = "Submitted"
	IntentStateAccepted  IntentState = "Accepted"
	IntentStatePlanned   IntentState = "Planned"
	IntentStateExecuting IntentState = "Executing"
	IntentStateCompleted IntentState = "Completed"
	IntentStateFailed    IntentState = "Failed"
	IntentStateRejected  IntentState = "Rejected"
)

// IsTerminal reports whether the state is absorbing (spec §8 invariant 6).
func (s IntentState) IsTerminal() bool {
	switch s {
	case IntentStateCompleted, IntentStateFailed, IntentStateRejected:
		return true
	default:
		return false
	}
}

// IntentReadModel is the materialized projection keyed "intent:{intent_id}".
type IntentReadModel struct {
	IntentID     string       `json:"intent_id"`
	State        IntentState  `json:"state"`
	LastEventID  EventID      `json:"last_event_id"`
	LastSequence int          `json:"last_sequence"`
	UpdatedAt    time.Time    `json:"updated_at"`
	LatestPlanID string       `json:"latest_plan_id,omitempty"`
	Reason       RejectReason `json:"reason,omitempty"`
	TxHash       string       `json:"tx_hash,omitempty"`
	AmountOut    string       `json:"amount_out,omitempty"`
}

// PlanState is the lifecycle state of a Plan read model.
type PlanState string

const (
	PlanStatePlanned   PlanState = "Planned"
	PlanStateExecuting PlanState = "Executing"
	PlanStateCompleted PlanState = "Completed"
	PlanStateFailed    PlanState = "Failed"
)

// PlanReadModel is the materialized projection keyed "plan:{plan_id}".
type PlanReadModel struct {
	PlanID    string     `json:"plan_id"`
	Status    PlanState  `json:"status"`
	Steps     []PlanStep `json:"steps"`
	Progress  float64    `json:"progress"`
	UpdatedAt time.Time  `json:"updated_at"`
}
