package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventEnvelope is the immutable unit of the event log, per spec §3.
type EventEnvelope struct {
	EventID       EventID         `json:"eventId"`
	Timestamp     time.Time       `json:"timestamp"`
	Topic         Topic           `json:"topic"`
	CorrelationID string          `json:"correlationId"`
	CausationID   *EventID        `json:"causationId"`
	Sequence      int             `json:"sequence"`
	Payload       json.RawMessage `json:"payload"`
	Version       int             `json:"version"`
}

// MakeEnvelope validates topic and payload and constructs a new envelope
// stamped with a fresh EventID and the current timestamp. sequence may be
// nil when the producer does not yet know its place in the correlation;
// the coordinator assigns it on ingest in that case (represented on the
// wire as sequence 0, since real sequences start at 1).
func MakeEnvelope(topic Topic, payload any, correlationID string, causationID *EventID, sequence *int) (*EventEnvelope, error) {
	if err := ValidateTopic(topic); err != nil {
		return nil, err
	}
	if correlationID == "" {
		return nil, ErrMissingCorrelationID
	}
	if err := validatePayloadShape(topic, payload); err != nil {
		return nil, err
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload for topic %q: %w", topic, err)
	}
	seq := 0
	if sequence != nil {
		seq = *sequence
	}
	return &EventEnvelope{
		EventID:       NewEventID(),
		Timestamp:     time.Now().UTC(),
		Topic:         topic,
		CorrelationID: correlationID,
		CausationID:   causationID,
		Sequence:      seq,
		Payload:       raw,
		Version:       1,
	}, nil
}

// HasSequence reports whether the producer assigned a sequence number.
func (e *EventEnvelope) HasSequence() bool {
	return e != nil && e.Sequence > 0
}

// DecodeIntent decodes the payload of an intent.submitted envelope.
func (e *EventEnvelope) DecodeIntent() (Intent, error) {
	var intent Intent
	err := json.Unmarshal(e.Payload, &intent)
	return intent, err
}

// DecodeRiskDecision decodes the payload of risk.approved/risk.rejected.
func (e *EventEnvelope) DecodeRiskDecision() (RiskDecisionPayload, error) {
	var p RiskDecisionPayload
	err := json.Unmarshal(e.Payload, &p)
	return p, err
}

// DecodePlan decodes the payload of a plan.created envelope.
func (e *EventEnvelope) DecodePlan() (ExecutionPlan, error) {
	var p ExecutionPlan
	err := json.Unmarshal(e.Payload, &p)
	return p, err
}

// DecodePlanRejected decodes the payload of a plan.rejected envelope.
func (e *EventEnvelope) DecodePlanRejected() (PlanRejectedPayload, error) {
	var p PlanRejectedPayload
	err := json.Unmarshal(e.Payload, &p)
	return p, err
}

// DecodeExecStarted decodes the payload of an exec.started envelope.
func (e *EventEnvelope) DecodeExecStarted() (ExecStartedPayload, error) {
	var p ExecStartedPayload
	err := json.Unmarshal(e.Payload, &p)
	return p, err
}

// DecodeExecStepSubmitted decodes the payload of an exec.step_submitted envelope.
func (e *EventEnvelope) DecodeExecStepSubmitted() (ExecStepSubmittedPayload, error) {
	var p ExecStepSubmittedPayload
	err := json.Unmarshal(e.Payload, &p)
	return p, err
}

// DecodeExecStepFilled decodes the payload of an exec.step_filled envelope.
func (e *EventEnvelope) DecodeExecStepFilled() (ExecStepFilledPayload, error) {
	var p ExecStepFilledPayload
	err := json.Unmarshal(e.Payload, &p)
	return p, err
}

// DecodeExecCompleted decodes the payload of an exec.completed envelope.
func (e *EventEnvelope) DecodeExecCompleted() (ExecCompletedPayload, error) {
	var p ExecCompletedPayload
	err := json.Unmarshal(e.Payload, &p)
	return p, err
}

// DecodeExecFailed decodes the payload of an exec.failed, intent.failed envelope.
func (e *EventEnvelope) DecodeExecFailed() (ExecFailedPayload, error) {
	var p ExecFailedPayload
	err := json.Unmarshal(e.Payload, &p)
	return p, err
}
