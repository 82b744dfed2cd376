package types

import "github.com/shopspring/decimal"

// PlanStep is one leg of an execution plan. V1 plans carry exactly one.
type PlanStep struct {
	Venue     string          `json:"venue"`
	Base      Asset           `json:"base"`
	Quote     Asset           `json:"quote"`
	AmountIn  decimal.Decimal `json:"amount_in"`
	MinOut    decimal.Decimal `json:"min_out"`
	Recipient string          `json:"recipient"`
}

// ExecutionPlan is the payload of plan.created.
type ExecutionPlan struct {
	PlanID              string          `json:"plan_id"`
	IntentID            string          `json:"intent_id"`
	Steps               []PlanStep      `json:"steps"`
	EstimatedCost       decimal.Decimal `json:"estimated_cost"`
	EstimatedDurationMs int64           `json:"estimated_duration_ms"`
}
