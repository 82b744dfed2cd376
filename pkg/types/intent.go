package types

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// IntentType is the direction of the declared trading goal.
type IntentType string

const (
	IntentAcquire IntentType = "acquire"
	IntentDispose IntentType = "dispose"
)

// ExecutionStyle hints at how aggressively the plan should be executed.
// The core does not currently branch on it beyond carrying it through,
// it is reserved for the strategy-authoring layer named out of scope
// in spec §1.
type ExecutionStyle string

const (
	StyleAggressive ExecutionStyle = "aggressive"
	StylePassive    ExecutionStyle = "passive"
	StyleAdaptive   ExecutionStyle = "adaptive"
)

// Asset identifies one side of a trading pair.
type Asset struct {
	Symbol   string `json:"symbol"`
	ChainID  int64  `json:"chain_id"`
	Address  string `json:"address"`
	Decimals int32  `json:"decimals"`
}

// Constraints bound how an intent may be executed.
type Constraints struct {
	MaxSlippage    decimal.Decimal `json:"max_slippage"`
	TimeWindowMs   int64           `json:"time_window_ms"`
	ExecutionStyle ExecutionStyle  `json:"execution_style"`
	AllowedVenues  []string        `json:"allowed_venues,omitempty"`
}

// Intent is the payload of intent.submitted.
type Intent struct {
	IntentID    string          `json:"intent_id"`
	IntentType  IntentType      `json:"intent_type"`
	Assets      [2]Asset        `json:"assets"`
	AmountIn    decimal.Decimal `json:"amount_in"`
	Constraints Constraints     `json:"constraints"`
}

// Target returns the target-side asset (assets[0]).
func (i Intent) Target() Asset { return i.Assets[0] }

// Quote returns the quote-side asset (assets[1]).
func (i Intent) Quote() Asset { return i.Assets[1] }

// Validate enforces intake schema shape, per spec §4.5 step 1. The
// slippage/window risk caps themselves (§4.3) are enforced later by
// risk.Evaluate, which can be reconfigured without touching intake.
// It returns a synchronous error and emits no events on failure.
func (i Intent) Validate() error {
	switch i.IntentType {
	case IntentAcquire, IntentDispose:
	default:
		return fmt.Errorf("intent_type must be acquire or dispose, got %q", i.IntentType)
	}
	if i.Target().Symbol == "" || i.Quote().Symbol == "" {
		return errors.New("assets must name both target and quote symbols")
	}
	if i.AmountIn.IsNegative() {
		return errors.New("amount_in must be non-negative")
	}
	if i.AmountIn.IsZero() {
		return errors.New("amount_in must be positive")
	}
	if i.Constraints.MaxSlippage.LessThanOrEqual(decimal.Zero) || i.Constraints.MaxSlippage.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("max_slippage must be in (0,1), got %s", i.Constraints.MaxSlippage)
	}
	if i.Constraints.TimeWindowMs <= 0 {
		return fmt.Errorf("time_window_ms must be positive, got %d", i.Constraints.TimeWindowMs)
	}
	switch i.Constraints.ExecutionStyle {
	case StyleAggressive, StylePassive, StyleAdaptive:
	default:
		return fmt.Errorf("execution_style must be aggressive, passive, or adaptive, got %q", i.Constraints.ExecutionStyle)
	}
	return nil
}
