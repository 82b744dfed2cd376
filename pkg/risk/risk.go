// Package risk implements the Risk Gate (C3): a pure, side-effect-free
// admission check run once per submitted intent, ahead of planning.
package risk

import (
	"github.com/shopspring/decimal"

	"github.com/cuemby/execd/pkg/types"
)

const (
	minTimeWindowMs = 1_000
	maxTimeWindowMs = 3_600_000
)

// PriceFunc resolves the reference price of target in units of quote,
// used to compute an intent's notional value in USD. Injected so the
// gate stays pure and testable; C6 supplies the same pricing function
// to its router.
type PriceFunc func(target, quote types.Asset) (decimal.Decimal, error)

// Config mirrors the risk caps from spec §6.
type Config struct {
	MaxNotionalUSD  decimal.Decimal
	MaxSlippage     decimal.Decimal
	SupportedVenues map[string]bool // nil means "all venues supported"
}

// DefaultConfig returns the §6 default risk caps.
func DefaultConfig() Config {
	return Config{
		MaxNotionalUSD: decimal.NewFromInt(10_000),
		MaxSlippage:    decimal.NewFromFloat(0.05),
	}
}

// Decision is the outcome of Evaluate.
type Decision struct {
	Approved bool
	Reason   types.RejectReason
}

// Evaluate applies the V1 admission rules from spec §4.3. It is a pure
// function of its inputs: no I/O, no events, no store access. priceUSD
// resolves the target asset's USD reference price; it is only called
// when a notional check is needed.
func Evaluate(cfg Config, intent types.Intent, priceUSD PriceFunc) Decision {
	if intent.Constraints.TimeWindowMs < minTimeWindowMs || intent.Constraints.TimeWindowMs > maxTimeWindowMs {
		return Decision{Approved: false, Reason: types.ReasonWindowOutOfRange}
	}

	if intent.Constraints.MaxSlippage.GreaterThan(cfg.MaxSlippage) {
		return Decision{Approved: false, Reason: types.ReasonSlippageLimit}
	}

	if cfg.SupportedVenues != nil {
		for _, v := range intent.Constraints.AllowedVenues {
			if !cfg.SupportedVenues[v] {
				return Decision{Approved: false, Reason: types.ReasonUnsupportedVenue}
			}
		}
	}

	notional, err := notionalUSD(intent, priceUSD)
	if err != nil {
		// A venue/pricing failure at admission time is treated as the
		// same class of rejection as an unsupported venue: the gate
		// cannot certify a notional it cannot price.
		return Decision{Approved: false, Reason: types.ReasonUnsupportedVenue}
	}
	if notional.GreaterThan(cfg.MaxNotionalUSD) {
		return Decision{Approved: false, Reason: types.ReasonNotionalLimit}
	}

	return Decision{Approved: true}
}

// notionalUSD computes amount_in priced in USD via the target asset's
// reference price against the quote asset.
func notionalUSD(intent types.Intent, priceUSD PriceFunc) (decimal.Decimal, error) {
	price, err := priceUSD(intent.Target(), intent.Quote())
	if err != nil {
		return decimal.Zero, err
	}
	return intent.AmountIn.Mul(price), nil
}
