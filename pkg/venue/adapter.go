// Package venue defines the execution-venue contract (C4): the boundary
// between the orchestration core and whatever AMM or exchange actually
// fills an order. Concrete venues live in subpackages (uniswapv3).
package venue

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cuemby/execd/pkg/types"
)

// Quote is the result of a price inquiry.
type Quote struct {
	AmountOut decimal.Decimal
	PoolRef   string
	FeeBps    int32
}

// BuiltTx is an unsigned, unsubmitted transaction ready for submission.
// Adapters are free to embed venue-specific data in Opaque.
type BuiltTx struct {
	Venue     string
	Recipient string
	Deadline  time.Time
	Opaque    []byte
}

// ReceiptStatus is the terminal outcome of a submitted transaction.
type ReceiptStatus string

const (
	ReceiptSuccess  ReceiptStatus = "success"
	ReceiptReverted ReceiptStatus = "reverted"
)

// Receipt is the result of WaitReceipt.
type Receipt struct {
	Status      ReceiptStatus
	AmountOut   decimal.Decimal
	GasUsed     uint64
	BlockNumber uint64
}

// Adapter is the contract every execution venue must implement, per
// spec §4.4. All methods may fail; failure kinds are enumerated in §7.
// Implementations must be safe for concurrent use. SubmitTx is NOT
// idempotent at the wire level — callers (the orchestrator, C7) are
// responsible for avoiding double-submit under retry.
type Adapter interface {
	PriceQuote(ctx context.Context, base, quote types.Asset, amountIn decimal.Decimal) (Quote, error)
	BuildSwapTx(ctx context.Context, base, quote types.Asset, amountIn, minOut decimal.Decimal, recipient string, deadline time.Time) (BuiltTx, error)
	SubmitTx(ctx context.Context, tx BuiltTx) (txHash string, err error)
	WaitReceipt(ctx context.Context, txHash string, timeout time.Duration) (Receipt, error)
}
