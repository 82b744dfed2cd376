// Package uniswapv3 is the bundled venue.Adapter implementation (C4),
// simulating a single constant-product AMM pool per asset pair. It is
// the default venue (`VENUE=uniswap_v3` per spec §6).
package uniswapv3

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/cuemby/execd/pkg/types"
	"github.com/cuemby/execd/pkg/venue"
)

// ErrNoPool is returned when PriceQuote/BuildSwapTx is asked for a pair
// with no configured pool snapshot.
var ErrNoPool = errors.New("uniswapv3: no pool configured for pair")

// ErrUnknownTx is returned when WaitReceipt is asked about a hash this
// adapter never submitted.
var ErrUnknownTx = errors.New("uniswapv3: unknown transaction")

// Pool is an in-memory constant-product snapshot for one asset pair.
// Reserve0 corresponds to the pair's base asset, Reserve1 to its quote.
type Pool struct {
	Reserve0 decimal.Decimal
	Reserve1 decimal.Decimal
	FeeBps   int32
}

// ReceiptScript lets tests force a specific outcome (success, reverted,
// or a delayed receipt) for a submitted transaction, per scenarios D
// and E. attempt counts calls to WaitReceipt for the same tx hash,
// starting at 1, so a script can simulate "pending, then settles".
type ReceiptScript func(txHash string, attempt int) (venue.Receipt, error)

func defaultScript(quoted decimal.Decimal) ReceiptScript {
	return func(txHash string, attempt int) (venue.Receipt, error) {
		return venue.Receipt{Status: venue.ReceiptSuccess, AmountOut: quoted, GasUsed: 120_000, BlockNumber: 1}, nil
	}
}

type pendingTx struct {
	quoted   decimal.Decimal
	attempts int
	script   ReceiptScript
}

// Adapter simulates a single uniswap_v3-shaped venue across a fixed set
// of pools. Safe for concurrent use: a mutex guards pool reserves, the
// submission nonce, and in-flight transaction bookkeeping.
type Adapter struct {
	mu    sync.Mutex
	pools map[string]*Pool
	nonce uint64
	txs   map[string]*pendingTx

	// Script overrides the default instant-success receipt for newly
	// submitted transactions; nil means always succeed immediately.
	// Tests set this before calling SubmitTx to script a scenario.
	Script ReceiptScript
}

func pairKey(base, quote types.Asset) string {
	return fmt.Sprintf("%s/%s", base.Symbol, quote.Symbol)
}

// NewAdapter constructs an Adapter from a set of pool snapshots keyed
// "BASE/QUOTE" (e.g. "WETH/USDC").
func NewAdapter(pools map[string]*Pool) *Adapter {
	return &Adapter{
		pools: pools,
		txs:   make(map[string]*pendingTx),
	}
}

// PriceQuote computes the constant-product output amount:
// amountOut = reserveOut * amountIn*(1-fee) / (reserveIn + amountIn*(1-fee)).
func (a *Adapter) PriceQuote(ctx context.Context, base, quote types.Asset, amountIn decimal.Decimal) (venue.Quote, error) {
	a.mu.Lock()
	pool, ok := a.pools[pairKey(base, quote)]
	a.mu.Unlock()
	if !ok {
		return venue.Quote{}, ErrNoPool
	}

	feeFactor := decimal.NewFromInt(10_000 - int64(pool.FeeBps)).Div(decimal.NewFromInt(10_000))
	amountInAfterFee := amountIn.Mul(feeFactor)
	numerator := pool.Reserve1.Mul(amountInAfterFee)
	denominator := pool.Reserve0.Add(amountInAfterFee)
	if denominator.IsZero() {
		return venue.Quote{}, ErrNoPool
	}
	amountOut := numerator.Div(denominator)

	return venue.Quote{
		AmountOut: amountOut,
		PoolRef:   "pool-" + uuid.NewSHA1(uuid.NameSpaceOID, []byte(pairKey(base, quote))).String(),
		FeeBps:    pool.FeeBps,
	}, nil
}

// BuildSwapTx assembles an unsigned, unsubmitted transaction. No pool
// state changes until SubmitTx is called.
func (a *Adapter) BuildSwapTx(ctx context.Context, base, quote types.Asset, amountIn, minOut decimal.Decimal, recipient string, deadline time.Time) (venue.BuiltTx, error) {
	a.mu.Lock()
	_, ok := a.pools[pairKey(base, quote)]
	a.mu.Unlock()
	if !ok {
		return venue.BuiltTx{}, ErrNoPool
	}
	opaque := fmt.Sprintf("%s:%s:%s:%s", pairKey(base, quote), amountIn.String(), minOut.String(), recipient)
	return venue.BuiltTx{
		Venue:     "uniswap_v3",
		Recipient: recipient,
		Deadline:  deadline,
		Opaque:    []byte(opaque),
	}, nil
}

// SubmitTx assigns a fresh wire nonce and a synthetic transaction hash.
// The nonce counter is internal and monotonic, so repeated submissions
// (including orchestrator retries on distinct BuiltTx values) never
// reuse a wire nonce.
func (a *Adapter) SubmitTx(ctx context.Context, tx venue.BuiltTx) (string, error) {
	a.mu.Lock()
	a.nonce++
	nonce := a.nonce
	script := a.Script
	a.mu.Unlock()

	txHash := "0x" + uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("%s:%d", tx.Opaque, nonce))).String()

	quoted := quotedAmountFromOpaque(tx.Opaque)
	if script == nil {
		script = defaultScript(quoted)
	}

	a.mu.Lock()
	a.txs[txHash] = &pendingTx{quoted: quoted, script: script}
	a.mu.Unlock()

	return txHash, nil
}

func quotedAmountFromOpaque(opaque []byte) decimal.Decimal {
	// Opaque carries "pair:amountIn:minOut:recipient"; minOut is the
	// venue's own floor, a reasonable stand-in for a settled amount
	// when no script overrides it.
	parts := splitOpaque(string(opaque))
	if len(parts) < 3 {
		return decimal.Zero
	}
	out, err := decimal.NewFromString(parts[2])
	if err != nil {
		return decimal.Zero
	}
	return out
}

func splitOpaque(s string) []string {
	var parts []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == ':' {
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	parts = append(parts, s[start:])
	return parts
}

// WaitReceipt polls the scripted outcome for txHash. The default script
// resolves immediately; a test-installed Script may delay, simulating a
// slow receipt, by returning an error until ctx/timeout expires.
func (a *Adapter) WaitReceipt(ctx context.Context, txHash string, timeout time.Duration) (venue.Receipt, error) {
	a.mu.Lock()
	ptx, ok := a.txs[txHash]
	a.mu.Unlock()
	if !ok {
		return venue.Receipt{}, ErrUnknownTx
	}

	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		a.mu.Lock()
		ptx.attempts++
		attempt := ptx.attempts
		script := ptx.script
		a.mu.Unlock()

		receipt, err := script(txHash, attempt)
		if err == nil {
			return receipt, nil
		}

		if time.Now().After(deadline) {
			return venue.Receipt{}, fmt.Errorf("uniswapv3: receipt not available after %s: %w", timeout, err)
		}
		select {
		case <-ctx.Done():
			return venue.Receipt{}, ctx.Err()
		case <-ticker.C:
		}
	}
}
