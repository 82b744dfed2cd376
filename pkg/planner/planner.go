// Package planner implements the Execution Planner (C6): a queue-group
// consumer that turns an accepted intent into a routed execution plan.
package planner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/cuemby/execd/pkg/events"
	"github.com/cuemby/execd/pkg/log"
	"github.com/cuemby/execd/pkg/metrics"
	"github.com/cuemby/execd/pkg/types"
)

// Route is the result of a routing call.
type Route struct {
	AmountOut decimal.Decimal
	Path      []string
}

// RouteFunc resolves a route for an asset pair. Treated as pure by the
// planner; a non-nil error is classified as RoutingFailed.
type RouteFunc func(ctx context.Context, base, quote types.Asset, amountIn decimal.Decimal) (Route, error)

// RoutingFailed classifies why RouteFunc failed, per spec §4.6 step 2.
type RoutingFailed struct {
	Reason types.RejectReason
	Err    error
}

func (e *RoutingFailed) Error() string {
	return fmt.Sprintf("routing failed (%s): %v", e.Reason, e.Err)
}

func (e *RoutingFailed) Unwrap() error { return e.Err }

// IntentLookup resolves the original intent.submitted payload for a
// correlation when it has fallen out of the planner's local cache. C8's
// event store (pkg/storage.EventStore) and the Coordinator implement this.
type IntentLookup interface {
	GetEvents(ctx context.Context, correlationID string, fromSequence int) ([]*types.EventEnvelope, error)
}

const (
	queueGroup = "planner.workers"
	pattern    = "intent.accepted"
	cacheSize  = 4096
)

// Planner subscribes to intent.accepted and emits plan.created or
// plan.rejected. It holds no durable state between invocations: the
// local cache is an optimization, never a source of truth, since C8
// tolerates and dedups repeated delivery.
type Planner struct {
	bus    *events.Bus
	lookup IntentLookup
	route  RouteFunc
	cache  *lru.Cache[string, types.Intent]
	logger zerolog.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New constructs a Planner. cache, if intents are also cached elsewhere
// by the caller (e.g. the intent manager), may be primed via Remember.
func New(bus *events.Bus, lookup IntentLookup, route RouteFunc) *Planner {
	cache, err := lru.New[string, types.Intent](cacheSize)
	if err != nil {
		// cacheSize is a positive compile-time constant; New only fails
		// for size <= 0.
		panic(err)
	}
	return &Planner{
		bus:    bus,
		lookup: lookup,
		route:  route,
		cache:  cache,
		logger: log.WithComponent("planner"),
		stopCh: make(chan struct{}),
	}
}

// Remember primes the local cache with an intent keyed by its
// correlation id, letting the intent manager avoid a coordinator
// round-trip for the common case of immediate delivery.
func (p *Planner) Remember(correlationID string, intent types.Intent) {
	p.cache.Add(correlationID, intent)
}

// Start subscribes to the bus and processes envelopes until Stop.
func (p *Planner) Start(ctx context.Context) error {
	sub, err := p.bus.SubscribeQueue(pattern, queueGroup)
	if err != nil {
		return fmt.Errorf("subscribe %s/%s: %w", pattern, queueGroup, err)
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case <-p.stopCh:
				return
			case env := <-sub.Envelopes():
				p.handle(ctx, sub, env)
			}
		}
	}()
	return nil
}

// Stop halts the processing loop and waits for it to exit.
func (p *Planner) Stop() {
	close(p.stopCh)
	p.wg.Wait()
}

func (p *Planner) handle(ctx context.Context, sub *events.QueueSubscription, env *types.EventEnvelope) {
	intent, err := p.resolveIntent(ctx, env.CorrelationID)
	if err != nil {
		p.logger.Error().Err(err).Str("correlation_id", env.CorrelationID).Msg("could not resolve intent for plan")
		sub.Nack(env.EventID)
		return
	}

	route, err := p.route(ctx, intent.Target(), intent.Quote(), intent.AmountIn)
	if err != nil {
		var rf *RoutingFailed
		reason := types.ReasonRouteInternal
		if errors.As(err, &rf) {
			reason = rf.Reason
		}
		if pubErr := p.publishRejected(ctx, env, reason); pubErr != nil {
			p.logger.Error().Err(pubErr).Msg("failed to publish plan.rejected")
			sub.Nack(env.EventID)
			return
		}
		metrics.PlansRejectedTotal.WithLabelValues(string(reason)).Inc()
		sub.Ack(env.EventID)
		return
	}

	if err := p.publishCreated(ctx, env, intent, route); err != nil {
		p.logger.Error().Err(err).Msg("failed to publish plan.created")
		sub.Nack(env.EventID)
		return
	}
	metrics.PlansCreatedTotal.Inc()
	sub.Ack(env.EventID)
}

func (p *Planner) resolveIntent(ctx context.Context, correlationID string) (types.Intent, error) {
	if intent, ok := p.cache.Get(correlationID); ok {
		return intent, nil
	}
	if p.lookup == nil {
		return types.Intent{}, fmt.Errorf("no cached intent for %s and no lookup configured", correlationID)
	}
	envs, err := p.lookup.GetEvents(ctx, correlationID, 1)
	if err != nil {
		return types.Intent{}, fmt.Errorf("lookup intent for %s: %w", correlationID, err)
	}
	for _, env := range envs {
		if env.Topic == types.TopicIntentSubmitted {
			intent, err := env.DecodeIntent()
			if err != nil {
				return types.Intent{}, err
			}
			p.cache.Add(correlationID, intent)
			return intent, nil
		}
	}
	return types.Intent{}, fmt.Errorf("no intent.submitted found for correlation %s", correlationID)
}

func (p *Planner) publishRejected(ctx context.Context, env *types.EventEnvelope, reason types.RejectReason) error {
	seq := env.Sequence + 1
	rejected, err := types.MakeEnvelope(types.TopicPlanRejected, types.PlanRejectedPayload{Reason: reason}, env.CorrelationID, &env.EventID, &seq)
	if err != nil {
		return err
	}
	_, err = p.bus.Publish(ctx, rejected, nil)
	return err
}

func (p *Planner) publishCreated(ctx context.Context, env *types.EventEnvelope, intent types.Intent, route Route) error {
	minOut := floorMinOut(route.AmountOut, intent.Constraints.MaxSlippage, intent.Quote().Decimals)
	plan := types.ExecutionPlan{
		PlanID:   types.NewEventID().String(),
		IntentID: intent.IntentID,
		Steps: []types.PlanStep{
			{
				Venue:     firstOrDefault(route.Path, "uniswap_v3"),
				Base:      intent.Target(),
				Quote:     intent.Quote(),
				AmountIn:  intent.AmountIn,
				MinOut:    minOut,
				Recipient: "",
			},
		},
		// Carries the intent's own deadline window through to the
		// orchestrator, which has no other way to learn it: the plan is
		// the only payload the orchestrator ever decodes.
		EstimatedDurationMs: intent.Constraints.TimeWindowMs,
	}

	seq := env.Sequence + 1
	created, err := types.MakeEnvelope(types.TopicPlanCreated, plan, env.CorrelationID, &env.EventID, &seq)
	if err != nil {
		return err
	}
	_, err = p.bus.Publish(ctx, created, nil)
	return err
}

// floorMinOut computes floor(amountOut * (1 - maxSlippage)) with
// round-toward-zero rounding at the quote asset's native precision, per
// spec §4.6 step 3.
func floorMinOut(amountOut, maxSlippage decimal.Decimal, quoteDecimals int32) decimal.Decimal {
	retained := decimal.NewFromInt(1).Sub(maxSlippage)
	return amountOut.Mul(retained).RoundDown(quoteDecimals)
}

func firstOrDefault(path []string, def string) string {
	if len(path) == 0 {
		return def
	}
	return path[0]
}
