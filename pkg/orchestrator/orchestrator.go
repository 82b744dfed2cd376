// Package orchestrator implements the Orchestrator (C7): a queue-group
// consumer that drives each execution plan's single step through build,
// submit, and await-receipt, with bounded retry and deadline
// enforcement.
package orchestrator

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/execd/pkg/events"
	"github.com/cuemby/execd/pkg/log"
	"github.com/cuemby/execd/pkg/metrics"
	"github.com/cuemby/execd/pkg/types"
	"github.com/cuemby/execd/pkg/venue"
)

const (
	queueGroup = "orchestrator.workers"
	pattern    = "plan.created"

	maxAttempts       = 3
	backoffBase       = 200 * time.Millisecond
	backoffFactor     = 2.0
	backoffJitter     = 0.2
	awaitReceiptCapMs = 120_000
)

// stepState names the per-plan step state machine from spec §4.7.
type stepState string

const (
	statePlanned   stepState = "Planned"
	stateBuilding  stepState = "Building"
	stateSubmitted stepState = "Submitted"
	stateAwaiting  stepState = "Awaiting"
	stateFilled    stepState = "Filled"
	stateReverted  stepState = "Reverted"
	stateTimedOut  stepState = "TimedOut"
)

// Orchestrator consumes plan.created envelopes and drives each plan's
// single step to a terminal outcome.
type Orchestrator struct {
	bus    *events.Bus
	venue  venue.Adapter
	logger zerolog.Logger

	startedGuard sync.Map // planID -> struct{}, dedups exec.started

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New constructs an Orchestrator bound to adapter for all plan steps.
// A later multi-venue revision would look the adapter up per
// plan.Steps[i].Venue; today there is exactly one configured venue.
func New(bus *events.Bus, adapter venue.Adapter) *Orchestrator {
	return &Orchestrator{
		bus:    bus,
		venue:  adapter,
		logger: log.WithComponent("orchestrator"),
		stopCh: make(chan struct{}),
	}
}

// Start subscribes to plan.created and processes plans until Stop.
func (o *Orchestrator) Start(ctx context.Context) error {
	sub, err := o.bus.SubscribeQueue(pattern, queueGroup)
	if err != nil {
		return fmt.Errorf("subscribe %s/%s: %w", pattern, queueGroup, err)
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case <-o.stopCh:
				return
			case env := <-sub.Envelopes():
				o.handlePlan(ctx, sub, env)
			}
		}
	}()
	return nil
}

// Stop halts the processing loop and waits for it to exit.
func (o *Orchestrator) Stop() {
	close(o.stopCh)
	o.wg.Wait()
}

func (o *Orchestrator) handlePlan(ctx context.Context, sub *events.QueueSubscription, env *types.EventEnvelope) {
	plan, err := env.DecodePlan()
	if err != nil {
		o.logger.Error().Err(err).Str("event_id", env.EventID.String()).Msg("could not decode plan.created")
		sub.Nack(env.EventID)
		return
	}
	if len(plan.Steps) == 0 {
		o.logger.Error().Str("plan_id", plan.PlanID).Msg("plan has no steps")
		sub.Nack(env.EventID)
		return
	}
	step := plan.Steps[0]

	deadline := time.Now().Add(timeWindowFromPlan(plan))
	runCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	planLog := log.WithPlanID(plan.PlanID)

	if _, started := o.startedGuard.LoadOrStore(plan.PlanID, struct{}{}); !started {
		if err := o.publishStarted(ctx, env, plan); err != nil {
			planLog.Error().Err(err).Msg("failed to publish exec.started")
			sub.Nack(env.EventID)
			return
		}
	}

	outcome, seqBase := o.runSteps(runCtx, env, plan, step, deadline)
	o.publishOutcome(ctx, env, plan, outcome, seqBase)
	sub.Ack(env.EventID)
}

// timeWindowFromPlan derives the plan's overall execution deadline
// window from EstimatedDurationMs, which the planner sets from the
// originating intent's constraints.time_window_ms (spec §4.6). This is
// the whole-orchestration deadline; awaitReceiptCapMs is a separate,
// smaller cap applied per WaitReceipt attempt in attemptStep, never
// substituted for this value. The fallback below only guards a
// malformed or legacy plan.created envelope that somehow carries no
// duration; real production plans always set it.
func timeWindowFromPlan(plan types.ExecutionPlan) time.Duration {
	if plan.EstimatedDurationMs > 0 {
		return time.Duration(plan.EstimatedDurationMs) * time.Millisecond
	}
	return awaitReceiptCapMs * time.Millisecond
}

type outcome struct {
	state     stepState
	reason    types.RejectReason
	txHash    string
	amountOut string
}

// runSteps drives the Building -> Submitted -> Awaiting sequence,
// retrying up to maxAttempts total submissions with exponential
// backoff and jitter between attempts, per spec §4.7 steps 1-6.
func (o *Orchestrator) runSteps(ctx context.Context, env *types.EventEnvelope, plan types.ExecutionPlan, step types.PlanStep, deadline time.Time) (outcome, int) {
	seq := env.Sequence + 1
	delay := backoffBase

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if ctx.Err() != nil {
			metrics.ExecStepAttemptsTotal.WithLabelValues("deadline_exceeded").Inc()
			return outcome{state: stateTimedOut, reason: types.ReasonDeadlineExceeded}, seq
		}

		timer := metrics.NewTimer()
		result, retryable := o.attemptStep(ctx, env, plan, step, deadline, &seq)
		timer.ObserveDurationVec(metrics.ExecStepDuration, step.Venue)

		if !retryable {
			return result, seq
		}

		metrics.ExecStepAttemptsTotal.WithLabelValues("retry").Inc()
		if attempt == maxAttempts {
			break
		}

		jittered := jitter(delay, backoffJitter)
		select {
		case <-ctx.Done():
			return outcome{state: stateTimedOut, reason: types.ReasonDeadlineExceeded}, seq
		case <-time.After(jittered):
		}
		delay = time.Duration(float64(delay) * backoffFactor)
	}

	metrics.ExecStepAttemptsTotal.WithLabelValues("exhausted").Inc()
	return outcome{state: stateReverted, reason: types.ReasonMaxAttemptsExceeded}, seq
}

// attemptStep runs one build/submit/await cycle. The bool return
// reports whether the caller should retry (true) or stop (false); when
// false, the returned outcome is final.
func (o *Orchestrator) attemptStep(ctx context.Context, env *types.EventEnvelope, plan types.ExecutionPlan, step types.PlanStep, deadline time.Time, seq *int) (outcome, bool) {
	tx, err := o.venue.BuildSwapTx(ctx, step.Base, step.Quote, step.AmountIn, step.MinOut, step.Recipient, deadline)
	if err != nil {
		return outcome{}, true
	}

	txHash, err := o.venue.SubmitTx(ctx, tx)
	if err != nil {
		return outcome{}, true
	}
	if err := o.publishStepSubmitted(ctx, env, txHash, seq); err != nil {
		o.logger.Error().Err(err).Str("plan_id", plan.PlanID).Msg("failed to publish exec.step_submitted")
	}

	remaining := time.Until(deadline)
	waitTimeout := remaining
	if waitTimeout > awaitReceiptCapMs*time.Millisecond {
		waitTimeout = awaitReceiptCapMs * time.Millisecond
	}
	if waitTimeout <= 0 {
		return outcome{state: stateTimedOut, reason: types.ReasonDeadlineExceeded}, false
	}

	receipt, err := o.venue.WaitReceipt(ctx, txHash, waitTimeout)
	if err != nil {
		if ctx.Err() != nil {
			return outcome{state: stateTimedOut, reason: types.ReasonDeadlineExceeded}, false
		}
		return outcome{}, true
	}

	switch receipt.Status {
	case venue.ReceiptSuccess:
		if err := o.publishStepFilled(ctx, env, txHash, receipt.AmountOut.String(), seq); err != nil {
			o.logger.Error().Err(err).Str("plan_id", plan.PlanID).Msg("failed to publish exec.step_filled")
		}
		return outcome{state: stateFilled, txHash: txHash, amountOut: receipt.AmountOut.String()}, false
	case venue.ReceiptReverted:
		return outcome{}, true
	default:
		return outcome{}, true
	}
}

func (o *Orchestrator) publishStarted(ctx context.Context, env *types.EventEnvelope, plan types.ExecutionPlan) error {
	seq := env.Sequence + 1
	started, err := types.MakeEnvelope(types.TopicExecStarted, types.ExecStartedPayload{PlanID: plan.PlanID}, env.CorrelationID, &env.EventID, &seq)
	if err != nil {
		return err
	}
	_, err = o.bus.Publish(ctx, started, nil)
	return err
}

func (o *Orchestrator) publishStepSubmitted(ctx context.Context, env *types.EventEnvelope, txHash string, seq *int) error {
	*seq++
	envelope, err := types.MakeEnvelope(types.TopicExecStepSubmitted, types.ExecStepSubmittedPayload{TxHash: txHash}, env.CorrelationID, &env.EventID, seq)
	if err != nil {
		return err
	}
	_, err = o.bus.Publish(ctx, envelope, nil)
	return err
}

func (o *Orchestrator) publishStepFilled(ctx context.Context, env *types.EventEnvelope, txHash, amountOut string, seq *int) error {
	*seq++
	envelope, err := types.MakeEnvelope(types.TopicExecStepFilled, types.ExecStepFilledPayload{TxHash: txHash, AmountOut: amountOut}, env.CorrelationID, &env.EventID, seq)
	if err != nil {
		return err
	}
	_, err = o.bus.Publish(ctx, envelope, nil)
	return err
}

func (o *Orchestrator) publishOutcome(ctx context.Context, env *types.EventEnvelope, plan types.ExecutionPlan, out outcome, seq int) {
	seq++
	switch out.state {
	case stateFilled:
		completed, err := types.MakeEnvelope(types.TopicExecCompleted, types.ExecCompletedPayload{TxHash: out.txHash, AmountOut: out.amountOut}, env.CorrelationID, &env.EventID, &seq)
		if err != nil {
			o.logger.Error().Err(err).Str("plan_id", plan.PlanID).Msg("failed to build exec.completed")
			return
		}
		if _, err := o.bus.Publish(ctx, completed, nil); err != nil {
			o.logger.Error().Err(err).Str("plan_id", plan.PlanID).Msg("failed to publish exec.completed")
			return
		}
		metrics.ExecCompletedTotal.Inc()
	default:
		failed, err := types.MakeEnvelope(types.TopicExecFailed, types.ExecFailedPayload{Reason: out.reason}, env.CorrelationID, &env.EventID, &seq)
		if err != nil {
			o.logger.Error().Err(err).Str("plan_id", plan.PlanID).Msg("failed to build exec.failed")
			return
		}
		if _, err := o.bus.Publish(ctx, failed, nil); err != nil {
			o.logger.Error().Err(err).Str("plan_id", plan.PlanID).Msg("failed to publish exec.failed")
			return
		}
		metrics.ExecFailedTotal.WithLabelValues(string(out.reason)).Inc()
	}
}

func jitter(base time.Duration, frac float64) time.Duration {
	delta := float64(base) * frac
	offset := (rand.Float64()*2 - 1) * delta
	return time.Duration(float64(base) + offset)
}
