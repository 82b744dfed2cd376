// Package intentmgr implements the Intent Manager (C5): the intake
// boundary that validates a submitted intent, runs it through the risk
// gate, and publishes the resulting event chain onto the bus.
package intentmgr

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/execd/pkg/events"
	"github.com/cuemby/execd/pkg/log"
	"github.com/cuemby/execd/pkg/metrics"
	"github.com/cuemby/execd/pkg/risk"
	"github.com/cuemby/execd/pkg/types"
)

const (
	maxAcceptRetries = 3
	retryBaseDelay   = 200 * time.Millisecond
	retryFactor      = 2.0
	retryJitter      = 0.2
)

// Manager is the single entry point for intent submission. It holds no
// durable state of its own: the bus, the risk gate's config and its
// price function are its only dependencies, and every call is
// independent of every other.
type Manager struct {
	bus      *events.Bus
	riskCfg  risk.Config
	priceUSD risk.PriceFunc
	logger   zerolog.Logger
}

// New constructs a Manager. priceUSD resolves reference prices for the
// risk gate's notional check; see risk.PriceFunc.
func New(bus *events.Bus, riskCfg risk.Config, priceUSD risk.PriceFunc) *Manager {
	return &Manager{
		bus:      bus,
		riskCfg:  riskCfg,
		priceUSD: priceUSD,
		logger:   log.WithComponent("intentmgr"),
	}
}

// Submit validates intent, evaluates it against the risk gate, and
// publishes the resulting event chain, per spec §4.5.
func (m *Manager) Submit(ctx context.Context, intent types.Intent) (string, error) {
	if err := intent.Validate(); err != nil {
		return "", fmt.Errorf("intent failed validation: %w", err)
	}

	rootID := types.NewEventID()
	intent.IntentID = rootID.String()
	correlationID := types.CorrelationID(rootID)

	intentLog := log.WithIntentID(intent.IntentID)

	submittedEnv, err := m.publishWithRetry(ctx, types.TopicIntentSubmitted, intent, correlationID, nil, seqPtr(1))
	if err != nil {
		intentLog.Error().Err(err).Msg("failed to publish intent.submitted")
		return "", fmt.Errorf("publish intent.submitted: %w", err)
	}

	decision := risk.Evaluate(m.riskCfg, intent, m.priceUSD)
	if !decision.Approved {
		_, err := m.publishWithRetry(ctx, types.TopicRiskRejected, types.RiskDecisionPayload{Reason: decision.Reason}, correlationID, &submittedEnv.EventID, seqPtr(2))
		if err != nil {
			intentLog.Error().Err(err).Msg("failed to publish risk.rejected")
			return "", fmt.Errorf("publish risk.rejected: %w", err)
		}
		metrics.IntentsRejectedTotal.WithLabelValues(string(decision.Reason)).Inc()
		return intent.IntentID, nil
	}

	approvedEnv, err := m.publishWithRetry(ctx, types.TopicRiskApproved, types.RiskDecisionPayload{}, correlationID, &submittedEnv.EventID, seqPtr(2))
	if err != nil {
		m.failAccept(ctx, correlationID, submittedEnv.EventID, err)
		return intent.IntentID, nil
	}

	_, err = m.publishWithRetry(ctx, types.TopicIntentAccepted, types.IntentAcceptedPayload{}, correlationID, &approvedEnv.EventID, seqPtr(3))
	if err != nil {
		m.failAccept(ctx, correlationID, approvedEnv.EventID, err)
		return intent.IntentID, nil
	}

	metrics.IntentsAcceptedTotal.Inc()
	return intent.IntentID, nil
}

// failAccept publishes intent.failed with ACCEPT_PUBLISH_FAILED once a
// prior publish in the chain has already succeeded, per spec §4.5 step
// 5. It is best-effort: a failure here is logged, not propagated, since
// Submit has already committed to returning the intent id.
func (m *Manager) failAccept(ctx context.Context, correlationID string, causation types.EventID, cause error) {
	corrLog := log.WithCorrelationID(correlationID)
	corrLog.Error().Err(cause).Msg("accept chain publish exhausted retries")
	_, err := m.publishWithRetry(ctx, types.TopicIntentFailed, types.IntentFailedPayload{Reason: types.ReasonAcceptPublishFailed}, correlationID, &causation, nil)
	if err != nil {
		corrLog.Error().Err(err).Msg("failed to publish intent.failed")
	}
	metrics.IntentsRejectedTotal.WithLabelValues(string(types.ReasonAcceptPublishFailed)).Inc()
}

// publishWithRetry makes an envelope and publishes it, retrying up to
// maxAcceptRetries times with exponential backoff and jitter on
// transport failure. Duplicate-suppressed results are treated as
// success: the bus has already recorded the event.
func (m *Manager) publishWithRetry(ctx context.Context, topic types.Topic, payload any, correlationID string, causation *types.EventID, sequence *int) (*types.EventEnvelope, error) {
	env, err := types.MakeEnvelope(topic, payload, correlationID, causation, sequence)
	if err != nil {
		return nil, err
	}

	var lastErr error
	delay := retryBaseDelay
	for attempt := 0; attempt <= maxAcceptRetries; attempt++ {
		if attempt > 0 {
			jittered := jitter(delay, retryJitter)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(jittered):
			}
			delay = time.Duration(float64(delay) * retryFactor)
		}

		res, pubErr := m.bus.Publish(ctx, env, nil)
		if pubErr == nil {
			if res == events.DuplicateSuppressed {
				m.logger.Warn().Str("event_id", env.EventID.String()).Msg("duplicate publish suppressed")
			}
			return env, nil
		}
		lastErr = pubErr
	}
	return nil, fmt.Errorf("%w after %d attempts: %v", errPublishExhausted, maxAcceptRetries+1, lastErr)
}

var errPublishExhausted = errors.New("intentmgr: publish retries exhausted")

func seqPtr(n int) *int { return &n }

func jitter(base time.Duration, frac float64) time.Duration {
	delta := float64(base) * frac
	offset := (rand.Float64()*2 - 1) * delta
	return time.Duration(float64(base) + offset)
}
