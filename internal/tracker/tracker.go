// Package tracker maintains per-source collection metrics and drives the
// mode-escalation state machine over the shared state store.
package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sharkted/collector/internal/collect"
	"github.com/sharkted/collector/internal/events"
	"github.com/sharkted/collector/internal/state"
)

const metricsPrefix = "metrics:"

// PolicySource resolves the policy governing a source.
type PolicySource interface {
	Get(source string) collect.SourcePolicy
}

// Decision is what RecordOutcome decided while absorbing an outcome.
type Decision struct {
	Metrics            collect.SourceMetrics
	Escalated          bool
	From               collect.Mode
	To                 collect.Mode
	Blocked            bool
	BlockedUntil       time.Time
	StructuralBreakage bool
}

// Tracker owns the metrics records. All mutations go through the store's
// atomic update so concurrent workers in any process agree on counters and
// transitions.
type Tracker struct {
	store    state.Store
	policies PolicySource
	emitter  events.Emitter
	clock    collect.Clock
	logger   *zap.Logger
}

// New builds a Tracker.
func New(store state.Store, policies PolicySource, emitter events.Emitter, clock collect.Clock, logger *zap.Logger) *Tracker {
	if clock == nil {
		clock = collect.SystemClock{}
	}
	return &Tracker{
		store:    store,
		policies: policies,
		emitter:  emitter,
		clock:    clock,
		logger:   logger.Named("tracker"),
	}
}

func metricsKey(source string) string { return metricsPrefix + source }

func initialMetrics(source string, pol collect.SourcePolicy) collect.SourceMetrics {
	mode := pol.BaselineMode
	if mode == "" {
		mode = collect.ModeDirect
	}
	return collect.SourceMetrics{Source: source, CurrentMode: mode}
}

func decode(cur []byte, found bool, source string, pol collect.SourcePolicy) (collect.SourceMetrics, error) {
	if !found {
		return initialMetrics(source, pol), nil
	}
	var m collect.SourceMetrics
	if err := json.Unmarshal(cur, &m); err != nil {
		return collect.SourceMetrics{}, fmt.Errorf("decode metrics for %s: %w", source, err)
	}
	return m, nil
}

// CurrentMode reports the mode the next attempt should run in. While a
// source is circuit-broken it reports ModeBlocked; the underlying rung is
// preserved and restored once the block clears.
func (t *Tracker) CurrentMode(ctx context.Context, source string) (collect.Mode, error) {
	m, _, err := t.Metrics(ctx, source)
	if err != nil {
		return "", err
	}
	if m.IsBlocked(t.clock.Now()) {
		return collect.ModeBlocked, nil
	}
	return m.CurrentMode, nil
}

// Metrics returns the current record for source. A source never seen before
// yields its policy baseline with found=false; nothing is written.
func (t *Tracker) Metrics(ctx context.Context, source string) (collect.SourceMetrics, bool, error) {
	cur, found, err := t.store.Get(ctx, metricsKey(source))
	if err != nil {
		return collect.SourceMetrics{}, false, err
	}
	m, err := decode(cur, found, source, t.policies.Get(source))
	return m, found, err
}

// AllMetrics lists every tracked source record.
func (t *Tracker) AllMetrics(ctx context.Context) ([]collect.SourceMetrics, error) {
	keys, err := t.store.Keys(ctx, metricsPrefix)
	if err != nil {
		return nil, err
	}
	out := make([]collect.SourceMetrics, 0, len(keys))
	for _, key := range keys {
		source := strings.TrimPrefix(key, metricsPrefix)
		m, _, err := t.Metrics(ctx, source)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// RecordOutcome absorbs one attempt result, advancing counters and, on
// repeated failure, the escalation ladder. Blocking-class errors arm an
// escalation decision at the policy threshold; transient errors need twice
// as many; structural errors feed a separate breakage counter and never
// escalate the mode.
func (t *Tracker) RecordOutcome(ctx context.Context, source string, out collect.Outcome) (Decision, error) {
	pol := t.policies.Get(source)
	now := t.clock.Now()
	var dec Decision

	_, err := t.store.Update(ctx, metricsKey(source), func(cur []byte, found bool) ([]byte, error) {
		dec = Decision{}
		m, err := decode(cur, found, source, pol)
		if err != nil {
			return nil, err
		}

		m.TotalAttempts++
		if out.Success {
			m.TotalSuccess++
			m.Success24h++
			m.ConsecutiveFailures = 0
			m.StructuralFailures = 0
			m.LastSuccessAt = timePtr(now)
			m.BlockedUntil = nil
			m.BlockReason = ""
		} else {
			m.TotalFailures++
			m.Failures24h++
			m.LastErrorAt = timePtr(now)
			m.LastErrorType = out.ErrorType
			if out.StatusCode != 0 {
				m.LastStatusCode = out.StatusCode
			}
			t.absorbFailure(&m, pol, out, now, &dec)
		}

		dec.Metrics = m
		return json.Marshal(m)
	})
	if err != nil {
		return Decision{}, err
	}

	t.publish(source, out, dec)
	return dec, nil
}

func (t *Tracker) absorbFailure(m *collect.SourceMetrics, pol collect.SourcePolicy, out collect.Outcome, now time.Time, dec *Decision) {
	class := collect.ClassifyType(out.ErrorType)
	if class == collect.ClassStructural {
		m.StructuralFailures++
		if m.StructuralFailures >= pol.StructuralFailureThreshold {
			dec.StructuralBreakage = true
			m.StructuralFailures = 0
		}
		return
	}

	m.ConsecutiveFailures++
	threshold := pol.EscalationThreshold()
	if class == collect.ClassTransient {
		threshold *= 2
	}
	if m.ConsecutiveFailures < threshold {
		return
	}

	next, ok := collect.NextMode(m.CurrentMode, pol)
	// The browser rung is reserved for sources that actually fight back;
	// plain transient failure does not justify its cost.
	if ok && next == collect.ModeBrowser && class != collect.ClassBlocking {
		ok = false
	}
	if ok {
		dec.Escalated = true
		dec.From = m.CurrentMode
		dec.To = next
		m.CurrentMode = next
		m.ConsecutiveFailures = 0
		return
	}

	until := now.Add(cooldown(pol, m.ConsecutiveFailures))
	m.BlockedUntil = timePtr(until)
	m.BlockReason = fmt.Sprintf("no further escalation from %s after %s", m.CurrentMode, out.ErrorType)
	dec.Blocked = true
	dec.BlockedUntil = until
}

// cooldown grows exponentially with the failure streak, capped by the
// policy's maximum backoff.
func cooldown(pol collect.SourcePolicy, failures int) time.Duration {
	d := time.Duration(float64(pol.BaseInterval) * math.Pow(pol.BackoffMultiplier, float64(failures)))
	if d <= 0 || d > pol.MaxBackoff {
		return pol.MaxBackoff
	}
	return d
}

// publish emits events only after the store update committed, so a CAS
// retry cannot duplicate them.
func (t *Tracker) publish(source string, out collect.Outcome, dec Decision) {
	if t.emitter == nil {
		return
	}
	evt := events.New(events.KindOutcomeRecorded, source)
	evt.Mode = out.Mode
	evt.Success = out.Success
	evt.ErrorType = out.ErrorType
	evt.StatusCode = out.StatusCode
	evt.Duration = out.Duration
	t.emitter.Emit(evt)

	if dec.Escalated {
		esc := events.New(events.KindModeEscalated, source)
		esc.FromMode = dec.From
		esc.ToMode = dec.To
		esc.ErrorType = out.ErrorType
		t.emitter.Emit(esc)
		t.logger.Warn("mode escalated",
			zap.String("source", source),
			zap.String("from", string(dec.From)),
			zap.String("to", string(dec.To)))
	}
	if dec.Blocked {
		blk := events.New(events.KindSourceBlocked, source)
		blk.BlockedUntil = timePtr(dec.BlockedUntil)
		blk.Reason = dec.Metrics.BlockReason
		t.emitter.Emit(blk)
		t.logger.Warn("source blocked",
			zap.String("source", source),
			zap.Time("blocked_until", dec.BlockedUntil),
			zap.String("reason", dec.Metrics.BlockReason))
	}
	if dec.StructuralBreakage {
		brk := events.New(events.KindStructuralBreakage, source)
		brk.ErrorType = out.ErrorType
		t.emitter.Emit(brk)
	}
}

// Unblock lifts the circuit breaker. It reports true only when the source
// was actually blocked; the preserved rung stays untouched either way.
func (t *Tracker) Unblock(ctx context.Context, source string) (bool, error) {
	pol := t.policies.Get(source)
	var was bool
	_, err := t.store.Update(ctx, metricsKey(source), func(cur []byte, found bool) ([]byte, error) {
		was = false
		m, err := decode(cur, found, source, pol)
		if err != nil {
			return nil, err
		}
		if m.BlockedUntil != nil {
			was = true
			m.BlockedUntil = nil
			m.BlockReason = ""
			m.ConsecutiveFailures = 0
		}
		return json.Marshal(m)
	})
	if err != nil {
		return false, err
	}
	if was && t.emitter != nil {
		t.emitter.Emit(events.New(events.KindSourceUnblocked, source))
		t.logger.Info("source unblocked", zap.String("source", source))
	}
	return was, nil
}

// ResetRollingStats zeroes the 24h counters for every tracked source. It is
// meant to run on a daily ticker.
func (t *Tracker) ResetRollingStats(ctx context.Context) error {
	keys, err := t.store.Keys(ctx, metricsPrefix)
	if err != nil {
		return err
	}
	for _, key := range keys {
		source := strings.TrimPrefix(key, metricsPrefix)
		_, err := t.store.Update(ctx, key, func(cur []byte, found bool) ([]byte, error) {
			m, err := decode(cur, found, source, t.policies.Get(source))
			if err != nil {
				return nil, err
			}
			m.Success24h = 0
			m.Failures24h = 0
			return json.Marshal(m)
		})
		if err != nil {
			return err
		}
	}
	t.logger.Info("rolling stats reset", zap.Int("sources", len(keys)))
	return nil
}

func timePtr(t time.Time) *time.Time { return &t }
