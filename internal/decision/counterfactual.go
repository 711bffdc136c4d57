package decision

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mlevitan96-crypto/trading-bot-sub006/internal/prices"
	"github.com/mlevitan96-crypto/trading-bot-sub006/internal/signals"
)

// Engine owns the decision log and fills in counterfactual outcomes at
// each horizon, for executed and blocked decisions alike. That symmetry
// is what lets governance compare taken vs rejected expected value.
type Engine struct {
	log       Log
	prices    prices.Source
	tolerance time.Duration
	horizons  []Horizon
}

// NewEngine builds a counterfactual engine over a log and price source.
func NewEngine(l Log, src prices.Source, tolerance time.Duration) *Engine {
	if tolerance <= 0 {
		tolerance = 30 * time.Second
	}
	return &Engine{
		log:       l,
		prices:    src,
		tolerance: tolerance,
		horizons:  DefaultHorizons(),
	}
}

// Log exposes the underlying record log.
func (e *Engine) Log() Log { return e.log }

// RecordDecision appends the creation, gate and sizing field groups for
// a freshly made decision.
func (e *Engine) RecordDecision(ctx context.Context, p *Packet) error {
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}

	created := Record{
		DecisionID: p.DecisionID,
		Stage:      StageCreated,
		At:         p.CreatedAt,
		Created: &CreatedFields{
			Symbol:         p.Symbol,
			StrategyID:     p.StrategyID,
			Side:           p.Side,
			Missed:         p.Missed,
			SignalContext:  p.SignalContext,
			RuntimeContext: p.RuntimeContext,
		},
	}
	if err := e.log.Append(ctx, created); err != nil {
		return fmt.Errorf("record decision %s: %w", p.DecisionID, err)
	}

	gate := Record{DecisionID: p.DecisionID, Stage: StageGate, At: now, Gate: &GateVerdicts{ReasonCodes: p.GateVerdicts.ReasonCodes}}
	if err := e.log.Append(ctx, gate); err != nil {
		return fmt.Errorf("record gate verdict %s: %w", p.DecisionID, err)
	}

	sizing := p.Sizing
	sz := Record{DecisionID: p.DecisionID, Stage: StageSizing, At: now, Sizing: &sizing}
	if err := e.log.Append(ctx, sz); err != nil {
		return fmt.Errorf("record sizing %s: %w", p.DecisionID, err)
	}
	return nil
}

// AttachOutcome appends the outcome field group.
func (e *Engine) AttachOutcome(ctx context.Context, decisionID string, outcome Outcome) error {
	rec := Record{
		DecisionID: decisionID,
		Stage:      StageOutcome,
		At:         time.Now().UTC(),
		Outcome:    &outcome,
	}
	if err := e.log.Append(ctx, rec); err != nil {
		return fmt.Errorf("attach outcome %s: %w", decisionID, err)
	}
	return nil
}

// SynthesizeMissed builds and records a minimal packet for a signal
// that never reached the decision stage, so the same counterfactual
// machinery applies uniformly.
func (e *Engine) SynthesizeMissed(ctx context.Context, r signals.Reading, side signals.Side, notional float64) (*Packet, error) {
	p := &Packet{
		DecisionID: NewDecisionID(),
		Symbol:     r.Symbol,
		StrategyID: "missed:" + r.Signal,
		Side:       side,
		CreatedAt:  r.Timestamp.UTC(),
		Missed:     true,
		SignalContext: SignalContext{
			Signals: map[string]SignalSnapshot{
				r.Signal: {Direction: r.Direction, Confidence: r.Confidence},
			},
		},
		GateVerdicts: GateVerdicts{ReasonCodes: []string{"pre_decision_filter"}},
		Sizing:       SizingLineage{BaseNotional: notional, FinalNotional: notional},
	}
	if err := e.RecordDecision(ctx, p); err != nil {
		return nil, err
	}
	if err := e.AttachOutcome(ctx, p.DecisionID, Outcome{Status: StatusBlocked}); err != nil {
		return nil, err
	}
	return p, nil
}

// EvaluateCounterfactual computes the simulated result of p at horizon.
// Missing prices within tolerance yield CFNoPrice, never a zero.
func (e *Engine) EvaluateCounterfactual(ctx context.Context, p *Packet, h Horizon) Counterfactual {
	cf := Counterfactual{Horizon: h.Name, WasBlocked: p.Blocked()}

	entry, ok := e.entryPrice(ctx, p)
	if !ok {
		cf.Status = CFNoPrice
		return cf
	}
	exit, ok := e.prices.At(ctx, p.Symbol, p.CreatedAt.Add(h.Dur), e.tolerance)
	if !ok || entry == 0 {
		cf.Status = CFNoPrice
		return cf
	}

	ret := (exit - entry) / entry
	if p.Side == signals.SideShort {
		ret = -ret
	}

	notional := p.Sizing.FinalNotional
	var fees float64
	if p.Outcome != nil {
		fees = p.Outcome.FeesEstimate
	}

	cf.EntryPrice = entry
	cf.ExitPrice = exit
	cf.Return = ret
	cf.NetPnL = notional*ret - fees
	cf.Status = CFOk
	return cf
}

// entryPrice prefers the recorded execution price, falling back to the
// market mid at decision time (the blocked-decision path).
func (e *Engine) entryPrice(ctx context.Context, p *Packet) (float64, bool) {
	if p.Outcome != nil && p.Outcome.EntryPrice > 0 {
		return p.Outcome.EntryPrice, true
	}
	return e.prices.At(ctx, p.Symbol, p.CreatedAt, e.tolerance)
}

// Fill evaluates and appends every elapsed, not-yet-recorded horizon
// for every packet in the log. Returns the number of counterfactual
// records written. Per-packet failures are logged and skipped.
func (e *Engine) Fill(ctx context.Context, now time.Time) (int, error) {
	packets, err := Packets(ctx, e.log)
	if err != nil {
		return 0, fmt.Errorf("reduce decision log: %w", err)
	}

	written := 0
	for _, p := range packets {
		for _, h := range e.horizons {
			if p.CreatedAt.Add(h.Dur).After(now) {
				continue // horizon not yet elapsed
			}
			prev, recorded := p.Counterfactual[h.Name]
			if recorded && prev.Status == CFOk {
				continue // already filled
			}

			cf := e.EvaluateCounterfactual(ctx, p, h)
			if recorded && cf.Status == CFNoPrice {
				// Still unpriceable and the log already says so;
				// re-appending the same verdict every pass would grow
				// the log without bound.
				continue
			}
			rec := Record{
				DecisionID:     p.DecisionID,
				Stage:          StageCounterfactual,
				At:             now,
				Counterfactual: &cf,
			}
			if err := e.log.Append(ctx, rec); err != nil {
				log.Warn().Err(err).Str("decision_id", p.DecisionID).
					Str("horizon", h.Name).Msg("counterfactual append failed")
				continue
			}
			written++
		}
	}
	return written, nil
}
