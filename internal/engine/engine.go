// Package engine wires the signal store, conviction gate, decision log,
// governance watchdog and capital coordinator into one synchronous
// decision surface plus the periodic audit and daily governance cycles.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mlevitan96-crypto/trading-bot-sub006/internal/alloc"
	"github.com/mlevitan96-crypto/trading-bot-sub006/internal/config"
	"github.com/mlevitan96-crypto/trading-bot-sub006/internal/conviction"
	"github.com/mlevitan96-crypto/trading-bot-sub006/internal/decision"
	"github.com/mlevitan96-crypto/trading-bot-sub006/internal/governance"
	"github.com/mlevitan96-crypto/trading-bot-sub006/internal/metrics"
	"github.com/mlevitan96-crypto/trading-bot-sub006/internal/prices"
	"github.com/mlevitan96-crypto/trading-bot-sub006/internal/signals"
	"github.com/mlevitan96-crypto/trading-bot-sub006/internal/weights"
)

const (
	// Block reasons the engine adds on top of the gate's own codes.
	ReasonKillSwitch          = "kill_switch"
	ReasonArbitrationCooldown = "arbitration_cooldown"
	ReasonEnsembleConfirm     = "ensemble_confirm"
	ReasonFeeTolerance        = "fee_tolerance"

	// Flat taker-fee estimate per side, in basis points.
	feeBps = 8.0

	// Dollars of daily PnL that map onto tanh(1) when deriving
	// governance pressure and profit trend.
	pnlPressureScale = 500.0
)

// TradeRequest is one proposed entry submitted by a strategy.
type TradeRequest struct {
	Symbol       string                   `json:"symbol"`
	Strategy     string                   `json:"strategy"`
	Side         signals.Side             `json:"side"`
	BaseNotional float64                  `json:"base_notional"`
	Market       conviction.MarketContext `json:"market"`
}

// Engine owns every subsystem and exposes the synchronous Evaluate API
// alongside the Audit and DailyCycle jobs the scheduler drives.
type Engine struct {
	cfg *config.Config

	store     *signals.Store
	providers []signals.Provider
	wstore    *weights.Store
	gate      *conviction.Gate
	cf        *decision.Engine
	watchdog  *governance.Watchdog
	coord     *alloc.Coordinator
	prices    *prices.Store
	met       *metrics.Metrics

	mu         sync.Mutex
	killSwitch bool
	trend      alloc.ProfitTrend
	archetypes map[string]alloc.Archetype
	vols       map[string]alloc.SymbolVol
	tuned      map[string]bool // decision IDs already folded into routing edges
	lastDaily  time.Time
}

// New assembles an engine from configuration. The decision log is
// Postgres when enabled, otherwise the NDJSON file log under DataDir.
func New(cfg *config.Config) (*Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var mirror *prices.Mirror
	if cfg.Prices.RedisAddr != "" {
		mirror = prices.NewMirror(cfg.Prices.RedisAddr)
	}
	priceStore := prices.NewStore(cfg.Prices.Retention, mirror)

	var dlog decision.Log
	if cfg.Postgres.Enabled {
		repo, err := decisionRepo(cfg.Postgres.DSN)
		if err != nil {
			return nil, fmt.Errorf("decision repo: %w", err)
		}
		dlog = repo
	} else {
		fl, err := decision.NewFileLog(cfg.DataDir)
		if err != nil {
			return nil, fmt.Errorf("decision log: %w", err)
		}
		dlog = fl
	}

	wstore := weights.NewStore(cfg.DataDir)
	router := conviction.NewRouter(conviction.DefaultRouterConfig(), cfg.DataDir)
	store := signals.NewStore(cfg.Signals.HistoryDepth, cfg.Signals.FreshnessWindow)
	gate := conviction.NewGate(conviction.DefaultGateConfig(cfg.Mode), store, wstore, router)

	wd := governance.New(cfg.DataDir, governance.DefaultControls())
	registerWeightControls(wd, wstore.Current())
	gate.SetFloorSource(watchdogFloors{wd: wd, mode: cfg.Mode})

	e := &Engine{
		cfg:        cfg,
		store:      store,
		wstore:     wstore,
		gate:       gate,
		cf:         decision.NewEngine(dlog, priceStore, cfg.Prices.LookupTol),
		watchdog:   wd,
		coord:      alloc.NewCoordinator(alloc.DefaultCoordinatorConfig(), cfg.DataDir),
		prices:     priceStore,
		met:        metrics.New(),
		archetypes: make(map[string]alloc.Archetype),
		vols:       make(map[string]alloc.SymbolVol),
		tuned:      make(map[string]bool),
	}
	return e, nil
}

// watchdogFloors feeds the adapted scalp OFI floor back into the gate.
// Live mode keeps the stricter static floors; the adaptive control
// governs paper trading only.
type watchdogFloors struct {
	wd   *governance.Watchdog
	mode config.TradingMode
}

func (f watchdogFloors) OFIFloor(_ signals.Side) (float64, bool) {
	if f.mode == config.ModeLive {
		return 0, false
	}
	v := f.wd.Value("ofi_threshold_scalp")
	return v, v > 0
}

// registerWeightControls mirrors the learned weight vector into the
// watchdog so weights move under the same hysteresis discipline as the
// fixed controls.
func registerWeightControls(wd *governance.Watchdog, vec weights.Vector) {
	for _, name := range vec.Names() {
		wd.Register(governance.ControlSpec{
			Name:      "weight:" + name,
			Initial:   vec[name],
			Lo:        0,
			Hi:        0.5,
			Step:      0.02,
			MinNights: 5,
			Threshold: 0.15,
			Cooldown:  3 * 24 * time.Hour,
		})
	}
}

// Metrics exposes the instrument set for the HTTP server.
func (e *Engine) Metrics() *metrics.Metrics { return e.met }

// Prices exposes the tick store for feed wiring.
func (e *Engine) Prices() *prices.Store { return e.prices }

// Signals exposes the reading store.
func (e *Engine) Signals() *signals.Store { return e.store }

// RegisterProvider adds a signal provider to the collection fan-out,
// wrapped in the breaker/rate-limit guard.
func (e *Engine) RegisterProvider(p signals.Provider) {
	guarded := signals.NewGuardedProvider(p, signals.GuardedProviderConfig{
		RatePerSec:       e.cfg.Signals.FetchRatePerSec,
		Burst:            e.cfg.Signals.FetchBurst,
		BreakerThreshold: e.cfg.Signals.BreakerThreshold,
		BreakerTimeout:   e.cfg.Signals.BreakerTimeout,
	})
	e.mu.Lock()
	e.providers = append(e.providers, guarded)
	e.mu.Unlock()
}

// RegisterStrategy declares a strategy's horizon archetype for the
// capital coordinator. Unregistered strategies default to short
// horizon.
func (e *Engine) RegisterStrategy(name string, a alloc.Archetype) {
	e.mu.Lock()
	e.archetypes[name] = a
	e.mu.Unlock()
}

// ObserveVolatility records the ATR normalizer input for one symbol.
func (e *Engine) ObserveVolatility(symbol string, atr, price float64) {
	e.mu.Lock()
	e.vols[symbol] = alloc.SymbolVol{ATR: atr, Price: price}
	e.mu.Unlock()
}

// SetKillSwitch flips the manual halt. While set, every evaluation is
// blocked and logged without reaching the gate.
func (e *Engine) SetKillSwitch(on bool) {
	e.mu.Lock()
	e.killSwitch = on
	e.mu.Unlock()
	log.Warn().Bool("on", on).Msg("Kill switch changed")
}

// Reload re-reads the weight vector from disk (manual override path).
func (e *Engine) Reload() {
	e.wstore.Reload()
	registerWeightControls(e.watchdog, e.wstore.Current())
}

// Evaluate runs one trade request through governance, the conviction
// gate, arbitration and sizing, then records the resulting decision
// packet. It always returns a packet; the error covers log IO only.
func (e *Engine) Evaluate(ctx context.Context, req TradeRequest) (*decision.Packet, error) {
	packets, err := e.EvaluateBatch(ctx, []TradeRequest{req})
	return packets[0], err
}

// EvaluateBatch evaluates a set of same-cycle trade requests together,
// so strategies contending for the same (symbol, side) go through one
// arbitration round: exactly one survivor per contested pair, losers
// blocked and cooled. Every request yields a recorded packet.
func (e *Engine) EvaluateBatch(ctx context.Context, reqs []TradeRequest) ([]*decision.Packet, error) {
	now := time.Now().UTC()

	e.mu.Lock()
	kill := e.killSwitch
	trend := e.trend
	e.mu.Unlock()

	throttle := e.watchdog.Value("size_throttle")
	protective := e.watchdog.Value("protective_mode") >= 1
	holdTime := e.watchdog.Value("hold_time_minutes")
	ensembleMin := e.watchdog.Value("ensemble_confirm")
	feeTolerance := e.watchdog.Value("fee_tolerance_bps")

	evals := make([]conviction.Evaluation, len(reqs))
	blocks := make([]string, len(reqs))
	for i, req := range reqs {
		mkt := req.Market
		if mkt.RegimeBias == 0 {
			mkt.RegimeBias = e.coord.RegimeBias(trend)
		}
		eval := e.gate.Evaluate(ctx, req.Symbol, req.Side, mkt)
		e.met.CompositeScore.WithLabelValues(req.Symbol, string(req.Side)).Set(eval.CompositeScore)
		evals[i] = eval

		switch {
		case kill:
			blocks[i] = ReasonKillSwitch
		case !eval.ShouldTrade:
			blocks[i] = eval.BlockReason
		case alignedCount(eval) < ensembleMin:
			blocks[i] = ReasonEnsembleConfirm
		case feeBps > feeTolerance:
			blocks[i] = ReasonFeeTolerance
		}
	}

	// One arbitration round over every request that survived the
	// guards. A lone candidate wins by default; duelling strategies
	// lose here and cool down.
	candidates := make([]alloc.Candidate, 0, len(reqs))
	for i, req := range reqs {
		if blocks[i] != "" {
			continue
		}
		candidates = append(candidates, alloc.Candidate{
			Symbol: req.Symbol, Side: req.Side, Strategy: req.Strategy,
			Score: evals[i].CompositeScore, At: now,
		})
	}
	winners := make(map[string]bool, len(candidates))
	if len(candidates) > 0 {
		allowed, _ := e.coord.Arbitrate(candidates, now)
		for _, cand := range allowed {
			winners[tripleKey(cand.Symbol, cand.Side, cand.Strategy)] = true
		}
	}
	for i, req := range reqs {
		if blocks[i] != "" {
			continue
		}
		if !winners[tripleKey(req.Symbol, req.Side, req.Strategy)] {
			blocks[i] = ReasonArbitrationCooldown
			e.met.ArbitrationLosses.Inc()
		}
	}

	runtime := decision.RuntimeContext{
		Throttle:        throttle,
		ProtectiveMode:  protective,
		KillSwitch:      kill,
		HoldTimeMinutes: holdTime,
	}
	packets := make([]*decision.Packet, len(reqs))
	var errs []error
	for i, req := range reqs {
		p, err := e.record(ctx, req, evals[i], blocks[i], runtime, now)
		packets[i] = p
		if err != nil {
			errs = append(errs, err)
		}
	}
	return packets, errors.Join(errs...)
}

// record journals one evaluated request as a decision packet.
func (e *Engine) record(ctx context.Context, req TradeRequest, eval conviction.Evaluation, blockReason string, runtime decision.RuntimeContext, now time.Time) (*decision.Packet, error) {
	p := &decision.Packet{
		DecisionID: decision.NewDecisionID(),
		Symbol:     req.Symbol,
		StrategyID: req.Strategy,
		Side:       req.Side,
		CreatedAt:  now,
		SignalContext: decision.SignalContext{
			Signals:        make(map[string]decision.SignalSnapshot),
			CompositeScore: eval.CompositeScore,
			Breakdown:      make(map[string]float64),
		},
		RuntimeContext: runtime,
	}
	for name, c := range eval.Contributions {
		if !c.Missing {
			p.SignalContext.Signals[name] = decision.SignalSnapshot{
				Direction:  c.Direction,
				Confidence: c.Confidence,
				Momentum:   e.store.Momentum(name, req.Symbol, now),
			}
		}
		p.SignalContext.Breakdown[name] = c.Value
	}
	if blockReason != "" {
		p.GateVerdicts.ReasonCodes = append(p.GateVerdicts.ReasonCodes, blockReason)
	}

	// Sizing lineage is recorded whether or not the trade executes so
	// the counterfactual engine can price the road not taken. Fees are
	// estimated identically on both branches: a blocked trade would
	// have paid them too, and the watchdogs govern on that comparison.
	p.Sizing = e.sizing(req, eval, runtime.Throttle, runtime.ProtectiveMode)
	fees := p.Sizing.FinalNotional * feeBps / 10000

	if blockReason == "" {
		entry, _ := e.prices.At(ctx, req.Symbol, now, e.cfg.Prices.LookupTol)
		p.Outcome = &decision.Outcome{
			Status:       decision.StatusExecuted,
			EntryPrice:   entry,
			FeesEstimate: fees,
		}
		e.met.DecisionsTotal.WithLabelValues(string(decision.StatusExecuted)).Inc()
	} else {
		p.Outcome = &decision.Outcome{
			Status:       decision.StatusBlocked,
			FeesEstimate: fees,
		}
		e.met.DecisionsTotal.WithLabelValues(string(decision.StatusBlocked)).Inc()
		e.met.BlocksTotal.WithLabelValues(blockReason).Inc()
	}

	if err := e.cf.RecordDecision(ctx, p); err != nil {
		return p, fmt.Errorf("record decision: %w", err)
	}
	if err := e.cf.AttachOutcome(ctx, p.DecisionID, *p.Outcome); err != nil {
		return p, fmt.Errorf("attach outcome: %w", err)
	}
	return p, nil
}

// alignedCount is the number of fresh signals agreeing with the
// proposed side, checked against the ensemble confirmation control.
func alignedCount(eval conviction.Evaluation) float64 {
	var n float64
	for _, c := range eval.Contributions {
		if !c.Missing && c.Alignment > 0 {
			n++
		}
	}
	return n
}

func tripleKey(symbol string, side signals.Side, strategy string) string {
	return symbol + "|" + string(side) + "|" + strategy
}

// sizing builds the ordered multiplier lineage from the gate verdict
// plus engine-level governance factors.
func (e *Engine) sizing(req TradeRequest, eval conviction.Evaluation, throttle float64, protective bool) decision.SizingLineage {
	lineage := decision.SizingLineage{BaseNotional: req.BaseNotional}
	notional := req.BaseNotional

	for _, m := range eval.Multipliers {
		notional *= m.Factor
		lineage.Steps = append(lineage.Steps, decision.SizingStep{Name: m.Name, Factor: m.Factor})
	}
	if throttle > 0 && throttle != 1 {
		notional *= throttle
		lineage.Steps = append(lineage.Steps, decision.SizingStep{Name: "size_throttle", Factor: throttle})
	}
	if protective {
		notional *= 0.5
		lineage.Steps = append(lineage.Steps, decision.SizingStep{Name: "protective_mode", Factor: 0.5})
	}
	if limit, ok := e.coord.Current().SymbolCaps[req.Symbol]; ok && limit > 0 && notional > limit {
		factor := limit / notional
		notional = limit
		lineage.Steps = append(lineage.Steps, decision.SizingStep{Name: "symbol_cap", Factor: factor})
	}

	lineage.FinalNotional = notional
	return lineage
}

// RecordMissed journals a signal that was filtered out before reaching
// a decision, so the counterfactual engine prices the opportunity the
// pre-filters discarded.
func (e *Engine) RecordMissed(ctx context.Context, r signals.Reading, side signals.Side, notional float64) (*decision.Packet, error) {
	p, err := e.cf.SynthesizeMissed(ctx, r, side, notional)
	if err != nil {
		return nil, err
	}
	e.met.DecisionsTotal.WithLabelValues(string(decision.StatusBlocked)).Inc()
	return p, nil
}

// CollectReadings fans out to every registered provider for the given
// symbols and appends the readings. Provider failures are logged and
// skipped; the breaker handles repeat offenders.
func (e *Engine) CollectReadings(ctx context.Context, symbols []string) {
	e.mu.Lock()
	providers := make([]signals.Provider, len(e.providers))
	copy(providers, e.providers)
	e.mu.Unlock()

	now := time.Now().UTC()
	for _, p := range providers {
		for _, symbol := range symbols {
			r, err := p.GetReading(ctx, symbol)
			if err != nil {
				log.Debug().Err(err).Str("provider", p.Name()).Str("symbol", symbol).
					Msg("reading unavailable")
				continue
			}
			e.store.Append(r)
			e.met.SignalFreshness.WithLabelValues(r.Signal, symbol).
				Set(now.Sub(r.Timestamp).Seconds())
		}
	}
}

// Audit is the short-cycle job: fill elapsed counterfactual horizons
// and prune expired ticks.
func (e *Engine) Audit(ctx context.Context) error {
	now := time.Now().UTC()
	written, err := e.cf.Fill(ctx, now)
	if err != nil {
		return err
	}
	if written > 0 {
		log.Info().Int("records", written).Msg("Counterfactual horizons filled")
	}
	e.prices.Prune(ctx, now)
	e.coord.PruneCooldowns(now)
	return nil
}

// DailyCycle is the nightly governance pipeline, in fixed order:
// counterfactual fill, aggregation, watchdog pressure and evaluation,
// weight application, capital allocation, routing edge update, persist.
// Stage failures are logged and the cycle keeps going; a stage that
// skipped work corrects itself on the next cycle.
func (e *Engine) DailyCycle(ctx context.Context) error {
	now := time.Now().UTC()

	if _, err := e.cf.Fill(ctx, now); err != nil {
		log.Error().Err(err).Msg("counterfactual fill failed, continuing cycle")
	}

	packets, err := decision.Packets(ctx, e.cf.Log())
	if err != nil {
		log.Error().Err(err).Msg("decision log unreadable, governing on empty evidence")
		packets = make(map[string]*decision.Packet)
	}

	trend := e.profitTrend(packets)
	outcomes := e.strategyOutcomes(packets)

	e.observePressures(packets, trend, now)
	e.applyChanges(e.watchdog.Evaluate(now))

	e.mu.Lock()
	vols := make(map[string]alloc.SymbolVol, len(e.vols))
	for k, v := range e.vols {
		vols[k] = v
	}
	e.trend = trend
	e.lastDaily = now
	e.mu.Unlock()

	allocation := e.coord.Allocate(outcomes, trend, vols, now)
	for name, a := range allocation.Strategies {
		e.met.AllocationWeight.WithLabelValues(name).Set(a.Weight)
	}

	e.tuneRouting(packets)

	for name, v := range e.watchdog.Values() {
		e.met.ControlValue.WithLabelValues(name).Set(v)
	}

	if err := e.persist(); err != nil {
		log.Error().Err(err).Msg("state persistence failed, continuing cycle")
	}
	log.Info().Int("packets", len(packets)).
		Float64("trend", trend.Blended).
		Int("strategies", len(allocation.Strategies)).
		Msg("Daily governance cycle complete")
	return nil
}

// profitTrend blends short- and long-horizon executed counterfactual
// PnL into the regime signal.
func (e *Engine) profitTrend(packets map[string]*decision.Packet) alloc.ProfitTrend {
	short := decision.AggregatePackets(packets, "5m").Executed.NetPnL +
		decision.AggregatePackets(packets, "1h").Executed.NetPnL
	long := decision.AggregatePackets(packets, "1d").Executed.NetPnL +
		decision.AggregatePackets(packets, "1w").Executed.NetPnL

	t := alloc.ProfitTrend{
		ShortHorizon: math.Tanh(short / pnlPressureScale),
		LongHorizon:  math.Tanh(long / pnlPressureScale),
	}
	t.Blended = 0.5*t.ShortHorizon + 0.5*t.LongHorizon
	return t
}

// strategyOutcomes splits the 1d counterfactuals into per-strategy
// executed/blocked performance.
func (e *Engine) strategyOutcomes(packets map[string]*decision.Packet) map[string]alloc.StrategyOutcome {
	e.mu.Lock()
	archetypes := make(map[string]alloc.Archetype, len(e.archetypes))
	for k, v := range e.archetypes {
		archetypes[k] = v
	}
	e.mu.Unlock()

	type tally struct {
		trades, wins int
		executed     float64
		blocked      float64
	}
	tallies := make(map[string]*tally)

	// Registered strategies participate even before they accumulate
	// counterfactual history; they ride the even-split fallback.
	for name := range archetypes {
		tallies[name] = &tally{}
	}

	for _, p := range packets {
		cf, ok := p.Counterfactual["1d"]
		if !ok || cf.Status != decision.CFOk || p.StrategyID == "" {
			continue
		}
		t := tallies[p.StrategyID]
		if t == nil {
			t = &tally{}
			tallies[p.StrategyID] = t
		}
		if p.Blocked() {
			t.blocked += cf.NetPnL
			continue
		}
		t.trades++
		t.executed += cf.NetPnL
		if cf.NetPnL > 0 {
			t.wins++
		}
	}

	out := make(map[string]alloc.StrategyOutcome, len(tallies))
	for name, t := range tallies {
		oc := alloc.StrategyOutcome{
			Archetype:   alloc.ArchetypeShortHorizon,
			Trades:      t.trades,
			ExecutedPnL: t.executed,
			BlockedPnL:  t.blocked,
		}
		if a, ok := archetypes[name]; ok {
			oc.Archetype = a
		}
		if t.trades > 0 {
			oc.WinRate = float64(t.wins) / float64(t.trades)
		}
		out[name] = oc
	}
	return out
}

// observePressures derives one pressure sample per adaptive control
// from the day's evidence.
func (e *Engine) observePressures(packets map[string]*decision.Packet, trend alloc.ProfitTrend, now time.Time) {
	ag := decision.AggregatePackets(packets, "1d")

	// size_throttle tracks the blended trend: sustained losses pull the
	// throttle down, sustained profit releases it.
	e.watchdog.Observe("size_throttle", trend.Blended, now)

	// protective_mode arms on sustained executed losses.
	e.watchdog.Observe("protective_mode", math.Tanh(-ag.Executed.NetPnL/pnlPressureScale), now)

	// The OFI floor loosens when its blocks keep foregoing profit and
	// tightens when they keep avoiding losses.
	var ofiBlockedPnL float64
	for _, reason := range []string{conviction.ReasonMinOFILong, conviction.ReasonMinOFIShort} {
		if b, ok := ag.ByReason[reason]; ok {
			ofiBlockedPnL += b.NetPnL
		}
	}
	e.watchdog.Observe("ofi_threshold_scalp", math.Tanh(-ofiBlockedPnL/pnlPressureScale), now)

	// Ensemble confirmation follows the same foregone-profit logic as
	// the OFI floor: profitable blocks push the requirement down.
	if b, ok := ag.ByReason[ReasonEnsembleConfirm]; ok {
		e.watchdog.Observe("ensemble_confirm", math.Tanh(-b.NetPnL/pnlPressureScale), now)
	}

	hourly := decision.AggregatePackets(packets, "1h")
	fiveMin := decision.AggregatePackets(packets, "5m")

	// Fee tolerance tracks realized edge against the round-trip fee:
	// edges comfortably above it can afford a looser tolerance, thin
	// edges tighten it.
	if hourly.Executed.Count > 0 {
		edgeBps := hourly.Executed.AvgReturn() * 10000
		e.watchdog.Observe("fee_tolerance_bps", math.Tanh((edgeBps-2*feeBps)/(2*feeBps)), now)
	}

	// Hold time follows whichever horizon is earning more: 1h returns
	// beating 5m argue for longer holds, and vice versa.
	if hourly.Executed.Count > 0 && fiveMin.Executed.Count > 0 {
		diff := hourly.Executed.AvgReturn() - fiveMin.Executed.AvgReturn()
		e.watchdog.Observe("hold_time_minutes", math.Tanh(diff*200), now)
	}

	// Per-signal weight pressure from 1h signal attribution.
	for _, name := range e.wstore.Current().Names() {
		if b, ok := hourly.BySignal[name]; ok && b.Count > 0 {
			e.watchdog.Observe("weight:"+name, math.Tanh(b.NetPnL/pnlPressureScale), now)
		}
	}

	e.met.CounterfactualPnL.WithLabelValues("executed").Set(ag.Executed.NetPnL)
	e.met.CounterfactualPnL.WithLabelValues("blocked").Set(ag.Blocked.NetPnL)
}

// applyChanges pushes watchdog weight adjustments back into the learned
// weight vector and counts every applied change.
func (e *Engine) applyChanges(changes []governance.Change) {
	if len(changes) == 0 {
		return
	}

	vec := e.wstore.Current().Clone()
	dirty := false
	for _, ch := range changes {
		e.met.WatchdogAdjustments.WithLabelValues(ch.Control).Inc()
		if name, ok := strings.CutPrefix(ch.Control, "weight:"); ok {
			vec[name] = ch.After
			dirty = true
		}
	}
	if dirty {
		if err := e.wstore.Set(vec); err != nil {
			log.Error().Err(err).Msg("persist adjusted weights failed")
		}
	}
}

// tuneRouting folds 1h counterfactual returns into the per-(signal,
// side) edge EWMA. A packet contributes once: only signals whose
// direction agreed with the traded side carry the observation.
func (e *Engine) tuneRouting(packets map[string]*decision.Packet) {
	router := e.gate.Router()

	e.mu.Lock()
	defer e.mu.Unlock()

	for id, p := range packets {
		if e.tuned[id] {
			continue
		}
		cf, ok := p.Counterfactual["1h"]
		if !ok || cf.Status != decision.CFOk {
			continue
		}
		bps := cf.Return * 10000
		for name, snap := range p.SignalContext.Signals {
			if signals.Alignment(snap.Direction, p.Side) > 0 {
				router.UpdateEdge(name, p.Side, bps)
			}
		}
		e.tuned[id] = true
	}
}

func (e *Engine) persist() error {
	if err := e.watchdog.Persist(); err != nil {
		return fmt.Errorf("persist watchdog: %w", err)
	}
	if err := e.coord.Persist(); err != nil {
		return fmt.Errorf("persist allocation: %w", err)
	}
	if err := e.gate.Router().Persist(); err != nil {
		return fmt.Errorf("persist routing: %w", err)
	}
	return nil
}

// Status is the snapshot served by the HTTP API.
type Status struct {
	Mode       config.TradingMode  `json:"mode"`
	KillSwitch bool                `json:"kill_switch"`
	Weights    weights.Vector      `json:"weights"`
	WeightsSrc string              `json:"weights_source"`
	Controls   map[string]float64  `json:"controls"`
	Allocation alloc.AllocationMap `json:"allocation"`
	Trend      alloc.ProfitTrend   `json:"profit_trend"`
	LastDaily  time.Time           `json:"last_daily_cycle,omitempty"`
}

// Snapshot assembles the current status.
func (e *Engine) Snapshot() Status {
	e.mu.Lock()
	kill := e.killSwitch
	trend := e.trend
	last := e.lastDaily
	e.mu.Unlock()

	return Status{
		Mode:       e.cfg.Mode,
		KillSwitch: kill,
		Weights:    e.wstore.Current(),
		WeightsSrc: e.wstore.Source(),
		Controls:   e.watchdog.Values(),
		Allocation: e.coord.Current(),
		Trend:      trend,
		LastDaily:  last,
	}
}
