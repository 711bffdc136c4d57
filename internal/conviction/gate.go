package conviction

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mlevitan96-crypto/trading-bot-sub006/internal/config"
	"github.com/mlevitan96-crypto/trading-bot-sub006/internal/signals"
	"github.com/mlevitan96-crypto/trading-bot-sub006/internal/weights"
)

// Block reason codes surfaced when the hard guard rejects a trade.
const (
	ReasonMinOFILong  = "min_ofi_long"
	ReasonMinOFIShort = "min_ofi_short"
)

// GateConfig contains the scoring and sizing parameters.
type GateConfig struct {
	Mode config.TradingMode `yaml:"mode"`

	// Scoring
	StrongBoost       float64 `yaml:"strong_boost"`        // 1.3x confidence for strong variants, capped at 1.0
	CascadeScoreBoost float64 `yaml:"cascade_score_boost"` // 1.2x whole-score when cascade flag active

	// Sizing adjustments, applied in order
	MinTradesForWinRate int     `yaml:"min_trades_for_win_rate"` // win-rate band needs this many trades
	EVBoost             float64 `yaml:"ev_boost"`                // 1.1x when expectancy is positive
	CascadeSizeBoost    float64 `yaml:"cascade_size_boost"`      // 1.25x and one tier promotion
	MultiplierFloor     float64 `yaml:"multiplier_floor"`        // 0.4
	MultiplierCeiling   float64 `yaml:"multiplier_ceiling"`      // 2.5

	// Hard minimum signal-strength guard, direction-specific OFI floors.
	MinOFI struct {
		PaperLong  float64 `yaml:"paper_long"`  // 0.05
		PaperShort float64 `yaml:"paper_short"` // 0.05
		LiveLong   float64 `yaml:"live_long"`   // 0.12
		LiveShort  float64 `yaml:"live_short"`  // 0.10
	} `yaml:"min_ofi"`
}

// DefaultGateConfig returns the production gate configuration.
func DefaultGateConfig(mode config.TradingMode) *GateConfig {
	cfg := &GateConfig{
		Mode:                mode,
		StrongBoost:         1.3,
		CascadeScoreBoost:   1.2,
		MinTradesForWinRate: 20,
		EVBoost:             1.1,
		CascadeSizeBoost:    1.25,
		MultiplierFloor:     0.4,
		MultiplierCeiling:   2.5,
	}
	cfg.MinOFI.PaperLong = 0.05
	cfg.MinOFI.PaperShort = 0.05
	cfg.MinOFI.LiveLong = 0.12
	cfg.MinOFI.LiveShort = 0.10
	return cfg
}

// MarketContext carries externally supplied state for one evaluation.
type MarketContext struct {
	OrderFlowImbalance float64 `json:"order_flow_imbalance"` // signed, + = buy pressure
	CascadeActive      bool    `json:"cascade_active"`       // liquidation-cascade flag
	RegimeBias         float64 `json:"regime_bias"`          // coordinator multiplier, 0 = unset
	WinRate            float64 `json:"win_rate"`             // historical, [0,1]
	TradeCount         int     `json:"trade_count"`          // trades behind WinRate
	ExpectancyBps      float64 `json:"expectancy_bps"`       // avg realized edge per trade
}

// ReadingSource is the slice of the reading store the gate needs.
type ReadingSource interface {
	Latest(signal, symbol string) (signals.Reading, bool)
}

// WeightSource yields the current weight vector snapshot.
type WeightSource interface {
	Current() weights.Vector
}

// FloorSource supplies the adapted minimum order-flow floor. When ok,
// the adapted value replaces the static config floor, so governance
// adjustments take effect on the next evaluation.
type FloorSource interface {
	OFIFloor(side signals.Side) (float64, bool)
}

// Contribution is one signal's share of the composite score.
type Contribution struct {
	Direction  signals.Direction `json:"direction"`
	Confidence float64           `json:"confidence"` // after strong boost
	Weight     float64           `json:"weight"`
	Alignment  float64           `json:"alignment"`
	Value      float64           `json:"value"` // weight x confidence x alignment
	Routed     bool              `json:"routed"`
	Missing    bool              `json:"missing,omitempty"`
}

// AppliedMultiplier is one step of the sizing lineage.
type AppliedMultiplier struct {
	Name   string  `json:"name"`
	Factor float64 `json:"factor"`
}

// Evaluation is the gate verdict for one proposed trade.
type Evaluation struct {
	Symbol         string                  `json:"symbol"`
	Side           signals.Side            `json:"side"`
	Timestamp      time.Time               `json:"timestamp"`
	CompositeScore float64                 `json:"composite_score"`
	Conviction     Level                   `json:"conviction"`
	SizeMultiplier float64                 `json:"size_multiplier"`
	ShouldTrade    bool                    `json:"should_trade"`
	BlockReason    string                  `json:"block_reason,omitempty"`
	Contributions  map[string]Contribution `json:"contributions"`
	Multipliers    []AppliedMultiplier     `json:"multipliers"`
	CascadeBoosted bool                    `json:"cascade_boosted"`
}

// Gate turns weighted signal readings into a conviction verdict and a
// position sizing multiplier. It never returns an error: missing data
// degrades to lower confidence, and only the minimum signal-strength
// guard can block the trade.
type Gate struct {
	cfg      *GateConfig
	readings ReadingSource
	weights  WeightSource
	router   *Router
	table    Table
	floors   FloorSource
}

// NewGate constructs a gate. Nil config falls back to paper defaults.
func NewGate(cfg *GateConfig, readings ReadingSource, ws WeightSource, router *Router) *Gate {
	if cfg == nil {
		cfg = DefaultGateConfig(config.ModePaper)
	}
	if router == nil {
		router = NewRouter(DefaultRouterConfig(), "")
	}
	return &Gate{
		cfg:      cfg,
		readings: readings,
		weights:  ws,
		router:   router,
		table:    TableForMode(cfg.Mode),
	}
}

// Router exposes the direction router for learning updates.
func (g *Gate) Router() *Router { return g.router }

// SetFloorSource wires an adaptive OFI floor in front of the static
// config values.
func (g *Gate) SetFloorSource(src FloorSource) { g.floors = src }

// Evaluate scores a proposed trade on symbol/side under mkt.
func (g *Gate) Evaluate(ctx context.Context, symbol string, side signals.Side, mkt MarketContext) Evaluation {
	_ = ctx

	eval := Evaluation{
		Symbol:        symbol,
		Side:          side,
		Timestamp:     time.Now().UTC(),
		Contributions: make(map[string]Contribution),
	}

	vec := g.weights.Current()

	// Composite score: deterministic sum of per-signal contributions.
	var score float64
	for _, name := range vec.Names() {
		contrib := g.contribution(name, symbol, side, vec[name])
		eval.Contributions[name] = contrib
		score += contrib.Value
	}

	if mkt.CascadeActive {
		score *= g.cfg.CascadeScoreBoost
		eval.CascadeBoosted = true
	}
	eval.CompositeScore = score

	// Ordered conviction table, first match from the top wins.
	tier := g.table.Lookup(score)
	eval.Conviction = tier.Level
	multiplier := tier.Multiplier
	eval.Multipliers = append(eval.Multipliers, AppliedMultiplier{Name: "conviction_base", Factor: tier.Multiplier})

	// Sequential, order-sensitive adjustments.
	if mkt.TradeCount >= g.cfg.MinTradesForWinRate {
		factor := winRateFactor(mkt.WinRate)
		multiplier *= factor
		eval.Multipliers = append(eval.Multipliers, AppliedMultiplier{Name: "win_rate", Factor: factor})
	}

	if mkt.ExpectancyBps > 0 {
		multiplier *= g.cfg.EVBoost
		eval.Multipliers = append(eval.Multipliers, AppliedMultiplier{Name: "positive_ev", Factor: g.cfg.EVBoost})
	}

	if mkt.CascadeActive {
		multiplier *= g.cfg.CascadeSizeBoost
		eval.Conviction = Promote(eval.Conviction)
		eval.Multipliers = append(eval.Multipliers, AppliedMultiplier{Name: "cascade", Factor: g.cfg.CascadeSizeBoost})
	}

	if mkt.RegimeBias > 0 {
		multiplier *= mkt.RegimeBias
		eval.Multipliers = append(eval.Multipliers, AppliedMultiplier{Name: "regime_bias", Factor: mkt.RegimeBias})
	}

	if multiplier < g.cfg.MultiplierFloor {
		multiplier = g.cfg.MultiplierFloor
	}
	if multiplier > g.cfg.MultiplierCeiling {
		multiplier = g.cfg.MultiplierCeiling
	}
	eval.SizeMultiplier = multiplier

	// Hard minimum signal-strength guard: the only blocking condition.
	eval.ShouldTrade = true
	if side == signals.SideLong && mkt.OrderFlowImbalance < g.minOFILong() {
		eval.ShouldTrade = false
		eval.BlockReason = ReasonMinOFILong
	}
	if side == signals.SideShort && -mkt.OrderFlowImbalance < g.minOFIShort() {
		eval.ShouldTrade = false
		eval.BlockReason = ReasonMinOFIShort
	}

	if !eval.ShouldTrade {
		log.Debug().Str("symbol", symbol).Str("side", string(side)).
			Str("reason", eval.BlockReason).
			Float64("ofi", mkt.OrderFlowImbalance).
			Msg("trade blocked by signal-strength guard")
	}

	return eval
}

// contribution computes one signal's contribution. Missing readings and
// routed-out directions contribute zero but remain visible in the
// breakdown for later learning.
func (g *Gate) contribution(name, symbol string, side signals.Side, weight float64) Contribution {
	reading, ok := g.readings.Latest(name, symbol)
	if !ok {
		return Contribution{Weight: weight, Routed: true, Missing: true}
	}

	confidence := reading.Confidence
	if reading.Direction.IsStrong() {
		confidence *= g.cfg.StrongBoost
		if confidence > 1.0 {
			confidence = 1.0
		}
	}

	contrib := Contribution{
		Direction:  reading.Direction,
		Confidence: confidence,
		Weight:     weight,
		Alignment:  signals.Alignment(reading.Direction, side),
		Routed:     true,
	}

	if !g.router.Allowed(name, side) {
		// Routing filters economic contribution, not observability.
		contrib.Routed = false
		return contrib
	}

	contrib.Value = weight * confidence * contrib.Alignment
	return contrib
}

// winRateFactor buckets a historical win rate into a size multiplier.
func winRateFactor(winRate float64) float64 {
	switch {
	case winRate >= 0.55:
		return 1.3
	case winRate >= 0.45:
		return 1.1
	case winRate >= 0.35:
		return 0.8
	case winRate >= 0.25:
		return 0.5
	default:
		return 0.4
	}
}

func (g *Gate) minOFILong() float64 {
	if g.floors != nil {
		if v, ok := g.floors.OFIFloor(signals.SideLong); ok {
			return v
		}
	}
	if g.cfg.Mode == config.ModeLive {
		return g.cfg.MinOFI.LiveLong
	}
	return g.cfg.MinOFI.PaperLong
}

func (g *Gate) minOFIShort() float64 {
	if g.floors != nil {
		if v, ok := g.floors.OFIFloor(signals.SideShort); ok {
			return v
		}
	}
	if g.cfg.Mode == config.ModeLive {
		return g.cfg.MinOFI.LiveShort
	}
	return g.cfg.MinOFI.PaperShort
}
