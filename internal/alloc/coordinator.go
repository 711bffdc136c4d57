package alloc

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Archetype groups strategies by the horizon their edge lives on.
type Archetype string

const (
	ArchetypeShortHorizon Archetype = "short_horizon"
	ArchetypeLongHorizon  Archetype = "long_horizon"
)

// StrategyOutcome summarizes one strategy's measured performance,
// produced by the counterfactual aggregation.
type StrategyOutcome struct {
	Archetype   Archetype `json:"archetype"`
	WinRate     float64   `json:"win_rate"`
	Trades      int       `json:"trades"`
	ExecutedPnL float64   `json:"executed_pnl"`
	BlockedPnL  float64   `json:"blocked_pnl"` // counterfactual pnl of its blocked decisions
}

// ProfitTrend is the blended multi-horizon profit signal.
type ProfitTrend struct {
	ShortHorizon float64 `json:"short_horizon"` // e.g. 5m+1h evidence
	LongHorizon  float64 `json:"long_horizon"`  // e.g. 1d+1w evidence
	Blended      float64 `json:"blended"`
}

// SymbolVol is the volatility normalizer input per symbol.
type SymbolVol struct {
	ATR   float64 `json:"atr"`
	Price float64 `json:"price"`
}

// Allocation is one strategy's share of capital.
type Allocation struct {
	Weight      float64 `json:"weight"`
	ExposureCap float64 `json:"exposure_cap"`
}

// AllocationMap is the coordinator's full output.
type AllocationMap struct {
	TotalCap   float64               `json:"total_cap"`
	Strategies map[string]Allocation `json:"strategies"`
	SymbolCaps map[string]float64    `json:"symbol_caps"`
	UpdatedAt  time.Time             `json:"updated_at"`
}

// CoordinatorConfig tunes allocation and arbitration.
type CoordinatorConfig struct {
	TotalCap         float64       `yaml:"total_cap"`          // total exposure capacity (USD)
	HorizonBiasGain  float64       `yaml:"horizon_bias_gain"`  // archetype tilt from dominant horizon
	WinRateGain      float64       `yaml:"win_rate_gain"`      // nudge per point of win rate above 0.5
	PnLDeltaGain     float64       `yaml:"pnl_delta_gain"`     // nudge from executed-vs-blocked pnl delta
	PnLDeltaScale    float64       `yaml:"pnl_delta_scale"`    // dollars mapped onto tanh(1)
	TrendGain        float64       `yaml:"trend_gain"`         // nudge from blended profit trend
	SymbolRiskBudget float64       `yaml:"symbol_risk_budget"` // risk units per symbol
	MinTrades        int           `yaml:"min_trades"`         // outcomes below this do not nudge
	Cooldown         time.Duration `yaml:"cooldown"`           // arbitration loser cooldown
}

// DefaultCoordinatorConfig returns production coordination parameters.
func DefaultCoordinatorConfig() *CoordinatorConfig {
	return &CoordinatorConfig{
		TotalCap:         100000,
		HorizonBiasGain:  0.25,
		WinRateGain:      0.6,
		PnLDeltaGain:     0.2,
		PnLDeltaScale:    500,
		TrendGain:        0.15,
		SymbolRiskBudget: 1500,
		MinTrades:        10,
		Cooldown:         210 * time.Second,
	}
}

// Coordinator allocates capital across strategies and arbitrates
// conflicting same-symbol signals. Safe for concurrent use: the daily
// cycle writes allocations while the status endpoint reads them.
type Coordinator struct {
	cfg *CoordinatorConfig

	mu        sync.RWMutex
	path      string // persisted allocation, empty = memory only
	current   AllocationMap
	cooldowns map[string]time.Time // symbol|side|strategy -> expiry
}

// NewCoordinator creates a coordinator persisting to dir (optional).
func NewCoordinator(cfg *CoordinatorConfig, dir string) *Coordinator {
	if cfg == nil {
		cfg = DefaultCoordinatorConfig()
	}
	c := &Coordinator{
		cfg:       cfg,
		cooldowns: make(map[string]time.Time),
	}
	if dir != "" {
		c.path = filepath.Join(dir, "allocation.json")
	}
	return c
}

// Allocate computes per-strategy capital shares and per-symbol caps.
// Weights always sum to 1; the degenerate all-zero-outcome case falls
// back to an even split.
func (c *Coordinator) Allocate(outcomes map[string]StrategyOutcome, trend ProfitTrend, vols map[string]SymbolVol, now time.Time) AllocationMap {
	out := AllocationMap{
		TotalCap:   c.cfg.TotalCap,
		Strategies: make(map[string]Allocation),
		SymbolCaps: make(map[string]float64),
		UpdatedAt:  now,
	}
	// Symbol caps scale inversely with relative volatility: the same
	// risk budget buys less notional in a fast market. They apply even
	// when no strategy evidence exists yet.
	for symbol, vol := range vols {
		if vol.ATR <= 0 || vol.Price <= 0 {
			continue
		}
		cap := c.cfg.SymbolRiskBudget / (vol.ATR / vol.Price)
		if cap > c.cfg.TotalCap {
			cap = c.cfg.TotalCap
		}
		out.SymbolCaps[symbol] = cap
	}

	if len(outcomes) == 0 {
		c.mu.Lock()
		c.current = out
		c.mu.Unlock()
		return out
	}

	names := make([]string, 0, len(outcomes))
	for name := range outcomes {
		names = append(names, name)
	}
	sort.Strings(names)

	horizonTilt := trend.ShortHorizon - trend.LongHorizon

	raw := make(map[string]float64, len(names))
	for _, name := range names {
		o := outcomes[name]
		w := 1.0

		// Dominant-horizon bias favors the matching archetype.
		w *= 1 + c.cfg.HorizonBiasGain*horizonTilt*archetypeSign(o.Archetype)

		// Realized win rate and executed/blocked pnl delta nudges only
		// apply once the outcome rests on enough trades.
		if o.Trades >= c.cfg.MinTrades {
			w *= 1 + c.cfg.WinRateGain*(o.WinRate-0.5)
			delta := o.ExecutedPnL - o.BlockedPnL
			w *= 1 + c.cfg.PnLDeltaGain*math.Tanh(delta/c.cfg.PnLDeltaScale)
		}

		// Blended multi-horizon trend nudge.
		w *= 1 + c.cfg.TrendGain*trend.Blended*archetypeSign(o.Archetype)

		if w < 0 || math.IsNaN(w) || math.IsInf(w, 0) {
			w = 0
		}
		raw[name] = w
	}

	// Renormalize to sum 1; an all-zero vector means no usable evidence,
	// so fall back to an even split.
	var total float64
	for _, w := range raw {
		total += w
	}
	if total <= 0 {
		even := 1.0 / float64(len(names))
		for _, name := range names {
			raw[name] = even
		}
		total = 1.0
		log.Warn().Msg("allocation evidence degenerate, even split applied")
	}

	for _, name := range names {
		weight := raw[name] / total
		out.Strategies[name] = Allocation{
			Weight:      weight,
			ExposureCap: c.cfg.TotalCap * weight, // never exceeds total_cap x weight
		}
	}

	c.mu.Lock()
	c.current = out
	c.mu.Unlock()
	return out
}

// Current returns the last computed allocation.
func (c *Coordinator) Current() AllocationMap {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// RegimeBias converts the blended trend into the sizing multiplier
// handed to the conviction gate. Neutral trend maps to 1.0.
func (c *Coordinator) RegimeBias(trend ProfitTrend) float64 {
	bias := 1 + c.cfg.TrendGain*math.Tanh(trend.Blended)
	if bias < 0.5 {
		bias = 0.5
	}
	if bias > 1.5 {
		bias = 1.5
	}
	return bias
}

// Persist writes the current allocation atomically.
func (c *Coordinator) Persist() error {
	if c.path == "" {
		return nil
	}
	c.mu.RLock()
	snapshot := c.current
	c.mu.RUnlock()
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal allocation: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0755); err != nil {
		return fmt.Errorf("create allocation dir: %w", err)
	}
	tempPath := c.path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("write allocation temp: %w", err)
	}
	return os.Rename(tempPath, c.path)
}

func archetypeSign(a Archetype) float64 {
	if a == ArchetypeLongHorizon {
		return -1
	}
	return 1
}
