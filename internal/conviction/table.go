package conviction

import (
	"github.com/mlevitan96-crypto/trading-bot-sub006/internal/config"
)

// Level is the discrete conviction label derived from composite score.
type Level string

const (
	LevelNone    Level = "NONE"
	LevelLow     Level = "LOW"
	LevelMedium  Level = "MEDIUM"
	LevelHigh    Level = "HIGH"
	LevelExtreme Level = "EXTREME"
)

// Tier maps a minimum composite score to a base sizing multiplier.
type Tier struct {
	MinScore   float64 `yaml:"min_score"`
	Multiplier float64 `yaml:"multiplier"`
	Level      Level   `yaml:"level"`
}

// Table is an ordered set of tiers, highest threshold first. Lookup
// walks down and the first tier whose threshold the score clears wins.
type Table []Tier

// Lookup resolves score to a tier. Scores below every threshold map to
// a zero-multiplier NONE tier.
func (t Table) Lookup(score float64) Tier {
	for _, tier := range t {
		if score >= tier.MinScore {
			return tier
		}
	}
	return Tier{MinScore: 0, Multiplier: 0, Level: LevelNone}
}

// Promote bumps a level one tier up, used by the cascade boost.
func Promote(l Level) Level {
	switch l {
	case LevelLow:
		return LevelMedium
	case LevelMedium:
		return LevelHigh
	case LevelHigh:
		return LevelExtreme
	default:
		return l
	}
}

// relaxedTable is the paper-mode conviction ladder.
func relaxedTable() Table {
	return Table{
		{MinScore: 0.60, Multiplier: 2.0, Level: LevelExtreme},
		{MinScore: 0.40, Multiplier: 1.5, Level: LevelHigh},
		{MinScore: 0.25, Multiplier: 1.2, Level: LevelMedium},
		{MinScore: 0.12, Multiplier: 0.8, Level: LevelLow},
	}
}

// strictTable is the live-mode conviction ladder: same multipliers,
// higher bars.
func strictTable() Table {
	return Table{
		{MinScore: 0.70, Multiplier: 2.0, Level: LevelExtreme},
		{MinScore: 0.50, Multiplier: 1.5, Level: LevelHigh},
		{MinScore: 0.32, Multiplier: 1.2, Level: LevelMedium},
		{MinScore: 0.18, Multiplier: 0.8, Level: LevelLow},
	}
}

// TableForMode selects the operating table by trading mode.
func TableForMode(mode config.TradingMode) Table {
	if mode == config.ModeLive {
		return strictTable()
	}
	return relaxedTable()
}
