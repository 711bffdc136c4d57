package signals

import (
	"time"
)

// Direction is the stance a signal takes on a symbol.
type Direction string

const (
	DirectionLong        Direction = "LONG"
	DirectionShort       Direction = "SHORT"
	DirectionNeutral     Direction = "NEUTRAL"
	DirectionStrongLong  Direction = "STRONG_LONG"
	DirectionStrongShort Direction = "STRONG_SHORT"
)

// Base collapses strong variants onto their base direction.
func (d Direction) Base() Direction {
	switch d {
	case DirectionStrongLong:
		return DirectionLong
	case DirectionStrongShort:
		return DirectionShort
	default:
		return d
	}
}

// IsStrong reports whether d is a strong variant.
func (d Direction) IsStrong() bool {
	return d == DirectionStrongLong || d == DirectionStrongShort
}

// Sign maps a direction to +1 (long), -1 (short) or 0 (neutral).
func (d Direction) Sign() float64 {
	switch d.Base() {
	case DirectionLong:
		return 1
	case DirectionShort:
		return -1
	default:
		return 0
	}
}

// Reading is one timestamped observation from a signal provider.
// Providers own the reading; everything downstream treats it read-only.
type Reading struct {
	Signal     string                 `json:"signal"`
	Symbol     string                 `json:"symbol"`
	Timestamp  time.Time              `json:"timestamp"`
	Direction  Direction              `json:"direction"`
	Confidence float64                `json:"confidence"` // [0,1]
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// Fresh reports whether the reading is within the freshness window at now.
func (r Reading) Fresh(now time.Time, window time.Duration) bool {
	return now.Sub(r.Timestamp) <= window && !r.Timestamp.After(now)
}
