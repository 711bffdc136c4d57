package decision

import (
	"time"

	"github.com/google/uuid"

	"github.com/mlevitan96-crypto/trading-bot-sub006/internal/signals"
)

// Status of the decision itself.
type Status string

const (
	StatusExecuted Status = "executed"
	StatusBlocked  Status = "blocked"
)

// CFStatus is the outcome of one counterfactual evaluation.
type CFStatus string

const (
	CFOk      CFStatus = "ok"
	CFNoPrice CFStatus = "no_price" // price missing within tolerance, excluded from aggregates
)

// Horizon is a named counterfactual look-ahead.
type Horizon struct {
	Name string        `json:"name"`
	Dur  time.Duration `json:"dur"`
}

// DefaultHorizons returns the standard evaluation horizons.
func DefaultHorizons() []Horizon {
	return []Horizon{
		{Name: "5m", Dur: 5 * time.Minute},
		{Name: "1h", Dur: time.Hour},
		{Name: "1d", Dur: 24 * time.Hour},
		{Name: "1w", Dur: 7 * 24 * time.Hour},
	}
}

// SignalSnapshot is one signal's reading at decision time.
type SignalSnapshot struct {
	Direction  signals.Direction `json:"direction"`
	Confidence float64           `json:"confidence"`
	Momentum   float64           `json:"momentum,omitempty"` // confidence drift over the fresh window
}

// SignalContext captures what the aggregator saw.
type SignalContext struct {
	Signals        map[string]SignalSnapshot `json:"signals"`
	CompositeScore float64                   `json:"composite_score"`
	Breakdown      map[string]float64        `json:"breakdown"` // per-signal contribution values
}

// RuntimeContext captures governance state at decision time. The hold
// time rides along so the execution layer exits on the adapted horizon.
type RuntimeContext struct {
	Throttle        float64 `json:"throttle"`
	ProtectiveMode  bool    `json:"protective_mode"`
	KillSwitch      bool    `json:"kill_switch"`
	HoldTimeMinutes float64 `json:"hold_time_minutes,omitempty"`
}

// GateVerdicts lists the reason codes emitted by gates.
type GateVerdicts struct {
	ReasonCodes []string `json:"reason_codes"`
}

// SizingStep is one multiplier in the sizing lineage, in applied order.
type SizingStep struct {
	Name   string  `json:"name"`
	Factor float64 `json:"factor"`
}

// SizingLineage records how base notional became final notional.
type SizingLineage struct {
	BaseNotional  float64      `json:"base_notional"`
	Steps         []SizingStep `json:"steps"`
	FinalNotional float64      `json:"final_notional"`
}

// Outcome is the realized decision result.
type Outcome struct {
	Status       Status  `json:"status"`
	EntryPrice   float64 `json:"entry_price"`
	FeesEstimate float64 `json:"fees_estimate"`
}

// Counterfactual is the per-horizon simulated result. The same shape
// serves executed decisions (realized-like performance) and blocked
// ones (what taking the trade would have done).
type Counterfactual struct {
	Horizon    string   `json:"horizon"`
	EntryPrice float64  `json:"entry_price"`
	ExitPrice  float64  `json:"exit_price"`
	Return     float64  `json:"return"`
	NetPnL     float64  `json:"net_pnl"`
	WasBlocked bool     `json:"was_blocked"`
	Status     CFStatus `json:"status"`
}

// Packet is the reduced, latest state of one decision. Exactly one
// packet exists per decision ID; stages append field groups over its
// lifetime and corrections arrive as new records, never edits.
type Packet struct {
	DecisionID string       `json:"decision_id"`
	Symbol     string       `json:"symbol"`
	StrategyID string       `json:"strategy_id"`
	Side       signals.Side `json:"side"`
	CreatedAt  time.Time    `json:"created_at"`
	Missed     bool         `json:"missed,omitempty"` // synthesized from a never-decided signal

	SignalContext  SignalContext             `json:"signal_context"`
	RuntimeContext RuntimeContext            `json:"runtime_context"`
	GateVerdicts   GateVerdicts              `json:"gate_verdicts"`
	Sizing         SizingLineage             `json:"sizing_lineage"`
	Outcome        *Outcome                  `json:"outcome,omitempty"`
	Counterfactual map[string]Counterfactual `json:"counterfactual,omitempty"` // by horizon name
}

// Blocked reports whether the packet never executed.
func (p *Packet) Blocked() bool {
	return p.Outcome == nil || p.Outcome.Status == StatusBlocked
}

// NewDecisionID mints a unique decision identifier.
func NewDecisionID() string { return uuid.NewString() }
