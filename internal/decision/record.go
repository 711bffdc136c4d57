package decision

import (
	"sort"
	"time"

	"github.com/mlevitan96-crypto/trading-bot-sub006/internal/signals"
)

// Stage identifies which pipeline step wrote a record.
type Stage string

const (
	StageCreated        Stage = "created"
	StageGate           Stage = "gate"
	StageSizing         Stage = "sizing"
	StageOutcome        Stage = "outcome"
	StageCounterfactual Stage = "counterfactual"
)

// CreatedFields is the field group written at decision creation.
type CreatedFields struct {
	Symbol         string         `json:"symbol"`
	StrategyID     string         `json:"strategy_id"`
	Side           signals.Side   `json:"side"`
	Missed         bool           `json:"missed,omitempty"`
	SignalContext  SignalContext  `json:"signal_context"`
	RuntimeContext RuntimeContext `json:"runtime_context"`
}

// Record is one append-only log entry. Exactly one field-group pointer
// is set per record; later records for the same decision ID and group
// win during reduction.
type Record struct {
	DecisionID string    `json:"decision_id"`
	Stage      Stage     `json:"stage"`
	At         time.Time `json:"at"`

	Created        *CreatedFields  `json:"created,omitempty"`
	Gate           *GateVerdicts   `json:"gate,omitempty"`
	Sizing         *SizingLineage  `json:"sizing,omitempty"`
	Outcome        *Outcome        `json:"outcome,omitempty"`
	Counterfactual *Counterfactual `json:"counterfactual,omitempty"`
}

// Reduce folds a record stream into the latest packet state per
// decision ID, last-value-wins within each field group.
// Counterfactuals merge by horizon name so different horizons coexist.
func Reduce(records []Record) map[string]*Packet {
	// Stable ordering by record timestamp so "last" is well defined
	// even when backends return records out of append order.
	sorted := make([]Record, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].At.Before(sorted[j].At)
	})

	packets := make(map[string]*Packet)
	for _, rec := range sorted {
		if rec.DecisionID == "" {
			continue
		}
		p, ok := packets[rec.DecisionID]
		if !ok {
			p = &Packet{DecisionID: rec.DecisionID}
			packets[rec.DecisionID] = p
		}

		if rec.Created != nil {
			p.Symbol = rec.Created.Symbol
			p.StrategyID = rec.Created.StrategyID
			p.Side = rec.Created.Side
			p.Missed = rec.Created.Missed
			p.SignalContext = rec.Created.SignalContext
			p.RuntimeContext = rec.Created.RuntimeContext
			if p.CreatedAt.IsZero() {
				p.CreatedAt = rec.At
			}
		}
		if rec.Gate != nil {
			p.GateVerdicts = *rec.Gate
		}
		if rec.Sizing != nil {
			p.Sizing = *rec.Sizing
		}
		if rec.Outcome != nil {
			out := *rec.Outcome
			p.Outcome = &out
		}
		if rec.Counterfactual != nil {
			if p.Counterfactual == nil {
				p.Counterfactual = make(map[string]Counterfactual)
			}
			p.Counterfactual[rec.Counterfactual.Horizon] = *rec.Counterfactual
		}
	}
	return packets
}
