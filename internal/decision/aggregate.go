package decision

import (
	"context"
)

// Bucket accumulates counterfactual results for one attribution key.
type Bucket struct {
	Count     int     `json:"count"`
	NetPnL    float64 `json:"net_pnl"`
	SumReturn float64 `json:"sum_return"`
	Wins      int     `json:"wins"`
	NoPrice   int     `json:"no_price"` // excluded from sums, counted for visibility
}

// AvgReturn is the mean return over priced results.
func (b Bucket) AvgReturn() float64 {
	if b.Count == 0 {
		return 0
	}
	return b.SumReturn / float64(b.Count)
}

// WinRate is the fraction of priced results with positive net P&L.
func (b Bucket) WinRate() float64 {
	if b.Count == 0 {
		return 0
	}
	return float64(b.Wins) / float64(b.Count)
}

func (b *Bucket) add(cf Counterfactual) {
	if cf.Status != CFOk {
		b.NoPrice++
		return
	}
	b.Count++
	b.NetPnL += cf.NetPnL
	b.SumReturn += cf.Return
	if cf.NetPnL > 0 {
		b.Wins++
	}
}

// Aggregates attributes counterfactual P&L at one horizon so a dollar
// of (foregone) profit traces to the control that caused or prevented
// it.
type Aggregates struct {
	Horizon    string            `json:"horizon"`
	Executed   Bucket            `json:"executed"`
	Blocked    Bucket            `json:"blocked"`
	ByReason   map[string]Bucket `json:"by_reason"`   // blocked only, per gate reason code
	ByStrategy map[string]Bucket `json:"by_strategy"` // all packets
	BySignal   map[string]Bucket `json:"by_signal"`   // signals present in the context
}

// Aggregate rolls the log's packets up at the named horizon.
// CFNoPrice results are excluded from sums, not treated as zero.
func Aggregate(ctx context.Context, l Log, horizonName string) (*Aggregates, error) {
	packets, err := Packets(ctx, l)
	if err != nil {
		return nil, err
	}
	return AggregatePackets(packets, horizonName), nil
}

// AggregatePackets is the pure aggregation over reduced packets.
func AggregatePackets(packets map[string]*Packet, horizonName string) *Aggregates {
	agg := &Aggregates{
		Horizon:    horizonName,
		ByReason:   make(map[string]Bucket),
		ByStrategy: make(map[string]Bucket),
		BySignal:   make(map[string]Bucket),
	}

	for _, p := range packets {
		cf, ok := p.Counterfactual[horizonName]
		if !ok {
			continue
		}

		if p.Blocked() {
			agg.Blocked.add(cf)
			for _, reason := range p.GateVerdicts.ReasonCodes {
				b := agg.ByReason[reason]
				b.add(cf)
				agg.ByReason[reason] = b
			}
		} else {
			agg.Executed.add(cf)
		}

		if p.StrategyID != "" {
			b := agg.ByStrategy[p.StrategyID]
			b.add(cf)
			agg.ByStrategy[p.StrategyID] = b
		}
		for name := range p.SignalContext.Signals {
			b := agg.BySignal[name]
			b.add(cf)
			agg.BySignal[name] = b
		}
	}
	return agg
}
