package decision

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlevitan96-crypto/trading-bot-sub006/internal/prices"
	"github.com/mlevitan96-crypto/trading-bot-sub006/internal/signals"
)

func newTestEngine(t *testing.T) (*Engine, *prices.Store) {
	t.Helper()
	logStore, err := NewFileLog(t.TempDir())
	require.NoError(t, err)
	px := prices.NewStore(time.Hour*24*14, nil)
	return NewEngine(logStore, px, 30*time.Second), px
}

func seedPrices(px *prices.Store, symbol string, at time.Time, entry, exit1h float64) {
	ctx := context.Background()
	px.Append(ctx, prices.Sample{Symbol: symbol, At: at, Mid: entry})
	px.Append(ctx, prices.Sample{Symbol: symbol, At: at.Add(time.Hour), Mid: exit1h})
}

func TestEngine_RecordThenReduceRoundTrip(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	p := &Packet{
		DecisionID: NewDecisionID(),
		Symbol:     "BTC-USD",
		StrategyID: "scalp",
		Side:       signals.SideLong,
		SignalContext: SignalContext{
			Signals:        map[string]SignalSnapshot{"funding": {Direction: signals.DirectionLong, Confidence: 0.8}},
			CompositeScore: 0.3,
		},
		GateVerdicts: GateVerdicts{ReasonCodes: []string{"min_ofi_long"}},
		Sizing:       SizingLineage{BaseNotional: 1000, FinalNotional: 1200},
	}
	require.NoError(t, eng.RecordDecision(ctx, p))
	require.NoError(t, eng.AttachOutcome(ctx, p.DecisionID, Outcome{Status: StatusBlocked}))

	packets, err := Packets(ctx, eng.Log())
	require.NoError(t, err)
	got := packets[p.DecisionID]
	require.NotNil(t, got)
	assert.Equal(t, "scalp", got.StrategyID)
	assert.Equal(t, []string{"min_ofi_long"}, got.GateVerdicts.ReasonCodes)
	assert.Equal(t, 1200.0, got.Sizing.FinalNotional)
	assert.True(t, got.Blocked())
}

func TestEngine_CounterfactualDirectionalReturns(t *testing.T) {
	eng, px := newTestEngine(t)
	ctx := context.Background()
	at := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	seedPrices(px, "BTC-USD", at, 50000, 51000) // +2% over 1h

	long := &Packet{
		DecisionID: "long", Symbol: "BTC-USD", Side: signals.SideLong, CreatedAt: at,
		Sizing:  SizingLineage{FinalNotional: 1000},
		Outcome: &Outcome{Status: StatusExecuted, EntryPrice: 50000, FeesEstimate: 2},
	}
	cf := eng.EvaluateCounterfactual(ctx, long, Horizon{Name: "1h", Dur: time.Hour})
	require.Equal(t, CFOk, cf.Status)
	assert.InDelta(t, 0.02, cf.Return, 1e-9)
	assert.InDelta(t, 1000*0.02-2, cf.NetPnL, 1e-9)
	assert.False(t, cf.WasBlocked)

	short := &Packet{
		DecisionID: "short", Symbol: "BTC-USD", Side: signals.SideShort, CreatedAt: at,
		Sizing:  SizingLineage{FinalNotional: 1000},
		Outcome: &Outcome{Status: StatusExecuted, EntryPrice: 50000},
	}
	cfShort := eng.EvaluateCounterfactual(ctx, short, Horizon{Name: "1h", Dur: time.Hour})
	assert.InDelta(t, -0.02, cfShort.Return, 1e-9)
}

func TestEngine_ExecutedAndBlockedAreSymmetric(t *testing.T) {
	eng, px := newTestEngine(t)
	ctx := context.Background()
	at := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	seedPrices(px, "BTC-USD", at, 50000, 51000)

	executed := &Packet{
		DecisionID: "exec", Symbol: "BTC-USD", Side: signals.SideLong, CreatedAt: at,
		Sizing:  SizingLineage{FinalNotional: 1000},
		Outcome: &Outcome{Status: StatusExecuted, EntryPrice: 50000},
	}
	blocked := &Packet{
		DecisionID: "blocked", Symbol: "BTC-USD", Side: signals.SideLong, CreatedAt: at,
		Sizing:  SizingLineage{FinalNotional: 1000},
		Outcome: &Outcome{Status: StatusBlocked},
	}

	h := Horizon{Name: "1h", Dur: time.Hour}
	cfExec := eng.EvaluateCounterfactual(ctx, executed, h)
	cfBlocked := eng.EvaluateCounterfactual(ctx, blocked, h)

	require.Equal(t, CFOk, cfExec.Status)
	require.Equal(t, CFOk, cfBlocked.Status)
	assert.InDelta(t, cfExec.NetPnL, cfBlocked.NetPnL, 1e-9,
		"identical size/side/timing must yield identical net pnl")
	assert.False(t, cfExec.WasBlocked)
	assert.True(t, cfBlocked.WasBlocked)
}

func TestEngine_NoPriceWithinTolerance(t *testing.T) {
	eng, px := newTestEngine(t)
	ctx := context.Background()
	at := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	// Entry exists, exit sample is 5 minutes away from the horizon point.
	px.Append(ctx, prices.Sample{Symbol: "BTC-USD", At: at, Mid: 50000})
	px.Append(ctx, prices.Sample{Symbol: "BTC-USD", At: at.Add(time.Hour + 5*time.Minute), Mid: 51000})

	p := &Packet{
		DecisionID: "d", Symbol: "BTC-USD", Side: signals.SideLong, CreatedAt: at,
		Sizing: SizingLineage{FinalNotional: 1000},
	}
	cf := eng.EvaluateCounterfactual(ctx, p, Horizon{Name: "1h", Dur: time.Hour})
	assert.Equal(t, CFNoPrice, cf.Status)
	assert.Zero(t, cf.NetPnL)
}

func TestEngine_FillWritesElapsedHorizonsOnly(t *testing.T) {
	eng, px := newTestEngine(t)
	ctx := context.Background()
	at := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	fiveIn := at.Add(5 * time.Minute)
	px.Append(ctx, prices.Sample{Symbol: "BTC-USD", At: at, Mid: 50000})
	px.Append(ctx, prices.Sample{Symbol: "BTC-USD", At: fiveIn, Mid: 50100})
	px.Append(ctx, prices.Sample{Symbol: "BTC-USD", At: at.Add(time.Hour), Mid: 50500})

	p := &Packet{
		DecisionID: NewDecisionID(), Symbol: "BTC-USD", Side: signals.SideLong, CreatedAt: at,
		Sizing: SizingLineage{FinalNotional: 1000},
	}
	require.NoError(t, eng.RecordDecision(ctx, p))
	require.NoError(t, eng.AttachOutcome(ctx, p.DecisionID, Outcome{Status: StatusExecuted, EntryPrice: 50000}))

	// Two hours in: 5m and 1h have elapsed, 1d and 1w have not.
	written, err := eng.Fill(ctx, at.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, written)

	packets, err := Packets(ctx, eng.Log())
	require.NoError(t, err)
	got := packets[p.DecisionID]
	assert.Contains(t, got.Counterfactual, "5m")
	assert.Contains(t, got.Counterfactual, "1h")
	assert.NotContains(t, got.Counterfactual, "1d")

	// A second fill at the same instant re-writes nothing new for ok results.
	written, err = eng.Fill(ctx, at.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, written)
}

func TestEngine_FillKeepsUnpriceablePacketsBounded(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()
	at := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

	// No prices at all: every elapsed horizon stays no_price.
	p := &Packet{
		DecisionID: NewDecisionID(), Symbol: "BTC-USD", Side: signals.SideLong, CreatedAt: at,
		Sizing: SizingLineage{FinalNotional: 1000},
	}
	require.NoError(t, eng.RecordDecision(ctx, p))
	require.NoError(t, eng.AttachOutcome(ctx, p.DecisionID, Outcome{Status: StatusBlocked}))

	written, err := eng.Fill(ctx, at.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, written, "first pass records no_price for 5m and 1h")

	before, err := eng.Log().Records(ctx)
	require.NoError(t, err)

	// Later passes must not re-append the same no_price verdict.
	for _, pass := range []time.Duration{2*time.Hour + 10*time.Minute, 3 * time.Hour} {
		written, err = eng.Fill(ctx, at.Add(pass))
		require.NoError(t, err)
		assert.Zero(t, written)
	}

	after, err := eng.Log().Records(ctx)
	require.NoError(t, err)
	assert.Len(t, after, len(before), "log must not grow while the packet stays unpriceable")

	packets, err := Packets(ctx, eng.Log())
	require.NoError(t, err)
	assert.Equal(t, CFNoPrice, packets[p.DecisionID].Counterfactual["1h"].Status)
}

func TestEngine_SynthesizeMissed(t *testing.T) {
	eng, px := newTestEngine(t)
	ctx := context.Background()
	at := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	seedPrices(px, "SOL-USD", at, 100, 103)

	reading := signals.Reading{
		Signal: "whale_flow", Symbol: "SOL-USD", Timestamp: at,
		Direction: signals.DirectionLong, Confidence: 0.7,
	}
	p, err := eng.SynthesizeMissed(ctx, reading, signals.SideLong, 500)
	require.NoError(t, err)

	packets, err := Packets(ctx, eng.Log())
	require.NoError(t, err)
	got := packets[p.DecisionID]
	require.NotNil(t, got)
	assert.True(t, got.Missed)
	assert.True(t, got.Blocked())
	assert.Equal(t, []string{"pre_decision_filter"}, got.GateVerdicts.ReasonCodes)

	// The same counterfactual machinery applies to the synthetic packet.
	cf := eng.EvaluateCounterfactual(ctx, got, Horizon{Name: "1h", Dur: time.Hour})
	require.Equal(t, CFOk, cf.Status)
	assert.InDelta(t, 0.03, cf.Return, 1e-9)
}

func TestFileLog_SkipsMalformedLines(t *testing.T) {
	dir := t.TempDir()
	logStore, err := NewFileLog(dir)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, logStore.Append(ctx, Record{DecisionID: "d1", Stage: StageCreated, At: time.Now(), Created: &CreatedFields{Symbol: "BTC-USD"}}))

	// Corrupt the log with a half-written line, then append more.
	f, err := os.OpenFile(filepath.Join(dir, "decisions.ndjson"), os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString("{\"decision_id\": \"trunc\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.NoError(t, logStore.Append(ctx, Record{DecisionID: "d2", Stage: StageCreated, At: time.Now(), Created: &CreatedFields{Symbol: "ETH-USD"}}))

	records, err := logStore.Records(ctx)
	require.NoError(t, err)
	assert.Len(t, records, 2, "malformed line skipped, valid records kept")
}

func TestAggregate_SplitsAndAttributes(t *testing.T) {
	base := time.Now().UTC()
	packets := map[string]*Packet{
		"a": {
			DecisionID: "a", StrategyID: "scalp", Symbol: "BTC-USD", CreatedAt: base,
			Outcome:        &Outcome{Status: StatusExecuted},
			SignalContext:  SignalContext{Signals: map[string]SignalSnapshot{"funding": {}}},
			Counterfactual: map[string]Counterfactual{"1h": {Horizon: "1h", Return: 0.02, NetPnL: 20, Status: CFOk}},
		},
		"b": {
			DecisionID: "b", StrategyID: "swing", Symbol: "BTC-USD", CreatedAt: base,
			Outcome:        &Outcome{Status: StatusBlocked},
			GateVerdicts:   GateVerdicts{ReasonCodes: []string{"min_ofi_long"}},
			SignalContext:  SignalContext{Signals: map[string]SignalSnapshot{"funding": {}, "ofi": {}}},
			Counterfactual: map[string]Counterfactual{"1h": {Horizon: "1h", Return: 0.05, NetPnL: 50, WasBlocked: true, Status: CFOk}},
		},
		"c": {
			DecisionID: "c", StrategyID: "swing", Symbol: "ETH-USD", CreatedAt: base,
			Outcome:        &Outcome{Status: StatusBlocked},
			GateVerdicts:   GateVerdicts{ReasonCodes: []string{"min_ofi_long"}},
			Counterfactual: map[string]Counterfactual{"1h": {Horizon: "1h", Status: CFNoPrice}},
		},
	}

	agg := AggregatePackets(packets, "1h")

	assert.Equal(t, 1, agg.Executed.Count)
	assert.InDelta(t, 20, agg.Executed.NetPnL, 1e-9)

	// no_price excluded from sums, counted separately.
	assert.Equal(t, 1, agg.Blocked.Count)
	assert.Equal(t, 1, agg.Blocked.NoPrice)
	assert.InDelta(t, 50, agg.Blocked.NetPnL, 1e-9)

	reason := agg.ByReason["min_ofi_long"]
	assert.Equal(t, 1, reason.Count)
	assert.InDelta(t, 50, reason.NetPnL, 1e-9)

	assert.Equal(t, 1, agg.ByStrategy["scalp"].Count)
	assert.Equal(t, 1, agg.ByStrategy["swing"].Count)
	assert.Equal(t, 2, agg.BySignal["funding"].Count)
	assert.InDelta(t, 0.05, agg.BySignal["ofi"].AvgReturn(), 1e-9)
}
