package alloc

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlevitan96-crypto/trading-bot-sub006/internal/signals"
)

func weightSum(m AllocationMap) float64 {
	var sum float64
	for _, a := range m.Strategies {
		sum += a.Weight
	}
	return sum
}

func TestAllocate_WeightsSumToOne(t *testing.T) {
	c := NewCoordinator(nil, "")
	now := time.Now()

	outcomes := map[string]StrategyOutcome{
		"scalp": {Archetype: ArchetypeShortHorizon, WinRate: 0.62, Trades: 40, ExecutedPnL: 900, BlockedPnL: 100},
		"swing": {Archetype: ArchetypeLongHorizon, WinRate: 0.41, Trades: 25, ExecutedPnL: -200, BlockedPnL: 300},
	}
	m := c.Allocate(outcomes, ProfitTrend{ShortHorizon: 0.4, LongHorizon: 0.1, Blended: 0.3}, nil, now)

	assert.InDelta(t, 1.0, weightSum(m), 1e-9)
	assert.Greater(t, m.Strategies["scalp"].Weight, m.Strategies["swing"].Weight,
		"winning short-horizon strategy should dominate under short-horizon evidence")

	for name, a := range m.Strategies {
		assert.InDelta(t, m.TotalCap*a.Weight, a.ExposureCap, 1e-9, "cap bound for %s", name)
	}
}

func TestAllocate_AllZeroOutcomesEvenSplit(t *testing.T) {
	c := NewCoordinator(nil, "")
	outcomes := map[string]StrategyOutcome{
		"a": {}, "b": {}, "c": {},
	}
	// Strongly skewed trend with zero-trade outcomes still renormalizes.
	m := c.Allocate(outcomes, ProfitTrend{}, nil, time.Now())

	assert.InDelta(t, 1.0, weightSum(m), 1e-9)
	for name, a := range m.Strategies {
		assert.InDelta(t, 1.0/3.0, a.Weight, 1e-9, "strategy %s", name)
	}
}

func TestAllocate_ExtremeSkewStillNormalized(t *testing.T) {
	c := NewCoordinator(nil, "")
	outcomes := map[string]StrategyOutcome{
		"a": {Archetype: ArchetypeShortHorizon, WinRate: 1.0, Trades: 500, ExecutedPnL: 1e9},
		"b": {Archetype: ArchetypeLongHorizon, WinRate: 0.0, Trades: 500, ExecutedPnL: -1e9},
	}
	m := c.Allocate(outcomes, ProfitTrend{ShortHorizon: 1, LongHorizon: -1, Blended: 1}, nil, time.Now())

	assert.InDelta(t, 1.0, weightSum(m), 1e-9)
	for _, a := range m.Strategies {
		assert.GreaterOrEqual(t, a.Weight, 0.0)
		assert.LessOrEqual(t, a.Weight, 1.0)
	}
}

func TestAllocate_ThinOutcomesDoNotNudge(t *testing.T) {
	c := NewCoordinator(nil, "")
	outcomes := map[string]StrategyOutcome{
		"a": {Archetype: ArchetypeShortHorizon, WinRate: 0.9, Trades: 2},
		"b": {Archetype: ArchetypeShortHorizon, WinRate: 0.1, Trades: 2},
	}
	m := c.Allocate(outcomes, ProfitTrend{}, nil, time.Now())
	assert.InDelta(t, m.Strategies["a"].Weight, m.Strategies["b"].Weight, 1e-9,
		"below min trades win rate must not move weights")
}

func TestAllocate_SymbolCapsInverseToVolatility(t *testing.T) {
	c := NewCoordinator(nil, "")
	vols := map[string]SymbolVol{
		"BTC-USD": {ATR: 500, Price: 50000},  // 1% relative ATR
		"DOG-USD": {ATR: 0.004, Price: 0.10}, // 4% relative ATR
		"BAD-USD": {ATR: 0, Price: 10},       // unusable normalizer
	}
	m := c.Allocate(map[string]StrategyOutcome{"a": {}}, ProfitTrend{}, vols, time.Now())

	require.Contains(t, m.SymbolCaps, "BTC-USD")
	require.Contains(t, m.SymbolCaps, "DOG-USD")
	assert.NotContains(t, m.SymbolCaps, "BAD-USD")
	assert.Greater(t, m.SymbolCaps["BTC-USD"], m.SymbolCaps["DOG-USD"],
		"higher relative volatility earns a smaller cap")
	assert.LessOrEqual(t, m.SymbolCaps["BTC-USD"], m.TotalCap)
}

func TestRegimeBias_Bounded(t *testing.T) {
	c := NewCoordinator(nil, "")
	assert.InDelta(t, 1.0, c.RegimeBias(ProfitTrend{}), 1e-9)
	assert.Greater(t, c.RegimeBias(ProfitTrend{Blended: 2}), 1.0)
	assert.LessOrEqual(t, c.RegimeBias(ProfitTrend{Blended: 100}), 1.5)
	assert.GreaterOrEqual(t, c.RegimeBias(ProfitTrend{Blended: -100}), 0.5)
}

func arbitrationFixture(t *testing.T) *Coordinator {
	t.Helper()
	c := NewCoordinator(nil, "")
	c.Allocate(map[string]StrategyOutcome{
		"scalp": {Archetype: ArchetypeShortHorizon, WinRate: 0.6, Trades: 50},
		"swing": {Archetype: ArchetypeLongHorizon, WinRate: 0.4, Trades: 50},
	}, ProfitTrend{ShortHorizon: 0.5}, nil, time.Now())
	require.Greater(t, c.Current().Strategies["scalp"].Weight, c.Current().Strategies["swing"].Weight)
	return c
}

func TestArbitrate_ExactlyOneWinnerPerConflict(t *testing.T) {
	c := arbitrationFixture(t)
	now := time.Now()

	pending := []Candidate{
		{Symbol: "BTC-USD", Side: signals.SideLong, Strategy: "swing", Score: 0.9, At: now},
		{Symbol: "BTC-USD", Side: signals.SideLong, Strategy: "scalp", Score: 0.3, At: now.Add(-time.Second)},
		{Symbol: "ETH-USD", Side: signals.SideShort, Strategy: "swing", Score: 0.5, At: now},
	}
	allowed, cooled := c.Arbitrate(pending, now)

	require.Len(t, allowed, 2)
	require.Len(t, cooled, 1)

	// Higher strategy weight beats higher score.
	assert.Equal(t, "scalp", allowed[0].Strategy)
	assert.Equal(t, "BTC-USD", allowed[0].Symbol)
	assert.Equal(t, "swing", cooled[0].Strategy)

	// Uncontested signal passes through.
	assert.Equal(t, "ETH-USD", allowed[1].Symbol)
}

func TestArbitrate_TieBreaksScoreThenRecency(t *testing.T) {
	c := NewCoordinator(nil, "")
	now := time.Now()

	// No allocation yet: all strategy weights are equal (zero).
	pending := []Candidate{
		{Symbol: "BTC-USD", Side: signals.SideLong, Strategy: "a", Score: 0.5, At: now.Add(-time.Minute)},
		{Symbol: "BTC-USD", Side: signals.SideLong, Strategy: "b", Score: 0.7, At: now.Add(-time.Hour)},
	}
	allowed, _ := c.Arbitrate(pending, now)
	require.Len(t, allowed, 1)
	assert.Equal(t, "b", allowed[0].Strategy, "score decides when weights tie")

	// Equal weight and score: most recent timestamp wins.
	pending = []Candidate{
		{Symbol: "ETH-USD", Side: signals.SideShort, Strategy: "a", Score: 0.5, At: now.Add(-time.Minute)},
		{Symbol: "ETH-USD", Side: signals.SideShort, Strategy: "b", Score: 0.5, At: now},
	}
	allowed, _ = c.Arbitrate(pending, now)
	require.Len(t, allowed, 1)
	assert.Equal(t, "b", allowed[0].Strategy)
}

func TestArbitrate_CooledTripleCannotReenter(t *testing.T) {
	c := arbitrationFixture(t)
	now := time.Now()

	pending := []Candidate{
		{Symbol: "BTC-USD", Side: signals.SideLong, Strategy: "scalp", Score: 0.6, At: now},
		{Symbol: "BTC-USD", Side: signals.SideLong, Strategy: "swing", Score: 0.9, At: now},
	}
	_, cooled := c.Arbitrate(pending, now)
	require.Len(t, cooled, 1)

	// Within the cooldown the loser is rejected even unopposed.
	later := now.Add(60 * time.Second)
	allowed, cooled := c.Arbitrate([]Candidate{
		{Symbol: "BTC-USD", Side: signals.SideLong, Strategy: "swing", Score: 0.9, At: later},
	}, later)
	assert.Empty(t, allowed)
	require.Len(t, cooled, 1)

	// After expiry it competes again.
	after := now.Add(211 * time.Second)
	allowed, cooled = c.Arbitrate([]Candidate{
		{Symbol: "BTC-USD", Side: signals.SideLong, Strategy: "swing", Score: 0.9, At: after},
	}, after)
	require.Len(t, allowed, 1)
	assert.Empty(t, cooled)
}

func TestArbitrate_DeterministicAndTotal(t *testing.T) {
	c := NewCoordinator(nil, "")
	now := time.Now()

	pending := make([]Candidate, 0, 6)
	for _, strat := range []string{"a", "b", "c", "d", "e", "f"} {
		pending = append(pending, Candidate{
			Symbol: "BTC-USD", Side: signals.SideLong, Strategy: strat, Score: 0.5, At: now,
		})
	}

	allowed, cooled := c.Arbitrate(pending, now)
	require.Len(t, allowed, 1)
	assert.Len(t, cooled, len(pending)-1, "N pending -> 1 allowed, N-1 cooled")
	assert.Equal(t, "a", allowed[0].Strategy, "full tie falls back to a total order")
}

func TestCoordinator_ConcurrentAllocateAndRead(t *testing.T) {
	c := NewCoordinator(nil, t.TempDir())
	now := time.Now()
	outcomes := map[string]StrategyOutcome{
		"scalp": {Archetype: ArchetypeShortHorizon, WinRate: 0.6, Trades: 50, ExecutedPnL: 400},
		"swing": {Archetype: ArchetypeLongHorizon, WinRate: 0.4, Trades: 50, ExecutedPnL: -100},
	}
	c.Allocate(outcomes, ProfitTrend{Blended: 0.2}, nil, now)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			at := now.Add(time.Duration(n) * time.Millisecond)
			c.Allocate(outcomes, ProfitTrend{Blended: 0.2}, nil, at)
			c.Arbitrate([]Candidate{
				{Symbol: "BTC-USD", Side: signals.SideLong, Strategy: "scalp", Score: 0.5, At: at},
			}, at)
			c.PruneCooldowns(at)
		}(i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			m := c.Current()
			assert.InDelta(t, 1.0, weightSum(m), 1e-9)
			c.CoolingUntil("BTC-USD", signals.SideLong, "swing")
			assert.NoError(t, c.Persist())
		}()
	}
	wg.Wait()

	assert.InDelta(t, 1.0, weightSum(c.Current()), 1e-9)
}
