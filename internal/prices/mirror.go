package prices

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Mirror persists price samples to Redis sorted sets keyed px:<symbol>
// with unix-millisecond scores, so counterfactual lookups survive a
// process restart. All operations are best-effort with short timeouts:
// a Redis outage degrades to memory-only, it never fails a caller.
type Mirror struct {
	client  *redis.Client
	timeout time.Duration

	mu      sync.Mutex
	symbols map[string]bool // symbols with mirrored data, for pruning
}

// NewMirror connects a mirror to the given Redis address.
func NewMirror(addr string) *Mirror {
	return &Mirror{
		client:  redis.NewClient(&redis.Options{Addr: addr}),
		timeout: 2 * time.Second,
		symbols: make(map[string]bool),
	}
}

func key(symbol string) string { return "px:" + symbol }

// member encodes a sample so sorted-set members stay unique per tick.
func member(s Sample) string {
	return fmt.Sprintf("%d:%s", s.At.UnixMilli(), strconv.FormatFloat(s.Mid, 'f', -1, 64))
}

// Append mirrors one sample.
func (m *Mirror) Append(ctx context.Context, s Sample) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	err := m.client.ZAdd(ctx, key(s.Symbol), redis.Z{
		Score:  float64(s.At.UnixMilli()),
		Member: member(s),
	}).Err()
	if err != nil {
		log.Debug().Err(err).Str("symbol", s.Symbol).Msg("price mirror append failed")
		return
	}

	m.mu.Lock()
	m.symbols[s.Symbol] = true
	m.mu.Unlock()
}

// At resolves the mirrored sample nearest t within tolerance.
func (m *Mirror) At(ctx context.Context, symbol string, t time.Time, tolerance time.Duration) (float64, bool) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	lo := t.Add(-tolerance).UnixMilli()
	hi := t.Add(tolerance).UnixMilli()

	members, err := m.client.ZRangeByScore(ctx, key(symbol), &redis.ZRangeBy{
		Min: strconv.FormatInt(lo, 10),
		Max: strconv.FormatInt(hi, 10),
	}).Result()
	if err != nil || len(members) == 0 {
		return 0, false
	}

	target := t.UnixMilli()
	var bestMid float64
	bestDiff := int64(-1)
	for _, raw := range members {
		ts, mid, ok := parseMember(raw)
		if !ok {
			continue
		}
		diff := ts - target
		if diff < 0 {
			diff = -diff
		}
		if bestDiff == -1 || diff < bestDiff {
			bestDiff, bestMid = diff, mid
		}
	}
	return bestMid, bestDiff >= 0
}

// Prune removes mirrored samples older than cutoff.
func (m *Mirror) Prune(ctx context.Context, cutoff time.Time) {
	m.mu.Lock()
	symbols := make([]string, 0, len(m.symbols))
	for sym := range m.symbols {
		symbols = append(symbols, sym)
	}
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	max := strconv.FormatInt(cutoff.UnixMilli(), 10)
	for _, sym := range symbols {
		if err := m.client.ZRemRangeByScore(ctx, key(sym), "0", max).Err(); err != nil {
			log.Debug().Err(err).Str("symbol", sym).Msg("price mirror prune failed")
		}
	}
}

// Close releases the Redis connection.
func (m *Mirror) Close() error { return m.client.Close() }

func parseMember(raw string) (int64, float64, bool) {
	parts := strings.SplitN(raw, ":", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	ts, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, 0, false
	}
	mid, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return 0, 0, false
	}
	return ts, mid, true
}
