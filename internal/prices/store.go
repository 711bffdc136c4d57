package prices

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Sample is one mid-price observation.
type Sample struct {
	Symbol string    `json:"symbol"`
	At     time.Time `json:"at"`
	Mid    float64   `json:"mid"`
}

// Source resolves the mid price nearest to t within tolerance.
// ok=false means no sample exists inside the window; callers must treat
// that as missing data, not as a zero price.
type Source interface {
	At(ctx context.Context, symbol string, t time.Time, tolerance time.Duration) (float64, bool)
}

// Store keeps per-symbol time-ordered samples in memory, optionally
// mirrored to Redis so history survives restarts (see Mirror).
type Store struct {
	mu        sync.RWMutex
	series    map[string][]Sample // ascending by At
	retention time.Duration
	mirror    *Mirror
}

// NewStore creates a price store. Non-positive retention defaults to
// eight days, enough to cover the longest counterfactual horizon.
func NewStore(retention time.Duration, mirror *Mirror) *Store {
	if retention <= 0 {
		retention = 8 * 24 * time.Hour
	}
	return &Store{
		series:    make(map[string][]Sample),
		retention: retention,
		mirror:    mirror,
	}
}

// Append records a sample, keeping the series sorted. Out-of-order
// arrivals from the feed are inserted at the right position.
func (s *Store) Append(ctx context.Context, sample Sample) {
	s.mu.Lock()
	series := s.series[sample.Symbol]
	idx := sort.Search(len(series), func(i int) bool {
		return series[i].At.After(sample.At)
	})
	series = append(series, Sample{})
	copy(series[idx+1:], series[idx:])
	series[idx] = sample
	s.series[sample.Symbol] = series
	s.mu.Unlock()

	if s.mirror != nil {
		s.mirror.Append(ctx, sample)
	}
}

// At returns the sample closest to t within tolerance. Memory is
// consulted first, then the Redis mirror.
func (s *Store) At(ctx context.Context, symbol string, t time.Time, tolerance time.Duration) (float64, bool) {
	if mid, ok := s.atMemory(symbol, t, tolerance); ok {
		return mid, true
	}
	if s.mirror != nil {
		return s.mirror.At(ctx, symbol, t, tolerance)
	}
	return 0, false
}

func (s *Store) atMemory(symbol string, t time.Time, tolerance time.Duration) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	series := s.series[symbol]
	if len(series) == 0 {
		return 0, false
	}
	idx := sort.Search(len(series), func(i int) bool {
		return !series[i].At.Before(t)
	})

	best := -1
	var bestDiff time.Duration
	for _, cand := range []int{idx - 1, idx} {
		if cand < 0 || cand >= len(series) {
			continue
		}
		diff := absDuration(series[cand].At.Sub(t))
		if diff > tolerance {
			continue
		}
		if best == -1 || diff < bestDiff {
			best, bestDiff = cand, diff
		}
	}
	if best == -1 {
		return 0, false
	}
	return series[best].Mid, true
}

// Prune drops samples older than the retention window.
func (s *Store) Prune(ctx context.Context, now time.Time) {
	cutoff := now.Add(-s.retention)

	s.mu.Lock()
	for symbol, series := range s.series {
		idx := sort.Search(len(series), func(i int) bool {
			return series[i].At.After(cutoff)
		})
		if idx > 0 {
			s.series[symbol] = append([]Sample(nil), series[idx:]...)
		}
	}
	s.mu.Unlock()

	if s.mirror != nil {
		s.mirror.Prune(ctx, cutoff)
	}
}

// Len reports the in-memory sample count for a symbol.
func (s *Store) Len(symbol string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.series[symbol])
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
