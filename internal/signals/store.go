package signals

import (
	"sync"
	"time"
)

// Store keeps a short rolling history of readings per (signal, symbol).
// The ring is fixed-capacity: oldest entries are evicted on overflow.
// Stale entries stay in the ring until capacity pushes them out, they
// are only excluded from freshness-gated computations.
type Store struct {
	mu        sync.RWMutex
	capacity  int
	freshness time.Duration
	rings     map[storeKey]*ring
}

type storeKey struct {
	signal string
	symbol string
}

type ring struct {
	buf   []Reading
	head  int // next write position
	count int
}

// NewStore creates a reading store with the given per-series capacity
// and freshness window. Non-positive values fall back to 10 and 30s.
func NewStore(capacity int, freshness time.Duration) *Store {
	if capacity <= 0 {
		capacity = 10
	}
	if freshness <= 0 {
		freshness = 30 * time.Second
	}
	return &Store{
		capacity:  capacity,
		freshness: freshness,
		rings:     make(map[storeKey]*ring),
	}
}

// Append records a reading, evicting the oldest entry when full.
func (s *Store) Append(r Reading) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := storeKey{signal: r.Signal, symbol: r.Symbol}
	rg, ok := s.rings[key]
	if !ok {
		rg = &ring{buf: make([]Reading, s.capacity)}
		s.rings[key] = rg
	}
	rg.buf[rg.head] = r
	rg.head = (rg.head + 1) % s.capacity
	if rg.count < s.capacity {
		rg.count++
	}
}

// Latest returns the most recent reading for (signal, symbol), if any.
func (s *Store) Latest(signal, symbol string) (Reading, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rg, ok := s.rings[storeKey{signal: signal, symbol: symbol}]
	if !ok || rg.count == 0 {
		return Reading{}, false
	}
	idx := (rg.head - 1 + s.capacity) % s.capacity
	return rg.buf[idx], true
}

// History returns readings for (signal, symbol) oldest-first.
func (s *Store) History(signal, symbol string) []Reading {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rg, ok := s.rings[storeKey{signal: signal, symbol: symbol}]
	if !ok || rg.count == 0 {
		return nil
	}
	out := make([]Reading, 0, rg.count)
	start := (rg.head - rg.count + s.capacity*2) % s.capacity
	for i := 0; i < rg.count; i++ {
		out = append(out, rg.buf[(start+i)%s.capacity])
	}
	return out
}

// Fresh returns only readings inside the freshness window at now,
// oldest-first.
func (s *Store) Fresh(signal, symbol string, now time.Time) []Reading {
	all := s.History(signal, symbol)
	out := make([]Reading, 0, len(all))
	for _, r := range all {
		if r.Fresh(now, s.freshness) {
			out = append(out, r)
		}
	}
	return out
}

// Momentum is the mean signed confidence drift across fresh readings:
// positive when the series leans long and strengthening. Returns 0 when
// fewer than two fresh readings exist.
func (s *Store) Momentum(signal, symbol string, now time.Time) float64 {
	fresh := s.Fresh(signal, symbol, now)
	if len(fresh) < 2 {
		return 0
	}
	var drift float64
	for i := 1; i < len(fresh); i++ {
		prev := fresh[i-1].Direction.Sign() * fresh[i-1].Confidence
		cur := fresh[i].Direction.Sign() * fresh[i].Confidence
		drift += cur - prev
	}
	return drift / float64(len(fresh)-1)
}

// Symbols returns every symbol with at least one stored reading.
func (s *Store) Symbols() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]bool)
	out := make([]string, 0, len(s.rings))
	for key, rg := range s.rings {
		if rg.count == 0 || seen[key.symbol] {
			continue
		}
		seen[key.symbol] = true
		out = append(out, key.symbol)
	}
	return out
}
