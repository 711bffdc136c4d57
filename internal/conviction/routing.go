package conviction

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mlevitan96-crypto/trading-bot-sub006/internal/signals"
)

// RouterConfig controls direction routing.
type RouterConfig struct {
	Alpha      float64 `yaml:"alpha"`       // EWMA smoothing for realized edge
	MinSamples int     `yaml:"min_samples"` // observations before routing can block
	BlockBelow float64 `yaml:"block_below"` // edge (bps) under which the direction is disallowed
}

// DefaultRouterConfig returns the production routing parameters.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		Alpha:      0.2,
		MinSamples: 20,
		BlockBelow: -5.0, // sustained negative edge worse than -5 bps
	}
}

// edgeState is the learned edge for one signal x direction cell.
type edgeState struct {
	EdgeBps float64   `json:"edge_bps"` // EWMA of realized edge in basis points
	Samples int       `json:"samples"`
	Updated time.Time `json:"updated"`
}

// Router restricts which proposed trade side each signal may score for,
// from an EWMA of realized edge segmented by signal x direction.
// Routing filters economic contribution only: readings for disallowed
// sides are still recorded for learning.
type Router struct {
	mu    sync.RWMutex
	cfg   RouterConfig
	edges map[string]edgeState // key: signal|side
	path  string               // persisted state, empty = memory only
}

// NewRouter loads routing state from dir (if present).
func NewRouter(cfg RouterConfig, dir string) *Router {
	r := &Router{
		cfg:   cfg,
		edges: make(map[string]edgeState),
	}
	if dir != "" {
		r.path = filepath.Join(dir, "direction_edges.json")
		r.load()
	}
	return r
}

func edgeKey(signal string, side signals.Side) string {
	return signal + "|" + string(side)
}

// Allowed reports whether the signal may contribute to scoring for the
// proposed side. Unknown or thinly observed cells default to allowed.
func (r *Router) Allowed(signal string, side signals.Side) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	st, ok := r.edges[edgeKey(signal, side)]
	if !ok || st.Samples < r.cfg.MinSamples {
		return true
	}
	return st.EdgeBps >= r.cfg.BlockBelow
}

// Edge returns the learned edge for a cell, ok=false when unobserved.
func (r *Router) Edge(signal string, side signals.Side) (float64, int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	st, ok := r.edges[edgeKey(signal, side)]
	return st.EdgeBps, st.Samples, ok
}

// UpdateEdge folds one realized edge observation (bps) into the EWMA.
func (r *Router) UpdateEdge(signal string, side signals.Side, realizedBps float64) {
	r.mu.Lock()
	key := edgeKey(signal, side)
	st := r.edges[key]
	if st.Samples == 0 {
		st.EdgeBps = realizedBps
	} else {
		st.EdgeBps = r.cfg.Alpha*realizedBps + (1-r.cfg.Alpha)*st.EdgeBps
	}
	st.Samples++
	st.Updated = time.Now().UTC()
	r.edges[key] = st
	r.mu.Unlock()
}

// Persist writes routing state atomically.
func (r *Router) Persist() error {
	if r.path == "" {
		return nil
	}

	r.mu.RLock()
	data, err := json.MarshalIndent(r.edges, "", "  ")
	r.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("marshal routing state: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(r.path), 0755); err != nil {
		return fmt.Errorf("create routing dir: %w", err)
	}
	tempPath := r.path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("write routing temp: %w", err)
	}
	return os.Rename(tempPath, r.path)
}

func (r *Router) load() {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return // fresh state
	}
	var edges map[string]edgeState
	if err := json.Unmarshal(data, &edges); err != nil {
		log.Warn().Err(err).Str("path", r.path).Msg("routing state unparseable, starting fresh")
		return
	}
	r.edges = edges
}
