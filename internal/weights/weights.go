package weights

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Vector maps signal name to scalar weight. Sums are not required to
// equal 1; each weight must lie within [MinWeight, MaxWeight].
type Vector map[string]float64

const (
	MinWeight = 0.0
	MaxWeight = 0.5
)

// DefaultVector is the hard-coded fallback at the end of the load chain.
func DefaultVector() Vector {
	return Vector{
		"funding":     0.16,
		"liquidation": 0.22,
		"whale_flow":  0.20,
		"ofi":         0.18,
		"momentum":    0.14,
		"sentiment":   0.10,
	}
}

// Clamp bounds every weight, logging anything out of range. Bound
// violations are policy violations: clamped at the point of
// computation, never propagated.
func (v Vector) Clamp() Vector {
	out := make(Vector, len(v))
	for name, w := range v {
		clamped := w
		if math.IsNaN(clamped) {
			clamped = MinWeight
		}
		if clamped < MinWeight {
			clamped = MinWeight
		}
		if clamped > MaxWeight {
			clamped = MaxWeight
		}
		if clamped != w {
			log.Warn().Str("signal", name).
				Float64("raw", w).Float64("clamped", clamped).
				Msg("weight out of bounds, clamped")
		}
		out[name] = clamped
	}
	return out
}

// Names returns signal names in deterministic order.
func (v Vector) Names() []string {
	names := make([]string, 0, len(v))
	for name := range v {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clone returns an independent copy.
func (v Vector) Clone() Vector {
	out := make(Vector, len(v))
	for k, w := range v {
		out[k] = w
	}
	return out
}

// persisted is the on-disk document shape.
type persisted struct {
	UpdatedAt time.Time `json:"updated_at"`
	Source    string    `json:"source"`
	Weights   Vector    `json:"weights"`
}

// Store owns the current weight vector. Load order: learned file, then
// manual file, then hard-coded defaults. Only the governance watchdogs
// mutate it; concurrent readers get snapshots.
type Store struct {
	mu          sync.RWMutex
	learnedPath string
	manualPath  string
	current     Vector
	source      string
}

// NewStore builds a store rooted at dir and runs the load chain.
func NewStore(dir string) *Store {
	s := &Store{
		learnedPath: filepath.Join(dir, "weights_learned.json"),
		manualPath:  filepath.Join(dir, "weights_manual.json"),
	}
	s.Reload()
	return s
}

// Reload re-runs the load chain: learned → manual → defaults.
func (s *Store) Reload() {
	vec, source := s.load()

	s.mu.Lock()
	s.current = vec
	s.source = source
	s.mu.Unlock()

	log.Info().Str("source", source).Int("signals", len(vec)).Msg("weight vector loaded")
}

func (s *Store) load() (Vector, string) {
	if vec, err := readVector(s.learnedPath); err == nil {
		return vec.Clamp(), "learned"
	}
	if vec, err := readVector(s.manualPath); err == nil {
		return vec.Clamp(), "manual"
	}
	return DefaultVector(), "default"
}

func readVector(path string) (Vector, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc persisted
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(doc.Weights) == 0 {
		return nil, fmt.Errorf("empty weight vector in %s", path)
	}
	return doc.Weights, nil
}

// Current returns a snapshot of the active vector.
func (s *Store) Current() Vector {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.Clone()
}

// Source reports which load-chain stage produced the active vector.
func (s *Store) Source() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.source
}

// Set replaces the vector (clamped) and persists it atomically so
// concurrent readers never observe a partial write.
func (s *Store) Set(vec Vector) error {
	clamped := vec.Clamp()

	s.mu.Lock()
	s.current = clamped
	s.source = "learned"
	s.mu.Unlock()

	return writeAtomic(s.learnedPath, persisted{
		UpdatedAt: time.Now().UTC(),
		Source:    "watchdog",
		Weights:   clamped,
	})
}

// writeAtomic writes doc to path via temp-file-then-rename.
func writeAtomic(path string, doc persisted) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal weights: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create weights dir: %w", err)
	}
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("write temp weights: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("rename weights: %w", err)
	}
	return nil
}
