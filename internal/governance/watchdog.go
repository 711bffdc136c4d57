package governance

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// State of a control's hysteresis machine.
type State string

const (
	StateIdle         State = "idle"
	StateAccumulating State = "accumulating"
	StateEligible     State = "eligible"
	StateCooldown     State = "cooldown"
)

// ControlSpec declares an adaptive control and its bounds.
type ControlSpec struct {
	Name      string        `yaml:"name"`
	Initial   float64       `yaml:"initial"`
	Lo        float64       `yaml:"lo"`
	Hi        float64       `yaml:"hi"`
	Step      float64       `yaml:"step"` // fixed step size per applied change
	MinNights int           `yaml:"min_nights"`
	Threshold float64       `yaml:"threshold"` // pressure magnitude each sample must clear
	Cooldown  time.Duration `yaml:"cooldown"`
}

// DefaultControls returns the production control set.
func DefaultControls() []ControlSpec {
	day := 24 * time.Hour
	return []ControlSpec{
		{Name: "size_throttle", Initial: 1.0, Lo: 0.25, Hi: 1.0, Step: 0.1, MinNights: 3, Threshold: 0.10, Cooldown: 2 * day},
		{Name: "protective_mode", Initial: 0, Lo: 0, Hi: 1, Step: 1, MinNights: 3, Threshold: 0.25, Cooldown: 2 * day},
		{Name: "ofi_threshold_scalp", Initial: 0.05, Lo: 0.02, Hi: 0.20, Step: 0.01, MinNights: 5, Threshold: 0.10, Cooldown: 3 * day},
		{Name: "ensemble_confirm", Initial: 2, Lo: 1, Hi: 4, Step: 1, MinNights: 5, Threshold: 0.15, Cooldown: 3 * day},
		{Name: "hold_time_minutes", Initial: 45, Lo: 10, Hi: 240, Step: 10, MinNights: 4, Threshold: 0.12, Cooldown: 2 * day},
		{Name: "fee_tolerance_bps", Initial: 8, Lo: 2, Hi: 20, Step: 1, MinNights: 5, Threshold: 0.12, Cooldown: 3 * day},
	}
}

// control is the runtime state of one adaptive control.
type control struct {
	Spec       ControlSpec     `json:"spec"`
	Value      float64         `json:"value"`
	LastChange time.Time       `json:"last_change"`
	Window     *EvidenceWindow `json:"window"`
}

// Change is one applied adjustment, logged with its full context.
type Change struct {
	Control string    `json:"control"`
	Before  float64   `json:"before"`
	After   float64   `json:"after"`
	Reason  string    `json:"reason"`
	At      time.Time `json:"at"`
}

// Watchdog runs the hysteresis- and cooldown-gated control loop. A
// control only moves when its evidence window is full, every sample
// agrees in sign past the magnitude threshold, and the cooldown since
// the last change has elapsed; then it moves exactly one bounded step.
type Watchdog struct {
	mu       sync.RWMutex
	controls map[string]*control
	path     string // persisted state, empty = memory only
}

// New creates a watchdog over the given controls, restoring persisted
// state from dir when present. Malformed state starts fresh.
func New(dir string, specs []ControlSpec) *Watchdog {
	if len(specs) == 0 {
		specs = DefaultControls()
	}
	w := &Watchdog{controls: make(map[string]*control)}
	for _, spec := range specs {
		w.controls[spec.Name] = &control{
			Spec:   spec,
			Value:  spec.Initial,
			Window: NewEvidenceWindow(spec.MinNights),
		}
	}
	if dir != "" {
		w.path = filepath.Join(dir, "watchdog_state.json")
		w.load()
	}
	return w
}

// Register adds a control at runtime (used for learned weight nudging).
// Existing controls are left untouched.
func (w *Watchdog) Register(spec ControlSpec) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.controls[spec.Name]; ok {
		return
	}
	w.controls[spec.Name] = &control{
		Spec:   spec,
		Value:  spec.Initial,
		Window: NewEvidenceWindow(spec.MinNights),
	}
}

// Observe appends one pressure sample for the named control. Pressure
// is clamped to [-1, 1]; unknown controls are ignored with a warning.
func (w *Watchdog) Observe(name string, pressure float64, at time.Time) {
	if pressure > 1 {
		pressure = 1
	}
	if pressure < -1 {
		pressure = -1
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	c, ok := w.controls[name]
	if !ok {
		log.Warn().Str("control", name).Msg("pressure observed for unknown control")
		return
	}
	c.Window.Add(Sample{At: at, Pressure: pressure})
}

// Evaluate runs one cycle over every control and returns the applied
// changes. Each eligible control steps once, in the evidence direction,
// clamped to its bounds, then enters cooldown.
func (w *Watchdog) Evaluate(now time.Time) []Change {
	w.mu.Lock()
	defer w.mu.Unlock()

	names := make([]string, 0, len(w.controls))
	for name := range w.controls {
		names = append(names, name)
	}
	sort.Strings(names)

	var changes []Change
	for _, name := range names {
		c := w.controls[name]

		sign, ok := c.Window.Consistent(c.Spec.Threshold)
		if !ok {
			continue
		}
		if !c.LastChange.IsZero() && now.Sub(c.LastChange) < c.Spec.Cooldown {
			continue // eligible but cooling down
		}

		before := c.Value
		after := before + float64(sign)*c.Spec.Step
		if after < c.Spec.Lo {
			after = c.Spec.Lo
		}
		if after > c.Spec.Hi {
			after = c.Spec.Hi
		}
		if after == before {
			continue // pinned at a bound, nothing to apply
		}

		c.Value = after
		c.LastChange = now
		c.Window.Samples = nil // applied evidence is consumed

		change := Change{
			Control: name,
			Before:  before,
			After:   after,
			At:      now,
			Reason: fmt.Sprintf("sustained %s pressure for %d cycles on %s",
				signWord(sign), c.Spec.MinNights, name),
		}
		changes = append(changes, change)

		log.Info().Str("control", name).
			Float64("before", before).Float64("after", after).
			Str("reason", change.Reason).
			Msg("watchdog adjustment applied")
	}
	return changes
}

// Value returns a control's current value (0 when unknown).
func (w *Watchdog) Value(name string) float64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if c, ok := w.controls[name]; ok {
		return c.Value
	}
	return 0
}

// StateOf reports where a control sits in its hysteresis machine.
func (w *Watchdog) StateOf(name string, now time.Time) State {
	w.mu.RLock()
	defer w.mu.RUnlock()

	c, ok := w.controls[name]
	if !ok {
		return StateIdle
	}
	if !c.LastChange.IsZero() && now.Sub(c.LastChange) < c.Spec.Cooldown {
		return StateCooldown
	}
	if _, ok := c.Window.Consistent(c.Spec.Threshold); ok {
		return StateEligible
	}
	if len(c.Window.Samples) > 0 {
		return StateAccumulating
	}
	return StateIdle
}

// Values snapshots all control values.
func (w *Watchdog) Values() map[string]float64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make(map[string]float64, len(w.controls))
	for name, c := range w.controls {
		out[name] = c.Value
	}
	return out
}

// Persist writes watchdog state atomically.
func (w *Watchdog) Persist() error {
	if w.path == "" {
		return nil
	}

	w.mu.RLock()
	data, err := json.MarshalIndent(w.controls, "", "  ")
	w.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("marshal watchdog state: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(w.path), 0755); err != nil {
		return fmt.Errorf("create watchdog dir: %w", err)
	}
	tempPath := w.path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("write watchdog temp: %w", err)
	}
	return os.Rename(tempPath, w.path)
}

// load restores persisted values, windows and cooldown anchors for
// controls that still exist. Bounds and steps come from the specs.
func (w *Watchdog) load() {
	data, err := os.ReadFile(w.path)
	if err != nil {
		return
	}
	var saved map[string]*control
	if err := json.Unmarshal(data, &saved); err != nil {
		log.Warn().Err(err).Str("path", w.path).Msg("watchdog state unparseable, starting fresh")
		return
	}
	for name, c := range w.controls {
		prev, ok := saved[name]
		if !ok || prev.Window == nil {
			continue
		}
		value := prev.Value
		if value < c.Spec.Lo {
			value = c.Spec.Lo
		}
		if value > c.Spec.Hi {
			value = c.Spec.Hi
		}
		c.Value = value
		c.LastChange = prev.LastChange
		c.Window.Samples = prev.Window.Samples
		if len(c.Window.Samples) > c.Window.Size {
			c.Window.Samples = c.Window.Samples[len(c.Window.Samples)-c.Window.Size:]
		}
	}
}

func signWord(sign int) string {
	if sign > 0 {
		return "positive"
	}
	return "negative"
}
