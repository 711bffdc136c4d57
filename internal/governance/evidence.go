package governance

import (
	"time"
)

// Sample is one signed, bounded pressure observation for a control.
type Sample struct {
	At       time.Time `json:"at"`
	Pressure float64   `json:"pressure"` // [-1, 1]
}

// EvidenceWindow is a bounded FIFO of pressure samples. Its size is the
// minimum number of evaluation cycles (nights) evidence must persist.
type EvidenceWindow struct {
	Size    int      `json:"size"`
	Samples []Sample `json:"samples"`
}

// NewEvidenceWindow creates a window of the given size (minimum 1).
func NewEvidenceWindow(size int) *EvidenceWindow {
	if size < 1 {
		size = 1
	}
	return &EvidenceWindow{Size: size}
}

// Add appends a sample, evicting the oldest when full.
func (w *EvidenceWindow) Add(s Sample) {
	w.Samples = append(w.Samples, s)
	if len(w.Samples) > w.Size {
		w.Samples = w.Samples[len(w.Samples)-w.Size:]
	}
}

// Full reports whether the window holds Size samples.
func (w *EvidenceWindow) Full() bool {
	return len(w.Samples) >= w.Size
}

// Consistent reports the shared sign (+1/-1) if every sample in the
// full window exceeds the magnitude threshold with the same sign. A
// single dissenting or weak sample anywhere voids eligibility.
func (w *EvidenceWindow) Consistent(threshold float64) (int, bool) {
	if !w.Full() {
		return 0, false
	}
	sign := 0
	for _, s := range w.Samples {
		var cur int
		switch {
		case s.Pressure > threshold:
			cur = 1
		case s.Pressure < -threshold:
			cur = -1
		default:
			return 0, false
		}
		if sign == 0 {
			sign = cur
		} else if sign != cur {
			return 0, false
		}
	}
	return sign, true
}
