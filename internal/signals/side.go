package signals

// Side is a proposed trade direction.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// Sign maps a side to +1 or -1.
func (s Side) Sign() float64 {
	if s == SideShort {
		return -1
	}
	return 1
}

// Alignment compares a signal direction against a proposed side:
// +1 agree, -1 disagree, 0 neutral.
func Alignment(d Direction, side Side) float64 {
	sig := d.Sign()
	if sig == 0 {
		return 0
	}
	if sig == side.Sign() {
		return 1
	}
	return -1
}
