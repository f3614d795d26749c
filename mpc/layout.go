package mpc

import "fmt"

// Channel names one named slice of the decision vector.
type Channel int

const (
	ChanX Channel = iota
	ChanY
	ChanPsi
	ChanV
	ChanCTE
	ChanEPsi
	ChanDelta
	ChanAccel
)

// NumStates is the number of state channels; the two actuation channels
// follow them.
const NumStates = 6

var channelNames = [...]string{"x", "y", "psi", "v", "cte", "epsi", "delta", "a"}

func (c Channel) String() string {
	if c < 0 || int(c) >= len(channelNames) {
		return fmt.Sprintf("channel(%d)", int(c))
	}
	return channelNames[c]
}

// StateChannels lists the state channels in decision-vector order.
var StateChannels = [NumStates]Channel{ChanX, ChanY, ChanPsi, ChanV, ChanCTE, ChanEPsi}

// Layout maps the flat decision vector onto its named slices for a fixed
// horizon. It is immutable once built and safe to share.
type Layout struct {
	n     int
	start [ChanAccel + 1]int
}

// NewLayout computes the slice offsets for an n-step horizon.
func NewLayout(n int) (Layout, error) {
	if n < 3 {
		return Layout{}, fmt.Errorf("horizon must be at least 3, got %d", n)
	}
	var l Layout
	l.n = n
	off := 0
	for c := ChanX; c <= ChanAccel; c++ {
		l.start[c] = off
		off += l.Len(c)
	}
	return l, nil
}

// Horizon is N, the number of state steps.
func (l Layout) Horizon() int { return l.n }

// Len is the length of a channel's slice: N for states, N-1 for actuations.
func (l Layout) Len(c Channel) int {
	if c >= ChanDelta {
		return l.n - 1
	}
	return l.n
}

// Start is the offset of channel c's first entry.
func (l Layout) Start(c Channel) int { return l.start[c] }

// Index is the position of step t of channel c in the decision vector.
func (l Layout) Index(c Channel, t int) int { return l.start[c] + t }

// NumVars is N*6 + (N-1)*2.
func (l Layout) NumVars() int { return l.n*NumStates + (l.n-1)*2 }

// NumConstraints is N*6.
func (l Layout) NumConstraints() int { return l.n * NumStates }

// ConstraintRow is the constraint index for state channel c at step t. Row
// t=0 holds the initial condition.
func (l Layout) ConstraintRow(c Channel, t int) int { return int(c)*l.n + t }

// InitialGuess is the cold start: the measured state at t=0 of each state
// slice and zero everywhere else.
func (l Layout) InitialGuess(s State) []float64 {
	z := make([]float64, l.NumVars())
	l.setState(z, 0, s)
	return z
}

// StateAt reads the planned state at step t.
func (l Layout) StateAt(z []float64, t int) State {
	return State{
		X:    z[l.Index(ChanX, t)],
		Y:    z[l.Index(ChanY, t)],
		Psi:  z[l.Index(ChanPsi, t)],
		V:    z[l.Index(ChanV, t)],
		CTE:  z[l.Index(ChanCTE, t)],
		EPsi: z[l.Index(ChanEPsi, t)],
	}
}

// ActuationAt reads the planned actuation at step t, t < N-1.
func (l Layout) ActuationAt(z []float64, t int) Actuation {
	return Actuation{
		Steering:     z[l.Index(ChanDelta, t)],
		Acceleration: z[l.Index(ChanAccel, t)],
	}
}

func (l Layout) setState(z []float64, t int, s State) {
	for i, v := range s.Slice() {
		z[l.Index(StateChannels[i], t)] = v
	}
}
