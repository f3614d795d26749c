package mpc

import "mpc-track-core/nlp"

// Bounds builds the variable and constraint bounds for one solve. State
// slices are unbounded except at t=0, where the variables are fixed to the
// measured state so every iterate starts from it. Actuations are limited by
// the configured hardware range, dynamics rows are pinned to zero and the
// six initial-condition rows to the measured state.
func Bounds(layout Layout, cfg Config, s State) nlp.Bounds {
	nv, nc := layout.NumVars(), layout.NumConstraints()
	b := nlp.Bounds{
		VarLower:  make([]float64, nv),
		VarUpper:  make([]float64, nv),
		ConsLower: make([]float64, nc),
		ConsUpper: make([]float64, nc),
	}

	for i := 0; i < layout.Start(ChanDelta); i++ {
		b.VarLower[i] = -nlp.Infinity
		b.VarUpper[i] = nlp.Infinity
	}
	for i := layout.Start(ChanDelta); i < layout.Start(ChanAccel); i++ {
		b.VarLower[i] = -cfg.MaxSteeringRad
		b.VarUpper[i] = cfg.MaxSteeringRad
	}
	for i := layout.Start(ChanAccel); i < nv; i++ {
		b.VarLower[i] = -cfg.MaxAccel
		b.VarUpper[i] = cfg.MaxAccel
	}

	for i, v := range s.Slice() {
		c := StateChannels[i]
		b.VarLower[layout.Index(c, 0)] = v
		b.VarUpper[layout.Index(c, 0)] = v
		row := layout.ConstraintRow(c, 0)
		b.ConsLower[row] = v
		b.ConsUpper[row] = v
	}
	return b
}
