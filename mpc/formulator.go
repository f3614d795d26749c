package mpc

import (
	"math"

	"mpc-track-core/nlp"
)

// Formulator evaluates the tracking cost and the dynamics constraints over
// the decision vector. It holds no state beyond its fixed inputs, so the
// solver may call it in any order.
type Formulator struct {
	layout   Layout
	model    Kinematics
	weights  Weights
	refSpeed float64
}

var (
	_ nlp.GradientProblem = (*Formulator)(nil)
	_ nlp.JacobianProblem = (*Formulator)(nil)
)

func NewFormulator(layout Layout, cfg Config, ref Polynomial) *Formulator {
	return &Formulator{
		layout:   layout,
		model:    NewKinematics(cfg, ref),
		weights:  cfg.Weights,
		refSpeed: cfg.RefSpeed,
	}
}

func (f *Formulator) NumVars() int        { return f.layout.NumVars() }
func (f *Formulator) NumConstraints() int { return f.layout.NumConstraints() }

// Objective is the weighted sum of tracking, speed, actuation magnitude and
// actuation smoothness terms.
func (f *Formulator) Objective(z []float64) float64 {
	l, w := f.layout, f.weights
	n := l.Horizon()
	var cost float64
	for t := 0; t < n; t++ {
		cte := z[l.Index(ChanCTE, t)]
		epsi := z[l.Index(ChanEPsi, t)]
		dv := z[l.Index(ChanV, t)] - f.refSpeed
		cost += w.CTE*cte*cte + w.EPsi*epsi*epsi + w.Speed*dv*dv
	}
	for t := 0; t < n-1; t++ {
		d := z[l.Index(ChanDelta, t)]
		a := z[l.Index(ChanAccel, t)]
		cost += w.Steer*d*d + w.Accel*a*a
	}
	for t := 0; t < n-2; t++ {
		dd := z[l.Index(ChanDelta, t+1)] - z[l.Index(ChanDelta, t)]
		da := z[l.Index(ChanAccel, t+1)] - z[l.Index(ChanAccel, t)]
		cost += w.SteerRate*dd*dd + w.AccelRate*da*da
	}
	return cost
}

// ObjectiveGradient writes the gradient of Objective at z into dst. Only the
// error, speed and actuation slices carry cost.
func (f *Formulator) ObjectiveGradient(dst, z []float64) {
	l, w := f.layout, f.weights
	n := l.Horizon()
	for i := range dst {
		dst[i] = 0
	}
	for t := 0; t < n; t++ {
		ic, ie, iv := l.Index(ChanCTE, t), l.Index(ChanEPsi, t), l.Index(ChanV, t)
		dst[ic] = 2 * w.CTE * z[ic]
		dst[ie] = 2 * w.EPsi * z[ie]
		dst[iv] = 2 * w.Speed * (z[iv] - f.refSpeed)
	}
	for t := 0; t < n-1; t++ {
		id, ia := l.Index(ChanDelta, t), l.Index(ChanAccel, t)
		dst[id] = 2 * w.Steer * z[id]
		dst[ia] = 2 * w.Accel * z[ia]
	}
	for t := 0; t < n-2; t++ {
		i, j := l.Index(ChanDelta, t), l.Index(ChanDelta, t+1)
		dd := 2 * w.SteerRate * (z[j] - z[i])
		dst[i] -= dd
		dst[j] += dd

		i, j = l.Index(ChanAccel, t), l.Index(ChanAccel, t+1)
		da := 2 * w.AccelRate * (z[j] - z[i])
		dst[i] -= da
		dst[j] += da
	}
}

// Constraints writes the initial-condition rows (the t=0 decision values
// themselves, bounded to the measured state) and the dynamics residuals
// state[t] - Predict(state[t-1], actuation[t-1]).
func (f *Formulator) Constraints(dst, z []float64) {
	l := f.layout
	for _, c := range StateChannels {
		dst[l.ConstraintRow(c, 0)] = z[l.Index(c, 0)]
	}
	prev := l.StateAt(z, 0)
	for t := 1; t < l.Horizon(); t++ {
		cur := l.StateAt(z, t)
		pred := f.model.Predict(prev, l.ActuationAt(z, t-1))
		dst[l.ConstraintRow(ChanX, t)] = cur.X - pred.X
		dst[l.ConstraintRow(ChanY, t)] = cur.Y - pred.Y
		dst[l.ConstraintRow(ChanPsi, t)] = cur.Psi - pred.Psi
		dst[l.ConstraintRow(ChanV, t)] = cur.V - pred.V
		dst[l.ConstraintRow(ChanCTE, t)] = cur.CTE - pred.CTE
		dst[l.ConstraintRow(ChanEPsi, t)] = cur.EPsi - pred.EPsi
		prev = cur
	}
}

// ConstraintSparsity lists the decision variables read by each row.
func (f *Formulator) ConstraintSparsity() [][]int {
	l := f.layout
	rows := make([][]int, l.NumConstraints())
	for _, c := range StateChannels {
		rows[l.ConstraintRow(c, 0)] = []int{l.Index(c, 0)}
	}
	deps := map[Channel][]Channel{
		ChanX:    {ChanX, ChanPsi, ChanV},
		ChanY:    {ChanY, ChanPsi, ChanV},
		ChanPsi:  {ChanPsi, ChanV, ChanDelta},
		ChanV:    {ChanV, ChanAccel},
		ChanCTE:  {ChanX, ChanY, ChanV, ChanEPsi},
		ChanEPsi: {ChanPsi, ChanV, ChanDelta},
	}
	if f.model.Heading == HeadingTangent {
		deps[ChanEPsi] = append(deps[ChanEPsi], ChanX)
	}
	for t := 1; t < l.Horizon(); t++ {
		for _, c := range StateChannels {
			row := []int{l.Index(c, t)}
			for _, d := range deps[c] {
				row = append(row, l.Index(d, t-1))
			}
			rows[l.ConstraintRow(c, t)] = row
		}
	}
	return rows
}

// ConstraintJacobian writes the partials of every row, in the column order
// of ConstraintSparsity. Each row starts with the +1 of its own step-t
// variable.
func (f *Formulator) ConstraintJacobian(vals [][]float64, z []float64) {
	l, k := f.layout, f.model
	dt := k.Dt
	for _, c := range StateChannels {
		vals[l.ConstraintRow(c, 0)][0] = 1
	}
	for t := 1; t < l.Horizon(); t++ {
		s := l.StateAt(z, t-1)
		u := l.ActuationAt(z, t-1)
		sin, cos := math.Sincos(s.Psi)
		sinE, cosE := math.Sincos(s.EPsi)

		r := vals[l.ConstraintRow(ChanX, t)]
		r[0], r[1], r[2], r[3] = 1, -1, s.V*sin*dt, -cos*dt

		r = vals[l.ConstraintRow(ChanY, t)]
		r[0], r[1], r[2], r[3] = 1, -1, -s.V*cos*dt, -sin*dt

		r = vals[l.ConstraintRow(ChanPsi, t)]
		r[0], r[1], r[2], r[3] = 1, -1, -u.Steering/k.Lf*dt, -s.V/k.Lf*dt

		r = vals[l.ConstraintRow(ChanV, t)]
		r[0], r[1], r[2] = 1, -1, -dt

		r = vals[l.ConstraintRow(ChanCTE, t)]
		r[0], r[1], r[2], r[3], r[4] = 1, -k.Ref.Derivative(s.X), 1, -sinE*dt, -s.V*cosE*dt

		r = vals[l.ConstraintRow(ChanEPsi, t)]
		r[0], r[1], r[2], r[3] = 1, -1, -u.Steering/k.Lf*dt, -s.V/k.Lf*dt
		if k.Heading == HeadingTangent {
			r[4] = k.DesiredHeadingSlope(s.X)
		}
	}
}

// Evaluate returns the cost and a fresh constraint vector at z.
func (f *Formulator) Evaluate(z []float64) (float64, []float64) {
	g := make([]float64, f.NumConstraints())
	f.Constraints(g, z)
	return f.Objective(z), g
}
