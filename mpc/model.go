package mpc

import (
	"fmt"
	"math"
)

// State is the vehicle state in the path's local frame.
type State struct {
	X    float64 // m
	Y    float64 // m
	Psi  float64 // heading, rad
	V    float64 // speed
	CTE  float64 // cross-track error
	EPsi float64 // heading error, rad
}

// StateFromSlice reads [x, y, psi, v, cte, epsi].
func StateFromSlice(s []float64) (State, error) {
	if len(s) != NumStates {
		return State{}, fmt.Errorf("%w: got %d values, want %d", ErrInvalidState, len(s), NumStates)
	}
	for i, v := range s {
		if !isFinite(v) {
			return State{}, fmt.Errorf("%w: %s is %g", ErrInvalidState, StateChannels[i], v)
		}
	}
	return State{X: s[0], Y: s[1], Psi: s[2], V: s[3], CTE: s[4], EPsi: s[5]}, nil
}

// Slice returns the state in decision-vector order.
func (s State) Slice() []float64 {
	return []float64{s.X, s.Y, s.Psi, s.V, s.CTE, s.EPsi}
}

// Actuation is one steering/acceleration pair.
type Actuation struct {
	Steering     float64 // rad
	Acceleration float64 // normalised, throttle > 0, brake < 0
}

// Polynomial is a reference path y = c0 + c1*x + c2*x^2 + ...
type Polynomial []float64

// NewPolynomial copies coeffs, lowest order first. At least c0 and c1 are
// required.
func NewPolynomial(coeffs []float64) (Polynomial, error) {
	if len(coeffs) < 2 {
		return nil, fmt.Errorf("%w: got %d coefficients, want at least 2", ErrInvalidCoeffs, len(coeffs))
	}
	for i, c := range coeffs {
		if !isFinite(c) {
			return nil, fmt.Errorf("%w: c%d is %g", ErrInvalidCoeffs, i, c)
		}
	}
	return append(Polynomial(nil), coeffs...), nil
}

// Eval evaluates the polynomial at x by Horner's rule.
func (p Polynomial) Eval(x float64) float64 {
	var y float64
	for i := len(p) - 1; i >= 0; i-- {
		y = y*x + p[i]
	}
	return y
}

// Derivative evaluates dy/dx at x.
func (p Polynomial) Derivative(x float64) float64 {
	var d float64
	for i := len(p) - 1; i >= 1; i-- {
		d = d*x + float64(i)*p[i]
	}
	return d
}

// SecondDerivative evaluates d²y/dx² at x.
func (p Polynomial) SecondDerivative(x float64) float64 {
	var d float64
	for i := len(p) - 1; i >= 2; i-- {
		d = d*x + float64(i*(i-1))*p[i]
	}
	return d
}

// Kinematics is the forward-Euler kinematic bicycle model used for both the
// horizon constraints and the closed-loop plant.
type Kinematics struct {
	Dt      float64
	Lf      float64
	Ref     Polynomial
	Heading HeadingMode
}

func NewKinematics(cfg Config, ref Polynomial) Kinematics {
	return Kinematics{Dt: cfg.DtS, Lf: cfg.LfM, Ref: ref, Heading: cfg.HeadingMode}
}

// DesiredHeading is psides at longitudinal position x.
func (k Kinematics) DesiredHeading(x float64) float64 {
	if k.Heading == HeadingTangent {
		return math.Atan(k.Ref.Derivative(x))
	}
	return math.Atan(k.Ref[1])
}

// DesiredHeadingSlope is d(psides)/dx, zero in linear mode.
func (k Kinematics) DesiredHeadingSlope(x float64) float64 {
	if k.Heading != HeadingTangent {
		return 0
	}
	d := k.Ref.Derivative(x)
	return k.Ref.SecondDerivative(x) / (1 + d*d)
}

// Predict advances s by one step under u.
func (k Kinematics) Predict(s State, u Actuation) State {
	return State{
		X:    s.X + s.V*math.Cos(s.Psi)*k.Dt,
		Y:    s.Y + s.V*math.Sin(s.Psi)*k.Dt,
		Psi:  s.Psi + s.V/k.Lf*u.Steering*k.Dt,
		V:    s.V + u.Acceleration*k.Dt,
		CTE:  (k.Ref.Eval(s.X) - s.Y) + s.V*math.Sin(s.EPsi)*k.Dt,
		EPsi: (s.Psi - k.DesiredHeading(s.X)) + s.V*u.Steering/k.Lf*k.Dt,
	}
}
