package main

import (
	"math"

	"mpc-track-core/mpc"
)

// Plant simulates the vehicle with the same kinematic bicycle the planner
// uses, integrated at the scenario step rather than the planning step.
type Plant struct {
	pose  Pose
	ref   mpc.Polynomial
	model mpc.Kinematics
}

func NewPlant(initial Pose, ref mpc.Polynomial, cfg mpc.Config, dt float64) *Plant {
	model := mpc.NewKinematics(cfg, ref)
	model.Dt = dt
	return &Plant{pose: initial, ref: ref, model: model}
}

func (p *Plant) Pose() Pose { return p.pose }

// State reports the pose plus its cross-track and heading errors against
// the reference, in the form the controller consumes.
func (p *Plant) State() mpc.State {
	return mpc.State{
		X:    p.pose.X,
		Y:    p.pose.Y,
		Psi:  p.pose.Psi,
		V:    p.pose.V,
		CTE:  p.ref.Eval(p.pose.X) - p.pose.Y,
		EPsi: normalizeAngle(p.pose.Psi - p.model.DesiredHeading(p.pose.X)),
	}
}

// Step advances the plant by one scenario step under u.
func (p *Plant) Step(u mpc.Actuation) {
	next := p.model.Predict(p.State(), u)
	p.pose = Pose{X: next.X, Y: next.Y, Psi: normalizeAngle(next.Psi), V: next.V}
}

func normalizeAngle(a float64) float64 {
	return math.Remainder(a, 2*math.Pi)
}
