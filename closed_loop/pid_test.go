package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"mpc-track-core/mpc"
)

func TestPIDController_SaturatesAndUnwinds(t *testing.T) {
	t.Parallel()
	pid := NewPIDController(PIDConfig{Kp: 1, Ki: 1, MaxOutput: 2, MinOutput: -2, IntegralLimit: 100})

	for i := 0; i < 50; i++ {
		assert.LessOrEqual(t, pid.Update(10, 0, 0.1), 2.0)
	}
	// back-calculation keeps the integral at the saturation point instead of
	// letting it grow to 50
	diag := pid.GetDiagnostics()
	assert.InDelta(t, 2-10, diag.Integral, 1e-9)

	// once the error flips the output leaves saturation on the next step
	out := pid.Update(0, 10, 0.1)
	assert.Less(t, out, 0.0)
}

func TestPIDController_NoDerivativeKick(t *testing.T) {
	t.Parallel()
	pid := NewPIDController(PIDConfig{Kd: 1, MaxOutput: 100, MinOutput: -100})
	assert.Zero(t, pid.Update(5, 0, 0.1))

	pid.Reset()
	assert.Zero(t, pid.GetDiagnostics())
	assert.Zero(t, pid.Update(-5, 0, 0.1))
}

func TestFallback_Command(t *testing.T) {
	t.Parallel()
	mcfg := mpc.DefaultConfig()
	mcfg.RefSpeed = 20
	mcfg.MaxSteeringRad = 0.3
	mcfg.MaxAccel = 0.5
	fb := NewFallback(DefaultFallbackConfig(), mcfg)

	// path to the left and too slow: steer left, throttle
	u := fb.Command(mpc.State{V: 10, CTE: 1}, 0.05)
	assert.Greater(t, u.Steering, 0.0)
	assert.Greater(t, u.Acceleration, 0.0)
	assert.LessOrEqual(t, u.Acceleration, 0.5)

	fb.Reset()
	// heading already pointing left of the path: steer right, brake
	u = fb.Command(mpc.State{V: 30, EPsi: 0.2}, 0.05)
	assert.Less(t, u.Steering, 0.0)
	assert.Less(t, u.Acceleration, 0.0)

	fb.Reset()
	u = fb.Command(mpc.State{V: 20, CTE: 500, EPsi: -3}, 0.05)
	assert.Equal(t, 0.3, u.Steering)
}
