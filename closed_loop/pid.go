package main

import (
	"math"

	"mpc-track-core/mpc"
	"mpc-track-core/utils"
)

// PIDConfig holds PID controller parameters
type PIDConfig struct {
	Kp            float64 `json:"kp"`
	Ki            float64 `json:"ki"`
	Kd            float64 `json:"kd"`
	MaxOutput     float64 `json:"max_output"`
	MinOutput     float64 `json:"min_output"`
	IntegralLimit float64 `json:"integral_limit"`
}

// PIDController is a discrete PID on error = setpoint - measured
type PIDController struct {
	cfg PIDConfig

	// State
	integral    float64
	prevError   float64
	initialized bool
}

func NewPIDController(cfg PIDConfig) *PIDController {
	return &PIDController{cfg: cfg}
}

// Reset clears the PID state
func (pid *PIDController) Reset() {
	pid.integral = 0
	pid.prevError = 0
	pid.initialized = false
}

// Update returns the saturated control output for one step.
func (pid *PIDController) Update(setpoint, measured, dt float64) float64 {
	err := setpoint - measured
	if !pid.initialized {
		// no derivative kick on the first sample
		pid.prevError = err
		pid.initialized = true
	}

	p := pid.cfg.Kp * err

	// Integral term with anti-windup
	pid.integral += err * dt
	pid.integral = utils.ClampFloat(pid.integral, -pid.cfg.IntegralLimit, pid.cfg.IntegralLimit)
	i := pid.cfg.Ki * pid.integral

	var d float64
	if dt > 0 {
		d = pid.cfg.Kd * (err - pid.prevError) / dt
	}

	out := p + i + d
	if out > pid.cfg.MaxOutput || out < pid.cfg.MinOutput {
		out = utils.ClampFloat(out, pid.cfg.MinOutput, pid.cfg.MaxOutput)
		// back-calculate the integral so it does not keep winding
		if pid.cfg.Ki != 0 {
			pid.integral = (out - p - d) / pid.cfg.Ki
		}
	}

	pid.prevError = err
	return out
}

// GetDiagnostics returns current PID state for logging/debugging
func (pid *PIDController) GetDiagnostics() PIDDiagnostics {
	return PIDDiagnostics{
		Error:    pid.prevError,
		Integral: pid.integral,
		P:        pid.cfg.Kp * pid.prevError,
		I:        pid.cfg.Ki * pid.integral,
	}
}

// PIDDiagnostics contains PID internal state for monitoring
type PIDDiagnostics struct {
	Error    float64
	Integral float64
	P        float64
	I        float64
}

// FallbackConfig tunes the two loops used when the MPC plan is degraded.
type FallbackConfig struct {
	Speed       PIDConfig `json:"speed"`        // speed error -> acceleration
	Lateral     PIDConfig `json:"lateral"`      // cross-track error -> steering
	HeadingGain float64   `json:"heading_gain"` // adds -k*epsi to the steering
}

func DefaultFallbackConfig() FallbackConfig {
	return FallbackConfig{
		Speed:       PIDConfig{Kp: 0.2, Ki: 0.02, Kd: 0, IntegralLimit: 20},
		Lateral:     PIDConfig{Kp: 0.08, Ki: 0.005, Kd: 0.02, IntegralLimit: 10},
		HeadingGain: 0.5,
	}
}

// Fallback is a decoupled PID steering/speed controller that stands in for
// the MPC when its plan did not converge.
type Fallback struct {
	speed       *PIDController
	lateral     *PIDController
	headingGain float64
	refSpeed    float64
}

// NewFallback clamps both loops to the MPC actuation limits.
func NewFallback(cfg FallbackConfig, mcfg mpc.Config) *Fallback {
	cfg.Speed.MaxOutput, cfg.Speed.MinOutput = mcfg.MaxAccel, -mcfg.MaxAccel
	cfg.Lateral.MaxOutput, cfg.Lateral.MinOutput = mcfg.MaxSteeringRad, -mcfg.MaxSteeringRad
	return &Fallback{
		speed:       NewPIDController(cfg.Speed),
		lateral:     NewPIDController(cfg.Lateral),
		headingGain: cfg.HeadingGain,
		refSpeed:    mcfg.RefSpeed,
	}
}

// Command computes the fallback actuation for the current state. A positive
// cte (path to the left) steers left; a positive epsi steers right.
func (f *Fallback) Command(s mpc.State, dt float64) mpc.Actuation {
	accel := f.speed.Update(f.refSpeed, s.V, dt)
	steer := f.lateral.Update(s.CTE, 0, dt) - f.headingGain*s.EPsi
	limit := math.Max(math.Abs(f.lateral.cfg.MaxOutput), math.Abs(f.lateral.cfg.MinOutput))
	return mpc.Actuation{
		Steering:     utils.ClampFloat(steer, -limit, limit),
		Acceleration: accel,
	}
}

// Reset clears both loops, e.g. after the MPC recovers.
func (f *Fallback) Reset() {
	f.speed.Reset()
	f.lateral.Reset()
}
