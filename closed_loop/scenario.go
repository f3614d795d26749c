package main

import (
	"encoding/json"
	"fmt"
	"math"
	"os"

	"mpc-track-core/mpc"
)

// Fallback policies applied when a plan is not converged.
const (
	PolicyApply = "apply" // send the solver's best iterate anyway
	PolicyHold  = "hold"  // repeat the last converged command
	PolicyPID   = "pid"   // hand over to the PID fallback
)

// Scenario defines a complete closed-loop run. mpc_config and fallback_pid
// override individual fields of their defaults.
type Scenario struct {
	Meta            ScenarioMeta   `json:"meta"`
	Timing          ScenarioTiming `json:"timing"`
	InitialPose     Pose           `json:"initial_pose"`
	ReferenceCoeffs []float64      `json:"reference_coeffs"`
	MPC             mpc.Config     `json:"mpc_config"`
	FallbackPID     FallbackConfig `json:"fallback_pid"`
}

// ScenarioMeta contains scenario metadata
type ScenarioMeta struct {
	Name           string `json:"name"`
	Version        int    `json:"version"`
	Description    string `json:"description"`
	FallbackPolicy string `json:"fallback_policy,omitempty"`
}

// ScenarioTiming defines timing parameters
type ScenarioTiming struct {
	DtS          float64 `json:"dt_s"`
	DurationS    float64 `json:"duration_s"`
	RealTimeMode bool    `json:"real_time_mode"`
}

// Steps is the number of control cycles in the run.
func (t ScenarioTiming) Steps() int {
	return int(math.Round(t.DurationS / t.DtS))
}

// Pose is the simulated vehicle pose in the reference frame.
type Pose struct {
	X   float64 `json:"x"`
	Y   float64 `json:"y"`
	Psi float64 `json:"psi"`
	V   float64 `json:"v"`
}

// LoadScenario loads a scenario from JSON file
func LoadScenario(path string) (Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Scenario{}, fmt.Errorf("read file: %w", err)
	}

	scen := Scenario{
		MPC:         mpc.DefaultConfig(),
		FallbackPID: DefaultFallbackConfig(),
	}
	if err := json.Unmarshal(data, &scen); err != nil {
		return Scenario{}, fmt.Errorf("unmarshal: %w", err)
	}
	if scen.Meta.FallbackPolicy == "" {
		scen.Meta.FallbackPolicy = PolicyApply
	}
	if err := scen.Validate(); err != nil {
		return Scenario{}, err
	}
	return scen, nil
}

func (s Scenario) Validate() error {
	if s.Timing.DtS <= 0 || math.IsInf(s.Timing.DtS, 0) || math.IsNaN(s.Timing.DtS) {
		return fmt.Errorf("invalid dt_s: %f", s.Timing.DtS)
	}
	if s.Timing.DurationS <= 0 || math.IsInf(s.Timing.DurationS, 0) || math.IsNaN(s.Timing.DurationS) {
		return fmt.Errorf("invalid duration_s: %f", s.Timing.DurationS)
	}
	if s.Timing.Steps() < 1 {
		return fmt.Errorf("duration_s %.3f shorter than one dt_s step", s.Timing.DurationS)
	}

	switch s.Meta.FallbackPolicy {
	case PolicyApply, PolicyHold, PolicyPID:
	default:
		return fmt.Errorf("unknown fallback_policy %q", s.Meta.FallbackPolicy)
	}

	if _, err := mpc.NewPolynomial(s.ReferenceCoeffs); err != nil {
		return fmt.Errorf("reference_coeffs: %w", err)
	}
	pose := []struct {
		name string
		v    float64
	}{{"x", s.InitialPose.X}, {"y", s.InitialPose.Y}, {"psi", s.InitialPose.Psi}, {"v", s.InitialPose.V}}
	for _, p := range pose {
		if math.IsNaN(p.v) || math.IsInf(p.v, 0) {
			return fmt.Errorf("initial_pose.%s is %g", p.name, p.v)
		}
	}
	if err := s.MPC.Validate(); err != nil {
		return fmt.Errorf("mpc_config: %w", err)
	}
	return nil
}
