package mpc

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"
)

// HeadingMode selects how the reference heading psides is derived from the
// reference polynomial.
type HeadingMode string

const (
	// HeadingLinear uses atan(c1), the slope of the fit at the origin.
	HeadingLinear HeadingMode = "linear"
	// HeadingTangent uses atan(f'(x)) along the predicted trajectory.
	HeadingTangent HeadingMode = "tangent"
)

// Weights scales each cost term.
type Weights struct {
	CTE       float64 `json:"cte"`
	EPsi      float64 `json:"epsi"`
	Speed     float64 `json:"speed"`
	Steer     float64 `json:"steer"`
	Accel     float64 `json:"accel"`
	SteerRate float64 `json:"steer_rate"`
	AccelRate float64 `json:"accel_rate"`
}

// SolverConfig holds the iteration limits passed through to the NLP solver.
type SolverConfig struct {
	MaxIterations   int     `json:"max_iterations"`
	InnerIterations int     `json:"inner_iterations"`
	Tolerance       float64 `json:"tolerance"`
}

// Config holds the MPC parameters
type Config struct {
	Horizon  int     `json:"horizon"`
	DtS      float64 `json:"dt_s"`
	RefSpeed float64 `json:"ref_speed"`
	LfM      float64 `json:"lf_m"`

	MaxSteeringRad float64 `json:"max_steering_rad"`
	MaxAccel       float64 `json:"max_accel"`

	// SolverTimeBudgetS is the wall-clock budget per solve; 0 disables it.
	SolverTimeBudgetS float64 `json:"solver_time_budget_s"`

	HeadingMode HeadingMode  `json:"heading_mode"`
	Weights     Weights      `json:"weights"`
	Solver      SolverConfig `json:"solver"`
}

func DefaultConfig() Config {
	return Config{
		Horizon:           25,
		DtS:               0.05,
		RefSpeed:          40,
		LfM:               2.67,
		MaxSteeringRad:    1.0,
		MaxAccel:          1.0,
		SolverTimeBudgetS: 0.5,
		HeadingMode:       HeadingLinear,
		Weights: Weights{
			CTE: 1, EPsi: 1, Speed: 1,
			Steer: 1, Accel: 1,
			SteerRate: 1, AccelRate: 1,
		},
		Solver: SolverConfig{
			MaxIterations:   40,
			InnerIterations: 400,
			Tolerance:       1e-6,
		},
	}
}

// TimeBudget returns the solver budget as a duration.
func (c Config) TimeBudget() time.Duration {
	return time.Duration(c.SolverTimeBudgetS * float64(time.Second))
}

const maxConfigSize = 1 << 20

// LoadConfig reads a JSON config file over DefaultConfig, so fields omitted
// from the file keep their default values.
func LoadConfig(path string) (Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return Config{}, fmt.Errorf("config file must have .json extension, got %q", ext)
	}
	info, err := os.Stat(cleanPath)
	if err != nil {
		return Config{}, fmt.Errorf("stat config: %w", err)
	}
	if info.Size() > maxConfigSize {
		return Config{}, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigSize)
	}
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate rejects configurations the formulation cannot use.
func (c Config) Validate() error {
	if c.Horizon < 3 {
		return fmt.Errorf("horizon must be at least 3, got %d", c.Horizon)
	}
	positive := []struct {
		name string
		v    float64
	}{
		{"dt_s", c.DtS},
		{"lf_m", c.LfM},
		{"max_steering_rad", c.MaxSteeringRad},
		{"max_accel", c.MaxAccel},
	}
	for _, p := range positive {
		if !(p.v > 0) || math.IsInf(p.v, 0) {
			return fmt.Errorf("%s must be positive and finite, got %g", p.name, p.v)
		}
	}
	if !isFinite(c.RefSpeed) {
		return fmt.Errorf("ref_speed must be finite, got %g", c.RefSpeed)
	}
	if !(c.SolverTimeBudgetS >= 0) || math.IsInf(c.SolverTimeBudgetS, 0) {
		return fmt.Errorf("solver_time_budget_s must be >= 0, got %g", c.SolverTimeBudgetS)
	}
	switch c.HeadingMode {
	case HeadingLinear, HeadingTangent:
	default:
		return fmt.Errorf("heading_mode must be %q or %q, got %q", HeadingLinear, HeadingTangent, c.HeadingMode)
	}

	w := c.Weights
	weights := []struct {
		name string
		v    float64
	}{
		{"cte", w.CTE}, {"epsi", w.EPsi}, {"speed", w.Speed},
		{"steer", w.Steer}, {"accel", w.Accel},
		{"steer_rate", w.SteerRate}, {"accel_rate", w.AccelRate},
	}
	for _, p := range weights {
		if !(p.v >= 0) || math.IsInf(p.v, 0) {
			return fmt.Errorf("weights.%s must be >= 0 and finite, got %g", p.name, p.v)
		}
	}

	if c.Solver.MaxIterations < 0 || c.Solver.InnerIterations < 0 {
		return fmt.Errorf("solver iteration limits must be >= 0")
	}
	if !(c.Solver.Tolerance >= 0) || math.IsInf(c.Solver.Tolerance, 0) {
		return fmt.Errorf("solver.tolerance must be >= 0, got %g", c.Solver.Tolerance)
	}
	return nil
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
