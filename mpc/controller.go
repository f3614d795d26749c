package mpc

import (
	"context"
	"fmt"
	"math"
	"time"

	"mpc-track-core/nlp"
	"mpc-track-core/utils"
)

// Result is the outcome of one control cycle.
type Result struct {
	Steering     float64 // rad, first planned steering angle
	Acceleration float64 // first planned acceleration

	// Converged is false when the solver stopped on a time budget, an
	// iteration limit or infeasibility. The actuation is still the solver's
	// best iterate and the caller decides whether to apply it.
	Converged bool
	Cost      float64
	Status    nlp.Status
	Detail    string

	Iterations          int
	ConstraintViolation float64
	SolveTime           time.Duration

	// Solution is the full optimised decision vector.
	Solution []float64
	// PredictedX and PredictedY hold the planned path, for display.
	PredictedX []float64
	PredictedY []float64
}

// Actuation returns the first actuation pair.
func (r Result) Actuation() Actuation {
	return Actuation{Steering: r.Steering, Acceleration: r.Acceleration}
}

// Controller solves the receding-horizon problem once per call. It is not
// safe for concurrent Solve calls.
type Controller struct {
	cfg    Config
	layout Layout
	solver nlp.Solver
	log    *utils.Logger

	cycles int
}

type Option func(*Controller)

// WithSolver replaces the default augmented-Lagrangian backend.
func WithSolver(s nlp.Solver) Option {
	return func(c *Controller) { c.solver = s }
}

func WithLogger(l *utils.Logger) Option {
	return func(c *Controller) { c.log = l }
}

func NewController(cfg Config, opts ...Option) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("mpc config: %w", err)
	}
	layout, err := NewLayout(cfg.Horizon)
	if err != nil {
		return nil, err
	}
	c := &Controller{cfg: cfg, layout: layout}
	for _, o := range opts {
		o(c)
	}
	if c.log == nil {
		c.log = utils.NopLogger()
	}
	if c.solver == nil {
		c.solver = nlp.NewAugmentedLagrangian(c.log)
	}
	return c, nil
}

func (c *Controller) Config() Config { return c.cfg }
func (c *Controller) Layout() Layout { return c.layout }

// Solve plans over the horizon from state = [x, y, psi, v, cte, epsi] along
// the reference polynomial and returns the first actuation pair.
func (c *Controller) Solve(ctx context.Context, state []float64, coeffs []float64) (Result, error) {
	s, err := StateFromSlice(state)
	if err != nil {
		return Result{}, err
	}
	ref, err := NewPolynomial(coeffs)
	if err != nil {
		return Result{}, err
	}
	c.cycles++

	problem := NewFormulator(c.layout, c.cfg, ref)
	bounds := Bounds(c.layout, c.cfg, s)
	z0 := c.layout.InitialGuess(s)

	opts := nlp.DefaultOptions()
	opts.PrintLevel = 0
	opts.SparseForward = true
	opts.SparseReverse = true
	opts.MaxCPUTime = c.cfg.TimeBudget()
	opts.MaxIterations = c.cfg.Solver.MaxIterations
	opts.InnerIterations = c.cfg.Solver.InnerIterations
	opts.Tolerance = c.cfg.Solver.Tolerance

	sol, err := c.solver.Solve(ctx, problem, z0, bounds, opts)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrSolver, err)
	}
	if sol.Status == nlp.Canceled {
		return Result{}, fmt.Errorf("solve canceled: %w", context.Cause(ctx))
	}
	if len(sol.X) != c.layout.NumVars() {
		return Result{}, fmt.Errorf("%w: solution has %d entries, want %d", ErrSolver, len(sol.X), c.layout.NumVars())
	}

	act := Extract(c.layout, sol.X)
	if !isFinite(act.Steering) || !isFinite(act.Acceleration) {
		return Result{}, fmt.Errorf("%w: non-finite actuation (%g, %g), status %s",
			ErrSolver, act.Steering, act.Acceleration, sol.Status)
	}

	res := Result{
		Steering:            act.Steering,
		Acceleration:        act.Acceleration,
		Converged:           sol.Status.Converged(),
		Cost:                sol.ObjValue,
		Status:              sol.Status,
		Iterations:          sol.Iterations,
		ConstraintViolation: sol.ConstraintViolation,
		SolveTime:           sol.Runtime,
		Solution:            sol.X,
		PredictedX:          append([]float64(nil), sol.X[c.layout.Start(ChanX):c.layout.Start(ChanX)+c.layout.Horizon()]...),
		PredictedY:          append([]float64(nil), sol.X[c.layout.Start(ChanY):c.layout.Start(ChanY)+c.layout.Horizon()]...),
	}
	res.Detail = fmt.Sprintf("%s after %d iterations, violation %.2e, cost %.4g",
		sol.Status, sol.Iterations, sol.ConstraintViolation, sol.ObjValue)

	if res.Converged {
		c.log.Debug("mpc cycle %d: steer=%.4f accel=%.4f %s in %s",
			c.cycles, res.Steering, res.Acceleration, res.Detail, res.SolveTime)
	} else {
		c.log.Warn("mpc cycle %d: degraded plan steer=%.4f accel=%.4f %s in %s",
			c.cycles, res.Steering, res.Acceleration, res.Detail, res.SolveTime)
	}
	return res, nil
}

// Extract reads the first steering and acceleration values of a solved
// decision vector; the rest of the plan is discarded.
func Extract(layout Layout, z []float64) Actuation {
	return layout.ActuationAt(z, 0)
}

// InitialResidual is the largest deviation of the t=0 planned state from s.
func InitialResidual(layout Layout, z []float64, s State) float64 {
	var worst float64
	for i, v := range s.Slice() {
		worst = math.Max(worst, math.Abs(z[layout.Index(StateChannels[i], 0)]-v))
	}
	return worst
}
