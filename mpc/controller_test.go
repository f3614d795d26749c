package mpc

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mpc-track-core/nlp"
	"mpc-track-core/utils"
)

// scriptedSolver returns a canned result and records what it was given.
type scriptedSolver struct {
	result func(x0 []float64) nlp.Result
	err    error

	gotOpts   nlp.Options
	gotBounds nlp.Bounds
	calls     int
}

func (s *scriptedSolver) Solve(ctx context.Context, p nlp.Problem, x0 []float64, b nlp.Bounds, opts nlp.Options) (nlp.Result, error) {
	s.calls++
	s.gotOpts = opts
	s.gotBounds = b
	if s.err != nil {
		return nlp.Result{}, s.err
	}
	return s.result(x0), nil
}

func TestSolve_StraightLine(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	c, err := NewController(cfg)
	require.NoError(t, err)

	res, err := c.Solve(context.Background(), []float64{0, 0, 0, 20, 0, 0}, []float64{0, 0})
	require.NoError(t, err)
	require.True(t, res.Converged, res.Detail)
	assert.Less(t, res.SolveTime, cfg.TimeBudget())

	assert.InDelta(t, 0.0, res.Steering, 1e-3, res.Detail)
	assert.Greater(t, res.Acceleration, 0.0)
	assert.LessOrEqual(t, res.Acceleration, 1.0)
	assert.Len(t, res.PredictedX, 25)
	assert.Len(t, res.PredictedY, 25)
	// moving forward along +x
	assert.Greater(t, res.PredictedX[24], res.PredictedX[0])
}

func TestSolve_LateralCorrection(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	c, err := NewController(cfg)
	require.NoError(t, err)
	state := []float64{0, -2, 0, 20, 2, 0}

	res, err := c.Solve(context.Background(), state, []float64{0, 0})
	require.NoError(t, err)
	require.True(t, res.Converged, res.Detail)
	assert.Less(t, res.SolveTime, cfg.TimeBudget())

	// the path is at y=0, to the vehicle's left: steer left (positive)
	assert.Greater(t, res.Steering, 0.0)
	assert.LessOrEqual(t, res.Steering, cfg.MaxSteeringRad)
	assert.GreaterOrEqual(t, res.Acceleration, -cfg.MaxAccel)
	assert.LessOrEqual(t, res.Acceleration, cfg.MaxAccel)

	s, err := StateFromSlice(state)
	require.NoError(t, err)
	assert.Zero(t, InitialResidual(c.Layout(), res.Solution, s))
}

func TestSolve_Deterministic(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name   string
		state  []float64
		coeffs []float64
	}{
		{"offset", []float64{0, -2, 0, 20, 2, 0}, []float64{0, 0}},
		{"curved", []float64{0, 1, 0.3, 35, -1, 0.2}, []float64{0, 0.05, 0.01, -0.001}},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			c, err := NewController(DefaultConfig())
			require.NoError(t, err)
			fresh, err := NewController(DefaultConfig())
			require.NoError(t, err)

			var results []Result
			for _, ctrl := range []*Controller{c, c, fresh} {
				res, err := ctrl.Solve(context.Background(), tc.state, tc.coeffs)
				require.NoError(t, err)
				require.True(t, res.Converged, res.Detail)
				results = append(results, res)
			}
			for _, res := range results[1:] {
				assert.InDelta(t, results[0].Steering, res.Steering, 1e-6)
				assert.InDelta(t, results[0].Acceleration, res.Acceleration, 1e-6)
				if diff := cmp.Diff(results[0].Solution, res.Solution, cmpopts.EquateApprox(0, 1e-6)); diff != "" {
					t.Errorf("plans differ (-first +later):\n%s", diff)
				}
			}
		})
	}
}

func TestSolve_InitialStateHeldOnEverySolve(t *testing.T) {
	t.Parallel()
	states := [][]float64{
		{0, 0, 0, 20, 0, 0},
		{0, -2, 0, 20, 2, 0},
		{0, 1, 0.3, 35, -1, 0.2},
	}
	converged := DefaultConfig()
	cut := DefaultConfig()
	cut.Solver.MaxIterations = 1
	cut.Solver.InnerIterations = 3
	short := DefaultConfig()
	short.SolverTimeBudgetS = 0.001

	for name, cfg := range map[string]Config{"default": converged, "iteration limit": cut, "short budget": short} {
		c, err := NewController(cfg)
		require.NoError(t, err)
		for _, state := range states {
			res, err := c.Solve(context.Background(), state, []float64{0, 0.05, 0.01})
			require.NoError(t, err, name)
			s, err := StateFromSlice(state)
			require.NoError(t, err)
			assert.Zero(t, InitialResidual(c.Layout(), res.Solution, s), "%s %v: %s", name, state, res.Detail)

			switch name {
			case "default":
				assert.True(t, res.Converged, res.Detail)
			case "iteration limit":
				assert.False(t, res.Converged)
				assert.Equal(t, nlp.MaxIterations, res.Status)
			}
		}
	}
}

func TestSolve_BoundsAndInitialState(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.Horizon = 12
	cfg.MaxSteeringRad = 0.05
	cfg.MaxAccel = 0.3
	c, err := NewController(cfg)
	require.NoError(t, err)

	cases := [][]float64{
		{0, -3, 0, 10, 3, 0},
		{0, 1, 0.2, 30, -1, 0.15},
		{2, 0, -0.1, 5, 0, -0.1},
	}
	for _, state := range cases {
		res, err := c.Solve(context.Background(), state, []float64{0, 0.02, 0.001})
		require.NoError(t, err)

		assert.LessOrEqual(t, math.Abs(res.Steering), cfg.MaxSteeringRad)
		assert.LessOrEqual(t, math.Abs(res.Acceleration), cfg.MaxAccel)
		l := c.Layout()
		for tt := 0; tt < l.Len(ChanDelta); tt++ {
			u := l.ActuationAt(res.Solution, tt)
			assert.LessOrEqual(t, math.Abs(u.Steering), cfg.MaxSteeringRad)
			assert.LessOrEqual(t, math.Abs(u.Acceleration), cfg.MaxAccel)
		}
		s, err := StateFromSlice(state)
		require.NoError(t, err)
		assert.Zero(t, InitialResidual(l, res.Solution, s))
	}
}

func TestSolve_InputValidation(t *testing.T) {
	t.Parallel()
	solver := &scriptedSolver{}
	c, err := NewController(DefaultConfig(), WithSolver(solver))
	require.NoError(t, err)
	ctx := context.Background()

	_, err = c.Solve(ctx, []float64{0, 0, 0, 20, 0}, []float64{0, 0})
	assert.ErrorIs(t, err, ErrInvalidState)
	_, err = c.Solve(ctx, []float64{0, 0, math.Inf(1), 20, 0, 0}, []float64{0, 0})
	assert.ErrorIs(t, err, ErrInvalidState)
	_, err = c.Solve(ctx, []float64{0, 0, 0, 20, 0, 0}, []float64{0})
	assert.ErrorIs(t, err, ErrInvalidCoeffs)
	_, err = c.Solve(ctx, []float64{0, 0, 0, 20, 0, 0}, []float64{0, math.NaN()})
	assert.ErrorIs(t, err, ErrInvalidCoeffs)

	assert.Zero(t, solver.calls, "invalid input must be rejected before solving")
}

func TestSolve_PassesSolverOptions(t *testing.T) {
	t.Parallel()
	solver := &scriptedSolver{result: func(x0 []float64) nlp.Result {
		return nlp.Result{Status: nlp.Success, X: x0}
	}}
	cfg := DefaultConfig()
	c, err := NewController(cfg, WithSolver(solver), WithLogger(utils.NopLogger()))
	require.NoError(t, err)

	_, err = c.Solve(context.Background(), []float64{1, 2, 3, 4, 5, 6}, []float64{0, 0})
	require.NoError(t, err)

	assert.Equal(t, 0, solver.gotOpts.PrintLevel)
	assert.True(t, solver.gotOpts.SparseForward)
	assert.True(t, solver.gotOpts.SparseReverse)
	assert.Equal(t, cfg.TimeBudget(), solver.gotOpts.MaxCPUTime)
	assert.Equal(t, cfg.Solver.Tolerance, solver.gotOpts.Tolerance)
	assert.Len(t, solver.gotBounds.VarLower, c.Layout().NumVars())
}

func TestSolve_TimeLimitIsNotAnError(t *testing.T) {
	t.Parallel()
	solver := &scriptedSolver{result: func(x0 []float64) nlp.Result {
		z := append([]float64(nil), x0...)
		l, _ := NewLayout(25)
		z[l.Index(ChanDelta, 0)] = 0.12
		z[l.Index(ChanAccel, 0)] = -0.4
		return nlp.Result{Status: nlp.TimeLimit, X: z, ObjValue: 123, Iterations: 3}
	}}
	c, err := NewController(DefaultConfig(), WithSolver(solver))
	require.NoError(t, err)

	res, err := c.Solve(context.Background(), []float64{0, 0, 0, 20, 0, 0}, []float64{0, 0})
	require.NoError(t, err)
	assert.False(t, res.Converged)
	assert.Equal(t, nlp.TimeLimit, res.Status)
	assert.Contains(t, res.Detail, "time_limit")
	assert.Equal(t, Actuation{Steering: 0.12, Acceleration: -0.4}, res.Actuation())
	assert.Equal(t, 123.0, res.Cost)
}

func TestSolve_SolverFailures(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	state := []float64{0, 0, 0, 20, 0, 0}

	boom := errors.New("backend exploded")
	c, err := NewController(DefaultConfig(), WithSolver(&scriptedSolver{err: boom}))
	require.NoError(t, err)
	_, err = c.Solve(ctx, state, []float64{0, 0})
	assert.ErrorIs(t, err, ErrSolver)
	assert.ErrorIs(t, err, boom)

	c, err = NewController(DefaultConfig(), WithSolver(&scriptedSolver{result: func(x0 []float64) nlp.Result {
		z := append([]float64(nil), x0...)
		l, _ := NewLayout(25)
		z[l.Index(ChanDelta, 0)] = math.NaN()
		return nlp.Result{Status: nlp.InvalidNumber, X: z}
	}}))
	require.NoError(t, err)
	_, err = c.Solve(ctx, state, []float64{0, 0})
	assert.ErrorIs(t, err, ErrSolver)

	c, err = NewController(DefaultConfig(), WithSolver(&scriptedSolver{result: func([]float64) nlp.Result {
		return nlp.Result{Status: nlp.Success, X: []float64{1, 2}}
	}}))
	require.NoError(t, err)
	_, err = c.Solve(ctx, state, []float64{0, 0})
	assert.ErrorIs(t, err, ErrSolver)
}

func TestSolve_Canceled(t *testing.T) {
	t.Parallel()
	c, err := NewController(DefaultConfig())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = c.Solve(ctx, []float64{0, 0, 0, 20, 0, 0}, []float64{0, 0})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewController_RejectsBadConfig(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.LfM = 0
	_, err := NewController(cfg)
	assert.ErrorContains(t, err, "lf_m")
}
