package nlp

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// Infinity is the bound magnitude treated as "unbounded".
const Infinity = 1e19

// ErrDimension is returned when vectors handed to Solve disagree with the
// problem dimensions.
var ErrDimension = errors.New("nlp: dimension mismatch")

// ErrBounds is returned for crossed or NaN bounds.
var ErrBounds = errors.New("nlp: invalid bounds")

// Problem evaluates the objective and the constraint functions. Both methods
// must be pure functions of x and must not retain or modify it.
type Problem interface {
	NumVars() int
	NumConstraints() int
	Objective(x []float64) float64
	Constraints(dst, x []float64)
}

// SparseProblem additionally reports, for every constraint row, the indices
// of the variables that row depends on.
type SparseProblem interface {
	Problem
	ConstraintSparsity() [][]int
}

// GradientProblem supplies the objective gradient. Problems that do not
// implement it are differenced.
type GradientProblem interface {
	Problem
	ObjectiveGradient(dst, x []float64)
}

// JacobianProblem supplies the nonzero constraint partials. vals[r][k] is
// the derivative of row r with respect to variable ConstraintSparsity()[r][k].
type JacobianProblem interface {
	SparseProblem
	ConstraintJacobian(vals [][]float64, x []float64)
}

// Solver is the capability the controller depends on.
type Solver interface {
	Solve(ctx context.Context, p Problem, x0 []float64, b Bounds, opts Options) (Result, error)
}

// Bounds holds the variable and constraint bound vectors.
type Bounds struct {
	VarLower  []float64
	VarUpper  []float64
	ConsLower []float64
	ConsUpper []float64
}

func (b Bounds) validate(n, m int) error {
	if len(b.VarLower) != n || len(b.VarUpper) != n {
		return fmt.Errorf("%w: variable bounds have %d/%d entries, want %d",
			ErrDimension, len(b.VarLower), len(b.VarUpper), n)
	}
	if len(b.ConsLower) != m || len(b.ConsUpper) != m {
		return fmt.Errorf("%w: constraint bounds have %d/%d entries, want %d",
			ErrDimension, len(b.ConsLower), len(b.ConsUpper), m)
	}
	for i := range b.VarLower {
		if err := checkPair(b.VarLower[i], b.VarUpper[i]); err != nil {
			return fmt.Errorf("variable %d: %w", i, err)
		}
	}
	for i := range b.ConsLower {
		if err := checkPair(b.ConsLower[i], b.ConsUpper[i]); err != nil {
			return fmt.Errorf("constraint %d: %w", i, err)
		}
	}
	return nil
}

func checkPair(lo, hi float64) error {
	if math.IsNaN(lo) || math.IsNaN(hi) {
		return fmt.Errorf("%w: NaN bound", ErrBounds)
	}
	if lo > hi {
		return fmt.Errorf("%w: lower %g above upper %g", ErrBounds, lo, hi)
	}
	return nil
}

func hasLower(lo float64) bool { return lo > -Infinity }
func hasUpper(hi float64) bool { return hi < Infinity }

// Result is what a Solver hands back.
type Result struct {
	Status Status
	// X is the final iterate. It is populated for every status, including
	// TimeLimit and MaxIterations.
	X []float64
	// G holds the constraint values at X.
	G        []float64
	ObjValue float64

	Iterations          int // outer iterations
	InnerIterations     int
	ConstraintViolation float64 // max bound violation of G at X
	Runtime             time.Duration
}
