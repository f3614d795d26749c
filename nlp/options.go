package nlp

import "time"

// Method selects the inner unconstrained minimiser.
type Method int

const (
	LBFGS Method = iota
	BFGS
)

func (m Method) String() string {
	if m == BFGS {
		return "bfgs"
	}
	return "lbfgs"
}

// Options configures a solve. Zero fields take the DefaultOptions value,
// except MaxCPUTime where zero means no limit.
type Options struct {
	// PrintLevel 0 keeps iteration logs at trace level.
	PrintLevel int

	// SparseForward evaluates the constraint Jacobian by coloured columns
	// when the problem declares its sparsity. A JacobianProblem always
	// supplies its own partials.
	SparseForward bool
	// SparseReverse forms Jᵀw from the sparse rows instead of a dense matrix.
	SparseReverse bool

	// MaxCPUTime is the wall-clock budget for the whole solve.
	MaxCPUTime time.Duration

	MaxIterations   int // outer (multiplier) iterations
	InnerIterations int // per inner minimisation

	// Tolerance bounds the final constraint violation.
	Tolerance float64
	// OptimalityTolerance bounds the final merit-gradient infinity norm.
	OptimalityTolerance float64

	InitialPenalty float64
	MaxPenalty     float64

	Method Method
}

func DefaultOptions() Options {
	return Options{
		SparseForward:       true,
		SparseReverse:       true,
		MaxIterations:       40,
		InnerIterations:     400,
		Tolerance:           1e-6,
		OptimalityTolerance: 1e-4,
		InitialPenalty:      10,
		MaxPenalty:          1e8,
		Method:              LBFGS,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.MaxIterations <= 0 {
		o.MaxIterations = d.MaxIterations
	}
	if o.InnerIterations <= 0 {
		o.InnerIterations = d.InnerIterations
	}
	if o.Tolerance <= 0 {
		o.Tolerance = d.Tolerance
	}
	if o.OptimalityTolerance <= 0 {
		o.OptimalityTolerance = d.OptimalityTolerance
	}
	if o.InitialPenalty <= 0 {
		o.InitialPenalty = d.InitialPenalty
	}
	if o.MaxPenalty < o.InitialPenalty {
		o.MaxPenalty = d.MaxPenalty
	}
	return o
}
