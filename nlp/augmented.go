package nlp

import (
	"context"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/optimize"

	"mpc-track-core/utils"
)

// AugmentedLagrangian is a Solver that minimises the bound-constrained
// augmented Lagrangian with a gonum quasi-Newton method and updates the
// multipliers between inner solves.
type AugmentedLagrangian struct {
	log *utils.Logger
}

func NewAugmentedLagrangian(log *utils.Logger) *AugmentedLagrangian {
	if log == nil {
		log = utils.NopLogger()
	}
	return &AugmentedLagrangian{log: log}
}

type rowKind uint8

const (
	rowFree rowKind = iota
	rowEquality
	rowRange
)

// merit holds the multiplier state of one solve and evaluates the augmented
// Lagrangian and its gradient in the unconstrained variables.
type merit struct {
	p       Problem
	vm      *varMap
	jac     jacobian
	objGrad func(dst, x []float64)
	b       Bounds

	kind       []rowKind
	lam        []float64 // equality rows
	muLo, muHi []float64 // range rows and one-sided variables (indexed by row / variable)
	vLo, vHi   []float64
	rho        float64

	x, g, gx, w, jw []float64
}

func newMerit(p Problem, b Bounds, vm *varMap, jac jacobian) *merit {
	n, m := p.NumVars(), p.NumConstraints()
	mr := &merit{
		p: p, vm: vm, jac: jac, b: b,
		kind: make([]rowKind, m),
		lam:  make([]float64, m),
		muLo: make([]float64, m),
		muHi: make([]float64, m),
		vLo:  make([]float64, n),
		vHi:  make([]float64, n),
		x:    make([]float64, n),
		g:    make([]float64, m),
		gx:   make([]float64, n),
		w:    make([]float64, m),
		jw:   make([]float64, n),
	}
	if gp, ok := p.(GradientProblem); ok {
		mr.objGrad = gp.ObjectiveGradient
	} else {
		mr.objGrad = func(dst, x []float64) {
			fd.Gradient(dst, p.Objective, x, &fd.Settings{Formula: fd.Central})
		}
	}
	for r := 0; r < m; r++ {
		lo, hi := b.ConsLower[r], b.ConsUpper[r]
		switch {
		case hasLower(lo) && hasUpper(hi) && lo == hi:
			mr.kind[r] = rowEquality
		case hasLower(lo) || hasUpper(hi):
			mr.kind[r] = rowRange
		}
	}
	return mr
}

// phr is the Powell-Hestenes-Rockafellar term for c(x) <= 0 and its
// derivative with respect to c.
func phr(mu, c, rho float64) (float64, float64) {
	t := math.Max(0, mu+rho*c)
	return (t*t - mu*mu) / (2 * rho), t
}

func (mr *merit) evalX(u []float64) bool {
	mr.vm.toX(mr.x, u)
	mr.p.Constraints(mr.g, mr.x)
	return allFinite(mr.g)
}

// penalty returns the multiplier terms at mr.x/mr.g and fills the row weights
// w = dP/dg.
func (mr *merit) penalty() float64 {
	var sum float64
	for r, k := range mr.kind {
		mr.w[r] = 0
		switch k {
		case rowEquality:
			h := mr.g[r] - mr.b.ConsLower[r]
			sum += mr.lam[r]*h + mr.rho/2*h*h
			mr.w[r] = mr.lam[r] + mr.rho*h
		case rowRange:
			if lo := mr.b.ConsLower[r]; hasLower(lo) {
				v, d := phr(mr.muLo[r], lo-mr.g[r], mr.rho)
				sum += v
				mr.w[r] -= d
			}
			if hi := mr.b.ConsUpper[r]; hasUpper(hi) {
				v, d := phr(mr.muHi[r], mr.g[r]-hi, mr.rho)
				sum += v
				mr.w[r] += d
			}
		}
	}
	for _, i := range mr.vm.oneSided {
		if lo := mr.b.VarLower[i]; hasLower(lo) {
			v, _ := phr(mr.vLo[i], lo-mr.x[i], mr.rho)
			sum += v
		}
		if hi := mr.b.VarUpper[i]; hasUpper(hi) {
			v, _ := phr(mr.vHi[i], mr.x[i]-hi, mr.rho)
			sum += v
		}
	}
	return sum
}

func (mr *merit) Func(u []float64) float64 {
	if !mr.evalX(u) {
		return math.Inf(1)
	}
	f := mr.p.Objective(mr.x)
	v := f + mr.penalty()
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return math.Inf(1)
	}
	return v
}

func (mr *merit) Grad(grad, u []float64) {
	if !mr.evalX(u) {
		zero(grad)
		return
	}
	mr.penalty()
	mr.objGrad(mr.gx, mr.x)
	mr.jac.eval(mr.x)
	mr.jac.mulTrans(mr.jw, mr.w)
	floats.Add(mr.gx, mr.jw)
	for _, i := range mr.vm.oneSided {
		if lo := mr.b.VarLower[i]; hasLower(lo) {
			_, d := phr(mr.vLo[i], lo-mr.x[i], mr.rho)
			mr.gx[i] -= d
		}
		if hi := mr.b.VarUpper[i]; hasUpper(hi) {
			_, d := phr(mr.vHi[i], mr.x[i]-hi, mr.rho)
			mr.gx[i] += d
		}
	}
	if !allFinite(mr.gx) {
		zero(grad)
		return
	}
	mr.vm.chain(grad, mr.gx, u)
}

// updateMultipliers applies the first-order update at mr.x/mr.g.
func (mr *merit) updateMultipliers() {
	for r, k := range mr.kind {
		switch k {
		case rowEquality:
			mr.lam[r] += mr.rho * (mr.g[r] - mr.b.ConsLower[r])
		case rowRange:
			if lo := mr.b.ConsLower[r]; hasLower(lo) {
				mr.muLo[r] = math.Max(0, mr.muLo[r]+mr.rho*(lo-mr.g[r]))
			}
			if hi := mr.b.ConsUpper[r]; hasUpper(hi) {
				mr.muHi[r] = math.Max(0, mr.muHi[r]+mr.rho*(mr.g[r]-hi))
			}
		}
	}
	for _, i := range mr.vm.oneSided {
		if lo := mr.b.VarLower[i]; hasLower(lo) {
			mr.vLo[i] = math.Max(0, mr.vLo[i]+mr.rho*(lo-mr.x[i]))
		}
		if hi := mr.b.VarUpper[i]; hasUpper(hi) {
			mr.vHi[i] = math.Max(0, mr.vHi[i]+mr.rho*(mr.x[i]-hi))
		}
	}
}

// violation is the largest bound violation of the constraints and of the
// one-sided variable bounds at mr.x/mr.g.
func (mr *merit) violation() float64 {
	var v float64
	for r := range mr.g {
		v = math.Max(v, outside(mr.g[r], mr.b.ConsLower[r], mr.b.ConsUpper[r]))
	}
	for _, i := range mr.vm.oneSided {
		v = math.Max(v, outside(mr.x[i], mr.b.VarLower[i], mr.b.VarUpper[i]))
	}
	return v
}

func outside(v, lo, hi float64) float64 {
	switch {
	case hasLower(lo) && v < lo:
		return lo - v
	case hasUpper(hi) && v > hi:
		return v - hi
	}
	return 0
}

func (s *AugmentedLagrangian) Solve(ctx context.Context, p Problem, x0 []float64, b Bounds, opts Options) (Result, error) {
	start := time.Now()
	n, m := p.NumVars(), p.NumConstraints()
	if n <= 0 {
		return Result{}, fmt.Errorf("%w: problem has %d variables", ErrDimension, n)
	}
	if len(x0) != n {
		return Result{}, fmt.Errorf("%w: x0 has %d entries, want %d", ErrDimension, len(x0), n)
	}
	if err := b.validate(n, m); err != nil {
		return Result{}, err
	}
	opts = opts.withDefaults()

	jac, err := newJacobian(p, opts)
	if err != nil {
		return Result{}, err
	}
	vm := newVarMap(b.VarLower, b.VarUpper)
	mr := newMerit(p, b, vm, jac)
	mr.rho = opts.InitialPenalty

	u := make([]float64, n)
	vm.toU(u, x0)

	logf := s.log.Trace
	if opts.PrintLevel > 0 {
		logf = s.log.Debug
	}

	res := Result{Status: MaxIterations}
	finish := func(status Status) (Result, error) {
		mr.evalX(u)
		res.Status = status
		res.X = append([]float64(nil), mr.x...)
		res.G = append([]float64(nil), mr.g...)
		res.ObjValue = p.Objective(mr.x)
		res.ConstraintViolation = mr.violation()
		res.Runtime = time.Since(start)
		logf("nlp: %s after %d outer / %d inner iterations, obj=%.6g viol=%.3g in %s",
			status, res.Iterations, res.InnerIterations, res.ObjValue, res.ConstraintViolation, res.Runtime)
		return res, nil
	}

	if !mr.evalX(u) || math.IsInf(mr.Func(u), 1) {
		return finish(InvalidNumber)
	}

	method := func() optimize.Method {
		if opts.Method == BFGS {
			return &optimize.BFGS{}
		}
		return &optimize.LBFGS{}
	}

	prevViol := math.Inf(1)
	gradTol := 1.0
	for k := 1; k <= opts.MaxIterations; k++ {
		res.Iterations = k
		if err := ctx.Err(); err != nil {
			return finish(Canceled)
		}
		remaining := time.Duration(0)
		if opts.MaxCPUTime > 0 {
			remaining = opts.MaxCPUTime - time.Since(start)
			if remaining <= 0 {
				return finish(TimeLimit)
			}
		}
		gradTol = math.Max(opts.OptimalityTolerance, gradTol*0.1)

		inner, innerErr := optimize.Minimize(optimize.Problem{
			Func: mr.Func,
			Grad: mr.Grad,
			Status: func() (optimize.Status, error) {
				if err := ctx.Err(); err != nil {
					return optimize.Failure, err
				}
				if opts.MaxCPUTime > 0 && time.Since(start) >= opts.MaxCPUTime {
					return optimize.RuntimeLimit, nil
				}
				return optimize.NotTerminated, nil
			},
		}, u, &optimize.Settings{
			GradientThreshold: gradTol,
			MajorIterations:   opts.InnerIterations,
			Runtime:           remaining,
			Converger:         &optimize.FunctionConverge{Absolute: 1e-12, Relative: 1e-12, Iterations: 25},
		}, method())

		converged := false
		if inner != nil {
			res.InnerIterations += inner.Stats.MajorIterations
			if inner.Stats.MajorIterations > 0 && !math.IsInf(inner.F, 1) {
				copy(u, inner.X)
			}
			switch inner.Status {
			case optimize.GradientThreshold, optimize.FunctionConvergence, optimize.MethodConverge, optimize.Success:
				converged = innerErr == nil
			}
		}
		switch {
		case ctx.Err() != nil:
			return finish(Canceled)
		case inner != nil && inner.Status == optimize.RuntimeLimit,
			opts.MaxCPUTime > 0 && time.Since(start) >= opts.MaxCPUTime:
			return finish(TimeLimit)
		case innerErr != nil:
			logf("nlp: inner solve %d stopped: %v", k, innerErr)
		}

		if !mr.evalX(u) || math.IsInf(mr.Func(u), 1) {
			return finish(InvalidNumber)
		}
		viol := mr.violation()
		logf("nlp: iter %d rho=%.3g gradTol=%.3g viol=%.3g inner=%v", k, mr.rho, gradTol, viol, converged)

		if viol <= opts.Tolerance && converged && gradTol <= opts.OptimalityTolerance {
			return finish(Success)
		}

		mr.updateMultipliers()
		if viol > opts.Tolerance && viol > 0.25*prevViol {
			if mr.rho >= opts.MaxPenalty {
				return finish(LocalInfeasibility)
			}
			mr.rho = math.Min(mr.rho*10, opts.MaxPenalty)
		}
		prevViol = viol
	}
	return finish(MaxIterations)
}

func allFinite(v []float64) bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}

func zero(v []float64) {
	for i := range v {
		v[i] = 0
	}
}
