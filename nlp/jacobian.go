package nlp

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"
)

// jacobian evaluates the constraint Jacobian at x and forms Jᵀw products.
type jacobian interface {
	eval(x []float64)
	mulTrans(dst, w []float64)
}

func newJacobian(p Problem, opts Options) (jacobian, error) {
	n, m := p.NumVars(), p.NumConstraints()
	sp, ok := p.(SparseProblem)
	if !ok {
		return newDenseJacobian(p, n, m), nil
	}
	jp, analytic := p.(JacobianProblem)
	if !analytic && !opts.SparseForward {
		return newDenseJacobian(p, n, m), nil
	}
	rows := sp.ConstraintSparsity()
	if err := checkPattern(rows, n, m); err != nil {
		return nil, err
	}
	var rj rowJacobian
	if analytic {
		rj = newAnalyticJacobian(jp, rows)
	} else {
		rj = newSparseJacobian(p, rows, n)
	}
	if !opts.SparseReverse {
		return &scatteredJacobian{rows: rj, dense: newDenseJacobian(p, n, m)}, nil
	}
	return rj, nil
}

func checkPattern(rows [][]int, n, m int) error {
	if len(rows) != m {
		return fmt.Errorf("%w: sparsity pattern has %d rows, want %d", ErrDimension, len(rows), m)
	}
	for r, cols := range rows {
		for _, c := range cols {
			if c < 0 || c >= n {
				return fmt.Errorf("%w: sparsity row %d references variable %d of %d", ErrDimension, r, c, n)
			}
		}
	}
	return nil
}

// denseJacobian uses gonum's finite-difference Jacobian over every column.
type denseJacobian struct {
	p    Problem
	jac  *mat.Dense
	n, m int
}

func newDenseJacobian(p Problem, n, m int) *denseJacobian {
	dj := &denseJacobian{p: p, n: n, m: m}
	if m > 0 && n > 0 {
		dj.jac = mat.NewDense(m, n, nil)
	}
	return dj
}

func (dj *denseJacobian) eval(x []float64) {
	if dj.jac == nil {
		return
	}
	fd.Jacobian(dj.jac, dj.p.Constraints, x, &fd.JacobianSettings{Formula: fd.Central})
}

func (dj *denseJacobian) mulTrans(dst, w []float64) {
	if dj.jac == nil {
		for i := range dst {
			dst[i] = 0
		}
		return
	}
	out := mat.NewVecDense(dj.n, dst)
	out.MulVec(dj.jac.T(), mat.NewVecDense(dj.m, w))
}

// sparseJacobian stores only the declared entries, row by row, and fills them
// with one pair of constraint evaluations per column colour.
type sparseJacobian struct {
	p      Problem
	rows   [][]int
	vals   [][]float64
	colors [][]int
	// for each column, the (row, position-in-row) pairs it appears in
	colRows [][]entry

	xp, gp, gm []float64
}

type entry struct{ row, pos int }

func newSparseJacobian(p Problem, rows [][]int, n int) *sparseJacobian {
	sj := &sparseJacobian{
		p:       p,
		rows:    rows,
		vals:    make([][]float64, len(rows)),
		colRows: make([][]entry, n),
		xp:      make([]float64, n),
		gp:      make([]float64, len(rows)),
		gm:      make([]float64, len(rows)),
	}
	for r, cols := range rows {
		sj.vals[r] = make([]float64, len(cols))
		for k, c := range cols {
			sj.colRows[c] = append(sj.colRows[c], entry{row: r, pos: k})
		}
	}
	sj.colors = colorColumns(sj.colRows, len(rows))
	return sj
}

// colorColumns greedily partitions columns so that no two columns in a group
// share a row. Columns that appear in no row are left out.
func colorColumns(colRows [][]entry, m int) [][]int {
	// rowColor[r] holds the colours already touching row r
	rowColors := make([]map[int]bool, m)
	for r := range rowColors {
		rowColors[r] = map[int]bool{}
	}
	var groups [][]int
	for c, ents := range colRows {
		if len(ents) == 0 {
			continue
		}
		color := 0
		for ; color < len(groups); color++ {
			free := true
			for _, e := range ents {
				if rowColors[e.row][color] {
					free = false
					break
				}
			}
			if free {
				break
			}
		}
		if color == len(groups) {
			groups = append(groups, nil)
		}
		groups[color] = append(groups[color], c)
		for _, e := range ents {
			rowColors[e.row][color] = true
		}
	}
	for _, g := range groups {
		sort.Ints(g)
	}
	return groups
}

func (sj *sparseJacobian) eval(x []float64) {
	copy(sj.xp, x)
	for _, group := range sj.colors {
		for _, c := range group {
			sj.xp[c] = x[c] + stepFor(x[c])
		}
		sj.p.Constraints(sj.gp, sj.xp)
		for _, c := range group {
			sj.xp[c] = x[c] - stepFor(x[c])
		}
		sj.p.Constraints(sj.gm, sj.xp)
		for _, c := range group {
			h := stepFor(x[c])
			for _, e := range sj.colRows[c] {
				sj.vals[e.row][e.pos] = (sj.gp[e.row] - sj.gm[e.row]) / (2 * h)
			}
			sj.xp[c] = x[c]
		}
	}
}

func (sj *sparseJacobian) mulTrans(dst, w []float64) { mulTransRows(dst, w, sj.rows, sj.vals) }

func (sj *sparseJacobian) entries() ([][]int, [][]float64) { return sj.rows, sj.vals }

// analyticJacobian takes the partials straight from the problem.
type analyticJacobian struct {
	p    JacobianProblem
	rows [][]int
	vals [][]float64
}

func newAnalyticJacobian(p JacobianProblem, rows [][]int) *analyticJacobian {
	aj := &analyticJacobian{p: p, rows: rows, vals: make([][]float64, len(rows))}
	for r, cols := range rows {
		aj.vals[r] = make([]float64, len(cols))
	}
	return aj
}

func (aj *analyticJacobian) eval(x []float64) { aj.p.ConstraintJacobian(aj.vals, x) }

func (aj *analyticJacobian) mulTrans(dst, w []float64) { mulTransRows(dst, w, aj.rows, aj.vals) }

func (aj *analyticJacobian) entries() ([][]int, [][]float64) { return aj.rows, aj.vals }

// rowJacobian stores the declared entries row by row.
type rowJacobian interface {
	jacobian
	entries() (rows [][]int, vals [][]float64)
}

func mulTransRows(dst, w []float64, rows [][]int, vals [][]float64) {
	for i := range dst {
		dst[i] = 0
	}
	for r, cols := range rows {
		if w[r] == 0 {
			continue
		}
		for k, c := range cols {
			dst[c] += vals[r][k] * w[r]
		}
	}
}

// scatteredJacobian evaluates by rows but multiplies densely.
type scatteredJacobian struct {
	rows  rowJacobian
	dense *denseJacobian
}

func (s *scatteredJacobian) eval(x []float64) {
	s.rows.eval(x)
	if s.dense.jac == nil {
		return
	}
	s.dense.jac.Zero()
	rows, vals := s.rows.entries()
	for r, cols := range rows {
		for k, c := range cols {
			s.dense.jac.Set(r, c, vals[r][k])
		}
	}
}

func (s *scatteredJacobian) mulTrans(dst, w []float64) { s.dense.mulTrans(dst, w) }

// stepFor scales gonum's central-difference step with the magnitude of x.
func stepFor(x float64) float64 {
	return fd.Central.Step * math.Max(1, math.Abs(x))
}
