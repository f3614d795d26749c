package nlp

import "math"

type varKind uint8

const (
	varFree varKind = iota
	varBoxed
	varFixed
	varLowerOnly
	varUpperOnly
)

// boxEdge keeps the reparameterised start point off the exact bound, where
// the map's derivative vanishes.
const boxEdge = 1 - 1e-6

// varMap maps the unconstrained inner variables u onto x. Two-sided bounds
// are satisfied exactly through x = lo + (hi-lo)(1+sin u)/2; one-sided bounds
// stay in x and are handled by the multiplier terms.
type varMap struct {
	lo, hi []float64
	kind   []varKind
	// one-sided bound indices, penalised like inequality rows
	oneSided []int
}

func newVarMap(lo, hi []float64) *varMap {
	vm := &varMap{lo: lo, hi: hi, kind: make([]varKind, len(lo))}
	for i := range lo {
		l, h := hasLower(lo[i]), hasUpper(hi[i])
		switch {
		case l && h && lo[i] == hi[i]:
			vm.kind[i] = varFixed
		case l && h:
			vm.kind[i] = varBoxed
		case l:
			vm.kind[i] = varLowerOnly
			vm.oneSided = append(vm.oneSided, i)
		case h:
			vm.kind[i] = varUpperOnly
			vm.oneSided = append(vm.oneSided, i)
		}
	}
	return vm
}

func (vm *varMap) toX(x, u []float64) {
	for i, k := range vm.kind {
		switch k {
		case varBoxed:
			v := vm.lo[i] + (vm.hi[i]-vm.lo[i])*(1+math.Sin(u[i]))/2
			x[i] = math.Min(vm.hi[i], math.Max(vm.lo[i], v))
		case varFixed:
			x[i] = vm.lo[i]
		default:
			x[i] = u[i]
		}
	}
}

func (vm *varMap) toU(u, x []float64) {
	for i, k := range vm.kind {
		switch k {
		case varBoxed:
			s := 2*(x[i]-vm.lo[i])/(vm.hi[i]-vm.lo[i]) - 1
			u[i] = math.Asin(math.Max(-boxEdge, math.Min(boxEdge, s)))
		case varFixed:
			u[i] = 0
		default:
			u[i] = x[i]
		}
	}
}

// chain turns a gradient with respect to x into one with respect to u.
func (vm *varMap) chain(gu, gx, u []float64) {
	for i, k := range vm.kind {
		switch k {
		case varBoxed:
			gu[i] = gx[i] * (vm.hi[i] - vm.lo[i]) * math.Cos(u[i]) / 2
		case varFixed:
			gu[i] = 0
		default:
			gu[i] = gx[i]
		}
	}
}
