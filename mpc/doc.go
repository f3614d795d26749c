// Package mpc is a receding-horizon path-tracking controller for a kinematic
// bicycle model.
//
// Each call to Controller.Solve lays the horizon out as one flat decision
// vector
//
//	x[0..N) y[0..N) psi[0..N) v[0..N) cte[0..N) epsi[0..N) delta[0..N-1) a[0..N-1)
//
// and hands the cost, the 6N dynamics constraints and the bounds to an
// nlp.Solver. Only the first steering/acceleration pair of the plan is
// returned; the next cycle re-plans from the new measured state.
package mpc
