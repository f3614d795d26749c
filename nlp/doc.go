// Package nlp solves smooth nonlinear programs of the form
//
//	minimize   f(x)
//	subject to gl <= g(x) <= gu
//	           xl <= x    <= xu
//
// behind a small Solver interface, so the model-predictive controller can be
// driven by any backend that accepts an objective/constraint evaluator,
// bounds, an initial guess and options, and hands back a status, the final
// iterate and its objective value.
//
// The bundled backend, AugmentedLagrangian, does not require derivatives from
// the caller. A Problem that implements GradientProblem or JacobianProblem
// hands over its own objective gradient or constraint partials; anything it
// leaves out is built by central finite differences (gonum diff/fd). A
// SparseProblem without analytic partials has its Jacobian differenced with
// one pair of constraint evaluations per column colour rather than per
// column.
//
// Bounds follow the usual NLP convention: a magnitude of Infinity (1e19) or
// more means "no bound", and a row with equal lower and upper bounds is an
// equality constraint.
//
// Running out of the wall-clock budget is not an error. Solve returns the
// best iterate it has with Status TimeLimit and the caller decides whether
// the iterate is usable.
package nlp
