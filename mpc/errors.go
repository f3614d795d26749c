package mpc

import "errors"

var (
	// ErrInvalidState is returned for a state that is not six finite values.
	ErrInvalidState = errors.New("mpc: invalid state")
	// ErrInvalidCoeffs is returned for fewer than two or non-finite
	// reference coefficients.
	ErrInvalidCoeffs = errors.New("mpc: invalid reference coefficients")
	// ErrSolver is returned when the solver fails outright or hands back a
	// plan whose first actuation is not finite.
	ErrSolver = errors.New("mpc: solver failure")
)
