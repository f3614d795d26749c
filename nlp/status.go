package nlp

// Status reports how a solve ended.
type Status int

const (
	Success Status = iota
	MaxIterations
	TimeLimit
	Canceled
	InvalidNumber
	LocalInfeasibility
)

var statusNames = [...]string{
	Success:            "success",
	MaxIterations:      "maxiter_exceeded",
	TimeLimit:          "time_limit",
	Canceled:           "canceled",
	InvalidNumber:      "invalid_number",
	LocalInfeasibility: "local_infeasibility",
}

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return "unknown"
	}
	return statusNames[s]
}

// Converged reports whether the iterate satisfies the solver's optimality
// and feasibility tolerances.
func (s Status) Converged() bool { return s == Success }
