package main

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"
	"time"
)

// Record is one control cycle as written to the telemetry CSV.
type Record struct {
	RunID     string
	Cycle     int
	T         float64
	X, Y, Psi float64
	V         float64
	CTE, EPsi float64
	Steer     float64
	Accel     float64
	Converged bool
	Fallback  bool
	Status    string
	Cost      float64
	SolveTime time.Duration
}

var telemetryHeader = []string{
	"run_id", "cycle", "t_s", "x", "y", "psi", "v", "cte", "epsi",
	"steer_rad", "accel", "converged", "fallback", "status", "cost", "solve_ms",
}

func (r Record) fields() []string {
	f := func(v float64) string { return strconv.FormatFloat(v, 'g', 8, 64) }
	return []string{
		r.RunID,
		strconv.Itoa(r.Cycle),
		f(r.T), f(r.X), f(r.Y), f(r.Psi), f(r.V), f(r.CTE), f(r.EPsi),
		f(r.Steer), f(r.Accel),
		strconv.FormatBool(r.Converged),
		strconv.FormatBool(r.Fallback),
		r.Status,
		f(r.Cost),
		strconv.FormatFloat(float64(r.SolveTime.Microseconds())/1000, 'f', 3, 64),
	}
}

// Summary aggregates a run for the final log line.
type Summary struct {
	Cycles      int
	Degraded    int
	Fallbacks   int
	MaxAbsCTE   float64
	FinalCTE    float64
	TotalSolve  time.Duration
	WorstSolve  time.Duration
	FinalSpeed  float64
	FinalStatus string
}

func (s *Summary) add(r Record) {
	s.Cycles++
	if !r.Converged {
		s.Degraded++
	}
	if r.Fallback {
		s.Fallbacks++
	}
	s.MaxAbsCTE = math.Max(s.MaxAbsCTE, math.Abs(r.CTE))
	s.FinalCTE = r.CTE
	s.FinalSpeed = r.V
	s.FinalStatus = r.Status
	s.TotalSolve += r.SolveTime
	if r.SolveTime > s.WorstSolve {
		s.WorstSolve = r.SolveTime
	}
}

// MeanSolve is the average solve time per cycle.
func (s Summary) MeanSolve() time.Duration {
	if s.Cycles == 0 {
		return 0
	}
	return s.TotalSolve / time.Duration(s.Cycles)
}

// writeTelemetry drains records into w (nil to only summarise) until the
// channel closes or ctx is done.
func writeTelemetry(ctx context.Context, w io.Writer, records <-chan Record) (Summary, error) {
	var sum Summary
	var cw *csv.Writer
	if w != nil {
		cw = csv.NewWriter(w)
		if err := cw.Write(telemetryHeader); err != nil {
			return sum, fmt.Errorf("telemetry header: %w", err)
		}
	}
	flush := func() error {
		if cw == nil {
			return nil
		}
		cw.Flush()
		return cw.Error()
	}

	for {
		select {
		case <-ctx.Done():
			_ = flush()
			return sum, ctx.Err()
		case r, ok := <-records:
			if !ok {
				return sum, flush()
			}
			sum.add(r)
			if cw != nil {
				if err := cw.Write(r.fields()); err != nil {
					return sum, fmt.Errorf("telemetry cycle %d: %w", r.Cycle, err)
				}
			}
		}
	}
}
