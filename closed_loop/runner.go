package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"mpc-track-core/mpc"
	"mpc-track-core/utils"
)

type RunnerConfig struct {
	Interface     string // empty: frames go to the log only
	MapPath       string
	ScenarioPath  string
	MPCConfigPath string // optional, replaces the scenario's mpc_config
	FrameName     string
	TelemetryPath string // optional CSV
	Monitor       bool   // read MPC_CMD back off the bus
}

type Runner struct {
	cfg   RunnerConfig
	log   *utils.Logger
	runID string

	cmap   *utils.CANMap
	fd     *utils.FrameDef
	scen   Scenario
	writer utils.CANWriter
	reader utils.CANReader

	ctrl     *mpc.Controller
	plant    *Plant
	fallback *Fallback

	telemetry io.WriteCloser

	// last command applied from a converged plan, for the hold policy
	lastGood mpc.Actuation

	summary     Summary
	counterGaps int
}

func NewRunner(ctx context.Context, cfg RunnerConfig, log *utils.Logger) (*Runner, error) {
	cmap, err := utils.LoadCANMap(cfg.MapPath)
	if err != nil {
		return nil, fmt.Errorf("load can map: %w", err)
	}

	scen, err := LoadScenario(cfg.ScenarioPath)
	if err != nil {
		return nil, fmt.Errorf("load scenario: %w", err)
	}
	if cfg.MPCConfigPath != "" {
		mcfg, err := mpc.LoadConfig(cfg.MPCConfigPath)
		if err != nil {
			return nil, fmt.Errorf("load mpc config: %w", err)
		}
		scen.MPC = mcfg
	}

	var writer utils.CANWriter
	var reader utils.CANReader
	if cfg.Interface == "" {
		writer = utils.NewLogWriter(log)
	} else {
		sw, err := utils.NewSocketCANWriter(ctx, cfg.Interface)
		if err != nil {
			return nil, err
		}
		writer = sw
		if cfg.Monitor {
			sr, err := utils.NewSocketCANReader(ctx, cfg.Interface)
			if err != nil {
				_ = writer.Close()
				return nil, err
			}
			reader = sr
		}
	}

	r, err := newRunner(cfg, scen, cmap, writer, reader, log)
	if err != nil {
		r.Close()
		return nil, err
	}

	if cfg.TelemetryPath != "" {
		f, err := os.Create(cfg.TelemetryPath)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("telemetry: %w", err)
		}
		r.telemetry = f
	}
	return r, nil
}

// newRunner wires an already loaded scenario to the given bus endpoints.
// The returned runner is non-nil even on error so the caller can Close it.
func newRunner(cfg RunnerConfig, scen Scenario, cmap *utils.CANMap, writer utils.CANWriter, reader utils.CANReader, log *utils.Logger) (*Runner, error) {
	runID := uuid.NewString()
	log = log.With("run", runID)
	r := &Runner{
		cfg:    cfg,
		log:    log,
		runID:  runID,
		cmap:   cmap,
		scen:   scen,
		writer: writer,
		reader: reader,
	}

	fd, err := cmap.FrameByName(cfg.FrameName)
	if err != nil {
		return r, fmt.Errorf("frame: %w", err)
	}
	if fd.CycleMS <= 0 {
		return r, fmt.Errorf("frame %s has invalid cycle_ms %d", fd.Name, fd.CycleMS)
	}
	r.fd = fd

	ref, err := mpc.NewPolynomial(scen.ReferenceCoeffs)
	if err != nil {
		return r, err
	}
	r.ctrl, err = mpc.NewController(scen.MPC, mpc.WithLogger(log))
	if err != nil {
		return r, err
	}
	r.plant = NewPlant(scen.InitialPose, ref, scen.MPC, scen.Timing.DtS)
	r.fallback = NewFallback(scen.FallbackPID, scen.MPC)

	log.Info("MPC initialized: N=%d dt=%.3fs ref_speed=%.1f budget=%s heading=%s fallback=%s",
		scen.MPC.Horizon, scen.MPC.DtS, scen.MPC.RefSpeed, scen.MPC.TimeBudget(),
		scen.MPC.HeadingMode, scen.Meta.FallbackPolicy)
	return r, nil
}

func (r *Runner) Close() {
	if r.reader != nil {
		_ = r.reader.Close()
	}
	if r.writer != nil {
		_ = r.writer.Close()
	}
	if r.telemetry != nil {
		_ = r.telemetry.Close()
	}
}

// RunID identifies this run in logs and telemetry.
func (r *Runner) RunID() string { return r.runID }

// Summary is valid after Run returns.
func (r *Runner) Summary() Summary { return r.summary }

func (r *Runner) Run(ctx context.Context) error {
	r.log.Info("Starting closed loop: frame=%s id=0x%X dlc=%d iface=%q scenario=%s duration=%.2fs dt=%.3fs",
		r.fd.Name, r.fd.ID, r.fd.DLC, r.cfg.Interface,
		r.scen.Meta.Name, r.scen.Timing.DurationS, r.scen.Timing.DtS)

	g, gctx := errgroup.WithContext(ctx)
	records := make(chan Record, 64)

	g.Go(func() error {
		var w io.Writer
		if r.telemetry != nil {
			w = r.telemetry
		}
		sum, err := writeTelemetry(gctx, w, records)
		r.summary = sum
		return err
	})

	monCtx, stopMonitor := context.WithCancel(gctx)
	defer stopMonitor()
	if r.reader != nil {
		g.Go(func() error { return r.monitor(monCtx) })
	}

	g.Go(func() error {
		defer stopMonitor()
		defer close(records)
		return r.control(gctx, records)
	})

	err := g.Wait()
	s := r.summary
	r.log.Info("Completed: cycles=%d degraded=%d fallback=%d max|cte|=%.3f final_cte=%.3f v=%.2f solve_mean=%s solve_worst=%s counter_gaps=%d",
		s.Cycles, s.Degraded, s.Fallbacks, s.MaxAbsCTE, s.FinalCTE, s.FinalSpeed,
		s.MeanSolve(), s.WorstSolve, r.counterGaps)
	return err
}

// control runs one MPC cycle per scenario step.
func (r *Runner) control(ctx context.Context, records chan<- Record) error {
	timing := r.scen.Timing
	var tick <-chan time.Time
	if timing.RealTimeMode {
		ticker := time.NewTicker(time.Duration(timing.DtS * float64(time.Second)))
		defer ticker.Stop()
		tick = ticker.C
	}

	for cycle := 0; cycle < timing.Steps(); cycle++ {
		if tick != nil {
			select {
			case <-ctx.Done():
				r.log.Warn("Context canceled; stopping at cycle %d", cycle)
				return ctx.Err()
			case <-tick:
			}
		} else if err := ctx.Err(); err != nil {
			r.log.Warn("Context canceled; stopping at cycle %d", cycle)
			return err
		}

		t := float64(cycle) * timing.DtS
		state := r.plant.State()

		res, err := r.ctrl.Solve(ctx, state.Slice(), r.scen.ReferenceCoeffs)
		status := res.Status.String()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if !errors.Is(err, mpc.ErrSolver) {
				return fmt.Errorf("cycle %d: %w", cycle, err)
			}
			r.log.Error("Solve failed at t=%.3f: %v", t, err)
			status = "solver_error"
		}

		u, fallback := r.choose(res, err == nil, state)
		cmd := utils.ActuatorCommand{
			SteerRad:       u.Steering,
			Accel:          u.Acceleration,
			PlanConverged:  err == nil && res.Converged,
			FallbackActive: fallback,
			Counter:        uint8(cycle % 16),
		}

		frame, err := r.cmap.EncodeCommand(r.fd.Name, cmd)
		if err != nil {
			r.log.Error("Encode failed at t=%.3f: %v", t, err)
			return err
		}
		if err := r.writer.WriteFrame(ctx, frame); err != nil {
			r.log.Critical("Transmit failed at t=%.3f: %v", t, err)
			return err
		}
		r.log.Trace("TX t=%.3f id=0x%X data=% X steer=%.4f accel=%.4f converged=%v fallback=%v",
			t, frame.ID, frame.Data[:frame.Length], cmd.SteerRad, cmd.Accel, cmd.PlanConverged, cmd.FallbackActive)

		r.plant.Step(u)

		rec := Record{
			RunID: r.runID, Cycle: cycle, T: t,
			X: state.X, Y: state.Y, Psi: state.Psi, V: state.V, CTE: state.CTE, EPsi: state.EPsi,
			Steer: u.Steering, Accel: u.Acceleration,
			Converged: cmd.PlanConverged, Fallback: fallback,
			Status: status, Cost: res.Cost, SolveTime: res.SolveTime,
		}
		select {
		case records <- rec:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// choose picks the actuation to send. ok is false when Solve returned a
// solver error and res carries no plan.
func (r *Runner) choose(res mpc.Result, ok bool, state mpc.State) (mpc.Actuation, bool) {
	if ok && res.Converged {
		r.fallback.Reset()
		r.lastGood = r.clamp(res.Actuation())
		return r.lastGood, false
	}

	switch r.scen.Meta.FallbackPolicy {
	case PolicyApply:
		if ok {
			return r.clamp(res.Actuation()), false
		}
		return r.lastGood, true
	case PolicyHold:
		return r.lastGood, true
	default:
		return r.fallback.Command(state, r.scen.Timing.DtS), true
	}
}

func (r *Runner) clamp(u mpc.Actuation) mpc.Actuation {
	cfg := r.scen.MPC
	return mpc.Actuation{
		Steering:     utils.ClampFloat(u.Steering, -cfg.MaxSteeringRad, cfg.MaxSteeringRad),
		Acceleration: utils.ClampFloat(u.Acceleration, -cfg.MaxAccel, cfg.MaxAccel),
	}
}

// monitor decodes our own frames looped back by the bus and checks the
// rolling counter.
func (r *Runner) monitor(ctx context.Context) error {
	r.log.Debug("RX monitor started")
	defer r.log.Debug("RX monitor stopped")

	prev := -1
	for {
		frame, err := r.reader.ReadFrame(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("monitor: %w", err)
		}
		if frame.ID != r.fd.ID {
			r.log.Trace("RX id=0x%X len=%d ignored", frame.ID, frame.Length)
			continue
		}
		cmd, err := r.cmap.DecodeCommand(frame)
		if err != nil {
			r.log.Error("RX decode: %v", err)
			continue
		}
		if prev >= 0 && int(cmd.Counter) != (prev+1)%16 {
			r.counterGaps++
			r.log.Warn("Rolling counter jumped %d -> %d", prev, cmd.Counter)
		}
		prev = int(cmd.Counter)
		r.log.Trace("RX %s steer=%.4f accel=%.4f converged=%v fallback=%v counter=%d",
			r.fd.Name, cmd.SteerRad, cmd.Accel, cmd.PlanConverged, cmd.FallbackActive, cmd.Counter)
	}
}
