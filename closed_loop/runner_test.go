package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.einride.tech/can"

	"mpc-track-core/mpc"
	"mpc-track-core/utils"
)

const testMapPath = "../config/can/can_map.csv"

type bufferCloser struct {
	bytes.Buffer
}

func (*bufferCloser) Close() error { return nil }

// chanReader hands out frames pushed by the test.
type chanReader struct {
	frames chan can.Frame
}

func (c *chanReader) ReadFrame(ctx context.Context) (can.Frame, error) {
	select {
	case f := <-c.frames:
		return f, nil
	case <-ctx.Done():
		return can.Frame{}, ctx.Err()
	}
}

func (c *chanReader) Close() error { return nil }

func testScenario(policy string) Scenario {
	cfg := mpc.DefaultConfig()
	cfg.Horizon = 6
	cfg.RefSpeed = 15
	return Scenario{
		Meta:            ScenarioMeta{Name: "test", FallbackPolicy: policy},
		Timing:          ScenarioTiming{DtS: 0.05, DurationS: 0.2},
		InitialPose:     Pose{Y: -1, V: 10},
		ReferenceCoeffs: []float64{0, 0},
		MPC:             cfg,
		FallbackPID:     DefaultFallbackConfig(),
	}
}

func newTestRunner(t *testing.T, scen Scenario) (*Runner, *utils.LogWriter) {
	t.Helper()
	cmap, err := utils.LoadCANMap(testMapPath)
	require.NoError(t, err)
	log := utils.NopLogger()
	w := utils.NewLogWriter(log)
	r, err := newRunner(RunnerConfig{FrameName: "MPC_CMD"}, scen, cmap, w, nil, log)
	require.NoError(t, err)
	t.Cleanup(r.Close)
	return r, w
}

func TestRunner_RunTransmitsEveryCycle(t *testing.T) {
	t.Parallel()
	r, w := newTestRunner(t, testScenario(PolicyApply))
	out := &bufferCloser{}
	r.telemetry = out

	require.NoError(t, r.Run(context.Background()))

	sent, last := w.Sent()
	assert.Equal(t, 4, sent)
	cmd, err := r.cmap.DecodeCommand(last)
	require.NoError(t, err)
	assert.Equal(t, uint8(3), cmd.Counter)
	assert.LessOrEqual(t, cmd.SteerRad, r.scen.MPC.MaxSteeringRad+1e-4)

	rows, err := csv.NewReader(strings.NewReader(out.String())).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 5)
	assert.Equal(t, telemetryHeader, rows[0])
	for i, row := range rows[1:] {
		assert.Equal(t, r.RunID(), row[0])
		assert.Equal(t, []string{"0", "1", "2", "3"}[i], row[1])
	}
	_, err = uuid.Parse(r.RunID())
	assert.NoError(t, err)

	sum := r.Summary()
	assert.Equal(t, 4, sum.Cycles)
	assert.Zero(t, sum.Fallbacks)
	// the vehicle starts 1 m right of the path
	assert.InDelta(t, 1.0, sum.MaxAbsCTE, 0.5)
}

func TestRunner_Canceled(t *testing.T) {
	t.Parallel()
	r, w := newTestRunner(t, testScenario(PolicyApply))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := r.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	sent, _ := w.Sent()
	assert.Zero(t, sent)
}

func TestRunner_TransmitFailureStopsRun(t *testing.T) {
	t.Parallel()
	r, w := newTestRunner(t, testScenario(PolicyApply))
	require.NoError(t, w.Close())

	err := r.Run(context.Background())
	assert.ErrorContains(t, err, "closed")
}

func TestRunner_ChooseByPolicy(t *testing.T) {
	t.Parallel()
	state := mpc.State{V: 10, CTE: 1}
	good := mpc.Result{Steering: 0.1, Acceleration: 0.2, Converged: true}
	degraded := mpc.Result{Steering: -0.4, Acceleration: 0.9, Converged: false}

	t.Run("converged is always applied", func(t *testing.T) {
		t.Parallel()
		for _, policy := range []string{PolicyApply, PolicyHold, PolicyPID} {
			r, _ := newTestRunner(t, testScenario(policy))
			u, fb := r.choose(good, true, state)
			assert.Equal(t, good.Actuation(), u, policy)
			assert.False(t, fb, policy)
		}
	})

	t.Run("apply", func(t *testing.T) {
		t.Parallel()
		r, _ := newTestRunner(t, testScenario(PolicyApply))
		u, fb := r.choose(degraded, true, state)
		assert.Equal(t, degraded.Actuation(), u)
		assert.False(t, fb)

		// a failed solve has nothing to apply
		r.choose(good, true, state)
		u, fb = r.choose(mpc.Result{}, false, state)
		assert.Equal(t, good.Actuation(), u)
		assert.True(t, fb)
	})

	t.Run("hold", func(t *testing.T) {
		t.Parallel()
		r, _ := newTestRunner(t, testScenario(PolicyHold))
		u, fb := r.choose(degraded, true, state)
		assert.Equal(t, mpc.Actuation{}, u)
		assert.True(t, fb)

		r.choose(good, true, state)
		u, _ = r.choose(degraded, true, state)
		assert.Equal(t, good.Actuation(), u)
	})

	t.Run("pid", func(t *testing.T) {
		t.Parallel()
		r, _ := newTestRunner(t, testScenario(PolicyPID))
		u, fb := r.choose(degraded, true, state)
		assert.True(t, fb)
		assert.Greater(t, u.Steering, 0.0)
		assert.Greater(t, u.Acceleration, 0.0)
	})

	t.Run("clamped to limits", func(t *testing.T) {
		t.Parallel()
		scen := testScenario(PolicyApply)
		scen.MPC.MaxSteeringRad = 0.2
		r, _ := newTestRunner(t, scen)
		u, _ := r.choose(degraded, true, state)
		assert.Equal(t, -0.2, u.Steering)
		assert.Equal(t, 0.9, u.Acceleration)
	})
}

func TestRunner_MonitorCountsCounterGaps(t *testing.T) {
	t.Parallel()
	r, _ := newTestRunner(t, testScenario(PolicyApply))
	reader := &chanReader{frames: make(chan can.Frame)}
	r.reader = reader

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.monitor(ctx) }()

	for _, counter := range []uint8{14, 15, 0, 2} {
		f, err := r.cmap.EncodeCommand("MPC_CMD", utils.ActuatorCommand{Counter: counter})
		require.NoError(t, err)
		reader.frames <- f
	}
	// an unrelated frame; once it is taken the previous one is processed
	reader.frames <- can.Frame{ID: 0x7FF, Length: 1}
	cancel()

	require.NoError(t, <-done)
	assert.Equal(t, 1, r.counterGaps)
}

func TestNewRunner_FromFiles(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	scenPath := filepath.Join(dir, "scenario.json")
	require.NoError(t, os.WriteFile(scenPath, []byte(`{
		"meta": {"name": "files", "fallback_policy": "hold"},
		"timing": {"dt_s": 0.05, "duration_s": 0.1},
		"initial_pose": {"v": 10},
		"reference_coeffs": [0, 0]
	}`), 0o644))
	mpcPath := filepath.Join(dir, "mpc.json")
	require.NoError(t, os.WriteFile(mpcPath, []byte(`{"horizon": 5}`), 0o644))
	telemetryPath := filepath.Join(dir, "telemetry.csv")

	r, err := NewRunner(context.Background(), RunnerConfig{
		MapPath:       testMapPath,
		ScenarioPath:  scenPath,
		MPCConfigPath: mpcPath,
		FrameName:     "MPC_CMD",
		TelemetryPath: telemetryPath,
	}, utils.NopLogger())
	require.NoError(t, err)
	assert.Equal(t, 5, r.scen.MPC.Horizon)
	assert.IsType(t, &utils.LogWriter{}, r.writer)
	assert.Nil(t, r.reader)

	require.NoError(t, r.Run(context.Background()))
	r.Close()

	data, err := os.ReadFile(telemetryPath)
	require.NoError(t, err)
	rows, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	require.NoError(t, err)
	assert.Len(t, rows, 3)
}

func TestNewRunner_Errors(t *testing.T) {
	t.Parallel()
	scen := writeScenario(t, `{"timing": {"dt_s": 0.1, "duration_s": 1}, "reference_coeffs": [0, 0]}`)

	_, err := NewRunner(context.Background(), RunnerConfig{MapPath: "missing.csv", ScenarioPath: scen, FrameName: "MPC_CMD"}, utils.NopLogger())
	assert.ErrorContains(t, err, "load can map")

	_, err = NewRunner(context.Background(), RunnerConfig{MapPath: testMapPath, ScenarioPath: scen, FrameName: "NOPE"}, utils.NopLogger())
	assert.ErrorContains(t, err, "frame")

	_, err = NewRunner(context.Background(), RunnerConfig{MapPath: testMapPath, ScenarioPath: scen, FrameName: "MPC_CMD", MPCConfigPath: "mpc.yaml"}, utils.NopLogger())
	assert.ErrorContains(t, err, "load mpc config")
}
