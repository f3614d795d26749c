package main

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mpc-track-core/mpc"
)

func writeScenario(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenario.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadScenario_Bundled(t *testing.T) {
	t.Parallel()
	paths, err := filepath.Glob("scenarios/*.json")
	require.NoError(t, err)
	require.NotEmpty(t, paths)
	for _, p := range paths {
		scen, err := LoadScenario(p)
		require.NoError(t, err, p)
		assert.NotEmpty(t, scen.Meta.Name, p)
		assert.Positive(t, scen.Timing.Steps(), p)
	}
}

func TestBundledScenarios_PlanConverges(t *testing.T) {
	t.Parallel()
	paths, err := filepath.Glob("scenarios/*.json")
	require.NoError(t, err)
	for _, p := range paths {
		p := p
		t.Run(filepath.Base(p), func(t *testing.T) {
			t.Parallel()
			scen, err := LoadScenario(p)
			require.NoError(t, err)
			scen.Timing.RealTimeMode = false
			scen.Timing.DurationS = math.Min(scen.Timing.DurationS, 1)

			r, _ := newTestRunner(t, scen)
			require.NoError(t, r.Run(context.Background()))

			sum := r.Summary()
			assert.Equal(t, scen.Timing.Steps(), sum.Cycles)
			assert.Less(t, sum.Degraded, sum.Cycles, "no cycle produced a converged plan")
		})
	}
}

func TestLoadScenario_Defaults(t *testing.T) {
	t.Parallel()
	scen, err := LoadScenario(writeScenario(t, `{
		"meta": {"name": "minimal"},
		"timing": {"dt_s": 0.1, "duration_s": 1},
		"reference_coeffs": [0, 0],
		"mpc_config": {"horizon": 8},
		"fallback_pid": {"heading_gain": 0.9}
	}`))
	require.NoError(t, err)

	assert.Equal(t, PolicyApply, scen.Meta.FallbackPolicy)
	assert.Equal(t, 10, scen.Timing.Steps())
	assert.Equal(t, 8, scen.MPC.Horizon)
	assert.Equal(t, mpc.DefaultConfig().RefSpeed, scen.MPC.RefSpeed)
	assert.Equal(t, 0.9, scen.FallbackPID.HeadingGain)
	assert.Equal(t, DefaultFallbackConfig().Speed, scen.FallbackPID.Speed)
}

func TestLoadScenario_Errors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		body string
		want string
	}{
		{"bad json", `{"meta":`, "unmarshal"},
		{"no duration", `{"timing": {"dt_s": 0.1}, "reference_coeffs": [0, 0]}`, "duration_s"},
		{"no dt", `{"timing": {"duration_s": 1}, "reference_coeffs": [0, 0]}`, "dt_s"},
		{"too short", `{"timing": {"dt_s": 1, "duration_s": 0.2}, "reference_coeffs": [0, 0]}`, "shorter"},
		{"policy", `{"meta": {"fallback_policy": "panic"}, "timing": {"dt_s": 0.1, "duration_s": 1}, "reference_coeffs": [0, 0]}`, "fallback_policy"},
		{"coeffs", `{"timing": {"dt_s": 0.1, "duration_s": 1}, "reference_coeffs": [1]}`, "reference_coeffs"},
		{"mpc", `{"timing": {"dt_s": 0.1, "duration_s": 1}, "reference_coeffs": [0, 0], "mpc_config": {"horizon": 1}}`, "mpc_config"},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := LoadScenario(writeScenario(t, tc.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}

	_, err := LoadScenario(filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorContains(t, err, "read file")
}
