package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"mpc-track-core/utils"
)

func main() {
	var (
		iface     = flag.String("iface", "", "SocketCAN interface name (empty: log frames only)")
		mapPath   = flag.String("map", "config/can/can_map.csv", "Path to can_map.csv")
		scenPath  = flag.String("scenario", "closed_loop/scenarios/lane_change.json", "Scenario JSON file")
		mpcPath   = flag.String("mpc-config", "", "Optional MPC config JSON overriding the scenario's mpc_config")
		frameName = flag.String("frame", "MPC_CMD", "Frame name to transmit")
		telemetry = flag.String("telemetry", "", "Optional per-cycle telemetry CSV path")
		monitor   = flag.Bool("monitor", false, "Read transmitted frames back off the bus and check the rolling counter")
		logLevel  = flag.String("log", "info", "trace|debug|info|warn|error|critical")
	)
	flag.Parse()

	log, err := utils.NewFileLogger("closed_loop.log", utils.ParseLevel(*logLevel), true)
	if err != nil {
		_, _ = os.Stderr.WriteString("ERROR: cannot open closed_loop.log: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer log.Close()

	cfg := RunnerConfig{
		Interface:     *iface,
		MapPath:       *mapPath,
		ScenarioPath:  *scenPath,
		MPCConfigPath: *mpcPath,
		FrameName:     *frameName,
		TelemetryPath: *telemetry,
		Monitor:       *monitor,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runner, err := NewRunner(ctx, cfg, log)
	if err != nil {
		log.Critical("Startup failed: %v", err)
		os.Exit(1)
	}
	defer runner.Close()

	if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Critical("Run %s failed: %v", runner.RunID(), err)
		os.Exit(1)
	}
}
