package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"droneops-console/internal/config"
	"droneops-console/internal/sink"
	"droneops-console/internal/telemetry"
)

var (
	replayInput     string
	replaySpeed     float64
	replayPrintOnly bool
	replayConfig    string
	replaySchema    string
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay a telemetry log file",
	Long:  "replay feeds recorded telemetry rows through the merge registry and writes accepted samples to the configured sinks.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if replayInput == "" {
			return fmt.Errorf("input file required")
		}
		sinks := config.Default().Sinks
		logCfg := config.Default().Logging
		if replayConfig != "" {
			cfg, err := config.Load(replayConfig, replaySchema)
			if err != nil {
				return err
			}
			sinks, logCfg = cfg.Sinks, cfg.Logging
		}
		sinks.TUI = "off"
		if replayPrintOnly {
			sinks.PrintOnly = true
		}

		log, closeLog, err := newLogger(logCfg, false, "")
		if err != nil {
			return err
		}
		defer closeLog()
		session := uuid.NewString()
		log = log.With("session", session)

		out, cleanup, err := newWriters(sinks, false, log)
		if err != nil {
			return err
		}
		defer cleanup()

		reg := telemetry.NewRegistry(log)
		reg.OnAccept(func(s telemetry.Sample) {
			if err := out.WriteTelemetry(s); err != nil {
				log.Warn("replay sink write failed", "drone_id", s.Drone.ID, "error", err)
			}
		})

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := sink.ReplayLogFile(ctx, replayInput, reg, replaySpeed, log)
		log.Info("replay finished", "lines", st.Lines, "accepted", st.Accepted, "stale", st.Stale, "invalid", st.Invalid)
		if err != nil && ctx.Err() == nil {
			return err
		}
		return nil
	},
}

func init() {
	replayCmd.Flags().StringVar(&replayInput, "input", "", "Path to telemetry log file")
	replayCmd.Flags().Float64Var(&replaySpeed, "speed", 1.0, "Playback speed multiplier (0 replays without delay)")
	replayCmd.Flags().BoolVar(&replayPrintOnly, "print-only", false, "Print rows to STDOUT instead of writing to DB")
	replayCmd.Flags().StringVar(&replayConfig, "config", "", "Optional console configuration YAML for sink settings")
	replayCmd.Flags().StringVar(&replaySchema, "schema", "schemas/console.cue", "Path to CUE schema file")
	replayCmd.MarkFlagRequired("input")
}
