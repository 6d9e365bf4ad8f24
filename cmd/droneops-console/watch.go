package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"droneops-console/internal/admin"
	"droneops-console/internal/alert"
	"droneops-console/internal/command"
	"droneops-console/internal/config"
	"droneops-console/internal/console"
	"droneops-console/internal/dispatch"
	"droneops-console/internal/gateway"
	"droneops-console/internal/logging"
	"droneops-console/internal/metrics"
	"droneops-console/internal/stream"
	"droneops-console/internal/telemetry"
)

var (
	watchConfigPath string
	watchSchemaPath string
	watchPrintOnly  bool
	watchNoAdmin    bool
	watchLogFile    string
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run the live operator picture",
	Long:  "watch loads the alert snapshot, follows the push streams, serves the admin UI and exports telemetry and decisions to the configured sinks.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(watchConfigPath, watchSchemaPath)
		if err != nil {
			return err
		}
		if watchPrintOnly {
			cfg.Sinks.PrintOnly = true
		}
		if watchNoAdmin {
			cfg.Admin.Enabled = false
		}

		tui := useTUI(cfg.Sinks, term.IsTerminal(int(os.Stdout.Fd())))
		logger, closeLog, err := newLogger(cfg.Logging, tui, watchLogFile)
		if err != nil {
			return err
		}
		defer closeLog()

		if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
			return err
		}

		out, cleanup, err := newWriters(cfg.Sinks, tui, logger)
		if err != nil {
			return err
		}
		defer cleanup()

		snapshot, err := cfg.Snapshot.Query()
		if err != nil {
			return err
		}

		gw := gateway.New(gateway.Options{
			BaseURL:    cfg.Backend.BaseURL,
			AlertsPath: cfg.Backend.AlertsPath,
			DronesPath: cfg.Backend.DronesPath,
			Token:      cfg.Backend.Token,
			Timeout:    cfg.Backend.Timeout,
		}, logger)
		alerts := alert.NewCoordinator(gw, alert.Options{
			Timeout:  cfg.Backend.Timeout,
			PageSize: cfg.Snapshot.PageSize,
			MaxPages: cfg.Snapshot.MaxPages,
		}, logger)
		reg := telemetry.NewRegistry(logger)
		commands := command.NewCommander(command.NewGuard(cfg.Commands.Cooldown, nil), gw, cfg.Commands.Timeout, out, logger)

		c := console.New(console.Deps{
			Alerts:   alerts,
			Registry: reg,
			Dispatch: dispatch.NewController(alerts, reg, out, logger),
			Commands: commands,
			Sources:  sources(cfg.Stream),
			Sink:     out,
		}, console.Options{
			SnapshotInterval: cfg.Snapshot.Interval,
			Snapshot:         snapshot,
			StaleAfter:       cfg.Telemetry.StaleAfter,
			FrameBuffer:      cfg.Stream.FrameBuffer,
		}, logger)

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		ctx = logging.NewContext(ctx, logger)

		var srv *admin.Server
		if cfg.Admin.Enabled {
			srv = admin.NewServer(c, prometheus.DefaultGatherer, logger)
			go func() {
				if !tui {
					log.Printf("[Main] Admin UI listening on %s", cfg.Admin.Addr)
				}
				out.SetAdminStatus(true)
				if err := srv.Start(cfg.Admin.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("admin server failed", "error", err)
					out.SetAdminStatus(false)
				}
			}()
		}

		err = c.Run(ctx)

		if srv != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if serr := srv.Shutdown(shutdownCtx); serr != nil {
				logger.Warn("admin server shutdown", "error", serr)
			}
			cancel()
		}
		if !tui {
			log.Println("[Main] DroneOps console stopped.")
		}
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}

// sources builds the configured push sources. Either may be absent; with
// neither the console still refreshes from periodic snapshots. Sources log
// through the logger carried by the run context.
func sources(cfg config.StreamConfig) []stream.Source {
	var out []stream.Source
	if cfg.URL != "" {
		out = append(out, &stream.WSSource{URL: cfg.URL, MaxBackoff: cfg.MaxBackoff})
	}
	if cfg.NATSURL != "" {
		out = append(out, &stream.NATSSource{
			URL:     cfg.NATSURL,
			Subject: cfg.TelemetrySubject,
			Name:    "droneops-console",
		})
	}
	return out
}

func init() {
	watchCmd.Flags().StringVar(&watchConfigPath, "config", "config/console.yaml", "Path to console configuration YAML")
	watchCmd.Flags().StringVar(&watchSchemaPath, "schema", "schemas/console.cue", "Path to CUE schema file")
	watchCmd.Flags().BoolVar(&watchPrintOnly, "print-only", false, "Print rows to STDOUT instead of writing to DB")
	watchCmd.Flags().BoolVar(&watchNoAdmin, "no-admin", false, "Do not start the admin HTTP server")
	watchCmd.Flags().StringVar(&watchLogFile, "log-file", "", "Write structured logs to this file instead of stderr")
}
