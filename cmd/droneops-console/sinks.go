package main

import (
	"io"
	"log/slog"
	"os"

	"droneops-console/internal/config"
	"droneops-console/internal/logging"
	"droneops-console/internal/sink"
)

// newTUI is swapped out in tests so no terminal program starts.
var newTUI = func(title string) sink.Writer { return sink.NewTUIWriter(title) }

// useTUI reports whether the terminal UI should own stdout.
func useTUI(cfg config.SinksConfig, isTTY bool) bool {
	switch cfg.TUI {
	case "on":
		return true
	case "off":
		return false
	}
	return isTTY && !cfg.PrintOnly
}

// newLogger keeps log lines off stdout while the TUI draws on it.
func newLogger(cfg config.LoggingConfig, tui bool, logFile string) (*slog.Logger, func(), error) {
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, err
		}
		return logging.NewWithWriter(f, cfg.Level, cfg.JSON), func() { f.Close() }, nil
	}
	if tui {
		return logging.NewWithWriter(io.Discard, cfg.Level, cfg.JSON), func() {}, nil
	}
	return logging.NewWithWriter(os.Stderr, cfg.Level, cfg.JSON), func() {}, nil
}

// newWriters builds the export fan-out: one terminal writer (TUI or JSON
// stdout, the latter only when GreptimeDB is not configured), GreptimeDB
// when an endpoint is set, and JSONL files for every configured path.
func newWriters(cfg config.SinksConfig, tui bool, log *slog.Logger) (*sink.MultiWriter, func(), error) {
	var ws []sink.Writer
	var closers []io.Closer

	switch {
	case tui:
		w := newTUI("DroneOps Console")
		ws = append(ws, w)
		if c, ok := w.(io.Closer); ok {
			closers = append(closers, c)
		}
	case cfg.PrintOnly || cfg.Greptime.Endpoint == "":
		log.Info("print-only mode: rows will be printed to STDOUT")
		ws = append(ws, sink.NewJSONStdoutWriter())
	}

	if cfg.Greptime.Endpoint != "" && !cfg.PrintOnly {
		gw, err := sink.NewGreptimeDBWriter(cfg.Greptime.Endpoint, cfg.Greptime.Database, cfg.Greptime.Tables, log)
		if err != nil {
			closeAll(closers)
			return nil, nil, err
		}
		ws = append(ws, gw)
	}

	f := cfg.Files
	if f.Telemetry != "" || f.Transitions != "" || f.Commands != "" || f.Dispatches != "" {
		fw, err := sink.NewFileWriter(f)
		if err != nil {
			closeAll(closers)
			return nil, nil, err
		}
		ws = append(ws, fw)
		closers = append(closers, fw)
	}

	return sink.NewMultiWriter(ws...), func() { closeAll(closers) }, nil
}

func closeAll(cs []io.Closer) {
	for _, c := range cs {
		c.Close()
	}
}
