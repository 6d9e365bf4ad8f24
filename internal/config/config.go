// YAML config loader with CUE validation integration
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"droneops-console/internal/alert"
	"droneops-console/internal/command"
	"droneops-console/internal/sink"
)

// BackendConfig points at the alert/drone management service.
type BackendConfig struct {
	BaseURL    string        `yaml:"base_url"`
	AlertsPath string        `yaml:"alerts_path"`
	DronesPath string        `yaml:"drones_path"`
	Token      string        `yaml:"token"`
	Timeout    time.Duration `yaml:"timeout"`
}

// StreamConfig describes the push sources. Either may be empty.
type StreamConfig struct {
	URL              string        `yaml:"url"`
	NATSURL          string        `yaml:"nats_url"`
	TelemetrySubject string        `yaml:"telemetry_subject"`
	MaxBackoff       time.Duration `yaml:"max_backoff"`
	FrameBuffer      int           `yaml:"frame_buffer"`
}

// SnapshotConfig controls the periodic alert refresh.
type SnapshotConfig struct {
	Interval time.Duration `yaml:"interval"`
	Status   string        `yaml:"status"`
	PageSize int           `yaml:"page_size"`
	MaxPages int           `yaml:"max_pages"`
	Sort     string        `yaml:"sort"`
	Order    string        `yaml:"order"`
}

// TelemetryConfig holds the staleness threshold.
type TelemetryConfig struct {
	StaleAfter time.Duration `yaml:"stale_after"`
}

// CommandsConfig holds the per drone/command cooldown.
type CommandsConfig struct {
	Cooldown time.Duration `yaml:"cooldown"`
	Timeout  time.Duration `yaml:"timeout"`
}

// AdminConfig controls the operator HTTP surface.
type AdminConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// GreptimeConfig enables the GreptimeDB sink when Endpoint is set.
type GreptimeConfig struct {
	Endpoint string              `yaml:"endpoint"`
	Database string              `yaml:"database"`
	Tables   sink.GreptimeTables `yaml:"tables"`
}

// SinksConfig selects where telemetry and decisions are exported.
type SinksConfig struct {
	// TUI is one of auto, on, off. auto draws only when stdout is a terminal.
	TUI       string         `yaml:"tui"`
	PrintOnly bool           `yaml:"print_only"`
	Files     sink.FilePaths `yaml:"files"`
	Greptime  GreptimeConfig `yaml:"greptime"`
}

// Config is the root configuration of the console.
type Config struct {
	Backend   BackendConfig   `yaml:"backend"`
	Stream    StreamConfig    `yaml:"stream"`
	Snapshot  SnapshotConfig  `yaml:"snapshot"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Commands  CommandsConfig  `yaml:"commands"`
	Admin     AdminConfig     `yaml:"admin"`
	Logging   LoggingConfig   `yaml:"logging"`
	Sinks     SinksConfig     `yaml:"sinks"`
}

// Default returns a config with every optional field populated.
func Default() Config {
	return Config{
		Backend: BackendConfig{
			AlertsPath: "/api/alerts",
			DronesPath: "/api/drones",
			Timeout:    5 * time.Second,
		},
		Stream: StreamConfig{
			TelemetrySubject: "droneops.telemetry",
			MaxBackoff:       30 * time.Second,
			FrameBuffer:      256,
		},
		Snapshot: SnapshotConfig{
			Interval: 30 * time.Second,
			PageSize: 100,
			MaxPages: 20,
			Sort:     string(alert.SortCreatedAt),
			Order:    "desc",
		},
		Telemetry: TelemetryConfig{StaleAfter: 30 * time.Second},
		Commands:  CommandsConfig{Cooldown: command.DefaultCooldown, Timeout: 5 * time.Second},
		Admin:     AdminConfig{Enabled: true, Addr: ":8080"},
		Logging:   LoggingConfig{Level: "info"},
		Sinks: SinksConfig{
			TUI:      "auto",
			Greptime: GreptimeConfig{Database: "public", Tables: sink.DefaultGreptimeTables()},
		},
	}
}

// Load reads configPath over the defaults, validates the raw YAML against
// the CUE schema when cueSchemaPath is set, then applies env overrides.
// An empty configPath yields defaults plus env.
func Load(configPath, cueSchemaPath string) (*Config, error) {
	cfg := Default()
	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("cannot read config: %w", err)
		}
		if cueSchemaPath != "" {
			if err := ValidateWithCue(data, cueSchemaPath); err != nil {
				return nil, err
			}
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("cannot unmarshal YAML config: %w", err)
		}
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyEnv overrides fields from the environment. getenv is os.Getenv
// outside of tests.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	setString := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	setDuration := func(key string, dst *time.Duration) error {
		v := getenv(key)
		if v == "" {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
		*dst = d
		return nil
	}

	setString("DRONEOPS_BACKEND_URL", &c.Backend.BaseURL)
	setString("DRONEOPS_BACKEND_TOKEN", &c.Backend.Token)
	setString("DRONEOPS_STREAM_URL", &c.Stream.URL)
	setString("NATS_URL", &c.Stream.NATSURL)
	setString("GREPTIMEDB_ENDPOINT", &c.Sinks.Greptime.Endpoint)
	setString("GREPTIMEDB_DATABASE", &c.Sinks.Greptime.Database)
	setString("LOG_LEVEL", &c.Logging.Level)
	return errors.Join(
		setDuration("SNAPSHOT_INTERVAL", &c.Snapshot.Interval),
		setDuration("COMMAND_COOLDOWN", &c.Commands.Cooldown),
	)
}

// Validate checks the semantic rules the schema cannot express.
func (c *Config) Validate() error {
	var errs []error
	if c.Backend.BaseURL == "" {
		errs = append(errs, errors.New("backend.base_url is required"))
	} else if u, err := url.Parse(c.Backend.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("backend.base_url %q is not an absolute URL", c.Backend.BaseURL))
	}
	for name, d := range map[string]time.Duration{
		"backend.timeout":       c.Backend.Timeout,
		"snapshot.interval":     c.Snapshot.Interval,
		"telemetry.stale_after": c.Telemetry.StaleAfter,
		"commands.cooldown":     c.Commands.Cooldown,
		"commands.timeout":      c.Commands.Timeout,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}
	if c.Snapshot.PageSize <= 0 || c.Snapshot.MaxPages <= 0 {
		errs = append(errs, errors.New("snapshot.page_size and snapshot.max_pages must be positive"))
	}
	if _, err := c.Snapshot.Query(); err != nil {
		errs = append(errs, err)
	}
	if c.Stream.URL != "" {
		if u, err := url.Parse(c.Stream.URL); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
			errs = append(errs, fmt.Errorf("stream.url %q must be a ws:// or wss:// URL", c.Stream.URL))
		}
	}
	if c.Stream.NATSURL != "" && c.Stream.TelemetrySubject == "" {
		errs = append(errs, errors.New("stream.telemetry_subject is required with stream.nats_url"))
	}
	switch c.Sinks.TUI {
	case "auto", "on", "off":
	default:
		errs = append(errs, fmt.Errorf("sinks.tui must be auto, on or off, got %q", c.Sinks.TUI))
	}
	return errors.Join(errs...)
}

// Query converts the snapshot settings into the coordinator's fetch filter.
func (s SnapshotConfig) Query() (alert.Query, error) {
	q := alert.Query{Limit: s.PageSize}
	if s.Status != "" {
		st, err := alert.ParseStatus(s.Status)
		if err != nil {
			return q, fmt.Errorf("snapshot.status: %w", err)
		}
		q.Status = st
	}
	switch alert.SortKey(s.Sort) {
	case "", alert.SortCreatedAt, alert.SortDecidedAt:
		q.Sort = alert.SortKey(s.Sort)
	default:
		return q, fmt.Errorf("snapshot.sort: unknown key %q", s.Sort)
	}
	switch strings.ToLower(s.Order) {
	case "", "desc":
		q.Desc = true
	case "asc":
	default:
		return q, fmt.Errorf("snapshot.order: must be asc or desc, got %q", s.Order)
	}
	return q, nil
}
