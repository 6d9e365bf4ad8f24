package sink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	gpb "github.com/GreptimeTeam/greptime-proto/go/greptime/v1"
	greptime "github.com/GreptimeTeam/greptimedb-ingester-go"
	"github.com/GreptimeTeam/greptimedb-ingester-go/table"
	"github.com/GreptimeTeam/greptimedb-ingester-go/table/types"

	"droneops-console/internal/alert"
	"droneops-console/internal/command"
	"droneops-console/internal/dispatch"
	"droneops-console/internal/logging"
	"droneops-console/internal/telemetry"
)

const defaultGreptimePort = 4001

type greptimeClient interface {
	Write(ctx context.Context, tables ...*table.Table) (*gpb.GreptimeResponse, error)
}

// GreptimeTables names the target tables.
type GreptimeTables struct {
	Telemetry   string `yaml:"telemetry"`
	Transitions string `yaml:"transitions"`
	Commands    string `yaml:"commands"`
	Dispatches  string `yaml:"dispatches"`
}

// DefaultGreptimeTables returns the stock table names.
func DefaultGreptimeTables() GreptimeTables {
	return GreptimeTables{
		Telemetry:   "drone_telemetry",
		Transitions: "alert_transitions",
		Commands:    "drone_commands",
		Dispatches:  "dispatch_events",
	}
}

// GreptimeDBWriter writes rows to GreptimeDB via the ingester client.
// Tables are created on first write by the server.
type GreptimeDBWriter struct {
	client  greptimeClient
	tables  GreptimeTables
	timeout time.Duration
	log     *slog.Logger
}

// NewGreptimeDBWriter connects to endpoint (host or host:port).
func NewGreptimeDBWriter(endpoint, database string, tables GreptimeTables, log *slog.Logger) (*GreptimeDBWriter, error) {
	host, port, err := splitEndpoint(endpoint)
	if err != nil {
		return nil, err
	}
	cfg := greptime.NewConfig(host).WithPort(port).WithDatabase(database)
	client, err := greptime.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("greptime client: %w", err)
	}
	return newGreptimeDBWriter(client, tables, log), nil
}

func newGreptimeDBWriter(client greptimeClient, tables GreptimeTables, log *slog.Logger) *GreptimeDBWriter {
	def := DefaultGreptimeTables()
	if tables.Telemetry == "" {
		tables.Telemetry = def.Telemetry
	}
	if tables.Transitions == "" {
		tables.Transitions = def.Transitions
	}
	if tables.Commands == "" {
		tables.Commands = def.Commands
	}
	if tables.Dispatches == "" {
		tables.Dispatches = def.Dispatches
	}
	return &GreptimeDBWriter{client: client, tables: tables, timeout: 5 * time.Second, log: logging.OrDefault(log)}
}

func splitEndpoint(endpoint string) (string, int, error) {
	if endpoint == "" {
		return "", 0, errors.New("greptime endpoint not configured")
	}
	host, p, err := net.SplitHostPort(endpoint)
	if err != nil {
		return endpoint, defaultGreptimePort, nil
	}
	port, err := strconv.Atoi(p)
	if err != nil {
		return "", 0, fmt.Errorf("greptime endpoint %q: bad port", endpoint)
	}
	return host, port, nil
}

type column struct {
	name string
	kind string
	typ  types.ColumnType
}

const (
	tagCol   = "tag"
	fieldCol = "field"
	timeCol  = "time"
)

func newTable(name string, cols []column) (*table.Table, error) {
	tbl, err := table.New(name)
	if err != nil {
		return nil, err
	}
	for _, c := range cols {
		switch c.kind {
		case tagCol:
			err = tbl.AddTagColumn(c.name, c.typ)
		case fieldCol:
			err = tbl.AddFieldColumn(c.name, c.typ)
		case timeCol:
			err = tbl.AddTimestampColumn(c.name, c.typ)
		}
		if err != nil {
			return nil, fmt.Errorf("table %s column %s: %w", name, c.name, err)
		}
	}
	return tbl, nil
}

var telemetryColumns = []column{
	{"drone_id", tagCol, types.STRING},
	{"drone_code", fieldCol, types.STRING},
	{"lat", fieldCol, types.FLOAT64},
	{"lon", fieldCol, types.FLOAT64},
	{"altitude", fieldCol, types.FLOAT64},
	{"ground_speed", fieldCol, types.FLOAT64},
	{"battery", fieldCol, types.FLOAT64},
	{"flight_mode", fieldCol, types.STRING},
	{"gps_fix", fieldCol, types.FLOAT64},
	{"satellites", fieldCol, types.FLOAT64},
	{"wind_speed", fieldCol, types.FLOAT64},
	{"distance_to_target", fieldCol, types.FLOAT64},
	{"status", fieldCol, types.STRING},
	{"ts", timeCol, types.TIMESTAMP_MILLISECOND},
}

var transitionColumns = []column{
	{"alert_id", tagCol, types.STRING},
	{"source", tagCol, types.STRING},
	{"sensor_code", fieldCol, types.STRING},
	{"alert_type", fieldCol, types.STRING},
	{"from_status", fieldCol, types.STRING},
	{"to_status", fieldCol, types.STRING},
	{"note", fieldCol, types.STRING},
	{"ts", timeCol, types.TIMESTAMP_MILLISECOND},
}

var commandColumns = []column{
	{"drone_id", tagCol, types.STRING},
	{"kind", tagCol, types.STRING},
	{"drone_code", fieldCol, types.STRING},
	{"issued", fieldCol, types.BOOLEAN},
	{"remaining_ms", fieldCol, types.INT64},
	{"error", fieldCol, types.STRING},
	{"ts", timeCol, types.TIMESTAMP_MILLISECOND},
}

var dispatchColumns = []column{
	{"alert_id", tagCol, types.STRING},
	{"drone_id", fieldCol, types.STRING},
	{"drone_code", fieldCol, types.STRING},
	{"state", fieldCol, types.STRING},
	{"error", fieldCol, types.STRING},
	{"ts", timeCol, types.TIMESTAMP_MILLISECOND},
}

// reading maps unknown values to NULL.
func reading(r telemetry.Reading) any {
	if v, ok := r.Value(); ok {
		return v
	}
	return nil
}

func (w *GreptimeDBWriter) write(name string, tbl *table.Table, rows int) error {
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()
	if _, err := w.client.Write(ctx, tbl); err != nil {
		w.log.Warn("greptime write failed", "table", name, "error", err)
		return err
	}
	w.log.Debug("greptime rows written", "table", name, "rows", rows)
	return nil
}

// WriteTelemetry inserts a single sample.
func (w *GreptimeDBWriter) WriteTelemetry(s telemetry.Sample) error {
	return w.WriteTelemetryBatch([]telemetry.Sample{s})
}

// WriteTelemetryBatch inserts multiple samples in one request.
func (w *GreptimeDBWriter) WriteTelemetryBatch(samples []telemetry.Sample) error {
	if len(samples) == 0 {
		return nil
	}
	tbl, err := newTable(w.tables.Telemetry, telemetryColumns)
	if err != nil {
		return err
	}
	for _, s := range samples {
		if err := tbl.AddRow(
			s.Drone.ID, s.Drone.Code,
			reading(s.Lat), reading(s.Lon), reading(s.Altitude),
			reading(s.GroundSpeed), reading(s.Battery),
			s.FlightMode,
			reading(s.GPSFix), reading(s.Satellites), reading(s.WindSpeed), reading(s.DistanceToTarget),
			s.Status, s.Timestamp,
		); err != nil {
			return err
		}
	}
	return w.write(w.tables.Telemetry, tbl, len(samples))
}

// WriteTransition inserts an alert transition.
func (w *GreptimeDBWriter) WriteTransition(t alert.Transition) error {
	tbl, err := newTable(w.tables.Transitions, transitionColumns)
	if err != nil {
		return err
	}
	if err := tbl.AddRow(t.AlertID, string(t.Source), t.SensorCode, t.Type, string(t.From), string(t.To), t.Note, t.At); err != nil {
		return err
	}
	return w.write(w.tables.Transitions, tbl, 1)
}

// WriteCommand inserts a command row.
func (w *GreptimeDBWriter) WriteCommand(r command.Row) error {
	tbl, err := newTable(w.tables.Commands, commandColumns)
	if err != nil {
		return err
	}
	if err := tbl.AddRow(r.DroneID, string(r.Kind), r.DroneCode, r.Issued, r.RemainingMs, r.Error, r.Timestamp); err != nil {
		return err
	}
	return w.write(w.tables.Commands, tbl, 1)
}

// WriteDispatch inserts a dispatch row.
func (w *GreptimeDBWriter) WriteDispatch(r dispatch.Row) error {
	tbl, err := newTable(w.tables.Dispatches, dispatchColumns)
	if err != nil {
		return err
	}
	if err := tbl.AddRow(r.AlertID, r.DroneID, r.DroneCode, r.State, r.Error, r.Timestamp); err != nil {
		return err
	}
	return w.write(w.tables.Dispatches, tbl, 1)
}
