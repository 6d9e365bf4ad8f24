package sink

import (
	"errors"
	"time"

	"droneops-console/internal/alert"
	"droneops-console/internal/command"
	"droneops-console/internal/dispatch"
	"droneops-console/internal/telemetry"
)

var ts0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func testSample(id string, sec int) telemetry.Sample {
	return telemetry.Sample{
		Drone:     telemetry.DroneIdentity{ID: id, Code: "HAWK-" + id},
		Lat:       telemetry.KnownReading(48.2),
		Lon:       telemetry.KnownReading(16.37),
		Battery:   telemetry.KnownReading(80),
		Altitude:  telemetry.Unknown(),
		Timestamp: ts0.Add(time.Duration(sec) * time.Second),
	}
}

type collectWriter struct {
	samples     []telemetry.Sample
	batches     int
	transitions []alert.Transition
	commands    []command.Row
	dispatches  []dispatch.Row
	counts      map[alert.Status]int
	stale       []string
	admin       bool
	closed      bool
	err         error
}

func (c *collectWriter) WriteTelemetry(s telemetry.Sample) error {
	c.samples = append(c.samples, s)
	return c.err
}

func (c *collectWriter) WriteTransition(t alert.Transition) error {
	c.transitions = append(c.transitions, t)
	return c.err
}

func (c *collectWriter) WriteCommand(r command.Row) error {
	c.commands = append(c.commands, r)
	return c.err
}

func (c *collectWriter) WriteDispatch(r dispatch.Row) error {
	c.dispatches = append(c.dispatches, r)
	return c.err
}

type batchCollectWriter struct{ collectWriter }

func (b *batchCollectWriter) WriteTelemetryBatch(s []telemetry.Sample) error {
	b.batches++
	b.samples = append(b.samples, s...)
	return nil
}

func (b *batchCollectWriter) SetAlertCounts(c map[alert.Status]int) { b.counts = c }
func (b *batchCollectWriter) SetStaleDrones(ids []string)           { b.stale = ids }
func (b *batchCollectWriter) SetAdminStatus(on bool)                { b.admin = on }
func (b *batchCollectWriter) Close() error {
	b.closed = true
	return nil
}

var errSinkDown = errors.New("sink down")
