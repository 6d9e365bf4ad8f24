package sink

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"os"
	"time"

	"droneops-console/internal/logging"
	"droneops-console/internal/telemetry"
)

// ReplayStats summarises one replay run.
type ReplayStats struct {
	Lines    int
	Accepted int
	Stale    int
	Invalid  int
}

// ReplayLog feeds recorded telemetry lines from r through the registry.
// Accepted samples reach the registry's OnAccept hook. A speed > 0 paces
// playback by the recorded timestamps divided by speed; speed <= 0 replays
// without delay.
func ReplayLog(ctx context.Context, r io.Reader, reg *telemetry.Registry, speed float64, log *slog.Logger) (ReplayStats, error) {
	log = logging.OrDefault(log)
	var st ReplayStats
	var prev time.Time
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		st.Lines++
		s, err := telemetry.DecodeSample(line)
		if err != nil {
			st.Invalid++
			log.Warn("replay line skipped", "line", st.Lines, "error", err)
			continue
		}
		if !prev.IsZero() && speed > 0 {
			diff := s.Timestamp.Sub(prev)
			if speed != 1 {
				diff = time.Duration(float64(diff) / speed)
			}
			if diff > 0 {
				select {
				case <-ctx.Done():
					return st, ctx.Err()
				case <-time.After(diff):
				}
			}
		}
		switch reg.Ingest(s) {
		case telemetry.Accepted:
			st.Accepted++
			prev = s.Timestamp
		case telemetry.Stale:
			st.Stale++
		default:
			st.Invalid++
		}
		if err := ctx.Err(); err != nil {
			return st, err
		}
	}
	return st, sc.Err()
}

// ReplayLogFile opens a file and replays its telemetry lines.
func ReplayLogFile(ctx context.Context, path string, reg *telemetry.Registry, speed float64, log *slog.Logger) (ReplayStats, error) {
	f, err := os.Open(path)
	if err != nil {
		return ReplayStats{}, err
	}
	defer f.Close()
	return ReplayLog(ctx, f, reg, speed, log)
}
