package stream

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"droneops-console/internal/metrics"
)

// NATSSource subscribes to bare telemetry payloads on a subject.
type NATSSource struct {
	URL           string
	Subject       string
	Name          string
	ReconnectWait time.Duration
	Log           *slog.Logger
}

// Run connects, subscribes and forwards samples until ctx is cancelled.
func (s *NATSSource) Run(ctx context.Context, out chan<- Frame) error {
	log := sourceLogger(ctx, s.Log)
	wait := s.ReconnectWait
	if wait <= 0 {
		wait = 2 * time.Second
	}
	name := s.Name
	if name == "" {
		name = "droneops-console"
	}

	nc, err := nats.Connect(s.URL,
		nats.Name(name),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(wait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			log.Error("nats error", "error", err)
		}),
	)
	if err != nil {
		return fmt.Errorf("connect to nats: %w", err)
	}
	defer nc.Close()

	sub, err := nc.Subscribe(s.Subject, func(m *nats.Msg) {
		f, ok := s.handle(m.Data, log)
		if ok {
			deliver(ctx, out, f)
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", s.Subject, err)
	}
	log.Info("nats telemetry subscribed", "subject", s.Subject)

	<-ctx.Done()
	if err := sub.Unsubscribe(); err != nil {
		log.Debug("nats unsubscribe failed", "error", err)
	}
	return nil
}

func (s *NATSSource) handle(data []byte, log *slog.Logger) (Frame, bool) {
	f, err := DecodeTelemetry(data)
	if err != nil {
		metrics.ObserveDroppedFrame("nats")
		log.Warn("nats telemetry dropped", "subject", s.Subject, "error", err)
		return Frame{}, false
	}
	return f, true
}
