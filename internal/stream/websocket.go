package stream

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"droneops-console/internal/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20

	minBackoff = 500 * time.Millisecond
	maxBackoff = 30 * time.Second
)

// WSSource reads push envelopes from a WebSocket endpoint and reconnects
// with capped exponential backoff.
type WSSource struct {
	URL    string
	Header http.Header
	Dialer *websocket.Dialer
	Log    *slog.Logger

	// MaxBackoff caps the reconnect delay; zero means 30s.
	MaxBackoff time.Duration
}

// Run connects and reads until ctx is cancelled.
func (s *WSSource) Run(ctx context.Context, out chan<- Frame) error {
	log := sourceLogger(ctx, s.Log)
	limit := s.MaxBackoff
	if limit <= 0 {
		limit = maxBackoff
	}
	backoff := minBackoff
	for {
		connected, err := s.session(ctx, out, log)
		if ctx.Err() != nil {
			return nil
		}
		if connected {
			backoff = minBackoff
		}
		log.Warn("push stream disconnected", "url", s.URL, "error", err, "retry_in", backoff)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, limit)
	}
}

// session runs one connection. connected reports whether the dial succeeded.
func (s *WSSource) session(ctx context.Context, out chan<- Frame, log *slog.Logger) (connected bool, err error) {
	dialer := s.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, _, err := dialer.DialContext(ctx, s.URL, s.Header)
	if err != nil {
		return false, err
	}
	log.Info("push stream connected", "url", s.URL)

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				conn.Close()
				return
			case <-done:
				conn.Close()
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					log.Debug("push stream ping failed", "error", err)
				}
			}
		}
	}()

	conn.SetReadLimit(maxMessageSize)
	if err := conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return true, err
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return true, errors.New("closed by server")
			}
			return true, err
		}
		// Any traffic proves the peer is alive.
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		f, err := Decode(data)
		if err != nil {
			metrics.ObserveDroppedFrame("websocket")
			log.Warn("push frame dropped", "error", err)
			continue
		}
		if !deliver(ctx, out, f) {
			return true, ctx.Err()
		}
	}
}
