package admin

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"html/template"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"droneops-console/internal/alert"
	"droneops-console/internal/command"
	"droneops-console/internal/console"
	"droneops-console/internal/faults"
	"droneops-console/internal/logging"
	"droneops-console/internal/telemetry"
)

// Server is the operator HTTP surface over a running console.
type Server struct {
	Console  *console.Console
	gatherer prometheus.Gatherer
	tpl      *template.Template
	log      *slog.Logger
	srv      *http.Server
}

//go:embed templates/index.html
var content embed.FS

// NewServer builds the admin server. gatherer backs /metrics; nil uses the
// default registry.
func NewServer(c *console.Console, gatherer prometheus.Gatherer, log *slog.Logger) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	tpl := template.Must(template.New("index.html").Funcs(template.FuncMap{
		"reading": func(r telemetry.Reading) string {
			if v, ok := r.Value(); ok {
				return strconv.FormatFloat(v, 'f', -1, 64)
			}
			return "-"
		},
	}).ParseFS(content, "templates/index.html"))
	return &Server{Console: c, gatherer: gatherer, tpl: tpl, log: logging.OrDefault(log)}
}

// Handler returns the routed mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /alerts", s.handleAlerts)
	mux.HandleFunc("GET /alerts/{id}", s.handleAlert)
	mux.HandleFunc("POST /alerts/{id}/dispatch", s.handleDispatch)
	mux.HandleFunc("POST /alerts/{id}/neutralise", s.handleNeutralise)
	mux.HandleFunc("GET /telemetry", s.handleTelemetry)
	mux.HandleFunc("GET /drones/tracked", s.handleTracked)
	mux.HandleFunc("POST /drones/{id}/drop-payload", s.handleCommand(command.DropPayload))
	mux.HandleFunc("POST /drones/{id}/recall", s.handleCommand(command.Recall))
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	return mux
}

// Start listens on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
	}
	s.log.Info("admin server listening", "addr", addr)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the listener gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// statusFor maps fault kinds to HTTP status codes.
func statusFor(err error) int {
	switch faults.KindOf(err) {
	case faults.NotFound:
		return http.StatusNotFound
	case faults.Precondition, faults.InFlight:
		return http.StatusConflict
	case faults.Validation:
		return http.StatusBadRequest
	case faults.Rejected:
		return http.StatusUnprocessableEntity
	case faults.Transient:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), map[string]any{
		"success": false,
		"kind":    faults.KindOf(err),
		"error":   err.Error(),
	})
}

type indexData struct {
	Counts     map[alert.Status]int
	Statuses   []alert.Status
	Alerts     []alert.Alert
	Telemetry  []telemetry.Sample
	Stale      map[string]bool
	StaleAfter time.Duration
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	stale := make(map[string]bool)
	for _, id := range s.Console.StaleDrones() {
		stale[id] = true
	}
	data := indexData{
		Counts:     s.Console.Alerts().Counts(),
		Statuses:   alert.Statuses,
		Alerts:     s.Console.Alerts().List(alert.Query{}),
		Telemetry:  s.Console.Registry().Sorted(),
		Stale:      stale,
		StaleAfter: s.Console.StaleAfter(),
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.tpl.Execute(w, data); err != nil {
		s.log.Warn("index render failed", "error", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"alerts":    s.Console.Alerts().Counts(),
		"telemetry": s.Console.Registry().Stats(),
	})
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	var q alert.Query
	if v := r.URL.Query().Get("status"); v != "" {
		st, err := alert.ParseStatus(v)
		if err != nil {
			writeError(w, faults.New("admin.alerts", faults.Validation, "", err.Error(), nil))
			return
		}
		q.Status = st
	}
	alerts := s.Console.Alerts().List(q)
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 && n < len(alerts) {
			alerts = alerts[:n]
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"alerts": alerts, "total": len(alerts)})
}

func (s *Server) handleAlert(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	a, ok := s.Console.Alerts().Get(id)
	if !ok {
		writeError(w, faults.New("admin.alert", faults.NotFound, id, "unknown alert", nil))
		return
	}
	resp := map[string]any{"alert": a}
	if as, ok := s.Console.Alerts().Assignment(id); ok {
		resp["assignment"] = as
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	out := s.Console.Dispatch().Dispatch(r.Context(), r.PathValue("id"))
	if out.Err != nil {
		writeError(w, out.Err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"drone":      out.Drone,
		"assignment": out.Assignment,
	})
}

func (s *Server) handleNeutralise(w http.ResponseWriter, r *http.Request) {
	var body struct {
		DecisionNote string `json:"decision_note"`
	}
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, faults.New("admin.neutralise", faults.Validation, "", "bad request body", err))
			return
		}
	}
	a, err := s.Console.Alerts().RequestNeutralise(r.Context(), r.PathValue("id"), body.DecisionNote)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "alert": a})
}

func (s *Server) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Console.Registry().Sorted())
}

func (s *Server) handleTracked(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Console.Dispatch().Tracked())
}

func (s *Server) handleCommand(kind command.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		drone := telemetry.DroneIdentity{ID: r.PathValue("id")}
		if latest, ok := s.Console.Registry().Latest(drone.ID); ok {
			drone = latest.Drone
		}
		out := s.Console.Commands().Issue(r.Context(), kind, drone)
		if faults.Is(out.Err, faults.Validation) {
			writeError(w, out.Err)
			return
		}
		resp := map[string]any{
			"issued":       out.Issued,
			"remaining_ms": out.RemainingMs(),
		}
		if out.Err != nil {
			resp["error"] = out.Err.Error()
		}
		if alertID, ok := s.Console.Dispatch().AlertFor(drone.ID); ok {
			resp["alert_id"] = alertID
		}
		writeJSON(w, http.StatusOK, resp)
	}
}
