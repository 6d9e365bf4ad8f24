package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Result labels shared by the counters below.
const (
	ResultAccepted  = "accepted"
	ResultStale     = "stale"
	ResultInvalid   = "invalid"
	ResultApplied   = "applied"
	ResultUnchanged = "unchanged"
	ResultDropped   = "dropped"
	ResultIssued    = "issued"
	ResultCooling   = "cooling"
	ResultSuccess   = "success"
	ResultError     = "error"
)

var (
	telemetrySamplesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "droneops",
			Name:      "telemetry_samples_total",
			Help:      "Telemetry samples offered to the merge registry, partitioned by result.",
		},
		[]string{"result"},
	)

	alertEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "droneops",
			Name:      "alert_events_total",
			Help:      "Alert push events and snapshot upserts, partitioned by source and result.",
		},
		[]string{"source", "result"},
	)

	commandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "droneops",
			Name:      "drone_commands_total",
			Help:      "Drone commands passed through the cooldown guard, partitioned by kind and result.",
		},
		[]string{"kind", "result"},
	)

	dispatchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "droneops",
			Name:      "dispatch_requests_total",
			Help:      "Dispatch requests, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	streamFramesDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "droneops",
			Name:      "stream_frames_dropped_total",
			Help:      "Push frames that could not be decoded, partitioned by source.",
		},
		[]string{"source"},
	)

	backendCallSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "droneops",
			Name:      "backend_call_seconds",
			Help:      "Latency of outbound backend calls in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"op", "outcome"},
	)
)

// Register attaches the console collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		telemetrySamplesTotal,
		alertEventsTotal,
		commandsTotal,
		dispatchTotal,
		streamFramesDropped,
		backendCallSeconds,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveTelemetry counts one ingest result.
func ObserveTelemetry(result string) {
	telemetrySamplesTotal.WithLabelValues(result).Inc()
}

// ObserveAlertEvent counts one alert upsert attempt.
func ObserveAlertEvent(source, result string) {
	alertEventsTotal.WithLabelValues(source, result).Inc()
}

// ObserveCommand counts one pass through the cooldown guard.
func ObserveCommand(kind, result string) {
	commandsTotal.WithLabelValues(kind, result).Inc()
}

// ObserveDispatch counts one dispatch outcome.
func ObserveDispatch(outcome string) {
	if outcome != ResultError {
		outcome = ResultSuccess
	}
	dispatchTotal.WithLabelValues(outcome).Inc()
}

// ObserveDroppedFrame counts one undecodable push frame.
func ObserveDroppedFrame(source string) {
	streamFramesDropped.WithLabelValues(source).Inc()
}

// ObserveBackendCall records a backend call duration and outcome.
func ObserveBackendCall(op string, duration time.Duration, err error) {
	outcome := ResultSuccess
	if err != nil {
		outcome = ResultError
	}
	if duration < 0 {
		duration = 0
	}
	backendCallSeconds.WithLabelValues(op, outcome).Observe(duration.Seconds())
}
