package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Tick outcomes used as the "result" label.
const (
	ResultSynced    = "synced"
	ResultUnsynced  = "unsynced"
	ResultNoProcess = "no_process"
	ResultError     = "error"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	ticks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "affinityd",
			Subsystem: "worker",
			Name:      "ticks_total",
			Help:      "Number of completed reconciliation ticks by result.",
		}, []string{"result"},
	)
	tickErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "affinityd",
			Subsystem: "worker",
			Name:      "errors_total",
			Help:      "Number of failed ticks by the stage that failed.",
		}, []string{"stage"},
	)
	corrections = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "affinityd",
			Subsystem: "worker",
			Name:      "corrections_total",
			Help:      "Number of ticks that rewrote drifted affinity masks.",
		},
	)
	tickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "affinityd",
			Subsystem: "worker",
			Name:      "tick_duration_seconds",
			Help:      "Time spent in a tick excluding the cooldown sleep.",
			Buckets:   prometheus.DefBuckets,
		},
	)
	matched = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "affinityd",
			Subsystem: "target",
			Name:      "matched_processes",
			Help:      "Processes matching the configured name in the last tick.",
		},
	)
	synced = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "affinityd",
			Subsystem: "target",
			Name:      "synced",
			Help:      "1 when every matched process has the desired affinity, 0 when not, -1 when unknown.",
		},
	)
	lastHeartbeat = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "affinityd",
			Subsystem: "worker",
			Name:      "last_heartbeat_timestamp_seconds",
			Help:      "Unix time of the most recent heartbeat.",
		},
	)
)

// Register registers all metrics with the provided registerer. Registering
// the same registerer twice is not an error, and several registries may
// share the collectors.
func Register(r prometheus.Registerer) error {
	cs := []prometheus.Collector{ticks, tickErrors, corrections, tickDuration, matched, synced, lastHeartbeat}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// HandlerFor serves metrics from a specific gatherer.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Below are lightweight helpers used by the worker to record metrics.
// They no-op if Register hasn't been called.

func IncTick(result string) {
	if regOK.Load() {
		ticks.WithLabelValues(result).Inc()
	}
}

func IncError(stage string) {
	if regOK.Load() {
		tickErrors.WithLabelValues(stage).Inc()
	}
}

func IncCorrection() {
	if regOK.Load() {
		corrections.Inc()
	}
}

func ObserveTickDuration(seconds float64) {
	if regOK.Load() {
		tickDuration.Observe(seconds)
	}
}

func SetMatched(n int) {
	if regOK.Load() {
		matched.Set(float64(n))
	}
}

// SetSynced records the sync state; nil means unknown.
func SetSynced(v *bool) {
	if !regOK.Load() {
		return
	}
	switch {
	case v == nil:
		synced.Set(-1)
	case *v:
		synced.Set(1)
	default:
		synced.Set(0)
	}
}

func SetLastHeartbeat(unixSeconds float64) {
	if regOK.Load() {
		lastHeartbeat.Set(unixSeconds)
	}
}
