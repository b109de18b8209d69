package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors, registered via Register.
var (
	regOK atomic.Bool

	processStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "warden",
			Subsystem: "process",
			Name:      "starts_total",
			Help:      "Number of successful process starts.",
		}, []string{"name"},
	)
	processRestarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "warden",
			Subsystem: "process",
			Name:      "restarts_total",
			Help:      "Number of automatic relaunches.",
		}, []string{"name"},
	)
	processStartFails = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "warden",
			Subsystem: "process",
			Name:      "start_failures_total",
			Help:      "Start attempts that failed to spawn or died inside startsecs.",
		}, []string{"name"},
	)
	processStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "warden",
			Subsystem: "process",
			Name:      "stops_total",
			Help:      "Number of observed exits (graceful or kill).",
		}, []string{"name"},
	)
	processGiveUps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "warden",
			Subsystem: "process",
			Name:      "give_ups_total",
			Help:      "Times a watcher exhausted max_restarts and entered the gave_up state.",
		}, []string{"name"},
	)
	processStartDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "warden",
			Subsystem: "process",
			Name:      "start_duration_seconds",
			Help:      "Time from spawn until the start was confirmed.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"name"},
	)
	runningProcesses = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "warden",
			Subsystem: "process",
			Name:      "running",
			Help:      "Whether the named process is currently running.",
		}, []string{"name"},
	)
)

// Register registers all collectors with r (nil means the default
// registerer). Safe to call more than once.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	if r == nil {
		r = prometheus.DefaultRegisterer
	}
	cs := []prometheus.Collector{
		processStarts, processStartFails, processRestarts, processStops,
		processGiveUps, processStartDuration, runningProcesses,
	}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
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

// Handler serves the default gatherer; the caller wires the route.
func Handler() http.Handler { return promhttp.Handler() }

// Recording helpers. They no-op until Register has been called.

func IncStart(name string) {
	if regOK.Load() {
		processStarts.WithLabelValues(name).Inc()
	}
}

func IncStartFail(name string) {
	if regOK.Load() {
		processStartFails.WithLabelValues(name).Inc()
	}
}

func IncRestart(name string) {
	if regOK.Load() {
		processRestarts.WithLabelValues(name).Inc()
	}
}

func IncStop(name string) {
	if regOK.Load() {
		processStops.WithLabelValues(name).Inc()
	}
}

func IncGiveUp(name string) {
	if regOK.Load() {
		processGiveUps.WithLabelValues(name).Inc()
	}
}

func ObserveStartDuration(name string, seconds float64) {
	if regOK.Load() {
		processStartDuration.WithLabelValues(name).Observe(seconds)
	}
}

func SetRunning(name string, running bool) {
	if regOK.Load() {
		v := 0.0
		if running {
			v = 1.0
		}
		runningProcesses.WithLabelValues(name).Set(v)
	}
}
