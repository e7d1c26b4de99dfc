package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	instanceStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "slumber",
			Subsystem: "instance",
			Name:      "starts_total",
			Help:      "Number of successful instance starts.",
		}, []string{"instance"},
	)
	instanceStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "slumber",
			Subsystem: "instance",
			Name:      "stops_total",
			Help:      "Number of instance stops (graceful or kill).",
		}, []string{"instance"},
	)
	forcedKills = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "slumber",
			Subsystem: "instance",
			Name:      "forced_kills_total",
			Help:      "Number of stops that escalated to a hard kill.",
		}, []string{"instance"},
	)
	idleStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "slumber",
			Subsystem: "sleep",
			Name:      "idle_stops_total",
			Help:      "Number of automatic stops triggered by idle detection.",
		}, []string{"instance"},
	)
	wakes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "slumber",
			Subsystem: "sleep",
			Name:      "wakes_total",
			Help:      "Number of wake attempts by result.",
		}, []string{"instance", "result"},
	)
	onlinePlayers = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "slumber",
			Subsystem: "instance",
			Name:      "online_players",
			Help:      "Last observed online player count per instance.",
		}, []string{"instance"},
	)
	pingLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "slumber",
			Subsystem: "query",
			Name:      "ping_latency_seconds",
			Help:      "Status query latency from connect to parsed response.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"instance"},
	)
	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "slumber",
			Subsystem: "instance",
			Name:      "state_transitions_total",
			Help:      "Number of runtime state transitions.",
		}, []string{"instance", "from", "to"},
	)
	currentState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "slumber",
			Subsystem: "instance",
			Name:      "current_state",
			Help:      "Current runtime state per instance (1 = active state, 0 = inactive).",
		}, []string{"instance", "state"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		instanceStarts, instanceStops, forcedKills, idleStops,
		wakes, onlinePlayers, pingLatency, stateTransitions, currentState,
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

// Handler returns an http.Handler serving the default Prometheus gatherer.
func Handler() http.Handler { return promhttp.Handler() }

// Helpers below no-op until Register has been called.

func IncStart(instance string) {
	if regOK.Load() {
		instanceStarts.WithLabelValues(instance).Inc()
	}
}
func IncStop(instance string) {
	if regOK.Load() {
		instanceStops.WithLabelValues(instance).Inc()
	}
}
func IncForcedKill(instance string) {
	if regOK.Load() {
		forcedKills.WithLabelValues(instance).Inc()
	}
}
func IncIdleStop(instance string) {
	if regOK.Load() {
		idleStops.WithLabelValues(instance).Inc()
	}
}
func IncWake(instance, result string) {
	if regOK.Load() {
		wakes.WithLabelValues(instance, result).Inc()
	}
}
func SetOnlinePlayers(instance string, n int) {
	if regOK.Load() {
		onlinePlayers.WithLabelValues(instance).Set(float64(n))
	}
}
func ObservePingLatency(instance string, seconds float64) {
	if regOK.Load() {
		pingLatency.WithLabelValues(instance).Observe(seconds)
	}
}
func RecordStateTransition(instance, from, to string) {
	if regOK.Load() {
		stateTransitions.WithLabelValues(instance, from, to).Inc()
	}
}
func SetCurrentState(instance, state string, active bool) {
	if regOK.Load() {
		v := 0.0
		if active {
			v = 1.0
		}
		currentState.WithLabelValues(instance, state).Set(v)
	}
}
