package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the launcher's Prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	launches       *prometheus.CounterVec
	launchDuration prometheus.Histogram
	terminations   *prometheus.CounterVec
	healthChecks   *prometheus.CounterVec
	monitorCycles  *prometheus.CounterVec
}

// New registers the collectors with reg. Pass prometheus.DefaultRegisterer
// in the daemon and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		launches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "qlaunch_launches_total",
				Help: "Total Cloud Run job launches by result",
			},
			[]string{"result"},
		),
		launchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "qlaunch_launch_duration_seconds",
			Help:    "Time from launch request to a known Cloud Run execution",
			Buckets: prometheus.DefBuckets,
		}),
		terminations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "qlaunch_terminations_total",
				Help: "Total run terminations by result",
			},
			[]string{"result"},
		),
		healthChecks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "qlaunch_health_checks_total",
				Help: "Total worker health checks by reported status",
			},
			[]string{"status"},
		),
		monitorCycles: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "qlaunch_monitor_cycles_total",
				Help: "Total monitor cycles by outcome",
			},
			[]string{"outcome"},
		),
	}
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// ObserveLaunch records one launch attempt.
func (m *Metrics) ObserveLaunch(started time.Time, err error) {
	if m == nil {
		return
	}
	m.launches.WithLabelValues(resultLabel(err)).Inc()
	if err == nil {
		m.launchDuration.Observe(time.Since(started).Seconds())
	}
}

// ObserveTermination records one terminate call. A call that had nothing
// to cancel is recorded as "noop".
func (m *Metrics) ObserveTermination(terminated bool, err error) {
	if m == nil {
		return
	}
	result := "canceled"
	switch {
	case err != nil:
		result = "error"
	case !terminated:
		result = "noop"
	}
	m.terminations.WithLabelValues(result).Inc()
}

// ObserveHealthCheck records the status a health check reported.
func (m *Metrics) ObserveHealthCheck(status string) {
	if m == nil {
		return
	}
	m.healthChecks.WithLabelValues(status).Inc()
}

// ObserveMonitorCycle records whether a monitor cycle ran or skipped.
func (m *Metrics) ObserveMonitorCycle(outcome string) {
	if m == nil {
		return
	}
	m.monitorCycles.WithLabelValues(outcome).Inc()
}
