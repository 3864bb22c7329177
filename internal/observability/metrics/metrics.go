// Package metrics holds the process metrics, registered on a dedicated
// prometheus registry. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "rentbot"

type Metrics struct {
	reg *prometheus.Registry

	reminderTicks     prometheus.Counter
	reminders         *prometheus.CounterVec
	digests           *prometheus.CounterVec
	deliveries        *prometheus.CounterVec
	broadcastRuns     *prometheus.CounterVec
	broadcastDuration prometheus.Histogram
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := &Metrics{
		reg: reg,
		reminderTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "reminder", Name: "ticks_total",
			Help: "Reminder scheduler ticks.",
		}),
		reminders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "reminder", Name: "deliveries_total",
			Help: "Payment reminder deliveries by status.",
		}, []string{"status"}),
		digests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "digest", Name: "deliveries_total",
			Help: "Administrator digest deliveries by job and status.",
		}, []string{"job", "status"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "broadcast", Name: "deliveries_total",
			Help: "Broadcast deliveries by status.",
		}, []string{"status"}),
		broadcastRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "broadcast", Name: "runs_total",
			Help: "Broadcast runs by result.",
		}, []string{"result"}),
		broadcastDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "broadcast", Name: "duration_seconds",
			Help:    "Wall time of full broadcasts.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}),
	}
	reg.MustRegister(m.reminderTicks, m.reminders, m.digests, m.deliveries, m.broadcastRuns, m.broadcastDuration)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

func (m *Metrics) ReminderTick() {
	if m == nil {
		return
	}
	m.reminderTicks.Inc()
}

func (m *Metrics) Reminder(status string) {
	if m == nil {
		return
	}
	m.reminders.WithLabelValues(status).Inc()
}

func (m *Metrics) Digest(job, status string) {
	if m == nil {
		return
	}
	m.digests.WithLabelValues(job, status).Inc()
}

func (m *Metrics) BroadcastDelivery(status string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.deliveries.WithLabelValues(status).Add(float64(n))
}

// BroadcastRun records a finished run. result is "completed", "interrupted" or "busy".
func (m *Metrics) BroadcastRun(result string, took time.Duration) {
	if m == nil {
		return
	}
	m.broadcastRuns.WithLabelValues(result).Inc()
	if took > 0 {
		m.broadcastDuration.Observe(took.Seconds())
	}
}
