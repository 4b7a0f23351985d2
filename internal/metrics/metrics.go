// Package metrics exposes the wifi subsystem counters to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shazow/wifimgr/wifi"
)

const namespace = "wifimgr"

// Collectors implements wifi.Metrics, worker.Observer and wifi.EventListener.
type Collectors struct {
	registry *prometheus.Registry

	attempts    prometheus.Counter
	outcomes    *prometheus.CounterVec
	activations *prometheus.CounterVec
	visible     prometheus.Gauge
	events      *prometheus.CounterVec
	tasks       prometheus.Histogram
	inflight    prometheus.Gauge
}

// New creates the collectors and registers them on a fresh registry.
func New() *Collectors {
	c := &Collectors{
		registry: prometheus.NewRegistry(),
		attempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connect_attempts_total",
			Help:      "Total number of connection attempts started",
		}),
		outcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "connect_outcomes_total",
				Help:      "Total number of connection attempts by final event",
			},
			[]string{"outcome"},
		),
		activations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "activations_total",
				Help:      "Total number of activation requests sent to the platform",
			},
			[]string{"profile"},
		),
		visible: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "visible_access_points",
			Help:      "Number of logical access points currently visible",
		}),
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "connection_events_total",
				Help:      "Total number of connection events recorded",
			},
			[]string{"type"},
		),
		tasks: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "worker_task_duration_seconds",
			Help:      "Time spent running network worker tasks",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
		}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "worker_tasks_in_flight",
			Help:      "Number of network worker tasks currently running",
		}),
	}
	c.registry.MustRegister(c.attempts, c.outcomes, c.activations, c.visible, c.events, c.tasks, c.inflight)
	return c
}

// Handler serves the collectors in the Prometheus exposition format.
func (c *Collectors) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collectors) AttemptStarted() { c.attempts.Inc() }

func (c *Collectors) AttemptFinished(outcome wifi.EventType) {
	c.outcomes.WithLabelValues(outcome.String()).Inc()
}

func (c *Collectors) ActivationRequested(newProfile bool) {
	label := "saved"
	if newProfile {
		label = "new"
	}
	c.activations.WithLabelValues(label).Inc()
}

func (c *Collectors) VisibleAccessPoints(n int) { c.visible.Set(float64(n)) }

func (c *Collectors) TaskStarted() { c.inflight.Inc() }

func (c *Collectors) TaskFinished(d time.Duration) {
	c.inflight.Dec()
	c.tasks.Observe(d.Seconds())
}

func (c *Collectors) ConnectionEventAppended(ev wifi.Event) {
	c.events.WithLabelValues(ev.Type.String()).Inc()
}
