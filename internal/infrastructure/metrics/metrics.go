package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "socialbook"

// Metrics groups the bus collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	publishTotal    *prometheus.CounterVec
	consumeTotal    *prometheus.CounterVec
	handlerDuration *prometheus.HistogramVec
	reconnectsTotal *prometheus.CounterVec
	connectionState *prometheus.GaugeVec

	gatherer prometheus.Gatherer
}

// New registers the bus collectors plus the Go and process collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return NewWithRegistry(reg, reg)
}

func NewWithRegistry(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	m := &Metrics{
		publishTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "publish_total",
				Help:      "Events handed to the publisher, by routing key and result.",
			},
			[]string{"routing_key", "result"},
		),
		consumeTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "consume_total",
				Help:      "Deliveries settled by a consumer, by queue and outcome.",
			},
			[]string{"queue", "outcome"},
		),
		handlerDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "handler_duration_seconds",
				Help:      "Time spent in a consumer handler per delivery.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"queue"},
		),
		reconnectsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reconnects_total",
				Help:      "Broker connection attempts that failed or were lost.",
			},
			[]string{"component"},
		),
		connectionState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "connection_state",
				Help:      "1 while the component holds a usable broker channel, 0 otherwise.",
			},
			[]string{"component"},
		),
		gatherer: gatherer,
	}

	reg.MustRegister(
		m.publishTotal,
		m.consumeTotal,
		m.handlerDuration,
		m.reconnectsTotal,
		m.connectionState,
	)

	return m
}

func (m *Metrics) ObservePublish(routingKey, result string) {
	if m == nil {
		return
	}
	m.publishTotal.WithLabelValues(routingKey, result).Inc()
}

func (m *Metrics) ObserveConsume(queue, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.consumeTotal.WithLabelValues(queue, outcome).Inc()
	m.handlerDuration.WithLabelValues(queue).Observe(elapsed.Seconds())
}

func (m *Metrics) IncReconnect(component string) {
	if m == nil {
		return
	}
	m.reconnectsTotal.WithLabelValues(component).Inc()
}

func (m *Metrics) SetConnected(component string, connected bool) {
	if m == nil {
		return
	}
	value := 0.0
	if connected {
		value = 1
	}
	m.connectionState.WithLabelValues(component).Set(value)
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
