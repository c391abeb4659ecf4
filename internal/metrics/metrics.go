// Package metrics exposes Prometheus instrumentation for the live delivery
// path. A nil *Collector is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Delivery results recorded by RecordDelivery.
const (
	DeliveryDelivered = "delivered"
	DeliveryOffline   = "offline"
	DeliveryDropped   = "dropped"
)

// Collector owns the metric vectors and the registry they are exposed from.
type Collector struct {
	registry *prometheus.Registry

	connections  prometheus.Gauge
	reachable    prometheus.Gauge
	frames       *prometheus.CounterVec
	protocolErrs *prometheus.CounterVec
	persisted    *prometheus.CounterVec
	deliveries   *prometheus.CounterVec
	acks         prometheus.Counter
	persistTime  prometheus.Histogram
}

// NewCollector registers the metrics under namespace on registry. A nil
// registry gets a private one with Go runtime collectors.
func NewCollector(namespace string, registry *prometheus.Registry) *Collector {
	if namespace == "" {
		namespace = "livechat"
	}
	if registry == nil {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	c := &Collector{
		registry: registry,
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Open WebSocket connections, authenticated or not.",
		}),
		reachable: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "users_reachable",
			Help:      "Identities currently present in the connection registry.",
		}),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Inbound frames by type.",
		}, []string{"type"}),
		protocolErrs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frame_errors_total",
			Help:      "Error frames sent back to clients by reason.",
		}, []string{"reason"}),
		persisted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_persisted_total",
			Help:      "Messages stored, by kind.",
		}, []string{"kind"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Live notification attempts by result.",
		}, []string{"result"}),
		acks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "acks_total",
			Help:      "message_sent acknowledgments queued to senders.",
		}),
		persistTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "persist_duration_seconds",
			Help:      "Latency of MessageStore.Create.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
	}

	registry.MustRegister(
		c.connections,
		c.reachable,
		c.frames,
		c.protocolErrs,
		c.persisted,
		c.deliveries,
		c.acks,
		c.persistTime,
	)
	return c
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}

func (c *Collector) ConnectionOpened() {
	if c != nil {
		c.connections.Inc()
	}
}

func (c *Collector) ConnectionClosed() {
	if c != nil {
		c.connections.Dec()
	}
}

// SetReachable records the current size of the connection registry.
func (c *Collector) SetReachable(n int) {
	if c != nil {
		c.reachable.Set(float64(n))
	}
}

func (c *Collector) FrameReceived(frameType string) {
	if c != nil {
		c.frames.WithLabelValues(frameType).Inc()
	}
}

func (c *Collector) FrameRejected(reason string) {
	if c != nil {
		c.protocolErrs.WithLabelValues(reason).Inc()
	}
}

// MessagePersisted records a stored message and how long the store took.
func (c *Collector) MessagePersisted(kind string, seconds float64) {
	if c != nil {
		c.persisted.WithLabelValues(kind).Inc()
		c.persistTime.Observe(seconds)
	}
}

func (c *Collector) RecordDelivery(result string, n int) {
	if c != nil && n > 0 {
		c.deliveries.WithLabelValues(result).Add(float64(n))
	}
}

func (c *Collector) AckQueued() {
	if c != nil {
		c.acks.Inc()
	}
}
