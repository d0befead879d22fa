package internal

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the hub's collectors on a private registry so several servers
// can run in one process (tests do).
type Metrics struct {
	registry    *prometheus.Registry
	connections prometheus.Gauge
	messages    *prometheus.CounterVec
	reactions   *prometheus.CounterVec
	rejections  *prometheus.CounterVec
	evictions   *prometheus.CounterVec
	uploads     prometheus.Counter
	uploadBytes prometheus.Counter
	handler     http.Handler
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relaychat_connections",
			Help: "Display names with a live connection.",
		}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relaychat_messages_total",
			Help: "Messages accepted by the router.",
		}, []string{"audience"}),
		reactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relaychat_reactions_total",
			Help: "Reaction events applied.",
		}, []string{"mode"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relaychat_rejections_total",
			Help: "Inbound events or handshakes refused.",
		}, []string{"reason"}),
		evictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relaychat_evictions_total",
			Help: "Connections closed by the server.",
		}, []string{"reason"}),
		uploads: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relaychat_uploads_total",
			Help: "Attachments uploaded.",
		}),
		uploadBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relaychat_upload_bytes_total",
			Help: "Bytes of uploaded attachments.",
		}),
	}
	m.registry.MustRegister(
		m.connections, m.messages, m.reactions, m.rejections, m.evictions, m.uploads, m.uploadBytes,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m.handler = promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return m
}

func (m *Metrics) SetConnections(n int) {
	m.connections.Set(float64(n))
}

func (m *Metrics) IncMessage(private bool) {
	audience := "public"
	if private {
		audience = "private"
	}
	m.messages.WithLabelValues(audience).Inc()
}

func (m *Metrics) IncReaction(mode ReactionMode) {
	m.reactions.WithLabelValues(string(mode)).Inc()
}

func (m *Metrics) IncRejection(reason string) {
	m.rejections.WithLabelValues(reason).Inc()
}

func (m *Metrics) IncEviction(reason string) {
	m.evictions.WithLabelValues(reason).Inc()
}

func (m *Metrics) ObserveUpload(size int64) {
	m.uploads.Inc()
	m.uploadBytes.Add(float64(size))
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m.handler.ServeHTTP(w, r)
}
