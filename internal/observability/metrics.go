package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus instruments exported by the relay.
// A nil *Metrics is valid; every recording method is then a no-op.
type Metrics struct {
	DatagramsReceived   prometheus.Counter
	DatagramsTruncated  prometheus.Counter
	DatagramsRouted     *prometheus.CounterVec
	DatagramsSent       prometheus.Counter
	SendErrors          prometheus.Counter
	BroadcastRecipients prometheus.Histogram
	RegistryEndpoints   prometheus.Gauge
	RegistryEvictions   prometheus.Counter
}

// NewMetrics creates the relay instruments and registers them with reg.
//
// Precondition: reg must be non-nil and must not already hold relay metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		DatagramsReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_datagrams_received_total",
			Help: "Total number of UDP datagrams received",
		}),
		DatagramsTruncated: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_datagrams_truncated_total",
			Help: "Datagrams dropped because they exceeded the receive buffer",
		}),
		DatagramsRouted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_datagrams_routed_total",
			Help: "Datagrams by routing decision",
		}, []string{"action"}),
		DatagramsSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_datagrams_sent_total",
			Help: "Total number of UDP datagrams successfully sent",
		}),
		SendErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_send_errors_total",
			Help: "Total number of failed sends",
		}),
		BroadcastRecipients: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "relay_broadcast_recipients",
			Help:    "Number of recipients per broadcast fan-out",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}),
		RegistryEndpoints: factory.NewGauge(prometheus.GaugeOpts{
			Name: "relay_registry_endpoints",
			Help: "Endpoints currently held in the registry, refreshed by the sweeper loop",
		}),
		RegistryEvictions: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_registry_evictions_total",
			Help: "Endpoints removed by the registry sweep",
		}),
	}
}

// Received counts one inbound datagram.
func (m *Metrics) Received() {
	if m == nil {
		return
	}
	m.DatagramsReceived.Inc()
}

// Truncated counts one datagram dropped for exceeding the receive buffer.
func (m *Metrics) Truncated() {
	if m == nil {
		return
	}
	m.DatagramsTruncated.Inc()
}

// Routed counts one routing decision under the given action label.
func (m *Metrics) Routed(action string) {
	if m == nil {
		return
	}
	m.DatagramsRouted.WithLabelValues(action).Inc()
}

// Sent counts one send attempt and whether it failed.
func (m *Metrics) Sent(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.SendErrors.Inc()
		return
	}
	m.DatagramsSent.Inc()
}

// FannedOut records the recipient count of a completed broadcast.
func (m *Metrics) FannedOut(recipients int) {
	if m == nil {
		return
	}
	m.BroadcastRecipients.Observe(float64(recipients))
}

// RegistrySize sets the current registry size.
func (m *Metrics) RegistrySize(n int) {
	if m == nil {
		return
	}
	m.RegistryEndpoints.Set(float64(n))
}

// Evicted counts endpoints removed by a sweep.
func (m *Metrics) Evicted(n int) {
	if m == nil {
		return
	}
	m.RegistryEvictions.Add(float64(n))
}

// Handler returns an HTTP handler exposing everything in g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
