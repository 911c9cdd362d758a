// Package metrics exposes Prometheus instrumentation for the relay: how
// many messages flow through mailboxes and how deep they get, served on a
// dedicated metrics listener next to the API server.
package metrics

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registerOnce sync.Once

	relayMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lockbox",
			Subsystem: "relay",
			Name:      "messages_total",
			Help:      "Messages accepted into or drained from relay mailboxes.",
		},
		[]string{"direction", "outcome"},
	)
	relayMessageBytes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "lockbox",
			Subsystem: "relay",
			Name:      "message_bytes",
			Help:      "Size of relayed messages in bytes.",
			Buckets:   prometheus.ExponentialBuckets(16, 4, 8),
		},
		[]string{"direction"},
	)
	mailboxDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "lockbox",
			Subsystem: "relay",
			Name:      "mailbox_depth",
			Help:      "Total messages currently queued across all mailboxes.",
		},
	)
	mailboxSwept = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "lockbox",
			Subsystem: "relay",
			Name:      "mailbox_swept_total",
			Help:      "Messages dropped by mailbox TTL sweeps.",
		},
	)
)

// Register registers the package's collectors with the default registry.
// Safe to call more than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(relayMessages, relayMessageBytes, mailboxDepth, mailboxSwept)
	})
}

// RecordRelayMessage counts one message moving through the relay.
// direction is "enqueue" or "dequeue"; outcome is "ok", "empty", "full" or
// "rejected".
func RecordRelayMessage(direction, outcome string, size int) {
	Register()
	relayMessages.WithLabelValues(direction, outcome).Inc()
	if size > 0 {
		relayMessageBytes.WithLabelValues(direction).Observe(float64(size))
	}
}

// SetMailboxDepth reports the total queued message count.
func SetMailboxDepth(depth int) {
	Register()
	mailboxDepth.Set(float64(depth))
}

// RecordSweep counts messages dropped by a TTL sweep.
func RecordSweep(dropped int) {
	Register()
	mailboxSwept.Add(float64(dropped))
}

// MetricsServer serves the Prometheus scrape endpoint on its own listener.
type MetricsServer struct {
	srv *http.Server
}

// New creates a metrics server listening on addr.
func New(addr string) *MetricsServer {
	Register()
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &MetricsServer{
		srv: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
	}
}

// ListenAndServe blocks serving the scrape endpoint.
func (m *MetricsServer) ListenAndServe() error {
	return m.srv.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (m *MetricsServer) Shutdown(ctx context.Context) error {
	return m.srv.Shutdown(ctx)
}
