// Package metrics exposes the device's internal health as Prometheus
// counters and histograms, served on a loopback-only HTTP surface
// separate from the paired-client API: nothing about request volume or
// latency should be reachable from a client that hasn't paired, and
// nothing about it should ever be reachable off-device at all.
package metrics

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry wraps the counters and histograms the request engine and
// pairing service report into, plus the registry that serves them.
type Registry struct {
	registry       *prometheus.Registry
	requests       *prometheus.CounterVec
	durations      *prometheus.HistogramVec
	pairingResults *prometheus.CounterVec
	auditDropped   prometheus.Counter
}

// New constructs a Registry with the namespace prefix applied to every
// metric name.
func New(namespace string) *Registry {
	if namespace == "" {
		namespace = "healthsyncd"
	}
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "requests_total",
		Help:      "Total requests served by the request engine.",
	}, []string{"route", "method", "status"})
	durations := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "request_duration_seconds",
		Help:      "Duration of requests served by the request engine, in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route", "method"})
	pairingResults := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "pairing_attempts_total",
		Help:      "Pairing attempts, labeled by outcome.",
	}, []string{"outcome"})
	auditDropped := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "audit_records_dropped_total",
		Help:      "Audit records dropped because the write queue was saturated.",
	})
	registry.MustRegister(requests, durations, pairingResults, auditDropped)
	return &Registry{
		registry:       registry,
		requests:       requests,
		durations:      durations,
		pairingResults: pairingResults,
		auditDropped:   auditDropped,
	}
}

// ObserveRequest records one request engine dispatch.
func (r *Registry) ObserveRequest(route, method, status string, duration time.Duration) {
	r.requests.WithLabelValues(route, method, status).Inc()
	r.durations.WithLabelValues(route, method).Observe(duration.Seconds())
}

// ObservePairingAttempt records one pairing ceremony outcome, e.g. "success",
// "InvalidCode", "ExpiredCode", "TooManyAttempts", "NoPendingSession".
func (r *Registry) ObservePairingAttempt(outcome string) {
	r.pairingResults.WithLabelValues(outcome).Inc()
}

// IncAuditDropped records one audit record dropped under queue pressure.
func (r *Registry) IncAuditDropped() {
	r.auditDropped.Inc()
}

// Handler returns the promhttp handler scraping this registry.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Server is the loopback-only diagnostic HTTP surface: /metrics and
// /healthz, bound to 127.0.0.1 so it is never reachable from the local
// network the paired-client API serves.
type Server struct {
	httpServer *http.Server
	listener   net.Listener
}

// NewServer builds the chi-routed diagnostic surface. port 0 binds any
// free loopback port.
func NewServer(registry *Registry, port int) (*Server, error) {
	router := chi.NewRouter()
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	router.Handle("/metrics", registry.Handler())

	ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", portString(port)))
	if err != nil {
		return nil, err
	}
	return &Server{
		httpServer: &http.Server{Handler: router},
		listener:   ln,
	}, nil
}

// Addr returns the bound loopback address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Serve blocks until the server is shut down or fails to accept.
func (s *Server) Serve() error {
	err := s.httpServer.Serve(s.listener)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the diagnostic server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func portString(port int) string {
	if port <= 0 {
		return "0"
	}
	return intToString(port)
}

func intToString(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}
