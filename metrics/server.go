package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultPort is the AMQP exporter port registered with Prometheus.
const DefaultPort = 9419

// Server provides an HTTP server for Prometheus metrics
type Server struct {
	httpServer *http.Server
	port       int
}

// NewServer creates a metrics HTTP server exposing gatherer. A nil gatherer
// serves the default registry.
func NewServer(port int, gatherer prometheus.Gatherer) *Server {
	if port == 0 {
		port = DefaultPort
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", port),
			Handler:      Handler(gatherer),
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		port: port,
	}
}

// Handler returns the telemetry mux: /metrics and /health.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	return mux
}

// Start starts the metrics HTTP server
func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

// Stop gracefully stops the metrics HTTP server
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Port returns the port the metrics server is listening on
func (s *Server) Port() int {
	return s.port
}
