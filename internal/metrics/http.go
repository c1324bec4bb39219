package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthStatus is the body served on /healthz.
type HealthStatus struct {
	Status    string    `json:"status"`
	Uptime    string    `json:"uptime"`
	Timestamp time.Time `json:"timestamp"`
}

// NewRouter returns the observability routes: /metrics and /healthz.
func NewRouter(m *Metrics) *mux.Router {
	started := time.Now()
	r := mux.NewRouter()

	r.Handle("/metrics", promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{})).
		Methods(http.MethodGet)

	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		now := time.Now()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(HealthStatus{
			Status:    "ok",
			Uptime:    now.Sub(started).Round(time.Second).String(),
			Timestamp: now.UTC(),
		})
	}).Methods(http.MethodGet)

	return r
}

// HTTPServer serves the observability routes on their own listener.
type HTTPServer struct {
	srv    *http.Server
	logger hclog.Logger
}

// NewHTTPServer wraps NewRouter(m) in an http.Server. A nil logger discards output.
func NewHTTPServer(m *Metrics, logger hclog.Logger) *HTTPServer {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &HTTPServer{
		srv: &http.Server{
			Handler:           NewRouter(m),
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

// Serve blocks serving l until Shutdown is called.
func (h *HTTPServer) Serve(l net.Listener) error {
	h.logger.Info("metrics listening", "addr", l.Addr().String())
	if err := h.srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

// Shutdown stops the server, waiting for in-flight requests until ctx ends.
func (h *HTTPServer) Shutdown(ctx context.Context) error {
	return h.srv.Shutdown(ctx)
}
