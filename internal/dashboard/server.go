// Package dashboard exposes the operator-facing HTTP surface that sits
// beside the edge proxy itself: the Prometheus exposition endpoint and a
// small JSON introspection endpoint over live per-worker state, grounded
// on the same mux-plus-CORS shape the original dashboard server used for
// its own JSON endpoints.
package dashboard

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/firasghr/casperedge/internal/logger"
	"github.com/firasghr/casperedge/internal/metrics"
)

// WorkerStatus is one entry of the /debug/workers response.
type WorkerStatus struct {
	ID                int     `json:"id"`
	ActiveConnections int64   `json:"active_connections"`
	ActiveRequests    int64   `json:"active_requests"`
	ShuttingDown      bool    `json:"shutting_down"`
	UsedMemoryBytes   float64 `json:"used_memory_bytes"`
}

// WorkerSource is the subset of *worker.Worker the dashboard needs to
// render a WorkerStatus, decoupled from the concrete package the same way
// acceptor.Worker decouples the acceptor from it.
type WorkerSource interface {
	ActiveConnections() int64
	ActiveRequests() int64
	ShuttingDown() bool
	UsedMemoryBytes() float64
}

// Server serves /metrics (via the configured Registry) and /debug/workers
// (a JSON snapshot of every worker's live counters).
type Server struct {
	metricsPath string
	metric      *metrics.Registry
	workers     []WorkerSource
	log         *logger.Logger
	mux         *http.ServeMux
}

// New builds a Server. metricsPath defaults to "/metrics" when empty.
func New(metricsPath string, metric *metrics.Registry, workers []WorkerSource, log *logger.Logger) *Server {
	if metricsPath == "" {
		metricsPath = "/metrics"
	}
	s := &Server{
		metricsPath: metricsPath,
		metric:      metric,
		workers:     workers,
		log:         log.Sub("dashboard"),
		mux:         http.NewServeMux(),
	}
	s.mux.Handle(s.metricsPath, metric.Handler())
	s.mux.HandleFunc("/debug/workers", s.handleWorkers)
	return s
}

// ListenAndServe starts the dashboard HTTP server on addr and blocks until
// it exits or the process shuts down.
func (s *Server) ListenAndServe(addr string) error {
	s.log.Infof("dashboard listening on %s (metrics at %s)", addr, s.metricsPath)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return srv.ListenAndServe()
}

func (s *Server) handleWorkers(w http.ResponseWriter, r *http.Request) {
	out := make([]WorkerStatus, len(s.workers))
	for i, ws := range s.workers {
		out[i] = WorkerStatus{
			ID:                i,
			ActiveConnections: ws.ActiveConnections(),
			ActiveRequests:    ws.ActiveRequests(),
			ShuttingDown:      ws.ShuttingDown(),
			UsedMemoryBytes:   ws.UsedMemoryBytes(),
		}
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(out); err != nil {
		s.log.Errorf("encode /debug/workers: %v", err)
	}
}
