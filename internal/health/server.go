// Package health serves the router's health report and Prometheus metrics.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/set718/keyrouter/internal/core/domain"
	"github.com/set718/keyrouter/internal/infra/rpc"
)

// Status is the aggregate state of the credential pool.
type Status string

const (
	StatusHealthy  Status = "healthy"  // Every credential healthy
	StatusDegraded Status = "degraded" // Some credentials out of rotation
	StatusCritical Status = "critical" // No credential selectable
)

// Source is implemented by *rpc.Client.
type Source interface {
	HealthReport() map[domain.CredentialID]rpc.HealthEntry
	Strategy() domain.StrategyKind
}

// DetailedReport is the body of /health/detailed.
type DetailedReport struct {
	Status      Status                                 `json:"status"`
	Strategy    domain.StrategyKind                    `json:"strategy"`
	Healthy     int                                    `json:"healthy"`
	Total       int                                    `json:"total"`
	Credentials map[domain.CredentialID]rpc.HealthEntry `json:"credentials"`
}

// Server provides HTTP endpoints for health monitoring.
type Server struct {
	source Source
	server *http.Server
}

// NewServer creates a new health server.
func NewServer(source Source, port int) *Server {
	mux := http.NewServeMux()
	s := &Server{
		source: source,
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/health/detailed", s.handleDetailed)
	mux.Handle("/metrics", promhttp.Handler())

	return s
}

// Handler returns the server's routes.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Report builds the detailed report from the current health snapshot.
func (s *Server) Report() DetailedReport {
	creds := s.source.HealthReport()
	report := DetailedReport{
		Strategy:    s.source.Strategy(),
		Total:       len(creds),
		Credentials: creds,
	}

	selectable := 0
	for _, entry := range creds {
		switch entry.Status {
		case domain.StatusHealthy.String():
			report.Healthy++
			selectable++
		case domain.StatusProbation.String():
			selectable++
		}
	}

	switch {
	case selectable == 0:
		report.Status = StatusCritical
	case report.Healthy < report.Total:
		report.Status = StatusDegraded
	default:
		report.Status = StatusHealthy
	}
	return report
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.Report()

	response := map[string]any{
		"status":  report.Status,
		"healthy": report.Healthy,
		"total":   report.Total,
	}
	w.Header().Set("Content-Type", "application/json")

	if report.Status == StatusCritical {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}

	json.NewEncoder(w).Encode(response)
}

func (s *Server) handleDetailed(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.Report())
}
