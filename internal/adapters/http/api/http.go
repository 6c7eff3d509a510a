// Package api exposes the ops HTTP surface: health, stats, metrics and
// submission intake.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	service "github.com/okian/assay/internal/app"
	"github.com/okian/assay/internal/domain/model"
)

// Dependencies required by HTTP handlers.
type Dependencies interface {
	// Submit queues a submission for evaluation.
	Submit(ctx context.Context, sub model.Submission) error
	// Stats reports reconciled pool balances and pipeline state.
	Stats(ctx context.Context) (service.Stats, error)
}

// Server wires HTTP routes.
type Server struct {
	health      *HealthHandler
	stats       *StatsHandler
	submissions *SubmissionsHandler
}

// NewServer creates the API server.
func NewServer(deps Dependencies) *Server {
	return &Server{
		health:      NewHealthHandler(),
		stats:       NewStatsHandler(deps),
		submissions: NewSubmissionsHandler(deps),
	}
}

// Register attaches all routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", MetricsMiddleware(s.health.HandleHealth, "healthz"))
	mux.HandleFunc("/stats", MetricsMiddleware(s.stats.HandleStats, "stats"))
	mux.HandleFunc("/submissions", MetricsMiddleware(s.submissions.HandlePostSubmission, "submissions"))
	mux.Handle("/metrics", MetricsHandler())
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}
