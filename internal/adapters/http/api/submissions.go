package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/okian/assay/internal/adapters/mq/queue"
	service "github.com/okian/assay/internal/app"
	"github.com/okian/assay/internal/domain/model"
)

const maxSubmissionBytes = 1 << 20

// Submitter queues submissions.
type Submitter interface {
	Submit(ctx context.Context, sub model.Submission) error
}

// SubmissionsHandler accepts submissions for asynchronous evaluation.
type SubmissionsHandler struct {
	submitter Submitter
}

// NewSubmissionsHandler creates a submissions handler.
func NewSubmissionsHandler(s Submitter) *SubmissionsHandler {
	return &SubmissionsHandler{submitter: s}
}

type submissionRequest struct {
	Title     string    `json:"title"`
	Text      string    `json:"text"`
	Category  string    `json:"category,omitempty"`
	Embedding []float64 `json:"embedding,omitempty"`
}

func (r submissionRequest) validate() error {
	switch {
	case strings.TrimSpace(r.Title) == "":
		return fmt.Errorf("%w: missing title", ErrBadRequest)
	case strings.TrimSpace(r.Text) == "":
		return fmt.Errorf("%w: missing text", ErrBadRequest)
	}
	return nil
}

type ackResponse struct {
	Status       string `json:"status"`
	SubmissionID string `json:"submission_id"`
	Duplicate    bool   `json:"duplicate"`
}

// HandlePostSubmission handles POST /submissions.
func (h *SubmissionsHandler) HandlePostSubmission(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", nil)
		return
	}
	var req submissionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSubmissionBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err)
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_submission", err)
		return
	}

	sub := model.NewSubmission(req.Title, req.Text, req.Category, req.Embedding)
	err := h.submitter.Submit(r.Context(), sub)
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, ackResponse{Status: "accepted", SubmissionID: sub.ID})
	case errors.Is(err, service.ErrDuplicateSubmission):
		writeJSON(w, http.StatusOK, ackResponse{Status: "accepted", SubmissionID: sub.ID, Duplicate: true})
	case errors.Is(err, queue.ErrQueueFull):
		writeError(w, http.StatusTooManyRequests, "backpressure", ErrBackpressure)
	case errors.Is(err, service.ErrNotStarted), errors.Is(err, queue.ErrQueueClosed):
		writeError(w, http.StatusServiceUnavailable, "unavailable", err)
	default:
		writeError(w, http.StatusInternalServerError, "submit_failed", err)
	}
}
