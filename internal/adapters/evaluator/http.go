package evaluator

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/okian/assay/internal/config"
	"github.com/okian/assay/internal/domain/model"
	"github.com/okian/assay/pkg/metrics"
)

const sourceHTTP = "http"

// HTTPEvaluator asks a remote oracle for verdicts.
type HTTPEvaluator struct {
	client *resty.Client
	url    string
}

type evaluateRequest struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Text     string `json:"text"`
	Category string `json:"category,omitempty"`
}

type evaluateResponse struct {
	Verdict
	Error string `json:"error,omitempty"`
}

// NewHTTPEvaluator creates a client for the oracle at cfg.URL.
func NewHTTPEvaluator(cfg config.EvaluatorConfig) (*HTTPEvaluator, error) {
	if cfg.URL == "" {
		return nil, ErrMissingURL
	}
	client := resty.New()
	client.SetHeader("Content-Type", "application/json")
	if cfg.APIKey != "" {
		client.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	}
	if cfg.Timeout > 0 {
		client.SetTimeout(cfg.Timeout)
	}
	if cfg.RetryCount > 0 {
		client.SetRetryCount(cfg.RetryCount).
			SetRetryWaitTime(100 * time.Millisecond).
			AddRetryCondition(func(r *resty.Response, err error) bool {
				return err != nil || r.StatusCode() >= http.StatusInternalServerError
			})
	}
	return &HTTPEvaluator{client: client, url: cfg.URL}, nil
}

// Evaluate posts the submission and decodes the verdict.
func (h *HTTPEvaluator) Evaluate(ctx context.Context, sub model.Submission) (Verdict, error) {
	start := time.Now()
	var out evaluateResponse
	resp, err := h.client.R().
		SetContext(ctx).
		SetBody(evaluateRequest{ID: sub.ID, Title: sub.Title, Text: sub.Text, Category: sub.Category}).
		SetResult(&out).
		SetError(&out).
		Post(h.url)
	if err != nil {
		metrics.RecordEvaluatorLatency(sourceHTTP, "error", msSince(start))
		return Verdict{}, fmt.Errorf("call evaluator: %w", err)
	}
	status := strconv.Itoa(resp.StatusCode())
	metrics.RecordEvaluatorLatency(sourceHTTP, status, msSince(start))
	if resp.IsError() {
		if out.Error != "" {
			return Verdict{}, fmt.Errorf("%w: %d: %s", ErrEvaluatorStatus, resp.StatusCode(), out.Error)
		}
		return Verdict{}, fmt.Errorf("%w: %d", ErrEvaluatorStatus, resp.StatusCode())
	}
	if len(resp.Body()) == 0 {
		return Verdict{}, fmt.Errorf("%w: empty body", ErrEvaluatorResponse)
	}
	return out.Verdict, nil
}

// New returns the evaluator selected by cfg.Mode.
func New(cfg config.EvaluatorConfig) (Evaluator, error) {
	switch cfg.Mode {
	case config.EvaluatorHTTP:
		return NewHTTPEvaluator(cfg)
	case config.EvaluatorSimulated, "":
		return NewSimulatedEvaluator(WithLatencyRange(cfg.LatencyMin, cfg.LatencyMax)), nil
	}
	return nil, fmt.Errorf("unknown evaluator mode %q", cfg.Mode)
}
