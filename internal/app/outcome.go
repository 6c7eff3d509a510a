package service

import (
	"context"

	"github.com/okian/assay/internal/domain/allocation"
	"github.com/okian/assay/internal/domain/model"
)

// Outcome statuses.
const (
	StatusAllocated    = "allocated"
	StatusPartial      = "partial"
	StatusExhausted    = "pool_exhausted"
	StatusNotQualified = "not_qualified"
	StatusFailed       = "failed"
)

// Outcome is the result of processing one submission end to end.
type Outcome struct {
	SubmissionID string             `json:"submission_id"`
	Title        string             `json:"title"`
	Status       string             `json:"status"`
	Evaluation   *model.Evaluation  `json:"evaluation,omitempty"`
	Allocation   *allocation.Result `json:"allocation,omitempty"`
	Error        string             `json:"error,omitempty"`
}

// OutcomeSink receives outcomes of queued submissions.
type OutcomeSink interface {
	Deliver(ctx context.Context, o Outcome)
}

// OutcomeSinkFunc adapts a function to OutcomeSink.
type OutcomeSinkFunc func(ctx context.Context, o Outcome)

// Deliver calls f.
func (f OutcomeSinkFunc) Deliver(ctx context.Context, o Outcome) { f(ctx, o) }

type discardSink struct{}

func (discardSink) Deliver(context.Context, Outcome) {}

func statusOf(res allocation.Result) string {
	switch res.Reason {
	case model.ReasonPoolExhausted:
		return StatusExhausted
	case model.ReasonPartialCapacity:
		return StatusPartial
	}
	return StatusAllocated
}
