// Package evaluator adapts the external dimension-score oracle. The engine
// treats verdicts as opaque inputs and validates their ranges when scoring.
package evaluator

import (
	"context"
	"errors"

	"github.com/okian/assay/internal/domain/model"
)

// Sentinel kinds for evaluator errors.
var (
	ErrEvaluatorStatus   = errors.New("evaluator returned an error status")
	ErrEvaluatorResponse = errors.New("malformed evaluator response")
	ErrMissingURL        = errors.New("evaluator url is required")
)

// Verdict is the oracle's judgement of one submission.
type Verdict struct {
	Novelty   float64  `json:"novelty"`
	Density   float64  `json:"density"`
	Coherence float64  `json:"coherence"`
	Alignment float64  `json:"alignment"`
	Seed      bool     `json:"seed"`
	Edge      bool     `json:"edge"`
	Metals    []string `json:"metals,omitempty"`
}

// Dimensions combines the verdict with a measured overlap percentage.
func (v Verdict) Dimensions(overlap float64) model.DimensionScores {
	return model.DimensionScores{
		Novelty:   v.Novelty,
		Density:   v.Density,
		Coherence: v.Coherence,
		Alignment: v.Alignment,
		Overlap:   overlap,
	}
}

// Evaluator produces a verdict for a submission.
type Evaluator interface {
	Evaluate(ctx context.Context, sub model.Submission) (Verdict, error)
}
