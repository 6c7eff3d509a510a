// Package scoring combines bounded dimension scores into a single total.
package scoring

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/okian/assay/internal/domain/model"
	"github.com/okian/assay/pkg/metrics"
)

// Score bounds.
const (
	MaxDimensionScore = 2500
	MaxTotalScore     = 10000
	MaxOverlap        = 100
)

// Default scoring configuration constants.
const (
	defaultSeedMultiplier  = 1.15
	defaultEdgeMultiplier  = 1.12
	defaultSweetSpotLow    = 9.2
	defaultSweetSpotHigh   = 19.2
	defaultSweetSpotBonus  = 200
	defaultExcessThreshold = 50
	defaultMaxPenalty      = 1000
	defaultGoldMinTotal    = 8000
	defaultSilverMinTotal  = 6000
	totalPrecision         = 1e6
)

// Input carries the evaluator's verdict for one submission.
type Input struct {
	SubmissionID string
	Scores       model.DimensionScores
	Seed         bool     // defines a foundational primitive
	Edge         bool     // defines a boundary operator
	Metals       []string // recommended metal tags, unvalidated
}

// Result is the deterministic output of a scoring pass.
type Result struct {
	SubmissionID string
	Scores       model.DimensionScores // unmodified inputs, for audit
	Base         float64               // clamped sum after the overlap penalty
	Penalty      float64               // novelty points removed for excess overlap
	Bonus        float64               // sweet-spot bonus added
	Total        float64               // final score in [0,10000]
	SeedApplied  bool
	EdgeApplied  bool
	SweetSpot    bool
	Toggles      model.Toggles
	Metals       []model.Metal
}

// Scorer computes a total from an input.
type Scorer interface {
	Score(ctx context.Context, in Input) (Result, error)
}

// ContributionScorer implements Scorer. It is safe for concurrent use since
// it is immutable after construction.
type ContributionScorer struct {
	toggles         model.Toggles
	seedMultiplier  float64
	edgeMultiplier  float64
	sweetSpotLow    float64
	sweetSpotHigh   float64
	sweetSpotBonus  float64
	excessThreshold float64
	maxPenalty      float64
	goldMinTotal    float64
	silverMinTotal  float64
}

// NewContributionScorer creates a scorer with every adjustment enabled.
func NewContributionScorer(opts ...Option) *ContributionScorer {
	s := &ContributionScorer{
		toggles: model.Toggles{
			SeedMultiplier:     true,
			EdgeMultiplier:     true,
			OverlapAdjustments: true,
		},
		seedMultiplier:  defaultSeedMultiplier,
		edgeMultiplier:  defaultEdgeMultiplier,
		sweetSpotLow:    defaultSweetSpotLow,
		sweetSpotHigh:   defaultSweetSpotHigh,
		sweetSpotBonus:  defaultSweetSpotBonus,
		excessThreshold: defaultExcessThreshold,
		maxPenalty:      defaultMaxPenalty,
		goldMinTotal:    defaultGoldMinTotal,
		silverMinTotal:  defaultSilverMinTotal,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Toggles returns the adjustment switches in effect.
func (s *ContributionScorer) Toggles() model.Toggles { return s.toggles }

// Score validates the input and computes the total. Multipliers compose as
// seed then edge, with a single clamp at the end.
func (s *ContributionScorer) Score(ctx context.Context, in Input) (Result, error) {
	start := time.Now()
	defer func() {
		metrics.RecordScoringLatency(float64(time.Since(start).Microseconds()) / 1000)
	}()

	if err := validate(in.Scores); err != nil {
		metrics.RecordScoringError()
		return Result{}, fmt.Errorf("score %s: %w", in.SubmissionID, err)
	}

	sc := in.Scores
	res := Result{
		SubmissionID: in.SubmissionID,
		Scores:       sc,
		Toggles:      s.toggles,
	}

	novelty := sc.Novelty
	if s.toggles.OverlapAdjustments && sc.Overlap > s.excessThreshold {
		excess := (sc.Overlap - s.excessThreshold) / (MaxOverlap - s.excessThreshold)
		novelty = math.Max(0, novelty-s.maxPenalty*excess)
		res.Penalty = sc.Novelty - novelty
	}

	res.Base = clamp(novelty + sc.Density + sc.Coherence + sc.Alignment)
	total := res.Base

	if s.toggles.OverlapAdjustments && sc.Overlap >= s.sweetSpotLow && sc.Overlap <= s.sweetSpotHigh {
		res.SweetSpot = true
		res.Bonus = s.sweetSpotBonus
		total += s.sweetSpotBonus
	}
	if s.toggles.SeedMultiplier && in.Seed {
		res.SeedApplied = true
		total *= s.seedMultiplier
	}
	if s.toggles.EdgeMultiplier && in.Edge {
		res.EdgeApplied = true
		total *= s.edgeMultiplier
	}

	res.Total = math.Round(clamp(total)*totalPrecision) / totalPrecision
	res.Metals = s.recommend(in.Metals, res.Total)
	return res, nil
}

// recommend keeps recognized tags, duplicates included, and falls back to a
// score band when none are recognized.
func (s *ContributionScorer) recommend(tags []string, total float64) []model.Metal {
	out := make([]model.Metal, 0, len(tags))
	for _, tag := range tags {
		if m, ok := model.ParseMetal(tag); ok {
			out = append(out, m)
		}
	}
	if len(out) > 0 {
		return out
	}
	switch {
	case total >= s.goldMinTotal:
		return []model.Metal{model.Gold}
	case total >= s.silverMinTotal:
		return []model.Metal{model.Silver}
	default:
		return []model.Metal{model.Copper}
	}
}

func validate(sc model.DimensionScores) error {
	dims := []struct {
		name  string
		value float64
		max   float64
	}{
		{"novelty", sc.Novelty, MaxDimensionScore},
		{"density", sc.Density, MaxDimensionScore},
		{"coherence", sc.Coherence, MaxDimensionScore},
		{"alignment", sc.Alignment, MaxDimensionScore},
		{"overlap", sc.Overlap, MaxOverlap},
	}
	for _, d := range dims {
		if math.IsNaN(d.value) || d.value < 0 || d.value > d.max {
			return fmt.Errorf("%s %v outside [0,%v]: %w", d.name, d.value, d.max, model.ErrInvalidInputRange)
		}
	}
	return nil
}

func clamp(x float64) float64 {
	return math.Max(0, math.Min(MaxTotalScore, x))
}
