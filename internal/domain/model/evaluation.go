package model

import "time"

// DimensionScores holds the four bounded dimensions plus redundancy overlap.
type DimensionScores struct {
	Novelty   float64 // [0,2500]
	Density   float64 // [0,2500]
	Coherence float64 // [0,2500]
	Alignment float64 // [0,2500]
	Overlap   float64 // percentage in [0,100]
}

// Toggles records which scoring adjustments were enabled.
type Toggles struct {
	SeedMultiplier     bool
	EdgeMultiplier     bool
	OverlapAdjustments bool
}

// Evaluation is the sole input the allocation engine trusts.
type Evaluation struct {
	ID           string
	SubmissionID string
	Scores       DimensionScores
	Total        float64 // [0,10000]
	Metals       []Metal // recommended metals, duplicates kept for weighting
	Qualified    bool
	Epoch        Epoch
	Seed         bool
	Edge         bool
	SweetSpot    bool
	Toggles      Toggles
	Matches      []Match
	EvaluatedAt  time.Time
}
