package config

import (
	"fmt"
	"math"
)

const (
	shareTolerance = 1e-9
	// maxRewardPerPoint keeps the reward for a 10000 point total within int64.
	maxRewardPerPoint = 1e14
)

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	}
	if c.QueueSize <= 0 || c.WorkerCount <= 0 || c.DedupeSize <= 0 {
		return fmt.Errorf("%w: queue_size, worker_count and dedupe_size must be positive", ErrInvalidConfig)
	}
	switch c.Database.Driver {
	case DriverMemory, DriverSQLite, DriverPostgres:
	default:
		return fmt.Errorf("%w: unknown database driver %q", ErrInvalidConfig, c.Database.Driver)
	}
	if c.Database.Driver == DriverPostgres && c.Database.URL == "" {
		return fmt.Errorf("%w: database.url is required for postgres", ErrInvalidConfig)
	}
	switch c.Archive.Backend {
	case ArchiveStore, ArchiveQdrant:
	default:
		return fmt.Errorf("%w: unknown archive backend %q", ErrInvalidConfig, c.Archive.Backend)
	}
	if c.Archive.Backend == ArchiveQdrant && (c.Archive.Collection == "" || c.Archive.VectorSize <= 0) {
		return fmt.Errorf("%w: qdrant archive needs a collection and a positive vector_size", ErrInvalidConfig)
	}
	switch c.Evaluator.Mode {
	case EvaluatorSimulated:
	case EvaluatorHTTP:
		if c.Evaluator.URL == "" {
			return fmt.Errorf("%w: evaluator.url is required in http mode", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown evaluator mode %q", ErrInvalidConfig, c.Evaluator.Mode)
	}
	if c.Evaluator.LatencyMin > c.Evaluator.LatencyMax {
		return fmt.Errorf("%w: evaluator latency_min exceeds latency_max", ErrInvalidConfig)
	}
	if err := c.Scoring.validate(); err != nil {
		return err
	}
	if err := c.Similarity.validate(); err != nil {
		return err
	}
	if err := c.Epochs.validate(); err != nil {
		return err
	}
	return c.Pools.validate()
}

func (s ScoringConfig) validate() error {
	if s.SeedMultiplier < 1 || s.EdgeMultiplier < 1 {
		return fmt.Errorf("%w: multipliers must be >= 1", ErrInvalidConfig)
	}
	if s.SweetSpotLow < 0 || s.SweetSpotHigh > 100 || s.SweetSpotLow > s.SweetSpotHigh {
		return fmt.Errorf("%w: sweet spot band [%v,%v] must be ordered within [0,100]", ErrInvalidConfig, s.SweetSpotLow, s.SweetSpotHigh)
	}
	if s.ExcessThreshold < 0 || s.ExcessThreshold >= 100 {
		return fmt.Errorf("%w: excess_threshold must be in [0,100)", ErrInvalidConfig)
	}
	if s.SweetSpotBonus < 0 || s.MaxPenalty < 0 {
		return fmt.Errorf("%w: sweet_spot_bonus and max_penalty must not be negative", ErrInvalidConfig)
	}
	return nil
}

func (s SimilarityConfig) validate() error {
	w := []float64{s.VectorWeight, s.TextWeight, s.FormulaWeight, s.ConstantWeight}
	sum := 0.0
	for _, v := range w {
		if v < 0 || math.IsNaN(v) {
			return fmt.Errorf("%w: similarity weights must not be negative", ErrInvalidConfig)
		}
		sum += v
	}
	if math.Abs(sum-1) > shareTolerance {
		return fmt.Errorf("%w: similarity weights must sum to 1, got %v", ErrInvalidConfig, sum)
	}
	if s.TopK <= 0 {
		return fmt.Errorf("%w: similarity top_k must be positive", ErrInvalidConfig)
	}
	return nil
}

// Ordered returns the tiers founder first.
func (e EpochsConfig) Ordered() []EpochConfig {
	return []EpochConfig{e.Founder, e.Pioneer, e.Community, e.Ecosystem}
}

func (e EpochsConfig) validate() error {
	tiers := e.Ordered()
	for i, t := range tiers {
		if t.Supply <= 0 {
			return fmt.Errorf("%w: epoch %d supply must be positive", ErrInvalidConfig, i)
		}
		if t.Threshold < 0 || t.Threshold > 10000 {
			return fmt.Errorf("%w: epoch %d threshold outside [0,10000]", ErrInvalidConfig, i)
		}
		if i > 0 && t.Threshold > tiers[i-1].Threshold {
			return fmt.Errorf("%w: epoch thresholds must not increase down the tier order", ErrInvalidConfig)
		}
	}
	return nil
}

func (p PoolsConfig) validate() error {
	if p.GoldShare < 0 || p.SilverShare < 0 || p.CopperShare < 0 {
		return fmt.Errorf("%w: metal shares must not be negative", ErrInvalidConfig)
	}
	if math.Abs(p.GoldShare+p.SilverShare+p.CopperShare-1) > shareTolerance {
		return fmt.Errorf("%w: metal shares must sum to 1", ErrInvalidConfig)
	}
	if p.DepletionFloor < 0 {
		return fmt.Errorf("%w: depletion_floor must not be negative", ErrInvalidConfig)
	}
	if !(p.RewardPerPoint > 0) || p.RewardPerPoint > maxRewardPerPoint {
		return fmt.Errorf("%w: reward_per_point must be in (0,%g]", ErrInvalidConfig, float64(maxRewardPerPoint))
	}
	return nil
}
