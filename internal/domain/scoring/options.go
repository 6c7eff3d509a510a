package scoring

import "github.com/okian/assay/internal/domain/model"

// Option applies a configuration option to the ContributionScorer.
type Option func(*ContributionScorer)

// WithToggles sets which adjustments are enabled.
func WithToggles(t model.Toggles) Option {
	return func(s *ContributionScorer) {
		s.toggles = t
	}
}

// WithMultipliers sets the seed and edge multipliers. Values below 1 are ignored.
func WithMultipliers(seed, edge float64) Option {
	return func(s *ContributionScorer) {
		if seed >= 1 {
			s.seedMultiplier = seed
		}
		if edge >= 1 {
			s.edgeMultiplier = edge
		}
	}
}

// WithSweetSpot sets the overlap band, in percent, and the bonus it earns.
func WithSweetSpot(low, high, bonus float64) Option {
	return func(s *ContributionScorer) {
		if low >= 0 && high <= MaxOverlap && low <= high {
			s.sweetSpotLow = low
			s.sweetSpotHigh = high
		}
		if bonus >= 0 {
			s.sweetSpotBonus = bonus
		}
	}
}

// WithExcessPenalty sets the overlap threshold above which novelty is reduced,
// and the penalty reached at 100% overlap.
func WithExcessPenalty(threshold, maxPenalty float64) Option {
	return func(s *ContributionScorer) {
		if threshold >= 0 && threshold < MaxOverlap {
			s.excessThreshold = threshold
		}
		if maxPenalty >= 0 && maxPenalty <= MaxDimensionScore {
			s.maxPenalty = maxPenalty
		}
	}
}

// WithMetalBands sets the total score floors used when the evaluator
// recommends no recognized metal.
func WithMetalBands(goldMin, silverMin float64) Option {
	return func(s *ContributionScorer) {
		if goldMin >= silverMin && silverMin >= 0 {
			s.goldMinTotal = goldMin
			s.silverMinTotal = silverMin
		}
	}
}
