// Package redundancy turns similarity matches into an overlap percentage.
//
// Overlap is a scoring input only. It never rejects a submission by itself.
package redundancy

import (
	"math"

	"github.com/okian/assay/internal/domain/model"
	"github.com/okian/assay/pkg/metrics"
)

// Default sweet-spot band, in percent.
const (
	DefaultSweetSpotLow  = 9.2
	DefaultSweetSpotHigh = 19.2
)

// Band is an inclusive overlap range in percent.
type Band struct {
	Low  float64
	High float64
}

// Contains reports whether pct lies inside the band.
func (b Band) Contains(pct float64) bool { return pct >= b.Low && pct <= b.High }

// Assessment is the redundancy verdict for one candidate.
type Assessment struct {
	Overlap   float64 // [0,100]
	SweetSpot bool    // partial, legitimate extension of prior work
	Closest   string  // submission id of the best match, if any
}

// Assessor computes overlap from ranked matches.
type Assessor struct {
	band Band
}

// Option configures an Assessor.
type Option func(*Assessor)

// WithSweetSpot overrides the sweet-spot band.
func WithSweetSpot(low, high float64) Option {
	return func(a *Assessor) {
		if low >= 0 && high <= 100 && low <= high {
			a.band = Band{Low: low, High: high}
		}
	}
}

// NewAssessor creates an Assessor.
func NewAssessor(opts ...Option) *Assessor {
	a := &Assessor{band: Band{Low: DefaultSweetSpotLow, High: DefaultSweetSpotHigh}}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Band returns the configured sweet-spot band.
func (a *Assessor) Band() Band { return a.band }

// Assess returns the overlap of the best match as a percentage. Matches are
// expected best-first, as returned by the similarity index.
func (a *Assessor) Assess(matches []model.Match) Assessment {
	if len(matches) == 0 {
		metrics.RecordOverlap(0)
		return Assessment{}
	}
	best := matches[0]
	for _, m := range matches[1:] {
		if m.Score > best.Score {
			best = m
		}
	}
	pct := math.Max(0, math.Min(100, best.Score*100))
	metrics.RecordOverlap(pct)
	return Assessment{
		Overlap:   pct,
		SweetSpot: a.band.Contains(pct),
		Closest:   best.SubmissionID,
	}
}
