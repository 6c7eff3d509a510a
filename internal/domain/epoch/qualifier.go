// Package epoch maps total scores onto the ordered epoch tiers.
package epoch

import (
	"fmt"

	"github.com/okian/assay/internal/domain/model"
)

// Thresholds holds the minimum total for each tier.
type Thresholds struct {
	Founder   float64
	Pioneer   float64
	Community float64
	Ecosystem float64
}

// DefaultThresholds is the reference policy.
var DefaultThresholds = Thresholds{
	Founder:   8000,
	Pioneer:   6000,
	Community: 5000,
	Ecosystem: 4000,
}

// For returns the threshold of a tier.
func (t Thresholds) For(e model.Epoch) float64 {
	switch e {
	case model.Founder:
		return t.Founder
	case model.Pioneer:
		return t.Pioneer
	case model.Community:
		return t.Community
	case model.Ecosystem:
		return t.Ecosystem
	}
	return 0
}

// Validate checks that thresholds never increase down the tier order.
func (t Thresholds) Validate() error {
	prev := t.For(model.Founder)
	for _, e := range model.Epochs {
		v := t.For(e)
		if v < 0 {
			return fmt.Errorf("%w: %s threshold %v is negative", ErrInvalidThresholds, e, v)
		}
		if v > prev {
			return fmt.Errorf("%w: %s threshold %v exceeds previous tier %v", ErrInvalidThresholds, e, v, prev)
		}
		prev = v
	}
	return nil
}

// Qualifier reads the global pointer but never advances it.
type Qualifier struct {
	thresholds Thresholds
}

// NewQualifier creates a Qualifier after validating thresholds.
func NewQualifier(t Thresholds) (*Qualifier, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &Qualifier{thresholds: t}, nil
}

// Thresholds returns the configured thresholds.
func (q *Qualifier) Thresholds() Thresholds { return q.thresholds }

// QualifyEpoch returns the highest tier whose threshold total meets. Below
// every threshold the lowest tier is returned as a fallback bucket.
func (q *Qualifier) QualifyEpoch(total float64) model.Epoch {
	for _, e := range model.Epochs {
		if total >= q.thresholds.For(e) {
			return e
		}
	}
	return model.Ecosystem
}

// IsQualifiedForOpenEpoch compares total against the current tier's
// threshold. A terminal pointer qualifies nothing.
func (q *Qualifier) IsQualifiedForOpenEpoch(total float64, state model.EpochState) bool {
	if state.Terminal() || !state.Current.Valid() {
		return false
	}
	return total >= q.thresholds.For(state.Current)
}

// Decision is the outcome of qualifying a total against the pointer.
type Decision struct {
	Epoch     model.Epoch
	Qualified bool
	Threshold float64
}

// Decide combines QualifyEpoch and IsQualifiedForOpenEpoch.
func (q *Qualifier) Decide(total float64, state model.EpochState) Decision {
	d := Decision{
		Epoch:     q.QualifyEpoch(total),
		Qualified: q.IsQualifiedForOpenEpoch(total, state),
	}
	if state.Current.Valid() {
		d.Threshold = q.thresholds.For(state.Current)
	}
	return d
}
