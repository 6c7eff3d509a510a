// Package assay turns recommended metal tags into category weights.
package assay

import "github.com/okian/assay/internal/domain/model"

// Weights is a per-metal split of a reward. Values sum to 1.
type Weights struct {
	Gold   float64
	Silver float64
	Copper float64
}

// CopperDefault is returned when no recognized tag is present.
var CopperDefault = Weights{Copper: 1}

// Of returns the weight of a metal.
func (w Weights) Of(m model.Metal) float64 {
	switch m {
	case model.Gold:
		return w.Gold
	case model.Silver:
		return w.Silver
	case model.Copper:
		return w.Copper
	}
	return 0
}

// Sum returns the total weight.
func (w Weights) Sum() float64 { return w.Gold + w.Silver + w.Copper }

// Funded returns metals with a positive weight in canonical order.
func (w Weights) Funded() []model.Metal {
	var out []model.Metal
	for _, m := range model.Metals {
		if w.Of(m) > 0 {
			out = append(out, m)
		}
	}
	return out
}

// Weigh computes weights from tags. Unrecognized tags are ignored. Distinct
// tags seen once share equally; otherwise weights follow tag frequency.
func Weigh(tags []string) Weights {
	var gold, silver, copper int
	for _, tag := range tags {
		m, ok := model.ParseMetal(tag)
		if !ok {
			continue
		}
		switch m {
		case model.Gold:
			gold++
		case model.Silver:
			silver++
		case model.Copper:
			copper++
		}
	}
	n := float64(gold + silver + copper)
	if n == 0 {
		return CopperDefault
	}
	return Weights{
		Gold:   float64(gold) / n,
		Silver: float64(silver) / n,
		Copper: float64(copper) / n,
	}
}

// WeighMetals is Weigh over already parsed metals.
func WeighMetals(metals []model.Metal) Weights {
	tags := make([]string, len(metals))
	for i, m := range metals {
		tags[i] = string(m)
	}
	return Weigh(tags)
}
