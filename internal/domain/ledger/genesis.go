package ledger

import (
	"fmt"
	"math"

	"github.com/okian/assay/internal/domain/assay"
	"github.com/okian/assay/internal/domain/model"
)

// Supply is the fixed token supply per tier.
type Supply struct {
	Founder   int64
	Pioneer   int64
	Community int64
	Ecosystem int64
}

// For returns the supply of a tier.
func (s Supply) For(e model.Epoch) int64 {
	switch e {
	case model.Founder:
		return s.Founder
	case model.Pioneer:
		return s.Pioneer
	case model.Community:
		return s.Community
	case model.Ecosystem:
		return s.Ecosystem
	}
	return 0
}

// Genesis holds the distribution ceiling of every pool. It never changes
// after construction.
type Genesis struct {
	dist map[model.PoolKey]int64
}

// NewGenesis splits each tier's supply across metals. Shares are floored and
// the rounding remainder goes to the last metal with a positive share, so
// each tier's pools add up to its supply exactly.
func NewGenesis(supply Supply, split assay.Weights) (Genesis, error) {
	if math.Abs(split.Sum()-1) > 1e-9 {
		return Genesis{}, fmt.Errorf("%w: metal split sums to %v", ErrInvalidGenesis, split.Sum())
	}
	funded := split.Funded()
	if len(funded) == 0 {
		return Genesis{}, fmt.Errorf("%w: no metal has a positive share", ErrInvalidGenesis)
	}
	g := Genesis{dist: make(map[model.PoolKey]int64)}
	for _, e := range model.Epochs {
		total := supply.For(e)
		if total <= 0 {
			return Genesis{}, fmt.Errorf("%w: %s supply must be positive", ErrInvalidGenesis, e)
		}
		var assigned int64
		for _, m := range model.Metals {
			var amount int64
			switch {
			case split.Of(m) <= 0:
			case m == funded[len(funded)-1]:
				amount = total - assigned
			default:
				amount = int64(math.Floor(float64(total) * split.Of(m)))
			}
			assigned += amount
			g.dist[model.PoolKey{Epoch: e, Metal: m}] = amount
		}
	}
	return g, nil
}

// Distribution returns a pool's ceiling.
func (g Genesis) Distribution(key model.PoolKey) (int64, bool) {
	v, ok := g.dist[key]
	return v, ok
}

// Pools returns every pool at full balance ordered by epoch then metal.
func (g Genesis) Pools() []model.MetalPool {
	out := make([]model.MetalPool, 0, len(g.dist))
	for _, e := range model.Epochs {
		for _, m := range model.Metals {
			key := model.PoolKey{Epoch: e, Metal: m}
			d := g.dist[key]
			out = append(out, model.MetalPool{Key: key, DistributionAmount: d, Balance: d})
		}
	}
	return out
}

// TotalSupply returns the sum of every pool ceiling.
func (g Genesis) TotalSupply() int64 {
	var total int64
	for _, d := range g.dist {
		total += d
	}
	return total
}
