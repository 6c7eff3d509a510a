// Package similarity ranks archived submissions against a candidate.
package similarity

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/okian/assay/internal/domain/model"
	"github.com/okian/assay/pkg/metrics"
)

// Default index configuration constants.
const (
	DefaultTopK              = 9
	defaultParallelThreshold = 512
	defaultChunkSize         = 256
	defaultMaxParallel       = 8
	minTextTokenLength       = 3 // words must be longer than two characters
	weightTolerance          = 1e-9
)

// Weights are the composite score coefficients.
type Weights struct {
	Vector   float64
	Text     float64
	Formula  float64
	Constant float64
}

// DefaultWeights returns the 0.5/0.3/0.1/0.1 composite.
func DefaultWeights() Weights {
	return Weights{Vector: 0.5, Text: 0.3, Formula: 0.1, Constant: 0.1}
}

// Query is the candidate side of a similarity search.
type Query struct {
	SubmissionID string
	Features     model.ExtractedFeatures
	Embedding    []float64
}

// Index computes ranked matches. It holds no archive state of its own.
type Index struct {
	topK              int
	weights           Weights
	parallelThreshold int
	chunkSize         int
	maxParallel       int
}

// Option configures an Index.
type Option func(*Index)

// WithTopK sets the number of matches returned.
func WithTopK(k int) Option {
	return func(ix *Index) {
		if k > 0 {
			ix.topK = k
		}
	}
}

// Valid reports whether the weights are non-negative and sum to 1, which
// keeps every composite score in [0,1].
func (w Weights) Valid() bool {
	for _, v := range []float64{w.Vector, w.Text, w.Formula, w.Constant} {
		if !(v >= 0) {
			return false
		}
	}
	return math.Abs(w.Vector+w.Text+w.Formula+w.Constant-1) <= weightTolerance
}

// WithWeights overrides the composite weights. Invalid weights are ignored.
func WithWeights(w Weights) Option {
	return func(ix *Index) {
		if w.Valid() {
			ix.weights = w
		}
	}
}

// WithParallelism sets the archive size above which scoring fans out, and the
// maximum number of concurrent chunks.
func WithParallelism(threshold, maxParallel int) Option {
	return func(ix *Index) {
		if threshold > 0 {
			ix.parallelThreshold = threshold
		}
		if maxParallel > 0 {
			ix.maxParallel = maxParallel
		}
	}
}

// NewIndex creates an Index.
func NewIndex(opts ...Option) *Index {
	ix := &Index{
		topK:              DefaultTopK,
		weights:           DefaultWeights(),
		parallelThreshold: defaultParallelThreshold,
		chunkSize:         defaultChunkSize,
		maxParallel:       defaultMaxParallel,
	}
	for _, opt := range opts {
		opt(ix)
	}
	return ix
}

// prepared holds the candidate's normalized token sets, built once per search.
type prepared struct {
	id        string
	words     map[string]struct{}
	formulas  map[string]struct{}
	constants map[string]struct{}
	embedding []float64
}

// Search scores every archived entry except the candidate's own and returns
// the top-K ordered by composite score desc, then archive insertion order.
// Entries must be supplied in insertion order.
func (ix *Index) Search(ctx context.Context, q Query, archive []model.ArchivedEntry) ([]model.Match, error) {
	start := time.Now()
	defer func() {
		metrics.RecordSimilarityScan(float64(time.Since(start).Milliseconds()), len(archive))
	}()

	cand := prepared{
		id:        q.SubmissionID,
		words:     WordSet(q.Features.Abstract),
		formulas:  TokenSet(q.Features.Formulas),
		constants: TokenSet(q.Features.Constants),
		embedding: q.Embedding,
	}

	scored := make([]model.Match, len(archive))
	keep := make([]bool, len(archive))

	scoreRange := func(lo, hi int) {
		for i := lo; i < hi; i++ {
			e := &archive[i]
			if e.SubmissionID == cand.id {
				continue
			}
			scored[i] = ix.score(&cand, e)
			keep[i] = true
		}
	}

	if len(archive) < ix.parallelThreshold {
		scoreRange(0, len(archive))
	} else {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(ix.maxParallel)
		for lo := 0; lo < len(archive); lo += ix.chunkSize {
			lo, hi := lo, min(lo+ix.chunkSize, len(archive))
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				scoreRange(lo, hi)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, fmt.Errorf("similarity scan: %w", err)
		}
	}

	matches := make([]model.Match, 0, len(archive))
	for i, ok := range keep {
		if ok {
			matches = append(matches, scored[i])
		}
	}
	// Ordering is applied only after every score is known.
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Seq < matches[j].Seq
	})
	if len(matches) > ix.topK {
		matches = matches[:ix.topK]
	}
	return matches, nil
}

func (ix *Index) score(c *prepared, e *model.ArchivedEntry) model.Match {
	m := model.Match{SubmissionID: e.SubmissionID, Seq: e.Seq}
	if d, ok := EuclideanDistance(c.embedding, e.Embedding); ok {
		m.Vector = DistanceToSimilarity(d)
	}
	m.Text = Jaccard(c.words, WordSet(e.Features.Abstract))
	m.Formula = Jaccard(c.formulas, TokenSet(e.Features.Formulas))
	m.Constant = Jaccard(c.constants, TokenSet(e.Features.Constants))
	m.Score = ix.weights.Vector*m.Vector +
		ix.weights.Text*m.Text +
		ix.weights.Formula*m.Formula +
		ix.weights.Constant*m.Constant
	return m
}

// EuclideanDistance returns the distance between two vectors. ok is false
// when either vector is absent or the dimensions differ.
func EuclideanDistance(a, b []float64) (float64, bool) {
	if len(a) == 0 || len(a) != len(b) {
		return 0, false
	}
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum), true
}

// DistanceToSimilarity maps a distance in [0,inf) to (0,1], decreasing.
func DistanceToSimilarity(d float64) float64 {
	return 1 / (1 + d)
}

// WordSet lowercases and whitespace-splits text, keeping words longer than
// two characters.
func WordSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(text)) {
		if len([]rune(w)) >= minTextTokenLength {
			set[w] = struct{}{}
		}
	}
	return set
}

// TokenSet lowercases and trims tokens, dropping empties.
func TokenSet(tokens []string) map[string]struct{} {
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			set[t] = struct{}{}
		}
	}
	return set
}

// Jaccard returns |a∩b| / |a∪b|, or 0 when either side is empty.
func Jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(small) > len(large) {
		small, large = large, small
	}
	inter := 0
	for k := range small {
		if _, ok := large[k]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}
