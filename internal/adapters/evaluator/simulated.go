package evaluator

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/okian/assay/internal/domain/model"
	"github.com/okian/assay/pkg/metrics"
)

// Default simulated evaluator constants.
const (
	defaultMinLatency = 80 * time.Millisecond
	defaultMaxLatency = 150 * time.Millisecond
	defaultRandomSeed = 42
	maxDimension      = 2500
	sourceSimulated   = "simulated"
)

// SimulatedOption configures a SimulatedEvaluator.
type SimulatedOption func(*SimulatedEvaluator)

// WithLatencyRange sets the simulated latency range. A zero range disables
// the delay.
func WithLatencyRange(minLatency, maxLatency time.Duration) SimulatedOption {
	return func(s *SimulatedEvaluator) {
		if minLatency >= 0 && maxLatency >= minLatency {
			s.minLatency = minLatency
			s.maxLatency = maxLatency
		}
	}
}

// SimulatedEvaluator derives a verdict from the submission hash. The same
// submission always gets the same verdict; only the latency is random.
type SimulatedEvaluator struct {
	minLatency time.Duration
	maxLatency time.Duration

	mu  sync.Mutex
	rng *rand.Rand
}

// NewSimulatedEvaluator creates a simulated oracle.
func NewSimulatedEvaluator(opts ...SimulatedOption) *SimulatedEvaluator {
	s := &SimulatedEvaluator{
		minLatency: defaultMinLatency,
		maxLatency: defaultMaxLatency,
		rng:        rand.New(rand.NewSource(defaultRandomSeed)), //nolint:gosec // latency jitter only
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Evaluate waits for the simulated latency and returns the verdict.
func (s *SimulatedEvaluator) Evaluate(ctx context.Context, sub model.Submission) (Verdict, error) {
	start := time.Now()
	if d := s.latency(); d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			metrics.RecordEvaluatorLatency(sourceSimulated, "cancelled", msSince(start))
			return Verdict{}, fmt.Errorf("context cancelled: %w", ctx.Err())
		case <-timer.C:
		}
	}
	v := simulate(sub)
	metrics.RecordEvaluatorLatency(sourceSimulated, "ok", msSince(start))
	return v, nil
}

func (s *SimulatedEvaluator) latency() time.Duration {
	span := s.maxLatency - s.minLatency
	if span <= 0 {
		return s.minLatency
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.minLatency + time.Duration(s.rng.Int63n(int64(span)))
}

func simulate(sub model.Submission) Verdict {
	sum := sha256.Sum256([]byte(sub.ID + "\x00" + sub.Category))
	dim := func(i int) float64 {
		raw := binary.BigEndian.Uint32(sum[i*4:])
		// two decimal places
		return float64(raw%(maxDimension*100+1)) / 100
	}
	v := Verdict{
		Novelty:   dim(0),
		Density:   dim(1),
		Coherence: dim(2),
		Alignment: dim(3),
		Seed:      sum[16]&0x0f == 0,
		Edge:      sum[17]&0x0f == 0,
	}
	switch total := v.Novelty + v.Density + v.Coherence + v.Alignment; {
	case total >= 8000:
		v.Metals = []string{string(model.Gold)}
	case total >= 6000:
		v.Metals = []string{string(model.Gold), string(model.Silver)}
	case total >= 4000:
		v.Metals = []string{string(model.Silver), string(model.Copper)}
	}
	return v
}

func msSince(t time.Time) float64 {
	return float64(time.Since(t).Microseconds()) / 1000
}
