package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/okian/assay/internal/domain/model"
)

// MemoryStore keeps the ledger, archive and evaluations in process memory.
// It implements LedgerStore, ArchiveStore and EvaluationStore.
type MemoryStore struct {
	mu          sync.RWMutex
	pools       map[model.PoolKey]model.MetalPool
	allocations []model.Allocation
	byKey       map[model.PoolKey][]int
	byIdem      map[string]int
	state       *model.EpochState
	archive     []model.ArchivedEntry
	archived    map[string]struct{}
	evaluations map[string][]model.Evaluation

	locks *poolLocks
	now   func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore(opts ...Option) *MemoryStore {
	s := &MemoryStore{
		pools:       make(map[model.PoolKey]model.MetalPool),
		byKey:       make(map[model.PoolKey][]int),
		byIdem:      make(map[string]int),
		archived:    make(map[string]struct{}),
		evaluations: make(map[string][]model.Evaluation),
		locks:       newPoolLocks(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// WithPoolLock serializes fn per pool key.
func (s *MemoryStore) WithPoolLock(ctx context.Context, key model.PoolKey, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l := s.locks.get(key)
	l.Lock()
	defer l.Unlock()
	return fn(ctx)
}

// SeedGenesis inserts missing pools and the initial epoch state.
func (s *MemoryStore) SeedGenesis(_ context.Context, pools []model.MetalPool, state model.EpochState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range pools {
		if _, ok := s.pools[p.Key]; ok {
			continue
		}
		if p.UpdatedAt.IsZero() {
			p.UpdatedAt = s.now()
		}
		s.pools[p.Key] = p
	}
	if s.state == nil {
		st := state
		if st.UpdatedAt.IsZero() {
			st.UpdatedAt = s.now()
		}
		s.state = &st
	}
	return nil
}

// Pool returns a pool or ErrNotFound.
func (s *MemoryStore) Pool(_ context.Context, key model.PoolKey) (model.MetalPool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.pools[key]
	if !ok {
		return model.MetalPool{}, fmt.Errorf("pool %s: %w", key, ErrNotFound)
	}
	return p, nil
}

// Pools returns every pool ordered by epoch then metal.
func (s *MemoryStore) Pools(_ context.Context) ([]model.MetalPool, error) {
	s.mu.RLock()
	out := make([]model.MetalPool, 0, len(s.pools))
	for _, p := range s.pools {
		out = append(out, p)
	}
	s.mu.RUnlock()
	sortPools(out)
	return out, nil
}

// UpdateBalance overwrites the cached balance of a pool.
func (s *MemoryStore) UpdateBalance(_ context.Context, key model.PoolKey, balance int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pools[key]
	if !ok {
		return fmt.Errorf("pool %s: %w", key, ErrNotFound)
	}
	p.Balance = balance
	p.UpdatedAt = s.now()
	s.pools[key] = p
	return nil
}

// SumAllocations totals the reward drawn from a pool.
func (s *MemoryStore) SumAllocations(_ context.Context, key model.PoolKey) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var sum int64
	for _, i := range s.byKey[key] {
		sum += s.allocations[i].Reward
	}
	return sum, nil
}

// InsertAllocation appends an allocation unless one exists for the same
// submission and metal.
func (s *MemoryStore) InsertAllocation(_ context.Context, a model.Allocation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idem := a.IdempotencyKey()
	if _, ok := s.byIdem[idem]; ok {
		return fmt.Errorf("allocation %s: %w", idem, ErrDuplicateAllocation)
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.now()
	}
	s.allocations = append(s.allocations, a)
	i := len(s.allocations) - 1
	s.byIdem[idem] = i
	s.byKey[a.Key()] = append(s.byKey[a.Key()], i)
	return nil
}

// Allocation returns the allocation for a submission and metal.
func (s *MemoryStore) Allocation(_ context.Context, submissionID string, metal model.Metal) (model.Allocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.byIdem[model.IdempotencyKey(submissionID, metal)]
	if !ok {
		return model.Allocation{}, ErrNotFound
	}
	return s.allocations[i], nil
}

// Allocations returns a submission's allocations in canonical metal order.
func (s *MemoryStore) Allocations(_ context.Context, submissionID string) ([]model.Allocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Allocation
	for _, m := range model.Metals {
		if i, ok := s.byIdem[model.IdempotencyKey(submissionID, m)]; ok {
			out = append(out, s.allocations[i])
		}
	}
	return out, nil
}

// AllAllocations returns every allocation in insertion order.
func (s *MemoryStore) AllAllocations() []model.Allocation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.Allocation(nil), s.allocations...)
}

// EpochState returns the current pointer, founder when never seeded.
func (s *MemoryStore) EpochState(_ context.Context) (model.EpochState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state == nil {
		return model.EpochState{Current: model.Founder}, nil
	}
	return *s.state, nil
}

// CompareAndSwapEpoch moves the pointer forward when version matches. A
// target at or behind the current epoch is refused.
func (s *MemoryStore) CompareAndSwapEpoch(_ context.Context, version int64, next model.Epoch) (model.EpochState, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		s.state = &model.EpochState{Current: model.Founder}
	}
	if s.state.Version != version || next <= s.state.Current {
		return *s.state, false, nil
	}
	s.state.Current = next
	s.state.Version++
	s.state.UpdatedAt = s.now()
	return *s.state, true, nil
}

// Append stores an archive entry and assigns its sequence number.
func (s *MemoryStore) Append(_ context.Context, e model.ArchivedEntry) (model.ArchivedEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.archived[e.SubmissionID]; ok {
		return model.ArchivedEntry{}, fmt.Errorf("archive %s: %w", e.SubmissionID, ErrDuplicateArchiveEntry)
	}
	e.Seq = int64(len(s.archive)) + 1
	if e.ArchivedAt.IsZero() {
		e.ArchivedAt = s.now()
	}
	e = cloneEntry(e)
	s.archive = append(s.archive, e)
	s.archived[e.SubmissionID] = struct{}{}
	return cloneEntry(e), nil
}

// Entries returns every archived entry in insertion order.
func (s *MemoryStore) Entries(_ context.Context) ([]model.ArchivedEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.ArchivedEntry, len(s.archive))
	for i, e := range s.archive {
		out[i] = cloneEntry(e)
	}
	return out, nil
}

// Count returns the number of archived entries.
func (s *MemoryStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.archive), nil
}

// SaveEvaluation appends an evaluation record.
func (s *MemoryStore) SaveEvaluation(_ context.Context, e model.Evaluation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evaluations[e.SubmissionID] = append(s.evaluations[e.SubmissionID], e)
	return nil
}

// LatestEvaluation returns the most recent evaluation of a submission.
func (s *MemoryStore) LatestEvaluation(_ context.Context, submissionID string) (model.Evaluation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	evs := s.evaluations[submissionID]
	if len(evs) == 0 {
		return model.Evaluation{}, fmt.Errorf("evaluation %s: %w", submissionID, ErrNotFound)
	}
	return evs[len(evs)-1], nil
}

func cloneEntry(e model.ArchivedEntry) model.ArchivedEntry {
	e.Embedding = append([]float64(nil), e.Embedding...)
	e.Features.Formulas = append([]string(nil), e.Features.Formulas...)
	e.Features.Constants = append([]string(nil), e.Features.Constants...)
	return e
}

func sortPools(pools []model.MetalPool) {
	sort.Slice(pools, func(i, j int) bool {
		if pools[i].Key.Epoch != pools[j].Key.Epoch {
			return pools[i].Key.Epoch < pools[j].Key.Epoch
		}
		return pools[i].Key.Metal.Rank() < pools[j].Key.Metal.Rank()
	})
}
