package repository

import (
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"testing"

	"github.com/okian/assay/internal/domain/model"
	"github.com/okian/assay/pkg/logger"
)

func TestMain(m *testing.M) {
	_ = logger.InitWithWriter(io.Discard)
	os.Exit(m.Run())
}

type fullStore interface {
	LedgerStore
	ArchiveStore
	EvaluationStore
}

var (
	founderGold   = model.PoolKey{Epoch: model.Founder, Metal: model.Gold}
	founderSilver = model.PoolKey{Epoch: model.Founder, Metal: model.Silver}
	pioneerGold   = model.PoolKey{Epoch: model.Pioneer, Metal: model.Gold}
)

func seed(t *testing.T, s LedgerStore) {
	t.Helper()
	pools := []model.MetalPool{
		{Key: pioneerGold, DistributionAmount: 5000, Balance: 5000},
		{Key: founderSilver, DistributionAmount: 10000, Balance: 10000},
		{Key: founderGold, DistributionAmount: 10000, Balance: 10000},
	}
	if err := s.SeedGenesis(context.Background(), pools, model.EpochState{Current: model.Founder}); err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func testLedgerStore(t *testing.T, s fullStore) {
	ctx := context.Background()
	seed(t, s)

	// Seeding twice leaves existing rows alone.
	if err := s.UpdateBalance(ctx, founderGold, 7); err != nil {
		t.Fatalf("update balance: %v", err)
	}
	seed(t, s)
	p, err := s.Pool(ctx, founderGold)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	if p.Balance != 7 || p.DistributionAmount != 10000 {
		t.Errorf("expected reseed to keep balance 7, got %+v", p)
	}

	pools, err := s.Pools(ctx)
	if err != nil {
		t.Fatalf("pools: %v", err)
	}
	if len(pools) != 3 || pools[0].Key != founderGold || pools[1].Key != founderSilver || pools[2].Key != pioneerGold {
		t.Errorf("unexpected pool order: %+v", pools)
	}

	if _, err := s.Pool(ctx, model.PoolKey{Epoch: model.Ecosystem, Metal: model.Copper}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	a := model.Allocation{ID: "a1", SubmissionID: "sub-1", Epoch: model.Founder, Metal: model.Gold, Requested: 600, Reward: 600, BalanceBefore: 10000, BalanceAfter: 9400}
	if err := s.InsertAllocation(ctx, a); err != nil {
		t.Fatalf("insert: %v", err)
	}
	dup := a
	dup.ID = "a2"
	if err := s.InsertAllocation(ctx, dup); !errors.Is(err, ErrDuplicateAllocation) {
		t.Errorf("expected ErrDuplicateAllocation, got %v", err)
	}
	if err := s.InsertAllocation(ctx, model.Allocation{ID: "a3", SubmissionID: "sub-2", Epoch: model.Founder, Metal: model.Gold, Reward: 400}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := s.InsertAllocation(ctx, model.Allocation{ID: "a4", SubmissionID: "sub-1", Epoch: model.Founder, Metal: model.Silver, Reward: 50}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	sum, err := s.SumAllocations(ctx, founderGold)
	if err != nil || sum != 1000 {
		t.Errorf("expected sum 1000, got %d (%v)", sum, err)
	}
	if sum, _ := s.SumAllocations(ctx, pioneerGold); sum != 0 {
		t.Errorf("expected empty pool sum 0, got %d", sum)
	}

	got, err := s.Allocation(ctx, "sub-1", model.Gold)
	if err != nil || got.ID != "a1" || got.BalanceAfter != 9400 {
		t.Errorf("unexpected allocation %+v (%v)", got, err)
	}

	// A duplicate met inside a pool transaction leaves the transaction usable,
	// so the committed allocation can still be read back.
	err = s.WithPoolLock(ctx, pioneerGold, func(ctx context.Context) error {
		again := model.Allocation{ID: "a5", SubmissionID: "sub-1", Epoch: model.Pioneer, Metal: model.Gold, Reward: 300}
		if err := s.InsertAllocation(ctx, again); !errors.Is(err, ErrDuplicateAllocation) {
			t.Errorf("expected ErrDuplicateAllocation in tx, got %v", err)
		}
		existing, err := s.Allocation(ctx, "sub-1", model.Gold)
		if err != nil {
			return err
		}
		if existing.ID != "a1" {
			t.Errorf("expected existing allocation a1, got %s", existing.ID)
		}
		return s.UpdateBalance(ctx, pioneerGold, 4999)
	})
	if err != nil {
		t.Fatalf("pool tx after duplicate: %v", err)
	}
	if p, _ := s.Pool(ctx, pioneerGold); p.Balance != 4999 {
		t.Errorf("expected tx to commit after duplicate, balance %d", p.Balance)
	}
	if sum, _ := s.SumAllocations(ctx, pioneerGold); sum != 0 {
		t.Errorf("expected duplicate to leave pioneer pool untouched, sum %d", sum)
	}
	if _, err := s.Allocation(ctx, "sub-1", model.Copper); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	list, err := s.Allocations(ctx, "sub-1")
	if err != nil || len(list) != 2 || list[0].Metal != model.Gold || list[1].Metal != model.Silver {
		t.Errorf("unexpected allocations %+v (%v)", list, err)
	}

	st, err := s.EpochState(ctx)
	if err != nil || st.Current != model.Founder {
		t.Fatalf("unexpected state %+v (%v)", st, err)
	}
	next, ok, err := s.CompareAndSwapEpoch(ctx, st.Version, model.Pioneer)
	if err != nil || !ok || next.Current != model.Pioneer || next.Version != st.Version+1 {
		t.Errorf("expected swap to pioneer, got %+v ok=%v (%v)", next, ok, err)
	}
	stale, ok, err := s.CompareAndSwapEpoch(ctx, st.Version, model.Community)
	if err != nil || ok || stale.Current != model.Pioneer {
		t.Errorf("expected stale swap to fail, got %+v ok=%v (%v)", stale, ok, err)
	}

	// The pointer only moves forward, even with a current version.
	ahead, ok, err := s.CompareAndSwapEpoch(ctx, next.Version, model.Community)
	if err != nil || !ok || ahead.Current != model.Community {
		t.Fatalf("expected swap to community, got %+v ok=%v (%v)", ahead, ok, err)
	}
	for _, back := range []model.Epoch{model.Founder, model.Pioneer, model.Community} {
		got, ok, err := s.CompareAndSwapEpoch(ctx, ahead.Version, back)
		if err != nil || ok || got.Current != model.Community || got.Version != ahead.Version {
			t.Errorf("expected swap back to %s to be refused, got %+v ok=%v (%v)", back, got, ok, err)
		}
	}
}

func testArchiveStore(t *testing.T, s fullStore) {
	ctx := context.Background()
	first, err := s.Append(ctx, model.ArchivedEntry{
		SubmissionID: "sub-a",
		Title:        "First",
		Features:     model.ExtractedFeatures{Abstract: "alpha", Formulas: []string{"e = mc^2"}, Constants: []string{"pi"}},
		Embedding:    []float64{0.1, 0.2, 0.3},
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	second, err := s.Append(ctx, model.ArchivedEntry{SubmissionID: "sub-b", Title: "Second"})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if second.Seq <= first.Seq {
		t.Errorf("expected increasing seq, got %d then %d", first.Seq, second.Seq)
	}
	if _, err := s.Append(ctx, model.ArchivedEntry{SubmissionID: "sub-a"}); !errors.Is(err, ErrDuplicateArchiveEntry) {
		t.Errorf("expected ErrDuplicateArchiveEntry, got %v", err)
	}

	entries, err := s.Entries(ctx)
	if err != nil || len(entries) != 2 {
		t.Fatalf("entries: %d (%v)", len(entries), err)
	}
	if entries[0].SubmissionID != "sub-a" || entries[0].Features.Formulas[0] != "e = mc^2" || entries[0].Embedding[2] != 0.3 {
		t.Errorf("unexpected first entry %+v", entries[0])
	}
	if n, _ := s.Count(ctx); n != 2 {
		t.Errorf("expected count 2, got %d", n)
	}
}

func testEvaluationStore(t *testing.T, s fullStore) {
	ctx := context.Background()
	if _, err := s.LatestEvaluation(ctx, "sub-x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	ev := model.Evaluation{
		ID:           "ev-1",
		SubmissionID: "sub-x",
		Scores:       model.DimensionScores{Novelty: 2000, Density: 2000, Coherence: 2000, Alignment: 2000, Overlap: 12},
		Total:        8200,
		Metals:       []model.Metal{model.Gold, model.Gold, model.Silver},
		Qualified:    true,
		Epoch:        model.Founder,
		Seed:         true,
		SweetSpot:    true,
		Toggles:      model.Toggles{SeedMultiplier: true, OverlapAdjustments: true},
		Matches:      []model.Match{{SubmissionID: "sub-a", Seq: 1, Score: 0.12}},
	}
	if err := s.SaveEvaluation(ctx, ev); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := s.LatestEvaluation(ctx, "sub-x")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if got.Total != 8200 || len(got.Metals) != 3 || !got.Toggles.OverlapAdjustments || len(got.Matches) != 1 || got.Matches[0].SubmissionID != "sub-a" {
		t.Errorf("unexpected evaluation %+v", got)
	}
}

// testPoolLockSerializes checks that read-check-write under WithPoolLock
// never overdraws a pool.
func testPoolLockSerializes(t *testing.T, s fullStore) {
	ctx := context.Background()
	key := model.PoolKey{Epoch: model.Community, Metal: model.Copper}
	if err := s.SeedGenesis(ctx, []model.MetalPool{{Key: key, DistributionAmount: 1000, Balance: 1000}}, model.EpochState{}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := s.WithPoolLock(ctx, key, func(ctx context.Context) error {
				sum, err := s.SumAllocations(ctx, key)
				if err != nil {
					return err
				}
				if 1000-sum < 100 {
					return nil
				}
				return s.InsertAllocation(ctx, model.Allocation{
					ID: string(rune('a' + i)), SubmissionID: string(rune('A' + i)),
					Epoch: key.Epoch, Metal: key.Metal, Reward: 100,
				})
			})
			if err != nil {
				t.Errorf("locked write: %v", err)
			}
		}(i)
	}
	wg.Wait()

	sum, _ := s.SumAllocations(ctx, key)
	if sum != 1000 {
		t.Errorf("expected exactly 1000 drawn, got %d", sum)
	}
}

func TestMemoryStore(t *testing.T) {
	t.Run("ledger", func(t *testing.T) { testLedgerStore(t, NewMemoryStore()) })
	t.Run("archive", func(t *testing.T) { testArchiveStore(t, NewMemoryStore()) })
	t.Run("evaluations", func(t *testing.T) { testEvaluationStore(t, NewMemoryStore()) })
	t.Run("pool lock", func(t *testing.T) { testPoolLockSerializes(t, NewMemoryStore()) })
}

func TestMemoryStore_CancelledContext(t *testing.T) {
	s := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	err := s.WithPoolLock(ctx, founderGold, func(context.Context) error {
		called = true
		return nil
	})
	if !errors.Is(err, context.Canceled) || called {
		t.Errorf("expected cancellation before fn, got err=%v called=%v", err, called)
	}
}

func TestMemoryStore_EntriesAreCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	if _, err := s.Append(ctx, model.ArchivedEntry{SubmissionID: "x", Embedding: []float64{1, 2, 3}}); err != nil {
		t.Fatalf("append: %v", err)
	}
	entries, _ := s.Entries(ctx)
	entries[0].Embedding[0] = 99
	again, _ := s.Entries(ctx)
	if again[0].Embedding[0] != 1 {
		t.Errorf("archive entry was mutated through a returned slice")
	}
}
