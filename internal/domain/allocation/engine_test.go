package allocation_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"sync"
	"testing"

	"github.com/okian/assay/internal/adapters/repository"
	"github.com/okian/assay/internal/domain/allocation"
	"github.com/okian/assay/internal/domain/assay"
	"github.com/okian/assay/internal/domain/ledger"
	"github.com/okian/assay/internal/domain/model"
	"github.com/okian/assay/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMain(m *testing.M) {
	_ = logger.InitWithWriter(io.Discard)
	os.Exit(m.Run())
}

var founderAu = model.PoolKey{Epoch: model.Founder, Metal: model.Gold}

func setup(ctx context.Context) (*allocation.Engine, *ledger.Ledger, *repository.MemoryStore) {
	store := repository.NewMemoryStore()
	g, err := ledger.NewGenesis(
		ledger.Supply{Founder: 20000, Pioneer: 20000, Community: 20000, Ecosystem: 20000},
		assay.Weights{Gold: 0.5, Silver: 0.25, Copper: 0.25},
	)
	So(err, ShouldBeNil)
	l := ledger.New(store, g)
	So(l.Init(ctx), ShouldBeNil)
	e, err := allocation.New(l, allocation.WithRewardPerPoint(1))
	So(err, ShouldBeNil)
	return e, l, store
}

func qualified(title string, total float64, epoch model.Epoch, metals ...model.Metal) (model.Submission, model.Evaluation) {
	sub := model.NewSubmission(title, "body of "+title, "", nil)
	return sub, model.Evaluation{
		ID:           "ev-" + title,
		SubmissionID: sub.ID,
		Total:        total,
		Metals:       metals,
		Qualified:    true,
		Epoch:        epoch,
	}
}

func TestSplit(t *testing.T) {
	Convey("Given a reward and weights", t, func() {
		Convey("Two even metals split in half", func() {
			shares := allocation.Split(7000, assay.Weights{Gold: 0.5, Silver: 0.5})
			So(shares, ShouldResemble, []allocation.Share{
				{Metal: model.Gold, Amount: 3500},
				{Metal: model.Silver, Amount: 3500},
			})
		})

		Convey("Thirds keep the remainder on the last metal", func() {
			shares := allocation.Split(1000, assay.Weigh([]string{"gold", "silver", "copper"}))
			So(len(shares), ShouldEqual, 3)
			So(shares[0].Amount, ShouldEqual, 333)
			So(shares[1].Amount, ShouldEqual, 333)
			So(shares[2].Amount, ShouldEqual, 334)
		})

		Convey("Shares always sum to the reward", func() {
			r := rand.New(rand.NewSource(7))
			for i := 0; i < 200; i++ {
				reward := r.Int63n(1_000_000_000)
				w := assay.Weights{Gold: r.Float64(), Silver: r.Float64(), Copper: r.Float64()}
				sum := w.Sum()
				w = assay.Weights{Gold: w.Gold / sum, Silver: w.Silver / sum, Copper: w.Copper / sum}
				var total int64
				for _, s := range allocation.Split(reward, w) {
					So(s.Amount, ShouldBeGreaterThanOrEqualTo, 0)
					total += s.Amount
				}
				So(total, ShouldEqual, reward)
			}
		})
	})
}

func TestRewardRate(t *testing.T) {
	Convey("Given a ledger", t, func() {
		ctx := context.Background()
		_, l, _ := setup(ctx)

		Convey("A rate that overflows the top score is rejected", func() {
			_, err := allocation.New(l, allocation.WithRewardPerPoint(1e16))
			So(errors.Is(err, allocation.ErrInvalidRewardRate), ShouldBeTrue)
		})

		Convey("Zero and negative rates are rejected", func() {
			_, err := allocation.New(l, allocation.WithRewardPerPoint(0))
			So(errors.Is(err, allocation.ErrInvalidRewardRate), ShouldBeTrue)
			_, err = allocation.New(l, allocation.WithRewardPerPoint(-1))
			So(errors.Is(err, allocation.ErrInvalidRewardRate), ShouldBeTrue)
		})

		Convey("The ceiling rate still yields a positive reward", func() {
			e, err := allocation.New(l, allocation.WithRewardPerPoint(allocation.MaxRewardPerPoint))
			So(err, ShouldBeNil)
			So(e.Reward(10000), ShouldEqual, int64(1e18))
		})
	})
}

func TestAllocate(t *testing.T) {
	Convey("Given an allocation engine", t, func() {
		ctx := context.Background()
		e, l, store := setup(ctx)

		Convey("An unqualified evaluation is rejected", func() {
			sub, ev := qualified("weak", 3000, model.Founder, model.Copper)
			ev.Qualified = false
			res, err := e.Allocate(ctx, sub, ev)
			So(errors.Is(err, model.ErrNotQualified), ShouldBeTrue)
			So(res.Reason, ShouldEqual, allocation.ReasonNotQualified)
			So(res.Allocations, ShouldBeEmpty)
		})

		Convey("An evaluation of another submission is rejected", func() {
			sub, ev := qualified("a", 9000, model.Founder, model.Gold)
			ev.SubmissionID = "other"
			_, err := e.Allocate(ctx, sub, ev)
			So(errors.Is(err, allocation.ErrEvaluationMismatch), ShouldBeTrue)
		})

		Convey("A qualified evaluation draws from every funded metal", func() {
			sub, ev := qualified("split", 4000, model.Founder, model.Gold, model.Silver)
			res, err := e.Allocate(ctx, sub, ev)
			So(err, ShouldBeNil)
			So(res.Reward, ShouldEqual, 4000)
			So(res.Granted(), ShouldEqual, 4000)
			So(res.Reason, ShouldBeEmpty)
			So(len(res.Allocations), ShouldEqual, 2)
			So(res.Allocations[0].Metal, ShouldEqual, model.Gold)
			So(res.Allocations[0].Reward, ShouldEqual, 2000)
			So(res.Allocations[1].Metal, ShouldEqual, model.Silver)

			Convey("And re-running it is a no-op", func() {
				again, err := e.Allocate(ctx, sub, ev)
				So(err, ShouldBeNil)
				So(len(again.Allocations), ShouldEqual, 2)
				So(again.Allocations[0].ID, ShouldEqual, res.Allocations[0].ID)
				So(again.Allocations[1].ID, ShouldEqual, res.Allocations[1].ID)

				pool, err := l.Reconcile(ctx, founderAu)
				So(err, ShouldBeNil)
				So(pool.Balance, ShouldEqual, 8000)
			})
		})

		Convey("A depleted founder pool spills into the open pioneer tier", func() {
			So(store.InsertAllocation(ctx, model.Allocation{
				ID: "seed", SubmissionID: "seed", Epoch: model.Founder, Metal: model.Gold, Reward: 9500,
			}), ShouldBeNil)
			_, err := l.Advance(ctx, model.Pioneer)
			So(err, ShouldBeNil)

			sub, ev := qualified("spill", 700, model.Founder, model.Gold)
			res, err := e.Allocate(ctx, sub, ev)
			So(err, ShouldBeNil)
			So(len(res.Allocations), ShouldEqual, 1)
			So(res.Allocations[0].Epoch, ShouldEqual, model.Pioneer)
			So(res.Allocations[0].Reward, ShouldEqual, 700)
		})

		Convey("A closed ledger records zero rewards", func() {
			_, err := l.Advance(ctx, model.EpochClosed)
			So(err, ShouldBeNil)
			sub, ev := qualified("late", 5000, model.Ecosystem, model.Copper)
			res, err := e.Allocate(ctx, sub, ev)
			So(err, ShouldBeNil)
			So(res.Reason, ShouldEqual, model.ReasonPoolExhausted)
			So(res.Granted(), ShouldEqual, 0)
			So(len(res.Allocations), ShouldEqual, 1)

			again, err := e.Allocate(ctx, sub, ev)
			So(err, ShouldBeNil)
			So(again.Allocations[0].ID, ShouldEqual, res.Allocations[0].ID)
		})
	})
}

func TestConcurrentAllocations(t *testing.T) {
	Convey("Given two submissions each owed 6000 gold from a 10000 pool", t, func() {
		ctx := context.Background()
		e, l, _ := setup(ctx)

		var (
			wg      sync.WaitGroup
			results = make([]allocation.Result, 2)
			errs    = make([]error, 2)
		)
		for i := 0; i < 2; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				sub, ev := qualified(fmt.Sprintf("race-%d", i), 6000, model.Founder, model.Gold)
				results[i], errs[i] = e.Allocate(ctx, sub, ev)
			}(i)
		}
		wg.Wait()

		Convey("Then one is paid in full and the other takes the remainder", func() {
			So(errs[0], ShouldBeNil)
			So(errs[1], ShouldBeNil)
			granted := []int64{results[0].Granted(), results[1].Granted()}
			So(granted, ShouldContain, int64(6000))
			So(granted, ShouldContain, int64(4000))

			pool, err := l.Reconcile(ctx, founderAu)
			So(err, ShouldBeNil)
			So(pool.Balance, ShouldEqual, 0)

			st, err := l.CurrentEpoch(ctx)
			So(err, ShouldBeNil)
			So(st.Current, ShouldEqual, model.Pioneer)
		})
	})

	Convey("Given many concurrent allocations across metals", t, func() {
		ctx := context.Background()
		e, l, store := setup(ctx)
		r := rand.New(rand.NewSource(42))

		type job struct {
			sub model.Submission
			ev  model.Evaluation
		}
		jobs := make([]job, 150)
		for i := range jobs {
			metals := []model.Metal{model.Metals[r.Intn(3)]}
			if r.Intn(2) == 0 {
				metals = append(metals, model.Metals[r.Intn(3)])
			}
			sub, ev := qualified(fmt.Sprintf("load-%d", i), float64(200+r.Intn(3000)), model.Founder, metals...)
			jobs[i] = job{sub: sub, ev: ev}
		}

		var (
			wg   sync.WaitGroup
			errs = make([]error, 2*len(jobs))
		)
		for i, j := range jobs {
			wg.Add(2)
			for k := 0; k < 2; k++ {
				go func(slot int, j job) {
					defer wg.Done()
					_, errs[slot] = e.Allocate(ctx, j.sub, j.ev)
				}(2*i+k, j)
			}
		}
		wg.Wait()

		Convey("Then no allocation fails", func() {
			for _, err := range errs {
				So(err, ShouldBeNil)
			}
		})

		Convey("Then every pool conserves its distribution", func() {
			pools, err := l.Balances(ctx)
			So(err, ShouldBeNil)
			var drawn int64
			for _, a := range store.AllAllocations() {
				drawn += a.Reward
			}
			var remaining, supply int64
			for _, p := range pools {
				So(p.Balance, ShouldBeGreaterThanOrEqualTo, 0)
				So(p.Balance, ShouldBeLessThanOrEqualTo, p.DistributionAmount)
				remaining += p.Balance
				supply += p.DistributionAmount
			}
			So(drawn+remaining, ShouldEqual, supply)
		})

		Convey("And each submission holds at most one allocation per metal", func() {
			seen := map[string]bool{}
			for _, a := range store.AllAllocations() {
				So(seen[a.IdempotencyKey()], ShouldBeFalse)
				seen[a.IdempotencyKey()] = true
			}
		})
	})
}
