package service_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/okian/assay/internal/adapters/evaluator"
	service "github.com/okian/assay/internal/app"
	"github.com/okian/assay/internal/config"
	"github.com/okian/assay/internal/domain/model"
	"github.com/okian/assay/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMain(m *testing.M) {
	_ = logger.InitWithWriter(io.Discard)
	os.Exit(m.Run())
}

// fixedOracle returns verdicts keyed by submission title.
type fixedOracle map[string]evaluator.Verdict

func (f fixedOracle) Evaluate(_ context.Context, sub model.Submission) (evaluator.Verdict, error) {
	v, ok := f[sub.Title]
	if !ok {
		return evaluator.Verdict{}, errors.New("oracle unavailable")
	}
	return v, nil
}

func uniform(score float64, metals ...string) evaluator.Verdict {
	return evaluator.Verdict{Novelty: score, Density: score, Coherence: score, Alignment: score, Metals: metals}
}

func testConfig() *config.Config {
	cfg := config.New()
	cfg.WorkerCount = 2
	cfg.QueueSize = 100
	cfg.Epochs.Founder.Supply = 20000
	cfg.Epochs.Pioneer.Supply = 20000
	cfg.Epochs.Community.Supply = 20000
	cfg.Epochs.Ecosystem.Supply = 20000
	cfg.Pools.RewardPerPoint = 1
	return cfg
}

var oracle = fixedOracle{
	"Strong":       uniform(2400, "gold"),
	"Strong again": uniform(2400, "gold"),
	"Weak":         uniform(1000, "copper"),
	"Broken":       {Novelty: 3000, Density: 10, Coherence: 10, Alignment: 10},
	"Split":        uniform(2100, "silver", "copper"),
}

const body = "Abstract: A unified field primitive that relates curvature to energy density.\n\nE = mc^2\n\nUses the speed of light and planck constant."

func TestProcess(t *testing.T) {
	Convey("Given a started service", t, func() {
		ctx := context.Background()
		svc, err := service.New(testConfig(), service.WithEvaluator(oracle))
		So(err, ShouldBeNil)
		So(svc.Start(ctx), ShouldBeNil)
		defer func() { _ = svc.Stop(ctx) }()

		Convey("A strong submission is allocated from the founder pool", func() {
			out, err := svc.Process(ctx, model.NewSubmission("Strong", body, "physics", []float64{1, 2, 3}))
			So(err, ShouldBeNil)
			So(out.Status, ShouldEqual, service.StatusAllocated)
			So(out.Evaluation.Qualified, ShouldBeTrue)
			So(out.Evaluation.Epoch, ShouldEqual, model.Founder)
			So(out.Evaluation.Total, ShouldEqual, 9600)
			So(out.Allocation.Granted(), ShouldEqual, 9600)
			So(out.Allocation.Allocations[0].Metal, ShouldEqual, model.Gold)

			Convey("And depleting the pool advances the epoch", func() {
				st, err := svc.Stats(ctx)
				So(err, ShouldBeNil)
				So(st.Epoch, ShouldEqual, "pioneer")
				So(st.ArchiveSize, ShouldEqual, 1)
				So(len(st.Pools), ShouldEqual, 12)
				So(st.Pools[0].Balance, ShouldEqual, 400)
			})

			Convey("And processing it again does not draw twice", func() {
				again, err := svc.Process(ctx, model.NewSubmission("Strong", body, "physics", []float64{1, 2, 3}))
				So(err, ShouldBeNil)
				So(again.Allocation.Allocations[0].ID, ShouldEqual, out.Allocation.Allocations[0].ID)
			})

			Convey("And a near duplicate sees the overlap", func() {
				dup, err := svc.Process(ctx, model.NewSubmission("Strong again", body, "physics", []float64{1, 2, 3}))
				So(err, ShouldBeNil)
				So(dup.Evaluation.Scores.Overlap, ShouldBeGreaterThan, 50)
				So(dup.Evaluation.Matches, ShouldNotBeEmpty)
				So(dup.Evaluation.Matches[0].SubmissionID, ShouldEqual, out.SubmissionID)
			})
		})

		Convey("A weak submission does not qualify", func() {
			out, err := svc.Process(ctx, model.NewSubmission("Weak", "short note", "", nil))
			So(err, ShouldBeNil)
			So(out.Status, ShouldEqual, service.StatusNotQualified)
			So(out.Allocation, ShouldBeNil)
			So(out.Evaluation.Total, ShouldEqual, 4000)
		})

		Convey("An out of range verdict fails", func() {
			out, err := svc.Process(ctx, model.NewSubmission("Broken", "text", "", nil))
			So(errors.Is(err, model.ErrInvalidInputRange), ShouldBeTrue)
			So(out.Status, ShouldEqual, service.StatusFailed)
		})

		Convey("An oracle failure fails", func() {
			out, err := svc.Process(ctx, model.NewSubmission("Unknown", "text", "", nil))
			So(err, ShouldNotBeNil)
			So(out.Status, ShouldEqual, service.StatusFailed)
			So(out.Error, ShouldContainSubstring, "oracle unavailable")
		})
	})
}

func TestSubmit(t *testing.T) {
	Convey("Given a service with an outcome sink", t, func() {
		ctx := context.Background()
		var (
			mu       sync.Mutex
			outcomes []service.Outcome
		)
		sink := service.OutcomeSinkFunc(func(_ context.Context, o service.Outcome) {
			mu.Lock()
			defer mu.Unlock()
			outcomes = append(outcomes, o)
		})
		svc, err := service.New(testConfig(), service.WithEvaluator(oracle), service.WithOutcomeSink(sink))
		So(err, ShouldBeNil)

		Convey("Submitting before start is rejected", func() {
			err := svc.Submit(ctx, model.NewSubmission("Strong", body, "", nil))
			So(errors.Is(err, service.ErrNotStarted), ShouldBeTrue)
		})

		Convey("When submissions are queued", func() {
			So(svc.Start(ctx), ShouldBeNil)
			So(svc.Submit(ctx, model.NewSubmission("Split", "first text about gauge symmetry", "", nil)), ShouldBeNil)
			So(svc.Submit(ctx, model.NewSubmission("Weak", "second text", "", nil)), ShouldBeNil)

			err := svc.Submit(ctx, model.NewSubmission("Weak", "second text", "", nil))
			So(errors.Is(err, service.ErrDuplicateSubmission), ShouldBeTrue)

			stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			So(svc.Stop(stopCtx), ShouldBeNil)

			Convey("Then every outcome reaches the sink", func() {
				mu.Lock()
				defer mu.Unlock()
				So(len(outcomes), ShouldEqual, 2)
				statuses := map[string]string{}
				for _, o := range outcomes {
					statuses[o.Title] = o.Status
				}
				So(statuses["Split"], ShouldEqual, service.StatusAllocated)
				So(statuses["Weak"], ShouldEqual, service.StatusNotQualified)
			})
		})
	})
}

func TestConcurrentProcessing(t *testing.T) {
	Convey("Given many qualifying submissions racing for the founder pools", t, func() {
		ctx := context.Background()
		cfg := testConfig()
		verdicts := fixedOracle{}
		for i := 0; i < 40; i++ {
			verdicts[fmt.Sprintf("s-%d", i)] = uniform(2000+float64(i), "gold", "silver")
		}
		svc, err := service.New(cfg, service.WithEvaluator(verdicts))
		So(err, ShouldBeNil)
		So(svc.Start(ctx), ShouldBeNil)
		defer func() { _ = svc.Stop(ctx) }()

		var wg sync.WaitGroup
		for i := 0; i < 40; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, _ = svc.Process(ctx, model.NewSubmission(fmt.Sprintf("s-%d", i), fmt.Sprintf("text %d", i), "", nil))
			}(i)
		}
		wg.Wait()

		Convey("Then no pool is overdrawn", func() {
			st, err := svc.Stats(ctx)
			So(err, ShouldBeNil)
			for _, p := range st.Pools {
				So(p.Balance, ShouldBeGreaterThanOrEqualTo, 0)
				So(p.Balance, ShouldBeLessThanOrEqualTo, p.Distribution)
			}
		})
	})
}

func TestOpenStorage(t *testing.T) {
	Convey("Given a sqlite database", t, func() {
		ctx := context.Background()
		cfg := testConfig()
		cfg.Database.Driver = config.DriverSQLite
		cfg.Database.Path = filepath.Join(t.TempDir(), "assay.db")

		st, err := service.OpenStorage(ctx, cfg)
		So(err, ShouldBeNil)
		defer func() { _ = st.Close() }()

		svc, err := service.New(cfg, service.WithStorage(st), service.WithEvaluator(oracle))
		So(err, ShouldBeNil)
		So(svc.Start(ctx), ShouldBeNil)
		defer func() { _ = svc.Stop(ctx) }()

		Convey("The pipeline persists through gorm", func() {
			out, err := svc.Process(ctx, model.NewSubmission("Strong", body, "", nil))
			So(err, ShouldBeNil)
			So(out.Status, ShouldEqual, service.StatusAllocated)

			got, err := st.Evaluations.LatestEvaluation(ctx, out.SubmissionID)
			So(err, ShouldBeNil)
			So(got.Total, ShouldEqual, 9600)

			allocs, err := st.Ledger.Allocations(ctx, out.SubmissionID)
			So(err, ShouldBeNil)
			So(len(allocs), ShouldEqual, 1)
		})
	})

	Convey("Given an unsupported driver", t, func() {
		cfg := testConfig()
		cfg.Database.Driver = "oracle"
		_, err := service.OpenStorage(context.Background(), cfg)
		So(err, ShouldNotBeNil)
	})
}
