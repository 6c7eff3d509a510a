package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/okian/assay/internal/adapters/http/api"
	"github.com/okian/assay/internal/adapters/mq/queue"
	service "github.com/okian/assay/internal/app"
	"github.com/okian/assay/internal/config"
	"github.com/okian/assay/internal/domain/model"
	"github.com/okian/assay/pkg/logger"
	"github.com/smartystreets/goconvey/convey"
)

func TestMain(m *testing.M) {
	_ = logger.InitWithWriter(io.Discard)
	os.Exit(m.Run())
}

type recordingSubmitter struct {
	mu       sync.Mutex
	seen     map[string]bool
	queued   []model.Submission
	fullOnce bool
}

func (r *recordingSubmitter) Submit(_ context.Context, sub model.Submission) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fullOnce {
		r.fullOnce = false
		return queue.ErrQueueFull
	}
	if r.seen == nil {
		r.seen = map[string]bool{}
	}
	if r.seen[sub.ID] {
		return fmt.Errorf("%s: %w", sub.ID, service.ErrDuplicateSubmission)
	}
	r.seen[sub.ID] = true
	r.queued = append(r.queued, sub)
	return nil
}

func TestConfigFromEnv(t *testing.T) {
	convey.Convey("Given ASSAY_ environment overrides", t, func() {
		t.Setenv("ASSAY_ADDR", ":8181")
		t.Setenv("ASSAY_QUEUE_SIZE", "1000")
		t.Setenv("ASSAY_WORKER_COUNT", "4")
		t.Setenv("ASSAY_POOLS__DEPLETION_FLOOR", "500")

		convey.Convey("Then the loaded configuration reflects them", func() {
			cfg, err := config.Load(context.Background())
			convey.So(err, convey.ShouldBeNil)
			convey.So(cfg.Addr, convey.ShouldEqual, ":8181")
			convey.So(cfg.QueueSize, convey.ShouldEqual, 1000)
			convey.So(cfg.WorkerCount, convey.ShouldEqual, 4)
			convey.So(cfg.Pools.DepletionFloor, convey.ShouldEqual, 500)
		})
	})
}

func TestIntake(t *testing.T) {
	convey.Convey("Given a JSON-lines intake stream", t, func() {
		ctx := context.Background()
		input := strings.Join([]string{
			`{"title":"Zero knowledge rollups","text":"batch proofs on layer two","category":"scaling"}`,
			``,
			`not json`,
			`{"title":"missing text"}`,
			`{"title":"Zero knowledge rollups","text":"batch proofs on layer two"}`,
			`{"title":"Sharding","text":"split state across committees","embedding":[0.1,0.2,0.3]}`,
		}, "\n")

		convey.Convey("Then valid lines are queued once and bad lines counted", func() {
			s := &recordingSubmitter{fullOnce: true}
			st, err := intake(ctx, strings.NewReader(input), s)
			convey.So(err, convey.ShouldBeNil)
			convey.So(st.Queued, convey.ShouldEqual, 2)
			convey.So(st.Duplicates, convey.ShouldEqual, 1)
			convey.So(st.Rejected, convey.ShouldEqual, 2)
			convey.So(s.queued[0].Category, convey.ShouldEqual, "scaling")
			convey.So(s.queued[1].Embedding, convey.ShouldResemble, []float64{0.1, 0.2, 0.3})
		})

		convey.Convey("Then a cancelled context stops a blocked intake", func() {
			cctx, cancel := context.WithCancel(ctx)
			cancel()
			_, err := intake(cctx, strings.NewReader(input), &alwaysFull{})
			convey.So(err, convey.ShouldNotBeNil)
		})
	})
}

type alwaysFull struct{}

func (alwaysFull) Submit(context.Context, model.Submission) error { return queue.ErrQueueFull }

func TestJSONLinesSink(t *testing.T) {
	convey.Convey("Given a JSON-lines outcome sink", t, func() {
		var buf bytes.Buffer
		sink := newJSONLinesSink(&buf)
		sink.Deliver(context.Background(), service.Outcome{SubmissionID: "a", Status: service.StatusAllocated})
		sink.Deliver(context.Background(), service.Outcome{SubmissionID: "b", Status: service.StatusNotQualified})

		convey.Convey("Then each outcome is one decodable line", func() {
			lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
			convey.So(len(lines), convey.ShouldEqual, 2)
			var o service.Outcome
			convey.So(json.Unmarshal([]byte(lines[1]), &o), convey.ShouldBeNil)
			convey.So(o.SubmissionID, convey.ShouldEqual, "b")
			convey.So(o.Status, convey.ShouldEqual, service.StatusNotQualified)
		})
	})
}

func TestServiceWiring(t *testing.T) {
	convey.Convey("Given a service started from defaults", t, func() {
		ctx := context.Background()
		cfg := config.New()
		cfg.WorkerCount = 2
		cfg.Evaluator.LatencyMin = time.Millisecond
		cfg.Evaluator.LatencyMax = 2 * time.Millisecond

		var mu sync.Mutex
		var outcomes []service.Outcome
		svc, err := service.New(cfg, service.WithOutcomeSink(service.OutcomeSinkFunc(func(_ context.Context, o service.Outcome) {
			mu.Lock()
			defer mu.Unlock()
			outcomes = append(outcomes, o)
		})))
		convey.So(err, convey.ShouldBeNil)
		convey.So(svc.Start(ctx), convey.ShouldBeNil)

		mux := http.NewServeMux()
		api.NewServer(svc).Register(mux)

		convey.Convey("Then a submission posted over HTTP produces an outcome", func() {
			body := `{"title":"Verifiable delay functions","text":"sequential squaring yields unbiased randomness"}`
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/submissions", strings.NewReader(body)))
			convey.So(rec.Code, convey.ShouldEqual, http.StatusAccepted)

			stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			convey.So(svc.Stop(stopCtx), convey.ShouldBeNil)

			mu.Lock()
			defer mu.Unlock()
			convey.So(len(outcomes), convey.ShouldEqual, 1)
			convey.So(outcomes[0].Status, convey.ShouldNotEqual, service.StatusFailed)

			stats := httptest.NewRecorder()
			mux.ServeHTTP(stats, httptest.NewRequest(http.MethodGet, "/stats", nil))
			convey.So(stats.Code, convey.ShouldEqual, http.StatusOK)
			convey.So(stats.Body.String(), convey.ShouldContainSubstring, `"archive_size":1`)
		})
	})
}
