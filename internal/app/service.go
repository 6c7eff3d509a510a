// Package service wires the scoring pipeline, the allocation engine and the
// intake queue into one process-level service.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okian/assay/internal/adapters/evaluator"
	"github.com/okian/assay/internal/adapters/mq/queue"
	"github.com/okian/assay/internal/adapters/mq/worker"
	"github.com/okian/assay/internal/adapters/repository"
	"github.com/okian/assay/internal/config"
	"github.com/okian/assay/internal/domain/allocation"
	"github.com/okian/assay/internal/domain/assay"
	"github.com/okian/assay/internal/domain/dedupe"
	"github.com/okian/assay/internal/domain/epoch"
	"github.com/okian/assay/internal/domain/features"
	"github.com/okian/assay/internal/domain/ledger"
	"github.com/okian/assay/internal/domain/model"
	"github.com/okian/assay/internal/domain/redundancy"
	"github.com/okian/assay/internal/domain/scoring"
	"github.com/okian/assay/internal/domain/similarity"
	"github.com/okian/assay/pkg/logger"
	"github.com/okian/assay/pkg/metrics"
)

// Sentinel kinds for service errors.
var (
	ErrDuplicateSubmission = errors.New("submission already submitted")
	ErrNotStarted          = errors.New("service not started")
)

// Service evaluates submissions and allocates their rewards.
type Service struct {
	cfg *config.Config
	log logger.Logger
	now func() time.Time

	storage   *Storage
	oracle    evaluator.Evaluator
	extractor features.Extractor
	index     *similarity.Index
	assessor  *redundancy.Assessor
	scorer    scoring.Scorer
	qualifier *epoch.Qualifier
	ledger    *ledger.Ledger
	engine    *allocation.Engine
	deduper   dedupe.Deduper
	sink      OutcomeSink

	mu        sync.RWMutex
	queue     *queue.InMemoryQueue
	pool      *worker.Pool
	runCancel context.CancelFunc
	started   bool
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(log logger.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// WithStorage sets the stores. In-memory stores are used otherwise.
func WithStorage(st *Storage) Option {
	return func(s *Service) {
		if st != nil {
			s.storage = st
		}
	}
}

// WithEvaluator overrides the oracle selected by configuration.
func WithEvaluator(e evaluator.Evaluator) Option {
	return func(s *Service) {
		if e != nil {
			s.oracle = e
		}
	}
}

// WithOutcomeSink receives outcomes of queued submissions.
func WithOutcomeSink(sink OutcomeSink) Option {
	return func(s *Service) {
		if sink != nil {
			s.sink = sink
		}
	}
}

// WithClock sets the time source for evaluation timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// New builds a service from cfg. Call Start before submitting.
func New(cfg *config.Config, opts ...Option) (*Service, error) {
	if cfg == nil {
		cfg = config.New()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Service{
		cfg:  cfg,
		log:  logger.Get().Named("service"),
		now:  func() time.Time { return time.Now().UTC() },
		sink: discardSink{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.storage == nil {
		s.storage = NewMemoryStorage()
	}
	if s.oracle == nil {
		oracle, err := evaluator.New(cfg.Evaluator)
		if err != nil {
			return nil, err
		}
		s.oracle = oracle
	}

	sc := cfg.Scoring
	s.extractor = features.NewRegexExtractor(features.WithMaxAbstract(cfg.Similarity.MaxAbstract))
	s.index = similarity.NewIndex(
		similarity.WithTopK(cfg.Similarity.TopK),
		similarity.WithWeights(similarity.Weights{
			Vector:   cfg.Similarity.VectorWeight,
			Text:     cfg.Similarity.TextWeight,
			Formula:  cfg.Similarity.FormulaWeight,
			Constant: cfg.Similarity.ConstantWeight,
		}),
		similarity.WithParallelism(cfg.Similarity.ParallelThreshold, cfg.Similarity.MaxParallel),
	)
	s.assessor = redundancy.NewAssessor(redundancy.WithSweetSpot(sc.SweetSpotLow, sc.SweetSpotHigh))
	s.scorer = scoring.NewContributionScorer(
		scoring.WithToggles(model.Toggles{
			SeedMultiplier:     sc.EnableSeed,
			EdgeMultiplier:     sc.EnableEdge,
			OverlapAdjustments: sc.EnableOverlap,
		}),
		scoring.WithMultipliers(sc.SeedMultiplier, sc.EdgeMultiplier),
		scoring.WithSweetSpot(sc.SweetSpotLow, sc.SweetSpotHigh, sc.SweetSpotBonus),
		scoring.WithExcessPenalty(sc.ExcessThreshold, sc.MaxPenalty),
		scoring.WithMetalBands(cfg.Epochs.Founder.Threshold, cfg.Epochs.Pioneer.Threshold),
	)

	q, err := epoch.NewQualifier(epoch.Thresholds{
		Founder:   cfg.Epochs.Founder.Threshold,
		Pioneer:   cfg.Epochs.Pioneer.Threshold,
		Community: cfg.Epochs.Community.Threshold,
		Ecosystem: cfg.Epochs.Ecosystem.Threshold,
	})
	if err != nil {
		return nil, err
	}
	s.qualifier = q

	genesis, err := ledger.NewGenesis(
		ledger.Supply{
			Founder:   cfg.Epochs.Founder.Supply,
			Pioneer:   cfg.Epochs.Pioneer.Supply,
			Community: cfg.Epochs.Community.Supply,
			Ecosystem: cfg.Epochs.Ecosystem.Supply,
		},
		assay.Weights{Gold: cfg.Pools.GoldShare, Silver: cfg.Pools.SilverShare, Copper: cfg.Pools.CopperShare},
	)
	if err != nil {
		return nil, err
	}
	s.ledger = ledger.New(s.storage.Ledger, genesis, ledger.WithDepletionFloor(cfg.Pools.DepletionFloor))
	s.engine, err = allocation.New(s.ledger, allocation.WithRewardPerPoint(cfg.Pools.RewardPerPoint))
	if err != nil {
		return nil, err
	}
	s.deduper = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(cfg.DedupeSize))
	return s, nil
}

// Ledger exposes the pool ledger.
func (s *Service) Ledger() *ledger.Ledger { return s.ledger }

// Start seeds and reconciles the ledger and launches the worker pool.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	if err := s.ledger.Init(ctx); err != nil {
		return fmt.Errorf("init ledger: %w", err)
	}

	// Workers outlive ctx so Stop can drain the queue.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.queue = queue.NewInMemoryQueue(queue.WithCapacity(s.cfg.QueueSize))
	s.pool = worker.NewPool(s.cfg.WorkerCount, s.queue, worker.ProcessorFunc(s.handle))
	s.pool.Start(runCtx)
	s.runCancel = cancel
	s.started = true

	s.log.Info(ctx, "service started",
		logger.Int("workers", s.pool.Size()),
		logger.Int("queue_size", s.cfg.QueueSize),
		logger.Int("dedupe_size", s.cfg.DedupeSize))
	return nil
}

// Stop closes intake and waits for queued submissions to finish.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return nil
	}
	s.log.Info(ctx, "stopping service")
	err := s.pool.Shutdown(ctx)
	s.runCancel()
	s.started = false
	return err
}

// Submit queues a submission for asynchronous processing. The outcome goes
// to the configured sink.
func (s *Service) Submit(ctx context.Context, sub model.Submission) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return ErrNotStarted
	}
	if s.deduper.SeenAndRecord(ctx, sub.ID) {
		s.log.Debug(ctx, "duplicate submission skipped", logger.String("submission_id", sub.ID))
		return fmt.Errorf("%s: %w", sub.ID, ErrDuplicateSubmission)
	}
	if err := s.queue.Enqueue(ctx, sub); err != nil {
		s.deduper.Unrecord(ctx, sub.ID)
		return fmt.Errorf("enqueue %s: %w", sub.ID, err)
	}
	return nil
}

func (s *Service) handle(ctx context.Context, sub model.Submission) error {
	out, err := s.Process(ctx, sub)
	if err != nil {
		s.deduper.Unrecord(ctx, sub.ID)
	}
	s.sink.Deliver(ctx, out)
	return err
}

// Process runs the oracle, evaluates the verdict and allocates the reward
// when the submission qualifies. Expected outcomes such as not qualifying
// are reported through Outcome.Status with a nil error.
func (s *Service) Process(ctx context.Context, sub model.Submission) (Outcome, error) {
	out := Outcome{SubmissionID: sub.ID, Title: sub.Title}
	fail := func(err error) (Outcome, error) {
		out.Status = StatusFailed
		out.Error = err.Error()
		metrics.RecordEvaluation(StatusFailed)
		return out, err
	}

	verdict, err := s.oracle.Evaluate(ctx, sub)
	if err != nil {
		metrics.RecordErrorByComponent("service", "evaluator")
		return fail(fmt.Errorf("evaluate %s: %w", sub.ID, err))
	}
	ev, err := s.Evaluate(ctx, sub, verdict)
	if err != nil {
		return fail(err)
	}
	out.Evaluation = &ev

	res, err := s.engine.Allocate(ctx, sub, ev)
	switch {
	case errors.Is(err, model.ErrNotQualified):
		out.Status = StatusNotQualified
	case err != nil:
		metrics.RecordErrorByComponent("service", "allocation")
		return fail(fmt.Errorf("allocate %s: %w", sub.ID, err))
	default:
		out.Allocation = &res
		out.Status = statusOf(res)
	}
	metrics.RecordEvaluation(out.Status)
	s.log.Info(ctx, "submission processed",
		logger.String("submission_id", sub.ID),
		logger.String("status", out.Status),
		logger.Float64("total", ev.Total),
		logger.String("epoch", ev.Epoch.String()))
	return out, nil
}

// Evaluate scores a verdict against the archive, decides qualification,
// records the evaluation and archives the submission.
func (s *Service) Evaluate(ctx context.Context, sub model.Submission, v evaluator.Verdict) (model.Evaluation, error) {
	feats := s.extractor.Extract(sub.Text)
	entries, err := s.storage.Archive.Entries(ctx)
	if err != nil {
		return model.Evaluation{}, fmt.Errorf("load archive: %w", err)
	}
	matches, err := s.index.Search(ctx, similarity.Query{
		SubmissionID: sub.ID,
		Features:     feats,
		Embedding:    sub.Embedding,
	}, entries)
	if err != nil {
		return model.Evaluation{}, fmt.Errorf("similarity search: %w", err)
	}
	assessment := s.assessor.Assess(matches)

	scored, err := s.scorer.Score(ctx, scoring.Input{
		SubmissionID: sub.ID,
		Scores:       v.Dimensions(assessment.Overlap),
		Seed:         v.Seed,
		Edge:         v.Edge,
		Metals:       v.Metals,
	})
	if err != nil {
		return model.Evaluation{}, err
	}
	state, err := s.ledger.CurrentEpoch(ctx)
	if err != nil {
		return model.Evaluation{}, fmt.Errorf("load epoch state: %w", err)
	}
	decision := s.qualifier.Decide(scored.Total, state)

	ev := model.Evaluation{
		ID:           uuid.NewString(),
		SubmissionID: sub.ID,
		Scores:       scored.Scores,
		Total:        scored.Total,
		Metals:       scored.Metals,
		Qualified:    decision.Qualified,
		Epoch:        decision.Epoch,
		Seed:         scored.SeedApplied,
		Edge:         scored.EdgeApplied,
		SweetSpot:    scored.SweetSpot,
		Toggles:      scored.Toggles,
		Matches:      matches,
		EvaluatedAt:  s.now(),
	}
	if err := s.storage.Evaluations.SaveEvaluation(ctx, ev); err != nil {
		return model.Evaluation{}, fmt.Errorf("save evaluation: %w", err)
	}

	_, err = s.storage.Archive.Append(ctx, model.ArchivedEntry{
		SubmissionID: sub.ID,
		Title:        sub.Title,
		Features:     feats,
		Embedding:    sub.Embedding,
		ArchivedAt:   s.now(),
	})
	if err != nil && !errors.Is(err, repository.ErrDuplicateArchiveEntry) {
		return model.Evaluation{}, fmt.Errorf("archive submission: %w", err)
	}
	return ev, nil
}

// PoolStat is one pool in Stats.
type PoolStat struct {
	Epoch        string `json:"epoch"`
	Metal        string `json:"metal"`
	Distribution int64  `json:"distribution"`
	Balance      int64  `json:"balance"`
}

// Stats is a point-in-time view of the engine.
type Stats struct {
	Started      bool       `json:"started"`
	Epoch        string     `json:"epoch"`
	EpochVersion int64      `json:"epoch_version"`
	Pools        []PoolStat `json:"pools"`
	ArchiveSize  int        `json:"archive_size"`
	DedupeSize   int64      `json:"dedupe_size"`
	QueueLength  int        `json:"queue_length"`
	Workers      int        `json:"workers"`
}

// Stats reconciles every pool and reports the engine state.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	state, err := s.ledger.CurrentEpoch(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("load epoch state: %w", err)
	}
	pools, err := s.ledger.Balances(ctx)
	if err != nil {
		return Stats{}, err
	}
	size, err := s.storage.Archive.Count(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("count archive: %w", err)
	}
	st := Stats{
		Epoch:        state.Current.String(),
		EpochVersion: state.Version,
		ArchiveSize:  size,
		DedupeSize:   s.deduper.Size(),
		Pools:        make([]PoolStat, 0, len(pools)),
	}
	for _, p := range pools {
		st.Pools = append(st.Pools, PoolStat{
			Epoch:        p.Key.Epoch.String(),
			Metal:        string(p.Key.Metal),
			Distribution: p.DistributionAmount,
			Balance:      p.Balance,
		})
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	st.Started = s.started
	if s.started {
		st.QueueLength = s.queue.Len()
		st.Workers = s.pool.Size()
	}
	return st, nil
}
