// Package allocation converts a qualified evaluation into metal pool draws.
package allocation

import (
	"context"
	"errors"
	"fmt"
	"math"

	"golang.org/x/sync/singleflight"

	"github.com/okian/assay/internal/domain/assay"
	"github.com/okian/assay/internal/domain/ledger"
	"github.com/okian/assay/internal/domain/model"
	"github.com/okian/assay/pkg/logger"
)

// Share is the reward owed to one metal before pool selection.
type Share struct {
	Metal  model.Metal
	Amount int64
}

// Result is the outcome of allocating one submission.
type Result struct {
	SubmissionID string
	Reward       int64
	Weights      assay.Weights
	Allocations  []model.Allocation
	Advances     []model.EpochAdvance
	// Reason is empty for a full allocation, otherwise one of the model
	// reason codes or "not_qualified".
	Reason string
}

// Granted sums the reward actually drawn.
func (r Result) Granted() int64 {
	var total int64
	for _, a := range r.Allocations {
		total += a.Reward
	}
	return total
}

// ReasonNotQualified marks an evaluation below its epoch threshold.
const ReasonNotQualified = "not_qualified"

// Engine allocates rewards. It is safe for concurrent use; concurrent calls
// for one submission share a single run.
type Engine struct {
	ledger         *ledger.Ledger
	rewardPerPoint float64
	maxAttempts    int
	log            logger.Logger
	inflight       singleflight.Group
}

// New creates an allocation engine over l.
func New(l *ledger.Ledger, opts ...Option) (*Engine, error) {
	e := &Engine{
		ledger:         l,
		rewardPerPoint: DefaultRewardPerPoint,
		maxAttempts:    defaultMaxAttempts,
		log:            logger.Get().Named("allocation"),
	}
	for _, opt := range opts {
		opt(e)
	}
	if !(e.rewardPerPoint > 0) || e.rewardPerPoint > MaxRewardPerPoint {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRewardRate, e.rewardPerPoint)
	}
	return e, nil
}

// Reward converts a total score into token units.
func (e *Engine) Reward(total float64) int64 {
	return int64(math.Round(total * e.rewardPerPoint))
}

// Split divides reward across funded metals. Each share is floored and the
// remainder goes to the last funded metal, so shares sum to reward.
func Split(reward int64, w assay.Weights) []Share {
	funded := w.Funded()
	shares := make([]Share, 0, len(funded))
	var assigned int64
	for i, m := range funded {
		amount := int64(math.Floor(float64(reward) * w.Of(m)))
		if i == len(funded)-1 {
			amount = reward - assigned
		}
		assigned += amount
		shares = append(shares, Share{Metal: m, Amount: amount})
	}
	return shares
}

// Allocate draws the evaluation's reward from the metal pools. Re-running it
// for a submission returns the allocations already made without drawing
// again. Unqualified evaluations fail with model.ErrNotQualified.
func (e *Engine) Allocate(ctx context.Context, sub model.Submission, ev model.Evaluation) (Result, error) {
	if ev.SubmissionID != sub.ID {
		return Result{}, fmt.Errorf("%w: %s != %s", ErrEvaluationMismatch, ev.SubmissionID, sub.ID)
	}
	if !ev.Qualified {
		return Result{SubmissionID: sub.ID, Reason: ReasonNotQualified},
			fmt.Errorf("submission %s scored %.2f: %w", sub.ID, ev.Total, model.ErrNotQualified)
	}
	v, err, _ := e.inflight.Do(sub.ID, func() (interface{}, error) {
		return e.allocate(ctx, sub, ev)
	})
	res, _ := v.(Result)
	return res, err
}

func (e *Engine) allocate(ctx context.Context, sub model.Submission, ev model.Evaluation) (Result, error) {
	res := Result{
		SubmissionID: sub.ID,
		Reward:       e.Reward(ev.Total),
		Weights:      assay.WeighMetals(ev.Metals),
	}
	exhausted, partial := false, false
	for _, share := range Split(res.Reward, res.Weights) {
		if share.Amount <= 0 {
			continue
		}
		a, adv, err := e.allocateShare(ctx, sub.ID, ev, share)
		if err != nil {
			return Result{}, err
		}
		res.Allocations = append(res.Allocations, a)
		if adv != nil {
			res.Advances = append(res.Advances, *adv)
		}
		switch a.Reason {
		case model.ReasonPoolExhausted:
			exhausted = true
		case model.ReasonPartialCapacity:
			partial = true
		}
	}
	switch {
	case exhausted:
		res.Reason = model.ReasonPoolExhausted
	case partial:
		res.Reason = model.ReasonPartialCapacity
	}
	e.log.Info(ctx, "submission allocated",
		logger.String("submission_id", sub.ID),
		logger.Int64("reward", res.Reward),
		logger.Int64("granted", res.Granted()),
		logger.Int("allocations", len(res.Allocations)),
		logger.String("reason", res.Reason))
	return res, nil
}

func (e *Engine) allocateShare(ctx context.Context, subID string, ev model.Evaluation, share Share) (model.Allocation, *model.EpochAdvance, error) {
	if a, err := e.ledger.Allocation(ctx, subID, share.Metal); err == nil {
		return a, nil, nil
	}
	req := ledger.DrawRequest{
		SubmissionID: subID,
		EvaluationID: ev.ID,
		Key:          model.PoolKey{Epoch: ev.Epoch, Metal: share.Metal},
		Amount:       share.Amount,
	}
	for attempt := 0; attempt < e.maxAttempts; attempt++ {
		pick, err := e.ledger.PickPoolWithCapacity(ctx, share.Metal, share.Amount, ev.Epoch)
		if errors.Is(err, model.ErrPoolExhausted) {
			break
		}
		if err != nil {
			return model.Allocation{}, nil, fmt.Errorf("pick %s pool: %w", share.Metal, err)
		}
		draw := req
		draw.Key = pick.Key
		draw.AllowPartial = !pick.Sufficient
		res, err := e.ledger.Draw(ctx, draw)
		switch {
		case err == nil, errors.Is(err, ledger.ErrAlreadyAllocated):
			return res.Allocation, res.Advance, nil
		case errors.Is(err, ledger.ErrCapacityChanged):
			e.log.Debug(ctx, "pool capacity changed, re-picking",
				logger.String("submission_id", subID),
				logger.String("pool", pick.Key.String()),
				logger.Int("attempt", attempt+1))
			continue
		default:
			return model.Allocation{}, nil, fmt.Errorf("draw %s: %w", pick.Key, err)
		}
	}
	a, err := e.ledger.RecordExhausted(ctx, req)
	if err != nil && !errors.Is(err, ledger.ErrAlreadyAllocated) {
		return model.Allocation{}, nil, fmt.Errorf("record exhausted %s: %w", share.Metal, err)
	}
	return a, nil, nil
}
