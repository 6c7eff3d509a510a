// Package ledger owns the fixed-supply metal pools. Allocation rows are the
// source of truth: a pool balance is always its genesis distribution minus
// the rewards drawn from it, and the stored balance is only a cache that
// Reconcile repairs.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/okian/assay/internal/adapters/repository"
	"github.com/okian/assay/internal/domain/model"
	"github.com/okian/assay/pkg/logger"
	"github.com/okian/assay/pkg/metrics"
)

// Ledger serializes draws per pool and advances the epoch pointer when the
// current tier's pool is depleted.
type Ledger struct {
	store   repository.LedgerStore
	genesis Genesis
	floor   int64
	log     logger.Logger
	now     func() time.Time
}

// Pick is the outcome of a pool scan.
type Pick struct {
	Key        model.PoolKey
	Balance    int64
	Sufficient bool // the pool covers the full request
}

// DrawRequest asks for a reward from one pool.
type DrawRequest struct {
	SubmissionID string
	EvaluationID string
	Key          model.PoolKey
	Amount       int64
	// AllowPartial draws the whole remaining balance when it is above the
	// depletion floor but short of Amount.
	AllowPartial bool
}

// DrawResult is a committed allocation and the pointer move it caused.
type DrawResult struct {
	Allocation model.Allocation
	Advance    *model.EpochAdvance
}

// New creates a ledger over store.
func New(store repository.LedgerStore, genesis Genesis, opts ...Option) *Ledger {
	l := &Ledger{
		store:   store,
		genesis: genesis,
		floor:   DefaultDepletionFloor,
		log:     logger.Get().Named("ledger"),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Floor returns the depletion floor.
func (l *Ledger) Floor() int64 { return l.floor }

// Genesis returns the distribution table.
func (l *Ledger) Genesis() Genesis { return l.genesis }

// Init seeds missing pools and the epoch pointer, then reconciles every pool.
func (l *Ledger) Init(ctx context.Context) error {
	state := model.EpochState{Current: model.Founder, UpdatedAt: l.now()}
	if err := l.store.SeedGenesis(ctx, l.genesis.Pools(), state); err != nil {
		return fmt.Errorf("seed genesis: %w", err)
	}
	if _, err := l.Balances(ctx); err != nil {
		return err
	}
	st, err := l.store.EpochState(ctx)
	if err != nil {
		return fmt.Errorf("load epoch state: %w", err)
	}
	metrics.UpdateCurrentEpoch(int(st.Current))
	l.log.Info(ctx, "ledger initialized",
		logger.String("epoch", st.Current.String()),
		logger.Int64("supply", l.genesis.TotalSupply()),
		logger.Int64("depletion_floor", l.floor))
	return nil
}

// CurrentEpoch returns the epoch pointer.
func (l *Ledger) CurrentEpoch(ctx context.Context) (model.EpochState, error) {
	return l.store.EpochState(ctx)
}

// Allocation returns a committed allocation or repository.ErrNotFound.
func (l *Ledger) Allocation(ctx context.Context, submissionID string, metal model.Metal) (model.Allocation, error) {
	return l.store.Allocation(ctx, submissionID, metal)
}

// Allocations returns a submission's allocations in canonical metal order.
func (l *Ledger) Allocations(ctx context.Context, submissionID string) ([]model.Allocation, error) {
	return l.store.Allocations(ctx, submissionID)
}

// Balances reconciles and returns every pool.
func (l *Ledger) Balances(ctx context.Context) ([]model.MetalPool, error) {
	pools := l.genesis.Pools()
	out := make([]model.MetalPool, 0, len(pools))
	for _, p := range pools {
		pool, err := l.Reconcile(ctx, p.Key)
		if err != nil {
			return nil, err
		}
		out = append(out, pool)
	}
	return out, nil
}

// Reconcile recomputes a pool balance from its allocations and repairs a
// drifted cache. It fails with model.ErrLedgerInconsistency when the pool
// row disagrees with genesis or more was drawn than distributed.
func (l *Ledger) Reconcile(ctx context.Context, key model.PoolKey) (model.MetalPool, error) {
	var pool model.MetalPool
	err := l.store.WithPoolLock(ctx, key, func(ctx context.Context) error {
		var err error
		pool, err = l.reconcile(ctx, key)
		return err
	})
	return pool, err
}

func (l *Ledger) reconcile(ctx context.Context, key model.PoolKey) (model.MetalPool, error) {
	dist, ok := l.genesis.Distribution(key)
	if !ok {
		return model.MetalPool{}, fmt.Errorf("pool %s: %w", key, ErrInvalidEpochRange)
	}
	pool, err := l.store.Pool(ctx, key)
	if errors.Is(err, repository.ErrNotFound) {
		return model.MetalPool{}, l.inconsistent(ctx, key, "pool missing")
	}
	if err != nil {
		return model.MetalPool{}, fmt.Errorf("load pool %s: %w", key, err)
	}
	if pool.DistributionAmount != dist {
		return model.MetalPool{}, l.inconsistent(ctx, key,
			fmt.Sprintf("distribution %d differs from genesis %d", pool.DistributionAmount, dist))
	}
	drawn, err := l.store.SumAllocations(ctx, key)
	if err != nil {
		return model.MetalPool{}, fmt.Errorf("sum allocations %s: %w", key, err)
	}
	if drawn < 0 || drawn > dist {
		return model.MetalPool{}, l.inconsistent(ctx, key,
			fmt.Sprintf("allocated %d exceeds distribution %d", drawn, dist))
	}
	balance := dist - drawn
	if pool.Balance != balance {
		l.log.Warn(ctx, "pool balance drifted, correcting",
			logger.String("pool", key.String()),
			logger.Int64("stored", pool.Balance),
			logger.Int64("computed", balance))
		if err := l.store.UpdateBalance(ctx, key, balance); err != nil {
			return model.MetalPool{}, fmt.Errorf("correct balance %s: %w", key, err)
		}
		metrics.RecordReconcileCorrection(key.Epoch.String(), string(key.Metal))
		pool.Balance = balance
	}
	metrics.UpdatePoolBalance(key.Epoch.String(), string(key.Metal), balance)
	return pool, nil
}

func (l *Ledger) inconsistent(ctx context.Context, key model.PoolKey, detail string) error {
	metrics.RecordLedgerInconsistency()
	l.log.Error(ctx, "ledger inconsistency", logger.String("pool", key.String()), logger.String("detail", detail))
	return fmt.Errorf("pool %s: %s: %w", key, detail, model.ErrLedgerInconsistency)
}

// PickPoolWithCapacity scans the metal's pools from start up to the current
// epoch and returns the first one covering required. When none does, it
// returns the largest balance above the depletion floor for a partial draw.
// It fails with model.ErrPoolExhausted when no open pool is above the floor.
func (l *Ledger) PickPoolWithCapacity(ctx context.Context, metal model.Metal, required int64, start model.Epoch) (Pick, error) {
	if required <= 0 {
		return Pick{}, ErrInvalidAmount
	}
	if !start.Valid() {
		return Pick{}, fmt.Errorf("start %s: %w", start, ErrInvalidEpochRange)
	}
	state, err := l.store.EpochState(ctx)
	if err != nil {
		return Pick{}, fmt.Errorf("load epoch state: %w", err)
	}
	if state.Terminal() || start > state.Current {
		return Pick{}, fmt.Errorf("%s from %s: %w", metal, start, model.ErrPoolExhausted)
	}
	var (
		best  Pick
		found bool
	)
	for e := start; e <= state.Current; e++ {
		key := model.PoolKey{Epoch: e, Metal: metal}
		pool, err := l.Reconcile(ctx, key)
		if err != nil {
			return Pick{}, err
		}
		if pool.Balance <= l.floor {
			continue
		}
		if pool.Balance >= required {
			return Pick{Key: key, Balance: pool.Balance, Sufficient: true}, nil
		}
		if !found || pool.Balance > best.Balance {
			best = Pick{Key: key, Balance: pool.Balance}
			found = true
		}
	}
	if !found {
		return Pick{}, fmt.Errorf("%s from %s: %w", metal, start, model.ErrPoolExhausted)
	}
	return best, nil
}

// Draw debits one pool under its lock. An existing allocation for the same
// submission and metal is returned with ErrAlreadyAllocated. When the pool no
// longer satisfies the request it fails with ErrCapacityChanged so the caller
// can pick again.
func (l *Ledger) Draw(ctx context.Context, req DrawRequest) (DrawResult, error) {
	if req.Amount <= 0 {
		return DrawResult{}, ErrInvalidAmount
	}
	var res DrawResult
	err := l.store.WithPoolLock(ctx, req.Key, func(ctx context.Context) error {
		if existing, err := l.store.Allocation(ctx, req.SubmissionID, req.Key.Metal); err == nil {
			res.Allocation = existing
			return ErrAlreadyAllocated
		} else if !errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("load allocation: %w", err)
		}

		pool, err := l.reconcile(ctx, req.Key)
		if err != nil {
			return err
		}
		reward := req.Amount
		partial := false
		switch {
		case pool.Balance <= l.floor:
			return fmt.Errorf("pool %s at %d: %w", req.Key, pool.Balance, ErrCapacityChanged)
		case pool.Balance >= req.Amount:
		case req.AllowPartial:
			reward = pool.Balance
			partial = true
		default:
			return fmt.Errorf("pool %s at %d: %w", req.Key, pool.Balance, ErrCapacityChanged)
		}

		a := model.Allocation{
			ID:            uuid.NewString(),
			SubmissionID:  req.SubmissionID,
			EvaluationID:  req.EvaluationID,
			Epoch:         req.Key.Epoch,
			Metal:         req.Key.Metal,
			Requested:     req.Amount,
			Reward:        reward,
			BalanceBefore: pool.Balance,
			BalanceAfter:  pool.Balance - reward,
			Partial:       partial,
			CreatedAt:     l.now(),
		}
		if partial {
			a.Reason = model.ReasonPartialCapacity
		}
		if err := l.store.InsertAllocation(ctx, a); err != nil {
			if errors.Is(err, repository.ErrDuplicateAllocation) {
				existing, lerr := l.store.Allocation(ctx, req.SubmissionID, req.Key.Metal)
				if lerr != nil {
					return fmt.Errorf("load allocation: %w", lerr)
				}
				res.Allocation = existing
				return ErrAlreadyAllocated
			}
			return fmt.Errorf("insert allocation: %w", err)
		}

		after, err := l.reconcile(ctx, req.Key)
		if err != nil {
			return err
		}
		if after.Balance != a.BalanceAfter {
			return l.inconsistent(ctx, req.Key,
				fmt.Sprintf("balance %d after draw, expected %d", after.Balance, a.BalanceAfter))
		}
		res.Allocation = a

		if after.Balance <= l.floor {
			adv, err := l.advancePast(ctx, req.Key)
			if err != nil {
				return err
			}
			res.Advance = adv
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrAlreadyAllocated) {
			return res, err
		}
		return DrawResult{}, err
	}

	metrics.RecordAllocation(req.Key.Epoch.String(), string(req.Key.Metal), res.Allocation.Reward)
	if res.Allocation.Partial {
		metrics.RecordPartialAllocation(model.ReasonPartialCapacity)
	}
	l.log.Debug(ctx, "allocation committed",
		logger.String("submission_id", req.SubmissionID),
		logger.String("pool", req.Key.String()),
		logger.Int64("requested", req.Amount),
		logger.Int64("reward", res.Allocation.Reward),
		logger.Int64("balance_after", res.Allocation.BalanceAfter))
	return res, nil
}

// RecordExhausted stores a zero-reward allocation for a metal that had no
// open pool above the floor, so retries stay idempotent.
func (l *Ledger) RecordExhausted(ctx context.Context, req DrawRequest) (model.Allocation, error) {
	var out model.Allocation
	err := l.store.WithPoolLock(ctx, req.Key, func(ctx context.Context) error {
		if existing, err := l.store.Allocation(ctx, req.SubmissionID, req.Key.Metal); err == nil {
			out = existing
			return ErrAlreadyAllocated
		} else if !errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("load allocation: %w", err)
		}
		pool, err := l.reconcile(ctx, req.Key)
		if err != nil {
			return err
		}
		out = model.Allocation{
			ID:            uuid.NewString(),
			SubmissionID:  req.SubmissionID,
			EvaluationID:  req.EvaluationID,
			Epoch:         req.Key.Epoch,
			Metal:         req.Key.Metal,
			Requested:     req.Amount,
			BalanceBefore: pool.Balance,
			BalanceAfter:  pool.Balance,
			Partial:       true,
			Reason:        model.ReasonPoolExhausted,
			CreatedAt:     l.now(),
		}
		if err := l.store.InsertAllocation(ctx, out); err != nil {
			if errors.Is(err, repository.ErrDuplicateAllocation) {
				existing, lerr := l.store.Allocation(ctx, req.SubmissionID, req.Key.Metal)
				if lerr != nil {
					return fmt.Errorf("load allocation: %w", lerr)
				}
				out = existing
				return ErrAlreadyAllocated
			}
			return fmt.Errorf("insert allocation: %w", err)
		}
		return nil
	})
	if err != nil && !errors.Is(err, ErrAlreadyAllocated) {
		return model.Allocation{}, err
	}
	if err == nil {
		metrics.RecordPartialAllocation(model.ReasonPoolExhausted)
		l.log.Warn(ctx, "no pool capacity for metal",
			logger.String("submission_id", req.SubmissionID),
			logger.String("metal", string(req.Key.Metal)),
			logger.Int64("requested", req.Amount))
	}
	return out, err
}

// advancePast moves the pointer past key.Epoch when it is still current.
func (l *Ledger) advancePast(ctx context.Context, key model.PoolKey) (*model.EpochAdvance, error) {
	for {
		state, err := l.store.EpochState(ctx)
		if err != nil {
			return nil, fmt.Errorf("load epoch state: %w", err)
		}
		if state.Current != key.Epoch {
			return nil, nil
		}
		next, ok, err := l.store.CompareAndSwapEpoch(ctx, state.Version, key.Epoch.Next())
		if err != nil {
			return nil, fmt.Errorf("advance epoch: %w", err)
		}
		if ok {
			return l.advanced(ctx, state.Current, next, key), nil
		}
	}
}

// Advance moves the pointer forward to to. Moving to or behind the current
// epoch is a no-op.
func (l *Ledger) Advance(ctx context.Context, to model.Epoch) (*model.EpochAdvance, error) {
	if to < model.Founder || to > model.EpochClosed {
		return nil, fmt.Errorf("advance to %s: %w", to, ErrInvalidEpochRange)
	}
	for {
		state, err := l.store.EpochState(ctx)
		if err != nil {
			return nil, fmt.Errorf("load epoch state: %w", err)
		}
		if to <= state.Current {
			return nil, nil
		}
		next, ok, err := l.store.CompareAndSwapEpoch(ctx, state.Version, to)
		if err != nil {
			return nil, fmt.Errorf("advance epoch: %w", err)
		}
		if ok {
			return l.advanced(ctx, state.Current, next, model.PoolKey{Epoch: state.Current}), nil
		}
	}
}

func (l *Ledger) advanced(ctx context.Context, from model.Epoch, next model.EpochState, trigger model.PoolKey) *model.EpochAdvance {
	adv := &model.EpochAdvance{From: from, To: next.Current, Trigger: trigger, At: l.now()}
	metrics.RecordEpochAdvance(from.String(), next.Current.String(), int(next.Current))
	l.log.Info(ctx, "epoch advanced",
		logger.String("from", from.String()),
		logger.String("to", next.Current.String()),
		logger.String("trigger", trigger.String()),
		logger.Int64("version", next.Version))
	return adv
}
