package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/okian/assay/internal/domain/model"
	"github.com/okian/assay/pkg/logger"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type txKey struct{}

// GormStore implements LedgerStore, ArchiveStore and EvaluationStore on a
// relational database.
type GormStore struct {
	db       *gorm.DB
	locks    *poolLocks
	rowLocks bool
	log      logger.Logger
}

// NewGormStore wraps an opened database.
func NewGormStore(db *gorm.DB, opts ...GormOption) *GormStore {
	s := &GormStore{
		db:       db,
		locks:    newPoolLocks(),
		rowLocks: db.Dialector.Name() == "postgres",
		log:      logger.Get().Named("repository"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// conn returns the transaction carried by ctx, or the root handle.
func (s *GormStore) conn(ctx context.Context) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return tx.WithContext(ctx)
	}
	return s.db.WithContext(ctx)
}

// WithPoolLock serializes fn per pool key inside this process and runs it in
// one transaction. With row locks enabled the pool row is held FOR UPDATE so
// other processes sharing the database serialize too.
func (s *GormStore) WithPoolLock(ctx context.Context, key model.PoolKey, fn func(ctx context.Context) error) error {
	l := s.locks.get(key)
	l.Lock()
	defer l.Unlock()

	if _, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return fn(ctx)
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if s.rowLocks {
			var row poolRow
			err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				Where("epoch = ? AND metal = ?", int(key.Epoch), string(key.Metal)).
				Take(&row).Error
			if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("lock pool %s: %w", key, err)
			}
		}
		return fn(context.WithValue(ctx, txKey{}, tx))
	})
}

// SeedGenesis inserts missing pools and the epoch state row.
func (s *GormStore) SeedGenesis(ctx context.Context, pools []model.MetalPool, state model.EpochState) error {
	now := time.Now()
	rows := make([]poolRow, 0, len(pools))
	for _, p := range pools {
		rows = append(rows, poolRow{
			Epoch:              int(p.Key.Epoch),
			Metal:              string(p.Key.Metal),
			DistributionAmount: p.DistributionAmount,
			Balance:            p.Balance,
			UpdatedAt:          now,
		})
	}
	return s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		if len(rows) > 0 {
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error; err != nil {
				return fmt.Errorf("seed pools: %w", err)
			}
		}
		st := epochStateRow{ID: epochStateID, Current: int(state.Current), Version: state.Version, UpdatedAt: now}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&st).Error; err != nil {
			return fmt.Errorf("seed epoch state: %w", err)
		}
		return nil
	})
}

// Pool returns a pool or ErrNotFound.
func (s *GormStore) Pool(ctx context.Context, key model.PoolKey) (model.MetalPool, error) {
	var row poolRow
	err := s.conn(ctx).Where("epoch = ? AND metal = ?", int(key.Epoch), string(key.Metal)).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.MetalPool{}, fmt.Errorf("pool %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return model.MetalPool{}, fmt.Errorf("pool %s: %w", key, err)
	}
	return row.toModel(), nil
}

// Pools returns every pool ordered by epoch then metal.
func (s *GormStore) Pools(ctx context.Context) ([]model.MetalPool, error) {
	var rows []poolRow
	if err := s.conn(ctx).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("pools: %w", err)
	}
	out := make([]model.MetalPool, len(rows))
	for i, r := range rows {
		out[i] = r.toModel()
	}
	sortPools(out)
	return out, nil
}

// UpdateBalance overwrites the cached balance of a pool.
func (s *GormStore) UpdateBalance(ctx context.Context, key model.PoolKey, balance int64) error {
	res := s.conn(ctx).Model(&poolRow{}).
		Where("epoch = ? AND metal = ?", int(key.Epoch), string(key.Metal)).
		Updates(map[string]any{"balance": balance, "updated_at": time.Now()})
	if res.Error != nil {
		return fmt.Errorf("update balance %s: %w", key, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("pool %s: %w", key, ErrNotFound)
	}
	return nil
}

// SumAllocations totals the reward drawn from a pool.
func (s *GormStore) SumAllocations(ctx context.Context, key model.PoolKey) (int64, error) {
	var sum int64
	err := s.conn(ctx).Model(&allocationRow{}).
		Where("epoch = ? AND metal = ?", int(key.Epoch), string(key.Metal)).
		Select("COALESCE(SUM(reward), 0)").
		Scan(&sum).Error
	if err != nil {
		return 0, fmt.Errorf("sum allocations %s: %w", key, err)
	}
	return sum, nil
}

// InsertAllocation appends an allocation; the unique index on
// (submission_id, metal) enforces at-most-once. A conflict is skipped rather
// than raised so the enclosing transaction stays usable on postgres.
func (s *GormStore) InsertAllocation(ctx context.Context, a model.Allocation) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	row := allocationFromModel(a)
	res := s.conn(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "submission_id"}, {Name: "metal"}},
		DoNothing: true,
	}).Create(&row)
	if err := res.Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("allocation %s: %w", a.IdempotencyKey(), ErrDuplicateAllocation)
		}
		return fmt.Errorf("insert allocation %s: %w", a.IdempotencyKey(), err)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("allocation %s: %w", a.IdempotencyKey(), ErrDuplicateAllocation)
	}
	return nil
}

// Allocation returns the allocation for a submission and metal.
func (s *GormStore) Allocation(ctx context.Context, submissionID string, metal model.Metal) (model.Allocation, error) {
	var row allocationRow
	err := s.conn(ctx).Where("submission_id = ? AND metal = ?", submissionID, string(metal)).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Allocation{}, ErrNotFound
	}
	if err != nil {
		return model.Allocation{}, fmt.Errorf("allocation %s: %w", model.IdempotencyKey(submissionID, metal), err)
	}
	return row.toModel(), nil
}

// Allocations returns a submission's allocations in canonical metal order.
func (s *GormStore) Allocations(ctx context.Context, submissionID string) ([]model.Allocation, error) {
	var rows []allocationRow
	if err := s.conn(ctx).Where("submission_id = ?", submissionID).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("allocations %s: %w", submissionID, err)
	}
	out := make([]model.Allocation, 0, len(rows))
	for _, m := range model.Metals {
		for _, r := range rows {
			if model.Metal(r.Metal) == m {
				out = append(out, r.toModel())
			}
		}
	}
	return out, nil
}

// EpochState returns the current pointer, founder when never seeded.
func (s *GormStore) EpochState(ctx context.Context) (model.EpochState, error) {
	var row epochStateRow
	err := s.conn(ctx).Where("id = ?", epochStateID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.EpochState{Current: model.Founder}, nil
	}
	if err != nil {
		return model.EpochState{}, fmt.Errorf("epoch state: %w", err)
	}
	return model.EpochState{Current: model.Epoch(row.Current), Version: row.Version, UpdatedAt: row.UpdatedAt}, nil
}

// CompareAndSwapEpoch moves the pointer forward when the stored version
// matches. A target at or behind the current epoch is refused.
func (s *GormStore) CompareAndSwapEpoch(ctx context.Context, version int64, next model.Epoch) (model.EpochState, bool, error) {
	res := s.conn(ctx).Model(&epochStateRow{}).
		Where("id = ? AND version = ? AND current_epoch < ?", epochStateID, version, int(next)).
		Updates(map[string]any{
			"current_epoch": int(next),
			"version":       gorm.Expr("version + 1"),
			"updated_at":    time.Now(),
		})
	if res.Error != nil {
		return model.EpochState{}, false, fmt.Errorf("advance epoch: %w", res.Error)
	}
	st, err := s.EpochState(ctx)
	if err != nil {
		return model.EpochState{}, false, err
	}
	return st, res.RowsAffected == 1, nil
}

// Append stores an archive entry; the auto-increment key is its sequence.
func (s *GormStore) Append(ctx context.Context, e model.ArchivedEntry) (model.ArchivedEntry, error) {
	if e.ArchivedAt.IsZero() {
		e.ArchivedAt = time.Now()
	}
	row := archivedEntryRow{
		SubmissionID: e.SubmissionID,
		Title:        e.Title,
		Abstract:     e.Features.Abstract,
		Formulas:     StringList(e.Features.Formulas),
		Constants:    StringList(e.Features.Constants),
		Embedding:    FloatList(e.Embedding),
		ArchivedAt:   e.ArchivedAt,
	}
	if err := s.conn(ctx).Create(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return model.ArchivedEntry{}, fmt.Errorf("archive %s: %w", e.SubmissionID, ErrDuplicateArchiveEntry)
		}
		return model.ArchivedEntry{}, fmt.Errorf("archive %s: %w", e.SubmissionID, err)
	}
	e.Seq = row.Seq
	return e, nil
}

// Entries returns every archived entry in insertion order.
func (s *GormStore) Entries(ctx context.Context) ([]model.ArchivedEntry, error) {
	var rows []archivedEntryRow
	if err := s.conn(ctx).Order("seq ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("archive entries: %w", err)
	}
	out := make([]model.ArchivedEntry, len(rows))
	for i, r := range rows {
		out[i] = r.toModel()
	}
	return out, nil
}

// Count returns the number of archived entries.
func (s *GormStore) Count(ctx context.Context) (int, error) {
	var n int64
	if err := s.conn(ctx).Model(&archivedEntryRow{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("archive count: %w", err)
	}
	return int(n), nil
}

// SaveEvaluation appends an evaluation record.
func (s *GormStore) SaveEvaluation(ctx context.Context, e model.Evaluation) error {
	row := evaluationFromModel(e)
	if err := s.conn(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("save evaluation %s: %w", e.ID, err)
	}
	return nil
}

// LatestEvaluation returns the most recent evaluation of a submission.
func (s *GormStore) LatestEvaluation(ctx context.Context, submissionID string) (model.Evaluation, error) {
	var row evaluationRow
	err := s.conn(ctx).Where("submission_id = ?", submissionID).
		Order("evaluated_at DESC").Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Evaluation{}, fmt.Errorf("evaluation %s: %w", submissionID, ErrNotFound)
	}
	if err != nil {
		return model.Evaluation{}, fmt.Errorf("evaluation %s: %w", submissionID, err)
	}
	return row.toModel(), nil
}

// Close releases the underlying connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	s.log.Info(context.Background(), "closing database")
	return sqlDB.Close()
}
