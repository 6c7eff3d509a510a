package repository

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/okian/assay/internal/domain/model"
)

// StringList stores a string slice as a JSON column.
type StringList []string

// Value implements driver.Valuer.
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (l *StringList) Scan(value any) error {
	return scanJSON(value, l)
}

// FloatList stores a float slice as a JSON column.
type FloatList []float64

// Value implements driver.Valuer.
func (l FloatList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (l *FloatList) Scan(value any) error {
	return scanJSON(value, l)
}

// matchList stores similarity matches as a JSON column.
type matchList []model.Match

func (l matchList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (l *matchList) Scan(value any) error {
	return scanJSON(value, l)
}

func scanJSON(value any, dest any) error {
	if value == nil {
		return nil
	}
	var b []byte
	switch v := value.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return errors.New("failed to scan JSON column")
	}
	if len(b) == 0 {
		return nil
	}
	return json.Unmarshal(b, dest)
}

type poolRow struct {
	Epoch              int    `gorm:"primaryKey;autoIncrement:false"`
	Metal              string `gorm:"type:text;primaryKey"`
	DistributionAmount int64  `gorm:"not null"`
	Balance            int64  `gorm:"not null"`
	UpdatedAt          time.Time
}

func (poolRow) TableName() string { return "metal_pools" }

func (r poolRow) toModel() model.MetalPool {
	return model.MetalPool{
		Key:                model.PoolKey{Epoch: model.Epoch(r.Epoch), Metal: model.Metal(r.Metal)},
		DistributionAmount: r.DistributionAmount,
		Balance:            r.Balance,
		UpdatedAt:          r.UpdatedAt,
	}
}

type allocationRow struct {
	ID            string `gorm:"type:text;primaryKey"`
	SubmissionID  string `gorm:"type:text;not null;uniqueIndex:idx_allocations_once,priority:1"`
	Metal         string `gorm:"type:text;not null;uniqueIndex:idx_allocations_once,priority:2;index:idx_allocations_pool,priority:2"`
	Epoch         int    `gorm:"not null;index:idx_allocations_pool,priority:1"`
	EvaluationID  string `gorm:"type:text"`
	Requested     int64  `gorm:"not null"`
	Reward        int64  `gorm:"not null"`
	BalanceBefore int64
	BalanceAfter  int64
	Partial       bool
	Reason        string `gorm:"type:text"`
	CreatedAt     time.Time
}

func (allocationRow) TableName() string { return "allocations" }

func allocationFromModel(a model.Allocation) allocationRow {
	return allocationRow{
		ID:            a.ID,
		SubmissionID:  a.SubmissionID,
		Metal:         string(a.Metal),
		Epoch:         int(a.Epoch),
		EvaluationID:  a.EvaluationID,
		Requested:     a.Requested,
		Reward:        a.Reward,
		BalanceBefore: a.BalanceBefore,
		BalanceAfter:  a.BalanceAfter,
		Partial:       a.Partial,
		Reason:        a.Reason,
		CreatedAt:     a.CreatedAt,
	}
}

func (r allocationRow) toModel() model.Allocation {
	return model.Allocation{
		ID:            r.ID,
		SubmissionID:  r.SubmissionID,
		EvaluationID:  r.EvaluationID,
		Epoch:         model.Epoch(r.Epoch),
		Metal:         model.Metal(r.Metal),
		Requested:     r.Requested,
		Reward:        r.Reward,
		BalanceBefore: r.BalanceBefore,
		BalanceAfter:  r.BalanceAfter,
		Partial:       r.Partial,
		Reason:        r.Reason,
		CreatedAt:     r.CreatedAt,
	}
}

// epochStateRow is a single versioned row.
type epochStateRow struct {
	ID        int   `gorm:"primaryKey;autoIncrement:false"`
	Current   int   `gorm:"column:current_epoch;not null"`
	Version   int64 `gorm:"not null"`
	UpdatedAt time.Time
}

func (epochStateRow) TableName() string { return "epoch_states" }

const epochStateID = 1

type archivedEntryRow struct {
	Seq          int64      `gorm:"primaryKey;autoIncrement"`
	SubmissionID string     `gorm:"type:text;not null;uniqueIndex"`
	Title        string     `gorm:"type:text"`
	Abstract     string     `gorm:"type:text"`
	Formulas     StringList `gorm:"type:text"`
	Constants    StringList `gorm:"type:text"`
	Embedding    FloatList  `gorm:"type:text"`
	ArchivedAt   time.Time
}

func (archivedEntryRow) TableName() string { return "archived_entries" }

func (r archivedEntryRow) toModel() model.ArchivedEntry {
	return model.ArchivedEntry{
		SubmissionID: r.SubmissionID,
		Seq:          r.Seq,
		Title:        r.Title,
		Features: model.ExtractedFeatures{
			Abstract:  r.Abstract,
			Formulas:  []string(r.Formulas),
			Constants: []string(r.Constants),
		},
		Embedding:  []float64(r.Embedding),
		ArchivedAt: r.ArchivedAt,
	}
}

type evaluationRow struct {
	ID            string     `gorm:"type:text;primaryKey"`
	SubmissionID  string     `gorm:"type:text;not null;index"`
	Novelty       float64    `gorm:"not null"`
	Density       float64    `gorm:"not null"`
	Coherence     float64    `gorm:"not null"`
	Alignment     float64    `gorm:"not null"`
	Overlap       float64    `gorm:"not null"`
	Total         float64    `gorm:"not null"`
	Metals        StringList `gorm:"type:text"`
	Qualified     bool
	Epoch         int
	Seed          bool
	Edge          bool
	SweetSpot     bool
	SeedToggle    bool
	EdgeToggle    bool
	OverlapToggle bool
	Matches       matchList `gorm:"type:text"`
	EvaluatedAt   time.Time `gorm:"index"`
}

func (evaluationRow) TableName() string { return "evaluations" }

func evaluationFromModel(e model.Evaluation) evaluationRow {
	metals := make(StringList, len(e.Metals))
	for i, m := range e.Metals {
		metals[i] = string(m)
	}
	return evaluationRow{
		ID:            e.ID,
		SubmissionID:  e.SubmissionID,
		Novelty:       e.Scores.Novelty,
		Density:       e.Scores.Density,
		Coherence:     e.Scores.Coherence,
		Alignment:     e.Scores.Alignment,
		Overlap:       e.Scores.Overlap,
		Total:         e.Total,
		Metals:        metals,
		Qualified:     e.Qualified,
		Epoch:         int(e.Epoch),
		Seed:          e.Seed,
		Edge:          e.Edge,
		SweetSpot:     e.SweetSpot,
		SeedToggle:    e.Toggles.SeedMultiplier,
		EdgeToggle:    e.Toggles.EdgeMultiplier,
		OverlapToggle: e.Toggles.OverlapAdjustments,
		Matches:       matchList(e.Matches),
		EvaluatedAt:   e.EvaluatedAt,
	}
}

func (r evaluationRow) toModel() model.Evaluation {
	metals := make([]model.Metal, len(r.Metals))
	for i, m := range r.Metals {
		metals[i] = model.Metal(m)
	}
	return model.Evaluation{
		ID:           r.ID,
		SubmissionID: r.SubmissionID,
		Scores: model.DimensionScores{
			Novelty:   r.Novelty,
			Density:   r.Density,
			Coherence: r.Coherence,
			Alignment: r.Alignment,
			Overlap:   r.Overlap,
		},
		Total:     r.Total,
		Metals:    metals,
		Qualified: r.Qualified,
		Epoch:     model.Epoch(r.Epoch),
		Seed:      r.Seed,
		Edge:      r.Edge,
		SweetSpot: r.SweetSpot,
		Toggles: model.Toggles{
			SeedMultiplier:     r.SeedToggle,
			EdgeMultiplier:     r.EdgeToggle,
			OverlapAdjustments: r.OverlapToggle,
		},
		Matches:     []model.Match(r.Matches),
		EvaluatedAt: r.EvaluatedAt,
	}
}
