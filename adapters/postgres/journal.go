package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	berr "github.com/next-trace/scg-service-runtime/contract/errors"
	"github.com/next-trace/scg-service-runtime/saga"
)

type snapshotModel struct {
	SagaID        string    `gorm:"column:saga_id;primaryKey"`
	SagaType      string    `gorm:"column:saga_type;index"`
	CorrelationID string    `gorm:"column:correlation_id;index"`
	State         string    `gorm:"column:state"`
	Snapshot      []byte    `gorm:"column:snapshot;type:jsonb"`
	CreatedAt     time.Time `gorm:"column:created_at"`
	RecordedAt    time.Time `gorm:"column:recorded_at;index"`
}

func (snapshotModel) TableName() string { return "saga_snapshots" }

// Journal implements saga.Journal on a saga_snapshots table.
type Journal struct {
	db     *gorm.DB
	logger *slog.Logger
	now    func() time.Time
}

var _ saga.Journal = (*Journal)(nil)

// NewJournal wraps db. A nil logger discards logs.
func NewJournal(db *gorm.DB, logger *slog.Logger) *Journal {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Journal{db: db, logger: logger, now: time.Now}
}

// Migrate creates or updates the saga_snapshots table.
func (j *Journal) Migrate(ctx context.Context) error {
	if err := j.db.WithContext(ctx).AutoMigrate(&snapshotModel{}); err != nil {
		return fmt.Errorf("migrate saga_snapshots: %w", errors.Join(berr.ErrJournalFailed, err))
	}

	return nil
}

// Record upserts s keyed by saga id.
func (j *Journal) Record(ctx context.Context, s saga.Status) error {
	row, err := toModel(s, j.now().UTC())
	if err != nil {
		return err
	}

	res := j.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "saga_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"state":       row.State,
			"snapshot":    row.Snapshot,
			"recorded_at": row.RecordedAt,
		}),
	}).Create(&row)
	if res.Error != nil {
		j.logger.ErrorContext(ctx, "journal.record_failed", "saga_id", s.SagaID, "error", res.Error)

		return fmt.Errorf("record %s: %w", s.SagaID, errors.Join(berr.ErrJournalFailed, res.Error))
	}

	return nil
}

func (j *Journal) Lookup(ctx context.Context, sagaID string) (saga.Status, error) {
	var row snapshotModel

	err := j.db.WithContext(ctx).Where("saga_id = ?", sagaID).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return saga.Status{}, fmt.Errorf("lookup %s: %w", sagaID, berr.ErrSagaNotFound)
		}

		return saga.Status{}, fmt.Errorf("lookup %s: %w", sagaID, errors.Join(berr.ErrJournalFailed, err))
	}

	return fromModel(row)
}

// Recent returns up to limit snapshots, most recently recorded first.
// A non-positive limit returns all of them.
func (j *Journal) Recent(ctx context.Context, limit int) ([]saga.Status, error) {
	var rows []snapshotModel

	q := j.db.WithContext(ctx).Order("recorded_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("recent snapshots: %w", errors.Join(berr.ErrJournalFailed, err))
	}

	out := make([]saga.Status, 0, len(rows))
	for _, row := range rows {
		s, err := fromModel(row)
		if err != nil {
			return nil, err
		}

		out = append(out, s)
	}

	return out, nil
}

func toModel(s saga.Status, recordedAt time.Time) (snapshotModel, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return snapshotModel{}, fmt.Errorf("encode snapshot %s: %w", s.SagaID, errors.Join(berr.ErrSerializationFailed, err))
	}

	return snapshotModel{
		SagaID:        s.SagaID,
		SagaType:      s.SagaType,
		CorrelationID: s.CorrelationID,
		State:         string(s.State),
		Snapshot:      raw,
		CreatedAt:     s.CreatedAt,
		RecordedAt:    recordedAt,
	}, nil
}

func fromModel(row snapshotModel) (saga.Status, error) {
	var s saga.Status
	if err := json.Unmarshal(row.Snapshot, &s); err != nil {
		return saga.Status{}, fmt.Errorf("decode snapshot %s: %w", row.SagaID, errors.Join(berr.ErrSerializationFailed, err))
	}

	return s, nil
}
