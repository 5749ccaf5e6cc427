package onboard

import (
	"context"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// ActivityLog persists activity records.
type ActivityLog interface {
	Append(ctx context.Context, record *ActivityRecord) error
	ListBySubject(ctx context.Context, subjectID string) ([]*ActivityRecord, error)
}

type activityLog struct {
	db bun.IDB
}

// NewActivityLogRepository returns a bun backed ActivityLog.
func NewActivityLogRepository(db bun.IDB) ActivityLog {
	return &activityLog{db: db}
}

func (a *activityLog) Append(ctx context.Context, record *ActivityRecord) error {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	_, err := a.db.NewInsert().Model(record).Exec(ctx)
	return err
}

func (a *activityLog) ListBySubject(ctx context.Context, subjectID string) ([]*ActivityRecord, error) {
	records := make([]*ActivityRecord, 0)
	err := a.db.NewSelect().
		Model(&records).
		Where("?TableAlias.subject_id = ?", subjectID).
		OrderExpr("?TableAlias.occurred_at ASC").
		Scan(ctx)
	return records, err
}
