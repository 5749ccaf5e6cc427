package onboard

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// AccessRequests stores onboarding requests.
type AccessRequests interface {
	StatusWriter
	Create(ctx context.Context, record *AccessRequest) (*AccessRequest, error)
	GetByID(ctx context.Context, id string) (*AccessRequest, error)
	ListByStatus(ctx context.Context, status AccessRequestStatus) ([]*AccessRequest, error)
}

type accessRequests struct {
	db  bun.IDB
	now func() time.Time
}

var _ AccessRequests = (*accessRequests)(nil)

// NewAccessRequestsRepository returns a bun backed AccessRequests store.
func NewAccessRequestsRepository(db bun.IDB) AccessRequests {
	return &accessRequests{db: db, now: time.Now}
}

// Create inserts record as pending. Any status set by the caller is ignored.
func (r *accessRequests) Create(ctx context.Context, record *AccessRequest) (*AccessRequest, error) {
	if record == nil {
		return nil, NewValidationError("access request is required")
	}
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	record.Status = AccessRequestPending
	record.DecidedBy = ""
	record.DecidedAt = nil

	now := r.now().UTC()
	if record.CreatedAt == nil {
		record.CreatedAt = &now
	}
	record.UpdatedAt = &now

	if _, err := r.db.NewInsert().Model(record).Exec(ctx); err != nil {
		return nil, err
	}
	return record, nil
}

func (r *accessRequests) GetByID(ctx context.Context, id string) (*AccessRequest, error) {
	uid, err := parseRecordID("access request", id)
	if err != nil {
		return nil, err
	}
	record := &AccessRequest{}
	err = r.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", uid).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, translateNotFound(err, "access request", id)
	}
	return record, nil
}

// ListByStatus returns every row with status, oldest first.
func (r *accessRequests) ListByStatus(ctx context.Context, status AccessRequestStatus) ([]*AccessRequest, error) {
	records := make([]*AccessRequest, 0)
	err := r.db.NewSelect().
		Model(&records).
		Where("?TableAlias.status = ?", status).
		OrderExpr("?TableAlias.created_at ASC").
		OrderExpr("?TableAlias.id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return records, nil
}

// UpdateStatus writes the new status only if the row still holds update.From.
func (r *accessRequests) UpdateStatus(ctx context.Context, update StatusUpdate) (*AccessRequest, error) {
	uid, err := parseRecordID("access request", update.ID)
	if err != nil {
		return nil, err
	}
	decidedAt := update.DecidedAt.UTC()
	res, err := r.db.NewUpdate().
		Model((*AccessRequest)(nil)).
		Set("status = ?", update.To).
		Set("decided_by = ?", nullString(update.DecidedBy)).
		Set("decided_at = ?", decidedAt).
		Set("updated_at = ?", decidedAt).
		Where("id = ?", uid).
		Where("status = ?", update.From).
		Exec(ctx)
	if err != nil {
		return nil, err
	}

	if n, _ := res.RowsAffected(); n == 0 {
		current, getErr := r.GetByID(ctx, update.ID)
		if getErr != nil {
			return nil, getErr
		}
		return nil, transitionError(ErrStaleTransition, map[string]any{
			"id":      update.ID,
			"current": current.Status,
			"to":      update.To,
		})
	}

	return r.GetByID(ctx, update.ID)
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
