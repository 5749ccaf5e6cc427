package onboard

import (
	"context"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Profiles stores application profiles keyed by identity id.
type Profiles interface {
	GetByID(ctx context.Context, id string) (*Profile, error)
	Create(ctx context.Context, record *Profile) (*Profile, error)
	CreateTx(ctx context.Context, tx bun.IDB, record *Profile) (*Profile, error)
	SetRole(ctx context.Context, id string, role UserRole) (*Profile, error)
}

type profiles struct {
	repo repository.Repository[*Profile]
	db   *bun.DB
}

var _ Profiles = (*profiles)(nil)

// NewProfilesRepository returns a bun backed Profiles store.
func NewProfilesRepository(db *bun.DB) Profiles {
	repo := repository.NewRepository[*Profile](db, repository.ModelHandlers[*Profile]{
		NewRecord: func() *Profile { return &Profile{} },
		GetID: func(p *Profile) uuid.UUID {
			if p == nil {
				return uuid.Nil
			}
			return p.ID
		},
		SetID: func(p *Profile, id uuid.UUID) {
			if p != nil {
				p.ID = id
			}
		},
	})
	return &profiles{repo: repo, db: db}
}

func (p *profiles) GetByID(ctx context.Context, id string) (*Profile, error) {
	uid, err := parseRecordID("profile", id)
	if err != nil {
		return nil, err
	}
	record, err := p.repo.GetByID(ctx, uid.String())
	if err != nil {
		return nil, translateNotFound(err, "profile", id)
	}
	return record, nil
}

func (p *profiles) Create(ctx context.Context, record *Profile) (*Profile, error) {
	return p.CreateTx(ctx, p.db, record)
}

// CreateTx inserts record. The id must be the identity id, it is never generated.
func (p *profiles) CreateTx(ctx context.Context, tx bun.IDB, record *Profile) (*Profile, error) {
	if record == nil || record.ID == uuid.Nil {
		return nil, NewValidationError("profile id is required")
	}
	if record.Role == "" {
		record.Role = RoleMember
	}
	now := time.Now().UTC()
	if record.CreatedAt == nil {
		record.CreatedAt = &now
	}
	if record.UpdatedAt == nil {
		record.UpdatedAt = &now
	}
	return p.repo.CreateTx(ctx, tx, record)
}

// SetRole changes the role of an existing profile.
func (p *profiles) SetRole(ctx context.Context, id string, role UserRole) (*Profile, error) {
	if !role.IsValid() {
		return nil, NewValidationError("invalid role")
	}
	uid, err := parseRecordID("profile", id)
	if err != nil {
		return nil, err
	}

	res, err := p.db.NewUpdate().
		Model((*Profile)(nil)).
		Set("role = ?", role).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", uid).
		Exec(ctx)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, NewNotFoundError("profile", id)
	}
	return p.GetByID(ctx, id)
}
