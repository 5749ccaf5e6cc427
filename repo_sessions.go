package onboard

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// AuthSessions stores refresh sessions.
type AuthSessions interface {
	Create(ctx context.Context, record *AuthSession) (*AuthSession, error)
	GetByID(ctx context.Context, id string) (*AuthSession, error)
	GetByTokenHash(ctx context.Context, hash string) (*AuthSession, error)
	Rotate(ctx context.Context, id, oldHash, newHash string, expiresAt, at time.Time) error
	Revoke(ctx context.Context, id string, at time.Time) error
	RevokeAllForUser(ctx context.Context, userID string, at time.Time) error
}

type authSessions struct {
	db bun.IDB
}

var _ AuthSessions = (*authSessions)(nil)

// NewAuthSessionsRepository returns a bun backed AuthSessions store.
func NewAuthSessionsRepository(db bun.IDB) AuthSessions {
	return &authSessions{db: db}
}

func (s *authSessions) Create(ctx context.Context, record *AuthSession) (*AuthSession, error) {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	if record.CreatedAt == nil {
		now := time.Now().UTC()
		record.CreatedAt = &now
	}
	if _, err := s.db.NewInsert().Model(record).Exec(ctx); err != nil {
		return nil, err
	}
	return record, nil
}

func (s *authSessions) GetByID(ctx context.Context, id string) (*AuthSession, error) {
	uid, err := parseRecordID("session", id)
	if err != nil {
		return nil, err
	}
	record := &AuthSession{}
	err = s.db.NewSelect().Model(record).Where("?TableAlias.id = ?", uid).Limit(1).Scan(ctx)
	if err != nil {
		return nil, translateNotFound(err, "session", id)
	}
	return record, nil
}

func (s *authSessions) GetByTokenHash(ctx context.Context, hash string) (*AuthSession, error) {
	record := &AuthSession{}
	err := s.db.NewSelect().Model(record).Where("?TableAlias.refresh_token_hash = ?", hash).Limit(1).Scan(ctx)
	if err != nil {
		return nil, translateNotFound(err, "session", "")
	}
	return record, nil
}

// Rotate swaps the refresh token hash if oldHash is still current and the
// session has not been revoked.
func (s *authSessions) Rotate(ctx context.Context, id, oldHash, newHash string, expiresAt, at time.Time) error {
	res, err := s.db.NewUpdate().
		Model((*AuthSession)(nil)).
		Set("refresh_token_hash = ?", newHash).
		Set("expires_at = ?", expiresAt.UTC()).
		Set("refreshed_at = ?", at.UTC()).
		Where("id = ?", id).
		Where("refresh_token_hash = ?", oldHash).
		Where("revoked_at IS NULL").
		Exec(ctx)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSessionRevoked
	}
	return nil
}

func (s *authSessions) Revoke(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.NewUpdate().
		Model((*AuthSession)(nil)).
		Set("revoked_at = ?", at.UTC()).
		Where("id = ?", id).
		Where("revoked_at IS NULL").
		Exec(ctx)
	return err
}

func (s *authSessions) RevokeAllForUser(ctx context.Context, userID string, at time.Time) error {
	_, err := s.db.NewUpdate().
		Model((*AuthSession)(nil)).
		Set("revoked_at = ?", at.UTC()).
		Where("user_id = ?", userID).
		Where("revoked_at IS NULL").
		Exec(ctx)
	return err
}
