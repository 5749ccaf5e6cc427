package onboard

import (
	"context"
	"database/sql"
	"errors"
	"log"

	"github.com/uptrace/bun"
)

// RepositoryManager exposes all repositories
type RepositoryManager interface {
	Validate() error
	MustValidate()
	RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error
	DB() *bun.DB
	Users() Users
	Profiles() Profiles
	AccessRequests() AccessRequests
	Sessions() AuthSessions
	Activity() ActivityLog
}

type mngr struct {
	db             *bun.DB
	users          Users
	profiles       Profiles
	accessRequests AccessRequests
	sessions       AuthSessions
	activity       ActivityLog
}

// NewRepositoryManager wires every repository to db.
func NewRepositoryManager(db *bun.DB) RepositoryManager {
	return &mngr{
		db:             db,
		users:          NewUsersRepository(db),
		profiles:       NewProfilesRepository(db),
		accessRequests: NewAccessRequestsRepository(db),
		sessions:       NewAuthSessionsRepository(db),
		activity:       NewActivityLogRepository(db),
	}
}

func (m mngr) Validate() error {
	if m.db == nil {
		return errors.New("repository manager requires a database")
	}
	if m.users == nil {
		return errors.New("repository users should be initialized")
	}
	if m.profiles == nil {
		return errors.New("repository profiles should be initialized")
	}
	if m.accessRequests == nil {
		return errors.New("repository accessRequests should be initialized")
	}
	if m.sessions == nil {
		return errors.New("repository sessions should be initialized")
	}
	if m.activity == nil {
		return errors.New("repository activity should be initialized")
	}
	return nil
}

func (m mngr) MustValidate() {
	if err := m.Validate(); err != nil {
		log.Panic(err)
	}
}

func (m mngr) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return m.db.RunInTx(ctx, opts, f)
	}
}

func (m mngr) DB() *bun.DB                    { return m.db }
func (m mngr) Users() Users                   { return m.users }
func (m mngr) Profiles() Profiles             { return m.profiles }
func (m mngr) AccessRequests() AccessRequests { return m.accessRequests }
func (m mngr) Sessions() AuthSessions         { return m.sessions }
func (m mngr) Activity() ActivityLog          { return m.activity }
