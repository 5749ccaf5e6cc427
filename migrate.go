package onboard

import (
	"context"
	"fmt"

	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"
)

// MigrationStatus summarizes applied and pending migrations.
type MigrationStatus struct {
	Applied   []string
	Pending   []string
	LastGroup string
}

// NewMigrator returns a bun migrator loaded with the embedded migrations. It
// reads the same bun_migrations table the persistence client writes.
func NewMigrator(ctx context.Context, db *bun.DB) (*migrate.Migrator, error) {
	migrations := migrate.NewMigrations()
	if err := migrations.Discover(GetMigrationsFS()); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to discover migrations")
	}

	migrator := migrate.NewMigrator(db, migrations)
	if err := migrator.Init(ctx); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to init migration tables")
	}
	return migrator, nil
}

// Rollback reverts the last migration group.
func Rollback(ctx context.Context, db *bun.DB, logger Logger) error {
	logger = normalizeLogger(logger)

	migrator, err := NewMigrator(ctx, db)
	if err != nil {
		return err
	}

	group, err := migrator.Rollback(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to rollback migrations")
	}

	if group.IsZero() {
		logger.Info("no groups to roll back")
		return nil
	}

	logger.Info("rolled back database", "group", group.String())
	return nil
}

// GetMigrationStatus reports which migrations ran.
func GetMigrationStatus(ctx context.Context, db *bun.DB) (*MigrationStatus, error) {
	migrator, err := NewMigrator(ctx, db)
	if err != nil {
		return nil, err
	}

	ms, err := migrator.MigrationsWithStatus(ctx)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to read migration status")
	}

	status := &MigrationStatus{}
	for _, m := range ms.Applied() {
		status.Applied = append(status.Applied, m.Name)
	}
	for _, m := range ms.Unapplied() {
		status.Pending = append(status.Pending, m.Name)
	}
	if last := ms.LastGroup(); last != nil && !last.IsZero() {
		status.LastGroup = fmt.Sprintf("group #%d", last.ID)
	}
	return status, nil
}
