package database

import (
	"context"
	"database/sql"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/driver/sqliteshim"
	"github.com/uptrace/bun/schema"
)

// Type is the database engine selected from a DSN.
type Type string

const (
	TypePostgres Type = "postgres"
	TypeSQLite   Type = "sqlite"
)

// DetectType returns TypePostgres for postgres:// and postgresql:// DSNs and
// TypeSQLite for anything else (file paths, file: URIs, :memory:).
func DetectType(dsn string) Type {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return TypePostgres
	}
	return TypeSQLite
}

// Driver returns the database/sql driver name for t.
func (t Type) Driver() string {
	if t == TypePostgres {
		return "pg"
	}
	return sqliteshim.ShimName
}

// Connect opens dsn and returns the handle together with the bun dialect
// that speaks to it. The connection is verified before returning.
func Connect(ctx context.Context, dsn string) (*sql.DB, schema.Dialect, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, nil, goerrors.New("database dsn is required", goerrors.CategoryValidation)
	}

	switch DetectType(dsn) {
	case TypePostgres:
		return connectPostgres(ctx, dsn)
	default:
		return connectSQLite(ctx, dsn)
	}
}

func connectPostgres(ctx context.Context, dsn string) (*sql.DB, schema.Dialect, error) {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	sqldb.SetMaxOpenConns(25)
	sqldb.SetMaxIdleConns(25)

	if err := sqldb.PingContext(ctx); err != nil {
		sqldb.Close()
		return nil, nil, goerrors.Wrap(err, goerrors.CategoryExternal, "failed to ping postgres")
	}
	return sqldb, pgdialect.New(), nil
}

func connectSQLite(ctx context.Context, dsn string) (*sql.DB, schema.Dialect, error) {
	sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
	if err != nil {
		return nil, nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to open sqlite database")
	}
	// single writer
	sqldb.SetMaxOpenConns(1)

	if _, err := sqldb.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		sqldb.Close()
		return nil, nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to enable foreign keys")
	}

	if !inMemory(dsn) {
		if _, err := sqldb.ExecContext(ctx, "PRAGMA journal_mode = WAL"); err != nil {
			sqldb.Close()
			return nil, nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to enable WAL mode")
		}
	}

	if err := sqldb.PingContext(ctx); err != nil {
		sqldb.Close()
		return nil, nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to ping sqlite database")
	}
	return sqldb, sqlitedialect.New(), nil
}

func inMemory(dsn string) bool {
	return strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory")
}

// Close closes db, ignoring a nil handle.
func Close(db *sql.DB) error {
	if db == nil {
		return nil
	}
	return db.Close()
}
