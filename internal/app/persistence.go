package app

import (
	"context"
	"database/sql"
	"embed"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-logger/glog"
	onboard "github.com/goliatone/go-onboard"
	"github.com/goliatone/go-onboard/internal/database"
	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/uptrace/bun"
)

const migrationsSourceLabel = "data/sql/migrations"

var registerModels sync.Once

// persistenceConfig adapts the database settings to the persistence client.
type persistenceConfig struct {
	driver      string
	server      string
	debug       bool
	pingTimeout time.Duration
}

func (c persistenceConfig) GetDebug() bool                { return c.debug }
func (c persistenceConfig) GetDriver() string             { return c.driver }
func (c persistenceConfig) GetServer() string             { return c.server }
func (c persistenceConfig) GetDSN() string                { return c.server }
func (c persistenceConfig) GetPingTimeout() time.Duration { return c.pingTimeout }
func (c persistenceConfig) GetOtelIdentifier() string     { return "" }

type persistenceClient interface {
	DB() *bun.DB
	Migrate(ctx context.Context) error
	Seed(ctx context.Context) error
}

// Database is a persistence client with the onboarding models and
// migrations registered.
type Database struct {
	sqldb  *sql.DB
	client persistenceClient
	logger glog.Logger

	debug    bool
	migrate  bool
	fixtures *embed.FS
}

// DatabaseOption customizes OpenDatabase.
type DatabaseOption func(*Database)

// WithDatabaseLogger sets the persistence logger.
func WithDatabaseLogger(logger glog.Logger) DatabaseOption {
	return func(d *Database) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithDatabaseDebug logs every query.
func WithDatabaseDebug(debug bool) DatabaseOption {
	return func(d *Database) {
		d.debug = debug
	}
}

// WithAutoMigrate applies pending migrations while opening.
func WithAutoMigrate(migrate bool) DatabaseOption {
	return func(d *Database) {
		d.migrate = migrate
	}
}

// WithFixtures seeds the yml fixtures in fsys after migrating. Seeded
// tables are truncated first.
func WithFixtures(fsys embed.FS) DatabaseOption {
	return func(d *Database) {
		d.fixtures = &fsys
	}
}

// OpenDatabase connects to dsn and builds the persistence client. Dialect
// specific migrations are validated for postgres and sqlite before anything
// is applied.
func OpenDatabase(ctx context.Context, dsn string, opts ...DatabaseOption) (*Database, error) {
	d := &Database{logger: glog.Nop()}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}

	sqldb, dialect, err := database.Connect(ctx, dsn)
	if err != nil {
		return nil, err
	}
	d.sqldb = sqldb

	registerModels.Do(func() {
		persistence.RegisterModel((*onboard.User)(nil))
		persistence.RegisterModel((*onboard.Profile)(nil))
		persistence.RegisterModel((*onboard.AccessRequest)(nil))
		persistence.RegisterModel((*onboard.AuthSession)(nil))
		persistence.RegisterModel((*onboard.ActivityRecord)(nil))
	})

	cfg := persistenceConfig{
		driver:      database.DetectType(dsn).Driver(),
		server:      dsn,
		debug:       d.debug,
		pingTimeout: 5 * time.Second,
	}

	client, err := persistence.New(cfg, sqldb, dialect)
	if err != nil {
		_ = database.Close(sqldb)
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create persistence client")
	}
	client.SetLogger(d.logger)

	client.RegisterDialectMigrations(
		onboard.GetMigrationsFS(),
		persistence.WithDialectSourceLabel(migrationsSourceLabel),
		persistence.WithValidationTargets("postgres", "sqlite"),
	)
	if err := client.ValidateDialects(ctx); err != nil {
		_ = database.Close(sqldb)
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "migrations are not valid for every dialect")
	}
	d.client = client

	if d.migrate {
		if err := d.Migrate(ctx); err != nil {
			_ = database.Close(sqldb)
			return nil, err
		}
	}

	if d.fixtures != nil {
		client.RegisterFixtures(*d.fixtures).AddOptions(persistence.WithTrucateTables())
		if err := client.Seed(ctx); err != nil {
			_ = database.Close(sqldb)
			return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to seed fixtures")
		}
	}

	return d, nil
}

// DB returns the bun handle owned by the client.
func (d *Database) DB() *bun.DB {
	return d.client.DB()
}

// Migrate applies pending migrations.
func (d *Database) Migrate(ctx context.Context) error {
	if err := d.client.Migrate(ctx); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to apply migrations")
	}
	d.logger.Info("migrations applied", "source", migrationsSourceLabel)
	return nil
}

// Close releases the connection pool.
func (d *Database) Close() error {
	if d == nil {
		return nil
	}
	return database.Close(d.sqldb)
}
