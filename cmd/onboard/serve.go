package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	onboard "github.com/goliatone/go-onboard"
	"github.com/goliatone/go-onboard/internal/app"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
)

func (c *cli) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := app.New(ctx, c.cfg, app.WithLogger(c.logger))
			if err != nil {
				return err
			}
			defer func() {
				if err := a.Close(); err != nil {
					c.logger.GetLogger("app").Error("close failed", "error", err)
				}
			}()

			return a.Run(ctx)
		},
	}
}

func (c *cli) migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage database migrations",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply pending migrations",
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx := cmd.Context()
				if ctx == nil {
					ctx = context.Background()
				}
				db, err := app.OpenDatabase(ctx, c.cfg.Database.DSN,
					app.WithDatabaseLogger(c.logger.GetLogger("migrate")),
					app.WithAutoMigrate(true),
				)
				if err != nil {
					return err
				}
				return db.Close()
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the last migration group",
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.withDB(cmd.Context(), func(ctx context.Context, db *bun.DB) error {
					return onboard.Rollback(ctx, db, c.logger.GetLogger("migrate"))
				})
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show applied and pending migrations",
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.withDB(cmd.Context(), func(ctx context.Context, db *bun.DB) error {
					status, err := onboard.GetMigrationStatus(ctx, db)
					if err != nil {
						return err
					}
					return c.printJSON(status)
				})
			},
		},
	)

	return cmd
}

func (c *cli) withDB(ctx context.Context, fn func(ctx context.Context, db *bun.DB) error) error {
	if ctx == nil {
		ctx = context.Background()
	}

	db, err := app.OpenDatabase(ctx, c.cfg.Database.DSN,
		app.WithDatabaseLogger(c.logger.GetLogger("persistence")),
	)
	if err != nil {
		return err
	}
	defer db.Close()

	return fn(ctx, db.DB())
}
