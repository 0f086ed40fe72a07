package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fsystem/portal/modules"
	"github.com/fsystem/portal/pkg/application"
	"github.com/fsystem/portal/pkg/configuration"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply, roll back or list the embedded schema migrations",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply every pending migration",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withMigrations(cmd.Context(), func(ctx context.Context, m application.MigrationManager) error {
					return m.Up(ctx)
				})
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the latest migration of every module",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withMigrations(cmd.Context(), func(ctx context.Context, m application.MigrationManager) error {
					return m.Down(ctx)
				})
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Print one JSON line per migration",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withMigrations(cmd.Context(), func(ctx context.Context, m application.MigrationManager) error {
					states, err := m.Status(ctx)
					if err != nil {
						return err
					}
					for _, s := range states {
						if err := writeJSONLine(cmd.OutOrStdout(), s); err != nil {
							return err
						}
					}
					return nil
				})
			},
		},
	)
	return cmd
}

func withMigrations(ctx context.Context, fn func(ctx context.Context, m application.MigrationManager) error) error {
	conf := configuration.Use()
	pool, err := connectDB(ctx, conf)
	if err != nil {
		return err
	}
	defer pool.Close()

	app := application.New(&application.ApplicationOptions{Pool: pool, Logger: conf.Logger()})
	if err := modules.Load(app, modules.BuiltInModules(conf, nil)...); err != nil {
		return withCode(exitService, fmt.Errorf("load modules: %w", err))
	}
	if err := fn(ctx, app.Migrations()); err != nil {
		return withCode(exitDB, err)
	}
	return nil
}
