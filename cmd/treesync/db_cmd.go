package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"treesync/internal/config"
	"treesync/internal/store"
)

func newDBCmd(cfg *config.Config, output *outputOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Manage sqlite record stores",
	}
	cmd.AddCommand(newDBMigrateCmd(cfg, output))
	return cmd
}

func newDBMigrateCmd(cfg *config.Config, output *outputOptions) *cobra.Command {
	var dryRun bool
	var inspect bool
	var side string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run or inspect record store schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := sqlitePathForSide(cfg, side)
			if err != nil {
				return err
			}

			if !inspect && !dryRun {
				// Same as what happens when a run opens the store.
				st, err := store.Open(path)
				if err != nil {
					return fmt.Errorf("migrate: %w", err)
				}
				if err := st.Close(); err != nil {
					return err
				}
			}

			db, err := store.OpenRaw(path)
			if err != nil {
				return err
			}
			defer db.Close()

			plan, err := store.MigrationPlan(db)
			if err != nil {
				return fmt.Errorf("inspect migrations: %w", err)
			}
			if output.structured() {
				return writeStructured(cmd.OutOrStdout(), output, plan)
			}
			if !inspect && !dryRun {
				return writePlain(cmd.OutOrStdout(), "Migrations applied to %s (version %d).\n", path, plan.CurrentVersion)
			}
			return writeMigrationPlan(cmd.OutOrStdout(), plan)
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "show pending migrations without applying")
	cmd.Flags().BoolVar(&inspect, "inspect", false, "show migration status")
	cmd.Flags().StringVar(&side, "side", "target", "record store to migrate (source or target)")

	return cmd
}

func sqlitePathForSide(cfg *config.Config, side string) (string, error) {
	if cfg == nil {
		return "", fmt.Errorf("config not initialized")
	}
	var rc config.RecordsConfig
	switch side {
	case "source":
		rc = cfg.Source.Records
	case "target":
		rc = cfg.Target.Records
	default:
		return "", fmt.Errorf("--side must be source or target")
	}
	if rc.Backend != "sqlite" {
		return "", fmt.Errorf("%s records use the %s backend; schema migrations apply to sqlite only", side, rc.Backend)
	}
	if rc.Path == "" {
		return "", fmt.Errorf("%s.records.path is required", side)
	}
	return rc.Path, nil
}

func writeMigrationPlan(w io.Writer, plan *store.MigrationStatus) error {
	lines := []string{
		fmt.Sprintf("Current version: %d", plan.CurrentVersion),
		fmt.Sprintf("Available version: %d", plan.AvailableVersion),
	}
	if len(plan.Pending) == 0 {
		lines = append(lines, "No pending migrations.")
	} else {
		lines = append(lines, fmt.Sprintf("Pending migrations: %d", len(plan.Pending)))
		for _, m := range plan.Pending {
			lines = append(lines, fmt.Sprintf("  %d: %s", m.Version, m.Description))
		}
	}
	return writeLines(w, lines)
}
