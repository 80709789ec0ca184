package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/turtacn/LexNER/internal/app"
	"github.com/turtacn/LexNER/internal/config"
	"github.com/turtacn/LexNER/internal/infrastructure/database/postgres"
	"github.com/turtacn/LexNER/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/LexNER/pkg/errors"
)

type schemaMigrator interface {
	Up() error
	Down(steps int) error
	Status() (uint, bool, error)
	Force(version int) error
	Close() error
}

// openMigrator is swapped in tests.
var openMigrator = func(cfg config.DatabaseConfig, source string, log logging.Logger) (schemaMigrator, error) {
	m, err := postgres.NewMigrator(postgres.BuildDSN(cfg), source, log)
	if err != nil {
		return nil, err
	}
	return m, nil
}

type migrationStatus struct {
	Version uint `json:"version"`
	Dirty   bool `json:"dirty"`
}

// NewMigrateCmd manages the analysis schema.
func NewMigrateCmd() *cobra.Command {
	var source string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the PostgreSQL schema",
		Long: "Applies, rolls back and inspects schema migrations. The schema embedded in\n" +
			"the binary is used unless database.migration_path or --source points elsewhere.",
	}
	cmd.PersistentFlags().StringVar(&source, "source", "", "migration source URL, e.g. file:///srv/migrations")

	withMigrator := func(fn func(cmd *cobra.Command, m schemaMigrator) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			cc, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			src := source
			if src == "" {
				src = app.MigrationSource(cc.Config.Database)
			}
			m, err := openMigrator(cc.Config.Database, src, cc.Logger)
			if err != nil {
				return errors.Wrap(err, errors.ErrCodeDatabaseError, "open migrator")
			}
			defer m.Close()
			return fn(cmd, m)
		}
	}

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: withMigrator(func(cmd *cobra.Command, m schemaMigrator) error {
			if err := m.Up(); err != nil {
				return err
			}
			return printStatus(cmd, m)
		}),
	}

	var steps int
	down := &cobra.Command{
		Use:   "down [n]",
		Short: "Roll back the last n migrations (default 1)",
		Args:  cobra.MaximumNArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			steps = 1
			if len(args) == 1 {
				n, err := strconv.Atoi(args[0])
				if err != nil || n < 1 {
					return errors.InvalidParam(fmt.Sprintf("invalid step count %q", args[0]))
				}
				steps = n
			}
			return nil
		},
		RunE: withMigrator(func(cmd *cobra.Command, m schemaMigrator) error {
			if err := m.Down(steps); err != nil {
				return err
			}
			return printStatus(cmd, m)
		}),
	}

	status := &cobra.Command{
		Use:   "status",
		Short: "Show the applied schema version",
		Args:  cobra.NoArgs,
		RunE:  withMigrator(printStatus),
	}

	var version int
	force := &cobra.Command{
		Use:   "force <version>",
		Short: "Mark a version as applied without running it",
		Args:  cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			v, err := strconv.Atoi(args[0])
			if err != nil || v < -1 {
				return errors.InvalidParam(fmt.Sprintf("invalid version %q", args[0]))
			}
			version = v
			return nil
		},
		RunE: withMigrator(func(cmd *cobra.Command, m schemaMigrator) error {
			if err := m.Force(version); err != nil {
				return err
			}
			return printStatus(cmd, m)
		}),
	}

	cmd.AddCommand(up, down, status, force)
	return cmd
}

func printStatus(cmd *cobra.Command, m schemaMigrator) error {
	v, dirty, err := m.Status()
	if err != nil {
		return err
	}
	cc, _ := GetCLIContext(cmd)
	if cc != nil && cc.OutputFormat == "json" {
		return printJSON(cmd.OutOrStdout(), migrationStatus{Version: v, Dirty: dirty})
	}
	msg := fmt.Sprintf("schema at version %d", v)
	if dirty {
		msg += " (dirty: fix the failed migration, then run migrate force)"
	}
	PrintSuccess(cmd, msg)
	return nil
}
