package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

type migrator interface {
	Migrate(ctx context.Context) ([]int, error)
}

func NewMigrateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the ledger schema and pending migrations",
		Long: `Apply the embedded schema and every numbered migration not yet recorded
in schema_migrations. Running it again is a no-op.

Examples:
  ledgerctl migrate --database-url postgres://poslot@localhost/poslot
  ledgerctl migrate --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd, opts)
		},
	}
}

func runMigrate(cmd *cobra.Command, opts *RootOptions) error {
	ctx := cmd.Context()
	b, err := opts.backend(ctx)
	if err != nil {
		return err
	}
	defer b.close()

	m, ok := b.repo.(migrator)
	if !ok {
		return WrapExitError(ExitCommandError, "migrate", errors.New("store does not support migrations"))
	}
	applied, err := m.Migrate(ctx)
	if err != nil {
		return WrapExitError(ExitFailure, "migrate", err)
	}

	lines := []string{"schema is up to date"}
	if len(applied) > 0 {
		lines = []string{fmt.Sprintf("applied migrations %v", applied)}
	}
	return writeResult(cmd.OutOrStdout(), opts.Format, map[string]any{"applied": applied}, lines)
}
