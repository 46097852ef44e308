package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"poslot/backend/internal/allocator"
	"poslot/backend/internal/catalog"
	"poslot/backend/internal/domain"
	"poslot/backend/internal/logging"
	"poslot/backend/internal/service"
	"poslot/backend/internal/store"
	pgstore "poslot/backend/internal/store/postgres"
)

// Opener connects to the ledger store. The returned func releases it.
type Opener func(ctx context.Context, databaseURL string) (store.Repository, func() error, error)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	DatabaseURL string
	Format      string // "json" | "text"
	Operator    string
	LogLevel    string

	open   Opener
	logger *zap.Logger
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the ledgerctl command backed by postgres.
func NewRootCommand() *cobra.Command {
	return newRootCommand(openPostgres)
}

func newRootCommand(open Opener) *cobra.Command {
	opts := &RootOptions{open: open}

	cmd := &cobra.Command{
		Use:   "ledgerctl",
		Short: "Operator tooling for the poslot stock ledger",
		Long:  "Apply schema migrations, seed catalog and distribution lots, and reconcile return intents.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			if opts.logger == nil {
				logger, _, err := logging.New(opts.LogLevel, false, "")
				if err != nil {
					return err
				}
				opts.logger = logger
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.DatabaseURL, "database-url", os.Getenv("DATABASE_URL"), "postgres connection string (defaults to DATABASE_URL)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.Operator, "operator", "ledgerctl", "username recorded in audit entries")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "warn", "log level (debug|info|warn|error)")

	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewSeedCommand(opts))
	cmd.AddCommand(NewIntentsCommand(opts))

	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

func openPostgres(ctx context.Context, databaseURL string) (store.Repository, func() error, error) {
	if databaseURL == "" {
		return nil, nil, errors.New("database url is required (--database-url or DATABASE_URL)")
	}
	pg, err := pgstore.New(ctx, databaseURL)
	if err != nil {
		return nil, nil, err
	}
	return pg, pg.Close, nil
}

type backend struct {
	repo    store.Repository
	catalog *catalog.Catalog
	service *service.Service
	close   func() error
}

func (o *RootOptions) backend(ctx context.Context) (*backend, error) {
	repo, closeFn, err := o.open(ctx, o.DatabaseURL)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open ledger store", err)
	}
	if closeFn == nil {
		closeFn = func() error { return nil }
	}
	products := catalog.New(repo, nil, 0, o.logger)
	alloc := allocator.New(repo, o.logger)
	return &backend{
		repo:    repo,
		catalog: products,
		service: service.New(repo, alloc, products, o.logger),
		close:   closeFn,
	}, nil
}

// operatorContext runs commands as an admin so service authorization and
// audit entries apply the same way they do for HTTP callers.
func (o *RootOptions) operatorContext(ctx context.Context) context.Context {
	return service.WithActor(ctx, domain.Actor{Username: o.Operator, Role: domain.RoleAdmin})
}
