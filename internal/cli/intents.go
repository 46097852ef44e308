package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"poslot/backend/internal/domain"
)

func NewIntentsCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "intents",
		Short: "Inspect and resolve return intents",
		Long: `Return intents are written before a return reinstates stock. An intent
left in needs_reconciliation means stock was reinstated but the sale
transaction was not updated; fix the transaction by hand, then resolve it.`,
	}

	cmd.AddCommand(newIntentsListCommand(opts))
	cmd.AddCommand(newIntentsResolveCommand(opts))
	return cmd
}

func newIntentsListCommand(opts *RootOptions) *cobra.Command {
	var (
		status string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List return intents",
		Example: `  ledgerctl intents list
  ledgerctl intents list --status pending --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := opts.backend(cmd.Context())
			if err != nil {
				return err
			}
			defer b.close()

			resp, err := b.service.ListReturnIntents(opts.operatorContext(cmd.Context()), status, limit)
			if err != nil {
				return WrapExitError(ExitFailure, "list intents", err)
			}

			lines := make([]string, 0, len(resp.Intents)+1)
			if len(resp.Intents) == 0 {
				lines = append(lines, "no return intents found")
			}
			for _, intent := range resp.Intents {
				lines = append(lines, formatIntent(intent))
			}
			return writeResult(cmd.OutOrStdout(), opts.Format, resp, lines)
		},
	}

	cmd.Flags().StringVar(&status, "status", domain.IntentStatusNeedsReconciliation, "filter by status (empty for all)")
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum intents to list")
	return cmd
}

func newIntentsResolveCommand(opts *RootOptions) *cobra.Command {
	var note string

	cmd := &cobra.Command{
		Use:     "resolve <intent-id>",
		Short:   "Mark a return intent as reconciled",
		Example: `  ledgerctl intents resolve rint-0190f3c2 --note "transaction patched by hand"`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := opts.backend(cmd.Context())
			if err != nil {
				return err
			}
			defer b.close()

			intent, err := b.service.ResolveReturnIntent(opts.operatorContext(cmd.Context()), args[0], domain.ReturnIntentResolveRequest{Note: note})
			if err != nil {
				return WrapExitError(ExitFailure, "resolve intent "+args[0], err)
			}
			return writeResult(cmd.OutOrStdout(), opts.Format, intent, []string{formatIntent(intent)})
		},
	}

	cmd.Flags().StringVar(&note, "note", "", "what was done to reconcile (required)")
	_ = cmd.MarkFlagRequired("note")
	return cmd
}

func formatIntent(intent domain.ReturnIntent) string {
	line := fmt.Sprintf("%s  %-20s  tx=%s  cashier=%s  amount=%d  created=%s",
		intent.ID, intent.Status, intent.TransactionID, intent.CashierID,
		intent.TotalReturnAmountCents, intent.CreatedAt.Format("2006-01-02 15:04:05"))
	if intent.Error != "" {
		line += "  error=" + intent.Error
	}
	if intent.ResolutionNote != "" {
		line += "  note=" + intent.ResolutionNote
	}
	return line
}
