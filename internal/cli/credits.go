package cli

import (
	"context"
	"fmt"

	auditdomain "github.com/smallbiznis/testematch/internal/audit/domain"
	ledgerdomain "github.com/smallbiznis/testematch/internal/ledger/domain"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(creditsCmd)
	creditsCmd.AddCommand(creditsGrantCmd)

	creditsGrantCmd.Flags().String("account", "", "Account id")
	creditsGrantCmd.Flags().Int64("amount", 0, "Credits to grant; negative claws back")
	creditsGrantCmd.Flags().String("reason", "", "Reason recorded on the entry")
	creditsGrantCmd.Flags().String("ref", "", "Idempotency reference")
}

var creditsCmd = &cobra.Command{
	Use:   "credits",
	Short: "Adjust account balances",
}

var creditsGrantCmd = &cobra.Command{
	Use:   "grant",
	Short: "Grant or claw back credits through a ledger adjustment",
	Long: `Writes a bonus entry for a positive amount or a usage entry for a
negative one. Repeating the command with the same --ref is a no-op.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		accountID, err := accountFlag(cmd)
		if err != nil {
			return err
		}
		amount, _ := cmd.Flags().GetInt64("amount")
		reason, _ := cmd.Flags().GetString("reason")
		ref, _ := cmd.Flags().GetString("ref")
		if ref == "" {
			return fmt.Errorf("--ref is required")
		}

		return withServices(cmd.Context(), func(ctx context.Context, svc services) error {
			res, err := svc.Ledger.Adjust(ctx, ledgerdomain.AdjustRequest{
				AccountID: accountID,
				Amount:    amount,
				Reason:    reason,
				Reference: ref,
				Actor:     "cli",
			})
			if err != nil {
				return err
			}
			if res.Duplicate {
				fmt.Fprintf(cmd.OutOrStdout(), "reference %s already applied as entry %s; balance %d\n", ref, res.Entry.ID, res.Balance)
				return nil
			}
			recordAudit(ctx, cmd, svc, auditdomain.Record{
				Action:     auditdomain.ActionLedgerAdjust,
				TargetType: auditdomain.TargetAccount,
				TargetID:   accountID.String(),
				Metadata: map[string]any{
					"entry_id":  res.Entry.ID.String(),
					"amount":    res.Entry.Amount,
					"reason":    reason,
					"reference": ref,
				},
			})
			fmt.Fprintf(cmd.OutOrStdout(), "entry %s (%s %d); balance %d\n", res.Entry.ID, res.Entry.Kind, res.Entry.Amount, res.Balance)
			return nil
		})
	},
}
