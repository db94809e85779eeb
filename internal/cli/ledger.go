package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var errLedgerDrift = errors.New("ledger drift detected")

func init() {
	rootCmd.AddCommand(ledgerCmd)
	ledgerCmd.AddCommand(ledgerVerifyCmd)
	ledgerCmd.AddCommand(ledgerAuditCmd)

	ledgerVerifyCmd.Flags().String("account", "", "Account id")
	ledgerAuditCmd.Flags().Int("batch", 0, "Accounts per batch (defaults to SCHEDULER_BATCH_SIZE)")
}

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Check balances against the ledger",
}

var ledgerVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Compare one account's balance with its completed entries",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		accountID, err := accountFlag(cmd)
		if err != nil {
			return err
		}
		return withServices(cmd.Context(), func(ctx context.Context, svc services) error {
			snap, err := svc.Ledger.Verify(ctx, accountID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "account %s: balance %d, ledger %d, drift %d\n",
				snap.AccountID, snap.Balance, snap.LedgerSum, snap.Drift())
			if !snap.Consistent() {
				return errLedgerDrift
			}
			return nil
		})
	},
}

var ledgerAuditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Scan every account for balance drift",
	Long:  `Reports mismatches without changing any balance.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		batch, _ := cmd.Flags().GetInt("batch")
		return withServices(cmd.Context(), func(ctx context.Context, svc services) error {
			if batch <= 0 {
				batch = svc.Cfg.Scheduler.BatchSize
			}
			if batch <= 0 {
				batch = 100
			}
			summary, err := svc.Ledger.AuditAll(ctx, batch)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, m := range summary.Mismatches {
				fmt.Fprintf(out, "mismatch account %s: balance %d, ledger %d\n", m.AccountID, m.Balance, m.LedgerSum)
			}
			fmt.Fprintf(out, "scanned %d accounts, %d mismatched, total drift %d\n",
				summary.Scanned, summary.Mismatched, summary.Drift)
			if summary.Mismatched > 0 {
				return errLedgerDrift
			}
			return nil
		})
	},
}
