package cli

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(plansCmd)
	plansCmd.AddCommand(plansSeedCmd)
	plansCmd.AddCommand(plansListCmd)
}

var plansCmd = &cobra.Command{
	Use:   "plans",
	Short: "Manage the credit plan catalog",
}

var plansSeedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Upsert plans from the configured catalog",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withServices(cmd.Context(), func(ctx context.Context, svc services) error {
			res, err := svc.Plans.Seed(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "plans seeded: %d created, %d updated\n", res.Created, res.Updated)
			return nil
		})
	},
}

var plansListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every plan, active or not",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withServices(cmd.Context(), func(ctx context.Context, svc services) error {
			plans, err := svc.Plans.ListAll(ctx)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tCODE\tTYPE\tCREDITS\tPRICE\tACTIVE")
			for _, p := range plans {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d.%02d\t%t\n",
					p.ID, p.Code, p.Type, p.Credits, p.PriceCents/100, p.PriceCents%100, p.IsActive)
			}
			return w.Flush()
		})
	},
}
