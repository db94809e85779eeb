package cli

import (
	"context"
	"fmt"
	"strings"

	accountdomain "github.com/smallbiznis/testematch/internal/account/domain"
	auditdomain "github.com/smallbiznis/testematch/internal/audit/domain"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(accountsCmd)
	accountsCmd.AddCommand(accountsRoleCmd)

	accountsRoleCmd.Flags().String("account", "", "Account id")
	accountsRoleCmd.Flags().String("role", "", "customer, support or admin")
}

var accountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "Manage accounts",
}

var accountsRoleCmd = &cobra.Command{
	Use:   "role",
	Short: "Set the operator role of an account",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		accountID, err := accountFlag(cmd)
		if err != nil {
			return err
		}
		raw, _ := cmd.Flags().GetString("role")
		role, err := parseRole(raw)
		if err != nil {
			return err
		}
		return withServices(cmd.Context(), func(ctx context.Context, svc services) error {
			account, err := svc.Accounts.SetRole(ctx, accountID, role)
			if err != nil {
				return err
			}
			recordAudit(ctx, cmd, svc, auditdomain.Record{
				Action:     auditdomain.ActionAccountRole,
				TargetType: auditdomain.TargetAccount,
				TargetID:   account.ID.String(),
				Metadata:   map[string]any{"role": string(account.Role)},
			})
			fmt.Fprintf(cmd.OutOrStdout(), "account %s is now %s\n", account.ID, account.Role)
			return nil
		})
	},
}

func parseRole(raw string) (accountdomain.Role, error) {
	role := accountdomain.Role(strings.ToLower(strings.TrimSpace(raw)))
	if !role.Valid() {
		return "", fmt.Errorf("invalid role %q", raw)
	}
	return role, nil
}
