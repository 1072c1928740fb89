package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/orgrag/internal/app"
)

var tenantCmd = &cobra.Command{
	Use:   "tenant",
	Short: "Create, delete and inspect tenants",
}

func init() {
	tenantCmd.AddCommand(tenantCreateCmd)
	tenantCmd.AddCommand(tenantDeleteCmd)
	tenantCmd.AddCommand(tenantListCmd)
	tenantCmd.AddCommand(tenantInfoCmd)
}

var tenantCreateCmd = &cobra.Command{
	Use:   "create <tenant>",
	Short: "Provision a tenant's search index and blob container",
	Long: `Provision a tenant's search index and blob container. Existing
resources are reused, so running create twice is safe.

Examples:
  orgrag tenant create "Acme Corp"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			res, err := a.CreateTenant(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		})
	},
}

var tenantDeleteCmd = &cobra.Command{
	Use:   "delete <tenant>",
	Short: "Remove a tenant's search index and blob container",
	Long: `Remove a tenant's search index and blob container. Knowledge
records are kept; remove them with "orgrag sources delete".

Examples:
  orgrag tenant delete "Acme Corp"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			res, err := a.DeleteTenant(ctx, args[0])
			if res != nil {
				if perr := printJSON(cmd.OutOrStdout(), res); perr != nil && err == nil {
					return perr
				}
			}
			return err
		})
	},
}

var tenantListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tenant resource names",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			names, err := a.ListTenants(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{"tenants": names, "count": len(names)})
		})
	},
}

var tenantInfoCmd = &cobra.Command{
	Use:   "info <tenant>",
	Short: "Show a tenant's blob count and index state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			info, err := a.TenantInfo(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), info)
		})
	},
}
