package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/orgrag/internal/app"
	"github.com/fyrsmithlabs/orgrag/internal/retrieval"
)

var askK int

var askCmd = &cobra.Command{
	Use:   "ask <tenant> <question>",
	Short: "Answer a question from a tenant's documents",
	Long: `Answer a question using only the tenant's most similar chunks.

Examples:
  orgrag ask "Acme Corp" "When was the company founded?"
  orgrag ask "Acme Corp" "Who runs support?" --k 5`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			answer, err := a.Ask(ctx, args[0], args[1], askK)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), answer)
		})
	},
}

func init() {
	askCmd.Flags().IntVar(&askK, "k", retrieval.DefaultK, "number of chunks to retrieve")
}
