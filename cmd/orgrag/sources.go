package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/orgrag/internal/app"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "Inspect and remove a tenant's ingestion records",
}

func init() {
	sourcesCmd.AddCommand(sourcesListCmd)
	sourcesCmd.AddCommand(sourcesDocumentsCmd)
	sourcesCmd.AddCommand(sourcesDeleteCmd)
}

var sourcesListCmd = &cobra.Command{
	Use:   "list <tenant>",
	Short: "List a tenant's sources, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			sources, err := a.Sources(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{"sources": sources, "count": len(sources)})
		})
	},
}

var sourcesDocumentsCmd = &cobra.Command{
	Use:   "documents <tenant> <source-id>",
	Short: "List the documents recorded for a source",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			docs, err := a.SourceDocuments(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{"documents": docs, "count": len(docs)})
		})
	},
}

var sourcesDeleteCmd = &cobra.Command{
	Use:   "delete <tenant> <source-id>",
	Short: "Delete a source and its documents",
	Long: `Delete a source and its documents from the record store. Chunks
already in the search index are not removed.

Examples:
  orgrag sources delete "Acme Corp" 3f0c9a52-...`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			n, err := a.DeleteSource(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{"source_id": args[1], "documents_deleted": n})
		})
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats <tenant>",
	Short: "Show source and document counts by status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			stats, err := a.Stats(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), stats)
		})
	},
}
