package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/orgrag/internal/app"
	"github.com/fyrsmithlabs/orgrag/internal/ingest"
)

var (
	chunkSize int
	overlap   int
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Ingest files or a website into a tenant's index",
}

func init() {
	ingestCmd.PersistentFlags().IntVar(&chunkSize, "chunk-size", 0, "characters per chunk (default from config)")
	ingestCmd.PersistentFlags().IntVar(&overlap, "overlap", 0, "characters shared by adjacent chunks (default from config)")
	ingestCmd.AddCommand(ingestFilesCmd)
	ingestCmd.AddCommand(ingestURLCmd)
}

var ingestFilesCmd = &cobra.Command{
	Use:   "files <tenant> <dir>",
	Short: "Ingest the supported files directly inside a directory",
	Long: `Ingest the .txt, .md, .pdf, .html, .docx, .pptx and .xlsx files
directly inside a directory. Subdirectories are not visited.

Examples:
  orgrag ingest files "Acme Corp" ./handbook
  orgrag ingest files "Acme Corp" ./handbook --chunk-size 500 --overlap 50`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			size, ov := chunkFlags(cmd, a)
			res, err := a.IngestFiles(ctx, args[0], args[1], size, ov)
			return printIngest(cmd, res, err)
		})
	},
}

var ingestURLCmd = &cobra.Command{
	Use:   "url <tenant> <url>",
	Short: "Scrape a website and ingest every page with content",
	Long: `Scrape a website starting at the given URL, staying on its host,
and ingest every page with content.

Examples:
  orgrag ingest url "Acme Corp" https://acme.example/docs`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			size, ov := chunkFlags(cmd, a)
			res, err := a.IngestURL(ctx, args[0], args[1], size, ov)
			return printIngest(cmd, res, err)
		})
	},
}

// chunkFlags returns the configured chunk settings, overridden by any
// flag set on the command line.
func chunkFlags(cmd *cobra.Command, a *app.App) (int, int) {
	size, ov := a.ChunkDefaults()
	if cmd.Flags().Changed("chunk-size") {
		size = chunkSize
	}
	if cmd.Flags().Changed("overlap") {
		ov = overlap
	}
	return size, ov
}

// printIngest prints the result, which is present on success and on a
// partial write, and returns err.
func printIngest(cmd *cobra.Command, res *ingest.Result, err error) error {
	if res != nil {
		if perr := printJSON(cmd.OutOrStdout(), res); perr != nil && err == nil {
			return perr
		}
	}
	return err
}
