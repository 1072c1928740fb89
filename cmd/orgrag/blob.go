package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/orgrag/internal/app"
)

var (
	blobName   string
	blobOutput string
)

var blobCmd = &cobra.Command{
	Use:   "blob",
	Short: "Manage the files in a tenant's blob container",
}

func init() {
	blobUploadCmd.Flags().StringVar(&blobName, "name", "", "blob name (default the file's base name)")
	blobDownloadCmd.Flags().StringVarP(&blobOutput, "output", "o", "", "write to file instead of stdout")

	blobCmd.AddCommand(blobUploadCmd)
	blobCmd.AddCommand(blobDownloadCmd)
	blobCmd.AddCommand(blobListCmd)
	blobCmd.AddCommand(blobDeleteCmd)
}

var blobUploadCmd = &cobra.Command{
	Use:   "upload <tenant> <file>",
	Short: "Upload a file into the tenant's container",
	Long: `Upload a file into the tenant's container, replacing any blob with
the same name. The tenant must exist.

Examples:
  orgrag blob upload "Acme Corp" ./handbook.pdf
  orgrag blob upload "Acme Corp" ./v2.pdf --name handbook.pdf`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[1])
		if err != nil {
			return fmt.Errorf("reading %s: %w", args[1], err)
		}
		name := blobName
		if name == "" {
			name = filepath.Base(args[1])
		}
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			if err := a.UploadBlob(ctx, args[0], name, data); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{"name": name, "size": len(data)})
		})
	},
}

var blobDownloadCmd = &cobra.Command{
	Use:   "download <tenant> <name>",
	Short: "Write a blob to stdout or a file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			data, err := a.DownloadBlob(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			if blobOutput != "" {
				return os.WriteFile(blobOutput, data, 0o600)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		})
	},
}

var blobListCmd = &cobra.Command{
	Use:   "list <tenant>",
	Short: "List the blobs in the tenant's container",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			blobs, err := a.ListBlobs(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{"blobs": blobs, "count": len(blobs)})
		})
	},
}

var blobDeleteCmd = &cobra.Command{
	Use:   "delete <tenant> <name>",
	Short: "Delete a blob from the tenant's container",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			return a.DeleteBlob(ctx, args[0], args[1])
		})
	},
}
