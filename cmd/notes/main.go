// CBNote notes
//
// Edits the host's document folders directly: create notes, import photos,
// pin, rename, delete and choose the listing order.
package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/cbnote/cbnote/internal/config"
	"github.com/cbnote/cbnote/internal/logging"
	"github.com/cbnote/cbnote/internal/repository"
)

var dirFlag string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "cbnote-notes",
		Short: "Manage CBNote documents on this host",
		Long: `cbnote-notes edits the document folders the host serves.

Configuration is read from the environment (DOCUMENTS_PATH,
PREFERENCES_PATH, CLOUD_BACKEND, NAME_FORMAT, ...).`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&dirFlag, "dir", "d", "", "directory id (onDevice or iCloud, default: iCloud when available)")

	root.AddCommand(newNewCmd())
	root.AddCommand(newWriteCmd())
	root.AddCommand(newListCmd())
	root.AddCommand(newPinCmd())
	root.AddCommand(newRenameCmd())
	root.AddCommand(newRemoveCmd())
	root.AddCommand(newImportPhotoCmd())
	root.AddCommand(newSortCmd())
	return root
}

// openRepo opens the repository and resolves the --dir flag.
func openRepo(ctx context.Context) (*repository.Repository, repository.DocumentDir, error) {
	cfg, err := config.LoadDocuments()
	if err != nil {
		return nil, "", err
	}
	if err := logging.Init(logging.Config{
		Level:      "warn",
		Format:     "console",
		OutputPath: "stderr",
	}); err != nil {
		return nil, "", err
	}

	repo, err := repository.Open(ctx, cfg)
	if err != nil {
		return nil, "", err
	}

	if dirFlag == "" {
		return repo, repo.DefaultDir(ctx), nil
	}
	dir, err := repo.Resolve(ctx, dirFlag)
	if err != nil {
		repo.Close()
		return nil, "", err
	}
	return repo, dir, nil
}
