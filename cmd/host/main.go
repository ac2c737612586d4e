// CBNote host
//
// Serves the document folders to a paired companion:
// - WebSocket session with JWT pairing
// - Directory, file list and file content requests
// - Folder change notifications (fsnotify)
// - Prometheus metrics & structured logging (zap)
package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "cbnote-host",
		Short: "Serve CBNote documents to a paired companion",
		Long: `cbnote-host owns the document folders and answers companion requests.

Configuration is read from the environment (LISTEN_ADDR, DOCUMENTS_PATH,
CLOUD_BACKEND, PAIRING_SECRET, ...).`,
		SilenceUsage: true,
	}
	root.AddCommand(newServeCmd())
	root.AddCommand(newPairCmd())
	return root
}
