// CBNote companion
//
// Browses the documents of a paired host from the terminal. It exercises the
// same connector a wrist app would use.
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
		Use:   "cbnote",
		Short: "Browse CBNote documents on a paired host",
		Long: `cbnote connects to a CBNote host and lists its directories, files and
file contents.

Configuration is read from the environment (HOST_URL, PAIRING_TOKEN,
REQUEST_TIMEOUT, COMPANION_LANGUAGE).`,
		SilenceUsage: true,
	}
	root.AddCommand(newDirsCmd())
	root.AddCommand(newFilesCmd())
	root.AddCommand(newShowCmd())
	root.AddCommand(newWatchCmd())
	return root
}
