package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cbnote/cbnote/internal/companion"
	"github.com/cbnote/cbnote/pkg/protocol"
)

func newDirsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dirs",
		Short: "List the host's directories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			for _, d := range s.conn.State().Directories {
				fmt.Fprintf(cmd.OutOrStdout(), "%-10s %s\n", d.ID, d.Name)
			}
			return nil
		},
	}
}

func newFilesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "files <directory>",
		Short: "List pinned and unpinned files of a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			if err := <-s.conn.FetchFiles(cmd.Context(), args[0]); err != nil {
				return s.failure(err)
			}
			printFiles(cmd.OutOrStdout(), s.conn.State())
			return nil
		},
	}
}

func newShowCmd() *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "show <directory> <file>",
		Short: "Print a text file or save an image preview",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			if err := <-s.conn.FetchFiles(cmd.Context(), args[0]); err != nil {
				return s.failure(err)
			}
			content := <-s.conn.FetchFileContent(cmd.Context(), args[1])
			switch c := content.(type) {
			case protocol.TextContent:
				fmt.Fprintln(cmd.OutOrStdout(), c.Text)
			case protocol.ImageContent:
				if out == "" {
					fmt.Fprintf(cmd.OutOrStdout(), "image, %d bytes (use --out to save)\n", len(c.Data))
					return nil
				}
				if err := os.WriteFile(out, c.Data, 0644); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "saved %s\n", out)
			case protocol.UnsupportedContent:
				fmt.Fprintln(cmd.OutOrStdout(), "unsupported file type")
			case nil:
				return s.failure(fmt.Errorf("could not load %s", args[1]))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "write image previews to this file")
	return cmd
}

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch <directory>",
		Short: "Print the file list of a directory whenever it changes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			s, err := connect(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			states := s.conn.Subscribe()
			defer s.conn.Unsubscribe(states)
			s.conn.FetchFiles(ctx, args[0])

			return watchStates(ctx, cmd.OutOrStdout(), states)
		},
	}
}

func watchStates(ctx context.Context, w io.Writer, states <-chan companion.State) error {
	var lastErr string
	for {
		select {
		case <-ctx.Done():
			return nil
		case st := <-states:
			if st.IsLoading {
				continue
			}
			if st.ShowError && st.ErrorMessage != lastErr {
				fmt.Fprintf(w, "error: %s\n", st.ErrorMessage)
			}
			lastErr = st.ErrorMessage
			fmt.Fprintln(w, "---")
			printFiles(w, st)
		}
	}
}

func printFiles(w io.Writer, st companion.State) {
	for _, f := range st.PinnedFiles {
		printFile(w, "*", f)
	}
	for _, f := range st.UnpinnedFiles {
		printFile(w, " ", f)
	}
}

func printFile(w io.Writer, mark string, f protocol.FileSummary) {
	if f.Preview != nil {
		fmt.Fprintf(w, "%s %-32s %-9s %s\n", mark, f.Name, f.Icon, *f.Preview)
		return
	}
	fmt.Fprintf(w, "%s %-32s %s\n", mark, f.Name, f.Icon)
}
