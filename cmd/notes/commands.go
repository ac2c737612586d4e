package main

import (
	"bytes"
	"fmt"
	"io"

	"github.com/disintegration/imaging"
	"github.com/spf13/cobra"

	"github.com/cbnote/cbnote/internal/repository"
)

// photoQuality is the JPEG quality of imported photos.
const photoQuality = 90

func newNewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "new [text]",
		Short: "Create a date-named note (reads stdin without text)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := argOrStdin(cmd, args)
			if err != nil {
				return err
			}
			repo, dir, err := openRepo(cmd.Context())
			if err != nil {
				return err
			}
			defer repo.Close()

			ref, err := repo.CreateNote(cmd.Context(), dir, text)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), ref.Name)
			return nil
		},
	}
}

func newWriteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "write <name> [text]",
		Short: "Replace the content of a note (reads stdin without text)",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := argOrStdin(cmd, args[1:])
			if err != nil {
				return err
			}
			repo, dir, err := openRepo(cmd.Context())
			if err != nil {
				return err
			}
			defer repo.Close()

			return repo.WriteText(cmd.Context(), dir, args[0], text)
		},
	}
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "ls",
		Aliases: []string{"list"},
		Short:   "List files, pinned first",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, dir, err := openRepo(cmd.Context())
			if err != nil {
				return err
			}
			defer repo.Close()

			pinned, unpinned, err := repo.ListFiles(cmd.Context(), dir)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, f := range pinned {
				printRef(out, "*", f)
			}
			for _, f := range unpinned {
				printRef(out, " ", f)
			}
			return nil
		},
	}
}

func newPinCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pin <name>",
		Short: "Toggle the pin of a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, dir, err := openRepo(cmd.Context())
			if err != nil {
				return err
			}
			defer repo.Close()

			pinned, err := repo.TogglePin(dir, args[0])
			if err != nil {
				return err
			}
			state := "unpinned"
			if pinned {
				state = "pinned"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", state, args[0])
			return nil
		},
	}
}

func newRenameCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "rename <name> <new-name>",
		Aliases: []string{"mv"},
		Short:   "Rename a file, keeping its pin",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, dir, err := openRepo(cmd.Context())
			if err != nil {
				return err
			}
			defer repo.Close()

			return repo.Rename(cmd.Context(), dir, args[0], args[1])
		},
	}
}

func newRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "rm <name>...",
		Aliases: []string{"delete"},
		Short:   "Delete files",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, dir, err := openRepo(cmd.Context())
			if err != nil {
				return err
			}
			defer repo.Close()

			for _, name := range args {
				if err := repo.Delete(cmd.Context(), dir, name); err != nil {
					return fmt.Errorf("delete %s: %w", name, err)
				}
			}
			return nil
		},
	}
}

func newImportPhotoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import-photo <path>",
		Short: "Save a photo as a date-named JPEG",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			img, err := imaging.Open(args[0], imaging.AutoOrientation(true))
			if err != nil {
				return fmt.Errorf("open photo: %w", err)
			}
			var buf bytes.Buffer
			if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(photoQuality)); err != nil {
				return fmt.Errorf("encode photo: %w", err)
			}

			repo, dir, err := openRepo(cmd.Context())
			if err != nil {
				return err
			}
			defer repo.Close()

			ref, err := repo.SaveImage(cmd.Context(), dir, buf.Bytes())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), ref.Name)
			return nil
		},
	}
}

func newSortCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sort [name|date] [ascending|descending]",
		Short: "Show or set the listing order",
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, _, err := openRepo(cmd.Context())
			if err != nil {
				return err
			}
			defer repo.Close()

			if len(args) == 0 {
				key, direction := repo.Sort()
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", key, direction)
				return nil
			}
			_, direction := repo.Sort()
			dirArg := string(direction)
			if len(args) == 2 {
				dirArg = args[1]
			}
			key, direction, err := repository.ParseSort(args[0], dirArg)
			if err != nil {
				return err
			}
			return repo.SetSort(key, direction)
		},
	}
}

func argOrStdin(cmd *cobra.Command, args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	data, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func printRef(w io.Writer, mark string, f repository.FileRef) {
	fmt.Fprintf(w, "%s %-32s %8d  %s\n", mark, f.Name, f.Size, f.ModTime.Format("2006-01-02 15:04"))
}
