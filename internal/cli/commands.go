package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/banux/mathom/internal/catalog"
)

// initColor disables color for --no-color and for output that is not a terminal.
func initColor(out io.Writer, noColor bool) {
	if noColor || !isTerminal(out) {
		color.NoColor = true
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func newAddCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "add PATH...",
		Short: "Ingest files or zip archives into the catalog",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			lib, err := ctx.openLibrary()
			if err != nil {
				return err
			}
			defer lib.Close()

			out := cmd.OutOrStdout()
			ok := color.New(color.FgGreen)
			var failed int
			for _, p := range args {
				items, err := lib.svc.Add(cmd.Context(), p)
				if err != nil {
					failed++
					printError(cmd.ErrOrStderr(), err)
					continue
				}
				for _, it := range items {
					_, _ = ok.Fprint(out, "added ")
					fmt.Fprintf(out, "%s  %s (%s, %s)\n", it.ID, it.Name, it.Section, humanize.IBytes(uint64(it.Size)))
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d paths could not be added", failed, len(args))
			}
			return nil
		},
	}
}

func newListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List catalog items, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			lib, err := ctx.openLibrary()
			if err != nil {
				return err
			}
			defer lib.Close()

			items, err := lib.svc.List(cmd.Context())
			if err != nil {
				return err
			}
			if len(items) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Catalog is empty")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderItems(items))
			return nil
		},
	}
}

func renderItems(items []catalog.Item) string {
	headers := []string{"ID", "Name", "Section", "Size", "Collection", "Added"}
	rows := make([][]string, 0, len(items))
	for _, it := range items {
		rows = append(rows, []string{
			it.ID,
			it.Name,
			string(it.Section),
			humanize.IBytes(uint64(it.Size)),
			catalog.Deref(it.CollectionName),
			humanize.Time(it.CreatedAt),
		})
	}
	aligns := []columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft}
	return renderTable(headers, rows, aligns)
}

func newRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "rm ID",
		Short: "Remove one item from the catalog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			lib, err := ctx.openLibrary()
			if err != nil {
				return err
			}
			defer lib.Close()

			if err := lib.svc.Remove(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", args[0])
			return nil
		},
	}
}

func newRemoveCollectionCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "rm-collection COLLECTION_ID",
		Short: "Remove every item of a collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			lib, err := ctx.openLibrary()
			if err != nil {
				return err
			}
			defer lib.Close()

			if err := lib.svc.RemoveCollection(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed collection %s\n", args[0])
			return nil
		},
	}
}
