package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/wuwenbin0122/wwb.chat/internal/models"
)

func newListCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List conversations, most recent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(a *app) error {
				printIndex(cmd.OutOrStdout(), a.repo.List())
				return nil
			})
		},
	}
}

func newShowCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Print every turn of a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(a *app) error {
				conv, ok := a.repo.Get(args[0])
				if !ok {
					return &models.NotFoundError{ID: args[0]}
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "# %s\n\n", conv.Title)
				for _, turn := range conv.Turns {
					fmt.Fprintf(out, "[%s] %s\n\n", turn.Role, turn.Content)
				}
				return nil
			})
		},
	}
}

func printIndex(out io.Writer, entries []models.IndexEntry) {
	if len(entries) == 0 {
		fmt.Fprintln(out, "no conversations yet")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tTURNS\tUPDATED")
	for _, entry := range entries {
		title := entry.Title
		if title == models.DefaultTitle && entry.Preview != "" {
			title = entry.Preview
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", entry.ID, title, entry.TurnCount, entry.UpdatedAt.Local().Format(time.DateTime))
	}
	_ = w.Flush()
}
