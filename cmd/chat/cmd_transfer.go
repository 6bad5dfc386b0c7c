package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newExportCmd(opts *rootOptions) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "export <id>",
		Short: "Export a conversation as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(a *app) error {
				data, err := a.repo.Export(args[0], a.settings.Get().Model)
				if err != nil {
					return err
				}
				if output == "" || output == "-" {
					_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
					return err
				}
				if err := os.WriteFile(output, data, 0o644); err != nil {
					return fmt.Errorf("write %s: %w", output, err)
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "exported to %s\n", output)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default: stdout)")
	return cmd
}

func newImportCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Import a conversation exported by this client",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read %s: %w", args[0], err)
			}

			return withApp(cmd.Context(), opts, func(a *app) error {
				conv, err := a.repo.Import(cmd.Context(), data)
				if err != nil && conv.ID == "" {
					return err
				}
				if err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "imported %s (%s, %d messages)\n", conv.ID, conv.Title, len(conv.Turns))
				return nil
			})
		},
	}
}
