package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wuwenbin0122/wwb.chat/internal/conversation"
	"github.com/wuwenbin0122/wwb.chat/internal/models"
)

func newSettingsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or change completion settings",
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the current settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(a *app) error {
				return printSettings(cmd, a.settings.Get())
			})
		},
	}

	var (
		model        string
		temperature  float64
		maxTokens    int
		instructions string
		theme        string
	)

	setCmd := &cobra.Command{
		Use:   "set",
		Short: "Change one or more settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			return withApp(cmd.Context(), opts, func(a *app) error {
				err := a.settings.Update(cmd.Context(), func(s *models.Settings) {
					if flags.Changed("model") {
						s.Model = model
					}
					if flags.Changed("temperature") {
						s.Temperature = temperature
					}
					if flags.Changed("max-tokens") {
						s.MaxTokens = maxTokens
					}
					if flags.Changed("instructions") {
						s.SystemInstructions = instructions
					}
					if flags.Changed("theme") {
						s.Theme = models.Theme(theme)
					}
				})
				if err != nil && !conversation.IsPersistence(err) {
					return err
				}
				if err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", err)
				}
				return printSettings(cmd, a.settings.Get())
			})
		},
	}

	setCmd.Flags().StringVar(&model, "model", "", "Completion model")
	setCmd.Flags().Float64Var(&temperature, "temperature", models.DefaultTemperature, "Sampling temperature (0-2)")
	setCmd.Flags().IntVar(&maxTokens, "max-tokens", models.DefaultMaxTokens, "Maximum tokens per reply")
	setCmd.Flags().StringVar(&instructions, "instructions", "", "Custom system instructions (empty to clear)")
	setCmd.Flags().StringVar(&theme, "theme", string(models.ThemeLight), "Theme: light or dark")

	cmd.AddCommand(showCmd, setCmd)
	return cmd
}

func printSettings(cmd *cobra.Command, settings models.Settings) error {
	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return err
}
