package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/wuwenbin0122/wwb.chat/internal/gateway"
)

func newSpeakCmd(opts *rootOptions) *cobra.Command {
	var (
		voice  string
		output string
	)

	cmd := &cobra.Command{
		Use:   "speak <id>",
		Short: "Save the last reply of a conversation as speech",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(a *app) error {
				return speakToFile(cmd, a, args[0], voice, output)
			})
		},
	}

	cmd.Flags().StringVar(&voice, "voice", gateway.DefaultVoice, "Voice name")
	cmd.Flags().StringVarP(&output, "output", "o", "reply.mp3", "Output mp3 file")
	return cmd
}

func speakToFile(cmd *cobra.Command, a *app, conversationID, voice, output string) error {
	audio, err := a.controller.SpeakLast(cmd.Context(), conversationID, voice)
	if err != nil {
		return err
	}
	if err := os.WriteFile(output, audio, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", output, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "saved %d bytes to %s\n", len(audio), output)
	return nil
}

func newImageCmd(opts *rootOptions) *cobra.Command {
	var (
		size string
		n    int
	)

	cmd := &cobra.Command{
		Use:   "image <prompt>",
		Short: "Generate images and print their URLs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt := joinArgs(args)
			return withApp(cmd.Context(), opts, func(a *app) error {
				urls, err := a.gateway.GenerateImage(cmd.Context(), prompt, size, n)
				if err != nil {
					return err
				}
				for _, url := range urls {
					fmt.Fprintln(cmd.OutOrStdout(), url)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&size, "size", gateway.DefaultImageSize, "Image size, e.g. 1024x1024")
	cmd.Flags().IntVarP(&n, "count", "n", 1, "Number of images")
	return cmd
}

func newStatusCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check that the chat proxy is reachable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(a *app) error {
				if err := a.gateway.Ping(cmd.Context()); err != nil {
					return fmt.Errorf("proxy at %s is unavailable: %w", a.cfg.Gateway.BaseURL, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "proxy at %s is online\n", a.cfg.Gateway.BaseURL)
				return nil
			})
		},
	}
}
