package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "0.1.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type rootOptions struct {
	store   string
	gateway string
	verbose bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "chat",
		Short: "Terminal chat client for the wwb chat proxy",
		Long: `chat keeps your conversations and settings in a local store and talks
to the chat proxy server for completions, speech and images.

Examples:
  chat send "Hello"                 # start a new conversation
  chat send -c chat_123 "And then?" # continue one
  chat repl                         # interactive session
  chat list
  chat export chat_123 -o chat.json`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&opts.store, "store", "", "Store backend override (memory, bolt, sqlite, redis, mongo, postgres)")
	rootCmd.PersistentFlags().StringVar(&opts.gateway, "gateway", "", "Chat proxy base URL override")
	rootCmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(newSendCmd(opts))
	rootCmd.AddCommand(newReplCmd(opts))
	rootCmd.AddCommand(newListCmd(opts))
	rootCmd.AddCommand(newShowCmd(opts))
	rootCmd.AddCommand(newExportCmd(opts))
	rootCmd.AddCommand(newImportCmd(opts))
	rootCmd.AddCommand(newSettingsCmd(opts))
	rootCmd.AddCommand(newSpeakCmd(opts))
	rootCmd.AddCommand(newImageCmd(opts))
	rootCmd.AddCommand(newStatusCmd(opts))

	return rootCmd
}
