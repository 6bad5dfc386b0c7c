package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newSendCmd(opts *rootOptions) *cobra.Command {
	var conversationID string

	cmd := &cobra.Command{
		Use:   "send [message]",
		Short: "Send one message and print the reply",
		Long:  `Send a message to a conversation. Without --conversation a new conversation is started and its id is printed.`,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := joinArgs(args)
			return withApp(cmd.Context(), opts, func(a *app) error {
				out := a.controller.SendUserMessage(cmd.Context(), conversationID, text)
				for _, warning := range out.Warnings {
					fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", warning)
				}
				if !out.OK() {
					return fmt.Errorf("%s: %w", out.State, out.Err)
				}

				fmt.Fprintln(cmd.OutOrStdout(), out.Reply)
				if conversationID == "" {
					fmt.Fprintf(cmd.ErrOrStderr(), "conversation: %s\n", out.ConversationID)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&conversationID, "conversation", "c", "", "Conversation id to continue")
	return cmd
}

func joinArgs(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}
