package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wuwenbin0122/wwb.chat/internal/conversation"
)

const replHelp = `commands:
  /new          start a new conversation
  /list         list conversations
  /open <id>    switch to a conversation
  /speak <file> save the last reply as mp3
  /exit         quit`

func newReplCmd(opts *rootOptions) *cobra.Command {
	var conversationID string

	cmd := &cobra.Command{
		Use:   "repl",
		Short: "Interactive chat session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(a *app) error {
				return runRepl(cmd, a, conversationID)
			})
		},
	}

	cmd.Flags().StringVarP(&conversationID, "conversation", "c", "", "Conversation id to continue")
	return cmd
}

func runRepl(cmd *cobra.Command, a *app, current string) error {
	in := bufio.NewScanner(cmd.InOrStdin())
	in.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	out := cmd.OutOrStdout()

	fmt.Fprintln(out, "type /help for commands")
	for {
		fmt.Fprint(out, "> ")
		if !in.Scan() {
			fmt.Fprintln(out)
			return in.Err()
		}

		line := strings.TrimSpace(in.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			fields := strings.Fields(line)
			switch fields[0] {
			case "/exit", "/quit":
				return nil
			case "/help":
				fmt.Fprintln(out, replHelp)
			case "/new":
				current = ""
				fmt.Fprintln(out, "new conversation")
			case "/list":
				printIndex(out, a.repo.List())
			case "/open":
				if len(fields) < 2 {
					fmt.Fprintln(out, "usage: /open <id>")
					continue
				}
				if _, ok := a.repo.Get(fields[1]); !ok {
					fmt.Fprintf(out, "no conversation %s\n", fields[1])
					continue
				}
				current = fields[1]
			case "/speak":
				if len(fields) < 2 || current == "" {
					fmt.Fprintln(out, "usage: /speak <file> (inside a conversation)")
					continue
				}
				if err := speakToFile(cmd, a, current, "", fields[1]); err != nil {
					fmt.Fprintf(out, "error: %v\n", err)
				}
			default:
				fmt.Fprintf(out, "unknown command %s\n", fields[0])
			}
			continue
		}

		result := a.controller.SendUserMessage(cmd.Context(), current, line)
		current = result.ConversationID
		printOutcome(out, result)
	}
}

func printOutcome(out io.Writer, result conversation.Outcome) {
	for _, warning := range result.Warnings {
		fmt.Fprintf(out, "warning: %v\n", warning)
	}
	if result.OK() {
		fmt.Fprintln(out, result.Reply)
		return
	}
	fmt.Fprintf(out, "error: %v\n", result.Err)
}
