// Command ask sends one question through a chat relay and prints the answer
// as it streams in.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/deepgram/chatrelay/internal/client"
	"github.com/deepgram/chatrelay/internal/config"
	"github.com/deepgram/chatrelay/internal/conversation"
	"github.com/deepgram/chatrelay/pkg/logger"
)

type askCommander struct {
	relay      string
	collection string
	session    string
	exportPath string
	debug      bool
}

const askLongDesc string = `Ask a question through a chat relay.

The answer is printed as tokens arrive. The session id the upstream hands
back is printed on stderr so a follow-up question can continue the same
conversation with --session.`

const askShortDesc string = "Ask a question through a chat relay"

func newAskCmd() *cobra.Command {
	cmder := &askCommander{}

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: askShortDesc,
		Long:  askLongDesc,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return cmder.run(ctx, strings.Join(args, " "), cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
		SilenceUsage: true,
	}

	cmd.Flags().StringVarP(&cmder.relay, "relay", "r", config.GetEnvOrDefault("RELAY_URL", "http://localhost:8080/api/chat"), "Relay chat endpoint")
	cmd.Flags().StringVarP(&cmder.collection, "collection", "c", config.GetEnvOrDefault("DEFAULT_COLLECTION", "39"), "Collection to query")
	cmd.Flags().StringVarP(&cmder.session, "session", "s", "", "Session id to continue")
	cmd.Flags().StringVarP(&cmder.exportPath, "export", "o", "", "Write the conversation as JSON to this file")
	cmd.Flags().BoolVarP(&cmder.debug, "debug", "d", false, "Enable debug logging")

	return cmd
}

func (c *askCommander) run(ctx context.Context, question string, stdout, stderr io.Writer) error {
	level := "warn"
	if c.debug {
		level = "debug"
	}
	logger.InitWithWriter(level, "console", stderr)

	store := conversation.NewStore()
	if c.session != "" {
		if err := store.Resume(conversation.DefaultConversationID, c.session); err != nil {
			return err
		}
	}

	printed := ""
	observe := func(msg conversation.Message) {
		switch {
		case strings.HasPrefix(msg.Content, printed):
			fmt.Fprint(stdout, msg.Content[len(printed):])
		default:
			// The reply was replaced rather than extended
			fmt.Fprint(stdout, "\n"+msg.Content)
		}
		printed = msg.Content
	}

	cl := client.New(c.relay, c.collection, store)
	_, askErr := cl.Ask(ctx, conversation.DefaultConversationID, question, observe)
	fmt.Fprintln(stdout)

	if session, err := store.SessionID(conversation.DefaultConversationID); err == nil && session != "" {
		fmt.Fprintf(stderr, "session: %s\n", session)
	}

	if c.exportPath != "" {
		data, err := store.Export(conversation.DefaultConversationID)
		if err != nil {
			return fmt.Errorf("export conversation: %w", err)
		}
		if err := os.WriteFile(c.exportPath, data, 0o644); err != nil {
			return fmt.Errorf("write export: %w", err)
		}
	}

	return askErr
}

func main() {
	if err := newAskCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
