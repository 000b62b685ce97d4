package cmds

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-go-golems/mastro/pkg/chat"
	"github.com/go-go-golems/mastro/pkg/conversation"
	"github.com/go-go-golems/mastro/pkg/events"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

// sendResult is what send and retry print with --output json or yaml.
type sendResult struct {
	ConversationID string `json:"conversation_id" yaml:"conversation_id"`
	Title          string `json:"title" yaml:"title"`
	MessageID      string `json:"message_id" yaml:"message_id"`
	Text           string `json:"text" yaml:"text"`
	Error          bool   `json:"error" yaml:"error"`
	Retryable      bool   `json:"retryable" yaml:"retryable"`
}

func addSendFlags(cmd *cobra.Command) {
	cmd.Flags().Bool("print-events", false, "Print chat events to stderr while sending")
	cmd.Flags().StringP("output", "o", "text", "Output format (text, json, yaml)")
}

func NewSendCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send [message...]",
		Short: "Send a message in the current conversation and print the reply",
		Long:  "The message is taken from the arguments, or from stdin if there are none.",
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			if len(args) == 0 {
				b, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return errors.Wrap(err, "reading message from stdin")
				}
				text = string(b)
			}
			newConversation, _ := cmd.Flags().GetBool("new")

			return runWithOrchestrator(cmd, func(ctx context.Context, o *chat.Orchestrator) (*conversation.Conversation, error) {
				if newConversation {
					if _, err := o.NewConversation(ctx); err != nil {
						return nil, err
					}
				}
				return o.Send(ctx, text)
			})
		},
	}
	addSendFlags(cmd)
	cmd.Flags().Bool("new", false, "Start a new conversation first")
	return cmd
}

func NewRetryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "retry [message-id]",
		Short: "Retry a failed reply of the current conversation",
		Long:  "Without an id, the most recent retryable error reply is retried.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithOrchestrator(cmd, func(ctx context.Context, o *chat.Orchestrator) (*conversation.Conversation, error) {
				if len(args) == 1 {
					return o.Retry(ctx, args[0])
				}
				last, ok := o.LastRetryable(ctx)
				if !ok {
					return nil, errors.Wrap(chat.ErrNotRetryable, "no failed reply to retry")
				}
				return o.Retry(ctx, last.ID)
			})
		},
	}
	addSendFlags(cmd)
	return cmd
}

// runWithOrchestrator runs f against a fresh app. With --print-events the
// chat events go through an event router that dumps them to stderr.
func runWithOrchestrator(
	cmd *cobra.Command,
	f func(ctx context.Context, o *chat.Orchestrator) (*conversation.Conversation, error),
) error {
	printEvents, _ := cmd.Flags().GetBool("print-events")
	output, _ := cmd.Flags().GetString("output")
	verbose := viper.GetBool("verbose")
	switch output {
	case "text", "json", "yaml":
	default:
		return errors.Errorf("unknown output format %q", output)
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	var options []chat.Option
	var router *events.EventRouter
	if printEvents {
		var err error
		router, err = events.NewEventRouter(events.WithVerbose(verbose))
		if err != nil {
			return err
		}
		defer func() {
			_ = router.Close()
		}()
		router.AddHandler("dump", events.TopicChat, router.DumpRawEvents(os.Stderr))
		options = append(options, chat.WithEventSink(router.Sink()))
	}

	app, err := NewApp(options...)
	if err != nil {
		return err
	}
	defer func() {
		_ = app.Close()
	}()

	eg, ctx := errgroup.WithContext(ctx)
	if router != nil {
		eg.Go(func() error {
			return router.Run(ctx)
		})
	}
	eg.Go(func() error {
		return app.ServeMetrics(ctx)
	})

	var result *conversation.Conversation
	eg.Go(func() error {
		defer cancel()
		if router != nil {
			<-router.Running()
		}
		c, err := f(ctx, app.Orchestrator)
		if err != nil {
			return err
		}
		result = c
		return nil
	})

	if err := eg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	if result == nil {
		return nil
	}

	last, ok := result.LastMessage()
	if !ok {
		return nil
	}
	log.Debug().Str("conversation", result.ID).Str("message", last.ID).Msg("Reply received")
	return writeResult(cmd.OutOrStdout(), output, result, last)
}

func writeResult(w io.Writer, output string, c *conversation.Conversation, msg *conversation.Message) error {
	r := sendResult{
		ConversationID: c.ID,
		Title:          c.Title,
		MessageID:      msg.ID,
		Text:           msg.Text,
		Error:          msg.Error,
		Retryable:      msg.IsRetryable(),
	}
	switch output {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(r); err != nil {
			return err
		}
		return enc.Close()
	default:
		if msg.Error {
			_, err := fmt.Fprintf(w, "error: %s\n", msg.Text)
			if err == nil && msg.IsRetryable() {
				_, err = fmt.Fprintf(w, "run `mastro retry %s` to try again\n", msg.ID)
			}
			return err
		}
		_, err := fmt.Fprintln(w, msg.Text)
		return err
	}
}
