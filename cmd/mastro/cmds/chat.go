package cmds

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/go-go-golems/mastro/pkg/chat"
	"github.com/go-go-golems/mastro/pkg/conversation"
	"github.com/go-go-golems/mastro/pkg/events"
	"github.com/go-go-golems/mastro/pkg/helpers"
	"github.com/go-go-golems/mastro/pkg/ui"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func NewChatCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat in the current conversation",
		Long: "Opens the full screen chat when attached to a terminal. Otherwise " +
			"every line read from stdin is sent as a message and the reply is printed.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			glamourStyle, _ := cmd.Flags().GetString("glamour-style")
			exportDir, _ := cmd.Flags().GetString("export-dir")
			plain, _ := cmd.Flags().GetBool("plain")

			isTerminal := isatty.IsTerminal(os.Stdout.Fd()) && isatty.IsTerminal(os.Stdin.Fd())
			if plain || !isTerminal {
				return runREPL(cmd.Context(), os.Stdin, os.Stdout)
			}
			return runTUI(cmd.Context(), glamourStyle, exportDir)
		},
	}
	cmd.Flags().String("glamour-style", "auto", "Markdown style for replies (auto, dark, light, notty)")
	cmd.Flags().String("export-dir", ".", "Directory ctrl+e exports are written to")
	cmd.Flags().Bool("plain", false, "Use the line based chat even on a terminal")
	return cmd
}

func runTUI(ctx context.Context, glamourStyle string, exportDir string) error {
	router, err := events.NewEventRouter(
		events.WithLogger(helpers.NewWatermill(log.Logger)),
	)
	if err != nil {
		return err
	}
	defer func() {
		_ = router.Close()
	}()

	app, err := NewApp(chat.WithEventSink(router.Sink()))
	if err != nil {
		return err
	}
	defer func() {
		_ = app.Close()
	}()

	model := ui.NewModel(app.Orchestrator, ui.Options{
		Renderer:  ui.NewGlamourRenderer(glamourStyle),
		ExportDir: exportDir,
	})
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithOutput(os.Stderr))
	router.AddEventHandler("ui", ui.ForwardEvents(p))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return router.Run(ctx)
	})
	eg.Go(func() error {
		return app.ServeMetrics(ctx)
	})
	eg.Go(func() error {
		defer cancel()
		<-router.Running()
		_, err := p.Run()
		return err
	})

	err = eg.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// runREPL sends every non empty line of r and writes the reply to w.
func runREPL(ctx context.Context, r io.Reader, w io.Writer) error {
	app, err := NewApp()
	if err != nil {
		return err
	}
	defer func() {
		_ = app.Close()
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		if err := app.ServeMetrics(ctx); err != nil {
			log.Error().Err(err).Msg("Metrics server stopped")
		}
	}()

	c := app.Orchestrator.Current(ctx)
	_, _ = fmt.Fprintf(w, "# %s\n", c.Title)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var conv *conversation.Conversation
		switch line {
		case "/quit", "/exit":
			return nil
		case "/retry":
			last, ok := app.Orchestrator.LastRetryable(ctx)
			if !ok {
				_, _ = fmt.Fprintln(w, "nothing to retry")
				continue
			}
			conv, err = app.Orchestrator.Retry(ctx, last.ID)
		case "/new":
			conv, err = app.Orchestrator.NewConversation(ctx)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(w, "# %s (%s)\n", conv.Title, conv.ID)
			continue
		default:
			conv, err = app.Orchestrator.Send(ctx, line)
		}
		if err != nil {
			return err
		}
		if last, ok := conv.LastMessage(); ok {
			printMessage(w, last, 80)
		}
	}
	return errors.Wrap(scanner.Err(), "reading input")
}

func printMessage(w io.Writer, msg *conversation.Message, width int) {
	_, _ = fmt.Fprintf(w, "[%s]: %s\n", msg.Sender, ui.WrapWords(msg.Text, width))
	if msg.IsRetryable() {
		_, _ = fmt.Fprintln(w, "(type /retry to try again)")
	}
}
