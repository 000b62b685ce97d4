package cmds

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/go-go-golems/mastro/pkg/conversation"
	"github.com/go-go-golems/mastro/pkg/export"
	"github.com/go-go-golems/mastro/pkg/ui"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func NewNewCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "new",
		Short: "Start a new conversation and make it current",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := NewApp()
			if err != nil {
				return err
			}
			defer func() {
				_ = app.Close()
			}()

			c, err := app.Orchestrator.NewConversation(cmd.Context())
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), c.ID)
			return err
		},
	}
}

func NewListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List conversations, most recently created first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := NewApp()
			if err != nil {
				return err
			}
			defer func() {
				_ = app.Close()
			}()

			ctx := cmd.Context()
			currentID, _ := app.Store.CurrentID(ctx)
			return writeConversationTable(cmd.OutOrStdout(), app.Store.List(ctx), currentID)
		},
	}
}

func writeConversationTable(w io.Writer, convs []*conversation.Conversation, currentID string) error {
	headerStyle := lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle := lipgloss.NewStyle().Padding(0, 1)

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("", "ID", "TITLE", "MESSAGES", "UPDATED").
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	for _, c := range convs {
		marker := ""
		if c.ID == currentID {
			marker = "*"
		}
		t.Row(
			marker,
			c.ID,
			c.Title,
			strconv.Itoa(len(c.Messages)),
			c.UpdatedAt.Local().Format(time.DateTime),
		)
	}
	_, err := fmt.Fprintln(w, t.Render())
	return err
}

func NewShowCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show [conversation-id]",
		Short: "Print a conversation, the current one by default",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := NewApp()
			if err != nil {
				return err
			}
			defer func() {
				_ = app.Close()
			}()

			id := ""
			if len(args) == 1 {
				id = args[0]
			}
			c, err := app.conversationFor(cmd.Context(), id)
			if err != nil {
				return err
			}

			width, _ := cmd.Flags().GetInt("width")
			style, _ := cmd.Flags().GetString("glamour-style")
			var renderer ui.Renderer = ui.PlainRenderer{}
			if isatty.IsTerminal(os.Stdout.Fd()) && style != "none" {
				renderer = ui.NewGlamourRenderer(style)
			}

			w := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(w, "# %s\n\n", c.Title)
			for _, msg := range c.Messages {
				if msg == nil {
					continue
				}
				_, err := fmt.Fprintln(w, renderer.Render(msg, width))
				if err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().Int("width", 80, "Wrap messages at this width")
	cmd.Flags().String("glamour-style", glamour.AutoStyle, "Markdown style for replies on a terminal, none to disable")
	return cmd
}

func NewSelectCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "select <conversation-id>",
		Short: "Make a conversation current",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := NewApp()
			if err != nil {
				return err
			}
			defer func() {
				_ = app.Close()
			}()

			c, err := app.Orchestrator.Select(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", c.ID, c.Title)
			return err
		},
	}
}

func NewExportCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export [conversation-id]",
		Short: "Export a conversation as JSON or YAML",
		Long: "Writes chat_<title>_<date>.<ext> to the current directory unless " +
			"--output names a file, or - for stdout.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			formatFlag, _ := cmd.Flags().GetString("format")
			output, _ := cmd.Flags().GetString("output")
			format, err := export.ParseFormat(formatFlag)
			if err != nil {
				return err
			}

			app, err := NewApp()
			if err != nil {
				return err
			}
			defer func() {
				_ = app.Close()
			}()

			id := ""
			if len(args) == 1 {
				id = args[0]
			}
			c, err := app.conversationFor(cmd.Context(), id)
			if err != nil {
				return err
			}
			doc := export.Build(c.Persistable(), time.Local)

			if output == "-" {
				return doc.Write(cmd.OutOrStdout(), format)
			}
			if output == "" {
				output = export.FileName(c, format, time.Now())
			}
			if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
				return errors.Wrapf(err, "could not create directory for %s", output)
			}
			f, err := os.Create(output)
			if err != nil {
				return errors.Wrap(err, "could not create export file")
			}
			if err := doc.Write(f, format); err != nil {
				_ = f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}

			log.Info().Str("path", output).Str("conversation", c.ID).Msg("Exported conversation")
			_, err = fmt.Fprintln(cmd.OutOrStdout(), output)
			return err
		},
	}
	cmd.Flags().StringP("format", "f", string(export.FormatJSON), "Export format (json, yaml)")
	cmd.Flags().StringP("output", "o", "", "Output file, - for stdout")
	return cmd
}
