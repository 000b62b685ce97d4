package ui

import (
	"fmt"
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"
	"github.com/go-go-golems/mastro/pkg/conversation"
	"github.com/muesli/reflow/wordwrap"
	"github.com/rs/zerolog/log"
)

// Renderer turns a message body into terminal text at most width columns
// wide.
type Renderer interface {
	Render(msg *conversation.Message, width int) string
}

// PlainRenderer word-wraps the text and prefixes it with the sender.
type PlainRenderer struct{}

func (PlainRenderer) Render(msg *conversation.Message, width int) string {
	return WrapWords(msg.View(), width)
}

// GlamourRenderer renders assistant replies as markdown. User messages and
// error messages are wrapped plain text.
type GlamourRenderer struct {
	style string

	mu        sync.Mutex
	renderers map[int]*glamour.TermRenderer
}

// NewGlamourRenderer uses the given glamour style ("dark", "light",
// "notty"...). An empty style picks one from the terminal background.
func NewGlamourRenderer(style string) *GlamourRenderer {
	return &GlamourRenderer{
		style:     style,
		renderers: map[int]*glamour.TermRenderer{},
	}
}

func (g *GlamourRenderer) renderer(width int) (*glamour.TermRenderer, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if r, ok := g.renderers[width]; ok {
		return r, nil
	}
	styleOption := glamour.WithAutoStyle()
	if g.style != "" {
		styleOption = glamour.WithStandardStyle(g.style)
	}
	r, err := glamour.NewTermRenderer(styleOption, glamour.WithWordWrap(width))
	if err != nil {
		return nil, err
	}
	g.renderers[width] = r
	return r, nil
}

func (g *GlamourRenderer) Render(msg *conversation.Message, width int) string {
	if msg.IsUser() || msg.Error || msg.IsTyping {
		return PlainRenderer{}.Render(msg, width)
	}
	r, err := g.renderer(width)
	if err != nil {
		log.Warn().Err(err).Msg("Could not create markdown renderer")
		return PlainRenderer{}.Render(msg, width)
	}
	out, err := r.Render(msg.Text)
	if err != nil {
		log.Warn().Err(err).Str("message", msg.ID).Msg("Could not render markdown")
		return PlainRenderer{}.Render(msg, width)
	}
	return fmt.Sprintf("[%s]:\n%s", msg.Sender, strings.Trim(out, "\n"))
}

func WrapWords(s string, width int) string {
	if width <= 0 {
		return s
	}
	w := wordwrap.NewWriter(width)
	_, _ = w.Write([]byte(s))
	_ = w.Close()
	return w.String()
}
