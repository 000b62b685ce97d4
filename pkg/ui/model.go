package ui

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/go-go-golems/mastro/pkg/chat"
	"github.com/go-go-golems/mastro/pkg/conversation"
	"github.com/go-go-golems/mastro/pkg/events"
	"github.com/go-go-golems/mastro/pkg/export"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

type State string

const (
	StateUserInput     State = "user_input"
	StateMovingAround  State = "moving_around"
	StateAwaitingReply State = "awaiting_reply"
	StateError         State = "error"
)

// EventMsg carries a chat event into the bubbletea loop.
type EventMsg struct {
	Event *events.Event
}

// SendDoneMsg is returned by the command running a send or retry.
type SendDoneMsg struct {
	Conversation *conversation.Conversation
	Err          error
}

type errMsg error

type statusMsg string

type Options struct {
	Renderer  Renderer
	ExportDir string
	// Now is used for export file names.
	Now func() time.Time
}

type Model struct {
	orchestrator *chat.Orchestrator
	renderer     Renderer
	exportDir    string
	now          func() time.Time

	viewport viewport.Model
	textArea textarea.Model
	spinner  spinner.Model
	help     help.Model

	conversation *conversation.Conversation
	selectedIdx  int
	state        State
	err          error
	status       string
	keyMap       KeyMap

	style  *Style
	width  int
	height int

	cancelSend context.CancelFunc
}

func NewModel(o *chat.Orchestrator, opts Options) Model {
	if opts.Renderer == nil {
		opts.Renderer = PlainRenderer{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	ret := Model{
		orchestrator: o,
		renderer:     opts.Renderer,
		exportDir:    opts.ExportDir,
		now:          opts.Now,
		style:        DefaultStyles(),
		keyMap:       DefaultKeyMap,
		viewport:     viewport.New(0, 0),
		spinner:      spinner.New(spinner.WithSpinner(spinner.Dot)),
		help:         help.New(),
	}

	ret.textArea = textarea.New()
	ret.textArea.Placeholder = "Type a message..."
	ret.textArea.Focus()
	ret.state = StateUserInput

	ret.conversation = o.Current(context.Background())
	ret.selectedIdx = len(ret.conversation.Messages) - 1

	ret.updateKeyBindings()

	return ret
}

func (m Model) Init() tea.Cmd {
	return textarea.Blink
}

func (m Model) State() State {
	return m.state
}

func (m Model) Conversation() *conversation.Conversation {
	return m.conversation
}

func (m Model) Err() error {
	return m.err
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keyMap.Quit):
			if m.cancelSend != nil {
				m.cancelSend()
			}
			return m, tea.Quit

		case key.Matches(msg, m.keyMap.DismissError):
			m.err = nil
			m.state = StateUserInput
			cmds = append(cmds, m.textArea.Focus())
			m.updateKeyBindings()

		case key.Matches(msg, m.keyMap.UnfocusMessage):
			m.textArea.Blur()
			m.state = StateMovingAround
			m.selectedIdx = len(m.conversation.Messages) - 1
			m.updateKeyBindings()
			m.refresh(false)

		case key.Matches(msg, m.keyMap.FocusMessage):
			cmds = append(cmds, m.textArea.Focus())
			m.state = StateUserInput
			m.updateKeyBindings()
			m.refresh(true)

		case key.Matches(msg, m.keyMap.SelectNextMessage):
			if m.selectedIdx < len(m.conversation.Messages)-1 {
				m.selectedIdx++
				m.refresh(false)
			}

		case key.Matches(msg, m.keyMap.SelectPrevMessage):
			if m.selectedIdx > 0 {
				m.selectedIdx--
				m.refresh(false)
			}

		case key.Matches(msg, m.keyMap.SubmitMessage):
			cmds = append(cmds, m.submit())

		case key.Matches(msg, m.keyMap.RetryMessage):
			cmds = append(cmds, m.retry())

		case key.Matches(msg, m.keyMap.NewConversation):
			c, err := m.orchestrator.NewConversation(context.Background())
			if err != nil {
				return m, m.setError(err)
			}
			m.setConversation(c)

		case key.Matches(msg, m.keyMap.PrevConversation):
			cmds = append(cmds, m.switchConversation(-1))

		case key.Matches(msg, m.keyMap.NextConversation):
			cmds = append(cmds, m.switchConversation(1))

		case key.Matches(msg, m.keyMap.Export):
			cmds = append(cmds, m.exportConversation())

		case key.Matches(msg, m.keyMap.Help):
			m.help.ShowAll = !m.help.ShowAll
			m.recomputeSize()

		default:
			switch m.state {
			case StateUserInput:
				m.textArea, cmd = m.textArea.Update(msg)
				cmds = append(cmds, cmd)
			case StateMovingAround, StateAwaitingReply, StateError:
				m.viewport, cmd = m.viewport.Update(msg)
				cmds = append(cmds, cmd)
			}
		}
		return m, tea.Batch(cmds...)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.recomputeSize()

	case EventMsg:
		if msg.Event != nil && msg.Event.ConversationID == m.conversation.ID {
			if v := m.orchestrator.View(); v != nil && v.ID == m.conversation.ID {
				m.conversation = v
				m.selectedIdx = len(v.Messages) - 1
			}
			m.refresh(true)
		}

	case SendDoneMsg:
		m.cancelSend = nil
		if msg.Err != nil {
			cmds = append(cmds, m.setError(msg.Err))
			break
		}
		m.setConversation(msg.Conversation)
		m.state = StateUserInput
		cmds = append(cmds, m.textArea.Focus())
		m.updateKeyBindings()
		if last, ok := msg.Conversation.LastMessage(); ok && last.IsRetryable() {
			m.status = "reply failed, press ctrl+r to retry"
		}

	case spinner.TickMsg:
		if m.state == StateAwaitingReply {
			m.spinner, cmd = m.spinner.Update(msg)
			cmds = append(cmds, cmd)
			m.refresh(true)
		}

	case statusMsg:
		m.status = string(msg)

	case errMsg:
		cmds = append(cmds, m.setError(msg))
	}

	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

func (m *Model) updateKeyBindings() {
	m.keyMap.SelectNextMessage.SetEnabled(m.state == StateMovingAround)
	m.keyMap.SelectPrevMessage.SetEnabled(m.state == StateMovingAround)
	m.keyMap.FocusMessage.SetEnabled(m.state == StateMovingAround)
	m.keyMap.UnfocusMessage.SetEnabled(m.state == StateUserInput)
	m.keyMap.SubmitMessage.SetEnabled(m.state == StateUserInput)
	m.keyMap.DismissError.SetEnabled(m.state == StateError)

	idle := m.state == StateUserInput || m.state == StateMovingAround
	m.keyMap.RetryMessage.SetEnabled(idle)
	m.keyMap.NewConversation.SetEnabled(idle)
	m.keyMap.PrevConversation.SetEnabled(idle)
	m.keyMap.NextConversation.SetEnabled(idle)
	m.keyMap.Export.SetEnabled(m.state != StateAwaitingReply)
}

func (m *Model) setConversation(c *conversation.Conversation) {
	m.conversation = c
	m.selectedIdx = len(c.Messages) - 1
	m.status = ""
	m.recomputeSize()
}

func (m *Model) setError(err error) tea.Cmd {
	m.err = err
	m.state = StateError
	m.textArea.Blur()
	m.updateKeyBindings()
	m.recomputeSize()
	return nil
}

// startSend runs f in a command and switches into the awaiting state. The
// conversation view is refreshed by the chat events, and once more by the
// SendDoneMsg.
func (m *Model) startSend(f func(ctx context.Context) (*conversation.Conversation, error)) tea.Cmd {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancelSend = cancel
	m.state = StateAwaitingReply
	m.status = ""
	m.textArea.Blur()
	m.updateKeyBindings()
	m.refresh(true)

	return tea.Batch(
		func() tea.Msg {
			defer cancel()
			c, err := f(ctx)
			return SendDoneMsg{Conversation: c, Err: err}
		},
		m.spinner.Tick,
	)
}

func (m *Model) submit() tea.Cmd {
	text := m.textArea.Value()
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if m.orchestrator.InFlight() {
		return m.setError(chat.ErrSendInFlight)
	}
	m.textArea.SetValue("")
	return m.startSend(func(ctx context.Context) (*conversation.Conversation, error) {
		return m.orchestrator.Send(ctx, text)
	})
}

func (m *Model) retry() tea.Cmd {
	var target *conversation.Message
	if m.state == StateMovingAround && m.selectedIdx >= 0 && m.selectedIdx < len(m.conversation.Messages) {
		target = m.conversation.Messages[m.selectedIdx]
	} else if msg, ok := m.orchestrator.LastRetryable(context.Background()); ok {
		target = msg
	}
	if target == nil || !target.IsRetryable() {
		m.status = "nothing to retry"
		return nil
	}
	id := target.ID
	return m.startSend(func(ctx context.Context) (*conversation.Conversation, error) {
		return m.orchestrator.Retry(ctx, id)
	})
}

func (m *Model) switchConversation(delta int) tea.Cmd {
	ctx := context.Background()
	list := m.orchestrator.List(ctx)
	if len(list) == 0 {
		return nil
	}
	idx := 0
	for i, c := range list {
		if c.ID == m.conversation.ID {
			idx = i
			break
		}
	}
	idx += delta
	if idx < 0 || idx >= len(list) {
		return nil
	}
	c, err := m.orchestrator.Select(ctx, list[idx].ID)
	if err != nil {
		return m.setError(err)
	}
	m.setConversation(c)
	return nil
}

func (m *Model) exportConversation() tea.Cmd {
	c := m.conversation.Persistable()
	now := m.now()
	dir := m.exportDir
	return func() tea.Msg {
		path := filepath.Join(dir, export.FileName(c, export.FormatJSON, now))
		f, err := os.Create(path)
		if err != nil {
			return errMsg(errors.Wrap(err, "could not create export file"))
		}
		defer func() {
			_ = f.Close()
		}()
		if err := export.Build(c, nil).Write(f, export.FormatJSON); err != nil {
			return errMsg(err)
		}
		log.Info().Str("path", path).Str("conversation", c.ID).Msg("Exported conversation")
		return statusMsg("exported to " + path)
	}
}

func (m *Model) recomputeSize() {
	headerHeight := lipgloss.Height(m.headerView())
	textAreaHeight := lipgloss.Height(m.textAreaView())
	helpViewHeight := lipgloss.Height(m.help.View(m.keyMap))

	newHeight := m.height - textAreaHeight - headerHeight - helpViewHeight - 1
	if newHeight < 0 {
		newHeight = 0
	}
	m.viewport.Width = m.width
	m.viewport.Height = newHeight
	m.viewport.YPosition = headerHeight + 1

	h, _ := m.style.FocusedMessage.GetFrameSize()
	if m.width-h > 0 {
		m.textArea.SetWidth(m.width - h)
	}
	m.help.Width = m.width

	m.refresh(true)
}

func (m *Model) refresh(gotoBottom bool) {
	m.viewport.SetContent(m.messageView())
	if gotoBottom {
		m.viewport.GotoBottom()
	}
}

func (m Model) headerView() string {
	title := m.conversation.Title
	if m.status != "" {
		return m.style.Header.Render(title) + "  " + m.style.Status.Render(m.status)
	}
	return m.style.Header.Render(title)
}

func (m Model) messageView() string {
	var sb strings.Builder
	w, _ := m.style.SelectedMessage.GetFrameSize()
	width := m.width - w
	if width <= 0 {
		width = 80
	}

	for idx, msg := range m.conversation.Messages {
		if msg == nil {
			continue
		}
		var v string
		if msg.IsTyping {
			v = fmt.Sprintf("[%s]: %s", msg.Sender, m.spinner.View())
		} else {
			v = m.renderer.Render(msg, width)
		}

		style := m.style.UnselectedMessage
		switch {
		case idx == m.selectedIdx && m.state == StateMovingAround:
			style = m.style.SelectedMessage
		case msg.Error:
			style = m.style.ErrorMessage
		}
		if msg.IsRetryable() {
			v += "\n" + m.style.Status.Render("ctrl+r to retry")
		}
		sb.WriteString(style.Render(v))
		sb.WriteString("\n")
	}

	return sb.String()
}

func (m Model) textAreaView() string {
	if m.err != nil {
		w, _ := m.style.ErrorMessage.GetFrameSize()
		v := WrapWords(m.err.Error(), m.width-w)
		return m.style.ErrorMessage.Render(v)
	}

	v := m.textArea.View()
	switch m.state {
	case StateUserInput:
		v = m.style.FocusedMessage.Render(v)
	case StateMovingAround, StateAwaitingReply, StateError:
		v = m.style.UnselectedMessage.Render(v)
	}

	return v
}

func (m Model) View() string {
	return m.headerView() + "\n" + m.viewport.View() + "\n" + m.textAreaView() + "\n" + m.help.View(m.keyMap)
}

// ForwardEvents returns an event handler that hands chat events to p.
func ForwardEvents(p *tea.Program) events.EventHandler {
	return func(_ context.Context, e *events.Event) error {
		p.Send(EventMsg{Event: e})
		return nil
	}
}
