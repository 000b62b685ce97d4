package ui

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/go-go-golems/mastro/pkg/chat"
	"github.com/go-go-golems/mastro/pkg/conversation"
	"github.com/go-go-golems/mastro/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedDispatcher struct {
	replies []*conversation.Message
	calls   int
}

func (s *scriptedDispatcher) Dispatch(_ context.Context, _ *conversation.Message) *conversation.Message {
	r := s.replies[s.calls]
	s.calls++
	return r
}

// runCmd executes cmd and any batched commands, returning the messages.
func runCmd(cmd tea.Cmd) []tea.Msg {
	if cmd == nil {
		return nil
	}
	msg := cmd()
	if batch, ok := msg.(tea.BatchMsg); ok {
		var out []tea.Msg
		for _, c := range batch {
			out = append(out, runCmd(c)...)
		}
		return out
	}
	return []tea.Msg{msg}
}

func findSendDone(t *testing.T, msgs []tea.Msg) SendDoneMsg {
	for _, msg := range msgs {
		if done, ok := msg.(SendDoneMsg); ok {
			return done
		}
	}
	t.Fatal("no SendDoneMsg")
	return SendDoneMsg{}
}

func newTestModel(t *testing.T, replies ...*conversation.Message) (Model, *scriptedDispatcher) {
	d := &scriptedDispatcher{replies: replies}
	o := chat.NewOrchestrator(store.New(store.NewMemoryKV()), d)
	m := NewModel(o, Options{
		ExportDir: t.TempDir(),
		Now:       func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) },
	})
	updated, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 40})
	return updated.(Model), d
}

func update(m Model, msg tea.Msg) (Model, tea.Cmd) {
	updated, cmd := m.Update(msg)
	return updated.(Model), cmd
}

func submitText(t *testing.T, m Model, text string) Model {
	m.textArea.SetValue(text)
	m, cmd := update(m, tea.KeyMsg{Type: tea.KeyTab})
	assert.Equal(t, StateAwaitingReply, m.State())
	done := findSendDone(t, runCmd(cmd))
	m, _ = update(m, done)
	return m
}

func TestModel_SubmitShowsReply(t *testing.T) {
	m, d := newTestModel(t, conversation.NewAssistantMessage("hello!"))

	m = submitText(t, m, "hi")

	assert.Equal(t, 1, d.calls)
	assert.Equal(t, StateUserInput, m.State())
	require.Len(t, m.Conversation().Messages, 2)
	assert.Equal(t, "hi", m.Conversation().Title)
	assert.Contains(t, m.View(), "hello!")
	assert.Empty(t, m.textArea.Value())
}

func TestModel_EmptySubmitIsIgnored(t *testing.T) {
	m, d := newTestModel(t)
	m.textArea.SetValue("   ")
	m, cmd := update(m, tea.KeyMsg{Type: tea.KeyTab})
	assert.Empty(t, runCmd(cmd))
	assert.Equal(t, 0, d.calls)
	assert.Equal(t, StateUserInput, m.State())
}

func TestModel_RetryFailedReply(t *testing.T) {
	m, d := newTestModel(t,
		conversation.NewErrorMessage("Request timed out. Please try again.", false),
		conversation.NewAssistantMessage("made it"),
	)

	m = submitText(t, m, "slow question")
	assert.Contains(t, m.View(), "ctrl+r to retry")

	m, cmd := update(m, tea.KeyMsg{Type: tea.KeyCtrlR})
	assert.Equal(t, StateAwaitingReply, m.State())
	m, _ = update(m, findSendDone(t, runCmd(cmd)))

	assert.Equal(t, 2, d.calls)
	msgs := m.Conversation().Messages
	require.Len(t, msgs, 3)
	assert.Equal(t, "made it", msgs[2].Text)
	for _, msg := range msgs {
		assert.False(t, msg.Error)
	}
}

func TestModel_RetryWithoutFailureDoesNothing(t *testing.T) {
	m, d := newTestModel(t, conversation.NewAssistantMessage("fine"))
	m = submitText(t, m, "hi")

	m, cmd := update(m, tea.KeyMsg{Type: tea.KeyCtrlR})
	assert.Empty(t, runCmd(cmd))
	assert.Equal(t, 1, d.calls)
	assert.Equal(t, StateUserInput, m.State())
}

func TestModel_NewAndSwitchConversation(t *testing.T) {
	m, _ := newTestModel(t, conversation.NewAssistantMessage("a"))
	m = submitText(t, m, "first")
	firstID := m.Conversation().ID

	m, _ = update(m, tea.KeyMsg{Type: tea.KeyCtrlN})
	assert.Equal(t, conversation.DefaultTitle, m.Conversation().Title)
	assert.NotEqual(t, firstID, m.Conversation().ID)

	m, _ = update(m, tea.KeyMsg{Type: tea.KeyCtrlDown})
	assert.Equal(t, firstID, m.Conversation().ID)
}

func TestModel_Export(t *testing.T) {
	m, _ := newTestModel(t, conversation.NewAssistantMessage("exported"))
	m = submitText(t, m, "export me")

	_, cmd := update(m, tea.KeyMsg{Type: tea.KeyCtrlE})
	msgs := runCmd(cmd)
	var status statusMsg
	for _, msg := range msgs {
		if s, ok := msg.(statusMsg); ok {
			status = s
		}
	}
	require.NotEmpty(t, status)

	path := filepath.Join(m.exportDir, "chat_export me_2024-05-01.json")
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"text": "exported"`)
}

func TestModel_EventRefreshesTypingPlaceholder(t *testing.T) {
	m, _ := newTestModel(t)
	c := m.Conversation()
	c.AppendTyping()
	m.conversation = c
	m.state = StateAwaitingReply
	m.refresh(true)
	assert.Contains(t, m.messageView(), "[assistant]: ")
}
