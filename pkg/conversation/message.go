package conversation

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
)

// TypingID is the fixed id of the typing placeholder. There is at most one
// placeholder per conversation, so the id never collides with a real message.
const TypingID = "typing"

// Message is a single entry of a conversation.
//
// Error and IsFinal only ever appear on assistant messages. An error message
// without IsFinal can be retried by the user, one with IsFinal cannot.
// IsTyping marks the transient placeholder shown while a reply is pending; it
// only lives in UI state and is stripped before anything is persisted.
type Message struct {
	ID        string    `json:"id" yaml:"id"`
	Text      string    `json:"text" yaml:"text"`
	Sender    Sender    `json:"sender" yaml:"sender"`
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
	Error     bool      `json:"error,omitempty" yaml:"error,omitempty"`
	IsFinal   bool      `json:"isFinal,omitempty" yaml:"isFinal,omitempty"`
	IsTyping  bool      `json:"isTyping,omitempty" yaml:"isTyping,omitempty"`
}

type MessageOption func(*Message)

func WithID(id string) MessageOption {
	return func(m *Message) {
		m.ID = id
	}
}

func WithTimestamp(t time.Time) MessageOption {
	return func(m *Message) {
		m.Timestamp = t
	}
}

func NewMessage(sender Sender, text string, options ...MessageOption) *Message {
	ret := &Message{
		ID:        NewID(),
		Text:      text,
		Sender:    sender,
		Timestamp: time.Now().UTC(),
	}

	for _, option := range options {
		option(ret)
	}

	return ret
}

func NewUserMessage(text string, options ...MessageOption) *Message {
	return NewMessage(SenderUser, text, options...)
}

func NewAssistantMessage(text string, options ...MessageOption) *Message {
	return NewMessage(SenderAssistant, text, options...)
}

// NewErrorMessage builds a terminal error reply. Terminal replies are never
// retried automatically; final additionally hides the manual retry.
func NewErrorMessage(text string, final bool, options ...MessageOption) *Message {
	ret := NewMessage(SenderAssistant, text, options...)
	ret.Error = true
	ret.IsFinal = final
	return ret
}

func NewTypingMessage() *Message {
	return &Message{
		ID:        TypingID,
		Sender:    SenderAssistant,
		Timestamp: time.Now().UTC(),
		IsTyping:  true,
	}
}

func NewID() string {
	return uuid.NewString()
}

func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	ret := *m
	return &ret
}

func (m *Message) IsRetryable() bool {
	return m.Error && !m.IsFinal
}

func (m *Message) IsUser() bool {
	return m.Sender == SenderUser
}

func (m *Message) String() string {
	return m.Text
}

func (m *Message) View() string {
	text := m.Text
	if m.IsTyping {
		text = "…"
	}
	// a leading code fence needs its own line to stay valid markdown
	if strings.HasPrefix(text, "```") {
		text = "\n" + text
	}
	return fmt.Sprintf("[%s]: %s", m.Sender, strings.TrimRight(text, "\n"))
}
