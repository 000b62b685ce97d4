// Package conversation holds the data model of the chat client.
//
// A Conversation is a titled, timestamped and ordered list of messages that is
// persisted as one unit. Insertion order is chronological order. The only
// message that is ever removed by the application itself is the typing
// placeholder, which is appended while a reply is pending and replaced by the
// reply once it arrives.
package conversation

import (
	"time"
	"unicode/utf8"

	"github.com/huandu/go-clone"
)

const (
	DefaultTitle = "New Chat"
	// TitleMaxLength is counted in runes.
	TitleMaxLength = 30
	titleEllipsis  = "..."
)

type Conversation struct {
	ID        string     `json:"id" yaml:"id"`
	Title     string     `json:"title" yaml:"title"`
	Messages  []*Message `json:"messages" yaml:"messages"`
	CreatedAt time.Time  `json:"createdAt" yaml:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt" yaml:"updatedAt"`
}

func NewConversation() *Conversation {
	now := time.Now().UTC()
	return &Conversation{
		ID:        NewID(),
		Title:     DefaultTitle,
		Messages:  []*Message{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// DeriveTitle returns the first TitleMaxLength runes of text, with an
// ellipsis appended if anything was cut off.
func DeriveTitle(text string) string {
	if utf8.RuneCountInString(text) <= TitleMaxLength {
		return text
	}
	runes := []rune(text)
	return string(runes[:TitleMaxLength]) + titleEllipsis
}

func (c *Conversation) Clone() *Conversation {
	if c == nil {
		return nil
	}
	return clone.Clone(c).(*Conversation)
}

func (c *Conversation) Touch() {
	c.UpdatedAt = time.Now().UTC()
}

// HasUserMessage reports whether any user message has been appended yet.
func (c *Conversation) HasUserMessage() bool {
	for _, m := range c.Messages {
		if m != nil && m.IsUser() {
			return true
		}
	}
	return false
}

// AppendUserMessage appends msg and, if it is the first user message of a
// conversation that still has the default title, derives the title from it.
// A title that was set once is never overwritten.
func (c *Conversation) AppendUserMessage(msg *Message) {
	first := !c.HasUserMessage()
	c.Messages = append(c.Messages, msg)
	if first && c.Title == DefaultTitle && msg.Text != "" {
		c.Title = DeriveTitle(msg.Text)
	}
	c.Touch()
}

// AppendTyping adds the typing placeholder as last element. Any previous
// placeholder is dropped first so there is never more than one.
func (c *Conversation) AppendTyping() *Message {
	c.RemoveTyping()
	typing := NewTypingMessage()
	c.Messages = append(c.Messages, typing)
	return typing
}

func (c *Conversation) RemoveTyping() bool {
	removed := false
	msgs := c.Messages[:0]
	for _, m := range c.Messages {
		if m == nil {
			continue
		}
		if m.IsTyping {
			removed = true
			continue
		}
		msgs = append(msgs, m)
	}
	c.Messages = msgs
	return removed
}

// ReplaceTyping swaps the placeholder for reply. If no placeholder is
// present, reply is appended.
func (c *Conversation) ReplaceTyping(reply *Message) {
	c.RemoveTyping()
	c.Messages = append(c.Messages, reply)
	c.Touch()
}

func (c *Conversation) IsTyping() bool {
	n := len(c.Messages)
	return n > 0 && c.Messages[n-1] != nil && c.Messages[n-1].IsTyping
}

func (c *Conversation) FindMessage(id string) (int, *Message, bool) {
	for i, m := range c.Messages {
		if m != nil && m.ID == id {
			return i, m, true
		}
	}
	return -1, nil, false
}

// RemoveMessage drops the message with the given id.
func (c *Conversation) RemoveMessage(id string) bool {
	idx, _, ok := c.FindMessage(id)
	if !ok {
		return false
	}
	c.Messages = append(c.Messages[:idx], c.Messages[idx+1:]...)
	return true
}

// PrecedingUserMessage returns the closest user message before index idx.
func (c *Conversation) PrecedingUserMessage(idx int) (*Message, bool) {
	if idx > len(c.Messages) {
		idx = len(c.Messages)
	}
	for i := idx - 1; i >= 0; i-- {
		if m := c.Messages[i]; m != nil && m.IsUser() {
			return c.Messages[i], true
		}
	}
	return nil, false
}

// Persistable returns a deep copy without any typing placeholder.
func (c *Conversation) Persistable() *Conversation {
	ret := c.Clone()
	if ret == nil {
		return nil
	}
	if ret.Messages == nil {
		ret.Messages = []*Message{}
	}
	ret.RemoveTyping()
	return ret
}

func (c *Conversation) LastMessage() (*Message, bool) {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i] != nil {
			return c.Messages[i], true
		}
	}
	return nil, false
}
