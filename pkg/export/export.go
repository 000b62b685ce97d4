// Package export renders a single conversation as a standalone document
// that can be saved next to the store, shared or re-imported elsewhere.
package export

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-go-golems/mastro/pkg/conversation"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	DefaultTitle = "Exported Chat"
	// TimeLayout is the human readable time added to every message.
	TimeLayout = "Jan 2, 2006 3:04:05 PM"
)

type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

type Document struct {
	ID        string    `json:"id" yaml:"id"`
	Title     string    `json:"title" yaml:"title"`
	CreatedAt time.Time `json:"createdAt" yaml:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt" yaml:"updatedAt"`
	Messages  []Message `json:"messages" yaml:"messages"`
}

type Message struct {
	ID        string              `json:"id" yaml:"id"`
	Text      string              `json:"text" yaml:"text"`
	Sender    conversation.Sender `json:"sender" yaml:"sender"`
	Timestamp time.Time           `json:"timestamp" yaml:"timestamp"`
	Time      string              `json:"time" yaml:"time"`
}

// Build converts c into an export document. Typing placeholders are left
// out; message times are formatted in loc (time.Local if nil).
func Build(c *conversation.Conversation, loc *time.Location) *Document {
	if loc == nil {
		loc = time.Local
	}
	title := c.Title
	if title == "" {
		title = DefaultTitle
	}
	ret := &Document{
		ID:        c.ID,
		Title:     title,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
		Messages:  []Message{},
	}
	for _, m := range c.Messages {
		if m == nil || m.IsTyping {
			continue
		}
		ret.Messages = append(ret.Messages, Message{
			ID:        m.ID,
			Text:      m.Text,
			Sender:    m.Sender,
			Timestamp: m.Timestamp,
			Time:      m.Timestamp.In(loc).Format(TimeLayout),
		})
	}
	return ret
}

func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatJSON, FormatYAML:
		return f, nil
	case "yml":
		return FormatYAML, nil
	default:
		return "", errors.Errorf("unknown export format %q", s)
	}
}

func (d *Document) Write(w io.Writer, format Format) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return errors.Wrap(enc.Encode(d), "could not encode export as JSON")
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(d); err != nil {
			return errors.Wrap(err, "could not encode export as YAML")
		}
		return enc.Close()
	default:
		return errors.Errorf("unknown export format %q", format)
	}
}

var fileNameReplacer = strings.NewReplacer("/", "_", "\\", "_", ":", "_", "\x00", "")

// FileName is the default file name of an export made at now:
// chat_<title>_<YYYY-MM-DD>.<ext>. Path separators in the title are
// replaced.
func FileName(c *conversation.Conversation, format Format, now time.Time) string {
	title := c.Title
	if title == "" {
		title = "export"
	}
	return fmt.Sprintf("chat_%s_%s.%s", fileNameReplacer.Replace(title), now.Format("2006-01-02"), format)
}
