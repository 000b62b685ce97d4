package export

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-go-golems/mastro/pkg/conversation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func testConversation() *conversation.Conversation {
	ts := time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC)
	c := conversation.NewConversation()
	c.AppendUserMessage(conversation.NewUserMessage("hi", conversation.WithTimestamp(ts)))
	c.Messages = append(c.Messages, conversation.NewAssistantMessage("hello!", conversation.WithTimestamp(ts.Add(time.Second))))
	c.AppendTyping()
	return c
}

func TestBuild_ExcludesTypingAndAddsTime(t *testing.T) {
	doc := Build(testConversation(), time.UTC)

	assert.Equal(t, "hi", doc.Title)
	require.Len(t, doc.Messages, 2)
	assert.Equal(t, "Mar 9, 2024 2:05:07 PM", doc.Messages[0].Time)
	assert.Equal(t, "Mar 9, 2024 2:05:08 PM", doc.Messages[1].Time)
	assert.Equal(t, conversation.SenderAssistant, doc.Messages[1].Sender)
}

func TestBuild_DefaultTitle(t *testing.T) {
	c := conversation.NewConversation()
	c.Title = ""
	doc := Build(c, nil)
	assert.Equal(t, DefaultTitle, doc.Title)
	assert.NotNil(t, doc.Messages)
}

func TestDocument_WriteJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Build(testConversation(), time.UTC).Write(&buf, FormatJSON))

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &raw))
	for _, k := range []string{"id", "title", "createdAt", "updatedAt", "messages"} {
		assert.Contains(t, raw, k)
	}
	msgs := raw["messages"].([]interface{})
	require.Len(t, msgs, 2)
	first := msgs[0].(map[string]interface{})
	for _, k := range []string{"id", "text", "sender", "timestamp", "time"} {
		assert.Contains(t, first, k)
	}
	assert.NotContains(t, buf.String(), "isTyping")
}

func TestDocument_WriteYAML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Build(testConversation(), time.UTC).Write(&buf, FormatYAML))

	var doc Document
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &doc))
	require.Len(t, doc.Messages, 2)
	assert.Equal(t, "hello!", doc.Messages[1].Text)
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("YML")
	require.NoError(t, err)
	assert.Equal(t, FormatYAML, f)
	_, err = ParseFormat("csv")
	require.Error(t, err)
}

func TestFileName(t *testing.T) {
	now := time.Date(2024, 3, 9, 23, 0, 0, 0, time.UTC)
	c := conversation.NewConversation()
	c.Title = "a/b: c"
	assert.Equal(t, "chat_a_b_ c_2024-03-09.json", FileName(c, FormatJSON, now))

	c.Title = ""
	assert.Equal(t, "chat_export_2024-03-09.yaml", FileName(c, FormatYAML, now))
}
