package events

import (
	"encoding/json"
	"time"

	"github.com/go-go-golems/mastro/pkg/conversation"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// TopicChat is the watermill topic all chat events are published on.
const TopicChat = "chat"

type EventType string

const (
	// EventTypeUserMessage is published once the user message is in the
	// conversation (optimistic update).
	EventTypeUserMessage EventType = "user-message"
	// EventTypeTyping is published when the placeholder is appended.
	EventTypeTyping EventType = "typing"
	// EventTypeReply carries the assistant's successful reply.
	EventTypeReply EventType = "reply"
	// EventTypeErrorReply carries the terminal error message of a failed send.
	EventTypeErrorReply EventType = "error-reply"
	// EventTypePersisted is published after the final state has been saved.
	EventTypePersisted EventType = "persisted"
)

// Event is one transition of a send. Message is set for every type except
// persisted.
type Event struct {
	ID             uuid.UUID             `json:"id"`
	Type           EventType             `json:"type"`
	ConversationID string                `json:"conversation_id"`
	CorrelationID  string                `json:"correlation_id,omitempty"`
	State          string                `json:"state,omitempty"`
	Message        *conversation.Message `json:"message,omitempty"`
	Time           time.Time             `json:"time"`
}

func NewEvent(type_ EventType, conversationID string, msg *conversation.Message) *Event {
	return &Event{
		ID:             uuid.New(),
		Type:           type_,
		ConversationID: conversationID,
		Message:        msg,
		Time:           time.Now().UTC(),
	}
}

func (e *Event) IsTerminal() bool {
	return e.Type == EventTypeReply || e.Type == EventTypeErrorReply
}

func NewEventFromJson(b []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(b, &e); err != nil {
		return nil, errors.Wrap(err, "could not unmarshal chat event")
	}
	switch e.Type {
	case EventTypeUserMessage, EventTypeTyping, EventTypeReply, EventTypeErrorReply, EventTypePersisted:
	default:
		return nil, errors.Errorf("unknown chat event type %q", e.Type)
	}
	return &e, nil
}
