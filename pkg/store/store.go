package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-go-golems/mastro/pkg/conversation"
	"github.com/rs/zerolog/log"
)

const (
	ConversationsKey       = "chat_conversations"
	CurrentConversationKey = "current_conversation"
)

// Store is the conversation store. It keeps the full collection of
// conversations under one key and the current conversation id under another.
//
// Reads never fail: a missing or unparsable collection is an empty one, so
// the chat stays usable even if earlier state is lost. Writes are best
// effort and only logged on failure. The store has no transactions; two
// concurrent Saves race and the last writer wins.
type Store struct {
	kv  KV
	now func() time.Time
}

type Option func(*Store)

// WithClock overrides the time source used for createdAt/updatedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

func New(kv KV, options ...Option) *Store {
	ret := &Store{
		kv:  kv,
		now: func() time.Time { return time.Now().UTC() },
	}
	for _, o := range options {
		o(ret)
	}
	return ret
}

// Patch lists the fields Update merges into a conversation. Nil fields are
// left alone. UpdatedAt defaults to the current time.
type Patch struct {
	Title     *string
	Messages  []*conversation.Message
	UpdatedAt *time.Time
}

func (s *Store) KV() KV {
	return s.kv
}

func (s *Store) Close() error {
	return s.kv.Close()
}

// List returns all persisted conversations, newest first.
func (s *Store) List(ctx context.Context) []*conversation.Conversation {
	b, ok, err := s.kv.Get(ctx, ConversationsKey)
	if err != nil {
		log.Error().Err(err).Str("key", ConversationsKey).Msg("Error getting conversations")
		return []*conversation.Conversation{}
	}
	if !ok || len(b) == 0 {
		return []*conversation.Conversation{}
	}

	var convs []*conversation.Conversation
	if err := json.Unmarshal(b, &convs); err != nil {
		log.Warn().Err(err).Str("key", ConversationsKey).Msg("Discarding malformed conversations")
		return []*conversation.Conversation{}
	}

	ret := make([]*conversation.Conversation, 0, len(convs))
	for _, c := range convs {
		if c == nil || c.ID == "" {
			continue
		}
		msgs := make([]*conversation.Message, 0, len(c.Messages))
		for _, m := range c.Messages {
			if m == nil {
				log.Warn().Str("conversation", c.ID).Msg("Discarding null message")
				continue
			}
			msgs = append(msgs, m)
		}
		c.Messages = msgs
		ret = append(ret, c)
	}
	return ret
}

// Save overwrites the whole persisted collection. Typing placeholders are
// stripped before writing.
func (s *Store) Save(ctx context.Context, convs []*conversation.Conversation) {
	out := make([]*conversation.Conversation, 0, len(convs))
	for _, c := range convs {
		if c == nil {
			continue
		}
		out = append(out, c.Persistable())
	}

	b, err := json.Marshal(out)
	if err != nil {
		log.Error().Err(err).Msg("Error encoding conversations")
		return
	}
	if err := s.kv.Set(ctx, ConversationsKey, b); err != nil {
		log.Error().Err(err).Str("key", ConversationsKey).Msg("Error saving conversations")
	}
}

// Create prepends a new empty conversation and makes it current.
func (s *Store) Create(ctx context.Context) *conversation.Conversation {
	now := s.now()
	c := conversation.NewConversation()
	c.CreatedAt = now
	c.UpdatedAt = now

	convs := s.List(ctx)
	convs = append([]*conversation.Conversation{c}, convs...)
	s.Save(ctx, convs)
	s.SetCurrentID(ctx, c.ID)

	log.Debug().Str("conversation", c.ID).Msg("Created conversation")
	return c.Clone()
}

func (s *Store) Get(ctx context.Context, id string) (*conversation.Conversation, bool) {
	for _, c := range s.List(ctx) {
		if c.ID == id {
			return c, true
		}
	}
	return nil, false
}

// Update merges patch into the conversation with the given id and persists
// the collection. It reports false if there is no such conversation.
func (s *Store) Update(ctx context.Context, id string, patch Patch) (*conversation.Conversation, bool) {
	convs := s.List(ctx)
	for _, c := range convs {
		if c.ID != id {
			continue
		}
		if patch.Title != nil {
			c.Title = *patch.Title
		}
		if patch.Messages != nil {
			c.Messages = patch.Messages
		}
		if patch.UpdatedAt != nil {
			c.UpdatedAt = *patch.UpdatedAt
		} else {
			c.UpdatedAt = s.now()
		}
		s.Save(ctx, convs)
		return c.Persistable(), true
	}
	return nil, false
}

// Put replaces the stored conversation with the same id, or prepends it if
// it is not stored yet.
func (s *Store) Put(ctx context.Context, c *conversation.Conversation) *conversation.Conversation {
	convs := s.List(ctx)
	p := c.Persistable()
	replaced := false
	for i, existing := range convs {
		if existing.ID == p.ID {
			convs[i] = p
			replaced = true
			break
		}
	}
	if !replaced {
		convs = append([]*conversation.Conversation{p}, convs...)
	}
	s.Save(ctx, convs)
	return p.Clone()
}

func (s *Store) CurrentID(ctx context.Context) (string, bool) {
	b, ok, err := s.kv.Get(ctx, CurrentConversationKey)
	if err != nil {
		log.Error().Err(err).Str("key", CurrentConversationKey).Msg("Error getting current conversation id")
		return "", false
	}
	if !ok || len(b) == 0 {
		return "", false
	}
	return string(b), true
}

// SetCurrentID moves the current conversation pointer. An empty id clears it.
func (s *Store) SetCurrentID(ctx context.Context, id string) {
	if err := s.kv.Set(ctx, CurrentConversationKey, []byte(id)); err != nil {
		log.Error().Err(err).Str("key", CurrentConversationKey).Msg("Error setting current conversation id")
	}
}

// Resolve returns the current conversation, falling back to the newest one
// (which then becomes current) and finally to a freshly created one.
func (s *Store) Resolve(ctx context.Context) *conversation.Conversation {
	if id, ok := s.CurrentID(ctx); ok {
		if c, ok := s.Get(ctx, id); ok {
			return c
		}
		log.Debug().Str("conversation", id).Msg("Current conversation not found")
	}
	if convs := s.List(ctx); len(convs) > 0 {
		s.SetCurrentID(ctx, convs[0].ID)
		return convs[0]
	}
	return s.Create(ctx)
}
