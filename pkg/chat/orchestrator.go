// Package chat glues the conversation store and the dispatcher together.
//
// A send appends the user message, persists it, shows a typing placeholder,
// waits for the dispatcher's reply, swaps the placeholder for it and persists
// the final state. Only one send can be in flight at a time; a second one is
// rejected with ErrSendInFlight rather than queued.
package chat

import (
	"context"
	"strings"
	"sync"

	"github.com/go-go-golems/mastro/pkg/conversation"
	"github.com/go-go-golems/mastro/pkg/events"
	"github.com/go-go-golems/mastro/pkg/helpers"
	"github.com/go-go-golems/mastro/pkg/store"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

var (
	ErrEmptyMessage    = errors.New("message is empty")
	ErrSendInFlight    = errors.New("a message is already being sent")
	ErrNotRetryable    = errors.New("message cannot be retried")
	ErrMessageNotFound = errors.New("message not found")
)

// Dispatcher turns a user message into a reply or a terminal error message.
// It never fails.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg *conversation.Message) *conversation.Message
}

type Orchestrator struct {
	store      *store.Store
	dispatcher Dispatcher
	sink       events.EventSink

	mu       sync.Mutex
	inFlight bool
	done     chan struct{}
	machine  *SendMachine
	view     *conversation.Conversation
}

type Option func(*Orchestrator)

func WithEventSink(sink events.EventSink) Option {
	return func(o *Orchestrator) {
		o.sink = sink
	}
}

func NewOrchestrator(s *store.Store, d Dispatcher, options ...Option) *Orchestrator {
	ret := &Orchestrator{
		store:      s,
		dispatcher: d,
		sink:       events.NewNullSink(),
		machine:    NewSendMachine(),
	}
	for _, option := range options {
		option(ret)
	}
	return ret
}

func (o *Orchestrator) Store() *store.Store {
	return o.store
}

// InFlight reports whether a send is currently waiting for its reply.
func (o *Orchestrator) InFlight() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.inFlight
}

func (o *Orchestrator) State() SendState {
	return o.machine.State()
}

// View returns a copy of the conversation as the UI should show it, which
// includes the typing placeholder while a reply is pending. It is nil until
// the first call to Current, Send, Retry, NewConversation or Select.
func (o *Orchestrator) View() *conversation.Conversation {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.view.Clone()
}

func (o *Orchestrator) setView(c *conversation.Conversation) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.view = c.Clone()
}

// Current resolves the current conversation, creating one if the store is
// empty.
func (o *Orchestrator) Current(ctx context.Context) *conversation.Conversation {
	c := o.store.Resolve(ctx)
	if !o.InFlight() {
		o.setView(c)
	}
	return c
}

func (o *Orchestrator) List(ctx context.Context) []*conversation.Conversation {
	return o.store.List(ctx)
}

func (o *Orchestrator) NewConversation(ctx context.Context) (*conversation.Conversation, error) {
	if o.InFlight() {
		return nil, ErrSendInFlight
	}
	c := o.store.Create(ctx)
	o.setView(c)
	return c, nil
}

// Select makes the conversation with the given id current.
func (o *Orchestrator) Select(ctx context.Context, id string) (*conversation.Conversation, error) {
	if o.InFlight() {
		return nil, ErrSendInFlight
	}
	c, ok := o.store.Get(ctx, id)
	if !ok {
		return nil, errors.Errorf("conversation %q not found", id)
	}
	o.store.SetCurrentID(ctx, id)
	o.setView(c)
	return c, nil
}

func (o *Orchestrator) begin() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.inFlight {
		return false
	}
	o.inFlight = true
	o.done = make(chan struct{})
	return true
}

func (o *Orchestrator) end() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.inFlight = false
	close(o.done)
}

// Wait blocks until the send that is in flight, if any, has persisted its
// final state. It returns early with ctx's error.
func (o *Orchestrator) Wait(ctx context.Context) error {
	o.mu.Lock()
	done := o.done
	o.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Send sends text in the current conversation and returns the persisted
// conversation including the reply. Remote failures are not errors: they
// end up as an error message in the conversation.
func (o *Orchestrator) Send(ctx context.Context, text string) (*conversation.Conversation, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}
	if !o.begin() {
		return nil, ErrSendInFlight
	}
	defer o.end()

	c := o.store.Resolve(ctx)
	return o.send(ctx, c, conversation.NewUserMessage(text))
}

// Retry drops the error message with the given id, re-sends the text of the
// user message that preceded it and returns the persisted conversation.
func (o *Orchestrator) Retry(ctx context.Context, errorMessageID string) (*conversation.Conversation, error) {
	if !o.begin() {
		return nil, ErrSendInFlight
	}
	defer o.end()

	c := o.store.Resolve(ctx)
	idx, msg, ok := c.FindMessage(errorMessageID)
	if !ok {
		return nil, errors.Wrapf(ErrMessageNotFound, "no message %q in conversation %q", errorMessageID, c.ID)
	}
	if !msg.IsRetryable() {
		return nil, errors.Wrapf(ErrNotRetryable, "message %q", errorMessageID)
	}
	prev, ok := c.PrecedingUserMessage(idx)
	if !ok {
		return nil, errors.Wrapf(ErrMessageNotFound, "no user message before %q", errorMessageID)
	}

	c.RemoveMessage(errorMessageID)
	c.RemoveTyping()
	log.Debug().Str("conversation", c.ID).Str("message", errorMessageID).Msg("Retrying failed message")

	return o.send(ctx, c, conversation.NewUserMessage(prev.Text))
}

// LastRetryable returns the most recent retryable error message of the
// current conversation.
func (o *Orchestrator) LastRetryable(ctx context.Context) (*conversation.Message, bool) {
	c := o.store.Resolve(ctx)
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if m := c.Messages[i]; m != nil && m.IsRetryable() {
			return c.Messages[i], true
		}
	}
	return nil, false
}

func (o *Orchestrator) send(ctx context.Context, c *conversation.Conversation, user *conversation.Message) (*conversation.Conversation, error) {
	if err := o.machine.Transition(StateAwaitingReply); err != nil {
		return nil, err
	}

	ctx = helpers.ContextWithCorrelationID(ctx, helpers.NewCorrelationID())
	logger := log.With().
		Str("conversation", c.ID).
		Str("correlation_id", helpers.CorrelationIDFromContext(ctx)).
		Logger()

	c.AppendUserMessage(user)
	o.store.Put(ctx, c)
	o.setView(c)
	o.publish(ctx, events.EventTypeUserMessage, c.ID, user)

	typing := c.AppendTyping()
	o.setView(c)
	o.publish(ctx, events.EventTypeTyping, c.ID, typing)

	reply := o.dispatcher.Dispatch(ctx, user)
	c.ReplaceTyping(reply)

	outcome, eventType := StateResolved, events.EventTypeReply
	if reply.Error {
		outcome, eventType = StateFailed, events.EventTypeErrorReply
	}
	if err := o.machine.Transition(outcome); err != nil {
		return nil, err
	}
	o.publish(ctx, eventType, c.ID, reply)

	// a cancelled send still persists its reply
	storeCtx := context.WithoutCancel(ctx)
	saved, ok := o.store.Update(storeCtx, c.ID, store.Patch{
		Title:    helpers.Ptr(c.Title),
		Messages: c.Messages,
	})
	if !ok {
		saved = o.store.Put(storeCtx, c)
	}
	o.setView(saved)
	o.publish(ctx, events.EventTypePersisted, saved.ID, nil)

	logger.Debug().
		Bool("error", reply.Error).
		Int("messages", len(saved.Messages)).
		Msg("Send finished")

	if err := o.machine.Transition(StateIdle); err != nil {
		return nil, err
	}
	return saved, nil
}

func (o *Orchestrator) publish(ctx context.Context, t events.EventType, conversationID string, msg *conversation.Message) {
	e := events.NewEvent(t, conversationID, msg.Clone())
	e.CorrelationID = helpers.CorrelationIDFromContext(ctx)
	e.State = string(o.machine.State())
	if err := o.sink.PublishEvent(ctx, e); err != nil {
		log.Warn().Err(err).Str("event_type", string(t)).Msg("Could not publish chat event")
	}
}
