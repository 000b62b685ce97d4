package chat

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-go-golems/mastro/pkg/conversation"
	"github.com/go-go-golems/mastro/pkg/events"
	"github.com/go-go-golems/mastro/pkg/inference/dispatcher"
	"github.com/go-go-golems/mastro/pkg/steps/ai/settings"
	"github.com/go-go-golems/mastro/pkg/store"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDispatcher answers with the next reply of its script and lets the
// test look at the orchestrator while the reply is pending.
type fakeDispatcher struct {
	replies []func(msg *conversation.Message) *conversation.Message
	calls   []*conversation.Message
	during  func()
}

func (f *fakeDispatcher) Dispatch(_ context.Context, msg *conversation.Message) *conversation.Message {
	f.calls = append(f.calls, msg)
	if f.during != nil {
		f.during()
	}
	next := f.replies[0]
	f.replies = f.replies[1:]
	return next(msg)
}

func reply(text string) func(*conversation.Message) *conversation.Message {
	return func(*conversation.Message) *conversation.Message {
		return conversation.NewAssistantMessage(text)
	}
}

func failure(text string, final bool) func(*conversation.Message) *conversation.Message {
	return func(*conversation.Message) *conversation.Message {
		return conversation.NewErrorMessage(text, final)
	}
}

func newTestOrchestrator(d Dispatcher) (*Orchestrator, *store.Store, *events.CollectingSink) {
	s := store.New(store.NewMemoryKV())
	sink := &events.CollectingSink{}
	return NewOrchestrator(s, d, WithEventSink(sink)), s, sink
}

func TestSend_ScenarioHiHello(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"hello!"}]}}]}`))
	}))
	defer srv.Close()

	cfg := settings.NewSettings()
	cfg.API.URL = srv.URL
	cfg.API.Key = "k"
	cfg.Dispatch.AllowHTTP = true
	cfg.Dispatch.AllowLocalNetworks = true

	ctx := context.Background()
	o, s, _ := newTestOrchestrator(dispatcher.New(cfg))
	created := s.Create(ctx)

	_, err := o.Send(ctx, "hi")
	require.NoError(t, err)

	got, ok := s.Get(ctx, created.ID)
	require.True(t, ok)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "hi", got.Messages[0].Text)
	assert.Equal(t, conversation.SenderUser, got.Messages[0].Sender)
	assert.Equal(t, "hello!", got.Messages[1].Text)
	assert.Equal(t, conversation.SenderAssistant, got.Messages[1].Sender)
	for _, m := range got.Messages {
		assert.False(t, m.Error)
		assert.False(t, m.IsFinal)
		assert.False(t, m.IsTyping)
	}
	assert.Equal(t, "hi", got.Title)
}

func TestSend_DerivesTitleFromFirstMessage(t *testing.T) {
	ctx := context.Background()
	o, s, _ := newTestOrchestrator(&fakeDispatcher{replies: []func(*conversation.Message) *conversation.Message{
		reply("sure"), reply("again"),
	}})

	text := "Explain quantum tunneling in simple terms for a beginner"
	c, err := o.Send(ctx, text)
	require.NoError(t, err)
	assert.Equal(t, "Explain quantum tunneling in s...", c.Title)

	_, err = o.Send(ctx, "and now something completely different")
	require.NoError(t, err)
	got, _ := s.Get(ctx, c.ID)
	assert.Equal(t, "Explain quantum tunneling in s...", got.Title)
}

func TestSend_PlaceholderVisibleButNeverPersisted(t *testing.T) {
	ctx := context.Background()
	var o *Orchestrator
	var s *store.Store
	d := &fakeDispatcher{replies: []func(*conversation.Message) *conversation.Message{
		reply("ok"), failure("Request timed out. Please try again.", false),
	}}
	d.during = func() {
		assert.True(t, o.InFlight())
		assert.Equal(t, StateAwaitingReply, o.State())

		view := o.View()
		require.NotNil(t, view)
		assert.True(t, view.IsTyping())

		persisted, ok := s.Get(ctx, view.ID)
		require.True(t, ok)
		for _, m := range persisted.Messages {
			assert.False(t, m.IsTyping)
		}
		last, _ := persisted.LastMessage()
		assert.True(t, last.IsUser())
	}
	o, s, _ = newTestOrchestrator(d)

	for _, text := range []string{"one", "two"} {
		c, err := o.Send(ctx, text)
		require.NoError(t, err)
		got, _ := s.Get(ctx, c.ID)
		for _, m := range got.Messages {
			assert.False(t, m.IsTyping)
		}
		assert.False(t, o.View().IsTyping())
		assert.False(t, o.InFlight())
		assert.Equal(t, StateIdle, o.State())
	}
}

func TestSend_ErrorReplyIsPersisted(t *testing.T) {
	ctx := context.Background()
	o, s, sink := newTestOrchestrator(&fakeDispatcher{replies: []func(*conversation.Message) *conversation.Message{
		failure("Configuration error: API is not properly configured", true),
	}})

	c, err := o.Send(ctx, "hi")
	require.NoError(t, err)

	got, _ := s.Get(ctx, c.ID)
	require.Len(t, got.Messages, 2)
	assert.True(t, got.Messages[1].Error)
	assert.True(t, got.Messages[1].IsFinal)

	assert.Equal(t, []events.EventType{
		events.EventTypeUserMessage,
		events.EventTypeTyping,
		events.EventTypeErrorReply,
		events.EventTypePersisted,
	}, sink.Types())
}

func TestSend_EventsShareCorrelationID(t *testing.T) {
	ctx := context.Background()
	o, _, sink := newTestOrchestrator(&fakeDispatcher{replies: []func(*conversation.Message) *conversation.Message{reply("ok")}})

	_, err := o.Send(ctx, "hi")
	require.NoError(t, err)

	evs := sink.Events()
	require.Len(t, evs, 4)
	assert.Equal(t, events.EventTypeReply, evs[2].Type)
	assert.Equal(t, string(StateResolved), evs[2].State)
	for _, e := range evs {
		assert.Equal(t, evs[0].CorrelationID, e.CorrelationID)
	}
	assert.NotEmpty(t, evs[0].CorrelationID)
}

func TestSend_RejectsEmpty(t *testing.T) {
	d := &fakeDispatcher{}
	o, s, _ := newTestOrchestrator(d)
	_, err := o.Send(context.Background(), "  \n\t")
	assert.True(t, errors.Is(err, ErrEmptyMessage))
	assert.Empty(t, d.calls)
	assert.Empty(t, s.List(context.Background()))
}

func TestSend_RejectsWhileInFlight(t *testing.T) {
	ctx := context.Background()
	var o *Orchestrator
	var nested error
	d := &fakeDispatcher{replies: []func(*conversation.Message) *conversation.Message{reply("ok")}}
	d.during = func() {
		_, nested = o.Send(ctx, "second")
	}
	o, _, _ = newTestOrchestrator(d)

	_, err := o.Send(ctx, "first")
	require.NoError(t, err)
	assert.True(t, errors.Is(nested, ErrSendInFlight))
	assert.Len(t, d.calls, 1)
}

func TestSend_ConcurrentSendsAreSerialized(t *testing.T) {
	ctx := context.Background()
	release := make(chan struct{})
	var calls int32
	d := dispatcherFunc(func(ctx context.Context, msg *conversation.Message) *conversation.Message {
		atomic.AddInt32(&calls, 1)
		<-release
		return conversation.NewAssistantMessage("ok")
	})
	o, _, _ := newTestOrchestrator(d)

	done := make(chan error, 1)
	go func() {
		_, err := o.Send(ctx, "first")
		done <- err
	}()
	require.Eventually(t, o.InFlight, time.Second, time.Millisecond)

	_, err := o.Send(ctx, "second")
	assert.True(t, errors.Is(err, ErrSendInFlight))
	_, err = o.NewConversation(ctx)
	assert.True(t, errors.Is(err, ErrSendInFlight))

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

type dispatcherFunc func(ctx context.Context, msg *conversation.Message) *conversation.Message

func (f dispatcherFunc) Dispatch(ctx context.Context, msg *conversation.Message) *conversation.Message {
	return f(ctx, msg)
}

func TestRetry_ResendsPrecedingUserText(t *testing.T) {
	ctx := context.Background()
	d := &fakeDispatcher{replies: []func(*conversation.Message) *conversation.Message{
		failure("Network error. Please check your connection.", false),
		reply("finally"),
	}}
	o, s, _ := newTestOrchestrator(d)

	c, err := o.Send(ctx, "what is go?")
	require.NoError(t, err)
	failed, ok := c.LastMessage()
	require.True(t, ok)
	require.True(t, failed.IsRetryable())

	last, ok := o.LastRetryable(ctx)
	require.True(t, ok)
	assert.Equal(t, failed.ID, last.ID)

	c, err = o.Retry(ctx, failed.ID)
	require.NoError(t, err)

	require.Len(t, d.calls, 2)
	assert.Equal(t, "what is go?", d.calls[1].Text)
	assert.NotEqual(t, d.calls[0].ID, d.calls[1].ID)

	got, _ := s.Get(ctx, c.ID)
	require.Len(t, got.Messages, 3)
	assert.Equal(t, "what is go?", got.Messages[0].Text)
	assert.Equal(t, "what is go?", got.Messages[1].Text)
	assert.Equal(t, "finally", got.Messages[2].Text)
	_, _, found := got.FindMessage(failed.ID)
	assert.False(t, found)
}

func TestRetry_Errors(t *testing.T) {
	ctx := context.Background()
	d := &fakeDispatcher{replies: []func(*conversation.Message) *conversation.Message{
		failure("Invalid response format from API", true),
	}}
	o, _, _ := newTestOrchestrator(d)

	c, err := o.Send(ctx, "hi")
	require.NoError(t, err)
	final, _ := c.LastMessage()

	_, err = o.Retry(ctx, final.ID)
	assert.True(t, errors.Is(err, ErrNotRetryable))

	_, err = o.Retry(ctx, c.Messages[0].ID)
	assert.True(t, errors.Is(err, ErrNotRetryable))

	_, err = o.Retry(ctx, "nope")
	assert.True(t, errors.Is(err, ErrMessageNotFound))

	assert.Len(t, d.calls, 1)
	assert.False(t, o.InFlight())
}

func TestSelectAndNewConversation(t *testing.T) {
	ctx := context.Background()
	o, s, _ := newTestOrchestrator(&fakeDispatcher{replies: []func(*conversation.Message) *conversation.Message{reply("a")}})

	first, err := o.Send(ctx, "first chat")
	require.NoError(t, err)

	second, err := o.NewConversation(ctx)
	require.NoError(t, err)
	assert.Equal(t, conversation.DefaultTitle, second.Title)
	assert.Equal(t, second.ID, o.Current(ctx).ID)

	list := o.List(ctx)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID)

	selected, err := o.Select(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "first chat", selected.Title)
	id, _ := s.CurrentID(ctx)
	assert.Equal(t, first.ID, id)
	assert.Equal(t, first.ID, o.View().ID)

	_, err = o.Select(ctx, "missing")
	require.Error(t, err)
}

func TestSend_OverStoredNullMessages(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemoryKV()
	require.NoError(t, kv.Set(ctx, store.ConversationsKey, []byte(`[{"id":"a","title":"New Chat","messages":[null]}]`)))
	require.NoError(t, kv.Set(ctx, store.CurrentConversationKey, []byte("a")))
	s := store.New(kv)
	o := NewOrchestrator(s, &fakeDispatcher{replies: []func(*conversation.Message) *conversation.Message{reply("hello!")}})

	_, ok := o.LastRetryable(ctx)
	assert.False(t, ok)

	c, err := o.Send(ctx, "hi")
	require.NoError(t, err)
	assert.Equal(t, "a", c.ID)
	assert.Equal(t, "hi", c.Title)

	got, ok := s.Get(ctx, "a")
	require.True(t, ok)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "hi", got.Messages[0].Text)
	assert.Equal(t, "hello!", got.Messages[1].Text)
}

// tickingClock returns a clock that moves one minute forward on every call.
func tickingClock() func() time.Time {
	var ticks int64
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		n := atomic.AddInt64(&ticks, 1)
		return base.Add(time.Duration(n) * time.Minute)
	}
}

func TestSendAndRetry_RefreshUpdatedAt(t *testing.T) {
	ctx := context.Background()
	s := store.New(store.NewMemoryKV(), store.WithClock(tickingClock()))
	o := NewOrchestrator(s, &fakeDispatcher{replies: []func(*conversation.Message) *conversation.Message{
		failure("Network error. Please check your connection.", false),
		reply("ok"),
	}})

	created := s.Create(ctx)

	c, err := o.Send(ctx, "hi")
	require.NoError(t, err)
	afterSend, _ := s.Get(ctx, c.ID)
	assert.True(t, afterSend.UpdatedAt.After(created.UpdatedAt),
		"%s not after %s", afterSend.UpdatedAt, created.UpdatedAt)
	assert.True(t, created.CreatedAt.Equal(afterSend.CreatedAt))

	failed, _ := c.LastMessage()
	_, err = o.Retry(ctx, failed.ID)
	require.NoError(t, err)
	afterRetry, _ := s.Get(ctx, c.ID)
	assert.True(t, afterRetry.UpdatedAt.After(afterSend.UpdatedAt),
		"%s not after %s", afterRetry.UpdatedAt, afterSend.UpdatedAt)
}

func TestWait_BlocksUntilSendFinishes(t *testing.T) {
	ctx := context.Background()
	release := make(chan struct{})
	o, s, _ := newTestOrchestrator(dispatcherFunc(func(ctx context.Context, msg *conversation.Message) *conversation.Message {
		<-release
		return conversation.NewAssistantMessage("late")
	}))

	require.NoError(t, o.Wait(ctx))

	go func() {
		_, _ = o.Send(ctx, "hi")
	}()
	require.Eventually(t, o.InFlight, time.Second, time.Millisecond)

	short, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, o.Wait(short), context.DeadlineExceeded)

	waited := make(chan error, 1)
	go func() {
		waited <- o.Wait(ctx)
	}()
	close(release)
	require.NoError(t, <-waited)
	assert.False(t, o.InFlight())

	c := s.Resolve(ctx)
	last, ok := c.LastMessage()
	require.True(t, ok)
	assert.Equal(t, "late", last.Text)
}

func TestSend_CancelledReplyIsPersisted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	o, s, _ := newTestOrchestrator(dispatcherFunc(func(ctx context.Context, msg *conversation.Message) *conversation.Message {
		<-ctx.Done()
		return conversation.NewErrorMessage(dispatcher.MessageCanceled, false)
	}))

	done := make(chan error, 1)
	go func() {
		_, err := o.Send(ctx, "hi")
		done <- err
	}()
	require.Eventually(t, o.InFlight, time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	c := s.Resolve(context.Background())
	require.Len(t, c.Messages, 2)
	assert.Equal(t, dispatcher.MessageCanceled, c.Messages[1].Text)
	assert.True(t, c.Messages[1].IsRetryable())
}
