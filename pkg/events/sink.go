package events

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// EventSink receives the transitions of a send. Publishing failures are
// reported but never abort the send.
type EventSink interface {
	PublishEvent(ctx context.Context, event *Event) error
}

// NullSink discards all events.
type NullSink struct{}

func NewNullSink() *NullSink {
	return &NullSink{}
}

func (n *NullSink) PublishEvent(context.Context, *Event) error {
	return nil
}

// WatermillSink publishes events as JSON to a watermill topic.
type WatermillSink struct {
	publisher message.Publisher
	topic     string
}

func NewWatermillSink(publisher message.Publisher, topic string) *WatermillSink {
	return &WatermillSink{
		publisher: publisher,
		topic:     topic,
	}
}

func (w *WatermillSink) PublishEvent(ctx context.Context, event *Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(err, "could not marshal chat event")
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.SetContext(ctx)

	if err := w.publisher.Publish(w.topic, msg); err != nil {
		log.Error().Err(err).Str("topic", w.topic).Msg("Failed to publish event to watermill")
		return err
	}

	log.Trace().Str("topic", w.topic).Str("event_type", string(event.Type)).Msg("Published event to watermill")
	return nil
}

// CollectingSink keeps every event in memory, in publishing order.
type CollectingSink struct {
	mu     sync.Mutex
	events []*Event
}

func (c *CollectingSink) PublishEvent(_ context.Context, event *Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

func (c *CollectingSink) Events() []*Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Event(nil), c.events...)
}

func (c *CollectingSink) Types() []EventType {
	c.mu.Lock()
	defer c.mu.Unlock()
	ret := make([]EventType, 0, len(c.events))
	for _, e := range c.events {
		ret = append(ret, e.Type)
	}
	return ret
}

// MultiSink fans an event out to several sinks and returns the first error.
type MultiSink []EventSink

func (m MultiSink) PublishEvent(ctx context.Context, event *Event) error {
	var first error
	for _, s := range m {
		if err := s.PublishEvent(ctx, event); err != nil && first == nil {
			first = err
		}
	}
	return first
}

var (
	_ EventSink = (*NullSink)(nil)
	_ EventSink = (*WatermillSink)(nil)
	_ EventSink = (*CollectingSink)(nil)
	_ EventSink = MultiSink(nil)
)
