package helpers

import (
	"context"
	"strings"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturePublisher struct {
	published []*message.Message
}

func (c *capturePublisher) Publish(_ string, messages ...*message.Message) error {
	c.published = append(c.published, messages...)
	return nil
}

func (c *capturePublisher) Close() error { return nil }

func TestCorrelationPublisherDecorator(t *testing.T) {
	inner := &capturePublisher{}
	p := CorrelationPublisherDecorator{Publisher: inner}

	withID := message.NewMessage(watermill.NewUUID(), []byte("{}"))
	withID.SetContext(ContextWithCorrelationID(context.Background(), "send_abc"))

	preset := message.NewMessage(watermill.NewUUID(), []byte("{}"))
	preset.Metadata.Set(CorrelationIDMetadataKey, "kept")

	missing := message.NewMessage(watermill.NewUUID(), []byte("{}"))

	require.NoError(t, p.Publish("chat", withID, preset, missing))
	require.Len(t, inner.published, 3)
	assert.Equal(t, "send_abc", inner.published[0].Metadata.Get(CorrelationIDMetadataKey))
	assert.Equal(t, "kept", inner.published[1].Metadata.Get(CorrelationIDMetadataKey))
	assert.True(t, strings.HasPrefix(inner.published[2].Metadata.Get(CorrelationIDMetadataKey), "gen_"))
}

func TestNewCorrelationID(t *testing.T) {
	a, b := NewCorrelationID(), NewCorrelationID()
	assert.True(t, strings.HasPrefix(a, "send_"))
	assert.NotEqual(t, a, b)
}
