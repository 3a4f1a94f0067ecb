package messaging

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/garyjia/printshop-workflow/internal/domain/event"
)

func TestBroadcastOverGoChannel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pubSub := NewGoChannel(watermill.NopLogger{})
	b := NewBroadcaster(pubSub, "", zap.NewNop())
	t.Cleanup(func() { _ = b.Close() })

	messages, err := pubSub.Subscribe(ctx, DefaultTopic)
	require.NoError(t, err)

	evt := event.NewEvent(event.TypeQuoteConverted, "quote", "q1", map[string]interface{}{
		event.KeyQuoteNumber: "QTE-2025-001",
	})
	require.NoError(t, b.Broadcast(ctx, evt))

	select {
	case msg := <-messages:
		msg.Ack()
		assert.Equal(t, evt.ID, msg.UUID)
		assert.Equal(t, event.TypeQuoteConverted.String(), msg.Metadata.Get(MetadataEventType))
		assert.Equal(t, "q1", msg.Metadata.Get(MetadataEntityID))

		got, err := DecodeEvent(msg)
		require.NoError(t, err)
		assert.Equal(t, evt.Type, got.Type)
		assert.Equal(t, "QTE-2025-001", got.GetPayloadString(event.KeyQuoteNumber))
	case <-ctx.Done():
		t.Fatal("no message received")
	}
}

type failingPublisher struct{}

func (failingPublisher) Publish(topic string, messages ...*message.Message) error {
	return errors.New("broker unavailable")
}

func (failingPublisher) Close() error { return nil }

func TestBroadcastPublishError(t *testing.T) {
	b := NewBroadcaster(failingPublisher{}, "custom", zap.NewNop())
	assert.Equal(t, "custom", b.Topic())

	err := b.Broadcast(context.Background(), event.NewEvent(event.TypeQuoteRejected, "quote", "q1", map[string]interface{}{}))
	assert.ErrorContains(t, err, "broker unavailable")
}

func TestNewPublisher(t *testing.T) {
	pub, err := NewPublisher(Config{}, watermill.NopLogger{})
	require.NoError(t, err)
	require.NoError(t, pub.Close())

	_, err = NewPublisher(Config{Backend: BackendKafka}, watermill.NopLogger{})
	assert.Error(t, err)

	_, err = NewPublisher(Config{Backend: "nats"}, watermill.NopLogger{})
	assert.Error(t, err)
}

func TestZapLoggerAdapter(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	adapter := NewZapLoggerAdapter(zap.New(core)).With(watermill.LogFields{"topic": "t"})

	adapter.Info("published", watermill.LogFields{"uuid": "1"})
	adapter.Error("publish failed", errors.New("boom"), nil)
	adapter.Trace("trace", nil)

	entries := logs.All()
	require.Len(t, entries, 3)
	assert.Equal(t, "t", entries[0].ContextMap()["topic"])
	assert.Equal(t, "1", entries[0].ContextMap()["uuid"])
	assert.Equal(t, "boom", entries[1].ContextMap()["error"])
	assert.Equal(t, zap.DebugLevel, entries[2].Level)
}
