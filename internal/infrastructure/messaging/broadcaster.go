package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.uber.org/zap"

	"github.com/garyjia/printshop-workflow/internal/application/port"
	"github.com/garyjia/printshop-workflow/internal/domain/event"
)

// DefaultTopic carries every workflow event
const DefaultTopic = "printshop.workflow.events"

// Message metadata keys
const (
	MetadataEventType     = "event_type"
	MetadataEntityID      = "entity_id"
	MetadataCorrelationID = "correlation_id"
)

// Broadcaster implements port.Broadcaster on a watermill publisher.
// The message UUID is the event ID so subscribers can drop redeliveries.
type Broadcaster struct {
	publisher message.Publisher
	topic     string
	logger    *zap.Logger
}

// NewBroadcaster creates a broadcaster on topic, or DefaultTopic when empty
func NewBroadcaster(publisher message.Publisher, topic string, logger *zap.Logger) *Broadcaster {
	if topic == "" {
		topic = DefaultTopic
	}
	return &Broadcaster{
		publisher: publisher,
		topic:     topic,
		logger:    logger,
	}
}

func (b *Broadcaster) Broadcast(ctx context.Context, evt *event.Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	msg := message.NewMessage(evt.ID, payload)
	msg.SetContext(ctx)
	msg.Metadata.Set(MetadataEventType, evt.Type.String())
	msg.Metadata.Set(MetadataEntityID, evt.EntityID)
	msg.Metadata.Set(MetadataCorrelationID, evt.CorrelationID)

	if err := b.publisher.Publish(b.topic, msg); err != nil {
		b.logger.Error("Failed to publish event",
			zap.String("event_id", evt.ID),
			zap.String("event_type", evt.Type.String()),
			zap.Error(err))
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Topic returns the topic events are published on
func (b *Broadcaster) Topic() string {
	return b.topic
}

// Close closes the underlying publisher
func (b *Broadcaster) Close() error {
	return b.publisher.Close()
}

// DecodeEvent reads an event published by Broadcaster
func DecodeEvent(msg *message.Message) (*event.Event, error) {
	var evt event.Event
	if err := json.Unmarshal(msg.Payload, &evt); err != nil {
		return nil, fmt.Errorf("failed to decode event %s: %w", msg.UUID, err)
	}
	return &evt, nil
}

var _ port.Broadcaster = (*Broadcaster)(nil)
