package distributed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"proctorsfu/internal/core/domain"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// EventType represents the type of event
type EventType string

const (
	EventSessionStarted  EventType = "session.started"
	EventSessionEnded    EventType = "session.ended"
	EventProducerCreated EventType = "producer.created"
	EventProducerClosed  EventType = "producer.closed"
	EventWorkerDied      EventType = "worker.died"
)

// Event is one record on the exam platform event channel. The platform
// backend subscribes to react to session lifecycle without polling.
type Event struct {
	Type       EventType       `json:"type"`
	InstanceID string          `json:"instance_id"`
	Timestamp  time.Time       `json:"timestamp"`
	RoomID     domain.RoomID   `json:"room_id,omitempty"`
	UserID     domain.UserID   `json:"user_id,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// EventBus publishes session events over Redis pub/sub.
type EventBus struct {
	client     *redis.Client
	instanceID string
	logger     *zap.SugaredLogger
	pubsub     *redis.PubSub
	channels   []string
}

// NewEventBus creates a new event bus
func NewEventBus(
	client *redis.Client,
	instanceID string,
	logger *zap.SugaredLogger,
) *EventBus {
	return &EventBus{
		client:     client,
		instanceID: instanceID,
		logger:     logger,
		channels:   []string{"proctorsfu:events"},
	}
}

// Publish publishes an event to the event bus
func (eb *EventBus) Publish(ctx context.Context, event *Event) error {
	event.InstanceID = eb.instanceID
	event.Timestamp = time.Now()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	channel := eb.channels[0]
	if err := eb.client.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	eb.logger.Debugw("published event",
		"type", event.Type,
		"room_id", event.RoomID,
		"user_id", event.UserID,
	)

	return nil
}

// Subscribe subscribes to events and calls handler for each event
func (eb *EventBus) Subscribe(ctx context.Context, handler func(*Event) error) error {
	if eb.pubsub != nil {
		return fmt.Errorf("already subscribed")
	}

	eb.pubsub = eb.client.Subscribe(ctx, eb.channels...)
	defer eb.pubsub.Close()

	ch := eb.pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-ch:
			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				eb.logger.Warnw("failed to unmarshal event",
					"error", err,
					"payload", msg.Payload,
				)
				continue
			}

			// Skip events from this instance
			if event.InstanceID == eb.instanceID {
				continue
			}

			if err := handler(&event); err != nil {
				eb.logger.Warnw("error handling event",
					"type", event.Type,
					"error", err,
				)
			}
		}
	}
}

// PublishProducerCreated publishes a producer created event
func (eb *EventBus) PublishProducerCreated(ctx context.Context, info domain.ProducerInfo) error {
	payload, _ := json.Marshal(info)

	return eb.Publish(ctx, &Event{
		Type:    EventProducerCreated,
		RoomID:  info.RoomID,
		UserID:  info.UserID,
		Payload: payload,
	})
}

// PublishSessionEnded publishes a session ended event
func (eb *EventBus) PublishSessionEnded(ctx context.Context, roomID domain.RoomID) error {
	return eb.Publish(ctx, &Event{
		Type:   EventSessionEnded,
		RoomID: roomID,
	})
}

// PublishWorkerDied publishes a worker death event
func (eb *EventBus) PublishWorkerDied(ctx context.Context, pid int) error {
	payload, _ := json.Marshal(map[string]interface{}{
		"pid": pid,
	})

	return eb.Publish(ctx, &Event{
		Type:    EventWorkerDied,
		Payload: payload,
	})
}

// Close closes the event bus
func (eb *EventBus) Close() error {
	if eb.pubsub != nil {
		return eb.pubsub.Close()
	}
	return nil
}
