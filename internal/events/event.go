package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"notify-service/internal/models"
	"notify-service/internal/services"
	"notify-service/internal/websocket"
)

// Event types accepted on the ingress topic.
const (
	TypeExecutionUpdate = "execution_update"
	TypeNotification    = "notification"
	TypeChannelMessage  = "channel_message"
)

// ErrUnroutable marks an event that can never be delivered, however often it
// is retried.
var ErrUnroutable = errors.New("unroutable event")

// Event is the JSON value of an ingress message.
type Event struct {
	Type         string                            `json:"type"`
	ExecutionID  string                            `json:"executionId,omitempty"`
	Channel      string                            `json:"channel,omitempty"`
	Payload      json.RawMessage                   `json:"payload,omitempty"`
	Notification *services.CreateNotificationInput `json:"notification,omitempty"`
}

// Key is the partition key: events for one execution or user stay ordered.
func (e Event) Key() []byte {
	switch e.Type {
	case TypeExecutionUpdate:
		return []byte(e.ExecutionID)
	case TypeNotification:
		if e.Notification != nil {
			return []byte(e.Notification.UserID)
		}
	}
	return []byte(e.Channel)
}

func (e Event) Validate() error {
	switch e.Type {
	case TypeExecutionUpdate:
		if e.ExecutionID == "" {
			return fmt.Errorf("%w: executionId is required", ErrUnroutable)
		}
		if len(e.Payload) == 0 {
			return fmt.Errorf("%w: payload is required", ErrUnroutable)
		}
	case TypeNotification:
		if e.Notification == nil {
			return fmt.Errorf("%w: notification is required", ErrUnroutable)
		}
	case TypeChannelMessage:
		if err := websocket.ValidateName(e.Channel); err != nil {
			return fmt.Errorf("%w: %v", ErrUnroutable, err)
		}
		if len(e.Payload) == 0 {
			return fmt.Errorf("%w: payload is required", ErrUnroutable)
		}
	default:
		return fmt.Errorf("%w: unknown type %q", ErrUnroutable, e.Type)
	}
	return nil
}

func Decode(data []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrUnroutable, err)
	}
	return e, e.Validate()
}

// Sink is where routed events end up. *services.NotificationService
// implements it.
type Sink interface {
	Create(ctx context.Context, in services.CreateNotificationInput) (*models.Notification, websocket.Delivery, error)
	PublishExecutionUpdate(ctx context.Context, executionID string, payload json.RawMessage) (int, error)
	PublishToChannel(ctx context.Context, channel string, t websocket.MessageType, payload json.RawMessage) (int, error)
}

// Route hands a decoded event to the sink. Invalid input is reported as
// ErrUnroutable so the caller can dead-letter it instead of retrying.
func Route(ctx context.Context, sink Sink, e Event) error {
	var err error
	switch e.Type {
	case TypeExecutionUpdate:
		_, err = sink.PublishExecutionUpdate(ctx, e.ExecutionID, e.Payload)
	case TypeNotification:
		_, _, err = sink.Create(ctx, *e.Notification)
	case TypeChannelMessage:
		_, err = sink.PublishToChannel(ctx, e.Channel, websocket.MessageTypeChannelMessage, e.Payload)
	default:
		return fmt.Errorf("%w: unknown type %q", ErrUnroutable, e.Type)
	}
	if errors.Is(err, services.ErrInvalidNotification) || errors.Is(err, websocket.ErrInvalidMessage) {
		return errors.Join(ErrUnroutable, err)
	}
	return err
}
