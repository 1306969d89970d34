package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"notify-service/internal/limits"
	"notify-service/internal/models"
	"notify-service/internal/repositories/postgres"
	"notify-service/internal/websocket"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	storeBreakerScope = "store"

	// ExecutionChannelPrefix names the channel clients subscribe to for one
	// execution's progress.
	ExecutionChannelPrefix = "exec:"

	defaultListLimit = 20
	maxListLimit     = 100
)

var (
	ErrInvalidNotification = errors.New("invalid notification")
	ErrStoreUnavailable    = errors.New("notification store unavailable")
)

// NotificationStore persists notifications.
type NotificationStore interface {
	Create(ctx context.Context, n *models.Notification) error
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]*models.Notification, error)
	MarkRead(ctx context.Context, userID, id string, at time.Time) error
	UnreadCount(ctx context.Context, userID string) (int64, error)
}

// Deliverer pushes envelopes to connected clients. *websocket.Broker
// implements it.
type Deliverer interface {
	Publish(ctx context.Context, channel string, env websocket.Envelope) (int, error)
	DirectMessage(ctx context.Context, userID string, env websocket.Envelope) (websocket.Delivery, error)
}

type CreateNotificationInput struct {
	UserID   string          `json:"userId" binding:"required"`
	Category string          `json:"category"`
	Severity string          `json:"severity"`
	Title    string          `json:"title" binding:"required"`
	Body     string          `json:"body"`
	Action   json.RawMessage `json:"action,omitempty"`
}

func (in *CreateNotificationInput) normalize() error {
	in.UserID = strings.TrimSpace(in.UserID)
	in.Title = strings.TrimSpace(in.Title)
	if in.UserID == "" {
		return fmt.Errorf("%w: userId is required", ErrInvalidNotification)
	}
	if in.Title == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidNotification)
	}
	if in.Category == "" {
		in.Category = "general"
	}
	switch in.Severity {
	case "":
		in.Severity = models.SeverityInfo
	case models.SeverityInfo, models.SeverityWarning, models.SeverityCritical:
	default:
		return fmt.Errorf("%w: unknown severity %q", ErrInvalidNotification, in.Severity)
	}
	if len(in.Action) > 0 && !json.Valid(in.Action) {
		return fmt.Errorf("%w: action must be valid JSON", ErrInvalidNotification)
	}
	return nil
}

// NotificationService stores notifications and delivers them in real time.
type NotificationService struct {
	store     NotificationStore
	deliverer Deliverer
	guard     *limits.Guard
	clock     clock.Clock
	logger    zerolog.Logger
}

func NewNotificationService(store NotificationStore, deliverer Deliverer, guard *limits.Guard,
	clk clock.Clock, logger zerolog.Logger) *NotificationService {
	if clk == nil {
		clk = clock.New()
	}
	if guard == nil {
		guard = limits.NewGuard(limits.GuardConfig{}, nil, clk)
	}
	return &NotificationService{
		store:     store,
		deliverer: deliverer,
		guard:     guard,
		clock:     clk,
		logger:    logger.With().Str("component", "notification_service").Logger(),
	}
}

// Create persists a notification and then pushes it to the user. A user with
// no live connection gets it from the offline buffer on reconnect, and from
// the list endpoint in any case. Each notification is charged to the global
// and the recipient's rate budget before anything is stored.
func (s *NotificationService) Create(ctx context.Context, in CreateNotificationInput) (*models.Notification, websocket.Delivery, error) {
	if err := in.normalize(); err != nil {
		return nil, websocket.Delivery{}, err
	}
	verdict := s.guard.AllowUser(in.UserID)
	s.guard.RecordUser(in.UserID, verdict.Err())
	if !verdict.Allowed {
		s.logger.Warn().Str("userID", in.UserID).Time("resetAt", verdict.ResetAt).Msg("notification rate limited")
		return nil, websocket.Delivery{}, verdict.Err()
	}
	n := &models.Notification{
		ID:        uuid.New().String(),
		UserID:    in.UserID,
		Category:  in.Category,
		Severity:  in.Severity,
		Title:     in.Title,
		Body:      in.Body,
		Action:    in.Action,
		CreatedAt: s.clock.Now().UTC(),
	}

	if err := s.withStore(func() error { return s.store.Create(ctx, n) }); err != nil {
		return nil, websocket.Delivery{}, err
	}

	delivery, err := s.deliverer.DirectMessage(ctx, n.UserID,
		websocket.NewEnvelope(websocket.MessageTypeNotification, "", n))
	if err != nil {
		// Stored but not pushed; the client still sees it when listing.
		s.logger.Warn().Err(err).Str("notificationID", n.ID).Str("userID", n.UserID).Msg("failed to push notification")
		return n, websocket.Delivery{}, nil
	}
	s.logger.Debug().Str("notificationID", n.ID).Str("userID", n.UserID).
		Str("delivery", string(delivery.Status)).Msg("notification created")
	return n, delivery, nil
}

func (s *NotificationService) ListFor(ctx context.Context, userID string, limit, offset int) ([]*models.Notification, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	var out []*models.Notification
	err := s.withStore(func() (err error) {
		out, err = s.store.ListByUser(ctx, userID, limit, offset)
		return err
	})
	return out, err
}

func (s *NotificationService) MarkRead(ctx context.Context, userID, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("%w: malformed id", ErrInvalidNotification)
	}
	return s.withStore(func() error { return s.store.MarkRead(ctx, userID, id, s.clock.Now().UTC()) })
}

func (s *NotificationService) UnreadCountFor(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := s.withStore(func() (err error) {
		count, err = s.store.UnreadCount(ctx, userID)
		return err
	})
	return count, err
}

// PublishToChannel broadcasts a service-side message. Only the global rate
// limit applies.
func (s *NotificationService) PublishToChannel(ctx context.Context, channel string, t websocket.MessageType, payload json.RawMessage) (int, error) {
	if err := websocket.ValidateName(channel); err != nil {
		return 0, err
	}
	if _, ok := strings.CutPrefix(channel, websocket.UserChannelPrefix); ok {
		return 0, fmt.Errorf("%w: use a notification for user channels", ErrInvalidNotification)
	}
	if verdict := s.guard.AllowGlobal(); !verdict.Allowed {
		return 0, verdict.Err()
	}
	return s.deliverer.Publish(ctx, channel, websocket.NewEnvelope(t, "", payload))
}

// PublishExecutionUpdate sends an execution_update to exec:<executionID>.
func (s *NotificationService) PublishExecutionUpdate(ctx context.Context, executionID string, payload json.RawMessage) (int, error) {
	return s.PublishToChannel(ctx, ExecutionChannel(executionID), websocket.MessageTypeExecutionUpdate, payload)
}

func ExecutionChannel(executionID string) string {
	return ExecutionChannelPrefix + executionID
}

// withStore runs fn behind the store breaker. Not-found is the caller's
// problem and does not count against the store.
func (s *NotificationService) withStore(fn func() error) error {
	breaker := s.guard.Breakers().Get(storeBreakerScope)
	if err := breaker.Allow(); err != nil {
		return errors.Join(ErrStoreUnavailable, err)
	}
	err := fn()
	switch {
	case err == nil, isClientError(err):
		breaker.RecordSuccess()
	default:
		breaker.RecordFailure()
		s.logger.Error().Err(err).Msg("notification store call failed")
		return errors.Join(ErrStoreUnavailable, err)
	}
	return err
}

func isClientError(err error) bool {
	return errors.Is(err, postgres.ErrNotificationNotFound)
}
