package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"notify-service/internal/events"
	"notify-service/internal/models"
	"notify-service/internal/services"
	"notify-service/internal/websocket"
	"notify-service/pkg/response"

	"github.com/gin-gonic/gin"
)

// NotificationPublisher is the producer-facing side of the notification
// service.
type NotificationPublisher interface {
	Create(ctx context.Context, in services.CreateNotificationInput) (*models.Notification, websocket.Delivery, error)
	PublishToChannel(ctx context.Context, channel string, t websocket.MessageType, payload json.RawMessage) (int, error)
	PublishExecutionUpdate(ctx context.Context, executionID string, payload json.RawMessage) (int, error)
}

// EventEmitter enqueues events for asynchronous delivery.
type EventEmitter interface {
	Emit(ctx context.Context, e events.Event) error
}

// ProducerHandler serves the internal API used by the execution engine and
// other services to push events to users.
type ProducerHandler struct {
	publisher NotificationPublisher
	emitter   EventEmitter // nil when Kafka ingress is disabled
}

func NewProducerHandler(publisher NotificationPublisher, emitter EventEmitter) *ProducerHandler {
	return &ProducerHandler{publisher: publisher, emitter: emitter}
}

type CreateNotificationResponse struct {
	Notification *models.Notification `json:"notification"`
	Delivery     string               `json:"delivery"`
	Local        int                  `json:"localConnections"`
}

type PublishRequest struct {
	Type    websocket.MessageType `json:"type"`
	Payload json.RawMessage       `json:"payload" binding:"required"`
}

type PublishResponse struct {
	Channel   string `json:"channel"`
	Delivered int    `json:"delivered"`
}

// CreateNotification godoc
// @Summary Create a notification
// @Description Persist a notification and push it to the user's live connections, or buffer it until they reconnect
// @Tags internal
// @Accept json
// @Produce json
// @Security AdminToken
// @Param request body services.CreateNotificationInput true "Notification"
// @Success 201 {object} CreateNotificationResponse
// @Failure 400 {object} response.ErrorBody "Invalid notification"
// @Failure 403 {object} response.ErrorBody "Invalid admin token"
// @Failure 503 {object} response.ErrorBody "Notification store unavailable"
// @Router /api/v1/internal/notifications [post]
func (h *ProducerHandler) CreateNotification(c *gin.Context) {
	var in services.CreateNotificationInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err)
		return
	}

	n, delivery, err := h.publisher.Create(c.Request.Context(), in)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, CreateNotificationResponse{
		Notification: n,
		Delivery:     string(delivery.Status),
		Local:        delivery.Local,
	})
}

// PublishToChannel godoc
// @Summary Publish to a channel
// @Description Broadcast a payload to every subscriber of a channel on every instance
// @Tags internal
// @Accept json
// @Produce json
// @Security AdminToken
// @Param name path string true "Channel name"
// @Param request body PublishRequest true "Message type (channel_message or execution_update) and payload"
// @Success 202 {object} PublishResponse
// @Failure 400 {object} response.ErrorBody "Invalid channel or payload"
// @Failure 429 {object} response.ErrorBody "Global rate limit exceeded"
// @Router /api/v1/internal/channels/{name}/publish [post]
func (h *ProducerHandler) PublishToChannel(c *gin.Context) {
	var req PublishRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	switch req.Type {
	case "":
		req.Type = websocket.MessageTypeChannelMessage
	case websocket.MessageTypeChannelMessage, websocket.MessageTypeExecutionUpdate:
	default:
		badRequest(c, errors.New("type must be channel_message or execution_update"))
		return
	}

	channel := c.Param("name")
	n, err := h.publisher.PublishToChannel(c.Request.Context(), channel, req.Type, req.Payload)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, PublishResponse{Channel: channel, Delivered: n})
}

// PublishExecutionUpdate godoc
// @Summary Publish an execution update
// @Description Send an execution_update to subscribers of exec:{id}
// @Tags internal
// @Accept json
// @Produce json
// @Security AdminToken
// @Param id path string true "Execution ID"
// @Param request body object true "Update payload"
// @Success 202 {object} PublishResponse
// @Failure 400 {object} response.ErrorBody "Invalid payload"
// @Failure 429 {object} response.ErrorBody "Global rate limit exceeded"
// @Router /api/v1/internal/executions/{id}/updates [post]
func (h *ProducerHandler) PublishExecutionUpdate(c *gin.Context) {
	var payload json.RawMessage
	if err := c.ShouldBindJSON(&payload); err != nil {
		badRequest(c, err)
		return
	}

	id := c.Param("id")
	n, err := h.publisher.PublishExecutionUpdate(c.Request.Context(), id, payload)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, PublishResponse{Channel: services.ExecutionChannel(id), Delivered: n})
}

// EmitEvent godoc
// @Summary Enqueue an event
// @Description Write an event to the ingress topic for asynchronous delivery
// @Tags internal
// @Accept json
// @Produce json
// @Security AdminToken
// @Param request body events.Event true "Event"
// @Success 202 {object} map[string]string "Event enqueued"
// @Failure 400 {object} response.ErrorBody "Unroutable event"
// @Failure 503 {object} response.ErrorBody "Event ingress is not enabled"
// @Router /api/v1/internal/events [post]
func (h *ProducerHandler) EmitEvent(c *gin.Context) {
	if h.emitter == nil {
		response.Error(c, http.StatusServiceUnavailable, response.ErrCodeIngressDisabled, "")
		return
	}
	var e events.Event
	if err := c.ShouldBindJSON(&e); err != nil {
		badRequest(c, err)
		return
	}
	if err := h.emitter.Emit(c.Request.Context(), e); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "enqueued", "type": e.Type})
}
