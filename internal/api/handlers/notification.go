package handlers

import (
	"context"
	"net/http"
	"strconv"

	"notify-service/internal/api/middleware"
	"notify-service/internal/models"

	"github.com/gin-gonic/gin"
)

// NotificationReader is the user-facing side of the notification service.
type NotificationReader interface {
	ListFor(ctx context.Context, userID string, limit, offset int) ([]*models.Notification, error)
	MarkRead(ctx context.Context, userID, id string) error
	UnreadCountFor(ctx context.Context, userID string) (int64, error)
}

type NotificationHandler struct {
	notifications NotificationReader
}

func NewNotificationHandler(notifications NotificationReader) *NotificationHandler {
	return &NotificationHandler{notifications: notifications}
}

type NotificationListResponse struct {
	Items  []*models.Notification `json:"items"`
	Limit  int                    `json:"limit"`
	Offset int                    `json:"offset"`
}

// ListNotifications godoc
// @Summary List notifications
// @Description List the current user's notifications, newest first
// @Tags notifications
// @Produce json
// @Security BearerAuth
// @Param limit query int false "Page size (default 20, max 100)"
// @Param offset query int false "Items to skip"
// @Success 200 {object} NotificationListResponse
// @Failure 400 {object} response.ErrorBody "Invalid paging parameters"
// @Failure 401 {object} response.ErrorBody "Unauthorized - invalid or missing token"
// @Failure 503 {object} response.ErrorBody "Notification store unavailable"
// @Router /api/v1/notifications [get]
func (h *NotificationHandler) ListNotifications(c *gin.Context) {
	limit, err := queryInt(c, "limit")
	if err != nil {
		badRequest(c, err)
		return
	}
	offset, err := queryInt(c, "offset")
	if err != nil {
		badRequest(c, err)
		return
	}

	items, err := h.notifications.ListFor(c.Request.Context(), middleware.UserID(c), limit, offset)
	if err != nil {
		writeError(c, err)
		return
	}
	if items == nil {
		items = []*models.Notification{}
	}
	c.JSON(http.StatusOK, NotificationListResponse{Items: items, Limit: limit, Offset: offset})
}

// UnreadCount godoc
// @Summary Unread notification count
// @Tags notifications
// @Produce json
// @Security BearerAuth
// @Success 200 {object} map[string]int64 "Number of unread notifications"
// @Failure 401 {object} response.ErrorBody "Unauthorized - invalid or missing token"
// @Failure 503 {object} response.ErrorBody "Notification store unavailable"
// @Router /api/v1/notifications/unread-count [get]
func (h *NotificationHandler) UnreadCount(c *gin.Context) {
	count, err := h.notifications.UnreadCountFor(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"unread": count})
}

// MarkRead godoc
// @Summary Mark a notification as read
// @Tags notifications
// @Security BearerAuth
// @Param id path string true "Notification ID"
// @Success 204 "Marked as read"
// @Failure 400 {object} response.ErrorBody "Malformed id"
// @Failure 404 {object} response.ErrorBody "No such notification for this user"
// @Router /api/v1/notifications/{id}/read [put]
func (h *NotificationHandler) MarkRead(c *gin.Context) {
	if err := h.notifications.MarkRead(c.Request.Context(), middleware.UserID(c), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// queryInt reads an optional non-negative integer query parameter.
func queryInt(c *gin.Context, name string) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, &paramError{name: name, value: raw}
	}
	return n, nil
}

type paramError struct {
	name, value string
}

func (e *paramError) Error() string {
	return "invalid " + e.name + " parameter: " + strconv.Quote(e.value)
}
