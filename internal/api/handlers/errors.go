package handlers

import (
	"errors"
	"net/http"

	"notify-service/internal/events"
	"notify-service/internal/limits"
	"notify-service/internal/repositories/postgres"
	"notify-service/internal/services"
	"notify-service/internal/websocket"
	"notify-service/pkg/response"

	"github.com/gin-gonic/gin"
)

// writeError maps service errors onto HTTP statuses.
func writeError(c *gin.Context, err error) {
	c.Error(err)

	switch {
	case errors.Is(err, services.ErrInvalidNotification),
		errors.Is(err, websocket.ErrInvalidMessage),
		errors.Is(err, events.ErrUnroutable):
		response.Error(c, http.StatusBadRequest, response.ErrCodeParamInvalid, err.Error())
	case errors.Is(err, postgres.ErrNotificationNotFound),
		errors.Is(err, limits.ErrUnknownScope):
		response.Error(c, http.StatusNotFound, response.ErrCodeNotFound, err.Error())
	case errors.Is(err, limits.ErrRateLimitExceeded):
		response.Error(c, http.StatusTooManyRequests, response.ErrCodeRateLimited, err.Error())
	case errors.Is(err, services.ErrStoreUnavailable), errors.Is(err, limits.ErrCircuitOpen):
		response.Error(c, http.StatusServiceUnavailable, response.ErrCodeStoreUnavailable, err.Error())
	default:
		response.Error(c, http.StatusInternalServerError, response.ErrCodeInternal, "")
	}
}

func badRequest(c *gin.Context, err error) {
	c.Error(err)
	response.Error(c, http.StatusBadRequest, response.ErrCodeParamInvalid, err.Error())
}
