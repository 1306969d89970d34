package handlers

import (
	"notify-service/internal/websocket"

	"github.com/gin-gonic/gin"
)

type WSHandler struct {
	hub *websocket.Hub
}

func NewWSHandler(hub *websocket.Hub) *WSHandler {
	return &WSHandler{hub: hub}
}

// HandleWebSocket godoc
// @Summary WebSocket connection
// @Description Establish a WebSocket connection for real-time notifications. The credential is the Authorization bearer header, or the access_token query parameter for browsers.
// @Tags websocket
// @Param access_token query string false "JWT when the Authorization header cannot be set"
// @Param channels query string false "Comma separated channels to subscribe to on connect"
// @Success 101 "Switching Protocols - WebSocket connection established"
// @Failure 401 {string} string "Missing or invalid credential"
// @Failure 429 {string} string "Too many connection attempts from this address"
// @Router /ws [get]
func (h *WSHandler) HandleWebSocket(c *gin.Context) {
	h.hub.ServeWS(c.Writer, c.Request, c.ClientIP())
}

// Health godoc
// @Summary Service health
// @Description Connection counts and breaker state for this instance. A degraded instance only delivers to its own connections.
// @Tags health
// @Produce json
// @Success 200 {object} websocket.HealthStatus
// @Router /healthz [get]
func (h *WSHandler) Health(c *gin.Context) {
	c.JSON(200, h.hub.Health())
}
