package handlers

import (
	"net/http"
	"time"

	"notify-service/internal/limits"
	"notify-service/internal/websocket"

	"github.com/gin-gonic/gin"
)

type AdminHandler struct {
	hub *websocket.Hub
}

func NewAdminHandler(hub *websocket.Hub) *AdminHandler {
	return &AdminHandler{hub: hub}
}

type ConnectionInfo struct {
	ID           string    `json:"id"`
	UserID       string    `json:"userId"`
	Origin       string    `json:"origin"`
	UserAgent    string    `json:"userAgent"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActivity time.Time `json:"lastActivity"`
	Channels     []string  `json:"channels"`
	Rooms        []string  `json:"rooms"`
}

// ListConnections godoc
// @Summary List connections
// @Description Every connection registered on this instance
// @Tags admin
// @Produce json
// @Security AdminToken
// @Success 200 {array} ConnectionInfo
// @Router /admin/connections [get]
func (h *AdminHandler) ListConnections(c *gin.Context) {
	registry := h.hub.Registry()
	clients := registry.All()
	out := make([]ConnectionInfo, 0, len(clients))
	for _, cl := range clients {
		channels, rooms := registry.Memberships(cl.ID())
		out = append(out, ConnectionInfo{
			ID:           cl.ID(),
			UserID:       cl.UserID(),
			Origin:       cl.Origin(),
			UserAgent:    cl.UserAgent(),
			CreatedAt:    cl.CreatedAt(),
			LastActivity: cl.LastActivity(),
			Channels:     channels,
			Rooms:        rooms,
		})
	}
	c.JSON(http.StatusOK, out)
}

// DisconnectUser godoc
// @Summary Disconnect a user
// @Description Close every connection the user holds on this instance
// @Tags admin
// @Produce json
// @Security AdminToken
// @Param id path string true "User ID"
// @Success 200 {object} map[string]int "Number of closed connections"
// @Router /admin/users/{id}/connections [delete]
func (h *AdminHandler) DisconnectUser(c *gin.Context) {
	closed := h.hub.DisconnectUser(c.Param("id"))
	c.JSON(http.StatusOK, gin.H{"closed": closed})
}

// ListBreakers godoc
// @Summary List circuit breakers
// @Tags admin
// @Produce json
// @Security AdminToken
// @Success 200 {array} limits.BreakerStats
// @Router /admin/breakers [get]
func (h *AdminHandler) ListBreakers(c *gin.Context) {
	stats := h.hub.Guard().Breakers().Snapshot()
	if stats == nil {
		stats = []limits.BreakerStats{}
	}
	c.JSON(http.StatusOK, stats)
}

// ResetBreaker godoc
// @Summary Reset a circuit breaker
// @Description Force a breaker closed, e.g. fanout, store, user:<id> or origin:<ip>
// @Tags admin
// @Security AdminToken
// @Param scope path string true "Breaker scope"
// @Success 204 "Breaker closed"
// @Failure 404 {object} response.ErrorBody "No breaker for this scope"
// @Router /admin/breakers/{scope}/reset [post]
func (h *AdminHandler) ResetBreaker(c *gin.Context) {
	if err := h.hub.Guard().ResetBreaker(c.Param("scope")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
