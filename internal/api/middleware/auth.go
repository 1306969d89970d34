package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"notify-service/internal/websocket"
	"notify-service/pkg/response"

	"github.com/gin-gonic/gin"
)

// UserIDKey is the gin context key holding the authenticated user id.
const UserIDKey = "user_id"

// AdminTokenHeader carries the shared secret for admin and producer routes.
const AdminTokenHeader = "X-Admin-Token"

type AuthMiddleware struct {
	auth       websocket.Authenticator
	adminToken string
}

func NewAuthMiddleware(auth websocket.Authenticator, adminToken string) *AuthMiddleware {
	return &AuthMiddleware{
		auth:       auth,
		adminToken: adminToken,
	}
}

func (am *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			response.Error(c, http.StatusUnauthorized, response.ErrCodeUnauthorized, "authorization header is required")
			return
		}

		tokenString, ok := strings.CutPrefix(authHeader, "Bearer ")
		if !ok || strings.TrimSpace(tokenString) == "" {
			response.Error(c, http.StatusUnauthorized, response.ErrCodeUnauthorized, "authorization header must be a bearer token")
			return
		}

		userID, err := am.auth.Verify(c.Request.Context(), strings.TrimSpace(tokenString))
		if err != nil {
			c.Error(err)
			response.Error(c, http.StatusUnauthorized, response.ErrCodeUnauthorized, "invalid token")
			return
		}

		c.Set(UserIDKey, userID)
		c.Next()
	}
}

// RequireAdmin guards operator and producer routes. With no token
// configured the routes are disabled.
func (am *AuthMiddleware) RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if am.adminToken == "" {
			response.Error(c, http.StatusForbidden, response.ErrCodeForbidden, "admin API is disabled")
			return
		}
		given := c.GetHeader(AdminTokenHeader)
		if subtle.ConstantTimeCompare([]byte(given), []byte(am.adminToken)) != 1 {
			response.Error(c, http.StatusForbidden, response.ErrCodeForbidden, "invalid admin token")
			return
		}
		c.Next()
	}
}

// UserID returns the id set by RequireAuth.
func UserID(c *gin.Context) string {
	return c.GetString(UserIDKey)
}
