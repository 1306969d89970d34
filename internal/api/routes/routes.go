package routes

import (
	"net/http"
	"time"

	"notify-service/internal/api/handlers"
	"notify-service/internal/api/middleware"
	"notify-service/internal/websocket"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "notify-service/docs"
)

// Deps are the collaborators the HTTP layer serves.
type Deps struct {
	Hub            *websocket.Hub
	Notifications  handlers.NotificationReader
	Publisher      handlers.NotificationPublisher
	Emitter        handlers.EventEmitter // optional
	RateChecker    middleware.RateChecker
	Auth           websocket.Authenticator
	AdminToken     string
	AllowedOrigins []string
	Gatherer       prometheus.Gatherer // defaults to the global registry
	Logger         zerolog.Logger
}

type Router struct {
	engine              *gin.Engine
	gatherer            prometheus.Gatherer
	wsHandler           *handlers.WSHandler
	notificationHandler *handlers.NotificationHandler
	producerHandler     *handlers.ProducerHandler
	adminHandler        *handlers.AdminHandler
	rateLimitMW         *middleware.RateLimitMiddleware
	authMW              *middleware.AuthMiddleware
}

func NewRouter(deps Deps) *Router {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()

	// Add middlewares
	engine.Use(gin.Recovery())
	engine.Use(middleware.CORS(deps.AllowedOrigins))
	engine.Use(middleware.LogApi(deps.Logger))

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	return &Router{
		engine:              engine,
		gatherer:            gatherer,
		wsHandler:           handlers.NewWSHandler(deps.Hub),
		notificationHandler: handlers.NewNotificationHandler(deps.Notifications),
		producerHandler:     handlers.NewProducerHandler(deps.Publisher, deps.Emitter),
		adminHandler:        handlers.NewAdminHandler(deps.Hub),
		rateLimitMW:         middleware.NewRateLimitMiddleware(deps.RateChecker, deps.Logger),
		authMW:              middleware.NewAuthMiddleware(deps.Auth, deps.AdminToken),
	}
}

func (r *Router) SetupRoutes() {
	r.engine.GET("/healthz", r.wsHandler.Health)
	r.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})))
	r.engine.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// The hub authenticates and throttles handshakes itself.
	r.engine.GET("/ws", r.wsHandler.HandleWebSocket)

	api := r.engine.Group("/api/v1")

	// Authenticated routes
	auth := api.Group("/")
	auth.Use(r.authMW.RequireAuth())
	{
		notifications := auth.Group("/notifications")
		notifications.Use(r.rateLimitMW.RateLimit(100, time.Minute)) // 100 requests per minute
		{
			notifications.GET("", r.notificationHandler.ListNotifications)
			notifications.GET("/unread-count", r.notificationHandler.UnreadCount)
			notifications.PUT("/:id/read", r.notificationHandler.MarkRead)
		}
	}

	// Producer routes for other services
	internal := api.Group("/internal")
	internal.Use(r.authMW.RequireAdmin())
	internal.Use(r.rateLimitMW.RateLimitIP(6000, time.Minute))
	{
		internal.POST("/notifications", r.producerHandler.CreateNotification)
		internal.POST("/channels/:name/publish", r.producerHandler.PublishToChannel)
		internal.POST("/executions/:id/updates", r.producerHandler.PublishExecutionUpdate)
		internal.POST("/events", r.producerHandler.EmitEvent)
	}

	admin := r.engine.Group("/admin")
	admin.Use(r.authMW.RequireAdmin())
	{
		admin.GET("/connections", r.adminHandler.ListConnections)
		admin.DELETE("/users/:id/connections", r.adminHandler.DisconnectUser)
		admin.GET("/breakers", r.adminHandler.ListBreakers)
		admin.POST("/breakers/:scope/reset", r.adminHandler.ResetBreaker)
	}

	r.engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
	})
}

func (r *Router) GetEngine() *gin.Engine {
	return r.engine
}
