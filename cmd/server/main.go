package main

// @title           Notify Service API
// @version         1.0
// @description     Real-time notification delivery over WebSocket, with REST APIs for users, producers and operators
// @host            localhost:8080
// @BasePath        /
// @schemes         http https

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.

// @securityDefinitions.apikey AdminToken
// @in header
// @name X-Admin-Token

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"notify-service/internal/adapters/kafka"
	"notify-service/internal/api/handlers"
	"notify-service/internal/api/routes"
	"notify-service/internal/auth"
	"notify-service/internal/buffer"
	"notify-service/internal/config"
	"notify-service/internal/database"
	"notify-service/internal/events"
	"notify-service/internal/limits"
	"notify-service/internal/logger"
	"notify-service/internal/metrics"
	"notify-service/internal/repositories/postgres"
	"notify-service/internal/services"
	"notify-service/internal/websocket"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load config:", err)
		os.Exit(1)
	}

	log := logger.New(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
	log.Info().Msg("server stopped")
}

func run(cfg *config.Config, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().Msg("starting notify service")

	redisClient, err := database.NewRedisConnection(&cfg.Redis, log)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	db, err := database.NewPostgresConnection(database.PostgresDSN(&cfg.Database), log)
	if err != nil {
		return err
	}

	m := metrics.New(prometheus.DefaultRegisterer)
	clk := clock.New()

	breakers := limits.NewBreakers(limits.BreakerConfig{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		FailureWindow:    cfg.Breaker.FailureWindow,
		Cooldown:         cfg.Breaker.Cooldown,
		OnStateChange: func(scope string, from, to limits.State) {
			m.BreakerTransition(scope, to.String())
			log.Warn().Str("component", "breaker").Str("scope", scope).
				Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
	}, clk)
	guard := limits.NewGuard(limits.GuardConfig{
		Global:  limits.WindowConfig{Limit: cfg.RateLimit.GlobalLimit, Window: cfg.RateLimit.Window},
		User:    limits.WindowConfig{Limit: cfg.RateLimit.UserLimit, Window: cfg.RateLimit.Window},
		Origin:  limits.WindowConfig{Limit: cfg.RateLimit.OriginLimit, Window: cfg.RateLimit.Window},
		MaxKeys: cfg.RateLimit.MaxKeys,
	}, breakers, clk)
	handshake := limits.NewHandshakeLimiter(limits.HandshakeLimiterConfig{
		IPRate:  cfg.RateLimit.HandshakeIPRate,
		IPBurst: cfg.RateLimit.HandshakeBurst,
		MaxIPs:  cfg.RateLimit.MaxKeys,
		Logger:  log,
	})
	buf := buffer.New(buffer.Config{
		MaxEntries: cfg.Buffer.MaxEntries,
		MaxBytes:   cfg.Buffer.MaxBytes,
		TTL:        cfg.Buffer.TTL,
		SweepEvery: cfg.Buffer.SweepEvery,
		Clock:      clk,
		Logger:     log,
	})

	redisService := services.NewRedisService(redisClient, log)
	authenticator := auth.NewJWTAuthenticator(cfg.JWT.Secret, 0)

	// Initialize WebSocket hub
	hub := websocket.NewHub(websocket.Options{
		NodeID:            cfg.Server.NodeID,
		IdleTimeout:       cfg.Realtime.IdleTimeout,
		HeartbeatInterval: cfg.Realtime.HeartbeatInterval,
		MissedBeats:       cfg.Realtime.MissedBeats,
		MaxConnsPerUser:   cfg.Realtime.MaxConnsPerUser,
		Shards:            cfg.Realtime.Shards,
		SendQueueSize:     cfg.Realtime.SendQueueSize,
		HandshakeTimeout:  cfg.Realtime.HandshakeTimeout,
		MaxMessageBytes:   cfg.Realtime.MaxMessageBytes,
		PresenceTTL:       cfg.Realtime.PresenceTTL,
		AllowedOrigins:    cfg.Server.AllowedOrigins,
	}, websocket.Deps{
		Auth:      authenticator,
		Transport: redisService,
		Presence:  redisService,
		Guard:     guard,
		Handshake: handshake,
		Buffer:    buf,
		Metrics:   m,
		Logger:    log,
		Clock:     clk,
	})

	notifications := services.NewNotificationService(
		postgres.NewNotificationRepository(db), hub.Broker(), guard, clk, log)

	var (
		emitter  handlers.EventEmitter
		consumer *events.Consumer
	)
	if cfg.Kafka.Enabled {
		saramaProducer, err := kafka.InitKafkaProducer(cfg.Kafka.Brokers, "notify-service-"+hub.NodeID())
		if err != nil {
			return fmt.Errorf("init dead-letter producer: %w", err)
		}
		dlq := kafka.NewDeadLetterProducer(saramaProducer, cfg.Kafka.DLQTopic)
		defer dlq.Close()

		consumer = events.NewConsumer(
			events.NewReader(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.GroupID),
			notifications, dlq, events.ConsumerConfig{}, m, log)

		producer := events.NewProducer(events.NewWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic))
		defer producer.Close()
		emitter = producer

		log.Info().Strs("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.Topic).Msg("kafka ingress enabled")
	}

	// Initialize router with all dependencies
	router := routes.NewRouter(routes.Deps{
		Hub:            hub,
		Notifications:  notifications,
		Publisher:      notifications,
		Emitter:        emitter,
		RateChecker:    redisService,
		Auth:           authenticator,
		AdminToken:     cfg.Server.AdminToken,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Logger:         log,
	})
	router.SetupRoutes()

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:      router.GetEngine(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return hub.Run(gctx) })
	if consumer != nil {
		g.Go(func() error { return consumer.Run(gctx) })
	}
	g.Go(func() error {
		log.Info().Str("address", server.Addr).Str("node", hub.NodeID()).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	// Graceful shutdown. Hijacked WebSocket connections are closed by the hub.
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("server shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}
