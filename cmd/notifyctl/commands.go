package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"notify-service/internal/auth"
	"notify-service/internal/database"
	"notify-service/internal/models"
	"notify-service/internal/repositories/postgres"
	"notify-service/pkg/reconnect"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func buildMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the notification schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			log.Info().Msg("starting database migration...")
			// NewPostgresConnection migrates before returning.
			if _, err := database.NewPostgresConnection(database.PostgresDSN(&cfg.Database), log); err != nil {
				return err
			}
			log.Info().Msg("database migration completed successfully")
			return nil
		},
	}
}

var seedTitles = []struct {
	category, severity, title string
}{
	{"execution", models.SeverityInfo, "Workflow run completed"},
	{"execution", models.SeverityCritical, "Workflow run failed"},
	{"billing", models.SeverityWarning, "Usage is at 80% of your plan"},
	{"general", models.SeverityInfo, "Welcome to notifications"},
}

func buildSeedCmd() *cobra.Command {
	var (
		userID string
		count  int
	)
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Insert sample notifications for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			db, err := database.NewPostgresConnection(database.PostgresDSN(&cfg.Database), log)
			if err != nil {
				return err
			}
			repo := postgres.NewNotificationRepository(db)

			now := time.Now().UTC()
			for i := 0; i < count; i++ {
				sample := seedTitles[i%len(seedTitles)]
				n := &models.Notification{
					ID:        uuid.New().String(),
					UserID:    userID,
					Category:  sample.category,
					Severity:  sample.severity,
					Title:     sample.title,
					CreatedAt: now.Add(-time.Duration(count-i) * time.Minute),
				}
				if err := repo.Create(cmd.Context(), n); err != nil {
					return fmt.Errorf("seed notification %d: %w", i, err)
				}
			}
			log.Info().Str("userID", userID).Int("count", count).Msg("database seeding completed")
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "User ID to seed notifications for")
	cmd.Flags().IntVar(&count, "count", 10, "Number of notifications")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func buildTokenCmd() *cobra.Command {
	var (
		userID string
		secret string
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Print a development JWT for a user",
		Long: `Sign a token with the server's JWT secret. Production tokens come from the
authentication service; this is for local testing only.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				cfg, _, err := loadConfig()
				if err != nil {
					return err
				}
				secret = cfg.JWT.Secret
			}
			token, err := auth.NewJWTAuthenticator(secret, ttl).Issue(userID)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "User ID (user_id claim)")
	cmd.Flags().StringVar(&secret, "secret", "", "Signing secret (default: NOTIFY_JWT_SECRET)")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "Token lifetime")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func buildListenCmd() *cobra.Command {
	var (
		url      string
		token    string
		channels []string
		rooms    []string
	)
	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Connect and print every event the user receives",
		Long: `Open a WebSocket to the server and keep it open across restarts and network
drops. Channel subscriptions and rooms are restored on every reconnect.`,
		Example: `  notifyctl listen --token "$(notifyctl token --user alice)" --channel exec:123`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			if token == "" {
				token = os.Getenv("NOTIFY_TOKEN")
			}
			if token == "" {
				return fmt.Errorf("a token is required (--token or NOTIFY_TOKEN)")
			}

			header := http.Header{}
			header.Set("Authorization", "Bearer "+token)
			out := cmd.OutOrStdout()
			ctrl := reconnect.New(reconnect.Config{
				URL:         url,
				Header:      header,
				Base:        cfg.Reconnect.Base,
				Cap:         cfg.Reconnect.Cap,
				Jitter:      cfg.Reconnect.Jitter,
				MaxAttempts: cfg.Reconnect.MaxAttempts,
				OnMessage:   func(data []byte) { fmt.Fprintln(out, string(data)) },
				Logger:      log,
			})
			for _, ch := range channels {
				if err := ctrl.Subscribe(ch); err != nil {
					return err
				}
			}
			for _, room := range rooms {
				if err := ctrl.JoinRoom(room); err != nil {
					return err
				}
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			ctrl.Start(ctx)
			defer ctrl.Close()

			return watchStates(ctx, ctrl, func(s reconnect.State) {
				log.Info().Str("state", s.String()).Int("failures", ctrl.Failures()).Msg("connection state")
			})
		},
	}
	cmd.Flags().StringVar(&url, "url", "ws://localhost:8080/ws", "WebSocket endpoint")
	cmd.Flags().StringVar(&token, "token", "", "JWT (default: NOTIFY_TOKEN)")
	cmd.Flags().StringSliceVar(&channels, "channel", nil, "Channel to subscribe to (repeatable)")
	cmd.Flags().StringSliceVar(&rooms, "room", nil, "Room to join (repeatable)")
	return cmd
}

// watchStates reports transitions until ctx ends or the controller gives up.
func watchStates(ctx context.Context, ctrl *reconnect.Controller, report func(reconnect.State)) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case s := <-ctrl.States():
			report(s)
			if s == reconnect.StateFailed {
				return fmt.Errorf("giving up after %d failed attempts", ctrl.Failures())
			}
		}
	}
}
