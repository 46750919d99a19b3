package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/mkarlsen/sendlater/internal/api"
	"github.com/mkarlsen/sendlater/internal/cache"
	"github.com/mkarlsen/sendlater/internal/channel"
	"github.com/mkarlsen/sendlater/internal/config"
	"github.com/mkarlsen/sendlater/internal/models"
	"github.com/mkarlsen/sendlater/internal/retry"
	"github.com/mkarlsen/sendlater/internal/scheduler"
	"github.com/mkarlsen/sendlater/internal/status"
	"github.com/mkarlsen/sendlater/internal/storage"
)

var version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "sendlater",
		Short: "sendlater — scheduled and recurring message delivery",
	}

	var configPath string
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")

	rootCmd.AddCommand(serveCmd(&configPath))
	rootCmd.AddCommand(migrateCmd(&configPath))
	rootCmd.AddCommand(messageCmd(&configPath))
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the sendlater scheduler and management API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			log := setupLogger(cfg.Logging)

			store, err := setupStorage(cfg.Storage, log)
			if err != nil {
				return fmt.Errorf("failed to setup storage: %w", err)
			}
			defer store.Close()

			if err := store.Migrate(context.Background()); err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}
			log.Info().Msg("database migrations completed")

			registry := buildRegistry(cfg.Channels, log)

			policy := retry.Policy{
				MaxAttempts: cfg.Retry.MaxAttempts,
				BaseDelay:   cfg.Retry.BaseDelay,
				MaxDelay:    cfg.Retry.MaxDelay,
			}

			statusMgr := status.NewManager(store, policy, log)
			if cfg.Cache.RedisAddr != "" {
				rdb := redis.NewClient(&redis.Options{
					Addr:     cfg.Cache.RedisAddr,
					Password: cfg.Cache.RedisPassword,
					DB:       cfg.Cache.RedisDB,
				})
				sentCache := cache.NewRedisCache(rdb, cfg.Cache.TTL)
				defer sentCache.Close()
				statusMgr.WithSentCache(sentCache)
				log.Info().Str("addr", cfg.Cache.RedisAddr).Msg("sent-message cache enabled")
			}

			dispatcher := scheduler.NewDispatcher(registry, statusMgr, log)
			sched := scheduler.New(cfg.Scheduler, store, dispatcher, log)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			sched.Start(ctx)

			server := api.NewServer(cfg.Server, store, sched, log)
			go func() {
				if err := server.Start(); err != nil && err != http.ErrServerClosed {
					log.Fatal().Err(err).Msg("server error")
				}
			}()

			log.Info().
				Str("version", version).
				Int("port", cfg.Server.Port).
				Str("storage", cfg.Storage.Driver).
				Dur("interval", cfg.Scheduler.Interval).
				Msg("sendlater is running")

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			<-quit

			log.Info().Msg("shutting down...")

			if err := server.Shutdown(10 * time.Second); err != nil {
				log.Error().Err(err).Msg("server shutdown error")
			}

			sched.Stop()

			log.Info().Msg("sendlater stopped")
			return nil
		},
	}
}

func migrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			log := setupLogger(cfg.Logging)

			store, err := setupStorage(cfg.Storage, log)
			if err != nil {
				return fmt.Errorf("failed to setup storage: %w", err)
			}
			defer store.Close()

			if err := store.Migrate(context.Background()); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			log.Info().Msg("migrations completed successfully")
			return nil
		},
	}
}

func messageCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "message",
		Short: "Manage scheduled messages",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Schedule a new message",
		RunE: func(cmd *cobra.Command, args []string) error {
			recipient, _ := cmd.Flags().GetString("recipient")
			platformStr, _ := cmd.Flags().GetString("platform")
			content, _ := cmd.Flags().GetString("content")
			at, _ := cmd.Flags().GetString("at")

			if recipient == "" || content == "" {
				return fmt.Errorf("--recipient and --content are required")
			}
			platform, err := models.ParsePlatform(platformStr)
			if err != nil {
				return err
			}

			now := time.Now().UTC()
			scheduled := now
			if at != "" {
				scheduled, err = time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("--at must be RFC3339: %w", err)
				}
			}

			store, cleanup, err := storeFromConfig(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			msg := &models.ScheduledMessage{
				ID:            models.NewID("msg"),
				RecipientID:   recipient,
				Platform:      platform,
				Content:       content,
				ScheduledTime: scheduled.UTC(),
				Status:        models.StatusPending,
				CreatedAt:     now,
				UpdatedAt:     now,
			}

			if err := store.CreateMessage(context.Background(), msg); err != nil {
				return fmt.Errorf("failed to create message: %w", err)
			}

			out, _ := json.MarshalIndent(msg, "", "  ")
			fmt.Println(string(out))
			return nil
		},
	}
	createCmd.Flags().String("recipient", "", "recipient identifier (chat id, channel, URL)")
	createCmd.Flags().String("platform", "telegram", "delivery platform")
	createCmd.Flags().String("content", "", "message content")
	createCmd.Flags().String("at", "", "scheduled time (RFC3339, default now)")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List scheduled messages",
		RunE: func(cmd *cobra.Command, args []string) error {
			statusFilter, _ := cmd.Flags().GetString("status")

			store, cleanup, err := storeFromConfig(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			msgs, err := store.ListMessages(context.Background(), storage.ListFilter{
				Status: models.Status(statusFilter),
			})
			if err != nil {
				return fmt.Errorf("failed to list messages: %w", err)
			}

			if len(msgs) == 0 {
				fmt.Println("No messages found.")
				return nil
			}

			for _, m := range msgs {
				fmt.Printf("  %s  %-10s %-10s %s  %q\n",
					m.ID, m.Platform, m.Status, m.ScheduledTime.Format(time.RFC3339), m.Content)
			}
			return nil
		},
	}
	listCmd.Flags().String("status", "", "filter by status")

	cancelCmd := &cobra.Command{
		Use:   "cancel",
		Short: "Cancel a scheduled message",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) < 1 {
				return fmt.Errorf("usage: sendlater message cancel <message_id>")
			}

			store, cleanup, err := storeFromConfig(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := store.CancelMessage(context.Background(), args[0]); err != nil {
				return fmt.Errorf("failed to cancel message: %w", err)
			}

			fmt.Printf("cancelled %s\n", args[0])
			return nil
		},
	}

	cmd.AddCommand(createCmd, listCmd, cancelCmd)
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("sendlater v%s\n", version)
		},
	}
}

func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "console" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
			With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func setupStorage(cfg config.StorageConfig, log zerolog.Logger) (storage.Storage, error) {
	switch cfg.Driver {
	case "sqlite":
		log.Info().Str("path", cfg.SQLite.Path).Msg("using SQLite storage")
		return storage.NewSQLite(cfg.SQLite.Path)
	case "postgres":
		log.Info().Msg("using Postgres storage")
		return storage.NewPostgres(cfg.Postgres.URL)
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", cfg.Driver)
	}
}

// buildRegistry wires an adapter per configured platform. The webhook
// adapter is always available since it needs no platform credentials.
func buildRegistry(cfg config.ChannelsConfig, log zerolog.Logger) *channel.Registry {
	adapters := []channel.Adapter{
		channel.NewWebhook(channel.WebhookConfig{
			Secret:  cfg.Webhook.Secret,
			Timeout: cfg.Webhook.Timeout,
		}),
	}

	if cfg.Telegram.Token != "" {
		adapters = append(adapters, channel.NewTelegram(channel.TelegramConfig{
			Token:   cfg.Telegram.Token,
			APIURL:  cfg.Telegram.APIURL,
			Timeout: cfg.Telegram.Timeout,
		}))
	}
	if cfg.Slack.WebhookURL != "" {
		adapters = append(adapters, channel.NewSlack(channel.SlackConfig{
			WebhookURL: cfg.Slack.WebhookURL,
			Timeout:    cfg.Slack.Timeout,
		}))
	}

	registry := channel.NewRegistry(adapters...)
	log.Info().Int("adapters", len(adapters)).Msg("channel adapters registered")
	return registry
}

func storeFromConfig(configPath string) (storage.Storage, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	log := setupLogger(cfg.Logging)
	store, err := setupStorage(cfg.Storage, log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to setup storage: %w", err)
	}

	if err := store.Migrate(context.Background()); err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, func() { store.Close() }, nil
}
