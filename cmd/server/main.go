// Package main provides the entry point for the bumpkeeper server.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/codeGROOVE-dev/gsm"
	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/codeGROOVE-dev/bumpkeeper/internal/bot"
	"github.com/codeGROOVE-dev/bumpkeeper/internal/clock"
	"github.com/codeGROOVE-dev/bumpkeeper/internal/config"
	"github.com/codeGROOVE-dev/bumpkeeper/internal/discord"
	"github.com/codeGROOVE-dev/bumpkeeper/internal/reminder"
	"github.com/codeGROOVE-dev/bumpkeeper/internal/state"
	"github.com/codeGROOVE-dev/bumpkeeper/internal/store"
)

const (
	serverReadTimeout  = 15 * time.Second
	serverWriteTimeout = 15 * time.Second
	handlerTimeout     = 10 * time.Second
	// deliveryDrainTimeout bounds how long shutdown waits for reminders being posted.
	deliveryDrainTimeout = 5 * time.Second
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

func main() {
	// A missing .env file is normal outside local development.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
	}

	// Setup structured logging
	var level slog.LevelVar
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: &level,
	}))
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())

	// Handle graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Warn("shutdown signal received", "signal", sig.String())
		cancel()
	}()

	// Run the server
	exitCode := run(ctx, cancel, &level)
	cancel() // Ensure cleanup before exit
	os.Exit(exitCode)
}

func run(ctx context.Context, cancel context.CancelFunc, level *slog.LevelVar) int {
	// Load server configuration from environment
	cfg, err := loadConfig(ctx)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		return 1
	}
	level.Set(parseLevel(cfg.LogLevel))

	slog.Info("configuration loaded",
		"has_discord_bot_token", cfg.DiscordBotToken != "",
		"db_driver", cfg.DBDriver,
		"services_file", cfg.ServicesFile,
		"sweep_schedule", cfg.SweepSchedule,
		"retention_days", cfg.RetentionDays)

	// Reminder rows and guild configuration
	db, err := store.Open(cfg.DBDriver, cfg.DatabaseURL, slog.Default())
	if err != nil {
		slog.Error("failed to open database", "error", err)
		return 1
	}
	defer func() {
		if err := db.Close(); err != nil {
			slog.Warn("failed to close database", "error", err)
		}
	}()

	// Create state store using fido (CloudRun backend auto-detects environment)
	botState, err := state.NewFidoStore(ctx)
	if err != nil {
		slog.Error("failed to create fido store", "error", err)
		return 1
	}
	defer func() {
		if err := botState.Close(); err != nil {
			slog.Warn("failed to close state store", "error", err)
		}
	}()

	catalog := config.NewCatalog()
	if cfg.ServicesFile != "" {
		if err := catalog.LoadFile(cfg.ServicesFile); err != nil {
			slog.Error("failed to load services file", "path", cfg.ServicesFile, "error", err)
			return 1
		}
	}

	clk := clock.Real{}
	manager := reminder.New(reminder.Config{
		Repo:    db,
		Configs: config.NewUpdater(db, config.WithLogger(slog.Default())),
		Clock:   clk,
		Logger:  slog.Default(),
	})

	client, err := discord.New(cfg.DiscordBotToken, discord.WithLogger(slog.Default()))
	if err != nil {
		slog.Error("failed to create Discord client", "error", err)
		return 1
	}

	coord := bot.NewCoordinator(bot.CoordinatorConfig{
		Discord:   client,
		Reminders: manager,
		Store:     botState,
		Services:  catalog,
		Clock:     clk,
		Logger:    slog.Default(),
	})
	slash := discord.NewSlashCommandHandler(client.Session(), coord, slog.Default())
	registerHandlers(ctx, client.Session(), coord, slash, catalog)

	if err := client.Open(); err != nil {
		slog.Error("failed to connect to Discord", "error", err)
		return 1
	}

	// Pending reminders from the previous run
	if _, err := coord.Restore(ctx); err != nil {
		slog.Error("failed to restore some reminders", "error", err)
	}

	sweeper := cron.New(cron.WithParser(cronParser), cron.WithLocation(time.UTC))
	if _, err := sweeper.AddFunc(cfg.SweepSchedule, func() {
		sweep(ctx, manager, botState, cfg.RetentionDays)
	}); err != nil {
		slog.Error("invalid sweep schedule", "schedule", cfg.SweepSchedule, "error", err)
		return 1
	}

	// Create HTTP router
	router := newRouter(manager, coord)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  serverReadTimeout,
		WriteTimeout: serverWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// Start services
	eg, ctx := errgroup.WithContext(ctx)

	// HTTP server
	eg.Go(func() error {
		slog.Info("starting server", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	eg.Go(func() error {
		<-ctx.Done()
		slog.Info("shutting down HTTP server")
		// Fast shutdown for quick handoff during deployments (250ms)
		shutdownCtx, shutdownCancel := context.WithTimeout(context.WithoutCancel(ctx), 250*time.Millisecond)
		defer shutdownCancel()
		return server.Shutdown(shutdownCtx)
	})

	// Retention sweep
	eg.Go(func() error {
		sweeper.Start()
		<-ctx.Done()
		<-sweeper.Stop().Done()
		return nil
	})

	// Reload the service catalogue when the file changes
	if cfg.ServicesFile != "" {
		eg.Go(func() error {
			if err := catalog.Watch(ctx, cfg.ServicesFile); err != nil {
				slog.Warn("services file watch stopped", "path", cfg.ServicesFile, "error", err)
			}
			return nil
		})
	}

	// Reminder timers and the gateway connection
	eg.Go(func() error {
		<-ctx.Done()
		coord.Wait()
		drainCtx, drainCancel := context.WithTimeout(context.WithoutCancel(ctx), deliveryDrainTimeout)
		defer drainCancel()
		if err := manager.Shutdown(drainCtx); err != nil {
			slog.Warn("reminder deliveries still running at shutdown", "error", err)
		}
		return client.Close()
	})

	// Wait for all services
	if err := eg.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server error", "error", err)
		cancel()
		return 1
	}

	slog.Info("shutdown complete")
	return 0
}

// registerHandlers wires gateway events to the coordinator.
func registerHandlers(ctx context.Context, s *discordgo.Session, coord *bot.Coordinator, slash *discord.SlashCommandHandler, catalog *config.Catalog) {
	s.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		slog.Info("connected to Discord", "user", r.User.Username, "guilds", len(r.Guilds))
		if err := slash.RegisterCommands(catalog.Services()); err != nil {
			slog.Error("failed to register slash commands", "error", err)
		}
	})
	s.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		coord.HandleMessage(ctx, m.Message)
	})
	s.AddHandler(func(_ *discordgo.Session, c *discordgo.ChannelDelete) {
		hctx, hcancel := context.WithTimeout(ctx, handlerTimeout)
		defer hcancel()
		coord.HandleChannelDelete(hctx, c.GuildID, c.ID)
	})
	s.AddHandler(func(_ *discordgo.Session, g *discordgo.GuildDelete) {
		// An unavailable guild is an outage, not a removal.
		if g.Unavailable {
			return
		}
		hctx, hcancel := context.WithTimeout(ctx, handlerTimeout)
		defer hcancel()
		coord.HandleGuildDelete(hctx, g.ID)
	})
	slash.SetupHandler()
}

// sweep deletes old reminder rows and expired bot state.
func sweep(ctx context.Context, reminders Sweeper, cleaner StateCleaner, days int) {
	if _, err := reminders.Sweep(ctx, days); err != nil {
		slog.Error("reminder sweep failed", "error", err)
	}
	if err := cleaner.Cleanup(ctx); err != nil {
		slog.Warn("state cleanup failed", "error", err)
	}
}

func newRouter(counter ReminderCounter, statuses GuildStatusSource) *mux.Router {
	router := mux.NewRouter()
	router.Use(securityHeadersMiddleware)

	// Health endpoints
	router.HandleFunc("/", healthHandler).Methods("GET")
	router.HandleFunc("/health", healthHandler).Methods("GET")
	router.HandleFunc("/healthz", makeHealthzHandler(counter)).Methods("GET")
	router.HandleFunc("/reminders/{guild}", makeRemindersHandler(statuses)).Methods("GET")
	return router
}

func loadConfig(ctx context.Context) (config.ServerConfig, error) {
	// Helper function to get secret values
	// Environment variables take precedence, then Secret Manager
	getSecret := func(name string) string {
		if v := os.Getenv(name); v != "" {
			slog.Debug("using environment variable", "name", name)
			return v
		}

		// Try Secret Manager using gsm library
		value, err := gsm.Fetch(ctx, name)
		if err != nil {
			slog.Debug("secret not found in Secret Manager", "name", name, "error", err)
			return ""
		}
		if value != "" {
			slog.Info("loaded secret from Secret Manager", "name", name)
		}
		return value
	}

	retention := 0
	if v := os.Getenv("RETENTION_DAYS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return config.ServerConfig{}, fmt.Errorf("RETENTION_DAYS must be a positive integer, got %q", v)
		}
		retention = n
	}

	cfg := config.ServerConfig{
		DiscordBotToken: getSecret("DISCORD_BOT_TOKEN"),
		DBDriver:        os.Getenv("DB_DRIVER"),
		DatabaseURL:     os.Getenv("DATABASE_URL"), // empty selects the driver default
		Port:            getEnv("PORT", "9119"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		ServicesFile:    os.Getenv("SERVICES_FILE"),
		SweepSchedule:   os.Getenv("SWEEP_SCHEDULE"),
		RetentionDays:   retention,
	}.WithDefaults()

	// Validate required fields
	if cfg.DiscordBotToken == "" {
		return cfg, errors.New("DISCORD_BOT_TOKEN environment variable is required")
	}
	if _, err := cronParser.Parse(cfg.SweepSchedule); err != nil {
		return cfg, fmt.Errorf("SWEEP_SCHEDULE %q: %w", cfg.SweepSchedule, err)
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok\n")); err != nil {
		slog.Debug("health write error", "error", err)
	}
}

func makeHealthzHandler(counter ReminderCounter) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		if _, err := fmt.Fprintf(w, "ok - %d reminders scheduled\n", counter.Tracked()); err != nil {
			slog.Debug("healthz write error", "error", err)
		}
	}
}

func makeRemindersHandler(statuses GuildStatusSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		guildID := mux.Vars(r)["guild"]
		status, err := statuses.Status(r.Context(), guildID)
		if err != nil {
			slog.Error("failed to load guild status", "guild_id", guildID, "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		// Only the schedule is public; role and user IDs stay private to the guild.
		body := struct {
			Reminders []discord.ScheduledReminder `json:"reminders"`
		}{Reminders: status.Reminders}
		if body.Reminders == nil {
			body.Reminders = []discord.ScheduledReminder{}
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(body); err != nil {
			slog.Debug("reminders write error", "error", err)
		}
	}
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-XSS-Protection", "1; mode=block")
		w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		w.Header().Set("Content-Security-Policy", "default-src 'none'")
		next.ServeHTTP(w, r)
	})
}
