package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/signalix/gateway/internal/auth"
	"github.com/signalix/gateway/internal/clock"
	"github.com/signalix/gateway/internal/config"
	"github.com/signalix/gateway/internal/db"
	"github.com/signalix/gateway/internal/gateway"
	httphandler "github.com/signalix/gateway/internal/http"
	"github.com/signalix/gateway/internal/http/handlers"
	"github.com/signalix/gateway/internal/logging"
	"github.com/signalix/gateway/internal/middleware"
	"github.com/signalix/gateway/internal/protocol/bridge"
	"github.com/signalix/gateway/internal/qr"
	"github.com/signalix/gateway/internal/repo"
)

const shutdownTimeout = 15 * time.Second

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the session gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Open database connection
	database, dialect, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer database.Close()

	// Run migrations
	if err := db.Migrate(database, dialect); err != nil {
		return err
	}

	// Initialize repositories
	authRepo := repo.NewAuthRepo(database)
	sessionRepo := repo.NewSessionRepo(database)
	chatRepo := repo.NewChatRepo(database)

	dialer, err := bridge.NewDialer(cfg.BridgeURL, cfg.BridgeToken, logger)
	if err != nil {
		return err
	}

	manager := gateway.NewManager(gateway.Config{
		Dialer:               dialer,
		AuthRepo:             authRepo,
		SessionRepo:          sessionRepo,
		ChatRepo:             chatRepo,
		Renderer:             qr.NewPNG(256),
		Clock:                clock.Real(),
		Logger:               logger,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
		ReconnectDelay:       cfg.ReconnectDelay,
		LegacyAuthDir:        cfg.LegacyAuthDir,
		CountryCode:          cfg.DefaultCountryCode,
	})

	// Initialize auth
	keys := auth.NewKeySet(cfg.APIKeys)
	var jwtService *auth.JWTService
	if cfg.JWTSecret != "" {
		jwtService = auth.NewJWTService(cfg.JWTSecret)
	}
	if keys.Len() == 0 && jwtService == nil {
		logger.Warn().Msg("no API keys or JWT secret configured, API is unauthenticated (DEV_MODE)")
	}

	var sendLimiter *middleware.RateLimiter
	if cfg.SendRateLimit > 0 {
		sendLimiter = middleware.NewRateLimiter(cfg.SendRateWindow, cfg.SendRateLimit, nil)
		defer sendLimiter.Stop()
	}

	// Create router
	router := httphandler.NewRouter(httphandler.RouterConfig{
		Sessions:    handlers.NewSessionHandler(manager, sessionRepo, cfg.QRWaitAttempts, cfg.QRWaitInterval, logger),
		Messages:    handlers.NewMessageHandler(manager, chatRepo, nil, logger),
		Health:      handlers.NewHealthHandler(database, manager),
		Keys:        keys,
		JWT:         jwtService,
		SendLimiter: sendLimiter,
		Logger:      logger.With().Str("component", "http").Logger(),
	})

	// POST /sessions/add blocks in the QR waiter, so writes must outlast it.
	qrWait := time.Duration(cfg.QRWaitAttempts) * cfg.QRWaitInterval

	// Create HTTP server with timeouts
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      qrWait + 30*time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Start server in a goroutine
	serveErr := make(chan error, 1)
	go func() {
		logger.Info().Str("port", cfg.Port).Str("database", string(dialect)).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	if cfg.AutoRestore {
		go restoreSessions(ctx, manager, logger)
	}

	// Wait for interrupt signal to gracefully shutdown the server
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed to start: %w", err)
		}
	}

	logger.Info().Msg("shutting down server")
	return shutdown(srv, manager, logger)
}

func restoreSessions(ctx context.Context, manager *gateway.Manager, logger zerolog.Logger) {
	n, err := manager.RestoreSessions(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("session restore failed")
		return
	}
	logger.Info().Int("sessions", n).Msg("sessions restored")
}

// shutdown stops accepting requests, then closes every protocol
// connection without logging out so sessions restore on the next start.
func shutdown(srv *http.Server, manager *gateway.Manager, logger zerolog.Logger) error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if err := srv.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("server forced to shutdown: %w", err))
	}
	if err := manager.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, err)
	}

	logger.Info().Msg("server exited")
	return errors.Join(errs...)
}
