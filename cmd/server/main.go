package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/ksred/galactic-exchange/internal/auth"
	"github.com/ksred/galactic-exchange/internal/database"
	"github.com/ksred/galactic-exchange/internal/exchange"
	"github.com/ksred/galactic-exchange/internal/trading"
	"github.com/ksred/galactic-exchange/pkg/middleware"
)

// init configures the application logging based on environment settings
// In development mode, it enables pretty printing with timestamps
// Debug logging can be enabled via DEBUG environment variable
func init() {
	// Configure pretty logging for development
	if os.Getenv("ENV") != "production" {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		zlog.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	// Set global log level
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("DEBUG") == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

// main initializes and runs the exchange server with graceful shutdown
// support. State persistence is enabled when PERSISTENT_DIR is set.
func main() {
	// .env is optional; real env vars win either way
	_ = godotenv.Load()

	logger := zlog.Logger

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		jwtSecret = "galactic-secret-key"
	}
	adminToken := os.Getenv("ADMIN_TOKEN")
	if adminToken == "" {
		logger.Warn().Msg("ADMIN_TOKEN not set, collateral administration is disabled")
	}

	var store *database.Store
	if dir := os.Getenv("PERSISTENT_DIR"); dir != "" {
		var err error
		store, err = database.Open(dir, logger)
		if err != nil {
			zlog.Fatal().Err(err).Msg("Failed to open persistent store")
		}
		logger.Info().Str("dir", dir).Msg("State persistence enabled")
	}

	authService := auth.NewService(jwtSecret, logger)
	x := exchange.New(authService, store, logger)

	if os.Getenv("ENV") == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RateLimit())

	trading.NewGinHandlers(x, logger).RegisterRoutes(router, adminToken)

	// Get port from env otherwise it's 8080
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: router,
	}

	// Graceful shutdown setup
	go func() {
		logger.Info().Str("port", port).Msg("Exchange server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal().Err(err).Msg("listen")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info().Msg("Shutting down server...")

	// Give outstanding operations 5 seconds to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	zlog.Info().Msg("Server exiting")
}
