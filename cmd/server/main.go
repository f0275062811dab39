package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/ksred/orderpad/internal/config"
	"github.com/ksred/orderpad/internal/database"
	"github.com/ksred/orderpad/internal/pricefeed"
	"github.com/ksred/orderpad/internal/receipt"
	"github.com/ksred/orderpad/internal/session"
	"github.com/ksred/orderpad/pkg/middleware"

	"github.com/gin-gonic/gin"
)

// setupLogging configures zerolog from config. Outside production it
// enables pretty printing with timestamps; DEBUG=true forces debug level.
func setupLogging(cfg config.AppConfig) {
	if !cfg.IsProduction() {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		zlog.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if os.Getenv("DEBUG") == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

// main initializes and runs the order-entry API server with graceful
// shutdown support
func main() {
	cfg, err := config.Load()
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to load config")
	}
	setupLogging(cfg.App)

	// Initialize receipt store
	db, err := database.NewDatabase(cfg.DB.DSN)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize database")
	}

	if cfg.App.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestLogger())

	// Background workers share one lifetime
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	feed := pricefeed.NewFeed(
		cfg.Feed.Symbol,
		cfg.Feed.StartPrice,
		pricefeed.NewRandomWalk(cfg.Feed.StartPrice, cfg.Feed.MaxDelta, nil),
		cfg.Feed.Interval,
	)
	go feed.Start(workerCtx)

	sessionService := session.NewService(cfg.Session.Secret, cfg.Session.TTL)
	go sessionService.StartSweeper(workerCtx, cfg.Session.SweepInterval)

	receiptService := receipt.NewService(db, receipt.NewGenerator(nil, nil))

	// Rate limits are mounted per route group by the handlers
	limiter := middleware.NewRateLimiter(
		middleware.RouteLimit{Prefix: "/api/v1/sessions", PerMinute: cfg.Rate.SessionPerMinute, Burst: 5},
		middleware.RouteLimit{Prefix: "/api/v1/ticket", PerMinute: cfg.Rate.TicketPerMinute, Burst: 50},
		middleware.RouteLimit{Prefix: "/api/v1/receipts", PerMinute: cfg.Rate.TicketPerMinute, Burst: 50},
	)
	go limiter.Cleanup(workerCtx, time.Minute)

	handlers := session.NewGinHandlers(sessionService, feed, receiptService).
		WithRateLimit(limiter.Middleware())

	// Setup API routes
	setupRoutes(router, handlers)

	// Create server
	srv := &http.Server{
		Addr:    cfg.App.Addr(),
		Handler: router,
	}

	// Graceful shutdown setup
	go func() {
		zlog.Info().Str("addr", srv.Addr).Str("symbol", cfg.Feed.Symbol).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal().Err(err).Msg("listen")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info().Msg("Shutting down server...")

	// Stop the feed ticker and sweepers before draining requests
	workerCancel()

	// Give outstanding requests 5 seconds to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	zlog.Info().Msg("Server exiting")
}

// setupRoutes configures all API endpoints and their handlers:
// - Public: session creation and the live quote
// - Session routes: the wizard screens and receipts, protected by the
//   session token issued at creation
func setupRoutes(router *gin.Engine, handlers *session.GinHandlers) {
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := router.Group("/api/v1")
	handlers.Register(v1)
}
