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

	"github.com/ikkim/cartsync/config"
	"github.com/ikkim/cartsync/internal/app/controller"
	"github.com/ikkim/cartsync/internal/app/repository"
	"github.com/ikkim/cartsync/internal/app/service"
	"github.com/ikkim/cartsync/internal/db"
	"github.com/ikkim/cartsync/internal/middleware"
	"github.com/ikkim/cartsync/internal/platform"
	"github.com/ikkim/cartsync/internal/router"
	"github.com/ikkim/cartsync/internal/scheduler"
	"github.com/ikkim/cartsync/internal/websocket"
	"github.com/ikkim/cartsync/pkg/logger"
)

const shutdownTimeout = 15 * time.Second

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load configuration", err)
	}

	// Initialize logger
	logLevel := "info"
	if cfg.Server.Environment == "development" {
		logLevel = "debug"
	}
	logger.Initialize(logger.Config{
		Level:       logLevel,
		Format:      cfg.Server.LogFormat,
		EnableColor: cfg.Server.LogFormat == "console",
		Component:   "server",
	})

	logger.Info("Starting cartsync server", map[string]interface{}{
		"environment": cfg.Server.Environment,
		"port":        cfg.Server.Port,
		"store":       cfg.Store.Backend,
		"assets":      cfg.Assets.Backend,
		"log_level":   logLevel,
	})

	ctx := context.Background()

	// Initialize database (documents for the gorm backend, outbox always)
	if err := db.Initialize(&cfg.Database); err != nil {
		logger.Fatal("Failed to initialize database", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Error("Failed to close database connection", err)
		}
	}()

	if err := db.Migrate(); err != nil {
		logger.Fatal("Failed to run migrations", err)
	}

	stores, err := platform.BuildStore(ctx, cfg, db.GetDB())
	if err != nil {
		logger.Fatal("Failed to open document store", err)
	}
	defer stores.Close()

	assets, err := platform.BuildAssets(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to open asset storage", err)
	}
	defer assets.Close()

	verifier, err := platform.BuildVerifier(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialize token verifier", err)
	}

	// Initialize repositories
	cartRepo := repository.NewCartRepository(stores.Store)
	productRepo := repository.NewProductRepository(stores.Store)
	outboxRepo := repository.NewOutboxRepository(db.GetDB())

	// Initialize services
	outbox := service.NewOutbox(outboxRepo, cartRepo, productRepo, cfg.Outbox.MaxAttempts)
	cascade := service.NewCascadeCoordinator(cartRepo, outbox, cfg.Cascade.Concurrency)
	cartService := service.NewCartService(cartRepo, productRepo, outbox, service.CartServiceConfig{
		SyncTimeout:  cfg.Session.SyncTimeout,
		WriteTimeout: cfg.Session.WriteTimeout,
	})
	catalogService := service.NewCatalogService(productRepo, assets.Store, cascade)

	// Start retry scheduler
	outboxScheduler := scheduler.NewOutboxScheduler(outbox, cfg.Outbox.Schedule, cfg.Outbox.BatchSize)
	if err := outboxScheduler.Start(); err != nil {
		logger.Fatal("Failed to start outbox scheduler", err)
	}

	hub := websocket.NewHub()
	go hub.Run()

	// Initialize controllers
	cartController := controller.NewCartController(cartService)
	productController := controller.NewProductController(catalogService, hub, cfg.Assets.MaxImageSize)
	uploadController := controller.NewUploadController(assets.S3)
	streamController := controller.NewStreamController(hub, cartService, catalogService, verifier, cfg.CORS.AllowedOrigins)

	authMiddleware := middleware.NewAuthMiddleware(verifier)

	r := router.NewRouter(
		cartController,
		productController,
		uploadController,
		streamController,
		authMiddleware,
		cfg,
	)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r.Setup(),
	}

	go func() {
		logger.Info("Server started successfully", map[string]interface{}{
			"address": srv.Addr,
			"pid":     os.Getpid(),
		})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to start server", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", err)
	}
	hub.Stop()
	if err := cascade.Drain(shutdownCtx); err != nil {
		logger.Warn("Cascades queued for replay", map[string]interface{}{
			"error": err.Error(),
		})
	}
	cartService.Shutdown(shutdownCtx)
	outboxScheduler.Stop()

	// last chance for writes queued during shutdown
	if result, err := outbox.Replay(shutdownCtx, cfg.Outbox.BatchSize); err != nil {
		logger.Warn("Final outbox replay failed", map[string]interface{}{
			"error": err.Error(),
		})
	} else if result.Failed > 0 {
		logger.Warn("Writes left in outbox", map[string]interface{}{
			"failed": result.Failed,
		})
	}

	logger.Info("Server stopped successfully")
}
