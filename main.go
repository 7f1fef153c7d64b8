package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"verifmatos/internal/config"
	"verifmatos/internal/database"
	"verifmatos/internal/email"
	"verifmatos/internal/handlers"
	"verifmatos/internal/logger"
	"verifmatos/internal/realtime"
	"verifmatos/internal/verification"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	logger.Initialize(logger.ParseLevel(cfg.LogLevel), cfg.IsDevelopment())
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		logger.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	db, err := database.Initialize(cfg.DatabasePath)
	if err != nil {
		logger.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := database.Migrate(db); err != nil {
		logger.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}
	if _, err := database.EnsureAdmin(db, cfg.AdminUsername, cfg.AdminPassword); err != nil {
		logger.Error("Failed to create bootstrap admin", "error", err)
		os.Exit(1)
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	hub := realtime.NewHub(logger.GetLogger().With("component", "realtime"))
	hubDone := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(hubDone)
	}()

	if cfg.RedisEnabled() {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       0,
		})
		defer redisClient.Close()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Error("Failed to connect to Redis", "addr", cfg.RedisAddr, "error", err)
			os.Exit(1)
		}

		relay := realtime.NewRedisRelay(redisClient, hub, cfg.RedisChannelPrefix)
		pubsub, err := relay.Subscribe(ctx)
		if err != nil {
			logger.Error("Failed to start Redis relay", "error", err)
			os.Exit(1)
		}
		go relay.Start(ctx, pubsub)
		hub.SetRelay(relay)
		logger.Info("Live updates relayed through Redis", "addr", cfg.RedisAddr)
	} else {
		logger.Info("Redis not configured, live updates stay on this instance")
	}

	svc := verification.NewService(db, hub, logger.GetLogger().With("component", "verification"))

	emailService := email.NewService(cfg)
	if emailService.IsEnabled() {
		svc.SetReporter(emailService)
		logger.Info("Verification reports enabled with Mailgun")
	} else {
		logger.Info("Verification reports disabled - Mailgun not configured")
	}

	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	handlers.SetupRoutes(r, handlers.New(db, cfg, hub, svc))

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		// Websocket connections are long-lived, so no read/write timeouts.
		IdleTimeout: 120 * time.Second,
	}

	go func() {
		logger.Info("Server starting", "port", cfg.Port, "environment", cfg.Environment)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", "error", err)
	}

	stop()
	<-hubDone
	svc.Wait()
	logger.Info("Server stopped")
}
