package main

import (
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/neochat/roulette/config"
	"github.com/neochat/roulette/internal/handlers"
	"github.com/neochat/roulette/internal/middleware"
	"github.com/neochat/roulette/internal/redis"

	"github.com/gin-gonic/gin"
)

func main() {
	// Load configuration
	cfg := config.Load()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Optional presence mirror
	if err := redis.Connect(cfg.Redis); err != nil {
		logger.Error("failed to connect to redis", "addr", cfg.Redis.Addr, "err", err)
		os.Exit(1)
	}
	defer redis.Close()

	if redis.Enabled() {
		logger.Info("presence mirror enabled", "addr", cfg.Redis.Addr)
	} else {
		logger.Info("presence mirror disabled")
	}

	// Setup Gin router
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()

	// Global CORS middleware (runs before routing)
	router.Use(handlers.OriginFilter(cfg.AllowedOrigins))

	// The hub owns the matchmaking engine and every live socket.
	hub := handlers.NewHub(cfg.NameMaxLen)
	started := time.Now()

	// Status endpoints
	router.GET("/health", handlers.Health(hub.Engine()))
	router.GET("/info", handlers.Info(hub.Engine(), started))
	router.GET("/stats", handlers.Stats(hub.Engine()))

	// Operator API
	apiGroup := router.Group("/api")
	{
		// Login endpoint (public)
		apiGroup.POST("/auth/login", handlers.Login(cfg.JWTSecret, cfg.AdminPassword))
	}

	// Full state dump (requires JWT)
	router.GET("/debug", middleware.JWTAuth(cfg.JWTSecret), handlers.Debug(hub.Engine()))

	// WebSocket signaling endpoint
	router.GET("/ws", handlers.HandleSignaling(hub))

	// Client bundle
	router.NoRoute(gin.WrapH(http.FileServer(http.Dir(cfg.PublicDir))))

	// Start server
	logger.Info("starting roulette signaling server", "port", cfg.Port, "env", cfg.Environment)
	if err := router.Run(":" + cfg.Port); err != nil {
		logger.Error("server exited", "err", err)
		os.Exit(1)
	}
}
