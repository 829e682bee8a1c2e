package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"geoforge/internal/api"
	"geoforge/internal/auth"
	"geoforge/internal/config"
	"geoforge/internal/jobs"
	"geoforge/internal/realtime"
	"geoforge/internal/redis"
	"geoforge/internal/store"
	"geoforge/internal/video"
	"geoforge/internal/ws"
)

const monitorInterval = 15 * time.Second

func main() {
	cfg := config.Load()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()})))

	if err := cfg.Validate(); err != nil {
		slog.Error("[CONFIG] Invalid configuration", "error", err)
		os.Exit(1)
	}
	if cfg.AuthKey == "" {
		slog.Error("[CONFIG] AUTH_KEY is required")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Realtime: an empty REDIS_URL leaves the client unconfigured.
	var (
		transport realtime.Transport
		members   realtime.MemberStore
	)
	if cfg.RedisURL != "" {
		redisClient, err := redis.NewClient(ctx, cfg.RedisURL)
		if err != nil {
			slog.Error("[REDIS] Failed to initialize", "error", err)
			os.Exit(1)
		}
		transport, members = redisClient, redisClient
	}

	hostname, _ := os.Hostname()
	rt := realtime.NewClient(transport, members, "server-"+hostname)
	defer rt.Close()

	if rt.IsConfigured() {
		go rt.Monitor(ctx, monitorInterval)
	}

	// Room registry: without DATABASE_URL rooms are scoped by name prefix.
	var registry video.Registry
	if cfg.DatabaseURL != "" {
		pool, err := store.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			slog.Error("[STORE] Failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		rooms := store.NewRoomStore(pool)
		if err := rooms.Migrate(ctx); err != nil {
			slog.Error("[STORE] Migration failed", "error", err)
			os.Exit(1)
		}
		registry = rooms
	}

	videoManager := video.NewManager(cfg.DailyAPIKey, cfg.DailyAPIURL, nil, registry, cfg.DailyMaxParticipants)
	if videoManager.IsConfigured() {
		go func() {
			testCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			_, _ = videoManager.TestConnection(testCtx)
		}()
	}

	if rt.IsConfigured() && cfg.PresenceTTL > 0 {
		sweeper := jobs.NewPresenceSweeper(rt, cfg.PresenceTTL)
		if err := sweeper.Start(cfg.PresenceSweep); err != nil {
			slog.Error("[JOBS] Failed to start presence sweeper", "error", err)
			os.Exit(1)
		}
		defer sweeper.Stop()
	}

	validator := auth.NewValidator(cfg.AuthKey)

	hub := ws.NewHub(rt, validator, ws.Options{
		CursorThrottle:    cfg.CursorThrottle,
		HeartbeatInterval: cfg.HeartbeatInterval(),
	})
	go hub.Run(ctx)

	mux := http.NewServeMux()
	api.Routes(mux, rt, hub, videoManager, validator)

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("[API] Server starting", "port", cfg.Port, "realtime", rt.IsConfigured(), "video", videoManager.IsConfigured(), "registry", registry != nil)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("[API] Server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("[API] Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("[API] Graceful shutdown failed", "error", err)
	}
}
