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

	"call-signaling/internal/audit"
	"call-signaling/internal/auth"
	"call-signaling/internal/calls"
	"call-signaling/internal/config"
	"call-signaling/internal/httpapi"
	"call-signaling/internal/notify"
	"call-signaling/internal/profiles"
	"call-signaling/internal/rooms"
	"call-signaling/internal/webhooks"
	"call-signaling/migrations"
	"call-signaling/pkg/logger"
	"call-signaling/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := utils.Migrate(rootCtx, db, migrations.FS); err != nil {
		log.Error("migrations failed", "err", err)
		os.Exit(1)
	}

	bus := notify.NewBus(log)

	// Redis is optional; without it websocket clients only hear about
	// changes made on this instance.
	var relay *notify.RedisRelay
	if addr := cfg.RedisAddr(); addr != "" {
		rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: addr})
		if err != nil {
			log.Error("redis init failed", "err", err)
			os.Exit(1)
		}
		defer rdb.Close()
		relay = notify.NewRedisRelay(rdb, bus, log)
		bus.SetForwarder(relay)
	} else {
		log.Warn("redis not configured; session notifications are instance-local")
	}

	gw := rooms.New(cfg.Room, log)
	log.Info("room gateway ready", "mock", gw.Mock)

	auditSvc := audit.NewService(audit.NewPostgresRepo(db))
	directory := profiles.NewPostgresDirectory(db)
	repo := calls.NewPublishingRepo(calls.NewPostgresRepo(db), bus)

	callSvc := calls.NewService(repo, gw, directory, calls.Options{
		Audit:      auditSvc,
		Logger:     log,
		TokenTTL:   cfg.Room.TokenTTL,
		TemplateID: cfg.Room.TemplateID,
		Region:     cfg.Room.Region,
	})

	var recordings notify.RecordingNotifier = notify.LogNotifier{Log: log}
	if cfg.Push.FCMCredentialsFile != "" {
		fcm, err := notify.NewFCMNotifier(rootCtx, cfg.Push.FCMCredentialsFile, log)
		if err != nil {
			log.Error("fcm init failed", "err", err)
			os.Exit(1)
		}
		recordings = fcm
	}
	ingestor := webhooks.NewIngestor(repo, directory, recordings, auditSvc, log)

	limiter := httpapi.NewRateLimiter(httpapi.RateLimiterConfig{
		PerMinute: cfg.RateLimit.PerMinute,
		Burst:     cfg.RateLimit.Burst,
	})
	defer limiter.Stop()

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, routeDeps{
		Auth:     auth.RequireAccessToken(authManager),
		Limit:    limiter.Middleware(),
		Calls:    httpapi.Handlers{Calls: callSvc},
		Webhooks: webhooks.Handler{Ingestor: ingestor, Secret: cfg.Room.WebhookSecret},
		Events:   notify.WSHandler{Bus: bus},
		DB:       db,
	})

	if relay != nil {
		go func() {
			if err := relay.Run(rootCtx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("redis relay stopped", "err", err)
			}
		}()
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
}
