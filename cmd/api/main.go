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

	"voice-platform/internal/analytics"
	"voice-platform/internal/community"
	"voice-platform/internal/config"
	"voice-platform/internal/coordinator"
	"voice-platform/internal/database"
	"voice-platform/internal/rtc"
	"voice-platform/internal/sessions"
	"voice-platform/pkg/logger"
	"voice-platform/pkg/utils"

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

	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := database.Migrate(rootCtx, db); err != nil {
		log.Error("migration failed", "err", err)
		os.Exit(1)
	}

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	roomSvc, err := rtc.NewHTTPRoomService(rtc.ClientConfig{
		BaseURL:       cfg.RTC.BaseURL,
		WSURL:         cfg.RTC.WSURL,
		APIKey:        cfg.RTC.APIKey,
		APISecret:     cfg.RTC.APISecret,
		CredentialTTL: cfg.RTC.CredentialTTL,
	})
	if err != nil {
		log.Error("rtc client init failed", "err", err)
		os.Exit(1)
	}

	policy := sessions.NewPolicy(cfg.Voice.InterruptedTTL, cfg.Voice.InitialConnectTTL, cfg.Voice.NoModeratorTTL)
	store := sessions.NewStore(db, policy)

	var emitter analytics.Emitter = analytics.Nop{}
	if cfg.Voice.AnalyticsStream != "" {
		emitter = analytics.NewStreamEmitter(rdb, cfg.Voice.AnalyticsStream)
	}

	coord := coordinator.New(store, roomSvc, emitter, policy, log)
	statusSvc := community.NewStatusService(store, policy, rdb, cfg.Voice.StatusCacheTTL, log)

	sweeper := coordinator.NewSweeper(store, roomSvc, emitter, log, cfg.Voice.SweepInterval, cfg.Voice.SweepBatchSize)
	go sweeper.Run(rootCtx)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, cfg, coord, statusSvc, rdb)

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

	_ = logger.ShutdownFlush(shutdownCtx, 2*time.Second)
}
