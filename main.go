package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"intervue/internal/api"
	"intervue/internal/auth"
	"intervue/internal/config"
	"intervue/internal/events"
	"intervue/internal/logger"
	"intervue/internal/realtime"
	"intervue/internal/redis"
	"intervue/internal/service/account"
	"intervue/internal/service/interview"
	"intervue/internal/storage"
)

func main() {
	cfg, err := config.Load(os.Getenv("INTERVUE_CONFIG"))
	if err != nil {
		logger.Logger.Fatalf("load config: %v", err)
	}
	logger.Init(cfg.BasicConfig.LogLevel)
	log := logger.Logger

	dbType := os.Getenv("INTERVUE_DB")
	if dbType == "" {
		dbType = "sqlite3"
	}
	log.WithField("db_type", dbType).Info("opening database")
	db, err := storage.Open(dbType, cfg)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()
	if err := storage.Migrate(db); err != nil {
		log.Fatalf("migrate database: %v", err)
	}

	var rdb *redis.Client
	if cfg.Redis.Enabled {
		rdb, err = redis.NewRedisClient(cfg)
		if err != nil {
			log.Fatalf("create redis client: %v", err)
		}
		defer rdb.Close()
	}

	backend, err := realtime.New(cfg)
	if err != nil {
		log.Fatalf("init realtime backend: %v", err)
	}
	publisher, err := events.New(cfg, rdb)
	if err != nil {
		log.Fatalf("init event publisher: %v", err)
	}
	defer publisher.Close()

	accounts := account.NewService(db)
	authService := auth.NewService(db, rdb, time.Duration(cfg.BasicConfig.TokenTTL)*time.Hour)
	cache := interview.NewCache(rdb, time.Duration(cfg.Redis.CacheTTL)*time.Second)
	sessions := interview.NewService(storage.NewSessionStore(db), backend, publisher, cache)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	sessions.StartReconciler(ctx,
		time.Duration(cfg.BasicConfig.ReconcileInterval)*time.Second,
		time.Duration(cfg.BasicConfig.ReconcileStaleAfter)*time.Second,
	)

	handlers := api.NewHandler(accounts, authService, sessions, backend, api.Options{
		SessionFullNotFound: cfg.Compat.SessionFullNotFound,
	})

	if strings.EqualFold(cfg.BasicConfig.LogLevel, "debug") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(logger.GinMiddleware(), gin.Recovery())
	router.Use(cors.New(corsConfig(cfg.BasicConfig.ClientURL)))
	handlers.RegisterRoutes(router)

	srv := &http.Server{
		Addr:              cfg.BasicConfig.ServerAddress,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serverDone := make(chan error, 1)
	go func() {
		log.WithField("addr", srv.Addr).Info("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverDone <- err
		}
		close(serverDone)
	}()

	select {
	case err := <-serverDone:
		if err != nil {
			log.Fatalf("server stopped: %v", err)
		}
	case <-ctx.Done():
		log.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("graceful shutdown failed")
	}
	log.Info("server stopped")
}

func corsConfig(clientURL string) cors.Config {
	cfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "X-CSRF-Token"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if clientURL == "" {
		cfg.AllowOriginFunc = func(string) bool { return true }
	} else {
		cfg.AllowOrigins = []string{clientURL}
	}
	return cfg
}
