package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/noah-isme/score-tracker/api/swagger"
	"github.com/noah-isme/score-tracker/internal/handler"
	internalmiddleware "github.com/noah-isme/score-tracker/internal/middleware"
	"github.com/noah-isme/score-tracker/internal/notifier"
	"github.com/noah-isme/score-tracker/internal/parser"
	"github.com/noah-isme/score-tracker/internal/repository"
	"github.com/noah-isme/score-tracker/internal/service"
	"github.com/noah-isme/score-tracker/pkg/cache"
	"github.com/noah-isme/score-tracker/pkg/config"
	"github.com/noah-isme/score-tracker/pkg/database"
	"github.com/noah-isme/score-tracker/pkg/export"
	"github.com/noah-isme/score-tracker/pkg/jobs"
	"github.com/noah-isme/score-tracker/pkg/logger"
	corsmiddleware "github.com/noah-isme/score-tracker/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/score-tracker/pkg/middleware/requestid"
)

// @title Score Tracker API
// @version 1.0.0
// @description Stores course results decoded from the academic portal and reports changes
// @BasePath /
// @schemes http

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to open database", "driver", cfg.Database.Driver, "error", err)
	}
	defer db.Close()
	if err := database.Migrate(ctx, db); err != nil {
		logr.Sugar().Fatalw("failed to migrate database", "error", err)
	}

	metricsSvc := service.NewMetricsService()

	cacheRepo := repository.NewCacheRepository(nil)
	if cfg.Cache.Enabled {
		client, err := cache.NewRedis(ctx, cfg.Redis)
		if err != nil {
			logr.Sugar().Warnw("redis unavailable, course cache disabled", "error", err)
		} else {
			cacheRepo = repository.NewCacheRepository(client)
		}
	}
	defer cacheRepo.Close() //nolint:errcheck
	cacheSvc := service.NewCacheService(cacheRepo, metricsSvc, cfg.Cache.TTL, logr, cfg.Cache.Enabled)

	courseRepo := repository.NewCourseRepository(db, metricsSvc)
	decoder := parser.New(logr, metricsSvc)
	webhook := notifier.New(cfg.Webhook.URL, cfg.Webhook.Timeout, logr)
	if notifier.IsNoop(webhook) {
		logr.Warn("WEBHOOK_URL not set, course notifications disabled")
	}

	syncSvc := service.NewSyncService(courseRepo, decoder, webhook, cacheSvc, metricsSvc, nil, logr, service.SyncOptions{
		NotifyOnNew: cfg.Webhook.NotifyOnNew,
	})
	syncQueue := jobs.NewQueue(service.SyncJobType, syncSvc.HandleJob, jobs.QueueConfig{
		Workers: cfg.Sync.Workers,
		Logger:  logr,
	})
	syncSvc.AttachQueue(syncQueue)
	syncQueue.Start(ctx)
	defer syncQueue.Stop()

	exportSvc := service.NewExportService(syncSvc, export.NewCSVExporter(true), export.NewPDFExporter(cfg.Export.FontPath), logr)
	authSvc := service.NewAuthService(nil, logr, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		AccessTokenExpiry: cfg.JWT.Expiration,
		Issuer:            cfg.JWT.Issuer,
	})

	courseHandler := handler.NewCourseHandler(syncSvc, exportSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc, db)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(internalmiddleware.Metrics(metricsSvc, "/metrics"))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.Use(internalmiddleware.JWT(authSvc))
	api.GET("/stats", metricsHandler.Stats)

	users := api.Group("/users/:userId")
	users.Use(internalmiddleware.OwnUser("userId"))
	users.GET("/courses", courseHandler.List)
	users.GET("/courses/export", courseHandler.Export)
	users.DELETE("/courses/:courseId", courseHandler.Delete)
	users.POST("/sync", courseHandler.Sync)
	users.GET("/sync/:jobId", courseHandler.SyncStatus)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env, "db_driver", cfg.Database.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Errorw("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("server shutdown failed", "error", err)
	}
	logr.Info("server stopped")
}
