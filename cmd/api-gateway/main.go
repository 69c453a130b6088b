package main

import (
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/gradetrack/gradesync-api/api/swagger"
	"github.com/gradetrack/gradesync-api/internal/handler"
	"github.com/gradetrack/gradesync-api/internal/middleware"
	"github.com/gradetrack/gradesync-api/internal/remote"
	"github.com/gradetrack/gradesync-api/internal/repository"
	"github.com/gradetrack/gradesync-api/internal/service"
	"github.com/gradetrack/gradesync-api/internal/store"
	"github.com/gradetrack/gradesync-api/pkg/cache"
	"github.com/gradetrack/gradesync-api/pkg/config"
	"github.com/gradetrack/gradesync-api/pkg/logger"
	corsmiddleware "github.com/gradetrack/gradesync-api/pkg/middleware/cors"
	reqidmiddleware "github.com/gradetrack/gradesync-api/pkg/middleware/requestid"
)

// @title GradeSync API
// @version 0.1.0
// @description Gateway that reconciles student grade records between the remote grade service and a local offline store
// @BasePath /api/v1
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

	metrics := service.NewMetricsService()

	localStore, err := store.NewLocalStore(cfg.Store.Dir, cfg.Store.RetentionDays)
	if err != nil {
		logr.Sugar().Fatalw("local store init failed", "dir", cfg.Store.Dir, "error", err)
	}

	remoteClient := remote.NewClient(cfg.Remote, logr)

	var cacheService *service.CacheService
	if cfg.Stats.CacheEnabled {
		redisClient, err := cache.NewRedis(cfg.Redis)
		if err != nil {
			// Stats still compute without the cache; only read latency suffers.
			logr.Sugar().Warnw("redis unavailable, stats cache disabled", "error", err)
		} else {
			cacheRepo := repository.NewCacheRepository(redisClient, logr)
			defer cacheRepo.Close() //nolint:errcheck
			cacheService = service.NewCacheService(cacheRepo, metrics, cfg.Stats.CacheTTL, logr, true)
		}
	}

	syncService := service.NewSyncService(remoteClient, localStore, store.OwnerKey, nil, metrics, logr)
	statsService := service.NewStatsService(syncService, cacheService, logr)

	gradeHandler := handler.NewGradeHandler(syncService, statsService, cfg.Exports.Enabled)
	metricsHandler := handler.NewMetricsHandler(metrics)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metrics))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.Use(middleware.BearerToken())
	{
		api.GET("/grades", gradeHandler.List)
		api.POST("/grades", gradeHandler.Submit)
		api.GET("/grades/stats", gradeHandler.Stats)
		api.GET("/grades/export", gradeHandler.Export)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env, "remote", cfg.Remote.BaseURL)
	if err := r.Run(addr); err != nil {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}
