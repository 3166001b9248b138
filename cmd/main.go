package main

import (
	"context"
	"fmt"
	"os"

	"github.com/yungbote/phenoscope-backend/internal/cache"
	"github.com/yungbote/phenoscope-backend/internal/cohort"
	"github.com/yungbote/phenoscope-backend/internal/config"
	"github.com/yungbote/phenoscope-backend/internal/db"
	"github.com/yungbote/phenoscope-backend/internal/engine"
	"github.com/yungbote/phenoscope-backend/internal/handlers"
	"github.com/yungbote/phenoscope-backend/internal/jobs"
	"github.com/yungbote/phenoscope-backend/internal/logger"
	"github.com/yungbote/phenoscope-backend/internal/observability"
	"github.com/yungbote/phenoscope-backend/internal/repos"
	"github.com/yungbote/phenoscope-backend/internal/server"
	"github.com/yungbote/phenoscope-backend/internal/services"
)

func main() {
	// Logger
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx := context.Background()

	// Config
	log.Info("Loading configuration from main...")
	cfg, err := config.Load(log)
	if err != nil {
		log.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	// Tracing
	shutdownOTel := observability.InitOTel(ctx, log, observability.OtelConfig{
		ServiceName: "phenoscope",
		Environment: os.Getenv("APP_ENV"),
		Version:     os.Getenv("APP_VERSION"),
	})
	if shutdownOTel != nil {
		defer func() { _ = shutdownOTel(context.Background()) }()
	}

	// Postgres
	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Error("Postgres init failed", "error", err)
		os.Exit(1)
	}
	if err = postgresService.AutoMigrateAll(); err != nil {
		log.Error("Postgres auto migration failed", "error", err)
		os.Exit(1)
	}
	thePG := postgresService.DB()

	// Repos
	log.Info("Setting up Repos from main...")
	jobRepo := repos.NewAssocJobRepo(thePG, log)

	// Cohort store
	log.Info("Setting up cohort store from main...")
	bundleReader, err := cohort.NewGCSBundleReader(ctx, log, cfg.CohortBucket)
	if err != nil {
		log.Error("Could not init GCS bundle reader", "error", err)
		os.Exit(1)
	}
	cohortStore := cohort.NewStore(log, bundleReader, cohort.StoreConfig{
		Prefix:   cfg.CohortPrefix,
		Capacity: cfg.CohortCapacity,
		Retries:  cfg.StorageRetries,
		Backoff:  cfg.StorageBackoff,
	})

	// Notifier
	var notifier jobs.Notifier = jobs.NoopNotifier{}
	if cfg.RedisAddr != "" {
		redisNotifier, err := services.NewRedisJobNotifier(log, cfg.RedisAddr, cfg.RedisChannel)
		if err != nil {
			log.Warn("Could not init redis notifier, events disabled", "error", err)
		} else {
			notifier = redisNotifier
		}
	}

	// Services
	log.Info("Setting up Services from main...")
	assocService := services.NewAssocService(
		log,
		cohortStore,
		engine.New(log),
		cache.New(log, cfg.CacheCapacity),
		jobRepo,
		notifier,
		cfg.QueueCapacity,
		cfg.JobDeadline,
	)
	assocService.Start(ctx, cfg.Workers)

	// Handlers
	log.Info("Setting up handlers from main...")
	assocHandler := handlers.NewAssocHandler(assocService)
	cohortsHandler := handlers.NewCohortsHandler(assocService)
	healthHandler := handlers.NewHealthHandler(assocService)

	// Router
	log.Info("Setting up router from main...")
	router := server.NewRouter(server.RouterConfig{
		AssocHandler:   assocHandler,
		CohortsHandler: cohortsHandler,
		HealthHandler:  healthHandler,
	})

	fmt.Printf("Server listening on :%s\n", cfg.Port)
	if err := router.Run(":" + cfg.Port); err != nil {
		log.Warn("Server failed", "error", err)
	}
}
