package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	apppresence "github.com/orris-inc/roster/internal/application/presence"
	"github.com/orris-inc/roster/internal/domain/presence"
	"github.com/orris-inc/roster/internal/infrastructure/cache"
	"github.com/orris-inc/roster/internal/infrastructure/config"
	"github.com/orris-inc/roster/internal/infrastructure/database"
	"github.com/orris-inc/roster/internal/infrastructure/migration"
	"github.com/orris-inc/roster/internal/infrastructure/pubsub"
	"github.com/orris-inc/roster/internal/infrastructure/repository"
	"github.com/orris-inc/roster/internal/infrastructure/scheduler"
	httpRouter "github.com/orris-inc/roster/internal/interfaces/http"
	sharedConfig "github.com/orris-inc/roster/internal/shared/config"
	"github.com/orris-inc/roster/internal/shared/logger"
)

var (
	env                string
	autoMigrate        bool
	skipMigrationCheck bool
)

func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Start the presence server",
		Long:  `Start the Roster presence server with specified configuration.`,
		RunE:  run,
	}

	cmd.Flags().StringVarP(&env, "env", "e", "development", "Environment (development, test, production)")
	cmd.Flags().BoolVar(&autoMigrate, "auto-migrate", false, "Automatically run database migrations on startup (not recommended for production)")
	cmd.Flags().BoolVar(&skipMigrationCheck, "skip-migration-check", false, "Skip migration status check on startup")

	return cmd
}

func run(cmd *cobra.Command, args []string) error {
	if envVar := os.Getenv("ENV"); envVar != "" {
		env = envVar
	}

	ginMode := mapEnvToGinMode(env)

	cfg, err := config.Load(env)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	cfg.Server.Mode = ginMode

	if err := logger.Init(&cfg.Logger); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync()

	logger.Info("starting server",
		"environment", env,
		"backend", cfg.Presence.Backend,
		"auto_migrate", autoMigrate)

	gin.SetMode(cfg.Server.Mode)

	gin.DefaultWriter = io.Discard
	gin.DebugPrintRouteFunc = func(httpMethod, absolutePath, handlerName string, nuHandlers int) {
	}

	useDatabase := cfg.Presence.Backend == sharedConfig.PresenceBackendDatabase

	if useDatabase {
		if err := database.Init(&cfg.Database); err != nil {
			logger.Fatal("failed to initialize database", "error", err)
		}
		defer database.Close()

		if err := handleMigrations(env); err != nil {
			logger.Fatal("migration handling failed", "error", err)
		}
	}

	// The event bus always runs on redis, even when sessions live in the
	// relational backend.
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.GetAddr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer pingCancel()
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		logger.Fatal("failed to connect to redis", "error", err, "addr", cfg.Redis.GetAddr())
	}

	log := logger.NewLogger()

	var store presence.Store
	var subjects presence.SubjectDataProvider
	if useDatabase {
		store = repository.NewPresenceRepository(database.Get(), cfg.Presence.TimeoutDuration(), log)
		subjects = repository.NewSubjectRepository(database.Get(), log)
	} else {
		store = cache.NewRedisPresenceStore(redisClient, cfg.Presence.TimeoutDuration(), cfg.Presence.SessionTTL(), log)
	}

	eventBus := pubsub.NewRedisPresenceEventBus(redisClient, log)
	notifier := apppresence.NewEventNotifier(eventBus, subjects, log)
	registry := apppresence.NewRegistry(store, &cfg.Presence, notifier, log)
	sweeper := apppresence.NewSweeper(registry, cfg.Presence.SweepIntervalDuration(), log)

	schedulerManager, err := scheduler.NewSchedulerManager(log)
	if err != nil {
		logger.Fatal("failed to create scheduler", "error", err)
	}
	if err := schedulerManager.RegisterSweepJob(sweeper, cfg.Presence.SweepIntervalDuration()); err != nil {
		logger.Fatal("failed to register sweep job", "error", err)
	}
	schedulerManager.Start()
	defer func() {
		if err := schedulerManager.Stop(); err != nil {
			logger.Error("failed to stop scheduler", "error", err)
		}
	}()

	router := httpRouter.NewRouter(registry, eventBus, cfg, log)
	router.SetupRoutes()

	srv := &http.Server{
		Addr:         cfg.Server.GetAddr(),
		Handler:      router.GetEngine(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting",
			"address", cfg.Server.GetAddr(),
			"mode", cfg.Server.Mode)

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("failed to start server", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		return err
	}

	logger.Info("server exited gracefully")
	return nil
}

func handleMigrations(environment string) error {
	if skipMigrationCheck {
		logger.Info("skipping migration check")
		return nil
	}

	if autoMigrate {
		if environment == "production" {
			logger.Warn("auto-migration is enabled in production environment - this is not recommended!")
		}

		logger.Info("running auto-migration")
		migrationManager := migration.NewManager(environment)
		if err := migrationManager.Migrate(database.Get()); err != nil {
			return fmt.Errorf("auto-migration failed: %w", err)
		}
		logger.Info("auto-migration completed successfully")
		return nil
	}

	logger.Info("checking migration status")

	scriptsPath, err := filepath.Abs("./internal/infrastructure/migration/scripts")
	if err != nil {
		logger.Warn("failed to get migration scripts path", "error", err)
		return nil
	}

	strategy := migration.NewGolangMigrateStrategy(scriptsPath)
	if migrateStrategy, ok := strategy.(*migration.GolangMigrateStrategy); ok {
		version, dirty, err := migrateStrategy.GetVersion(database.Get())
		if err != nil {
			logger.Warn("failed to check migration status", "error", err)
		} else {
			logger.Info("current migration version",
				"version", version,
				"dirty", dirty)
		}
	}

	logger.Info("migration check completed")

	return nil
}

func mapEnvToGinMode(environment string) string {
	switch environment {
	case "production", "prod":
		return "release"
	case "development", "dev":
		return "debug"
	case "test", "testing":
		return "test"
	case "debug":
		return "debug"
	case "release":
		return "release"
	default:
		return "debug"
	}
}
