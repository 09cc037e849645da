package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	apppresence "github.com/orris-inc/roster/internal/application/presence"
	"github.com/orris-inc/roster/internal/domain/presence"
	"github.com/orris-inc/roster/internal/infrastructure/cache"
	"github.com/orris-inc/roster/internal/infrastructure/config"
	"github.com/orris-inc/roster/internal/infrastructure/database"
	"github.com/orris-inc/roster/internal/infrastructure/pubsub"
	"github.com/orris-inc/roster/internal/infrastructure/repository"
	sharedConfig "github.com/orris-inc/roster/internal/shared/config"
	"github.com/orris-inc/roster/internal/shared/logger"
)

// Standalone sweep worker. Deploy it when the API servers should not run
// the periodic sweep themselves, for example behind an autoscaler where a
// single sweeper is enough for the whole fleet.
func main() {
	// Parse environment from command line or env variable
	env := "development"
	if len(os.Args) > 1 {
		env = os.Args[1]
	}
	if envVar := os.Getenv("ENV"); envVar != "" {
		env = envVar
	}

	// Load configuration
	cfg, err := config.Load(env)
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	if err := logger.Init(&cfg.Logger); err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	log := logger.NewLogger()
	log.Infow("starting presence sweep worker",
		"environment", env,
		"backend", cfg.Presence.Backend,
		"interval", cfg.Presence.SweepIntervalDuration())

	useDatabase := cfg.Presence.Backend == sharedConfig.PresenceBackendDatabase

	// Initialize database when sessions live in the relational backend
	if useDatabase {
		if err := database.Init(&cfg.Database); err != nil {
			logger.Fatal("failed to initialize database", "error", err)
		}
		defer database.Close()
	}

	// Initialize Redis client
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.GetAddr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	// Test Redis connection
	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		pingCancel()
		logger.Fatal("failed to connect to redis", "error", err)
	}
	pingCancel()
	log.Infow("redis connection established", "address", cfg.Redis.GetAddr())

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

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Run initial sweep
	log.Infow("running initial sweep")
	if _, err := sweeper.RunOnce(ctx); err != nil {
		log.Errorw("initial sweep failed", "error", err)
	}

	go sweeper.Run(ctx)

	sig := <-sigChan
	log.Infow("received signal, shutting down", "signal", sig)

	// Perform a final sweep before exit
	finalCtx, finalCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if _, err := sweeper.RunOnce(finalCtx); err != nil {
		log.Errorw("final sweep failed", "error", err)
	}
	finalCancel()

	log.Infow("presence sweep worker stopped")
}
