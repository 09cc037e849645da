package sweep

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

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

var (
	env    string
	silent bool
)

// NewCommand builds the one-shot sweep command. It evicts stale sessions
// once and exits, for use from cron or during incident cleanup.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Evict stale presence sessions once",
		Long:  `Run a single sweep pass against the configured presence backend, evicting sessions whose heartbeats have stopped.`,
		RunE:  run,
	}

	cmd.Flags().StringVarP(&env, "env", "e", "development", "Environment (development, test, production)")
	cmd.Flags().BoolVar(&silent, "silent", false, "Skip publishing left events for evicted sessions")

	return cmd
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(env)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := logger.Init(&cfg.Logger); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync()

	log := logger.NewLogger()

	useDatabase := cfg.Presence.Backend == sharedConfig.PresenceBackendDatabase

	if useDatabase {
		if err := database.Init(&cfg.Database); err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		defer database.Close()
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.GetAddr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer pingCancel()
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}

	var store presence.Store
	var subjects presence.SubjectDataProvider
	if useDatabase {
		store = repository.NewPresenceRepository(database.Get(), cfg.Presence.TimeoutDuration(), log)
		subjects = repository.NewSubjectRepository(database.Get(), log)
	} else {
		store = cache.NewRedisPresenceStore(redisClient, cfg.Presence.TimeoutDuration(), cfg.Presence.SessionTTL(), log)
	}

	var notifier apppresence.Notifier
	if !silent {
		eventBus := pubsub.NewRedisPresenceEventBus(redisClient, log)
		notifier = apppresence.NewEventNotifier(eventBus, subjects, log)
	}

	registry := apppresence.NewRegistry(store, &cfg.Presence, notifier, log)
	sweeper := apppresence.NewSweeper(registry, cfg.Presence.SweepIntervalDuration(), log)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	count, err := sweeper.RunOnce(ctx)
	if err != nil {
		return fmt.Errorf("sweep failed: %w", err)
	}

	fmt.Printf("evicted %d stale session(s)\n", count)
	return nil
}
