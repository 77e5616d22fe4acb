package app

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shopsync/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/shopsync/internal/health"
	"github.com/vladislavdragonenkov/shopsync/internal/storage/memory"
	"github.com/vladislavdragonenkov/shopsync/internal/storage/postgres"
)

// runtimeDependencies: хранилища выбранного драйвера.
type runtimeDependencies struct {
	repo            domain.OrderRepository
	outboxRepo      domain.OutboxRepository
	timelineRepo    domain.TimelineRepository
	idempotencyRepo domain.IdempotencyRepository
	catalogRepo     domain.CatalogRepository
	transactor      domain.Transactor
	// outboxCleaner удаляет обработанные сообщения outbox, см. outbox.retention.
	outboxCleaner  domain.OutboxCleaner
	storageChecker healthcheck.Checker
	closeFn        func() error
}

func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (runtimeDependencies, error) {
	switch cfg.StorageDriver {
	case "", StorageDriverMemory:
		logger.Info("using in-memory storage")
		outbox := memory.NewOutboxRepository()
		return runtimeDependencies{
			repo:            memory.NewOrderRepository(),
			outboxRepo:      outbox,
			outboxCleaner:   outbox,
			timelineRepo:    memory.NewTimelineRepository(),
			idempotencyRepo: memory.NewIdempotencyRepository(),
			catalogRepo:     memory.NewCatalogRepository(),
			transactor:      memory.NewTransactor(),
		}, nil
	case StorageDriverPostgres:
		if cfg.PostgresDSN == "" {
			return runtimeDependencies{}, fmt.Errorf("postgres storage requires dsn")
		}

		store, err := postgres.Open(ctx, cfg.PostgresDSN,
			postgres.WithPool(postgres.PoolConfig{MaxOpenConns: cfg.PostgresMaxConns, MaxIdleConns: cfg.PostgresMaxConns}),
			postgres.WithLogger(logger.WithField("component", "postgres")),
		)
		if err != nil {
			return runtimeDependencies{}, err
		}
		if cfg.PostgresAutoMigrate {
			if err := store.EnsureSchema(ctx); err != nil {
				_ = store.Close()
				return runtimeDependencies{}, fmt.Errorf("apply migrations: %w", err)
			}
			logger.Info("postgres migrations applied")
		}

		outbox := postgres.NewOutboxRepository(store)
		return runtimeDependencies{
			repo:            postgres.NewOrderRepository(store),
			outboxRepo:      outbox,
			outboxCleaner:   outbox,
			timelineRepo:    postgres.NewTimelineRepository(store),
			idempotencyRepo: postgres.NewIdempotencyRepository(store),
			catalogRepo:     postgres.NewCatalogRepository(store),
			transactor:      store,
			storageChecker:  healthcheck.NewPingChecker("postgres", 0, store.Ping),
			closeFn:         store.Close,
		}, nil
	default:
		return runtimeDependencies{}, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}
