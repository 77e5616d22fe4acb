package app

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shopsync/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/shopsync/internal/health"
	"github.com/vladislavdragonenkov/shopsync/internal/messaging/bus"
	"github.com/vladislavdragonenkov/shopsync/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/shopsync/internal/metrics"
	"github.com/vladislavdragonenkov/shopsync/internal/retailcrm"
	"github.com/vladislavdragonenkov/shopsync/internal/retry"
	"github.com/vladislavdragonenkov/shopsync/internal/service/crmsync"
	"github.com/vladislavdragonenkov/shopsync/internal/service/idempotency"
	"github.com/vladislavdragonenkov/shopsync/internal/storage/memory"
	"github.com/vladislavdragonenkov/shopsync/internal/storage/redis"
)

const crmSubscriptionName = "crm-sync"

// eventPipeline связывает outbox с подписчиками: через Kafka, если она настроена,
// иначе через внутреннюю шину.
type eventPipeline struct {
	publisher domain.OutboxPublisher
	outboxDLQ domain.OutboxPublisher
	// ledgerPurger заполняется для in-memory журнала выгрузок, Redis чистит ключи сам по TTL.
	ledgerPurger idempotency.Purger

	bus      *bus.Bus
	consumer *kafka.Consumer
	cancel   context.CancelFunc
	closers  []func() error
}

func startEventPipeline(
	ctx context.Context,
	cfg Config,
	deps runtimeDependencies,
	producer *kafka.Producer,
	healthHandler *healthcheck.Handler,
	logger *log.Entry,
) (*eventPipeline, error) {
	p := &eventPipeline{}
	if producer != nil {
		p.publisher = kafka.NewOutboxPublisher(producer, cfg.KafkaTopic)
		if cfg.KafkaOutboxDLQTopic != "" {
			p.outboxDLQ = kafka.NewOutboxPublisher(producer, cfg.KafkaOutboxDLQTopic)
		}
	} else {
		p.bus = bus.New(bus.WithLogger(logger.WithField("layer", "bus")))
		p.publisher = p.bus
	}

	runCtx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel

	if cfg.CRM.Enabled {
		handler, err := p.initCRMSync(ctx, cfg, deps, producer, healthHandler, logger)
		if err != nil {
			p.stop(logger)
			return nil, err
		}
		if err := p.subscribe(runCtx, cfg, producer, handler, logger); err != nil {
			p.stop(logger)
			return nil, err
		}
	} else {
		logger.Info("crm sync disabled")
	}

	if p.bus != nil {
		p.bus.Start(runCtx)
	}
	return p, nil
}

func (p *eventPipeline) initCRMSync(
	ctx context.Context,
	cfg Config,
	deps runtimeDependencies,
	producer *kafka.Producer,
	healthHandler *healthcheck.Handler,
	logger *log.Entry,
) (*crmsync.Handler, error) {
	opts, err := cfg.crmOptions()
	if err != nil {
		return nil, err
	}

	crmMetrics := metrics.NewCRMMetrics()
	client, err := retailcrm.NewClient(retailcrm.Config{
		AccountName: cfg.CRM.AccountName,
		APIKey:      cfg.CRM.APIKey,
		BaseURL:     cfg.CRM.BaseURL,
		Timeout:     cfg.CRM.Timeout,
		RateLimit:   cfg.CRM.RateLimit,
		LogRequests: cfg.CRM.LogRequests,
	},
		retailcrm.WithMetrics(crmMetrics),
		retailcrm.WithLogger(logger.WithField("layer", "retailcrm")),
	)
	if err != nil {
		return nil, fmt.Errorf("init retailcrm client: %w", err)
	}
	healthHandler.RegisterChecker("retailcrm", healthcheck.NewOptionalChecker("retailcrm", func() error {
		if client.BreakerState() == retry.CircuitOpen {
			return retry.ErrCircuitOpen
		}
		return nil
	}))

	var ledger domain.SyncLedger
	if cfg.RedisAddr != "" {
		redisLedger, err := redis.NewSyncLedger(ctx, redis.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return nil, fmt.Errorf("init redis sync ledger: %w", err)
		}
		p.closers = append(p.closers, redisLedger.Close)
		healthHandler.RegisterChecker("redis", healthcheck.NewPingChecker("redis", 0, redisLedger.Ping))
		ledger = redisLedger
		logger.WithField("addr", cfg.RedisAddr).Info("redis sync ledger initialized")
	} else {
		memLedger := memory.NewSyncLedger()
		p.ledgerPurger = memLedger
		ledger = memLedger
	}

	var sink crmsync.ErrorSink
	if producer != nil && cfg.KafkaDLQTopic != "" {
		sink = kafka.NewDLQSink(producer, cfg.KafkaDLQTopic)
	}

	return crmsync.NewHandler(crmsync.Deps{
		CRM:     client,
		Catalog: deps.catalogRepo,
		Ledger:  ledger,
		Sink:    sink,
		Metrics: crmMetrics,
		Logger:  logger.WithField("layer", "crm-sync"),
	}, opts)
}

func (p *eventPipeline) subscribe(ctx context.Context, cfg Config, producer *kafka.Producer, handler *crmsync.Handler, logger *log.Entry) error {
	if p.bus != nil {
		return p.bus.Subscribe(crmSubscriptionName, handler.Filter(), handler.Handle)
	}

	consumer, err := kafka.NewConsumer(kafka.ConsumerConfig{
		Brokers:    cfg.KafkaBrokers,
		GroupID:    cfg.KafkaGroupID,
		Topics:     []string{cfg.KafkaTopic},
		ClientID:   cfg.KafkaClientID,
		MaxRetries: cfg.KafkaMaxRetries,
		RetryDelay: kafka.DefaultRetryDelay,
		DLQTopic:   cfg.KafkaDLQTopic,
	},
		kafka.NewTransitionHandler(handler.Filter(), handler.Handle, logger.WithField("layer", "kafka")),
		producer,
	)
	if err != nil {
		return fmt.Errorf("init kafka consumer: %w", err)
	}
	if err := consumer.Start(ctx); err != nil {
		_ = consumer.Stop()
		return err
	}
	p.consumer = consumer
	return nil
}

// stop останавливает подписчиков. Вызывается после остановки outbox worker.
func (p *eventPipeline) stop(logger *log.Entry) {
	if p == nil {
		return
	}
	if p.cancel != nil {
		p.cancel()
	}
	if p.consumer != nil {
		if err := p.consumer.Stop(); err != nil {
			logger.WithError(err).Warn("failed to stop kafka consumer")
		}
	}
	if p.bus != nil {
		p.bus.Stop()
	}
	for _, closeFn := range p.closers {
		if err := closeFn(); err != nil {
			logger.WithError(err).Warn("failed to close event pipeline resource")
		}
	}
}

const outboxStatsTimeout = 2 * time.Second

// outboxBacklogChecker отдаёт degraded, когда в outbox скопилось больше maxPending сообщений.
func outboxBacklogChecker(repo domain.OutboxRepository, maxPending int) healthcheck.Checker {
	return healthcheck.NewOptionalChecker("outbox", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), outboxStatsTimeout)
		defer cancel()

		stats, err := repo.Stats(ctx)
		if err != nil {
			return err
		}
		if maxPending > 0 && stats.PendingCount > maxPending {
			return fmt.Errorf("outbox backlog %d exceeds %d, oldest since %s",
				stats.PendingCount, maxPending, stats.OldestPendingAt.Format(time.RFC3339))
		}
		return nil
	})
}
