// Package app собирает сервис из конфигурации и управляет его жизненным циклом.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	healthcheck "github.com/vladislavdragonenkov/shopsync/internal/health"
	"github.com/vladislavdragonenkov/shopsync/internal/metrics"
	"github.com/vladislavdragonenkov/shopsync/internal/ordercode"
	"github.com/vladislavdragonenkov/shopsync/internal/service/idempotency"
	"github.com/vladislavdragonenkov/shopsync/internal/service/orders"
	"github.com/vladislavdragonenkov/shopsync/internal/service/outbox"
	httpapi "github.com/vladislavdragonenkov/shopsync/internal/transport/http"
	"github.com/vladislavdragonenkov/shopsync/internal/version"
)

// Run поднимает сервис и блокируется до отмены ctx или падения одного из серверов.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")

	if err := cfg.Validate(); err != nil {
		return err
	}

	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStorage(deps, logger)

	codeCfg, err := ordercode.ConfigForVariant(cfg.OrderCodeVariant)
	if err != nil {
		return err
	}
	generator, err := ordercode.NewGenerator(deps.repo, codeCfg,
		ordercode.WithMetrics(metrics.NewCodeMetrics()),
		ordercode.WithLogger(logger.WithField("layer", "ordercode")),
	)
	if err != nil {
		return err
	}

	orderService, err := orders.NewService(orders.Deps{
		Orders:     deps.repo,
		Timeline:   deps.timelineRepo,
		Outbox:     deps.outboxRepo,
		Transactor: deps.transactor,
		Codes:      generator,
		Logger:     logger.WithField("layer", "orders"),
	})
	if err != nil {
		return err
	}

	producer, err := initKafkaProducer(cfg, logger)
	if err != nil {
		return fmt.Errorf("init kafka producer: %w", err)
	}
	defer closeKafkaProducer(producer, logger)

	healthHandler := healthcheck.NewHandler(version.GetVersion())
	if deps.storageChecker != nil {
		healthHandler.RegisterChecker("storage", deps.storageChecker)
	}
	healthHandler.RegisterChecker("outbox", outboxBacklogChecker(deps.outboxRepo, cfg.OutboxMaxPending))

	events, err := startEventPipeline(ctx, cfg, deps, producer, healthHandler, logger)
	if err != nil {
		return err
	}
	defer events.stop(logger)

	workersCtx, cancelWorkers := context.WithCancel(context.Background())
	outboxDone := startWorker(workersCtx, outbox.NewWorker(deps.outboxRepo, events.publisher,
		outbox.WithLogger(logger.WithField("layer", "outbox")),
		outbox.WithDLQPublisher(events.outboxDLQ),
		outbox.WithPollInterval(cfg.OutboxPollInterval),
		outbox.WithBatchSize(cfg.OutboxBatchSize),
		outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
		outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
	).Run)

	cleanupOptions := []idempotency.CleanupOption{
		idempotency.WithLogger(logger.WithField("layer", "cleanup")),
		idempotency.WithInterval(cfg.IdempotencyCleanupInterval),
		idempotency.WithBatchSize(cfg.IdempotencyCleanupBatchSize),
	}
	if events.ledgerPurger != nil {
		cleanupOptions = append(cleanupOptions, idempotency.WithTarget(idempotency.TargetSyncLedger, events.ledgerPurger))
	}
	if cfg.OutboxRetention > 0 && deps.outboxCleaner != nil {
		cleanupOptions = append(cleanupOptions, idempotency.WithTarget(idempotency.TargetOutbox,
			idempotency.Retained(cfg.OutboxRetention, deps.outboxCleaner.DeleteProcessed)))
	}
	cleanupDone := startWorker(workersCtx, idempotency.NewCleanupWorker(deps.idempotencyRepo, cleanupOptions...).Run)

	defer shutdownWorkers(cancelWorkers, cfg.ShutdownTimeout, logger, outboxDone, cleanupDone)

	api, err := httpapi.NewHandler(httpapi.Deps{
		Orders:         orderService,
		Catalog:        deps.catalogRepo,
		Idempotency:    deps.idempotencyRepo,
		IdempotencyTTL: cfg.IdempotencyTTL,
		Codes:          codeCfg,
		Logger:         logger.WithField("layer", "http"),
	})
	if err != nil {
		return err
	}

	metricsSrv := startMetricsServer(ctx, cfg.MetricsAddr, logger, healthHandler)
	defer shutdownHTTP(metricsSrv, cfg.ShutdownTimeout, logger)

	errCh := make(chan error, 2)

	apiLis, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listen http api: %w", err)
	}
	gin.SetMode(gin.ReleaseMode)
	apiSrv := &http.Server{Handler: api.Router(), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		logger.Infof("HTTP API слушает %s", apiLis.Addr())
		if err := apiSrv.Serve(apiLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http api: %w", err)
		}
	}()
	defer shutdownHTTP(apiSrv, cfg.ShutdownTimeout, logger)

	grpcSrv, err := startGRPCServer(cfg.GRPCAddr, logger, errCh)
	if err != nil {
		return err
	}
	defer grpcSrv.stop(cfg.ShutdownTimeout, logger)

	readinessCtx, stopReadiness := context.WithCancel(ctx)
	defer stopReadiness()
	go grpcSrv.followReadiness(readinessCtx, healthHandler, readinessPollInterval, logger)

	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, останавливаем сервис")
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// startWorker запускает run в отдельной горутине и возвращает канал завершения.
func startWorker(ctx context.Context, run func(ctx context.Context)) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		run(ctx)
	}()
	return done
}

// shutdownWorkers отменяет фоновые воркеры и ждёт их завершения не дольше timeout.
func shutdownWorkers(cancel context.CancelFunc, timeout time.Duration, logger *log.Entry, done ...<-chan struct{}) {
	if cancel != nil {
		cancel()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	deadline := time.After(timeout)
	for _, ch := range done {
		if ch == nil {
			continue
		}
		select {
		case <-ch:
		case <-deadline:
			logger.Warn("background workers did not stop in time")
			return
		}
	}
}

func closeStorage(deps runtimeDependencies, logger *log.Entry) {
	if deps.closeFn == nil {
		return
	}
	if err := deps.closeFn(); err != nil {
		logger.WithError(err).Warn("failed to close storage")
	}
}
