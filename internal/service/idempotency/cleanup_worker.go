// Package idempotency чистит записи с истёкшим сроком хранения:
// ключи идемпотентности оформления заказов и отметки журнала выгрузок в CRM.
package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
)

const (
	defaultCleanupInterval  = 10 * time.Minute
	defaultCleanupBatchSize = 500

	// TargetIdempotencyKeys: метка ключей идемпотентности в метриках.
	TargetIdempotencyKeys = "idempotency_keys"
	// TargetSyncLedger: метка журнала выгрузок в CRM.
	TargetSyncLedger = "crm_sync_ledger"
	// TargetOutbox: метка обработанных сообщений outbox.
	TargetOutbox = "outbox_messages"
)

var (
	cleanupRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shop_cleanup_runs_total",
		Help: "Total number of cleanup runs grouped by target and result.",
	}, []string{"target", "result"})
	cleanupDeletedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shop_cleanup_deleted_total",
		Help: "Total number of deleted expired records grouped by target.",
	}, []string{"target"})
	cleanupLastDeleted = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "shop_cleanup_last_deleted",
		Help: "Number of deleted records during the last cleanup run.",
	}, []string{"target"})
)

// Purger удаляет до limit записей, срок хранения которых истёк к before.
// domain.IdempotencyRepository удовлетворяет этому интерфейсу.
type Purger interface {
	DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error)
}

// PurgerFunc позволяет передать функцию как Purger.
type PurgerFunc func(ctx context.Context, before time.Time, limit int) (int, error)

func (f PurgerFunc) DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error) {
	return f(ctx, before, limit)
}

// Retained оборачивает хранилище без собственного TTL: удаляются записи старше retention
// относительно момента очистки.
func Retained(retention time.Duration, purge PurgerFunc) Purger {
	return PurgerFunc(func(ctx context.Context, before time.Time, limit int) (int, error) {
		return purge(ctx, before.Add(-retention), limit)
	})
}

type target struct {
	name   string
	purger Purger
}

// CleanupOptions задает параметры воркера очистки.
type CleanupOptions struct {
	Logger    *log.Entry
	Interval  time.Duration
	BatchSize int
	extra     []target
}

// CleanupOption настраивает CleanupWorker.
type CleanupOption func(*CleanupOptions)

// WithLogger задает logger для воркера.
func WithLogger(logger *log.Entry) CleanupOption {
	return func(opts *CleanupOptions) {
		opts.Logger = logger
	}
}

// WithInterval задает интервал между cleanup-циклами.
func WithInterval(interval time.Duration) CleanupOption {
	return func(opts *CleanupOptions) {
		opts.Interval = interval
	}
}

// WithBatchSize задает размер batch для одного удаления.
func WithBatchSize(batchSize int) CleanupOption {
	return func(opts *CleanupOptions) {
		opts.BatchSize = batchSize
	}
}

// WithTarget добавляет ещё одно хранилище для очистки.
func WithTarget(name string, purger Purger) CleanupOption {
	return func(opts *CleanupOptions) {
		if purger != nil {
			opts.extra = append(opts.extra, target{name: name, purger: purger})
		}
	}
}

// CleanupWorker периодически удаляет просроченные записи.
type CleanupWorker struct {
	targets   []target
	logger    *log.Entry
	interval  time.Duration
	batchSize int
}

// NewCleanupWorker создает воркер очистки. keys: хранилище ключей идемпотентности, может быть nil.
func NewCleanupWorker(keys Purger, options ...CleanupOption) *CleanupWorker {
	opts := CleanupOptions{
		Interval:  defaultCleanupInterval,
		BatchSize: defaultCleanupBatchSize,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "cleanup-worker")
	}

	if opts.Interval <= 0 {
		opts.Interval = defaultCleanupInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultCleanupBatchSize
	}

	var targets []target
	if keys != nil {
		targets = append(targets, target{name: TargetIdempotencyKeys, purger: keys})
	}
	targets = append(targets, opts.extra...)

	return &CleanupWorker{
		targets:   targets,
		logger:    logger,
		interval:  opts.Interval,
		batchSize: opts.BatchSize,
	}
}

// Run запускает периодическую очистку до отмены ctx.
func (w *CleanupWorker) Run(ctx context.Context) {
	if len(w.targets) == 0 {
		w.logger.Warn("cleanup worker is disabled: nothing to clean")
		return
	}

	w.cleanup(ctx, time.Now().UTC())

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.cleanup(ctx, time.Now().UTC())
		}
	}
}

func (w *CleanupWorker) cleanup(ctx context.Context, before time.Time) {
	for _, t := range w.targets {
		deleted, err := w.purge(ctx, t, before)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			cleanupRunsTotal.WithLabelValues(t.name, "error").Inc()
			w.logger.WithError(err).WithField("target", t.name).Warn("cleanup run failed")
			continue
		}

		cleanupRunsTotal.WithLabelValues(t.name, "ok").Inc()
		cleanupLastDeleted.WithLabelValues(t.name).Set(float64(deleted))
		if deleted > 0 {
			w.logger.WithFields(log.Fields{
				"target":  t.name,
				"deleted": deleted,
			}).Info("cleanup completed")
		}
	}
}

// DeleteExpired удаляет во всех хранилищах записи с ttl <= before порциями batchSize.
func (w *CleanupWorker) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	if before.IsZero() {
		before = time.Now().UTC()
	}

	total := 0
	for _, t := range w.targets {
		deleted, err := w.purge(ctx, t, before)
		total += deleted
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (w *CleanupWorker) purge(ctx context.Context, t target, before time.Time) (int, error) {
	totalDeleted := 0
	for {
		if err := ctx.Err(); err != nil {
			return totalDeleted, err
		}

		deleted, err := t.purger.DeleteExpired(ctx, before, w.batchSize)
		if err != nil {
			return totalDeleted, err
		}

		totalDeleted += deleted
		if deleted > 0 {
			cleanupDeletedTotal.WithLabelValues(t.name).Add(float64(deleted))
		}

		if deleted < w.batchSize {
			break
		}
	}

	return totalDeleted, nil
}
