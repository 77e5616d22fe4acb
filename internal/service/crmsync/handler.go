// Package crmsync выгружает оплаченные заказы в RetailCRM.
package crmsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shopsync/internal/domain"
	"github.com/vladislavdragonenkov/shopsync/internal/metrics"
	"github.com/vladislavdragonenkov/shopsync/internal/retailcrm"
)

// ErrCustomerMissing: у заказа нет покупателя, выгружать некого.
var ErrCustomerMissing = errors.New("order customer is undefined")

// CRM: операции RetailCRM, нужные для выгрузки заказа.
type CRM interface {
	Customer(ctx context.Context, externalID string) (retailcrm.Customer, error)
	CustomerCreate(ctx context.Context, customer retailcrm.Customer, site string) (int, error)
	Inventories(ctx context.Context, filter retailcrm.InventoriesFilter) ([]retailcrm.InventoryOffer, error)
	Sites(ctx context.Context) ([]retailcrm.Site, error)
	ProductsBatchCreate(ctx context.Context, products []retailcrm.ProductCreate) (retailcrm.BatchResult, error)
	ProductsBatchEdit(ctx context.Context, products []retailcrm.ProductEdit) (retailcrm.BatchResult, error)
	Products(ctx context.Context, ids []int) ([]retailcrm.Product, error)
	OrderCreate(ctx context.Context, order retailcrm.Order, site string) (retailcrm.OrderCreateResult, error)
}

// ErrorSink получает события, выгрузка которых не удалась.
type ErrorSink interface {
	Report(ctx context.Context, event domain.StateTransitionEvent, err error) error
}

// Handler реагирует на переходы заказа и выгружает заказ в CRM.
type Handler struct {
	crm     CRM
	catalog domain.CatalogRepository
	ledger  domain.SyncLedger
	sink    ErrorSink
	opts    Options
	filter  domain.TransitionFilter
	metrics *metrics.CRMMetrics
	logger  *log.Entry
	now     func() time.Time
}

// Deps: зависимости обработчика. Ledger, Sink и Metrics необязательны.
type Deps struct {
	CRM     CRM
	Catalog domain.CatalogRepository
	Ledger  domain.SyncLedger
	Sink    ErrorSink
	Metrics *metrics.CRMMetrics
	Logger  *log.Entry
}

// NewHandler создаёт обработчик.
func NewHandler(deps Deps, opts Options) (*Handler, error) {
	if deps.CRM == nil {
		return nil, errors.New("crmsync: crm client is required")
	}
	if deps.Catalog == nil {
		return nil, errors.New("crmsync: catalog repository is required")
	}
	if err := opts.normalize(); err != nil {
		return nil, err
	}

	logger := deps.Logger
	if logger == nil {
		logger = log.WithField("component", "crm-sync")
	}

	return &Handler{
		crm:     deps.CRM,
		catalog: deps.Catalog,
		ledger:  deps.Ledger,
		sink:    deps.Sink,
		opts:    opts,
		filter:  opts.Filter(),
		metrics: deps.Metrics,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

// Filter возвращает фильтр событий, на которые подписывается обработчик.
func (h *Handler) Filter() domain.TransitionFilter {
	return h.filter
}

// Handle выгружает заказ при переходе в одно из триггерных состояний.
// Ошибки выгрузки логируются, отправляются в ErrorSink и не возвращаются.
func (h *Handler) Handle(ctx context.Context, event domain.StateTransitionEvent) error {
	logger := h.logger.WithFields(log.Fields{
		"order_id":   event.OrderID,
		"order_code": event.OrderCode,
		"to_state":   event.ToState,
	})

	if !h.filter.Matches(event) {
		h.metrics.RecordSync(metrics.SyncResultSkipped)
		logger.Debug("Skipping order state transition")
		return nil
	}

	key := event.OrderCode
	if key == "" {
		key = event.OrderID
	}

	if h.ledger != nil {
		acquired, err := h.ledger.Acquire(ctx, key, h.opts.LedgerTTL)
		if err != nil {
			h.fail(ctx, logger, event, fmt.Errorf("acquire sync ledger: %w", err))
			return nil
		}
		if !acquired {
			h.metrics.RecordSync(metrics.SyncResultDuplicate)
			logger.Info("Order already synced to CRM")
			return nil
		}
	}

	h.metrics.SyncStarted()
	started := time.Now()
	err := h.SyncOrder(ctx, event.Order)
	h.metrics.RecordSyncDuration(time.Since(started))
	h.metrics.SyncFinished()

	if err != nil {
		if h.ledger != nil {
			if releaseErr := h.ledger.Release(ctx, key); releaseErr != nil {
				logger.WithError(releaseErr).Warn("Failed to release sync ledger entry")
			}
		}
		h.fail(ctx, logger, event, err)
		return nil
	}

	h.metrics.RecordSync(metrics.SyncResultSynced)
	logger.Info("Successfully created order in CRM")
	return nil
}

func (h *Handler) fail(ctx context.Context, logger *log.Entry, event domain.StateTransitionEvent, err error) {
	h.metrics.RecordSync(metrics.SyncResultFailed)
	logger.WithError(err).Error("Failed to create order in CRM")

	if h.sink == nil {
		return
	}
	if sinkErr := h.sink.Report(ctx, event, err); sinkErr != nil {
		logger.WithError(sinkErr).Warn("Failed to report CRM sync error")
	}
}
