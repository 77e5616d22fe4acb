package crmsync

import (
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/shopsync/internal/domain"
)

// Режимы работы с каталогом CRM.
const (
	// CatalogModeCreateMissing ищет предложения в CRM и создаёт временные товары для ненайденных.
	CatalogModeCreateMissing = "create-missing"
	// CatalogModeBatchEdit обновляет товары CRM по идентификатору варианта.
	CatalogModeBatchEdit = "batch-edit"
)

const (
	defaultOrderStatus   = "new-site"
	defaultPaymentStatus = "not-paid"
	defaultLedgerTTL     = 30 * 24 * time.Hour

	// UnbrandedSlug подставляется, если у товара нет коллекции-бренда.
	UnbrandedSlug = "unbranded"
)

// Options: параметры выгрузки заказов.
type Options struct {
	// Site: код магазина в CRM (shopName).
	Site          string
	OrderStatus   string
	PaymentStatus string
	CatalogMode   string
	// Triggers: состояния, переход в которые запускает выгрузку.
	Triggers []domain.OrderState
	// LedgerTTL: сколько помнить выгруженный заказ.
	LedgerTTL time.Duration
}

// DefaultOptions возвращает параметры по умолчанию.
func DefaultOptions() Options {
	return Options{
		OrderStatus:   defaultOrderStatus,
		PaymentStatus: defaultPaymentStatus,
		CatalogMode:   CatalogModeCreateMissing,
		Triggers:      []domain.OrderState{domain.OrderStatePaymentAuthorized, domain.OrderStatePaymentSettled},
		LedgerTTL:     defaultLedgerTTL,
	}
}

func (o *Options) normalize() error {
	defaults := DefaultOptions()
	if o.OrderStatus == "" {
		o.OrderStatus = defaults.OrderStatus
	}
	if o.PaymentStatus == "" {
		o.PaymentStatus = defaults.PaymentStatus
	}
	if o.CatalogMode == "" {
		o.CatalogMode = defaults.CatalogMode
	}
	if len(o.Triggers) == 0 {
		o.Triggers = defaults.Triggers
	}
	if o.LedgerTTL <= 0 {
		o.LedgerTTL = defaults.LedgerTTL
	}

	switch o.CatalogMode {
	case CatalogModeCreateMissing, CatalogModeBatchEdit:
	default:
		return fmt.Errorf("crmsync: unknown catalog mode %q", o.CatalogMode)
	}
	for _, state := range o.Triggers {
		if !state.Valid() {
			return fmt.Errorf("crmsync: unknown trigger state %q", state)
		}
	}
	return nil
}

// Filter возвращает фильтр событий, запускающих выгрузку.
func (o Options) Filter() domain.TransitionFilter {
	return domain.TransitionFilter{To: append([]domain.OrderState(nil), o.Triggers...)}
}
