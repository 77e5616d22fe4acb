// Package orders оформляет заказы и ведёт их по жизненному циклу.
package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shopsync/internal/domain"
)

const defaultListOrdersLimit = 100

// CodeGenerator выдаёт уникальный код заказа. ctx несёт транзакцию оформления.
type CodeGenerator interface {
	Generate(ctx context.Context) (string, error)
}

// ValidationError собирает нарушения инвариантов заказа.
type ValidationError struct {
	Errs []error
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Errs))
	for _, err := range e.Errs {
		parts = append(parts, err.Error())
	}
	return strings.Join(parts, "; ")
}

// Unwrap позволяет проверять конкретные нарушения через errors.Is.
func (e *ValidationError) Unwrap() []error {
	return e.Errs
}

// LineInput: позиция оформляемого заказа.
type LineInput struct {
	VariantID    string
	ProductID    string
	SKU          string
	Name         string
	PriceWithTax int64
	Quantity     int32
}

// PlaceOrderInput: данные оформляемого заказа.
type PlaceOrderInput struct {
	Customer        domain.Customer
	Currency        string
	Lines           []LineInput
	ShippingAddress domain.Address
	ShippingLines   []domain.ShippingLine
	CustomFields    map[string]string
	// State: начальное состояние; по умолчанию ArrangingPayment.
	State domain.OrderState
}

// TransitionInput: перевод заказа в новое состояние.
type TransitionInput struct {
	OrderID string
	To      domain.OrderState
	// Payment прикрепляется к заказу в той же транзакции, если задан.
	Payment *domain.Payment
}

// Service реализует сценарии работы с заказами.
type Service struct {
	orders   domain.OrderRepository
	timeline domain.TimelineRepository
	outbox   domain.OutboxRepository
	tx       domain.Transactor
	codes    CodeGenerator
	logger   *log.Entry
	now      func() time.Time
}

// Deps: зависимости сервиса.
type Deps struct {
	Orders     domain.OrderRepository
	Timeline   domain.TimelineRepository
	Outbox     domain.OutboxRepository
	Transactor domain.Transactor
	Codes      CodeGenerator
	Logger     *log.Entry
}

// NewService конструирует сервис с зависимостями.
func NewService(deps Deps) (*Service, error) {
	switch {
	case deps.Orders == nil:
		return nil, errors.New("orders: order repository is required")
	case deps.Transactor == nil:
		return nil, errors.New("orders: transactor is required")
	case deps.Codes == nil:
		return nil, errors.New("orders: code generator is required")
	}

	logger := deps.Logger
	if logger == nil {
		logger = log.WithField("component", "order-service")
	}

	return &Service{
		orders:   deps.Orders,
		timeline: deps.Timeline,
		outbox:   deps.Outbox,
		tx:       deps.Transactor,
		codes:    deps.Codes,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// PlaceOrder оформляет заказ. Код генерируется внутри транзакции сохранения,
// поэтому проверки уникальности видят незакоммиченные заказы этой транзакции.
// ErrCodeGenerationExhausted прерывает оформление, ничего не сохраняется.
func (s *Service) PlaceOrder(ctx context.Context, in PlaceOrderInput) (domain.Order, error) {
	state := in.State
	if state == "" {
		state = domain.OrderStateArrangingPayment
	}
	if state != domain.OrderStateAddingItems && state != domain.OrderStateArrangingPayment {
		return domain.Order{}, fmt.Errorf("initial state %s: %w", state, domain.ErrInvalidTransition)
	}

	now := s.now()
	customer := in.Customer
	order := domain.Order{
		ID:              uuid.NewString(),
		State:           state,
		Customer:        &customer,
		Currency:        in.Currency,
		ShippingAddress: in.ShippingAddress,
		ShippingLines:   append([]domain.ShippingLine(nil), in.ShippingLines...),
		CustomFields:    in.CustomFields,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	for _, line := range in.Lines {
		order.Lines = append(order.Lines, domain.OrderLine{
			ID: uuid.NewString(),
			Variant: domain.ProductVariant{
				ID:           line.VariantID,
				ProductID:    line.ProductID,
				SKU:          line.SKU,
				Name:         line.Name,
				PriceWithTax: line.PriceWithTax,
			},
			Quantity: line.Quantity,
		})
	}
	order.TotalWithTax = order.ComputeTotal()

	if errs := order.ValidateInvariants(); len(errs) > 0 {
		return domain.Order{}, &ValidationError{Errs: errs}
	}

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		code, err := s.codes.Generate(ctx)
		if err != nil {
			return err
		}
		order.Code = code

		if err := s.orders.Create(ctx, order); err != nil {
			return fmt.Errorf("create order: %w", err)
		}
		return s.appendTimeline(ctx, domain.TimelineEvent{
			OrderID:  order.ID,
			Type:     domain.TimelineOrderPlaced,
			ToState:  order.State,
			Occurred: now,
		})
	})
	if err != nil {
		s.logger.WithError(err).WithField("customer_id", customer.ID).Error("failed to place order")
		return domain.Order{}, err
	}

	s.logger.WithFields(log.Fields{
		"order_id":   order.ID,
		"order_code": order.Code,
	}).Info("Order placed")
	return order.Clone(), nil
}

// Transition переводит заказ в новое состояние. Сохранение, таймлайн и событие
// в outbox пишутся в одной транзакции.
func (s *Service) Transition(ctx context.Context, in TransitionInput) (domain.Order, error) {
	if in.OrderID == "" {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	if !in.To.Valid() {
		return domain.Order{}, domain.ErrUnknownState
	}
	if in.Payment != nil {
		if errs := in.Payment.Validate(); len(errs) > 0 {
			return domain.Order{}, &ValidationError{Errs: errs}
		}
	}

	var updated domain.Order
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		order, err := s.orders.Get(ctx, in.OrderID)
		if err != nil {
			return err
		}

		from := order.State
		if !from.CanTransitionTo(in.To) {
			return fmt.Errorf("%s -> %s: %w", from, in.To, domain.ErrInvalidTransition)
		}

		now := s.now()
		if in.Payment != nil {
			payment := *in.Payment
			if payment.CreatedAt.IsZero() {
				payment.CreatedAt = now
			}
			order.Payments = append(order.Payments, payment)
			if err := s.appendTimeline(ctx, domain.TimelineEvent{
				OrderID:  order.ID,
				Type:     domain.TimelinePaymentAttached,
				Reason:   payment.Method,
				Occurred: now,
			}); err != nil {
				return err
			}
		}

		order.State = in.To
		order.UpdatedAt = now
		if err := s.orders.Save(ctx, order); err != nil {
			return fmt.Errorf("save order: %w", err)
		}
		order.Version++

		if err := s.appendTimeline(ctx, domain.TimelineEvent{
			OrderID:   order.ID,
			Type:      domain.TimelineStateChanged,
			FromState: from,
			ToState:   in.To,
			Occurred:  now,
		}); err != nil {
			return err
		}
		if err := s.enqueueTransition(ctx, order, from, now); err != nil {
			return err
		}

		updated = order
		return nil
	})
	if err != nil {
		s.logger.WithError(err).WithFields(log.Fields{
			"order_id": in.OrderID,
			"to_state": in.To,
		}).Warn("failed to transition order")
		return domain.Order{}, err
	}

	s.logger.WithFields(log.Fields{
		"order_id":   updated.ID,
		"order_code": updated.Code,
		"to_state":   updated.State,
	}).Info("Order state changed")
	return updated.Clone(), nil
}

// Get возвращает заказ по идентификатору.
func (s *Service) Get(ctx context.Context, id string) (domain.Order, error) {
	return s.orders.Get(ctx, id)
}

// GetByCode возвращает заказ по публичному коду.
func (s *Service) GetByCode(ctx context.Context, code string) (domain.Order, error) {
	return s.orders.GetByCode(ctx, code)
}

// ListByCustomer возвращает заказы клиента.
func (s *Service) ListByCustomer(ctx context.Context, customerID string, limit int) ([]domain.Order, error) {
	if limit <= 0 {
		limit = defaultListOrdersLimit
	}
	return s.orders.ListByCustomer(ctx, customerID, limit)
}

// History возвращает таймлайн заказа.
func (s *Service) History(ctx context.Context, orderID string) ([]domain.TimelineEvent, error) {
	if _, err := s.orders.Get(ctx, orderID); err != nil {
		return nil, err
	}
	if s.timeline == nil {
		return nil, nil
	}
	return s.timeline.List(ctx, orderID)
}

func (s *Service) appendTimeline(ctx context.Context, event domain.TimelineEvent) error {
	if s.timeline == nil {
		return nil
	}
	if err := s.timeline.Append(ctx, event); err != nil {
		return fmt.Errorf("append timeline %s: %w", event.Type, err)
	}
	return nil
}

func (s *Service) enqueueTransition(ctx context.Context, order domain.Order, from domain.OrderState, occurred time.Time) error {
	if s.outbox == nil {
		return nil
	}

	event := domain.StateTransitionEvent{
		ID:         uuid.NewString(),
		OrderID:    order.ID,
		OrderCode:  order.Code,
		FromState:  from,
		ToState:    order.State,
		Order:      order.Clone(),
		OccurredAt: occurred,
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal state transition: %w", err)
	}

	_, err = s.outbox.Enqueue(ctx, domain.OutboxMessage{
		ID:            event.ID,
		AggregateType: domain.AggregateOrder,
		AggregateID:   order.ID,
		EventType:     domain.EventTypeOrderStateTransition,
		Payload:       payload,
	})
	if err != nil {
		return fmt.Errorf("enqueue state transition: %w", err)
	}
	return nil
}
