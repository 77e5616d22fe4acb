package domain

import "time"

// Типы событий таймлайна заказа.
const (
	TimelineOrderPlaced     = "OrderPlaced"
	TimelineStateChanged    = "OrderStateChanged"
	TimelinePaymentAttached = "PaymentAttached"
)

// TimelineEvent описывает событие в жизненном цикле заказа.
// FromState и ToState заполнены только у OrderStateChanged; у OrderPlaced есть лишь ToState.
type TimelineEvent struct {
	OrderID   string
	Type      string
	FromState OrderState
	ToState   OrderState
	Reason    string
	Occurred  time.Time
}
