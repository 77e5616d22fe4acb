package domain

import "time"

// PaymentState описывает состояние платежа в системе.
type PaymentState string

const (
	// PaymentStateAuthorized: сумма успешно зарезервирована у провайдера.
	PaymentStateAuthorized PaymentState = "Authorized"
	// PaymentStateSettled: деньги списаны в пользу магазина.
	PaymentStateSettled PaymentState = "Settled"
	// PaymentStateDeclined: провайдер отклонил платёж.
	PaymentStateDeclined PaymentState = "Declined"
)

// Payment описывает платёж, связанный с заказом.
type Payment struct {
	// Method: код платёжного метода (например, bank-card).
	Method string
	// Amount в минимальных денежных единицах.
	Amount        int64
	State         PaymentState
	TransactionID string // Может быть пустым, если провайдер не возвращает идентификатор.
	CreatedAt     time.Time
}

// Validate проверяет корректность полей платежа и возвращает ошибки, если они есть.
func (p *Payment) Validate() []error {
	var errs []error

	if p.Method == "" {
		errs = append(errs, ErrPaymentMethodRequired)
	}
	if p.Amount < 0 {
		errs = append(errs, ErrPaymentAmountNegative)
	}

	return errs
}
