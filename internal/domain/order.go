package domain

import "time"

// OrderState описывает жизненный цикл заказа витрины.
type OrderState string

const (
	// OrderStateAddingItems: покупатель ещё собирает корзину.
	OrderStateAddingItems OrderState = "AddingItems"
	// OrderStateArrangingPayment: заказ оформлен и ожидает оплаты.
	OrderStateArrangingPayment OrderState = "ArrangingPayment"
	// OrderStatePaymentAuthorized: платёж авторизован провайдером.
	OrderStatePaymentAuthorized OrderState = "PaymentAuthorized"
	// OrderStatePaymentSettled: деньги списаны.
	OrderStatePaymentSettled OrderState = "PaymentSettled"
	// OrderStateShipped: заказ передан в доставку.
	OrderStateShipped OrderState = "Shipped"
	// OrderStateDelivered: заказ получен покупателем.
	OrderStateDelivered OrderState = "Delivered"
	// OrderStateCancelled: заказ отменён.
	OrderStateCancelled OrderState = "Cancelled"
)

var orderTransitions = map[OrderState][]OrderState{
	OrderStateAddingItems:       {OrderStateArrangingPayment, OrderStateCancelled},
	OrderStateArrangingPayment:  {OrderStatePaymentAuthorized, OrderStatePaymentSettled, OrderStateAddingItems, OrderStateCancelled},
	OrderStatePaymentAuthorized: {OrderStatePaymentSettled, OrderStateCancelled},
	OrderStatePaymentSettled:    {OrderStateShipped, OrderStateCancelled},
	OrderStateShipped:           {OrderStateDelivered},
	OrderStateDelivered:         nil,
	OrderStateCancelled:         nil,
}

// Valid сообщает, известно ли состояние.
func (s OrderState) Valid() bool {
	_, ok := orderTransitions[s]
	return ok
}

// CanTransitionTo проверяет, допустим ли переход из текущего состояния в next.
func (s OrderState) CanTransitionTo(next OrderState) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Customer: покупатель, оформивший заказ.
type Customer struct {
	ID           string
	FirstName    string
	LastName     string
	PhoneNumber  string
	EmailAddress string
}

// ProductVariant: конкретный вариант товара в позиции заказа.
type ProductVariant struct {
	ID        string
	ProductID string
	SKU       string
	Name      string
	// PriceWithTax: цена за единицу в минимальных денежных единицах (копейки).
	PriceWithTax int64
	// Collections заполняются из каталога перед выгрузкой во внешние системы.
	Collections []Collection
}

// OrderLine: одна позиция заказа.
type OrderLine struct {
	ID       string
	Variant  ProductVariant
	Quantity int32
}

// LineTotal возвращает стоимость позиции с учётом количества.
func (l OrderLine) LineTotal() int64 {
	return int64(l.Quantity) * l.Variant.PriceWithTax
}

// Address: адрес доставки.
type Address struct {
	FullName    string
	StreetLine1 string
	// StreetLine2 используется покупателями как комментарий к адресу.
	StreetLine2 string
	City        string
	PostalCode  string
	CountryCode string
}

// ShippingLine: выбранный способ доставки.
type ShippingLine struct {
	MethodCode   string
	PriceWithTax int64
}

// Order агрегирует состояние заказа.
type Order struct {
	ID string
	// Code: короткий публичный код заказа, который называют в поддержке.
	Code            string
	State           OrderState
	Customer        *Customer
	Currency        string
	Lines           []OrderLine
	ShippingAddress Address
	ShippingLines   []ShippingLine
	Payments        []Payment
	CustomFields    map[string]string
	TotalWithTax    int64
	Version         int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// CustomerID возвращает идентификатор покупателя или пустую строку.
func (o *Order) CustomerID() string {
	if o.Customer == nil {
		return ""
	}
	return o.Customer.ID
}

// ComputeTotal пересчитывает сумму заказа: позиции плюс доставка.
func (o *Order) ComputeTotal() int64 {
	var total int64
	for _, line := range o.Lines {
		total += line.LineTotal()
	}
	for _, shipping := range o.ShippingLines {
		total += shipping.PriceWithTax
	}
	return total
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.Customer == nil || o.Customer.ID == "" {
		errs = append(errs, ErrCustomerRequired)
	}
	if o.Currency == "" {
		errs = append(errs, ErrCurrencyRequired)
	}
	if len(o.Lines) == 0 {
		errs = append(errs, ErrLinesRequired)
	}
	if o.TotalWithTax < 0 {
		errs = append(errs, ErrAmountNegative)
	}
	if o.State != "" && !o.State.Valid() {
		errs = append(errs, ErrUnknownState)
	}

	for _, line := range o.Lines {
		if line.Quantity <= 0 {
			errs = append(errs, ErrLineQtyInvalid)
		}
		if line.Variant.PriceWithTax < 0 {
			errs = append(errs, ErrLinePriceInvalid)
		}
		if line.Variant.SKU == "" {
			errs = append(errs, ErrLineSKURequired)
		}
	}
	if o.ComputeTotal() != o.TotalWithTax {
		errs = append(errs, ErrAmountMismatch)
	}

	return errs
}

// Clone возвращает глубокую копию заказа, чтобы хранилища не делили срезы с вызывающим кодом.
func (o Order) Clone() Order {
	dst := o
	if o.Customer != nil {
		c := *o.Customer
		dst.Customer = &c
	}
	dst.Lines = make([]OrderLine, len(o.Lines))
	for i, line := range o.Lines {
		dst.Lines[i] = line
		dst.Lines[i].Variant.Collections = append([]Collection(nil), line.Variant.Collections...)
	}
	dst.ShippingLines = append([]ShippingLine(nil), o.ShippingLines...)
	dst.Payments = append([]Payment(nil), o.Payments...)
	if o.CustomFields != nil {
		dst.CustomFields = make(map[string]string, len(o.CustomFields))
		for k, v := range o.CustomFields {
			dst.CustomFields[k] = v
		}
	}
	return dst
}
