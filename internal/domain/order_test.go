package domain_test

import (
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/shopsync/internal/domain"
)

// helper для создания базового заказа с одной позицией и доставкой.
func makeOrder() domain.Order {
	now := time.Now().UTC()
	return domain.Order{
		ID:       "order-1",
		Code:     "R123456",
		State:    domain.OrderStateArrangingPayment,
		Customer: &domain.Customer{ID: "customer-1", FirstName: "Иван", LastName: "Петров"},
		Currency: "RUB",
		Lines: []domain.OrderLine{
			{
				ID:       "line-1",
				Variant:  domain.ProductVariant{ID: "v-1", ProductID: "p-1", SKU: "sku-1", Name: "Кеды", PriceWithTax: 100},
				Quantity: 5,
			},
		},
		ShippingLines: []domain.ShippingLine{{MethodCode: "courier", PriceWithTax: 50}},
		TotalWithTax:  550,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func TestOrderValidateInvariants_Ok(t *testing.T) {
	order := makeOrder()
	if errs := order.ValidateInvariants(); len(errs) != 0 {
		t.Fatalf("expected no validation errors, got %v", errs)
	}
}

func TestOrderValidateInvariants_Errors(t *testing.T) {
	cases := []struct {
		name string
		mut  func(o *domain.Order)
		want error
	}{
		{name: "no customer", mut: func(o *domain.Order) { o.Customer = nil }, want: domain.ErrCustomerRequired},
		{name: "empty customer id", mut: func(o *domain.Order) { o.Customer.ID = "" }, want: domain.ErrCustomerRequired},
		{name: "no currency", mut: func(o *domain.Order) { o.Currency = "" }, want: domain.ErrCurrencyRequired},
		{name: "negative total", mut: func(o *domain.Order) { o.TotalWithTax = -1 }, want: domain.ErrAmountNegative},
		{name: "no lines", mut: func(o *domain.Order) { o.Lines = nil }, want: domain.ErrLinesRequired},
		{name: "qty invalid", mut: func(o *domain.Order) { o.Lines[0].Quantity = 0 }, want: domain.ErrLineQtyInvalid},
		{name: "price invalid", mut: func(o *domain.Order) { o.Lines[0].Variant.PriceWithTax = -5 }, want: domain.ErrLinePriceInvalid},
		{name: "sku missing", mut: func(o *domain.Order) { o.Lines[0].Variant.SKU = "" }, want: domain.ErrLineSKURequired},
		{name: "total mismatch", mut: func(o *domain.Order) { o.TotalWithTax = 500 }, want: domain.ErrAmountMismatch},
		{name: "unknown state", mut: func(o *domain.Order) { o.State = "Teleported" }, want: domain.ErrUnknownState},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			o := makeOrder()
			tc.mut(&o)
			errs := o.ValidateInvariants()
			if len(errs) == 0 {
				t.Fatal("expected validation errors")
			}
			found := false
			for _, err := range errs {
				if errors.Is(err, tc.want) {
					found = true
				}
			}
			if !found {
				t.Fatalf("expected %v among %v", tc.want, errs)
			}
		})
	}
}

func TestOrderStateTransitions(t *testing.T) {
	cases := []struct {
		from, to domain.OrderState
		want     bool
	}{
		{domain.OrderStateAddingItems, domain.OrderStateArrangingPayment, true},
		{domain.OrderStateArrangingPayment, domain.OrderStatePaymentAuthorized, true},
		{domain.OrderStateArrangingPayment, domain.OrderStatePaymentSettled, true},
		{domain.OrderStatePaymentAuthorized, domain.OrderStatePaymentSettled, true},
		{domain.OrderStatePaymentSettled, domain.OrderStateShipped, true},
		{domain.OrderStateShipped, domain.OrderStateDelivered, true},
		{domain.OrderStateAddingItems, domain.OrderStatePaymentSettled, false},
		{domain.OrderStateDelivered, domain.OrderStateCancelled, false},
		{domain.OrderStateCancelled, domain.OrderStateArrangingPayment, false},
		{domain.OrderStateShipped, domain.OrderStateCancelled, false},
	}

	for _, tc := range cases {
		if got := tc.from.CanTransitionTo(tc.to); got != tc.want {
			t.Errorf("%s -> %s: got %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}

	if domain.OrderState("Unknown").Valid() {
		t.Error("unknown state must not be valid")
	}
}

func TestOrderClone_DoesNotShareSlices(t *testing.T) {
	o := makeOrder()
	o.CustomFields = map[string]string{"roistat": "42"}
	o.Lines[0].Variant.Collections = []domain.Collection{{ID: "c-1", Slug: "nike"}}

	clone := o.Clone()
	clone.Customer.FirstName = "changed"
	clone.Lines[0].Quantity = 99
	clone.Lines[0].Variant.Collections[0].Slug = "adidas"
	clone.CustomFields["roistat"] = "changed"

	if o.Customer.FirstName != "Иван" {
		t.Fatal("customer must be copied")
	}
	if o.Lines[0].Quantity != 5 {
		t.Fatal("lines must be copied")
	}
	if o.Lines[0].Variant.Collections[0].Slug != "nike" {
		t.Fatal("collections must be copied")
	}
	if o.CustomFields["roistat"] != "42" {
		t.Fatal("custom fields must be copied")
	}
}

func TestOrderCustomerID(t *testing.T) {
	o := makeOrder()
	if o.CustomerID() != "customer-1" {
		t.Fatalf("unexpected customer id %q", o.CustomerID())
	}
	o.Customer = nil
	if o.CustomerID() != "" {
		t.Fatal("nil customer must give empty id")
	}
}
