package domain

import "testing"

func TestTransitionFilterMatches(t *testing.T) {
	event := StateTransitionEvent{FromState: OrderStateArrangingPayment, ToState: OrderStatePaymentSettled}

	tests := []struct {
		name   string
		filter TransitionFilter
		want   bool
	}{
		{name: "empty matches everything", filter: TransitionFilter{}, want: true},
		{name: "to matches", filter: TransitionFilter{To: []OrderState{OrderStatePaymentAuthorized, OrderStatePaymentSettled}}, want: true},
		{name: "to does not match", filter: TransitionFilter{To: []OrderState{OrderStateShipped}}, want: false},
		{name: "from and to match", filter: TransitionFilter{From: []OrderState{OrderStateArrangingPayment}, To: []OrderState{OrderStatePaymentSettled}}, want: true},
		{name: "from does not match", filter: TransitionFilter{From: []OrderState{OrderStatePaymentAuthorized}, To: []OrderState{OrderStatePaymentSettled}}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filter.Matches(event); got != tt.want {
				t.Fatalf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFindBrandCollection(t *testing.T) {
	brandRoot := &Collection{ID: "1", Slug: "brand", Name: "Бренды"}
	shoes := &Collection{ID: "2", Slug: "shoes", Name: "Обувь"}

	collections := []Collection{
		{ID: "3", Slug: "sneakers", Name: "Кроссовки", Parent: shoes},
		{ID: "1", Slug: "brand", Name: "Бренды"},
		{ID: "4", Slug: "nike", Name: "Nike", Parent: brandRoot},
	}

	brand := FindBrandCollection(collections)
	if brand == nil {
		t.Fatal("expected brand collection")
	}
	if brand.Slug != "nike" {
		t.Fatalf("unexpected brand %q", brand.Slug)
	}

	if FindBrandCollection(collections[:2]) != nil {
		t.Fatal("no brand expected without brand child")
	}
	if FindBrandCollection(nil) != nil {
		t.Fatal("no brand expected for empty list")
	}
}
