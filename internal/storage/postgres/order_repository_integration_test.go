package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vladislavdragonenkov/shopsync/internal/domain"
)

func TestOrderRepository_PostgresCreateGetListAndSave(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewOrderRepository(store)
	ctx := context.Background()

	now := time.Now().UTC().Round(time.Microsecond)
	order1 := sampleOrder("order-1", "R000001", "customer-1", now.Add(-2*time.Minute))
	order2 := sampleOrder("order-2", "R000002", "customer-1", now.Add(-time.Minute))

	if err := repo.Create(ctx, order1); err != nil {
		t.Fatalf("create order1: %v", err)
	}
	if err := repo.Create(ctx, order2); err != nil {
		t.Fatalf("create order2: %v", err)
	}

	got, err := repo.Get(ctx, order1.ID)
	if err != nil {
		t.Fatalf("get order1: %v", err)
	}
	if got.ID != order1.ID || got.Code != order1.Code || got.CustomerID() != order1.CustomerID() || got.State != order1.State {
		t.Fatalf("unexpected order payload: %+v", got)
	}
	if len(got.Lines) != len(order1.Lines) || got.Lines[0].Variant.SKU != "SKU-1" {
		t.Fatalf("unexpected lines: %+v", got.Lines)
	}
	if got.ShippingAddress.StreetLine1 != order1.ShippingAddress.StreetLine1 {
		t.Fatalf("unexpected address: %+v", got.ShippingAddress)
	}

	byCode, err := repo.GetByCode(ctx, "R000002")
	if err != nil || byCode.ID != order2.ID {
		t.Fatalf("get by code: %+v, %v", byCode, err)
	}

	count, err := repo.CountByCode(ctx, "R000001")
	if err != nil || count != 1 {
		t.Fatalf("count by code: %d, %v", count, err)
	}

	listed, err := repo.ListByCustomer(ctx, "customer-1", 1)
	if err != nil {
		t.Fatalf("list by customer with limit: %v", err)
	}
	if len(listed) != 1 || listed[0].ID != order2.ID {
		t.Fatalf("unexpected list result with limit: %+v", listed)
	}

	all, err := repo.ListByCustomer(ctx, "customer-1", 0)
	if err != nil {
		t.Fatalf("list by customer without limit: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 orders, got %d", len(all))
	}

	got.State = domain.OrderStatePaymentSettled
	got.UpdatedAt = now.Add(time.Minute)
	if err := repo.Save(ctx, got); err != nil {
		t.Fatalf("save order: %v", err)
	}

	updated, err := repo.Get(ctx, order1.ID)
	if err != nil {
		t.Fatalf("get updated order: %v", err)
	}
	if updated.State != domain.OrderStatePaymentSettled {
		t.Fatalf("unexpected state after save: %s", updated.State)
	}
	if updated.Version != got.Version+1 {
		t.Fatalf("unexpected version after save: got=%d want=%d", updated.Version, got.Version+1)
	}
}

func TestOrderRepository_PostgresErrors(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewOrderRepository(store)
	ctx := context.Background()

	now := time.Now().UTC().Round(time.Microsecond)
	base := sampleOrder("order-errors", "R000010", "customer-2", now)

	if _, err := repo.Get(ctx, "missing-order"); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}

	if err := repo.Save(ctx, base); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound on save missing, got %v", err)
	}

	if err := repo.Create(ctx, base); err != nil {
		t.Fatalf("create base order: %v", err)
	}

	sameCode := sampleOrder("order-other", "R000010", "customer-3", now)
	if err := repo.Create(ctx, sameCode); !errors.Is(err, domain.ErrOrderCodeConflict) {
		t.Fatalf("expected ErrOrderCodeConflict on duplicate code, got %v", err)
	}

	sameID := sampleOrder("order-errors", "R000011", "customer-2", now)
	if err := repo.Create(ctx, sameID); !errors.Is(err, domain.ErrOrderVersionConflict) {
		t.Fatalf("expected ErrOrderVersionConflict on duplicate id, got %v", err)
	}

	stale := base
	stale.State = domain.OrderStateCancelled
	stale.UpdatedAt = now.Add(time.Minute)
	stale.Version = 42
	if err := repo.Save(ctx, stale); !errors.Is(err, domain.ErrOrderVersionConflict) {
		t.Fatalf("expected ErrOrderVersionConflict on stale save, got %v", err)
	}
}

func TestStore_PostgresWithinTxRollback(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewOrderRepository(store)
	ctx := context.Background()

	boom := errors.New("boom")
	err := store.WithinTx(ctx, func(ctx context.Context) error {
		if err := repo.Create(ctx, sampleOrder("order-tx", "R000020", "customer-tx", time.Now().UTC())); err != nil {
			return err
		}
		count, err := repo.CountByCode(ctx, "R000020")
		if err != nil {
			return err
		}
		if count != 1 {
			t.Errorf("order must be visible inside tx, count=%d", count)
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	if count, err := repo.CountByCode(ctx, "R000020"); err != nil || count != 0 {
		t.Fatalf("order must be rolled back: count=%d err=%v", count, err)
	}
}

func TestIsUniqueViolation(t *testing.T) {
	if !isUniqueViolation(&pgconn.PgError{Code: "23505"}) {
		t.Fatal("expected unique violation for code 23505")
	}
	if isUniqueViolation(&pgconn.PgError{Code: "22001"}) {
		t.Fatal("unexpected unique violation for non-unique code")
	}
	if isUniqueViolation(errors.New("plain error")) {
		t.Fatal("plain error must not be unique violation")
	}
}

func sampleOrder(id, code, customerID string, createdAt time.Time) domain.Order {
	lines := []domain.OrderLine{
		{
			ID:       id + "-line-1",
			Quantity: 2,
			Variant: domain.ProductVariant{
				ID:           "variant-1",
				ProductID:    "product-1",
				SKU:          "SKU-1",
				Name:         "Sneakers",
				PriceWithTax: 150,
			},
		},
	}

	return domain.Order{
		ID:              id,
		Code:            code,
		State:           domain.OrderStateArrangingPayment,
		Customer:        &domain.Customer{ID: customerID, FirstName: "Ivan", LastName: "Petrov"},
		Currency:        "RUB",
		Lines:           lines,
		ShippingAddress: domain.Address{StreetLine1: "Lenina 1", City: "Moscow"},
		TotalWithTax:    300,
		Version:         0,
		CreatedAt:       createdAt,
		UpdatedAt:       createdAt,
	}
}
