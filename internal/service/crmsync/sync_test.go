package crmsync

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/shopsync/internal/domain"
	"github.com/vladislavdragonenkov/shopsync/internal/retailcrm"
	"github.com/vladislavdragonenkov/shopsync/internal/storage/memory"
)

var fixedNow = time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

func seedCatalog(t *testing.T, catalog domain.CatalogRepository) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, catalog.UpsertCollection(ctx, domain.Collection{ID: "root", Slug: "root", IsRoot: true}, ""))
	require.NoError(t, catalog.UpsertCollection(ctx, domain.Collection{ID: "brand", Slug: "brand", Name: "Бренды"}, "root"))
	require.NoError(t, catalog.UpsertCollection(ctx, domain.Collection{ID: "acme", Slug: "Acme", Name: "ACME"}, "brand"))
	require.NoError(t, catalog.UpsertCollection(ctx, domain.Collection{ID: "shoes", Slug: "shoes", Name: "Обувь"}, "root"))

	require.NoError(t, catalog.LinkProduct(ctx, "p1", []string{"shoes", "acme"}))
	require.NoError(t, catalog.LinkProduct(ctx, "p2", []string{"shoes"}))
}

func newTestHandler(t *testing.T, crm CRM, opts Options) (*Handler, domain.CatalogRepository) {
	t.Helper()

	catalog := memory.NewCatalogRepository()
	seedCatalog(t, catalog)

	h, err := NewHandler(Deps{CRM: crm, Catalog: catalog}, opts)
	require.NoError(t, err)
	h.now = func() time.Time { return fixedNow }
	return h, catalog
}

func sampleOrder() domain.Order {
	return domain.Order{
		ID:    "order-1",
		Code:  "R123456",
		State: domain.OrderStatePaymentAuthorized,
		Customer: &domain.Customer{
			ID:           "cust-1",
			FirstName:    "Иван",
			LastName:     "Петров",
			PhoneNumber:  "+79990000000",
			EmailAddress: "ivan@example.com",
		},
		Currency: "RUB",
		Lines: []domain.OrderLine{
			{ID: "l1", Quantity: 2, Variant: domain.ProductVariant{ID: "v1", ProductID: "p1", SKU: "SKU-1", Name: "Кеды", PriceWithTax: 199901}},
			{ID: "l2", Quantity: 1, Variant: domain.ProductVariant{ID: "v2", ProductID: "p2", SKU: "SKU-2", Name: "Шнурки", PriceWithTax: 50000}},
		},
		ShippingAddress: domain.Address{StreetLine1: "ул. Ленина, 1", StreetLine2: "домофон 12"},
		ShippingLines:   []domain.ShippingLine{{MethodCode: "courier", PriceWithTax: 30000}},
		Payments:        []domain.Payment{{Method: "bank-card", Amount: 479802, State: domain.PaymentStateAuthorized}},
		CustomFields:    map[string]string{"roistat": "42", "utm": "mail"},
	}
}

func TestMajorUnitsRoundsUp(t *testing.T) {
	assert.Equal(t, int64(0), MajorUnits(0))
	assert.Equal(t, int64(1), MajorUnits(1))
	assert.Equal(t, int64(100), MajorUnits(10000))
	assert.Equal(t, int64(2000), MajorUnits(199901))
}

func TestOfferExternalID(t *testing.T) {
	branded := domain.ProductVariant{
		SKU:         "SKU-1",
		Collections: []domain.Collection{{Slug: "Acme", Parent: &domain.Collection{Slug: "brand"}}},
	}
	assert.Equal(t, "acme-sku-1", OfferExternalID(branded))

	unbranded := domain.ProductVariant{SKU: "SKU-2"}
	assert.Equal(t, "unbranded-sku-2", OfferExternalID(unbranded))
}

func TestSyncOrderCreatesCustomerAndTemporaryProducts(t *testing.T) {
	crm := newFakeCRM()
	h, _ := newTestHandler(t, crm, Options{Site: "shop"})

	require.NoError(t, h.SyncOrder(context.Background(), sampleOrder()))

	require.Len(t, crm.createdCustomers, 1)
	customer := crm.createdCustomers[0]
	assert.Equal(t, "cust-1", customer.ExternalID)
	assert.Equal(t, "Иван", customer.FirstName)
	assert.Equal(t, []retailcrm.CustomerPhone{{Number: "+79990000000"}}, customer.Phones)

	require.Len(t, crm.inventoryCalls, 1)
	assert.Equal(t, []string{"acme-sku-1", "unbranded-sku-2"}, crm.inventoryCalls[0].OfferExternalIDs)
	assert.True(t, crm.inventoryCalls[0].ProductActive)
	assert.True(t, crm.inventoryCalls[0].OfferActive)

	require.Len(t, crm.batchCreates, 1)
	created := crm.batchCreates[0]
	require.Len(t, created, 2)
	assert.Equal(t, "acme-p1-2026-03-14t09:26", created[0].ExternalID)
	assert.Equal(t, "[ВРЕМЕННО] ACME / SKU-1", created[0].Name)
	assert.Equal(t, 7, created[0].CatalogID)
	assert.Equal(t, "unbranded-p2-2026-03-14t09:26", created[1].ExternalID)

	require.Len(t, crm.orders, 1)
	order := crm.orders[0]
	assert.Equal(t, "shop", crm.orderSites[0])
	assert.Equal(t, "R123456", order.Number)
	assert.Equal(t, "R123456", order.ExternalID)
	assert.Equal(t, "new-site", order.Status)
	assert.False(t, order.Shipped)
	assert.Equal(t, "cust-1", order.Customer.ExternalID)
	assert.Equal(t, "courier", order.Delivery.Code)
	assert.Equal(t, "ул. Ленина, 1", order.Delivery.Address.Text)
	assert.Equal(t, map[string]string{"roistat": "42"}, order.CustomFields)

	require.Len(t, order.Items, 2)
	assert.Equal(t, int64(2000), order.Items[0].InitialPrice)
	assert.Equal(t, int32(2), order.Items[0].Quantity)
	assert.Equal(t, "домофон 12", order.Items[0].Comment)
	assert.Equal(t, retailcrm.OrderItemOffer{ID: 1000}, order.Items[0].Offer)
	assert.Equal(t, retailcrm.OrderItemOffer{ID: 1010}, order.Items[1].Offer)

	require.Len(t, order.Payments, 1)
	assert.Equal(t, retailcrm.Payment{Amount: 4799, Type: "bank-card", Status: "not-paid"}, order.Payments[0])
}

func TestSyncOrderReusesExistingOffersAndCustomer(t *testing.T) {
	crm := newFakeCRM()
	crm.customers["cust-1"] = retailcrm.Customer{ID: 5, ExternalID: "cust-1"}
	crm.offers["acme-sku-1"] = retailcrm.InventoryOffer{ID: 1, ExternalID: "acme-sku-1"}
	h, _ := newTestHandler(t, crm, Options{Site: "shop"})

	require.NoError(t, h.SyncOrder(context.Background(), sampleOrder()))

	assert.Empty(t, crm.createdCustomers)
	require.Len(t, crm.batchCreates, 1)
	require.Len(t, crm.batchCreates[0], 1)
	assert.Equal(t, "[ВРЕМЕННО] unbranded / SKU-2", crm.batchCreates[0][0].Name)

	order := crm.orders[0]
	assert.Equal(t, retailcrm.OrderItemOffer{ExternalID: "acme-sku-1"}, order.Items[0].Offer)
	assert.NotZero(t, order.Items[1].Offer.ID)
}

func TestSyncOrderSkipsProductCreationWhenAllOffersExist(t *testing.T) {
	crm := newFakeCRM()
	crm.offers["acme-sku-1"] = retailcrm.InventoryOffer{ID: 1, ExternalID: "acme-sku-1"}
	crm.offers["unbranded-sku-2"] = retailcrm.InventoryOffer{ID: 2, ExternalID: "unbranded-sku-2"}
	crm.sites = nil
	h, _ := newTestHandler(t, crm, Options{Site: "shop"})

	require.NoError(t, h.SyncOrder(context.Background(), sampleOrder()))

	assert.Empty(t, crm.batchCreates)
	assert.Empty(t, crm.productCalls)
	require.Len(t, crm.orders, 1)
}

func TestSyncOrderChunksInventoryLookups(t *testing.T) {
	crm := newFakeCRM()
	h, _ := newTestHandler(t, crm, Options{Site: "shop"})

	order := sampleOrder()
	order.Lines = nil
	for i := 0; i < 230; i++ {
		order.Lines = append(order.Lines, domain.OrderLine{
			Quantity: 1,
			Variant: domain.ProductVariant{
				ID:           fmt.Sprintf("v%d", i),
				ProductID:    fmt.Sprintf("bulk%d", i),
				SKU:          fmt.Sprintf("BULK-%d", i),
				PriceWithTax: 100,
			},
		})
	}

	require.NoError(t, h.SyncOrder(context.Background(), order))

	require.Len(t, crm.inventoryCalls, 3)
	assert.Len(t, crm.inventoryCalls[0].OfferExternalIDs, 100)
	assert.Len(t, crm.inventoryCalls[2].OfferExternalIDs, 30)
	require.Len(t, crm.productCalls, 3)

	items := crm.orders[0].Items
	require.Len(t, items, 230)
	for _, item := range items {
		assert.NotZero(t, item.Offer.ID)
	}
}

func TestSyncOrderBatchEditMode(t *testing.T) {
	crm := newFakeCRM()
	h, _ := newTestHandler(t, crm, Options{Site: "shop", CatalogMode: CatalogModeBatchEdit})

	require.NoError(t, h.SyncOrder(context.Background(), sampleOrder()))

	assert.Empty(t, crm.inventoryCalls)
	assert.Empty(t, crm.batchCreates)
	require.Len(t, crm.batchEdits, 1)
	assert.Equal(t, retailcrm.ProductEdit{ExternalID: "v1", Article: "SKU-1", Name: "Кеды", Site: "shop"}, crm.batchEdits[0][0])

	order := crm.orders[0]
	assert.Equal(t, retailcrm.OrderItemOffer{ExternalID: "v1"}, order.Items[0].Offer)
	assert.Equal(t, retailcrm.OrderItemOffer{ExternalID: "v2"}, order.Items[1].Offer)
}

func TestSyncOrderWithoutPaymentsAndShipping(t *testing.T) {
	crm := newFakeCRM()
	h, _ := newTestHandler(t, crm, Options{Site: "shop", OrderStatus: "paid", PaymentStatus: "paid"})

	order := sampleOrder()
	order.Payments = nil
	order.ShippingLines = nil
	order.CustomFields = nil

	require.NoError(t, h.SyncOrder(context.Background(), order))

	created := crm.orders[0]
	assert.Equal(t, "paid", created.Status)
	assert.NotNil(t, created.Payments)
	assert.Empty(t, created.Payments)
	assert.Empty(t, created.Delivery.Code)
	assert.Nil(t, created.CustomFields)
}

func TestSyncOrderRequiresCustomer(t *testing.T) {
	crm := newFakeCRM()
	h, _ := newTestHandler(t, crm, Options{Site: "shop"})

	order := sampleOrder()
	order.Customer = nil

	err := h.SyncOrder(context.Background(), order)
	require.ErrorIs(t, err, ErrCustomerMissing)
	assert.Empty(t, crm.orders)
}

func TestSyncOrderPropagatesCustomerLookupFailure(t *testing.T) {
	crm := newFakeCRM()
	crm.customerErr = &retailcrm.APIError{StatusCode: 500, Message: "boom"}
	h, _ := newTestHandler(t, crm, Options{Site: "shop"})

	err := h.SyncOrder(context.Background(), sampleOrder())
	require.Error(t, err)

	var apiErr *retailcrm.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 500, apiErr.StatusCode)
	assert.Empty(t, crm.createdCustomers)
}

func TestSyncOrderFailsWithoutSites(t *testing.T) {
	crm := newFakeCRM()
	crm.sites = nil
	h, _ := newTestHandler(t, crm, Options{Site: "shop"})

	err := h.SyncOrder(context.Background(), sampleOrder())
	require.Error(t, err)
	assert.Empty(t, crm.orders)
}
