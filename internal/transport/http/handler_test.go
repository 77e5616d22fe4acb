package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/shopsync/internal/domain"
	"github.com/vladislavdragonenkov/shopsync/internal/ordercode"
	"github.com/vladislavdragonenkov/shopsync/internal/service/orders"
	"github.com/vladislavdragonenkov/shopsync/internal/storage/memory"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type exhaustedCodes struct{}

func (exhaustedCodes) Generate(context.Context) (string, error) {
	return "", domain.ErrCodeGenerationExhausted
}

type failingCodes struct{ err error }

func (c failingCodes) Generate(context.Context) (string, error) {
	return "", c.err
}

// recoveringCodes исчерпывает попытки failures раз, затем выдаёт code.
type recoveringCodes struct {
	failures int
	code     string
	calls    int
}

func (c *recoveringCodes) Generate(context.Context) (string, error) {
	c.calls++
	if c.calls <= c.failures {
		return "", domain.ErrCodeGenerationExhausted
	}
	return c.code, nil
}

type apiFixture struct {
	router  *gin.Engine
	catalog domain.CatalogRepository
	outbox  *memory.OutboxRepository
}

func newAPIFixture(t *testing.T, codes orders.CodeGenerator) apiFixture {
	t.Helper()

	orderRepo := memory.NewOrderRepository()
	outbox := memory.NewOutboxRepository()
	catalog := memory.NewCatalogRepository()

	if codes == nil {
		gen, err := ordercode.NewGenerator(orderRepo, ordercode.DigitsConfig())
		require.NoError(t, err)
		codes = gen
	}

	svc, err := orders.NewService(orders.Deps{
		Orders:     orderRepo,
		Timeline:   memory.NewTimelineRepository(),
		Outbox:     outbox,
		Transactor: memory.NewTransactor(),
		Codes:      codes,
	})
	require.NoError(t, err)

	h, err := NewHandler(Deps{
		Orders:      svc,
		Catalog:     catalog,
		Idempotency: memory.NewIdempotencyRepository(),
		Codes:       ordercode.DigitsConfig(),
	})
	require.NoError(t, err)

	return apiFixture{router: h.Router(), catalog: catalog, outbox: outbox}
}

func (f apiFixture) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func placeBody(customerID string) map[string]any {
	return map[string]any{
		"customer": map[string]any{
			"id":         customerID,
			"first_name": "Анна",
			"last_name":  "Смирнова",
		},
		"currency": "RUB",
		"lines": []map[string]any{
			{"variant_id": "v1", "product_id": "p1", "sku": "SKU-1", "name": "Кеды", "price_with_tax": 150000, "quantity": 2},
		},
		"shipping_address": map[string]any{"street_line1": "ул. Мира, 5", "street_line2": "код 77"},
		"shipping_lines":   []map[string]any{{"method_code": "courier", "price_with_tax": 30000}},
		"custom_fields":    map[string]string{"roistat": "17"},
	}
}

func decodeOrder(t *testing.T, rec *httptest.ResponseRecorder) orderResponse {
	t.Helper()
	var resp orderResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestPlaceOrderAssignsCode(t *testing.T) {
	f := newAPIFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/api/v1/orders", placeBody("c1"), nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	order := decodeOrder(t, rec)
	assert.Regexp(t, `^R[0-9]{6}$`, order.Code)
	assert.Equal(t, string(domain.OrderStateArrangingPayment), order.State)
	assert.Equal(t, int64(330000), order.TotalWithTax)
	assert.Equal(t, "c1", order.Customer.ID)

	byID := f.do(t, http.MethodGet, "/api/v1/orders/"+order.ID, nil, nil)
	require.Equal(t, http.StatusOK, byID.Code)
	assert.Equal(t, order.Code, decodeOrder(t, byID).Code)

	byCode := f.do(t, http.MethodGet, "/api/v1/orders/by-code/"+order.Code, nil, nil)
	require.Equal(t, http.StatusOK, byCode.Code)
	assert.Equal(t, order.ID, decodeOrder(t, byCode).ID)
}

func TestPlaceOrderValidation(t *testing.T) {
	f := newAPIFixture(t, nil)

	body := placeBody("c1")
	body["lines"] = []map[string]any{}
	rec := f.do(t, http.MethodPost, "/api/v1/orders", body, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	body = placeBody("c1")
	body["lines"] = []map[string]any{{"sku": "", "price_with_tax": 100, "quantity": 0}}
	rec = f.do(t, http.MethodPost, "/api/v1/orders", body, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, errCodeValidation, resp.Code)
}

func TestPlaceOrderExhaustionReturns503(t *testing.T) {
	f := newAPIFixture(t, exhaustedCodes{})

	rec := f.do(t, http.MethodPost, "/api/v1/orders", placeBody("c1"), nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, retryAfterSeconds, rec.Header().Get("Retry-After"))

	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, errCodeCodeUnavailable, resp.Code)

	list := f.do(t, http.MethodGet, "/api/v1/customers/c1/orders", nil, nil)
	require.Equal(t, http.StatusOK, list.Code)
	assert.JSONEq(t, `{"orders":[]}`, list.Body.String())
}

func TestPlaceOrderIdempotencyReplay(t *testing.T) {
	f := newAPIFixture(t, nil)
	headers := map[string]string{idempotencyKeyHeader: "key-1"}

	first := f.do(t, http.MethodPost, "/api/v1/orders", placeBody("c1"), headers)
	require.Equal(t, http.StatusCreated, first.Code)

	second := f.do(t, http.MethodPost, "/api/v1/orders", placeBody("c1"), headers)
	require.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, "true", second.Header().Get(idempotencyReplayedHeader))
	assert.Equal(t, decodeOrder(t, first).ID, decodeOrder(t, second).ID)

	list := f.do(t, http.MethodGet, "/api/v1/customers/c1/orders", nil, nil)
	var resp struct {
		Orders []orderResponse `json:"orders"`
	}
	require.NoError(t, json.Unmarshal(list.Body.Bytes(), &resp))
	assert.Len(t, resp.Orders, 1)

	mismatch := f.do(t, http.MethodPost, "/api/v1/orders", placeBody("c2"), headers)
	assert.Equal(t, http.StatusUnprocessableEntity, mismatch.Code)
}

func TestPlaceOrderIdempotencyReplaysFailure(t *testing.T) {
	f := newAPIFixture(t, failingCodes{err: errors.New("orders table unavailable")})
	headers := map[string]string{idempotencyKeyHeader: "key-2"}

	first := f.do(t, http.MethodPost, "/api/v1/orders", placeBody("c1"), headers)
	require.Equal(t, http.StatusInternalServerError, first.Code)

	second := f.do(t, http.MethodPost, "/api/v1/orders", placeBody("c1"), headers)
	assert.Equal(t, http.StatusInternalServerError, second.Code)
	assert.Equal(t, "true", second.Header().Get(idempotencyReplayedHeader))
	assert.JSONEq(t, first.Body.String(), second.Body.String())
}

func TestPlaceOrderIdempotencyRetriesUnavailableCode(t *testing.T) {
	codes := &recoveringCodes{failures: 1, code: "R000777"}
	f := newAPIFixture(t, codes)
	headers := map[string]string{idempotencyKeyHeader: "key-3"}

	first := f.do(t, http.MethodPost, "/api/v1/orders", placeBody("c1"), headers)
	require.Equal(t, http.StatusServiceUnavailable, first.Code)
	assert.Equal(t, retryAfterSeconds, first.Header().Get("Retry-After"))

	second := f.do(t, http.MethodPost, "/api/v1/orders", placeBody("c1"), headers)
	require.Equal(t, http.StatusCreated, second.Code, second.Body.String())
	assert.Empty(t, second.Header().Get(idempotencyReplayedHeader))
	assert.Equal(t, "R000777", decodeOrder(t, second).Code)

	third := f.do(t, http.MethodPost, "/api/v1/orders", placeBody("c1"), headers)
	require.Equal(t, http.StatusCreated, third.Code)
	assert.Equal(t, "true", third.Header().Get(idempotencyReplayedHeader))
	assert.Equal(t, 2, codes.calls)
}

func TestGetOrderByCodeRejectsMalformedCode(t *testing.T) {
	f := newAPIFixture(t, nil)

	rec := f.do(t, http.MethodGet, "/api/v1/orders/by-code/X12", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/orders/by-code/R000000", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTransitionOrderEnqueuesEvent(t *testing.T) {
	f := newAPIFixture(t, nil)

	placed := decodeOrder(t, f.do(t, http.MethodPost, "/api/v1/orders", placeBody("c1"), nil))

	rec := f.do(t, http.MethodPost, "/api/v1/orders/"+placed.ID+"/transitions", map[string]any{
		"to":      "PaymentAuthorized",
		"payment": map[string]any{"method": "bank-card", "amount": 330000, "state": "Authorized"},
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	order := decodeOrder(t, rec)
	assert.Equal(t, "PaymentAuthorized", order.State)
	require.Len(t, order.Payments, 1)
	assert.Equal(t, "bank-card", order.Payments[0].Method)

	pending, err := f.outbox.PullPending(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, domain.EventTypeOrderStateTransition, pending[0].EventType)

	invalid := f.do(t, http.MethodPost, "/api/v1/orders/"+placed.ID+"/transitions", map[string]any{"to": "AddingItems"}, nil)
	assert.Equal(t, http.StatusConflict, invalid.Code)

	unknown := f.do(t, http.MethodPost, "/api/v1/orders/"+placed.ID+"/transitions", map[string]any{"to": "Teleported"}, nil)
	assert.Equal(t, http.StatusBadRequest, unknown.Code)

	missing := f.do(t, http.MethodPost, "/api/v1/orders/nope/transitions", map[string]any{"to": "Cancelled"}, nil)
	assert.Equal(t, http.StatusNotFound, missing.Code)
}

func TestOrderHistory(t *testing.T) {
	f := newAPIFixture(t, nil)

	placed := decodeOrder(t, f.do(t, http.MethodPost, "/api/v1/orders", placeBody("c1"), nil))
	f.do(t, http.MethodPost, "/api/v1/orders/"+placed.ID+"/transitions", map[string]any{"to": "Cancelled"}, nil)

	rec := f.do(t, http.MethodGet, "/api/v1/orders/"+placed.ID+"/history", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Events []timelineEventResponse `json:"events"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Events, 2)
	assert.Equal(t, domain.TimelineOrderPlaced, resp.Events[0].Type)
	assert.Equal(t, domain.TimelineStateChanged, resp.Events[1].Type)
	assert.Equal(t, "ArrangingPayment", resp.Events[1].FromState)
	assert.Equal(t, "Cancelled", resp.Events[1].ToState)

	missing := f.do(t, http.MethodGet, "/api/v1/orders/nope/history", nil, nil)
	assert.Equal(t, http.StatusNotFound, missing.Code)
}

func TestCustomerOrdersLimit(t *testing.T) {
	f := newAPIFixture(t, nil)

	rec := f.do(t, http.MethodGet, "/api/v1/customers/c1/orders?limit=abc", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCatalogEndpoints(t *testing.T) {
	f := newAPIFixture(t, nil)

	rec := f.do(t, http.MethodPut, "/api/v1/collections/brand", map[string]any{"slug": "brand", "name": "Бренды"}, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = f.do(t, http.MethodPut, "/api/v1/collections/acme", map[string]any{"slug": "acme", "name": "ACME", "parent_id": "brand"}, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodPut, "/api/v1/products/p1/collections", map[string]any{"collection_ids": []string{"acme"}}, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	collections, err := f.catalog.CollectionsForProduct(context.Background(), "p1")
	require.NoError(t, err)
	brand := domain.FindBrandCollection(collections)
	require.NotNil(t, brand)
	assert.Equal(t, "acme", brand.Slug)

	rec = f.do(t, http.MethodPut, "/api/v1/products/p1/collections", map[string]any{"collection_ids": []string{"ghost"}}, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPut, "/api/v1/collections/bad", map[string]any{"name": "no slug"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
