package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v7"
)

const (
	stepScenario   = "scenario"
	stepPlaceOrder = "PlaceOrder"
	stepTransition = "Transition"
	stepGetByCode  = "GetOrderByCode"

	idempotencyHeader = "Idempotency-Key"
)

type customerPayload struct {
	ID           string `json:"id"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	PhoneNumber  string `json:"phone_number"`
	EmailAddress string `json:"email_address"`
}

type linePayload struct {
	VariantID    string `json:"variant_id"`
	ProductID    string `json:"product_id"`
	SKU          string `json:"sku"`
	Name         string `json:"name"`
	PriceWithTax int64  `json:"price_with_tax"`
	Quantity     int32  `json:"quantity"`
}

type addressPayload struct {
	FullName    string `json:"full_name"`
	StreetLine1 string `json:"street_line1"`
	StreetLine2 string `json:"street_line2,omitempty"`
	City        string `json:"city"`
	PostalCode  string `json:"postal_code"`
	CountryCode string `json:"country_code"`
}

type shippingPayload struct {
	MethodCode   string `json:"method_code"`
	PriceWithTax int64  `json:"price_with_tax"`
}

type placeOrderPayload struct {
	Customer        customerPayload   `json:"customer"`
	Currency        string            `json:"currency"`
	Lines           []linePayload     `json:"lines"`
	ShippingAddress addressPayload    `json:"shipping_address"`
	ShippingLines   []shippingPayload `json:"shipping_lines"`
}

type paymentPayload struct {
	Method        string `json:"method"`
	Amount        int64  `json:"amount"`
	State         string `json:"state"`
	TransactionID string `json:"transaction_id"`
}

type transitionPayload struct {
	To      string          `json:"to"`
	Payment *paymentPayload `json:"payment,omitempty"`
}

type orderResponse struct {
	ID           string `json:"id"`
	Code         string `json:"code"`
	State        string `json:"state"`
	TotalWithTax int64  `json:"total_with_tax"`
}

// apiClient: тонкий клиент HTTP API заказов.
type apiClient struct {
	baseURL string
	http    *http.Client
	col     *collector
}

func newAPIClient(baseURL string, timeout time.Duration, col *collector) *apiClient {
	return &apiClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		col:     col,
	}
}

// call выполняет запрос, записывает статистику шага и декодирует ответ в out.
func (c *apiClient) call(ctx context.Context, step, method, path, idemKey string, body, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return statusTransportError, err
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return statusTransportError, err
	}
	req.Header.Set("Content-Type", "application/json")
	if idemKey != "" {
		req.Header.Set(idempotencyHeader, idemKey)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.col.record(step, time.Since(start), statusTransportError, false)
		return statusTransportError, err
	}
	defer resp.Body.Close()

	ok := resp.StatusCode < http.StatusBadRequest
	c.col.record(step, time.Since(start), resp.StatusCode, ok)
	if !ok {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return resp.StatusCode, fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, bytes.TrimSpace(msg))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode %s response: %w", step, err)
		}
	}
	return resp.StatusCode, nil
}

// fakeOrder собирает правдоподобный заказ. faker не потокобезопасен, у каждого воркера свой.
func fakeOrder(faker *gofakeit.Faker, cfg config, runID string, index int) placeOrderPayload {
	first, last := faker.FirstName(), faker.LastName()
	order := placeOrderPayload{
		Customer: customerPayload{
			ID:           fmt.Sprintf("%s-%s-%d", cfg.customerTag, runID, index),
			FirstName:    first,
			LastName:     last,
			PhoneNumber:  faker.Phone(),
			EmailAddress: faker.Email(),
		},
		Currency: cfg.currency,
		ShippingAddress: addressPayload{
			FullName:    first + " " + last,
			StreetLine1: faker.Street(),
			City:        faker.City(),
			PostalCode:  faker.Zip(),
			CountryCode: faker.CountryAbr(),
		},
		ShippingLines: []shippingPayload{{MethodCode: "courier", PriceWithTax: 30000}},
	}

	lines := faker.Number(1, cfg.maxLines)
	for i := 0; i < lines; i++ {
		product := faker.Number(1, cfg.products)
		productID := fmt.Sprintf("p-%d", product)
		order.Lines = append(order.Lines, linePayload{
			VariantID:    productID + "-v1",
			ProductID:    productID,
			SKU:          fmt.Sprintf("SKU-%04d", product),
			Name:         faker.ProductName(),
			PriceWithTax: int64(faker.Price(1, 500) * 100),
			Quantity:     int32(faker.Number(1, 3)),
		})
	}
	if faker.Number(0, 4) == 0 {
		order.ShippingAddress.StreetLine2 = faker.Sentence(4)
	}
	return order
}

// runScenario: оформить заказ, затем (в зависимости от режима) найти его по коду
// и провести через оплату. Переход в PaymentAuthorized запускает выгрузку в CRM.
func runScenario(ctx context.Context, client *apiClient, faker *gofakeit.Faker, cfg config, index int, runID string) error {
	start := time.Now()
	status, err := scenarioSteps(ctx, client, faker, cfg, index, runID)
	client.col.record(stepScenario, time.Since(start), status, err == nil)
	return err
}

// scenarioSteps возвращает статус последнего запроса.
func scenarioSteps(ctx context.Context, client *apiClient, faker *gofakeit.Faker, cfg config, index int, runID string) (int, error) {
	var placed orderResponse
	placeKey := fmt.Sprintf("lt-place-%s-%d", runID, index)
	status, err := client.call(ctx, stepPlaceOrder, http.MethodPost, "/api/v1/orders", placeKey, fakeOrder(faker, cfg, runID, index), &placed)
	if err != nil {
		return status, err
	}
	if placed.ID == "" || placed.Code == "" {
		return status, fmt.Errorf("place order returned empty id or code")
	}

	if cfg.mode == modePlace {
		return status, nil
	}

	if status, err = client.call(ctx, stepGetByCode, http.MethodGet, "/api/v1/orders/by-code/"+placed.Code, "", nil, nil); err != nil {
		return status, err
	}

	authorize := transitionPayload{
		To: "PaymentAuthorized",
		Payment: &paymentPayload{
			Method:        "bank-card",
			Amount:        placed.TotalWithTax,
			State:         "Authorized",
			TransactionID: faker.UUID(),
		},
	}
	authKey := fmt.Sprintf("lt-authorize-%s-%d", runID, index)
	if status, err = client.call(ctx, stepTransition, http.MethodPost, "/api/v1/orders/"+placed.ID+"/transitions", authKey, authorize, nil); err != nil {
		return status, err
	}

	if cfg.mode == modePlaceSettle {
		settleKey := fmt.Sprintf("lt-settle-%s-%d", runID, index)
		settle := transitionPayload{To: "PaymentSettled"}
		return client.call(ctx, stepTransition, http.MethodPost, "/api/v1/orders/"+placed.ID+"/transitions", settleKey, settle, nil)
	}
	return status, nil
}
