// Package retailcrm: клиент RetailCRM API v5 с ограничением частоты запросов,
// повторами и circuit breaker.
package retailcrm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/vladislavdragonenkov/shopsync/internal/metrics"
	"github.com/vladislavdragonenkov/shopsync/internal/retry"
	"github.com/vladislavdragonenkov/shopsync/internal/version"
)

const (
	maxResponseSize = 10 * 1024 * 1024
	pageLimit       = 100
)

// Client выполняет запросы к RetailCRM.
type Client struct {
	baseURL     string
	apiKey      string
	httpClient  *http.Client
	limiter     *rate.Limiter
	retrier     *retry.Retrier
	breaker     *retry.CircuitBreaker
	metrics     *metrics.CRMMetrics
	logger      *log.Entry
	logRequests bool
}

// Option настраивает Client.
type Option func(*Client)

// WithHTTPClient задаёт http.Client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// WithMetrics задаёт метрики запросов.
func WithMetrics(m *metrics.CRMMetrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient создаёт клиент. Config валидируется.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Client{
		baseURL:     cfg.BaseURL,
		apiKey:      cfg.APIKey,
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		limiter:     rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.Burst),
		logger:      log.WithField("component", "retailcrm-client"),
		logRequests: cfg.LogRequests,
	}
	for _, opt := range opts {
		opt(c)
	}

	c.retrier = retry.New(cfg.Retry, c.logger)
	c.breaker = retry.NewCircuitBreaker(cfg.BreakerMaxFailures, cfg.BreakerReset, c.logger)
	return c, nil
}

// BreakerState возвращает состояние circuit breaker (для health-check).
func (c *Client) BreakerState() retry.CircuitState {
	return c.breaker.State()
}

// Customer ищет клиента по внешнему идентификатору. Отсутствие клиента: APIError с кодом 404.
func (c *Client) Customer(ctx context.Context, externalID string) (Customer, error) {
	var resp struct {
		Customer Customer `json:"customer"`
	}
	query := url.Values{"by": {"externalId"}}
	err := c.get(ctx, "customers", "customers/"+url.PathEscape(externalID), query, &resp)
	return resp.Customer, err
}

// CustomerCreate создаёт клиента и возвращает его id в CRM.
func (c *Client) CustomerCreate(ctx context.Context, customer Customer, site string) (int, error) {
	var resp struct {
		ID int `json:"id"`
	}
	form, err := jsonForm("customer", customer)
	if err != nil {
		return 0, err
	}
	if site != "" {
		form.Set("site", site)
	}
	err = c.post(ctx, "customers/create", "customers/create", form, &resp)
	return resp.ID, err
}

// Inventories возвращает остатки по торговым предложениям (до 100 за запрос).
func (c *Client) Inventories(ctx context.Context, filter InventoriesFilter) ([]InventoryOffer, error) {
	query := url.Values{"limit": {strconv.Itoa(pageLimit)}}
	for _, id := range filter.OfferExternalIDs {
		query.Add("filter[offerExternalId][]", id)
	}
	if filter.ProductActive {
		query.Set("filter[productActive]", "1")
	}
	if filter.OfferActive {
		query.Set("filter[offerActive]", "1")
	}

	var resp struct {
		Offers []InventoryOffer `json:"offers"`
	}
	err := c.get(ctx, "store/inventories", "store/inventories", query, &resp)
	return resp.Offers, err
}

// Sites возвращает магазины аккаунта в порядке их кодов.
func (c *Client) Sites(ctx context.Context) ([]Site, error) {
	var resp struct {
		Sites map[string]Site `json:"sites"`
	}
	if err := c.get(ctx, "reference/sites", "reference/sites", nil, &resp); err != nil {
		return nil, err
	}

	codes := make([]string, 0, len(resp.Sites))
	for code := range resp.Sites {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	sites := make([]Site, 0, len(codes))
	for _, code := range codes {
		site := resp.Sites[code]
		if site.Code == "" {
			site.Code = code
		}
		sites = append(sites, site)
	}
	return sites, nil
}

// ProductsBatchCreate создаёт товары и возвращает id добавленных.
func (c *Client) ProductsBatchCreate(ctx context.Context, products []ProductCreate) (BatchResult, error) {
	var resp BatchResult
	form, err := jsonForm("products", products)
	if err != nil {
		return resp, err
	}
	err = c.post(ctx, "store/products/batch/create", "store/products/batch/create", form, &resp)
	return resp, err
}

// ProductsBatchEdit обновляет товары по externalId.
func (c *Client) ProductsBatchEdit(ctx context.Context, products []ProductEdit) (BatchResult, error) {
	var resp BatchResult
	form, err := jsonForm("products", products)
	if err != nil {
		return resp, err
	}
	err = c.post(ctx, "store/products/batch/edit", "store/products/batch/edit", form, &resp)
	return resp, err
}

// Products возвращает товары по их id в CRM.
func (c *Client) Products(ctx context.Context, ids []int) ([]Product, error) {
	query := url.Values{"limit": {strconv.Itoa(pageLimit)}}
	for _, id := range ids {
		query.Add("filter[ids][]", strconv.Itoa(id))
	}

	var resp struct {
		Products []Product `json:"products"`
	}
	err := c.get(ctx, "store/products", "store/products", query, &resp)
	return resp.Products, err
}

// OrderCreate создаёт заказ.
func (c *Client) OrderCreate(ctx context.Context, order Order, site string) (OrderCreateResult, error) {
	var resp OrderCreateResult
	form, err := jsonForm("order", order)
	if err != nil {
		return resp, err
	}
	if site != "" {
		form.Set("site", site)
	}
	err = c.post(ctx, "orders/create", "orders/create", form, &resp)
	return resp, err
}

func (c *Client) get(ctx context.Context, endpoint, path string, query url.Values, out any) error {
	return c.do(ctx, endpoint, http.MethodGet, path, query, nil, out)
}

func (c *Client) post(ctx context.Context, endpoint, path string, form url.Values, out any) error {
	return c.do(ctx, endpoint, http.MethodPost, path, nil, form, out)
}

// do выполняет запрос с лимитом частоты, повторами и circuit breaker.
// endpoint: метка для метрик без идентификаторов в пути.
func (c *Client) do(ctx context.Context, endpoint, method, path string, query, form url.Values, out any) error {
	err := c.retrier.Do(ctx, "retailcrm."+endpoint, func(ctx context.Context) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return retry.Permanent(err)
		}
		return c.breaker.Execute("retailcrm."+endpoint, func() error {
			return c.roundTrip(ctx, method, path, query, form, out)
		})
	})
	c.metrics.RecordRequest(endpoint, err)

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return err
}

func (c *Client) roundTrip(ctx context.Context, method, path string, query, form url.Values, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var body io.Reader
	var encoded string
	if form != nil {
		encoded = form.Encode()
		body = strings.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return retry.Permanent(fmt.Errorf("retailcrm: failed to create request: %w", err))
	}
	req.Header.Set("X-API-KEY", c.apiKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	if c.logRequests {
		c.logger.WithFields(log.Fields{
			"method": method,
			"path":   path,
			"query":  query.Encode(),
			"body":   encoded,
		}).Debug("retailcrm request")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return retry.Permanent(ctx.Err())
		}
		return fmt.Errorf("retailcrm: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("retailcrm: failed to read response: %w", err)
	}

	var envelope struct {
		Success  bool      `json:"success"`
		ErrorMsg string    `json:"errorMsg"`
		Errors   apiErrors `json:"errors"`
	}
	decodeErr := json.Unmarshal(raw, &envelope)

	if resp.StatusCode >= http.StatusBadRequest || (decodeErr == nil && !envelope.Success) {
		apiErr := &APIError{
			StatusCode: resp.StatusCode,
			Message:    envelope.ErrorMsg,
			Errors:     envelope.Errors,
		}
		if apiErr.Temporary() {
			return apiErr
		}
		return retry.Permanent(apiErr)
	}
	if decodeErr != nil {
		return retry.Permanent(fmt.Errorf("retailcrm: invalid response: %w", decodeErr))
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return retry.Permanent(fmt.Errorf("retailcrm: failed to parse response: %w", err))
		}
	}
	return nil
}

func jsonForm(field string, value any) (url.Values, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("retailcrm: failed to encode %s: %w", field, err)
	}
	return url.Values{field: {string(data)}}, nil
}
