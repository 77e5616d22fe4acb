// Package httpapi: HTTP API сервиса заказов на gin.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shopsync/internal/domain"
	"github.com/vladislavdragonenkov/shopsync/internal/service/orders"
)

const maxListLimit = 500

// OrderService: сценарии заказов, которые обслуживает API.
type OrderService interface {
	PlaceOrder(ctx context.Context, in orders.PlaceOrderInput) (domain.Order, error)
	Transition(ctx context.Context, in orders.TransitionInput) (domain.Order, error)
	Get(ctx context.Context, id string) (domain.Order, error)
	GetByCode(ctx context.Context, code string) (domain.Order, error)
	ListByCustomer(ctx context.Context, customerID string, limit int) ([]domain.Order, error)
	History(ctx context.Context, orderID string) ([]domain.TimelineEvent, error)
}

// CodeMatcher проверяет форму кода заказа до обращения к хранилищу.
type CodeMatcher interface {
	Matches(code string) bool
}

// Deps: зависимости API. Idempotency и Codes необязательны.
type Deps struct {
	Orders         OrderService
	Catalog        domain.CatalogRepository
	Idempotency    domain.IdempotencyRepository
	IdempotencyTTL time.Duration
	Codes          CodeMatcher
	Logger         *log.Entry
}

// Handler обслуживает /api/v1.
type Handler struct {
	orders         OrderService
	catalog        domain.CatalogRepository
	idempotency    domain.IdempotencyRepository
	idempotencyTTL time.Duration
	codes          CodeMatcher
	logger         *log.Entry
	now            func() time.Time
}

// NewHandler создаёт обработчик API.
func NewHandler(deps Deps) (*Handler, error) {
	if deps.Orders == nil {
		return nil, errors.New("httpapi: order service is required")
	}
	if deps.Catalog == nil {
		return nil, errors.New("httpapi: catalog repository is required")
	}

	logger := deps.Logger
	if logger == nil {
		logger = log.WithField("component", "http-api")
	}
	ttl := deps.IdempotencyTTL
	if ttl <= 0 {
		ttl = defaultIdempotencyTTL
	}

	return &Handler{
		orders:         deps.Orders,
		catalog:        deps.Catalog,
		idempotency:    deps.Idempotency,
		idempotencyTTL: ttl,
		codes:          deps.Codes,
		logger:         logger,
		now:            func() time.Time { return time.Now().UTC() },
	}, nil
}

// Router собирает gin.Engine с маршрутами API.
func (h *Handler) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(h.logger))
	h.Register(r)
	return r
}

// Register добавляет маршруты API в router.
func (h *Handler) Register(r gin.IRouter) {
	v1 := r.Group("/api/v1")

	v1.POST("/orders", h.placeOrder)
	v1.GET("/orders/by-code/:code", h.getOrderByCode)
	v1.GET("/orders/:id", h.getOrder)
	v1.GET("/orders/:id/history", h.orderHistory)
	v1.POST("/orders/:id/transitions", h.transitionOrder)
	v1.GET("/customers/:id/orders", h.customerOrders)

	v1.PUT("/collections/:id", h.upsertCollection)
	v1.PUT("/products/:id/collections", h.linkProduct)
}

func (h *Handler) placeOrder(c *gin.Context) {
	var req placeOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	h.withIdempotency(c, "POST /api/v1/orders", req, func() (int, any, error) {
		order, err := h.orders.PlaceOrder(c.Request.Context(), req.toInput())
		if err != nil {
			return 0, nil, err
		}
		return http.StatusCreated, toOrderResponse(order), nil
	})
}

func (h *Handler) getOrder(c *gin.Context) {
	order, err := h.orders.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toOrderResponse(order))
}

func (h *Handler) getOrderByCode(c *gin.Context) {
	code := c.Param("code")
	if h.codes != nil && !h.codes.Matches(code) {
		badRequest(c, "malformed order code")
		return
	}

	order, err := h.orders.GetByCode(c.Request.Context(), code)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toOrderResponse(order))
}

func (h *Handler) orderHistory(c *gin.Context) {
	events, err := h.orders.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"events": toTimelineResponse(events)})
}

func (h *Handler) transitionOrder(c *gin.Context) {
	var req transitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	orderID := c.Param("id")
	h.withIdempotency(c, "POST /api/v1/orders/"+orderID+"/transitions", req, func() (int, any, error) {
		order, err := h.orders.Transition(c.Request.Context(), req.toInput(orderID))
		if err != nil {
			return 0, nil, err
		}
		return http.StatusOK, toOrderResponse(order), nil
	})
}

func (h *Handler) customerOrders(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			badRequest(c, "limit must be a positive integer")
			return
		}
		limit = parsed
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	list, err := h.orders.ListByCustomer(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		h.writeError(c, err)
		return
	}

	resp := make([]orderResponse, 0, len(list))
	for _, order := range list {
		resp = append(resp, toOrderResponse(order))
	}
	c.JSON(http.StatusOK, gin.H{"orders": resp})
}

func (h *Handler) upsertCollection(c *gin.Context) {
	var req collectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	collection := domain.Collection{
		ID:     c.Param("id"),
		Slug:   req.Slug,
		Name:   req.Name,
		IsRoot: req.IsRoot,
	}
	if err := h.catalog.UpsertCollection(c.Request.Context(), collection, req.ParentID); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) linkProduct(c *gin.Context) {
	var req productCollectionsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	if err := h.catalog.LinkProduct(c.Request.Context(), c.Param("id"), req.CollectionIDs); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
