package httpapi

import (
	"time"

	"github.com/vladislavdragonenkov/shopsync/internal/domain"
	"github.com/vladislavdragonenkov/shopsync/internal/service/orders"
)

type customerDTO struct {
	ID           string `json:"id" binding:"required"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	PhoneNumber  string `json:"phone_number"`
	EmailAddress string `json:"email_address"`
}

type lineDTO struct {
	VariantID    string `json:"variant_id"`
	ProductID    string `json:"product_id"`
	SKU          string `json:"sku"`
	Name         string `json:"name"`
	PriceWithTax int64  `json:"price_with_tax"`
	Quantity     int32  `json:"quantity"`
}

type addressDTO struct {
	FullName    string `json:"full_name"`
	StreetLine1 string `json:"street_line1"`
	StreetLine2 string `json:"street_line2"`
	City        string `json:"city"`
	PostalCode  string `json:"postal_code"`
	CountryCode string `json:"country_code"`
}

type shippingLineDTO struct {
	MethodCode   string `json:"method_code"`
	PriceWithTax int64  `json:"price_with_tax"`
}

type paymentDTO struct {
	Method        string    `json:"method"`
	Amount        int64     `json:"amount"`
	State         string    `json:"state"`
	TransactionID string    `json:"transaction_id,omitempty"`
	CreatedAt     time.Time `json:"created_at,omitempty"`
}

type placeOrderRequest struct {
	Customer        customerDTO       `json:"customer" binding:"required"`
	Currency        string            `json:"currency" binding:"required"`
	Lines           []lineDTO         `json:"lines" binding:"required,min=1"`
	ShippingAddress addressDTO        `json:"shipping_address"`
	ShippingLines   []shippingLineDTO `json:"shipping_lines"`
	CustomFields    map[string]string `json:"custom_fields"`
	State           string            `json:"state"`
}

func (r placeOrderRequest) toInput() orders.PlaceOrderInput {
	in := orders.PlaceOrderInput{
		Customer: domain.Customer{
			ID:           r.Customer.ID,
			FirstName:    r.Customer.FirstName,
			LastName:     r.Customer.LastName,
			PhoneNumber:  r.Customer.PhoneNumber,
			EmailAddress: r.Customer.EmailAddress,
		},
		Currency:        r.Currency,
		ShippingAddress: domain.Address(r.ShippingAddress),
		CustomFields:    r.CustomFields,
		State:           domain.OrderState(r.State),
	}
	for _, line := range r.Lines {
		in.Lines = append(in.Lines, orders.LineInput(line))
	}
	for _, shipping := range r.ShippingLines {
		in.ShippingLines = append(in.ShippingLines, domain.ShippingLine(shipping))
	}
	return in
}

type transitionRequest struct {
	To      string      `json:"to" binding:"required"`
	Payment *paymentDTO `json:"payment"`
}

func (r transitionRequest) toInput(orderID string) orders.TransitionInput {
	in := orders.TransitionInput{OrderID: orderID, To: domain.OrderState(r.To)}
	if r.Payment != nil {
		in.Payment = &domain.Payment{
			Method:        r.Payment.Method,
			Amount:        r.Payment.Amount,
			State:         domain.PaymentState(r.Payment.State),
			TransactionID: r.Payment.TransactionID,
			CreatedAt:     r.Payment.CreatedAt,
		}
	}
	return in
}

type collectionRequest struct {
	Slug     string `json:"slug" binding:"required"`
	Name     string `json:"name"`
	IsRoot   bool   `json:"is_root"`
	ParentID string `json:"parent_id"`
}

type productCollectionsRequest struct {
	CollectionIDs []string `json:"collection_ids"`
}

type orderLineResponse struct {
	ID           string `json:"id"`
	VariantID    string `json:"variant_id"`
	ProductID    string `json:"product_id"`
	SKU          string `json:"sku"`
	Name         string `json:"name"`
	PriceWithTax int64  `json:"price_with_tax"`
	Quantity     int32  `json:"quantity"`
}

type orderResponse struct {
	ID              string              `json:"id"`
	Code            string              `json:"code"`
	State           string              `json:"state"`
	Customer        *customerDTO        `json:"customer,omitempty"`
	Currency        string              `json:"currency"`
	Lines           []orderLineResponse `json:"lines"`
	ShippingAddress addressDTO          `json:"shipping_address"`
	ShippingLines   []shippingLineDTO   `json:"shipping_lines"`
	Payments        []paymentDTO        `json:"payments"`
	CustomFields    map[string]string   `json:"custom_fields,omitempty"`
	TotalWithTax    int64               `json:"total_with_tax"`
	Version         int64               `json:"version"`
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
}

func toOrderResponse(order domain.Order) orderResponse {
	resp := orderResponse{
		ID:              order.ID,
		Code:            order.Code,
		State:           string(order.State),
		Currency:        order.Currency,
		Lines:           make([]orderLineResponse, 0, len(order.Lines)),
		ShippingAddress: addressDTO(order.ShippingAddress),
		ShippingLines:   make([]shippingLineDTO, 0, len(order.ShippingLines)),
		Payments:        make([]paymentDTO, 0, len(order.Payments)),
		CustomFields:    order.CustomFields,
		TotalWithTax:    order.TotalWithTax,
		Version:         order.Version,
		CreatedAt:       order.CreatedAt,
		UpdatedAt:       order.UpdatedAt,
	}
	if c := order.Customer; c != nil {
		resp.Customer = &customerDTO{
			ID:           c.ID,
			FirstName:    c.FirstName,
			LastName:     c.LastName,
			PhoneNumber:  c.PhoneNumber,
			EmailAddress: c.EmailAddress,
		}
	}
	for _, line := range order.Lines {
		resp.Lines = append(resp.Lines, orderLineResponse{
			ID:           line.ID,
			VariantID:    line.Variant.ID,
			ProductID:    line.Variant.ProductID,
			SKU:          line.Variant.SKU,
			Name:         line.Variant.Name,
			PriceWithTax: line.Variant.PriceWithTax,
			Quantity:     line.Quantity,
		})
	}
	for _, shipping := range order.ShippingLines {
		resp.ShippingLines = append(resp.ShippingLines, shippingLineDTO(shipping))
	}
	for _, p := range order.Payments {
		resp.Payments = append(resp.Payments, paymentDTO{
			Method:        p.Method,
			Amount:        p.Amount,
			State:         string(p.State),
			TransactionID: p.TransactionID,
			CreatedAt:     p.CreatedAt,
		})
	}
	return resp
}

type timelineEventResponse struct {
	Type      string    `json:"type"`
	FromState string    `json:"from_state,omitempty"`
	ToState   string    `json:"to_state,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Occurred  time.Time `json:"occurred"`
}

func toTimelineResponse(events []domain.TimelineEvent) []timelineEventResponse {
	resp := make([]timelineEventResponse, 0, len(events))
	for _, e := range events {
		resp = append(resp, timelineEventResponse{
			Type:      e.Type,
			FromState: string(e.FromState),
			ToState:   string(e.ToState),
			Reason:    e.Reason,
			Occurred:  e.Occurred,
		})
	}
	return resp
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
