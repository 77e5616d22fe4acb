package crmsync

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/shopsync/internal/domain"
	"github.com/vladislavdragonenkov/shopsync/internal/retailcrm"
)

const (
	inventoriesChunkSize = 100
	temporaryNamePrefix  = "[ВРЕМЕННО]"
	createdAtLayout      = "2006-01-02T15:04"
)

var hundred = decimal.NewFromInt(100)

// SyncOrder выполняет выгрузку: клиент, товары каталога, заказ.
func (h *Handler) SyncOrder(ctx context.Context, order domain.Order) error {
	if order.Customer == nil || order.Customer.ID == "" {
		return ErrCustomerMissing
	}

	if err := h.ensureCustomer(ctx, *order.Customer); err != nil {
		return err
	}

	lines, err := h.withCollections(ctx, order.Lines)
	if err != nil {
		return err
	}

	var offers map[string]retailcrm.OrderItemOffer
	switch h.opts.CatalogMode {
	case CatalogModeBatchEdit:
		offers, err = h.editProducts(ctx, lines)
	default:
		offers, err = h.createMissingProducts(ctx, lines)
	}
	if err != nil {
		return err
	}

	crmOrder := h.buildOrder(order, lines, offers)
	if _, err := h.crm.OrderCreate(ctx, crmOrder, h.opts.Site); err != nil {
		return fmt.Errorf("create crm order %s: %w", order.Code, err)
	}
	return nil
}

func (h *Handler) ensureCustomer(ctx context.Context, customer domain.Customer) error {
	_, err := h.crm.Customer(ctx, customer.ID)
	if err == nil {
		return nil
	}
	if !retailcrm.IsNotFound(err) {
		return fmt.Errorf("lookup crm customer %s: %w", customer.ID, err)
	}

	_, err = h.crm.CustomerCreate(ctx, retailcrm.Customer{
		ExternalID: customer.ID,
		FirstName:  customer.FirstName,
		LastName:   customer.LastName,
		Email:      customer.EmailAddress,
		Phones:     []retailcrm.CustomerPhone{{Number: customer.PhoneNumber}},
	}, h.opts.Site)
	if err != nil {
		return fmt.Errorf("create crm customer %s: %w", customer.ID, err)
	}
	return nil
}

// withCollections подтягивает коллекции товаров из каталога.
func (h *Handler) withCollections(ctx context.Context, lines []domain.OrderLine) ([]domain.OrderLine, error) {
	cache := make(map[string][]domain.Collection)
	result := make([]domain.OrderLine, len(lines))

	for i, line := range lines {
		productID := line.Variant.ProductID
		collections, ok := cache[productID]
		if !ok {
			var err error
			collections, err = h.catalog.CollectionsForProduct(ctx, productID)
			if err != nil {
				return nil, fmt.Errorf("load collections for product %s: %w", productID, err)
			}
			cache[productID] = collections
		}

		result[i] = line
		result[i].Variant.Collections = collections
	}
	return result, nil
}

// createMissingProducts возвращает предложения CRM по SKU, создавая временные товары
// для позиций, которых в CRM нет.
func (h *Handler) createMissingProducts(ctx context.Context, lines []domain.OrderLine) (map[string]retailcrm.OrderItemOffer, error) {
	externalIDs := make([]string, 0, len(lines))
	seen := make(map[string]struct{}, len(lines))
	for _, line := range lines {
		id := OfferExternalID(line.Variant)
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		externalIDs = append(externalIDs, id)
	}

	existing := make(map[string]struct{}, len(externalIDs))
	for start := 0; start < len(externalIDs); start += inventoriesChunkSize {
		end := start + inventoriesChunkSize
		if end > len(externalIDs) {
			end = len(externalIDs)
		}
		found, err := h.crm.Inventories(ctx, retailcrm.InventoriesFilter{
			OfferExternalIDs: externalIDs[start:end],
			ProductActive:    true,
			OfferActive:      true,
		})
		if err != nil {
			return nil, fmt.Errorf("lookup crm inventories: %w", err)
		}
		for _, offer := range found {
			existing[offer.ExternalID] = struct{}{}
		}
	}

	var missing []domain.OrderLine
	for _, line := range lines {
		if _, ok := existing[OfferExternalID(line.Variant)]; !ok {
			missing = append(missing, line)
		}
	}

	offers := make(map[string]retailcrm.OrderItemOffer, len(lines))
	if len(missing) > 0 {
		created, err := h.createTemporaryProducts(ctx, missing)
		if err != nil {
			return nil, err
		}
		for sku, offerID := range created {
			offers[sku] = retailcrm.OrderItemOffer{ID: offerID}
		}
	}

	for _, line := range lines {
		if _, ok := offers[line.Variant.SKU]; !ok {
			offers[line.Variant.SKU] = retailcrm.OrderItemOffer{ExternalID: OfferExternalID(line.Variant)}
		}
	}
	return offers, nil
}

// createTemporaryProducts создаёт товары в первом каталоге аккаунта и возвращает offer id по SKU.
func (h *Handler) createTemporaryProducts(ctx context.Context, missing []domain.OrderLine) (map[string]int, error) {
	sites, err := h.crm.Sites(ctx)
	if err != nil {
		return nil, fmt.Errorf("load crm sites: %w", err)
	}
	if len(sites) == 0 {
		return nil, fmt.Errorf("crm account has no sites")
	}
	catalogID, err := strconv.Atoi(sites[0].CatalogID)
	if err != nil {
		return nil, fmt.Errorf("parse catalog id %q of site %s: %w", sites[0].CatalogID, sites[0].Code, err)
	}

	stamp := h.now().Format(createdAtLayout)
	products := make([]retailcrm.ProductCreate, 0, len(missing))
	for _, line := range missing {
		slug, name := brandOf(line.Variant)
		products = append(products, retailcrm.ProductCreate{
			ExternalID: strings.ToLower(fmt.Sprintf("%s-%s-%s", slug, line.Variant.ProductID, stamp)),
			Name:       fmt.Sprintf("%s %s / %s", temporaryNamePrefix, name, line.Variant.SKU),
			CatalogID:  catalogID,
		})
	}

	result, err := h.crm.ProductsBatchCreate(ctx, products)
	if err != nil {
		return nil, fmt.Errorf("create crm products: %w", err)
	}

	created := make(map[string]int, len(missing))
	for start := 0; start < len(result.AddedProducts); start += inventoriesChunkSize {
		end := start + inventoriesChunkSize
		if end > len(result.AddedProducts) {
			end = len(result.AddedProducts)
		}
		crmProducts, err := h.crm.Products(ctx, result.AddedProducts[start:end])
		if err != nil {
			return nil, fmt.Errorf("load created crm products: %w", err)
		}

		for _, product := range crmProducts {
			if product.ExternalID == "" || len(product.Offers) == 0 {
				continue
			}
			for _, line := range missing {
				if _, done := created[line.Variant.SKU]; done {
					continue
				}
				slug, _ := brandOf(line.Variant)
				prefix := strings.ToLower(slug + "-" + line.Variant.ProductID + "-")
				if strings.HasPrefix(product.ExternalID, prefix) {
					created[line.Variant.SKU] = product.Offers[0].ID
					break
				}
			}
		}
	}
	return created, nil
}

// editProducts обновляет товары CRM по идентификаторам вариантов.
func (h *Handler) editProducts(ctx context.Context, lines []domain.OrderLine) (map[string]retailcrm.OrderItemOffer, error) {
	products := make([]retailcrm.ProductEdit, 0, len(lines))
	offers := make(map[string]retailcrm.OrderItemOffer, len(lines))
	for _, line := range lines {
		products = append(products, retailcrm.ProductEdit{
			ExternalID: line.Variant.ID,
			Article:    line.Variant.SKU,
			Name:       line.Variant.Name,
			Site:       h.opts.Site,
		})
		offers[line.Variant.SKU] = retailcrm.OrderItemOffer{ExternalID: line.Variant.ID}
	}

	if _, err := h.crm.ProductsBatchEdit(ctx, products); err != nil {
		return nil, fmt.Errorf("edit crm products: %w", err)
	}
	return offers, nil
}

func (h *Handler) buildOrder(order domain.Order, lines []domain.OrderLine, offers map[string]retailcrm.OrderItemOffer) retailcrm.Order {
	customer := order.Customer

	items := make([]retailcrm.OrderItem, 0, len(lines))
	for _, line := range lines {
		items = append(items, retailcrm.OrderItem{
			ProductName:  line.Variant.Name,
			InitialPrice: MajorUnits(line.Variant.PriceWithTax),
			Quantity:     line.Quantity,
			Offer:        offers[line.Variant.SKU],
			Comment:      order.ShippingAddress.StreetLine2,
		})
	}

	delivery := retailcrm.Delivery{
		Address: retailcrm.DeliveryAddress{Text: order.ShippingAddress.StreetLine1},
	}
	if len(order.ShippingLines) > 0 {
		delivery.Code = order.ShippingLines[0].MethodCode
	}

	payments := []retailcrm.Payment{}
	if len(order.Payments) > 0 {
		payments = append(payments, retailcrm.Payment{
			Amount: MajorUnits(order.Payments[0].Amount),
			Type:   order.Payments[0].Method,
			Status: h.opts.PaymentStatus,
		})
	}

	var customFields map[string]string
	if roistat, ok := order.CustomFields["roistat"]; ok {
		customFields = map[string]string{"roistat": roistat}
	}

	return retailcrm.Order{
		Number:       order.Code,
		ExternalID:   order.Code,
		Status:       h.opts.OrderStatus,
		FirstName:    customer.FirstName,
		LastName:     customer.LastName,
		Phone:        customer.PhoneNumber,
		Email:        customer.EmailAddress,
		Shipped:      false,
		Customer:     retailcrm.OrderCustomer{ExternalID: customer.ID},
		Items:        items,
		Delivery:     delivery,
		Payments:     payments,
		CustomFields: customFields,
	}
}

// OfferExternalID: внешний идентификатор предложения: lower("{brandSlug}-{sku}").
func OfferExternalID(variant domain.ProductVariant) string {
	slug, _ := brandOf(variant)
	return strings.ToLower(slug + "-" + variant.SKU)
}

// MajorUnits переводит сумму из копеек в рубли с округлением вверх.
func MajorUnits(minor int64) int64 {
	return decimal.NewFromInt(minor).Div(hundred).Ceil().IntPart()
}

func brandOf(variant domain.ProductVariant) (slug, name string) {
	brand := domain.FindBrandCollection(variant.Collections)
	if brand == nil {
		return UnbrandedSlug, UnbrandedSlug
	}
	return brand.Slug, brand.Name
}
