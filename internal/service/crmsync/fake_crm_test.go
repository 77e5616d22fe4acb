package crmsync

import (
	"context"
	"sync"

	"github.com/vladislavdragonenkov/shopsync/internal/domain"
	"github.com/vladislavdragonenkov/shopsync/internal/retailcrm"
)

type fakeCRM struct {
	mu sync.Mutex

	customers      map[string]retailcrm.Customer
	customerErr    error
	offers         map[string]retailcrm.InventoryOffer
	sites          []retailcrm.Site
	products       map[int]retailcrm.Product
	nextProductID  int
	orderCreateErr error

	createdCustomers []retailcrm.Customer
	inventoryCalls   []retailcrm.InventoriesFilter
	batchCreates     [][]retailcrm.ProductCreate
	batchEdits       [][]retailcrm.ProductEdit
	productCalls     [][]int
	orders           []retailcrm.Order
	orderSites       []string
}

func newFakeCRM() *fakeCRM {
	return &fakeCRM{
		customers:     make(map[string]retailcrm.Customer),
		offers:        make(map[string]retailcrm.InventoryOffer),
		sites:         []retailcrm.Site{{Code: "shop", Name: "Shop", CatalogID: "7"}},
		products:      make(map[int]retailcrm.Product),
		nextProductID: 100,
	}
}

func (f *fakeCRM) Customer(_ context.Context, externalID string) (retailcrm.Customer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.customerErr != nil {
		return retailcrm.Customer{}, f.customerErr
	}
	c, ok := f.customers[externalID]
	if !ok {
		return retailcrm.Customer{}, &retailcrm.APIError{StatusCode: 404, Message: "Not found"}
	}
	return c, nil
}

func (f *fakeCRM) CustomerCreate(_ context.Context, customer retailcrm.Customer, _ string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.createdCustomers = append(f.createdCustomers, customer)
	customer.ID = len(f.createdCustomers)
	f.customers[customer.ExternalID] = customer
	return customer.ID, nil
}

func (f *fakeCRM) Inventories(_ context.Context, filter retailcrm.InventoriesFilter) ([]retailcrm.InventoryOffer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.inventoryCalls = append(f.inventoryCalls, filter)
	var result []retailcrm.InventoryOffer
	for _, id := range filter.OfferExternalIDs {
		if offer, ok := f.offers[id]; ok {
			result = append(result, offer)
		}
	}
	return result, nil
}

func (f *fakeCRM) Sites(context.Context) ([]retailcrm.Site, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]retailcrm.Site(nil), f.sites...), nil
}

func (f *fakeCRM) ProductsBatchCreate(_ context.Context, products []retailcrm.ProductCreate) (retailcrm.BatchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.batchCreates = append(f.batchCreates, products)
	result := retailcrm.BatchResult{ProcessedProductsCount: len(products)}
	for _, p := range products {
		id := f.nextProductID
		f.nextProductID++
		f.products[id] = retailcrm.Product{
			ID:         id,
			ExternalID: p.ExternalID,
			Name:       p.Name,
			Offers:     []retailcrm.ProductOffer{{ID: id * 10}},
		}
		result.AddedProducts = append(result.AddedProducts, id)
	}
	return result, nil
}

func (f *fakeCRM) ProductsBatchEdit(_ context.Context, products []retailcrm.ProductEdit) (retailcrm.BatchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.batchEdits = append(f.batchEdits, products)
	return retailcrm.BatchResult{ProcessedProductsCount: len(products)}, nil
}

func (f *fakeCRM) Products(_ context.Context, ids []int) ([]retailcrm.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.productCalls = append(f.productCalls, append([]int(nil), ids...))
	var result []retailcrm.Product
	for _, id := range ids {
		if p, ok := f.products[id]; ok {
			result = append(result, p)
		}
	}
	return result, nil
}

func (f *fakeCRM) OrderCreate(_ context.Context, order retailcrm.Order, site string) (retailcrm.OrderCreateResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.orderCreateErr != nil {
		return retailcrm.OrderCreateResult{}, f.orderCreateErr
	}
	for _, existing := range f.orders {
		if existing.ExternalID == order.ExternalID {
			return retailcrm.OrderCreateResult{}, &retailcrm.APIError{StatusCode: 400, Message: "Order already exists"}
		}
	}
	f.orders = append(f.orders, order)
	f.orderSites = append(f.orderSites, site)
	return retailcrm.OrderCreateResult{ID: len(f.orders)}, nil
}

func (f *fakeCRM) orderCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.orders)
}

type recordingSink struct {
	mu    sync.Mutex
	codes []string
	errs  []error
	err   error
}

func (s *recordingSink) Report(_ context.Context, event domain.StateTransitionEvent, err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.codes = append(s.codes, event.OrderCode)
	s.errs = append(s.errs, err)
	return s.err
}
