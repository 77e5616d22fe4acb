package retailcrm

// CustomerPhone: телефон клиента.
type CustomerPhone struct {
	Number string `json:"number"`
}

// Customer: клиент RetailCRM.
type Customer struct {
	ID         int             `json:"id,omitempty"`
	ExternalID string          `json:"externalId"`
	FirstName  string          `json:"firstName,omitempty"`
	LastName   string          `json:"lastName,omitempty"`
	Email      string          `json:"email,omitempty"`
	Phones     []CustomerPhone `json:"phones,omitempty"`
}

// InventoriesFilter: фильтр store/inventories.
type InventoriesFilter struct {
	OfferExternalIDs []string
	ProductActive    bool
	OfferActive      bool
}

// InventoryOffer: торговое предложение из store/inventories.
type InventoryOffer struct {
	ID         int    `json:"id"`
	ExternalID string `json:"externalId"`
	XMLID      string `json:"xmlId,omitempty"`
	Quantity   int    `json:"quantity,omitempty"`
}

// Site: магазин из справочника reference/sites.
type Site struct {
	Code      string `json:"code"`
	Name      string `json:"name"`
	URL       string `json:"url,omitempty"`
	CatalogID string `json:"catalogId,omitempty"`
}

// ProductCreate: товар для store/products/batch/create.
type ProductCreate struct {
	ExternalID string `json:"externalId"`
	Name       string `json:"name"`
	CatalogID  int    `json:"catalogId"`
}

// ProductEdit: товар для store/products/batch/edit.
type ProductEdit struct {
	ExternalID string `json:"externalId"`
	Article    string `json:"article"`
	Name       string `json:"name"`
	Site       string `json:"site"`
}

// ProductOffer: предложение внутри товара.
type ProductOffer struct {
	ID         int    `json:"id"`
	ExternalID string `json:"externalId,omitempty"`
	Name       string `json:"name,omitempty"`
}

// Product: товар из store/products.
type Product struct {
	ID         int            `json:"id"`
	ExternalID string         `json:"externalId"`
	Name       string         `json:"name"`
	Offers     []ProductOffer `json:"offers"`
}

// OrderCustomer: ссылка на клиента в заказе.
type OrderCustomer struct {
	ExternalID string `json:"externalId"`
}

// OrderItemOffer ссылается на предложение по id или по externalId.
type OrderItemOffer struct {
	ID         int    `json:"id,omitempty"`
	ExternalID string `json:"externalId,omitempty"`
}

// OrderItem: позиция заказа.
type OrderItem struct {
	ProductName  string         `json:"productName"`
	InitialPrice int64          `json:"initialPrice"`
	Quantity     int32          `json:"quantity"`
	Offer        OrderItemOffer `json:"offer"`
	Comment      string         `json:"comment,omitempty"`
}

// DeliveryAddress: адрес доставки.
type DeliveryAddress struct {
	Text string `json:"text"`
}

// Delivery: доставка заказа.
type Delivery struct {
	Code    string          `json:"code,omitempty"`
	Address DeliveryAddress `json:"address"`
}

// Payment: оплата заказа.
type Payment struct {
	Amount int64  `json:"amount"`
	Type   string `json:"type"`
	Status string `json:"status"`
}

// Order: заказ для orders/create.
type Order struct {
	Number       string            `json:"number"`
	ExternalID   string            `json:"externalId"`
	Status       string            `json:"status,omitempty"`
	FirstName    string            `json:"firstName,omitempty"`
	LastName     string            `json:"lastName,omitempty"`
	Phone        string            `json:"phone,omitempty"`
	Email        string            `json:"email,omitempty"`
	Shipped      bool              `json:"shipped"`
	Customer     OrderCustomer     `json:"customer"`
	Items        []OrderItem       `json:"items"`
	Delivery     Delivery          `json:"delivery"`
	Payments     []Payment         `json:"payments"`
	CustomFields map[string]string `json:"customFields,omitempty"`
}

// BatchResult: ответ пакетных операций с товарами.
type BatchResult struct {
	ProcessedProductsCount int   `json:"processedProductsCount"`
	AddedProducts          []int `json:"addedProducts,omitempty"`
}

// OrderCreateResult: ответ orders/create.
type OrderCreateResult struct {
	ID int `json:"id"`
}
