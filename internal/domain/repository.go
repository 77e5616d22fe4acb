package domain

import "context"

// OrderRepository описывает требования к хранилищу заказов.
// Все методы принимают ctx: если в нём открыта транзакция (см. Transactor), работа идёт в ней.
type OrderRepository interface {
	// Create сохраняет новый заказ. ErrOrderCodeConflict: если код уже занят.
	Create(ctx context.Context, order Order) error
	// Get возвращает заказ по идентификатору или ErrOrderNotFound, если его нет.
	Get(ctx context.Context, id string) (Order, error)
	// GetByCode возвращает заказ по публичному коду.
	GetByCode(ctx context.Context, code string) (Order, error)
	// CountByCode считает заказы с данным кодом среди всех когда-либо созданных, включая отменённые.
	CountByCode(ctx context.Context, code string) (int, error)
	// ListByCustomer возвращает заказы клиента с опциональным ограничением на количество.
	ListByCustomer(ctx context.Context, customerID string, limit int) ([]Order, error)
	// Save применяет обновления к заказу с учётом optimistic locking.
	Save(ctx context.Context, order Order) error
}

// CatalogRepository хранит коллекции каталога и их привязку к товарам.
type CatalogRepository interface {
	UpsertCollection(ctx context.Context, collection Collection, parentID string) error
	LinkProduct(ctx context.Context, productID string, collectionIDs []string) error
	// CollectionsForProduct возвращает коллекции товара с заполненным некорневым родителем.
	CollectionsForProduct(ctx context.Context, productID string) ([]Collection, error)
}

// Transactor выполняет fn в транзакции, передавая её через ctx.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}
