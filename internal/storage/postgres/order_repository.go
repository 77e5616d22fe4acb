package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/shopsync/internal/domain"
)

const orderCodeConstraint = "orders_code_key"

// orderDocument: часть заказа, которая хранится в JSONB-колонке document.
type orderDocument struct {
	Customer        *domain.Customer      `json:"customer,omitempty"`
	Lines           []domain.OrderLine    `json:"lines"`
	ShippingAddress domain.Address        `json:"shipping_address"`
	ShippingLines   []domain.ShippingLine `json:"shipping_lines,omitempty"`
	Payments        []domain.Payment      `json:"payments,omitempty"`
	CustomFields    map[string]string     `json:"custom_fields,omitempty"`
}

type orderRepository struct {
	store *Store
}

// NewOrderRepository создаёт PostgreSQL-реализацию OrderRepository.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepository{store: store}
}

func (r *orderRepository) Create(ctx context.Context, order domain.Order) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	doc, err := encodeOrderDocument(order)
	if err != nil {
		return err
	}

	_, err = r.store.executor(ctx).ExecContext(ctx, `
		INSERT INTO orders (
			id, code, customer_id, state, currency, total_with_tax, document, version, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`,
		order.ID, order.Code, order.CustomerID(), string(order.State), order.Currency,
		order.TotalWithTax, doc, order.Version, order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			if constraintName(err) == orderCodeConstraint {
				return domain.ErrOrderCodeConflict
			}
			return domain.ErrOrderVersionConflict
		}
		return fmt.Errorf("insert order: %w", err)
	}

	return nil
}

const selectOrderColumns = `
	SELECT id, code, state, currency, total_with_tax, document, version, created_at, updated_at
	FROM orders
`

func (r *orderRepository) Get(ctx context.Context, id string) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	row := r.store.executor(ctx).QueryRowContext(ctx, selectOrderColumns+` WHERE id = $1`, id)
	return scanOrder(row)
}

func (r *orderRepository) GetByCode(ctx context.Context, code string) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	row := r.store.executor(ctx).QueryRowContext(ctx, selectOrderColumns+` WHERE code = $1`, code)
	return scanOrder(row)
}

func (r *orderRepository) CountByCode(ctx context.Context, code string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var count int
	if err := r.store.executor(ctx).QueryRowContext(ctx, `
		SELECT COUNT(*) FROM orders WHERE code = $1
	`, code).Scan(&count); err != nil {
		return 0, fmt.Errorf("count orders by code: %w", err)
	}
	return count, nil
}

func (r *orderRepository) ListByCustomer(ctx context.Context, customerID string, limit int) ([]domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	query := selectOrderColumns + `
		WHERE customer_id = $1
		ORDER BY created_at DESC, id DESC
	`

	var (
		rows *sql.Rows
		err  error
	)

	exec := r.store.executor(ctx)
	if limit > 0 {
		rows, err = exec.QueryContext(ctx, query+" LIMIT $2", customerID, limit)
	} else {
		rows, err = exec.QueryContext(ctx, query, customerID)
	}
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	orders := make([]domain.Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order rows: %w", err)
	}

	return orders, nil
}

func (r *orderRepository) Save(ctx context.Context, order domain.Order) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	doc, err := encodeOrderDocument(order)
	if err != nil {
		return err
	}

	exec := r.store.executor(ctx)
	res, err := exec.ExecContext(ctx, `
		UPDATE orders
		SET customer_id = $1,
		    state = $2,
		    currency = $3,
		    total_with_tax = $4,
		    document = $5,
		    version = version + 1,
		    updated_at = $6
		WHERE id = $7
		  AND version = $8
	`,
		order.CustomerID(),
		string(order.State),
		order.Currency,
		order.TotalWithTax,
		doc,
		order.UpdatedAt,
		order.ID,
		order.Version,
	)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		exists, err := orderExists(ctx, exec, order.ID)
		if err != nil {
			return err
		}
		if !exists {
			return domain.ErrOrderNotFound
		}
		return domain.ErrOrderVersionConflict
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		order domain.Order
		state string
		raw   []byte
	)
	err := row.Scan(
		&order.ID, &order.Code, &state, &order.Currency, &order.TotalWithTax,
		&raw, &order.Version, &order.CreatedAt, &order.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("scan order: %w", err)
	}
	order.State = domain.OrderState(state)

	var doc orderDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return domain.Order{}, fmt.Errorf("decode order document %s: %w", order.ID, err)
	}
	order.Customer = doc.Customer
	order.Lines = doc.Lines
	order.ShippingAddress = doc.ShippingAddress
	order.ShippingLines = doc.ShippingLines
	order.Payments = doc.Payments
	order.CustomFields = doc.CustomFields

	return order, nil
}

func encodeOrderDocument(order domain.Order) ([]byte, error) {
	lines := make([]domain.OrderLine, len(order.Lines))
	for i, line := range order.Lines {
		lines[i] = line
		// Коллекции подтягиваются из каталога при выгрузке, в документе заказа их не храним.
		lines[i].Variant.Collections = nil
	}

	raw, err := json.Marshal(orderDocument{
		Customer:        order.Customer,
		Lines:           lines,
		ShippingAddress: order.ShippingAddress,
		ShippingLines:   order.ShippingLines,
		Payments:        order.Payments,
		CustomFields:    order.CustomFields,
	})
	if err != nil {
		return nil, fmt.Errorf("encode order document: %w", err)
	}
	return raw, nil
}

func orderExists(ctx context.Context, exec executor, orderID string) (bool, error) {
	var id string
	err := exec.QueryRowContext(ctx, `SELECT id FROM orders WHERE id = $1`, orderID).Scan(&id)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return false, fmt.Errorf("check order exists: %w", err)
}

var _ domain.OrderRepository = (*orderRepository)(nil)
