package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/storefront/internal/model"
)

const (
	orderColumns = `
		SELECT id::text, number, user_id, subtotal, shipping_cost, total, currency,
		       shipping_address, contact_email, status, payment_provider,
		       payment_transaction_id, payment_method, payment_status, payment_raw,
		       created_at, updated_at
		FROM orders`

	selectOrderQuery = orderColumns + `
		WHERE number = $1`

	selectUserOrdersQuery = orderColumns + `
		WHERE user_id = $1
		ORDER BY created_at DESC`

	selectItemsQuery = `
		SELECT order_id::text, product_id, variant_id, quantity, price, name, image_url
		FROM order_items
		WHERE order_id = ANY($1::uuid[])
		ORDER BY order_id, position`

	selectHistoryQuery = `
		SELECT order_id::text, status, payment_status, created_at
		FROM order_status_history
		WHERE order_id = ANY($1::uuid[])
		ORDER BY order_id, seq`

	insertHistoryQuery = `
		INSERT INTO order_status_history (order_id, seq, status, payment_status, created_at)
		VALUES ($1, $2, $3, $4, $5)`
)

// OrderTx даёт доступ к заказу, заблокированному в рамках транзакции.
// Все изменения остатков и статуса фиксируются вместе или не фиксируются вовсе.
type OrderTx interface {
	// Order возвращает заказ, прочитанный под блокировкой.
	Order() *model.Order
	// AdjustStock атомарно изменяет остатки по всем строкам.
	AdjustStock(ctx context.Context, items []model.StockItem, dir model.Direction) error
	// SaveOrder записывает статус, платёж и новые записи истории.
	SaveOrder(ctx context.Context) error
}

// CreateOrder сохраняет новый заказ вместе с позициями и первой записью истории.
func (r *PostgresRepository) CreateOrder(ctx context.Context, o *model.Order) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return classify(fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO orders (id, number, user_id, subtotal, shipping_cost, total, currency,
		                     shipping_address, contact_email, status, payment_provider,
		                     payment_method, payment_status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		o.ID, o.Number, o.UserID, o.Subtotal, o.ShippingCost, o.Total, o.Currency,
		o.ShippingAddress, o.ContactEmail, string(o.Status), string(o.Payment.Provider),
		o.Payment.Method, string(o.Payment.Status), o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, "orders_number_key") {
			return fmt.Errorf("%w: %s", ErrOrderNumberTaken, o.Number)
		}
		return classify(fmt.Errorf("insert order: %w", err))
	}

	batch := &pgx.Batch{}
	for i, it := range o.Items {
		batch.Queue(
			`INSERT INTO order_items (order_id, position, product_id, variant_id, name, image_url, quantity, price)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			o.ID, i, it.ProductID, it.VariantID, it.Name, it.ImageURL, it.Quantity, it.Price,
		)
	}
	for i, h := range o.History {
		batch.Queue(insertHistoryQuery, o.ID, i, string(h.Status), string(h.PaymentStatus), h.CreatedAt)
	}

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return classify(fmt.Errorf("insert order lines: %w", err))
	}

	if err := tx.Commit(ctx); err != nil {
		return classify(fmt.Errorf("commit tx: %w", err))
	}

	return nil
}

// GetOrderByNumber возвращает заказ по внешнему номеру.
func (r *PostgresRepository) GetOrderByNumber(ctx context.Context, number string) (*model.Order, error) {
	var order *model.Order
	err := r.withRetry(ctx, func(ctx context.Context) error {
		var err error
		order, err = loadOrder(ctx, r.pool, number, false)
		return err
	})
	if err != nil {
		return nil, classify(err)
	}
	return order, nil
}

// GetOrdersByUser возвращает заказы пользователя, начиная с новых.
// Заказы, позиции и история читаются одним снимком.
func (r *PostgresRepository) GetOrdersByUser(ctx context.Context, userID int64) ([]model.Order, error) {
	var orders []model.Order
	err := r.withRetry(ctx, func(ctx context.Context) error {
		tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		rows, err := tx.Query(ctx, selectUserOrdersQuery, userID)
		if err != nil {
			return fmt.Errorf("select orders: %w", err)
		}
		list, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*model.Order, error) {
			return scanOrder(row)
		})
		if err != nil {
			return fmt.Errorf("scan orders: %w", err)
		}

		if err := loadDetails(ctx, tx, list...); err != nil {
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		orders = make([]model.Order, 0, len(list))
		for _, o := range list {
			orders = append(orders, *o)
		}
		return nil
	})
	if err != nil {
		return nil, classify(err)
	}

	return orders, nil
}

// WithOrderLock открывает транзакцию, блокирует строку заказа на время
// read-modify-write и вызывает fn. Если fn вернула ошибку, транзакция откатывается.
// Ожидание блокировки ограничено lockTimeout, по истечении возвращается model.ErrContention.
func (r *PostgresRepository) WithOrderLock(ctx context.Context, number string, fn func(ctx context.Context, tx OrderTx) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return classify(fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback(ctx)

	timeout := fmt.Sprintf("%dms", r.lockTimeout.Milliseconds())
	if _, err := tx.Exec(ctx, `SELECT set_config('lock_timeout', $1, true)`, timeout); err != nil {
		return classify(fmt.Errorf("set lock timeout: %w", err))
	}

	order, err := loadOrder(ctx, tx, number, true)
	if err != nil {
		return classify(err)
	}

	otx := &orderTx{
		tx:        tx,
		order:     order,
		persisted: len(order.History),
	}

	if err := fn(ctx, otx); err != nil {
		return classify(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return classify(fmt.Errorf("commit tx: %w", err))
	}

	return nil
}

type orderTx struct {
	tx        pgx.Tx
	order     *model.Order
	persisted int
}

func (t *orderTx) Order() *model.Order {
	return t.order
}

func (t *orderTx) AdjustStock(ctx context.Context, items []model.StockItem, dir model.Direction) error {
	return adjustStock(ctx, t.tx, items, dir)
}

func (t *orderTx) SaveOrder(ctx context.Context) error {
	o := t.order

	if len(o.History) < t.persisted {
		return fmt.Errorf("status history of order %s shrank from %d to %d entries", o.Number, t.persisted, len(o.History))
	}

	_, err := t.tx.Exec(ctx,
		`UPDATE orders
		 SET status = $2, payment_transaction_id = $3, payment_method = $4,
		     payment_status = $5, payment_raw = $6, updated_at = $7
		 WHERE id = $1`,
		o.ID, string(o.Status), o.Payment.TransactionID, o.Payment.Method,
		string(o.Payment.Status), rawOrNil(o.Payment.RawPayload), o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}

	for i := t.persisted; i < len(o.History); i++ {
		h := o.History[i]
		if _, err := t.tx.Exec(ctx, insertHistoryQuery, o.ID, i, string(h.Status), string(h.PaymentStatus), h.CreatedAt); err != nil {
			return fmt.Errorf("insert status history: %w", err)
		}
	}
	t.persisted = len(o.History)

	return nil
}

func rawOrNil(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

func loadOrder(ctx context.Context, q querier, number string, forUpdate bool) (*model.Order, error) {
	query := selectOrderQuery
	if forUpdate {
		query += " FOR UPDATE"
	}

	o, err := scanOrder(q.QueryRow(ctx, query, number))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("order %s: %w", number, model.ErrNotFound)
		}
		return nil, fmt.Errorf("select order: %w", err)
	}

	if err := loadDetails(ctx, q, o); err != nil {
		return nil, err
	}

	return o, nil
}

func scanOrder(row pgx.Row) (*model.Order, error) {
	var (
		o        model.Order
		status   string
		provider string
		payState string
		raw      []byte
	)
	err := row.Scan(
		&o.ID, &o.Number, &o.UserID, &o.Subtotal, &o.ShippingCost, &o.Total, &o.Currency,
		&o.ShippingAddress, &o.ContactEmail, &status, &provider,
		&o.Payment.TransactionID, &o.Payment.Method, &payState, &raw,
		&o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	o.Status = model.OrderStatus(status)
	o.Payment.Provider = model.Provider(provider)
	o.Payment.Status = model.PaymentStatus(payState)
	if len(raw) > 0 {
		o.Payment.RawPayload = json.RawMessage(raw)
	}

	return &o, nil
}

// loadDetails дочитывает позиции и историю статусов сразу для всех заказов.
func loadDetails(ctx context.Context, q querier, orders ...*model.Order) error {
	if len(orders) == 0 {
		return nil
	}

	byID := make(map[string]*model.Order, len(orders))
	ids := make([]string, 0, len(orders))
	for _, o := range orders {
		o.Items = []model.LineItem{}
		byID[o.ID] = o
		ids = append(ids, o.ID)
	}

	rows, err := q.Query(ctx, selectItemsQuery, ids)
	if err != nil {
		return fmt.Errorf("select order items: %w", err)
	}
	_, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (struct{}, error) {
		var (
			orderID string
			it      model.LineItem
		)
		if err := row.Scan(&orderID, &it.ProductID, &it.VariantID, &it.Quantity, &it.Price, &it.Name, &it.ImageURL); err != nil {
			return struct{}{}, err
		}
		if o, ok := byID[orderID]; ok {
			o.Items = append(o.Items, it)
		}
		return struct{}{}, nil
	})
	if err != nil {
		return fmt.Errorf("scan order items: %w", err)
	}

	rows, err = q.Query(ctx, selectHistoryQuery, ids)
	if err != nil {
		return fmt.Errorf("select status history: %w", err)
	}
	_, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (struct{}, error) {
		var (
			orderID string
			st, pst string
			h       model.StatusEntry
		)
		if err := row.Scan(&orderID, &st, &pst, &h.CreatedAt); err != nil {
			return struct{}{}, err
		}
		h.Status = model.OrderStatus(st)
		h.PaymentStatus = model.PaymentStatus(pst)
		if o, ok := byID[orderID]; ok {
			o.History = append(o.History, h)
		}
		return struct{}{}, nil
	})
	if err != nil {
		return fmt.Errorf("scan status history: %w", err)
	}

	return nil
}
