package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ariefcatur/marketplace-orders/internal/inventory"
	"github.com/ariefcatur/marketplace-orders/internal/orders"
)

// querier is what both the pool and an open transaction can do.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements orders.Store on a pgx pool.
type Store struct{ DB *pgxpool.Pool }

var _ orders.Store = (*Store)(nil)

func NewStore(db *pgxpool.Pool) *Store { return &Store{DB: db} }

func (s *Store) InTx(ctx context.Context, fn func(orders.Tx) error) error {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&pgTx{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

type pgTx struct{ q querier }

const orderCols = `id::text, user_id, address_id, order_status, total, created_at, updated_at`

func scanOrder(row pgx.Row) (orders.Order, error) {
	var o orders.Order
	var status string
	err := row.Scan(&o.ID, &o.BuyerID, &o.AddressID, &status, &o.Total, &o.CreatedAt, &o.UpdatedAt)
	o.Status = orders.Status(status)
	return o, err
}

func (t *pgTx) Address(ctx context.Context, id int64) (orders.Address, error) {
	var a orders.Address
	err := t.q.QueryRow(ctx, `
		SELECT id, user_id, address, city, state, country, pincode
		FROM addresses WHERE id=$1`, id,
	).Scan(&a.ID, &a.UserID, &a.Line, &a.City, &a.State, &a.Country, &a.Pincode)
	if errors.Is(err, pgx.ErrNoRows) {
		return orders.Address{}, fmt.Errorf("address %d: %w", id, orders.ErrAddressNotFound)
	}
	return a, err
}

// CartForBuyer locks the cart row so two placements of the same cart serialize.
func (t *pgTx) CartForBuyer(ctx context.Context, buyerID int64) (orders.Cart, error) {
	c := orders.Cart{BuyerID: buyerID}
	err := t.q.QueryRow(ctx, `
		SELECT c.id FROM carts c
		JOIN users u ON u.id = c.user_id
		WHERE c.user_id=$1 AND u.is_active
		FOR UPDATE OF c`, buyerID,
	).Scan(&c.ID)
	if errors.Is(err, pgx.ErrNoRows) {
		return orders.Cart{}, fmt.Errorf("buyer %d: %w", buyerID, orders.ErrEmptyCart)
	}
	if err != nil {
		return orders.Cart{}, err
	}

	rows, err := t.q.Query(ctx, `
		SELECT cart_id, product_id, quantity FROM cart_items
		WHERE cart_id=$1 ORDER BY product_id`, c.ID)
	if err != nil {
		return orders.Cart{}, err
	}
	c.Lines, err = pgx.CollectRows(rows, func(r pgx.CollectableRow) (orders.CartLine, error) {
		var ln orders.CartLine
		err := r.Scan(&ln.CartID, &ln.ProductID, &ln.Quantity)
		return ln, err
	})
	return c, err
}

func (t *pgTx) ClearCart(ctx context.Context, cartID int64) error {
	_, err := t.q.Exec(ctx, `DELETE FROM cart_items WHERE cart_id=$1`, cartID)
	return err
}

func (t *pgTx) Products(ctx context.Context, ids []int64) (map[int64]orders.Product, error) {
	return products(ctx, t.q, ids)
}

func products(ctx context.Context, q querier, ids []int64) (map[int64]orders.Product, error) {
	rows, err := q.Query(ctx, `
		SELECT id, user_id, name, price, discounted_price, stock
		FROM products WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int64]orders.Product, len(ids))
	for rows.Next() {
		var p orders.Product
		if err := rows.Scan(&p.ID, &p.SellerID, &p.Name, &p.Price, &p.DiscountedPrice, &p.Stock); err != nil {
			return nil, err
		}
		out[p.ID] = p
	}
	return out, rows.Err()
}

func (t *pgTx) InsertOrder(ctx context.Context, o orders.Order) error {
	id, err := uuid.Parse(o.ID)
	if err != nil {
		return fmt.Errorf("order id %q: %w", o.ID, err)
	}
	_, err = t.q.Exec(ctx, `
		INSERT INTO orders(id, user_id, address_id, order_status, total, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		id, o.BuyerID, o.AddressID, string(o.Status), o.Total, o.CreatedAt, o.UpdatedAt,
	)
	return err
}

func (t *pgTx) InsertOrderLines(ctx context.Context, lines []orders.OrderLine) ([]orders.OrderLine, error) {
	out := make([]orders.OrderLine, len(lines))
	for i, ln := range lines {
		if ln.Quantity <= 0 {
			return nil, fmt.Errorf("order line product %d: %w", ln.ProductID, inventory.ErrInvalidQuantity)
		}
		id, err := uuid.Parse(ln.OrderID)
		if err != nil {
			return nil, fmt.Errorf("order id %q: %w", ln.OrderID, err)
		}
		err = t.q.QueryRow(ctx, `
			INSERT INTO order_items(order_id, product_id, quantity, unit_price)
			VALUES ($1, $2, $3, $4)
			RETURNING id`,
			id, ln.ProductID, ln.Quantity, ln.UnitPrice,
		).Scan(&ln.ID)
		if err != nil {
			return nil, fmt.Errorf("insert line product %d: %w", ln.ProductID, err)
		}
		out[i] = ln
	}
	return out, nil
}

// LockOrder holds the order row until commit so transitions of one order
// run one after another.
func (t *pgTx) LockOrder(ctx context.Context, id string) (orders.Order, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return orders.Order{}, fmt.Errorf("order %q: %w", id, orders.ErrOrderNotFound)
	}
	o, err := scanOrder(t.q.QueryRow(ctx, `SELECT `+orderCols+` FROM orders WHERE id=$1 FOR UPDATE`, uid))
	if errors.Is(err, pgx.ErrNoRows) {
		return orders.Order{}, fmt.Errorf("order %s: %w", id, orders.ErrOrderNotFound)
	}
	return o, err
}

func (t *pgTx) OrderLines(ctx context.Context, orderID string) ([]orders.OrderLine, error) {
	uid, err := uuid.Parse(orderID)
	if err != nil {
		return nil, fmt.Errorf("order %q: %w", orderID, orders.ErrOrderNotFound)
	}
	rows, err := t.q.Query(ctx, `
		SELECT id, order_id::text, product_id, quantity, unit_price
		FROM order_items WHERE order_id=$1 ORDER BY product_id`, uid)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(r pgx.CollectableRow) (orders.OrderLine, error) {
		var ln orders.OrderLine
		err := r.Scan(&ln.ID, &ln.OrderID, &ln.ProductID, &ln.Quantity, &ln.UnitPrice)
		return ln, err
	})
}

func (t *pgTx) UpdateOrderStatus(ctx context.Context, id string, from, to orders.Status) (orders.Order, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return orders.Order{}, fmt.Errorf("order %q: %w", id, orders.ErrOrderNotFound)
	}
	o, err := scanOrder(t.q.QueryRow(ctx, `
		UPDATE orders SET order_status=$3, updated_at=now()
		WHERE id=$1 AND order_status=$2
		RETURNING `+orderCols, uid, string(from), string(to)))
	if errors.Is(err, pgx.ErrNoRows) {
		return orders.Order{}, fmt.Errorf("order %s is no longer %s: %w", id, from, orders.ErrStatusConflict)
	}
	return o, err
}

// AdjustStock applies delta in one conditional UPDATE; the row lock it takes
// is what serializes concurrent orders on the same product.
func (t *pgTx) AdjustStock(ctx context.Context, productID int64, delta int) error {
	ct, err := t.q.Exec(ctx, `
		UPDATE products SET stock = stock + $2, updated_at = now()
		WHERE id=$1 AND stock + $2 >= 0`, productID, delta)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 1 {
		return nil
	}

	var available int
	err = t.q.QueryRow(ctx, `SELECT stock FROM products WHERE id=$1`, productID).Scan(&available)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("product %d: %w", productID, inventory.ErrProductNotFound)
	}
	if err != nil {
		return err
	}
	return &inventory.InsufficientStockError{ProductID: productID, Requested: -delta, Available: available}
}

func (t *pgTx) RecordMovement(ctx context.Context, m inventory.Movement) error {
	id, err := uuid.Parse(m.ID)
	if err != nil {
		return fmt.Errorf("movement id %q: %w", m.ID, err)
	}
	orderID, err := uuid.Parse(m.OrderID)
	if err != nil {
		return fmt.Errorf("movement order id %q: %w", m.OrderID, err)
	}
	_, err = t.q.Exec(ctx, `
		INSERT INTO inventory_movements(id, product_id, order_id, delta, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		id, m.ProductID, orderID, m.Delta, m.Reason, m.CreatedAt,
	)
	return err
}
