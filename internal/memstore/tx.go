package memstore

import (
	"context"
	"fmt"

	"github.com/ariefcatur/marketplace-orders/internal/inventory"
	"github.com/ariefcatur/marketplace-orders/internal/orders"
)

type tx struct {
	st    *state
	store *Store
}

// fail is read under Store.mu, which InTx holds for the whole transaction.
func (t *tx) fail(method string) error {
	return t.store.failures[method]
}

func (t *tx) Address(_ context.Context, id int64) (orders.Address, error) {
	if err := t.fail("Address"); err != nil {
		return orders.Address{}, err
	}
	a, ok := t.st.addresses[id]
	if !ok {
		return orders.Address{}, fmt.Errorf("address %d: %w", id, orders.ErrAddressNotFound)
	}
	return a, nil
}

func (t *tx) CartForBuyer(_ context.Context, buyerID int64) (orders.Cart, error) {
	if err := t.fail("CartForBuyer"); err != nil {
		return orders.Cart{}, err
	}
	u, ok := t.st.users[buyerID]
	if !ok || !u.Active {
		return orders.Cart{}, fmt.Errorf("buyer %d has no active account: %w", buyerID, orders.ErrEmptyCart)
	}
	c, ok := cartOf(t.st, buyerID)
	if !ok {
		return orders.Cart{}, fmt.Errorf("buyer %d has no cart: %w", buyerID, orders.ErrEmptyCart)
	}
	c.Lines = append([]orders.CartLine(nil), c.Lines...)
	return c, nil
}

func (t *tx) ClearCart(_ context.Context, cartID int64) error {
	if err := t.fail("ClearCart"); err != nil {
		return err
	}
	c, ok := t.st.carts[cartID]
	if !ok {
		return fmt.Errorf("cart %d not found", cartID)
	}
	c.Lines = nil
	t.st.carts[cartID] = c
	return nil
}

func (t *tx) Products(_ context.Context, ids []int64) (map[int64]orders.Product, error) {
	if err := t.fail("Products"); err != nil {
		return nil, err
	}
	out := make(map[int64]orders.Product, len(ids))
	for _, id := range ids {
		if p, ok := t.st.products[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (t *tx) InsertOrder(_ context.Context, o orders.Order) error {
	if err := t.fail("InsertOrder"); err != nil {
		return err
	}
	if _, dup := t.st.orders[o.ID]; dup {
		return fmt.Errorf("order %s already exists", o.ID)
	}
	t.st.orders[o.ID] = o
	return nil
}

func (t *tx) InsertOrderLines(_ context.Context, lines []orders.OrderLine) ([]orders.OrderLine, error) {
	if err := t.fail("InsertOrderLines"); err != nil {
		return nil, err
	}
	out := make([]orders.OrderLine, 0, len(lines))
	for _, ln := range lines {
		if _, ok := t.st.orders[ln.OrderID]; !ok {
			return nil, fmt.Errorf("order line references missing order %s", ln.OrderID)
		}
		if ln.Quantity <= 0 {
			return nil, fmt.Errorf("order line product %d: %w", ln.ProductID, inventory.ErrInvalidQuantity)
		}
		for _, existing := range t.st.lines[ln.OrderID] {
			if existing.ProductID == ln.ProductID {
				return nil, fmt.Errorf("order %s already has product %d", ln.OrderID, ln.ProductID)
			}
		}
		ln.ID = t.st.nextID()
		t.st.lines[ln.OrderID] = append(t.st.lines[ln.OrderID], ln)
		out = append(out, ln)
	}
	return out, nil
}

func (t *tx) LockOrder(_ context.Context, id string) (orders.Order, error) {
	if err := t.fail("LockOrder"); err != nil {
		return orders.Order{}, err
	}
	o, ok := t.st.orders[id]
	if !ok {
		return orders.Order{}, fmt.Errorf("order %s: %w", id, orders.ErrOrderNotFound)
	}
	return o, nil
}

func (t *tx) OrderLines(_ context.Context, orderID string) ([]orders.OrderLine, error) {
	if err := t.fail("OrderLines"); err != nil {
		return nil, err
	}
	return append([]orders.OrderLine(nil), t.st.lines[orderID]...), nil
}

func (t *tx) UpdateOrderStatus(_ context.Context, id string, from, to orders.Status) (orders.Order, error) {
	if err := t.fail("UpdateOrderStatus"); err != nil {
		return orders.Order{}, err
	}
	o, ok := t.st.orders[id]
	if !ok {
		return orders.Order{}, fmt.Errorf("order %s: %w", id, orders.ErrOrderNotFound)
	}
	if o.Status != from {
		return orders.Order{}, fmt.Errorf("order %s is %s, expected %s: %w", id, o.Status, from, orders.ErrStatusConflict)
	}
	o.Status = to
	o.UpdatedAt = t.store.now().UTC()
	t.st.orders[id] = o
	return o, nil
}

func (t *tx) AdjustStock(_ context.Context, productID int64, delta int) error {
	if err := t.fail("AdjustStock"); err != nil {
		return err
	}
	p, ok := t.st.products[productID]
	if !ok {
		return fmt.Errorf("product %d: %w", productID, inventory.ErrProductNotFound)
	}
	if p.Stock+delta < 0 {
		return &inventory.InsufficientStockError{ProductID: productID, Requested: -delta, Available: p.Stock}
	}
	p.Stock += delta
	t.st.products[productID] = p
	return nil
}

func (t *tx) RecordMovement(_ context.Context, m inventory.Movement) error {
	if err := t.fail("RecordMovement"); err != nil {
		return err
	}
	t.st.movements = append(t.st.movements, m)
	return nil
}
