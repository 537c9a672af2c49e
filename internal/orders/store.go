package orders

import (
	"context"

	"github.com/ariefcatur/marketplace-orders/internal/inventory"
)

// Store is the persistence boundary of the order workflows. Everything done
// through the Tx handed to fn commits together or not at all; a non-nil
// error from fn rolls the transaction back.
type Store interface {
	InTx(ctx context.Context, fn func(Tx) error) error
	Reader
}

// Tx is the view of storage inside one transaction.
type Tx interface {
	inventory.Store

	// Address returns ErrAddressNotFound when no such address exists.
	Address(ctx context.Context, id int64) (Address, error)
	// CartForBuyer locks and returns the cart of an active buyer. A missing
	// cart or an inactive buyer is ErrEmptyCart.
	CartForBuyer(ctx context.Context, buyerID int64) (Cart, error)
	ClearCart(ctx context.Context, cartID int64) error
	Products(ctx context.Context, ids []int64) (map[int64]Product, error)

	InsertOrder(ctx context.Context, o Order) error
	// InsertOrderLines stores lines and returns them with ids assigned.
	InsertOrderLines(ctx context.Context, lines []OrderLine) ([]OrderLine, error)
	// LockOrder returns the order and blocks other writers until commit.
	LockOrder(ctx context.Context, id string) (Order, error)
	OrderLines(ctx context.Context, orderID string) ([]OrderLine, error)
	// UpdateOrderStatus changes the status only if it still equals from;
	// otherwise ErrStatusConflict.
	UpdateOrderStatus(ctx context.Context, id string, from, to Status) (Order, error)
}

type Reader interface {
	OrderDetail(ctx context.Context, id string) (OrderDetail, error)
	OrdersForBuyer(ctx context.Context, buyerID int64) ([]OrderDetail, error)
	OrdersForSeller(ctx context.Context, sellerID int64) ([]OrderDetail, error)
	AllOrders(ctx context.Context) ([]Order, error)
	OrderStatus(ctx context.Context, id string) (StatusView, error)
}

// Notifier is told about committed changes. It is best effort: errors are
// logged by the caller and never undo the change.
type Notifier interface {
	OrderPlaced(ctx context.Context, d OrderDetail) error
	OrderStatusChanged(ctx context.Context, d OrderDetail, from Status) error
}

type NopNotifier struct{}

func (NopNotifier) OrderPlaced(context.Context, OrderDetail) error { return nil }

func (NopNotifier) OrderStatusChanged(context.Context, OrderDetail, Status) error { return nil }
