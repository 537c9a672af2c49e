package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ariefcatur/marketplace-orders/internal/inventory"
)

const notifyTimeout = 3 * time.Second

// Service runs order placement and status transitions.
type Service struct {
	store    Store
	ledger   *inventory.Ledger
	notifier Notifier
	log      *slog.Logger
	tracer   trace.Tracer
	metrics  *serviceMetrics
	now      func() time.Time
	newID    func() string
}

type Option func(*Service)

func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithIDGenerator(f func() string) Option {
	return func(s *Service) { s.newID = f }
}

func NewService(log *slog.Logger, store Store, ledger *inventory.Ledger, opts ...Option) *Service {
	s := &Service{
		store:    store,
		ledger:   ledger,
		notifier: NopNotifier{},
		log:      log,
		tracer:   otel.Tracer("orders"),
		metrics:  newServiceMetrics(),
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

type PlaceOrderInput struct {
	BuyerID   int64
	AddressID int64
}

// PlaceOrder turns the buyer's cart into a PENDING order. Order, lines, stock
// decrements and the cart clear share one transaction.
func (s *Service) PlaceOrder(ctx context.Context, actor Actor, in PlaceOrderInput) (Order, error) {
	ctx, span := s.tracer.Start(ctx, "orders.PlaceOrder", trace.WithAttributes(
		attribute.Int64("buyer_id", in.BuyerID),
		attribute.Int64("address_id", in.AddressID),
	))
	defer span.End()

	if actor.ID != in.BuyerID {
		err := fmt.Errorf("%w: token does not belong to user %d", ErrForbidden, in.BuyerID)
		return Order{}, s.placementFailed(ctx, span, in, err)
	}

	var placed Order
	var lineCount int
	err := s.store.InTx(ctx, func(tx Tx) error {
		addr, err := tx.Address(ctx, in.AddressID)
		if err != nil {
			return err
		}
		if addr.UserID != in.BuyerID {
			return ErrAddressOwnershipMismatch
		}

		cart, err := tx.CartForBuyer(ctx, in.BuyerID)
		if err != nil {
			return err
		}
		if len(cart.Lines) == 0 {
			return ErrEmptyCart
		}

		ids := make([]int64, 0, len(cart.Lines))
		for _, cl := range cart.Lines {
			ids = append(ids, cl.ProductID)
		}
		products, err := tx.Products(ctx, ids)
		if err != nil {
			return fmt.Errorf("load products: %w", err)
		}

		now := s.now().UTC()
		order := Order{
			ID:        s.newID(),
			BuyerID:   in.BuyerID,
			AddressID: in.AddressID,
			Status:    InitialStatus,
			CreatedAt: now,
			UpdatedAt: now,
		}
		lines := make([]OrderLine, 0, len(cart.Lines))
		for _, cl := range cart.Lines {
			p, ok := products[cl.ProductID]
			if !ok {
				return fmt.Errorf("cart product %d: %w", cl.ProductID, ErrProductNotFound)
			}
			if cl.Quantity <= 0 {
				return fmt.Errorf("cart product %d: %w: %d", cl.ProductID, inventory.ErrInvalidQuantity, cl.Quantity)
			}
			lines = append(lines, OrderLine{
				OrderID:   order.ID,
				ProductID: cl.ProductID,
				Quantity:  cl.Quantity,
				UnitPrice: p.UnitPrice(),
			})
		}
		order.Total = orderTotal(lines)

		if err := tx.InsertOrder(ctx, order); err != nil {
			return fmt.Errorf("insert order: %w", err)
		}
		if _, err := tx.InsertOrderLines(ctx, lines); err != nil {
			return fmt.Errorf("insert order lines: %w", err)
		}
		if err := s.ledger.Consume(ctx, tx, order.ID, ledgerLines(lines)); err != nil {
			return err
		}
		if err := tx.ClearCart(ctx, cart.ID); err != nil {
			return fmt.Errorf("clear cart %d: %w", cart.ID, err)
		}

		placed = order
		lineCount = len(lines)
		return nil
	})
	if err != nil {
		return Order{}, s.placementFailed(ctx, span, in, err)
	}

	span.SetAttributes(attribute.String("order_id", placed.ID))
	s.metrics.placed.Add(ctx, 1)
	s.log.Info("order placed",
		"order_id", placed.ID,
		"buyer_id", placed.BuyerID,
		"lines", lineCount,
		"total", placed.Total.StringFixed(2),
	)

	s.notify(ctx, placed.ID, func(ctx context.Context, d OrderDetail) error {
		return s.notifier.OrderPlaced(ctx, d)
	})
	return placed, nil
}

// TransitionStatus moves an order along the status table. Landing on
// CANCELLED restocks every line in the same transaction.
func (s *Service) TransitionStatus(ctx context.Context, actor Actor, orderID string, to Status) (Order, error) {
	ctx, span := s.tracer.Start(ctx, "orders.TransitionStatus", trace.WithAttributes(
		attribute.String("order_id", orderID),
		attribute.String("to", string(to)),
	))
	defer span.End()

	var updated Order
	var from Status
	err := s.store.InTx(ctx, func(tx Tx) error {
		o, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		lines, err := tx.OrderLines(ctx, o.ID)
		if err != nil {
			return fmt.Errorf("load order lines: %w", err)
		}
		ids := make([]int64, 0, len(lines))
		for _, ln := range lines {
			ids = append(ids, ln.ProductID)
		}
		products, err := tx.Products(ctx, ids)
		if err != nil {
			return fmt.Errorf("load products: %w", err)
		}

		roles := partyRoles(actor, o, sellersOf(lines, products))
		if len(roles) == 0 {
			return fmt.Errorf("%w: user %d is not a party to order %s", ErrForbidden, actor.ID, o.ID)
		}
		if err := CheckTransition(o.Status, to); err != nil {
			return err
		}
		if !anyRoleMay(roles, o.Status, to) {
			return fmt.Errorf("%w: %s may not move order %s -> %s", ErrForbidden, actor.Role, o.Status, to)
		}

		updated, err = tx.UpdateOrderStatus(ctx, o.ID, o.Status, to)
		if err != nil {
			return err
		}
		if to == StatusCancelled {
			if err := s.ledger.Restock(ctx, tx, o.ID, ledgerLines(lines)); err != nil {
				return fmt.Errorf("restock cancelled order: %w", err)
			}
		}
		from = o.Status
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, reason(err))
		s.log.Warn("order status transition rejected",
			"order_id", orderID, "to", to, "actor_id", actor.ID, "err", err)
		return Order{}, err
	}

	s.metrics.transitions.Add(ctx, 1, metricAttrs("from", string(from), "to", string(to)))
	s.log.Info("order status changed", "order_id", updated.ID, "from", from, "to", updated.Status, "actor_id", actor.ID)

	s.notify(ctx, updated.ID, func(ctx context.Context, d OrderDetail) error {
		return s.notifier.OrderStatusChanged(ctx, d, from)
	})
	return updated, nil
}

// OrdersFor lists orders of userID: the seller view when a seller asks for
// their own orders, the buyer view otherwise.
func (s *Service) OrdersFor(ctx context.Context, actor Actor, userID int64) ([]OrderDetail, error) {
	if actor.ID != userID && actor.Role != RoleAdmin {
		return nil, fmt.Errorf("%w: token does not belong to user %d", ErrForbidden, userID)
	}
	if actor.ID == userID && actor.Role == RoleSeller {
		return s.store.OrdersForSeller(ctx, userID)
	}
	return s.store.OrdersForBuyer(ctx, userID)
}

func (s *Service) AllOrders(ctx context.Context, actor Actor) ([]Order, error) {
	if actor.Role != RoleAdmin {
		return nil, fmt.Errorf("%w: listing all orders requires admin", ErrForbidden)
	}
	return s.store.AllOrders(ctx)
}

func (s *Service) OrderLines(ctx context.Context, actor Actor, orderID string) ([]LineDetail, error) {
	d, err := s.store.OrderDetail(ctx, orderID)
	if err != nil {
		return nil, err
	}
	products := make(map[int64]Product, len(d.Lines))
	lines := make([]OrderLine, 0, len(d.Lines))
	for _, ln := range d.Lines {
		products[ln.ProductID] = ln.Product
		lines = append(lines, ln.OrderLine)
	}
	if len(partyRoles(actor, d.Order, sellersOf(lines, products))) == 0 {
		return nil, fmt.Errorf("%w: user %d is not a party to order %s", ErrForbidden, actor.ID, orderID)
	}
	return d.Lines, nil
}

func (s *Service) OrderStatus(ctx context.Context, actor Actor, orderID string) (StatusView, error) {
	v, err := s.store.OrderStatus(ctx, orderID)
	if err != nil {
		return StatusView{}, err
	}
	if !v.VisibleTo(actor) {
		return StatusView{}, fmt.Errorf("%w: user %d is not a party to order %s", ErrForbidden, actor.ID, orderID)
	}
	return v, nil
}

func (s *Service) placementFailed(ctx context.Context, span trace.Span, in PlaceOrderInput, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, reason(err))
	s.metrics.placementFailures.Add(ctx, 1, metricAttrs("reason", reason(err)))
	s.log.Warn("order placement failed",
		"buyer_id", in.BuyerID, "address_id", in.AddressID, "reason", reason(err), "err", err)
	return err
}

// notify runs after commit; it must never fail the operation.
func (s *Service) notify(ctx context.Context, orderID string, send func(context.Context, OrderDetail) error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()

	d, err := s.store.OrderDetail(ctx, orderID)
	if err == nil {
		err = send(ctx, d)
	}
	if err != nil {
		s.log.Warn("order notification failed", "order_id", orderID, "err", err)
	}
}

// partyRoles lists the capacities in which actor takes part in the order.
func partyRoles(actor Actor, o Order, sellers map[int64]bool) []Role {
	var roles []Role
	if actor.Role == RoleAdmin {
		roles = append(roles, RoleAdmin)
	}
	if actor.Role == RoleSeller && sellers[actor.ID] {
		roles = append(roles, RoleSeller)
	}
	if actor.ID == o.BuyerID {
		roles = append(roles, RoleBuyer)
	}
	return roles
}

func anyRoleMay(roles []Role, from, to Status) bool {
	for _, r := range roles {
		if RoleMayTransition(r, from, to) {
			return true
		}
	}
	return false
}

func sellersOf(lines []OrderLine, products map[int64]Product) map[int64]bool {
	out := make(map[int64]bool, len(lines))
	for _, ln := range lines {
		if p, ok := products[ln.ProductID]; ok {
			out[p.SellerID] = true
		}
	}
	return out
}

func ledgerLines(lines []OrderLine) []inventory.Line {
	out := make([]inventory.Line, 0, len(lines))
	for _, ln := range lines {
		out = append(out, inventory.Line{ProductID: ln.ProductID, Quantity: ln.Quantity})
	}
	return out
}

func reason(err error) string {
	switch {
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrAddressNotFound):
		return "address_not_found"
	case errors.Is(err, ErrAddressOwnershipMismatch):
		return "address_ownership_mismatch"
	case errors.Is(err, ErrEmptyCart):
		return "empty_cart"
	case errors.Is(err, ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, ErrOrderNotFound):
		return "order_not_found"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrStatusConflict):
		return "status_conflict"
	default:
		return "internal"
	}
}
