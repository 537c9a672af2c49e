package inventory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrProductNotFound   = errors.New("product not found")
	ErrInvalidQuantity   = errors.New("invalid quantity")
)

const (
	ReasonOrderPlaced    = "order_placed"
	ReasonOrderCancelled = "order_cancelled"
)

// Store is the slice of a transaction the ledger writes through. AdjustStock
// must apply stock = stock + delta as one conditional statement and fail with
// ErrInsufficientStock when the result would be negative.
type Store interface {
	AdjustStock(ctx context.Context, productID int64, delta int) error
	RecordMovement(ctx context.Context, m Movement) error
}

type Line struct {
	ProductID int64
	Quantity  int
}

// Movement journals one stock adjustment caused by an order.
type Movement struct {
	ID        string    `json:"id"`
	ProductID int64     `json:"product_id"`
	OrderID   string    `json:"order_id"`
	Delta     int       `json:"delta"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}

type Ledger struct {
	now   func() time.Time
	units metric.Int64Counter
}

func NewLedger() *Ledger {
	units, _ := otel.Meter("inventory").Int64Counter("inventory.units_adjusted",
		metric.WithDescription("stock units moved by the ledger"))
	return &Ledger{now: time.Now, units: units}
}

// Consume takes stock for every line. Any failing line fails the call; the
// caller's transaction is expected to roll back what was already applied.
func (l *Ledger) Consume(ctx context.Context, st Store, orderID string, lines []Line) error {
	return l.applyAll(ctx, st, orderID, lines, -1, ReasonOrderPlaced)
}

// Restock gives back exactly the quantities on lines.
func (l *Ledger) Restock(ctx context.Context, st Store, orderID string, lines []Line) error {
	return l.applyAll(ctx, st, orderID, lines, 1, ReasonOrderCancelled)
}

func (l *Ledger) Adjust(ctx context.Context, st Store, productID int64, delta int, orderID, reason string) error {
	if delta == 0 {
		return fmt.Errorf("product %d: %w: zero delta", productID, ErrInvalidQuantity)
	}
	if err := st.AdjustStock(ctx, productID, delta); err != nil {
		return fmt.Errorf("adjust stock product %d by %d: %w", productID, delta, err)
	}
	err := st.RecordMovement(ctx, Movement{
		ID:        uuid.NewString(),
		ProductID: productID,
		OrderID:   orderID,
		Delta:     delta,
		Reason:    reason,
		CreatedAt: l.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("record movement product %d: %w", productID, err)
	}
	if l.units != nil {
		l.units.Add(ctx, int64(abs(delta)), metric.WithAttributes(attribute.String("reason", reason)))
	}
	return nil
}

func (l *Ledger) applyAll(ctx context.Context, st Store, orderID string, lines []Line, sign int, reason string) error {
	merged, err := Merge(lines)
	if err != nil {
		return err
	}
	for _, ln := range merged {
		if err := l.Adjust(ctx, st, ln.ProductID, sign*ln.Quantity, orderID, reason); err != nil {
			return err
		}
	}
	return nil
}

// Merge folds lines for the same product together and sorts them by product
// id, so concurrent transactions touch product rows in the same order.
func Merge(lines []Line) ([]Line, error) {
	byID := make(map[int64]int, len(lines))
	for _, ln := range lines {
		if ln.Quantity <= 0 {
			return nil, fmt.Errorf("product %d: %w: %d", ln.ProductID, ErrInvalidQuantity, ln.Quantity)
		}
		byID[ln.ProductID] += ln.Quantity
	}
	out := make([]Line, 0, len(byID))
	for id, qty := range byID {
		out = append(out, Line{ProductID: id, Quantity: qty})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}

// InsufficientStockError carries the numbers behind ErrInsufficientStock.
type InsufficientStockError struct {
	ProductID int64
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %d: requested %d, available %d", e.ProductID, e.Requested, e.Available)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
