package orders

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

const (
	EventOrderPlaced        = "OrderPlaced"
	EventOrderStatusChanged = "OrderStatusChanged"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order id
	Payload       json.RawMessage `json:"payload"`
}

type Party struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type SummaryLine struct {
	ProductID   int64           `json:"product_id"`
	ProductName string          `json:"product_name"`
	SellerID    int64           `json:"seller_id"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Subtotal    decimal.Decimal `json:"subtotal"`
}

// OrderSummary is the self-contained picture of an order carried by events,
// so consumers never query the order database.
type OrderSummary struct {
	OrderID   string          `json:"order_id"`
	Status    Status          `json:"status"`
	Total     decimal.Decimal `json:"total"`
	CreatedAt time.Time       `json:"created_at"`
	Lines     []SummaryLine   `json:"lines"`
	Address   Address         `json:"address"`
	Buyer     Party           `json:"buyer"`
	Sellers   []Party         `json:"sellers"`
}

type OrderPlacedPayload struct {
	Order OrderSummary `json:"order"`
}

type OrderStatusChangedPayload struct {
	From  Status       `json:"from"`
	To    Status       `json:"to"`
	Order OrderSummary `json:"order"`
}

func NewOrderSummary(d OrderDetail) OrderSummary {
	s := OrderSummary{
		OrderID:   d.ID,
		Status:    d.Status,
		Total:     d.Total,
		CreatedAt: d.CreatedAt,
		Address:   d.Address,
		Buyer:     Party{ID: d.Buyer.ID, Name: d.Buyer.Name, Email: d.Buyer.Email},
	}
	for _, ln := range d.Lines {
		s.Lines = append(s.Lines, SummaryLine{
			ProductID:   ln.ProductID,
			ProductName: ln.Product.Name,
			SellerID:    ln.Product.SellerID,
			Quantity:    ln.Quantity,
			UnitPrice:   ln.UnitPrice,
			Subtotal:    ln.Subtotal(),
		})
	}
	for _, u := range d.Sellers {
		s.Sellers = append(s.Sellers, Party{ID: u.ID, Name: u.Name, Email: u.Email})
	}
	return s
}
