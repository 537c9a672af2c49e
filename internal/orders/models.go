package orders

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Role string

const (
	RoleBuyer  Role = "BUYER"
	RoleSeller Role = "SELLER"
	RoleAdmin  Role = "ADMIN"
)

func ParseRole(s string) (Role, bool) {
	r := Role(strings.ToUpper(strings.TrimSpace(s)))
	switch r {
	case RoleBuyer, RoleSeller, RoleAdmin:
		return r, true
	}
	return "", false
}

// Actor is the authenticated caller of an operation.
type Actor struct {
	ID   int64
	Role Role
}

type User struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Role   Role   `json:"role"`
	Active bool   `json:"is_active"`
}

type Address struct {
	ID      int64  `json:"id"`
	UserID  int64  `json:"user_id"`
	Line    string `json:"address"`
	City    string `json:"city"`
	State   string `json:"state"`
	Country string `json:"country"`
	Pincode string `json:"pincode"`
}

type Product struct {
	ID              int64           `json:"id"`
	SellerID        int64           `json:"user_id"`
	Name            string          `json:"name"`
	Price           decimal.Decimal `json:"price"`
	DiscountedPrice decimal.Decimal `json:"discounted_price"`
	Stock           int             `json:"stock"`
}

// UnitPrice is what a buyer pays for one unit right now.
func (p Product) UnitPrice() decimal.Decimal {
	if p.DiscountedPrice.IsPositive() {
		return p.DiscountedPrice
	}
	return p.Price
}

type CartLine struct {
	CartID    int64 `json:"cart_id"`
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

type Cart struct {
	ID      int64      `json:"id"`
	BuyerID int64      `json:"user_id"`
	Lines   []CartLine `json:"cart_items"`
}

type Order struct {
	ID        string          `json:"id"`
	BuyerID   int64           `json:"user_id"`
	AddressID int64           `json:"address_id"`
	Status    Status          `json:"order_status"`
	Total     decimal.Decimal `json:"total"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// OrderLine keeps the unit price captured when the order was placed.
type OrderLine struct {
	ID        int64           `json:"id"`
	OrderID   string          `json:"order_id"`
	ProductID int64           `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

func (l OrderLine) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

type LineDetail struct {
	OrderLine
	Product Product `json:"product"`
}

// OrderDetail is an order with everything needed to show or mail it.
type OrderDetail struct {
	Order
	Lines   []LineDetail `json:"order_items"`
	Address Address      `json:"address"`
	Buyer   User         `json:"user"`
	Sellers []User       `json:"-"`
}

// SellerIDs returns the distinct owners of the products on the order.
func (d OrderDetail) SellerIDs() []int64 {
	seen := map[int64]bool{}
	var out []int64
	for _, ln := range d.Lines {
		if !seen[ln.Product.SellerID] {
			seen[ln.Product.SellerID] = true
			out = append(out, ln.Product.SellerID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// StatusView is an order's current status together with the parties allowed
// to read it.
type StatusView struct {
	OrderID   string    `json:"order_id"`
	Status    Status    `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
	BuyerID   int64     `json:"user_id"`
	SellerIDs []int64   `json:"seller_ids"`
}

// VisibleTo applies the same party rule as the order lines read.
func (v StatusView) VisibleTo(a Actor) bool {
	sellers := make(map[int64]bool, len(v.SellerIDs))
	for _, id := range v.SellerIDs {
		sellers[id] = true
	}
	return len(partyRoles(a, Order{BuyerID: v.BuyerID}, sellers)) > 0
}

func orderTotal(lines []OrderLine) decimal.Decimal {
	total := decimal.Zero
	for _, ln := range lines {
		total = total.Add(ln.Subtotal())
	}
	return total
}
