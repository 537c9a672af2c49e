// Package memstore keeps the marketplace tables in process memory. One
// transaction runs at a time; a transaction works on a private copy of the
// tables that replaces the shared copy only when it commits.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ariefcatur/marketplace-orders/internal/inventory"
	"github.com/ariefcatur/marketplace-orders/internal/orders"
)

type Store struct {
	mu       sync.Mutex
	st       *state
	failures map[string]error
	now      func() time.Time
}

var _ orders.Store = (*Store)(nil)

type state struct {
	users     map[int64]orders.User
	addresses map[int64]orders.Address
	products  map[int64]orders.Product
	carts     map[int64]orders.Cart
	orders    map[string]orders.Order
	lines     map[string][]orders.OrderLine
	movements []inventory.Movement
	seq       int64
}

func New() *Store {
	return &Store{
		st: &state{
			users:     map[int64]orders.User{},
			addresses: map[int64]orders.Address{},
			products:  map[int64]orders.Product{},
			carts:     map[int64]orders.Cart{},
			orders:    map[string]orders.Order{},
			lines:     map[string][]orders.OrderLine{},
		},
		failures: map[string]error{},
		now:      time.Now,
	}
}

func (s *state) clone() *state {
	c := &state{
		users:     make(map[int64]orders.User, len(s.users)),
		addresses: make(map[int64]orders.Address, len(s.addresses)),
		products:  make(map[int64]orders.Product, len(s.products)),
		carts:     make(map[int64]orders.Cart, len(s.carts)),
		orders:    make(map[string]orders.Order, len(s.orders)),
		lines:     make(map[string][]orders.OrderLine, len(s.lines)),
		movements: append([]inventory.Movement(nil), s.movements...),
		seq:       s.seq,
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.addresses {
		c.addresses[k] = v
	}
	for k, v := range s.products {
		c.products[k] = v
	}
	for k, v := range s.carts {
		v.Lines = append([]orders.CartLine(nil), v.Lines...)
		c.carts[k] = v
	}
	for k, v := range s.orders {
		c.orders[k] = v
	}
	for k, v := range s.lines {
		c.lines[k] = append([]orders.OrderLine(nil), v...)
	}
	return c
}

func (s *state) nextID() int64 {
	s.seq++
	return s.seq
}

// FailOn makes every later call of the named Tx method fail with err, e.g.
// FailOn("AdjustStock", err). A nil err removes the failure.
func (s *Store) FailOn(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, method)
		return
	}
	s.failures[method] = err
}

func (s *Store) InTx(ctx context.Context, fn func(orders.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.st.clone()
	if err := fn(&tx{st: work, store: s}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.st = work
	return nil
}

// Seeding and inspection helpers.

func (s *Store) PutUser(u orders.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.users[u.ID] = u
}

func (s *Store) PutAddress(a orders.Address) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.addresses[a.ID] = a
}

func (s *Store) PutProduct(p orders.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.products[p.ID] = p
}

// PutCart replaces the buyer's cart lines and returns the cart id.
func (s *Store) PutCart(buyerID int64, lines ...orders.CartLine) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := cartOf(s.st, buyerID)
	if !ok {
		c = orders.Cart{ID: s.st.nextID(), BuyerID: buyerID}
	}
	c.Lines = nil
	for _, ln := range lines {
		ln.CartID = c.ID
		c.Lines = append(c.Lines, ln)
	}
	s.st.carts[c.ID] = c
	return c.ID
}

func (s *Store) Product(id int64) (orders.Product, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.st.products[id]
	return p, ok
}

func (s *Store) Cart(buyerID int64) (orders.Cart, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := cartOf(s.st, buyerID)
	c.Lines = append([]orders.CartLine(nil), c.Lines...)
	return c, ok
}

func (s *Store) OrderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.st.orders)
}

func (s *Store) LineCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, ls := range s.st.lines {
		n += len(ls)
	}
	return n
}

func (s *Store) Movements() []inventory.Movement {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]inventory.Movement(nil), s.st.movements...)
}

// Reader.

func (s *Store) OrderDetail(_ context.Context, id string) (orders.OrderDetail, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.st.orders[id]
	if !ok {
		return orders.OrderDetail{}, fmt.Errorf("order %s: %w", id, orders.ErrOrderNotFound)
	}
	return detailOf(s.st, o), nil
}

func (s *Store) OrdersForBuyer(_ context.Context, buyerID int64) ([]orders.OrderDetail, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []orders.OrderDetail
	for _, o := range sortedOrders(s.st) {
		if o.BuyerID == buyerID {
			out = append(out, detailOf(s.st, o))
		}
	}
	return out, nil
}

func (s *Store) OrdersForSeller(_ context.Context, sellerID int64) ([]orders.OrderDetail, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []orders.OrderDetail
	for _, o := range sortedOrders(s.st) {
		for _, ln := range s.st.lines[o.ID] {
			if s.st.products[ln.ProductID].SellerID == sellerID {
				out = append(out, detailOf(s.st, o))
				break
			}
		}
	}
	return out, nil
}

func (s *Store) AllOrders(context.Context) ([]orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedOrders(s.st), nil
}

func (s *Store) OrderStatus(_ context.Context, id string) (orders.StatusView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.st.orders[id]
	if !ok {
		return orders.StatusView{}, fmt.Errorf("order %s: %w", id, orders.ErrOrderNotFound)
	}
	return orders.StatusView{
		OrderID:   o.ID,
		Status:    o.Status,
		UpdatedAt: o.UpdatedAt,
		BuyerID:   o.BuyerID,
		SellerIDs: detailOf(s.st, o).SellerIDs(),
	}, nil
}

func cartOf(st *state, buyerID int64) (orders.Cart, bool) {
	for _, c := range st.carts {
		if c.BuyerID == buyerID {
			return c, true
		}
	}
	return orders.Cart{}, false
}

func sortedOrders(st *state) []orders.Order {
	out := make([]orders.Order, 0, len(st.orders))
	for _, o := range st.orders {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func detailOf(st *state, o orders.Order) orders.OrderDetail {
	d := orders.OrderDetail{
		Order:   o,
		Address: st.addresses[o.AddressID],
		Buyer:   st.users[o.BuyerID],
	}
	for _, ln := range st.lines[o.ID] {
		d.Lines = append(d.Lines, orders.LineDetail{OrderLine: ln, Product: st.products[ln.ProductID]})
	}
	for _, id := range d.SellerIDs() {
		if u, ok := st.users[id]; ok {
			d.Sellers = append(d.Sellers, u)
		}
	}
	return d
}
