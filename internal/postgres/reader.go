package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ariefcatur/marketplace-orders/internal/orders"
)

func (s *Store) OrderDetail(ctx context.Context, id string) (orders.OrderDetail, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return orders.OrderDetail{}, fmt.Errorf("order %q: %w", id, orders.ErrOrderNotFound)
	}
	o, err := scanOrder(s.DB.QueryRow(ctx, `SELECT `+orderCols+` FROM orders WHERE id=$1`, uid))
	if errors.Is(err, pgx.ErrNoRows) {
		return orders.OrderDetail{}, fmt.Errorf("order %s: %w", id, orders.ErrOrderNotFound)
	}
	if err != nil {
		return orders.OrderDetail{}, err
	}
	ds, err := s.details(ctx, []orders.Order{o})
	if err != nil {
		return orders.OrderDetail{}, err
	}
	return ds[0], nil
}

func (s *Store) OrdersForBuyer(ctx context.Context, buyerID int64) ([]orders.OrderDetail, error) {
	list, err := s.listOrders(ctx, `
		SELECT `+orderCols+` FROM orders
		WHERE user_id=$1 ORDER BY created_at, id`, buyerID)
	if err != nil {
		return nil, err
	}
	return s.details(ctx, list)
}

func (s *Store) OrdersForSeller(ctx context.Context, sellerID int64) ([]orders.OrderDetail, error) {
	list, err := s.listOrders(ctx, `
		SELECT `+orderCols+` FROM orders o
		WHERE EXISTS (
			SELECT 1 FROM order_items oi
			JOIN products p ON p.id = oi.product_id
			WHERE oi.order_id = o.id AND p.user_id = $1
		)
		ORDER BY created_at, id`, sellerID)
	if err != nil {
		return nil, err
	}
	return s.details(ctx, list)
}

func (s *Store) AllOrders(ctx context.Context) ([]orders.Order, error) {
	return s.listOrders(ctx, `SELECT `+orderCols+` FROM orders ORDER BY created_at, id`)
}

// OrderStatus reads the status and the order's parties in one round trip.
func (s *Store) OrderStatus(ctx context.Context, id string) (orders.StatusView, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return orders.StatusView{}, fmt.Errorf("order %q: %w", id, orders.ErrOrderNotFound)
	}
	v := orders.StatusView{OrderID: id}
	var st string
	err = s.DB.QueryRow(ctx, `
		SELECT o.order_status, o.updated_at, o.user_id,
		       coalesce(array_agg(DISTINCT p.user_id ORDER BY p.user_id)
		                FILTER (WHERE p.user_id IS NOT NULL), '{}')
		FROM orders o
		LEFT JOIN order_items oi ON oi.order_id = o.id
		LEFT JOIN products p ON p.id = oi.product_id
		WHERE o.id=$1
		GROUP BY o.id`, uid,
	).Scan(&st, &v.UpdatedAt, &v.BuyerID, &v.SellerIDs)
	if errors.Is(err, pgx.ErrNoRows) {
		return orders.StatusView{}, fmt.Errorf("order %s: %w", id, orders.ErrOrderNotFound)
	}
	v.Status = orders.Status(st)
	return v, err
}

func (s *Store) listOrders(ctx context.Context, sql string, args ...any) ([]orders.Order, error) {
	rows, err := s.DB.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(r pgx.CollectableRow) (orders.Order, error) {
		return scanOrder(r)
	})
}

// details loads lines, products, addresses and people for a page of orders
// with one query per table.
func (s *Store) details(ctx context.Context, list []orders.Order) ([]orders.OrderDetail, error) {
	if len(list) == 0 {
		return nil, nil
	}
	orderIDs := make([]uuid.UUID, 0, len(list))
	addrIDs := make([]int64, 0, len(list))
	userIDs := make([]int64, 0, len(list))
	for _, o := range list {
		orderIDs = append(orderIDs, uuid.MustParse(o.ID))
		addrIDs = append(addrIDs, o.AddressID)
		userIDs = append(userIDs, o.BuyerID)
	}

	rows, err := s.DB.Query(ctx, `
		SELECT oi.id, oi.order_id::text, oi.product_id, oi.quantity, oi.unit_price,
		       p.id, p.user_id, p.name, p.price, p.discounted_price, p.stock
		FROM order_items oi
		JOIN products p ON p.id = oi.product_id
		WHERE oi.order_id = ANY($1)
		ORDER BY oi.order_id, oi.product_id`, orderIDs)
	if err != nil {
		return nil, err
	}
	lines, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (orders.LineDetail, error) {
		var ld orders.LineDetail
		p := &ld.Product
		err := r.Scan(&ld.ID, &ld.OrderID, &ld.ProductID, &ld.Quantity, &ld.UnitPrice,
			&p.ID, &p.SellerID, &p.Name, &p.Price, &p.DiscountedPrice, &p.Stock)
		return ld, err
	})
	if err != nil {
		return nil, fmt.Errorf("load order lines: %w", err)
	}
	byOrder := make(map[string][]orders.LineDetail, len(list))
	for _, ld := range lines {
		byOrder[ld.OrderID] = append(byOrder[ld.OrderID], ld)
		userIDs = append(userIDs, ld.Product.SellerID)
	}

	addrs, err := s.addresses(ctx, addrIDs)
	if err != nil {
		return nil, err
	}
	users, err := s.users(ctx, userIDs)
	if err != nil {
		return nil, err
	}

	out := make([]orders.OrderDetail, 0, len(list))
	for _, o := range list {
		d := orders.OrderDetail{
			Order:   o,
			Lines:   byOrder[o.ID],
			Address: addrs[o.AddressID],
			Buyer:   users[o.BuyerID],
		}
		for _, id := range d.SellerIDs() {
			if u, ok := users[id]; ok {
				d.Sellers = append(d.Sellers, u)
			}
		}
		out = append(out, d)
	}
	return out, nil
}

func (s *Store) addresses(ctx context.Context, ids []int64) (map[int64]orders.Address, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT id, user_id, address, city, state, country, pincode
		FROM addresses WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int64]orders.Address, len(ids))
	for rows.Next() {
		var a orders.Address
		if err := rows.Scan(&a.ID, &a.UserID, &a.Line, &a.City, &a.State, &a.Country, &a.Pincode); err != nil {
			return nil, err
		}
		out[a.ID] = a
	}
	return out, rows.Err()
}

func (s *Store) users(ctx context.Context, ids []int64) (map[int64]orders.User, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT id, name, email, role, is_active
		FROM users WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int64]orders.User, len(ids))
	for rows.Next() {
		var u orders.User
		var role string
		if err := rows.Scan(&u.ID, &u.Name, &u.Email, &role, &u.Active); err != nil {
			return nil, err
		}
		u.Role = orders.Role(role)
		out[u.ID] = u
	}
	return out, rows.Err()
}
