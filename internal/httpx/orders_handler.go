package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/ariefcatur/marketplace-orders/internal/auth"
	"github.com/ariefcatur/marketplace-orders/internal/orders"
	"github.com/ariefcatur/marketplace-orders/internal/redisx"
)

type OrdersHandler struct {
	Service  *orders.Service
	Verifier *auth.Verifier
	Idem     *redisx.Idempotency
	Status   *redisx.StatusCache
	Log      *slog.Logger

	validate *validator.Validate
}

type updateStatusReq struct {
	OrderID string `json:"order_id" validate:"required"`
	Status  string `json:"status" validate:"required"`
}

type placeOrderResp struct {
	OrderID string `json:"order_id"`
}

type updateStatusResp struct {
	OrderStatus orders.Status `json:"order_status"`
}

type statusResp struct {
	OrderID   string    `json:"order_id"`
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
	Cached    bool      `json:"cached"`
}

// bookkeepingTimeout bounds Redis writes that must outlive the request:
// once an order is committed its idempotency record and cached status are
// written even if the client has gone away.
const bookkeepingTimeout = 2 * time.Second

func detached(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(r.Context()), bookkeepingTimeout)
}

func (h *OrdersHandler) Register(r chi.Router) {
	h.validate = validator.New(validator.WithRequiredStructEnabled())
	r.Route("/api", func(r chi.Router) {
		r.Use(auth.Middleware(h.Log, h.Verifier))
		r.Post("/order", h.placeOrder)
		r.Put("/order", h.updateStatus)
		r.Get("/order", h.listOrders)
		r.Get("/order/item", h.orderItems)
		r.Get("/order/{id}/status", h.orderStatus)
	})
}

func queryID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(r.URL.Query().Get(name), 10, 64)
	return id, err == nil && id > 0
}

func (h *OrdersHandler) placeOrder(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.ActorFrom(r.Context())
	userID, ok := queryID(r, "user_id")
	if !ok {
		writeJSON(w, http.StatusBadRequest, "Invalid user_id", nil)
		return
	}
	addressID, ok := queryID(r, "address_id")
	if !ok {
		writeJSON(w, http.StatusBadRequest, "Invalid address_id", nil)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	// Idempotency-Key is optional; Redis trouble degrades to a plain placement.
	key := r.Header.Get("Idempotency-Key")
	if key != "" && actor.ID == userID {
		orderID, claimed, err := h.Idem.Begin(ctx, userID, key)
		switch {
		case errors.Is(err, redisx.ErrInFlight):
			writeError(w, h.Log, err)
			return
		case err != nil:
			h.Log.Warn("idempotency unavailable", "buyer_id", userID, "err", err)
			key = ""
		case !claimed:
			writeJSON(w, http.StatusOK, "Order status pending", placeOrderResp{OrderID: orderID})
			return
		}
	} else {
		key = ""
	}

	o, err := h.Service.PlaceOrder(ctx, actor, orders.PlaceOrderInput{BuyerID: userID, AddressID: addressID})

	bctx, bcancel := detached(r)
	defer bcancel()
	if err != nil {
		if key != "" {
			if rerr := h.Idem.Release(bctx, userID, key); rerr != nil {
				h.Log.Warn("idempotency release failed", "buyer_id", userID, "err", rerr)
			}
		}
		writeError(w, h.Log, err)
		return
	}

	if key != "" {
		if err := h.Idem.Complete(bctx, userID, key, o.ID); err != nil {
			h.Log.Warn("idempotency complete failed", "order_id", o.ID, "err", err)
		}
	}
	h.cacheStatus(bctx, actor, o.ID)
	writeJSON(w, http.StatusOK, "Order status pending", placeOrderResp{OrderID: o.ID})
}

func (h *OrdersHandler) updateStatus(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.ActorFrom(r.Context())
	var req updateStatusReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, "Invalid JSON body", nil)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, "order_id and status are required", nil)
		return
	}
	to, err := orders.ParseStatus(req.Status)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, err := h.Service.TransitionStatus(ctx, actor, req.OrderID, to)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	bctx, bcancel := detached(r)
	defer bcancel()
	h.cacheStatus(bctx, actor, o.ID)
	writeJSON(w, http.StatusOK, "Order status updated successfully", updateStatusResp{OrderStatus: o.Status})
}

func (h *OrdersHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.ActorFrom(r.Context())
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if r.URL.Query().Get("user_id") == "" {
		list, err := h.Service.AllOrders(ctx, actor)
		if err != nil {
			writeError(w, h.Log, err)
			return
		}
		writeJSON(w, http.StatusOK, "Orders fetched successfully", list)
		return
	}

	userID, ok := queryID(r, "user_id")
	if !ok {
		writeJSON(w, http.StatusBadRequest, "Invalid user_id", nil)
		return
	}
	list, err := h.Service.OrdersFor(ctx, actor, userID)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, "Orders fetched successfully", list)
}

func (h *OrdersHandler) orderItems(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.ActorFrom(r.Context())
	orderID := r.URL.Query().Get("order_id")
	if orderID == "" {
		writeJSON(w, http.StatusBadRequest, "Missing order_id", nil)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	lines, err := h.Service.OrderLines(ctx, actor, orderID)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, "Order items fetched successfully", lines)
}

// orderStatus answers from the cache when it can and refills it from the
// database otherwise. Both paths apply the order's party rule.
func (h *OrdersHandler) orderStatus(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.ActorFrom(r.Context())
	orderID := chi.URLParam(r, "id")

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	cs, ok, err := h.Status.Get(ctx, orderID)
	if err != nil {
		h.Log.Warn("status cache read failed", "order_id", orderID, "err", err)
	}
	if ok {
		v := viewOf(orderID, cs)
		if !v.VisibleTo(actor) {
			writeError(w, h.Log, orders.ErrForbidden)
			return
		}
		writeJSON(w, http.StatusOK, "Order status fetched successfully", statusRespOf(v, true))
		return
	}

	v, err := h.Service.OrderStatus(ctx, actor, orderID)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	if err := h.Status.Put(ctx, orderID, cachedOf(v)); err != nil {
		h.Log.Warn("status cache put failed", "order_id", orderID, "err", err)
	}
	writeJSON(w, http.StatusOK, "Order status fetched successfully", statusRespOf(v, false))
}

// cacheStatus writes the committed status through to the cache. actor has
// just placed or moved the order, so the party check cannot fail.
func (h *OrdersHandler) cacheStatus(ctx context.Context, actor orders.Actor, orderID string) {
	v, err := h.Service.OrderStatus(ctx, actor, orderID)
	if err == nil {
		err = h.Status.Put(ctx, orderID, cachedOf(v))
	}
	if err != nil {
		h.Log.Warn("status cache write failed", "order_id", orderID, "err", err)
	}
}

func cachedOf(v orders.StatusView) redisx.CachedStatus {
	return redisx.CachedStatus{Status: string(v.Status), UpdatedAt: v.UpdatedAt, BuyerID: v.BuyerID, SellerIDs: v.SellerIDs}
}

func viewOf(orderID string, cs redisx.CachedStatus) orders.StatusView {
	return orders.StatusView{OrderID: orderID, Status: orders.Status(cs.Status), UpdatedAt: cs.UpdatedAt, BuyerID: cs.BuyerID, SellerIDs: cs.SellerIDs}
}

func statusRespOf(v orders.StatusView, cached bool) statusResp {
	return statusResp{OrderID: v.OrderID, Status: string(v.Status), UpdatedAt: v.UpdatedAt, Cached: cached}
}
