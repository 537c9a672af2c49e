package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/ariefcatur/marketplace-orders/internal/inventory"
	"github.com/ariefcatur/marketplace-orders/internal/orders"
	"github.com/ariefcatur/marketplace-orders/internal/redisx"
)

type envelope struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
	Data    any    `json:"data"`
}

func writeJSON(w http.ResponseWriter, code int, message string, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(envelope{Status: code, Message: message, Data: data})
}

// writeError maps domain errors to a status code and a message safe to show
// the client. Anything unrecognised is a 500 and only the log sees it.
func writeError(w http.ResponseWriter, log *slog.Logger, err error) {
	var short *inventory.InsufficientStockError
	switch {
	case errors.As(err, &short):
		writeJSON(w, http.StatusConflict,
			fmt.Sprintf("Insufficient stock for product %d: requested %d, available %d", short.ProductID, short.Requested, short.Available), nil)
	case errors.Is(err, orders.ErrInsufficientStock):
		writeJSON(w, http.StatusConflict, "Insufficient stock", nil)
	case errors.Is(err, orders.ErrUnauthorized):
		writeJSON(w, http.StatusUnauthorized, "Unauthorized", nil)
	case errors.Is(err, orders.ErrForbidden):
		writeJSON(w, http.StatusForbidden, "Forbidden", nil)
	case errors.Is(err, orders.ErrAddressOwnershipMismatch):
		writeJSON(w, http.StatusForbidden, "Address does not belong to the current user", nil)
	case errors.Is(err, orders.ErrEmptyCart):
		writeJSON(w, http.StatusBadRequest, "Cart is empty", nil)
	case errors.Is(err, orders.ErrAddressNotFound):
		writeJSON(w, http.StatusBadRequest, "Address not found", nil)
	case errors.Is(err, orders.ErrOrderNotFound):
		writeJSON(w, http.StatusBadRequest, "Order not found", nil)
	case errors.Is(err, orders.ErrInvalidTransition):
		writeJSON(w, http.StatusBadRequest, "Invalid order status transition", nil)
	case errors.Is(err, orders.ErrProductNotFound):
		writeJSON(w, http.StatusBadRequest, "Product in cart no longer exists", nil)
	case errors.Is(err, inventory.ErrInvalidQuantity):
		writeJSON(w, http.StatusBadRequest, "Invalid quantity in cart", nil)
	case errors.Is(err, orders.ErrStatusConflict):
		writeJSON(w, http.StatusConflict, "Order status changed, please retry", nil)
	case errors.Is(err, redisx.ErrInFlight):
		writeJSON(w, http.StatusConflict, "A request with this Idempotency-Key is still running", nil)
	default:
		log.Error("request failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, "Internal server error", nil)
	}
}
