package orders

import (
	"errors"

	"github.com/ariefcatur/marketplace-orders/internal/inventory"
)

var (
	ErrUnauthorized             = errors.New("unauthorized")
	ErrForbidden                = errors.New("forbidden")
	ErrEmptyCart                = errors.New("cart is empty")
	ErrAddressNotFound          = errors.New("address not found")
	ErrAddressOwnershipMismatch = errors.New("address does not belong to the current user")
	ErrOrderNotFound            = errors.New("order not found")
	ErrInvalidTransition        = errors.New("invalid order status transition")
	ErrStatusConflict           = errors.New("order status changed concurrently")
	ErrProductNotFound          = inventory.ErrProductNotFound
	ErrInsufficientStock        = inventory.ErrInsufficientStock
)
