package orders

import (
	"fmt"
	"slices"
	"strings"
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusApproved  Status = "APPROVED"
	StatusInTransit Status = "IN_TRANSIT"
	StatusDelivered Status = "DELIVERED"
	StatusCancelled Status = "CANCELLED"
)

// InitialStatus is the status every placed order starts in.
const InitialStatus = StatusPending

// validNext is exhaustive: a status missing from a row is never reachable
// from it. Both cancel edges are listed explicitly.
var validNext = map[Status]map[Status]bool{
	StatusPending:   {StatusApproved: true, StatusCancelled: true},
	StatusApproved:  {StatusInTransit: true, StatusCancelled: true},
	StatusInTransit: {StatusDelivered: true},
	StatusDelivered: {},
	StatusCancelled: {},
}

type edge struct{ from, to Status }

// edgeActors decides which roles may drive each edge. Fulfilment steps belong
// to the seller; either side may cancel before shipping.
var edgeActors = map[edge][]Role{
	{StatusPending, StatusApproved}:    {RoleSeller, RoleAdmin},
	{StatusApproved, StatusInTransit}:  {RoleSeller, RoleAdmin},
	{StatusInTransit, StatusDelivered}: {RoleSeller, RoleAdmin},
	{StatusPending, StatusCancelled}:   {RoleBuyer, RoleSeller, RoleAdmin},
	{StatusApproved, StatusCancelled}:  {RoleBuyer, RoleSeller, RoleAdmin},
}

func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := validNext[st]; !ok {
		return "", fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, s)
	}
	return st, nil
}

func (s Status) Valid() bool {
	_, ok := validNext[s]
	return ok
}

func (s Status) Terminal() bool {
	return s.Valid() && len(validNext[s]) == 0
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

// CheckTransition reports ErrInvalidTransition for any pair outside the table.
func CheckTransition(from, to Status) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// RoleMayTransition reports whether role is allowed to drive from -> to. It
// does not check the table itself.
func RoleMayTransition(role Role, from, to Status) bool {
	return slices.Contains(edgeActors[edge{from, to}], role)
}

// NextStatuses lists the statuses reachable in one step, in table order.
func NextStatuses(from Status) []Status {
	order := []Status{StatusPending, StatusApproved, StatusInTransit, StatusDelivered, StatusCancelled}
	var out []Status
	for _, s := range order {
		if validNext[from][s] {
			out = append(out, s)
		}
	}
	return out
}
