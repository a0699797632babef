package services

import (
	"context"
	"time"

	intdb "ticketbackend/internal/db"
	"ticketbackend/internal/domain"
	"ticketbackend/internal/repositories"
	"ticketbackend/internal/utils"
)

// InventoryLedger is the only writer of routes.available_quantity. Both
// operations are a single conditional UPDATE and must run on the caller's
// transaction so they commit or roll back with the booking change.
type InventoryLedger struct {
	Now func() time.Time
}

func (l InventoryLedger) now() time.Time {
	if l.Now != nil {
		return l.Now().UTC()
	}
	return utils.NowUTC()
}

// Reserve takes qty seats and returns the remaining balance.
func (l InventoryLedger) Reserve(ctx context.Context, tx intdb.DBTX, routeID int64, qty int) (int, error) {
	if qty <= 0 {
		return 0, domain.ValidationError{Field: "quantity", Msg: "must be positive"}
	}
	routes := repositories.RouteRepository{DB: tx}
	ok, err := routes.Decrement(ctx, routeID, qty, l.now())
	if err != nil {
		return 0, err
	}
	balance, found, err := routes.AvailableQuantity(ctx, routeID)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, domain.NotFoundError{Resource: "route"}
	}
	if !ok {
		return balance, domain.ConflictError{
			Resource: "route",
			Code:     domain.CodeInsufficientInventory,
			Msg:      "not enough tickets available",
		}
	}
	return balance, nil
}

// Release gives qty seats back. Releasing more than was reserved is an
// invariant violation, not something to clamp.
func (l InventoryLedger) Release(ctx context.Context, tx intdb.DBTX, routeID int64, qty int) (int, error) {
	if qty <= 0 {
		return 0, domain.ValidationError{Field: "quantity", Msg: "must be positive"}
	}
	routes := repositories.RouteRepository{DB: tx}
	ok, err := routes.Increment(ctx, routeID, qty, l.now())
	if err != nil {
		return 0, err
	}
	balance, found, err := routes.AvailableQuantity(ctx, routeID)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, domain.NotFoundError{Resource: "route"}
	}
	if !ok {
		return balance, domain.InvariantError{
			Code: domain.CodeInventoryOverflow,
			Msg:  "release would exceed the route's total quantity",
		}
	}
	return balance, nil
}
