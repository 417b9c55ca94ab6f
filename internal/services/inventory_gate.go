package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/lustreworks/fulfillment-api/internal/domain"
	"github.com/lustreworks/fulfillment-api/internal/repositories"
)

const (
	reservationIDPrefix = "rsv_"

	reservationStatusReserved  = "reserved"
	reservationStatusReleased  = "released"
	reservationStatusCommitted = "committed"
)

// InventoryGateDeps wires the inventory gate.
type InventoryGateDeps struct {
	Inventory   repositories.InventoryRepository
	Clock       func() time.Time
	IDGenerator func() string
}

type inventoryGate struct {
	repo  repositories.InventoryRepository
	clock func() time.Time
	newID func() string
}

// NewInventoryGate constructs the inventory gate over the stock store.
func NewInventoryGate(deps InventoryGateDeps) (InventoryGate, error) {
	if deps.Inventory == nil {
		return nil, errors.New("inventory gate: inventory repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	return &inventoryGate{
		repo: deps.Inventory,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID: idGen,
	}, nil
}

// CheckAvailability reports whether the SKU can cover quantity. A SKU without a stock record has
// nothing available.
func (g *inventoryGate) CheckAvailability(ctx context.Context, sku string, quantity int) (InventoryAvailability, error) {
	sku = strings.TrimSpace(sku)
	if sku == "" || quantity <= 0 {
		return InventoryAvailability{}, fmt.Errorf("%w: sku and positive quantity are required", ErrFulfillmentInvalidInput)
	}

	stock, err := g.repo.GetStock(ctx, sku)
	if err != nil {
		if isStockMissing(err) {
			return InventoryAvailability{SKU: sku, Requested: quantity}, nil
		}
		return InventoryAvailability{}, mapRepositoryError("inventory.get_stock", "stock "+sku, err)
	}

	available := stock.Available
	if available < 0 {
		available = 0
	}
	return InventoryAvailability{
		SKU:        sku,
		Requested:  quantity,
		Available:  available,
		Sufficient: available >= quantity,
	}, nil
}

// TryReserve atomically checks and holds stock for one order line.
func (g *inventoryGate) TryReserve(ctx context.Context, cmd ReserveLineCommand) (domain.InventoryReservation, error) {
	sku := strings.TrimSpace(cmd.SKU)
	if sku == "" || cmd.Quantity <= 0 || strings.TrimSpace(cmd.OrderID) == "" {
		return domain.InventoryReservation{}, fmt.Errorf("%w: order id, sku and positive quantity are required", ErrFulfillmentInvalidInput)
	}

	now := g.clock()
	reservation := domain.InventoryReservation{
		ID:          reservationIDPrefix + g.newID(),
		OrderID:     cmd.OrderID,
		OrderLineID: cmd.OrderLineID,
		SKU:         sku,
		Quantity:    cmd.Quantity,
		Status:      reservationStatusReserved,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	result, err := g.repo.Reserve(ctx, repositories.InventoryReserveRequest{Reservation: reservation, Now: now})
	if err != nil {
		return domain.InventoryReservation{}, g.translateReserveError(sku, cmd.Quantity, err)
	}
	return result.Reservation, nil
}

// Release returns held stock. Releasing a reservation twice is not an error: the second call
// reports AlreadyReleased and leaves stock untouched.
func (g *inventoryGate) Release(ctx context.Context, reservationID, reason string) (ReleaseOutcome, error) {
	reservationID = strings.TrimSpace(reservationID)
	if reservationID == "" {
		return ReleaseOutcome{}, fmt.Errorf("%w: reservation id is required", ErrFulfillmentInvalidInput)
	}

	result, err := g.repo.Release(ctx, repositories.InventoryReleaseRequest{
		ReservationID: reservationID,
		Reason:        reason,
		Now:           g.clock(),
	})
	if err == nil {
		return ReleaseOutcome{Reservation: result.Reservation, Released: true}, nil
	}

	var invErr *repositories.InventoryError
	if errors.As(err, &invErr) {
		switch invErr.Code {
		case repositories.InventoryErrorAlreadyReleased:
			return ReleaseOutcome{Reservation: result.Reservation, AlreadyReleased: true}, nil
		case repositories.InventoryErrorReservationNotFound:
			return ReleaseOutcome{}, fmt.Errorf("%w: reservation %s", ErrFulfillmentNotFound, reservationID)
		case repositories.InventoryErrorInvalidReservationState:
			return ReleaseOutcome{}, fmt.Errorf("%w: reservation %s cannot be released", ErrFulfillmentInvalidState, reservationID)
		}
	}
	return ReleaseOutcome{}, mapRepositoryError("inventory.release", "reservation "+reservationID, err)
}

func (g *inventoryGate) translateReserveError(sku string, quantity int, err error) error {
	var invErr *repositories.InventoryError
	if errors.As(err, &invErr) {
		switch invErr.Code {
		case repositories.InventoryErrorInsufficientStock:
			return &InsufficientInventoryError{SKU: sku, Requested: quantity, Available: invErr.Available}
		case repositories.InventoryErrorStockNotFound:
			return &InsufficientInventoryError{SKU: sku, Requested: quantity}
		case repositories.InventoryErrorReservationExists:
			return fmt.Errorf("%w: reservation already exists for sku %s", ErrFulfillmentInvalidState, sku)
		}
	}
	return mapRepositoryError("inventory.reserve", "stock "+sku, err)
}

func isStockMissing(err error) bool {
	var invErr *repositories.InventoryError
	if errors.As(err, &invErr) && invErr.Code == repositories.InventoryErrorStockNotFound {
		return true
	}
	return isNotFound(err)
}
