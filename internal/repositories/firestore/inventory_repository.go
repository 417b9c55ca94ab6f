package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/lustreworks/fulfillment-api/internal/domain"
	pfirestore "github.com/lustreworks/fulfillment-api/internal/platform/firestore"
	"github.com/lustreworks/fulfillment-api/internal/repositories"
)

const (
	inventoryCollection         = "inventory"
	stockReservationsCollection = "stockReservations"

	reservationStatusReserved  = "reserved"
	reservationStatusCommitted = "committed"
	reservationStatusReleased  = "released"
)

// InventoryRepository keeps per-SKU stock documents and one reservation document per order line.
// Every stock mutation happens in the same transaction as the reservation write.
type InventoryRepository struct {
	provider     *pfirestore.Provider
	stocks       *pfirestore.BaseRepository[stockDocument]
	reservations *pfirestore.BaseRepository[reservationDocument]
}

var _ repositories.InventoryRepository = (*InventoryRepository)(nil)

func NewInventoryRepository(provider *pfirestore.Provider) (*InventoryRepository, error) {
	if provider == nil {
		return nil, errors.New("inventory repository requires firestore provider")
	}
	stocks := pfirestore.NewBaseRepository[stockDocument](provider, inventoryCollection, nil, nil)
	reservations := pfirestore.NewBaseRepository[reservationDocument](provider, stockReservationsCollection, nil, nil)
	return &InventoryRepository{provider: provider, stocks: stocks, reservations: reservations}, nil
}

func (r *InventoryRepository) GetStock(ctx context.Context, sku string) (domain.InventoryStock, error) {
	if r == nil || r.stocks == nil {
		return domain.InventoryStock{}, errors.New("inventory repository not initialised")
	}
	sku = strings.TrimSpace(sku)
	if sku == "" {
		return domain.InventoryStock{}, repositories.NewInventoryError(repositories.InventoryErrorStockNotFound, "inventory get stock: sku is required", nil)
	}
	doc, err := r.stocks.Get(ctx, sku)
	if err != nil {
		var repoErr *pfirestore.Error
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return domain.InventoryStock{}, repositories.NewInventoryError(repositories.InventoryErrorStockNotFound, fmt.Sprintf("stock %s not found", sku), err)
		}
		return domain.InventoryStock{}, wrapInventoryError("inventory.getStock", err)
	}
	return doc.Data.toDomain(doc.ID), nil
}

func (r *InventoryRepository) Reserve(ctx context.Context, req repositories.InventoryReserveRequest) (repositories.InventoryReserveResult, error) {
	if r == nil || r.provider == nil {
		return repositories.InventoryReserveResult{}, errors.New("inventory repository not initialised")
	}
	reservation := req.Reservation
	reservation.SKU = strings.TrimSpace(reservation.SKU)
	if reservation.ID == "" {
		return repositories.InventoryReserveResult{}, errors.New("inventory reserve: reservation id is required")
	}
	if reservation.SKU == "" {
		return repositories.InventoryReserveResult{}, repositories.NewInventoryError(repositories.InventoryErrorStockNotFound, "inventory reserve: sku is required", nil)
	}
	if reservation.Quantity <= 0 {
		return repositories.InventoryReserveResult{}, repositories.NewInventoryError(repositories.InventoryErrorUnknown, fmt.Sprintf("inventory reserve: quantity for %s must be > 0", reservation.SKU), nil)
	}

	now := req.Now.UTC()
	reservation.Status = reservationStatusReserved
	reservation.CreatedAt = reservation.CreatedAt.UTC()
	if reservation.CreatedAt.IsZero() {
		reservation.CreatedAt = now
	}
	reservation.UpdatedAt = now

	var result repositories.InventoryReserveResult
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		resRef, err := r.reservations.DocumentRef(ctx, reservation.ID)
		if err != nil {
			return err
		}
		if _, err := tx.Get(resRef); err == nil {
			return repositories.NewInventoryError(repositories.InventoryErrorReservationExists, fmt.Sprintf("reservation %s already exists", reservation.ID), nil)
		} else if status.Code(err) != codes.NotFound {
			return err
		}

		stockRef, stockDoc, err := r.loadStock(ctx, tx, reservation.SKU)
		if err != nil {
			return err
		}
		available := stockDoc.OnHand - stockDoc.Reserved
		if available < reservation.Quantity {
			return repositories.NewInsufficientStockError(reservation.SKU, reservation.Quantity, available)
		}
		stockDoc.Reserved += reservation.Quantity
		stockDoc.UpdatedAt = now
		stockDoc.recalculate()

		resDoc := newReservationDocument(reservation)
		if err := tx.Set(stockRef, stockDoc); err != nil {
			return err
		}
		if err := tx.Create(resRef, resDoc); err != nil {
			if status.Code(err) == codes.AlreadyExists {
				return repositories.NewInventoryError(repositories.InventoryErrorReservationExists, fmt.Sprintf("reservation %s already exists", reservation.ID), nil)
			}
			return err
		}

		result = repositories.InventoryReserveResult{
			Reservation: resDoc.toDomain(reservation.ID),
			Stock:       stockDoc.toDomain(reservation.SKU),
		}
		return nil
	})
	if err != nil {
		return repositories.InventoryReserveResult{}, wrapInventoryError("inventory.reserve", err)
	}
	return result, nil
}

// Release returns the reservation's quantity to the available pool. A reservation that was
// already released yields InventoryErrorAlreadyReleased together with the stored reservation, and
// stock is left untouched.
func (r *InventoryRepository) Release(ctx context.Context, req repositories.InventoryReleaseRequest) (repositories.InventoryReleaseResult, error) {
	if r == nil || r.provider == nil {
		return repositories.InventoryReleaseResult{}, errors.New("inventory repository not initialised")
	}
	reservationID := strings.TrimSpace(req.ReservationID)
	if reservationID == "" {
		return repositories.InventoryReleaseResult{}, errors.New("inventory release: reservation id is required")
	}

	now := req.Now.UTC()
	var result repositories.InventoryReleaseResult

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		result = repositories.InventoryReleaseResult{}
		resRef, err := r.reservations.DocumentRef(ctx, reservationID)
		if err != nil {
			return err
		}
		resSnap, err := tx.Get(resRef)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return repositories.NewInventoryError(repositories.InventoryErrorReservationNotFound, fmt.Sprintf("reservation %s not found", reservationID), nil)
			}
			return err
		}
		resDoc, err := decodeReservation(resSnap)
		if err != nil {
			return err
		}
		switch resDoc.Status {
		case reservationStatusReserved:
		case reservationStatusReleased:
			result.Reservation = resDoc.toDomain(reservationID)
			return repositories.NewInventoryError(repositories.InventoryErrorAlreadyReleased, fmt.Sprintf("reservation %s already released", reservationID), nil)
		default:
			return repositories.NewInventoryError(repositories.InventoryErrorInvalidReservationState, fmt.Sprintf("reservation %s is %s", reservationID, resDoc.Status), nil)
		}

		stockRef, stockDoc, err := r.loadStock(ctx, tx, resDoc.SKU)
		if err != nil {
			return err
		}
		if stockDoc.Reserved < resDoc.Quantity {
			return repositories.NewInventoryError(repositories.InventoryErrorInvalidReservationState, fmt.Sprintf("reserved quantity for %s is insufficient", resDoc.SKU), nil)
		}
		stockDoc.Reserved -= resDoc.Quantity
		stockDoc.UpdatedAt = now
		stockDoc.recalculate()
		if err := tx.Set(stockRef, stockDoc); err != nil {
			return err
		}

		resDoc.Status = reservationStatusReleased
		resDoc.UpdatedAt = now
		resDoc.ReleasedAt = &now
		if reason := strings.TrimSpace(req.Reason); reason != "" {
			resDoc.Reason = reason
		}
		if err := tx.Set(resRef, resDoc); err != nil {
			return err
		}

		result = repositories.InventoryReleaseResult{
			Reservation: resDoc.toDomain(reservationID),
			Stock:       stockDoc.toDomain(resDoc.SKU),
		}
		return nil
	})
	if err != nil {
		return result, wrapInventoryError("inventory.release", err)
	}
	return result, nil
}

func (r *InventoryRepository) GetReservation(ctx context.Context, reservationID string) (domain.InventoryReservation, error) {
	if r == nil || r.reservations == nil {
		return domain.InventoryReservation{}, errors.New("inventory repository not initialised")
	}
	reservationID = strings.TrimSpace(reservationID)
	if reservationID == "" {
		return domain.InventoryReservation{}, errors.New("inventory get reservation: id is required")
	}

	doc, err := r.reservations.Get(ctx, reservationID)
	if err != nil {
		var repoErr *pfirestore.Error
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return domain.InventoryReservation{}, repositories.NewInventoryError(repositories.InventoryErrorReservationNotFound, fmt.Sprintf("reservation %s not found", reservationID), err)
		}
		return domain.InventoryReservation{}, wrapInventoryError("inventory.getReservation", err)
	}
	return doc.Data.toDomain(doc.ID), nil
}

func (r *InventoryRepository) loadStock(ctx context.Context, tx *firestore.Transaction, sku string) (*firestore.DocumentRef, stockDocument, error) {
	sku = strings.TrimSpace(sku)
	stockRef, err := r.stocks.DocumentRef(ctx, sku)
	if err != nil {
		return nil, stockDocument{}, err
	}
	snap, err := tx.Get(stockRef)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, stockDocument{}, repositories.NewInventoryError(repositories.InventoryErrorStockNotFound, fmt.Sprintf("stock %s not found", sku), nil)
		}
		return nil, stockDocument{}, err
	}
	var doc stockDocument
	if err := snap.DataTo(&doc); err != nil {
		return nil, stockDocument{}, fmt.Errorf("decode inventory stock %s: %w", sku, err)
	}
	doc.SKU = sku
	return stockRef, doc, nil
}

// Helper structures ---------------------------------------------------------

type stockDocument struct {
	SKU       string    `firestore:"sku"`
	OnHand    int       `firestore:"onHand"`
	Reserved  int       `firestore:"reserved"`
	Available int       `firestore:"available"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

func (s *stockDocument) recalculate() {
	s.Available = s.OnHand - s.Reserved
}

func (s stockDocument) toDomain(id string) domain.InventoryStock {
	return domain.InventoryStock{
		SKU:       id,
		OnHand:    s.OnHand,
		Reserved:  s.Reserved,
		Available: s.OnHand - s.Reserved,
		UpdatedAt: s.UpdatedAt,
	}
}

type reservationDocument struct {
	OrderID     string     `firestore:"orderId"`
	OrderLineID string     `firestore:"orderLineId,omitempty"`
	SKU         string     `firestore:"sku"`
	Quantity    int        `firestore:"qty"`
	Status      string     `firestore:"status"`
	Reason      string     `firestore:"reason,omitempty"`
	ReleasedAt  *time.Time `firestore:"releasedAt,omitempty"`
	CommittedAt *time.Time `firestore:"committedAt,omitempty"`
	CreatedAt   time.Time  `firestore:"createdAt"`
	UpdatedAt   time.Time  `firestore:"updatedAt"`
}

func newReservationDocument(res domain.InventoryReservation) reservationDocument {
	return reservationDocument{
		OrderID:     strings.TrimSpace(res.OrderID),
		OrderLineID: strings.TrimSpace(res.OrderLineID),
		SKU:         strings.TrimSpace(res.SKU),
		Quantity:    res.Quantity,
		Status:      strings.TrimSpace(res.Status),
		Reason:      strings.TrimSpace(res.Reason),
		ReleasedAt:  res.ReleasedAt,
		CommittedAt: res.CommittedAt,
		CreatedAt:   res.CreatedAt.UTC(),
		UpdatedAt:   res.UpdatedAt.UTC(),
	}
}

func (d reservationDocument) toDomain(id string) domain.InventoryReservation {
	return domain.InventoryReservation{
		ID:          id,
		OrderID:     strings.TrimSpace(d.OrderID),
		OrderLineID: strings.TrimSpace(d.OrderLineID),
		SKU:         strings.TrimSpace(d.SKU),
		Quantity:    d.Quantity,
		Status:      strings.TrimSpace(d.Status),
		Reason:      strings.TrimSpace(d.Reason),
		ReleasedAt:  d.ReleasedAt,
		CommittedAt: d.CommittedAt,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
}

func decodeReservation(snap *firestore.DocumentSnapshot) (reservationDocument, error) {
	var doc reservationDocument
	if err := snap.DataTo(&doc); err != nil {
		return reservationDocument{}, fmt.Errorf("decode reservation %s: %w", snap.Ref.ID, err)
	}
	return doc, nil
}

func wrapInventoryError(op string, err error) error {
	if err == nil {
		return nil
	}
	var invErr *repositories.InventoryError
	if errors.As(err, &invErr) {
		if invErr.Op == "" {
			invErr.Op = op
		}
		return invErr
	}
	return pfirestore.WrapError(op, err)
}
