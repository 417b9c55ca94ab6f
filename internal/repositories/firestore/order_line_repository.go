package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/lustreworks/fulfillment-api/internal/domain"
	pfirestore "github.com/lustreworks/fulfillment-api/internal/platform/firestore"
	"github.com/lustreworks/fulfillment-api/internal/repositories"
)

const orderLinesCollection = "orderLines"

type orderLineDocument struct {
	OrderID       string    `firestore:"orderId"`
	ItemID        string    `firestore:"itemId"`
	Quantity      int       `firestore:"qty"`
	UnitPrice     int64     `firestore:"unitPrice"`
	TotalPrice    int64     `firestore:"totalPrice"`
	Customization string    `firestore:"customization,omitempty"`
	SerialNumber  string    `firestore:"serialNumber,omitempty"`
	ReservationID string    `firestore:"reservationId,omitempty"`
	CreatedAt     time.Time `firestore:"createdAt"`
}

func newOrderLineDocument(line domain.OrderLine) orderLineDocument {
	return orderLineDocument{
		OrderID:       strings.TrimSpace(line.OrderID),
		ItemID:        strings.TrimSpace(line.ItemID),
		Quantity:      line.Quantity,
		UnitPrice:     line.UnitPrice,
		TotalPrice:    line.TotalPrice,
		Customization: line.Customization,
		SerialNumber:  strings.TrimSpace(line.SerialNumber),
		ReservationID: strings.TrimSpace(line.ReservationID),
		CreatedAt:     line.CreatedAt.UTC(),
	}
}

func (d orderLineDocument) toDomain(id string) domain.OrderLine {
	return domain.OrderLine{
		ID:            id,
		OrderID:       d.OrderID,
		ItemID:        d.ItemID,
		Quantity:      d.Quantity,
		UnitPrice:     d.UnitPrice,
		TotalPrice:    d.TotalPrice,
		Customization: d.Customization,
		SerialNumber:  d.SerialNumber,
		ReservationID: d.ReservationID,
		CreatedAt:     d.CreatedAt.UTC(),
	}
}

// OrderLineRepository stores order lines in a top-level collection indexed by orderId. Lines are
// immutable once written.
type OrderLineRepository struct {
	base *pfirestore.BaseRepository[orderLineDocument]
}

var _ repositories.OrderLineRepository = (*OrderLineRepository)(nil)

func NewOrderLineRepository(provider *pfirestore.Provider) (*OrderLineRepository, error) {
	if provider == nil {
		return nil, errors.New("order line repository requires firestore provider")
	}
	return &OrderLineRepository{
		base: pfirestore.NewBaseRepository[orderLineDocument](provider, orderLinesCollection, nil, nil),
	}, nil
}

func (r *OrderLineRepository) Insert(ctx context.Context, line domain.OrderLine) error {
	if r == nil || r.base == nil {
		return errors.New("order line repository not initialised")
	}
	return r.base.Create(ctx, line.ID, newOrderLineDocument(line))
}

// ListByOrder returns the lines of an order in id order. Line ids are ULIDs, so this is also
// creation order.
func (r *OrderLineRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.OrderLine, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("order line repository not initialised")
	}
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("orderId", "==", strings.TrimSpace(orderID)).OrderBy(firestore.DocumentID, firestore.Asc)
	})
	if err != nil {
		return nil, err
	}
	lines := make([]domain.OrderLine, 0, len(docs))
	for _, doc := range docs {
		lines = append(lines, doc.Data.toDomain(doc.ID))
	}
	return lines, nil
}
