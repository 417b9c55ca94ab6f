package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/lustreworks/fulfillment-api/internal/domain"
	pfirestore "github.com/lustreworks/fulfillment-api/internal/platform/firestore"
	"github.com/lustreworks/fulfillment-api/internal/repositories"
)

const ordersCollection = "orders"

type orderDocument struct {
	OrderNumber         string              `firestore:"orderNumber"`
	CustomerID          string              `firestore:"customerId"`
	Currency            string              `firestore:"currency"`
	TotalAmount         int64               `firestore:"totalAmount"`
	Totals              orderTotalsDocument `firestore:"totals"`
	PaymentMethod       string              `firestore:"paymentMethod"`
	Status              string              `firestore:"status"`
	ProductionStatus    string              `firestore:"productionStatus"`
	SpecialInstructions string              `firestore:"specialInstructions,omitempty"`
	Rush                bool                `firestore:"rush"`
	ExpectedDelivery    time.Time           `firestore:"expectedDelivery"`
	DepositIntentID     string              `firestore:"depositIntentId,omitempty"`
	DepositStatus       string              `firestore:"depositStatus,omitempty"`
	CancelReason        string              `firestore:"cancelReason,omitempty"`
	CancelledBy         string              `firestore:"cancelledBy,omitempty"`
	CancelledAt         *time.Time          `firestore:"cancelledAt,omitempty"`
	CompletedAt         *time.Time          `firestore:"completedAt,omitempty"`
	CreatedBy           string              `firestore:"createdBy"`
	UpdatedBy           string              `firestore:"updatedBy"`
	CreatedAt           time.Time           `firestore:"createdAt"`
	UpdatedAt           time.Time           `firestore:"updatedAt"`
}

type orderTotalsDocument struct {
	Subtotal        int64 `firestore:"subtotal"`
	Discount        int64 `firestore:"discount"`
	Tax             int64 `firestore:"tax"`
	Total           int64 `firestore:"total"`
	DepositRequired int64 `firestore:"depositRequired"`
	BalanceDue      int64 `firestore:"balanceDue"`
}

func newOrderDocument(order domain.Order) orderDocument {
	return orderDocument{
		OrderNumber: strings.TrimSpace(order.OrderNumber),
		CustomerID:  strings.TrimSpace(order.CustomerID),
		Currency:    strings.TrimSpace(order.Currency),
		TotalAmount: order.TotalAmount,
		Totals: orderTotalsDocument{
			Subtotal:        order.Totals.Subtotal,
			Discount:        order.Totals.Discount,
			Tax:             order.Totals.Tax,
			Total:           order.Totals.Total,
			DepositRequired: order.Totals.DepositRequired,
			BalanceDue:      order.Totals.BalanceDue,
		},
		PaymentMethod:       string(order.PaymentMethod),
		Status:              string(order.Status),
		ProductionStatus:    string(order.ProductionStatus),
		SpecialInstructions: order.SpecialInstructions,
		Rush:                order.Rush,
		ExpectedDelivery:    order.ExpectedDelivery.UTC(),
		DepositIntentID:     strings.TrimSpace(order.DepositIntentID),
		DepositStatus:       strings.TrimSpace(order.DepositStatus),
		CancelReason:        order.CancelReason,
		CancelledBy:         strings.TrimSpace(order.CancelledBy),
		CancelledAt:         utcPtr(order.CancelledAt),
		CompletedAt:         utcPtr(order.CompletedAt),
		CreatedBy:           strings.TrimSpace(order.CreatedBy),
		UpdatedBy:           strings.TrimSpace(order.UpdatedBy),
		CreatedAt:           order.CreatedAt.UTC(),
		UpdatedAt:           order.UpdatedAt.UTC(),
	}
}

func (d orderDocument) toDomain(id string) domain.Order {
	return domain.Order{
		ID:          id,
		OrderNumber: d.OrderNumber,
		CustomerID:  d.CustomerID,
		Currency:    d.Currency,
		TotalAmount: d.TotalAmount,
		Totals: domain.OrderTotals{
			Subtotal:        d.Totals.Subtotal,
			Discount:        d.Totals.Discount,
			Tax:             d.Totals.Tax,
			Total:           d.Totals.Total,
			DepositRequired: d.Totals.DepositRequired,
			BalanceDue:      d.Totals.BalanceDue,
		},
		PaymentMethod:       domain.PaymentMethod(d.PaymentMethod),
		Status:              domain.OrderStatus(d.Status),
		ProductionStatus:    domain.ProductionStage(d.ProductionStatus),
		SpecialInstructions: d.SpecialInstructions,
		Rush:                d.Rush,
		ExpectedDelivery:    d.ExpectedDelivery.UTC(),
		DepositIntentID:     d.DepositIntentID,
		DepositStatus:       d.DepositStatus,
		CancelReason:        d.CancelReason,
		CancelledBy:         d.CancelledBy,
		CancelledAt:         utcPtr(d.CancelledAt),
		CompletedAt:         utcPtr(d.CompletedAt),
		CreatedBy:           d.CreatedBy,
		UpdatedBy:           d.UpdatedBy,
		CreatedAt:           d.CreatedAt.UTC(),
		UpdatedAt:           d.UpdatedAt.UTC(),
	}
}

// OrderRepository persists order headers keyed by order id.
type OrderRepository struct {
	base *pfirestore.BaseRepository[orderDocument]
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{
		base: pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection, nil, nil),
	}, nil
}

// Insert creates the order and fails with a conflict when the id is taken.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	return r.base.Create(ctx, order.ID, newOrderDocument(order))
}

// Update replaces an existing order; a missing order is reported as not found.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	return r.base.Replace(ctx, order.ID, newOrderDocument(order))
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	doc, err := r.base.Get(ctx, strings.TrimSpace(orderID))
	if err != nil {
		return domain.Order{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
