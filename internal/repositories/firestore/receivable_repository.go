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

const receivablesCollection = "receivables"

type receivableDocument struct {
	OrderID    string    `firestore:"orderId"`
	CustomerID string    `firestore:"customerId"`
	Amount     int64     `firestore:"amount"`
	Currency   string    `firestore:"currency"`
	DueDate    time.Time `firestore:"dueDate"`
	CreatedAt  time.Time `firestore:"createdAt"`
}

// ReceivableRepository records money owed on ACCOUNT orders.
type ReceivableRepository struct {
	base *pfirestore.BaseRepository[receivableDocument]
}

var _ repositories.ReceivableRepository = (*ReceivableRepository)(nil)

func NewReceivableRepository(provider *pfirestore.Provider) (*ReceivableRepository, error) {
	if provider == nil {
		return nil, errors.New("receivable repository requires firestore provider")
	}
	return &ReceivableRepository{
		base: pfirestore.NewBaseRepository[receivableDocument](provider, receivablesCollection, nil, nil),
	}, nil
}

func (r *ReceivableRepository) Insert(ctx context.Context, entry domain.ReceivableEntry) error {
	if r == nil || r.base == nil {
		return errors.New("receivable repository not initialised")
	}
	return r.base.Create(ctx, entry.ID, receivableDocument{
		OrderID:    strings.TrimSpace(entry.OrderID),
		CustomerID: strings.TrimSpace(entry.CustomerID),
		Amount:     entry.Amount,
		Currency:   strings.TrimSpace(entry.Currency),
		DueDate:    entry.DueDate.UTC(),
		CreatedAt:  entry.CreatedAt.UTC(),
	})
}

func (r *ReceivableRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.ReceivableEntry, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("receivable repository not initialised")
	}
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("orderId", "==", strings.TrimSpace(orderID))
	})
	if err != nil {
		return nil, err
	}
	entries := make([]domain.ReceivableEntry, 0, len(docs))
	for _, doc := range docs {
		entries = append(entries, domain.ReceivableEntry{
			ID:         doc.ID,
			OrderID:    doc.Data.OrderID,
			CustomerID: doc.Data.CustomerID,
			Amount:     doc.Data.Amount,
			Currency:   doc.Data.Currency,
			DueDate:    doc.Data.DueDate.UTC(),
			CreatedAt:  doc.Data.CreatedAt.UTC(),
		})
	}
	return entries, nil
}

// Delete removes the entry. Deleting an entry that is already gone succeeds.
func (r *ReceivableRepository) Delete(ctx context.Context, entryID string) error {
	if r == nil || r.base == nil {
		return errors.New("receivable repository not initialised")
	}
	return r.base.Delete(ctx, strings.TrimSpace(entryID))
}
