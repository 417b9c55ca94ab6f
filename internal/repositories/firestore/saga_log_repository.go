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

const sagaLogsCollection = "sagaLogs"

type sagaLogDocument struct {
	SagaID     string    `firestore:"sagaId"`
	Saga       string    `firestore:"saga"`
	OrderID    string    `firestore:"orderId"`
	Step       string    `firestore:"step,omitempty"`
	Status     string    `firestore:"status"`
	Error      string    `firestore:"error,omitempty"`
	TraceID    string    `firestore:"traceId,omitempty"`
	SpanID     string    `firestore:"spanId,omitempty"`
	OccurredAt time.Time `firestore:"occurredAt"`
}

// SagaLogRepository appends saga transitions. Entries are never updated.
type SagaLogRepository struct {
	base *pfirestore.BaseRepository[sagaLogDocument]
}

var _ repositories.SagaLogRepository = (*SagaLogRepository)(nil)

func NewSagaLogRepository(provider *pfirestore.Provider) (*SagaLogRepository, error) {
	if provider == nil {
		return nil, errors.New("saga log repository requires firestore provider")
	}
	return &SagaLogRepository{
		base: pfirestore.NewBaseRepository[sagaLogDocument](provider, sagaLogsCollection, nil, nil),
	}, nil
}

func (r *SagaLogRepository) Append(ctx context.Context, entry domain.SagaLogEntry) error {
	if r == nil || r.base == nil {
		return errors.New("saga log repository not initialised")
	}
	return r.base.Create(ctx, entry.ID, sagaLogDocument{
		SagaID:     strings.TrimSpace(entry.SagaID),
		Saga:       entry.Saga,
		OrderID:    strings.TrimSpace(entry.OrderID),
		Step:       entry.Step,
		Status:     string(entry.Status),
		Error:      entry.Error,
		TraceID:    entry.TraceID,
		SpanID:     entry.SpanID,
		OccurredAt: entry.OccurredAt.UTC(),
	})
}

// ListBySaga returns a saga's entries in append order. Entry ids are ULIDs, which sort by time.
func (r *SagaLogRepository) ListBySaga(ctx context.Context, sagaID string) ([]domain.SagaLogEntry, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("saga log repository not initialised")
	}
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("sagaId", "==", strings.TrimSpace(sagaID)).OrderBy(firestore.DocumentID, firestore.Asc)
	})
	if err != nil {
		return nil, err
	}
	entries := make([]domain.SagaLogEntry, 0, len(docs))
	for _, doc := range docs {
		entries = append(entries, domain.SagaLogEntry{
			ID:         doc.ID,
			SagaID:     doc.Data.SagaID,
			Saga:       doc.Data.Saga,
			OrderID:    doc.Data.OrderID,
			Step:       doc.Data.Step,
			Status:     domain.SagaStatus(doc.Data.Status),
			Error:      doc.Data.Error,
			TraceID:    doc.Data.TraceID,
			SpanID:     doc.Data.SpanID,
			OccurredAt: doc.Data.OccurredAt.UTC(),
		})
	}
	return entries, nil
}
