package firestore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/lustreworks/fulfillment-api/internal/domain"
	pfirestore "github.com/lustreworks/fulfillment-api/internal/platform/firestore"
	"github.com/lustreworks/fulfillment-api/internal/repositories"
)

const productionTasksCollection = "productionTasks"

type productionTaskDocument struct {
	OrderID             string     `firestore:"orderId"`
	OrderLineID         string     `firestore:"orderLineId"`
	Stage               string     `firestore:"stage"`
	Sequence            int        `firestore:"sequence"`
	AssignedWorkerID    string     `firestore:"assignedWorkerId"`
	EstimatedStart      time.Time  `firestore:"estimatedStart"`
	EstimatedCompletion time.Time  `firestore:"estimatedCompletion"`
	Status              string     `firestore:"status"`
	Notes               string     `firestore:"notes,omitempty"`
	StartedAt           *time.Time `firestore:"startedAt,omitempty"`
	CompletedAt         *time.Time `firestore:"completedAt,omitempty"`
	CancelledAt         *time.Time `firestore:"cancelledAt,omitempty"`
	CreatedAt           time.Time  `firestore:"createdAt"`
	UpdatedAt           time.Time  `firestore:"updatedAt"`
}

func newProductionTaskDocument(task domain.ProductionTask) productionTaskDocument {
	return productionTaskDocument{
		OrderID:             strings.TrimSpace(task.OrderID),
		OrderLineID:         strings.TrimSpace(task.OrderLineID),
		Stage:               string(task.Stage),
		Sequence:            task.Sequence,
		AssignedWorkerID:    strings.TrimSpace(task.AssignedWorkerID),
		EstimatedStart:      task.EstimatedStart.UTC(),
		EstimatedCompletion: task.EstimatedCompletion.UTC(),
		Status:              string(task.Status),
		Notes:               task.Notes,
		StartedAt:           utcPtr(task.StartedAt),
		CompletedAt:         utcPtr(task.CompletedAt),
		CancelledAt:         utcPtr(task.CancelledAt),
		CreatedAt:           task.CreatedAt.UTC(),
		UpdatedAt:           task.UpdatedAt.UTC(),
	}
}

func (d productionTaskDocument) toDomain(id string) domain.ProductionTask {
	return domain.ProductionTask{
		ID:                  id,
		OrderID:             d.OrderID,
		OrderLineID:         d.OrderLineID,
		Stage:               domain.ProductionStage(d.Stage),
		Sequence:            d.Sequence,
		AssignedWorkerID:    d.AssignedWorkerID,
		EstimatedStart:      d.EstimatedStart.UTC(),
		EstimatedCompletion: d.EstimatedCompletion.UTC(),
		Status:              domain.TaskStatus(d.Status),
		Notes:               d.Notes,
		StartedAt:           utcPtr(d.StartedAt),
		CompletedAt:         utcPtr(d.CompletedAt),
		CancelledAt:         utcPtr(d.CancelledAt),
		CreatedAt:           d.CreatedAt.UTC(),
		UpdatedAt:           d.UpdatedAt.UTC(),
	}
}

// ProductionTaskRepository persists production tasks. Batches are written in one transaction so a
// schedule is either stored completely or not at all.
type ProductionTaskRepository struct {
	base *pfirestore.BaseRepository[productionTaskDocument]
}

var _ repositories.ProductionTaskRepository = (*ProductionTaskRepository)(nil)

func NewProductionTaskRepository(provider *pfirestore.Provider) (*ProductionTaskRepository, error) {
	if provider == nil {
		return nil, errors.New("production task repository requires firestore provider")
	}
	return &ProductionTaskRepository{
		base: pfirestore.NewBaseRepository[productionTaskDocument](provider, productionTasksCollection, nil, nil),
	}, nil
}

// InsertBatch creates every task or none. An existing task id fails the whole batch.
func (r *ProductionTaskRepository) InsertBatch(ctx context.Context, tasks []domain.ProductionTask) error {
	return r.writeBatch(ctx, "insert", tasks, false, func(tx *firestore.Transaction, ref *firestore.DocumentRef, payload any) error {
		return tx.Create(ref, payload)
	})
}

// UpdateBatch overwrites every task or none. Tasks that do not exist fail the whole batch.
func (r *ProductionTaskRepository) UpdateBatch(ctx context.Context, tasks []domain.ProductionTask) error {
	return r.writeBatch(ctx, "update", tasks, true, func(tx *firestore.Transaction, ref *firestore.DocumentRef, payload any) error {
		return tx.Set(ref, payload)
	})
}

func (r *ProductionTaskRepository) writeBatch(ctx context.Context, action string, tasks []domain.ProductionTask, mustExist bool, write func(*firestore.Transaction, *firestore.DocumentRef, any) error) error {
	if r == nil || r.base == nil {
		return errors.New("production task repository not initialised")
	}
	if len(tasks) == 0 {
		return nil
	}
	if len(tasks) > repositories.MaxTaskBatchSize {
		return fmt.Errorf("production tasks %s: batch of %d exceeds %d", action, len(tasks), repositories.MaxTaskBatchSize)
	}

	err := r.base.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		refs := make([]*firestore.DocumentRef, len(tasks))
		for i, task := range tasks {
			ref, err := r.base.DocumentRef(ctx, task.ID)
			if err != nil {
				return err
			}
			refs[i] = ref
		}
		if mustExist {
			// All reads must precede writes inside a Firestore transaction.
			snaps, err := tx.GetAll(refs)
			if err != nil {
				return err
			}
			for _, snap := range snaps {
				if !snap.Exists() {
					return pfirestore.NotFound("productionTasks."+action, "production task %s not found", snap.Ref.ID)
				}
			}
		}
		for i, task := range tasks {
			payload, err := r.base.Encode(newProductionTaskDocument(task))
			if err != nil {
				return err
			}
			if err := write(tx, refs[i], payload); err != nil {
				return err
			}
		}
		return nil
	})
	return pfirestore.WrapError("productionTasks."+action, err)
}

// ListByOrder returns the order's tasks grouped by line and ordered by stage sequence.
func (r *ProductionTaskRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.ProductionTask, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("production task repository not initialised")
	}
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("orderId", "==", strings.TrimSpace(orderID))
	})
	if err != nil {
		return nil, err
	}
	tasks := make([]domain.ProductionTask, 0, len(docs))
	for _, doc := range docs {
		tasks = append(tasks, doc.Data.toDomain(doc.ID))
	}
	sort.SliceStable(tasks, func(i, j int) bool {
		if tasks[i].OrderLineID != tasks[j].OrderLineID {
			return tasks[i].OrderLineID < tasks[j].OrderLineID
		}
		if tasks[i].Sequence != tasks[j].Sequence {
			return tasks[i].Sequence < tasks[j].Sequence
		}
		return tasks[i].ID < tasks[j].ID
	})
	return tasks, nil
}
