package repositories

import (
	"context"
	"time"

	domain "github.com/lustreworks/fulfillment-api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Customers() CustomerRepository
	Employees() EmployeeDirectory
	Inventory() InventoryRepository
	Orders() OrderRepository
	OrderLines() OrderLineRepository
	ProductionTasks() ProductionTaskRepository
	Receivables() ReceivableRepository
	Counters() CounterRepository
	SagaLogs() SagaLogRepository
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// CustomerRepository reads customer records owned by the CRM.
type CustomerRepository interface {
	FindByID(ctx context.Context, customerID string) (domain.Customer, error)
}

// EmployeeDirectory looks up production workers.
type EmployeeDirectory interface {
	// FindActiveBySpecialization returns the first active employee for the stage. Implementations
	// return a not-found RepositoryError when nobody qualifies.
	FindActiveBySpecialization(ctx context.Context, stage domain.ProductionStage) (domain.Employee, error)
}

// InventoryRepository manages stock levels and the per-line reservation lifecycle. Reserve and
// Release are each a single store-side transaction.
type InventoryRepository interface {
	GetStock(ctx context.Context, sku string) (domain.InventoryStock, error)
	Reserve(ctx context.Context, req InventoryReserveRequest) (InventoryReserveResult, error)
	Release(ctx context.Context, req InventoryReleaseRequest) (InventoryReleaseResult, error)
	GetReservation(ctx context.Context, reservationID string) (domain.InventoryReservation, error)
}

// InventoryReserveRequest places a hold for one order line.
type InventoryReserveRequest struct {
	Reservation domain.InventoryReservation
	Now         time.Time
}

// InventoryReserveResult returns the stored reservation and the stock after the hold.
type InventoryReserveResult struct {
	Reservation domain.InventoryReservation
	Stock       domain.InventoryStock
}

// InventoryReleaseRequest returns held stock to the available pool.
type InventoryReleaseRequest struct {
	ReservationID string
	Reason        string
	Now           time.Time
}

// InventoryReleaseResult reports the released reservation and resulting stock.
type InventoryReleaseResult struct {
	Reservation domain.InventoryReservation
	Stock       domain.InventoryStock
}

// OrderRepository persists order headers.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	Update(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
}

// OrderLineRepository persists immutable order lines.
type OrderLineRepository interface {
	Insert(ctx context.Context, line domain.OrderLine) error
	ListByOrder(ctx context.Context, orderID string) ([]domain.OrderLine, error)
}

// MaxTaskBatchSize bounds one InsertBatch or UpdateBatch call. Firestore caps a transaction at 500
// writes.
const MaxTaskBatchSize = 500

// ProductionTaskRepository persists production tasks. Batches larger than MaxTaskBatchSize are
// rejected.
type ProductionTaskRepository interface {
	InsertBatch(ctx context.Context, tasks []domain.ProductionTask) error
	UpdateBatch(ctx context.Context, tasks []domain.ProductionTask) error
	ListByOrder(ctx context.Context, orderID string) ([]domain.ProductionTask, error)
}

// ReceivableRepository persists accounts receivable entries.
type ReceivableRepository interface {
	Insert(ctx context.Context, entry domain.ReceivableEntry) error
	ListByOrder(ctx context.Context, orderID string) ([]domain.ReceivableEntry, error)
	Delete(ctx context.Context, entryID string) error
}

// CounterRepository provides atomic sequence generation.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
}

// SagaLogRepository appends saga step transitions.
type SagaLogRepository interface {
	Append(ctx context.Context, entry domain.SagaLogEntry) error
	ListBySaga(ctx context.Context, sagaID string) ([]domain.SagaLogEntry, error)
}
