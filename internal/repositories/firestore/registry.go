package firestore

import (
	"context"
	"errors"
	"fmt"

	pfirestore "github.com/lustreworks/fulfillment-api/internal/platform/firestore"
	"github.com/lustreworks/fulfillment-api/internal/repositories"
)

// Registry builds every Firestore-backed repository over one shared provider.
type Registry struct {
	provider        *pfirestore.Provider
	customers       *CustomerRepository
	employees       *EmployeeRepository
	inventory       *InventoryRepository
	orders          *OrderRepository
	orderLines      *OrderLineRepository
	productionTasks *ProductionTaskRepository
	receivables     *ReceivableRepository
	counters        *CounterRepository
	sagaLogs        *SagaLogRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry wires the repositories. The registry owns the provider and closes it on Close.
func NewRegistry(provider *pfirestore.Provider) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("firestore registry requires provider")
	}

	reg := &Registry{provider: provider}
	var err error
	if reg.customers, err = NewCustomerRepository(provider); err != nil {
		return nil, fmt.Errorf("customers: %w", err)
	}
	if reg.employees, err = NewEmployeeRepository(provider); err != nil {
		return nil, fmt.Errorf("employees: %w", err)
	}
	if reg.inventory, err = NewInventoryRepository(provider); err != nil {
		return nil, fmt.Errorf("inventory: %w", err)
	}
	if reg.orders, err = NewOrderRepository(provider); err != nil {
		return nil, fmt.Errorf("orders: %w", err)
	}
	if reg.orderLines, err = NewOrderLineRepository(provider); err != nil {
		return nil, fmt.Errorf("order lines: %w", err)
	}
	if reg.productionTasks, err = NewProductionTaskRepository(provider); err != nil {
		return nil, fmt.Errorf("production tasks: %w", err)
	}
	if reg.receivables, err = NewReceivableRepository(provider); err != nil {
		return nil, fmt.Errorf("receivables: %w", err)
	}
	if reg.counters, err = NewCounterRepository(provider); err != nil {
		return nil, fmt.Errorf("counters: %w", err)
	}
	if reg.sagaLogs, err = NewSagaLogRepository(provider); err != nil {
		return nil, fmt.Errorf("saga logs: %w", err)
	}
	return reg, nil
}

func (r *Registry) Close(ctx context.Context) error {
	if r == nil || r.provider == nil {
		return nil
	}
	return r.provider.Close(ctx)
}

// Ping checks Firestore connectivity for readiness probes.
func (r *Registry) Ping(ctx context.Context) error {
	if r == nil || r.provider == nil {
		return errors.New("firestore registry not initialised")
	}
	return r.provider.Ping(ctx)
}

func (r *Registry) Customers() repositories.CustomerRepository { return r.customers }

func (r *Registry) Employees() repositories.EmployeeDirectory { return r.employees }

func (r *Registry) Inventory() repositories.InventoryRepository { return r.inventory }

func (r *Registry) Orders() repositories.OrderRepository { return r.orders }

func (r *Registry) OrderLines() repositories.OrderLineRepository { return r.orderLines }

func (r *Registry) ProductionTasks() repositories.ProductionTaskRepository {
	return r.productionTasks
}

func (r *Registry) Receivables() repositories.ReceivableRepository { return r.receivables }

func (r *Registry) Counters() repositories.CounterRepository { return r.counters }

func (r *Registry) SagaLogs() repositories.SagaLogRepository { return r.sagaLogs }
