package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	domain "github.com/lustreworks/fulfillment-api/internal/domain"
	"github.com/lustreworks/fulfillment-api/internal/repositories"
)

// FulfillmentServiceDeps wires the public fulfillment facade.
type FulfillmentServiceDeps struct {
	Orchestrator OrderOrchestrator
	Stages       StageTransitionManager
	Cancellation CancellationCompensator
	Scheduler    ProductionScheduler
	Pricing      PricingEngine
	Credit       CreditValidator
	Customers    repositories.CustomerRepository
	Orders       repositories.OrderRepository
	OrderLines   repositories.OrderLineRepository
	Tasks        repositories.ProductionTaskRepository
	Currency     string
}

type fulfillmentService struct {
	orchestrator OrderOrchestrator
	stages       StageTransitionManager
	cancellation CancellationCompensator
	scheduler    ProductionScheduler
	pricing      PricingEngine
	credit       CreditValidator
	customers    repositories.CustomerRepository
	orders       repositories.OrderRepository
	orderLines   repositories.OrderLineRepository
	tasks        repositories.ProductionTaskRepository
}

var _ Fulfillment = (*fulfillmentService)(nil)

// NewFulfillmentService constructs the facade exposing the six public operations.
func NewFulfillmentService(deps FulfillmentServiceDeps) (Fulfillment, error) {
	switch {
	case deps.Orchestrator == nil:
		return nil, errors.New("fulfillment service: order orchestrator is required")
	case deps.Stages == nil:
		return nil, errors.New("fulfillment service: stage transition manager is required")
	case deps.Cancellation == nil:
		return nil, errors.New("fulfillment service: cancellation compensator is required")
	case deps.Scheduler == nil:
		return nil, errors.New("fulfillment service: production scheduler is required")
	case deps.Customers == nil:
		return nil, errors.New("fulfillment service: customer repository is required")
	case deps.Orders == nil:
		return nil, errors.New("fulfillment service: order repository is required")
	case deps.OrderLines == nil:
		return nil, errors.New("fulfillment service: order line repository is required")
	case deps.Tasks == nil:
		return nil, errors.New("fulfillment service: production task repository is required")
	}
	pricing := deps.Pricing
	if pricing == nil {
		pricing = NewPricingEngine(PricingPolicy{})
	}
	credit := deps.Credit
	if credit == nil {
		credit = NewCreditValidator(deps.Currency)
	}
	return &fulfillmentService{
		orchestrator: deps.Orchestrator,
		stages:       deps.Stages,
		cancellation: deps.Cancellation,
		scheduler:    deps.Scheduler,
		pricing:      pricing,
		credit:       credit,
		customers:    deps.Customers,
		orders:       deps.Orders,
		orderLines:   deps.OrderLines,
		tasks:        deps.Tasks,
	}, nil
}

func (s *fulfillmentService) ProcessCompleteOrder(ctx context.Context, req ProcessOrderRequest) Result[OrderConfirmation] {
	data, err := s.orchestrator.ProcessCompleteOrder(ctx, req)
	return resultOf(data, err)
}

func (s *fulfillmentService) ValidateCustomerCredit(ctx context.Context, customerID string, amount int64) Result[domain.CreditValidationResult] {
	data, err := s.validateCustomerCredit(ctx, customerID, amount)
	return resultOf(data, err)
}

func (s *fulfillmentService) validateCustomerCredit(ctx context.Context, customerID string, amount int64) (domain.CreditValidationResult, error) {
	verr := &ValidationError{}
	customerID = strings.TrimSpace(customerID)
	checkIdentifier(verr, "customer_id", customerID)
	if amount < 0 {
		verr.add("amount", "must not be negative")
	}
	if err := verr.orNil(); err != nil {
		return domain.CreditValidationResult{}, err
	}
	customer, err := s.customers.FindByID(ctx, customerID)
	if err != nil {
		return domain.CreditValidationResult{}, mapRepositoryError("customers.find", "customer "+customerID, err)
	}
	return s.credit.ValidateCredit(customer, amount), nil
}

func (s *fulfillmentService) CalculateOrderTotal(ctx context.Context, lines []OrderLineInput, customerID string) Result[domain.OrderTotals] {
	data, err := s.calculateOrderTotal(ctx, lines, customerID)
	return resultOf(data, err)
}

func (s *fulfillmentService) calculateOrderTotal(ctx context.Context, lines []OrderLineInput, customerID string) (domain.OrderTotals, error) {
	normalized, err := ValidateOrderLines(lines)
	if err != nil {
		return domain.OrderTotals{}, err
	}
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return domain.OrderTotals{}, &ValidationError{Problems: []FieldProblem{{Field: "customer_id", Message: "is required"}}}
	}
	customer, err := s.customers.FindByID(ctx, customerID)
	if err != nil {
		return domain.OrderTotals{}, mapRepositoryError("customers.find", "customer "+customerID, err)
	}
	return s.pricing.Price(normalized, customer.Tier)
}

func (s *fulfillmentService) CreateProductionTasks(ctx context.Context, orderID string) Result[[]domain.ProductionTask] {
	data, err := s.createProductionTasks(ctx, orderID)
	return resultOf(data, err)
}

// createProductionTasks schedules the full stage sequence for an order that has none running. An
// order that still has open tasks is refused so no line ever carries two live tasks per stage.
func (s *fulfillmentService) createProductionTasks(ctx context.Context, orderID string) ([]domain.ProductionTask, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, &ValidationError{Problems: []FieldProblem{{Field: "order_id", Message: "is required"}}}
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, mapRepositoryError("orders.find", "order "+orderID, err)
	}
	if order.Status != domain.OrderStatusActive {
		return nil, fmt.Errorf("%w: order %s is %s", ErrFulfillmentInvalidState, order.ID, order.Status)
	}
	existing, err := s.tasks.ListByOrder(ctx, order.ID)
	if err != nil {
		return nil, mapRepositoryError("production_tasks.list", "order "+order.ID, err)
	}
	for _, task := range existing {
		if task.Status.Open() {
			return nil, fmt.Errorf("%w: order %s already has open production tasks", ErrFulfillmentInvalidState, order.ID)
		}
	}
	lines, err := s.orderLines.ListByOrder(ctx, order.ID)
	if err != nil {
		return nil, mapRepositoryError("order_lines.list", "order "+order.ID, err)
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: order %s has no lines", ErrFulfillmentInvalidState, order.ID)
	}
	return s.scheduler.Schedule(ctx, order, lines)
}

func (s *fulfillmentService) UpdateOrderStage(ctx context.Context, req StageUpdateRequest) Result[StageUpdateResult] {
	data, err := s.stages.UpdateOrderStage(ctx, req)
	return resultOf(data, err)
}

func (s *fulfillmentService) HandleOrderCancellation(ctx context.Context, req CancellationRequest) Result[CancellationResult] {
	data, err := s.cancellation.HandleOrderCancellation(ctx, req)
	return resultOf(data, err)
}
