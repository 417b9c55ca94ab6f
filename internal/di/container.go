package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/lustreworks/fulfillment-api/internal/platform/config"
	"github.com/lustreworks/fulfillment-api/internal/repositories"
	"github.com/lustreworks/fulfillment-api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Fulfillment  services.Fulfillment
	Orchestrator services.OrderOrchestrator
	Stages       services.StageTransitionManager
	Cancellation services.CancellationCompensator
	Scheduler    services.ProductionScheduler
	Inventory    services.InventoryGate
}

// Integrations carries the optional outbound adapters. Nil members disable the matching side
// effect.
type Integrations struct {
	Events   services.OrderEventPublisher
	Archive  services.OrderArchive
	Deposits services.DepositCollector
	Logger   func(context.Context, string, map[string]any)
	Tracer   trace.Tracer
	Meter    metric.Meter
	Clock    func() time.Time
}

// Container wires repositories, services, and outbound adapters for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies. Tests can supply in-memory registries.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, ext Integrations) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}

	svc, err := buildServices(ctx, reg, cfg, ext)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
	}, nil
}

// Close releases repository clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(_ context.Context, reg repositories.Registry, cfg config.Config, ext Integrations) (Services, error) {
	var svc Services
	clock := ext.Clock
	if clock == nil {
		clock = time.Now
	}
	currency := cfg.Fulfillment.Currency

	gate, err := services.NewInventoryGate(services.InventoryGateDeps{
		Inventory: reg.Inventory(),
		Clock:     clock,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build inventory gate: %w", err)
	}
	svc.Inventory = gate

	scheduler, err := services.NewProductionScheduler(services.ProductionSchedulerDeps{
		Employees:     reg.Employees(),
		Tasks:         reg.ProductionTasks(),
		StageDuration: cfg.Fulfillment.StageDuration,
		Clock:         clock,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build production scheduler: %w", err)
	}
	svc.Scheduler = scheduler

	orderNumbers, err := services.NewOrderNumberService(services.OrderNumberServiceDeps{
		Counters: reg.Counters(),
		Clock:    clock,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order number service: %w", err)
	}

	pricing := services.NewPricingEngine(services.PricingPolicy{})
	credit := services.NewCreditValidator(currency)

	orchestrator, err := services.NewOrderOrchestrator(services.OrderOrchestratorDeps{
		Customers:        reg.Customers(),
		Orders:           reg.Orders(),
		OrderLines:       reg.OrderLines(),
		Tasks:            reg.ProductionTasks(),
		Receivables:      reg.Receivables(),
		SagaLogs:         reg.SagaLogs(),
		Inventory:        gate,
		Scheduler:        scheduler,
		Pricing:          pricing,
		Credit:           credit,
		OrderNumbers:     orderNumbers,
		Deposits:         ext.Deposits,
		Archive:          ext.Archive,
		Events:           ext.Events,
		Currency:         currency,
		DeliveryLeadTime: cfg.Fulfillment.DeliveryLeadTime,
		ReceivableTerm:   cfg.Fulfillment.ReceivableTerm,
		Clock:            clock,
		Logger:           ext.Logger,
		Tracer:           ext.Tracer,
		Meter:            ext.Meter,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order orchestrator: %w", err)
	}
	svc.Orchestrator = orchestrator

	stages, err := services.NewStageTransitionManager(services.StageTransitionManagerDeps{
		Orders:     reg.Orders(),
		OrderLines: reg.OrderLines(),
		Tasks:      reg.ProductionTasks(),
		SagaLogs:   reg.SagaLogs(),
		Scheduler:  scheduler,
		Events:     ext.Events,
		Clock:      clock,
		Logger:     ext.Logger,
		Tracer:     ext.Tracer,
		Meter:      ext.Meter,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build stage transition manager: %w", err)
	}
	svc.Stages = stages

	cancellation, err := services.NewCancellationCompensator(services.CancellationCompensatorDeps{
		Orders:      reg.Orders(),
		OrderLines:  reg.OrderLines(),
		Tasks:       reg.ProductionTasks(),
		Receivables: reg.Receivables(),
		SagaLogs:    reg.SagaLogs(),
		Inventory:   gate,
		Deposits:    ext.Deposits,
		Archive:     ext.Archive,
		Events:      ext.Events,
		Clock:       clock,
		Logger:      ext.Logger,
		Tracer:      ext.Tracer,
		Meter:       ext.Meter,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build cancellation compensator: %w", err)
	}
	svc.Cancellation = cancellation

	fulfillment, err := services.NewFulfillmentService(services.FulfillmentServiceDeps{
		Orchestrator: orchestrator,
		Stages:       stages,
		Cancellation: cancellation,
		Scheduler:    scheduler,
		Pricing:      pricing,
		Credit:       credit,
		Customers:    reg.Customers(),
		Orders:       reg.Orders(),
		OrderLines:   reg.OrderLines(),
		Tasks:        reg.ProductionTasks(),
		Currency:     currency,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build fulfillment service: %w", err)
	}
	svc.Fulfillment = fulfillment

	return svc, nil
}
