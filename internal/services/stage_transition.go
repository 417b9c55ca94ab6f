package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	domain "github.com/lustreworks/fulfillment-api/internal/domain"
	"github.com/lustreworks/fulfillment-api/internal/repositories"
)

const sagaStageUpdate = "update_order_stage"

// stageTransitions is the only legal way forward through production.
var stageTransitions = map[domain.ProductionStage]domain.ProductionStage{
	domain.StageDesign:    domain.StageCAD,
	domain.StageCAD:       domain.StageCasting,
	domain.StageCasting:   domain.StageSetting,
	domain.StageSetting:   domain.StagePolishing,
	domain.StagePolishing: domain.StageQC,
	domain.StageQC:        domain.StageCompleted,
}

// NextStage returns the successor of stage and whether one exists.
func NextStage(stage domain.ProductionStage) (domain.ProductionStage, bool) {
	next, ok := stageTransitions[stage]
	return next, ok
}

// StageTransitionManagerDeps wires the stage transition manager.
type StageTransitionManagerDeps struct {
	Orders      repositories.OrderRepository
	OrderLines  repositories.OrderLineRepository
	Tasks       repositories.ProductionTaskRepository
	SagaLogs    repositories.SagaLogRepository
	Scheduler   ProductionScheduler
	Events      OrderEventPublisher
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(context.Context, string, map[string]any)
	Tracer      trace.Tracer
	Meter       metric.Meter
}

type stageTransitionManager struct {
	serviceRuntime

	orders     repositories.OrderRepository
	orderLines repositories.OrderLineRepository
	tasks      repositories.ProductionTaskRepository
	scheduler  ProductionScheduler
}

// NewStageTransitionManager constructs the stage transition manager.
func NewStageTransitionManager(deps StageTransitionManagerDeps) (StageTransitionManager, error) {
	switch {
	case deps.Orders == nil:
		return nil, errors.New("stage transition manager: order repository is required")
	case deps.OrderLines == nil:
		return nil, errors.New("stage transition manager: order line repository is required")
	case deps.Tasks == nil:
		return nil, errors.New("stage transition manager: production task repository is required")
	case deps.Scheduler == nil:
		return nil, errors.New("stage transition manager: production scheduler is required")
	}
	return &stageTransitionManager{
		serviceRuntime: newServiceRuntime(runtimeOptions{
			Clock:       deps.Clock,
			IDGenerator: deps.IDGenerator,
			Logger:      deps.Logger,
			Tracer:      deps.Tracer,
			Meter:       deps.Meter,
			SagaLogs:    deps.SagaLogs,
			Events:      deps.Events,
		}),
		orders:     deps.Orders,
		orderLines: deps.OrderLines,
		tasks:      deps.Tasks,
		scheduler:  deps.Scheduler,
	}, nil
}

// UpdateOrderStage applies one legal transition. Open tasks of the current stage are completed,
// and every line gets exactly one running task in the next stage: pending tasks are started and
// lines without a live task get a freshly scheduled one. Nothing is written when the request does
// not match the stored order.
func (m *stageTransitionManager) UpdateOrderStage(ctx context.Context, req StageUpdateRequest) (result StageUpdateResult, err error) {
	req, err = ValidateStageUpdateRequest(req)
	if err != nil {
		return StageUpdateResult{}, err
	}

	ctx, span := startSpan(ctx, m.tracer, "fulfillment.UpdateOrderStage",
		attribute.String("order.id", req.OrderID),
		attribute.String("stage.current", string(req.CurrentStage)),
		attribute.String("stage.next", string(req.NextStage)),
	)
	defer func() {
		m.metrics.stageTransitions.Add(ctx, 1, metric.WithAttributes(outcome(err), attribute.String("stage", string(req.NextStage))))
		endSpan(span, err)
	}()

	order, err := m.orders.FindByID(ctx, req.OrderID)
	if err != nil {
		return StageUpdateResult{}, mapRepositoryError("orders.find", "order "+req.OrderID, err)
	}
	if err := checkTransition(order, req); err != nil {
		return StageUpdateResult{}, err
	}

	existing, err := m.tasks.ListByOrder(ctx, order.ID)
	if err != nil {
		return StageUpdateResult{}, mapRepositoryError("production_tasks.list", "order "+order.ID, err)
	}

	now := m.clock()
	var (
		completed, completedBefore []domain.ProductionTask
		started, startedBefore     []domain.ProductionTask
		created                    []domain.ProductionTask
	)
	covered := make(map[string]bool)
	for _, task := range existing {
		switch {
		case task.Stage == req.CurrentStage && task.Status.Open():
			completedBefore = append(completedBefore, task)
			task.Status = domain.TaskStatusCompleted
			task.CompletedAt = &now
			task.UpdatedAt = now
			if req.Notes != "" {
				task.Notes = req.Notes
			}
			completed = append(completed, task)
		case task.Stage == req.NextStage && task.Status != domain.TaskStatusCancelled:
			covered[task.OrderLineID] = true
			if task.Status == domain.TaskStatusPending {
				startedBefore = append(startedBefore, task)
				task.Status = domain.TaskStatusInProgress
				task.StartedAt = &now
				task.UpdatedAt = now
				started = append(started, task)
			}
		}
	}

	if req.NextStage != domain.StageCompleted {
		lines, err := m.orderLines.ListByOrder(ctx, order.ID)
		if err != nil {
			return StageUpdateResult{}, mapRepositoryError("order_lines.list", "order "+order.ID, err)
		}
		var uncovered []domain.OrderLine
		for _, line := range lines {
			if !covered[line.ID] {
				uncovered = append(uncovered, line)
			}
		}
		planned, err := m.scheduler.Plan(ctx, order, uncovered, []domain.ProductionStage{req.NextStage})
		if err != nil {
			return StageUpdateResult{}, err
		}
		for _, task := range planned {
			task.Status = domain.TaskStatusInProgress
			task.StartedAt = &now
			created = append(created, task)
		}
	}

	updated := order
	updated.ProductionStatus = req.NextStage
	updated.UpdatedBy = req.ActorID
	updated.UpdatedAt = now
	if req.NextStage == domain.StageCompleted {
		updated.Status = domain.OrderStatusCompleted
		updated.CompletedAt = &now
	}

	saga := m.saga.begin(ctx, sagaStageUpdate, order.ID)
	if len(completed) > 0 {
		if err := saga.step(ctx, "complete_current_tasks", func(ctx context.Context) error {
			return mapRepositoryError("production_tasks.update_batch", "order "+order.ID, m.tasks.UpdateBatch(ctx, completed))
		}); err != nil {
			return StageUpdateResult{}, saga.abort(ctx, err)
		}
		saga.push("complete_current_tasks", func(ctx context.Context) error {
			return m.tasks.UpdateBatch(ctx, completedBefore)
		})
	}
	if len(started) > 0 {
		if err := saga.step(ctx, "start_next_tasks", func(ctx context.Context) error {
			return mapRepositoryError("production_tasks.update_batch", "order "+order.ID, m.tasks.UpdateBatch(ctx, started))
		}); err != nil {
			return StageUpdateResult{}, saga.abort(ctx, err)
		}
		saga.push("start_next_tasks", func(ctx context.Context) error {
			return m.tasks.UpdateBatch(ctx, startedBefore)
		})
	}
	if len(created) > 0 {
		if err := saga.step(ctx, "create_next_tasks", func(ctx context.Context) error {
			return mapRepositoryError("production_tasks.insert_batch", "order "+order.ID, m.tasks.InsertBatch(ctx, created))
		}); err != nil {
			return StageUpdateResult{}, saga.abort(ctx, err)
		}
		saga.push("create_next_tasks", func(ctx context.Context) error {
			cancelled := make([]domain.ProductionTask, 0, len(created))
			for _, task := range created {
				task.Status = domain.TaskStatusCancelled
				task.CancelledAt = &now
				cancelled = append(cancelled, task)
			}
			return m.tasks.UpdateBatch(ctx, cancelled)
		})
	}
	if err := saga.step(ctx, "advance_order", func(ctx context.Context) error {
		return mapRepositoryError("orders.update", "order "+order.ID, m.orders.Update(ctx, updated))
	}); err != nil {
		return StageUpdateResult{}, saga.abort(ctx, err)
	}
	saga.complete(ctx)

	eventType := OrderEventStageChanged
	if updated.Status == domain.OrderStatusCompleted {
		eventType = OrderEventCompleted
	}
	m.publish(ctx, OrderEvent{
		Type:        eventType,
		OrderID:     updated.ID,
		OrderNumber: updated.OrderNumber,
		CustomerID:  updated.CustomerID,
		Stage:       string(updated.ProductionStatus),
		Status:      string(updated.Status),
		ActorID:     req.ActorID,
		OccurredAt:  now,
		Metadata: map[string]any{
			"previousStage": string(req.CurrentStage),
		},
	})

	return StageUpdateResult{
		OrderID:        updated.ID,
		PreviousStage:  req.CurrentStage,
		Stage:          updated.ProductionStatus,
		OrderStatus:    updated.Status,
		TasksCompleted: len(completed),
		TasksStarted:   len(started),
		TasksCreated:   len(created),
		Notes:          req.Notes,
		UpdatedBy:      req.ActorID,
		UpdatedAt:      now,
	}, nil
}

func checkTransition(order domain.Order, req StageUpdateRequest) error {
	if order.Status != domain.OrderStatusActive {
		return fmt.Errorf("%w: order %s is %s", ErrFulfillmentInvalidState, order.ID, order.Status)
	}
	if order.ProductionStatus != req.CurrentStage {
		return fmt.Errorf("%w: order %s is in stage %s, not %s", ErrFulfillmentInvalidState, order.ID, order.ProductionStatus, req.CurrentStage)
	}
	next, ok := NextStage(req.CurrentStage)
	if !ok || next != req.NextStage {
		return fmt.Errorf("%w: cannot move order %s from %s to %s", ErrFulfillmentInvalidState, order.ID, req.CurrentStage, req.NextStage)
	}
	return nil
}
