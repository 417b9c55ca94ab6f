package services

import (
	"context"
	"testing"

	domain "github.com/lustreworks/fulfillment-api/internal/domain"
)

func advance(f *fulfillmentFixture, orderID string, from, to domain.ProductionStage) (StageUpdateResult, error) {
	return f.stages.UpdateOrderStage(context.Background(), StageUpdateRequest{
		OrderID:      orderID,
		CurrentStage: from,
		NextStage:    to,
		ActorID:      "emp_lead",
		Notes:        "<b>looks good</b>",
	})
}

func TestStageTransition_DesignToCAD(t *testing.T) {
	f := newFulfillmentFixture(t)
	confirmation := f.placeOrder(t, twoLineOrder("cus_new", domain.PaymentMethodCash))

	result, err := advance(f, confirmation.OrderID, domain.StageDesign, domain.StageCAD)
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if result.TasksCompleted != 2 || result.TasksStarted != 2 || result.TasksCreated != 0 {
		t.Fatalf("unexpected counts %+v", result)
	}
	if result.Stage != domain.StageCAD || result.PreviousStage != domain.StageDesign || result.OrderStatus != domain.OrderStatusActive {
		t.Fatalf("unexpected result %+v", result)
	}
	if result.Notes != "looks good" {
		t.Fatalf("expected sanitised notes, got %q", result.Notes)
	}

	stored := f.orders.orders[confirmation.OrderID]
	if stored.ProductionStatus != domain.StageCAD || stored.UpdatedBy != "emp_lead" {
		t.Fatalf("unexpected stored order %+v", stored)
	}
	tasks, _ := f.tasks.ListByOrder(context.Background(), confirmation.OrderID)
	for _, task := range tasks {
		switch task.Stage {
		case domain.StageDesign:
			if task.Status != domain.TaskStatusCompleted || task.CompletedAt == nil || task.Notes != "looks good" {
				t.Fatalf("design task not completed: %+v", task)
			}
		case domain.StageCAD:
			if task.Status != domain.TaskStatusInProgress || task.StartedAt == nil {
				t.Fatalf("cad task not started: %+v", task)
			}
		default:
			if task.Status != domain.TaskStatusPending {
				t.Fatalf("later stage task touched: %+v", task)
			}
		}
	}
	if len(tasks) != 12 {
		t.Fatalf("stage transitions must not duplicate tasks, got %d", len(tasks))
	}
	last := f.events.events[len(f.events.events)-1]
	if last.Type != OrderEventStageChanged || last.Stage != string(domain.StageCAD) {
		t.Fatalf("unexpected event %+v", last)
	}
}

func TestStageTransition_RejectsIllegalMoves(t *testing.T) {
	f := newFulfillmentFixture(t)
	confirmation := f.placeOrder(t, twoLineOrder("cus_new", domain.PaymentMethodCash))
	updatesBefore := f.tasks.updateCalls

	_, err := advance(f, confirmation.OrderID, domain.StageDesign, domain.StageCasting)
	expectKind(t, err, ErrorKindInvalidState)

	_, err = advance(f, confirmation.OrderID, domain.StageCAD, domain.StageCasting)
	expectKind(t, err, ErrorKindInvalidState)

	_, err = advance(f, "ord_missing", domain.StageDesign, domain.StageCAD)
	expectKind(t, err, ErrorKindNotFound)

	_, err = advance(f, confirmation.OrderID, "POLISH", domain.StageCAD)
	expectKind(t, err, ErrorKindValidation)

	if f.tasks.updateCalls != updatesBefore {
		t.Fatalf("rejected transitions must not write tasks")
	}
	if f.orders.orders[confirmation.OrderID].ProductionStatus != domain.StageDesign {
		t.Fatalf("rejected transitions must not move the order")
	}
}

func TestStageTransition_WalkToCompletion(t *testing.T) {
	f := newFulfillmentFixture(t)
	confirmation := f.placeOrder(t, twoLineOrder("cus_new", domain.PaymentMethodCash))

	stage := domain.StageDesign
	var result StageUpdateResult
	for {
		next, ok := NextStage(stage)
		if !ok {
			break
		}
		var err error
		result, err = advance(f, confirmation.OrderID, stage, next)
		if err != nil {
			t.Fatalf("advance %s -> %s: %v", stage, next, err)
		}
		stage = next
	}

	if result.OrderStatus != domain.OrderStatusCompleted || result.TasksCreated != 0 || result.TasksStarted != 0 {
		t.Fatalf("unexpected final transition %+v", result)
	}
	stored := f.orders.orders[confirmation.OrderID]
	if stored.Status != domain.OrderStatusCompleted || stored.CompletedAt == nil || stored.ProductionStatus != domain.StageCompleted {
		t.Fatalf("unexpected completed order %+v", stored)
	}
	if got := f.tasks.countByStatus(confirmation.OrderID, domain.TaskStatusCompleted); got != 12 {
		t.Fatalf("expected every task completed, got %d", got)
	}
	last := f.events.events[len(f.events.events)-1]
	if last.Type != OrderEventCompleted {
		t.Fatalf("expected order.completed, got %s", last.Type)
	}

	_, err := advance(f, confirmation.OrderID, domain.StageQC, domain.StageCompleted)
	expectKind(t, err, ErrorKindInvalidState)
}

func TestStageTransition_SchedulesMissingTargetTask(t *testing.T) {
	f := newFulfillmentFixture(t)
	confirmation := f.placeOrder(t, twoLineOrder("cus_new", domain.PaymentMethodCash))
	firstLine := confirmation.Lines[0].LineID
	for id, task := range f.tasks.tasks {
		if task.OrderLineID == firstLine && task.Stage == domain.StageCAD {
			task.Status = domain.TaskStatusCancelled
			f.tasks.tasks[id] = task
		}
	}

	result, err := advance(f, confirmation.OrderID, domain.StageDesign, domain.StageCAD)
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if result.TasksStarted != 1 || result.TasksCreated != 1 {
		t.Fatalf("expected one started and one created task, got %+v", result)
	}
	running := 0
	for _, task := range f.tasks.tasks {
		if task.OrderLineID == firstLine && task.Stage == domain.StageCAD && task.Status == domain.TaskStatusInProgress {
			running++
			if task.AssignedWorkerID != "emp_CAD" {
				t.Fatalf("unexpected worker %s", task.AssignedWorkerID)
			}
		}
	}
	if running != 1 {
		t.Fatalf("expected exactly one running CAD task for the line, got %d", running)
	}
}

func TestStageTransition_FailureRestoresTasks(t *testing.T) {
	f := newFulfillmentFixture(t)
	confirmation := f.placeOrder(t, twoLineOrder("cus_new", domain.PaymentMethodCash))
	f.orders.updateFn = func(context.Context, domain.Order) error { return errBoom }

	_, err := advance(f, confirmation.OrderID, domain.StageDesign, domain.StageCAD)
	expectKind(t, err, ErrorKindPersistence)

	if got := f.tasks.countByStatus(confirmation.OrderID, domain.TaskStatusPending); got != 12 {
		t.Fatalf("expected all tasks restored to pending, got %d", got)
	}
	if f.orders.orders[confirmation.OrderID].ProductionStatus != domain.StageDesign {
		t.Fatalf("order must stay in DESIGN")
	}
}

func TestStageTransition_RejectsInactiveOrder(t *testing.T) {
	f := newFulfillmentFixture(t)
	confirmation := f.placeOrder(t, twoLineOrder("cus_new", domain.PaymentMethodCash))
	order := f.orders.orders[confirmation.OrderID]
	order.Status = domain.OrderStatusCancelled
	f.orders.orders[order.ID] = order

	_, err := advance(f, confirmation.OrderID, domain.StageDesign, domain.StageCAD)
	expectKind(t, err, ErrorKindInvalidState)
}
