package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	domain "github.com/lustreworks/fulfillment-api/internal/domain"
	"github.com/lustreworks/fulfillment-api/internal/repositories"
)

const (
	sagaCancelOrder = "handle_order_cancellation"

	depositStatusCanceled = "canceled"
)

// CancellationCompensatorDeps wires the cancellation compensator. Deposits, Archive, Events and
// SagaLogs are optional.
type CancellationCompensatorDeps struct {
	Orders      repositories.OrderRepository
	OrderLines  repositories.OrderLineRepository
	Tasks       repositories.ProductionTaskRepository
	Receivables repositories.ReceivableRepository
	SagaLogs    repositories.SagaLogRepository
	Inventory   InventoryGate
	Deposits    DepositCollector
	Archive     OrderArchive
	Events      OrderEventPublisher
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(context.Context, string, map[string]any)
	Tracer      trace.Tracer
	Meter       metric.Meter
}

type cancellationCompensator struct {
	serviceRuntime

	orders      repositories.OrderRepository
	orderLines  repositories.OrderLineRepository
	tasks       repositories.ProductionTaskRepository
	receivables repositories.ReceivableRepository
	inventory   InventoryGate
	deposits    DepositCollector
}

// NewCancellationCompensator constructs the cancellation compensator.
func NewCancellationCompensator(deps CancellationCompensatorDeps) (CancellationCompensator, error) {
	switch {
	case deps.Orders == nil:
		return nil, errors.New("cancellation compensator: order repository is required")
	case deps.OrderLines == nil:
		return nil, errors.New("cancellation compensator: order line repository is required")
	case deps.Tasks == nil:
		return nil, errors.New("cancellation compensator: production task repository is required")
	case deps.Receivables == nil:
		return nil, errors.New("cancellation compensator: receivable repository is required")
	case deps.Inventory == nil:
		return nil, errors.New("cancellation compensator: inventory gate is required")
	}
	return &cancellationCompensator{
		serviceRuntime: newServiceRuntime(runtimeOptions{
			Clock:       deps.Clock,
			IDGenerator: deps.IDGenerator,
			Logger:      deps.Logger,
			Tracer:      deps.Tracer,
			Meter:       deps.Meter,
			SagaLogs:    deps.SagaLogs,
			Events:      deps.Events,
			Archive:     deps.Archive,
		}),
		orders:      deps.Orders,
		orderLines:  deps.OrderLines,
		tasks:       deps.Tasks,
		receivables: deps.Receivables,
		inventory:   deps.Inventory,
		deposits:    deps.Deposits,
	}, nil
}

// HandleOrderCancellation reverses every side effect of an order and reports what it actually
// changed. Each step only touches records that are still live, so a retry after a partial failure
// or a second call on a cancelled order releases nothing twice.
func (c *cancellationCompensator) HandleOrderCancellation(ctx context.Context, req CancellationRequest) (result CancellationResult, err error) {
	req, err = ValidateCancellationRequest(req)
	if err != nil {
		return CancellationResult{}, err
	}

	ctx, span := startSpan(ctx, c.tracer, "fulfillment.HandleOrderCancellation",
		attribute.String("order.id", req.OrderID),
	)
	defer func() {
		c.metrics.cancellations.Add(ctx, 1, metric.WithAttributes(outcome(err),
			attribute.Bool("already_cancelled", result.AlreadyCancelled)))
		endSpan(span, err)
	}()

	order, err := c.orders.FindByID(ctx, req.OrderID)
	if err != nil {
		return CancellationResult{}, mapRepositoryError("orders.find", "order "+req.OrderID, err)
	}
	if order.Status == domain.OrderStatusCompleted {
		return CancellationResult{}, fmt.Errorf("%w: order %s is already completed", ErrFulfillmentInvalidState, order.ID)
	}

	now := c.clock()
	result = CancellationResult{
		OrderID:          order.ID,
		Reason:           req.Reason,
		CancelledBy:      req.ActorID,
		CancelledAt:      now,
		AlreadyCancelled: order.Status == domain.OrderStatusCancelled,
	}
	if result.AlreadyCancelled {
		result.Reason = order.CancelReason
		result.CancelledBy = order.CancelledBy
		if order.CancelledAt != nil {
			result.CancelledAt = order.CancelledAt.UTC()
		}
	}

	saga := c.saga.begin(ctx, sagaCancelOrder, order.ID)

	var lines []domain.OrderLine
	if err := saga.step(ctx, "load_lines", func(ctx context.Context) error {
		loaded, err := c.orderLines.ListByOrder(ctx, order.ID)
		lines = loaded
		return mapRepositoryError("order_lines.list", "order "+order.ID, err)
	}); err != nil {
		return CancellationResult{}, saga.abort(ctx, err)
	}
	result.Lines = len(lines)

	if err := saga.step(ctx, "release_inventory", func(ctx context.Context) error {
		return c.releaseReservations(ctx, lines, req.Reason, &result)
	}); err != nil {
		return CancellationResult{}, saga.abort(ctx, err)
	}

	if err := saga.step(ctx, "reverse_receivables", func(ctx context.Context) error {
		return c.reverseReceivables(ctx, order.ID, &result)
	}); err != nil {
		return CancellationResult{}, saga.abort(ctx, err)
	}

	if err := saga.step(ctx, "cancel_tasks", func(ctx context.Context) error {
		return c.cancelOpenTasks(ctx, order.ID, now, "cancelled: "+req.Reason, &result)
	}); err != nil {
		return CancellationResult{}, saga.abort(ctx, err)
	}

	depositChanged := false
	if c.deposits != nil && order.DepositIntentID != "" && order.DepositStatus != depositStatusCanceled {
		if err := saga.step(ctx, "void_deposit", func(ctx context.Context) error {
			intent, err := c.deposits.VoidDepositIntent(ctx, order.DepositIntentID, req.Reason)
			if err != nil {
				return &PersistenceError{Op: "deposits.void", Err: err}
			}
			order.DepositStatus = intent.Status
			return nil
		}); err != nil {
			return CancellationResult{}, saga.abort(ctx, err)
		}
		result.DepositVoided = true
		depositChanged = true
	}

	if !result.AlreadyCancelled || depositChanged {
		updated := order
		if !result.AlreadyCancelled {
			updated.Status = domain.OrderStatusCancelled
			updated.CancelReason = req.Reason
			updated.CancelledBy = req.ActorID
			updated.CancelledAt = &now
		}
		updated.UpdatedBy = req.ActorID
		updated.UpdatedAt = now
		if err := saga.step(ctx, "mark_cancelled", func(ctx context.Context) error {
			return mapRepositoryError("orders.update", "order "+order.ID, c.orders.Update(ctx, updated))
		}); err != nil {
			return CancellationResult{}, saga.abort(ctx, err)
		}
	}
	saga.complete(ctx)

	result.Summary = summarizeCancellation(result)

	if c.archive != nil && (!result.AlreadyCancelled || result.changed()) {
		uri, archiveErr := c.archive.ArchiveCancellation(ctx, result)
		if archiveErr != nil {
			c.logger(ctx, "order.archive.failed", map[string]any{
				"orderId": order.ID,
				"error":   archiveErr.Error(),
			})
		} else {
			result.ArchiveURI = uri
		}
	}

	if !result.AlreadyCancelled {
		c.publish(ctx, OrderEvent{
			Type:        OrderEventCancelled,
			OrderID:     order.ID,
			OrderNumber: order.OrderNumber,
			CustomerID:  order.CustomerID,
			Stage:       string(order.ProductionStatus),
			Status:      string(domain.OrderStatusCancelled),
			ActorID:     req.ActorID,
			OccurredAt:  now,
			Metadata: map[string]any{
				"reason":               req.Reason,
				"reservationsReleased": result.ReservationsReleased,
				"tasksCancelled":       result.TasksCancelled,
			},
		})
	}

	return result, nil
}

func (c *cancellationCompensator) releaseReservations(ctx context.Context, lines []domain.OrderLine, reason string, result *CancellationResult) error {
	for _, line := range lines {
		if line.ReservationID == "" {
			result.ReservationsMissing++
			continue
		}
		released, err := c.inventory.Release(ctx, line.ReservationID, reason)
		if err != nil {
			if errors.Is(err, ErrFulfillmentNotFound) {
				result.ReservationsMissing++
				continue
			}
			return err
		}
		switch {
		case released.Released:
			result.ReservationsReleased++
		case released.AlreadyReleased:
			result.ReservationsAlreadyReleased++
		}
	}
	return nil
}

func (c *cancellationCompensator) reverseReceivables(ctx context.Context, orderID string, result *CancellationResult) error {
	entries, err := c.receivables.ListByOrder(ctx, orderID)
	if err != nil {
		return mapRepositoryError("receivables.list", "order "+orderID, err)
	}
	for _, entry := range entries {
		if err := c.receivables.Delete(ctx, entry.ID); err != nil {
			if isNotFound(err) {
				continue
			}
			return mapRepositoryError("receivables.delete", "receivable "+entry.ID, err)
		}
		result.ReceivablesReversed++
	}
	return nil
}

func (c *cancellationCompensator) cancelOpenTasks(ctx context.Context, orderID string, now time.Time, notes string, result *CancellationResult) error {
	tasks, err := c.tasks.ListByOrder(ctx, orderID)
	if err != nil {
		return mapRepositoryError("production_tasks.list", "order "+orderID, err)
	}
	var cancelled []domain.ProductionTask
	for _, task := range tasks {
		if !task.Status.Open() {
			continue
		}
		task.Status = domain.TaskStatusCancelled
		task.CancelledAt = &now
		task.UpdatedAt = now
		if notes != "" {
			task.Notes = notes
		}
		cancelled = append(cancelled, task)
	}
	if len(cancelled) == 0 {
		return nil
	}
	if err := c.tasks.UpdateBatch(ctx, cancelled); err != nil {
		return mapRepositoryError("production_tasks.update_batch", "order "+orderID, err)
	}
	result.TasksCancelled = len(cancelled)
	return nil
}

func (r CancellationResult) changed() bool {
	return r.ReservationsReleased > 0 || r.ReceivablesReversed > 0 || r.TasksCancelled > 0 || r.DepositVoided
}

func summarizeCancellation(r CancellationResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "released %d of %d reservations", r.ReservationsReleased, r.Lines)
	if r.ReservationsAlreadyReleased > 0 {
		fmt.Fprintf(&b, " (%d already released)", r.ReservationsAlreadyReleased)
	}
	if r.ReservationsMissing > 0 {
		fmt.Fprintf(&b, " (%d missing)", r.ReservationsMissing)
	}
	return b.String()
}
