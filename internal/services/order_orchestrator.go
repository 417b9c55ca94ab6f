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

const (
	defaultDeliveryLeadTime = 14 * 24 * time.Hour
	defaultReceivableTerm   = 30 * 24 * time.Hour

	reasonOrderCreationFailed = "order_creation_failed"
	sagaProcessOrder          = "process_complete_order"
)

// OrderOrchestratorDeps wires the order creation saga. Deposits, Archive, Events and SagaLogs are
// optional.
type OrderOrchestratorDeps struct {
	Customers        repositories.CustomerRepository
	Orders           repositories.OrderRepository
	OrderLines       repositories.OrderLineRepository
	Tasks            repositories.ProductionTaskRepository
	Receivables      repositories.ReceivableRepository
	SagaLogs         repositories.SagaLogRepository
	Inventory        InventoryGate
	Scheduler        ProductionScheduler
	Pricing          PricingEngine
	Credit           CreditValidator
	OrderNumbers     OrderNumberGenerator
	Deposits         DepositCollector
	Archive          OrderArchive
	Events           OrderEventPublisher
	Currency         string
	DeliveryLeadTime time.Duration
	ReceivableTerm   time.Duration
	Clock            func() time.Time
	IDGenerator      func() string
	Logger           func(context.Context, string, map[string]any)
	Tracer           trace.Tracer
	Meter            metric.Meter
}

type orderOrchestrator struct {
	serviceRuntime

	customers   repositories.CustomerRepository
	orders      repositories.OrderRepository
	orderLines  repositories.OrderLineRepository
	tasks       repositories.ProductionTaskRepository
	receivables repositories.ReceivableRepository
	inventory   InventoryGate
	scheduler   ProductionScheduler
	pricing     PricingEngine
	credit      CreditValidator
	numbers     OrderNumberGenerator
	deposits    DepositCollector

	currency       string
	deliveryLead   time.Duration
	receivableTerm time.Duration
}

// NewOrderOrchestrator constructs the order creation saga coordinator.
func NewOrderOrchestrator(deps OrderOrchestratorDeps) (OrderOrchestrator, error) {
	switch {
	case deps.Customers == nil:
		return nil, errors.New("order orchestrator: customer repository is required")
	case deps.Orders == nil:
		return nil, errors.New("order orchestrator: order repository is required")
	case deps.OrderLines == nil:
		return nil, errors.New("order orchestrator: order line repository is required")
	case deps.Tasks == nil:
		return nil, errors.New("order orchestrator: production task repository is required")
	case deps.Receivables == nil:
		return nil, errors.New("order orchestrator: receivable repository is required")
	case deps.Inventory == nil:
		return nil, errors.New("order orchestrator: inventory gate is required")
	case deps.Scheduler == nil:
		return nil, errors.New("order orchestrator: production scheduler is required")
	case deps.OrderNumbers == nil:
		return nil, errors.New("order orchestrator: order number generator is required")
	}

	currency := deps.Currency
	if currency == "" {
		currency = defaultCurrency
	}
	pricing := deps.Pricing
	if pricing == nil {
		pricing = NewPricingEngine(PricingPolicy{})
	}
	credit := deps.Credit
	if credit == nil {
		credit = NewCreditValidator(currency)
	}
	lead := deps.DeliveryLeadTime
	if lead <= 0 {
		lead = defaultDeliveryLeadTime
	}
	term := deps.ReceivableTerm
	if term <= 0 {
		term = defaultReceivableTerm
	}

	return &orderOrchestrator{
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
		customers:      deps.Customers,
		orders:         deps.Orders,
		orderLines:     deps.OrderLines,
		tasks:          deps.Tasks,
		receivables:    deps.Receivables,
		inventory:      deps.Inventory,
		scheduler:      deps.Scheduler,
		pricing:        pricing,
		credit:         credit,
		numbers:        deps.OrderNumbers,
		deposits:       deps.Deposits,
		currency:       currency,
		deliveryLead:   lead,
		receivableTerm: term,
	}, nil
}

// ProcessCompleteOrder validates credit and stock, then runs the creation saga: persist the order,
// reserve and persist every line, schedule production, book the receivable or card deposit. Any
// failure after the order is persisted unwinds the completed steps in reverse order.
func (o *orderOrchestrator) ProcessCompleteOrder(ctx context.Context, req ProcessOrderRequest) (confirmation OrderConfirmation, err error) {
	req, err = ValidateProcessOrderRequest(req, o.currency)
	if err != nil {
		return OrderConfirmation{}, err
	}

	ctx, span := startSpan(ctx, o.tracer, "fulfillment.ProcessCompleteOrder",
		attribute.String("customer.id", req.CustomerID),
		attribute.String("payment.method", string(req.PaymentMethod)),
		attribute.Int("order.lines", len(req.Lines)),
	)
	defer func() {
		o.metrics.ordersProcessed.Add(ctx, 1, metric.WithAttributes(outcome(err)))
		endSpan(span, err)
	}()

	customer, err := o.customers.FindByID(ctx, req.CustomerID)
	if err != nil {
		return OrderConfirmation{}, mapRepositoryError("customers.find", "customer "+req.CustomerID, err)
	}

	credit := o.credit.ValidateCredit(customer, naiveSubtotal(req.Lines))
	if !credit.Approved {
		return OrderConfirmation{}, &CreditDeniedError{Result: credit}
	}

	for _, demand := range demandBySKU(req.Lines) {
		availability, err := o.inventory.CheckAvailability(ctx, demand.ItemID, demand.Quantity)
		if err != nil {
			return OrderConfirmation{}, err
		}
		if !availability.Sufficient {
			return OrderConfirmation{}, &InsufficientInventoryError{
				SKU:       availability.SKU,
				Requested: availability.Requested,
				Available: availability.Available,
			}
		}
	}

	totals, err := o.pricing.Price(req.Lines, customer.Tier)
	if err != nil {
		return OrderConfirmation{}, err
	}

	number, err := o.numbers.NextOrderNumber(ctx)
	if err != nil {
		return OrderConfirmation{}, err
	}

	now := o.clock()
	delivery := now.Add(o.deliveryLead)
	if req.ExpectedDelivery != nil {
		delivery = *req.ExpectedDelivery
	}
	order := domain.Order{
		ID:                  orderIDPrefix + o.newID(),
		OrderNumber:         number,
		CustomerID:          customer.ID,
		Currency:            req.Currency,
		TotalAmount:         totals.Total,
		Totals:              totals,
		PaymentMethod:       req.PaymentMethod,
		Status:              domain.OrderStatusActive,
		ProductionStatus:    domain.StageDesign,
		SpecialInstructions: req.SpecialInstructions,
		Rush:                req.Rush,
		ExpectedDelivery:    delivery,
		CreatedBy:           req.ActorID,
		UpdatedBy:           req.ActorID,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	span.SetAttributes(attribute.String("order.id", order.ID))

	saga := o.saga.begin(ctx, sagaProcessOrder, order.ID)

	if err := saga.step(ctx, "persist_order", func(ctx context.Context) error {
		return mapRepositoryError("orders.insert", "order "+order.ID, o.orders.Insert(ctx, order))
	}); err != nil {
		return OrderConfirmation{}, saga.abort(ctx, err)
	}
	saga.push("persist_order", func(ctx context.Context) error {
		return o.markCreationFailed(ctx, order)
	})

	lines := make([]domain.OrderLine, 0, len(req.Lines))
	for i, input := range req.Lines {
		line := domain.OrderLine{
			ID:            orderLineIDPrefix + o.newID(),
			OrderID:       order.ID,
			ItemID:        input.ItemID,
			Quantity:      input.Quantity,
			UnitPrice:     input.UnitPrice,
			TotalPrice:    input.UnitPrice * int64(input.Quantity),
			Customization: input.Customization,
			SerialNumber:  input.SerialNumber,
			CreatedAt:     now,
		}

		reserveStep := fmt.Sprintf("reserve_inventory[%d]", i)
		if err := saga.step(ctx, reserveStep, func(ctx context.Context) error {
			reservation, err := o.inventory.TryReserve(ctx, ReserveLineCommand{
				OrderID:     order.ID,
				OrderLineID: line.ID,
				SKU:         line.ItemID,
				Quantity:    line.Quantity,
			})
			line.ReservationID = reservation.ID
			return err
		}); err != nil {
			return OrderConfirmation{}, saga.abort(ctx, err)
		}
		reservationID := line.ReservationID
		saga.push(reserveStep, func(ctx context.Context) error {
			_, err := o.inventory.Release(ctx, reservationID, reasonOrderCreationFailed)
			return err
		})

		if err := saga.step(ctx, fmt.Sprintf("persist_line[%d]", i), func(ctx context.Context) error {
			return mapRepositoryError("order_lines.insert", "order line "+line.ID, o.orderLines.Insert(ctx, line))
		}); err != nil {
			return OrderConfirmation{}, saga.abort(ctx, err)
		}
		lines = append(lines, line)
	}

	var tasks []domain.ProductionTask
	if err := saga.step(ctx, "schedule_production", func(ctx context.Context) error {
		scheduled, err := o.scheduler.Schedule(ctx, order, lines)
		tasks = scheduled
		return err
	}); err != nil {
		return OrderConfirmation{}, saga.abort(ctx, err)
	}
	saga.push("schedule_production", func(ctx context.Context) error {
		return o.cancelScheduledTasks(ctx, tasks)
	})

	payment := PaymentInfo{
		Method:          order.PaymentMethod,
		DepositRequired: totals.DepositRequired,
		BalanceDue:      totals.BalanceDue,
	}

	if order.PaymentMethod == domain.PaymentMethodAccount {
		entry := domain.ReceivableEntry{
			ID:         receivableIDPrefix + o.newID(),
			OrderID:    order.ID,
			CustomerID: customer.ID,
			Amount:     totals.Total,
			Currency:   order.Currency,
			DueDate:    now.Add(o.receivableTerm),
			CreatedAt:  now,
		}
		if err := saga.step(ctx, "book_receivable", func(ctx context.Context) error {
			return mapRepositoryError("receivables.insert", "receivable "+entry.ID, o.receivables.Insert(ctx, entry))
		}); err != nil {
			return OrderConfirmation{}, saga.abort(ctx, err)
		}
		saga.push("book_receivable", func(ctx context.Context) error {
			return o.receivables.Delete(ctx, entry.ID)
		})
		payment.CreditTerms = &CreditTerms{
			PaymentTerms:    customer.PaymentTerms,
			ReceivableID:    entry.ID,
			AmountDue:       entry.Amount,
			DueDate:         entry.DueDate,
			AvailableCredit: credit.AvailableCredit,
		}
	}

	if order.PaymentMethod == domain.PaymentMethodCard && o.deposits != nil && totals.DepositRequired > 0 {
		var intent DepositIntent
		if err := saga.step(ctx, "create_deposit", func(ctx context.Context) error {
			created, err := o.deposits.CreateDepositIntent(ctx, DepositRequest{
				OrderID:       order.ID,
				OrderNumber:   order.OrderNumber,
				CustomerID:    customer.ID,
				CustomerEmail: customer.Email,
				Amount:        totals.DepositRequired,
				Currency:      order.Currency,
			})
			if err != nil {
				return &PersistenceError{Op: "deposits.create", Err: err}
			}
			intent = created
			return nil
		}); err != nil {
			return OrderConfirmation{}, saga.abort(ctx, err)
		}
		saga.push("create_deposit", func(ctx context.Context) error {
			_, err := o.deposits.VoidDepositIntent(ctx, intent.ID, reasonOrderCreationFailed)
			return err
		})

		order.DepositIntentID = intent.ID
		order.DepositStatus = intent.Status
		if err := saga.step(ctx, "record_deposit", func(ctx context.Context) error {
			return mapRepositoryError("orders.update", "order "+order.ID, o.orders.Update(ctx, order))
		}); err != nil {
			return OrderConfirmation{}, saga.abort(ctx, err)
		}
		payment.Deposit = &intent
	}

	saga.complete(ctx)

	confirmation = buildConfirmation(order, customer, lines, tasks, payment)
	if o.archive != nil {
		uri, archiveErr := o.archive.ArchiveConfirmation(ctx, confirmation)
		if archiveErr != nil {
			o.logger(ctx, "order.archive.failed", map[string]any{
				"orderId": order.ID,
				"error":   archiveErr.Error(),
			})
		} else {
			confirmation.ArchiveURI = uri
		}
	}

	o.publish(ctx, OrderEvent{
		Type:        OrderEventCreated,
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		CustomerID:  order.CustomerID,
		Stage:       string(order.ProductionStatus),
		Status:      string(order.Status),
		ActorID:     req.ActorID,
		OccurredAt:  now,
		Metadata: map[string]any{
			"total":         totals.Total,
			"currency":      order.Currency,
			"paymentMethod": string(order.PaymentMethod),
			"lines":         len(lines),
		},
	})

	return confirmation, nil
}

// markCreationFailed closes out an order whose creation saga aborted. The order stays on record.
func (o *orderOrchestrator) markCreationFailed(ctx context.Context, order domain.Order) error {
	now := o.clock()
	order.Status = domain.OrderStatusCancelled
	order.CancelReason = reasonOrderCreationFailed
	order.CancelledBy = systemActor
	order.CancelledAt = &now
	order.UpdatedBy = systemActor
	order.UpdatedAt = now
	return o.orders.Update(ctx, order)
}

func (o *orderOrchestrator) cancelScheduledTasks(ctx context.Context, tasks []domain.ProductionTask) error {
	if len(tasks) == 0 {
		return nil
	}
	now := o.clock()
	cancelled := make([]domain.ProductionTask, 0, len(tasks))
	for _, task := range tasks {
		task.Status = domain.TaskStatusCancelled
		task.CancelledAt = &now
		task.UpdatedAt = now
		cancelled = append(cancelled, task)
	}
	return o.tasks.UpdateBatch(ctx, cancelled)
}

func buildConfirmation(order domain.Order, customer domain.Customer, lines []domain.OrderLine, tasks []domain.ProductionTask, payment PaymentInfo) OrderConfirmation {
	processed := make([]ProcessedLine, 0, len(lines))
	for _, line := range lines {
		processed = append(processed, ProcessedLine{
			LineID:        line.ID,
			ItemID:        line.ItemID,
			Quantity:      line.Quantity,
			UnitPrice:     line.UnitPrice,
			TotalPrice:    line.TotalPrice,
			Customization: line.Customization,
			SerialNumber:  line.SerialNumber,
			ReservationID: line.ReservationID,
		})
	}
	schedule := make([]ScheduledTask, 0, len(tasks))
	for _, task := range tasks {
		schedule = append(schedule, ScheduledTask{
			TaskID:              task.ID,
			LineID:              task.OrderLineID,
			Stage:               task.Stage,
			Sequence:            task.Sequence,
			WorkerID:            task.AssignedWorkerID,
			EstimatedStart:      task.EstimatedStart,
			EstimatedCompletion: task.EstimatedCompletion,
			Status:              task.Status,
		})
	}
	return OrderConfirmation{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		Status:      order.Status,
		Customer: CustomerSummary{
			ID:           customer.ID,
			FullName:     customer.FullName,
			Email:        customer.Email,
			Tier:         customer.Tier,
			PaymentTerms: customer.PaymentTerms,
		},
		Lines:               processed,
		Currency:            order.Currency,
		Totals:              order.Totals,
		Payment:             payment,
		ProductionSchedule:  schedule,
		EstimatedDelivery:   order.ExpectedDelivery,
		SpecialInstructions: order.SpecialInstructions,
		Rush:                order.Rush,
		CreatedAt:           order.CreatedAt,
	}
}

// demandBySKU sums line quantities per SKU in first-seen order, so lines sharing a SKU are checked
// against stock together.
func demandBySKU(lines []OrderLineInput) []OrderLineInput {
	index := make(map[string]int, len(lines))
	demand := make([]OrderLineInput, 0, len(lines))
	for _, line := range lines {
		if i, ok := index[line.ItemID]; ok {
			demand[i].Quantity += line.Quantity
			continue
		}
		index[line.ItemID] = len(demand)
		demand = append(demand, OrderLineInput{ItemID: line.ItemID, Quantity: line.Quantity})
	}
	return demand
}
