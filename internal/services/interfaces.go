package services

import (
	"context"
	"time"

	domain "github.com/lustreworks/fulfillment-api/internal/domain"
)

// Fulfillment is the public boundary of the order fulfillment core. Every operation returns a
// Result carrying either data or an error, never both.
type Fulfillment interface {
	ProcessCompleteOrder(ctx context.Context, req ProcessOrderRequest) Result[OrderConfirmation]
	ValidateCustomerCredit(ctx context.Context, customerID string, amount int64) Result[domain.CreditValidationResult]
	CalculateOrderTotal(ctx context.Context, lines []OrderLineInput, customerID string) Result[domain.OrderTotals]
	CreateProductionTasks(ctx context.Context, orderID string) Result[[]domain.ProductionTask]
	UpdateOrderStage(ctx context.Context, req StageUpdateRequest) Result[StageUpdateResult]
	HandleOrderCancellation(ctx context.Context, req CancellationRequest) Result[CancellationResult]
}

// Result carries the outcome of a public operation.
type Result[T any] struct {
	Data  *T
	Error *OperationError
}

// OK reports whether the operation succeeded.
func (r Result[T]) OK() bool { return r.Error == nil }

func resultOf[T any](data T, err error) Result[T] {
	if err != nil {
		return Result[T]{Error: ClassifyError(err)}
	}
	return Result[T]{Data: &data}
}

// OrderOrchestrator runs the order creation saga.
type OrderOrchestrator interface {
	ProcessCompleteOrder(ctx context.Context, req ProcessOrderRequest) (OrderConfirmation, error)
}

// StageTransitionManager advances orders through production.
type StageTransitionManager interface {
	UpdateOrderStage(ctx context.Context, req StageUpdateRequest) (StageUpdateResult, error)
}

// CancellationCompensator reverses the side effects of an order.
type CancellationCompensator interface {
	HandleOrderCancellation(ctx context.Context, req CancellationRequest) (CancellationResult, error)
}

// CreditValidator checks an amount against a customer's available credit.
type CreditValidator interface {
	ValidateCredit(customer domain.Customer, amount int64) domain.CreditValidationResult
}

// PricingEngine computes order totals for a customer tier.
type PricingEngine interface {
	Price(lines []OrderLineInput, tier domain.SpendingTier) (domain.OrderTotals, error)
}

// InventoryGate fronts the stock store. TryReserve checks and reserves in one atomic step.
type InventoryGate interface {
	CheckAvailability(ctx context.Context, sku string, quantity int) (InventoryAvailability, error)
	TryReserve(ctx context.Context, cmd ReserveLineCommand) (domain.InventoryReservation, error)
	Release(ctx context.Context, reservationID, reason string) (ReleaseOutcome, error)
}

// ProductionScheduler expands order lines into stage tasks with assigned workers.
type ProductionScheduler interface {
	// Plan resolves a worker for every (line, stage) pair without writing anything. It fails
	// with a not-found error when any stage has no active worker.
	Plan(ctx context.Context, order domain.Order, lines []domain.OrderLine, stages []domain.ProductionStage) ([]domain.ProductionTask, error)
	// Schedule plans all six stages for every line and persists the tasks in one batch.
	Schedule(ctx context.Context, order domain.Order, lines []domain.OrderLine) ([]domain.ProductionTask, error)
}

// OrderEventPublisher publishes order domain events for downstream consumers such as
// notification delivery.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) (string, error)
}

// OrderArchive stores durable copies of confirmations and cancellation evidence.
type OrderArchive interface {
	ArchiveConfirmation(ctx context.Context, confirmation OrderConfirmation) (string, error)
	ArchiveCancellation(ctx context.Context, result CancellationResult) (string, error)
}

// DepositCollector places and voids card deposit holds with the payment provider.
type DepositCollector interface {
	CreateDepositIntent(ctx context.Context, req DepositRequest) (DepositIntent, error)
	VoidDepositIntent(ctx context.Context, intentID, reason string) (DepositIntent, error)
}

const (
	OrderEventCreated      = "order.created"
	OrderEventStageChanged = "order.stage.changed"
	OrderEventCompleted    = "order.completed"
	OrderEventCancelled    = "order.cancelled"
)

// OrderEvent captures metadata for emitted order domain events.
type OrderEvent struct {
	Type        string         `json:"type"`
	OrderID     string         `json:"orderId"`
	OrderNumber string         `json:"orderNumber,omitempty"`
	CustomerID  string         `json:"customerId,omitempty"`
	Stage       string         `json:"stage,omitempty"`
	Status      string         `json:"status,omitempty"`
	ActorID     string         `json:"actorId,omitempty"`
	OccurredAt  time.Time      `json:"occurredAt"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// OrderLineInput is one requested line of a new order.
type OrderLineInput struct {
	ItemID        string
	Quantity      int
	UnitPrice     int64
	Customization string
	SerialNumber  string
}

// ProcessOrderRequest is the typed input of ProcessCompleteOrder.
type ProcessOrderRequest struct {
	CustomerID          string
	PaymentMethod       domain.PaymentMethod
	Lines               []OrderLineInput
	Currency            string
	SpecialInstructions string
	Rush                bool
	ExpectedDelivery    *time.Time
	ActorID             string
}

// StageUpdateRequest asks to move an order from CurrentStage to NextStage.
type StageUpdateRequest struct {
	OrderID      string
	CurrentStage domain.ProductionStage
	NextStage    domain.ProductionStage
	ActorID      string
	Notes        string
}

// StageUpdateResult reports the applied transition with counts of touched tasks.
type StageUpdateResult struct {
	OrderID        string
	PreviousStage  domain.ProductionStage
	Stage          domain.ProductionStage
	OrderStatus    domain.OrderStatus
	TasksCompleted int
	TasksStarted   int
	TasksCreated   int
	Notes          string
	UpdatedBy      string
	UpdatedAt      time.Time
}

// CancellationRequest asks to cancel an order and reverse its side effects.
type CancellationRequest struct {
	OrderID string
	Reason  string
	ActorID string
}

// CancellationResult is the evidence of what a cancellation actually changed.
type CancellationResult struct {
	OrderID                     string    `json:"orderId"`
	Reason                      string    `json:"reason"`
	CancelledBy                 string    `json:"cancelledBy"`
	CancelledAt                 time.Time `json:"cancelledAt"`
	AlreadyCancelled            bool      `json:"alreadyCancelled"`
	Lines                       int       `json:"lines"`
	ReservationsReleased        int       `json:"reservationsReleased"`
	ReservationsAlreadyReleased int       `json:"reservationsAlreadyReleased"`
	ReservationsMissing         int       `json:"reservationsMissing"`
	ReceivablesReversed         int       `json:"receivablesReversed"`
	TasksCancelled              int       `json:"tasksCancelled"`
	DepositVoided               bool      `json:"depositVoided"`
	Summary                     string    `json:"summary"`
	ArchiveURI                  string    `json:"-"`
}

// InventoryAvailability answers an availability check.
type InventoryAvailability struct {
	SKU        string
	Requested  int
	Available  int
	Sufficient bool
}

// ReserveLineCommand places a hold for one order line.
type ReserveLineCommand struct {
	OrderID     string
	OrderLineID string
	SKU         string
	Quantity    int
}

// ReleaseOutcome reports whether a release changed stock.
type ReleaseOutcome struct {
	Reservation     domain.InventoryReservation
	Released        bool
	AlreadyReleased bool
}

// DepositRequest describes the card deposit to hold for an order.
type DepositRequest struct {
	OrderID       string
	OrderNumber   string
	CustomerID    string
	CustomerEmail string
	Amount        int64
	Currency      string
}

// DepositIntent is the provider's view of a deposit hold.
type DepositIntent struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
	ClientSecret string `json:"-"`
}

// OrderConfirmation is returned by ProcessCompleteOrder and archived as JSON.
type OrderConfirmation struct {
	OrderID             string             `json:"orderId"`
	OrderNumber         string             `json:"orderNumber"`
	Status              domain.OrderStatus `json:"status"`
	Customer            CustomerSummary    `json:"customer"`
	Lines               []ProcessedLine    `json:"lines"`
	Currency            string             `json:"currency"`
	Totals              domain.OrderTotals `json:"totals"`
	Payment             PaymentInfo        `json:"payment"`
	ProductionSchedule  []ScheduledTask    `json:"productionSchedule"`
	EstimatedDelivery   time.Time          `json:"estimatedDelivery"`
	SpecialInstructions string             `json:"specialInstructions,omitempty"`
	Rush                bool               `json:"rush"`
	CreatedAt           time.Time          `json:"createdAt"`
	ArchiveURI          string             `json:"-"`
}

// CustomerSummary is the customer block of a confirmation.
type CustomerSummary struct {
	ID           string              `json:"id"`
	FullName     string              `json:"fullName"`
	Email        string              `json:"email"`
	Tier         domain.SpendingTier `json:"tier"`
	PaymentTerms string              `json:"paymentTerms,omitempty"`
}

// ProcessedLine is a persisted order line as reported back to the caller.
type ProcessedLine struct {
	LineID        string `json:"lineId"`
	ItemID        string `json:"itemId"`
	Quantity      int    `json:"quantity"`
	UnitPrice     int64  `json:"unitPrice"`
	TotalPrice    int64  `json:"totalPrice"`
	Customization string `json:"customization,omitempty"`
	SerialNumber  string `json:"serialNumber,omitempty"`
	ReservationID string `json:"reservationId"`
}

// PaymentInfo is the payment block of a confirmation. CreditTerms is only set for ACCOUNT orders
// and Deposit only for CARD orders with a configured provider.
type PaymentInfo struct {
	Method          domain.PaymentMethod `json:"method"`
	DepositRequired int64                `json:"depositRequired"`
	BalanceDue      int64                `json:"balanceDue"`
	CreditTerms     *CreditTerms         `json:"creditTerms,omitempty"`
	Deposit         *DepositIntent       `json:"deposit,omitempty"`
}

// CreditTerms describes the receivable booked for an ACCOUNT order.
type CreditTerms struct {
	PaymentTerms    string    `json:"paymentTerms"`
	ReceivableID    string    `json:"receivableId"`
	AmountDue       int64     `json:"amountDue"`
	DueDate         time.Time `json:"dueDate"`
	AvailableCredit int64     `json:"availableCredit"`
}

// ScheduledTask is one production task of a confirmation.
type ScheduledTask struct {
	TaskID              string                 `json:"taskId"`
	LineID              string                 `json:"lineId"`
	Stage               domain.ProductionStage `json:"stage"`
	Sequence            int                    `json:"sequence"`
	WorkerID            string                 `json:"workerId"`
	EstimatedStart      time.Time              `json:"estimatedStart"`
	EstimatedCompletion time.Time              `json:"estimatedCompletion"`
	Status              domain.TaskStatus      `json:"status"`
}
