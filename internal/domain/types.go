package domain

import (
	"time"
)

// OrderStatus enumerates the lifecycle states of a customer order.
type OrderStatus string

const (
	// OrderStatusActive marks an order that is in production or awaiting it.
	OrderStatusActive OrderStatus = "ACTIVE"
	// OrderStatusCancelled marks an order that was cancelled and compensated.
	OrderStatusCancelled OrderStatus = "CANCELLED"
	// OrderStatusCompleted marks an order whose production finished QC.
	OrderStatusCompleted OrderStatus = "COMPLETED"
)

// PaymentMethod identifies how the customer settles the order.
type PaymentMethod string

const (
	PaymentMethodAccount PaymentMethod = "ACCOUNT"
	PaymentMethodCard    PaymentMethod = "CARD"
	PaymentMethodCash    PaymentMethod = "CASH"
	PaymentMethodWire    PaymentMethod = "WIRE"
)

// SpendingTier classifies customers for discount and credit policy.
type SpendingTier string

const (
	SpendingTierNew     SpendingTier = "NEW"
	SpendingTierRegular SpendingTier = "REGULAR"
	SpendingTierVIP     SpendingTier = "VIP"
	SpendingTierPremium SpendingTier = "PREMIUM"
)

// ProductionStage is one of the fixed manufacturing steps every order line passes through.
type ProductionStage string

const (
	StageDesign    ProductionStage = "DESIGN"
	StageCAD       ProductionStage = "CAD"
	StageCasting   ProductionStage = "CASTING"
	StageSetting   ProductionStage = "SETTING"
	StagePolishing ProductionStage = "POLISHING"
	StageQC        ProductionStage = "QC"

	// StageCompleted is the production status recorded once QC has been closed out. It never
	// carries tasks.
	StageCompleted ProductionStage = "COMPLETED"
)

// ProductionStages lists the task-bearing stages in their strict execution order.
var ProductionStages = []ProductionStage{
	StageDesign,
	StageCAD,
	StageCasting,
	StageSetting,
	StagePolishing,
	StageQC,
}

// StageIndex returns the position of the stage in ProductionStages, or -1 when the stage does not
// carry tasks.
func StageIndex(stage ProductionStage) int {
	for i, candidate := range ProductionStages {
		if candidate == stage {
			return i
		}
	}
	return -1
}

// TaskStatus enumerates production task states.
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "PENDING"
	TaskStatusInProgress TaskStatus = "IN_PROGRESS"
	TaskStatusCompleted  TaskStatus = "COMPLETED"
	TaskStatusCancelled  TaskStatus = "CANCELLED"
)

// Open reports whether the task still represents outstanding work.
func (s TaskStatus) Open() bool {
	return s == TaskStatusPending || s == TaskStatusInProgress
}

// Customer is the external customer record consumed for credit and pricing decisions.
type Customer struct {
	ID             string
	FullName       string
	Email          string
	CreditLimit    int64
	AccountBalance int64
	Tier           SpendingTier
	PaymentTerms   string
}

// Employee is a production worker from the employee directory.
type Employee struct {
	ID             string
	Name           string
	Specialization ProductionStage
	Active         bool
}

// Order is the persisted order header.
type Order struct {
	ID                  string
	OrderNumber         string
	CustomerID          string
	Currency            string
	TotalAmount         int64
	Totals              OrderTotals
	PaymentMethod       PaymentMethod
	Status              OrderStatus
	ProductionStatus    ProductionStage
	SpecialInstructions string
	Rush                bool
	ExpectedDelivery    time.Time
	DepositIntentID     string
	DepositStatus       string
	CancelReason        string
	CancelledBy         string
	CancelledAt         *time.Time
	CompletedAt         *time.Time
	CreatedBy           string
	UpdatedBy           string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// OrderLine is an immutable line item of an order.
type OrderLine struct {
	ID            string
	OrderID       string
	ItemID        string
	Quantity      int
	UnitPrice     int64
	TotalPrice    int64
	Customization string
	SerialNumber  string
	ReservationID string
	CreatedAt     time.Time
}

// ProductionTask is a single stage of work for one order line.
type ProductionTask struct {
	ID                  string
	OrderID             string
	OrderLineID         string
	Stage               ProductionStage
	Sequence            int
	AssignedWorkerID    string
	EstimatedStart      time.Time
	EstimatedCompletion time.Time
	Status              TaskStatus
	Notes               string
	StartedAt           *time.Time
	CompletedAt         *time.Time
	CancelledAt         *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// ReceivableEntry records money owed under ACCOUNT payment terms.
type ReceivableEntry struct {
	ID         string
	OrderID    string
	CustomerID string
	Amount     int64
	Currency   string
	DueDate    time.Time
	CreatedAt  time.Time
}

// OrderTotals is the computed pricing breakdown of an order, in minor units.
type OrderTotals struct {
	Subtotal        int64 `json:"subtotal"`
	Discount        int64 `json:"discount"`
	Tax             int64 `json:"tax"`
	Total           int64 `json:"total"`
	DepositRequired int64 `json:"depositRequired"`
	BalanceDue      int64 `json:"balanceDue"`
}

// CreditValidationResult describes the outcome of a credit check. It is never persisted.
type CreditValidationResult struct {
	Approved        bool   `json:"approved"`
	AvailableCredit int64  `json:"availableCredit"`
	CurrentBalance  int64  `json:"currentBalance"`
	CreditLimit     int64  `json:"creditLimit"`
	RequestedAmount int64  `json:"requestedAmount"`
	Reason          string `json:"reason,omitempty"`
}

// InventoryStock represents current stock metrics tracked per SKU.
type InventoryStock struct {
	SKU       string
	OnHand    int
	Reserved  int
	Available int
	UpdatedAt time.Time
}

// InventoryReservation holds stock for a single order line.
type InventoryReservation struct {
	ID          string
	OrderID     string
	OrderLineID string
	SKU         string
	Quantity    int
	Status      string
	Reason      string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	ReleasedAt  *time.Time
	CommittedAt *time.Time
}

// SagaStatus enumerates saga log entry kinds.
type SagaStatus string

const (
	SagaStatusStarted      SagaStatus = "STARTED"
	SagaStatusStepDone     SagaStatus = "STEP_DONE"
	SagaStatusStepFailed   SagaStatus = "STEP_FAILED"
	SagaStatusCompensating SagaStatus = "COMPENSATING"
	SagaStatusCompensated  SagaStatus = "COMPENSATED"
	SagaStatusCompleted    SagaStatus = "COMPLETED"
	SagaStatusFailed       SagaStatus = "FAILED"
)

// SagaLogEntry is an append-only record of a saga step transition.
type SagaLogEntry struct {
	ID         string
	SagaID     string
	Saga       string
	OrderID    string
	Step       string
	Status     SagaStatus
	Error      string
	TraceID    string
	SpanID     string
	OccurredAt time.Time
}

// HealthStatus summarises dependency health for readiness probes.
type HealthStatus string

const (
	HealthStatusOK       HealthStatus = "ok"
	HealthStatusDegraded HealthStatus = "degraded"
	HealthStatusError    HealthStatus = "error"
)

// HealthCheck is the outcome of one dependency probe.
type HealthCheck struct {
	Status    HealthStatus  `json:"status"`
	Detail    string        `json:"detail,omitempty"`
	Latency   time.Duration `json:"latencyMs"`
	CheckedAt time.Time     `json:"checkedAt"`
}

// HealthReport aggregates dependency checks.
type HealthReport struct {
	Status      HealthStatus           `json:"status"`
	Checks      map[string]HealthCheck `json:"checks"`
	GeneratedAt time.Time              `json:"generatedAt"`
}
