package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	domain "github.com/lustreworks/fulfillment-api/internal/domain"
	"github.com/lustreworks/fulfillment-api/internal/repositories"
)

var fixedNow = time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

func sequentialIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("%04d", n)
	}
}

type repoError struct {
	notFound    bool
	conflict    bool
	unavailable bool
	msg         string
}

func (e *repoError) Error() string       { return e.msg }
func (e *repoError) IsNotFound() bool    { return e.notFound }
func (e *repoError) IsConflict() bool    { return e.conflict }
func (e *repoError) IsUnavailable() bool { return e.unavailable }

func notFoundErr(what string) error { return &repoError{notFound: true, msg: what + " not found"} }

var _ repositories.RepositoryError = (*repoError)(nil)

type stubCustomerRepo struct {
	customers map[string]domain.Customer
	findFn    func(context.Context, string) (domain.Customer, error)
}

func (s *stubCustomerRepo) FindByID(ctx context.Context, customerID string) (domain.Customer, error) {
	if s.findFn != nil {
		return s.findFn(ctx, customerID)
	}
	customer, ok := s.customers[customerID]
	if !ok {
		return domain.Customer{}, notFoundErr("customer")
	}
	return customer, nil
}

type stubEmployeeDirectory struct {
	byStage map[domain.ProductionStage]domain.Employee
	calls   []domain.ProductionStage
}

func (s *stubEmployeeDirectory) FindActiveBySpecialization(_ context.Context, stage domain.ProductionStage) (domain.Employee, error) {
	s.calls = append(s.calls, stage)
	employee, ok := s.byStage[stage]
	if !ok || !employee.Active {
		return domain.Employee{}, notFoundErr("employee")
	}
	return employee, nil
}

func fullWorkforce() *stubEmployeeDirectory {
	dir := &stubEmployeeDirectory{byStage: make(map[domain.ProductionStage]domain.Employee)}
	for _, stage := range domain.ProductionStages {
		dir.byStage[stage] = domain.Employee{
			ID:             "emp_" + string(stage),
			Name:           "Worker " + string(stage),
			Specialization: stage,
			Active:         true,
		}
	}
	return dir
}

// memoryInventory mirrors the transactional semantics of the Firestore inventory repository.
type memoryInventory struct {
	mu           sync.Mutex
	stock        map[string]domain.InventoryStock
	reservations map[string]domain.InventoryReservation
	reserveFn    func(context.Context, repositories.InventoryReserveRequest) (repositories.InventoryReserveResult, error)
	releaseFn    func(context.Context, repositories.InventoryReleaseRequest) (repositories.InventoryReleaseResult, error)
	releaseCalls []string
}

func newMemoryInventory(levels map[string]int) *memoryInventory {
	inv := &memoryInventory{
		stock:        make(map[string]domain.InventoryStock),
		reservations: make(map[string]domain.InventoryReservation),
	}
	for sku, onHand := range levels {
		inv.stock[sku] = domain.InventoryStock{SKU: sku, OnHand: onHand, Available: onHand}
	}
	return inv
}

func (m *memoryInventory) GetStock(_ context.Context, sku string) (domain.InventoryStock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stock, ok := m.stock[sku]
	if !ok {
		return domain.InventoryStock{}, repositories.NewInventoryError(repositories.InventoryErrorStockNotFound, "stock not found", nil)
	}
	return stock, nil
}

func (m *memoryInventory) Reserve(ctx context.Context, req repositories.InventoryReserveRequest) (repositories.InventoryReserveResult, error) {
	if m.reserveFn != nil {
		return m.reserveFn(ctx, req)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	res := req.Reservation
	stock, ok := m.stock[res.SKU]
	if !ok {
		return repositories.InventoryReserveResult{}, repositories.NewInventoryError(repositories.InventoryErrorStockNotFound, "stock not found", nil)
	}
	if _, exists := m.reservations[res.ID]; exists {
		return repositories.InventoryReserveResult{}, repositories.NewInventoryError(repositories.InventoryErrorReservationExists, "exists", nil)
	}
	if stock.Available < res.Quantity {
		return repositories.InventoryReserveResult{}, repositories.NewInsufficientStockError(res.SKU, res.Quantity, stock.Available)
	}
	stock.Reserved += res.Quantity
	stock.Available -= res.Quantity
	m.stock[res.SKU] = stock
	m.reservations[res.ID] = res
	return repositories.InventoryReserveResult{Reservation: res, Stock: stock}, nil
}

func (m *memoryInventory) Release(ctx context.Context, req repositories.InventoryReleaseRequest) (repositories.InventoryReleaseResult, error) {
	m.mu.Lock()
	m.releaseCalls = append(m.releaseCalls, req.ReservationID)
	m.mu.Unlock()
	if m.releaseFn != nil {
		return m.releaseFn(ctx, req)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	res, ok := m.reservations[req.ReservationID]
	if !ok {
		return repositories.InventoryReleaseResult{}, repositories.NewInventoryError(repositories.InventoryErrorReservationNotFound, "missing", nil)
	}
	switch res.Status {
	case reservationStatusReleased:
		return repositories.InventoryReleaseResult{Reservation: res, Stock: m.stock[res.SKU]},
			repositories.NewInventoryError(repositories.InventoryErrorAlreadyReleased, "already released", nil)
	case reservationStatusCommitted:
		return repositories.InventoryReleaseResult{}, repositories.NewInventoryError(repositories.InventoryErrorInvalidReservationState, "committed", nil)
	}
	stock := m.stock[res.SKU]
	stock.Reserved -= res.Quantity
	stock.Available += res.Quantity
	m.stock[res.SKU] = stock
	now := req.Now
	res.Status = reservationStatusReleased
	res.Reason = req.Reason
	res.ReleasedAt = &now
	m.reservations[res.ID] = res
	return repositories.InventoryReleaseResult{Reservation: res, Stock: stock}, nil
}

func (m *memoryInventory) GetReservation(_ context.Context, reservationID string) (domain.InventoryReservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res, ok := m.reservations[reservationID]
	if !ok {
		return domain.InventoryReservation{}, repositories.NewInventoryError(repositories.InventoryErrorReservationNotFound, "missing", nil)
	}
	return res, nil
}

func (m *memoryInventory) available(sku string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stock[sku].Available
}

type memoryOrderRepo struct {
	orders   map[string]domain.Order
	updates  []domain.Order
	insertFn func(context.Context, domain.Order) error
	updateFn func(context.Context, domain.Order) error
}

func newMemoryOrderRepo() *memoryOrderRepo {
	return &memoryOrderRepo{orders: make(map[string]domain.Order)}
}

func (s *memoryOrderRepo) Insert(ctx context.Context, order domain.Order) error {
	if s.insertFn != nil {
		if err := s.insertFn(ctx, order); err != nil {
			return err
		}
	}
	s.orders[order.ID] = order
	return nil
}

func (s *memoryOrderRepo) Update(ctx context.Context, order domain.Order) error {
	if s.updateFn != nil {
		if err := s.updateFn(ctx, order); err != nil {
			return err
		}
	}
	if _, ok := s.orders[order.ID]; !ok {
		return notFoundErr("order")
	}
	s.orders[order.ID] = order
	s.updates = append(s.updates, order)
	return nil
}

func (s *memoryOrderRepo) FindByID(_ context.Context, orderID string) (domain.Order, error) {
	order, ok := s.orders[orderID]
	if !ok {
		return domain.Order{}, notFoundErr("order")
	}
	return order, nil
}

type memoryOrderLineRepo struct {
	lines    []domain.OrderLine
	insertFn func(context.Context, domain.OrderLine) error
}

func (s *memoryOrderLineRepo) Insert(ctx context.Context, line domain.OrderLine) error {
	if s.insertFn != nil {
		if err := s.insertFn(ctx, line); err != nil {
			return err
		}
	}
	s.lines = append(s.lines, line)
	return nil
}

func (s *memoryOrderLineRepo) ListByOrder(_ context.Context, orderID string) ([]domain.OrderLine, error) {
	var out []domain.OrderLine
	for _, line := range s.lines {
		if line.OrderID == orderID {
			out = append(out, line)
		}
	}
	return out, nil
}

type memoryTaskRepo struct {
	tasks         map[string]domain.ProductionTask
	insertCalls   int
	updateCalls   int
	insertBatchFn func(context.Context, []domain.ProductionTask) error
	updateBatchFn func(context.Context, []domain.ProductionTask) error
}

func newMemoryTaskRepo() *memoryTaskRepo {
	return &memoryTaskRepo{tasks: make(map[string]domain.ProductionTask)}
}

func (s *memoryTaskRepo) InsertBatch(ctx context.Context, tasks []domain.ProductionTask) error {
	s.insertCalls++
	if err := checkTaskBatch("insert", tasks); err != nil {
		return err
	}
	if s.insertBatchFn != nil {
		if err := s.insertBatchFn(ctx, tasks); err != nil {
			return err
		}
	}
	for _, task := range tasks {
		s.tasks[task.ID] = task
	}
	return nil
}

func (s *memoryTaskRepo) UpdateBatch(ctx context.Context, tasks []domain.ProductionTask) error {
	s.updateCalls++
	if err := checkTaskBatch("update", tasks); err != nil {
		return err
	}
	if s.updateBatchFn != nil {
		if err := s.updateBatchFn(ctx, tasks); err != nil {
			return err
		}
	}
	for _, task := range tasks {
		s.tasks[task.ID] = task
	}
	return nil
}

// checkTaskBatch applies the same size cap as the Firestore repository.
func checkTaskBatch(action string, tasks []domain.ProductionTask) error {
	if len(tasks) > repositories.MaxTaskBatchSize {
		return fmt.Errorf("production tasks %s: batch of %d exceeds %d", action, len(tasks), repositories.MaxTaskBatchSize)
	}
	return nil
}

func (s *memoryTaskRepo) ListByOrder(_ context.Context, orderID string) ([]domain.ProductionTask, error) {
	var out []domain.ProductionTask
	for _, task := range s.tasks {
		if task.OrderID == orderID {
			out = append(out, task)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OrderLineID != out[j].OrderLineID {
			return out[i].OrderLineID < out[j].OrderLineID
		}
		return out[i].Sequence < out[j].Sequence
	})
	return out, nil
}

func (s *memoryTaskRepo) countByStatus(orderID string, status domain.TaskStatus) int {
	n := 0
	for _, task := range s.tasks {
		if task.OrderID == orderID && task.Status == status {
			n++
		}
	}
	return n
}

type memoryReceivableRepo struct {
	entries  map[string]domain.ReceivableEntry
	insertFn func(context.Context, domain.ReceivableEntry) error
	deleted  []string
}

func newMemoryReceivableRepo() *memoryReceivableRepo {
	return &memoryReceivableRepo{entries: make(map[string]domain.ReceivableEntry)}
}

func (s *memoryReceivableRepo) Insert(ctx context.Context, entry domain.ReceivableEntry) error {
	if s.insertFn != nil {
		if err := s.insertFn(ctx, entry); err != nil {
			return err
		}
	}
	s.entries[entry.ID] = entry
	return nil
}

func (s *memoryReceivableRepo) ListByOrder(_ context.Context, orderID string) ([]domain.ReceivableEntry, error) {
	var out []domain.ReceivableEntry
	for _, entry := range s.entries {
		if entry.OrderID == orderID {
			out = append(out, entry)
		}
	}
	return out, nil
}

func (s *memoryReceivableRepo) Delete(_ context.Context, entryID string) error {
	if _, ok := s.entries[entryID]; !ok {
		return notFoundErr("receivable")
	}
	delete(s.entries, entryID)
	s.deleted = append(s.deleted, entryID)
	return nil
}

type stubCounterRepo struct {
	nextFn func(context.Context, string, int64) (int64, error)
	ids    []string
	value  int64
}

func (s *stubCounterRepo) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	s.ids = append(s.ids, counterID)
	if s.nextFn != nil {
		return s.nextFn(ctx, counterID, step)
	}
	s.value += step
	return s.value, nil
}

type memorySagaLog struct {
	entries  []domain.SagaLogEntry
	appendFn func(context.Context, domain.SagaLogEntry) error
}

func (s *memorySagaLog) Append(ctx context.Context, entry domain.SagaLogEntry) error {
	if s.appendFn != nil {
		if err := s.appendFn(ctx, entry); err != nil {
			return err
		}
	}
	s.entries = append(s.entries, entry)
	return nil
}

func (s *memorySagaLog) ListBySaga(_ context.Context, sagaID string) ([]domain.SagaLogEntry, error) {
	var out []domain.SagaLogEntry
	for _, entry := range s.entries {
		if entry.SagaID == sagaID {
			out = append(out, entry)
		}
	}
	return out, nil
}

func (s *memorySagaLog) statuses() []domain.SagaStatus {
	out := make([]domain.SagaStatus, 0, len(s.entries))
	for _, entry := range s.entries {
		out = append(out, entry.Status)
	}
	return out
}

type captureOrderEvents struct {
	events []OrderEvent
	err    error
}

func (c *captureOrderEvents) PublishOrderEvent(_ context.Context, event OrderEvent) (string, error) {
	if c.err != nil {
		return "", c.err
	}
	c.events = append(c.events, event)
	return fmt.Sprintf("msg-%d", len(c.events)), nil
}

type stubArchive struct {
	confirmations []OrderConfirmation
	cancellations []CancellationResult
	err           error
}

func (s *stubArchive) ArchiveConfirmation(_ context.Context, confirmation OrderConfirmation) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.confirmations = append(s.confirmations, confirmation)
	return "gs://confirmations/orders/" + confirmation.OrderID + "/confirmations/" + confirmation.OrderNumber + ".json", nil
}

func (s *stubArchive) ArchiveCancellation(_ context.Context, result CancellationResult) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.cancellations = append(s.cancellations, result)
	return "gs://confirmations/orders/" + result.OrderID + "/cancellations/x.json", nil
}

type stubDepositCollector struct {
	createFn func(context.Context, DepositRequest) (DepositIntent, error)
	voidFn   func(context.Context, string, string) (DepositIntent, error)
	created  []DepositRequest
	voided   []string
}

func (s *stubDepositCollector) CreateDepositIntent(ctx context.Context, req DepositRequest) (DepositIntent, error) {
	s.created = append(s.created, req)
	if s.createFn != nil {
		return s.createFn(ctx, req)
	}
	return DepositIntent{ID: "pi_" + req.OrderID, Status: "requires_payment_method", Amount: req.Amount, Currency: req.Currency}, nil
}

func (s *stubDepositCollector) VoidDepositIntent(ctx context.Context, intentID, reason string) (DepositIntent, error) {
	s.voided = append(s.voided, intentID)
	if s.voidFn != nil {
		return s.voidFn(ctx, intentID, reason)
	}
	return DepositIntent{ID: intentID, Status: depositStatusCanceled}, nil
}

type logRecord struct {
	event  string
	fields map[string]any
}

type captureLogger struct {
	mu      sync.Mutex
	records []logRecord
}

func (c *captureLogger) log(_ context.Context, event string, fields map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, logRecord{event: event, fields: fields})
}

func (c *captureLogger) count(event string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, r := range c.records {
		if r.event == event {
			n++
		}
	}
	return n
}

// fulfillmentFixture wires every service over in-memory stores.
type fulfillmentFixture struct {
	customers   *stubCustomerRepo
	employees   *stubEmployeeDirectory
	inventory   *memoryInventory
	orders      *memoryOrderRepo
	lines       *memoryOrderLineRepo
	tasks       *memoryTaskRepo
	receivables *memoryReceivableRepo
	counters    *stubCounterRepo
	sagaLogs    *memorySagaLog
	events      *captureOrderEvents
	archive     *stubArchive
	deposits    *stubDepositCollector
	logger      *captureLogger

	gate         InventoryGate
	scheduler    ProductionScheduler
	orchestrator OrderOrchestrator
	stages       StageTransitionManager
	cancellation CancellationCompensator
	service      Fulfillment
}

func newFulfillmentFixture(t *testing.T) *fulfillmentFixture {
	t.Helper()

	f := &fulfillmentFixture{
		customers: &stubCustomerRepo{customers: map[string]domain.Customer{
			"cus_new": {ID: "cus_new", FullName: "Ada Lovelace", Email: "ada@example.com", CreditLimit: 500000, AccountBalance: 0, Tier: domain.SpendingTierNew, PaymentTerms: "NET30"},
			"cus_vip": {ID: "cus_vip", FullName: "Grace Hopper", Email: "grace@example.com", CreditLimit: 1000000, AccountBalance: 100000, Tier: domain.SpendingTierVIP, PaymentTerms: "NET30"},
			"cus_low": {ID: "cus_low", FullName: "Alan Turing", Email: "alan@example.com", CreditLimit: 500000, AccountBalance: 420000, Tier: domain.SpendingTierRegular},
		}},
		employees:   fullWorkforce(),
		inventory:   newMemoryInventory(map[string]int{"RING-001": 5, "PEND-002": 3}),
		orders:      newMemoryOrderRepo(),
		lines:       &memoryOrderLineRepo{},
		tasks:       newMemoryTaskRepo(),
		receivables: newMemoryReceivableRepo(),
		counters:    &stubCounterRepo{value: 41},
		sagaLogs:    &memorySagaLog{},
		events:      &captureOrderEvents{},
		archive:     &stubArchive{},
		deposits:    &stubDepositCollector{},
		logger:      &captureLogger{},
	}
	ids := sequentialIDs()

	var err error
	f.gate, err = NewInventoryGate(InventoryGateDeps{Inventory: f.inventory, Clock: fixedClock, IDGenerator: ids})
	if err != nil {
		t.Fatalf("inventory gate: %v", err)
	}
	f.scheduler, err = NewProductionScheduler(ProductionSchedulerDeps{Employees: f.employees, Tasks: f.tasks, Clock: fixedClock, IDGenerator: ids})
	if err != nil {
		t.Fatalf("scheduler: %v", err)
	}
	numbers, err := NewOrderNumberService(OrderNumberServiceDeps{Counters: f.counters, Clock: fixedClock})
	if err != nil {
		t.Fatalf("order numbers: %v", err)
	}
	f.orchestrator, err = NewOrderOrchestrator(OrderOrchestratorDeps{
		Customers:    f.customers,
		Orders:       f.orders,
		OrderLines:   f.lines,
		Tasks:        f.tasks,
		Receivables:  f.receivables,
		SagaLogs:     f.sagaLogs,
		Inventory:    f.gate,
		Scheduler:    f.scheduler,
		OrderNumbers: numbers,
		Deposits:     f.deposits,
		Archive:      f.archive,
		Events:       f.events,
		Clock:        fixedClock,
		IDGenerator:  ids,
		Logger:       f.logger.log,
	})
	if err != nil {
		t.Fatalf("orchestrator: %v", err)
	}
	f.stages, err = NewStageTransitionManager(StageTransitionManagerDeps{
		Orders:      f.orders,
		OrderLines:  f.lines,
		Tasks:       f.tasks,
		SagaLogs:    f.sagaLogs,
		Scheduler:   f.scheduler,
		Events:      f.events,
		Clock:       fixedClock,
		IDGenerator: ids,
		Logger:      f.logger.log,
	})
	if err != nil {
		t.Fatalf("stage manager: %v", err)
	}
	f.cancellation, err = NewCancellationCompensator(CancellationCompensatorDeps{
		Orders:      f.orders,
		OrderLines:  f.lines,
		Tasks:       f.tasks,
		Receivables: f.receivables,
		SagaLogs:    f.sagaLogs,
		Inventory:   f.gate,
		Deposits:    f.deposits,
		Archive:     f.archive,
		Events:      f.events,
		Clock:       fixedClock,
		IDGenerator: ids,
		Logger:      f.logger.log,
	})
	if err != nil {
		t.Fatalf("cancellation: %v", err)
	}
	f.service, err = NewFulfillmentService(FulfillmentServiceDeps{
		Orchestrator: f.orchestrator,
		Stages:       f.stages,
		Cancellation: f.cancellation,
		Scheduler:    f.scheduler,
		Customers:    f.customers,
		Orders:       f.orders,
		OrderLines:   f.lines,
		Tasks:        f.tasks,
	})
	if err != nil {
		t.Fatalf("fulfillment service: %v", err)
	}
	return f
}

func twoLineOrder(customerID string, method domain.PaymentMethod) ProcessOrderRequest {
	return ProcessOrderRequest{
		CustomerID:    customerID,
		PaymentMethod: method,
		ActorID:       "emp_front",
		Lines: []OrderLineInput{
			{ItemID: "RING-001", Quantity: 1, UnitPrice: 60000, Customization: "engrave: A+G"},
			{ItemID: "PEND-002", Quantity: 2, UnitPrice: 20000},
		},
	}
}

func (f *fulfillmentFixture) placeOrder(t *testing.T, req ProcessOrderRequest) OrderConfirmation {
	t.Helper()
	confirmation, err := f.orchestrator.ProcessCompleteOrder(context.Background(), req)
	if err != nil {
		t.Fatalf("process order: %v", err)
	}
	return confirmation
}

func expectKind(t *testing.T, err error, kind ErrorKind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", kind)
	}
	if got := ClassifyError(err).Kind; got != kind {
		t.Fatalf("expected %s error, got %s (%v)", kind, got, err)
	}
}

var errBoom = errors.New("boom")
