package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/lustreworks/fulfillment-api/internal/domain"
)

func TestOrderOrchestrator_AccountOrderHappyPath(t *testing.T) {
	f := newFulfillmentFixture(t)

	confirmation := f.placeOrder(t, twoLineOrder("cus_new", domain.PaymentMethodAccount))

	if confirmation.OrderNumber != "JW-2025-000042" {
		t.Fatalf("unexpected order number %s", confirmation.OrderNumber)
	}
	if len(f.counters.ids) != 1 || f.counters.ids[0] != "orders:2025" {
		t.Fatalf("unexpected counter usage %v", f.counters.ids)
	}
	expectedTotals := domain.OrderTotals{Subtotal: 100000, Tax: 8500, Total: 108500, DepositRequired: 32550, BalanceDue: 75950}
	if confirmation.Totals != expectedTotals {
		t.Fatalf("unexpected totals %+v", confirmation.Totals)
	}
	if confirmation.Customer.FullName != "Ada Lovelace" || confirmation.Customer.Tier != domain.SpendingTierNew {
		t.Fatalf("unexpected customer summary %+v", confirmation.Customer)
	}
	if len(confirmation.Lines) != 2 || len(confirmation.ProductionSchedule) != 12 {
		t.Fatalf("expected 2 lines and 12 tasks, got %d and %d", len(confirmation.Lines), len(confirmation.ProductionSchedule))
	}
	for _, line := range confirmation.Lines {
		if line.ReservationID == "" {
			t.Fatalf("line %s has no reservation", line.LineID)
		}
	}
	if confirmation.Lines[1].TotalPrice != 40000 {
		t.Fatalf("unexpected line total %d", confirmation.Lines[1].TotalPrice)
	}
	if !confirmation.EstimatedDelivery.Equal(fixedNow.Add(14 * 24 * time.Hour)) {
		t.Fatalf("unexpected delivery estimate %v", confirmation.EstimatedDelivery)
	}

	terms := confirmation.Payment.CreditTerms
	if terms == nil {
		t.Fatalf("expected credit terms for ACCOUNT order")
	}
	if terms.AmountDue != 108500 || !terms.DueDate.Equal(fixedNow.Add(30*24*time.Hour)) || terms.PaymentTerms != "NET30" {
		t.Fatalf("unexpected credit terms %+v", terms)
	}
	if confirmation.Payment.Deposit != nil {
		t.Fatalf("ACCOUNT orders carry no deposit intent")
	}
	if len(f.receivables.entries) != 1 {
		t.Fatalf("expected one receivable, got %d", len(f.receivables.entries))
	}

	stored := f.orders.orders[confirmation.OrderID]
	if stored.Status != domain.OrderStatusActive || stored.ProductionStatus != domain.StageDesign || stored.TotalAmount != 108500 {
		t.Fatalf("unexpected stored order %+v", stored)
	}
	if f.inventory.available("RING-001") != 4 || f.inventory.available("PEND-002") != 1 {
		t.Fatalf("expected stock held for both lines")
	}
	if len(f.lines.lines) != 2 || f.lines.lines[0].Customization != "engrave: A+G" {
		t.Fatalf("unexpected persisted lines %+v", f.lines.lines)
	}

	if len(f.events.events) != 1 || f.events.events[0].Type != OrderEventCreated {
		t.Fatalf("expected order.created event, got %+v", f.events.events)
	}
	if len(f.archive.confirmations) != 1 || confirmation.ArchiveURI == "" {
		t.Fatalf("expected archived confirmation")
	}
	statuses := f.sagaLogs.statuses()
	if statuses[0] != domain.SagaStatusStarted || statuses[len(statuses)-1] != domain.SagaStatusCompleted {
		t.Fatalf("unexpected saga log %v", statuses)
	}
}

func TestOrderOrchestrator_CardOrderPlacesDeposit(t *testing.T) {
	f := newFulfillmentFixture(t)

	confirmation := f.placeOrder(t, twoLineOrder("cus_new", domain.PaymentMethodCard))

	if len(f.deposits.created) != 1 || f.deposits.created[0].Amount != 32550 {
		t.Fatalf("expected deposit intent for 32550, got %+v", f.deposits.created)
	}
	deposit := confirmation.Payment.Deposit
	if deposit == nil || deposit.Amount != 32550 {
		t.Fatalf("expected deposit in confirmation, got %+v", deposit)
	}
	if confirmation.Payment.CreditTerms != nil {
		t.Fatalf("CARD orders carry no credit terms")
	}
	stored := f.orders.orders[confirmation.OrderID]
	if stored.DepositIntentID != deposit.ID || stored.DepositStatus != deposit.Status {
		t.Fatalf("deposit not recorded on order: %+v", stored)
	}
	if len(f.receivables.entries) != 0 {
		t.Fatalf("CARD orders book no receivable")
	}
}

func TestOrderOrchestrator_CreditDenied(t *testing.T) {
	f := newFulfillmentFixture(t)

	_, err := f.orchestrator.ProcessCompleteOrder(context.Background(), twoLineOrder("cus_low", domain.PaymentMethodAccount))
	var denied *CreditDeniedError
	if !errors.As(err, &denied) {
		t.Fatalf("expected credit denial, got %v", err)
	}
	if denied.Result.AvailableCredit != 80000 || denied.Result.RequestedAmount != 100000 {
		t.Fatalf("unexpected credit result %+v", denied.Result)
	}
	if len(f.orders.orders) != 0 || len(f.counters.ids) != 0 || len(f.inventory.reservations) != 0 {
		t.Fatalf("a denied order must not write anything")
	}
}

func TestOrderOrchestrator_InsufficientInventory(t *testing.T) {
	f := newFulfillmentFixture(t)
	req := twoLineOrder("cus_new", domain.PaymentMethodCash)
	req.Lines[0].Quantity = 6

	_, err := f.orchestrator.ProcessCompleteOrder(context.Background(), req)
	op := ClassifyError(err)
	if op.Kind != ErrorKindInsufficientInventory || op.SKU != "RING-001" || op.Requested != 6 || op.Available != 5 {
		t.Fatalf("unexpected error %+v", op)
	}
	if len(f.orders.orders) != 0 {
		t.Fatalf("no order may be persisted on shortfall")
	}
}

func TestOrderOrchestrator_UnknownCustomer(t *testing.T) {
	f := newFulfillmentFixture(t)

	_, err := f.orchestrator.ProcessCompleteOrder(context.Background(), twoLineOrder("cus_ghost", domain.PaymentMethodCash))
	expectKind(t, err, ErrorKindNotFound)
}

func TestOrderOrchestrator_ValidationRunsFirst(t *testing.T) {
	f := newFulfillmentFixture(t)
	var lookups int
	f.customers.findFn = func(context.Context, string) (domain.Customer, error) {
		lookups++
		return domain.Customer{}, nil
	}

	_, err := f.orchestrator.ProcessCompleteOrder(context.Background(), ProcessOrderRequest{CustomerID: "cus_new", PaymentMethod: "BARTER"})
	var verr *ValidationError
	if !errors.As(err, &verr) || len(verr.Problems) != 2 {
		t.Fatalf("expected payment method and lines problems, got %v", err)
	}
	if lookups != 0 {
		t.Fatalf("invalid requests must not reach the stores")
	}
}

func TestOrderOrchestrator_SchedulingFailureCompensates(t *testing.T) {
	f := newFulfillmentFixture(t)
	delete(f.employees.byStage, domain.StageQC)

	_, err := f.orchestrator.ProcessCompleteOrder(context.Background(), twoLineOrder("cus_new", domain.PaymentMethodAccount))
	expectKind(t, err, ErrorKindNotFound)

	if f.inventory.available("RING-001") != 5 || f.inventory.available("PEND-002") != 3 {
		t.Fatalf("reservations must be released on abort")
	}
	if len(f.orders.orders) != 1 {
		t.Fatalf("expected the order header to remain on record")
	}
	for _, order := range f.orders.orders {
		if order.Status != domain.OrderStatusCancelled || order.CancelReason != reasonOrderCreationFailed {
			t.Fatalf("expected order closed as failed, got %+v", order)
		}
	}
	if len(f.tasks.tasks) != 0 || len(f.receivables.entries) != 0 {
		t.Fatalf("nothing past the failed step may be written")
	}
	if len(f.events.events) != 0 {
		t.Fatalf("no event for a failed order")
	}
	statuses := f.sagaLogs.statuses()
	if statuses[len(statuses)-1] != domain.SagaStatusFailed {
		t.Fatalf("expected FAILED as last saga entry, got %v", statuses)
	}
}

func TestOrderOrchestrator_ReceivableFailureCancelsTasks(t *testing.T) {
	f := newFulfillmentFixture(t)
	f.receivables.insertFn = func(context.Context, domain.ReceivableEntry) error { return errBoom }

	_, err := f.orchestrator.ProcessCompleteOrder(context.Background(), twoLineOrder("cus_new", domain.PaymentMethodAccount))
	expectKind(t, err, ErrorKindPersistence)

	var orderID string
	for id := range f.orders.orders {
		orderID = id
	}
	if got := f.tasks.countByStatus(orderID, domain.TaskStatusCancelled); got != 12 {
		t.Fatalf("expected 12 cancelled tasks, got %d", got)
	}
	if f.inventory.available("RING-001") != 5 {
		t.Fatalf("expected reservation released")
	}
	if len(f.inventory.releaseCalls) != 2 {
		t.Fatalf("expected one release per line, got %v", f.inventory.releaseCalls)
	}
}

func TestOrderOrchestrator_DepositFailureCompensates(t *testing.T) {
	f := newFulfillmentFixture(t)
	f.deposits.createFn = func(context.Context, DepositRequest) (DepositIntent, error) {
		return DepositIntent{}, errors.New("card_declined")
	}

	_, err := f.orchestrator.ProcessCompleteOrder(context.Background(), twoLineOrder("cus_new", domain.PaymentMethodCard))
	op := ClassifyError(err)
	if op.Kind != ErrorKindPersistence || op.Message != "card_declined" {
		t.Fatalf("unexpected error %+v", op)
	}
	if len(f.deposits.voided) != 0 {
		t.Fatalf("a deposit that was never created must not be voided")
	}
	if f.inventory.available("PEND-002") != 3 {
		t.Fatalf("expected reservations released")
	}
}

func TestOrderOrchestrator_SideChannelFailuresAreLogged(t *testing.T) {
	f := newFulfillmentFixture(t)
	f.events.err = errBoom
	f.archive.err = errBoom

	confirmation := f.placeOrder(t, twoLineOrder("cus_vip", domain.PaymentMethodWire))
	if confirmation.ArchiveURI != "" {
		t.Fatalf("expected no archive URI when archiving fails")
	}
	if confirmation.Totals.Discount != 5000 {
		t.Fatalf("expected VIP discount, got %+v", confirmation.Totals)
	}
	if f.logger.count("order.event.publish.failed") != 1 || f.logger.count("order.archive.failed") != 1 {
		t.Fatalf("expected publish and archive failures logged, got %+v", f.logger.records)
	}
}

func TestOrderOrchestrator_SharedSKUDemandIsCheckedTogether(t *testing.T) {
	f := newFulfillmentFixture(t)
	req := ProcessOrderRequest{
		CustomerID:    "cus_new",
		PaymentMethod: domain.PaymentMethodCash,
		ActorID:       "emp_front",
		Lines: []OrderLineInput{
			{ItemID: "RING-001", Quantity: 3, UnitPrice: 10000},
			{ItemID: "ring-001", Quantity: 3, UnitPrice: 10000, Customization: "engrave: B"},
		},
	}

	_, err := f.orchestrator.ProcessCompleteOrder(context.Background(), req)
	op := ClassifyError(err)
	if op.Kind != ErrorKindInsufficientInventory || op.SKU != "RING-001" || op.Requested != 6 || op.Available != 5 {
		t.Fatalf("unexpected error %+v", op)
	}
	if len(f.orders.orders) != 0 || len(f.counters.ids) != 0 || len(f.inventory.reservations) != 0 {
		t.Fatalf("a shortfall across lines must not write anything")
	}
}

func TestOrderOrchestrator_LargestOrderFitsTaskBatches(t *testing.T) {
	f := newFulfillmentFixture(t)
	f.inventory.stock["BEAD-100"] = domain.InventoryStock{SKU: "BEAD-100", OnHand: maxOrderLines, Available: maxOrderLines}

	lines := make([]OrderLineInput, maxOrderLines)
	for i := range lines {
		lines[i] = OrderLineInput{ItemID: "BEAD-100", Quantity: 1, UnitPrice: 1000}
	}
	req := ProcessOrderRequest{CustomerID: "cus_new", PaymentMethod: domain.PaymentMethodAccount, ActorID: "emp_front", Lines: lines}

	confirmation := f.placeOrder(t, req)
	wantTasks := maxOrderLines * len(domain.ProductionStages)
	if len(confirmation.ProductionSchedule) != wantTasks {
		t.Fatalf("expected %d tasks, got %d", wantTasks, len(confirmation.ProductionSchedule))
	}

	result, err := cancelOrder(f, confirmation.OrderID, "emp_front")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if result.TasksCancelled != wantTasks || result.ReservationsReleased != maxOrderLines {
		t.Fatalf("unexpected evidence %+v", result)
	}

	req.Lines = append(req.Lines, OrderLineInput{ItemID: "BEAD-100", Quantity: 1, UnitPrice: 1000})
	_, err = f.orchestrator.ProcessCompleteOrder(context.Background(), req)
	if op := ClassifyError(err); op.Kind != ErrorKindValidation {
		t.Fatalf("expected validation error for %d lines, got %+v", len(req.Lines), op)
	}
}
