package services

import (
	"errors"
	"strings"
	"testing"
	"time"

	domain "github.com/lustreworks/fulfillment-api/internal/domain"
)

func problemFields(t *testing.T, err error) []string {
	t.Helper()
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	fields := make([]string, 0, len(verr.Problems))
	for _, p := range verr.Problems {
		fields = append(fields, p.Field)
	}
	return fields
}

func TestValidateProcessOrderRequest_Normalises(t *testing.T) {
	delivery := time.Date(2025, 6, 1, 12, 0, 0, 0, time.FixedZone("JST", 9*3600))
	req := ProcessOrderRequest{
		CustomerID:          "  cus_1 ",
		PaymentMethod:       " card ",
		Currency:            "eur",
		SpecialInstructions: "<i>gift wrap</i>",
		ExpectedDelivery:    &delivery,
		Lines: []OrderLineInput{
			{ItemID: "ｒｉｎｇ－００１", Quantity: 1, UnitPrice: 1000, Customization: "<script>x</script>initials"},
		},
	}

	out, err := ValidateProcessOrderRequest(req, "USD")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.CustomerID != "cus_1" || out.PaymentMethod != domain.PaymentMethodCard || out.Currency != "EUR" {
		t.Fatalf("unexpected header %+v", out)
	}
	if out.SpecialInstructions != "gift wrap" {
		t.Fatalf("unexpected instructions %q", out.SpecialInstructions)
	}
	if out.Lines[0].ItemID != "RING-001" || out.Lines[0].Customization != "initials" {
		t.Fatalf("unexpected line %+v", out.Lines[0])
	}
	if out.ExpectedDelivery.Location() != time.UTC || !out.ExpectedDelivery.Equal(delivery) {
		t.Fatalf("expected delivery in UTC, got %v", out.ExpectedDelivery)
	}
	if out.ActorID != systemActor {
		t.Fatalf("expected system actor, got %q", out.ActorID)
	}
}

func TestValidateProcessOrderRequest_DefaultCurrency(t *testing.T) {
	out, err := ValidateProcessOrderRequest(twoLineOrder("cus_1", domain.PaymentMethodCash), "USD")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Currency != "USD" || out.ActorID != "emp_front" {
		t.Fatalf("unexpected request %+v", out)
	}
}

func TestValidateProcessOrderRequest_CollectsEveryProblem(t *testing.T) {
	req := ProcessOrderRequest{
		CustomerID:    "cus/1",
		PaymentMethod: "BARTER",
		Currency:      "ZZZZ",
		Lines: []OrderLineInput{
			{ItemID: "", Quantity: 1, UnitPrice: 1},
			{ItemID: "RING-001", Quantity: maxLineQuantity + 1, UnitPrice: -5},
		},
	}

	_, err := ValidateProcessOrderRequest(req, "USD")
	got := strings.Join(problemFields(t, err), ",")
	want := "customer_id,payment_method,currency,lines[0].item_id,lines[1].quantity,lines[1].unit_price"
	if got != want {
		t.Fatalf("unexpected problems\n got: %s\nwant: %s", got, want)
	}
}

func TestValidateOrderLines_Limits(t *testing.T) {
	if _, err := ValidateOrderLines(nil); err == nil {
		t.Fatalf("expected empty lines to fail")
	}
	lines := make([]OrderLineInput, maxOrderLines+1)
	for i := range lines {
		lines[i] = OrderLineInput{ItemID: "RING-001", Quantity: 1}
	}
	_, err := ValidateOrderLines(lines)
	if fields := problemFields(t, err); len(fields) != 1 || fields[0] != "lines" {
		t.Fatalf("unexpected problems %v", fields)
	}
}

func TestValidateStageUpdateRequest(t *testing.T) {
	out, err := ValidateStageUpdateRequest(StageUpdateRequest{
		OrderID:      " ord_1 ",
		CurrentStage: "qc",
		NextStage:    "completed",
		ActorID:      "emp_1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.OrderID != "ord_1" || out.CurrentStage != domain.StageQC || out.NextStage != domain.StageCompleted {
		t.Fatalf("unexpected request %+v", out)
	}

	_, err = ValidateStageUpdateRequest(StageUpdateRequest{OrderID: "ord_1", CurrentStage: domain.StageCompleted, NextStage: "SHIPPING"})
	got := strings.Join(problemFields(t, err), ",")
	if got != "actor_id,current_stage,next_stage" {
		t.Fatalf("unexpected problems %s", got)
	}
}

func TestValidateCancellationRequest(t *testing.T) {
	out, err := ValidateCancellationRequest(CancellationRequest{OrderID: "ord_1", Reason: " <b>duplicate</b> ", ActorID: "emp_1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Reason != "duplicate" {
		t.Fatalf("unexpected reason %q", out.Reason)
	}

	_, err = ValidateCancellationRequest(CancellationRequest{OrderID: "ord_1", Reason: "<br>"})
	got := strings.Join(problemFields(t, err), ",")
	if got != "actor_id,reason" {
		t.Fatalf("unexpected problems %s", got)
	}
}
