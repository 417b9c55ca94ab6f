package services

import (
	"fmt"
	"strings"

	domain "github.com/lustreworks/fulfillment-api/internal/domain"
	"github.com/lustreworks/fulfillment-api/internal/platform/textutil"
	"github.com/lustreworks/fulfillment-api/internal/repositories"
)

// maxOrderLines keeps a full schedule (one task per line and stage) inside a single task batch.
var maxOrderLines = repositories.MaxTaskBatchSize / len(domain.ProductionStages)

const (
	maxLineQuantity        = 10000
	maxCustomizationLength = 500
	maxInstructionsLength  = 2000
	maxNotesLength         = 2000
	maxReasonLength        = 500
	maxIdentifierLength    = 128

	systemActor = "system"
)

var validPaymentMethods = map[domain.PaymentMethod]struct{}{
	domain.PaymentMethodAccount: {},
	domain.PaymentMethodCard:    {},
	domain.PaymentMethodCash:    {},
	domain.PaymentMethodWire:    {},
}

// ValidateProcessOrderRequest checks a new order request and returns its normalised copy: SKUs and
// codes are NFKC-folded and upper-cased, free text is stripped of markup, and an empty currency
// falls back to defaultCurrency. All problems are reported together.
func ValidateProcessOrderRequest(req ProcessOrderRequest, defaultCurrency string) (ProcessOrderRequest, error) {
	verr := &ValidationError{}
	out := ProcessOrderRequest{
		CustomerID:          strings.TrimSpace(req.CustomerID),
		PaymentMethod:       domain.PaymentMethod(textutil.NormalizeCode(string(req.PaymentMethod))),
		SpecialInstructions: textutil.PlainText(req.SpecialInstructions, maxInstructionsLength),
		Rush:                req.Rush,
		ActorID:             strings.TrimSpace(req.ActorID),
	}

	checkIdentifier(verr, "customer_id", out.CustomerID)
	if _, ok := validPaymentMethods[out.PaymentMethod]; !ok {
		verr.add("payment_method", "must be one of ACCOUNT, CARD, CASH, WIRE")
	}

	currencyCode := strings.TrimSpace(req.Currency)
	if currencyCode == "" {
		currencyCode = defaultCurrency
	}
	if normalized, err := textutil.NormalizeCurrency(currencyCode); err != nil {
		verr.add("currency", "must be an ISO 4217 code")
	} else {
		out.Currency = normalized
	}

	out.Lines = validateOrderLines(verr, req.Lines)

	if req.ExpectedDelivery != nil {
		if req.ExpectedDelivery.IsZero() {
			verr.add("expected_delivery", "must be a valid timestamp")
		} else {
			delivery := req.ExpectedDelivery.UTC()
			out.ExpectedDelivery = &delivery
		}
	}
	if out.ActorID == "" {
		out.ActorID = systemActor
	}

	if err := verr.orNil(); err != nil {
		return ProcessOrderRequest{}, err
	}
	return out, nil
}

// ValidateOrderLines checks and normalises order lines on their own, as used by total
// calculation.
func ValidateOrderLines(lines []OrderLineInput) ([]OrderLineInput, error) {
	verr := &ValidationError{}
	out := validateOrderLines(verr, lines)
	if err := verr.orNil(); err != nil {
		return nil, err
	}
	return out, nil
}

func validateOrderLines(verr *ValidationError, lines []OrderLineInput) []OrderLineInput {
	switch {
	case len(lines) == 0:
		verr.add("lines", "at least one line is required")
	case len(lines) > maxOrderLines:
		verr.add("lines", "must not exceed %d entries", maxOrderLines)
	}
	out := make([]OrderLineInput, 0, len(lines))
	for i, line := range lines {
		field := fmt.Sprintf("lines[%d]", i)
		normalized := OrderLineInput{
			ItemID:        textutil.NormalizeCode(line.ItemID),
			Quantity:      line.Quantity,
			UnitPrice:     line.UnitPrice,
			Customization: textutil.PlainText(line.Customization, maxCustomizationLength),
			SerialNumber:  textutil.NormalizeCode(line.SerialNumber),
		}
		checkIdentifier(verr, field+".item_id", normalized.ItemID)
		if normalized.Quantity <= 0 || normalized.Quantity > maxLineQuantity {
			verr.add(field+".quantity", "must be between 1 and %d", maxLineQuantity)
		}
		if normalized.UnitPrice < 0 {
			verr.add(field+".unit_price", "must not be negative")
		}
		out = append(out, normalized)
	}
	return out
}

// ValidateStageUpdateRequest checks the shape of a stage update. Whether the transition is legal
// for the stored order is decided later against the transition table.
func ValidateStageUpdateRequest(req StageUpdateRequest) (StageUpdateRequest, error) {
	verr := &ValidationError{}
	out := StageUpdateRequest{
		OrderID:      strings.TrimSpace(req.OrderID),
		CurrentStage: domain.ProductionStage(textutil.NormalizeCode(string(req.CurrentStage))),
		NextStage:    domain.ProductionStage(textutil.NormalizeCode(string(req.NextStage))),
		ActorID:      strings.TrimSpace(req.ActorID),
		Notes:        textutil.PlainText(req.Notes, maxNotesLength),
	}
	checkIdentifier(verr, "order_id", out.OrderID)
	checkIdentifier(verr, "actor_id", out.ActorID)
	if domain.StageIndex(out.CurrentStage) < 0 {
		verr.add("current_stage", "must be one of DESIGN, CAD, CASTING, SETTING, POLISHING, QC")
	}
	if domain.StageIndex(out.NextStage) < 0 && out.NextStage != domain.StageCompleted {
		verr.add("next_stage", "must be a production stage or COMPLETED")
	}
	if err := verr.orNil(); err != nil {
		return StageUpdateRequest{}, err
	}
	return out, nil
}

// ValidateCancellationRequest checks a cancellation request.
func ValidateCancellationRequest(req CancellationRequest) (CancellationRequest, error) {
	verr := &ValidationError{}
	out := CancellationRequest{
		OrderID: strings.TrimSpace(req.OrderID),
		Reason:  textutil.PlainText(req.Reason, maxReasonLength),
		ActorID: strings.TrimSpace(req.ActorID),
	}
	checkIdentifier(verr, "order_id", out.OrderID)
	checkIdentifier(verr, "actor_id", out.ActorID)
	if out.Reason == "" {
		verr.add("reason", "is required")
	}
	if err := verr.orNil(); err != nil {
		return CancellationRequest{}, err
	}
	return out, nil
}

func checkIdentifier(verr *ValidationError, field, value string) {
	switch {
	case value == "":
		verr.add(field, "is required")
	case len(value) > maxIdentifierLength:
		verr.add(field, "must not exceed %d characters", maxIdentifierLength)
	case strings.ContainsAny(value, "/\\"):
		verr.add(field, "must not contain path separators")
	}
}
