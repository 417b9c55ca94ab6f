package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"

	"github.com/lustreworks/fulfillment-api/internal/services"
)

// StripeLogger defines the logging contract for Stripe operations.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

type stripePaymentIntentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Cancel(id string, params *stripe.PaymentIntentCancelParams) (*stripe.PaymentIntent, error)
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

// StripeDepositConfig configures the StripeDepositCollector.
type StripeDepositConfig struct {
	APIKey    string
	AccountID string
	Backends  *stripe.Backends
	Logger    StripeLogger
	Intents   stripePaymentIntentAPI
}

// StripeDepositCollector holds card deposits as manual-capture Payment Intents. The hold is
// captured later by the cashier flow and voided when the order is cancelled.
type StripeDepositCollector struct {
	intents stripePaymentIntentAPI
	account string
	logger  StripeLogger
}

var _ services.DepositCollector = (*StripeDepositCollector)(nil)

func NewStripeDepositCollector(cfg StripeDepositConfig) (*StripeDepositCollector, error) {
	intents := cfg.Intents
	if intents == nil {
		apiKey := strings.TrimSpace(cfg.APIKey)
		if apiKey == "" {
			return nil, errors.New("stripe: api key is required")
		}
		intents = client.New(apiKey, cfg.Backends).PaymentIntents
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &StripeDepositCollector{
		intents: intents,
		account: strings.TrimSpace(cfg.AccountID),
		logger:  logger,
	}, nil
}

// CreateDepositIntent places a hold for the deposit. The order id doubles as idempotency key so a
// retried saga step never holds twice.
func (c *StripeDepositCollector) CreateDepositIntent(ctx context.Context, req services.DepositRequest) (services.DepositIntent, error) {
	if c == nil {
		return services.DepositIntent{}, errors.New("stripe: deposit collector is nil")
	}
	orderID := strings.TrimSpace(req.OrderID)
	if orderID == "" {
		return services.DepositIntent{}, errors.New("stripe: order id is required")
	}
	if req.Amount <= 0 {
		return services.DepositIntent{}, fmt.Errorf("stripe: deposit amount must be positive, got %d", req.Amount)
	}

	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(req.Amount),
		Currency:      stripe.String(strings.ToLower(strings.TrimSpace(req.Currency))),
		CaptureMethod: stripe.String(string(stripe.PaymentIntentCaptureMethodManual)),
		Description:   stripe.String(fmt.Sprintf("Deposit for order %s", req.OrderNumber)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
		Metadata: map[string]string{
			"order_id":     orderID,
			"order_number": req.OrderNumber,
			"customer_id":  req.CustomerID,
			"kind":         "deposit",
		},
	}
	if email := strings.TrimSpace(req.CustomerEmail); email != "" {
		params.ReceiptEmail = stripe.String(email)
	}
	params.Context = ctx
	params.SetIdempotencyKey("deposit:" + orderID)
	if c.account != "" {
		params.SetStripeAccount(c.account)
	}

	intent, err := c.intents.New(params)
	if err != nil {
		return services.DepositIntent{}, fmt.Errorf("stripe: create deposit intent: %w", err)
	}
	c.logger(ctx, "payments.stripe.deposit.created", map[string]any{
		"orderId":       orderID,
		"paymentIntent": intent.ID,
		"amount":        intent.Amount,
	})
	return depositIntent(intent), nil
}

// VoidDepositIntent cancels an uncaptured hold. Voiding an intent that Stripe already cancelled
// returns its current state.
func (c *StripeDepositCollector) VoidDepositIntent(ctx context.Context, intentID, reason string) (services.DepositIntent, error) {
	if c == nil {
		return services.DepositIntent{}, errors.New("stripe: deposit collector is nil")
	}
	intentID = strings.TrimSpace(intentID)
	if intentID == "" {
		return services.DepositIntent{}, errors.New("stripe: intent id is required")
	}

	params := &stripe.PaymentIntentCancelParams{
		CancellationReason: stripe.String(cancellationReason(reason)),
	}
	params.Context = ctx
	if c.account != "" {
		params.SetStripeAccount(c.account)
	}

	intent, err := c.intents.Cancel(intentID, params)
	if err != nil {
		var stripeErr *stripe.Error
		if !errors.As(err, &stripeErr) || stripeErr.Code != stripe.ErrorCodePaymentIntentUnexpectedState {
			return services.DepositIntent{}, fmt.Errorf("stripe: void deposit intent: %w", err)
		}
		getParams := &stripe.PaymentIntentParams{}
		getParams.Context = ctx
		if c.account != "" {
			getParams.SetStripeAccount(c.account)
		}
		current, getErr := c.intents.Get(intentID, getParams)
		if getErr != nil {
			return services.DepositIntent{}, fmt.Errorf("stripe: lookup deposit intent: %w", getErr)
		}
		if current.Status != stripe.PaymentIntentStatusCanceled {
			return services.DepositIntent{}, fmt.Errorf("stripe: void deposit intent in status %s: %w", current.Status, err)
		}
		intent = current
	}
	c.logger(ctx, "payments.stripe.deposit.voided", map[string]any{
		"paymentIntent": intent.ID,
		"reason":        reason,
	})
	return depositIntent(intent), nil
}

func depositIntent(intent *stripe.PaymentIntent) services.DepositIntent {
	if intent == nil {
		return services.DepositIntent{}
	}
	return services.DepositIntent{
		ID:           intent.ID,
		Status:       string(intent.Status),
		Amount:       intent.Amount,
		Currency:     strings.ToUpper(string(intent.Currency)),
		ClientSecret: intent.ClientSecret,
	}
}

func cancellationReason(reason string) string {
	switch strings.ToLower(strings.TrimSpace(reason)) {
	case "order_creation_failed":
		return string(stripe.PaymentIntentCancellationReasonAbandoned)
	case string(stripe.PaymentIntentCancellationReasonDuplicate):
		return string(stripe.PaymentIntentCancellationReasonDuplicate)
	case string(stripe.PaymentIntentCancellationReasonFraudulent):
		return string(stripe.PaymentIntentCancellationReasonFraudulent)
	default:
		return string(stripe.PaymentIntentCancellationReasonRequestedByCustomer)
	}
}
