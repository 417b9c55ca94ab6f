package services

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	domain "github.com/lustreworks/fulfillment-api/internal/domain"
)

const defaultCurrency = "USD"

var (
	taxRate     = decimal.RequireFromString("0.085")
	depositRate = decimal.RequireFromString("0.30")

	tierDiscountRates = map[domain.SpendingTier]decimal.Decimal{
		domain.SpendingTierVIP:     decimal.RequireFromString("0.05"),
		domain.SpendingTierPremium: decimal.RequireFromString("0.10"),
	}

	maxMinorUnits = decimal.NewFromInt(math.MaxInt64)
)

// PricingPolicy overrides the rates used by the pricing engine. Zero values keep the defaults.
type PricingPolicy struct {
	TaxRate       decimal.Decimal
	DepositRate   decimal.Decimal
	TierDiscounts map[domain.SpendingTier]decimal.Decimal
}

type pricingEngine struct {
	tax       decimal.Decimal
	deposit   decimal.Decimal
	discounts map[domain.SpendingTier]decimal.Decimal
}

// NewPricingEngine constructs the tier-aware pricing engine.
func NewPricingEngine(policy PricingPolicy) PricingEngine {
	engine := pricingEngine{tax: taxRate, deposit: depositRate, discounts: tierDiscountRates}
	if !policy.TaxRate.IsZero() {
		engine.tax = policy.TaxRate
	}
	if !policy.DepositRate.IsZero() {
		engine.deposit = policy.DepositRate
	}
	if policy.TierDiscounts != nil {
		engine.discounts = policy.TierDiscounts
	}
	return engine
}

// Price computes subtotal, tier discount, tax on the discounted amount, total, the 30% deposit and
// the balance due. Each percentage is rounded half-up to the minor unit exactly once.
func (e pricingEngine) Price(lines []OrderLineInput, tier domain.SpendingTier) (domain.OrderTotals, error) {
	verr := &ValidationError{}
	subtotal := decimal.Zero
	for i, line := range lines {
		if line.Quantity <= 0 {
			verr.add(fmt.Sprintf("lines[%d].quantity", i), "must be positive")
			continue
		}
		if line.UnitPrice < 0 {
			verr.add(fmt.Sprintf("lines[%d].unit_price", i), "must not be negative")
			continue
		}
		subtotal = subtotal.Add(decimal.NewFromInt(line.UnitPrice).Mul(decimal.NewFromInt(int64(line.Quantity))))
	}
	if err := verr.orNil(); err != nil {
		return domain.OrderTotals{}, err
	}

	discount := applyRate(subtotal, e.discounts[tier])
	taxable := subtotal.Sub(discount)
	tax := applyRate(taxable, e.tax)
	total := taxable.Add(tax)
	deposit := applyRate(total, e.deposit)

	for _, amount := range []decimal.Decimal{subtotal, total} {
		if amount.GreaterThan(maxMinorUnits) {
			verr.add("lines", "order amount exceeds the supported range")
			return domain.OrderTotals{}, verr
		}
	}

	return domain.OrderTotals{
		Subtotal:        subtotal.IntPart(),
		Discount:        discount.IntPart(),
		Tax:             tax.IntPart(),
		Total:           total.IntPart(),
		DepositRequired: deposit.IntPart(),
		BalanceDue:      total.Sub(deposit).IntPart(),
	}, nil
}

// applyRate multiplies amount by rate and rounds half away from zero to whole minor units.
func applyRate(amount, rate decimal.Decimal) decimal.Decimal {
	if rate.IsZero() {
		return decimal.Zero
	}
	return amount.Mul(rate).Round(0)
}

// naiveSubtotal sums unit_price x quantity. It is the amount checked against credit before the
// discount and tax are known. Saturates instead of wrapping on overflow.
func naiveSubtotal(lines []OrderLineInput) int64 {
	sum := decimal.Zero
	for _, line := range lines {
		sum = sum.Add(decimal.NewFromInt(line.UnitPrice).Mul(decimal.NewFromInt(int64(line.Quantity))))
	}
	if sum.GreaterThan(maxMinorUnits) {
		return math.MaxInt64
	}
	return sum.IntPart()
}

func formatMinorUnits(amount int64, currency string) string {
	return decimal.New(amount, -2).StringFixed(2) + " " + currency
}
