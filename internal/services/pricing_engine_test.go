package services

import (
	"errors"
	"math"
	"testing"

	domain "github.com/lustreworks/fulfillment-api/internal/domain"
)

func TestPricingEngine_TierTotals(t *testing.T) {
	engine := NewPricingEngine(PricingPolicy{})

	cases := []struct {
		name     string
		tier     domain.SpendingTier
		lines    []OrderLineInput
		expected domain.OrderTotals
	}{
		{
			name:  "new customer pays full price",
			tier:  domain.SpendingTierNew,
			lines: []OrderLineInput{{ItemID: "RING-001", Quantity: 1, UnitPrice: 100000}},
			expected: domain.OrderTotals{
				Subtotal: 100000, Discount: 0, Tax: 8500, Total: 108500, DepositRequired: 32550, BalanceDue: 75950,
			},
		},
		{
			name:  "regular has no discount",
			tier:  domain.SpendingTierRegular,
			lines: []OrderLineInput{{ItemID: "RING-001", Quantity: 2, UnitPrice: 50000}},
			expected: domain.OrderTotals{
				Subtotal: 100000, Discount: 0, Tax: 8500, Total: 108500, DepositRequired: 32550, BalanceDue: 75950,
			},
		},
		{
			name:  "vip gets five percent",
			tier:  domain.SpendingTierVIP,
			lines: []OrderLineInput{{ItemID: "RING-001", Quantity: 1, UnitPrice: 100000}},
			expected: domain.OrderTotals{
				Subtotal: 100000, Discount: 5000, Tax: 8075, Total: 103075, DepositRequired: 30923, BalanceDue: 72152,
			},
		},
		{
			name: "premium gets ten percent",
			tier: domain.SpendingTierPremium,
			lines: []OrderLineInput{
				{ItemID: "RING-001", Quantity: 1, UnitPrice: 150000},
				{ItemID: "PEND-002", Quantity: 2, UnitPrice: 25000},
			},
			expected: domain.OrderTotals{
				Subtotal: 200000, Discount: 20000, Tax: 15300, Total: 195300, DepositRequired: 58590, BalanceDue: 136710,
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			totals, err := engine.Price(tc.lines, tc.tier)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if totals != tc.expected {
				t.Fatalf("expected %+v, got %+v", tc.expected, totals)
			}
			if totals.Total != totals.Subtotal-totals.Discount+totals.Tax {
				t.Fatalf("total does not add up: %+v", totals)
			}
			if totals.BalanceDue != totals.Total-totals.DepositRequired {
				t.Fatalf("balance does not add up: %+v", totals)
			}
		})
	}
}

func TestPricingEngine_RoundsHalfUp(t *testing.T) {
	engine := NewPricingEngine(PricingPolicy{})

	// 6 * 0.085 = 0.51 rounds to 1.
	totals, err := engine.Price([]OrderLineInput{{ItemID: "BEAD", Quantity: 6, UnitPrice: 1}}, domain.SpendingTierNew)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if totals.Tax != 1 || totals.Total != 7 {
		t.Fatalf("unexpected totals %+v", totals)
	}
	// 7 * 0.30 = 2.1 rounds to 2.
	if totals.DepositRequired != 2 || totals.BalanceDue != 5 {
		t.Fatalf("unexpected deposit split %+v", totals)
	}
}

func TestPricingEngine_IsPure(t *testing.T) {
	engine := NewPricingEngine(PricingPolicy{})
	lines := []OrderLineInput{{ItemID: "RING-001", Quantity: 3, UnitPrice: 33333}}

	first, err := engine.Price(lines, domain.SpendingTierVIP)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := engine.Price(lines, domain.SpendingTierVIP)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first != second {
		t.Fatalf("expected identical totals, got %+v and %+v", first, second)
	}
}

func TestPricingEngine_RejectsInvalidLines(t *testing.T) {
	engine := NewPricingEngine(PricingPolicy{})

	_, err := engine.Price([]OrderLineInput{
		{ItemID: "RING-001", Quantity: 0, UnitPrice: 100},
		{ItemID: "PEND-002", Quantity: 1, UnitPrice: -5},
	}, domain.SpendingTierNew)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(verr.Problems) != 2 {
		t.Fatalf("expected two problems, got %+v", verr.Problems)
	}
}

func TestPricingEngine_ReportsOverflow(t *testing.T) {
	engine := NewPricingEngine(PricingPolicy{})

	_, err := engine.Price([]OrderLineInput{{ItemID: "VAULT", Quantity: 2, UnitPrice: math.MaxInt64 / 2}}, domain.SpendingTierNew)
	if !errors.Is(err, ErrFulfillmentInvalidInput) {
		t.Fatalf("expected invalid input for overflow, got %v", err)
	}
}

func TestCreditValidator(t *testing.T) {
	validator := NewCreditValidator("USD")
	customer := domain.Customer{ID: "cus_1", CreditLimit: 500000, AccountBalance: 420000}

	denied := validator.ValidateCredit(customer, 90000)
	if denied.Approved {
		t.Fatalf("expected denial, got %+v", denied)
	}
	if denied.AvailableCredit != 80000 || denied.CurrentBalance != 420000 || denied.CreditLimit != 500000 {
		t.Fatalf("unexpected figures %+v", denied)
	}
	if denied.Reason != "order amount 900.00 USD exceeds available credit 800.00 USD" {
		t.Fatalf("unexpected reason %q", denied.Reason)
	}

	exact := validator.ValidateCredit(customer, 80000)
	if !exact.Approved || exact.Reason != "" {
		t.Fatalf("expected approval at the limit, got %+v", exact)
	}
}
