package services

import (
	"fmt"

	domain "github.com/lustreworks/fulfillment-api/internal/domain"
)

type creditValidator struct {
	currency string
}

// NewCreditValidator returns the default credit policy: the requested amount must fit inside
// credit_limit - account_balance. currency is only used to format denial reasons.
func NewCreditValidator(currency string) CreditValidator {
	if currency == "" {
		currency = defaultCurrency
	}
	return creditValidator{currency: currency}
}

func (v creditValidator) ValidateCredit(customer domain.Customer, amount int64) domain.CreditValidationResult {
	available := customer.CreditLimit - customer.AccountBalance
	result := domain.CreditValidationResult{
		AvailableCredit: available,
		CurrentBalance:  customer.AccountBalance,
		CreditLimit:     customer.CreditLimit,
		RequestedAmount: amount,
		Approved:        amount <= available,
	}
	if !result.Approved {
		result.Reason = fmt.Sprintf("order amount %s exceeds available credit %s",
			formatMinorUnits(amount, v.currency), formatMinorUnits(available, v.currency))
	}
	return result
}
