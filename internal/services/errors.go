package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	domain "github.com/lustreworks/fulfillment-api/internal/domain"
	"github.com/lustreworks/fulfillment-api/internal/repositories"
)

var (
	// ErrFulfillmentInvalidInput signals the caller provided a malformed request.
	ErrFulfillmentInvalidInput = errors.New("fulfillment: invalid input")
	// ErrFulfillmentNotFound indicates a customer, employee, order or reservation is missing.
	ErrFulfillmentNotFound = errors.New("fulfillment: not found")
	// ErrFulfillmentInvalidState indicates the order cannot undergo the requested change.
	ErrFulfillmentInvalidState = errors.New("fulfillment: invalid state")
	// ErrFulfillmentPersistence indicates a backing store call failed.
	ErrFulfillmentPersistence = errors.New("fulfillment: persistence failure")
	// ErrCreditDenied indicates the order amount exceeds the customer's available credit.
	ErrCreditDenied = errors.New("fulfillment: credit denied")
	// ErrInsufficientInventory indicates a SKU cannot cover the requested quantity.
	ErrInsufficientInventory = errors.New("fulfillment: insufficient inventory")
)

// ErrorKind is the public error taxonomy carried by Result.
type ErrorKind string

const (
	ErrorKindValidation            ErrorKind = "validation"
	ErrorKindCreditDenied          ErrorKind = "credit_denied"
	ErrorKindInsufficientInventory ErrorKind = "insufficient_inventory"
	ErrorKindNotFound              ErrorKind = "not_found"
	ErrorKindPersistence           ErrorKind = "persistence"
	ErrorKindInvalidState          ErrorKind = "invalid_state"
)

// FieldProblem names one invalid request field.
type FieldProblem struct {
	Field   string
	Message string
}

// ValidationError lists every problem found in a request.
type ValidationError struct {
	Problems []FieldProblem
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Problems) == 0 {
		return ErrFulfillmentInvalidInput.Error()
	}
	parts := make([]string, 0, len(e.Problems))
	for _, p := range e.Problems {
		parts = append(parts, p.Field+" "+p.Message)
	}
	return fmt.Sprintf("%s: %s", ErrFulfillmentInvalidInput, strings.Join(parts, "; "))
}

func (e *ValidationError) Is(target error) bool { return target == ErrFulfillmentInvalidInput }

func (e *ValidationError) add(field, format string, args ...any) {
	e.Problems = append(e.Problems, FieldProblem{Field: field, Message: fmt.Sprintf(format, args...)})
}

func (e *ValidationError) orNil() error {
	if e == nil || len(e.Problems) == 0 {
		return nil
	}
	return e
}

// CreditDeniedError carries the credit check that rejected an order.
type CreditDeniedError struct {
	Result domain.CreditValidationResult
}

func (e *CreditDeniedError) Error() string {
	return fmt.Sprintf("%s: %s", ErrCreditDenied, e.Result.Reason)
}

func (e *CreditDeniedError) Is(target error) bool { return target == ErrCreditDenied }

// InsufficientInventoryError names the SKU that failed the availability gate.
type InsufficientInventoryError struct {
	SKU       string
	Requested int
	Available int
}

func (e *InsufficientInventoryError) Error() string {
	return fmt.Sprintf("%s: sku %s requested %d, available %d", ErrInsufficientInventory, e.SKU, e.Requested, e.Available)
}

func (e *InsufficientInventoryError) Is(target error) bool { return target == ErrInsufficientInventory }

// PersistenceError wraps a failed store call and keeps the original message.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrFulfillmentPersistence, e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func (e *PersistenceError) Is(target error) bool { return target == ErrFulfillmentPersistence }

// OperationError is the error half of Result.
type OperationError struct {
	Kind      ErrorKind
	Message   string
	SKU       string
	Requested int
	Available int
	Fields    []FieldProblem
}

// ClassifyError maps any error returned by the fulfillment services onto the public taxonomy.
// Unrecognised errors are reported as persistence failures with their original message.
func ClassifyError(err error) *OperationError {
	if err == nil {
		return nil
	}

	var validation *ValidationError
	if errors.As(err, &validation) {
		return &OperationError{Kind: ErrorKindValidation, Message: err.Error(), Fields: validation.Problems}
	}
	var denied *CreditDeniedError
	if errors.As(err, &denied) {
		return &OperationError{Kind: ErrorKindCreditDenied, Message: denied.Result.Reason}
	}
	var shortfall *InsufficientInventoryError
	if errors.As(err, &shortfall) {
		return &OperationError{
			Kind:      ErrorKindInsufficientInventory,
			Message:   err.Error(),
			SKU:       shortfall.SKU,
			Requested: shortfall.Requested,
			Available: shortfall.Available,
		}
	}
	var persistence *PersistenceError
	if errors.As(err, &persistence) {
		return &OperationError{Kind: ErrorKindPersistence, Message: persistence.Err.Error()}
	}

	switch {
	case errors.Is(err, ErrFulfillmentInvalidInput):
		return &OperationError{Kind: ErrorKindValidation, Message: err.Error()}
	case errors.Is(err, ErrFulfillmentNotFound):
		return &OperationError{Kind: ErrorKindNotFound, Message: err.Error()}
	case errors.Is(err, ErrFulfillmentInvalidState):
		return &OperationError{Kind: ErrorKindInvalidState, Message: err.Error()}
	}
	return &OperationError{Kind: ErrorKindPersistence, Message: err.Error()}
}

// mapRepositoryError converts repository failures into service errors. what names the missing
// entity for not-found errors, e.g. "customer cus_1".
func mapRepositoryError(op, what string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &PersistenceError{Op: op, Err: err}
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsNotFound() {
		return fmt.Errorf("%w: %s", ErrFulfillmentNotFound, what)
	}
	if errors.Is(err, ErrFulfillmentNotFound) || errors.Is(err, ErrFulfillmentInvalidState) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}

func isNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}
