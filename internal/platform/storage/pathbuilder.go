package storage

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// DocumentPurpose selects the object layout of an archived order document.
type DocumentPurpose string

const (
	PurposeConfirmation DocumentPurpose = "confirmation"
	PurposeCancellation DocumentPurpose = "cancellation"
)

// PathParams provide the identifiers used to compose object keys.
type PathParams struct {
	OrderID     string
	OrderNumber string
	At          time.Time
}

// PathBuilder composes the object path for a given purpose.
type PathBuilder func(PathParams) (string, error)

var (
	pathBuilders = map[DocumentPurpose]PathBuilder{
		PurposeConfirmation: buildConfirmationPath,
		PurposeCancellation: buildCancellationPath,
	}
	pathBuildersMu sync.RWMutex
)

// RegisterPathBuilder overrides or registers a builder for a specific purpose.
func RegisterPathBuilder(purpose DocumentPurpose, builder PathBuilder) {
	pathBuildersMu.Lock()
	defer pathBuildersMu.Unlock()
	if builder == nil {
		delete(pathBuilders, purpose)
		return
	}
	pathBuilders[purpose] = builder
}

// BuildObjectPath resolves the storage object path for the given purpose.
func BuildObjectPath(purpose DocumentPurpose, params PathParams) (string, error) {
	pathBuildersMu.RLock()
	builder, ok := pathBuilders[purpose]
	pathBuildersMu.RUnlock()
	if !ok {
		return "", fmt.Errorf("storage: unsupported document purpose %q", purpose)
	}
	return builder(params)
}

func buildConfirmationPath(params PathParams) (string, error) {
	orderID, err := validateSegment("orderID", params.OrderID)
	if err != nil {
		return "", err
	}
	name := strings.TrimSpace(params.OrderNumber)
	if name == "" {
		name = orderID
	}
	name, err = validateSegment("orderNumber", name)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("orders/%s/confirmations/%s.json", orderID, name), nil
}

func buildCancellationPath(params PathParams) (string, error) {
	orderID, err := validateSegment("orderID", params.OrderID)
	if err != nil {
		return "", err
	}
	if params.At.IsZero() {
		return "", fmt.Errorf("storage: cancellation timestamp is required")
	}
	return fmt.Sprintf("orders/%s/cancellations/%s.json", orderID, params.At.UTC().Format("20060102T150405Z")), nil
}

func validateSegment(name, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("storage: %s is required", name)
	}
	if strings.ContainsAny(value, "/\\") {
		return "", fmt.Errorf("storage: %s contains invalid path characters", name)
	}
	if strings.Contains(value, "..") {
		return "", fmt.Errorf("storage: %s contains invalid traversal sequence", name)
	}
	return value, nil
}
