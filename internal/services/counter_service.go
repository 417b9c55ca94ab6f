package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lustreworks/fulfillment-api/internal/repositories"
)

// OrderNumberGenerator issues human readable order numbers.
type OrderNumberGenerator interface {
	NextOrderNumber(ctx context.Context) (string, error)
}

// OrderNumberServiceDeps bundles collaborators of the order number generator.
type OrderNumberServiceDeps struct {
	Counters repositories.CounterRepository
	Clock    func() time.Time
}

type orderNumberService struct {
	counters repositories.CounterRepository
	clock    func() time.Time
}

// NewOrderNumberService returns a generator producing JW-YYYY-NNNNNN numbers from a yearly
// counter.
func NewOrderNumberService(deps OrderNumberServiceDeps) (OrderNumberGenerator, error) {
	if deps.Counters == nil {
		return nil, errors.New("order number service: counter repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &orderNumberService{
		counters: deps.Counters,
		clock: func() time.Time {
			return clock().UTC()
		},
	}, nil
}

func (s *orderNumberService) NextOrderNumber(ctx context.Context) (string, error) {
	year := s.clock().Year()
	value, err := s.counters.Next(ctx, fmt.Sprintf("orders:%04d", year), 1)
	if err != nil {
		var counterErr *repositories.CounterError
		if errors.As(err, &counterErr) && counterErr.Code == repositories.CounterErrorExhausted {
			return "", fmt.Errorf("%w: order counter for %04d exhausted", ErrFulfillmentInvalidState, year)
		}
		return "", mapRepositoryError("counters.next", "order counter", err)
	}
	return fmt.Sprintf("JW-%04d-%06d", year, value), nil
}
