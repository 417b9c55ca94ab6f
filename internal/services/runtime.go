package services

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/lustreworks/fulfillment-api/internal/repositories"
)

const (
	orderIDPrefix      = "ord_"
	orderLineIDPrefix  = "oln_"
	receivableIDPrefix = "ar_"
)

type runtimeOptions struct {
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(context.Context, string, map[string]any)
	Tracer      trace.Tracer
	Meter       metric.Meter
	SagaLogs    repositories.SagaLogRepository
	Events      OrderEventPublisher
	Archive     OrderArchive
}

// serviceRuntime carries the collaborators every fulfillment service shares.
type serviceRuntime struct {
	clock   func() time.Time
	newID   func() string
	logger  func(context.Context, string, map[string]any)
	tracer  trace.Tracer
	metrics fulfillmentMetrics
	events  OrderEventPublisher
	archive OrderArchive
	saga    *sagaRecorder
}

func newServiceRuntime(opts runtimeOptions) serviceRuntime {
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := opts.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := opts.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	utc := func() time.Time { return clock().UTC() }
	metrics := newFulfillmentMetrics(opts.Meter)

	return serviceRuntime{
		clock:   utc,
		newID:   idGen,
		logger:  logger,
		tracer:  opts.Tracer,
		metrics: metrics,
		events:  opts.Events,
		archive: opts.Archive,
		saga: &sagaRecorder{
			logs:    opts.SagaLogs,
			clock:   utc,
			newID:   idGen,
			logger:  logger,
			metrics: metrics,
		},
	}
}

func (r serviceRuntime) publish(ctx context.Context, event OrderEvent) {
	if r.events == nil {
		return
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = r.clock()
	}
	if _, err := r.events.PublishOrderEvent(ctx, event); err != nil {
		r.logger(ctx, "order.event.publish.failed", map[string]any{
			"orderId":   event.OrderID,
			"eventType": event.Type,
			"error":     err.Error(),
		})
	}
}
