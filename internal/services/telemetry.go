package services

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/lustreworks/fulfillment-api/internal/services"

type fulfillmentMetrics struct {
	ordersProcessed  metric.Int64Counter
	stageTransitions metric.Int64Counter
	cancellations    metric.Int64Counter
	compensations    metric.Int64Counter
}

func newFulfillmentMetrics(meter metric.Meter) fulfillmentMetrics {
	if meter == nil {
		meter = otel.Meter(instrumentationName)
	}
	return fulfillmentMetrics{
		ordersProcessed:  int64Counter(meter, "fulfillment.orders.processed", "Orders run through the creation saga, by outcome."),
		stageTransitions: int64Counter(meter, "fulfillment.stage.transitions", "Applied production stage transitions."),
		cancellations:    int64Counter(meter, "fulfillment.orders.cancelled", "Cancellation requests, by outcome."),
		compensations:    int64Counter(meter, "fulfillment.saga.compensations", "Compensating actions executed, by saga and result."),
	}
}

func int64Counter(meter metric.Meter, name, description string) metric.Int64Counter {
	counter, err := meter.Int64Counter(name, metric.WithDescription(description))
	if err != nil {
		return noop.Int64Counter{}
	}
	return counter
}

func startSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if tracer == nil {
		tracer = otel.Tracer(instrumentationName)
	}
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(ClassifyError(err).Kind))
	}
	span.End()
}

func outcome(err error) attribute.KeyValue {
	if err != nil {
		return attribute.String("outcome", string(ClassifyError(err).Kind))
	}
	return attribute.String("outcome", "ok")
}
