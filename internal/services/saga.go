package services

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	domain "github.com/lustreworks/fulfillment-api/internal/domain"
	"github.com/lustreworks/fulfillment-api/internal/repositories"
)

const (
	sagaIDPrefix    = "saga_"
	sagaLogIDPrefix = "slg_"
)

// sagaRecorder creates saga runs and appends their transitions to the saga log. Log writes are
// best effort: a failed append is logged and never changes the outcome of the saga.
type sagaRecorder struct {
	logs    repositories.SagaLogRepository
	clock   func() time.Time
	newID   func() string
	logger  func(context.Context, string, map[string]any)
	metrics fulfillmentMetrics
}

type compensation struct {
	step string
	undo func(context.Context) error
}

type sagaRun struct {
	rec     *sagaRecorder
	id      string
	name    string
	orderID string
	stack   []compensation
}

func (r *sagaRecorder) begin(ctx context.Context, name, orderID string) *sagaRun {
	run := &sagaRun{rec: r, id: sagaIDPrefix + r.newID(), name: name, orderID: orderID}
	run.record(ctx, "", domain.SagaStatusStarted, nil)
	return run
}

// step runs fn and records the outcome. The caller pushes the compensation only after fn
// succeeded, so a failed step never undoes itself.
func (s *sagaRun) step(ctx context.Context, name string, fn func(context.Context) error) error {
	if err := fn(ctx); err != nil {
		s.record(ctx, name, domain.SagaStatusStepFailed, err)
		return err
	}
	s.record(ctx, name, domain.SagaStatusStepDone, nil)
	return nil
}

func (s *sagaRun) push(step string, undo func(context.Context) error) {
	s.stack = append(s.stack, compensation{step: step, undo: undo})
}

// abort unwinds the compensation stack in reverse order and returns cause unchanged. Compensations
// run on a context detached from the caller's cancellation.
func (s *sagaRun) abort(ctx context.Context, cause error) error {
	ctx = context.WithoutCancel(ctx)
	if len(s.stack) > 0 {
		s.record(ctx, "", domain.SagaStatusCompensating, cause)
	}
	for i := len(s.stack) - 1; i >= 0; i-- {
		c := s.stack[i]
		if err := c.undo(ctx); err != nil {
			s.rec.logger(ctx, "saga.compensation.failed", map[string]any{
				"sagaId":  s.id,
				"saga":    s.name,
				"orderId": s.orderID,
				"step":    c.step,
				"error":   err.Error(),
				"cause":   cause.Error(),
			})
			s.rec.metrics.compensations.Add(ctx, 1, metric.WithAttributes(
				attribute.String("saga", s.name), attribute.String("step", c.step), attribute.String("result", "failed")))
			s.record(ctx, c.step, domain.SagaStatusStepFailed, err)
			continue
		}
		s.rec.metrics.compensations.Add(ctx, 1, metric.WithAttributes(
			attribute.String("saga", s.name), attribute.String("step", c.step), attribute.String("result", "ok")))
		s.record(ctx, c.step, domain.SagaStatusCompensated, nil)
	}
	s.stack = nil
	s.record(ctx, "", domain.SagaStatusFailed, cause)
	return cause
}

func (s *sagaRun) complete(ctx context.Context) {
	s.stack = nil
	s.record(ctx, "", domain.SagaStatusCompleted, nil)
}

func (s *sagaRun) record(ctx context.Context, step string, status domain.SagaStatus, err error) {
	if s.rec.logs == nil {
		return
	}
	entry := domain.SagaLogEntry{
		ID:         sagaLogIDPrefix + s.rec.newID(),
		SagaID:     s.id,
		Saga:       s.name,
		OrderID:    s.orderID,
		Step:       step,
		Status:     status,
		OccurredAt: s.rec.clock(),
	}
	if err != nil {
		entry.Error = err.Error()
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		entry.TraceID = sc.TraceID().String()
		entry.SpanID = sc.SpanID().String()
	}
	if appendErr := s.rec.logs.Append(ctx, entry); appendErr != nil {
		s.rec.logger(ctx, "saga.log.append.failed", map[string]any{
			"sagaId": s.id,
			"step":   step,
			"status": string(status),
			"error":  appendErr.Error(),
		})
	}
}
