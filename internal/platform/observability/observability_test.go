package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/lustreworks/fulfillment-api/internal/platform/requestctx"
)

func TestParseCloudTraceContext(t *testing.T) {
	info, spanCtx, ok := parseCloudTraceContext("105445aa7843bc8bf206b12000100000/1;o=1")
	if !ok {
		t.Fatalf("expected header to parse")
	}
	if info.TraceID != "105445aa7843bc8bf206b12000100000" {
		t.Fatalf("unexpected trace id %s", info.TraceID)
	}
	if info.SpanID != "0000000000000001" {
		t.Fatalf("unexpected span id %s", info.SpanID)
	}
	if !info.Sampled || !spanCtx.IsSampled() || !spanCtx.IsRemote() {
		t.Fatalf("expected sampled remote span context")
	}

	for _, header := range []string{"", "nope", "abc/1", "105445aa7843bc8bf206b12000100000/"} {
		if _, _, ok := parseCloudTraceContext(header); ok {
			t.Fatalf("expected %q to be rejected", header)
		}
	}
}

func TestTraceMiddlewarePropagatesCloudTrace(t *testing.T) {
	var seen requestctx.TraceInfo
	handler := TraceMiddleware("atelier-prod")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = requestctx.Trace(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders/ord_1", nil)
	req.Header.Set(cloudTraceHeader, "105445aa7843bc8bf206b12000100000/1;o=1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if seen.TraceID != "105445aa7843bc8bf206b12000100000" {
		t.Fatalf("expected trace id to propagate, got %q", seen.TraceID)
	}
	if seen.ProjectID != "atelier-prod" {
		t.Fatalf("expected project id, got %q", seen.ProjectID)
	}
	if got := rec.Header().Get(cloudTraceHeader); got == "" {
		t.Fatalf("expected trace header on response")
	}
}

func TestRecoveryMiddlewareWritesJSONError(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	handler := RecoveryMiddleware(zap.New(core))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/orders", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["error"] != "internal_server_error" {
		t.Fatalf("unexpected body %v", body)
	}
	if logs.FilterMessage("panic recovered").Len() != 1 {
		t.Fatalf("expected panic to be logged")
	}
}

func TestRequestLoggerMiddlewareRecordsActor(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	handler := InjectLoggerMiddleware(zap.New(core))(
		RequestLoggerMiddleware("atelier-prod")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusConflict)
		})),
	)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders/ord_1/stage", nil)
	req = req.WithContext(requestctx.WithActor(req.Context(), "emp_7"))
	handler.ServeHTTP(httptest.NewRecorder(), req)

	completed := logs.FilterMessage("request completed").All()
	if len(completed) != 1 {
		t.Fatalf("expected one completion entry, got %d", len(completed))
	}
	entry := completed[0]
	if entry.Level != zapcore.WarnLevel {
		t.Fatalf("expected warn level for 409, got %s", entry.Level)
	}
	fields := entry.ContextMap()
	if fields["actor_id"] != "emp_7" {
		t.Fatalf("expected actor id field, got %v", fields["actor_id"])
	}
	if fields["status"] != int64(http.StatusConflict) {
		t.Fatalf("expected status field 409, got %v", fields["status"])
	}
}

func TestEventLoggerLevels(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logEvent := EventLogger(zap.New(core))

	logEvent(context.Background(), "saga.step.done", map[string]any{"step": "reserve_inventory"})
	logEvent(context.Background(), "saga.compensation.failed", map[string]any{"error": errors.New("release failed")})

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Level != zapcore.DebugLevel || entries[0].ContextMap()["event"] != "saga.step.done" {
		t.Fatalf("unexpected first entry %+v", entries[0])
	}
	if entries[1].Level != zapcore.WarnLevel {
		t.Fatalf("expected failure events at warn, got %s", entries[1].Level)
	}
	if entries[1].ContextMap()["error"] != "release failed" {
		t.Fatalf("expected error field, got %v", entries[1].ContextMap()["error"])
	}
}
