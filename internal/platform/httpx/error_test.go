package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/lustreworks/fulfillment-api/internal/platform/requestctx"
)

func TestWriteErrorMergesDetailsUnderEnvelope(t *testing.T) {
	ctx := requestctx.WithTrace(context.Background(), requestctx.TraceInfo{TraceID: "abc123"})
	err := NewError("insufficient_inventory", "not enough\nstock", http.StatusConflict).
		WithDetails(map[string]any{"sku": "RING-001", "error": "overridden?"})

	rr := httptest.NewRecorder()
	WriteError(ctx, rr, err)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("unexpected content type %q", ct)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"] != "insufficient_inventory" {
		t.Fatalf("details must not replace the error code, got %v", body["error"])
	}
	if body["message"] != "not enough stock" {
		t.Fatalf("expected single-line message, got %q", body["message"])
	}
	if body["sku"] != "RING-001" || body["trace_id"] != "abc123" {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestNewErrorDefaultsToInternal(t *testing.T) {
	if got := NewError("boom", "failed", 0).Status; got != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", got)
	}
}
