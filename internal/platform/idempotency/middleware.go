package idempotency

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/lustreworks/fulfillment-api/internal/platform/httpx"
	"github.com/lustreworks/fulfillment-api/internal/platform/requestctx"
)

const (
	// HeaderName carries the client-chosen key.
	HeaderName       = "Idempotency-Key"
	replayHeaderName = "X-Idempotent-Replay"
	maxKeyLength     = 255
	anonymousActor   = "anonymous"
)

// Logger receives persistence failures that cannot be surfaced to the client.
type Logger func(ctx context.Context, event string, fields map[string]any)

type middlewareConfig struct {
	ttl         time.Duration
	requireKey  bool
	clock       func() time.Time
	logger      Logger
	maxBodySize int64
}

// MiddlewareOption customises the middleware.
type MiddlewareOption func(*middlewareConfig)

// WithTTL sets how long completed responses are replayed.
func WithTTL(ttl time.Duration) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if ttl > 0 {
			cfg.ttl = ttl
		}
	}
}

// WithRequiredKey rejects requests that omit the key header. By default such requests run
// without replay protection.
func WithRequiredKey() MiddlewareOption {
	return func(cfg *middlewareConfig) {
		cfg.requireKey = true
	}
}

func WithLogger(logger Logger) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		cfg.logger = logger
	}
}

func WithClock(clock func() time.Time) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if clock != nil {
			cfg.clock = clock
		}
	}
}

// WithMaxBodySize caps the request body buffered for fingerprinting.
func WithMaxBodySize(limit int64) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if limit > 0 {
			cfg.maxBodySize = limit
		}
	}
}

// Middleware replays the stored response when a request is retried with the same key, actor and
// payload. Keys are scoped per actor taken from requestctx.Actor.
func Middleware(store Store, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	cfg := middlewareConfig{
		ttl:         DefaultTTL,
		clock:       time.Now,
		maxBodySize: 1 << 20,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if store == nil {
		return func(next http.Handler) http.Handler { return next }
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			key := strings.TrimSpace(r.Header.Get(HeaderName))
			if key == "" {
				if cfg.requireKey {
					httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_required", "missing Idempotency-Key header", http.StatusBadRequest))
					return
				}
				next.ServeHTTP(w, r)
				return
			}
			if len(key) > maxKeyLength {
				httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_invalid", fmt.Sprintf("Idempotency-Key must be at most %d characters", maxKeyLength), http.StatusBadRequest))
				return
			}

			body, err := readAndReplayBody(r, cfg.maxBodySize)
			if err != nil {
				if errors.Is(err, errBodyTooLarge) {
					httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
					return
				}
				httpx.WriteError(ctx, w, httpx.NewError("invalid_body", "unable to read request body", http.StatusBadRequest))
				return
			}

			actor := requester(ctx)
			fingerprint := requestFingerprint(r, body, actor)
			scoped := scopedKey(key, actor)

			reservation, err := store.Reserve(ctx, scoped, fingerprint, cfg.clock().UTC(), cfg.ttl)
			if err != nil {
				if errors.Is(err, ErrFingerprintMismatch) {
					httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_conflict", "Idempotency-Key already used for a different request", http.StatusConflict))
					return
				}
				cfg.log(ctx, "idempotency.reserve.failed", map[string]any{"actor": actor, "error": err.Error()})
				httpx.WriteError(ctx, w, httpx.NewError("idempotency_store_error", "unable to process Idempotency-Key", http.StatusInternalServerError))
				return
			}

			switch reservation.State {
			case ReservationStateCompleted:
				writeStoredResponse(w, reservation.Record)
				return
			case ReservationStatePending:
				httpx.WriteError(ctx, w, httpx.NewError("idempotency_in_progress", "another request is processing this Idempotency-Key", http.StatusConflict))
				return
			}

			recorder := newResponseRecorder(w)
			next.ServeHTTP(recorder, r)

			// Server errors are not cached so the client can retry with the same key.
			if recorder.Status() >= http.StatusInternalServerError {
				if err := store.Release(ctx, scoped, fingerprint); err != nil {
					cfg.log(ctx, "idempotency.release.failed", map[string]any{"actor": actor, "error": err.Error()})
				}
				recorder.commit()
				return
			}

			response := Response{Status: recorder.Status(), Headers: recorder.header, Body: recorder.body.Bytes()}
			if err := store.SaveResponse(ctx, scoped, fingerprint, response, cfg.clock().UTC(), cfg.ttl); err != nil {
				cfg.log(ctx, "idempotency.save.failed", map[string]any{"actor": actor, "error": err.Error()})
				if err := store.Release(ctx, scoped, fingerprint); err != nil {
					cfg.log(ctx, "idempotency.release.failed", map[string]any{"actor": actor, "error": err.Error()})
				}
			}
			recorder.commit()
		})
	}
}

func (cfg middlewareConfig) log(ctx context.Context, event string, fields map[string]any) {
	if cfg.logger != nil {
		cfg.logger(ctx, event, fields)
	}
}

var errBodyTooLarge = errors.New("idempotency: request body too large")

func readAndReplayBody(r *http.Request, limit int64) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, err
	}
	_ = r.Body.Close()
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	r.Body = io.NopCloser(bytes.NewReader(data))
	return data, nil
}

func requester(ctx context.Context) string {
	if actor := strings.TrimSpace(requestctx.Actor(ctx)); actor != "" {
		return actor
	}
	return anonymousActor
}

func requestFingerprint(r *http.Request, body []byte, actor string) string {
	parts := []string{
		strings.ToUpper(r.Method),
		r.URL.Path,
		r.URL.RawQuery,
		actor,
	}
	if len(body) > 0 {
		parts = append(parts, sha256Hex(body))
	}
	return sha256Hex([]byte(strings.Join(parts, "|")))
}

func scopedKey(key, actor string) string {
	return actor + "|" + strings.TrimSpace(key)
}

func writeStoredResponse(w http.ResponseWriter, record Record) {
	for name, values := range record.ResponseHeaders {
		for _, value := range values {
			w.Header().Add(name, value)
		}
	}
	w.Header().Set(replayHeaderName, "true")
	code := record.ResponseStatus
	if code == 0 {
		code = http.StatusOK
	}
	w.WriteHeader(code)
	if len(record.ResponseBody) > 0 {
		_, _ = w.Write(record.ResponseBody)
	}
}

// responseRecorder buffers the handler's response until the store has been updated.
type responseRecorder struct {
	parent http.ResponseWriter
	header http.Header
	status int
	body   bytes.Buffer
}

func newResponseRecorder(parent http.ResponseWriter) *responseRecorder {
	return &responseRecorder{parent: parent, header: make(http.Header)}
}

func (r *responseRecorder) Header() http.Header {
	return r.header
}

func (r *responseRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
}

func (r *responseRecorder) Write(data []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.body.Write(data)
}

func (r *responseRecorder) Status() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}

func (r *responseRecorder) commit() {
	dst := r.parent.Header()
	for name, values := range r.header {
		dst[name] = append([]string(nil), values...)
	}
	r.parent.WriteHeader(r.Status())
	if r.body.Len() > 0 {
		_, _ = r.parent.Write(r.body.Bytes())
	}
}
