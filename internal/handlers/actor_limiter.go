package handlers

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/lustreworks/fulfillment-api/internal/platform/httpx"
	"github.com/lustreworks/fulfillment-api/internal/platform/observability"
	"github.com/lustreworks/fulfillment-api/internal/platform/requestctx"
)

// ActorHeader carries the back-office operator id. Authentication happens upstream.
const ActorHeader = "X-Actor-ID"

// ActorMiddleware copies the operator id from ActorHeader into the request context.
func ActorMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if actor := observability.SanitizeActorID(r.Header.Get(ActorHeader)); actor != "" {
			r = r.WithContext(requestctx.WithActor(r.Context(), actor))
		}
		next.ServeHTTP(w, r)
	})
}

// actorLimiter is a fixed-window counter per actor. A nil limiter allows everything.
type actorLimiter struct {
	limit  int
	window time.Duration
	clock  func() time.Time
	mu     sync.Mutex
	store  map[string]actorWindow
}

type actorWindow struct {
	count int
	reset time.Time
}

func newActorLimiter(limit int, window time.Duration, clock func() time.Time) *actorLimiter {
	if limit <= 0 || window <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &actorLimiter{
		limit:  limit,
		window: window,
		clock:  clock,
		store:  make(map[string]actorWindow),
	}
}

func (l *actorLimiter) Allow(actor string) bool {
	if l == nil {
		return true
	}
	actor = strings.TrimSpace(actor)
	if actor == "" {
		actor = "system"
	}
	now := l.clock()
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.store[actor]
	if !ok || now.After(entry.reset) {
		l.store[actor] = actorWindow{count: 1, reset: now.Add(l.window)}
		l.pruneLocked(now)
		return true
	}
	if entry.count >= l.limit {
		return false
	}
	entry.count++
	l.store[actor] = entry
	return true
}

// Middleware rejects requests from actors over their budget with 429.
func (l *actorLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.Allow(requestctx.Actor(r.Context())) {
			httpx.WriteError(r.Context(), w, httpx.NewError("rate_limited", "too many requests for this actor", http.StatusTooManyRequests))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (l *actorLimiter) pruneLocked(now time.Time) {
	for key, entry := range l.store {
		if now.After(entry.reset) {
			delete(l.store, key)
		}
	}
}
