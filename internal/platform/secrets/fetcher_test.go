package secrets

import (
	"context"
	"errors"
	"sync"
	"testing"

	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type fakeSecretClient struct {
	mu     sync.Mutex
	values map[string]string
	errors map[string]error
	calls  map[string]int
}

func newFakeSecretClient() *fakeSecretClient {
	return &fakeSecretClient{
		values: map[string]string{},
		errors: map[string]error{},
		calls:  map[string]int{},
	}
}

func (c *fakeSecretClient) AccessSecretVersion(_ context.Context, req *secretmanagerpb.AccessSecretVersionRequest, _ ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[req.GetName()]++
	if err, ok := c.errors[req.GetName()]; ok {
		return nil, err
	}
	value, ok := c.values[req.GetName()]
	if !ok {
		return nil, status.Error(codes.NotFound, "missing")
	}
	return &secretmanagerpb.AccessSecretVersionResponse{
		Name:    req.GetName(),
		Payload: &secretmanagerpb.SecretPayload{Data: []byte(value)},
	}, nil
}

func (c *fakeSecretClient) Close() error { return nil }

func (c *fakeSecretClient) callCount(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[name]
}

func TestResolveCachesRemoteSecret(t *testing.T) {
	ctx := context.Background()
	client := newFakeSecretClient()
	resource := "projects/atelier/secrets/stripe-api/versions/latest"
	client.values[resource] = "sk_live_remote"

	fetcher, err := NewFetcher(ctx, WithSecretManagerClient(client), WithProject("atelier"), WithLogger(zap.NewNop()))
	if err != nil {
		t.Fatalf("NewFetcher returned error: %v", err)
	}
	defer fetcher.Close()

	for i := 0; i < 2; i++ {
		got, err := fetcher.ResolveSecret(ctx, "secret://stripe/api")
		if err != nil {
			t.Fatalf("Resolve returned error: %v", err)
		}
		if got != "sk_live_remote" {
			t.Fatalf("expected sk_live_remote, got %s", got)
		}
	}
	if calls := client.callCount(resource); calls != 1 {
		t.Fatalf("expected one remote fetch, got %d", calls)
	}
}

func TestResolveHonoursVersionAndProject(t *testing.T) {
	ctx := context.Background()
	client := newFakeSecretClient()
	client.values["projects/vault/secrets/stripe-api/versions/3"] = "sk_v3"

	fetcher, err := NewFetcher(ctx, WithSecretManagerClient(client), WithProject("atelier"))
	if err != nil {
		t.Fatalf("NewFetcher returned error: %v", err)
	}

	got, err := fetcher.Resolve(ctx, "sm://stripe/api?version=3&project=vault")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if got != "sk_v3" {
		t.Fatalf("expected pinned version, got %s", got)
	}
}

func TestResolveUsesLocalOverrideWhenUnavailable(t *testing.T) {
	ctx := context.Background()
	client := newFakeSecretClient()
	client.errors["projects/atelier/secrets/stripe-api/versions/latest"] = status.Error(codes.PermissionDenied, "denied")

	fetcher, err := NewFetcher(ctx,
		WithSecretManagerClient(client),
		WithProject("atelier"),
		WithLocalOverrides(map[string]string{"secret://stripe/api": "sk_test_local"}),
	)
	if err != nil {
		t.Fatalf("NewFetcher returned error: %v", err)
	}

	got, err := fetcher.Resolve(ctx, "secret://stripe/api")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if got != "sk_test_local" {
		t.Fatalf("expected local override, got %s", got)
	}
}

func TestResolveErrors(t *testing.T) {
	ctx := context.Background()
	client := newFakeSecretClient()
	client.errors["projects/atelier/secrets/missing/versions/latest"] = status.Error(codes.Unavailable, "down")

	fetcher, err := NewFetcher(ctx, WithSecretManagerClient(client), WithProject("atelier"))
	if err != nil {
		t.Fatalf("NewFetcher returned error: %v", err)
	}

	if _, err := fetcher.Resolve(ctx, "secret://missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := fetcher.Resolve(ctx, "secret://absent"); err == nil || errors.Is(err, ErrNotFound) {
		t.Fatalf("expected hard failure for NotFound status, got %v", err)
	}
	if _, err := fetcher.Resolve(ctx, "https://example.com/secret"); err == nil {
		t.Fatalf("expected unsupported scheme error")
	}
	if _, err := fetcher.Resolve(ctx, " "); err == nil {
		t.Fatalf("expected empty reference error")
	}
}
