package jobs

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/lustreworks/fulfillment-api/internal/services"
)

func newTestTopic(t *testing.T) (*pstest.Server, *pubsub.Topic) {
	t.Helper()
	ctx := context.Background()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	client, err := pubsub.NewClient(ctx, "test-project",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		t.Fatalf("pubsub.NewClient: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	topic, err := client.CreateTopic(ctx, "order-events")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}
	t.Cleanup(topic.Stop)
	return srv, topic
}

func TestPubSubOrderEventPublisherPublishesMessage(t *testing.T) {
	srv, topic := newTestTopic(t)

	publisher, err := NewPubSubOrderEventPublisher(topic)
	if err != nil {
		t.Fatalf("NewPubSubOrderEventPublisher: %v", err)
	}

	event := services.OrderEvent{
		Type:        services.OrderEventStageChanged,
		OrderID:     "ord_01",
		OrderNumber: "JW-2025-000042",
		CustomerID:  "cus_9",
		Stage:       "CAD",
		ActorID:     "emp_3",
		OccurredAt:  time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC),
	}

	id, err := publisher.PublishOrderEvent(context.Background(), event)
	if err != nil {
		t.Fatalf("PublishOrderEvent: %v", err)
	}
	if id == "" {
		t.Fatalf("expected message id")
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}

	var payload services.OrderEvent
	if err := json.Unmarshal(messages[0].Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.OrderID != "ord_01" || payload.Stage != "CAD" || !payload.OccurredAt.Equal(event.OccurredAt) {
		t.Fatalf("unexpected payload %#v", payload)
	}
	attrs := messages[0].Attributes
	if attrs["eventType"] != services.OrderEventStageChanged || attrs["orderNumber"] != "JW-2025-000042" {
		t.Fatalf("unexpected attributes %v", attrs)
	}
	if messages[0].OrderingKey != "ord_01" {
		t.Fatalf("expected ordering key ord_01, got %q", messages[0].OrderingKey)
	}
}

func TestPubSubOrderEventPublisherOmitsEmptyAttributes(t *testing.T) {
	srv, topic := newTestTopic(t)
	publisher, err := NewPubSubOrderEventPublisher(topic)
	if err != nil {
		t.Fatalf("NewPubSubOrderEventPublisher: %v", err)
	}

	if _, err := publisher.PublishOrderEvent(context.Background(), services.OrderEvent{
		Type:    services.OrderEventCancelled,
		OrderID: "ord_02",
	}); err != nil {
		t.Fatalf("PublishOrderEvent: %v", err)
	}

	attrs := srv.Messages()[0].Attributes
	if _, ok := attrs["stage"]; ok {
		t.Fatalf("stage attribute should be omitted, got %v", attrs)
	}
	if attrs["orderId"] != "ord_02" {
		t.Fatalf("expected order id attribute, got %v", attrs)
	}
}

func TestPubSubOrderEventPublisherRejectsIncompleteEvents(t *testing.T) {
	if _, err := NewPubSubOrderEventPublisher(nil); err == nil {
		t.Fatalf("expected error for nil topic")
	}

	_, topic := newTestTopic(t)
	publisher, err := NewPubSubOrderEventPublisher(topic)
	if err != nil {
		t.Fatalf("NewPubSubOrderEventPublisher: %v", err)
	}
	if _, err := publisher.PublishOrderEvent(context.Background(), services.OrderEvent{Type: services.OrderEventCreated}); err == nil {
		t.Fatalf("expected error for missing order id")
	}
}
