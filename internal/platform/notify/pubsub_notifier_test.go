package notify

import (
	"context"
	"encoding/json"
	"testing"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func newTestNotifier(t *testing.T) (*PubSubNotifier, *pstest.Server) {
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

	topic, err := client.CreateTopic(ctx, "notifications")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}
	notifier, err := NewPubSubNotifier(topic)
	if err != nil {
		t.Fatalf("NewPubSubNotifier: %v", err)
	}
	return notifier, srv
}

func TestPubSubNotifierPublishesTemplateMessage(t *testing.T) {
	notifier, srv := newTestNotifier(t)

	payload := map[string]any{"orderNumber": "HW-2026-000042", "reason": "blurry proof"}
	if err := notifier.Notify(context.Background(), "cus_1", "payment_rejected", payload); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}
	var decoded message
	if err := json.Unmarshal(messages[0].Data, &decoded); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if decoded.CustomerID != "cus_1" || decoded.TemplateID != "payment_rejected" {
		t.Fatalf("unexpected message %#v", decoded)
	}
	if decoded.Payload["reason"] != "blurry proof" {
		t.Fatalf("payload reason = %v", decoded.Payload["reason"])
	}
	if got := messages[0].Attributes["templateId"]; got != "payment_rejected" {
		t.Fatalf("templateId attribute = %q", got)
	}
}

func TestPubSubNotifierRejectsBlankIdentity(t *testing.T) {
	notifier, _ := newTestNotifier(t)

	if err := notifier.Notify(context.Background(), "  ", "payment_rejected", nil); err == nil {
		t.Fatal("expected error for blank customer id")
	}
	if err := notifier.Notify(context.Background(), "cus_1", "", nil); err == nil {
		t.Fatal("expected error for blank template id")
	}
}
