package callbacks

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/mathsnotes/server/internal/config"
	"github.com/rs/zerolog"
)

type fakePublisher struct {
	inputs []*sns.PublishInput
	err    error
}

func (f *fakePublisher) Publish(_ context.Context, in *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
	f.inputs = append(f.inputs, in)
	if f.err != nil {
		return nil, f.err
	}
	return &sns.PublishOutput{MessageId: aws.String("msg-1")}, nil
}

func TestSNSNotifier_Publishes(t *testing.T) {
	pub := &fakePublisher{}
	n := newSNSNotifier(pub, "arn:aws:sns:us-east-1:123:ops", nil, zerolog.Nop())

	n.FulfillmentFailed(context.Background(), FulfillmentFailedEvent{Reference: "pi_7", Error: "mail bounced"})

	if len(pub.inputs) != 1 {
		t.Fatalf("Expected 1 publish, got %d", len(pub.inputs))
	}
	in := pub.inputs[0]
	if aws.ToString(in.TopicArn) != "arn:aws:sns:us-east-1:123:ops" {
		t.Errorf("TopicArn = %q", aws.ToString(in.TopicArn))
	}
	if got := aws.ToString(in.MessageAttributes["eventType"].StringValue); got != EventFulfillmentFailed {
		t.Errorf("eventType attribute = %q", got)
	}

	var ev FulfillmentFailedEvent
	if err := json.Unmarshal([]byte(aws.ToString(in.Message)), &ev); err != nil {
		t.Fatalf("message is not JSON: %v", err)
	}
	if ev.Reference != "pi_7" || ev.EventID == "" {
		t.Errorf("event = %+v", ev)
	}
}

func TestSNSNotifier_PublishErrorIsSwallowed(t *testing.T) {
	pub := &fakePublisher{err: errors.New("throttled")}
	n := newSNSNotifier(pub, "arn:aws:sns:us-east-1:123:ops", nil, zerolog.Nop())

	n.PurchaseCompleted(context.Background(), PurchaseEvent{Reference: "pi_8"})

	if len(pub.inputs) != 1 {
		t.Errorf("Expected 1 publish attempt, got %d", len(pub.inputs))
	}
}

func TestNew_SelectsBackend(t *testing.T) {
	ctx := context.Background()

	n, closer, err := New(ctx, config.AlertsConfig{}, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("New(none) error = %v", err)
	}
	if _, ok := n.(NoopNotifier); !ok {
		t.Errorf("New(none) = %T, want NoopNotifier", n)
	}
	_ = closer.Close()

	n, closer, err = New(ctx, config.AlertsConfig{Backend: "webhook", WebhookURL: "http://127.0.0.1:1/hook", DLQEnabled: true}, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("New(webhook) error = %v", err)
	}
	if _, ok := n.(*WebhookNotifier); !ok {
		t.Errorf("New(webhook) = %T, want *WebhookNotifier", n)
	}
	_ = closer.Close()

	if _, _, err := New(ctx, config.AlertsConfig{Backend: "webhook"}, nil, zerolog.Nop()); err == nil {
		t.Error("webhook backend without URL should fail")
	}
	if _, _, err := New(ctx, config.AlertsConfig{Backend: "sns"}, nil, zerolog.Nop()); err == nil {
		t.Error("sns backend without topic should fail")
	}
	if _, _, err := New(ctx, config.AlertsConfig{Backend: "pager"}, nil, zerolog.Nop()); err == nil {
		t.Error("unknown backend should fail")
	}
}
