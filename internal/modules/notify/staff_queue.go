package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"cloud.google.com/go/pubsub"
)

// PubSubQueue publishes staff messages to a Pub/Sub topic consumed by the
// dispensary tooling.
type PubSubQueue struct {
	topic *pubsub.Topic
}

func NewPubSubQueue(topic *pubsub.Topic) (*PubSubQueue, error) {
	if topic == nil {
		return nil, errors.New("pubsub staff queue: topic is required")
	}
	return &PubSubQueue{topic: topic}, nil
}

func (q *PubSubQueue) Publish(ctx context.Context, msg StaffMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal staff message: %w", err)
	}
	attrs := map[string]string{
		"kind":           msg.Kind,
		"prescriptionId": strconv.FormatUint(msg.PrescriptionID, 10),
	}
	if msg.OrderNumber != "" {
		attrs["orderNumber"] = msg.OrderNumber
	}

	res := q.topic.Publish(ctx, &pubsub.Message{Data: data, Attributes: attrs})
	if _, err := res.Get(ctx); err != nil {
		return fmt.Errorf("publish staff message: %w", err)
	}
	return nil
}

// EmailQueue is the fallback when no topic is configured: staff messages go
// to a shared inbox.
type EmailQueue struct {
	notifier Notifier
	inbox    string
}

func NewEmailQueue(n Notifier, inbox string) *EmailQueue {
	return &EmailQueue{notifier: n, inbox: inbox}
}

func (q *EmailQueue) Publish(ctx context.Context, msg StaffMessage) error {
	if q.inbox == "" {
		return nil
	}
	return q.notifier.Send(ctx, TemplateStaffNewOrder, Recipient{Email: q.inbox, Name: "Dispensary"}, map[string]any{
		"prescription_id": msg.PrescriptionID,
		"order_number":    msg.OrderNumber,
	})
}
