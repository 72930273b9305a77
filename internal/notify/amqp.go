package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"bakery-system/internal/connections/rabbitmq"
)

// AMQP publishes notifications through the shared broker client with
// publisher confirms. Both exchanges are declared by DeclareTopology at
// startup, so publishes here assume the topology exists.
type AMQP struct {
	mq *rabbitmq.Client
}

func NewAMQP(mq *rabbitmq.Client) *AMQP { return &AMQP{mq: mq} }

func (n *AMQP) User(ctx context.Context, identity string, kind Kind, orderID, text string) error {
	body, err := json.Marshal(Message{
		Kind:      kind,
		Recipient: identity,
		OrderID:   orderID,
		Text:      text,
		At:        time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal user message: %w", err)
	}
	return n.mq.Publish(ctx, rabbitmq.UserFanout, "", body, nil)
}

func (n *AMQP) Order(ctx context.Context, key string, ev OrderEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal order event: %w", err)
	}
	return n.mq.Publish(ctx, rabbitmq.EventsExchange, key, body, nil)
}

func (n *AMQP) Audit(ctx context.Context, key string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}
	return n.mq.Publish(ctx, rabbitmq.EventsExchange, key, body, nil)
}
