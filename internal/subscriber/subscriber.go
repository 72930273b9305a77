package subscriber

import (
	"context"
	"encoding/json"

	"bakery-system/internal/connections/rabbitmq"
	"bakery-system/internal/logger"
	"bakery-system/internal/notify"
	"bakery-system/internal/platform"
)

// Subscriber drains the user-notification queue and forwards each message
// to the chat platform as a direct message. Poison messages are dropped;
// delivery failures are logged and dropped rather than requeued, since a
// stale notification is worse than a missing one.
type Subscriber struct {
	mq       *rabbitmq.Client
	gateway  platform.Gateway
	log      *logger.Logger
	prefetch int
}

func New(mq *rabbitmq.Client, gw platform.Gateway, log *logger.Logger, prefetch int) *Subscriber {
	if prefetch <= 0 {
		prefetch = 10
	}
	return &Subscriber{mq: mq, gateway: gw, log: log, prefetch: prefetch}
}

func (s *Subscriber) Run(ctx context.Context) error {
	deliveries, err := s.mq.Consume(rabbitmq.UserQueue, "notify-subscriber", s.prefetch)
	if err != nil {
		return err
	}
	s.log.Info("subscriber_started", map[string]any{"queue": rabbitmq.UserQueue})
	for {
		select {
		case <-ctx.Done():
			s.log.Info("subscriber_stopped", nil)
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				s.log.Info("subscriber_channel_closed", nil)
				return nil
			}
			var msg notify.Message
			if err := json.Unmarshal(d.Body, &msg); err != nil {
				s.log.Error("notification_unmarshal_failed", err, nil)
				_ = d.Reject(false)
				continue
			}
			if err := s.gateway.SendDirect(ctx, msg.Recipient, msg.Text); err != nil {
				s.log.Error("notification_send_failed", err, map[string]any{
					"recipient": msg.Recipient,
					"kind":      msg.Kind,
				})
				_ = d.Reject(false)
				continue
			}
			s.log.Debug("notification_sent", map[string]any{"recipient": msg.Recipient, "kind": msg.Kind})
			_ = d.Ack(false)
		}
	}
}
