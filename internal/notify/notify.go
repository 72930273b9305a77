package notify

import (
	"context"
	"sync"
	"time"

	"bakery-system/internal/domain"
)

// Routing keys on the fulfillment.events topic exchange. Staff-pool
// broadcasts are keyed by the audience that should wake up; audit traffic
// goes to the audit.* keys for the operations log.
const (
	KeyOrderCreated = "preparers.order.created"
	KeyOrderUrgent  = "preparers.order.urgent"
	KeyOrderReady   = "couriers.order.ready"

	KeyAuditOrder      = "audit.order"
	KeyAuditDiscipline = "audit.discipline"
	KeyAuditQuota      = "audit.quota"
)

type Kind string

const (
	KindOrderUpdate Kind = "order_update"
	KindDiscipline  Kind = "discipline"
	KindQuota       Kind = "quota"
	KindPayment     Kind = "payment"
)

// Message is a direct notification to one user, drained off the fanout
// queue by the subscriber process.
type Message struct {
	Kind      Kind      `json:"kind"`
	Recipient string    `json:"recipient"`
	OrderID   string    `json:"order_id,omitempty"`
	Text      string    `json:"text"`
	At        time.Time `json:"at"`
}

// OrderEvent is the staff-pool broadcast payload: a snapshot of the order
// at the moment of the event, enough for a worker to decide whether to act.
type OrderEvent struct {
	OrderID     string             `json:"order_id"`
	Item        string             `json:"item"`
	Tier        domain.Tier        `json:"tier"`
	Status      domain.Status      `json:"status"`
	Destination domain.Destination `json:"destination"`
	At          time.Time          `json:"at"`
}

// Notifier is the outbound messaging boundary. Callers treat every method
// as best-effort: a delivery failure must never roll back the state change
// that prompted it.
type Notifier interface {
	// User sends a direct message to one identity.
	User(ctx context.Context, identity string, kind Kind, orderID, text string) error
	// Order broadcasts an order snapshot to a staff pool routing key.
	Order(ctx context.Context, key string, ev OrderEvent) error
	// Audit publishes an arbitrary payload to an audit.* routing key.
	Audit(ctx context.Context, key string, payload any) error
}

// Recorder is an in-memory Notifier for tests.
type Recorder struct {
	mu     sync.Mutex
	users  []Message
	events []OrderEvent
	audits []any
}

func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) User(_ context.Context, identity string, kind Kind, orderID, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users = append(r.users, Message{Kind: kind, Recipient: identity, OrderID: orderID, Text: text})
	return nil
}

func (r *Recorder) Order(_ context.Context, _ string, ev OrderEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *Recorder) Audit(_ context.Context, _ string, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audits = append(r.audits, payload)
	return nil
}

// UserMessages returns a copy of the direct messages sent so far.
func (r *Recorder) UserMessages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.users...)
}

// OrderEvents returns a copy of the pool broadcasts sent so far.
func (r *Recorder) OrderEvents() []OrderEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]OrderEvent(nil), r.events...)
}

// AuditCount reports how many audit payloads were published.
func (r *Recorder) AuditCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.audits)
}
