package events

import (
	"context"
	"sync"
	"time"
)

// Routing keys published on the expo exchange.
const (
	RegistrationCreated = "registration.created"
	RegistrantStatus    = "registrant.status_changed"
	RegistrantDeleted   = "registrant.deleted"
	TicketUpgraded      = "ticket.upgraded"
	PaymentSettled      = "payment.settled"
	CouponReserved      = "coupon.reserved"
	CouponReleased      = "coupon.released"
)

type Envelope struct {
	Type       string    `json:"type"`
	OccurredAt time.Time `json:"occurredAt"`
	Data       any       `json:"data"`
}

type Publisher interface {
	Publish(ctx context.Context, routingKey string, data any) error
}

// Noop drops everything. Used when no broker is configured.
type Noop struct{}

func (Noop) Publish(context.Context, string, any) error { return nil }

// Recorder keeps published envelopes in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Envelope
}

func (r *Recorder) Publish(_ context.Context, routingKey string, data any) error {
	r.mu.Lock()
	r.events = append(r.events, Envelope{Type: routingKey, OccurredAt: time.Now().UTC(), Data: data})
	r.mu.Unlock()
	return nil
}

func (r *Recorder) Events() []Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Envelope, len(r.events))
	copy(out, r.events)
	return out
}

// Types lists the routing keys seen so far, in order.
func (r *Recorder) Types() []string {
	evs := r.Events()
	out := make([]string, len(evs))
	for i, e := range evs {
		out[i] = e.Type
	}
	return out
}
