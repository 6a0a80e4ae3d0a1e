package payment

import (
	"context"
	"strings"
	"sync"
)

// Sandbox is an in-process gateway for dev and tests. Its checkout page is
// served by the API itself and settles the order when the payer clicks.
type Sandbox struct {
	checkoutBase string

	mu     sync.Mutex
	orders map[string]string
}

func NewSandbox(publicBase string) *Sandbox {
	return &Sandbox{
		checkoutBase: strings.TrimRight(publicBase, "/") + "/api/payment/sandbox/checkout/",
		orders:       make(map[string]string),
	}
}

func (s *Sandbox) CreateOrder(_ context.Context, in CreateInput) (ProviderOrder, error) {
	id := "sbx_" + in.OrderID

	s.mu.Lock()
	s.orders[id] = "ACTIVE"
	s.mu.Unlock()

	return ProviderOrder{ProviderOrderID: id, CheckoutURL: s.checkoutBase + id, Status: "ACTIVE"}, nil
}

func (s *Sandbox) FetchStatus(_ context.Context, providerOrderID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.orders[providerOrderID]
	if !ok {
		return "", ErrProviderOrderNotFound
	}
	return st, nil
}

// Complete settles a sandbox order with the given raw status (e.g. "PAID", "CANCELLED").
func (s *Sandbox) Complete(providerOrderID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.orders[providerOrderID]; !ok {
		return ErrProviderOrderNotFound
	}
	s.orders[providerOrderID] = status
	return nil
}
