package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/railtrans/expo/internal/domain/payment"
	"github.com/railtrans/expo/internal/events"
)

var ErrNoCheckoutURL = errors.New("provider returned no checkout url")

type Orders interface {
	Create(ctx context.Context, o payment.Order) error
	AttachProvider(ctx context.Context, id, providerOrderID, checkoutURL string, status payment.Status) error
	SetStatus(ctx context.Context, id string, status payment.Status) error
	LatestByReference(ctx context.Context, ref string) (payment.Order, error)
	GetByProviderOrderID(ctx context.Context, providerOrderID string) (payment.Order, error)
}

type Service struct {
	orders    Orders
	provider  Provider
	publisher events.Publisher
	returnURL string
	log       *slog.Logger
}

func NewService(orders Orders, provider Provider, publisher events.Publisher, returnURL string, log *slog.Logger) *Service {
	if publisher == nil {
		publisher = events.Noop{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{orders: orders, provider: provider, publisher: publisher, returnURL: returnURL, log: log}
}

// CreateOrder stores a local order and opens a hosted checkout for it.
func (s *Service) CreateOrder(ctx context.Context, req payment.CreateOrderRequest) (payment.Order, error) {
	if req.Amount <= 0 {
		return payment.Order{}, payment.ErrInvalidAmount
	}

	o := payment.NewOrder(req)

	if err := s.orders.Create(ctx, o); err != nil {
		return payment.Order{}, fmt.Errorf("store order: %w", err)
	}

	po, err := s.provider.CreateOrder(ctx, CreateInput{
		OrderID:     o.ID,
		ReferenceID: o.ReferenceID,
		Amount:      o.Amount,
		Currency:    o.Currency,
		Customer:    req.Customer,
		ReturnURL:   s.returnURL,
		Metadata:    req.Metadata,
	})
	if err != nil {
		_ = s.orders.SetStatus(ctx, o.ID, payment.StatusFailed)
		return payment.Order{}, fmt.Errorf("provider create order: %w", err)
	}
	if po.CheckoutURL == "" {
		_ = s.orders.SetStatus(ctx, o.ID, payment.StatusFailed)
		return payment.Order{}, ErrNoCheckoutURL
	}

	status := payment.Normalize(po.Status)
	if status == payment.StatusCreated {
		status = payment.StatusPending
	}

	if err := s.orders.AttachProvider(ctx, o.ID, po.ProviderOrderID, po.CheckoutURL, status); err != nil {
		return payment.Order{}, err
	}

	o.ProviderOrderID = po.ProviderOrderID
	o.CheckoutURL = po.CheckoutURL
	o.Status = status
	return o, nil
}

// Status returns the latest order for ref, asking the provider while it is still open.
// Provider errors are logged and the stored status is returned.
func (s *Service) Status(ctx context.Context, ref string) (payment.Order, error) {
	o, err := s.orders.LatestByReference(ctx, ref)
	if err != nil {
		return payment.Order{}, err
	}

	if o.Status.Terminal() || o.ProviderOrderID == "" {
		return o, nil
	}

	raw, err := s.provider.FetchStatus(ctx, o.ProviderOrderID)
	if err != nil {
		s.log.WarnContext(ctx, "payment status refresh failed", "order_id", o.ID, "err", err)
		return o, nil
	}

	return s.apply(ctx, o, raw)
}

// ApplyWebhook records a provider callback for providerOrderID.
func (s *Service) ApplyWebhook(ctx context.Context, providerOrderID, rawStatus string) (payment.Order, error) {
	o, err := s.orders.GetByProviderOrderID(ctx, providerOrderID)
	if err != nil {
		return payment.Order{}, err
	}
	if o.Status.Terminal() {
		return o, nil
	}
	return s.apply(ctx, o, rawStatus)
}

func (s *Service) apply(ctx context.Context, o payment.Order, raw string) (payment.Order, error) {
	next := payment.Normalize(raw)
	if next == o.Status || next == payment.StatusCreated {
		return o, nil
	}

	if err := s.orders.SetStatus(ctx, o.ID, next); err != nil {
		return payment.Order{}, err
	}
	o.Status = next

	if next.Terminal() {
		_ = s.publisher.Publish(ctx, events.PaymentSettled, map[string]any{
			"orderId":      o.ID,
			"reference_id": o.ReferenceID,
			"status":       o.Status,
			"amount":       o.Amount,
		})
	}
	return o, nil
}

// PaidOrder returns the latest order for ref when it is paid, covers amount
// and has not already paid for a ticket. Otherwise ErrNotPaid or ErrAlreadyApplied.
func (s *Service) PaidOrder(ctx context.Context, ref string, amount float64) (payment.Order, error) {
	o, err := s.Status(ctx, ref)
	if err != nil {
		if errors.Is(err, payment.ErrNotFound) {
			return payment.Order{}, payment.ErrNotPaid
		}
		return payment.Order{}, err
	}
	if o.Status != payment.StatusPaid || o.Amount+0.005 < amount {
		return payment.Order{}, payment.ErrNotPaid
	}
	if o.AppliedTo != nil {
		return payment.Order{}, payment.ErrAlreadyApplied
	}
	return o, nil
}
