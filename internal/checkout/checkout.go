// Package checkout runs the coupon and payment step of a registration.
//
// A coupon moves no-coupon -> validated -> reserved -> captured|released. The
// server decides whether a reservation wins; this side only releases what it
// reserved when the payment does not go through.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/railtrans/expo/internal/domain/coupon"
	"github.com/railtrans/expo/internal/domain/payment"
	"github.com/railtrans/expo/internal/expoclient"
	"github.com/railtrans/expo/internal/pricing"
)

const (
	DefaultPollInterval = 3 * time.Second
	DefaultMaxAttempts  = 40
	releaseTimeout      = 10 * time.Second
)

var (
	ErrPopupBlocked        = errors.New("checkout window was blocked, allow popups and try again")
	ErrNoCheckoutURL       = errors.New("payment provider did not return a checkout url")
	ErrOrderCreate         = errors.New("could not create payment order")
	ErrReservation         = errors.New("could not reserve coupon")
	ErrPaymentNotConfirmed = errors.New("payment not confirmed yet")
	ErrPaymentFailed       = errors.New("payment failed or was cancelled")
	ErrCouponInvalid       = errors.New("coupon is not valid")
	ErrInFlight            = errors.New("payment already in progress")
)

type Phase string

const (
	PhaseNoCoupon  Phase = "no-coupon"
	PhaseValidated Phase = "validated"
	PhaseReserved  Phase = "reserved"
	PhaseCaptured  Phase = "captured"
	PhaseReleased  Phase = "released"
)

type API interface {
	ValidateCoupon(ctx context.Context, req coupon.ValidateRequest) (coupon.ValidateResult, error)
	UnuseCoupon(ctx context.Context, id string) error
	CreateOrder(ctx context.Context, req payment.CreateOrderRequest) (expoclient.OrderResponse, error)
	PaymentStatus(ctx context.Context, referenceID string) (expoclient.OrderResponse, error)
}

// Opener shows the provider checkout page to the payer.
type Opener interface {
	Open(url string) error
}

type OpenerFunc func(url string) error

func (f OpenerFunc) Open(url string) error { return f(url) }

type Options struct {
	// Price is the amount before any coupon, GST included.
	Price        float64
	ReferenceID  string
	Customer     payment.Customer
	PollInterval time.Duration
	MaxAttempts  int
}

type Result struct {
	TxID     string         `json:"txId"`
	Amount   float64        `json:"amount"`
	OrderID  string         `json:"orderId,omitempty"`
	Status   payment.Status `json:"status"`
	Free     bool           `json:"free"`
	CouponID *string        `json:"couponId,omitempty"`
}

type Checkout struct {
	api  API
	log  *slog.Logger
	opts Options
	now  func() time.Time

	paying atomic.Bool

	mu         sync.Mutex
	phase      Phase
	preview    *coupon.ValidateResult
	code       string
	reservedID string
}

func New(api API, opts Options, log *slog.Logger) *Checkout {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if log == nil {
		log = slog.Default()
	}
	return &Checkout{
		api:   api,
		log:   log,
		opts:  opts,
		now:   time.Now,
		phase: PhaseNoCoupon,
	}
}

func (c *Checkout) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// ReservedCouponID is empty unless a reservation is currently held.
func (c *Checkout) ReservedCouponID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reservedID
}

func (c *Checkout) AmountToPay() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.amountLocked()
}

func (c *Checkout) amountLocked() float64 {
	if c.preview != nil && c.preview.Valid {
		return c.preview.ReducedPrice
	}
	return pricing.Round2(c.opts.Price)
}

// Preview validates code without using it.
func (c *Checkout) Preview(ctx context.Context, code string) (coupon.ValidateResult, error) {
	code = coupon.NormalizeCode(code)

	res, err := c.api.ValidateCoupon(ctx, coupon.ValidateRequest{Code: code, Price: c.opts.Price})
	if err != nil {
		return res, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.reservedID != "" {
		return res, fmt.Errorf("%w: another coupon is reserved", ErrReservation)
	}
	if !res.Valid {
		c.preview = nil
		c.code = ""
		c.phase = PhaseNoCoupon
		return res, fmt.Errorf("%w: %s", ErrCouponInvalid, res.Message)
	}

	c.preview = &res
	c.code = code
	c.phase = PhaseValidated
	return res, nil
}

// ClearCoupon drops an unreserved preview.
func (c *Checkout) ClearCoupon() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.reservedID != "" {
		return
	}
	c.preview = nil
	c.code = ""
	c.phase = PhaseNoCoupon
}

// Reserve marks the previewed coupon used. A lost race is ErrReservation.
func (c *Checkout) Reserve(ctx context.Context) error {
	c.mu.Lock()
	if c.reservedID != "" {
		c.mu.Unlock()
		return nil
	}
	if c.preview == nil {
		c.mu.Unlock()
		return fmt.Errorf("%w: no coupon applied", ErrReservation)
	}
	code := c.code
	usedBy := c.opts.ReferenceID
	c.mu.Unlock()

	res, err := c.api.ValidateCoupon(ctx, coupon.ValidateRequest{
		Code:     code,
		Price:    c.opts.Price,
		MarkUsed: true,
		UsedBy:   usedBy,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrReservation, err)
	}
	if !res.Valid || res.Coupon == nil {
		return fmt.Errorf("%w: %s", ErrReservation, res.Message)
	}

	c.mu.Lock()
	c.reservedID = res.Coupon.ID
	c.preview = &res
	c.phase = PhaseReserved
	c.mu.Unlock()
	return nil
}

// release gives back a held reservation once. Failures are only logged.
func (c *Checkout) release(ctx context.Context, reason string) {
	c.mu.Lock()
	id := c.reservedID
	c.reservedID = ""
	if id != "" {
		c.phase = PhaseReleased
		if c.preview != nil && c.preview.Coupon != nil {
			c.preview.Coupon.Used = false
		}
	}
	c.mu.Unlock()

	if id == "" {
		return
	}

	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()

	if err := c.api.UnuseCoupon(rctx, id); err != nil {
		c.log.Warn("coupon release failed", "coupon_id", id, "reason", reason, "err", err)
		return
	}
	c.log.Info("coupon released", "coupon_id", id, "reason", reason)
}

// Pay settles the amount due. Nothing due skips the provider entirely.
// Otherwise it creates an order, opens the checkout page and polls until the
// order settles or attempts run out.
func (c *Checkout) Pay(ctx context.Context, opener Opener) (Result, error) {
	if !c.paying.CompareAndSwap(false, true) {
		return Result{}, ErrInFlight
	}
	defer c.paying.Store(false)

	c.mu.Lock()
	hasCoupon := c.preview != nil
	c.mu.Unlock()

	if hasCoupon {
		if err := c.Reserve(ctx); err != nil {
			return Result{}, err
		}
	}

	amount := c.AmountToPay()
	couponID := c.couponID()

	if amount <= 0 {
		c.mu.Lock()
		c.phase = PhaseCaptured
		c.mu.Unlock()

		return Result{
			TxID:     fmt.Sprintf("free-%d", c.now().UnixMilli()),
			Amount:   0,
			Status:   payment.StatusPaid,
			Free:     true,
			CouponID: couponID,
		}, nil
	}

	order, err := c.api.CreateOrder(ctx, payment.CreateOrderRequest{
		ReferenceID: c.opts.ReferenceID,
		Amount:      amount,
		Currency:    "INR",
		CouponID:    couponID,
		Customer:    c.opts.Customer,
	})
	if err != nil {
		c.release(ctx, "order create failed")
		return Result{}, fmt.Errorf("%w: %v", ErrOrderCreate, err)
	}
	if strings.TrimSpace(order.CheckoutURL) == "" {
		c.release(ctx, "no checkout url")
		return Result{}, ErrNoCheckoutURL
	}

	if opener == nil {
		c.release(ctx, "popup blocked")
		return Result{}, ErrPopupBlocked
	}
	if err := opener.Open(order.CheckoutURL); err != nil {
		c.release(ctx, "popup blocked")
		return Result{}, fmt.Errorf("%w: %v", ErrPopupBlocked, err)
	}

	ref := order.ReferenceID
	if ref == "" {
		ref = c.opts.ReferenceID
	}

	return c.poll(ctx, ref, order, amount, couponID)
}

func (c *Checkout) poll(ctx context.Context, ref string, order expoclient.OrderResponse, amount float64, couponID *string) (Result, error) {
	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()

	for attempt := 1; attempt <= c.opts.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			c.release(ctx, "cancelled")
			return Result{}, ctx.Err()
		case <-ticker.C:
		}

		st, err := c.api.PaymentStatus(ctx, ref)
		if err != nil {
			c.log.Warn("payment status poll failed", "reference_id", ref, "attempt", attempt, "err", err)
			continue
		}

		raw := string(st.Status)
		switch {
		case payment.IsSuccess(raw):
			c.mu.Lock()
			c.phase = PhaseCaptured
			c.mu.Unlock()

			tx := st.ProviderOrderID
			if tx == "" {
				tx = order.OrderID
			}
			return Result{
				TxID:     tx,
				Amount:   amount,
				OrderID:  order.OrderID,
				Status:   payment.StatusPaid,
				CouponID: couponID,
			}, nil
		case payment.IsFailure(raw):
			c.release(ctx, "payment "+raw)
			return Result{OrderID: order.OrderID, Status: payment.Normalize(raw)}, ErrPaymentFailed
		}
	}

	c.release(ctx, "poll timeout")
	return Result{OrderID: order.OrderID, Status: payment.StatusPending}, ErrPaymentNotConfirmed
}

func (c *Checkout) couponID() *string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.reservedID == "" {
		return nil
	}
	id := c.reservedID
	return &id
}
