package checkout

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/railtrans/expo/internal/domain/coupon"
	"github.com/railtrans/expo/internal/domain/payment"
	"github.com/railtrans/expo/internal/expoclient"
	"github.com/railtrans/expo/internal/pricing"
)

// fakeAPI keeps one coupon and a scripted sequence of payment statuses.
type fakeAPI struct {
	mu sync.Mutex

	coupon coupon.Coupon

	orderErr    error
	checkoutURL string
	statuses    []payment.Status
	polls       int
	unuses      []string
	unuseErr    error
	reserveErr  error
}

func newFakeAPI(discount int) *fakeAPI {
	return &fakeAPI{
		coupon:      coupon.New("RAIL10", discount),
		checkoutURL: "https://pay.example.com/c/1",
	}
}

func (a *fakeAPI) ValidateCoupon(_ context.Context, req coupon.ValidateRequest) (coupon.ValidateResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if coupon.NormalizeCode(req.Code) != a.coupon.Code {
		return coupon.ValidateResult{}, &expoclient.APIError{Status: http.StatusNotFound, Message: "Coupon not found"}
	}
	if !req.MarkUsed {
		return a.coupon.Evaluate(req.Price), nil
	}
	if a.reserveErr != nil {
		return coupon.ValidateResult{}, a.reserveErr
	}
	if a.coupon.Used {
		return coupon.ValidateResult{}, &expoclient.APIError{Status: http.StatusConflict, Code: "coupon_used"}
	}
	res := a.coupon.Evaluate(req.Price)
	a.coupon.Used = true
	res.Coupon.Used = true
	return res, nil
}

func (a *fakeAPI) UnuseCoupon(_ context.Context, id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.unuses = append(a.unuses, id)
	if a.unuseErr != nil {
		return a.unuseErr
	}
	a.coupon.Used = false
	return nil
}

func (a *fakeAPI) CreateOrder(_ context.Context, req payment.CreateOrderRequest) (expoclient.OrderResponse, error) {
	if a.orderErr != nil {
		return expoclient.OrderResponse{}, a.orderErr
	}
	return expoclient.OrderResponse{
		OrderID:     "o1",
		ReferenceID: req.ReferenceID,
		CheckoutURL: a.checkoutURL,
		Status:      payment.StatusPending,
		Amount:      req.Amount,
	}, nil
}

func (a *fakeAPI) PaymentStatus(_ context.Context, _ string) (expoclient.OrderResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.polls++
	st := payment.StatusPending
	if len(a.statuses) > 0 {
		st = a.statuses[0]
		a.statuses = a.statuses[1:]
	}
	return expoclient.OrderResponse{OrderID: "o1", Status: st, ProviderOrderID: "cf_1"}, nil
}

func opts() Options {
	return Options{
		Price:        pricing.NewQuote(2500, 0.18).Total,
		ReferenceID:  "asha@example.com",
		PollInterval: time.Millisecond,
		MaxAttempts:  5,
	}
}

var opened = OpenerFunc(func(string) error { return nil })

func TestPreview_RepeatableAndNonMutating(t *testing.T) {
	api := newFakeAPI(10)
	c := New(api, opts(), nil)

	first, err := c.Preview(context.Background(), "rail10")
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}
	second, _ := c.Preview(context.Background(), "RAIL10")

	if first.ReducedPrice != 2655 || second.ReducedPrice != first.ReducedPrice || first.Discount != second.Discount {
		t.Fatalf("previews differ or wrong: %+v / %+v", first, second)
	}
	if api.coupon.Used {
		t.Fatalf("preview must not mark the coupon used")
	}
	if c.Phase() != PhaseValidated {
		t.Fatalf("phase = %s", c.Phase())
	}
}

func TestPay_SuccessKeepsReservation(t *testing.T) {
	api := newFakeAPI(10)
	api.statuses = []payment.Status{payment.StatusPending, "PAID"}
	c := New(api, opts(), nil)

	if _, err := c.Preview(context.Background(), "RAIL10"); err != nil {
		t.Fatalf("Preview: %v", err)
	}

	res, err := c.Pay(context.Background(), opened)
	if err != nil {
		t.Fatalf("Pay: %v", err)
	}
	if res.Amount != 2655 || res.TxID != "cf_1" || res.CouponID == nil {
		t.Fatalf("unexpected result %+v", res)
	}
	if c.Phase() != PhaseCaptured || !api.coupon.Used || len(api.unuses) != 0 {
		t.Fatalf("reservation must be kept: phase=%s used=%v unuses=%v", c.Phase(), api.coupon.Used, api.unuses)
	}

	// a later preview reports the coupon as used
	again, err := c.Preview(context.Background(), "RAIL10")
	if err == nil || again.Coupon == nil || !again.Coupon.Used {
		t.Fatalf("expected used coupon on preview, got %+v err=%v", again, err)
	}
}

func TestPay_OrderCreateFailureReleasesOnce(t *testing.T) {
	api := newFakeAPI(10)
	api.orderErr = &expoclient.APIError{Status: http.StatusBadGateway, Message: "provider down"}
	c := New(api, opts(), nil)

	_, _ = c.Preview(context.Background(), "RAIL10")

	_, err := c.Pay(context.Background(), opened)
	if !errors.Is(err, ErrOrderCreate) {
		t.Fatalf("expected ErrOrderCreate, got %v", err)
	}
	if len(api.unuses) != 1 || api.unuses[0] != api.coupon.ID {
		t.Fatalf("expected exactly one release, got %v", api.unuses)
	}
	if c.ReservedCouponID() != "" || api.coupon.Used {
		t.Fatalf("reservation not cleared")
	}
	if c.Phase() != PhaseReleased {
		t.Fatalf("phase = %s", c.Phase())
	}
}

func TestPay_FailureTaxonomy(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(*fakeAPI)
		opener  Opener
		want    error
		unuses  int
		minPoll int
	}{
		{"no checkout url", func(a *fakeAPI) { a.checkoutURL = "" }, opened, ErrNoCheckoutURL, 1, 0},
		{"nil opener", nil, nil, ErrPopupBlocked, 1, 0},
		{"open fails", nil, OpenerFunc(func(string) error { return errors.New("blocked") }), ErrPopupBlocked, 1, 0},
		{"provider failed", func(a *fakeAPI) { a.statuses = []payment.Status{"pending", "FAILED"} }, opened, ErrPaymentFailed, 1, 2},
		{"provider void", func(a *fakeAPI) { a.statuses = []payment.Status{"void"} }, opened, ErrPaymentFailed, 1, 1},
		{"timeout", nil, opened, ErrPaymentNotConfirmed, 1, 5},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			api := newFakeAPI(10)
			if tc.setup != nil {
				tc.setup(api)
			}
			c := New(api, opts(), nil)
			_, _ = c.Preview(context.Background(), "RAIL10")

			_, err := c.Pay(context.Background(), tc.opener)
			if !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
			if len(api.unuses) != tc.unuses {
				t.Fatalf("unuses = %d, want %d", len(api.unuses), tc.unuses)
			}
			if api.polls < tc.minPoll || api.polls > opts().MaxAttempts {
				t.Fatalf("polls = %d", api.polls)
			}
		})
	}
}

func TestPay_ReservationLost(t *testing.T) {
	api := newFakeAPI(10)
	c := New(api, opts(), nil)
	_, _ = c.Preview(context.Background(), "RAIL10")

	api.coupon.Used = true

	_, err := c.Pay(context.Background(), opened)
	if !errors.Is(err, ErrReservation) {
		t.Fatalf("expected ErrReservation, got %v", err)
	}
	if len(api.unuses) != 0 {
		t.Fatalf("nothing reserved, nothing to release")
	}
}

func TestPay_FreeSkipsProvider(t *testing.T) {
	api := newFakeAPI(100)
	api.orderErr = errors.New("must not be called")
	c := New(api, opts(), nil)
	c.now = func() time.Time { return time.UnixMilli(1700000000000) }

	_, _ = c.Preview(context.Background(), "RAIL10")

	res, err := c.Pay(context.Background(), nil)
	if err != nil {
		t.Fatalf("Pay: %v", err)
	}
	if !res.Free || res.TxID != "free-1700000000000" || !strings.HasPrefix(res.TxID, "free-") {
		t.Fatalf("unexpected result %+v", res)
	}
	if !api.coupon.Used {
		t.Fatalf("free checkout still reserves the coupon")
	}
}

func TestPay_ReleaseFailureDoesNotMaskError(t *testing.T) {
	api := newFakeAPI(10)
	api.checkoutURL = ""
	api.unuseErr = errors.New("network down")
	c := New(api, opts(), nil)
	_, _ = c.Preview(context.Background(), "RAIL10")

	_, err := c.Pay(context.Background(), opened)
	if !errors.Is(err, ErrNoCheckoutURL) {
		t.Fatalf("expected ErrNoCheckoutURL, got %v", err)
	}
	if c.ReservedCouponID() != "" {
		t.Fatalf("reservation must be cleared even when release fails")
	}
}

func TestPay_CancelledContextReleases(t *testing.T) {
	api := newFakeAPI(10)
	o := opts()
	o.PollInterval = time.Hour
	c := New(api, o, nil)
	_, _ = c.Preview(context.Background(), "RAIL10")

	ctx, cancel := context.WithCancel(context.Background())
	cancelOnOpen := OpenerFunc(func(string) error {
		cancel()
		return nil
	})

	_, err := c.Pay(ctx, cancelOnOpen)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(api.unuses) != 1 {
		t.Fatalf("expected release on cancel, got %v", api.unuses)
	}
}
