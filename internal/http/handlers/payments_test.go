package handlers_test

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/railtrans/expo/internal/domain/payment"
	"github.com/railtrans/expo/internal/http/handlers"
	paymentsvc "github.com/railtrans/expo/internal/payment"
)

type fakePayments struct {
	createFn  func(req payment.CreateOrderRequest) (payment.Order, error)
	statusFn  func(ref string) (payment.Order, error)
	webhookFn func(pid, status string) (payment.Order, error)
}

func (f *fakePayments) CreateOrder(_ context.Context, req payment.CreateOrderRequest) (payment.Order, error) {
	return f.createFn(req)
}

func (f *fakePayments) Status(_ context.Context, ref string) (payment.Order, error) {
	return f.statusFn(ref)
}

func (f *fakePayments) ApplyWebhook(_ context.Context, pid, status string) (payment.Order, error) {
	return f.webhookFn(pid, status)
}

type fakeSandbox struct {
	completed map[string]string
}

func (f *fakeSandbox) Complete(id, status string) error {
	if id == "missing" {
		return errors.New("unknown order")
	}
	f.completed[id] = status
	return nil
}

const testWebhookSecret = "whsec_test"

func paymentsRouter(svc handlers.PaymentService, sb handlers.SandboxGateway) *gin.Engine {
	h := handlers.NewPaymentsHandler(svc, sb, testWebhookSecret, nil, nil)
	r := gin.New()
	r.POST("/api/payment/create-order", h.CreateOrder)
	r.GET("/api/payment/status", h.Status)
	r.POST("/api/payment/webhook", h.Webhook)
	r.GET("/api/payment/sandbox/checkout/:id", h.SandboxCheckout)
	r.POST("/api/payment/sandbox/checkout/:id", h.SandboxComplete)
	return r
}

func TestCreateOrder(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"created", `{"reference_id":"asha@example.com","amount":2655}`, nil, http.StatusCreated, ""},
		{"zero amount", `{"reference_id":"asha@example.com","amount":0}`, nil, http.StatusBadRequest, "invalid_request"},
		{"no checkout url", `{"reference_id":"asha@example.com","amount":10}`, paymentsvc.ErrNoCheckoutURL, http.StatusBadGateway, "no_checkout_url"},
		{"provider down", `{"reference_id":"asha@example.com","amount":10}`, errors.New("dial tcp: refused"), http.StatusBadGateway, "order_create_failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakePayments{createFn: func(req payment.CreateOrderRequest) (payment.Order, error) {
				if tt.err != nil {
					return payment.Order{}, tt.err
				}
				return payment.Order{
					ID:          "ord-1",
					ReferenceID: req.ReferenceID,
					Amount:      req.Amount,
					Status:      payment.StatusPending,
					CheckoutURL: "https://pay.test/ord-1",
				}, nil
			}}

			w := do(t, paymentsRouter(svc, nil), http.MethodPost, "/api/payment/create-order", tt.body)
			if w.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d: %s", tt.wantStatus, w.Code, w.Body.String())
			}
			if tt.wantCode != "" {
				if got := decodeError(t, w).Error.Code; got != tt.wantCode {
					t.Fatalf("expected code %q, got %q", tt.wantCode, got)
				}
				return
			}

			resp := decode[struct {
				OrderID     string `json:"orderId"`
				CheckoutURL string `json:"checkoutUrl"`
				Status      string `json:"status"`
			}](t, w)
			if resp.OrderID != "ord-1" || resp.CheckoutURL == "" || resp.Status != "pending" {
				t.Fatalf("unexpected body %s", w.Body.String())
			}
		})
	}
}

func TestPaymentStatus(t *testing.T) {
	svc := &fakePayments{statusFn: func(ref string) (payment.Order, error) {
		if ref == "asha@example.com" {
			return payment.Order{ID: "ord-1", ReferenceID: ref, Status: payment.StatusPaid}, nil
		}
		return payment.Order{}, payment.ErrNotFound
	}}
	r := paymentsRouter(svc, nil)

	w := do(t, r, http.MethodGet, "/api/payment/status?reference_id=Asha@Example.com", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"status":"paid"`) {
		t.Fatalf("expected paid status, got %d: %s", w.Code, w.Body.String())
	}

	if w := do(t, r, http.MethodGet, "/api/payment/status?reference_id=other@example.com", ""); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	if w := do(t, r, http.MethodGet, "/api/payment/status", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without reference, got %d", w.Code)
	}
}

func TestPaymentWebhook(t *testing.T) {
	var applied []string
	svc := &fakePayments{webhookFn: func(pid, status string) (payment.Order, error) {
		if pid == "unknown" {
			return payment.Order{}, payment.ErrNotFound
		}
		applied = append(applied, pid+":"+status)
		return payment.Order{ID: "ord-1", Status: payment.StatusPaid}, nil
	}}
	r := paymentsRouter(svc, nil)

	send := func(body, sig string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/payment/webhook", bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
		if sig != "" {
			req.Header.Set("X-Signature", sig)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	body := `{"order_id":"prov-1","status":"PAID"}`

	if w := send(body, paymentsvc.Sign(testWebhookSecret, []byte(body))); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if len(applied) != 1 || applied[0] != "prov-1:PAID" {
		t.Fatalf("webhook not applied: %v", applied)
	}

	if w := send(body, paymentsvc.Sign("wrong", []byte(body))); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a bad signature, got %d", w.Code)
	}
	if w := send(body, ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without signature, got %d", w.Code)
	}

	unknown := `{"provider_order_id":"unknown","status":"PAID"}`
	if w := send(unknown, paymentsvc.Sign(testWebhookSecret, []byte(unknown))); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for an unknown order, got %d", w.Code)
	}

	empty := `{"status":"PAID"}`
	if w := send(empty, paymentsvc.Sign(testWebhookSecret, []byte(empty))); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without an order id, got %d", w.Code)
	}
}

func TestSandboxCheckout(t *testing.T) {
	var applied []string
	svc := &fakePayments{webhookFn: func(pid, status string) (payment.Order, error) {
		applied = append(applied, pid+":"+status)
		return payment.Order{Status: payment.StatusPaid}, nil
	}}
	sb := &fakeSandbox{completed: map[string]string{}}
	r := paymentsRouter(svc, sb)

	w := do(t, r, http.MethodGet, "/api/payment/sandbox/checkout/sbx_1", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "sbx_1") {
		t.Fatalf("expected checkout page, got %d: %s", w.Code, w.Body.String())
	}

	post := func(id, status string) *httptest.ResponseRecorder {
		form := url.Values{"status": {status}}
		req := httptest.NewRequest(http.MethodPost, "/api/payment/sandbox/checkout/"+id, strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	if w := post("sbx_1", "paid"); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if sb.completed["sbx_1"] != "PAID" || len(applied) != 1 {
		t.Fatalf("sandbox completion not applied: %v %v", sb.completed, applied)
	}

	if w := post("sbx_1", "refund"); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for an unknown status, got %d", w.Code)
	}
	if w := post("missing", "PAID"); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for an unknown sandbox order, got %d", w.Code)
	}
}

func TestSandboxDisabled(t *testing.T) {
	r := paymentsRouter(&fakePayments{}, nil)
	if w := do(t, r, http.MethodGet, "/api/payment/sandbox/checkout/x", ""); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 when the sandbox is off, got %d", w.Code)
	}
}
