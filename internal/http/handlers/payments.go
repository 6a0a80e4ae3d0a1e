package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/railtrans/expo/internal/config"
	"github.com/railtrans/expo/internal/domain/payment"
	"github.com/railtrans/expo/internal/observability"
	paymentsvc "github.com/railtrans/expo/internal/payment"
)

const signatureHeader = "X-Signature"

type PaymentService interface {
	CreateOrder(ctx context.Context, req payment.CreateOrderRequest) (payment.Order, error)
	Status(ctx context.Context, ref string) (payment.Order, error)
	ApplyWebhook(ctx context.Context, providerOrderID, rawStatus string) (payment.Order, error)
}

// SandboxGateway is implemented by the in-process dev gateway.
type SandboxGateway interface {
	Complete(providerOrderID, status string) error
}

type PaymentsHandler struct {
	svc           PaymentService
	sandbox       SandboxGateway
	webhookSecret string
	prom          *observability.Prom
	log           *slog.Logger
}

func NewPaymentsHandler(svc PaymentService, sandbox SandboxGateway, webhookSecret string, prom *observability.Prom, log *slog.Logger) *PaymentsHandler {
	if log == nil {
		log = slog.Default()
	}
	return &PaymentsHandler{svc: svc, sandbox: sandbox, webhookSecret: webhookSecret, prom: prom, log: log}
}

type orderResponse struct {
	OrderID         string         `json:"orderId"`
	ReferenceID     string         `json:"reference_id"`
	CheckoutURL     string         `json:"checkoutUrl,omitempty"`
	Status          payment.Status `json:"status"`
	Amount          float64        `json:"amount"`
	ProviderOrderID string         `json:"provider_order_id,omitempty"`
}

func orderView(o payment.Order) orderResponse {
	return orderResponse{
		OrderID:         o.ID,
		ReferenceID:     o.ReferenceID,
		CheckoutURL:     o.CheckoutURL,
		Status:          o.Status,
		Amount:          o.Amount,
		ProviderOrderID: o.ProviderOrderID,
	}
}

func (h *PaymentsHandler) count(status payment.Status) {
	if h.prom == nil {
		return
	}
	h.prom.PaymentOrders.WithLabelValues(string(status)).Inc()
}

// POST /api/payment/create-order
func (h *PaymentsHandler) CreateOrder(ctx *gin.Context) {
	var req payment.CreateOrderRequest
	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := config.WithTimeout(15 * time.Second)
	defer cancel()

	o, err := h.svc.CreateOrder(cctx, req)
	if err != nil {
		switch {
		case errors.Is(err, payment.ErrInvalidAmount):
			RespondBadRequest(ctx, "amount must be greater than zero", nil)
		case errors.Is(err, paymentsvc.ErrNoCheckoutURL):
			RespondError(ctx, http.StatusBadGateway, "no_checkout_url", "Payment provider did not return a checkout link", nil)
		default:
			h.log.ErrorContext(cctx, "payment.create_order_failed", "reference_id", req.ReferenceID, "err", err)
			RespondError(ctx, http.StatusBadGateway, "order_create_failed", "Could not create payment order", nil)
		}
		return
	}
	h.count(o.Status)

	ctx.JSON(http.StatusCreated, orderView(o))
}

// GET /api/payment/status?reference_id=
func (h *PaymentsHandler) Status(ctx *gin.Context) {
	ref := strings.ToLower(strings.TrimSpace(ctx.Query("reference_id")))
	if ref == "" {
		RespondBadRequest(ctx, "reference_id is required", nil)
		return
	}

	cctx, cancel := config.WithTimeout(10 * time.Second)
	defer cancel()

	o, err := h.svc.Status(cctx, ref)
	if err != nil {
		if errors.Is(err, payment.ErrNotFound) {
			RespondNotFound(ctx, "No payment order for this reference")
			return
		}
		RespondInternal(ctx, "Could not fetch payment status")
		return
	}

	ctx.JSON(http.StatusOK, orderView(o))
}

type webhookBody struct {
	ProviderOrderID string `json:"provider_order_id"`
	OrderID         string `json:"order_id"`
	Status          string `json:"status"`
}

// POST /api/payment/webhook
func (h *PaymentsHandler) Webhook(ctx *gin.Context) {
	raw, err := ctx.GetRawData()
	if err != nil {
		RespondBadRequest(ctx, "Could not read body", nil)
		return
	}

	if !paymentsvc.VerifySignature(h.webhookSecret, raw, ctx.GetHeader(signatureHeader)) {
		RespondUnAuthorized(ctx, "invalid_signature", "Webhook signature does not match")
		return
	}

	var body webhookBody
	if err := json.Unmarshal(raw, &body); err != nil {
		RespondBadRequest(ctx, "Invalid request body", gin.H{"json": "invalid_json_syntax"})
		return
	}

	pid := body.ProviderOrderID
	if pid == "" {
		pid = body.OrderID
	}
	if pid == "" || body.Status == "" {
		RespondBadRequest(ctx, "provider_order_id and status are required", nil)
		return
	}

	cctx, cancel := config.WithTimeout(5 * time.Second)
	defer cancel()

	o, err := h.svc.ApplyWebhook(cctx, pid, body.Status)
	if err != nil {
		if errors.Is(err, payment.ErrNotFound) {
			RespondNotFound(ctx, "Unknown order")
			return
		}
		RespondInternal(ctx, "Could not apply webhook")
		return
	}
	h.count(o.Status)

	ctx.JSON(http.StatusOK, gin.H{"received": true, "status": o.Status})
}

var sandboxPage = template.Must(template.New("checkout").Parse(`<!doctype html>
<html><head><title>Sandbox checkout</title>
<style>body{font-family:Arial,sans-serif;max-width:420px;margin:48px auto}button{padding:10px 16px;margin-right:8px}</style>
</head><body>
<h2>Sandbox checkout</h2>
{{- if .Done}}
<p>Payment {{.Status}}. You can close this window.</p>
{{- else}}
<p>Order <code>{{.ID}}</code></p>
<form method="post">
<button name="status" value="PAID">Pay</button>
<button name="status" value="CANCELLED">Cancel</button>
</form>
{{- end}}
</body></html>
`))

type sandboxView struct {
	ID     string
	Status string
	Done   bool
}

// GET /api/payment/sandbox/checkout/:id
func (h *PaymentsHandler) SandboxCheckout(ctx *gin.Context) {
	if h.sandbox == nil {
		RespondNotFound(ctx, "Sandbox gateway is disabled")
		return
	}

	ctx.Header("Content-Type", "text/html; charset=utf-8")
	ctx.Status(http.StatusOK)
	_ = sandboxPage.Execute(ctx.Writer, sandboxView{ID: ctx.Param("id")})
}

// POST /api/payment/sandbox/checkout/:id
func (h *PaymentsHandler) SandboxComplete(ctx *gin.Context) {
	if h.sandbox == nil {
		RespondNotFound(ctx, "Sandbox gateway is disabled")
		return
	}

	id := ctx.Param("id")
	status := strings.ToUpper(ctx.PostForm("status"))
	if status != "PAID" && status != "CANCELLED" {
		RespondBadRequest(ctx, "status must be PAID or CANCELLED", nil)
		return
	}

	if err := h.sandbox.Complete(id, status); err != nil {
		RespondNotFound(ctx, "Unknown sandbox order")
		return
	}

	cctx, cancel := config.WithTimeout(5 * time.Second)
	defer cancel()

	o, err := h.svc.ApplyWebhook(cctx, id, status)
	if err != nil {
		h.log.WarnContext(cctx, "payment.sandbox_apply_failed", "provider_order_id", id, "err", err)
	} else {
		h.count(o.Status)
	}

	ctx.Header("Content-Type", "text/html; charset=utf-8")
	ctx.Status(http.StatusOK)
	_ = sandboxPage.Execute(ctx.Writer, sandboxView{ID: id, Status: strings.ToLower(status), Done: true})
}
