package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/railtrans/expo/internal/config"
	"github.com/railtrans/expo/internal/domain/coupon"
	"github.com/railtrans/expo/internal/domain/job"
	"github.com/railtrans/expo/internal/domain/payment"
	"github.com/railtrans/expo/internal/domain/regconfig"
	"github.com/railtrans/expo/internal/domain/registrant"
	"github.com/railtrans/expo/internal/email"
	"github.com/railtrans/expo/internal/events"
	"github.com/railtrans/expo/internal/jobs"
	"github.com/railtrans/expo/internal/pricing"
)

type TicketStore interface {
	GetByTicketCode(ctx context.Context, code string) (registrant.Registrant, error)
	Upgrade(ctx context.Context, r registrant.Registrant, spend registrant.Spend, outbox ...job.CreateRequest) error
}

type PaymentChecker interface {
	PaidOrder(ctx context.Context, ref string, amount float64) (payment.Order, error)
}

type CouponReader interface {
	GetByID(ctx context.Context, id string) (coupon.Coupon, error)
}

type TicketsHandler struct {
	store      TicketStore
	configs    ConfigReader
	payments   PaymentChecker
	coupons    CouponReader
	publisher  events.Publisher
	publicBase string
	log        *slog.Logger
}

func NewTicketsHandler(store TicketStore, configs ConfigReader, payments PaymentChecker, coupons CouponReader, publisher events.Publisher, publicBase string, log *slog.Logger) *TicketsHandler {
	if publisher == nil {
		publisher = events.Noop{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &TicketsHandler{
		store:      store,
		configs:    configs,
		payments:   payments,
		coupons:    coupons,
		publisher:  publisher,
		publicBase: publicBase,
		log:        log,
	}
}

// quoteFor prices a category. A zero rate means the config left GST unset.
func quoteFor(cat regconfig.Category) pricing.Quote {
	rate := cat.GSTRate
	if rate == 0 {
		rate = pricing.DefaultGSTRate
	}
	return pricing.NewQuote(cat.Price, rate)
}

type ValidateTicketRequest struct {
	TicketCode string `json:"ticketCode" binding:"required,max=40"`
}

// POST /api/tickets/validate
func (h *TicketsHandler) Validate(ctx *gin.Context) {
	var req ValidateTicketRequest
	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	r, err := h.store.GetByTicketCode(cctx, strings.ToUpper(strings.TrimSpace(req.TicketCode)))
	if err != nil {
		if errors.Is(err, registrant.ErrNotFound) {
			ctx.JSON(http.StatusOK, gin.H{"valid": false})
			return
		}
		RespondInternal(ctx, "Could not validate ticket")
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"valid":      r.Status != registrant.StatusCancelled,
		"role":       r.Role,
		"registrant": r,
	})
}

type UpgradeRequest struct {
	TicketCode  string  `json:"ticketCode" binding:"required,max=40"`
	NewCategory string  `json:"newCategory" binding:"required,max=60"`
	ReferenceID string  `json:"reference_id" binding:"omitempty,max=254"`
	TxID        string  `json:"txId" binding:"omitempty,max=120"`
	CouponID    *string `json:"couponId" binding:"omitempty,uuid"`
}

// POST /api/tickets/upgrade
//
// The amount is recomputed here from the category list; the client's figure is
// never trusted. A coupon must be reserved under reference_id, and a paid
// upgrade needs a settled order for it. Both are consumed with the update.
func (h *TicketsHandler) Upgrade(ctx *gin.Context) {
	var req UpgradeRequest
	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := config.WithTimeout(15 * time.Second)
	defer cancel()

	r, err := h.store.GetByTicketCode(cctx, strings.ToUpper(strings.TrimSpace(req.TicketCode)))
	if err != nil {
		if errors.Is(err, registrant.ErrNotFound) {
			RespondNotFound(ctx, "Ticket not found")
			return
		}
		RespondInternal(ctx, "Could not load ticket")
		return
	}

	cfg, err := h.configs.Get(cctx, string(r.Role))
	if err != nil && !errors.Is(err, regconfig.ErrNotFound) {
		RespondInternal(ctx, "Could not load ticket categories")
		return
	}

	cat, ok := cfg.Category(req.NewCategory)
	if !ok {
		RespondBadRequest(ctx, "Unknown ticket category", gin.H{"field": "newCategory"})
		return
	}
	if strings.EqualFold(r.TicketCategory, cat.Name) {
		RespondConflict(ctx, "same_category", "Ticket is already in this category")
		return
	}

	quote := quoteFor(cat)
	amount := quote.Total
	ref := strings.ToLower(strings.TrimSpace(req.ReferenceID))
	spend := registrant.Spend{ReferenceID: ref}

	if req.CouponID != nil {
		c, err := h.coupons.GetByID(cctx, *req.CouponID)
		if err != nil {
			if errors.Is(err, coupon.ErrNotFound) {
				RespondBadRequest(ctx, "Coupon not found", gin.H{"field": "couponId"})
				return
			}
			RespondInternal(ctx, "Could not load coupon")
			return
		}
		if c.SpentAt != nil {
			RespondConflict(ctx, "coupon_spent", "Coupon has already been redeemed")
			return
		}
		if !c.ReservedFor(ref) {
			RespondConflict(ctx, "coupon_not_reserved", "Coupon must be reserved for this reference before upgrading")
			return
		}
		amount = pricing.ApplyDiscount(amount, c.Discount)
		spend.CouponID = c.ID
	}

	txID := strings.TrimSpace(req.TxID)

	if amount > 0 {
		if ref == "" {
			RespondError(ctx, http.StatusPaymentRequired, "payment_required", "reference_id of a paid order is required", nil)
			return
		}
		order, err := h.payments.PaidOrder(cctx, ref, amount)
		switch {
		case errors.Is(err, payment.ErrNotPaid):
			RespondError(ctx, http.StatusPaymentRequired, "payment_required", "Payment for this upgrade is not confirmed", nil)
			return
		case errors.Is(err, payment.ErrAlreadyApplied):
			RespondConflict(ctx, "payment_already_applied", "This payment has already been used for a ticket")
			return
		case err != nil:
			RespondInternal(ctx, "Could not confirm payment")
			return
		}
		spend.OrderID = order.ID
	} else if txID == "" {
		txID = "free-" + strconv.FormatInt(time.Now().UnixMilli(), 10)
	}

	r.TicketCategory = cat.Name
	r.TicketPrice = quote.Price
	r.TicketGST = quote.GST
	r.TicketTotal = amount
	if txID != "" {
		r.TxID = &txID
	}
	r.UpdatedAt = time.Now().UTC()

	ack, err := jobs.AcknowledgeRequest(jobs.AcknowledgePayload{
		RegistrantID: r.ID,
		Role:         string(r.Role),
		Reason:       jobs.ReasonUpgrade,
		FrontendBase: email.ResolveBase("", h.publicBase, ctx.GetHeader("Origin")),
	})
	if err != nil {
		RespondInternal(ctx, "Could not queue confirmation email")
		return
	}

	if err := h.store.Upgrade(cctx, r, spend, ack); err != nil {
		switch {
		case errors.Is(err, registrant.ErrNotFound):
			RespondNotFound(ctx, "Ticket not found")
		case errors.Is(err, coupon.ErrSpent):
			RespondConflict(ctx, "coupon_spent", "Coupon has already been redeemed")
		case errors.Is(err, payment.ErrAlreadyApplied):
			RespondConflict(ctx, "payment_already_applied", "This payment has already been used for a ticket")
		default:
			RespondInternal(ctx, "Could not upgrade ticket")
		}
		return
	}

	if err := h.publisher.Publish(cctx, events.TicketUpgraded, gin.H{
		"id":              r.ID,
		"role":            r.Role,
		"ticket_code":     r.TicketCode,
		"ticket_category": r.TicketCategory,
		"amount":          amount,
	}); err != nil {
		h.log.WarnContext(cctx, "events.publish_failed", "type", events.TicketUpgraded, "err", err)
	}

	ctx.JSON(http.StatusOK, gin.H{
		"registrant": r,
		"amount":     amount,
	})
}
