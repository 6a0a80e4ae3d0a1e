package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/railtrans/expo/internal/actorctx"
	"github.com/railtrans/expo/internal/config"
	"github.com/railtrans/expo/internal/domain/coupon"
	"github.com/railtrans/expo/internal/events"
	"github.com/railtrans/expo/internal/observability"
	"github.com/railtrans/expo/internal/utils"
)

type CouponStore interface {
	Create(ctx context.Context, c coupon.Coupon, actor string) (coupon.Coupon, error)
	CreateMany(ctx context.Context, batch []coupon.Coupon, actor string) ([]coupon.Coupon, error)
	GetByCode(ctx context.Context, code string) (coupon.Coupon, error)
	Reserve(ctx context.Context, id, usedBy string) (coupon.Coupon, error)
	Release(ctx context.Context, id, actor, reason string) (coupon.Coupon, error)
	List(ctx context.Context) ([]coupon.Coupon, error)
	Delete(ctx context.Context, id, actor string) error
	Logs(ctx context.Context, couponID string, limit int, before time.Time) ([]coupon.LogEntry, error)
}

type CouponsHandler struct {
	store     CouponStore
	publisher events.Publisher
	prom      *observability.Prom
}

func NewCouponsHandler(store CouponStore, publisher events.Publisher, prom *observability.Prom) *CouponsHandler {
	if publisher == nil {
		publisher = events.Noop{}
	}
	return &CouponsHandler{store: store, publisher: publisher, prom: prom}
}

func (h *CouponsHandler) count(action, result string) {
	if h.prom == nil {
		return
	}
	h.prom.CouponReservations.WithLabelValues(action, result).Inc()
}

// POST /api/coupons/validate
//
// Without markUsed this is a pure preview. With markUsed the coupon is reserved
// atomically and only one caller can win.
func (h *CouponsHandler) Validate(ctx *gin.Context) {
	var req coupon.ValidateRequest
	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := config.WithTimeout(3 * time.Second)
	defer cancel()

	c, err := h.store.GetByCode(cctx, coupon.NormalizeCode(req.Code))
	if err != nil {
		if errors.Is(err, coupon.ErrNotFound) {
			ctx.JSON(http.StatusOK, coupon.ValidateResult{Valid: false, Message: "Coupon not found"})
			return
		}
		RespondInternal(ctx, "Could not validate coupon")
		return
	}

	if !req.MarkUsed {
		ctx.JSON(http.StatusOK, c.Evaluate(req.Price))
		return
	}

	reserved, err := h.store.Reserve(cctx, c.ID, req.UsedBy)
	if err != nil {
		switch {
		case errors.Is(err, coupon.ErrUsed):
			h.count("reserve", "lost")
			RespondConflict(ctx, "coupon_used", "Coupon has already been used")
			return
		case errors.Is(err, coupon.ErrNotFound):
			// deleted after the lookup
			h.count("reserve", "missing")
			ctx.JSON(http.StatusOK, coupon.ValidateResult{Valid: false, Message: "Coupon not found"})
			return
		}
		h.count("reserve", "error")
		RespondInternal(ctx, "Could not reserve coupon")
		return
	}
	h.count("reserve", "ok")

	// evaluate as the winner saw it, before the flip
	before := reserved
	before.Used = false
	res := before.Evaluate(req.Price)
	res.Coupon = reserved.Ref()

	_ = h.publisher.Publish(cctx, events.CouponReserved, gin.H{"id": reserved.ID, "code": reserved.Code, "usedBy": req.UsedBy})

	ctx.JSON(http.StatusOK, res)
}

// POST /api/coupons/:id/unuse
func (h *CouponsHandler) Unuse(ctx *gin.Context) {
	id := ctx.Param("id")
	if !utils.IsUUID(id) {
		RespondBadRequest(ctx, "invalid_id", nil)
		return
	}

	cctx, cancel := config.WithTimeout(3 * time.Second)
	defer cancel()

	c, err := h.store.Release(cctx, id, actorctx.ActorFrom(ctx.Request.Context()), "unuse")
	if err != nil {
		if errors.Is(err, coupon.ErrNotFound) {
			RespondNotFound(ctx, "Coupon not found")
			return
		}
		h.count("release", "error")
		RespondInternal(ctx, "Could not release coupon")
		return
	}
	h.count("release", "ok")

	_ = h.publisher.Publish(cctx, events.CouponReleased, gin.H{"id": c.ID, "code": c.Code})

	ctx.JSON(http.StatusOK, gin.H{"coupon": c.Ref()})
}

// POST /api/coupons
func (h *CouponsHandler) Create(ctx *gin.Context) {
	var req coupon.CreateRequest
	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := config.WithTimeout(3 * time.Second)
	defer cancel()

	c, err := h.store.Create(cctx, coupon.New(req.Code, req.Discount), actorctx.ActorFrom(ctx.Request.Context()))
	if err != nil {
		if errors.Is(err, coupon.ErrExists) {
			RespondConflict(ctx, "coupon_exists", "A coupon with this code already exists")
			return
		}
		RespondInternal(ctx, "Could not create coupon")
		return
	}

	ctx.JSON(http.StatusCreated, c)
}

// POST /api/coupons/generate
func (h *CouponsHandler) Generate(ctx *gin.Context) {
	var req coupon.GenerateRequest
	if !BindJSON(ctx, &req) {
		return
	}

	batch := make([]coupon.Coupon, 0, req.Count)
	for i := 0; i < req.Count; i++ {
		batch = append(batch, coupon.New(coupon.GenerateCode(req.Prefix), req.Discount))
	}

	cctx, cancel := config.WithTimeout(10 * time.Second)
	defer cancel()

	stored, err := h.store.CreateMany(cctx, batch, actorctx.ActorFrom(ctx.Request.Context()))
	if err != nil {
		RespondInternal(ctx, "Could not generate coupons")
		return
	}

	ctx.JSON(http.StatusCreated, gin.H{
		"items": stored,
		"count": len(stored),
	})
}

// GET /api/coupons
func (h *CouponsHandler) List(ctx *gin.Context) {
	cctx, cancel := config.WithTimeout(3 * time.Second)
	defer cancel()

	items, err := h.store.List(cctx)
	if err != nil {
		RespondInternal(ctx, "Could not list coupons")
		return
	}

	RespondList(ctx, items)
}

// DELETE /api/coupons/:id
func (h *CouponsHandler) Delete(ctx *gin.Context) {
	id := ctx.Param("id")
	if !utils.IsUUID(id) {
		RespondBadRequest(ctx, "invalid_id", nil)
		return
	}

	cctx, cancel := config.WithTimeout(3 * time.Second)
	defer cancel()

	if err := h.store.Delete(cctx, id, actorctx.ActorFrom(ctx.Request.Context())); err != nil {
		if errors.Is(err, coupon.ErrNotFound) {
			RespondNotFound(ctx, "Coupon not found")
			return
		}
		RespondInternal(ctx, "Could not delete coupon")
		return
	}

	ctx.Status(http.StatusNoContent)
}

// GET /api/coupons/logs?couponId=&limit=&cursor=
func (h *CouponsHandler) Logs(ctx *gin.Context) {
	limit := parseIntDefault(ctx.Query("limit"), 100)
	if limit < 1 || limit > 500 {
		RespondBadRequest(ctx, "limit must be between 1 and 500", nil)
		return
	}

	couponID := ctx.Query("couponId")
	if couponID != "" && !utils.IsUUID(couponID) {
		RespondBadRequest(ctx, "couponId is invalid", nil)
		return
	}

	var before time.Time
	if cursor := ctx.Query("cursor"); cursor != "" {
		cur, err := utils.DecodeCursor(cursor)
		if err != nil {
			RespondBadRequest(ctx, "cursor is invalid", nil)
			return
		}
		before = cur.At
	}

	cctx, cancel := config.WithTimeout(3 * time.Second)
	defer cancel()

	items, err := h.store.Logs(cctx, couponID, limit, before)
	if err != nil {
		RespondInternal(ctx, "Could not list coupon logs")
		return
	}

	var next *string
	if len(items) == limit {
		s := utils.Cursor{At: items[len(items)-1].CreatedAt}.Encode()
		next = &s
	}

	RespondJSONWithETag(ctx, http.StatusOK, gin.H{
		"items":      items,
		"count":      len(items),
		"nextCursor": next,
	})
}
