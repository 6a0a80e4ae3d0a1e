package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/mail"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/railtrans/expo/internal/config"
	"github.com/railtrans/expo/internal/domain/registrant"
	"github.com/railtrans/expo/internal/observability"
	"github.com/railtrans/expo/internal/otp"
)

type OTPService interface {
	CheckEmail(ctx context.Context, role registrant.Role, addr string) (*registrant.Registrant, error)
	Send(ctx context.Context, role registrant.Role, addr, requestID string) (otp.SendResult, error)
	Verify(ctx context.Context, role registrant.Role, addr, code string) (string, error)
}

type OTPHandler struct {
	svc            OTPService
	prom           *observability.Prom
	resendInterval time.Duration
}

func NewOTPHandler(svc OTPService, prom *observability.Prom, resendInterval time.Duration) *OTPHandler {
	if resendInterval <= 0 {
		resendInterval = 30 * time.Second
	}
	return &OTPHandler{svc: svc, prom: prom, resendInterval: resendInterval}
}

type SendOTPRequest struct {
	Type             string `json:"type" binding:"required,oneof=email"`
	Value            string `json:"value" binding:"required,email,max=254"`
	RequestID        string `json:"requestId" binding:"omitempty,max=128"`
	RegistrationType string `json:"registrationType" binding:"required,role"`
}

type VerifyOTPRequest struct {
	Value            string `json:"value" binding:"required,email,max=254"`
	OTP              string `json:"otp" binding:"required,len=6,numeric"`
	RegistrationType string `json:"registrationType" binding:"required,role"`
}

// existingView is the subset of a registrant the form shows when an email is taken.
func existingView(r *registrant.Registrant) gin.H {
	return gin.H{
		"id":              r.ID,
		"role":            r.Role,
		"name":            r.Name,
		"email":           r.Email,
		"company":         r.Company,
		"ticket_code":     r.TicketCode,
		"ticket_category": r.TicketCategory,
	}
}

func otpSends(p *observability.Prom) *prometheus.CounterVec         { return p.OTPSends }
func otpVerifications(p *observability.Prom) *prometheus.CounterVec { return p.OTPVerifications }

func (h *OTPHandler) count(pick func(*observability.Prom) *prometheus.CounterVec, role registrant.Role, result string) {
	if h.prom == nil {
		return
	}
	pick(h.prom).WithLabelValues(string(role), result).Inc()
}

// POST /api/otp/send
func (h *OTPHandler) Send(ctx *gin.Context) {
	var req SendOTPRequest
	if !BindJSON(ctx, &req) {
		return
	}
	role, _ := registrant.ParseRole(req.RegistrationType)

	cctx, cancel := config.WithTimeout(15 * time.Second)
	defer cancel()

	res, err := h.svc.Send(cctx, role, req.Value, req.RequestID)
	if err != nil {
		switch {
		case errors.Is(err, registrant.ErrAlreadyRegistered) && res.Existing != nil:
			h.count(otpSends, role, "existing")
			ctx.JSON(http.StatusConflict, gin.H{
				"error": APIError{
					Code:      "already_registered",
					Message:   "This email is already registered.",
					RequestID: requestID(ctx),
				},
				"existing": existingView(res.Existing),
			})
		case errors.Is(err, otp.ErrThrottled):
			h.count(otpSends, role, "throttled")
			ctx.Header("Retry-After", strconv.Itoa(int(h.resendInterval.Seconds())))
			RespondError(ctx, http.StatusTooManyRequests, "otp_throttled", "Please wait before requesting another code.", nil)
		default:
			h.count(otpSends, role, "error")
			RespondError(ctx, http.StatusBadGateway, "otp_send_failed", "Could not send the verification code. Try again.", nil)
		}
		return
	}

	h.count(otpSends, role, "sent")

	ctx.JSON(http.StatusOK, gin.H{
		"success":   true,
		"duplicate": res.Duplicate,
		"expiresIn": int(res.ExpiresIn.Seconds()),
	})
}

// POST /api/otp/verify
func (h *OTPHandler) Verify(ctx *gin.Context) {
	var req VerifyOTPRequest
	if !BindJSON(ctx, &req) {
		return
	}
	role, _ := registrant.ParseRole(req.RegistrationType)

	cctx, cancel := config.WithTimeout(3 * time.Second)
	defer cancel()

	addr, err := h.svc.Verify(cctx, role, req.Value, req.OTP)
	if err != nil {
		var invalid *otp.InvalidCodeError
		switch {
		case errors.As(err, &invalid):
			h.count(otpVerifications, role, "invalid")
			RespondError(ctx, http.StatusBadRequest, "invalid_otp", "The code is incorrect.", gin.H{"remaining": invalid.Remaining})
		case errors.Is(err, otp.ErrExpired):
			h.count(otpVerifications, role, "expired")
			RespondError(ctx, http.StatusGone, "otp_expired", "The code has expired. Request a new one.", nil)
		case errors.Is(err, otp.ErrTooManyAttempts):
			h.count(otpVerifications, role, "locked")
			RespondError(ctx, http.StatusGone, "otp_attempts_exceeded", "Too many wrong codes. Request a new one.", nil)
		default:
			h.count(otpVerifications, role, "error")
			RespondInternal(ctx, "Could not verify code")
		}
		return
	}

	h.count(otpVerifications, role, "verified")

	ctx.JSON(http.StatusOK, gin.H{
		"success": true,
		"email":   addr,
	})
}

// GET /api/otp/check-email?email=&role=
func (h *OTPHandler) CheckEmail(ctx *gin.Context) {
	addr := ctx.Query("email")
	if _, err := mail.ParseAddress(addr); err != nil {
		RespondBadRequest(ctx, "email must be a valid email address", nil)
		return
	}

	role, ok := registrant.ParseRole(ctx.Query("role"))
	if !ok {
		RespondBadRequest(ctx, "role must be one of visitor, exhibitor, partner, speaker, awardee", nil)
		return
	}

	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	existing, err := h.svc.CheckEmail(cctx, role, addr)
	if err != nil {
		RespondInternal(ctx, "Could not check email")
		return
	}

	if existing == nil {
		ctx.JSON(http.StatusOK, gin.H{"exists": false})
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"exists":   true,
		"existing": existingView(existing),
	})
}
