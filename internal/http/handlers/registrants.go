package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/railtrans/expo/internal/badge"
	"github.com/railtrans/expo/internal/config"
	"github.com/railtrans/expo/internal/domain/job"
	"github.com/railtrans/expo/internal/domain/regconfig"
	"github.com/railtrans/expo/internal/domain/registrant"
	"github.com/railtrans/expo/internal/domain/user"
	"github.com/railtrans/expo/internal/email"
	"github.com/railtrans/expo/internal/events"
	"github.com/railtrans/expo/internal/http/middlewares"
	"github.com/railtrans/expo/internal/jobs"
	"github.com/railtrans/expo/internal/observability"
	"github.com/railtrans/expo/internal/utils"
)

type RegistrantStore interface {
	Create(ctx context.Context, r registrant.Registrant, outbox ...job.CreateRequest) (registrant.Registrant, error)
	GetByID(ctx context.Context, role registrant.Role, id string) (registrant.Registrant, error)
	List(ctx context.Context, role registrant.Role) ([]registrant.Registrant, error)
	Update(ctx context.Context, r registrant.Registrant, outbox ...job.CreateRequest) error
	Delete(ctx context.Context, role registrant.Role, id string) error
}

// VerifiedEmails is the slice of the OTP service the create route relies on.
type VerifiedEmails interface {
	IsVerified(ctx context.Context, role registrant.Role, addr string) (bool, error)
	ClearVerified(ctx context.Context, role registrant.Role, addr string) error
}

type JobsEnqueuer interface {
	Create(ctx context.Context, req job.CreateRequest) (job.Job, error)
}

type RegistrantsHandler struct {
	store      RegistrantStore
	configs    ConfigReader
	otp        VerifiedEmails
	jobs       JobsEnqueuer
	publisher  events.Publisher
	prom       *observability.Prom
	publicBase string
	log        *slog.Logger
}

type RegistrantsDeps struct {
	Store      RegistrantStore
	Configs    ConfigReader
	OTP        VerifiedEmails
	Jobs       JobsEnqueuer
	Publisher  events.Publisher
	Prom       *observability.Prom
	PublicBase string
	Log        *slog.Logger
}

func NewRegistrantsHandler(d RegistrantsDeps) *RegistrantsHandler {
	if d.Publisher == nil {
		d.Publisher = events.Noop{}
	}
	if d.Log == nil {
		d.Log = slog.Default()
	}
	return &RegistrantsHandler{
		store:      d.Store,
		configs:    d.Configs,
		otp:        d.OTP,
		jobs:       d.Jobs,
		publisher:  d.Publisher,
		prom:       d.Prom,
		publicBase: d.PublicBase,
		log:        d.Log,
	}
}

type createdResponse struct {
	InsertedID string                `json:"insertedId"`
	TicketCode string                `json:"ticket_code"`
	Registrant registrant.Registrant `json:"registrant"`
}

type statusResponse struct {
	Status  registrant.Status `json:"status"`
	Message string            `json:"message"`
}

// loadConfig treats a missing config as an empty one.
func (h *RegistrantsHandler) loadConfig(ctx context.Context, role registrant.Role) (regconfig.Config, error) {
	c, err := h.configs.Get(ctx, string(role))
	if errors.Is(err, regconfig.ErrNotFound) {
		return regconfig.Config{Role: string(role)}, nil
	}
	return c, err
}

func (h *RegistrantsHandler) frontendBase(ctx *gin.Context) string {
	return email.ResolveBase("", h.publicBase, ctx.GetHeader("Origin"))
}

// fetch resolves :id for role and writes the error response itself.
func (h *RegistrantsHandler) fetch(ctx *gin.Context, cctx context.Context, role registrant.Role) (registrant.Registrant, bool) {
	id := ctx.Param("id")
	if !utils.IsUUID(id) {
		RespondBadRequest(ctx, "invalid_id", nil)
		return registrant.Registrant{}, false
	}

	r, err := h.store.GetByID(cctx, role, id)
	if err != nil {
		if errors.Is(err, registrant.ErrNotFound) {
			RespondNotFound(ctx, "Registrant not found")
			return registrant.Registrant{}, false
		}
		RespondInternal(ctx, "Could not fetch registrant")
		return registrant.Registrant{}, false
	}
	return r, true
}

// GET /api/{role}s
func (h *RegistrantsHandler) List(role registrant.Role) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		cctx, cancel := config.WithTimeout(3 * time.Second)
		defer cancel()

		items, err := h.store.List(cctx, role)
		if err != nil {
			RespondInternal(ctx, "Could not list registrants")
			return
		}

		RespondList(ctx, items)
	}
}

// POST /api/{role}s
//
// The body is the free-form form state; fixed columns are picked out and the
// rest is stored as role data. Admin callers skip the OTP gate.
func (h *RegistrantsHandler) Create(role registrant.Role) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		var payload map[string]any
		if err := ctx.ShouldBindJSON(&payload); err != nil {
			RespondBadRequest(ctx, "Invalid request body", bindErrorDetails(err))
			return
		}

		admin := middlewares.IsAdmin(ctx, user.RoleAdmin)

		req := registrant.FromPayload(role, payload)
		req.AddedByAdmin = admin

		if err := binding.Validator.ValidateStruct(&req); err != nil {
			RespondBadRequest(ctx, "Invalid request body", bindErrorDetails(err))
			return
		}

		cctx, cancel := config.WithTimeout(5 * time.Second)
		defer cancel()

		cfg, err := h.loadConfig(cctx, role)
		if err != nil {
			RespondInternal(ctx, "Could not load registration config")
			return
		}

		if cfg.RequiresOTP() && !admin {
			ok, err := h.otp.IsVerified(cctx, role, registrant.NormalizeEmail(req.Email))
			if err != nil {
				RespondInternal(ctx, "Could not check email verification")
				return
			}
			if !ok {
				RespondError(ctx, http.StatusForbidden, "email_not_verified", "Verify your email with the code we sent before submitting.", nil)
				return
			}
		}

		if cat, ok := cfg.Category(req.TicketCategory); ok {
			fillPrice(&req, cat)
		}

		r := registrant.NewFromCreateRequest(req)

		ack, err := jobs.AcknowledgeRequest(jobs.AcknowledgePayload{
			RegistrantID: r.ID,
			Role:         string(role),
			Reason:       jobs.ReasonCreated,
			FrontendBase: h.frontendBase(ctx),
		})
		if err != nil {
			RespondInternal(ctx, "Could not queue confirmation email")
			return
		}

		created, err := h.store.Create(cctx, r, ack)
		if err != nil {
			if errors.Is(err, registrant.ErrAlreadyRegistered) {
				RespondConflict(ctx, "already_registered", "This email is already registered for "+role.Plural()+".")
				return
			}
			RespondInternal(ctx, "Could not save registration")
			return
		}

		if !admin && cfg.RequiresOTP() {
			if err := h.otp.ClearVerified(cctx, role, created.Email); err != nil {
				h.log.WarnContext(cctx, "otp.clear_verified_failed", "role", role, "err", err)
			}
		}

		source := "public"
		if admin {
			source = "admin"
		}
		if h.prom != nil {
			h.prom.Registrations.WithLabelValues(string(role), source).Inc()
		}

		if err := h.publisher.Publish(cctx, events.RegistrationCreated, registrantEvent(created)); err != nil {
			h.log.WarnContext(cctx, "events.publish_failed", "type", events.RegistrationCreated, "err", err)
		}

		ctx.JSON(http.StatusCreated, createdResponse{
			InsertedID: created.ID,
			TicketCode: created.TicketCode,
			Registrant: created,
		})
	}
}

// fillPrice prices a known category when the form did not send amounts.
func fillPrice(req *registrant.CreateRequest, cat regconfig.Category) {
	if req.TicketTotal > 0 || cat.Price <= 0 {
		return
	}
	q := quoteFor(cat)
	req.TicketPrice = q.Price
	req.TicketGST = q.GST
	req.TicketTotal = q.Total
}

func registrantEvent(r registrant.Registrant) gin.H {
	return gin.H{
		"id":              r.ID,
		"role":            r.Role,
		"email":           r.Email,
		"ticket_code":     r.TicketCode,
		"ticket_category": r.TicketCategory,
		"status":          r.Status,
	}
}

// GET /api/{role}s/:id
func (h *RegistrantsHandler) Get(role registrant.Role) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		cctx, cancel := config.WithTimeout(2 * time.Second)
		defer cancel()

		r, ok := h.fetch(ctx, cctx, role)
		if !ok {
			return
		}

		RespondJSONWithETag(ctx, http.StatusOK, r)
	}
}

// PUT /api/{role}s/:id
func (h *RegistrantsHandler) Update(role registrant.Role) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		var req registrant.UpdateRequest
		if !BindJSON(ctx, &req) {
			return
		}

		cctx, cancel := config.WithTimeout(3 * time.Second)
		defer cancel()

		r, ok := h.fetch(ctx, cctx, role)
		if !ok {
			return
		}

		r.Apply(req)

		if err := h.store.Update(cctx, r); err != nil {
			switch {
			case errors.Is(err, registrant.ErrNotFound):
				RespondNotFound(ctx, "Registrant not found")
			case errors.Is(err, registrant.ErrAlreadyRegistered):
				RespondConflict(ctx, "already_registered", "Another registrant already uses this email.")
			default:
				RespondInternal(ctx, "Could not update registrant")
			}
			return
		}

		ctx.JSON(http.StatusOK, r)
	}
}

// DELETE /api/{role}s/:id
func (h *RegistrantsHandler) Delete(role registrant.Role) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		id := ctx.Param("id")
		if !utils.IsUUID(id) {
			RespondBadRequest(ctx, "invalid_id", nil)
			return
		}

		cctx, cancel := config.WithTimeout(3 * time.Second)
		defer cancel()

		if err := h.store.Delete(cctx, role, id); err != nil {
			if errors.Is(err, registrant.ErrNotFound) {
				RespondNotFound(ctx, "Registrant not found")
				return
			}
			RespondInternal(ctx, "Could not delete registrant")
			return
		}

		_ = h.publisher.Publish(cctx, events.RegistrantDeleted, gin.H{"id": id, "role": role})

		ctx.Status(http.StatusNoContent)
	}
}

// POST /api/{role}s/:id/approve
func (h *RegistrantsHandler) Approve(role registrant.Role) gin.HandlerFunc {
	return h.transition(role, registrant.StatusApproved)
}

// POST /api/{role}s/:id/cancel
func (h *RegistrantsHandler) Cancel(role registrant.Role) gin.HandlerFunc {
	return h.transition(role, registrant.StatusCancelled)
}

func (h *RegistrantsHandler) transition(role registrant.Role, to registrant.Status) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		cctx, cancel := config.WithTimeout(3 * time.Second)
		defer cancel()

		r, ok := h.fetch(ctx, cctx, role)
		if !ok {
			return
		}

		next, err := r.Transition(to)
		if err != nil {
			RespondConflict(ctx, "invalid_transition", err.Error())
			return
		}
		r.Status = next

		notify, err := jobs.StatusNotifyRequest(jobs.StatusNotifyPayload{
			RegistrantID: r.ID,
			Role:         string(role),
			Status:       string(next),
		})
		if err != nil {
			RespondInternal(ctx, "Could not queue notification")
			return
		}

		if err := h.store.Update(cctx, r, notify); err != nil {
			if errors.Is(err, registrant.ErrNotFound) {
				RespondNotFound(ctx, "Registrant not found")
				return
			}
			RespondInternal(ctx, "Could not update status")
			return
		}

		_ = h.publisher.Publish(cctx, events.RegistrantStatus, registrantEvent(r))

		ctx.JSON(http.StatusOK, statusResponse{
			Status:  next,
			Message: "notification will be sent to " + r.Email,
		})
	}
}

// POST /api/{role}s/:id/generate-ticket
func (h *RegistrantsHandler) GenerateTicket(role registrant.Role) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		cctx, cancel := config.WithTimeout(3 * time.Second)
		defer cancel()

		r, ok := h.fetch(ctx, cctx, role)
		if !ok {
			return
		}

		req, err := jobs.TicketRequest(jobs.TicketPayload{RegistrantID: r.ID, Role: string(role)})
		if err != nil {
			RespondInternal(ctx, "Could not enqueue job")
			return
		}

		j, err := h.jobs.Create(cctx, req)
		if err != nil {
			RespondInternal(ctx, "Could not enqueue job")
			return
		}

		ctx.Set(middlewares.CtxJobID, j.ID)
		ctx.JSON(http.StatusAccepted, gin.H{
			"jobId":  j.ID,
			"status": j.Status,
		})
	}
}

// GET /api/{role}s/:id/badge.pdf
func (h *RegistrantsHandler) Badge(role registrant.Role) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		cctx, cancel := config.WithTimeout(5 * time.Second)
		defer cancel()

		r, ok := h.fetch(ctx, cctx, role)
		if !ok {
			return
		}

		cfg, err := h.loadConfig(cctx, role)
		if err != nil {
			h.log.WarnContext(cctx, "badge.config_unavailable", "role", role, "err", err)
		}

		pdf, err := badge.Render(badge.FromRegistrant(r,
			cfg.EventDetails.Name, cfg.EventDetails.Date, cfg.EventDetails.Venue, cfg.Branding.PrimaryColor))
		if err != nil {
			if errors.Is(err, badge.ErrNoTicketCode) {
				RespondConflict(ctx, "no_ticket", "Registrant has no ticket code yet")
				return
			}
			RespondInternal(ctx, "Could not render badge")
			return
		}

		ctx.Header("Content-Disposition", `inline; filename="badge-`+r.TicketCode+`.pdf"`)
		ctx.Data(http.StatusOK, "application/pdf", pdf)
	}
}
