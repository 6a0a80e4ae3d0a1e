package handlers

import (
	"bytes"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/railtrans/expo/internal/config"
	"github.com/railtrans/expo/internal/dashboard"
	"github.com/railtrans/expo/internal/domain/job"
	"github.com/railtrans/expo/internal/domain/registrant"
	"github.com/railtrans/expo/internal/jobs"
)

const (
	bulkGenerateTicket = "generate-ticket"
	bulkResendEmail    = "resend-email"
)

type BulkRequest struct {
	Action string   `json:"action" binding:"required,oneof=generate-ticket resend-email"`
	IDs    []string `json:"ids" binding:"required,min=1,max=500,dive,uuid"`
}

type BulkResult struct {
	Queued  []string          `json:"queued"`
	Skipped map[string]string `json:"skipped,omitempty"`
}

func (h *RegistrantsHandler) rows(ctx *gin.Context, role registrant.Role) ([]dashboard.Row, []string, bool) {
	cctx, cancel := config.WithTimeout(5 * time.Second)
	defer cancel()

	items, err := h.store.List(cctx, role)
	if err != nil {
		RespondInternal(ctx, "Could not list registrants")
		return nil, nil, false
	}

	cfg, err := h.loadConfig(cctx, role)
	if err != nil {
		h.log.WarnContext(cctx, "dashboard.config_unavailable", "role", role, "err", err)
	}

	rows := make([]dashboard.Row, 0, len(items))
	for _, r := range items {
		rows = append(rows, r.Row())
	}
	return rows, cfg.Columns, true
}

// GET /api/admin/{role}s/table?page=&pageSize=&sort=&dir=&q=
func (h *RegistrantsHandler) Table(role registrant.Role) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		q := dashboard.Query{
			Page:     parseIntDefault(ctx.Query("page"), 1),
			PageSize: parseIntDefault(ctx.Query("pageSize"), dashboard.DefaultPageSize),
			Sort:     ctx.Query("sort"),
			Desc:     ctx.Query("dir") == "desc",
			Search:   ctx.Query("q"),
		}

		rows, declared, ok := h.rows(ctx, role)
		if !ok {
			return
		}

		RespondJSONWithETag(ctx, http.StatusOK, dashboard.Build(rows, declared, q))
	}
}

// GET /api/admin/{role}s/export.csv
func (h *RegistrantsHandler) Export(role registrant.Role) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		rows, declared, ok := h.rows(ctx, role)
		if !ok {
			return
		}

		columns := dashboard.DeriveColumns(rows, declared)

		var buf bytes.Buffer
		if err := dashboard.WriteCSV(&buf, columns, rows); err != nil {
			RespondInternal(ctx, "Could not export registrants")
			return
		}

		name := role.Plural() + "-" + time.Now().UTC().Format("20060102") + ".csv"
		ctx.Header("Content-Disposition", `attachment; filename="`+name+`"`)
		ctx.Data(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
	}
}

// POST /api/admin/{role}s/bulk
func (h *RegistrantsHandler) Bulk(role registrant.Role) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		var req BulkRequest
		if !BindJSON(ctx, &req) {
			return
		}

		cctx, cancel := config.WithTimeout(10 * time.Second)
		defer cancel()

		base := h.frontendBase(ctx)
		out := BulkResult{Queued: make([]string, 0, len(req.IDs)), Skipped: map[string]string{}}

		for _, id := range req.IDs {
			r, err := h.store.GetByID(cctx, role, id)
			if err != nil {
				if errors.Is(err, registrant.ErrNotFound) {
					out.Skipped[id] = "not_found"
					continue
				}
				RespondInternal(ctx, "Could not load registrants")
				return
			}

			var jr job.CreateRequest
			switch req.Action {
			case bulkGenerateTicket:
				jr, err = jobs.TicketRequest(jobs.TicketPayload{RegistrantID: r.ID, Role: string(role)})
			case bulkResendEmail:
				jr, err = jobs.AcknowledgeRequest(jobs.AcknowledgePayload{
					RegistrantID: r.ID,
					Role:         string(role),
					Reason:       jobs.ReasonResend,
					FrontendBase: base,
				})
			}
			if err != nil {
				out.Skipped[id] = "encode_failed"
				continue
			}

			if _, err := h.jobs.Create(cctx, jr); err != nil {
				out.Skipped[id] = "enqueue_failed"
				continue
			}
			out.Queued = append(out.Queued, id)
		}

		if len(out.Skipped) == 0 {
			out.Skipped = nil
		}

		ctx.JSON(http.StatusAccepted, out)
	}
}

func parseIntDefault(s string, fallback int) int {
	if s == "" {
		return fallback
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return n
}
