package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/railtrans/expo/internal/config"
	"github.com/railtrans/expo/internal/domain/job"
	"github.com/railtrans/expo/internal/http/middlewares"
	"github.com/railtrans/expo/internal/utils"
)

type AdminJobsRepo interface {
	List(ctx context.Context, f job.ListFilter) (job.Page, error)
	GetByID(ctx context.Context, id string) (job.Job, error)
	Retry(ctx context.Context, id string) error
	RetryManyFailed(ctx context.Context, limit int) (int64, error)
	Stats(ctx context.Context, jobType string) (job.Stats, error)
}

// AdminJobsHandler lets operators inspect the outbox and requeue failed mail.
type AdminJobsHandler struct {
	repo AdminJobsRepo
}

func NewAdminJobsHandler(repo AdminJobsRepo) *AdminJobsHandler {
	return &AdminJobsHandler{repo: repo}
}

// GET /api/admin/jobs?status=failed&type=mail.send&limit=50&cursor=...
func (h *AdminJobsHandler) List(ctx *gin.Context) {
	f := job.ListFilter{
		Limit: parseIntDefault(ctx.Query("limit"), 20),
		Type:  ctx.Query("type"),
	}
	if f.Limit < 1 || f.Limit > 100 {
		RespondBadRequest(ctx, "limit must be between 1 and 100", gin.H{"field": "limit"})
		return
	}

	if s := ctx.Query("status"); s != "" {
		st, ok := job.ParseStatus(s)
		if !ok {
			RespondBadRequest(ctx, "unknown job status", gin.H{"field": "status"})
			return
		}
		f.Status = st
	}

	cur := utils.FirstPage()
	if s := ctx.Query("cursor"); s != "" {
		var err error
		if cur, err = utils.DecodeCursor(s); err != nil {
			RespondBadRequest(ctx, "cursor is invalid", gin.H{"field": "cursor"})
			return
		}
	}
	f.BeforeUpdatedAt, f.BeforeID = cur.At, cur.ID

	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	page, err := h.repo.List(cctx, f)
	if err != nil {
		RespondInternal(ctx, "Could not list jobs")
		return
	}

	var next *string
	if page.HasMore {
		last := page.Items[len(page.Items)-1]
		s := utils.Cursor{At: last.UpdatedAt, ID: last.ID}.Encode()
		next = &s
	}
	if page.Items == nil {
		page.Items = []job.Job{}
	}

	RespondJSONWithETag(ctx, http.StatusOK, gin.H{
		"limit":      f.Limit,
		"count":      len(page.Items),
		"items":      page.Items,
		"hasMore":    page.HasMore,
		"nextCursor": next,
	})
}

// GET /api/admin/jobs/stats?type=
func (h *AdminJobsHandler) Stats(ctx *gin.Context) {
	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	stats, err := h.repo.Stats(cctx, ctx.Query("type"))
	if err != nil {
		RespondInternal(ctx, "Could not count jobs")
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"type": ctx.Query("type"), "counts": stats})
}

// jobID reads :id and tags the request log with it.
func jobID(ctx *gin.Context) (string, bool) {
	id := ctx.Param("id")
	ctx.Set(middlewares.CtxJobID, id)
	if !utils.IsUUID(id) {
		RespondBadRequest(ctx, "invalid id", gin.H{"field": "id"})
		return "", false
	}
	return id, true
}

// GET /api/admin/jobs/:id
func (h *AdminJobsHandler) GetByID(ctx *gin.Context) {
	id, ok := jobID(ctx)
	if !ok {
		return
	}

	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	j, err := h.repo.GetByID(cctx, id)
	switch {
	case errors.Is(err, job.ErrJobNotFound):
		RespondNotFound(ctx, "Job not found")
	case err != nil:
		RespondInternal(ctx, "Could not fetch job")
	default:
		RespondJSONWithETag(ctx, http.StatusOK, j)
	}
}

// POST /api/admin/jobs/:id/retry
func (h *AdminJobsHandler) Retry(ctx *gin.Context) {
	id, ok := jobID(ctx)
	if !ok {
		return
	}

	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	switch err := h.repo.Retry(cctx, id); {
	case errors.Is(err, job.ErrJobNotFound):
		RespondNotFound(ctx, "Job not found")
	case errors.Is(err, job.ErrJobNotFailed):
		RespondConflict(ctx, "job_not_failed", "Only failed jobs can be retried")
	case err != nil:
		RespondInternal(ctx, "Could not retry job")
	default:
		ctx.JSON(http.StatusOK, gin.H{"jobId": id, "status": job.StatusPending})
	}
}

// POST /api/admin/jobs/reprocess-failed?limit=50
func (h *AdminJobsHandler) ReprocessFailed(ctx *gin.Context) {
	limit := 50
	if s := ctx.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > 500 {
			RespondBadRequest(ctx, "limit must be between 1 and 500", gin.H{"field": "limit"})
			return
		}
		limit = n
	}

	cctx, cancel := config.WithTimeout(3 * time.Second)
	defer cancel()

	n, err := h.repo.RetryManyFailed(cctx, limit)
	if err != nil {
		RespondInternal(ctx, "Could not reprocess failed jobs")
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"requeued": n})
}
