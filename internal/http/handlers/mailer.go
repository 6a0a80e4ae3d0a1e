package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/railtrans/expo/internal/config"
	"github.com/railtrans/expo/internal/jobs"
)

type MailAttachment struct {
	Filename    string `json:"filename" binding:"required,max=200"`
	ContentType string `json:"contentType" binding:"omitempty,max=100"`
	Content     string `json:"content" binding:"required,base64"`
}

type MailRequest struct {
	To          []string         `json:"to" binding:"required,min=1,max=50,dive,email"`
	Subject     string           `json:"subject" binding:"required,max=300"`
	Text        string           `json:"text"`
	HTML        string           `json:"html"`
	Attachments []MailAttachment `json:"attachments" binding:"omitempty,max=5,dive"`
}

type MailerHandler struct {
	jobs JobsEnqueuer
}

func NewMailerHandler(jobs JobsEnqueuer) *MailerHandler {
	return &MailerHandler{jobs: jobs}
}

// POST /api/mailer
//
// Mail is queued, not sent inline; the worker retries delivery.
func (h *MailerHandler) Send(ctx *gin.Context) {
	var req MailRequest
	if !BindJSON(ctx, &req) {
		return
	}

	if strings.TrimSpace(req.Text) == "" && strings.TrimSpace(req.HTML) == "" {
		RespondBadRequest(ctx, "text or html is required", gin.H{"field": "text"})
		return
	}

	p := jobs.MailPayload{
		To:      req.To,
		Subject: req.Subject,
		Text:    req.Text,
		HTML:    req.HTML,
	}
	for _, a := range req.Attachments {
		ct := a.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		p.Attachments = append(p.Attachments, jobs.Attachment{
			Filename:      a.Filename,
			ContentType:   ct,
			ContentBase64: a.Content,
		})
	}

	jr, err := jobs.MailRequest(p)
	if err != nil {
		RespondInternal(ctx, "Could not queue mail")
		return
	}

	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	j, err := h.jobs.Create(cctx, jr)
	if err != nil {
		RespondInternal(ctx, "Could not queue mail")
		return
	}

	ctx.JSON(http.StatusAccepted, gin.H{
		"jobId":  j.ID,
		"status": j.Status,
	})
}
