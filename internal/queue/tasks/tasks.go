// Package tasks holds the job handlers the worker runs.
package tasks

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/railtrans/expo/internal/badge"
	"github.com/railtrans/expo/internal/domain/delivery"
	"github.com/railtrans/expo/internal/domain/job"
	"github.com/railtrans/expo/internal/domain/registrant"
	"github.com/railtrans/expo/internal/email"
	"github.com/railtrans/expo/internal/jobs"
	"github.com/railtrans/expo/internal/notifications"
	"github.com/railtrans/expo/internal/observability"
	"github.com/railtrans/expo/internal/queue/worker"
)

type Registrants interface {
	GetByID(ctx context.Context, role registrant.Role, id string) (registrant.Registrant, error)
	MarkEmailSent(ctx context.Context, id string) error
	MarkTicketGenerated(ctx context.Context, id string) error
}

type Deliveries interface {
	TryStart(ctx context.Context, kind, dedupeKey, jobID, recipient string) error
	MarkSent(ctx context.Context, kind, dedupeKey string, providerMessageID *string) error
	MarkFailed(ctx context.Context, kind, dedupeKey, errMsg string) error
}

type Tasks struct {
	Registrants Registrants
	Deliveries  Deliveries
	Mailer      notifications.Notifier
	Details     *email.Resolver
	PublicBase  string
	Log         *slog.Logger
	Prom        *observability.Prom
}

// Register binds every handler to w.
func (t *Tasks) Register(w *worker.Worker) {
	w.Register(jobs.TypeMailSend, t.MailSend)
	w.Register(jobs.TypeRegistrantAcknowledge, t.Acknowledge)
	w.Register(jobs.TypeTicketGenerate, t.TicketGenerate)
	w.Register(jobs.TypeStatusNotify, t.StatusNotify)
}

func (t *Tasks) log() *slog.Logger {
	if t.Log == nil {
		return slog.Default()
	}
	return t.Log
}

func decode[T any](j job.Job) (T, error) {
	var zero T
	p, err := jobs.DecodePayload(jobs.Type(j.Type), j.Payload)
	if err != nil {
		return zero, worker.Permanent(err)
	}
	out, ok := p.(T)
	if !ok {
		return zero, worker.Permanent(jobs.ErrPayloadTypeMismatch)
	}
	return out, nil
}

func (t *Tasks) load(ctx context.Context, roleName, id string) (registrant.Registrant, error) {
	role, ok := registrant.ParseRole(roleName)
	if !ok {
		return registrant.Registrant{}, worker.Permanent(fmt.Errorf("unknown role %q", roleName))
	}

	r, err := t.Registrants.GetByID(ctx, role, id)
	if err != nil {
		if errors.Is(err, registrant.ErrNotFound) {
			// deleted after enqueue
			return registrant.Registrant{}, worker.Permanent(err)
		}
		return registrant.Registrant{}, err
	}
	return r, nil
}

func (t *Tasks) MailSend(ctx context.Context, j job.Job) error {
	p, err := decode[jobs.MailPayload](j)
	if err != nil {
		return err
	}

	msg := notifications.Message{
		To:      p.To,
		Subject: p.Subject,
		Text:    p.Text,
		HTML:    p.HTML,
	}
	for _, a := range p.Attachments {
		// only PDFs travel as attachments
		if !strings.EqualFold(a.ContentType, "application/pdf") {
			continue
		}
		content, err := base64.StdEncoding.DecodeString(a.ContentBase64)
		if err != nil {
			return worker.Permanent(fmt.Errorf("attachment %s: %w", a.Filename, err))
		}
		msg.Attachments = append(msg.Attachments, notifications.Attachment{
			Filename:    a.Filename,
			ContentType: "application/pdf",
			Content:     content,
		})
	}

	return t.deliver(ctx, delivery.KindMailer, j.ID, j.ID, msg)
}

// Acknowledge sends the confirmation mail with the badge attached.
func (t *Tasks) Acknowledge(ctx context.Context, j job.Job) error {
	p, err := decode[jobs.AcknowledgePayload](j)
	if err != nil {
		return err
	}

	r, err := t.load(ctx, p.Role, p.RegistrantID)
	if err != nil {
		return err
	}

	kind := email.KindAcknowledgement
	if p.Reason == jobs.ReasonUpgrade {
		kind = email.KindUpgrade
	}

	key := r.ID + ":" + p.Reason
	if p.Reason != jobs.ReasonCreated {
		key += ":" + j.ID
	}

	return t.sendRegistrantMail(ctx, r, kind, "", p.FrontendBase, delivery.KindAcknowledgement, key, j.ID)
}

// TicketGenerate renders the badge and mails it.
func (t *Tasks) TicketGenerate(ctx context.Context, j job.Job) error {
	p, err := decode[jobs.TicketPayload](j)
	if err != nil {
		return err
	}

	r, err := t.load(ctx, p.Role, p.RegistrantID)
	if err != nil {
		return err
	}
	if r.TicketCode == "" {
		return worker.Permanent(badge.ErrNoTicketCode)
	}

	return t.sendRegistrantMail(ctx, r, email.KindAcknowledgement, "", "", delivery.KindAcknowledgement, r.ID+":ticket:"+j.ID, j.ID)
}

func (t *Tasks) StatusNotify(ctx context.Context, j job.Job) error {
	p, err := decode[jobs.StatusNotifyPayload](j)
	if err != nil {
		return err
	}

	r, err := t.load(ctx, p.Role, p.RegistrantID)
	if err != nil {
		return err
	}

	return t.sendRegistrantMail(ctx, r, email.KindStatus, p.Status, "", delivery.KindStatus, r.ID+":"+p.Status+":"+j.ID, j.ID)
}

func (t *Tasks) sendRegistrantMail(
	ctx context.Context,
	r registrant.Registrant,
	kind email.Kind,
	status, frontendBase, deliveryKind, key, jobID string,
) error {
	var details email.Details
	if t.Details != nil {
		details = t.Details.Resolve(ctx, string(r.Role), email.Details{})
	}
	base := email.ResolveBase(frontendBase, t.PublicBase, "")

	m := email.ModelFor(kind, r, base, details)
	if status != "" {
		m.Status = status
	}

	var pdf []byte
	if r.TicketCode != "" {
		b := badge.FromRegistrant(r, details.EventName, details.Date, details.Venue, details.PrimaryColor)
		out, err := badge.Render(b)
		if err != nil {
			return fmt.Errorf("render badge: %w", err)
		}
		pdf = out
		m.BadgePDF = pdf
	}

	msg, err := email.Build(m)
	if err != nil {
		if errors.Is(err, email.ErrNoRecipient) {
			return worker.Permanent(err)
		}
		return err
	}

	if err := t.deliver(ctx, deliveryKind, key, jobID, msg); err != nil {
		return err
	}

	if err := t.Registrants.MarkEmailSent(ctx, r.ID); err != nil {
		t.log().WarnContext(ctx, "mark email sent", "registrant_id", r.ID, "err", err)
	}
	if len(msg.Attachments) > 0 {
		if err := t.Registrants.MarkTicketGenerated(ctx, r.ID); err != nil {
			t.log().WarnContext(ctx, "mark ticket generated", "registrant_id", r.ID, "err", err)
		}
	}
	return nil
}

// deliver sends msg at most once per (kind, key). A row already marked sent is a no-op.
func (t *Tasks) deliver(ctx context.Context, kind, key, jobID string, msg notifications.Message) error {
	recipient := strings.Join(msg.To, ",")

	if err := t.Deliveries.TryStart(ctx, kind, key, jobID, recipient); err != nil {
		if errors.Is(err, delivery.ErrAlreadySent) {
			t.log().InfoContext(ctx, "mail already sent", "kind", kind, "key", key)
			observability.Inc(t.promEmails(), kind, "duplicate")
			return nil
		}
		return err
	}

	id, err := t.Mailer.Send(ctx, msg)
	if err != nil {
		observability.Inc(t.promEmails(), kind, "error")
		if mErr := t.Deliveries.MarkFailed(ctx, kind, key, err.Error()); mErr != nil {
			t.log().ErrorContext(ctx, "mark delivery failed", "kind", kind, "key", key, "err", mErr)
		}
		return fmt.Errorf("send %s: %w", kind, err)
	}

	var pid *string
	if id != "" {
		pid = &id
	}
	if err := t.Deliveries.MarkSent(ctx, kind, key, pid); err != nil {
		// the mail is out; a retry would send it again
		t.log().ErrorContext(ctx, "mark delivery sent", "kind", kind, "key", key, "err", err)
	}

	observability.Inc(t.promEmails(), kind, "sent")
	t.log().InfoContext(ctx, "mail sent", "kind", kind, "to", recipient, "message_id", id)
	return nil
}

func (t *Tasks) promEmails() *prometheus.CounterVec {
	if t.Prom == nil {
		return nil
	}
	return t.Prom.EmailsSent
}
