package tasks

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/railtrans/expo/internal/domain/delivery"
	"github.com/railtrans/expo/internal/domain/job"
	"github.com/railtrans/expo/internal/domain/registrant"
	"github.com/railtrans/expo/internal/email"
	"github.com/railtrans/expo/internal/jobs"
	"github.com/railtrans/expo/internal/notifications"
	"github.com/railtrans/expo/internal/queue/worker"
)

type fakeRegistrants struct {
	mu        sync.Mutex
	rows      map[string]registrant.Registrant
	emailed   []string
	generated []string
}

func (f *fakeRegistrants) GetByID(_ context.Context, role registrant.Role, id string) (registrant.Registrant, error) {
	r, ok := f.rows[id]
	if !ok || r.Role != role {
		return registrant.Registrant{}, registrant.ErrNotFound
	}
	return r, nil
}

func (f *fakeRegistrants) MarkEmailSent(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.emailed = append(f.emailed, id)
	return nil
}

func (f *fakeRegistrants) MarkTicketGenerated(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.generated = append(f.generated, id)
	return nil
}

type fakeDeliveries struct {
	mu     sync.Mutex
	status map[string]string
}

func newFakeDeliveries() *fakeDeliveries {
	return &fakeDeliveries{status: map[string]string{}}
}

func (f *fakeDeliveries) TryStart(_ context.Context, kind, key, _, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch f.status[kind+"|"+key] {
	case "sent":
		return delivery.ErrAlreadySent
	case "sending":
		return delivery.ErrInProgress
	}
	f.status[kind+"|"+key] = "sending"
	return nil
}

func (f *fakeDeliveries) MarkSent(_ context.Context, kind, key string, _ *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status[kind+"|"+key] = "sent"
	return nil
}

func (f *fakeDeliveries) MarkFailed(_ context.Context, kind, key, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status[kind+"|"+key] = "failed"
	return nil
}

type failingMailer struct{ err error }

func (m failingMailer) Send(context.Context, notifications.Message) (string, error) {
	return "", m.err
}

func visitor() registrant.Registrant {
	r := registrant.NewFromCreateRequest(registrant.CreateRequest{
		Role:           registrant.RoleVisitor,
		Name:           "Asha Rao",
		Email:          "asha@example.com",
		Company:        "Metro Rail",
		TicketCategory: "Premium",
	})
	r.ID = "r1"
	return r
}

func newTasks(rows ...registrant.Registrant) (*Tasks, *fakeRegistrants, *fakeDeliveries, *notifications.LogNotifier) {
	regs := &fakeRegistrants{rows: map[string]registrant.Registrant{}}
	for _, r := range rows {
		regs.rows[r.ID] = r
	}
	dels := newFakeDeliveries()
	mailer := notifications.NewLogNotifier(nil)

	return &Tasks{
		Registrants: regs,
		Deliveries:  dels,
		Mailer:      mailer,
		Details:     email.NewResolver(nil, email.Static{EventName: "RailTrans Expo 2026", Venue: "Bharat Mandapam"}),
		PublicBase:  "https://expo.example.com",
	}, regs, dels, mailer
}

func ackJob(t *testing.T, id string, p jobs.AcknowledgePayload) job.Job {
	t.Helper()
	raw, err := jobs.EncodePayload(jobs.TypeRegistrantAcknowledge, p)
	if err != nil {
		t.Fatalf("EncodePayload: %v", err)
	}
	return job.Job{ID: id, Type: string(jobs.TypeRegistrantAcknowledge), Payload: raw}
}

func TestAcknowledge_SendsOnceWithBadge(t *testing.T) {
	tk, regs, _, mailer := newTasks(visitor())
	j := ackJob(t, "j1", jobs.AcknowledgePayload{RegistrantID: "r1", Role: "visitor", Reason: jobs.ReasonCreated})

	if err := tk.Acknowledge(context.Background(), j); err != nil {
		t.Fatalf("Acknowledge: %v", err)
	}

	sent := mailer.Sent()
	if len(sent) != 1 {
		t.Fatalf("expected one mail, got %d", len(sent))
	}
	msg := sent[0]
	if msg.To[0] != "asha@example.com" || !strings.Contains(msg.Subject, "RailTrans Expo 2026") {
		t.Fatalf("unexpected message %+v", msg)
	}
	if len(msg.Attachments) != 1 || msg.Attachments[0].ContentType != "application/pdf" {
		t.Fatalf("expected one pdf attachment, got %+v", msg.Attachments)
	}
	if !strings.Contains(msg.HTML, "https://expo.example.com/api/visitors/r1/badge.pdf") {
		t.Fatalf("download link not absolute")
	}
	if len(regs.emailed) != 1 || len(regs.generated) != 1 {
		t.Fatalf("marks not recorded: %+v", regs)
	}

	// retried job or a second enqueue of the same reason does not mail again
	j2 := ackJob(t, "j2", jobs.AcknowledgePayload{RegistrantID: "r1", Role: "visitor", Reason: jobs.ReasonCreated})
	if err := tk.Acknowledge(context.Background(), j2); err != nil {
		t.Fatalf("second Acknowledge: %v", err)
	}
	if len(mailer.Sent()) != 1 {
		t.Fatalf("created ack must be sent once")
	}
}

func TestAcknowledge_ResendAlwaysMails(t *testing.T) {
	tk, _, _, mailer := newTasks(visitor())

	for _, id := range []string{"j1", "j2"} {
		j := ackJob(t, id, jobs.AcknowledgePayload{RegistrantID: "r1", Role: "visitor", Reason: jobs.ReasonResend})
		if err := tk.Acknowledge(context.Background(), j); err != nil {
			t.Fatalf("Acknowledge: %v", err)
		}
	}
	if len(mailer.Sent()) != 2 {
		t.Fatalf("expected two resends, got %d", len(mailer.Sent()))
	}
}

func TestAcknowledge_MissingRegistrantIsPermanent(t *testing.T) {
	tk, _, _, _ := newTasks()
	j := ackJob(t, "j1", jobs.AcknowledgePayload{RegistrantID: "gone", Role: "visitor", Reason: jobs.ReasonCreated})

	err := tk.Acknowledge(context.Background(), j)
	if !worker.IsPermanent(err) || !errors.Is(err, registrant.ErrNotFound) {
		t.Fatalf("expected permanent not found, got %v", err)
	}
}

func TestAcknowledge_MailerFailureRetries(t *testing.T) {
	tk, regs, dels, _ := newTasks(visitor())
	tk.Mailer = failingMailer{err: errors.New("421 try later")}

	j := ackJob(t, "j1", jobs.AcknowledgePayload{RegistrantID: "r1", Role: "visitor", Reason: jobs.ReasonCreated})
	err := tk.Acknowledge(context.Background(), j)
	if err == nil || worker.IsPermanent(err) {
		t.Fatalf("expected retryable error, got %v", err)
	}
	if dels.status[string(delivery.KindAcknowledgement)+"|r1:created"] != "failed" {
		t.Fatalf("delivery not marked failed: %v", dels.status)
	}
	if len(regs.emailed) != 0 {
		t.Fatalf("email must not be marked sent")
	}
}

func TestStatusNotify_CancelledHasNoBadge(t *testing.T) {
	r := visitor()
	r.Role = registrant.RoleExhibitor
	tk, _, _, mailer := newTasks(r)

	raw, _ := jobs.EncodePayload(jobs.TypeStatusNotify, jobs.StatusNotifyPayload{RegistrantID: "r1", Role: "exhibitor", Status: "cancelled"})
	if err := tk.StatusNotify(context.Background(), job.Job{ID: "j1", Type: string(jobs.TypeStatusNotify), Payload: raw}); err != nil {
		t.Fatalf("StatusNotify: %v", err)
	}

	msg := mailer.Sent()[0]
	if !strings.Contains(msg.Subject, "cancelled") || len(msg.Attachments) != 0 {
		t.Fatalf("unexpected status mail %+v", msg)
	}
}

func TestMailSend_OnlyPDFAttachments(t *testing.T) {
	tk, _, _, mailer := newTasks()

	raw, _ := jobs.EncodePayload(jobs.TypeMailSend, jobs.MailPayload{
		To:      []string{"ops@example.com"},
		Subject: "Daily report",
		Text:    "see attached",
		Attachments: []jobs.Attachment{
			{Filename: "r.pdf", ContentType: "application/pdf", ContentBase64: base64.StdEncoding.EncodeToString([]byte("%PDF-1.4"))},
			{Filename: "logo.png", ContentType: "image/png", ContentBase64: base64.StdEncoding.EncodeToString([]byte("png"))},
		},
	})

	if err := tk.MailSend(context.Background(), job.Job{ID: "j1", Type: string(jobs.TypeMailSend), Payload: raw}); err != nil {
		t.Fatalf("MailSend: %v", err)
	}

	msg := mailer.Sent()[0]
	if len(msg.Attachments) != 1 || msg.Attachments[0].Filename != "r.pdf" || string(msg.Attachments[0].Content) != "%PDF-1.4" {
		t.Fatalf("unexpected attachments %+v", msg.Attachments)
	}
}

func TestDecode_BadPayloadIsPermanent(t *testing.T) {
	tk, _, _, _ := newTasks()
	err := tk.TicketGenerate(context.Background(), job.Job{ID: "j1", Type: string(jobs.TypeTicketGenerate), Payload: []byte(`{}`)})
	if !worker.IsPermanent(err) {
		t.Fatalf("expected permanent error, got %v", err)
	}
}
