package email

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/railtrans/expo/internal/domain/registrant"
)

func sampleRegistrant() registrant.Registrant {
	return registrant.Registrant{
		ID:             "3b8e4b7e-1111-4c1c-9a1a-000000000001",
		Role:           registrant.RoleVisitor,
		Name:           "Asha Rao",
		Email:          "asha@example.com",
		Company:        "Metro Rail",
		TicketCategory: "Delegate",
		TicketCode:     "RTV-ABCD2345",
		Status:         registrant.StatusApproved,
	}
}

func TestBuild_AcknowledgementAttachesOnlyPDF(t *testing.T) {
	details := Details{EventName: "RailTrans Expo 2026", Venue: "Pragati Maidan", LogoURL: "/uploads/logo.png", BannerURL: "/uploads/banner.png"}
	m := ModelFor(KindAcknowledgement, sampleRegistrant(), "https://expo.example.com/", details)
	m.BadgePDF = []byte("%PDF-1.4 test")

	msg, err := Build(m)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if len(msg.To) != 1 || msg.To[0] != "asha@example.com" {
		t.Fatalf("unexpected recipients %v", msg.To)
	}
	if !strings.Contains(msg.Subject, "RailTrans Expo 2026") {
		t.Fatalf("subject missing event name: %q", msg.Subject)
	}
	if len(msg.Attachments) != 1 || msg.Attachments[0].ContentType != "application/pdf" {
		t.Fatalf("expected a single pdf attachment, got %+v", msg.Attachments)
	}
	if !strings.Contains(msg.HTML, `src="https://expo.example.com/uploads/logo.png"`) {
		t.Fatalf("logo should be absolute and inline: %s", msg.HTML)
	}
	if !strings.Contains(msg.Text, "https://expo.example.com/api/visitors/"+m.ID+"/badge.pdf") {
		t.Fatalf("download link missing from text body: %s", msg.Text)
	}
	if !strings.Contains(msg.Text, "/ticket-upgrade?ticket=RTV-ABCD2345") {
		t.Fatalf("visitor ack should offer upgrade: %s", msg.Text)
	}
}

func TestBuild_EscapesHTML(t *testing.T) {
	r := sampleRegistrant()
	r.Name = "<script>alert(1)</script>"

	msg, err := Build(ModelFor(KindAcknowledgement, r, "", Details{}))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if strings.Contains(msg.HTML, "<script>") {
		t.Fatalf("name was not escaped: %s", msg.HTML)
	}
}

func TestBuild_CancelledStatusHasNoBadge(t *testing.T) {
	r := sampleRegistrant()
	r.Role = registrant.RoleExhibitor
	r.Status = registrant.StatusCancelled

	m := ModelFor(KindStatus, r, "https://expo.example.com", Details{})
	m.BadgePDF = []byte("%PDF")

	msg, err := Build(m)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(msg.Attachments) != 0 {
		t.Fatalf("cancelled registrant must not get a badge")
	}
	if !strings.Contains(msg.Subject, "cancelled") {
		t.Fatalf("unexpected subject %q", msg.Subject)
	}
}

func TestBuild_NoRecipient(t *testing.T) {
	if _, err := Build(Model{}); !errors.Is(err, ErrNoRecipient) {
		t.Fatalf("expected ErrNoRecipient, got %v", err)
	}
}

func TestBuildOTP(t *testing.T) {
	msg, err := BuildOTP(OTPModel{To: "a@x.com", Code: "123456", Role: "visitor", TTL: 10 * time.Minute})
	if err != nil {
		t.Fatalf("BuildOTP: %v", err)
	}
	if !strings.Contains(msg.Text, "123456") || !strings.Contains(msg.Text, "10 minutes") {
		t.Fatalf("unexpected otp body %q", msg.Text)
	}
}

func TestResolveBase(t *testing.T) {
	tests := []struct {
		frontend, public, origin, want string
	}{
		{"https://front.example/", "https://public.example", "http://origin", "https://front.example"},
		{"", "https://public.example", "http://origin", "https://public.example"},
		{"", " ", "http://origin/", "http://origin"},
		{"", "", "", ""},
	}

	for _, tc := range tests {
		if got := ResolveBase(tc.frontend, tc.public, tc.origin); got != tc.want {
			t.Fatalf("ResolveBase(%q,%q,%q) = %q, want %q", tc.frontend, tc.public, tc.origin, got, tc.want)
		}
	}
}

func TestAbsolute(t *testing.T) {
	tests := map[string]string{
		"":                           "",
		"/uploads/a.png":             "https://x.test/uploads/a.png",
		"uploads/a.png":              "https://x.test/uploads/a.png",
		"https://cdn.test/a.png":     "https://cdn.test/a.png",
		"data:image/png;base64,AAAA": "data:image/png;base64,AAAA",
		"//cdn.test/a.png":           "https://cdn.test/a.png",
	}
	for in, want := range tests {
		if got := Absolute("https://x.test/", in); got != want {
			t.Fatalf("Absolute(%q) = %q, want %q", in, got, want)
		}
	}
}

type failingSource struct{}

func (failingSource) Details(context.Context, string) (Details, error) {
	return Details{}, errors.New("unreachable")
}

func TestResolver_FallsBack(t *testing.T) {
	r := NewResolver(nil, failingSource{}, Static{Venue: "Hall 5"})

	got := r.Resolve(context.Background(), "visitor", Details{EventName: "From Form", Venue: "ignored"})

	if got.EventName != "From Form" {
		t.Fatalf("expected fallback event name, got %q", got.EventName)
	}
	if got.Venue != "Hall 5" {
		t.Fatalf("source value should beat fallback, got %q", got.Venue)
	}
}
