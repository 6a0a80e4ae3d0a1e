package registrant

import (
	"strings"
	"testing"
)

func TestParseRole(t *testing.T) {
	tests := []struct {
		in   string
		want Role
		ok   bool
	}{
		{"visitor", RoleVisitor, true},
		{"Visitors", RoleVisitor, true},
		{" exhibitors ", RoleExhibitor, true},
		{"AWARDEE", RoleAwardee, true},
		{"speakers", RoleSpeaker, true},
		{"guest", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		got, ok := ParseRole(tt.in)
		if ok != tt.ok || got != tt.want {
			t.Fatalf("ParseRole(%q) = (%q,%v), want (%q,%v)", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestNewFromCreateRequest_StatusByRole(t *testing.T) {
	v := NewFromCreateRequest(CreateRequest{Role: RoleVisitor, Name: "A", Email: " A@X.COM "})
	if v.Status != StatusApproved {
		t.Fatalf("visitor status = %s, want approved", v.Status)
	}
	if v.Email != "a@x.com" {
		t.Fatalf("email not normalized: %q", v.Email)
	}
	if v.AdminCreatedAt != nil {
		t.Fatalf("admin_created_at should be nil for public registrations")
	}

	e := NewFromCreateRequest(CreateRequest{Role: RoleExhibitor, Name: "B", Email: "b@x.com", AddedByAdmin: true})
	if e.Status != StatusPending {
		t.Fatalf("exhibitor status = %s, want pending", e.Status)
	}
	if e.AdminCreatedAt == nil || !e.AddedByAdmin {
		t.Fatalf("admin audit flags not set")
	}
}

func TestNewTicketCode(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		c := NewTicketCode(RoleSpeaker)
		if !strings.HasPrefix(c, "RTS-") || len(c) != len("RTS-")+8 {
			t.Fatalf("unexpected ticket code %q", c)
		}
		if strings.ContainsAny(c[4:], "01IO") {
			t.Fatalf("ticket code uses ambiguous characters: %q", c)
		}
		if seen[c] {
			t.Fatalf("duplicate ticket code %q", c)
		}
		seen[c] = true
	}
}

func TestTransition(t *testing.T) {
	v := Registrant{Role: RoleVisitor, Status: StatusApproved}
	if _, err := v.Transition(StatusCancelled); err != ErrNoApproval {
		t.Fatalf("visitor transition err = %v, want ErrNoApproval", err)
	}

	p := Registrant{Role: RolePartner, Status: StatusPending}
	got, err := p.Transition(StatusApproved)
	if err != nil || got != StatusApproved {
		t.Fatalf("partner approve = (%s,%v)", got, err)
	}
	if _, err := p.Transition(StatusPending); err != ErrInvalidTransition {
		t.Fatalf("transition to pending err = %v", err)
	}
}

func TestFromPayload(t *testing.T) {
	payload := map[string]any{
		"fullName":          "Asha Rao",
		"email":             "Asha@Example.com",
		"phone":             "+919876543210",
		"phone_country":     "91",
		"phone_national":    "9876543210",
		"organization":      "Metro Rail",
		"ticket_category":   "Premium",
		"ticket_total":      "2950",
		"designation":       "Engineer",
		"otpVerified":       true,
		"termsAccepted":     true,
		"payment_proof_url": "",
	}

	req := FromPayload(RoleVisitor, payload)

	if req.Name != "Asha Rao" || req.Email != "Asha@Example.com" || req.Mobile != "+919876543210" || req.Company != "Metro Rail" {
		t.Fatalf("fixed columns not extracted: %+v", req)
	}
	if req.TicketTotal != 2950 {
		t.Fatalf("ticket_total = %v", req.TicketTotal)
	}
	if req.PaymentProofURL != nil {
		t.Fatalf("empty payment_proof_url should stay nil")
	}
	if _, ok := req.Data["otpVerified"]; ok {
		t.Fatalf("otpVerified must not be persisted")
	}
	if req.Data["designation"] != "Engineer" || req.Data["phone_national"] != "9876543210" {
		t.Fatalf("role-specific fields missing from data: %#v", req.Data)
	}
	if _, ok := req.Data["fullName"]; ok {
		t.Fatalf("extracted keys must not be duplicated into data")
	}
}

func TestApply_KeepsTicketCode(t *testing.T) {
	r := NewFromCreateRequest(CreateRequest{Role: RoleVisitor, Name: "A", Email: "a@x.com"})
	code := r.TicketCode

	name := "  New Name "
	r.Apply(UpdateRequest{Name: &name, Data: map[string]any{"city": "Delhi"}})

	if r.Name != "New Name" || r.Data["city"] != "Delhi" {
		t.Fatalf("update not applied: %+v", r)
	}
	if r.TicketCode != code {
		t.Fatalf("ticket code changed on update")
	}
}
