package forms

import (
	"context"
	"errors"
	"testing"

	"github.com/railtrans/expo/internal/domain/regconfig"
)

func boolPtr(b bool) *bool { return &b }

func TestVisible(t *testing.T) {
	tests := []struct {
		name   string
		field  regconfig.Field
		values map[string]any
		want   bool
	}{
		{"no rules", regconfig.Field{Name: "a"}, nil, true},
		{"hidden", regconfig.Field{Name: "a", Visible: boolPtr(false)}, nil, false},
		{"showIf match", regconfig.Field{Name: "a", ShowIf: map[string]any{"kind": "student"}}, map[string]any{"kind": "student"}, true},
		{"showIf mismatch", regconfig.Field{Name: "a", ShowIf: map[string]any{"kind": "student"}}, map[string]any{"kind": "pro"}, false},
		{"showIf missing", regconfig.Field{Name: "a", ShowIf: map[string]any{"kind": "student"}}, map[string]any{}, false},
		{"bool match", regconfig.Field{Name: "a", VisibleIf: map[string]any{"member": true}}, map[string]any{"member": true}, true},
		{"both must hold", regconfig.Field{Name: "a", ShowIf: map[string]any{"x": "1"}, VisibleIf: map[string]any{"y": "2"}}, map[string]any{"x": "1", "y": "3"}, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := Visible(tc.field, tc.values); got != tc.want {
				t.Fatalf("Visible = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestIsPhoneField(t *testing.T) {
	tests := []struct {
		f    regconfig.Field
		want bool
	}{
		{regconfig.Field{Name: "x", Type: "tel"}, true},
		{regconfig.Field{Name: "x", Type: "text", Meta: regconfig.Meta{IsPhone: true}}, true},
		{regconfig.Field{Name: "altMobile", Type: "text"}, true},
		{regconfig.Field{Name: "contact_no", Type: "text"}, true},
		{regconfig.Field{Name: "company", Type: "text"}, false},
	}

	for _, tc := range tests {
		if got := IsPhoneField(tc.f); got != tc.want {
			t.Fatalf("IsPhoneField(%+v) = %v, want %v", tc.f, got, tc.want)
		}
	}
}

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		raw  string
		want Phone
	}{
		{"98765 43210", Phone{"91", "9876543210", "+919876543210"}},
		{"+91 98765-43210", Phone{"91", "9876543210", "+919876543210"}},
		{"+1 415 555 0100", Phone{"1", "4155550100", "+14155550100"}},
		{"919876543210", Phone{"91", "9876543210", "+919876543210"}},
		{"09876543210", Phone{"91", "9876543210", "+919876543210"}},
		{"98765", Phone{"91", "98765", "+9198765"}},
		{"", Phone{"91", "", ""}},
		{"123456789012345", Phone{"91", "1234567890", "+911234567890"}},
	}

	for _, tc := range tests {
		got := NormalizePhone(tc.raw, "")
		if got != tc.want {
			t.Fatalf("NormalizePhone(%q) = %+v, want %+v", tc.raw, got, tc.want)
		}
		if n := len(got.National); n != 0 && n > 10 {
			t.Fatalf("national part too long: %q", got.National)
		}
	}
}

type fakeVerifier struct {
	verified map[string]bool
	sent     []string
	sendErr  error
}

func (v *fakeVerifier) IsVerified(email string) bool { return v.verified[email] }

func (v *fakeVerifier) Send(_ context.Context, email string) error {
	v.sent = append(v.sent, email)
	return v.sendErr
}

func visitorConfig() regconfig.Config {
	return regconfig.Config{
		Role:     "visitor",
		TermsURL: "https://example.com/terms",
		Fields: []regconfig.Field{
			{Name: "name", Type: "text"},
			{Name: "email", Type: "email", Meta: regconfig.Meta{UseOTP: true}},
			{Name: "mobile", Type: "tel"},
		},
	}
}

func TestSubmit_GateOrder(t *testing.T) {
	v := &fakeVerifier{verified: map[string]bool{}}
	calls := 0
	f := New(visitorConfig(), v, func(context.Context, map[string]any) error {
		calls++
		return nil
	})

	f.Set("name", "Asha")
	f.Set("email", " Asha@Example.com ")
	f.Set("mobile", "98765")

	if err := f.Submit(context.Background()); !errors.Is(err, ErrTermsNotAccepted) {
		t.Fatalf("expected terms error, got %v", err)
	}

	f.Set("termsAccepted", true)
	if err := f.Submit(context.Background()); !errors.Is(err, ErrEmailNotVerified) {
		t.Fatalf("expected email error, got %v", err)
	}
	if len(v.sent) != 1 || v.sent[0] != "asha@example.com" {
		t.Fatalf("expected auto-send to canonical email, got %v", v.sent)
	}
	if !f.State().PendingSubmit {
		t.Fatalf("expected pending submit")
	}

	v.verified["asha@example.com"] = true
	resumed, err := f.EmailVerified(context.Background(), "asha@example.com")
	if !resumed {
		t.Fatalf("expected resume")
	}
	var pe *InvalidPhoneError
	if !errors.As(err, &pe) || pe.Field != "mobile" || !errors.Is(err, ErrInvalidPhone) {
		t.Fatalf("expected phone error on mobile, got %v", err)
	}
	if calls != 0 {
		t.Fatalf("submit handler must not run before all gates pass")
	}

	f.Set("mobile", "+91 98765 43210")
	if err := f.Submit(context.Background()); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if calls != 1 || !f.State().Succeeded {
		t.Fatalf("expected one successful submit, calls=%d state=%+v", calls, f.State())
	}

	vals := f.Values()
	if vals["mobile_national"] != "9876543210" || vals["otpVerified"] != true {
		t.Fatalf("unexpected values: %v", vals)
	}
}

func TestSubmit_HiddenPhoneIgnored(t *testing.T) {
	cfg := regconfig.Config{Fields: []regconfig.Field{
		{Name: "alt_phone", Type: "tel", ShowIf: map[string]any{"hasAlt": "yes"}},
	}}

	var got map[string]any
	f := New(cfg, nil, func(_ context.Context, v map[string]any) error {
		got = v
		return nil
	})
	f.Set("alt_phone", "12")

	if err := f.Submit(context.Background()); err != nil {
		t.Fatalf("hidden phone field must not block submit: %v", err)
	}
	if got == nil {
		t.Fatalf("submit handler not called")
	}
}

func TestSubmit_HandlerErrorRecorded(t *testing.T) {
	boom := errors.New("server said no")
	f := New(regconfig.Config{}, nil, func(context.Context, map[string]any) error { return boom })

	if err := f.Submit(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected handler error, got %v", err)
	}
	st := f.State()
	if st.Succeeded || !errors.Is(st.Err, boom) || st.Submitting {
		t.Fatalf("unexpected state %+v", st)
	}
}
