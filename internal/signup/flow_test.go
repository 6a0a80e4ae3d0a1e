package signup

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/railtrans/expo/internal/domain/registrant"
	"github.com/railtrans/expo/internal/expoclient"
)

type fakeAPI struct {
	mu       sync.Mutex
	checks   []string
	existing map[string]map[string]any

	sendErr   error
	sendGate  chan struct{}
	sends     atomic.Int32
	verifyErr error
	verifyRes expoclient.VerifyOTPResult
}

func (a *fakeAPI) CheckEmail(_ context.Context, _ registrant.Role, email string) (expoclient.CheckEmailResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.checks = append(a.checks, email)
	if ex, ok := a.existing[email]; ok {
		return expoclient.CheckEmailResult{Exists: true, Existing: ex}, nil
	}
	return expoclient.CheckEmailResult{}, nil
}

func (a *fakeAPI) SendOTP(_ context.Context, _ expoclient.SendOTPRequest) (expoclient.SendOTPResult, error) {
	a.sends.Add(1)
	if a.sendGate != nil {
		<-a.sendGate
	}
	return expoclient.SendOTPResult{Success: a.sendErr == nil}, a.sendErr
}

func (a *fakeAPI) VerifyOTP(_ context.Context, req expoclient.VerifyOTPRequest) (expoclient.VerifyOTPResult, error) {
	return a.verifyRes, a.verifyErr
}

func waitFor(t *testing.T, f *Flow, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if f.Snapshot().State == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("state = %s, want %s", f.Snapshot().State, want)
}

func TestEmailChanged_DebouncesChecks(t *testing.T) {
	api := &fakeAPI{}
	f := New(api, registrant.RoleVisitor, nil, nil)
	f.SetDebounce(20 * time.Millisecond)

	f.EmailChanged("a")
	f.EmailChanged("as")
	f.EmailChanged("Asha@Example.com")

	waitFor(t, f, StateSendable)

	api.mu.Lock()
	defer api.mu.Unlock()
	if len(api.checks) != 1 || api.checks[0] != "asha@example.com" {
		t.Fatalf("expected one check for the last email, got %v", api.checks)
	}
}

func TestEmailChanged_ExistingShortCircuits(t *testing.T) {
	api := &fakeAPI{existing: map[string]map[string]any{
		"asha@example.com": {"ticket_code": "RTV-1"},
	}}
	f := New(api, registrant.RoleVisitor, nil, nil)
	f.SetDebounce(time.Millisecond)

	f.EmailChanged("asha@example.com")
	waitFor(t, f, StateExisting)

	if err := f.Send(context.Background(), ""); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
	if api.sends.Load() != 0 {
		t.Fatalf("send must not reach the server for an existing registration")
	}
}

func TestSend_DifferentEmailLeavesExistingState(t *testing.T) {
	api := &fakeAPI{existing: map[string]map[string]any{
		"taken@example.com": {"ticket_code": "RTV-1"},
	}}
	f := New(api, registrant.RoleVisitor, nil, nil)
	f.SetDebounce(time.Millisecond)

	f.EmailChanged("taken@example.com")
	waitFor(t, f, StateExisting)

	if err := f.Send(context.Background(), "Fresh@Example.com"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if api.sends.Load() != 1 {
		t.Fatalf("expected one send, got %d", api.sends.Load())
	}
	snap := f.Snapshot()
	if snap.State != StateSent || snap.Email != "fresh@example.com" || snap.Existing != nil {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}

func TestSend_DifferentEmailCancelsPendingCheck(t *testing.T) {
	api := &fakeAPI{existing: map[string]map[string]any{
		"taken@example.com": {"ticket_code": "RTV-1"},
	}}
	f := New(api, registrant.RoleVisitor, nil, nil)
	f.SetDebounce(30 * time.Millisecond)

	f.EmailChanged("taken@example.com")
	if err := f.Send(context.Background(), "fresh@example.com"); err != nil {
		t.Fatalf("Send: %v", err)
	}

	time.Sleep(100 * time.Millisecond)

	if got := f.Snapshot().State; got != StateSent {
		t.Fatalf("a stale check must not overwrite the new email's state, got %s", got)
	}
	api.mu.Lock()
	defer api.mu.Unlock()
	if len(api.checks) != 0 {
		t.Fatalf("pending check for the old email must not run, got %v", api.checks)
	}
}

func TestSend_ConflictActsAsExisting(t *testing.T) {
	api := &fakeAPI{sendErr: &expoclient.APIError{
		Status:   http.StatusConflict,
		Message:  "Email already registered",
		Existing: map[string]any{"id": "r1"},
	}}
	f := New(api, registrant.RoleVisitor, nil, nil)

	err := f.Send(context.Background(), "asha@example.com")
	if !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
	snap := f.Snapshot()
	if snap.State != StateExisting || snap.Existing["id"] != "r1" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}

func TestSend_ServerErrorMessage(t *testing.T) {
	api := &fakeAPI{sendErr: &expoclient.APIError{Status: http.StatusTooManyRequests, Message: "Please wait before requesting another code"}}
	f := New(api, registrant.RoleVisitor, nil, nil)

	if err := f.Send(context.Background(), "asha@example.com"); err == nil {
		t.Fatalf("expected error")
	}
	snap := f.Snapshot()
	if snap.State != StateError || snap.Message != "Please wait before requesting another code" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}

func TestSend_InFlightGuard(t *testing.T) {
	gate := make(chan struct{})
	api := &fakeAPI{sendGate: gate}
	f := New(api, registrant.RoleVisitor, nil, nil)

	done := make(chan error, 1)
	go func() { done <- f.Send(context.Background(), "asha@example.com") }()

	for api.sends.Load() == 0 {
		time.Sleep(time.Millisecond)
	}

	if err := f.Send(context.Background(), "asha@example.com"); !errors.Is(err, ErrInFlight) {
		t.Fatalf("expected ErrInFlight, got %v", err)
	}

	close(gate)
	if err := <-done; err != nil {
		t.Fatalf("first send: %v", err)
	}
	if api.sends.Load() != 1 {
		t.Fatalf("expected exactly one send, got %d", api.sends.Load())
	}
}

func TestVerify_PersistsAndNotifies(t *testing.T) {
	api := &fakeAPI{verifyRes: expoclient.VerifyOTPResult{Success: true, Email: " Asha@Example.com "}}
	store := NewMemoryStore()
	f := New(api, registrant.RoleVisitor, store, nil)

	var hooked string
	f.OnVerified = func(_ context.Context, email string) { hooked = email }

	if err := f.Send(context.Background(), "asha@example.com"); err != nil {
		t.Fatalf("Send: %v", err)
	}

	email, err := f.Verify(context.Background(), " 123456 ")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if email != "asha@example.com" || hooked != email {
		t.Fatalf("email=%q hooked=%q", email, hooked)
	}

	for _, scope := range []Scope{ScopeSession, ScopeDurable} {
		if v, ok := store.LoadVerified(scope); !ok || v != email {
			t.Fatalf("scope %s not persisted: %q", scope, v)
		}
	}
	if !f.IsVerified("ASHA@example.com") {
		t.Fatalf("expected verified")
	}

	// changing the address drops verification; changing back restores it from the session scope
	f.EmailChanged("other@example.com")
	if f.IsVerified("other@example.com") {
		t.Fatalf("new email must not be verified")
	}
	f.EmailChanged("asha@example.com")
	if f.Snapshot().State != StateVerified {
		t.Fatalf("expected verified state from stored email")
	}
}

func TestVerify_WrongCode(t *testing.T) {
	api := &fakeAPI{verifyErr: &expoclient.APIError{Status: http.StatusBadRequest, Message: "Invalid code, 4 attempts left"}}
	f := New(api, registrant.RoleVisitor, nil, nil)
	f.EmailChanged("asha@example.com")

	if _, err := f.Verify(context.Background(), "000000"); err == nil {
		t.Fatalf("expected error")
	}
	snap := f.Snapshot()
	if snap.Verified || snap.State != StateError || snap.Message != "Invalid code, 4 attempts left" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}
