// Package signup drives email OTP verification for a registration form.
package signup

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/railtrans/expo/internal/domain/registrant"
	"github.com/railtrans/expo/internal/expoclient"
)

type State string

const (
	StateIdle     State = "idle"
	StateChecking State = "checking-existing"
	StateSendable State = "sendable"
	StateExisting State = "existing-found"
	StateSent     State = "sent"
	StateVerified State = "verified"
	StateError    State = "error"
)

const DefaultDebounce = 350 * time.Millisecond

var (
	ErrInFlight        = errors.New("request already in flight")
	ErrAlreadyExists   = errors.New("email already registered")
	ErrNoEmail         = errors.New("email is required")
	ErrNotVerifiedCode = errors.New("code not verified")
)

type API interface {
	CheckEmail(ctx context.Context, role registrant.Role, email string) (expoclient.CheckEmailResult, error)
	SendOTP(ctx context.Context, req expoclient.SendOTPRequest) (expoclient.SendOTPResult, error)
	VerifyOTP(ctx context.Context, req expoclient.VerifyOTPRequest) (expoclient.VerifyOTPResult, error)
}

type Snapshot struct {
	State    State
	Email    string
	Existing map[string]any
	Message  string
	Verified bool
}

type Flow struct {
	api      API
	role     registrant.Role
	store    VerifiedStore
	log      *slog.Logger
	debounce time.Duration

	// OnVerified runs after a successful verify with the canonical email.
	OnVerified func(ctx context.Context, email string)
	// OnChange runs after every state change.
	OnChange func(Snapshot)

	sending   atomic.Bool
	verifying atomic.Bool

	mu       sync.Mutex
	timer    *time.Timer
	gen      uint64
	state    State
	email    string
	existing map[string]any
	message  string
	verified bool
}

func New(api API, role registrant.Role, store VerifiedStore, log *slog.Logger) *Flow {
	if store == nil {
		store = NewMemoryStore()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Flow{
		api:      api,
		role:     role,
		store:    store,
		log:      log,
		debounce: DefaultDebounce,
		state:    StateIdle,
	}
}

func (f *Flow) SetDebounce(d time.Duration) {
	f.mu.Lock()
	f.debounce = d
	f.mu.Unlock()
}

func Canonical(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (f *Flow) Snapshot() Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshotLocked()
}

func (f *Flow) snapshotLocked() Snapshot {
	return Snapshot{
		State:    f.state,
		Email:    f.email,
		Existing: f.existing,
		Message:  f.message,
		Verified: f.verified,
	}
}

// setLocked must be called with mu held; the change hook runs after unlock.
func (f *Flow) setLocked(s State, msg string) Snapshot {
	f.state = s
	f.message = msg
	return f.snapshotLocked()
}

func (f *Flow) notify(s Snapshot) {
	if f.OnChange != nil {
		f.OnChange(s)
	}
}

// EmailChanged resets verification and schedules an existing-registration check.
// Only the last change within the debounce window is checked.
func (f *Flow) EmailChanged(email string) {
	email = Canonical(email)

	f.mu.Lock()
	if f.timer != nil {
		f.timer.Stop()
	}
	f.gen++
	gen := f.gen

	f.email = email
	f.existing = nil
	f.verified = f.storedVerified(email)

	var snap Snapshot
	switch {
	case email == "":
		snap = f.setLocked(StateIdle, "")
	case f.verified:
		snap = f.setLocked(StateVerified, "")
	default:
		snap = f.setLocked(StateIdle, "")
		f.timer = time.AfterFunc(f.debounce, func() {
			f.checkExisting(context.Background(), email, gen)
		})
	}
	f.mu.Unlock()

	f.notify(snap)
}

func (f *Flow) storedVerified(email string) bool {
	if email == "" {
		return false
	}
	if v, ok := f.store.LoadVerified(ScopeSession); ok && v == email {
		return true
	}
	return false
}

func (f *Flow) checkExisting(ctx context.Context, email string, gen uint64) {
	f.mu.Lock()
	if gen != f.gen {
		f.mu.Unlock()
		return
	}
	snap := f.setLocked(StateChecking, "")
	f.mu.Unlock()
	f.notify(snap)

	res, err := f.api.CheckEmail(ctx, f.role, email)

	f.mu.Lock()
	if gen != f.gen {
		f.mu.Unlock()
		return
	}
	switch {
	case err != nil:
		// the send endpoint repeats the check, so a failed probe still allows sending
		f.log.Warn("check existing email failed", "role", f.role, "err", err)
		snap = f.setLocked(StateSendable, "")
	case res.Exists:
		f.existing = res.Existing
		snap = f.setLocked(StateExisting, "")
	default:
		snap = f.setLocked(StateSendable, "")
	}
	f.mu.Unlock()

	f.notify(snap)
}

// Send requests a code for email (or the current email when empty).
func (f *Flow) Send(ctx context.Context, email string) error {
	if !f.sending.CompareAndSwap(false, true) {
		return ErrInFlight
	}
	defer f.sending.Store(false)

	f.mu.Lock()
	if email = Canonical(email); email == "" {
		email = f.email
	} else if email != f.email {
		// a different address supersedes any pending check for the old one;
		// the send endpoint repeats the existing-registration check
		if f.timer != nil {
			f.timer.Stop()
		}
		f.gen++
		f.email = email
		f.verified = false
		f.existing = nil
		f.state = StateSendable
	}
	if email == "" {
		f.mu.Unlock()
		return ErrNoEmail
	}
	if f.state == StateExisting {
		f.mu.Unlock()
		return ErrAlreadyExists
	}
	gen := f.gen
	f.mu.Unlock()

	_, err := f.api.SendOTP(ctx, expoclient.SendOTPRequest{
		Type:             "email",
		Value:            email,
		RequestID:        uuid.NewString(),
		RegistrationType: string(f.role),
	})

	f.mu.Lock()
	if gen != f.gen {
		// the email changed while the request was out
		f.mu.Unlock()
		return err
	}
	var snap Snapshot
	var apiErr *expoclient.APIError
	switch {
	case err == nil:
		snap = f.setLocked(StateSent, "")
	case errors.As(err, &apiErr) && apiErr.Status == http.StatusConflict && apiErr.Existing != nil:
		f.existing = apiErr.Existing
		snap = f.setLocked(StateExisting, "")
		err = ErrAlreadyExists
	default:
		snap = f.setLocked(StateError, messageOf(err))
	}
	f.mu.Unlock()

	f.notify(snap)
	return err
}

// Verify checks code and on success persists the canonical email in both scopes.
func (f *Flow) Verify(ctx context.Context, code string) (string, error) {
	if !f.verifying.CompareAndSwap(false, true) {
		return "", ErrInFlight
	}
	defer f.verifying.Store(false)

	f.mu.Lock()
	email := f.email
	f.mu.Unlock()

	if email == "" {
		return "", ErrNoEmail
	}

	res, err := f.api.VerifyOTP(ctx, expoclient.VerifyOTPRequest{
		Value:            email,
		OTP:              strings.TrimSpace(code),
		RegistrationType: string(f.role),
	})
	if err == nil && !res.Success {
		err = ErrNotVerifiedCode
	}
	if err != nil {
		f.mu.Lock()
		snap := f.setLocked(StateError, messageOf(err))
		f.mu.Unlock()
		f.notify(snap)
		return "", err
	}

	canonical := Canonical(res.Email)
	if canonical == "" {
		canonical = email
	}

	for _, scope := range []Scope{ScopeSession, ScopeDurable} {
		if err := f.store.SaveVerified(scope, canonical); err != nil {
			f.log.Warn("persist verified email failed", "scope", scope, "err", err)
		}
	}

	f.mu.Lock()
	f.email = canonical
	f.verified = true
	snap := f.setLocked(StateVerified, "")
	f.mu.Unlock()

	f.notify(snap)

	if f.OnVerified != nil {
		f.OnVerified(ctx, canonical)
	}
	return canonical, nil
}

// IsVerified reports whether email is the verified address of this flow.
func (f *Flow) IsVerified(email string) bool {
	email = Canonical(email)

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.verified && f.email == email {
		return true
	}
	return f.storedVerified(email)
}

func messageOf(err error) string {
	var apiErr *expoclient.APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return err.Error()
}
