package forms

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"sync"

	"github.com/railtrans/expo/internal/domain/regconfig"
)

var (
	ErrTermsNotAccepted = errors.New("please accept the terms and conditions")
	ErrEmailNotVerified = errors.New("please verify your email before submitting")
	ErrInvalidPhone     = errors.New("phone number must have 10 digits")
	ErrSubmitInFlight   = errors.New("submission already in progress")
)

type InvalidPhoneError struct {
	Field string
}

func (e *InvalidPhoneError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, ErrInvalidPhone)
}

func (e *InvalidPhoneError) Is(target error) bool {
	return target == ErrInvalidPhone
}

// EmailVerifier is the OTP side of the form.
type EmailVerifier interface {
	IsVerified(email string) bool
	Send(ctx context.Context, email string) error
}

type SubmitFunc func(ctx context.Context, values map[string]any) error

// State is what the page shows after the last submit attempt.
type State struct {
	Submitting    bool
	PendingSubmit bool
	Succeeded     bool
	Err           error
}

type Form struct {
	Config        regconfig.Config
	TermsRequired bool
	DefaultDial   string
	Verifier      EmailVerifier
	OnSubmit      SubmitFunc

	mu     sync.Mutex
	values map[string]any
	state  State
}

func New(cfg regconfig.Config, verifier EmailVerifier, onSubmit SubmitFunc) *Form {
	return &Form{
		Config:        cfg,
		TermsRequired: cfg.TermsURL != "",
		DefaultDial:   DefaultDialCode,
		Verifier:      verifier,
		OnSubmit:      onSubmit,
		values:        map[string]any{},
	}
}

// Set stores a value. Phone fields are normalized on the way in.
func (f *Form) Set(name string, v any) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, fld := range f.Config.Fields {
		if fld.Name == name && IsPhoneField(fld) {
			ApplyPhone(f.values, name, Scalar(v), f.DefaultDial)
			return
		}
	}
	f.values[name] = v
}

func (f *Form) Values() map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return maps.Clone(f.values)
}

func (f *Form) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// VisibleFields returns the fields shown for the current values, in config order.
func (f *Form) VisibleFields() []regconfig.Field {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]regconfig.Field, 0, len(f.Config.Fields))
	for _, fld := range f.Config.Fields {
		if Visible(fld, f.values) {
			out = append(out, fld)
		}
	}
	return out
}

// Submit runs the gate sequence and hands the values to OnSubmit.
// An unverified OTP email starts a send and leaves a pending submit that
// EmailVerified resumes.
func (f *Form) Submit(ctx context.Context) error {
	f.mu.Lock()
	if f.state.Submitting {
		f.mu.Unlock()
		return ErrSubmitInFlight
	}

	values := maps.Clone(f.values)
	f.state.Err = nil
	f.state.Succeeded = false

	if err := f.check(values); err != nil {
		f.state.Err = err
		if !errors.Is(err, ErrEmailNotVerified) {
			f.state.PendingSubmit = false
			f.mu.Unlock()
			return err
		}

		f.state.PendingSubmit = true
		email := f.otpEmail(values)
		f.mu.Unlock()

		if f.Verifier != nil && email != "" {
			if sendErr := f.Verifier.Send(ctx, email); sendErr != nil {
				return errors.Join(err, sendErr)
			}
		}
		return err
	}

	f.state.Submitting = true
	f.state.PendingSubmit = false
	f.mu.Unlock()

	var err error
	if f.OnSubmit != nil {
		err = f.OnSubmit(ctx, values)
	}

	f.mu.Lock()
	f.state.Submitting = false
	f.state.Err = err
	f.state.Succeeded = err == nil
	f.mu.Unlock()

	return err
}

// EmailVerified writes the canonical email back and resumes a pending submit.
// It reports whether a submit was resumed.
func (f *Form) EmailVerified(ctx context.Context, email string) (bool, error) {
	f.mu.Lock()
	for _, fld := range f.Config.Fields {
		if IsOTPEmailField(fld) {
			f.values[fld.Name] = email
		}
	}
	f.values["otpVerified"] = true
	pending := f.state.PendingSubmit
	f.mu.Unlock()

	if !pending {
		return false, nil
	}
	return true, f.Submit(ctx)
}

func (f *Form) check(values map[string]any) error {
	if f.TermsRequired && values["termsAccepted"] != true {
		return ErrTermsNotAccepted
	}

	for _, fld := range f.Config.Fields {
		if !IsOTPEmailField(fld) || !Visible(fld, values) {
			continue
		}
		email := canonicalEmail(values[fld.Name])
		if email == "" || f.Verifier == nil || !f.Verifier.IsVerified(email) {
			return ErrEmailNotVerified
		}
	}

	for _, fld := range f.Config.Fields {
		if !IsPhoneField(fld) || !Visible(fld, values) {
			continue
		}
		if len(nationalOf(values, fld.Name, f.DefaultDial)) != nationalLen {
			return &InvalidPhoneError{Field: fld.Name}
		}
	}

	return nil
}

func (f *Form) otpEmail(values map[string]any) string {
	for _, fld := range f.Config.Fields {
		if IsOTPEmailField(fld) && Visible(fld, values) {
			return canonicalEmail(values[fld.Name])
		}
	}
	return ""
}

func canonicalEmail(v any) string {
	s, _ := v.(string)
	return strings.ToLower(strings.TrimSpace(s))
}
