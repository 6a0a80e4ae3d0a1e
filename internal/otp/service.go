package otp

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strconv"
	"time"

	"github.com/railtrans/expo/internal/domain/registrant"
	"github.com/railtrans/expo/internal/email"
	"github.com/railtrans/expo/internal/notifications"
)

var (
	ErrExpired         = errors.New("otp expired or not requested")
	ErrTooManyAttempts = errors.New("too many otp attempts")
	ErrThrottled       = errors.New("otp requested too recently")
)

// InvalidCodeError is returned for a wrong code while attempts remain.
type InvalidCodeError struct {
	Remaining int
}

func (e *InvalidCodeError) Error() string {
	return fmt.Sprintf("invalid otp, %d attempts remaining", e.Remaining)
}

type Config struct {
	Secret         string
	TTL            time.Duration
	VerifiedTTL    time.Duration
	MaxAttempts    int
	ResendInterval time.Duration
	RequestIDTTL   time.Duration
}

func (c Config) withDefaults() Config {
	if c.TTL <= 0 {
		c.TTL = 10 * time.Minute
	}
	if c.VerifiedTTL <= 0 {
		c.VerifiedTTL = 30 * time.Minute
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.ResendInterval <= 0 {
		c.ResendInterval = 30 * time.Second
	}
	if c.RequestIDTTL <= 0 {
		c.RequestIDTTL = 60 * time.Second
	}
	return c
}

// ExistingLookup finds a registrant already holding (role, email).
type ExistingLookup interface {
	FindByEmail(ctx context.Context, role registrant.Role, email string) (registrant.Registrant, error)
}

type DetailsResolver interface {
	Resolve(ctx context.Context, role string, fallback email.Details) email.Details
}

type Service struct {
	store    Store
	lookup   ExistingLookup
	notifier notifications.Notifier
	details  DetailsResolver
	cfg      Config
	log      *slog.Logger
}

func NewService(store Store, lookup ExistingLookup, notifier notifications.Notifier, details DetailsResolver, cfg Config, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		store:    store,
		lookup:   lookup,
		notifier: notifier,
		details:  details,
		cfg:      cfg.withDefaults(),
		log:      log,
	}
}

type SendResult struct {
	// Duplicate is set when requestID was already handled; nothing was re-sent.
	Duplicate bool
	Existing  *registrant.Registrant
	ExpiresIn time.Duration
}

type keys struct {
	code, attempts, verified, throttle string
}

func keysFor(role registrant.Role, addr string) keys {
	base := "otp:" + string(role) + ":" + addr
	return keys{
		code:     base + ":code",
		attempts: base + ":attempts",
		verified: base + ":verified",
		throttle: base + ":throttle",
	}
}

func (s *Service) hash(role registrant.Role, addr, code string) string {
	m := hmac.New(sha256.New, []byte(s.cfg.Secret))
	m.Write([]byte(string(role) + "|" + addr + "|" + code))
	return hex.EncodeToString(m.Sum(nil))
}

func newCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// CheckEmail returns the registrant already holding (role, email), or nil.
func (s *Service) CheckEmail(ctx context.Context, role registrant.Role, addr string) (*registrant.Registrant, error) {
	r, err := s.lookup.FindByEmail(ctx, role, registrant.NormalizeEmail(addr))
	if err != nil {
		if errors.Is(err, registrant.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &r, nil
}

// Send issues a fresh code for (role, email) and mails it.
// An already registered email yields registrant.ErrAlreadyRegistered with Existing set.
func (s *Service) Send(ctx context.Context, role registrant.Role, addr, requestID string) (SendResult, error) {
	addr = registrant.NormalizeEmail(addr)
	k := keysFor(role, addr)

	existing, err := s.CheckEmail(ctx, role, addr)
	if err != nil {
		return SendResult{}, err
	}
	if existing != nil {
		return SendResult{Existing: existing}, registrant.ErrAlreadyRegistered
	}

	if requestID != "" {
		first, err := s.store.SetNX(ctx, "otp:req:"+requestID, addr, s.cfg.RequestIDTTL)
		if err != nil {
			return SendResult{}, err
		}
		if !first {
			return SendResult{Duplicate: true, ExpiresIn: s.cfg.TTL}, nil
		}
	}

	allowed, err := s.store.SetNX(ctx, k.throttle, "1", s.cfg.ResendInterval)
	if err != nil {
		return SendResult{}, err
	}
	if !allowed {
		return SendResult{}, ErrThrottled
	}

	code, err := newCode()
	if err != nil {
		return SendResult{}, err
	}

	if err := s.store.Set(ctx, k.code, s.hash(role, addr, code), s.cfg.TTL); err != nil {
		return SendResult{}, err
	}
	if err := s.store.Del(ctx, k.attempts); err != nil {
		return SendResult{}, err
	}

	details := email.Details{}
	if s.details != nil {
		details = s.details.Resolve(ctx, string(role), details)
	}

	msg, err := email.BuildOTP(email.OTPModel{
		To:      addr,
		Code:    code,
		Role:    string(role),
		TTL:     s.cfg.TTL,
		Details: details,
	})
	if err != nil {
		return SendResult{}, err
	}

	if _, err := s.notifier.Send(ctx, msg); err != nil {
		// let the user retry immediately
		_ = s.store.Del(ctx, k.code, k.throttle)
		if requestID != "" {
			_ = s.store.Del(ctx, "otp:req:"+requestID)
		}
		return SendResult{}, fmt.Errorf("send otp mail: %w", err)
	}

	s.log.InfoContext(ctx, "otp.sent", "role", role, "email", addr)

	return SendResult{ExpiresIn: s.cfg.TTL}, nil
}

// Verify checks code. Success consumes the challenge and marks the email verified.
func (s *Service) Verify(ctx context.Context, role registrant.Role, addr, code string) (string, error) {
	addr = registrant.NormalizeEmail(addr)
	k := keysFor(role, addr)

	stored, err := s.store.Get(ctx, k.code)
	if err != nil {
		if errors.Is(err, ErrMissing) {
			return "", ErrExpired
		}
		return "", err
	}

	attempts, err := s.store.Incr(ctx, k.attempts, s.cfg.TTL)
	if err != nil {
		return "", err
	}
	if attempts > int64(s.cfg.MaxAttempts) {
		_ = s.store.Del(ctx, k.code, k.attempts)
		return "", ErrTooManyAttempts
	}

	if !hmac.Equal([]byte(stored), []byte(s.hash(role, addr, code))) {
		remaining := s.cfg.MaxAttempts - int(attempts)
		if remaining <= 0 {
			_ = s.store.Del(ctx, k.code, k.attempts)
			return "", ErrTooManyAttempts
		}
		return "", &InvalidCodeError{Remaining: remaining}
	}

	if err := s.store.Del(ctx, k.code, k.attempts); err != nil {
		return "", err
	}
	if err := s.store.Set(ctx, k.verified, strconv.FormatInt(time.Now().Unix(), 10), s.cfg.VerifiedTTL); err != nil {
		return "", err
	}

	return addr, nil
}

func (s *Service) IsVerified(ctx context.Context, role registrant.Role, addr string) (bool, error) {
	_, err := s.store.Get(ctx, keysFor(role, registrant.NormalizeEmail(addr)).verified)
	if err != nil {
		if errors.Is(err, ErrMissing) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// ClearVerified drops the marker once it has been spent on a registration.
func (s *Service) ClearVerified(ctx context.Context, role registrant.Role, addr string) error {
	return s.store.Del(ctx, keysFor(role, registrant.NormalizeEmail(addr)).verified)
}
