package notifications

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"
)

var ErrCircuitOpen = errors.New("circuit breaker open")

type CircuitState string

const (
	StateClosed   CircuitState = "closed"
	StateOpen     CircuitState = "open"
	StateHalfOpen CircuitState = "half_open"
)

type ProtectedNotifierConfig struct {
	Name             string
	Timeout          time.Duration // per send
	FailureThreshold int           // consecutive failures that open the circuit
	Cooldown         time.Duration // open time before a trial send
	HalfOpenMaxCalls int           // trial sends allowed while half-open
	Log              *slog.Logger
}

// ProtectedNotifier bounds each send with a timeout and fails fast while the
// mail server is down, so OTP requests and workers do not stall on it.
type ProtectedNotifier struct {
	inner   Notifier
	timeout time.Duration
	cb      *gobreaker.CircuitBreaker[string]
}

func NewProtectedNotifier(inner Notifier, cfg ProtectedNotifierConfig) *ProtectedNotifier {
	if cfg.Name == "" {
		cfg.Name = "mail"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 15 * time.Second
	}
	if cfg.HalfOpenMaxCalls <= 0 {
		cfg.HalfOpenMaxCalls = 1
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}

	threshold := uint32(cfg.FailureThreshold)
	cb := gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: uint32(cfg.HalfOpenMaxCalls),
		Timeout:     cfg.Cooldown,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= threshold
		},
		// the caller giving up says nothing about the mail server
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("notifier.circuit", "name", name, "from", from.String(), "to", to.String())
		},
	})

	return &ProtectedNotifier{inner: inner, timeout: cfg.Timeout, cb: cb}
}

func (n *ProtectedNotifier) Send(ctx context.Context, msg Message) (string, error) {
	id, err := n.cb.Execute(func() (string, error) {
		sendCtx, cancel := context.WithTimeout(ctx, n.timeout)
		defer cancel()
		return n.inner.Send(sendCtx, msg)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return "", fmt.Errorf("%w: %s", ErrCircuitOpen, n.cb.Name())
	}
	return id, err
}

func (n *ProtectedNotifier) State() CircuitState {
	switch n.cb.State() {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	}
	return StateClosed
}
