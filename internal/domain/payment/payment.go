package payment

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusCreated   Status = "created"
	StatusPending   Status = "pending"
	StatusPaid      Status = "paid"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

var (
	ErrNotFound      = errors.New("payment order not found")
	ErrInvalidAmount = errors.New("amount must be greater than zero")
	ErrNotPaid       = errors.New("payment order not paid")
	// ErrAlreadyApplied means the order already paid for a ticket change.
	ErrAlreadyApplied = errors.New("payment order already applied")
)

func (s Status) Terminal() bool {
	return s == StatusPaid || s == StatusFailed || s == StatusCancelled
}

// IsSuccess reports whether a raw provider status means the money was captured.
func IsSuccess(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "paid", "captured", "completed", "success":
		return true
	}
	return false
}

// IsFailure reports whether a raw provider status is a terminal failure.
func IsFailure(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "failed", "cancelled", "canceled", "void", "expired":
		return true
	}
	return false
}

// Normalize maps whatever the provider reports onto the order lifecycle.
func Normalize(raw string) Status {
	v := strings.ToLower(strings.TrimSpace(raw))
	switch {
	case IsSuccess(v):
		return StatusPaid
	case v == "cancelled" || v == "canceled" || v == "void":
		return StatusCancelled
	case IsFailure(v):
		return StatusFailed
	case v == "created" || v == "":
		return StatusCreated
	default:
		return StatusPending
	}
}

type Customer struct {
	Name  string `json:"name" binding:"omitempty,max=200"`
	Email string `json:"email" binding:"omitempty,email"`
	Phone string `json:"phone" binding:"omitempty,max=20"`
}

type CreateOrderRequest struct {
	ReferenceID string            `json:"reference_id" binding:"omitempty,max=254"`
	Amount      float64           `json:"amount" binding:"required,gt=0"`
	Currency    string            `json:"currency" binding:"omitempty,len=3"`
	CouponID    *string           `json:"couponId" binding:"omitempty,uuid"`
	Customer    Customer          `json:"customer"`
	Metadata    map[string]string `json:"metadata"`
}

type Order struct {
	ID              string    `json:"id"`
	ReferenceID     string    `json:"reference_id"`
	Amount          float64   `json:"amount"`
	Currency        string    `json:"currency"`
	Status          Status    `json:"status"`
	ProviderOrderID string    `json:"provider_order_id,omitempty"`
	CheckoutURL     string    `json:"checkoutUrl,omitempty"`
	CouponID        *string   `json:"couponId,omitempty"`
	CustomerEmail   string    `json:"customer_email,omitempty"`
	AppliedTo       *string   `json:"applied_to,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// GuestReference is used when the payer has no verified email yet.
func GuestReference() string {
	return "guest-" + uuid.NewString()
}

func NewOrder(req CreateOrderRequest) Order {
	now := time.Now().UTC()

	ref := strings.ToLower(strings.TrimSpace(req.ReferenceID))
	if ref == "" {
		ref = GuestReference()
	}

	cur := strings.ToUpper(req.Currency)
	if cur == "" {
		cur = "INR"
	}

	return Order{
		ID:            uuid.NewString(),
		ReferenceID:   ref,
		Amount:        req.Amount,
		Currency:      cur,
		Status:        StatusCreated,
		CouponID:      req.CouponID,
		CustomerEmail: strings.ToLower(strings.TrimSpace(req.Customer.Email)),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}
