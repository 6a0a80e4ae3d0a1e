package registrant

import (
	"crypto/rand"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleVisitor   Role = "visitor"
	RoleExhibitor Role = "exhibitor"
	RolePartner   Role = "partner"
	RoleSpeaker   Role = "speaker"
	RoleAwardee   Role = "awardee"
)

var Roles = []Role{RoleVisitor, RoleExhibitor, RolePartner, RoleSpeaker, RoleAwardee}

// ParseRole accepts the loose spellings the forms send ("Visitors", " exhibitor ").
func ParseRole(s string) (Role, bool) {
	v := strings.ToLower(strings.TrimSpace(s))
	v = strings.TrimSuffix(v, "s")

	for _, r := range Roles {
		if string(r) == v {
			return r, true
		}
	}
	return "", false
}

func (r Role) Plural() string {
	return string(r) + "s"
}

// HasApproval reports whether rows of this role go through pending -> approved|cancelled.
func (r Role) HasApproval() bool {
	return r == RoleExhibitor || r == RolePartner
}

type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusCancelled Status = "cancelled"
)

var (
	ErrNotFound          = errors.New("registrant not found")
	ErrAlreadyRegistered = errors.New("email already registered for this role")
	ErrNoApproval        = errors.New("role does not support approval")
	ErrEmailNotVerified  = errors.New("email not verified")
	ErrInvalidTransition = errors.New("invalid status transition")
)

type Registrant struct {
	ID                string         `json:"id"`
	Role              Role           `json:"role"`
	Name              string         `json:"name"`
	Email             string         `json:"email"`
	Mobile            string         `json:"mobile,omitempty"`
	Company           string         `json:"company,omitempty"`
	Data              map[string]any `json:"data,omitempty"`
	TicketCategory    string         `json:"ticket_category,omitempty"`
	TicketCode        string         `json:"ticket_code"`
	TxID              *string        `json:"txId,omitempty"`
	PaymentProofURL   *string        `json:"payment_proof_url,omitempty"`
	TicketPrice       float64        `json:"ticket_price"`
	TicketGST         float64        `json:"ticket_gst"`
	TicketTotal       float64        `json:"ticket_total"`
	Status            Status         `json:"status"`
	AddedByAdmin      bool           `json:"added_by_admin"`
	AdminCreatedAt    *time.Time     `json:"admin_created_at,omitempty"`
	EmailSentAt       *time.Time     `json:"email_sent_at,omitempty"`
	TicketGeneratedAt *time.Time     `json:"ticket_generated_at,omitempty"`
	CreatedAt         time.Time      `json:"createdAt"`
	UpdatedAt         time.Time      `json:"updatedAt"`
}

type CreateRequest struct {
	Role            Role           `json:"-"`
	Name            string         `json:"name" binding:"required,min=2,max=200"`
	Email           string         `json:"email" binding:"required,email,max=254"`
	Mobile          string         `json:"mobile" binding:"omitempty,max=20"`
	Company         string         `json:"company" binding:"omitempty,max=200"`
	TicketCategory  string         `json:"ticket_category" binding:"omitempty,max=60"`
	TxID            *string        `json:"txId" binding:"omitempty,max=120"`
	PaymentProofURL *string        `json:"payment_proof_url" binding:"omitempty,url"`
	TicketPrice     float64        `json:"ticket_price" binding:"gte=0"`
	TicketGST       float64        `json:"ticket_gst" binding:"gte=0"`
	TicketTotal     float64        `json:"ticket_total" binding:"gte=0"`
	Data            map[string]any `json:"-"`
	AddedByAdmin    bool           `json:"-"`
}

// UpdateRequest is a partial update; nil fields are left alone. ticket_code is never updatable.
type UpdateRequest struct {
	Name            *string        `json:"name" binding:"omitempty,min=2,max=200"`
	Email           *string        `json:"email" binding:"omitempty,email,max=254"`
	Mobile          *string        `json:"mobile" binding:"omitempty,max=20"`
	Company         *string        `json:"company" binding:"omitempty,max=200"`
	TicketCategory  *string        `json:"ticket_category" binding:"omitempty,max=60"`
	TxID            *string        `json:"txId" binding:"omitempty,max=120"`
	PaymentProofURL *string        `json:"payment_proof_url" binding:"omitempty,url"`
	TicketPrice     *float64       `json:"ticket_price" binding:"omitempty,gte=0"`
	TicketGST       *float64       `json:"ticket_gst" binding:"omitempty,gte=0"`
	TicketTotal     *float64       `json:"ticket_total" binding:"omitempty,gte=0"`
	Data            map[string]any `json:"data"`
}

func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func NewFromCreateRequest(req CreateRequest) Registrant {
	now := time.Now().UTC()

	status := StatusApproved
	if req.Role.HasApproval() {
		status = StatusPending
	}

	r := Registrant{
		ID:              uuid.NewString(),
		Role:            req.Role,
		Name:            strings.TrimSpace(req.Name),
		Email:           NormalizeEmail(req.Email),
		Mobile:          strings.TrimSpace(req.Mobile),
		Company:         strings.TrimSpace(req.Company),
		Data:            req.Data,
		TicketCategory:  strings.TrimSpace(req.TicketCategory),
		TicketCode:      NewTicketCode(req.Role),
		TxID:            req.TxID,
		PaymentProofURL: req.PaymentProofURL,
		TicketPrice:     req.TicketPrice,
		TicketGST:       req.TicketGST,
		TicketTotal:     req.TicketTotal,
		Status:          status,
		AddedByAdmin:    req.AddedByAdmin,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if r.Data == nil {
		r.Data = map[string]any{}
	}

	if req.AddedByAdmin {
		r.AdminCreatedAt = &now
	}

	return r
}

// Apply merges a partial update into r.
func (r *Registrant) Apply(req UpdateRequest) {
	if req.Name != nil {
		r.Name = strings.TrimSpace(*req.Name)
	}
	if req.Email != nil {
		r.Email = NormalizeEmail(*req.Email)
	}
	if req.Mobile != nil {
		r.Mobile = strings.TrimSpace(*req.Mobile)
	}
	if req.Company != nil {
		r.Company = strings.TrimSpace(*req.Company)
	}
	if req.TicketCategory != nil {
		r.TicketCategory = strings.TrimSpace(*req.TicketCategory)
	}
	if req.TxID != nil {
		r.TxID = req.TxID
	}
	if req.PaymentProofURL != nil {
		r.PaymentProofURL = req.PaymentProofURL
	}
	if req.TicketPrice != nil {
		r.TicketPrice = *req.TicketPrice
	}
	if req.TicketGST != nil {
		r.TicketGST = *req.TicketGST
	}
	if req.TicketTotal != nil {
		r.TicketTotal = *req.TicketTotal
	}
	if len(req.Data) > 0 {
		if r.Data == nil {
			r.Data = map[string]any{}
		}
		for k, v := range req.Data {
			r.Data[k] = v
		}
	}
	r.UpdatedAt = time.Now().UTC()
}

// Transition moves an approval-tracked registrant to the target status.
func (r Registrant) Transition(to Status) (Status, error) {
	if !r.Role.HasApproval() {
		return r.Status, ErrNoApproval
	}
	if to != StatusApproved && to != StatusCancelled {
		return r.Status, ErrInvalidTransition
	}
	return to, nil
}

// Unambiguous uppercase alphabet: no 0/O, 1/I.
const ticketAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

func NewTicketCode(role Role) string {
	prefix := "RT"
	if role != "" {
		prefix += strings.ToUpper(string(role[:1]))
	}

	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand does not fail on supported platforms
		panic(err)
	}
	for i := range b {
		b[i] = ticketAlphabet[int(b[i])%len(ticketAlphabet)]
	}

	return prefix + "-" + string(b)
}

// Spend is what a ticket upgrade consumes. Empty ids are skipped.
type Spend struct {
	CouponID    string
	ReferenceID string // the coupon must be reserved under this reference
	OrderID     string
}
