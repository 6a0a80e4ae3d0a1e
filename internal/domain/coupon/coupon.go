package coupon

import (
	"crypto/rand"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/railtrans/expo/internal/pricing"
)

var (
	ErrNotFound = errors.New("coupon not found")
	ErrUsed     = errors.New("coupon already used")
	ErrExists   = errors.New("coupon code already exists")
	// ErrSpent is returned once a reserved coupon has been redeemed on a ticket.
	ErrSpent = errors.New("coupon already spent")
)

type Coupon struct {
	ID        string     `json:"id"`
	Code      string     `json:"code"`
	Discount  int        `json:"discount"`
	Used      bool       `json:"used"`
	UsedBy    *string    `json:"used_by,omitempty"`
	UsedAt    *time.Time `json:"used_at,omitempty"`
	SpentAt   *time.Time `json:"spent_at,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

type Ref struct {
	ID   string `json:"id"`
	Code string `json:"code"`
	Used bool   `json:"used"`
}

type ValidateRequest struct {
	Code     string  `json:"code" binding:"required,couponcode"`
	Price    float64 `json:"price" binding:"gte=0"`
	MarkUsed bool    `json:"markUsed"`
	UsedBy   string  `json:"usedBy" binding:"omitempty,max=254"`
}

type ValidateResult struct {
	Valid        bool    `json:"valid"`
	Discount     int     `json:"discount"`
	ReducedPrice float64 `json:"reducedPrice"`
	Coupon       *Ref    `json:"coupon,omitempty"`
	Message      string  `json:"message,omitempty"`
}

type CreateRequest struct {
	Code     string `json:"code" binding:"required,couponcode"`
	Discount int    `json:"discount" binding:"required,min=1,max=100"`
}

type GenerateRequest struct {
	Count    int    `json:"count" binding:"required,min=1,max=500"`
	Discount int    `json:"discount" binding:"required,min=1,max=100"`
	Prefix   string `json:"prefix" binding:"omitempty,max=12,alphanum"`
}

type LogAction string

const (
	ActionCreated   LogAction = "created"
	ActionGenerated LogAction = "generated"
	ActionReserved  LogAction = "reserved"
	ActionReleased  LogAction = "released"
	ActionDeleted   LogAction = "deleted"
	ActionSpent     LogAction = "spent"
)

type LogEntry struct {
	ID        int64     `json:"id"`
	CouponID  string    `json:"coupon_id"`
	Code      string    `json:"code"`
	Action    LogAction `json:"action"`
	Actor     string    `json:"actor,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

func NormalizeCode(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

func New(code string, discount int) Coupon {
	now := time.Now().UTC()
	return Coupon{
		ID:        uuid.NewString(),
		Code:      NormalizeCode(code),
		Discount:  discount,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// ReservedFor reports whether c is held, unspent, by ref.
func (c Coupon) ReservedFor(ref string) bool {
	if !c.Used || c.SpentAt != nil || c.UsedBy == nil {
		return false
	}
	ref = strings.TrimSpace(ref)
	return ref != "" && strings.EqualFold(strings.TrimSpace(*c.UsedBy), ref)
}

func (c Coupon) Ref() *Ref {
	return &Ref{ID: c.ID, Code: c.Code, Used: c.Used}
}

// Evaluate builds the preview result for price. It never changes c.
func (c Coupon) Evaluate(price float64) ValidateResult {
	res := ValidateResult{
		Valid:        !c.Used,
		Discount:     c.Discount,
		ReducedPrice: pricing.ApplyDiscount(price, c.Discount),
		Coupon:       c.Ref(),
	}
	if c.Used {
		res.ReducedPrice = pricing.Round2(price)
		res.Message = "Coupon has already been used"
	}
	return res
}

const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

func GenerateCode(prefix string) string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	for i := range b {
		b[i] = codeAlphabet[int(b[i])%len(codeAlphabet)]
	}

	prefix = NormalizeCode(prefix)
	if prefix == "" {
		return string(b)
	}
	return prefix + "-" + string(b)
}
