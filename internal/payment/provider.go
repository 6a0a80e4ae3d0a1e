package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"

	"github.com/railtrans/expo/internal/domain/payment"
)

var ErrProviderOrderNotFound = errors.New("provider order not found")

type CreateInput struct {
	OrderID     string
	ReferenceID string
	Amount      float64
	Currency    string
	Customer    payment.Customer
	ReturnURL   string
	Metadata    map[string]string
}

type ProviderOrder struct {
	ProviderOrderID string
	CheckoutURL     string
	// Status is the provider's raw status word.
	Status string
}

// Provider is a hosted checkout gateway.
type Provider interface {
	CreateOrder(ctx context.Context, in CreateInput) (ProviderOrder, error)
	FetchStatus(ctx context.Context, providerOrderID string) (string, error)
}

func Sign(secret string, body []byte) string {
	m := hmac.New(sha256.New, []byte(secret))
	m.Write(body)
	return hex.EncodeToString(m.Sum(nil))
}

// VerifySignature checks a hex HMAC-SHA256 of body.
func VerifySignature(secret string, body []byte, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	return hmac.Equal([]byte(Sign(secret, body)), []byte(signature))
}
