package expoclient

import (
	"context"
	"net/http"
	"net/url"

	"github.com/railtrans/expo/internal/domain/coupon"
	"github.com/railtrans/expo/internal/domain/payment"
	"github.com/railtrans/expo/internal/domain/regconfig"
	"github.com/railtrans/expo/internal/domain/registrant"
)

func (c *Client) RegistrationConfig(ctx context.Context, role registrant.Role) (regconfig.Config, error) {
	var out regconfig.Config
	err := c.do(ctx, http.MethodGet, "/api/"+string(role)+"-config", nil, nil, &out)
	return out, err
}

type CheckEmailResult struct {
	Exists   bool           `json:"exists"`
	Existing map[string]any `json:"existing,omitempty"`
}

func (c *Client) CheckEmail(ctx context.Context, role registrant.Role, email string) (CheckEmailResult, error) {
	var out CheckEmailResult
	q := url.Values{"email": {email}, "role": {string(role)}}
	err := c.do(ctx, http.MethodGet, "/api/otp/check-email", q, nil, &out)
	return out, err
}

type SendOTPRequest struct {
	Type             string `json:"type"`
	Value            string `json:"value"`
	RequestID        string `json:"requestId"`
	RegistrationType string `json:"registrationType"`
}

type SendOTPResult struct {
	Success   bool `json:"success"`
	Duplicate bool `json:"duplicate,omitempty"`
	ExpiresIn int  `json:"expiresIn"`
}

func (c *Client) SendOTP(ctx context.Context, req SendOTPRequest) (SendOTPResult, error) {
	if req.Type == "" {
		req.Type = "email"
	}
	var out SendOTPResult
	err := c.do(ctx, http.MethodPost, "/api/otp/send", nil, req, &out)
	return out, err
}

type VerifyOTPRequest struct {
	Value            string `json:"value"`
	OTP              string `json:"otp"`
	RegistrationType string `json:"registrationType"`
}

type VerifyOTPResult struct {
	Success bool   `json:"success"`
	Email   string `json:"email"`
}

func (c *Client) VerifyOTP(ctx context.Context, req VerifyOTPRequest) (VerifyOTPResult, error) {
	var out VerifyOTPResult
	err := c.do(ctx, http.MethodPost, "/api/otp/verify", nil, req, &out)
	return out, err
}

func (c *Client) ValidateCoupon(ctx context.Context, req coupon.ValidateRequest) (coupon.ValidateResult, error) {
	var out coupon.ValidateResult
	err := c.do(ctx, http.MethodPost, "/api/coupons/validate", nil, req, &out)
	return out, err
}

func (c *Client) UnuseCoupon(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/api/coupons/"+url.PathEscape(id)+"/unuse", nil, struct{}{}, nil)
}

type OrderResponse struct {
	OrderID         string         `json:"orderId"`
	ReferenceID     string         `json:"reference_id"`
	CheckoutURL     string         `json:"checkoutUrl"`
	Status          payment.Status `json:"status"`
	Amount          float64        `json:"amount,omitempty"`
	ProviderOrderID string         `json:"provider_order_id,omitempty"`
}

func (c *Client) CreateOrder(ctx context.Context, req payment.CreateOrderRequest) (OrderResponse, error) {
	var out OrderResponse
	err := c.do(ctx, http.MethodPost, "/api/payment/create-order", nil, req, &out)
	return out, err
}

func (c *Client) PaymentStatus(ctx context.Context, referenceID string) (OrderResponse, error) {
	var out OrderResponse
	q := url.Values{"reference_id": {referenceID}}
	err := c.do(ctx, http.MethodGet, "/api/payment/status", q, nil, &out)
	return out, err
}

type CreatedRegistrant struct {
	InsertedID string                `json:"insertedId"`
	TicketCode string                `json:"ticket_code"`
	Registrant registrant.Registrant `json:"registrant"`
}

func (c *Client) CreateRegistrant(ctx context.Context, role registrant.Role, values map[string]any) (CreatedRegistrant, error) {
	var out CreatedRegistrant
	err := c.do(ctx, http.MethodPost, "/api/"+role.Plural(), nil, values, &out)
	return out, err
}

type listResponse struct {
	Items []registrant.Registrant `json:"items"`
	Count int                     `json:"count"`
}

func (c *Client) ListRegistrants(ctx context.Context, role registrant.Role) ([]registrant.Registrant, error) {
	var out listResponse
	err := c.do(ctx, http.MethodGet, "/api/"+role.Plural(), nil, nil, &out)
	return out.Items, err
}

func (c *Client) GetRegistrant(ctx context.Context, role registrant.Role, id string) (registrant.Registrant, error) {
	var out registrant.Registrant
	err := c.do(ctx, http.MethodGet, "/api/"+role.Plural()+"/"+url.PathEscape(id), nil, nil, &out)
	return out, err
}

func (c *Client) UpdateRegistrant(ctx context.Context, role registrant.Role, id string, req registrant.UpdateRequest) (registrant.Registrant, error) {
	var out registrant.Registrant
	err := c.do(ctx, http.MethodPut, "/api/"+role.Plural()+"/"+url.PathEscape(id), nil, req, &out)
	return out, err
}

func (c *Client) DeleteRegistrant(ctx context.Context, role registrant.Role, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/"+role.Plural()+"/"+url.PathEscape(id), nil, nil, nil)
}

type StatusResponse struct {
	Status  registrant.Status `json:"status"`
	Message string            `json:"message"`
}

func (c *Client) Approve(ctx context.Context, role registrant.Role, id string) (StatusResponse, error) {
	var out StatusResponse
	err := c.do(ctx, http.MethodPost, "/api/"+role.Plural()+"/"+url.PathEscape(id)+"/approve", nil, struct{}{}, &out)
	return out, err
}

func (c *Client) Cancel(ctx context.Context, role registrant.Role, id string) (StatusResponse, error) {
	var out StatusResponse
	err := c.do(ctx, http.MethodPost, "/api/"+role.Plural()+"/"+url.PathEscape(id)+"/cancel", nil, struct{}{}, &out)
	return out, err
}

type TicketJob struct {
	JobID  string `json:"jobId"`
	Status string `json:"status"`
}

func (c *Client) GenerateTicket(ctx context.Context, role registrant.Role, id string) (TicketJob, error) {
	var out TicketJob
	err := c.do(ctx, http.MethodPost, "/api/"+role.Plural()+"/"+url.PathEscape(id)+"/generate-ticket", nil, struct{}{}, &out)
	return out, err
}

func (c *Client) Badge(ctx context.Context, role registrant.Role, id string) ([]byte, error) {
	var out []byte
	err := c.do(ctx, http.MethodGet, "/api/"+role.Plural()+"/"+url.PathEscape(id)+"/badge.pdf", nil, nil, &out)
	return out, err
}

type TicketValidation struct {
	Valid      bool                   `json:"valid"`
	Role       registrant.Role        `json:"role,omitempty"`
	Registrant *registrant.Registrant `json:"registrant,omitempty"`
}

func (c *Client) ValidateTicket(ctx context.Context, ticketCode string) (TicketValidation, error) {
	var out TicketValidation
	err := c.do(ctx, http.MethodPost, "/api/tickets/validate", nil, map[string]string{"ticketCode": ticketCode}, &out)
	return out, err
}

type UpgradeRequest struct {
	TicketCode  string  `json:"ticketCode"`
	NewCategory string  `json:"newCategory"`
	ReferenceID string  `json:"reference_id,omitempty"`
	TxID        string  `json:"txId,omitempty"`
	CouponID    *string `json:"couponId,omitempty"`
}

type UpgradeResult struct {
	Registrant registrant.Registrant `json:"registrant"`
	Amount     float64               `json:"amount"`
}

func (c *Client) UpgradeTicket(ctx context.Context, req UpgradeRequest) (UpgradeResult, error) {
	var out UpgradeResult
	err := c.do(ctx, http.MethodPost, "/api/tickets/upgrade", nil, req, &out)
	return out, err
}

type loginResponse struct {
	AccessToken string `json:"accessToken"`
}

// Login returns a client that carries the admin token.
func (c *Client) Login(ctx context.Context, email, password string) (*Client, error) {
	var out loginResponse
	err := c.do(ctx, http.MethodPost, "/api/auth/login", nil, map[string]string{"email": email, "password": password}, &out)
	if err != nil {
		return nil, err
	}
	return c.WithToken(out.AccessToken), nil
}
