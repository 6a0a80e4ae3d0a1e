package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type HTTPConfig struct {
	BaseURL string
	AppID   string
	Secret  string
	Timeout time.Duration
}

// HTTPProvider talks to a REST checkout gateway:
// POST {base}/orders creates a hosted checkout, GET {base}/orders/{id} reports its status.
type HTTPProvider struct {
	cfg    HTTPConfig
	client *http.Client
}

func NewHTTPProvider(cfg HTTPConfig) *HTTPProvider {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &HTTPProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

type gatewayCustomer struct {
	Name  string `json:"customer_name,omitempty"`
	Email string `json:"customer_email,omitempty"`
	Phone string `json:"customer_phone,omitempty"`
}

type gatewayOrderRequest struct {
	OrderID   string            `json:"order_id"`
	Amount    float64           `json:"order_amount"`
	Currency  string            `json:"order_currency"`
	Customer  gatewayCustomer   `json:"customer_details"`
	ReturnURL string            `json:"return_url,omitempty"`
	Tags      map[string]string `json:"order_tags,omitempty"`
}

type gatewayOrder struct {
	OrderID     string `json:"order_id"`
	CfOrderID   string `json:"cf_order_id"`
	PaymentLink string `json:"payment_link"`
	Status      string `json:"order_status"`
	Message     string `json:"message"`
}

func (p *HTTPProvider) do(ctx context.Context, method, path string, body any, out any) error {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(p.cfg.BaseURL, "/")+path, rdr)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("x-client-id", p.cfg.AppID)
	req.Header.Set("x-client-secret", p.cfg.Secret)

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("gateway %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}

	if resp.StatusCode == http.StatusNotFound {
		return ErrProviderOrderNotFound
	}
	if resp.StatusCode >= 300 {
		var ge gatewayOrder
		_ = json.Unmarshal(raw, &ge)
		msg := ge.Message
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return fmt.Errorf("gateway %s %s: %d %s", method, path, resp.StatusCode, msg)
	}

	return json.Unmarshal(raw, out)
}

func (p *HTTPProvider) CreateOrder(ctx context.Context, in CreateInput) (ProviderOrder, error) {
	var out gatewayOrder

	err := p.do(ctx, http.MethodPost, "/orders", gatewayOrderRequest{
		OrderID:  in.OrderID,
		Amount:   in.Amount,
		Currency: in.Currency,
		Customer: gatewayCustomer{
			Name:  in.Customer.Name,
			Email: in.Customer.Email,
			Phone: in.Customer.Phone,
		},
		ReturnURL: in.ReturnURL,
		Tags:      in.Metadata,
	}, &out)
	if err != nil {
		return ProviderOrder{}, err
	}

	id := out.OrderID
	if id == "" {
		id = out.CfOrderID
	}

	return ProviderOrder{ProviderOrderID: id, CheckoutURL: out.PaymentLink, Status: out.Status}, nil
}

func (p *HTTPProvider) FetchStatus(ctx context.Context, providerOrderID string) (string, error) {
	var out gatewayOrder
	if err := p.do(ctx, http.MethodGet, "/orders/"+url.PathEscape(providerOrderID), nil, &out); err != nil {
		return "", err
	}
	return out.Status, nil
}
