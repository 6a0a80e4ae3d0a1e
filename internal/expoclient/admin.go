package expoclient

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/railtrans/expo/internal/dashboard"
	"github.com/railtrans/expo/internal/domain/coupon"
	"github.com/railtrans/expo/internal/domain/registrant"
)

func (c *Client) Table(ctx context.Context, role registrant.Role, q dashboard.Query) (dashboard.Page, error) {
	v := url.Values{}
	if q.Page > 0 {
		v.Set("page", strconv.Itoa(q.Page))
	}
	if q.PageSize > 0 {
		v.Set("pageSize", strconv.Itoa(q.PageSize))
	}
	if q.Sort != "" {
		v.Set("sort", q.Sort)
	}
	if q.Desc {
		v.Set("dir", "desc")
	}
	if q.Search != "" {
		v.Set("q", q.Search)
	}

	var out dashboard.Page
	err := c.do(ctx, http.MethodGet, "/api/admin/"+role.Plural()+"/table", v, nil, &out)
	return out, err
}

func (c *Client) ExportCSV(ctx context.Context, role registrant.Role) ([]byte, error) {
	var out []byte
	err := c.do(ctx, http.MethodGet, "/api/admin/"+role.Plural()+"/export.csv", nil, nil, &out)
	return out, err
}

type BulkRequest struct {
	Action string   `json:"action"`
	IDs    []string `json:"ids"`
}

type BulkResult struct {
	Queued  []string          `json:"queued"`
	Skipped map[string]string `json:"skipped,omitempty"`
}

func (c *Client) Bulk(ctx context.Context, role registrant.Role, req BulkRequest) (BulkResult, error) {
	var out BulkResult
	err := c.do(ctx, http.MethodPost, "/api/admin/"+role.Plural()+"/bulk", nil, req, &out)
	return out, err
}

func (c *Client) CreateCoupon(ctx context.Context, req coupon.CreateRequest) (coupon.Coupon, error) {
	var out coupon.Coupon
	err := c.do(ctx, http.MethodPost, "/api/coupons", nil, req, &out)
	return out, err
}

type generateResponse struct {
	Items []coupon.Coupon `json:"items"`
	Count int             `json:"count"`
}

func (c *Client) GenerateCoupons(ctx context.Context, req coupon.GenerateRequest) ([]coupon.Coupon, error) {
	var out generateResponse
	err := c.do(ctx, http.MethodPost, "/api/coupons/generate", nil, req, &out)
	return out.Items, err
}

func (c *Client) ListCoupons(ctx context.Context) ([]coupon.Coupon, error) {
	var out generateResponse
	err := c.do(ctx, http.MethodGet, "/api/coupons", nil, nil, &out)
	return out.Items, err
}
