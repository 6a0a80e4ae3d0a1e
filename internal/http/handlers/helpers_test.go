package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/railtrans/expo/internal/domain/coupon"
	"github.com/railtrans/expo/internal/domain/job"
	"github.com/railtrans/expo/internal/domain/payment"
	"github.com/railtrans/expo/internal/domain/regconfig"
	"github.com/railtrans/expo/internal/domain/registrant"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// small helper which returns an engine with one handler mounted
func setupRouter(method, path string, h gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Handle(method, path, h)
	return r
}

func do(t *testing.T, r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

type errorEnvelope struct {
	Error struct {
		Code      string         `json:"code"`
		Message   string         `json:"message"`
		RequestID string         `json:"requestId"`
		Details   map[string]any `json:"details"`
	} `json:"error"`
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errorEnvelope {
	t.Helper()
	var env errorEnvelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode error body %q: %v", w.Body.String(), err)
	}
	return env
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode body %q: %v", w.Body.String(), err)
	}
	return v
}

// fakeRegistrants is an in-memory registrant store that records outbox jobs
// and what upgrades have redeemed.
type fakeRegistrants struct {
	mu     sync.Mutex
	rows   map[string]registrant.Registrant
	outbox []job.CreateRequest
	spent  map[string]string
	err    error
}

func newFakeRegistrants(rows ...registrant.Registrant) *fakeRegistrants {
	f := &fakeRegistrants{rows: map[string]registrant.Registrant{}, spent: map[string]string{}}
	for _, r := range rows {
		f.rows[r.ID] = r
	}
	return f
}

func (f *fakeRegistrants) Create(_ context.Context, r registrant.Registrant, outbox ...job.CreateRequest) (registrant.Registrant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return registrant.Registrant{}, f.err
	}
	for _, existing := range f.rows {
		if existing.Role == r.Role && existing.Email == r.Email {
			return registrant.Registrant{}, registrant.ErrAlreadyRegistered
		}
	}
	f.rows[r.ID] = r
	f.outbox = append(f.outbox, outbox...)
	return r, nil
}

func (f *fakeRegistrants) GetByID(_ context.Context, role registrant.Role, id string) (registrant.Registrant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rows[id]
	if !ok || r.Role != role {
		return registrant.Registrant{}, registrant.ErrNotFound
	}
	return r, nil
}

func (f *fakeRegistrants) GetByTicketCode(_ context.Context, code string) (registrant.Registrant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.rows {
		if r.TicketCode == code {
			return r, nil
		}
	}
	return registrant.Registrant{}, registrant.ErrNotFound
}

func (f *fakeRegistrants) List(_ context.Context, role registrant.Role) ([]registrant.Registrant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []registrant.Registrant
	for _, r := range f.rows {
		if r.Role == role {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeRegistrants) Update(_ context.Context, r registrant.Registrant, outbox ...job.CreateRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.rows[r.ID]; !ok {
		return registrant.ErrNotFound
	}
	f.rows[r.ID] = r
	f.outbox = append(f.outbox, outbox...)
	return nil
}

func (f *fakeRegistrants) Upgrade(_ context.Context, r registrant.Registrant, spend registrant.Spend, outbox ...job.CreateRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.rows[r.ID]; !ok {
		return registrant.ErrNotFound
	}
	if spend.CouponID != "" {
		if _, ok := f.spent["coupon:"+spend.CouponID]; ok {
			return coupon.ErrSpent
		}
	}
	if spend.OrderID != "" {
		if _, ok := f.spent["order:"+spend.OrderID]; ok {
			return payment.ErrAlreadyApplied
		}
	}
	if spend.CouponID != "" {
		f.spent["coupon:"+spend.CouponID] = r.ID
	}
	if spend.OrderID != "" {
		f.spent["order:"+spend.OrderID] = r.ID
	}
	f.rows[r.ID] = r
	f.outbox = append(f.outbox, outbox...)
	return nil
}

func (f *fakeRegistrants) Delete(_ context.Context, role registrant.Role, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rows[id]
	if !ok || r.Role != role {
		return registrant.ErrNotFound
	}
	delete(f.rows, id)
	return nil
}

func (f *fakeRegistrants) jobTypes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.outbox))
	for i, j := range f.outbox {
		out[i] = j.Type
	}
	return out
}

type fakeConfigs map[string]regconfig.Config

func (f fakeConfigs) Get(_ context.Context, role string) (regconfig.Config, error) {
	c, ok := f[role]
	if !ok {
		return regconfig.Config{}, regconfig.ErrNotFound
	}
	return c, nil
}

type fakeJobs struct {
	mu      sync.Mutex
	created []job.CreateRequest
}

func (f *fakeJobs) Create(_ context.Context, req job.CreateRequest) (job.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, req)
	return job.New(req), nil
}
