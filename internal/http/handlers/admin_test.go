package handlers_test

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/railtrans/expo/internal/auth"
	"github.com/railtrans/expo/internal/dashboard"
	"github.com/railtrans/expo/internal/domain/job"
	"github.com/railtrans/expo/internal/domain/regconfig"
	"github.com/railtrans/expo/internal/domain/registrant"
	"github.com/railtrans/expo/internal/domain/user"
	"github.com/railtrans/expo/internal/http/handlers"
	"github.com/railtrans/expo/internal/jobs"
	"github.com/railtrans/expo/internal/security"
)

func TestAdminTable(t *testing.T) {
	a := sampleRegistrant(registrant.RoleVisitor, "asha@example.com")
	a.Company = "Zeta Rail"
	b := sampleRegistrant(registrant.RoleVisitor, "bala@example.com")
	b.Name, b.Company = "Bala K", "Alpha Metro"
	b.Data = map[string]any{"designation": "Engineer"}

	f := newRegistrantsFixture(fakeConfigs{}, a, b)
	r := setupRouter(http.MethodGet, "/api/admin/visitors/table", f.handler.Table(registrant.RoleVisitor))

	w := do(t, r, http.MethodGet, "/api/admin/visitors/table?sort=company&dir=asc&pageSize=1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	page := decode[dashboard.Page](t, w)
	if page.Total != 2 || page.Pages != 2 || len(page.Rows) != 1 {
		t.Fatalf("unexpected paging %+v", page)
	}
	if page.Rows[0]["company"] != "Alpha Metro" {
		t.Fatalf("expected rows sorted by company, got %v", page.Rows[0]["company"])
	}
	if page.Columns[0] != "name" || page.Columns[1] != "company" {
		t.Fatalf("preferred columns must lead, got %v", page.Columns)
	}
	for _, c := range page.Columns {
		if c == "id" {
			t.Fatalf("id must not be a column")
		}
	}

	w = do(t, r, http.MethodGet, "/api/admin/visitors/table?q=engineer", "")
	if page := decode[dashboard.Page](t, w); page.Total != 1 {
		t.Fatalf("search should match one row, got %d", page.Total)
	}
}

func TestAdminTable_DeclaredColumns(t *testing.T) {
	a := sampleRegistrant(registrant.RoleVisitor, "asha@example.com")
	f := newRegistrantsFixture(fakeConfigs{"visitor": regconfig.Config{Columns: []string{"email", "name"}}}, a)
	r := setupRouter(http.MethodGet, "/api/admin/visitors/table", f.handler.Table(registrant.RoleVisitor))

	page := decode[dashboard.Page](t, do(t, r, http.MethodGet, "/api/admin/visitors/table", ""))
	if len(page.Columns) != 2 || page.Columns[0] != "email" || page.Columns[1] != "name" {
		t.Fatalf("declared columns must win, got %v", page.Columns)
	}
}

func TestAdminExport(t *testing.T) {
	a := sampleRegistrant(registrant.RoleVisitor, "asha@example.com")
	a.Company = "Rail, Inc."
	f := newRegistrantsFixture(fakeConfigs{}, a)
	r := setupRouter(http.MethodGet, "/api/admin/visitors/export.csv", f.handler.Export(registrant.RoleVisitor))

	w := do(t, r, http.MethodGet, "/api/admin/visitors/export.csv", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.HasPrefix(w.Header().Get("Content-Disposition"), `attachment; filename="visitors-`) {
		t.Fatalf("unexpected disposition %q", w.Header().Get("Content-Disposition"))
	}

	records, err := csv.NewReader(w.Body).ReadAll()
	if err != nil {
		t.Fatalf("csv: %v", err)
	}
	if len(records) != 2 || records[0][0] != "name" || records[1][1] != "Rail, Inc." {
		t.Fatalf("unexpected csv %v", records)
	}
}

func TestAdminBulk(t *testing.T) {
	a := sampleRegistrant(registrant.RoleExhibitor, "stall@example.com")
	f := newRegistrantsFixture(fakeConfigs{}, a)
	r := setupRouter(http.MethodPost, "/api/admin/exhibitors/bulk", f.handler.Bulk(registrant.RoleExhibitor))

	missing := uuid.NewString()
	w := do(t, r, http.MethodPost, "/api/admin/exhibitors/bulk", `{"action":"resend-email","ids":["`+a.ID+`","`+missing+`"]}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}

	res := decode[handlers.BulkResult](t, w)
	if len(res.Queued) != 1 || res.Queued[0] != a.ID || res.Skipped[missing] != "not_found" {
		t.Fatalf("unexpected bulk result %+v", res)
	}
	if len(f.jobs.created) != 1 || f.jobs.created[0].Type != string(jobs.TypeRegistrantAcknowledge) {
		t.Fatalf("expected one ack job, got %+v", f.jobs.created)
	}

	if w := do(t, r, http.MethodPost, "/api/admin/exhibitors/bulk", `{"action":"explode","ids":["`+a.ID+`"]}`); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for an unknown action, got %d", w.Code)
	}
	if w := do(t, r, http.MethodPost, "/api/admin/exhibitors/bulk", `{"action":"generate-ticket","ids":["nope"]}`); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a bad id, got %d", w.Code)
	}
}

type fakeUsers map[string]user.User

func (f fakeUsers) GetByEmail(_ context.Context, email string) (user.User, error) {
	u, ok := f[email]
	if !ok {
		return user.User{}, user.ErrNotFound
	}
	return u, nil
}

func TestLogin(t *testing.T) {
	hash, err := security.HashPassword("correct horse")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	users := fakeUsers{"admin@example.com": {ID: "u1", Email: "admin@example.com", PasswordHash: hash, Role: user.RoleAdmin}}
	jwt := auth.NewManager("test-secret", time.Hour)

	h := handlers.NewAuthHandler(users, jwt)
	r := setupRouter(http.MethodPost, "/api/auth/login", h.Login)

	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{"ok", `{"email":"Admin@Example.com","password":"correct horse"}`, http.StatusOK},
		{"wrong password", `{"email":"admin@example.com","password":"nope nope"}`, http.StatusUnauthorized},
		{"unknown email", `{"email":"who@example.com","password":"correct horse"}`, http.StatusUnauthorized},
		{"missing password", `{"email":"admin@example.com"}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, r, http.MethodPost, "/api/auth/login", tt.body)
			if w.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d: %s", tt.wantStatus, w.Code, w.Body.String())
			}
			if tt.wantStatus != http.StatusOK {
				return
			}

			resp := decode[struct {
				AccessToken string `json:"accessToken"`
			}](t, w)
			claims, err := jwt.VerifyAccessToken(resp.AccessToken)
			if err != nil || claims.Role != user.RoleAdmin {
				t.Fatalf("issued token does not verify: %v", err)
			}
		})
	}
}

type fakeAdminJobs struct {
	jobs       map[string]job.Job
	lastFilter job.ListFilter
}

func (f *fakeAdminJobs) List(_ context.Context, flt job.ListFilter) (job.Page, error) {
	f.lastFilter = flt
	var out []job.Job
	for _, j := range f.jobs {
		if (flt.Status == "" || j.Status == flt.Status) && (flt.Type == "" || j.Type == flt.Type) {
			out = append(out, j)
		}
	}
	if len(out) > flt.Limit {
		return job.Page{Items: out[:flt.Limit], HasMore: true}, nil
	}
	return job.Page{Items: out}, nil
}

func (f *fakeAdminJobs) Stats(_ context.Context, jobType string) (job.Stats, error) {
	out := job.Stats{}
	for _, j := range f.jobs {
		if jobType == "" || j.Type == jobType {
			out[j.Status]++
		}
	}
	return out, nil
}

func (f *fakeAdminJobs) GetByID(_ context.Context, id string) (job.Job, error) {
	j, ok := f.jobs[id]
	if !ok {
		return job.Job{}, job.ErrJobNotFound
	}
	return j, nil
}

func (f *fakeAdminJobs) Retry(_ context.Context, id string) error {
	j, ok := f.jobs[id]
	if !ok {
		return job.ErrJobNotFound
	}
	if j.Status != job.StatusFailed {
		return job.ErrJobNotFailed
	}
	j.Status = job.StatusPending
	f.jobs[id] = j
	return nil
}

func (f *fakeAdminJobs) RetryManyFailed(context.Context, int) (int64, error) {
	return 0, nil
}

func TestAdminJobs(t *testing.T) {
	failed := job.New(job.CreateRequest{Type: string(jobs.TypeMailSend)})
	failed.Status = job.StatusFailed
	done := job.New(job.CreateRequest{Type: string(jobs.TypeMailSend)})
	done.Status = job.StatusDone

	repo := &fakeAdminJobs{jobs: map[string]job.Job{failed.ID: failed, done.ID: done}}
	h := handlers.NewAdminJobsHandler(repo)

	r := gin.New()
	r.GET("/api/admin/jobs", h.List)
	r.GET("/api/admin/jobs/stats", h.Stats)
	r.GET("/api/admin/jobs/:id", h.GetByID)
	r.POST("/api/admin/jobs/:id/retry", h.Retry)

	tests := []struct {
		name       string
		method     string
		path       string
		wantStatus int
	}{
		{"list failed", http.MethodGet, "/api/admin/jobs?status=failed", http.StatusOK},
		{"list bad status", http.MethodGet, "/api/admin/jobs?status=exploded", http.StatusBadRequest},
		{"list bad limit", http.MethodGet, "/api/admin/jobs?limit=1000", http.StatusBadRequest},
		{"list bad cursor", http.MethodGet, "/api/admin/jobs?cursor=zzz", http.StatusBadRequest},
		{"stats", http.MethodGet, "/api/admin/jobs/stats", http.StatusOK},
		{"get bad id", http.MethodGet, "/api/admin/jobs/not-a-uuid", http.StatusBadRequest},
		{"get", http.MethodGet, "/api/admin/jobs/" + done.ID, http.StatusOK},
		{"get unknown", http.MethodGet, "/api/admin/jobs/" + uuid.NewString(), http.StatusNotFound},
		{"retry done job", http.MethodPost, "/api/admin/jobs/" + done.ID + "/retry", http.StatusConflict},
		{"retry failed job", http.MethodPost, "/api/admin/jobs/" + failed.ID + "/retry", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, r, tt.method, tt.path, "")
			if w.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d: %s", tt.wantStatus, w.Code, w.Body.String())
			}
		})
	}
}

func TestAdminJobs_ListPagesAndFilters(t *testing.T) {
	repo := &fakeAdminJobs{jobs: map[string]job.Job{}}
	for i := 0; i < 3; i++ {
		j := job.New(job.CreateRequest{Type: string(jobs.TypeMailSend)})
		j.Status = job.StatusFailed
		repo.jobs[j.ID] = j
	}
	ack := job.New(job.CreateRequest{Type: string(jobs.TypeRegistrantAcknowledge)})
	repo.jobs[ack.ID] = ack

	r := setupRouter(http.MethodGet, "/api/admin/jobs", handlers.NewAdminJobsHandler(repo).List)

	w := do(t, r, http.MethodGet, "/api/admin/jobs?status=failed&type=mail.send&limit=2", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	resp := decode[struct {
		Count      int     `json:"count"`
		HasMore    bool    `json:"hasMore"`
		NextCursor *string `json:"nextCursor"`
	}](t, w)
	if resp.Count != 2 || !resp.HasMore || resp.NextCursor == nil {
		t.Fatalf("unexpected page %+v", resp)
	}
	if repo.lastFilter.Status != job.StatusFailed || repo.lastFilter.Type != "mail.send" {
		t.Fatalf("filter not passed through: %+v", repo.lastFilter)
	}
	if repo.lastFilter.BeforeUpdatedAt.Year() != 9999 {
		t.Fatalf("first page must start from the far future, got %v", repo.lastFilter.BeforeUpdatedAt)
	}

	w = do(t, r, http.MethodGet, "/api/admin/jobs?cursor="+*resp.NextCursor, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 for next page, got %d", w.Code)
	}
	if repo.lastFilter.BeforeUpdatedAt.Year() == 9999 || repo.lastFilter.BeforeID == "" {
		t.Fatalf("cursor not decoded into the filter: %+v", repo.lastFilter)
	}
}

func TestMailer(t *testing.T) {
	q := &fakeJobs{}
	r := setupRouter(http.MethodPost, "/api/mailer", handlers.NewMailerHandler(q).Send)

	w := do(t, r, http.MethodPost, "/api/mailer",
		`{"to":["asha@example.com"],"subject":"Hello","html":"<p>hi</p>","attachments":[{"filename":"a.pdf","contentType":"application/pdf","content":"JVBERi0="}]}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
	if len(q.created) != 1 || q.created[0].Type != string(jobs.TypeMailSend) {
		t.Fatalf("expected one mail job, got %+v", q.created)
	}

	if w := do(t, r, http.MethodPost, "/api/mailer", `{"to":["asha@example.com"],"subject":"Empty"}`); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without a body, got %d", w.Code)
	}
	if w := do(t, r, http.MethodPost, "/api/mailer", `{"to":["not-an-email"],"subject":"x","text":"y"}`); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a bad recipient, got %d", w.Code)
	}
}

func multipartBody(t *testing.T, field, name string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, name)
	if err != nil {
		t.Fatalf("form file: %v", err)
	}
	_, _ = fw.Write(content)
	_ = mw.Close()
	return &buf, mw.FormDataContentType()
}

func TestUploads(t *testing.T) {
	dir := t.TempDir()
	h := handlers.NewUploadsHandler(dir, "https://api.example.com/", 1024)

	r := gin.New()
	r.POST("/api/upload-asset", h.Asset)
	r.POST("/api/upload-file", h.File)

	upload := func(path, name string, content []byte) *httptest.ResponseRecorder {
		body, ct := multipartBody(t, "file", name, content)
		req := httptest.NewRequest(http.MethodPost, path, body)
		req.Header.Set("Content-Type", ct)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	w := upload("/api/upload-asset", "logo.PNG", []byte("png-bytes"))
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	resp := decode[struct {
		URL  string `json:"url"`
		Path string `json:"path"`
	}](t, w)
	if !strings.HasPrefix(resp.URL, "https://api.example.com/uploads/assets/") || !strings.HasSuffix(resp.Path, ".png") {
		t.Fatalf("unexpected upload response %+v", resp)
	}
	if _, err := os.Stat(filepath.Join(dir, "assets", filepath.Base(resp.Path))); err != nil {
		t.Fatalf("file not stored: %v", err)
	}

	if w := upload("/api/upload-asset", "proof.pdf", []byte("%PDF")); w.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("pdf is not an asset, got %d", w.Code)
	}
	if w := upload("/api/upload-file", "proof.pdf", []byte("%PDF")); w.Code != http.StatusCreated {
		t.Fatalf("expected pdf upload to succeed, got %d", w.Code)
	}
	if w := upload("/api/upload-file", "run.exe", []byte("MZ")); w.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("expected exe to be rejected, got %d", w.Code)
	}
	if w := upload("/api/upload-file", "big.pdf", bytes.Repeat([]byte("x"), 2048)); w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 over the limit, got %d", w.Code)
	}
}

func TestReadyz(t *testing.T) {
	ok := handlers.PingFunc(func(context.Context) error { return nil })
	down := handlers.PingFunc(func(context.Context) error { return errors.New("connection refused") })

	h := handlers.NewHealthHandler(map[string]handlers.Pinger{"postgres": ok, "redis": ok})
	r := setupRouter(http.MethodGet, "/readyz", h.Readyz)
	if w := do(t, r, http.MethodGet, "/readyz", ""); w.Code != http.StatusOK {
		t.Fatalf("expected ready, got %d", w.Code)
	}

	h = handlers.NewHealthHandler(map[string]handlers.Pinger{"postgres": ok, "redis": down})
	r = setupRouter(http.MethodGet, "/readyz", h.Readyz)
	w := do(t, r, http.MethodGet, "/readyz", "")
	if w.Code != http.StatusServiceUnavailable || !strings.Contains(w.Body.String(), "connection refused") {
		t.Fatalf("expected 503 naming the failure, got %d: %s", w.Code, w.Body.String())
	}
}
