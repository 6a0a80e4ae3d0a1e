package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSetFlags(t *testing.T) {
	s := setFlags{}
	for _, v := range []string{"name=Asha Rao", "termsAccepted=true", "newsletter=FALSE", "note=a=b"} {
		if err := s.Set(v); err != nil {
			t.Fatalf("Set(%q): %v", v, err)
		}
	}

	if s["name"] != "Asha Rao" || s["termsAccepted"] != true || s["newsletter"] != false || s["note"] != "a=b" {
		t.Fatalf("unexpected values %#v", s)
	}

	for _, bad := range []string{"novalue", "=x"} {
		if err := s.Set(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestRun_UnknownCommand(t *testing.T) {
	var out, errOut bytes.Buffer
	err := run(context.Background(), []string{"frobnicate"}, strings.NewReader(""), &out, &errOut)
	if err == nil || !strings.Contains(err.Error(), "unknown command") {
		t.Fatalf("expected unknown command error, got %v", err)
	}
	if !strings.Contains(errOut.String(), "register") {
		t.Fatalf("usage should list commands, got %q", errOut.String())
	}
}

func TestRun_Ticket(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/tickets/validate" {
			http.NotFound(w, r)
			return
		}
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)

		w.Header().Set("Content-Type", "application/json")
		if body["ticketCode"] != "VIS-ABC123" {
			_, _ = w.Write([]byte(`{"valid":false}`))
			return
		}
		_, _ = w.Write([]byte(`{"valid":true,"role":"visitor"}`))
	}))
	defer srv.Close()

	var out, errOut bytes.Buffer
	err := run(context.Background(), []string{"-api", srv.URL, "ticket", "VIS-ABC123"}, strings.NewReader(""), &out, &errOut)
	if err != nil {
		t.Fatalf("run: %v (stderr %q)", err, errOut.String())
	}

	var got struct {
		Valid bool   `json:"valid"`
		Role  string `json:"role"`
	}
	if err := json.Unmarshal(out.Bytes(), &got); err != nil {
		t.Fatalf("decode output %q: %v", out.String(), err)
	}
	if !got.Valid || got.Role != "visitor" {
		t.Fatalf("unexpected result %+v", got)
	}
}

func TestRun_LoginPrintsToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/auth/login" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"accessToken":"tok-123","expiresIn":7200}`))
	}))
	defer srv.Close()

	var out, errOut bytes.Buffer
	args := []string{"-api", srv.URL, "login", "-email", "admin@example.com", "-password", "pw"}
	if err := run(context.Background(), args, strings.NewReader(""), &out, &errOut); err != nil {
		t.Fatalf("run: %v", err)
	}
	if strings.TrimSpace(out.String()) != "tok-123" {
		t.Fatalf("expected token on stdout, got %q", out.String())
	}
}
