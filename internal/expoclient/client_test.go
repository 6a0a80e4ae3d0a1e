package expoclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/railtrans/expo/internal/domain/coupon"
	"github.com/railtrans/expo/internal/domain/registrant"
)

func TestClient_SendsSkipWarningHeader(t *testing.T) {
	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"exists":false}`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL + "/"})
	res, err := c.CheckEmail(context.Background(), registrant.RoleVisitor, "a@x.com")
	if err != nil {
		t.Fatalf("CheckEmail: %v", err)
	}
	if res.Exists {
		t.Fatalf("expected exists=false")
	}
	if got.Get("ngrok-skip-browser-warning") != "true" {
		t.Fatalf("missing ngrok header: %v", got)
	}
}

func TestClient_ConflictCarriesExisting(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/otp/send" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var body SendOTPRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.Type != "email" || body.RegistrationType != "visitor" {
			t.Errorf("unexpected body %+v", body)
		}

		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":{"code":"already_registered","message":"Email already registered"},"existing":{"id":"r1","ticket_code":"RTV-ABCD1234"}}`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	_, err := c.SendOTP(context.Background(), SendOTPRequest{Value: "a@x.com", RequestID: "q1", RegistrationType: "visitor"})

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Status != http.StatusConflict || apiErr.Code != "already_registered" {
		t.Fatalf("unexpected error %+v", apiErr)
	}
	if apiErr.Existing["ticket_code"] != "RTV-ABCD1234" {
		t.Fatalf("existing not decoded: %v", apiErr.Existing)
	}
	if !IsStatus(err, http.StatusConflict) {
		t.Fatalf("IsStatus should match 409")
	}
}

func TestClient_ValidateCouponAndToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"valid":true,"discount":10,"reducedPrice":2655,"coupon":{"id":"c1","code":"RAIL10","used":false}}`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})

	_, err := c.ValidateCoupon(context.Background(), coupon.ValidateRequest{Code: "RAIL10", Price: 2950})
	if !IsStatus(err, http.StatusUnauthorized) {
		t.Fatalf("expected 401 without token, got %v", err)
	}

	res, err := c.WithToken("tok").ValidateCoupon(context.Background(), coupon.ValidateRequest{Code: "RAIL10", Price: 2950})
	if err != nil {
		t.Fatalf("ValidateCoupon: %v", err)
	}
	if res.ReducedPrice != 2655 || res.Coupon == nil || res.Coupon.ID != "c1" {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestClient_NonJSONErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer srv.Close()

	err := New(Config{BaseURL: srv.URL}).UnuseCoupon(context.Background(), "c1")

	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Message != "bad gateway" {
		t.Fatalf("expected plain-text message, got %v", err)
	}
}
