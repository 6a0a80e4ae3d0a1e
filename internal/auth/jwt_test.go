package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestAccessTokenRoundTrip(t *testing.T) {
	m := NewManager("secret", time.Hour)

	raw, err := m.GenerateAccessToken("u1", "ops@railtrans.test", "admin")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	claims, err := m.VerifyAccessToken(raw)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.UserID != "u1" || claims.Role != "admin" || claims.Email != "ops@railtrans.test" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestVerifyRejectsOtherSecret(t *testing.T) {
	raw, err := NewManager("one", time.Hour).GenerateAccessToken("u1", "a@b.c", "admin")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := NewManager("two", time.Hour).VerifyAccessToken(raw); err == nil {
		t.Fatal("expected signature error")
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	m := NewManager("secret", time.Minute)
	m.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }

	raw, err := m.GenerateAccessToken("u1", "a@b.c", "admin")
	if err != nil {
		t.Fatal(err)
	}

	m.now = time.Now
	if _, err := m.VerifyAccessToken(raw); err == nil {
		t.Fatal("expected expiry error")
	}
}

func TestVerifyRejectsForeignTokens(t *testing.T) {
	m := NewManager("secret", time.Hour)
	now := time.Now()

	sign := func(method jwt.SigningMethod, key any, c Claims) string {
		t.Helper()
		raw, err := jwt.NewWithClaims(method, c).SignedString(key)
		if err != nil {
			t.Fatal(err)
		}
		return raw
	}
	valid := func() Claims {
		return Claims{
			Email: "a@b.c", Role: "admin", TokenType: "access",
			RegisteredClaims: jwt.RegisteredClaims{
				Issuer: issuer, Audience: jwt.ClaimStrings{audience}, Subject: "u1",
				ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
			},
		}
	}

	wrongAud := valid()
	wrongAud.Audience = jwt.ClaimStrings{"someone-else"}
	refresh := valid()
	refresh.TokenType = "refresh"
	noExp := valid()
	noExp.ExpiresAt = nil

	tests := []struct {
		name string
		raw  string
		want error
	}{
		{"wrong audience", sign(jwt.SigningMethodHS256, []byte("secret"), wrongAud), ErrInvalidToken},
		{"missing expiry", sign(jwt.SigningMethodHS256, []byte("secret"), noExp), ErrInvalidToken},
		{"other hmac size", sign(jwt.SigningMethodHS512, []byte("secret"), valid()), ErrInvalidToken},
		{"refresh type", sign(jwt.SigningMethodHS256, []byte("secret"), refresh), ErrInvalidTokenType},
		{"garbage", "not.a.jwt", ErrInvalidToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := m.VerifyAccessToken(tt.raw); !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}

	if c, err := m.VerifyAccessToken(sign(jwt.SigningMethodHS256, []byte("secret"), valid())); err != nil || c.UserID != "u1" {
		t.Fatalf("hand-built valid token rejected: %v", err)
	}
}
