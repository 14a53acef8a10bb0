package wsapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

func TestExtractToken_PrefersSubprotocol(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/?token=query-token", nil)
	r.Header.Set("Sec-WebSocket-Protocol", "bearer.subproto-token, other-proto")

	token, proto := extractToken(r)
	if token != "subproto-token" {
		t.Fatalf("expected subprotocol token, got %q", token)
	}
	if proto != "bearer.subproto-token" {
		t.Fatalf("expected echoed subprotocol, got %q", proto)
	}
}

func TestExtractToken_FallsBackToQuery(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/?token=query-token", nil)

	token, proto := extractToken(r)
	if token != "query-token" {
		t.Fatalf("expected query token, got %q", token)
	}
	if proto != "" {
		t.Fatalf("expected no echoed subprotocol, got %q", proto)
	}
}

func TestJWTVerifier_RoundTrip(t *testing.T) {
	secret := "test-secret"
	userID := uuid.New()

	claims := jwt.RegisteredClaims{
		Subject:   userID.String(),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	v := NewJWTVerifier(secret)
	got, err := v.Verify(signed)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if got.UserID != userID {
		t.Fatalf("expected %s, got %s", userID, got.UserID)
	}
}

func TestJWTVerifier_RejectsBadSignature(t *testing.T) {
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject: uuid.New().String(),
	})
	signed, err := tok.SignedString([]byte("wrong-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	v := NewJWTVerifier("expected-secret")
	if _, err := v.Verify(signed); err == nil {
		t.Fatal("expected signature verification to fail")
	}
}

func TestJWTVerifier_RejectsEmptyToken(t *testing.T) {
	v := NewJWTVerifier("secret")
	if _, err := v.Verify(""); err == nil {
		t.Fatal("expected empty token to be rejected")
	}
}
