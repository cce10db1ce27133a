package httpapi

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	famauth "github.com/toolsfactory/TaschengeldManager-sub001"
)

func TestClientIPPrefersForwardedFor(t *testing.T) {
	req := httptest.NewRequest("POST", "/auth/login", nil)
	req.RemoteAddr = "192.0.2.10:51234"

	if got := clientIP(req); got != "192.0.2.10" {
		t.Fatalf("remote addr ip = %q", got)
	}

	req.Header.Set("X-Forwarded-For", "203.0.113.7")
	if got := clientIP(req); got != "203.0.113.7" {
		t.Fatalf("forwarded ip = %q", got)
	}

	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1, 10.0.0.2")
	if got := clientIP(req); got != "203.0.113.7" {
		t.Fatalf("first forwarded hop = %q", got)
	}
}

func TestDecodeRejectsBadBodies(t *testing.T) {
	s := testServer()

	type loginRequest struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}

	for _, body := range []string{
		"",
		"{not json",
		`{"email": "a@b.c", "surprise": true}`,
	} {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest("POST", "/auth/login", strings.NewReader(body))
		var dst loginRequest
		if s.decode(rec, req, &dst) {
			t.Fatalf("decode accepted %q", body)
		}
		if rec.Code != http.StatusUnprocessableEntity {
			t.Fatalf("body %q: status = %d", body, rec.Code)
		}
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/auth/login", strings.NewReader(`{"email":"a@b.c","password":"pw"}`))
	var dst loginRequest
	if !s.decode(rec, req, &dst) {
		t.Fatalf("decode rejected valid body")
	}
	if dst.Email != "a@b.c" {
		t.Fatalf("email = %q", dst.Email)
	}
}

func TestMFAHeaderToken(t *testing.T) {
	req := httptest.NewRequest("POST", "/auth/mfa/verify", nil)
	if got := mfaHeaderToken(req); got != "" {
		t.Fatalf("missing header token = %q", got)
	}
	req.Header.Set("X-MFA-Token", "  pending.jwt.token  ")
	if got := mfaHeaderToken(req); got != "pending.jwt.token" {
		t.Fatalf("trimmed token = %q", got)
	}
}

func TestLoginPayloadPendingIncludesUserID(t *testing.T) {
	userID := famauth.NewUserID()
	res := &famauth.LoginResult{
		RequiresMFA:      true,
		MFAToken:         "pending.jwt.token",
		AvailableMethods: []famauth.MFAMethod{famauth.MFATOTP},
		UserID:           userID,
	}
	out := loginPayload(res)

	if out.UserID != userID.String() {
		t.Fatalf("userId = %q, want %q", out.UserID, userID.String())
	}
	if out.AccessToken != "" || out.RefreshToken != "" {
		t.Fatalf("pending payload carries tokens: %+v", out)
	}
}
