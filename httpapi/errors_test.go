package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	famauth "github.com/toolsfactory/TaschengeldManager-sub001"
)

func testServer() *Server {
	return NewServer(nil, zap.NewNop())
}

func TestWriteErrorMapsSentinels(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{famauth.ErrValidation, http.StatusUnprocessableEntity, "validation_failed"},
		{famauth.ErrInvalidCredentials, http.StatusUnauthorized, "invalid_credentials"},
		{famauth.ErrAccountLocked, http.StatusForbidden, "account_locked"},
		{famauth.ErrRateLimited, http.StatusTooManyRequests, "rate_limited"},
		{famauth.ErrDuplicateIdentifier, http.StatusConflict, "duplicate_identifier"},
		{famauth.ErrApprovalNotPending, http.StatusGone, "approval_not_pending"},
		{famauth.ErrRefreshReuse, http.StatusUnauthorized, "refresh_reuse"},
		{famauth.ErrStoreUnavailable, http.StatusServiceUnavailable, "store_unavailable"},
	}

	s := testServer()
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest("POST", "/auth/login", nil)
		s.writeError(rec, req, fmt.Errorf("handler: %w", tc.err))

		if rec.Code != tc.status {
			t.Fatalf("%v: status = %d, want %d", tc.err, rec.Code, tc.status)
		}
		var env errorEnvelope
		if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
			t.Fatalf("%v: decode envelope: %v", tc.err, err)
		}
		if env.Code != tc.code {
			t.Fatalf("%v: code = %q, want %q", tc.err, env.Code, tc.code)
		}
	}
}

func TestWriteErrorHidesUnmapped(t *testing.T) {
	s := testServer()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/auth/me", nil)
	s.writeError(rec, req, errors.New("pgx: connection refused at 10.1.2.3"))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	var env errorEnvelope
	if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if env.Error != "internal error" || env.Code != "internal" {
		t.Fatalf("envelope leaked detail: %+v", env)
	}
}
