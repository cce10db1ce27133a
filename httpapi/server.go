// Package httpapi exposes the engine over REST. It owns request decoding,
// the error envelope, and route wiring; every decision is delegated to the
// engine.
package httpapi

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	famauth "github.com/toolsfactory/TaschengeldManager-sub001"
	"github.com/toolsfactory/TaschengeldManager-sub001/middleware"
)

// Server wires the engine's operations onto HTTP routes.
type Server struct {
	engine   *famauth.Engine
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

func NewServer(engine *famauth.Engine, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		engine: engine,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// Router builds the full route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.clientInfo)

	r.HandleFunc("/auth/register", s.handleRegister).Methods(http.MethodPost)
	r.HandleFunc("/auth/login", s.handleLoginParent).Methods(http.MethodPost)
	r.HandleFunc("/auth/login/child", s.handleLoginChild).Methods(http.MethodPost)
	r.HandleFunc("/auth/login/biometric", s.handleLoginBiometric).Methods(http.MethodPost)
	r.HandleFunc("/auth/refresh", s.handleRefresh).Methods(http.MethodPost)
	r.HandleFunc("/auth/logout", s.handleLogout).Methods(http.MethodPost)

	r.HandleFunc("/auth/mfa/totp/setup", s.handleTOTPSetup).Methods(http.MethodPost)
	r.HandleFunc("/auth/mfa/totp/confirm", s.handleTOTPConfirm).Methods(http.MethodPost)
	r.HandleFunc("/auth/mfa/verify", s.handleVerifyMFA).Methods(http.MethodPost)
	r.HandleFunc("/auth/mfa/approval/request", s.handleApprovalRequest).Methods(http.MethodPost)
	r.HandleFunc("/auth/mfa/approval/{id}", s.handleApprovalStatus).Methods(http.MethodGet)
	r.HandleFunc("/auth/mfa/approval/{id}/wait", s.handleApprovalWait).Methods(http.MethodGet)

	authed := r.NewRoute().Subrouter()
	authed.Use(middleware.RequireAuth(s.engine))
	authed.HandleFunc("/auth/me", s.handleMe).Methods(http.MethodGet)
	authed.HandleFunc("/auth/sessions", s.handleSessions).Methods(http.MethodGet)
	authed.HandleFunc("/auth/logout/all", s.handleLogoutAll).Methods(http.MethodPost)
	authed.HandleFunc("/auth/logout/others", s.handleLogoutOthers).Methods(http.MethodPost)
	authed.HandleFunc("/auth/mfa/biometric/enable", s.handleBiometricEnable).Methods(http.MethodPost)
	authed.HandleFunc("/auth/mfa/biometric/{deviceID}", s.handleBiometricDisable).Methods(http.MethodDelete)
	authed.HandleFunc("/auth/mfa/biometric", s.handleBiometricDisableAll).Methods(http.MethodDelete)
	authed.HandleFunc("/auth/mfa/backup/regenerate", s.handleBackupRegenerate).Methods(http.MethodPost)
	authed.HandleFunc("/auth/account", s.handleDeleteAccount).Methods(http.MethodDelete)

	family := r.NewRoute().Subrouter()
	family.Use(middleware.RequireAuth(s.engine), middleware.RequireRole(famauth.RoleParent))
	family.HandleFunc("/family/children", s.handleRegisterChild).Methods(http.MethodPost)
	family.HandleFunc("/family/children/{id}/unlock", s.handleUnlockChild).Methods(http.MethodPost)
	family.HandleFunc("/family/approvals", s.handlePendingApprovals).Methods(http.MethodGet)
	family.HandleFunc("/family/approvals/{id}/respond", s.handleRespondApproval).Methods(http.MethodPost)

	return r
}

// clientInfo copies transport facts into the context so the engine can log
// them without knowing about HTTP.
func (s *Server) clientInfo(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := famauth.WithClientIP(r.Context(), clientIP(r))
		ctx = famauth.WithUserAgent(ctx, r.UserAgent())
		if name := r.Header.Get("X-Device-Name"); name != "" {
			ctx = famauth.WithDeviceName(ctx, name)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i > 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		s.writeError(w, r, famauth.ErrValidation)
		return false
	}
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		if err := json.NewEncoder(w).Encode(body); err != nil {
			s.logger.Warn("response encode failed", zap.Error(err))
		}
	}
}

// mfaHeaderToken pulls the MFA-pending token from its dedicated header.
// It deliberately does not share the Authorization header: a pending token
// is not an access token.
func mfaHeaderToken(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-MFA-Token"))
}

const approvalPollInterval = 2 * time.Second
