package httpapi

import (
	"net/http"
	"time"

	famauth "github.com/toolsfactory/TaschengeldManager-sub001"
	"github.com/toolsfactory/TaschengeldManager-sub001/middleware"
)

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Nickname string `json:"nickname"`
}

type registerResponse struct {
	UserID           string `json:"userId"`
	FamilyID         string `json:"familyId"`
	FamilyCode       string `json:"familyCode,omitempty"`
	MFASetupToken    string `json:"mfaSetupToken,omitempty"`
	MFASetupRequired bool   `json:"mfaSetupRequired"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.engine.RegisterParent(r.Context(), req.Email, req.Password, req.Nickname)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, registerResponse{
		UserID:           res.UserID.String(),
		FamilyID:         res.FamilyID.String(),
		FamilyCode:       res.FamilyCode,
		MFASetupToken:    res.MFASetupToken,
		MFASetupRequired: res.MFASetupRequired,
	})
}

type loginParentRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginChildRequest struct {
	FamilyCode string `json:"familyCode"`
	Nickname   string `json:"nickname"`
	PIN        string `json:"pin"`
}

type loginResponse struct {
	RequiresMFA      bool         `json:"requiresMfa"`
	MFAToken         string       `json:"mfaToken,omitempty"`
	AvailableMethods []string     `json:"availableMethods,omitempty"`
	UserID           string       `json:"userId,omitempty"`
	AccessToken      string       `json:"accessToken,omitempty"`
	RefreshToken     string       `json:"refreshToken,omitempty"`
	ExpiresAt        *time.Time   `json:"expiresAt,omitempty"`
	SessionID        string       `json:"sessionId,omitempty"`
	User             *userPayload `json:"user,omitempty"`
}

type userPayload struct {
	ID         string `json:"id"`
	FamilyID   string `json:"familyId"`
	Email      string `json:"email,omitempty"`
	Nickname   string `json:"nickname"`
	Role       string `json:"role"`
	MFAEnabled bool   `json:"mfaEnabled"`
}

func loginPayload(res *famauth.LoginResult) loginResponse {
	out := loginResponse{
		RequiresMFA: res.RequiresMFA,
		MFAToken:    res.MFAToken,
	}
	for _, m := range res.AvailableMethods {
		out.AvailableMethods = append(out.AvailableMethods, m.String())
	}
	if res.RequiresMFA {
		out.UserID = res.UserID.String()
		return out
	}
	out.AccessToken = res.AccessToken
	out.RefreshToken = res.RefreshToken
	if !res.ExpiresAt.IsZero() {
		t := res.ExpiresAt
		out.ExpiresAt = &t
	}
	out.SessionID = res.SessionID.String()
	if res.User != nil {
		out.User = &userPayload{
			ID:         res.User.ID.String(),
			FamilyID:   res.User.FamilyID.String(),
			Email:      res.User.Email,
			Nickname:   res.User.Nickname,
			Role:       res.User.Role.String(),
			MFAEnabled: res.User.MFAEnabled,
		}
	}
	return out
}

func (s *Server) handleLoginParent(w http.ResponseWriter, r *http.Request) {
	var req loginParentRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.engine.LoginParent(r.Context(), famauth.AdultCredential{Email: req.Email, Password: req.Password})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, loginPayload(res))
}

func (s *Server) handleLoginChild(w http.ResponseWriter, r *http.Request) {
	var req loginChildRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.engine.LoginChild(r.Context(), famauth.ChildCredential{FamilyCode: req.FamilyCode, Nickname: req.Nickname, PIN: req.PIN})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, loginPayload(res))
}

type biometricLoginRequest struct {
	DeviceID       string `json:"deviceId"`
	BiometricToken string `json:"biometricToken"`
}

func (s *Server) handleLoginBiometric(w http.ResponseWriter, r *http.Request) {
	var req biometricLoginRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.engine.LoginBiometric(r.Context(), req.DeviceID, req.BiometricToken)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, loginPayload(res))
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.engine.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, loginPayload(res))
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.engine.Logout(r.Context(), req.RefreshToken); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	ac, _ := middleware.AccessFromContext(r.Context())
	n, err := s.engine.LogoutAll(r.Context(), ac.UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int{"revoked": n})
}

func (s *Server) handleLogoutOthers(w http.ResponseWriter, r *http.Request) {
	ac, _ := middleware.AccessFromContext(r.Context())
	n, err := s.engine.LogoutOthers(r.Context(), ac.UserID, ac.SessionID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int{"revoked": n})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	ac, _ := middleware.AccessFromContext(r.Context())
	me, err := s.engine.Me(r.Context(), ac.UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, userPayload{
		ID:         me.ID.String(),
		FamilyID:   me.FamilyID.String(),
		Email:      me.Email,
		Nickname:   me.Nickname,
		Role:       me.Role.String(),
		MFAEnabled: me.MFAEnabled,
	})
}

type sessionPayload struct {
	ID             string    `json:"id"`
	DeviceName     string    `json:"deviceName,omitempty"`
	IP             string    `json:"ip,omitempty"`
	UserAgent      string    `json:"userAgent,omitempty"`
	TrustedDevice  bool      `json:"trustedDevice"`
	Current        bool      `json:"current"`
	CreatedAt      time.Time `json:"createdAt"`
	LastActivityAt time.Time `json:"lastActivityAt"`
	ExpiresAt      time.Time `json:"expiresAt"`
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	ac, _ := middleware.AccessFromContext(r.Context())
	sessions, err := s.engine.Sessions(r.Context(), ac.UserID, ac.SessionID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]sessionPayload, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, sessionPayload{
			ID:             sess.ID.String(),
			DeviceName:     sess.DeviceName,
			IP:             sess.IP,
			UserAgent:      sess.UserAgent,
			TrustedDevice:  sess.TrustedDevice,
			Current:        sess.Current,
			CreatedAt:      sess.CreatedAt,
			LastActivityAt: sess.LastActivityAt,
			ExpiresAt:      sess.ExpiresAt,
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

func (s *Server) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	ac, _ := middleware.AccessFromContext(r.Context())
	if err := s.engine.DeleteAccount(r.Context(), ac.UserID); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
