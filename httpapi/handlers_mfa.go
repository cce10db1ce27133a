package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	famauth "github.com/toolsfactory/TaschengeldManager-sub001"
	"github.com/toolsfactory/TaschengeldManager-sub001/middleware"
)

type totpSetupRequest struct {
	SetupToken string `json:"setupToken"`
}

func (s *Server) handleTOTPSetup(w http.ResponseWriter, r *http.Request) {
	var req totpSetupRequest
	if !s.decode(w, r, &req) {
		return
	}
	setup, err := s.engine.BeginTOTPSetup(r.Context(), req.SetupToken)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"secret":     setup.SecretBase32,
		"otpauthUri": setup.OtpauthURI,
		"setupToken": setup.SetupToken,
	})
}

type totpConfirmRequest struct {
	SetupToken string `json:"setupToken"`
	Code       string `json:"code"`
}

func (s *Server) handleTOTPConfirm(w http.ResponseWriter, r *http.Request) {
	var req totpConfirmRequest
	if !s.decode(w, r, &req) {
		return
	}
	codes, err := s.engine.ConfirmTOTPSetup(r.Context(), req.SetupToken, req.Code)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"backupCodes": codes})
}

type verifyMFARequest struct {
	MFAToken    string `json:"mfaToken"`
	Method      string `json:"method"`
	Code        string `json:"code,omitempty"`
	DeviceID    string `json:"deviceId,omitempty"`
	DeviceToken string `json:"deviceToken,omitempty"`
	ApprovalID  string `json:"approvalId,omitempty"`
	TrustDevice bool   `json:"trustDevice,omitempty"`
}

func (s *Server) handleVerifyMFA(w http.ResponseWriter, r *http.Request) {
	var req verifyMFARequest
	if !s.decode(w, r, &req) {
		return
	}
	method, ok := famauth.ParseMFAMethod(req.Method)
	if !ok {
		s.writeError(w, r, famauth.ErrValidation)
		return
	}
	var approvalID famauth.ApprovalID
	if req.ApprovalID != "" {
		parsed, err := famauth.ParseApprovalID(req.ApprovalID)
		if err != nil {
			s.writeError(w, r, famauth.ErrValidation)
			return
		}
		approvalID = parsed
	}
	res, err := s.engine.VerifyMFA(r.Context(), req.MFAToken, method, famauth.MFAEvidence{
		Code:         req.Code,
		DeviceID:     req.DeviceID,
		DeviceSecret: req.DeviceToken,
		ApprovalID:   approvalID,
		TrustDevice:  req.TrustDevice,
	})
	if err != nil {
		if errors.Is(err, famauth.ErrApprovalPending) {
			s.writeJSON(w, http.StatusAccepted, map[string]string{"status": famauth.ApprovalPending.String()})
			return
		}
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, loginPayload(res))
}

func (s *Server) handleApprovalRequest(w http.ResponseWriter, r *http.Request) {
	ticket, err := s.engine.RequestParentApproval(r.Context(), mfaHeaderToken(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, approvalPayload(ticket))
}

func (s *Server) handleApprovalStatus(w http.ResponseWriter, r *http.Request) {
	id, err := famauth.ParseApprovalID(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, famauth.ErrValidation)
		return
	}
	ticket, err := s.engine.ApprovalStatus(r.Context(), mfaHeaderToken(r), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, approvalPayload(ticket))
}

func approvalPayload(t *famauth.ApprovalTicket) map[string]any {
	return map[string]any{
		"id":        t.ID.String(),
		"status":    t.Status.String(),
		"expiresAt": t.ExpiresAt.UTC().Format(time.RFC3339),
	}
}

type biometricEnableRequest struct {
	DeviceID     string `json:"deviceId"`
	DeviceName   string `json:"deviceName,omitempty"`
	Platform     string `json:"platform,omitempty"`
	BiometryType string `json:"biometryType,omitempty"`
}

func (s *Server) handleBiometricEnable(w http.ResponseWriter, r *http.Request) {
	ac, _ := middleware.AccessFromContext(r.Context())
	var req biometricEnableRequest
	if !s.decode(w, r, &req) {
		return
	}
	enrollment, err := s.engine.EnableBiometric(r.Context(), ac.UserID, ac.SessionID, famauth.BiometricEnrollRequest{
		DeviceID:     req.DeviceID,
		DeviceName:   req.DeviceName,
		Platform:     req.Platform,
		BiometryType: req.BiometryType,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]any{
		"deviceId":       enrollment.DeviceID,
		"biometricToken": enrollment.Token,
		"expiresAt":      enrollment.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleBiometricDisable(w http.ResponseWriter, r *http.Request) {
	ac, _ := middleware.AccessFromContext(r.Context())
	if err := s.engine.DisableBiometric(r.Context(), ac.UserID, mux.Vars(r)["deviceID"]); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleBiometricDisableAll(w http.ResponseWriter, r *http.Request) {
	ac, _ := middleware.AccessFromContext(r.Context())
	if err := s.engine.DisableAllBiometrics(r.Context(), ac.UserID); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type backupRegenerateRequest struct {
	Code string `json:"code"`
}

func (s *Server) handleBackupRegenerate(w http.ResponseWriter, r *http.Request) {
	ac, _ := middleware.AccessFromContext(r.Context())
	var req backupRegenerateRequest
	if !s.decode(w, r, &req) {
		return
	}
	codes, err := s.engine.RegenerateBackupCodes(r.Context(), ac.UserID, req.Code)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"backupCodes": codes})
}
