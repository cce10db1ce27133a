package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	famauth "github.com/toolsfactory/TaschengeldManager-sub001"
	"github.com/toolsfactory/TaschengeldManager-sub001/middleware"
)

type registerChildRequest struct {
	Nickname string `json:"nickname"`
	PIN      string `json:"pin"`
}

func (s *Server) handleRegisterChild(w http.ResponseWriter, r *http.Request) {
	ac, _ := middleware.AccessFromContext(r.Context())
	var req registerChildRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.engine.RegisterChild(r.Context(), ac.UserID, req.Nickname, req.PIN)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, registerResponse{
		UserID:   res.UserID.String(),
		FamilyID: res.FamilyID.String(),
	})
}

func (s *Server) handleUnlockChild(w http.ResponseWriter, r *http.Request) {
	ac, _ := middleware.AccessFromContext(r.Context())
	childID, err := famauth.ParseUserID(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, famauth.ErrValidation)
		return
	}
	if err := s.engine.UnlockUser(r.Context(), ac.UserID, childID); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type pendingApprovalPayload struct {
	ID         string    `json:"id"`
	ChildID    string    `json:"childId"`
	DeviceName string    `json:"deviceName,omitempty"`
	IP         string    `json:"ip,omitempty"`
	ExpiresAt  time.Time `json:"expiresAt"`
	CreatedAt  time.Time `json:"createdAt"`
}

func (s *Server) handlePendingApprovals(w http.ResponseWriter, r *http.Request) {
	ac, _ := middleware.AccessFromContext(r.Context())
	pending, err := s.engine.PendingApprovals(r.Context(), ac.UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]pendingApprovalPayload, 0, len(pending))
	for _, p := range pending {
		out = append(out, pendingApprovalPayload{
			ID:         p.ID.String(),
			ChildID:    p.ChildID.String(),
			DeviceName: p.DeviceName,
			IP:         p.IP,
			ExpiresAt:  p.ExpiresAt,
			CreatedAt:  p.CreatedAt,
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"approvals": out})
}

type respondApprovalRequest struct {
	Approve bool `json:"approve"`
}

func (s *Server) handleRespondApproval(w http.ResponseWriter, r *http.Request) {
	ac, _ := middleware.AccessFromContext(r.Context())
	id, err := famauth.ParseApprovalID(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, famauth.ErrValidation)
		return
	}
	var req respondApprovalRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.engine.RespondToApproval(r.Context(), ac.UserID, id, req.Approve); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
