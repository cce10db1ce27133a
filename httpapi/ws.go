package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	famauth "github.com/toolsfactory/TaschengeldManager-sub001"
)

type approvalEvent struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// handleApprovalWait upgrades to a websocket and pushes the ticket's status
// until it leaves pending, so the child's device does not have to poll over
// HTTP. The MFA-pending token authenticates the subscription.
func (s *Server) handleApprovalWait(w http.ResponseWriter, r *http.Request) {
	id, err := famauth.ParseApprovalID(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, famauth.ErrValidation)
		return
	}
	mfaToken := mfaHeaderToken(r)
	if mfaToken == "" {
		mfaToken = r.URL.Query().Get("token")
	}

	// Authenticate before upgrading so a bad token costs no socket.
	ticket, err := s.engine.ApprovalStatus(r.Context(), mfaToken, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	deadline := ticket.ExpiresAt.Add(approvalPollInterval)
	if err := conn.SetReadDeadline(deadline); err != nil {
		return
	}
	// Drain client frames so pings and close handshakes are processed.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if s.pushApproval(conn, ticket) || ticket.Status != famauth.ApprovalPending {
		return
	}

	ticker := time.NewTicker(approvalPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			ticket, err := s.engine.ApprovalStatus(r.Context(), mfaToken, id)
			if err != nil {
				s.logger.Debug("approval wait poll failed", zap.Error(err))
				return
			}
			if s.pushApproval(conn, ticket) {
				return
			}
			if ticket.Status != famauth.ApprovalPending {
				return
			}
		}
	}
}

// pushApproval writes one status frame; true means the connection is done.
func (s *Server) pushApproval(conn *websocket.Conn, ticket *famauth.ApprovalTicket) bool {
	if err := conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
		return true
	}
	event := approvalEvent{ID: ticket.ID.String(), Status: ticket.Status.String()}
	if err := conn.WriteJSON(event); err != nil {
		return true
	}
	return false
}
