package famauth

import (
	"context"
	"errors"
	"fmt"

	"github.com/toolsfactory/TaschengeldManager-sub001/internal/rate"
	"github.com/toolsfactory/TaschengeldManager-sub001/token"
)

// RequestParentApproval opens an approval ticket for a child holding an
// MFA-pending token. The ticket expires on its own; a child can only keep a
// bounded number of open requests per window so a parent's phone is not
// flooded with prompts.
func (e *Engine) RequestParentApproval(ctx context.Context, mfaToken string) (*ApprovalTicket, error) {
	claims, err := e.tokens.ParseChallenge(mfaToken, token.PurposeMFAPending)
	if err != nil {
		return nil, ErrMFATokenInvalid
	}
	childID, err := ParseUserID(claims.UID)
	if err != nil {
		return nil, ErrMFATokenInvalid
	}
	child, err := e.stores.Users.GetByID(ctx, childID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrMFATokenInvalid
		}
		return nil, err
	}
	if child.Role != RoleChild {
		return nil, ErrMFANotConfigured
	}

	if err := e.limiter.AllowApprovalRequest(ctx, childID.String()); err != nil {
		if errors.Is(err, rate.ErrRateLimited) {
			return nil, ErrRateLimited
		}
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	now := e.now()
	open, err := e.stores.Approvals.CountOpenForChild(ctx, childID, now.Add(-e.config.Approval.FloodWindow))
	if err != nil {
		return nil, err
	}
	if open >= e.config.Approval.MaxOpenPerWindow {
		return nil, ErrRateLimited
	}

	rec := &ApprovalRequestRecord{
		ID:         NewApprovalID(),
		ChildID:    childID,
		FamilyID:   child.FamilyID,
		DeviceName: deviceNameFromContext(ctx),
		IP:         clientIPFromContext(ctx),
		Status:     ApprovalPending,
		ExpiresAt:  now.Add(e.config.Approval.TTL),
		CreatedAt:  now,
	}
	if err := e.stores.Approvals.Create(ctx, rec); err != nil {
		return nil, err
	}

	e.metricInc(MetricApprovalRequested)
	e.emitAudit(ctx, auditEventApprovalRequested, true, childID.String(), child.FamilyID.String(), "", nil, func() map[string]string {
		return map[string]string{"approval_id": rec.ID.String()}
	})

	return &ApprovalTicket{ID: rec.ID, Status: ApprovalPending, ExpiresAt: rec.ExpiresAt}, nil
}

// ApprovalStatus reports a ticket's current state to the child who opened
// it, identified by the same MFA-pending token.
func (e *Engine) ApprovalStatus(ctx context.Context, mfaToken string, id ApprovalID) (*ApprovalTicket, error) {
	claims, err := e.tokens.ParseChallenge(mfaToken, token.PurposeMFAPending)
	if err != nil {
		return nil, ErrMFATokenInvalid
	}
	childID, err := ParseUserID(claims.UID)
	if err != nil {
		return nil, ErrMFATokenInvalid
	}
	rec, err := e.stores.Approvals.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.ChildID != childID {
		return nil, ErrApprovalForbidden
	}
	return &ApprovalTicket{ID: rec.ID, Status: rec.EffectiveStatus(e.now()), ExpiresAt: rec.ExpiresAt}, nil
}

// RespondToApproval lets a parent of the same family approve or reject a
// pending ticket. The transition is atomic: exactly one response wins, and
// expired tickets cannot be resolved.
func (e *Engine) RespondToApproval(ctx context.Context, parentID UserID, id ApprovalID, approve bool) error {
	parent, err := e.stores.Users.GetByID(ctx, parentID)
	if err != nil {
		return err
	}
	if parent.Role != RoleParent {
		return ErrForbidden
	}
	rec, err := e.stores.Approvals.Get(ctx, id)
	if err != nil {
		return err
	}
	if rec.FamilyID != parent.FamilyID {
		return ErrApprovalForbidden
	}
	now := e.now()
	if rec.EffectiveStatus(now) != ApprovalPending {
		return ErrApprovalNotPending
	}

	status := ApprovalRejected
	if approve {
		status = ApprovalApproved
	}
	won, err := e.stores.Approvals.Resolve(ctx, id, status, parentID, now)
	if err != nil {
		return err
	}
	if !won {
		return ErrApprovalNotPending
	}

	if approve {
		e.metricInc(MetricApprovalApproved)
	} else {
		e.metricInc(MetricApprovalRejected)
	}
	e.emitAudit(ctx, auditEventApprovalResolved, true, rec.ChildID.String(), rec.FamilyID.String(), "", nil, func() map[string]string {
		return map[string]string{"approval_id": id.String(), "status": status.String(), "responder": parentID.String()}
	})
	return nil
}

// PendingApprovals lists open tickets across the parent's family.
func (e *Engine) PendingApprovals(ctx context.Context, parentID UserID) ([]ApprovalRequestRecord, error) {
	parent, err := e.stores.Users.GetByID(ctx, parentID)
	if err != nil {
		return nil, err
	}
	if parent.Role != RoleParent {
		return nil, ErrForbidden
	}
	return e.stores.Approvals.ListPendingForFamily(ctx, parent.FamilyID, e.now())
}
