package famauth

import (
	"context"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// Sweep performs one pass of background housekeeping: marks overdue
// approvals expired, then deletes sessions past their retention grace, dead
// device tokens, old login attempts, and old approval rows.
func (e *Engine) Sweep(ctx context.Context) (*SweepReport, error) {
	now := e.now()
	ret := e.config.Retention
	report := &SweepReport{}

	marked, err := e.stores.Approvals.ExpireOld(ctx, now)
	if err != nil {
		return report, err
	}
	report.ApprovalsMarked = marked

	sessions, err := e.stores.Sessions.DeleteExpired(ctx, now, ret.SessionGrace)
	if err != nil {
		return report, err
	}
	report.Sessions = sessions

	devices, err := e.stores.Biometrics.DeleteExpired(ctx, now)
	if err != nil {
		return report, err
	}
	report.BiometricTokens = devices

	attempts, err := e.stores.Attempts.DeleteOlderThan(ctx, now.Add(-ret.AttemptAge))
	if err != nil {
		return report, err
	}
	report.LoginAttempts = attempts

	approvals, err := e.stores.Approvals.DeleteOlderThan(ctx, now.Add(-ret.ApprovalAge))
	if err != nil {
		return report, err
	}
	report.Approvals = approvals

	total := sessions + devices + attempts + approvals
	if e.metrics != nil {
		e.metrics.Add(MetricSweepDeleted, uint64(total))
	}
	e.emitAudit(ctx, auditEventSweepCompleted, true, "", "", "", nil, func() map[string]string {
		return map[string]string{
			"sessions":  formatInt64(sessions),
			"devices":   formatInt64(devices),
			"attempts":  formatInt64(attempts),
			"approvals": formatInt64(approvals),
		}
	})

	return report, nil
}

// RunSweeper blocks, sweeping on the configured interval until the context
// is cancelled. Run it in its own goroutine.
func (e *Engine) RunSweeper(ctx context.Context) {
	interval := e.config.Retention.SweepInterval
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if report, err := e.Sweep(ctx); err != nil {
				e.logger.Warn("sweep pass failed", zap.Error(err))
			} else {
				e.logger.Debug("sweep pass",
					zap.Int64("sessions", report.Sessions),
					zap.Int64("biometric_tokens", report.BiometricTokens),
					zap.Int64("login_attempts", report.LoginAttempts),
					zap.Int64("approvals", report.Approvals),
					zap.Int64("approvals_marked", report.ApprovalsMarked),
				)
			}
		}
	}
}

func formatInt64(n int64) string {
	return strconv.FormatInt(n, 10)
}
