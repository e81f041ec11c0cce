package flows

import (
	"context"
	"errors"
	"strconv"

	"github.com/MrEthical07/authcore/session"
)

// RefreshMetrics carries metric IDs needed by the refresh flow.
type RefreshMetrics struct {
	Success            int
	Failure            int
	ReuseDetected      int
	SessionInvalidated int
}

// RefreshEvents carries audit event names used by the refresh flow.
type RefreshEvents struct {
	Success       string
	Invalid       string
	ReuseDetected string
}

// RefreshDeps captures refresh flow dependencies.
type RefreshDeps struct {
	Hooks

	Sessions SessionManager

	Metrics RefreshMetrics
	Events  RefreshEvents
}

// RunRefresh rotates the refresh token. Reuse of a consumed token has already revoked
// the session by the time the error reaches this flow.
func RunRefresh(ctx context.Context, refreshToken string, deps RefreshDeps) (session.Issued, error) {
	deps.Hooks = deps.Hooks.withDefaults()

	issued, err := deps.Sessions.Refresh(ctx, refreshToken)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrRefreshReuse):
			deps.MetricInc(deps.Metrics.ReuseDetected)
			deps.MetricInc(deps.Metrics.SessionInvalidated)
			deps.EmitAudit(ctx, deps.Events.ReuseDetected, false, "", "", "", err, nil)
		case errors.Is(err, session.ErrRefreshInvalid):
			deps.MetricInc(deps.Metrics.Failure)
			deps.EmitAudit(ctx, deps.Events.Invalid, false, "", "", "", err, nil)
		default:
			deps.MetricInc(deps.Metrics.Failure)
			deps.EmitAudit(ctx, deps.Events.Invalid, false, "", "", "", err, reason("store"))
		}
		return session.Issued{}, err
	}

	deps.MetricInc(deps.Metrics.Success)
	deps.EmitAudit(ctx, deps.Events.Success, true, issued.Session.AccountID, issued.Session.TenantID, issued.Session.ID, nil, func() map[string]string {
		return map[string]string{"generation": strconv.FormatUint(uint64(issued.Session.Generation), 10)}
	})
	return issued, nil
}
