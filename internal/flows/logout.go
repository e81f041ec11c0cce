package flows

import (
	"context"
	"strconv"

	"github.com/MrEthical07/authcore/session"
)

// LogoutMetrics carries metric IDs needed by the logout flows.
type LogoutMetrics struct {
	Logout             int
	LogoutAll          int
	SessionInvalidated int
}

// LogoutEvents carries audit event names used by the logout flows.
type LogoutEvents struct {
	Logout    string
	LogoutAll string
}

// LogoutDeps captures logout flow dependencies.
type LogoutDeps struct {
	Hooks

	Sessions SessionManager

	Metrics LogoutMetrics
	Events  LogoutEvents
}

// RunLogout revokes one session. Unknown and already revoked sessions succeed.
func RunLogout(ctx context.Context, sessionID string, deps LogoutDeps) error {
	deps.Hooks = deps.Hooks.withDefaults()
	if sessionID == "" {
		return nil
	}
	if err := deps.Sessions.Revoke(ctx, sessionID, session.ReasonLogout); err != nil {
		return err
	}
	deps.MetricInc(deps.Metrics.Logout)
	deps.EmitAudit(ctx, deps.Events.Logout, true, "", "", sessionID, nil, nil)
	return nil
}

// RunLogoutAll revokes every active session of accountID.
func RunLogoutAll(ctx context.Context, accountID string, deps LogoutDeps) (int, error) {
	deps.Hooks = deps.Hooks.withDefaults()
	if accountID == "" {
		return 0, nil
	}
	n, err := deps.Sessions.RevokeAll(ctx, accountID, session.ReasonLogoutAll)
	if err != nil {
		return 0, err
	}
	deps.MetricInc(deps.Metrics.LogoutAll)
	for i := 0; i < n; i++ {
		deps.MetricInc(deps.Metrics.SessionInvalidated)
	}
	deps.EmitAudit(ctx, deps.Events.LogoutAll, true, accountID, "", "", nil, func() map[string]string {
		return map[string]string{"revoked": strconv.Itoa(n)}
	})
	return n, nil
}
