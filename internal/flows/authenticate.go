package flows

import (
	"context"

	"github.com/MrEthical07/authcore/session"
)

// AuthenticateMetrics carries metric IDs needed by the authenticate flow.
type AuthenticateMetrics struct {
	Failure int
	Latency int
}

// AuthenticateDeps captures access-token validation dependencies.
type AuthenticateDeps struct {
	Hooks

	Sessions SessionManager

	Metrics AuthenticateMetrics
}

// RunAuthenticate verifies the access token and the session it names. It emits no
// audit events; authentication happens on every request.
func RunAuthenticate(ctx context.Context, accessToken string, deps AuthenticateDeps) (session.Identity, error) {
	deps.Hooks = deps.Hooks.withDefaults()

	started := deps.Now()
	id, err := deps.Sessions.Verify(ctx, accessToken)
	deps.Observe(deps.Metrics.Latency, deps.Now().Sub(started))
	if err != nil {
		deps.MetricInc(deps.Metrics.Failure)
		return session.Identity{}, err
	}
	return id, nil
}
