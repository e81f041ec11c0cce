package flows

import (
	"context"
	"errors"

	"github.com/MrEthical07/authcore/account"
	"github.com/MrEthical07/authcore/internal/rate"
	"github.com/MrEthical07/authcore/session"
)

// LoginMetrics carries metric IDs needed by the login flow.
type LoginMetrics struct {
	Success        int
	Failure        int
	RateLimited    int
	SessionCreated int
	Rehashed       int
	Latency        int
}

// LoginEvents carries audit event names used by the login flow.
type LoginEvents struct {
	Success     string
	Failure     string
	RateLimited string
}

// LoginErrors carries host-level sentinel errors used by the login flow.
type LoginErrors struct {
	EngineNotReady     error
	InvalidCredentials error
	RateLimited        error
}

// LoginDeps captures login dependencies.
type LoginDeps struct {
	Hooks

	// UpgradeOnLogin rehashes the password when its digest uses weaker parameters than
	// the hasher's current configuration.
	UpgradeOnLogin bool

	Accounts  AccountStore
	Passwords PasswordHasher
	Sessions  SessionManager
	Limiter   LoginLimiter

	Metrics LoginMetrics
	Events  LoginEvents
	Errors  LoginErrors
}

// RunLogin verifies credentials and opens a session. Unknown email, disabled account and
// wrong password return the same Errors.InvalidCredentials value after the same amount of
// Argon2 work.
func RunLogin(ctx context.Context, tenantID, email, password string, deps LoginDeps) (session.Issued, error) {
	deps.Hooks = deps.Hooks.withDefaults()
	if deps.Accounts == nil || deps.Passwords == nil || deps.Sessions == nil {
		return session.Issued{}, deps.Errors.EngineNotReady
	}

	started := deps.Now()
	defer func() {
		deps.Observe(deps.Metrics.Latency, deps.Now().Sub(started))
	}()

	tenantID = account.NormalizeTenant(tenantID)
	ip := deps.ClientIPFromContext(ctx)
	normalized, emailErr := account.NormalizeEmail(email)
	if emailErr != nil {
		normalized = email
	}
	throttleKey := rate.LoginKey(tenantID, normalized)

	if deps.Limiter != nil {
		if err := deps.Limiter.CheckLogin(throttleKey, ip); err != nil {
			deps.MetricInc(deps.Metrics.RateLimited)
			deps.EmitAudit(ctx, deps.Events.RateLimited, false, "", tenantID, "", deps.Errors.RateLimited, nil)
			return session.Issued{}, deps.Errors.RateLimited
		}
	}

	fail := func(accountID, why string) error {
		if deps.Limiter != nil {
			if err := deps.Limiter.IncrementLogin(throttleKey, ip); err != nil {
				deps.MetricInc(deps.Metrics.RateLimited)
				deps.EmitAudit(ctx, deps.Events.RateLimited, false, accountID, tenantID, "", deps.Errors.RateLimited, nil)
				return deps.Errors.RateLimited
			}
		}
		deps.MetricInc(deps.Metrics.Failure)
		deps.EmitAudit(ctx, deps.Events.Failure, false, accountID, tenantID, "", deps.Errors.InvalidCredentials, reason(why))
		return deps.Errors.InvalidCredentials
	}

	if emailErr != nil || password == "" {
		deps.Passwords.VerifyDummy(password)
		return session.Issued{}, fail("", "malformed_input")
	}

	acct, err := deps.Accounts.FindByEmail(ctx, tenantID, normalized)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			deps.Passwords.VerifyDummy(password)
			return session.Issued{}, fail("", "account_not_found")
		}
		return session.Issued{}, err
	}

	if !deps.Passwords.Verify(password, acct.PasswordHash) {
		return session.Issued{}, fail(acct.ID, "password_mismatch")
	}
	if acct.Disabled {
		return session.Issued{}, fail(acct.ID, "account_disabled")
	}

	if deps.UpgradeOnLogin && deps.Passwords.NeedsUpgrade(acct.PasswordHash) {
		upgraded, err := deps.Passwords.Hash(password)
		if err != nil {
			deps.Warn(ctx, "password rehash failed", "op", "login", "account_id", acct.ID)
		} else if err := deps.Accounts.UpdatePasswordHash(ctx, acct.ID, upgraded); err != nil {
			// Best effort: the login already succeeded.
			deps.Warn(ctx, "password rehash update failed", "op", "login", "account_id", acct.ID, "error", err)
		} else {
			acct.PasswordHash = upgraded
			deps.MetricInc(deps.Metrics.Rehashed)
		}
	}
	password = ""

	issued, err := deps.Sessions.Start(ctx, acct)
	if err != nil {
		if errors.Is(err, session.ErrAccountInactive) {
			return session.Issued{}, fail(acct.ID, "account_disabled")
		}
		return session.Issued{}, err
	}
	if deps.Limiter != nil {
		deps.Limiter.ResetLogin(throttleKey)
	}

	deps.MetricInc(deps.Metrics.SessionCreated)
	deps.MetricInc(deps.Metrics.Success)
	deps.EmitAudit(ctx, deps.Events.Success, true, acct.ID, acct.TenantID, issued.Session.ID, nil, nil)
	return issued, nil
}
