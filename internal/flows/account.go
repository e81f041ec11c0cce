package flows

import (
	"context"
	"errors"
	"strconv"

	"github.com/MrEthical07/authcore/account"
	"github.com/MrEthical07/authcore/internal/rate"
	"github.com/MrEthical07/authcore/session"
)

// AccountMetrics carries metric IDs needed by account lifecycle flows.
type AccountMetrics struct {
	Disabled              int
	SessionInvalidated    int
	PasswordChangeSuccess int
	PasswordChangeInvalid int
}

// AccountEvents carries audit event names used by account lifecycle flows.
type AccountEvents struct {
	Disabled              string
	PasswordChangeSuccess string
	PasswordChangeFailure string
}

// AccountErrors carries host-level sentinel errors used by account lifecycle flows.
type AccountErrors struct {
	InvalidCredentials error
}

// AccountDeps captures account lifecycle dependencies.
type AccountDeps struct {
	Hooks

	Accounts  AccountStore
	Passwords PasswordHasher
	Sessions  SessionManager
	Limiter   LoginLimiter

	Metrics AccountMetrics
	Events  AccountEvents
	Errors  AccountErrors
}

// RunDisableAccount flags the account disabled, then revokes its sessions. The flag is
// written first: if revocation fails part way, refresh still refuses the account.
func RunDisableAccount(ctx context.Context, accountID string, deps AccountDeps) (account.Account, error) {
	deps.Hooks = deps.Hooks.withDefaults()

	acct, err := deps.Accounts.Disable(ctx, accountID)
	if err != nil {
		return account.Account{}, err
	}
	n, err := deps.Sessions.RevokeAll(ctx, acct.ID, session.ReasonAccountDisabled)
	if err != nil {
		deps.Warn(ctx, "session revocation after disable failed", "op", "disable_account", "account_id", acct.ID, "error", err)
		return account.Account{}, err
	}

	deps.MetricInc(deps.Metrics.Disabled)
	for i := 0; i < n; i++ {
		deps.MetricInc(deps.Metrics.SessionInvalidated)
	}
	deps.EmitAudit(ctx, deps.Events.Disabled, true, acct.ID, acct.TenantID, "", nil, func() map[string]string {
		return map[string]string{"revoked": strconv.Itoa(n)}
	})
	return acct, nil
}

// RunChangePassword re-verifies the old password, stores a digest of the new one and
// revokes every session of the account.
func RunChangePassword(ctx context.Context, tenantID, email, oldPassword, newPassword string, deps AccountDeps) error {
	deps.Hooks = deps.Hooks.withDefaults()
	tenantID = account.NormalizeTenant(tenantID)

	invalid := func(accountID, why string) error {
		deps.MetricInc(deps.Metrics.PasswordChangeInvalid)
		deps.EmitAudit(ctx, deps.Events.PasswordChangeFailure, false, accountID, tenantID, "", deps.Errors.InvalidCredentials, reason(why))
		return deps.Errors.InvalidCredentials
	}

	acct, err := deps.Accounts.FindByEmail(ctx, tenantID, email)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			deps.Passwords.VerifyDummy(oldPassword)
			return invalid("", "account_not_found")
		}
		return err
	}
	if !deps.Passwords.Verify(oldPassword, acct.PasswordHash) {
		return invalid(acct.ID, "password_mismatch")
	}
	if acct.Disabled {
		return invalid(acct.ID, "account_disabled")
	}

	hash, err := deps.Passwords.Hash(newPassword)
	if err != nil {
		deps.EmitAudit(ctx, deps.Events.PasswordChangeFailure, false, acct.ID, tenantID, "", err, reason("password_policy"))
		return err
	}
	if err := deps.Accounts.UpdatePasswordHash(ctx, acct.ID, hash); err != nil {
		return err
	}

	n, err := deps.Sessions.RevokeAll(ctx, acct.ID, session.ReasonPasswordChanged)
	if err != nil {
		deps.Warn(ctx, "session revocation after password change failed", "op", "change_password", "account_id", acct.ID, "error", err)
		return err
	}
	if deps.Limiter != nil {
		deps.Limiter.ResetLogin(rate.LoginKey(tenantID, acct.Email))
	}

	deps.MetricInc(deps.Metrics.PasswordChangeSuccess)
	for i := 0; i < n; i++ {
		deps.MetricInc(deps.Metrics.SessionInvalidated)
	}
	deps.EmitAudit(ctx, deps.Events.PasswordChangeSuccess, true, acct.ID, acct.TenantID, "", nil, func() map[string]string {
		return map[string]string{"revoked": strconv.Itoa(n)}
	})
	return nil
}
