package flows

import (
	"context"
	"errors"

	"github.com/MrEthical07/authcore/account"
)

// SignupMetrics carries metric IDs needed by the signup flow.
type SignupMetrics struct {
	Success   int
	Duplicate int
	Failure   int
}

// SignupEvents carries audit event names used by the signup flow.
type SignupEvents struct {
	Success   string
	Duplicate string
	Failure   string
}

// SignupDeps captures signup dependencies.
type SignupDeps struct {
	Hooks

	Accounts  AccountStore
	Passwords PasswordHasher

	Metrics SignupMetrics
	Events  SignupEvents
}

// RunSignup validates the email, hashes the password and creates the account. The
// email check runs before hashing so malformed requests never pay for Argon2.
func RunSignup(ctx context.Context, tenantID, email, password string, deps SignupDeps) (account.Account, error) {
	deps.Hooks = deps.Hooks.withDefaults()
	tenantID = account.NormalizeTenant(tenantID)

	if _, err := account.NormalizeEmail(email); err != nil {
		deps.MetricInc(deps.Metrics.Failure)
		deps.EmitAudit(ctx, deps.Events.Failure, false, "", tenantID, "", err, reason("invalid_email"))
		return account.Account{}, err
	}

	hash, err := deps.Passwords.Hash(password)
	if err != nil {
		deps.MetricInc(deps.Metrics.Failure)
		deps.EmitAudit(ctx, deps.Events.Failure, false, "", tenantID, "", err, reason("password_policy"))
		return account.Account{}, err
	}

	acct, err := deps.Accounts.Create(ctx, tenantID, email, hash)
	if err != nil {
		if errors.Is(err, account.ErrDuplicate) {
			deps.MetricInc(deps.Metrics.Duplicate)
			deps.EmitAudit(ctx, deps.Events.Duplicate, false, "", tenantID, "", err, nil)
			return account.Account{}, err
		}
		deps.MetricInc(deps.Metrics.Failure)
		deps.EmitAudit(ctx, deps.Events.Failure, false, "", tenantID, "", err, reason("store"))
		return account.Account{}, err
	}

	deps.MetricInc(deps.Metrics.Success)
	deps.EmitAudit(ctx, deps.Events.Success, true, acct.ID, acct.TenantID, "", nil, nil)
	return acct, nil
}

func reason(r string) func() map[string]string {
	return func() map[string]string {
		return map[string]string{"reason": r}
	}
}
