package flows

import (
	"context"
	"time"

	"github.com/MrEthical07/authcore/account"
	"github.com/MrEthical07/authcore/session"
)

// AccountStore is the slice of account.Store the flows use.
type AccountStore interface {
	Create(ctx context.Context, tenantID, email, passwordHash string) (account.Account, error)
	FindByEmail(ctx context.Context, tenantID, email string) (account.Account, error)
	FindByID(ctx context.Context, id string) (account.Account, error)
	Disable(ctx context.Context, id string) (account.Account, error)
	UpdatePasswordHash(ctx context.Context, id, passwordHash string) error
}

// PasswordHasher is the slice of password.Argon2 the flows use.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password, encodedHash string) bool
	VerifyDummy(password string) bool
	NeedsUpgrade(encodedHash string) bool
}

// SessionManager is the slice of session.Manager the flows use.
type SessionManager interface {
	Start(ctx context.Context, acct account.Account) (session.Issued, error)
	Refresh(ctx context.Context, refreshToken string) (session.Issued, error)
	Verify(ctx context.Context, accessToken string) (session.Identity, error)
	Revoke(ctx context.Context, sessionID string, reason session.RevokeReason) error
	RevokeAll(ctx context.Context, accountID string, reason session.RevokeReason) (int, error)
}

// LoginLimiter throttles failed logins. A nil LoginLimiter disables throttling.
type LoginLimiter interface {
	CheckLogin(identifier, ip string) error
	IncrementLogin(identifier, ip string) error
	ResetLogin(identifier string)
}

// AuditFunc emits one audit event. metadata is only invoked when the event is kept.
type AuditFunc func(
	ctx context.Context,
	eventType string,
	success bool,
	accountID, tenantID, sessionID string,
	err error,
	metadata func() map[string]string,
)

// Hooks are the observability callbacks shared by every flow. Nil fields are no-ops.
type Hooks struct {
	Now                 func() time.Time
	ClientIPFromContext func(context.Context) string
	MetricInc           func(int)
	Observe             func(int, time.Duration)
	EmitAudit           AuditFunc
	Warn                func(ctx context.Context, msg string, args ...any)
}

func (h Hooks) withDefaults() Hooks {
	if h.Now == nil {
		h.Now = time.Now
	}
	if h.ClientIPFromContext == nil {
		h.ClientIPFromContext = func(context.Context) string { return "" }
	}
	if h.MetricInc == nil {
		h.MetricInc = func(int) {}
	}
	if h.Observe == nil {
		h.Observe = func(int, time.Duration) {}
	}
	if h.EmitAudit == nil {
		h.EmitAudit = func(context.Context, string, bool, string, string, string, error, func() map[string]string) {}
	}
	if h.Warn == nil {
		h.Warn = func(context.Context, string, ...any) {}
	}
	return h
}

// Deps groups flow dependency sets. The root engine builds this once and delegates
// request methods to the matching flow implementation.
type Deps struct {
	Signup       SignupDeps
	Login        LoginDeps
	Refresh      RefreshDeps
	Authenticate AuthenticateDeps
	Logout       LogoutDeps
	Account      AccountDeps
}
