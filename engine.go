package authcore

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/MrEthical07/authcore/account"
	internalaudit "github.com/MrEthical07/authcore/internal/audit"
	"github.com/MrEthical07/authcore/internal/flows"
	"github.com/MrEthical07/authcore/internal/rate"
	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/password"
	"github.com/MrEthical07/authcore/session"
	"github.com/MrEthical07/authcore/store"
)

// Engine is the authentication core. Build it once with Builder and share it; every method
// is safe for concurrent use. A nil Engine returns ErrEngineNotReady.
type Engine struct {
	config    Config
	store     store.Store
	keys      jwt.KeyProvider
	tokens    *jwt.Manager
	passwords *password.Argon2
	accounts  *account.Store
	sessions  *session.Manager
	limiter   *rate.Limiter
	audit     *internalaudit.Dispatcher
	metrics   *Metrics
	logger    *slog.Logger
	clock     func() time.Time

	flow flows.Service
}

// KeyRotator is implemented by key providers that support RotateSigningKey, such as
// *jwt.StaticKeys.
type KeyRotator interface {
	Rotate(next jwt.Key) error
}

func (e *Engine) ready() bool {
	return e != nil && e.flow.Initialized()
}

func (e *Engine) now() time.Time {
	if e == nil || e.clock == nil {
		return time.Now()
	}
	return e.clock()
}

// Close stops the audit dispatcher after flushing queued events. The store is owned by
// the caller and stays open.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped reports how many audit events were discarded because the buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot copies the current counters. A disabled or nil engine returns empty maps.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// Signup creates an account. It fails with ErrDuplicateAccount when the tenant already has
// an account for the normalized email, and with an ErrInvalidRequest kind when the email
// is malformed or the password violates the length policy.
func (e *Engine) Signup(ctx context.Context, tenantID, email, password string) (SignupResult, error) {
	if !e.ready() {
		return SignupResult{}, ErrEngineNotReady
	}
	acct, err := e.flow.Signup(ctx, tenantID, email, password)
	if err != nil {
		return SignupResult{}, mapError("signup", err)
	}
	return signupResult(acct), nil
}

// Login verifies credentials and opens a session.
//
// Unknown email, disabled account and wrong password all return the identical
// ErrInvalidCredentials value. While the (tenant, email) pair is throttled Login returns
// ErrRateLimited without touching the store.
func (e *Engine) Login(ctx context.Context, tenantID, email, password string) (TokenPair, error) {
	if !e.ready() {
		return TokenPair{}, ErrEngineNotReady
	}
	issued, err := e.flow.Login(ctx, tenantID, email, password)
	if err != nil {
		return TokenPair{}, mapError("login", err)
	}
	return tokenPair(issued), nil
}

// Refresh exchanges a refresh token for a new pair. A consumed token revokes its session
// and returns ErrRefreshReuse, which also matches ErrInvalid.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	if !e.ready() {
		return TokenPair{}, ErrEngineNotReady
	}
	issued, err := e.flow.Refresh(ctx, refreshToken)
	if err != nil {
		return TokenPair{}, mapError("refresh", err)
	}
	return tokenPair(issued), nil
}

// Authenticate verifies an access token and the session it names. It fails with
// ErrUnauthorized, or ErrTokenExpired for a correctly signed token past its expiry.
func (e *Engine) Authenticate(ctx context.Context, accessToken string) (Identity, error) {
	if !e.ready() {
		return Identity{}, ErrEngineNotReady
	}
	id, err := e.flow.Authenticate(ctx, accessToken)
	if err != nil {
		return Identity{}, mapError("authenticate", err)
	}
	return Identity{
		AccountID: id.AccountID,
		TenantID:  id.TenantID,
		SessionID: id.SessionID,
	}, nil
}

// Logout revokes one session. Unknown and already revoked sessions succeed.
func (e *Engine) Logout(ctx context.Context, sessionID string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	return mapError("logout", e.flow.Logout(ctx, sessionID))
}

// LogoutAll revokes every active session of accountID and reports how many were revoked.
func (e *Engine) LogoutAll(ctx context.Context, accountID string) (int, error) {
	if !e.ready() {
		return 0, ErrEngineNotReady
	}
	n, err := e.flow.LogoutAll(ctx, accountID)
	if err != nil {
		return 0, mapError("logout_all", err)
	}
	return n, nil
}

// DisableAccount flags the account disabled and revokes its sessions. Repeating the call
// is harmless.
func (e *Engine) DisableAccount(ctx context.Context, accountID string) (AccountInfo, error) {
	if !e.ready() {
		return AccountInfo{}, ErrEngineNotReady
	}
	acct, err := e.flow.DisableAccount(ctx, accountID)
	if err != nil {
		return AccountInfo{}, mapError("disable_account", err)
	}
	return accountInfo(acct), nil
}

// ChangePassword replaces the password after re-verifying the old one and revokes every
// session of the account, including the caller's.
func (e *Engine) ChangePassword(ctx context.Context, tenantID, email, oldPassword, newPassword string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	return mapError("change_password", e.flow.ChangePassword(ctx, tenantID, email, oldPassword, newPassword))
}

// Account returns the public view of an account.
func (e *Engine) Account(ctx context.Context, accountID string) (AccountInfo, error) {
	if !e.ready() {
		return AccountInfo{}, ErrEngineNotReady
	}
	acct, err := e.accounts.FindByID(ctx, accountID)
	if err != nil {
		return AccountInfo{}, mapError("account", err)
	}
	return accountInfo(acct), nil
}

// Session returns the stored state of a session, active or not.
func (e *Engine) Session(ctx context.Context, sessionID string) (SessionInfo, error) {
	if !e.ready() {
		return SessionInfo{}, ErrEngineNotReady
	}
	sess, err := e.sessions.Get(ctx, sessionID)
	if err != nil {
		return SessionInfo{}, mapError("session", err)
	}
	return sessionInfo(sess, e.now()), nil
}

// RotateSigningKey makes next the signing key. Tokens signed by the previous key keep
// verifying for Config.Token.RotationWindow.
func (e *Engine) RotateSigningKey(ctx context.Context, next jwt.Key) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	rotator, ok := e.keys.(KeyRotator)
	if !ok {
		return &Error{Kind: KindInvalidRequest, Reason: "key_provider_not_rotatable", Op: "rotate_signing_key"}
	}
	previous := e.tokens.CurrentKeyID()
	if err := rotator.Rotate(next); err != nil {
		return &Error{Kind: KindInvalidRequest, Reason: "invalid_signing_key", Op: "rotate_signing_key", Err: err}
	}

	e.metrics.Inc(MetricKeyRotated)
	e.emitAudit(ctx, AuditSigningKeyRotated, true, "", "", "", nil, func() map[string]string {
		return map[string]string{"previous_kid": previous, "kid": next.ID}
	})
	e.logger.InfoContext(ctx, "signing key rotated", "op", "rotate_signing_key", "kid", next.ID)
	return nil
}

// SigningKeyID returns the kid of the current signing key.
func (e *Engine) SigningKeyID() string {
	if !e.ready() {
		return ""
	}
	return e.tokens.CurrentKeyID()
}

// Ping checks the store when it supports health checks.
func (e *Engine) Ping(ctx context.Context) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	pinger, ok := e.store.(interface{ Ping(context.Context) error })
	if !ok {
		return nil
	}
	if err := pinger.Ping(ctx); err != nil {
		if errors.Is(err, store.ErrUnavailable) {
			return transient("ping", err)
		}
		return internalError("ping", err)
	}
	return nil
}
