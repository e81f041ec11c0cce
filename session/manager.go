package session

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/authcore/account"
	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/refresh"
)

// ErrSessionInvalid is returned by Verify when the access token is well formed but its
// session is missing, revoked, expired, or belongs to another account.
var ErrSessionInvalid = errors.New("session invalid")

// AccountLookup is the slice of the account store the manager needs to re-check owners
// on refresh.
type AccountLookup interface {
	FindByID(ctx context.Context, id string) (account.Account, error)
}

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	Store    *Store
	Tokens   *jwt.Manager
	Accounts AccountLookup

	AccessTTL  time.Duration
	RefreshTTL time.Duration
	// AbsoluteLifetime caps how long a session can be kept alive by refreshing. Zero
	// disables the cap.
	AbsoluteLifetime time.Duration
	// Sliding moves ExpiresAt forward on every refresh.
	Sliding bool

	Now func() time.Time
}

// Manager runs the session lifecycle: Active until revoked or expired, with Revoked and
// Expired terminal.
type Manager struct {
	cfg ManagerConfig
}

// Issued is the outcome of Start and Refresh. RefreshToken is the only copy of the
// plaintext token; the store keeps its hash.
type Issued struct {
	Session      Session
	AccessToken  jwt.AccessToken
	RefreshToken string
}

// Identity is the principal behind a verified access token.
type Identity struct {
	AccountID string
	TenantID  string
	SessionID string
}

// NewManager validates cfg and returns a Manager.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	switch {
	case cfg.Store == nil:
		return nil, errors.New("session: store is required")
	case cfg.Tokens == nil:
		return nil, errors.New("session: token manager is required")
	case cfg.AccessTTL <= 0:
		return nil, errors.New("session: access ttl must be positive")
	case cfg.RefreshTTL <= 0:
		return nil, errors.New("session: refresh ttl must be positive")
	case cfg.AbsoluteLifetime < 0:
		return nil, errors.New("session: absolute lifetime must be >= 0")
	case cfg.AbsoluteLifetime > 0 && cfg.AbsoluteLifetime < cfg.RefreshTTL:
		return nil, errors.New("session: absolute lifetime must be >= refresh ttl")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Manager{cfg: cfg}, nil
}

// Start opens a session for acct and issues its first token pair. When an account lookup
// is configured the commit re-checks the stored account and fails with
// ErrAccountInactive if it is gone or disabled.
func (m *Manager) Start(ctx context.Context, acct account.Account) (Issued, error) {
	sid, err := NewID()
	if err != nil {
		return Issued{}, err
	}
	token, hash, err := refresh.New()
	if err != nil {
		return Issued{}, err
	}

	now := m.now()
	sess := &Session{
		ID:          sid,
		AccountID:   acct.ID,
		TenantID:    acct.TenantID,
		RefreshHash: hash,
		CreatedAt:   now,
		IssuedAt:    now,
		ExpiresAt:   m.capExpiry(now, now.Add(m.cfg.RefreshTTL)),
	}

	access, err := m.cfg.Tokens.Issue(sess.AccountID, sess.TenantID, sess.ID, m.cfg.AccessTTL)
	if err != nil {
		return Issued{}, err
	}
	if err := m.cfg.Store.create(ctx, sess, now, m.cfg.AbsoluteLifetime, m.cfg.Accounts != nil); err != nil {
		return Issued{}, err
	}

	return Issued{Session: *sess, AccessToken: access, RefreshToken: token}, nil
}

// Refresh exchanges refreshToken for a new pair. The presented token is consumed; a
// second presentation revokes the session and returns ErrRefreshReuse. If the owning
// account is gone or disabled the session is revoked and ErrRefreshInvalid returned.
func (m *Manager) Refresh(ctx context.Context, refreshToken string) (Issued, error) {
	presented, err := refresh.Parse(refreshToken)
	if err != nil {
		return Issued{}, ErrRefreshInvalid
	}

	entry, err := m.cfg.Store.lookupRefresh(ctx, presented)
	if err != nil {
		return Issued{}, err
	}
	sess, err := m.cfg.Store.Get(ctx, entry.SessionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrCorrupt) {
			return Issued{}, ErrRefreshInvalid
		}
		return Issued{}, err
	}

	now := m.now()
	if !sess.Active(now) {
		return Issued{}, ErrRefreshInvalid
	}

	if m.cfg.Accounts != nil {
		acct, err := m.cfg.Accounts.FindByID(ctx, sess.AccountID)
		switch {
		case errors.Is(err, account.ErrNotFound), err == nil && acct.Disabled:
			if _, err := m.cfg.Store.revoke(ctx, sess.ID, ReasonAccountDisabled, now); err != nil {
				return Issued{}, err
			}
			return Issued{}, ErrRefreshInvalid
		case err != nil:
			return Issued{}, err
		}
	}

	token, next, err := refresh.New()
	if err != nil {
		return Issued{}, err
	}

	expiresAt := sess.ExpiresAt
	if m.cfg.Sliding {
		expiresAt = m.capExpiry(sess.CreatedAt, now.Add(m.cfg.RefreshTTL))
	}
	retainUntil := expiresAt
	if m.cfg.AbsoluteLifetime > 0 {
		retainUntil = sess.CreatedAt.Add(m.cfg.AbsoluteLifetime)
	}

	access, err := m.cfg.Tokens.Issue(sess.AccountID, sess.TenantID, sess.ID, m.cfg.AccessTTL)
	if err != nil {
		return Issued{}, err
	}

	rotated, err := m.cfg.Store.rotate(ctx, rotation{
		presented:   presented,
		sessionID:   sess.ID,
		next:        next,
		now:         now,
		expiresAt:   expiresAt,
		retainUntil: retainUntil,
	})
	if err != nil {
		return Issued{}, err
	}

	return Issued{Session: *rotated, AccessToken: access, RefreshToken: token}, nil
}

// Verify checks accessToken and the session it names.
func (m *Manager) Verify(ctx context.Context, accessToken string) (Identity, error) {
	claims, err := m.cfg.Tokens.Verify(accessToken)
	if err != nil {
		return Identity{}, err
	}

	sess, err := m.cfg.Store.Get(ctx, claims.SID)
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrCorrupt) {
			return Identity{}, ErrSessionInvalid
		}
		return Identity{}, err
	}
	if sess.AccountID != claims.Subject || !sess.Active(m.now()) {
		return Identity{}, ErrSessionInvalid
	}

	return Identity{
		AccountID: sess.AccountID,
		TenantID:  sess.TenantID,
		SessionID: sess.ID,
	}, nil
}

// Revoke revokes one session. Unknown and already revoked sessions are a no-op.
func (m *Manager) Revoke(ctx context.Context, sessionID string, reason RevokeReason) error {
	if sessionID == "" {
		return nil
	}
	_, err := m.cfg.Store.revoke(ctx, sessionID, reason, m.now())
	return err
}

// RevokeAll revokes every active session of accountID and reports how many changed.
func (m *Manager) RevokeAll(ctx context.Context, accountID string, reason RevokeReason) (int, error) {
	return m.cfg.Store.revokeAll(ctx, accountID, reason, m.now(), m.cfg.AbsoluteLifetime)
}

// Get returns the stored session record, active or not.
func (m *Manager) Get(ctx context.Context, sessionID string) (*Session, error) {
	if sessionID == "" {
		return nil, ErrNotFound
	}
	return m.cfg.Store.Get(ctx, sessionID)
}

func (m *Manager) now() time.Time {
	return m.cfg.Now().UTC()
}

func (m *Manager) capExpiry(createdAt, expiresAt time.Time) time.Time {
	if m.cfg.AbsoluteLifetime <= 0 {
		return expiresAt
	}
	if limit := createdAt.Add(m.cfg.AbsoluteLifetime); expiresAt.After(limit) {
		return limit
	}
	return expiresAt
}
