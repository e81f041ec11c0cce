package authcore

import (
	"time"

	"github.com/MrEthical07/authcore/account"
	"github.com/MrEthical07/authcore/session"
)

// SignupResult describes a newly created account. The password digest is not exposed.
type SignupResult struct {
	AccountID string
	TenantID  string
	Email     string
	CreatedAt time.Time
}

// TokenPair is returned by Login and Refresh. RefreshToken is single-use: presenting it
// a second time revokes the session.
type TokenPair struct {
	SessionID    string
	AccessToken  string
	RefreshToken string
	// ExpiresAt is the access token expiry.
	ExpiresAt time.Time
	// SessionExpiresAt is the refresh token expiry.
	SessionExpiresAt time.Time
}

// Identity is the principal behind a verified access token.
type Identity struct {
	AccountID string
	TenantID  string
	SessionID string
}

// SessionInfo is the introspection view of a stored session.
type SessionInfo struct {
	SessionID    string
	AccountID    string
	TenantID     string
	Generation   uint32
	CreatedAt    time.Time
	IssuedAt     time.Time
	ExpiresAt    time.Time
	Active       bool
	Revoked      bool
	RevokedAt    time.Time
	RevokeReason string
}

// AccountInfo is the public view of an account record.
type AccountInfo struct {
	AccountID  string
	TenantID   string
	Email      string
	CreatedAt  time.Time
	Disabled   bool
	DisabledAt time.Time
}

func signupResult(a account.Account) SignupResult {
	return SignupResult{
		AccountID: a.ID,
		TenantID:  a.TenantID,
		Email:     a.Email,
		CreatedAt: a.CreatedAt,
	}
}

func accountInfo(a account.Account) AccountInfo {
	return AccountInfo{
		AccountID:  a.ID,
		TenantID:   a.TenantID,
		Email:      a.Email,
		CreatedAt:  a.CreatedAt,
		Disabled:   a.Disabled,
		DisabledAt: a.DisabledAt,
	}
}

func tokenPair(issued session.Issued) TokenPair {
	return TokenPair{
		SessionID:        issued.Session.ID,
		AccessToken:      issued.AccessToken.Token,
		RefreshToken:     issued.RefreshToken,
		ExpiresAt:        issued.AccessToken.ExpiresAt,
		SessionExpiresAt: issued.Session.ExpiresAt,
	}
}

func sessionInfo(s *session.Session, now time.Time) SessionInfo {
	return SessionInfo{
		SessionID:    s.ID,
		AccountID:    s.AccountID,
		TenantID:     s.TenantID,
		Generation:   s.Generation,
		CreatedAt:    s.CreatedAt,
		IssuedAt:     s.IssuedAt,
		ExpiresAt:    s.ExpiresAt,
		Active:       s.Active(now),
		Revoked:      s.Revoked,
		RevokedAt:    s.RevokedAt,
		RevokeReason: string(s.RevokeReason),
	}
}
