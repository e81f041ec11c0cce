package session

import (
	"time"

	"github.com/MrEthical07/authcore/refresh"
)

// RevokeReason records why a session was revoked.
type RevokeReason string

const (
	ReasonLogout          RevokeReason = "logout"
	ReasonLogoutAll       RevokeReason = "logout_all"
	ReasonReuse           RevokeReason = "reuse"
	ReasonAccountDisabled RevokeReason = "account_disabled"
	ReasonPasswordChanged RevokeReason = "password_changed"
)

// Session is the server-side record of one login. Only the hash of the current refresh
// token is kept. Revoked is never cleared once set.
type Session struct {
	ID          string
	AccountID   string
	TenantID    string
	RefreshHash refresh.Hash
	// Generation counts completed refreshes.
	Generation uint32

	CreatedAt time.Time
	// IssuedAt is when the current token pair was issued.
	IssuedAt  time.Time
	ExpiresAt time.Time

	Revoked      bool
	RevokedAt    time.Time
	RevokeReason RevokeReason
}

// Expired reports whether the session is past ExpiresAt at now.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Active reports whether the session can still authenticate at now.
func (s *Session) Active(now time.Time) bool {
	return !s.Revoked && !s.Expired(now)
}

func (s *Session) revoke(reason RevokeReason, now time.Time) bool {
	if s.Revoked {
		return false
	}
	s.Revoked = true
	s.RevokedAt = now
	s.RevokeReason = reason
	return true
}
