package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/MrEthical07/authcore/account"
	"github.com/MrEthical07/authcore/refresh"
	"github.com/MrEthical07/authcore/store"
)

var (
	// ErrNotFound is returned when a session id is unknown or its record has expired out
	// of the store.
	ErrNotFound = errors.New("session not found")
	// ErrRefreshInvalid is returned for unknown or malformed refresh tokens and for
	// sessions that are missing, revoked or expired.
	ErrRefreshInvalid = errors.New("refresh token invalid")
	// ErrRefreshReuse is returned when a consumed refresh token is presented again. The
	// session has already been revoked when this is returned.
	ErrRefreshReuse = errors.New("refresh token reuse detected")
	// ErrAccountInactive is returned by Start when the owning account is missing or was
	// disabled before the session could be committed.
	ErrAccountInactive = errors.New("account missing or disabled")
)

// Store persists sessions, the refresh-hash index, and the per-account session list on a
// store.Store.
type Store struct {
	kv store.Store
}

// NewStore returns a session Store.
func NewStore(kv store.Store) *Store {
	return &Store{kv: kv}
}

func sessionKey(sessionID string) string {
	return "sess:" + sessionID
}

func refreshKey(h refresh.Hash) string {
	return "rt:" + h.String()
}

func accountKey(accountID string) string {
	return "acct-sess:" + accountID
}

// rotation describes one refresh-token exchange.
type rotation struct {
	presented   refresh.Hash
	sessionID   string
	next        refresh.Hash
	now         time.Time
	expiresAt   time.Time
	retainUntil time.Time
}

// Get returns the stored record whether or not it is still active.
func (s *Store) Get(ctx context.Context, sessionID string) (*Session, error) {
	data, err := s.kv.Get(ctx, sessionKey(sessionID))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return Decode(data)
}

// AccountSessionIDs lists the session ids recorded for accountID. The list may include
// sessions that have since been revoked or expired.
func (s *Store) AccountSessionIDs(ctx context.Context, accountID string) ([]string, error) {
	data, err := s.kv.Get(ctx, accountKey(accountID))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return decodeIDList(data)
}

func (s *Store) lookupRefresh(ctx context.Context, h refresh.Hash) (refreshEntry, error) {
	data, err := s.kv.Get(ctx, refreshKey(h))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return refreshEntry{}, ErrRefreshInvalid
		}
		return refreshEntry{}, err
	}
	entry, err := decodeRefreshEntry(data)
	if err != nil {
		return refreshEntry{}, ErrRefreshInvalid
	}
	return entry, nil
}

// create writes a new session with its refresh index entry and appends it to the account
// list in one transaction. Entries for sessions that are gone or no longer active are
// pruned from the list on the way. With requireAccount set the account record is part of
// the transaction, so a session is never committed after its account was disabled.
func (s *Store) create(ctx context.Context, sess *Session, now time.Time, indexTTL time.Duration, requireAccount bool) error {
	ttl := sess.ExpiresAt.Sub(now)
	if ttl <= 0 {
		return errors.New("session: expiry must be in the future")
	}
	data, err := Encode(sess)
	if err != nil {
		return err
	}

	stale, err := s.staleSessions(ctx, sess.AccountID, now)
	if err != nil {
		return err
	}

	sk, rk, ak := sessionKey(sess.ID), refreshKey(sess.RefreshHash), accountKey(sess.AccountID)
	keys := []string{sk, rk, ak}
	if requireAccount {
		keys = append(keys, account.RecordKey(sess.AccountID))
	}
	return s.kv.Update(ctx, keys, func(tx store.Tx) error {
		if requireAccount {
			if err := account.RequireActive(tx, sess.AccountID); err != nil {
				if errors.Is(err, account.ErrNotFound) || errors.Is(err, account.ErrDisabled) {
					return ErrAccountInactive
				}
				return err
			}
		}
		if _, err := tx.Get(sk); err == nil {
			return errors.New("session: id collision")
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		if _, err := tx.Get(rk); err == nil {
			return errors.New("session: refresh hash collision")
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		ids, err := readIDList(tx, ak)
		if err != nil {
			return err
		}
		ids = slices.DeleteFunc(ids, func(id string) bool { return stale[id] })
		ids = append(ids, sess.ID)
		list, err := encodeIDList(ids)
		if err != nil {
			return err
		}

		if err := tx.Put(sk, data, ttl); err != nil {
			return err
		}
		if err := tx.Put(rk, encodeRefreshEntry(refreshEntry{SessionID: sess.ID, State: refreshCurrent}), ttl); err != nil {
			return err
		}
		return tx.Put(ak, list, indexTTL)
	})
}

// rotate consumes r.presented and installs r.next. If the presented hash was already
// consumed, or is not the session's current hash, the session is revoked in the same
// transaction and ErrRefreshReuse is returned after commit.
func (s *Store) rotate(ctx context.Context, r rotation) (*Session, error) {
	presentedKey, sk, nextKey := refreshKey(r.presented), sessionKey(r.sessionID), refreshKey(r.next)

	var (
		out    *Session
		reused bool
	)
	err := s.kv.Update(ctx, []string{presentedKey, sk, nextKey}, func(tx store.Tx) error {
		out, reused = nil, false

		raw, err := tx.Get(presentedKey)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrRefreshInvalid
			}
			return err
		}
		entry, err := decodeRefreshEntry(raw)
		if err != nil {
			return err
		}
		if entry.SessionID != r.sessionID {
			return ErrRefreshInvalid
		}

		sess, err := readSession(tx, sk)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return ErrRefreshInvalid
			}
			return err
		}
		if !sess.Active(r.now) {
			return ErrRefreshInvalid
		}

		if entry.State == refreshConsumed || sess.RefreshHash != r.presented {
			sess.revoke(ReasonReuse, r.now)
			if err := writeSession(tx, sk, sess, sess.ExpiresAt.Sub(r.now)); err != nil {
				return err
			}
			out, reused = sess, true
			return nil
		}

		if _, err := tx.Get(nextKey); err == nil {
			return errors.New("session: refresh hash collision")
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		ttl := r.expiresAt.Sub(r.now)
		if ttl <= 0 {
			return ErrRefreshInvalid
		}
		retain := r.retainUntil.Sub(r.now)
		if retain < ttl {
			retain = ttl
		}

		entry.State = refreshConsumed
		if err := tx.Put(presentedKey, encodeRefreshEntry(entry), retain); err != nil {
			return err
		}
		if err := tx.Put(nextKey, encodeRefreshEntry(refreshEntry{SessionID: sess.ID, State: refreshCurrent}), ttl); err != nil {
			return err
		}

		sess.RefreshHash = r.next
		sess.Generation++
		sess.IssuedAt = r.now
		sess.ExpiresAt = r.expiresAt
		if err := writeSession(tx, sk, sess, ttl); err != nil {
			return err
		}
		out = sess
		return nil
	})
	if err != nil {
		return nil, err
	}
	if reused {
		return out, ErrRefreshReuse
	}
	return out, nil
}

// revoke marks the session revoked. It reports whether this call changed it; unknown,
// expired and already revoked sessions are left alone.
func (s *Store) revoke(ctx context.Context, sessionID string, reason RevokeReason, now time.Time) (bool, error) {
	sk := sessionKey(sessionID)

	changed := false
	err := s.kv.Update(ctx, []string{sk}, func(tx store.Tx) error {
		changed = false
		sess, err := readSession(tx, sk)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil
			}
			return err
		}
		if sess.Expired(now) || !sess.revoke(reason, now) {
			return nil
		}
		changed = true
		return writeSession(tx, sk, sess, sess.ExpiresAt.Sub(now))
	})
	return changed, err
}

// revokeAll revokes every active session listed for accountID and clears the list.
func (s *Store) revokeAll(ctx context.Context, accountID string, reason RevokeReason, now time.Time, indexTTL time.Duration) (int, error) {
	ids, err := s.AccountSessionIDs(ctx, accountID)
	if err != nil {
		return 0, err
	}

	revoked := 0
	done := make(map[string]bool, len(ids))
	for _, id := range ids {
		changed, err := s.revoke(ctx, id, reason, now)
		if err != nil {
			return revoked, err
		}
		if changed {
			revoked++
		}
		done[id] = true
	}

	// Sessions started while this ran stay listed.
	ak := accountKey(accountID)
	err = s.kv.Update(ctx, []string{ak}, func(tx store.Tx) error {
		current, err := readIDList(tx, ak)
		if err != nil {
			return err
		}
		remaining := slices.DeleteFunc(current, func(id string) bool { return done[id] })
		if len(remaining) == 0 {
			return tx.Delete(ak)
		}
		list, err := encodeIDList(remaining)
		if err != nil {
			return err
		}
		return tx.Put(ak, list, indexTTL)
	})
	return revoked, err
}

func (s *Store) staleSessions(ctx context.Context, accountID string, now time.Time) (map[string]bool, error) {
	ids, err := s.AccountSessionIDs(ctx, accountID)
	if err != nil {
		return nil, err
	}
	stale := make(map[string]bool)
	for _, id := range ids {
		sess, err := s.Get(ctx, id)
		switch {
		case errors.Is(err, ErrNotFound), errors.Is(err, ErrCorrupt):
			stale[id] = true
		case err != nil:
			return nil, err
		case !sess.Active(now):
			stale[id] = true
		}
	}
	return stale, nil
}

func readSession(tx store.Tx, key string) (*Session, error) {
	data, err := tx.Get(key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return Decode(data)
}

func writeSession(tx store.Tx, key string, sess *Session, ttl time.Duration) error {
	if ttl <= 0 {
		return tx.Delete(key)
	}
	data, err := Encode(sess)
	if err != nil {
		return fmt.Errorf("session: encode: %w", err)
	}
	return tx.Put(key, data, ttl)
}

func readIDList(tx store.Tx, key string) ([]string, error) {
	data, err := tx.Get(key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return decodeIDList(data)
}
