// Package account persists credential records: one account per (tenant, email) with its
// Argon2id password digest.
package account

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MrEthical07/authcore/store"
)

// DefaultTenant is used when a caller passes an empty tenant id.
const DefaultTenant = "0"

const maxEmailBytes = 254

var (
	// ErrDuplicate is returned by Create when the tenant already has an account for the
	// normalized email.
	ErrDuplicate = errors.New("account already exists")
	// ErrNotFound is returned when no account matches.
	ErrNotFound = errors.New("account not found")
	// ErrInvalidEmail is returned for empty, over-long, or structurally invalid emails.
	ErrInvalidEmail = errors.New("invalid email")
	// ErrCorrupt is returned when a stored record cannot be decoded.
	ErrCorrupt = errors.New("account record corrupt")
	// ErrDisabled is returned by RequireActive for a disabled account.
	ErrDisabled = errors.New("account disabled")
)

// Account is a stored credential record. Accounts are never deleted, only disabled.
type Account struct {
	ID           string    `json:"id"`
	TenantID     string    `json:"tenant_id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"password_hash"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	Disabled     bool      `json:"disabled,omitempty"`
	DisabledAt   time.Time `json:"disabled_at,omitzero"`
}

// Store is the account repository over a store.Store.
type Store struct {
	kv  store.Store
	now func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides time.Now for record timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStore returns an account Store.
func NewStore(kv store.Store, opts ...Option) *Store {
	s := &Store{kv: kv, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NormalizeEmail trims and lower-cases email and checks its shape.
func NormalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || len(email) > maxEmailBytes {
		return "", ErrInvalidEmail
	}
	at := strings.LastIndexByte(email, '@')
	if at <= 0 || at == len(email)-1 {
		return "", ErrInvalidEmail
	}
	return email, nil
}

// NormalizeTenant maps the empty tenant to DefaultTenant.
func NormalizeTenant(tenantID string) string {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return DefaultTenant
	}
	return tenantID
}

func idKey(id string) string {
	return "acct:id:" + id
}

// RecordKey is the store key of the account record. A transaction that must be ordered
// against Disable declares it and checks the record with RequireActive.
func RecordKey(id string) string {
	return idKey(id)
}

// RequireActive reads the record for id inside tx. It fails with ErrNotFound or
// ErrDisabled.
func RequireActive(tx store.Tx, id string) error {
	data, err := tx.Get(idKey(id))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	acct, err := decode(data)
	if err != nil {
		return err
	}
	if acct.Disabled {
		return ErrDisabled
	}
	return nil
}

// emailKey length-prefixes the tenant so no (tenant, email) pair can collide with another.
func emailKey(tenantID, email string) string {
	return "acct:email:" + strconv.Itoa(len(tenantID)) + ":" + tenantID + ":" + email
}

// Create stores a new account. The email index entry and the record are written in one
// transaction, so of several concurrent creates for the same email exactly one succeeds.
func (s *Store) Create(ctx context.Context, tenantID, email, passwordHash string) (Account, error) {
	email, err := NormalizeEmail(email)
	if err != nil {
		return Account{}, err
	}
	if passwordHash == "" {
		return Account{}, errors.New("account: password hash is required")
	}
	tenantID = NormalizeTenant(tenantID)

	now := s.now().UTC()
	acct := Account{
		ID:           uuid.NewString(),
		TenantID:     tenantID,
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	data, err := encode(acct)
	if err != nil {
		return Account{}, err
	}

	ek, ik := emailKey(tenantID, email), idKey(acct.ID)
	err = s.kv.Update(ctx, []string{ek, ik}, func(tx store.Tx) error {
		if _, err := tx.Get(ek); err == nil {
			return ErrDuplicate
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		if err := tx.Put(ek, []byte(acct.ID), 0); err != nil {
			return err
		}
		return tx.Put(ik, data, 0)
	})
	if err != nil {
		return Account{}, err
	}
	return acct, nil
}

// FindByEmail looks up an account by tenant and email.
func (s *Store) FindByEmail(ctx context.Context, tenantID, email string) (Account, error) {
	email, err := NormalizeEmail(email)
	if err != nil {
		return Account{}, ErrNotFound
	}

	id, err := s.kv.Get(ctx, emailKey(NormalizeTenant(tenantID), email))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Account{}, ErrNotFound
		}
		return Account{}, err
	}
	return s.FindByID(ctx, string(id))
}

// FindByID looks up an account by id.
func (s *Store) FindByID(ctx context.Context, id string) (Account, error) {
	if id == "" {
		return Account{}, ErrNotFound
	}
	data, err := s.kv.Get(ctx, idKey(id))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Account{}, ErrNotFound
		}
		return Account{}, err
	}
	return decode(data)
}

// Disable flags the account disabled and returns the updated record. Disabling an already
// disabled account keeps the original DisabledAt.
func (s *Store) Disable(ctx context.Context, id string) (Account, error) {
	return s.mutate(ctx, id, func(acct *Account, now time.Time) {
		if acct.Disabled {
			return
		}
		acct.Disabled = true
		acct.DisabledAt = now
		acct.UpdatedAt = now
	})
}

// UpdatePasswordHash replaces the stored digest.
func (s *Store) UpdatePasswordHash(ctx context.Context, id, passwordHash string) error {
	if passwordHash == "" {
		return errors.New("account: password hash is required")
	}
	_, err := s.mutate(ctx, id, func(acct *Account, now time.Time) {
		acct.PasswordHash = passwordHash
		acct.UpdatedAt = now
	})
	return err
}

func (s *Store) mutate(ctx context.Context, id string, apply func(*Account, time.Time)) (Account, error) {
	if id == "" {
		return Account{}, ErrNotFound
	}

	key := idKey(id)
	var out Account
	err := s.kv.Update(ctx, []string{key}, func(tx store.Tx) error {
		data, err := tx.Get(key)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrNotFound
			}
			return err
		}
		acct, err := decode(data)
		if err != nil {
			return err
		}
		apply(&acct, s.now().UTC())

		updated, err := encode(acct)
		if err != nil {
			return err
		}
		out = acct
		return tx.Put(key, updated, 0)
	})
	if err != nil {
		return Account{}, err
	}
	return out, nil
}

func encode(acct Account) ([]byte, error) {
	data, err := json.Marshal(acct)
	if err != nil {
		return nil, fmt.Errorf("account: encode: %w", err)
	}
	return data, nil
}

func decode(data []byte) (Account, error) {
	var acct Account
	if err := json.Unmarshal(data, &acct); err != nil {
		return Account{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if acct.ID == "" {
		return Account{}, ErrCorrupt
	}
	return acct, nil
}
