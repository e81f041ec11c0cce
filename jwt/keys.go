package jwt

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SigningMethod names the JWS algorithm family of a Key.
type SigningMethod string

const (
	// MethodEd25519 signs with EdDSA over Ed25519.
	MethodEd25519 SigningMethod = "ed25519"
	// MethodHS256 signs with HMAC-SHA256 over a shared secret.
	MethodHS256 SigningMethod = "hs256"
)

const minHMACSecretBytes = 32

// Key is one signing key. For MethodHS256 PrivateKey holds the shared secret and PublicKey
// is ignored. For MethodEd25519 both accept raw key bytes or PEM; a missing PublicKey is
// derived from PrivateKey, and a Key with only PublicKey can verify but not sign.
type Key struct {
	ID         string
	Method     SigningMethod
	PrivateKey []byte
	PublicKey  []byte
}

// KeySet is the set of keys a Manager consults: Current signs and verifies, Previous (if
// non-nil) only verifies.
type KeySet struct {
	Current  *Key
	Previous *Key
}

// KeyProvider supplies the active KeySet. Implementations must be safe for concurrent use;
// Keys is called on every Issue and Verify.
type KeyProvider interface {
	Keys() KeySet
}

// Validate checks that k is usable for signing.
func (k Key) Validate() error {
	if strings.TrimSpace(k.ID) == "" {
		return errors.New("jwt: key id is required")
	}
	switch k.Method {
	case MethodHS256:
		if len(k.PrivateKey) < minHMACSecretBytes {
			return fmt.Errorf("jwt: hs256 secret must be at least %d bytes", minHMACSecretBytes)
		}
	case MethodEd25519:
		if _, err := parseEdPrivateKey(k.PrivateKey); err != nil {
			return err
		}
		if len(k.PublicKey) > 0 {
			if _, err := parseEdPublicKey(k.PublicKey); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("jwt: unsupported signing method %q", k.Method)
	}
	return nil
}

func (k Key) method() jwt.SigningMethod {
	if k.Method == MethodHS256 {
		return jwt.SigningMethodHS256
	}
	return jwt.SigningMethodEdDSA
}

func (k Key) signKey() (interface{}, error) {
	switch k.Method {
	case MethodHS256:
		return k.PrivateKey, nil
	case MethodEd25519:
		return parseEdPrivateKey(k.PrivateKey)
	default:
		return nil, fmt.Errorf("jwt: unsupported signing method %q", k.Method)
	}
}

func (k Key) verifyKey() (interface{}, error) {
	switch k.Method {
	case MethodHS256:
		if len(k.PrivateKey) == 0 {
			return nil, errors.New("jwt: missing hs256 secret")
		}
		return k.PrivateKey, nil
	case MethodEd25519:
		if len(k.PublicKey) > 0 {
			return parseEdPublicKey(k.PublicKey)
		}
		priv, err := parseEdPrivateKey(k.PrivateKey)
		if err != nil {
			return nil, err
		}
		return priv.Public(), nil
	default:
		return nil, fmt.Errorf("jwt: unsupported signing method %q", k.Method)
	}
}

// GenerateEd25519Key returns a fresh Ed25519 Key with raw key bytes.
func GenerateEd25519Key(id string) (Key, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return Key{}, err
	}
	return Key{ID: id, Method: MethodEd25519, PrivateKey: priv, PublicKey: pub}, nil
}

// DecodeKeyMaterial accepts PEM text or standard/URL base64 of raw key bytes.
func DecodeKeyMaterial(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if strings.HasPrefix(s, "-----BEGIN") {
		return []byte(s), nil
	}
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		if b, err := enc.DecodeString(s); err == nil {
			return b, nil
		}
	}
	return nil, errors.New("jwt: key material is neither PEM nor base64")
}

type keyState struct {
	current       Key
	previous      *Key
	previousUntil time.Time
}

// StaticKeys is an in-memory KeyProvider supporting rotation. After Rotate the demoted key
// keeps verifying for the configured window and is then dropped lazily.
type StaticKeys struct {
	mu     sync.Mutex
	state  atomic.Pointer[keyState]
	window time.Duration
	now    func() time.Time
}

// StaticKeysOption configures StaticKeys.
type StaticKeysOption func(*StaticKeys)

// WithRotationClock overrides time.Now for window decisions.
func WithRotationClock(now func() time.Time) StaticKeysOption {
	return func(s *StaticKeys) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStaticKeys returns a provider whose only key is current. A zero window means a
// rotated-out key stops verifying immediately.
func NewStaticKeys(current Key, window time.Duration, opts ...StaticKeysOption) (*StaticKeys, error) {
	if err := current.Validate(); err != nil {
		return nil, err
	}
	if window < 0 {
		return nil, errors.New("jwt: rotation window must be >= 0")
	}

	s := &StaticKeys{window: window, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	s.state.Store(&keyState{current: current})
	return s, nil
}

// Keys implements KeyProvider.
func (s *StaticKeys) Keys() KeySet {
	st := s.state.Load()
	current := st.current
	set := KeySet{Current: &current}
	if st.previous != nil && s.now().Before(st.previousUntil) {
		prev := *st.previous
		set.Previous = &prev
	}
	return set
}

// Rotate makes next the signing key and demotes the current key to previous.
func (s *StaticKeys) Rotate(next Key) error {
	if err := next.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.state.Load()
	if old.current.ID == next.ID {
		return errors.New("jwt: rotated key must have a new id")
	}
	demoted := old.current
	s.state.Store(&keyState{
		current:       next,
		previous:      &demoted,
		previousUntil: s.now().Add(s.window),
	})
	return nil
}

// DropPrevious ends the rotation window early.
func (s *StaticKeys) DropPrevious() {
	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.state.Load()
	s.state.Store(&keyState{current: old.current})
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	if len(key) == ed25519.SeedSize {
		return ed25519.NewKeyFromSeed(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("jwt: invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("jwt: invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("jwt: invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("jwt: invalid ed25519 public key type")
	}
	return edKey, nil
}
