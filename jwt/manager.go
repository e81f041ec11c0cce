package jwt

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	// ErrTokenInvalid covers every verification failure other than expiry: malformed
	// encoding, unknown kid, algorithm mismatch, bad signature, wrong issuer or audience,
	// and missing subject or session claims.
	ErrTokenInvalid = errors.New("access token invalid")
	// ErrTokenExpired is returned when a correctly signed token is past its exp.
	ErrTokenExpired = errors.New("access token expired")
)

const defaultMaxFutureIAT = 10 * time.Minute

// Config configures a Manager.
type Config struct {
	Keys     KeyProvider
	Issuer   string
	Audience string
	// Leeway tolerates clock skew on exp, nbf and iat. At most two minutes.
	Leeway time.Duration
	// MaxFutureIAT rejects tokens claiming to be issued further ahead than this. Zero
	// means ten minutes.
	MaxFutureIAT time.Duration
	Now          func() time.Time
}

// Manager issues and verifies access tokens. Verify is a pure function of the token, the
// provider's key set and the clock.
type Manager struct {
	config Config
}

// AccessClaims is the JWT payload. The account id travels in sub.
type AccessClaims struct {
	TID string `json:"tid,omitempty"`
	SID string `json:"sid"`
	jwt.RegisteredClaims
}

// AccessToken is a freshly issued token plus the claims it carries.
type AccessToken struct {
	Token     string
	ID        string
	KeyID     string
	AccountID string
	TenantID  string
	SessionID string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// NewManager validates cfg and returns a Manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Keys == nil {
		return nil, errors.New("jwt: key provider is required")
	}
	if cfg.Keys.Keys().Current == nil {
		return nil, errors.New("jwt: key provider has no current key")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("jwt: invalid leeway configuration")
	}
	if cfg.MaxFutureIAT == 0 {
		cfg.MaxFutureIAT = defaultMaxFutureIAT
	}
	if cfg.MaxFutureIAT < 0 || cfg.MaxFutureIAT > 24*time.Hour {
		return nil, errors.New("jwt: invalid MaxFutureIAT configuration")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Manager{config: cfg}, nil
}

// Issue signs a token for the session with the current key.
func (m *Manager) Issue(accountID, tenantID, sessionID string, ttl time.Duration) (AccessToken, error) {
	if ttl <= 0 {
		return AccessToken{}, errors.New("jwt: ttl must be positive")
	}
	if accountID == "" || sessionID == "" {
		return AccessToken{}, errors.New("jwt: account and session ids are required")
	}

	key := m.config.Keys.Keys().Current
	if key == nil {
		return AccessToken{}, errors.New("jwt: no current signing key")
	}
	signKey, err := key.signKey()
	if err != nil {
		return AccessToken{}, err
	}

	// JWT timestamps have second precision. iat is truncated and exp rounded up so the
	// returned values match the signed claims and exp is always after iat.
	now := m.config.Now().Truncate(time.Second)
	expires := now.Add(ttl)
	if whole := expires.Truncate(time.Second); !whole.Equal(expires) {
		expires = whole.Add(time.Second)
	}

	claims := AccessClaims{
		TID: tenantID,
		SID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountID,
			ID:        uuid.NewString(),
			Issuer:    m.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	if m.config.Audience != "" {
		claims.Audience = jwt.ClaimStrings{m.config.Audience}
	}

	token := jwt.NewWithClaims(key.method(), claims)
	token.Header["kid"] = key.ID

	signed, err := token.SignedString(signKey)
	if err != nil {
		return AccessToken{}, err
	}

	return AccessToken{
		Token:     signed,
		ID:        claims.ID,
		KeyID:     key.ID,
		AccountID: accountID,
		TenantID:  tenantID,
		SessionID: sessionID,
		IssuedAt:  now,
		ExpiresAt: expires,
	}, nil
}

// Verify checks the signature against the current or previous key named by the kid header
// and validates the registered claims.
func (m *Manager) Verify(tokenStr string) (*AccessClaims, error) {
	if tokenStr == "" {
		return nil, ErrTokenInvalid
	}

	keys := m.config.Keys.Keys()

	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg(), jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(m.config.Now),
	}
	if m.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(m.config.Leeway))
	}
	if m.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(m.config.Issuer))
	}
	if m.config.Audience != "" {
		options = append(options, jwt.WithAudience(m.config.Audience))
	}

	parser := jwt.NewParser(options...)
	token, err := parser.ParseWithClaims(tokenStr, &AccessClaims{}, func(t *jwt.Token) (interface{}, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("missing kid")
		}

		key := selectKey(keys, kid)
		if key == nil {
			return nil, errors.New("unknown kid")
		}
		if t.Method.Alg() != key.method().Alg() {
			return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
		}
		return key.verifyKey()
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	claims, ok := token.Claims.(*AccessClaims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}
	if strings.TrimSpace(claims.Subject) == "" || strings.TrimSpace(claims.SID) == "" {
		return nil, fmt.Errorf("%w: missing subject or session", ErrTokenInvalid)
	}
	if claims.IssuedAt != nil {
		maxAllowed := m.config.Now().Add(m.config.MaxFutureIAT)
		if claims.IssuedAt.Time.After(maxAllowed) {
			return nil, fmt.Errorf("%w: iat too far in the future", ErrTokenInvalid)
		}
	}

	return claims, nil
}

// CurrentKeyID reports the kid new tokens are signed with.
func (m *Manager) CurrentKeyID() string {
	if key := m.config.Keys.Keys().Current; key != nil {
		return key.ID
	}
	return ""
}

func selectKey(keys KeySet, kid string) *Key {
	if keys.Current != nil && keys.Current.ID == kid {
		return keys.Current
	}
	if keys.Previous != nil && keys.Previous.ID == kid {
		return keys.Previous
	}
	return nil
}
