package authcore

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/authcore/jwt"
)

// Config is the complete engine configuration. Builder clones it, so later mutation by
// the caller has no effect on a built Engine.
type Config struct {
	Token    TokenConfig
	Session  SessionConfig
	Password PasswordConfig
	Security SecurityConfig
	Audit    AuditConfig
	Metrics  MetricsConfig
}

/*
====================================
TOKEN CONFIG
====================================
*/

// TokenConfig controls access-token issuance. Key material is only required when no
// KeyProvider is passed to the Builder.
type TokenConfig struct {
	AccessTTL time.Duration
	Issuer    string
	Audience  string
	// Leeway tolerates clock skew when verifying exp, nbf and iat.
	Leeway time.Duration

	SigningMethod string // "ed25519" (default) or "hs256"
	KeyID         string
	PrivateKey    []byte
	PublicKey     []byte
	// RotationWindow is how long a rotated-out key keeps verifying.
	RotationWindow time.Duration
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig controls server-side session lifetime.
type SessionConfig struct {
	RefreshTTL time.Duration
	// AbsoluteLifetime caps refresh-driven extension. Zero disables the cap.
	AbsoluteLifetime time.Duration
	Sliding          bool
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig holds Argon2id parameters and the password length policy.
type PasswordConfig struct {
	Memory      uint32 // in KiB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32

	MinLength int // bytes
	MaxLength int // bytes

	UpgradeOnLogin bool
}

/*
====================================
SECURITY CONFIG
====================================
*/

// SecurityConfig controls login throttling.
type SecurityConfig struct {
	EnableLoginThrottle   bool
	EnableIPThrottle      bool
	MaxLoginAttempts      int
	LoginCooldownDuration time.Duration
}

/*
====================================
AUDIT / METRICS CONFIG
====================================
*/

// AuditConfig controls the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	// DropIfFull drops events instead of blocking the caller when the buffer is full.
	DropIfFull bool
}

// MetricsConfig controls in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns a production-leaning configuration without key material.
func DefaultConfig() Config {
	return Config{
		Token: TokenConfig{
			AccessTTL:      15 * time.Minute,
			Issuer:         "authcore",
			Leeway:         30 * time.Second,
			SigningMethod:  string(jwt.MethodEd25519),
			KeyID:          "k1",
			RotationWindow: time.Hour,
		},
		Session: SessionConfig{
			RefreshTTL:       7 * 24 * time.Hour,
			AbsoluteLifetime: 30 * 24 * time.Hour,
			Sliding:          true,
		},
		Password: PasswordConfig{
			Memory:         64 * 1024,
			Time:           3,
			Parallelism:    2,
			SaltLength:     16,
			KeyLength:      32,
			MinLength:      10,
			MaxLength:      1024,
			UpgradeOnLogin: true,
		},
		Security: SecurityConfig{
			EnableLoginThrottle:   true,
			EnableIPThrottle:      false,
			MaxLoginAttempts:      5,
			LoginCooldownDuration: 15 * time.Minute,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Token.PrivateKey = cloneBytes(cfg.Token.PrivateKey)
	out.Token.PublicKey = cloneBytes(cfg.Token.PublicKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate checks TTLs, Argon2 bounds and throttle settings. Key material is checked by
// Builder.Build, which knows whether a KeyProvider was supplied.
func (c *Config) Validate() error {
	// Token
	if c.Token.AccessTTL <= 0 {
		return errors.New("Token AccessTTL must be > 0")
	}
	if c.Token.Leeway < 0 || c.Token.Leeway > 2*time.Minute {
		return errors.New("Token Leeway must be within [0, 2m]")
	}
	if c.Token.RotationWindow < 0 {
		return errors.New("Token RotationWindow must be >= 0")
	}
	switch jwt.SigningMethod(strings.ToLower(c.Token.SigningMethod)) {
	case jwt.MethodEd25519, jwt.MethodHS256:
	default:
		return fmt.Errorf("unsupported token signing method %q", c.Token.SigningMethod)
	}

	// Session
	if c.Session.RefreshTTL <= 0 {
		return errors.New("Session RefreshTTL must be > 0")
	}
	if c.Session.AbsoluteLifetime < 0 {
		return errors.New("Session AbsoluteLifetime must be >= 0")
	}
	if c.Session.AbsoluteLifetime > 0 && c.Session.AbsoluteLifetime < c.Session.RefreshTTL {
		return errors.New("Session AbsoluteLifetime must be >= RefreshTTL")
	}
	if c.Token.AccessTTL > c.Session.RefreshTTL {
		return errors.New("Token AccessTTL must not exceed Session RefreshTTL")
	}

	// Password
	if c.Password.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KiB")
	}
	if c.Password.Time < 1 {
		return errors.New("Password Time must be >= 1")
	}
	if c.Password.Parallelism < 1 {
		return errors.New("Password Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 {
		return errors.New("Password SaltLength must be >= 16")
	}
	if c.Password.KeyLength < 16 {
		return errors.New("Password KeyLength must be >= 16")
	}
	if c.Password.MinLength < 0 || c.Password.MaxLength < 0 {
		return errors.New("Password length bounds must be >= 0")
	}
	if c.Password.MaxLength > 0 && c.Password.MinLength > c.Password.MaxLength {
		return errors.New("Password MinLength must not exceed MaxLength")
	}

	// Security
	if c.Security.EnableLoginThrottle {
		if c.Security.MaxLoginAttempts <= 0 {
			return errors.New("Security MaxLoginAttempts must be > 0 when login throttle is enabled")
		}
		if c.Security.LoginCooldownDuration <= 0 {
			return errors.New("Security LoginCooldownDuration must be > 0 when login throttle is enabled")
		}
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}

	return nil
}
