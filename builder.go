package authcore

import (
	"errors"
	"log/slog"
	"strings"
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

// Builder assembles an Engine. Configure it during initialization, call Build once, and
// discard it.
type Builder struct {
	config Config
	store  store.Store
	keys   jwt.KeyProvider
	now    func() time.Time
	logger *slog.Logger

	auditSink AuditSink

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig replaces the configuration with a copy of cfg.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithStore sets the persistence backend. Required.
func (b *Builder) WithStore(st store.Store) *Builder {
	b.store = st
	return b
}

// WithKeyProvider overrides the signing keys built from Config.Token. RotateSigningKey
// only works when the provider implements Rotate(jwt.Key) error.
func (b *Builder) WithKeyProvider(keys jwt.KeyProvider) *Builder {
	b.keys = keys
	return b
}

// WithClock overrides time.Now across every component.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// WithLogger sets the operational logger. The default discards.
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithAuditSink sets where audit events go when Config.Audit.Enabled is true.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithMetricsEnabled toggles in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles the login and authenticate latency histograms.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires every component. A Builder can be built
// only once.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	if b.store == nil {
		return nil, errors.New("store required")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	now := b.now
	if now == nil {
		now = time.Now
	}
	logger := b.logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	// -------- SIGNING KEYS --------
	keys := b.keys
	if keys == nil {
		if len(cfg.Token.PrivateKey) == 0 {
			return nil, errors.New("token signing key required: set Config.Token.PrivateKey or use WithKeyProvider")
		}
		static, err := jwt.NewStaticKeys(jwt.Key{
			ID:         cfg.Token.KeyID,
			Method:     jwt.SigningMethod(strings.ToLower(cfg.Token.SigningMethod)),
			PrivateKey: cloneBytes(cfg.Token.PrivateKey),
			PublicKey:  cloneBytes(cfg.Token.PublicKey),
		}, cfg.Token.RotationWindow, jwt.WithRotationClock(now))
		if err != nil {
			return nil, err
		}
		keys = static
	}

	tokens, err := jwt.NewManager(jwt.Config{
		Keys:     keys,
		Issuer:   cfg.Token.Issuer,
		Audience: cfg.Token.Audience,
		Leeway:   cfg.Token.Leeway,
		Now:      now,
	})
	if err != nil {
		return nil, err
	}

	// -------- PASSWORDS --------
	hasher, err := password.NewArgon2(password.Config{
		Memory:           cfg.Password.Memory,
		Time:             cfg.Password.Time,
		Parallelism:      cfg.Password.Parallelism,
		SaltLength:       cfg.Password.SaltLength,
		KeyLength:        cfg.Password.KeyLength,
		MinPasswordBytes: cfg.Password.MinLength,
		MaxPasswordBytes: cfg.Password.MaxLength,
	})
	if err != nil {
		return nil, err
	}

	// -------- ACCOUNTS / SESSIONS --------
	accounts := account.NewStore(b.store, account.WithClock(now))
	sessions, err := session.NewManager(session.ManagerConfig{
		Store:            session.NewStore(b.store),
		Tokens:           tokens,
		Accounts:         accounts,
		AccessTTL:        cfg.Token.AccessTTL,
		RefreshTTL:       cfg.Session.RefreshTTL,
		AbsoluteLifetime: cfg.Session.AbsoluteLifetime,
		Sliding:          cfg.Session.Sliding,
		Now:              now,
	})
	if err != nil {
		return nil, err
	}

	engine := &Engine{
		config:    cfg,
		store:     b.store,
		keys:      keys,
		tokens:    tokens,
		passwords: hasher,
		accounts:  accounts,
		sessions:  sessions,
		metrics:   NewMetrics(cfg.Metrics),
		logger:    logger,
		clock:     now,
	}

	if cfg.Security.EnableLoginThrottle {
		engine.limiter = rate.New(rate.Config{
			EnableIPThrottle:      cfg.Security.EnableIPThrottle,
			MaxLoginAttempts:      cfg.Security.MaxLoginAttempts,
			LoginCooldownDuration: cfg.Security.LoginCooldownDuration,
		}, now)
	}
	engine.audit = internalaudit.NewDispatcher(internalaudit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
		Logger:     logger,
	}, b.auditSink)

	engine.flow = flows.New(engine.flowDeps())

	b.built = true

	return engine, nil
}

func (e *Engine) flowDeps() flows.Deps {
	hooks := flows.Hooks{
		Now:                 e.clock,
		ClientIPFromContext: ClientIPFromContext,
		MetricInc:           func(id int) { e.metrics.Inc(MetricID(id)) },
		Observe:             func(id int, d time.Duration) { e.metrics.Observe(MetricID(id), d) },
		EmitAudit:           e.emitAudit,
		Warn:                e.logger.WarnContext,
	}

	// A typed nil pointer would defeat the flows' nil-limiter check.
	var limiter flows.LoginLimiter
	if e.limiter != nil {
		limiter = e.limiter
	}

	return flows.Deps{
		Signup: flows.SignupDeps{
			Hooks:     hooks,
			Accounts:  e.accounts,
			Passwords: e.passwords,
			Metrics: flows.SignupMetrics{
				Success:   int(MetricSignupSuccess),
				Duplicate: int(MetricSignupDuplicate),
				Failure:   int(MetricSignupFailure),
			},
			Events: flows.SignupEvents{
				Success:   AuditSignupSuccess,
				Duplicate: AuditSignupDuplicate,
				Failure:   AuditSignupFailure,
			},
		},
		Login: flows.LoginDeps{
			Hooks:          hooks,
			UpgradeOnLogin: e.config.Password.UpgradeOnLogin,
			Accounts:       e.accounts,
			Passwords:      e.passwords,
			Sessions:       e.sessions,
			Limiter:        limiter,
			Metrics: flows.LoginMetrics{
				Success:        int(MetricLoginSuccess),
				Failure:        int(MetricLoginFailure),
				RateLimited:    int(MetricLoginRateLimited),
				SessionCreated: int(MetricSessionCreated),
				Rehashed:       int(MetricPasswordRehashed),
				Latency:        int(MetricLoginLatency),
			},
			Events: flows.LoginEvents{
				Success:     AuditLoginSuccess,
				Failure:     AuditLoginFailure,
				RateLimited: AuditLoginRateLimited,
			},
			Errors: flows.LoginErrors{
				EngineNotReady:     ErrEngineNotReady,
				InvalidCredentials: ErrInvalidCredentials,
				RateLimited:        ErrRateLimited,
			},
		},
		Refresh: flows.RefreshDeps{
			Hooks:    hooks,
			Sessions: e.sessions,
			Metrics: flows.RefreshMetrics{
				Success:            int(MetricRefreshSuccess),
				Failure:            int(MetricRefreshFailure),
				ReuseDetected:      int(MetricRefreshReuseDetected),
				SessionInvalidated: int(MetricSessionInvalidated),
			},
			Events: flows.RefreshEvents{
				Success:       AuditRefreshSuccess,
				Invalid:       AuditRefreshInvalid,
				ReuseDetected: AuditRefreshReuseDetected,
			},
		},
		Authenticate: flows.AuthenticateDeps{
			Hooks:    hooks,
			Sessions: e.sessions,
			Metrics: flows.AuthenticateMetrics{
				Failure: int(MetricAuthenticateFailure),
				Latency: int(MetricAuthenticateLatency),
			},
		},
		Logout: flows.LogoutDeps{
			Hooks:    hooks,
			Sessions: e.sessions,
			Metrics: flows.LogoutMetrics{
				Logout:             int(MetricLogout),
				LogoutAll:          int(MetricLogoutAll),
				SessionInvalidated: int(MetricSessionInvalidated),
			},
			Events: flows.LogoutEvents{
				Logout:    AuditLogoutSession,
				LogoutAll: AuditLogoutAll,
			},
		},
		Account: flows.AccountDeps{
			Hooks:     hooks,
			Accounts:  e.accounts,
			Passwords: e.passwords,
			Sessions:  e.sessions,
			Limiter:   limiter,
			Metrics: flows.AccountMetrics{
				Disabled:              int(MetricAccountDisabled),
				SessionInvalidated:    int(MetricSessionInvalidated),
				PasswordChangeSuccess: int(MetricPasswordChangeSuccess),
				PasswordChangeInvalid: int(MetricPasswordChangeInvalidOld),
			},
			Events: flows.AccountEvents{
				Disabled:              AuditAccountDisabled,
				PasswordChangeSuccess: AuditPasswordChangeSuccess,
				PasswordChangeFailure: AuditPasswordChangeFailure,
			},
			Errors: flows.AccountErrors{
				InvalidCredentials: ErrInvalidCredentials,
			},
		},
	}
}
