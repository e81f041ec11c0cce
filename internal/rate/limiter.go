package rate

import (
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// pruneEvery is the number of new buckets after which idle ones are swept.
const pruneEvery = 1024

// Config holds limiter tuning parameters.
type Config struct {
	EnableIPThrottle      bool
	MaxLoginAttempts      int
	LoginCooldownDuration time.Duration
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter enforces per-identifier and per-IP login budgets. Safe for concurrent use.
type Limiter struct {
	config Config
	now    func() time.Time
	every  rate.Limit

	mu      sync.Mutex
	buckets map[string]*bucket
	created int
}

// New creates a Limiter. now may be nil.
func New(cfg Config, now func() time.Time) *Limiter {
	if cfg.MaxLoginAttempts <= 0 {
		cfg.MaxLoginAttempts = 1
	}
	if cfg.LoginCooldownDuration <= 0 {
		cfg.LoginCooldownDuration = time.Minute
	}
	if now == nil {
		now = time.Now
	}
	return &Limiter{
		config:  cfg,
		now:     now,
		every:   rate.Every(cfg.LoginCooldownDuration / time.Duration(cfg.MaxLoginAttempts)),
		buckets: make(map[string]*bucket),
	}
}

// LoginKey derives the throttle key for a (tenant, email) pair.
func LoginKey(tenantID, email string) string {
	return strconv.Itoa(len(tenantID)) + ":" + tenantID + ":" + email
}

// CheckLogin reports ErrRateLimited when identifier or ip has exhausted its budget. It
// spends nothing.
func (l *Limiter) CheckLogin(identifier, ip string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if b, ok := l.buckets[loginUserKey(identifier)]; ok && b.limiter.TokensAt(now) < 1 {
		return ErrRateLimited
	}
	if l.config.EnableIPThrottle && ip != "" {
		if b, ok := l.buckets[loginIPKey(ip)]; ok && b.limiter.TokensAt(now) < 1 {
			return ErrRateLimited
		}
	}
	return nil
}

// IncrementLogin spends one token for a failed attempt. It returns ErrRateLimited when
// no token was left to spend.
func (l *Limiter) IncrementLogin(identifier, ip string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	limited := !l.bucket(loginUserKey(identifier), now).AllowN(now, 1)
	if l.config.EnableIPThrottle && ip != "" {
		if !l.bucket(loginIPKey(ip), now).AllowN(now, 1) {
			limited = true
		}
	}
	if limited {
		return ErrRateLimited
	}
	return nil
}

// ResetLogin forgets the identifier's failures. Called after a successful login or
// password change. The IP budget is left alone.
func (l *Limiter) ResetLogin(identifier string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, loginUserKey(identifier))
}

// Remaining returns the whole tokens left for identifier. Unknown identifiers have the
// full budget, so the answer does not reveal whether an account exists.
func (l *Limiter) Remaining(identifier string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[loginUserKey(identifier)]
	if !ok {
		return l.config.MaxLoginAttempts
	}
	tokens := int(b.limiter.TokensAt(l.now()))
	if tokens < 0 {
		return 0
	}
	return tokens
}

// Len reports the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// Prune drops buckets that have refilled completely and reports how many were removed.
func (l *Limiter) Prune() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pruneLocked(l.now())
}

func (l *Limiter) bucket(key string, now time.Time) *rate.Limiter {
	b, ok := l.buckets[key]
	if !ok {
		l.created++
		if l.created%pruneEvery == 0 {
			l.pruneLocked(now)
		}
		b = &bucket{limiter: rate.NewLimiter(l.every, l.config.MaxLoginAttempts)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	return b.limiter
}

func (l *Limiter) pruneLocked(now time.Time) int {
	removed := 0
	for k, b := range l.buckets {
		if now.Sub(b.lastSeen) >= l.config.LoginCooldownDuration &&
			b.limiter.TokensAt(now) >= float64(l.config.MaxLoginAttempts) {
			delete(l.buckets, k)
			removed++
		}
	}
	return removed
}

func loginUserKey(identifier string) string {
	return "al:" + identifier
}

func loginIPKey(ip string) string {
	return "ali:" + ip
}
