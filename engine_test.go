package authcore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/store"
	"github.com/MrEthical07/authcore/store/memory"
	"github.com/MrEthical07/authcore/store/redisstore"
	"github.com/MrEthical07/authcore/store/sqlstore"
)

const (
	testEmail    = "alice@example.com"
	testPassword = "correct-password-123"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type backend struct {
	name string
	open func(t *testing.T, clock *testClock) store.Store
}

var backends = []backend{
	{name: "memory", open: openMemory},
	{name: "redis", open: openMiniredis},
	{name: "sqlite", open: openSQLite},
}

func openMemory(t *testing.T, clock *testClock) store.Store {
	return memory.New(memory.WithClock(clock.Now))
}

func openMiniredis(t *testing.T, _ *testClock) store.Store {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	st := redisstore.New(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "authcore")
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func openSQLite(t *testing.T, clock *testClock) store.Store {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := sqlstore.Open("sqlite", dsn)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	st, err := sqlstore.New(db, sqlstore.WithClock(clock.Now))
	if err != nil {
		t.Fatalf("sql store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func testConfig(t testing.TB) Config {
	t.Helper()

	key, err := jwt.GenerateEd25519Key("k1")
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	cfg := DefaultConfig()
	cfg.Token.KeyID = key.ID
	cfg.Token.PrivateKey = key.PrivateKey
	cfg.Token.RotationWindow = time.Minute
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Password.MinLength = 8
	cfg.Security.EnableLoginThrottle = false
	cfg.Metrics.Enabled = true
	return cfg
}

type testEnv struct {
	engine *Engine
	clock  *testClock
	store  store.Store
}

func newTestEnv(t *testing.T, open func(*testing.T, *testClock) store.Store, mutate func(*Config)) *testEnv {
	t.Helper()

	clock := &testClock{now: time.Unix(1_700_000_000, 0).UTC()}
	cfg := testConfig(t)
	if mutate != nil {
		mutate(&cfg)
	}
	st := open(t, clock)

	engine, err := New().
		WithConfig(cfg).
		WithStore(st).
		WithClock(clock.Now).
		Build()
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	t.Cleanup(engine.Close)

	return &testEnv{engine: engine, clock: clock, store: st}
}

func eachBackend(t *testing.T, fn func(t *testing.T, open func(*testing.T, *testClock) store.Store)) {
	for _, b := range backends {
		b := b
		t.Run(b.name, func(t *testing.T) { fn(t, b.open) })
	}
}

func (env *testEnv) signupAndLogin(t *testing.T) (SignupResult, TokenPair) {
	t.Helper()

	ctx := context.Background()
	acct, err := env.engine.Signup(ctx, "", testEmail, testPassword)
	if err != nil {
		t.Fatalf("signup failed: %v", err)
	}
	pair, err := env.engine.Login(ctx, "", testEmail, testPassword)
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	return acct, pair
}

func TestSignupLoginAuthenticate(t *testing.T) {
	eachBackend(t, func(t *testing.T, open func(*testing.T, *testClock) store.Store) {
		env := newTestEnv(t, open, nil)
		acct, pair := env.signupAndLogin(t)

		if acct.TenantID != "0" || acct.Email != testEmail {
			t.Fatalf("unexpected signup result %+v", acct)
		}
		if pair.AccessToken == "" || pair.RefreshToken == "" || pair.SessionID == "" {
			t.Fatalf("incomplete token pair %+v", pair)
		}
		if !pair.ExpiresAt.After(env.clock.Now()) || !pair.SessionExpiresAt.After(pair.ExpiresAt) {
			t.Fatalf("unexpected expiries: access=%v session=%v", pair.ExpiresAt, pair.SessionExpiresAt)
		}

		id, err := env.engine.Authenticate(context.Background(), pair.AccessToken)
		if err != nil {
			t.Fatalf("authenticate failed: %v", err)
		}
		if id.AccountID != acct.AccountID || id.SessionID != pair.SessionID || id.TenantID != "0" {
			t.Fatalf("identity mismatch: %+v vs %+v", id, acct)
		}
	})
}

func TestConcurrentSignupSingleWinner(t *testing.T) {
	eachBackend(t, func(t *testing.T, open func(*testing.T, *testClock) store.Store) {
		env := newTestEnv(t, open, nil)

		const n = 8
		var wg sync.WaitGroup
		results := make(chan error, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := env.engine.Signup(context.Background(), "t1", "Race@Example.com", testPassword)
				results <- err
			}()
		}
		wg.Wait()
		close(results)

		success, duplicate := 0, 0
		for err := range results {
			switch {
			case err == nil:
				success++
			case errors.Is(err, ErrDuplicateAccount):
				duplicate++
			default:
				t.Fatalf("unexpected signup error: %v", err)
			}
		}
		if success != 1 || duplicate != n-1 {
			t.Fatalf("expected one winner, got success=%d duplicate=%d", success, duplicate)
		}
	})
}

func TestSignupSameEmailDifferentTenants(t *testing.T) {
	env := newTestEnv(t, openMemory, nil)
	ctx := context.Background()

	a, err := env.engine.Signup(ctx, "t1", testEmail, testPassword)
	if err != nil {
		t.Fatalf("signup t1: %v", err)
	}
	b, err := env.engine.Signup(ctx, "t2", testEmail, testPassword)
	if err != nil {
		t.Fatalf("signup t2: %v", err)
	}
	if a.AccountID == b.AccountID {
		t.Fatal("tenants must not share accounts")
	}
	if _, err := env.engine.Login(ctx, "t3", testEmail, testPassword); err != ErrInvalidCredentials {
		t.Fatalf("expected invalid credentials in other tenant, got %v", err)
	}
}

func TestSignupValidation(t *testing.T) {
	env := newTestEnv(t, openMemory, nil)
	ctx := context.Background()

	_, err := env.engine.Signup(ctx, "", "no-at-sign", testPassword)
	if !errors.Is(err, ErrInvalidEmail) || !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected invalid email, got %v", err)
	}
	_, err = env.engine.Signup(ctx, "", testEmail, "short")
	if !errors.Is(err, ErrPasswordTooShort) || KindOf(err) != KindInvalidRequest {
		t.Fatalf("expected password too short, got %v", err)
	}
	_, err = env.engine.Signup(ctx, "", testEmail, strings.Repeat("x", 2000))
	if !errors.Is(err, ErrPasswordTooLong) {
		t.Fatalf("expected password too long, got %v", err)
	}
}

func TestLoginFailuresAreIdentical(t *testing.T) {
	env := newTestEnv(t, openMemory, nil)
	ctx := context.Background()

	acct, _ := env.signupAndLogin(t)
	if _, err := env.engine.Signup(ctx, "", "bob@example.com", testPassword); err != nil {
		t.Fatalf("signup bob: %v", err)
	}
	bob, err := env.engine.Login(ctx, "", "bob@example.com", testPassword)
	if err != nil {
		t.Fatalf("login bob: %v", err)
	}
	id, err := env.engine.Authenticate(ctx, bob.AccessToken)
	if err != nil {
		t.Fatalf("authenticate bob: %v", err)
	}
	if _, err := env.engine.DisableAccount(ctx, id.AccountID); err != nil {
		t.Fatalf("disable bob: %v", err)
	}

	_, wrong := env.engine.Login(ctx, "", testEmail, "wrong-password-000")
	_, unknown := env.engine.Login(ctx, "", "nobody@example.com", testPassword)
	_, disabled := env.engine.Login(ctx, "", "bob@example.com", testPassword)

	if wrong != ErrInvalidCredentials || unknown != ErrInvalidCredentials || disabled != ErrInvalidCredentials {
		t.Fatalf("expected identical errors, got wrong=%v unknown=%v disabled=%v", wrong, unknown, disabled)
	}
	if wrong.Error() != unknown.Error() {
		t.Fatalf("error text differs: %q vs %q", wrong.Error(), unknown.Error())
	}
	_ = acct
}

func TestRefreshRotatesAndSlides(t *testing.T) {
	env := newTestEnv(t, openMemory, nil)
	ctx := context.Background()
	_, pair := env.signupAndLogin(t)

	env.clock.Advance(time.Hour)
	next, err := env.engine.Refresh(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	if next.SessionID != pair.SessionID {
		t.Fatal("refresh must keep the session id")
	}
	if next.RefreshToken == pair.RefreshToken || next.AccessToken == pair.AccessToken {
		t.Fatal("refresh must issue a new pair")
	}
	if want := env.clock.Now().Add(env.engine.config.Session.RefreshTTL); !next.SessionExpiresAt.Equal(want) {
		t.Fatalf("expected sliding expiry %v, got %v", want, next.SessionExpiresAt)
	}

	info, err := env.engine.Session(ctx, pair.SessionID)
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	if info.Generation != 1 || !info.Active {
		t.Fatalf("unexpected session state %+v", info)
	}
}

func TestRefreshReuseRevokesSession(t *testing.T) {
	eachBackend(t, func(t *testing.T, open func(*testing.T, *testClock) store.Store) {
		env := newTestEnv(t, open, nil)
		ctx := context.Background()
		_, pair := env.signupAndLogin(t)

		next, err := env.engine.Refresh(ctx, pair.RefreshToken)
		if err != nil {
			t.Fatalf("first refresh failed: %v", err)
		}

		_, err = env.engine.Refresh(ctx, pair.RefreshToken)
		if !errors.Is(err, ErrRefreshReuse) || !errors.Is(err, ErrInvalid) {
			t.Fatalf("expected refresh reuse, got %v", err)
		}

		if _, err := env.engine.Authenticate(ctx, next.AccessToken); !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("expected unauthorized after reuse, got %v", err)
		}
		if _, err := env.engine.Refresh(ctx, next.RefreshToken); !errors.Is(err, ErrInvalid) {
			t.Fatalf("expected invalid refresh after reuse, got %v", err)
		}

		info, err := env.engine.Session(ctx, pair.SessionID)
		if err != nil {
			t.Fatalf("session: %v", err)
		}
		if !info.Revoked || info.RevokeReason != "reuse" {
			t.Fatalf("expected session revoked for reuse, got %+v", info)
		}
	})
}

func TestRefreshConcurrencySingleWinner(t *testing.T) {
	for _, b := range backends[:2] {
		b := b
		t.Run(b.name, func(t *testing.T) {
			env := newTestEnv(t, b.open, nil)
			_, pair := env.signupAndLogin(t)

			const n = 16
			var wg sync.WaitGroup
			results := make(chan error, n)
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := env.engine.Refresh(context.Background(), pair.RefreshToken)
					results <- err
				}()
			}
			wg.Wait()
			close(results)

			success, fail := 0, 0
			for err := range results {
				if err == nil {
					success++
					continue
				}
				if !errors.Is(err, ErrInvalid) {
					t.Fatalf("unexpected refresh error: %v", err)
				}
				fail++
			}
			if success != 1 || fail != n-1 {
				t.Fatalf("expected exactly one refresh success, got success=%d fail=%d", success, fail)
			}
		})
	}
}

func TestRefreshGarbage(t *testing.T) {
	env := newTestEnv(t, openMemory, nil)
	for _, token := range []string{"", "not-a-token", strings.Repeat("A", 43)} {
		if _, err := env.engine.Refresh(context.Background(), token); !errors.Is(err, ErrInvalid) || errors.Is(err, ErrRefreshReuse) {
			t.Fatalf("token %q: expected plain invalid, got %v", token, err)
		}
	}
}

func TestSessionExpiresAfterRefreshTTL(t *testing.T) {
	env := newTestEnv(t, openMemory, nil)
	_, pair := env.signupAndLogin(t)

	env.clock.Advance(env.engine.config.Session.RefreshTTL + time.Second)
	if _, err := env.engine.Refresh(context.Background(), pair.RefreshToken); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected expired session to reject refresh, got %v", err)
	}
}

func TestExpiredAccessToken(t *testing.T) {
	env := newTestEnv(t, openMemory, nil)
	_, pair := env.signupAndLogin(t)

	cfg := env.engine.config.Token
	env.clock.Advance(cfg.AccessTTL + cfg.Leeway + time.Second)

	_, err := env.engine.Authenticate(context.Background(), pair.AccessToken)
	if !errors.Is(err, ErrTokenExpired) || !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected token expired, got %v", err)
	}
}

func TestAuthenticateGarbage(t *testing.T) {
	env := newTestEnv(t, openMemory, nil)
	_, err := env.engine.Authenticate(context.Background(), "a.b.c")
	if !errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestLogoutThenAuthenticateFails(t *testing.T) {
	eachBackend(t, func(t *testing.T, open func(*testing.T, *testClock) store.Store) {
		env := newTestEnv(t, open, nil)
		ctx := context.Background()
		_, pair := env.signupAndLogin(t)

		if err := env.engine.Logout(ctx, pair.SessionID); err != nil {
			t.Fatalf("logout: %v", err)
		}
		if err := env.engine.Logout(ctx, pair.SessionID); err != nil {
			t.Fatalf("second logout must succeed: %v", err)
		}
		if err := env.engine.Logout(ctx, "unknown-session"); err != nil {
			t.Fatalf("unknown session logout must succeed: %v", err)
		}

		if _, err := env.engine.Authenticate(ctx, pair.AccessToken); !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("expected unauthorized after logout, got %v", err)
		}
		if _, err := env.engine.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrInvalid) {
			t.Fatalf("expected invalid refresh after logout, got %v", err)
		}
	})
}

func TestLogoutAll(t *testing.T) {
	env := newTestEnv(t, openMemory, nil)
	ctx := context.Background()
	acct, first := env.signupAndLogin(t)
	second, err := env.engine.Login(ctx, "", testEmail, testPassword)
	if err != nil {
		t.Fatalf("second login: %v", err)
	}

	n, err := env.engine.LogoutAll(ctx, acct.AccountID)
	if err != nil {
		t.Fatalf("logout all: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 revoked sessions, got %d", n)
	}
	for _, pair := range []TokenPair{first, second} {
		if _, err := env.engine.Authenticate(ctx, pair.AccessToken); !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("expected unauthorized, got %v", err)
		}
	}
}

func TestDisableAccountRevokesSessions(t *testing.T) {
	env := newTestEnv(t, openMemory, nil)
	ctx := context.Background()
	acct, pair := env.signupAndLogin(t)

	info, err := env.engine.DisableAccount(ctx, acct.AccountID)
	if err != nil {
		t.Fatalf("disable: %v", err)
	}
	if !info.Disabled {
		t.Fatal("expected disabled account")
	}
	if _, err := env.engine.DisableAccount(ctx, acct.AccountID); err != nil {
		t.Fatalf("repeated disable must succeed: %v", err)
	}

	if _, err := env.engine.Authenticate(ctx, pair.AccessToken); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if _, err := env.engine.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected invalid refresh, got %v", err)
	}
	if _, err := env.engine.Login(ctx, "", testEmail, testPassword); err != ErrInvalidCredentials {
		t.Fatalf("expected invalid credentials, got %v", err)
	}

	if _, err := env.engine.DisableAccount(ctx, "missing"); !errors.Is(err, ErrAccountNotFound) || !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected account not found, got %v", err)
	}
}

func TestChangePassword(t *testing.T) {
	env := newTestEnv(t, openMemory, nil)
	ctx := context.Background()
	_, pair := env.signupAndLogin(t)
	const newPassword = "brand-new-password-456"

	if err := env.engine.ChangePassword(ctx, "", testEmail, "wrong-password-000", newPassword); err != ErrInvalidCredentials {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
	if err := env.engine.ChangePassword(ctx, "", testEmail, testPassword, "short"); !errors.Is(err, ErrPasswordTooShort) {
		t.Fatalf("expected password too short, got %v", err)
	}
	if err := env.engine.ChangePassword(ctx, "", testEmail, testPassword, newPassword); err != nil {
		t.Fatalf("change password: %v", err)
	}

	if _, err := env.engine.Authenticate(ctx, pair.AccessToken); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected old session revoked, got %v", err)
	}
	if _, err := env.engine.Login(ctx, "", testEmail, testPassword); err != ErrInvalidCredentials {
		t.Fatalf("old password must fail, got %v", err)
	}
	if _, err := env.engine.Login(ctx, "", testEmail, newPassword); err != nil {
		t.Fatalf("new password login: %v", err)
	}
}

func TestLoginThrottle(t *testing.T) {
	env := newTestEnv(t, openMemory, func(cfg *Config) {
		cfg.Security.EnableLoginThrottle = true
		cfg.Security.MaxLoginAttempts = 3
		cfg.Security.LoginCooldownDuration = 15 * time.Minute
	})
	ctx := context.Background()
	if _, err := env.engine.Signup(ctx, "", testEmail, testPassword); err != nil {
		t.Fatalf("signup: %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, err := env.engine.Login(ctx, "", testEmail, "wrong-password-000"); err != ErrInvalidCredentials {
			t.Fatalf("attempt %d: expected invalid credentials, got %v", i, err)
		}
	}
	if _, err := env.engine.Login(ctx, "", testEmail, testPassword); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected rate limited, got %v", err)
	}
	if _, err := env.engine.Login(ctx, "", "other@example.com", "wrong-password-000"); err != ErrInvalidCredentials {
		t.Fatalf("throttle must be per email, got %v", err)
	}

	env.clock.Advance(15 * time.Minute)
	if _, err := env.engine.Login(ctx, "", testEmail, testPassword); err != nil {
		t.Fatalf("expected login after cooldown, got %v", err)
	}
}

func TestLoginRehashesUpgradedParameters(t *testing.T) {
	clock := &testClock{now: time.Unix(1_700_000_000, 0).UTC()}
	st := memory.New(memory.WithClock(clock.Now))
	cfg := testConfig(t)

	weak, err := New().WithConfig(cfg).WithStore(st).WithClock(clock.Now).Build()
	if err != nil {
		t.Fatalf("build weak engine: %v", err)
	}
	acct, err := weak.Signup(context.Background(), "", testEmail, testPassword)
	if err != nil {
		t.Fatalf("signup: %v", err)
	}

	cfg.Password.Time = 2
	strong, err := New().WithConfig(cfg).WithStore(st).WithClock(clock.Now).Build()
	if err != nil {
		t.Fatalf("build strong engine: %v", err)
	}
	if _, err := strong.Login(context.Background(), "", testEmail, testPassword); err != nil {
		t.Fatalf("login: %v", err)
	}

	stored, err := strong.accounts.FindByID(context.Background(), acct.AccountID)
	if err != nil {
		t.Fatalf("find account: %v", err)
	}
	if !strings.Contains(stored.PasswordHash, ",t=2,") {
		t.Fatalf("expected upgraded digest, got %q", stored.PasswordHash)
	}
	if got := strong.MetricsSnapshot().Counters[MetricPasswordRehashed]; got != 1 {
		t.Fatalf("expected one rehash, got %d", got)
	}
}

func TestRotateSigningKey(t *testing.T) {
	env := newTestEnv(t, openMemory, nil)
	ctx := context.Background()
	_, pair := env.signupAndLogin(t)

	next, err := jwt.GenerateEd25519Key("k2")
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	if err := env.engine.RotateSigningKey(ctx, next); err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if env.engine.SigningKeyID() != "k2" {
		t.Fatalf("expected k2 current, got %q", env.engine.SigningKeyID())
	}

	if _, err := env.engine.Authenticate(ctx, pair.AccessToken); err != nil {
		t.Fatalf("previous key must verify inside window: %v", err)
	}
	rotated, err := env.engine.Refresh(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}

	env.clock.Advance(2 * time.Minute)
	_, err = env.engine.Authenticate(ctx, pair.AccessToken)
	if !errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected rejection after window, got %v", err)
	}
	if _, err := env.engine.Authenticate(ctx, rotated.AccessToken); err != nil {
		t.Fatalf("token signed by new key: %v", err)
	}

	if err := env.engine.RotateSigningKey(ctx, next); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected rotation to the same id to fail, got %v", err)
	}
}

type fixedKeys struct{ set jwt.KeySet }

func (f fixedKeys) Keys() jwt.KeySet { return f.set }

func TestRotateSigningKeyNeedsRotatableProvider(t *testing.T) {
	key, err := jwt.GenerateEd25519Key("fixed")
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	cfg := testConfig(t)
	cfg.Token.PrivateKey = nil

	engine, err := New().
		WithConfig(cfg).
		WithStore(memory.New()).
		WithKeyProvider(fixedKeys{set: jwt.KeySet{Current: &key}}).
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	next, _ := jwt.GenerateEd25519Key("next")
	if err := engine.RotateSigningKey(context.Background(), next); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected invalid request, got %v", err)
	}
}

func TestStoreFailureIsTransient(t *testing.T) {
	env := newTestEnv(t, openMemory, nil)
	_, pair := env.signupAndLogin(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := env.engine.Refresh(ctx, pair.RefreshToken)
	if !errors.Is(err, ErrTransient) || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected transient cancellation, got %v", err)
	}
	if strings.Contains(err.Error(), "context") {
		t.Fatalf("cause must not be rendered: %q", err.Error())
	}

	// Nothing was consumed: the token still works.
	if _, err := env.engine.Refresh(context.Background(), pair.RefreshToken); err != nil {
		t.Fatalf("refresh after cancelled attempt: %v", err)
	}

	_ = env.store.Close()
	if _, err := env.engine.Login(context.Background(), "", testEmail, testPassword); !errors.Is(err, ErrTransient) {
		t.Fatalf("expected transient on closed store, got %v", err)
	}
}

func TestSessionIntrospection(t *testing.T) {
	env := newTestEnv(t, openMemory, nil)
	ctx := context.Background()
	acct, pair := env.signupAndLogin(t)

	info, err := env.engine.Session(ctx, pair.SessionID)
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	if info.AccountID != acct.AccountID || !info.Active || info.Revoked {
		t.Fatalf("unexpected session info %+v", info)
	}
	if _, err := env.engine.Session(ctx, "missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected session not found, got %v", err)
	}

	view, err := env.engine.Account(ctx, acct.AccountID)
	if err != nil {
		t.Fatalf("account: %v", err)
	}
	if view.Email != testEmail || view.Disabled {
		t.Fatalf("unexpected account view %+v", view)
	}
}

func TestMetricsRecorded(t *testing.T) {
	env := newTestEnv(t, openMemory, nil)
	ctx := context.Background()
	_, pair := env.signupAndLogin(t)
	_, _ = env.engine.Login(ctx, "", testEmail, "wrong-password-000")
	_, _ = env.engine.Refresh(ctx, pair.RefreshToken)
	_, _ = env.engine.Refresh(ctx, pair.RefreshToken)

	c := env.engine.MetricsSnapshot().Counters
	checks := map[MetricID]uint64{
		MetricSignupSuccess:        1,
		MetricLoginSuccess:         1,
		MetricLoginFailure:         1,
		MetricSessionCreated:       1,
		MetricRefreshSuccess:       1,
		MetricRefreshReuseDetected: 1,
	}
	for id, want := range checks {
		if c[id] != want {
			t.Fatalf("metric %d: expected %d, got %d", id, want, c[id])
		}
	}
}

func TestNilEngineNotReady(t *testing.T) {
	var e *Engine
	ctx := context.Background()

	if _, err := e.Signup(ctx, "", testEmail, testPassword); !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("signup: %v", err)
	}
	if _, err := e.Login(ctx, "", testEmail, testPassword); !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("login: %v", err)
	}
	if _, err := e.Refresh(ctx, "x"); !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("refresh: %v", err)
	}
	if _, err := e.Authenticate(ctx, "x"); !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("authenticate: %v", err)
	}
	if err := e.Logout(ctx, "x"); !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("logout: %v", err)
	}
	if err := (&Engine{}).Logout(ctx, "x"); !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("zero engine logout: %v", err)
	}
	e.Close()
	if e.AuditDropped() != 0 || len(e.MetricsSnapshot().Counters) != 0 {
		t.Fatal("nil engine accessors must be inert")
	}
}

func TestBuildRequirements(t *testing.T) {
	cfg := testConfig(t)

	if _, err := New().WithConfig(cfg).Build(); err == nil {
		t.Fatal("expected error without store")
	}

	noKey := cfg
	noKey.Token.PrivateKey = nil
	if _, err := New().WithConfig(noKey).WithStore(memory.New()).Build(); err == nil {
		t.Fatal("expected error without signing key")
	}

	b := New().WithConfig(cfg).WithStore(memory.New())
	if _, err := b.Build(); err != nil {
		t.Fatalf("build: %v", err)
	}
	if _, err := b.Build(); err == nil {
		t.Fatal("expected error on second build")
	}
}

// disableBeforeSessionStore runs beforeSession once, ahead of the first transaction that
// writes a session record.
type disableBeforeSessionStore struct {
	store.Store

	fired         atomic.Bool
	beforeSession func()
}

func (s *disableBeforeSessionStore) Update(ctx context.Context, keys []string, fn func(store.Tx) error) error {
	for _, k := range keys {
		if strings.HasPrefix(k, "sess:") && s.beforeSession != nil && s.fired.CompareAndSwap(false, true) {
			s.beforeSession()
			break
		}
	}
	return s.Store.Update(ctx, keys, fn)
}

func TestDisableDuringLoginLeavesNoUsableSession(t *testing.T) {
	eachBackend(t, func(t *testing.T, open func(*testing.T, *testClock) store.Store) {
		wrapped := &disableBeforeSessionStore{}
		env := newTestEnv(t, func(t *testing.T, clock *testClock) store.Store {
			wrapped.Store = open(t, clock)
			return wrapped
		}, nil)
		ctx := context.Background()

		acct, err := env.engine.Signup(ctx, "", testEmail, testPassword)
		if err != nil {
			t.Fatalf("signup failed: %v", err)
		}
		wrapped.beforeSession = func() {
			if _, err := env.engine.DisableAccount(ctx, acct.AccountID); err != nil {
				t.Errorf("disable: %v", err)
			}
		}

		pair, err := env.engine.Login(ctx, "", testEmail, testPassword)
		if err != ErrInvalidCredentials {
			t.Fatalf("expected ErrInvalidCredentials, got pair=%+v err=%v", pair, err)
		}

		info, err := env.engine.Account(ctx, acct.AccountID)
		if err != nil {
			t.Fatalf("account: %v", err)
		}
		if !info.Disabled {
			t.Fatalf("expected account disabled, got %+v", info)
		}
	})
}
