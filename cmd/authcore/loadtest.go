package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/internal/config"
)

type loadtestOptions struct {
	store       string
	redisAddr   string
	accounts    int
	sessions    int
	concurrency int
	ops         int
}

// sessionState tracks the live refresh token of one seeded session.
type sessionState struct {
	mu      sync.Mutex
	access  string
	refresh string
}

func newLoadtestCommand() *cobra.Command {
	opts := &loadtestOptions{}
	cmd := &cobra.Command{
		Use:   "loadtest",
		Short: "Measure Authenticate and Refresh throughput against a store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.accounts <= 0 || opts.sessions <= 0 || opts.concurrency <= 0 || opts.ops <= 0 {
				return errors.New("accounts, sessions, concurrency, and ops must be > 0")
			}
			return runLoadtest(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}
	cmd.Flags().StringVar(&opts.store, "store", config.StoreMiniredis, "memory, miniredis, or redis")
	cmd.Flags().StringVar(&opts.redisAddr, "redis-addr", "127.0.0.1:6379", "redis address for --store=redis")
	cmd.Flags().IntVar(&opts.accounts, "accounts", 50, "accounts to create")
	cmd.Flags().IntVar(&opts.sessions, "sessions", 1000, "sessions to open across the accounts")
	cmd.Flags().IntVar(&opts.concurrency, "concurrency", 64, "concurrent workers")
	cmd.Flags().IntVar(&opts.ops, "ops", 20000, "operations per phase")
	return cmd
}

func runLoadtest(ctx context.Context, out io.Writer, opts *loadtestOptions) error {
	cfg := &config.Config{
		Store:         opts.store,
		RedisAddr:     opts.redisAddr,
		RedisPrefix:   "authcore-loadtest",
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    24 * time.Hour,
		Issuer:        "authcore",
		SigningKeyID:  "k1",
		LoginThrottle: false,
		Metrics:       true,
	}
	switch cfg.Store {
	case config.StoreMemory, config.StoreMiniredis, config.StoreRedis:
	default:
		return fmt.Errorf("loadtest supports memory, miniredis, and redis stores, got %q", cfg.Store)
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()
	fmt.Fprintf(out, "using %s\n", st.description)

	logger := slog.New(slog.DiscardHandler)
	ec, err := engineConfig(cfg, logger)
	if err != nil {
		return err
	}
	// Seeding cost is dominated by Argon2; the phases never hash.
	ec.Password.Memory = 8 * 1024
	ec.Password.Time = 1
	ec.Password.Parallelism = 1

	engine, err := authcore.New().WithConfig(ec).WithStore(st.Store).Build()
	if err != nil {
		return err
	}
	defer engine.Close()

	fmt.Fprintf(out, "seeding %d accounts and %d sessions...\n", opts.accounts, opts.sessions)
	startSeed := time.Now()
	states, err := seed(ctx, engine, opts)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	authStats, err := runPhase(ctx, states, opts, func(ctx context.Context, s *sessionState) error {
		s.mu.Lock()
		token := s.access
		s.mu.Unlock()
		_, err := engine.Authenticate(ctx, token)
		return err
	})
	if err != nil {
		return err
	}
	refreshStats, err := runPhase(ctx, states, opts, func(ctx context.Context, s *sessionState) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		pair, err := engine.Refresh(ctx, s.refresh)
		if err != nil {
			return err
		}
		s.access, s.refresh = pair.AccessToken, pair.RefreshToken
		return nil
	})
	if err != nil {
		return err
	}

	fmt.Fprintln(out, "---- results ----")
	printStats(out, "authenticate", authStats)
	printStats(out, "refresh", refreshStats)
	return nil
}

func seed(ctx context.Context, engine *authcore.Engine, opts *loadtestOptions) ([]*sessionState, error) {
	const pw = "loadtest-password"

	emails := make([]string, opts.accounts)
	for i := range emails {
		emails[i] = fmt.Sprintf("user%d@loadtest.local", i)
		if _, err := engine.Signup(ctx, "", emails[i], pw); err != nil && !errors.Is(err, authcore.ErrDuplicateAccount) {
			return nil, fmt.Errorf("signup %s: %w", emails[i], err)
		}
	}

	states := make([]*sessionState, opts.sessions)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.concurrency)
	for i := range states {
		g.Go(func() error {
			pair, err := engine.Login(gctx, "", emails[i%len(emails)], pw)
			if err != nil {
				return fmt.Errorf("login: %w", err)
			}
			states[i] = &sessionState{access: pair.AccessToken, refresh: pair.RefreshToken}
			return nil
		})
	}
	return states, g.Wait()
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func runPhase(ctx context.Context, states []*sessionState, opts *loadtestOptions, op func(context.Context, *sessionState) error) (phaseStats, error) {
	var (
		cursor    int64
		failures  int64
		mu        sync.Mutex
		latencies = make([]time.Duration, 0, opts.ops)
	)

	g, gctx := errgroup.WithContext(ctx)
	start := time.Now()
	for w := 0; w < opts.concurrency; w++ {
		g.Go(func() error {
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(w)*7919))
			local := make([]time.Duration, 0, opts.ops/opts.concurrency+1)
			defer func() {
				mu.Lock()
				latencies = append(latencies, local...)
				mu.Unlock()
			}()
			for {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				if atomic.AddInt64(&cursor, 1) > int64(opts.ops) {
					return nil
				}
				s := states[r.Intn(len(states))]
				t0 := time.Now()
				if err := op(gctx, s); err != nil {
					atomic.AddInt64(&failures, 1)
				}
				local = append(local, time.Since(t0))
			}
		})
	}
	if err := g.Wait(); err != nil {
		return phaseStats{}, err
	}
	return computeStats(time.Since(start), latencies, failures), nil
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	return samples[(len(samples)-1)*p/100]
}

func printStats(out io.Writer, name string, s phaseStats) {
	fmt.Fprintf(out, "%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
