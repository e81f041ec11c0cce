package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/MrEthical07/authcore/internal/httpapi"
	"github.com/MrEthical07/authcore/metrics/export/prometheus"
)

const sweepInterval = time.Minute

func newServeCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			level, _ := cfg.SlogLevel()
			logger := newLogger(os.Stdout, level)

			ctx := cmd.Context()
			st, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			engine, err := buildEngine(cfg, st.Store, logger)
			if err != nil {
				return err
			}
			defer engine.Close()

			deps := httpapi.Dependencies{
				Engine:         engine,
				Logger:         logger,
				BasePath:       cfg.BasePath,
				DefaultTenant:  cfg.TenantID,
				TrustForwarded: cfg.TrustForwarded,
			}
			if cfg.Metrics {
				deps.Metrics = prometheus.Handler(prometheus.NewCollector(engine))
			}

			srv := &http.Server{
				Addr:              cfg.Addr,
				Handler:           httpapi.NewRouter(deps),
				ReadHeaderTimeout: 5 * time.Second,
				ReadTimeout:       15 * time.Second,
				WriteTimeout:      15 * time.Second,
				IdleTimeout:       60 * time.Second,
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				logger.Info("listening", "addr", cfg.Addr, "base_path", cfg.BasePath, "store", st.description)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
				defer cancel()
				logger.Info("shutting down")
				return srv.Shutdown(shutdownCtx)
			})
			if st.sweep != nil {
				g.Go(func() error {
					sweepLoop(gctx, st.sweep, func(n int64, err error) {
						if err != nil {
							logger.Warn("sweep expired entries failed", "error", err)
							return
						}
						if n > 0 {
							logger.Debug("swept expired entries", "count", n)
						}
					})
					return nil
				})
			}
			return g.Wait()
		},
	}
}

func sweepLoop(ctx context.Context, sweep func(context.Context) (int64, error), report func(int64, error)) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report(sweep(ctx))
		}
	}
}
