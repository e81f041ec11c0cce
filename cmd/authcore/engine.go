package main

import (
	"fmt"
	"log/slog"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/internal/config"
	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/store"
)

// engineConfig maps service settings onto authcore.Config. An empty SIGNING_KEY yields an
// ephemeral Ed25519 key, so tokens die with the process.
func engineConfig(cfg *config.Config, logger *slog.Logger) (authcore.Config, error) {
	ec := authcore.DefaultConfig()
	ec.Token.AccessTTL = cfg.AccessTTL
	ec.Token.Issuer = cfg.Issuer
	ec.Token.Audience = cfg.Audience
	ec.Token.KeyID = cfg.SigningKeyID
	ec.Session.RefreshTTL = cfg.RefreshTTL
	if ec.Session.AbsoluteLifetime < cfg.RefreshTTL {
		ec.Session.AbsoluteLifetime = cfg.RefreshTTL
	}
	ec.Security.EnableLoginThrottle = cfg.LoginThrottle
	ec.Audit.Enabled = cfg.Audit
	ec.Metrics.Enabled = cfg.Metrics
	ec.Metrics.EnableLatencyHistograms = cfg.Metrics

	key, err := cfg.SigningKeyBytes()
	if err != nil {
		return ec, err
	}
	if key == nil {
		generated, err := jwt.GenerateEd25519Key(cfg.SigningKeyID)
		if err != nil {
			return ec, fmt.Errorf("generate signing key: %w", err)
		}
		key = generated.PrivateKey
		logger.Warn("no signing key configured, using an ephemeral key", "kid", cfg.SigningKeyID)
	}
	ec.Token.PrivateKey = key
	return ec, nil
}

func buildEngine(cfg *config.Config, st store.Store, logger *slog.Logger) (*authcore.Engine, error) {
	ec, err := engineConfig(cfg, logger)
	if err != nil {
		return nil, err
	}

	b := authcore.New().
		WithConfig(ec).
		WithStore(st).
		WithLogger(logger)
	if cfg.Audit {
		b = b.WithAuditSink(authcore.NewSlogSink(logger.With("stream", "audit")))
	}
	return b.Build()
}
