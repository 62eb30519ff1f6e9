package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/jonathan/labelscan/internal/cache"
	"github.com/jonathan/labelscan/internal/config"
	"github.com/jonathan/labelscan/internal/gateway"
	"github.com/jonathan/labelscan/internal/llm"
	"github.com/jonathan/labelscan/internal/observability"
	"go.uber.org/zap"
)

// localUserID owns scans created by the CLI when --user is not given.
var localUserID = uuid.MustParse("00000000-0000-4000-8000-000000000001")

// closerFunc adapts a func to io.Closer.
type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// closeAll releases closers in reverse order of acquisition.
func closeAll(logger *zap.Logger, closers []io.Closer) {
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i].Close(); err != nil {
			logger.Warn("close failed", zap.Error(err))
		}
	}
}

// loadConfig reads configuration and applies global flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	logger, err := observability.NewLogger(cfg.Log.Level, cfg.Log.File)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return logger, nil
}

func llmConfig(cfg *config.Config) (*llm.Config, error) {
	provider, err := llm.ParseProvider(cfg.LLM.Provider)
	if err != nil {
		return nil, err
	}
	return llm.ConfigFor(provider).
		WithModel(llm.TierLite, cfg.LLM.LiteModel).
		WithModel(llm.TierStandard, cfg.LLM.StandardModel), nil
}

func gatewayConfig(cfg *config.Config) gateway.Config {
	return gateway.Config{
		MaxAttempts:       cfg.Gateway.MaxAttempts,
		BaseDelay:         cfg.Gateway.BaseDelay,
		MaxDelay:          cfg.Gateway.MaxDelay,
		CallTimeout:       cfg.Gateway.CallTimeout,
		RequestsPerSecond: cfg.Gateway.RequestsPerSecond,
		Burst:             cfg.Gateway.Burst,
		CacheTTL:          cfg.Cache.TTL,
	}
}

// newCache returns nil for cache type "none".
func newCache(ctx context.Context, cfg *config.Config, logger *zap.Logger) (cache.Store, error) {
	switch cfg.Cache.Type {
	case "redis":
		return cache.NewRedis(ctx, cache.RedisConfig{
			Addr:      cfg.Cache.RedisAddr,
			Password:  cfg.Cache.RedisPassword,
			DB:        cfg.Cache.RedisDB,
			KeyPrefix: cfg.Cache.KeyPrefix,
		}, logger)
	case "memory":
		return cache.NewMemory(10 * time.Minute), nil
	default:
		return nil, nil
	}
}

// newGateway builds the provider client, response cache and gateway. The
// returned closers must be released by the caller.
func newGateway(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*gateway.Gateway, []io.Closer, error) {
	if err := cfg.RequireAPIKey(); err != nil {
		return nil, nil, err
	}
	modelCfg, err := llmConfig(cfg)
	if err != nil {
		return nil, nil, err
	}

	client, err := llm.NewClient(ctx, modelCfg, cfg.LLM.APIKey)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create LLM client: %w", err)
	}
	closers := []io.Closer{client}

	opts := []gateway.Option{gateway.WithLogger(logger)}
	store, err := newCache(ctx, cfg, logger)
	if err != nil {
		closeAll(logger, closers)
		return nil, nil, fmt.Errorf("failed to create response cache: %w", err)
	}
	if store != nil {
		opts = append(opts, gateway.WithCache(store))
		closers = append(closers, store)
	}

	logger.Debug("gateway ready",
		zap.String("provider", string(modelCfg.Provider)),
		zap.String("standard_model", modelCfg.GetModel(llm.TierStandard)),
		zap.String("cache", cfg.Cache.Type),
	)
	return gateway.New(client, gatewayConfig(cfg), opts...), closers, nil
}

func parseUserID(s string) (uuid.UUID, error) {
	if s == "" {
		return localUserID, nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid --user %q: %w", s, err)
	}
	return id, nil
}
