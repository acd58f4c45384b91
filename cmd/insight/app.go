package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/MikeSquared-Agency/insight/internal/cache"
	"github.com/MikeSquared-Agency/insight/internal/config"
	"github.com/MikeSquared-Agency/insight/internal/credential"
	"github.com/MikeSquared-Agency/insight/internal/extractor"
	"github.com/MikeSquared-Agency/insight/internal/hermes"
	"github.com/MikeSquared-Agency/insight/internal/insight"
	"github.com/MikeSquared-Agency/insight/internal/llm"
	"github.com/MikeSquared-Agency/insight/internal/llm/anthropic"
	"github.com/MikeSquared-Agency/insight/internal/llm/openai"
	"github.com/MikeSquared-Agency/insight/internal/prompts"
	"github.com/MikeSquared-Agency/insight/internal/store"
)

// app holds everything a command needs. Redis, Postgres and NATS are only
// connected when configured.
type app struct {
	cfg     config.Config
	logger  *slog.Logger
	llm     llm.Completer
	catalog prompts.Catalog

	store  *store.Store
	cache  *cache.Redis
	hermes *hermes.Client
}

func newRegistry(cfg config.Config) *llm.Registry {
	r := llm.NewRegistry()
	r.Register("openai", func(apiKey, model string) (llm.Completer, error) {
		return openai.NewClient(apiKey, model, cfg.OpenAIBaseURL, cfg.LLMTimeout), nil
	})
	r.Register("anthropic", func(apiKey, model string) (llm.Completer, error) {
		return anthropic.NewClient(apiKey, model, cfg.LLMTimeout), nil
	})
	return r
}

func newApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	// The credential is checked before anything touches the network.
	apiKey, err := credential.Get(cfg.CredentialName())
	if err != nil {
		return nil, err
	}

	client, err := newRegistry(cfg).Get(cfg.LLMProvider, apiKey, cfg.Model)
	if err != nil {
		return nil, err
	}
	logger.Info("llm client ready", "provider", cfg.LLMProvider, "model", client.Model())

	catalog := prompts.Default()
	if cfg.PromptsFile != "" {
		catalog, err = prompts.Load(cfg.PromptsFile)
		if err != nil {
			return nil, err
		}
		logger.Info("prompt catalog loaded", "path", cfg.PromptsFile)
	}

	a := &app{cfg: cfg, logger: logger, llm: client, catalog: catalog}

	if cfg.DatabaseURL != "" {
		a.store, err = store.New(ctx, cfg.DatabaseURL)
		if err != nil {
			a.Close()
			return nil, err
		}
		if err := a.store.Migrate(ctx); err != nil {
			a.Close()
			return nil, err
		}
		logger.Info("database connected")
	}

	if cfg.RedisAddr != "" {
		a.cache, err = cache.NewRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.CacheTTL)
		if err != nil {
			a.Close()
			return nil, err
		}
		logger.Info("redis connected", "addr", cfg.RedisAddr, "ttl", cfg.CacheTTL)
	}

	if cfg.NatsURL != "" {
		a.hermes, err = hermes.NewClient(ctx, hermes.Options{
			URL:            cfg.NatsURL,
			Token:          cfg.NatsToken,
			ConnectTimeout: cfg.NatsConnectTimeout,
			MaxReconnects:  cfg.NatsMaxReconnects,
			ReconnectWait:  cfg.NatsReconnectWait,
		}, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		logger.Info("NATS connected", "url", cfg.NatsURL)
	}

	return a, nil
}

func (a *app) Close() {
	if a.hermes != nil {
		a.hermes.Close()
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			a.logger.Warn("failed to close redis", "error", err)
		}
	}
	if a.store != nil {
		a.store.Close()
	}
}

func (a *app) extractor() *extractor.Extractor {
	var opts []extractor.Option
	if a.cache != nil {
		opts = append(opts, extractor.WithCache(a.cache))
	}
	if a.store != nil {
		opts = append(opts, extractor.WithRecorder(a.store))
	}
	if a.hermes != nil {
		opts = append(opts, extractor.WithPublisher(a.hermes))
	}
	return extractor.New(a.llm, a.logger, opts...)
}

func (a *app) insight() *insight.Service {
	return insight.NewService(a.extractor(), a.catalog)
}

func newAppFromEnv(ctx context.Context) (*app, error) {
	a, err := newApp(ctx, config.Load(), slog.Default())
	if err != nil {
		return nil, fmt.Errorf("startup: %w", err)
	}
	return a, nil
}
