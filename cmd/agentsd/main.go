// Command agentsd serves multi-agent graphs over HTTP.
//
//	agentsd -config agents.yaml
//
// See package config for the file format and environment overrides.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	agents "github.com/visioninhope/agents-sub013"
	"github.com/visioninhope/agents-sub013/agent"
	"github.com/visioninhope/agents-sub013/config"
	"github.com/visioninhope/agents-sub013/core"
	"github.com/visioninhope/agents-sub013/internal/retry"
	"github.com/visioninhope/agents-sub013/logging"
	"github.com/visioninhope/agents-sub013/metrics"
	"github.com/visioninhope/agents-sub013/model"
	"github.com/visioninhope/agents-sub013/model/anthropic"
	"github.com/visioninhope/agents-sub013/model/openai"
	"github.com/visioninhope/agents-sub013/runner"
	"github.com/visioninhope/agents-sub013/server"
	"github.com/visioninhope/agents-sub013/status"
	redisstore "github.com/visioninhope/agents-sub013/store/redis"
	"github.com/visioninhope/agents-sub013/store/sqlstore"
)

func main() {
	configPath := flag.String("config", envOr("AGENTS_CONFIG", "agents.yaml"), "path to the YAML configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "agentsd: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.NewLoader().WithConfigPath(configPath).Load()
	if err != nil {
		return err
	}

	zl, err := logging.NewZapLogger(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	defer func() { _ = zl.Sync() }()
	logger := logging.NewZapAdapter(zl)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStore.Close(); err != nil {
			zl.Warn("store close failed", zap.Error(err))
		}
	}()

	models, err := buildModels(cfg.Models)
	if err != nil {
		return err
	}

	collector := metrics.NewCollector(cfg.Server.MetricsNamespace)

	a := agents.New(models, func(o *agents.Options) {
		o.Logger = logger
		o.Runner = append(o.Runner, func(ro *runner.Options) {
			ro.Store = store
			ro.Retry = retryPolicy(cfg.Runtime)
			ro.DelegationTimeout = cfg.Runtime.DelegationTimeout
			ro.MaxConcurrentDelegations = cfg.Runtime.MaxConcurrentDelegations
			ro.MaxDelegationDepth = cfg.Runtime.MaxDelegationDepth
			ro.MaxParallelTools = cfg.Runtime.MaxParallelTools
			ro.StatusUpdates = status.Config{
				NumEvents: cfg.Runtime.StatusUpdates.NumEvents,
				Interval:  time.Duration(cfg.Runtime.StatusUpdates.TimeInSeconds) * time.Second,
			}
			ro.Metrics = collector
		})
		o.Server = append(o.Server, func(so *server.Options) {
			so.Addr = cfg.Server.Addr
			so.ReadHeaderTimeout = cfg.Server.ReadHeaderTimeout
			so.IdleTimeout = cfg.Server.IdleTimeout
			so.ShutdownTimeout = cfg.Server.ShutdownTimeout
			so.Metrics = collector
		})
	})

	if len(cfg.Graphs) == 0 {
		return errors.New("no graphs configured")
	}
	for _, path := range cfg.Graphs {
		if err := a.LoadGraphFile(path); err != nil {
			return err
		}
		zl.Info("graph loaded", zap.String("path", path))
	}

	zl.Info("agentsd starting",
		zap.String("addr", cfg.Server.Addr),
		zap.String("store", cfg.Store.Driver),
		zap.Int("graphs", len(cfg.Graphs)),
	)

	return a.Server().ListenAndServe(ctx)
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func openStore(ctx context.Context, cfg *config.Config) (core.Store, io.Closer, error) {
	switch cfg.Store.Driver {
	case config.DriverRedis:
		s, err := redisstore.Dial(ctx, redisstore.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		}, func(o *redisstore.Options) { o.KeyPrefix = cfg.Redis.KeyPrefix })
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	case config.DriverPostgres, config.DriverSQLite:
		s, err := sqlstore.Open(cfg.Store.Driver, cfg.Database.DSN)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	default:
		return nil, closerFunc(func() error { return nil }), nil
	}
}

func buildModels(cfg config.ModelsConfig) (*agent.Models, error) {
	byName := make(map[string]model.Model, len(cfg.Providers))
	for _, p := range cfg.Providers {
		switch p.Provider {
		case config.ProviderOpenAI:
			byName[p.Name] = openai.NewModel(func(o *openai.Options) {
				if p.Model != "" {
					o.Model = p.Model
				}
				if p.Temperature != 0 {
					o.Temperature = p.Temperature
				}
				if p.MaxTokens > 0 {
					o.MaxCompletionTokens = p.MaxTokens
				}
				o.APIKey = p.APIKey()
				o.BaseURL = p.BaseURL
			})
		case config.ProviderAnthropic:
			byName[p.Name] = anthropic.NewModel(func(o *anthropic.Options) {
				if p.Model != "" {
					o.Model = p.Model
				}
				if p.Temperature != 0 {
					o.Temperature = p.Temperature
				}
				if p.MaxTokens > 0 {
					o.MaxTokens = p.MaxTokens
				}
				o.APIKey = p.APIKey()
				o.BaseURL = p.BaseURL
			})
		default:
			return nil, fmt.Errorf("model %q: unknown provider %q", p.Name, p.Provider)
		}
	}

	models := agent.NewModels(byName[cfg.Default])
	for name, m := range byName {
		models.Register(name, m)
	}
	return models, nil
}

func retryPolicy(rt config.RuntimeConfig) retry.Policy {
	p := retry.DefaultPolicy()
	p.MaxRetries = rt.ModelRetries
	if rt.ModelBackoff > 0 {
		p.InitialDelay = rt.ModelBackoff
	}
	return p
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
