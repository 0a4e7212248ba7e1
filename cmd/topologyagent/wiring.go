package main

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/netopctl/topology-agent/config"
	"github.com/netopctl/topology-agent/internal/graphstore"
	"github.com/netopctl/topology-agent/internal/hierarchyclient"
	"github.com/netopctl/topology-agent/internal/inventorystore"
	"github.com/netopctl/topology-agent/internal/usagestore"
	"github.com/netopctl/topology-agent/internal/vectorstore"
	"github.com/netopctl/topology-agent/llm/embedding"
	"github.com/netopctl/topology-agent/llm/gateway"
	"github.com/netopctl/topology-agent/orchestrator/driver"
	"github.com/netopctl/topology-agent/orchestrator/metrics"
	"github.com/netopctl/topology-agent/orchestrator/planner"
	"github.com/netopctl/topology-agent/orchestrator/respond"
	"github.com/netopctl/topology-agent/orchestrator/tools"
	"github.com/netopctl/topology-agent/workflow"
)

// app bundles every long-lived dependency the server and CLI subcommands
// share, built once in buildApp and torn down in app.Close.
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	db      *gorm.DB
	redis   *redis.Client
	gateway *gateway.Gateway
	metrics *metrics.Metrics
	driver  *driver.Driver
}

func buildApp(cfg *config.Config, logger *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	if cfg.Database.Driver != "" {
		db, err := gorm.Open(postgres.Open(cfg.Database.DSN()), &gorm.Config{})
		if err != nil {
			return nil, fmt.Errorf("connecting database: %w", err)
		}
		a.db = db
	}

	if cfg.Redis.Addr != "" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
		})
	}

	usage := usagestore.New(cfg.UsageLogPath, a.redis, logger)

	gw, err := gateway.New(
		gateway.FromLLMConfig(toGatewayLLMConfig(cfg.LLM), cfg.UsageLogPath, environmentOf(cfg)),
		usage,
		logger,
	)
	if err != nil {
		logger.Warn("LLM gateway unavailable, planner/responder will use fallback behavior only", zap.Error(err))
		gw = nil
	}
	a.gateway = gw

	m := metrics.New("topologyagent")
	a.metrics = m

	registry := tools.NewRegistry(buildToolAdapters(cfg, a.db, logger)...)
	executor := workflow.NewToolExecutor(registry, executorConfigFrom(cfg.Tools), logger)

	p := planner.New(gw, m, logger)
	r := respond.New(gw, logger)

	a.driver = driver.New(p, executor, nil, r, m, logger)

	return a, nil
}

func (a *app) Close() error {
	var firstErr error
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			firstErr = err
		}
	}
	if a.db != nil {
		if sqlDB, err := a.db.DB(); err == nil {
			if err := sqlDB.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func buildToolAdapters(cfg *config.Config, db *gorm.DB, logger *zap.Logger) []tools.Tool {
	adapters := []tools.Tool{
		tools.NewOutageTool(logger),
	}

	if cfg.GraphDB.URI != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		store, err := graphstore.New(ctx, graphstore.Config{
			URI:       cfg.GraphDB.URI,
			User:      cfg.GraphDB.User,
			Password:  cfg.GraphDB.Password,
			Database:  cfg.GraphDB.Database,
			Encrypted: cfg.GraphDB.Encrypted,
		}, logger)
		if err != nil {
			logger.Warn("graph store unavailable, topology_tool will run in stub mode", zap.Error(err))
		} else {
			adapters = append(adapters, tools.NewTopologyTool(store, logger))
		}
	} else {
		adapters = append(adapters, tools.NewTopologyTool(nil, logger))
	}

	if db != nil {
		adapters = append(adapters,
			tools.NewInventoryTool(inventorystore.New(db, logger), logger),
		)

		if cfg.LLM.APIKey != "" {
			embedder := embedding.NewOpenAIProvider(embedding.OpenAIConfig{
				APIKey:     cfg.LLM.APIKey,
				Dimensions: 1536,
			})
			vecStore := vectorstore.New(db, logger)
			adapters = append(adapters,
				tools.NewCommentsSearchTool(vecStore, embedder, logger),
				tools.NewMemorySearchTool(vecStore, embedder, logger),
			)
		} else {
			adapters = append(adapters,
				tools.NewCommentsSearchTool(nil, nil, logger),
				tools.NewMemorySearchTool(nil, nil, logger),
			)
		}
	} else {
		adapters = append(adapters,
			tools.NewInventoryTool(nil, logger),
			tools.NewCommentsSearchTool(nil, nil, logger),
			tools.NewMemorySearchTool(nil, nil, logger),
		)
	}

	if cfg.Hierarchy.BaseURL != "" {
		adapters = append(adapters, tools.NewHierarchyTool(hierarchyclient.New(hierarchyclient.Config{
			BaseURL: cfg.Hierarchy.BaseURL,
			APIKey:  cfg.Hierarchy.APIKey,
			Timeout: cfg.Hierarchy.Timeout,
		}, logger), logger))
	} else {
		adapters = append(adapters, tools.NewHierarchyTool(nil, logger))
	}

	return adapters
}

func executorConfigFrom(cfg config.ToolsConfig) workflow.ExecutorConfig {
	base := workflow.DefaultExecutorConfig()
	if cfg.RetryMaxAttempts > 0 {
		base.RetryPolicy.MaxRetries = cfg.RetryMaxAttempts
	}
	if cfg.RetryMinWait > 0 {
		base.RetryPolicy.InitialDelay = cfg.RetryMinWait
	}
	if cfg.RetryMaxWait > 0 {
		base.RetryPolicy.MaxDelay = cfg.RetryMaxWait
	}
	if cfg.BreakerFailThreshold > 0 {
		base.BreakerConfig.FailureThreshold = cfg.BreakerFailThreshold
	}
	if cfg.BreakerRecoveryWindow > 0 {
		base.BreakerConfig.RecoveryTimeout = cfg.BreakerRecoveryWindow
	}
	if cfg.MaxGroupConcurrency > 0 {
		base.MaxGroupConcurrency = cfg.MaxGroupConcurrency
	}
	return base
}

func toGatewayLLMConfig(cfg config.LLMConfig) gateway.LLMConfig {
	return gateway.LLMConfig{
		Backend:                cfg.Backend,
		FallbackBackend:        cfg.FallbackBackend,
		APIKey:                 cfg.APIKey,
		BaseURL:                cfg.BaseURL,
		DefaultModel:           cfg.DefaultProvider,
		Timeout:                cfg.Timeout,
		BudgetPerUserTokensDay: cfg.BudgetPerUserTokensDay,
		BudgetGlobalTokensDay:  cfg.BudgetGlobalTokensDay,
		BudgetPerUserCostDay:   cfg.BudgetPerUserCostDay,
		BudgetGlobalCostDay:    cfg.BudgetGlobalCostDay,
	}
}

func environmentOf(cfg *config.Config) string {
	if cfg.Telemetry.ServiceName == "" {
		return "dev"
	}
	return "production"
}
