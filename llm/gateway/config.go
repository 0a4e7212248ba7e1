package gateway

import (
	"time"

	"github.com/netopctl/topology-agent/llm/budget"
)

// LLMConfig is the subset of config.LLMConfig the gateway needs. Defined
// here rather than imported to avoid a config -> llm/gateway -> config
// import cycle; cmd/topologyagent maps config.LLMConfig onto this shape.
type LLMConfig struct {
	Backend          string
	FallbackBackend  string
	APIKey           string
	BaseURL          string
	DefaultModel     string
	Timeout          time.Duration

	BudgetPerUserTokensDay int
	BudgetGlobalTokensDay  int
	BudgetPerUserCostDay   float64
	BudgetGlobalCostDay    float64
}

// FromLLMConfig builds a gateway Config from the service's LLM
// configuration section. usageLogPath and environment come from the
// caller since they live outside Config.LLM (LogConfig and a top-level
// deployment-environment flag, respectively).
func FromLLMConfig(cfg LLMConfig, usageLogPath, environment string) Config {
	return Config{
		Primary: BackendConfig{
			Kind:    BackendKind(cfg.Backend),
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Model:   cfg.DefaultModel,
		},
		Fallback: BackendConfig{
			Kind:    BackendKind(cfg.FallbackBackend),
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Model:   cfg.DefaultModel,
		},
		// Only the daily token/cost ceilings are configured per the
		// request/minute/hour granularity the budget manager also exposes;
		// those finer limits are set to the daily ceiling itself so they
		// never bind before it does.
		PerUserBudget: budget.BudgetConfig{
			MaxTokensPerRequest: cfg.BudgetPerUserTokensDay,
			MaxTokensPerMinute:  cfg.BudgetPerUserTokensDay,
			MaxTokensPerHour:    cfg.BudgetPerUserTokensDay,
			MaxTokensPerDay:     cfg.BudgetPerUserTokensDay,
			MaxCostPerRequest:   cfg.BudgetPerUserCostDay,
			MaxCostPerDay:       cfg.BudgetPerUserCostDay,
			AlertThreshold:      0.8,
			AutoThrottle:        false,
		},
		GlobalBudget: budget.BudgetConfig{
			MaxTokensPerRequest: cfg.BudgetGlobalTokensDay,
			MaxTokensPerMinute:  cfg.BudgetGlobalTokensDay,
			MaxTokensPerHour:    cfg.BudgetGlobalTokensDay,
			MaxTokensPerDay:     cfg.BudgetGlobalTokensDay,
			MaxCostPerRequest:   cfg.BudgetGlobalCostDay,
			MaxCostPerDay:       cfg.BudgetGlobalCostDay,
			AlertThreshold:      0.8,
			AutoThrottle:        false,
		},
		PriceTable:   DefaultPriceTable(),
		UsageLogPath: usageLogPath,
		Environment:  environment,
	}
}
