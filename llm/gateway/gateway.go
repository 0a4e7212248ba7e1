// Package gateway centralizes every outbound LLM call behind budget
// enforcement, input/output guardrails, and usage accounting, so no caller
// (planner, correlator, responder) talks to a provider directly.
package gateway

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/netopctl/topology-agent/internal/tokenestimate"
	"github.com/netopctl/topology-agent/internal/usagestore"
	"github.com/netopctl/topology-agent/llm"
	"github.com/netopctl/topology-agent/llm/budget"
	"github.com/netopctl/topology-agent/llm/guardrails"
	"github.com/netopctl/topology-agent/types"
)

// Config wires the gateway's backend kinds, budgets, and price table. It
// is built from Config.LLM by the caller (cmd/topologyagent).
type Config struct {
	Primary          BackendConfig
	Fallback         BackendConfig
	PerUserBudget    budget.BudgetConfig
	GlobalBudget     budget.BudgetConfig
	PriceTable       map[string]ModelPrice
	UsageLogPath     string
	Environment      string // "dev" or "production", selects guardrail trailer verbosity
}

// Request describes a single LLM call. Tier selects the guardrail
// preamble/trailer and, by convention, the default model if Model is
// empty.
type Request struct {
	Tier            guardrails.Tier
	UserID          string
	RunID           string
	Application     string
	NodeName        string
	Model           string
	SystemPrompt    string
	Messages        []types.Message
	MaxTokens       int
	Temperature     float32
	JSONEnforcement bool
	RBACLevel       guardrails.RBACLevel
}

// Response is the gateway's answer: guardrail-filtered text plus the raw
// usage numbers the caller may want to surface for debugging.
type Response struct {
	Content          string
	Backend          BackendKind
	Model            string
	PromptTokens     int
	CompletionTokens int
	Cost             float64
	Degraded         bool // true when the fallback backend served this request
}

// Gateway owns the two backend providers (primary + fallback), the
// per-user and global budget managers, and the shared usage store. A
// single Gateway is safe for concurrent use across many concurrent
// requests.
type Gateway struct {
	cfg Config

	primaryProvider  llm.Provider
	fallbackProvider llm.Provider

	globalBudget *budget.TokenBudgetManager

	userBudgetsMu sync.Mutex
	userBudgets   map[string]*budget.TokenBudgetManager

	estimator *tokenestimate.Estimator
	usage     *usagestore.Store
	input     *guardrails.InputFilter
	output    *guardrails.OutputFilter

	logger *zap.Logger
}

// New constructs a Gateway, eagerly building both backend providers so
// misconfiguration (e.g. a missing base_url) surfaces at startup rather
// than on the first request.
func New(cfg Config, usage *usagestore.Store, logger *zap.Logger) (*Gateway, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	primary, err := BuildProvider(cfg.Primary, logger)
	if err != nil {
		return nil, fmt.Errorf("building primary backend %q: %w", cfg.Primary.Kind, err)
	}
	fallback, err := BuildProvider(cfg.Fallback, logger)
	if err != nil {
		return nil, fmt.Errorf("building fallback backend %q: %w", cfg.Fallback.Kind, err)
	}
	if cfg.PriceTable == nil {
		cfg.PriceTable = DefaultPriceTable()
	}
	return &Gateway{
		cfg:              cfg,
		primaryProvider:  primary,
		fallbackProvider: fallback,
		globalBudget:     budget.NewTokenBudgetManager(cfg.GlobalBudget, logger),
		userBudgets:      make(map[string]*budget.TokenBudgetManager),
		estimator:        tokenestimate.NewEstimator(),
		usage:            usage,
		input:            guardrails.NewInputFilter(),
		output:           guardrails.NewOutputFilter(),
		logger:           logger,
	}, nil
}

func (g *Gateway) userBudget(userID string) *budget.TokenBudgetManager {
	g.userBudgetsMu.Lock()
	defer g.userBudgetsMu.Unlock()
	if m, ok := g.userBudgets[userID]; ok {
		return m
	}
	m := budget.NewTokenBudgetManager(g.cfg.PerUserBudget, g.logger)
	g.userBudgets[userID] = m
	return m
}

// Complete runs one guardrail-wrapped, budget-checked, accounted LLM
// call. Budget breach at either the per-user or global level causes a
// silent switch to the fallback backend rather than a failed call,
// matching the gateway's degrade-never-fail contract.
func (g *Gateway) Complete(ctx context.Context, req Request) (*Response, error) {
	promptText := req.SystemPrompt
	for _, m := range req.Messages {
		promptText += "\n" + m.Content
	}

	backend, provider, degraded := g.selectBackend(ctx, req, promptText)
	model := req.Model
	if model == "" {
		model = backend.Model
	}

	filteredSystem := g.input.Apply(req.SystemPrompt, guardrails.InputConfig{
		PIIRedaction: true,
		Tier:         req.Tier,
		Environment:  g.cfg.Environment,
	})

	messages := make([]types.Message, 0, len(req.Messages)+1)
	messages = append(messages, types.NewSystemMessage(filteredSystem))
	for _, m := range req.Messages {
		if m.Role == types.RoleUser {
			m.Content = g.input.RedactPII(m.Content)
			if g.input.DetectInjection(m.Content) {
				m.Content = guardrails.InjectionBlockedMessage
			}
		}
		messages = append(messages, m)
	}

	chatReq := &llm.ChatRequest{
		TraceID:     req.RunID,
		UserID:      req.UserID,
		Model:       model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}

	resp, err := provider.Completion(ctx, chatReq)
	if err != nil {
		return nil, fmt.Errorf("llm completion failed: %w", err)
	}
	content := ""
	if len(resp.Choices) > 0 {
		content = resp.Choices[0].Message.Content
	}

	content = g.output.Apply(content, guardrails.OutputConfig{
		JSONEnforcement: req.JSONEnforcement,
		RBACLevel:       req.RBACLevel,
	})

	cost := CalculateCost(g.cfg.PriceTable, resp.Model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens, g.logger)
	totalTokens := resp.Usage.PromptTokens + resp.Usage.CompletionTokens

	record := budget.UsageRecord{
		Tokens:    totalTokens,
		Cost:      cost,
		Model:     resp.Model,
		RequestID: req.RunID,
		UserID:    req.UserID,
	}
	g.globalBudget.RecordUsage(record)
	g.userBudget(req.UserID).RecordUsage(record)

	if g.usage != nil {
		g.usage.Record(ctx, usagestore.LogEntry{
			Application:      req.Application,
			User:             req.UserID,
			NodeName:         req.NodeName,
			LLMName:          resp.Model,
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			Cost:             cost,
			RunID:            req.RunID,
		})
	}

	return &Response{
		Content:          content,
		Backend:          backend.Kind,
		Model:            resp.Model,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		Cost:             cost,
		Degraded:         degraded,
	}, nil
}

func (g *Gateway) selectBackend(ctx context.Context, req Request, promptText string) (BackendConfig, llm.Provider, bool) {
	estTokens := g.estimator.Estimate(g.cfg.Primary.Model, promptText) + req.MaxTokens

	globalErr := g.globalBudget.CheckBudget(ctx, estTokens, 0)
	userErr := g.userBudget(req.UserID).CheckBudget(ctx, estTokens, 0)
	if globalErr == nil && userErr == nil {
		return g.cfg.Primary, g.primaryProvider, false
	}

	g.logger.Warn("llm budget breached, degrading to fallback backend",
		zap.String("user_id", req.UserID),
		zap.Error(firstNonNil(globalErr, userErr)))
	return g.cfg.Fallback, g.fallbackProvider, true
}

func firstNonNil(errs ...error) error {
	for _, e := range errs {
		if e != nil {
			return e
		}
	}
	return nil
}
