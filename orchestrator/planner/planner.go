// Package planner turns a user question plus conversation context into a
// step DAG the executor can run, by calling the LLM gateway at tier=planner
// and falling back to a fixed all-tools plan whenever the model's output
// can't be trusted.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/netopctl/topology-agent/llm/gateway"
	"github.com/netopctl/topology-agent/llm/guardrails"
	"github.com/netopctl/topology-agent/orchestrator/metrics"
	"github.com/netopctl/topology-agent/orchestrator/state"
	"github.com/netopctl/topology-agent/types"
)

const systemPrompt = `You are the planning stage of a network-operations query
orchestrator. Given a question and its context, emit a single JSON object
with "strategy" (a short label), "description", "steps" (a non-empty list),
and optional "metadata".

Each step is {"id": string, "tool": one of
[topology_tool, inventory_tool, outage_tool, comments_search_tool,
hierarchy_tool, memory_search_tool], "params": object,
"depends_on": [step ids], "parallel_group": string}.

Use the token "$ref:<step_id>.output.<field>" inside a param value to pass
one step's output into another. Steps sharing a "parallel_group" label may
run concurrently; only use this for independent steps.

Respond with the JSON object only, no prose, no markdown fences.`

// Planner produces a state.Plan for one request.
type Planner struct {
	gateway *gateway.Gateway
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func New(gw *gateway.Gateway, m *metrics.Metrics, logger *zap.Logger) *Planner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Planner{gateway: gw, metrics: m, logger: logger}
}

// Plan calls the gateway to produce a step DAG, falling back to a fixed
// all-tools plan when the question is empty, the gateway call fails, or the
// model's output fails structural validation. It never returns an error:
// every failure mode degrades to the fallback plan, matching the original's
// "planner never aborts the request" contract.
func (p *Planner) Plan(ctx context.Context, st *state.RequestState) state.Plan {
	question := strings.TrimSpace(st.UserInput)
	if question == "" {
		return fallbackPlan(st, p.metrics)
	}

	userPrompt, err := buildPlannerInput(st)
	if err != nil {
		p.logger.Warn("planner input marshal failed", zap.Error(err))
		return fallbackPlan(st, p.metrics)
	}

	if p.gateway == nil {
		return fallbackPlan(st, p.metrics)
	}

	resp, err := p.gateway.Complete(ctx, gateway.Request{
		Tier:            guardrails.TierPlanner,
		UserID:          st.RequestID,
		RunID:           st.RequestID,
		Application:     "topology-agent",
		NodeName:        "planner",
		SystemPrompt:    systemPrompt,
		Messages:        []types.Message{types.NewUserMessage(userPrompt)},
		MaxTokens:       2048,
		Temperature:     0.1,
		JSONEnforcement: true,
	})
	if err != nil {
		p.logger.Warn("planner gateway call failed", zap.Error(err))
		st.PlanningError = fmt.Sprintf("planner gateway error: %v", err)
		return fallbackPlan(st, p.metrics)
	}

	st.PlanRaw = resp.Content
	plan, err := parsePlan(resp.Content)
	if err != nil {
		p.logger.Warn("planner output invalid", zap.Error(err))
		st.PlanningError = err.Error()
		return fallbackPlan(st, p.metrics)
	}
	return plan
}

type plannerInput struct {
	Question           string           `json:"question"`
	UIContext          map[string]any   `json:"ui_context"`
	History            []map[string]any `json:"history"`
	MemorySnippets     []map[string]any `json:"memory_snippets"`
	PreviousPlan       state.Plan       `json:"previous_plan"`
	ValidationFeedback state.Validation `json:"validation_feedback"`
}

func buildPlannerInput(st *state.RequestState) (string, error) {
	in := plannerInput{
		Question:           st.UserInput,
		UIContext:          st.UIContext,
		History:            st.History,
		MemorySnippets:     st.SemanticMemory,
		PreviousPlan:       st.Plan,
		ValidationFeedback: st.Validation,
	}
	b, err := json.Marshal(in)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// parsePlan validates the model's JSON against the minimal structural
// contract the original planner_node.py enforces: a dict with a non-empty
// "steps" list, each step carrying at least a tool name; ids and params
// default in when missing.
func parsePlan(raw string) (state.Plan, error) {
	var plan state.Plan
	if err := json.Unmarshal([]byte(raw), &plan); err != nil {
		return state.Plan{}, fmt.Errorf("planner output is not valid JSON: %w", err)
	}
	if len(plan.Steps) == 0 {
		return state.Plan{}, fmt.Errorf("planner output has no steps")
	}
	for i := range plan.Steps {
		if plan.Steps[i].Tool == "" {
			return state.Plan{}, fmt.Errorf("step at index %d missing tool", i)
		}
		if !state.KnownTools(plan.Steps[i].Tool) {
			return state.Plan{}, fmt.Errorf("step at index %d names unknown tool %q", i, plan.Steps[i].Tool)
		}
		if plan.Steps[i].ID == "" {
			plan.Steps[i].ID = fmt.Sprintf("step_%d", i)
		}
		if plan.Steps[i].Params == nil {
			plan.Steps[i].Params = map[string]any{}
		}
	}
	return plan, nil
}

// fallbackPlan mirrors the original's _fallback_plan: call every read tool
// once, unconditionally, and let the correlator work with whatever comes
// back. outage_tool is deliberately absent, matching the original's fixed
// five-step fallback.
func fallbackPlan(st *state.RequestState, m *metrics.Metrics) state.Plan {
	if m != nil {
		m.PlannerFallbackTotal.Inc()
	}
	return state.Plan{
		Strategy:    "fallback_simple",
		Description: "Fallback: call all tools once and correlate results.",
		Steps: []state.Step{
			{ID: "step_topology", Tool: state.ToolTopology, Params: map[string]any{}},
			{ID: "step_inventory", Tool: state.ToolInventory, Params: map[string]any{}},
			{ID: "step_comments", Tool: state.ToolCommentSearch, Params: map[string]any{}},
			{ID: "step_memory", Tool: state.ToolMemorySearch, Params: map[string]any{}},
			{ID: "step_hierarchy", Tool: state.ToolHierarchy, Params: map[string]any{}},
		},
		Metadata: map[string]any{
			"from_user_input": st.UserInput,
			"fallback_reason": "llm_planner_failed_or_invalid_json",
		},
	}
}
