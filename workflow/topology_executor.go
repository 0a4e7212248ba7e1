package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/netopctl/topology-agent/llm/retry"
	"github.com/netopctl/topology-agent/orchestrator/state"
	"github.com/netopctl/topology-agent/orchestrator/tools"
)

// BuildPlanGraph adapts a planner-produced state.Plan into the package's
// DAGGraph adjacency structure. Plan steps name their dependencies
// (depends_on); DAGGraph edges run the opposite direction (dependency ->
// dependent), so each step's DependsOn list is inverted into a successor
// edge from the dependency. The graph is validated acyclic (I1).
func BuildPlanGraph(plan state.Plan) (*DAGGraph, error) {
	g := NewDAGGraph()
	seen := make(map[string]bool, len(plan.Steps))
	for _, step := range plan.Steps {
		if seen[step.ID] {
			return nil, fmt.Errorf("duplicate step id %q", step.ID)
		}
		seen[step.ID] = true
		g.AddNode(&DAGNode{ID: step.ID, Type: NodeTypeAction, Metadata: map[string]any{"tool": string(step.Tool)}})
	}
	for _, step := range plan.Steps {
		for _, dep := range step.DependsOn {
			if !seen[dep] {
				return nil, fmt.Errorf("step %q depends on unknown step %q", step.ID, dep)
			}
			g.AddEdge(dep, step.ID)
		}
	}
	if err := detectCycle(g); err != nil {
		return nil, err
	}
	return g, nil
}

func detectCycle(g *DAGGraph) error {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(g.Nodes()))
	var visit func(id string) error
	visit = func(id string) error {
		color[id] = gray
		for _, next := range g.GetEdges(id) {
			switch color[next] {
			case gray:
				return fmt.Errorf("plan graph contains a cycle at step %q", next)
			case white:
				if err := visit(next); err != nil {
					return err
				}
			}
		}
		color[id] = black
		return nil
	}
	for _, n := range g.Nodes() {
		if color[n.ID] == white {
			if err := visit(n.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

// ExecutorConfig controls per-tool resilience behavior.
type ExecutorConfig struct {
	RetryPolicy       *retry.RetryPolicy
	BreakerConfig     CircuitBreakerConfig
	MaxGroupConcurrency int
}

// DefaultExecutorConfig matches the seed-scenario breaker threshold (5
// consecutive failures opens the breaker) and admits exactly one half-open
// trial, per SPEC_FULL.md Open Question (b).
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		RetryPolicy: &retry.RetryPolicy{
			MaxRetries:   3,
			InitialDelay: 200 * time.Millisecond,
			MaxDelay:     2 * time.Second,
			Multiplier:   2.0,
			Jitter:       true,
		},
		BreakerConfig: CircuitBreakerConfig{
			FailureThreshold:           5,
			RecoveryTimeout:            30 * time.Second,
			HalfOpenMaxProbes:          1,
			SuccessThresholdInHalfOpen: 1,
		},
		MaxGroupConcurrency: 8,
	}
}

// ToolExecutor runs a planned DAG of tool steps against a registry of
// adapters, applying per-tool retry and circuit breaking and resolving
// $ref tokens between dependent steps. Breakers are keyed by tool name (not
// step id) so multiple steps invoking the same tool share one breaker.
type ToolExecutor struct {
	registry *tools.Registry
	breakers *CircuitBreakerRegistry
	cfg      ExecutorConfig
	logger   *zap.Logger
}

// NewToolExecutor builds a ToolExecutor. logger may be nil.
func NewToolExecutor(registry *tools.Registry, cfg ExecutorConfig, logger *zap.Logger) *ToolExecutor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ToolExecutor{
		registry: registry,
		breakers: NewCircuitBreakerRegistry(cfg.BreakerConfig, nil, logger),
		cfg:      cfg,
		logger:   logger,
	}
}

// stepResult pairs a step id with its finished envelope, used internally
// to fan results back in from a concurrent batch.
type stepResult struct {
	id       string
	envelope state.ToolEnvelope
}

// Run executes every step of plan against st, writing each tool's envelope
// into the matching RequestState slot and returning the full id->envelope
// map for $ref resolution bookkeeping by callers that need it (the
// correlator reads directly from RequestState instead).
func (e *ToolExecutor) Run(ctx context.Context, st *state.RequestState, plan state.Plan) (map[string]state.ToolEnvelope, error) {
	if _, err := BuildPlanGraph(plan); err != nil {
		return nil, err
	}

	stepByID := make(map[string]state.Step, len(plan.Steps))
	for _, s := range plan.Steps {
		stepByID[s.ID] = s
	}

	results := make(map[string]state.ToolEnvelope, len(plan.Steps))
	executed := make(map[string]bool, len(plan.Steps))
	var mu sync.Mutex

	ready := func() []state.Step {
		var out []state.Step
		for _, s := range plan.Steps {
			if executed[s.ID] {
				continue
			}
			ok := true
			for _, dep := range s.DependsOn {
				if !executed[dep] {
					ok = false
					break
				}
			}
			if ok {
				out = append(out, s)
			}
		}
		return out
	}

	for len(executed) < len(plan.Steps) {
		r := ready()
		if len(r) == 0 {
			// Should be unreachable given I1/I2 validation; guard against
			// stalls rather than spinning forever.
			return results, fmt.Errorf("executor stalled: %d of %d steps unresolved", len(plan.Steps)-len(executed), len(plan.Steps))
		}

		batch := []state.Step{r[0]}
		if key := r[0].ParallelGroup; key != "" {
			batch = batch[:0]
			for _, s := range r {
				if s.ParallelGroup == key {
					batch = append(batch, s)
				}
			}
		}

		if ctx.Err() != nil {
			for _, s := range batch {
				env := state.ToolEnvelope{Error: "cancelled"}
				mu.Lock()
				results[s.ID] = env
				executed[s.ID] = true
				mu.Unlock()
				writeEnvelope(st, s.Tool, env)
			}
			continue
		}

		var wg sync.WaitGroup
		out := make(chan stepResult, len(batch))
		sem := make(chan struct{}, max(1, e.cfg.MaxGroupConcurrency))
		for _, s := range batch {
			wg.Add(1)
			go func(s state.Step) {
				defer wg.Done()
				sem <- struct{}{}
				defer func() { <-sem }()
				env := e.runStep(ctx, st, s, results, &mu)
				out <- stepResult{id: s.ID, envelope: env}
			}(s)
		}
		wg.Wait()
		close(out)

		for res := range out {
			mu.Lock()
			results[res.id] = res.envelope
			executed[res.id] = true
			mu.Unlock()
			writeEnvelope(st, stepByID[res.id].Tool, res.envelope)
		}
	}

	return results, nil
}

// runStep resolves $ref params, then invokes the tool with retry + circuit
// breaker wrapping. It never returns a Go error; all failures are encoded
// in the returned envelope.
func (e *ToolExecutor) runStep(ctx context.Context, st *state.RequestState, step state.Step, priorResults map[string]state.ToolEnvelope, mu *sync.Mutex) state.ToolEnvelope {
	if ctx.Err() != nil {
		return state.ToolEnvelope{Error: "cancelled"}
	}

	mu.Lock()
	params, warnings := resolveRefs(step.Params, priorResults)
	mu.Unlock()

	adapter, ok := e.registry.Get(step.Tool)
	if !ok {
		return state.ToolEnvelope{Error: fmt.Sprintf("no adapter registered for tool %q", step.Tool)}
	}

	breaker := e.breakers.GetOrCreate(string(step.Tool))
	allowed, cbErr := breaker.AllowRequest()
	if !allowed {
		e.logger.Warn("circuit breaker open, skipping tool call",
			zap.String("tool", string(step.Tool)), zap.String("step", step.ID), zap.Error(cbErr))
		return state.ToolEnvelope{Error: "circuit_breaker_open", Metadata: map[string]any{"tool": string(step.Tool)}}
	}

	retryer := retry.NewBackoffRetryer(e.cfg.RetryPolicy, e.logger)
	var envelope state.ToolEnvelope
	_, _ = retryer.DoWithResult(ctx, func() (any, error) {
		env, err := adapter.Run(ctx, st, params)
		if err != nil {
			return nil, err
		}
		envelope = env
		if env.Error != "" {
			return nil, fmt.Errorf("tool %s: %s", step.Tool, env.Error)
		}
		return nil, nil
	})

	if envelope.Error != "" {
		breaker.RecordFailure()
	} else {
		breaker.RecordSuccess()
	}

	if len(warnings) > 0 {
		if envelope.Metadata == nil {
			envelope.Metadata = map[string]any{}
		}
		envelope.Metadata["ref_warnings"] = warnings
	}

	return envelope
}

func writeEnvelope(st *state.RequestState, tool state.Tool, env state.ToolEnvelope) {
	switch tool {
	case state.ToolTopology:
		st.TopologyData = env
	case state.ToolInventory:
		st.InventoryData = env
	case state.ToolOutage:
		st.OutageData = env
	case state.ToolCommentSearch:
		st.CommentData = env
	case state.ToolHierarchy:
		st.HierarchyData = env
	case state.ToolMemorySearch:
		st.MemoryData = env
	}
}

// refPrefix is the sentinel marking a parameter value as a reference token
// rather than a literal, e.g. "$ref:step_topology.output.paths".
const refPrefix = "$ref:"

// resolveRefs walks params for $ref tokens and substitutes the referenced
// step's output field. Unresolved references (unknown step, missing field,
// not-yet-run dependency) substitute an empty value and record a warning;
// the step still proceeds (I3 is advisory, not a hard failure).
func resolveRefs(params map[string]any, priorResults map[string]state.ToolEnvelope) (map[string]any, []string) {
	if params == nil {
		return map[string]any{}, nil
	}
	resolved := make(map[string]any, len(params))
	var warnings []string
	for k, v := range params {
		s, ok := v.(string)
		if !ok || !strings.HasPrefix(s, refPrefix) {
			resolved[k] = v
			continue
		}
		val, warn := resolveOneRef(strings.TrimPrefix(s, refPrefix), priorResults)
		resolved[k] = val
		if warn != "" {
			warnings = append(warnings, warn)
		}
	}
	return resolved, warnings
}

// resolveOneRef parses "<step_id>.output.<dot.separated.path>" and looks the
// path up inside the referenced step's envelope payload (via a JSON
// roundtrip, since payloads may be typed structs or maps interchangeably).
func resolveOneRef(ref string, priorResults map[string]state.ToolEnvelope) (any, string) {
	parts := strings.SplitN(ref, ".", 3)
	if len(parts) < 2 || parts[1] != "output" {
		return "", fmt.Sprintf("malformed reference token %q", ref)
	}
	stepID := parts[0]
	env, ok := priorResults[stepID]
	if !ok {
		return "", fmt.Sprintf("reference to unresolved step %q", stepID)
	}
	if env.Error != "" {
		return "", fmt.Sprintf("reference to failed step %q: %s", stepID, env.Error)
	}
	if len(parts) == 2 {
		return env.Payload, ""
	}
	raw, err := json.Marshal(env.Payload)
	if err != nil {
		return "", fmt.Sprintf("reference %q: payload not serializable: %v", ref, err)
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return "", fmt.Sprintf("reference %q: payload not decodable: %v", ref, err)
	}
	val, found := walkPath(generic, strings.Split(parts[2], "."))
	if !found {
		return "", fmt.Sprintf("reference %q: field not found", ref)
	}
	return val, ""
}

func walkPath(v any, path []string) (any, bool) {
	cur := v
	for _, segment := range path {
		switch t := cur.(type) {
		case map[string]any:
			next, ok := t[segment]
			if !ok {
				return nil, false
			}
			cur = next
		case []any:
			idx, err := strconv.Atoi(segment)
			if err != nil || idx < 0 || idx >= len(t) {
				return nil, false
			}
			cur = t[idx]
		default:
			return nil, false
		}
	}
	return cur, true
}
