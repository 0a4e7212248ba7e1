// Package driver wires the planner, executor, correlator, and responder
// into the fixed workflow graph the original orchestrator compiles with
// LangGraph: ingress -> planner -> executor -> correlate/validate ->
// {planner | responder} -> end.
package driver

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/netopctl/topology-agent/orchestrator/correlate"
	"github.com/netopctl/topology-agent/orchestrator/metrics"
	"github.com/netopctl/topology-agent/orchestrator/planner"
	"github.com/netopctl/topology-agent/orchestrator/respond"
	"github.com/netopctl/topology-agent/orchestrator/state"
)

// Executor is the subset of workflow.ToolExecutor the driver calls,
// narrowed to an interface so tests can substitute a fake DAG runner
// without standing up a real tools.Registry.
type Executor interface {
	Run(ctx context.Context, st *state.RequestState, plan state.Plan) (map[string]state.ToolEnvelope, error)
}

// Driver runs one request through every orchestrator stage, applying the
// same backward edge the original's refinement_router implements: when
// correlation flags needs_refinement and the retry budget allows it, the
// request is replanned and re-executed instead of moving to the responder.
type Driver struct {
	planner   *planner.Planner
	executor  Executor
	validator correlate.Validator
	responder *respond.Responder
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

func New(p *planner.Planner, e Executor, validator correlate.Validator, r *respond.Responder, m *metrics.Metrics, logger *zap.Logger) *Driver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Driver{planner: p, executor: e, validator: validator, responder: r, metrics: m, logger: logger}
}

// Run executes the full ingress-through-response pipeline on st, which the
// caller must already have built with state.New (the ingress_node's
// normalization responsibilities are covered there). It never returns an
// error: every stage degrades into a partial response rather than
// aborting, matching the original graph's own failure posture.
func (d *Driver) Run(ctx context.Context, st *state.RequestState) state.UIResponse {
	for {
		d.observeNode("planner", func() {
			st.Plan = d.planner.Plan(ctx, st)
		})

		d.observeNode("executor", func() {
			if d.executor == nil {
				return
			}
			if _, err := d.executor.Run(ctx, st, st.Plan); err != nil {
				d.logger.Warn("executor run failed", zap.Error(err))
			}
		})

		d.observeNode("correlate", func() {
			correlate.Run(ctx, st, d.validator, d.logger)
		})

		if st.Validation.NeedsRefinement && st.RetryCount < st.MaxRetries {
			st.RetryCount++
			continue
		}
		break
	}

	d.observeNode("response", func() {
		if d.responder != nil {
			d.responder.Run(ctx, st)
		}
	})

	return st.UIResponse
}

func (d *Driver) observeNode(name string, fn func()) {
	start := time.Now()
	fn()
	if d.metrics != nil {
		d.metrics.ObserveNode(name, "ok", start)
	}
}
