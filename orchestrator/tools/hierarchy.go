package tools

import (
	"context"

	"go.uber.org/zap"

	"github.com/netopctl/topology-agent/internal/hierarchyclient"
	"github.com/netopctl/topology-agent/orchestrator/state"
)

// HierarchyTool fetches parent/child chains for the sites or elements a plan
// step names. The original tool was a pure stub; a nil store preserves that
// behavior exactly, while a configured store extends it with a real lookup.
type HierarchyTool struct {
	store  hierarchyclient.Store
	logger *zap.Logger
}

func NewHierarchyTool(store hierarchyclient.Store, logger *zap.Logger) *HierarchyTool {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HierarchyTool{store: store, logger: logger}
}

func (t *HierarchyTool) Name() state.Tool { return state.ToolHierarchy }

func (t *HierarchyTool) Run(ctx context.Context, st *state.RequestState, params map[string]any) (state.ToolEnvelope, error) {
	if t.store == nil {
		return state.ToolEnvelope{
			Payload:  [][]hierarchyclient.Node{},
			Metadata: map[string]any{"source": "hierarchy_tool_stub"},
		}, nil
	}

	elementIDs := stringSlice(params["element_ids"])
	if len(elementIDs) == 0 {
		elementIDs = selectedSites(st, params)
	}
	if len(elementIDs) == 0 {
		return state.ToolEnvelope{
			Payload:  [][]hierarchyclient.Node{},
			Metadata: map[string]any{"source": "hierarchy_tool_stub", "reason": "no element_ids in params or ui_context"},
		}, nil
	}

	chains, err := t.store.HierarchiesFor(ctx, elementIDs)
	if err != nil {
		t.logger.Warn("hierarchy lookup failed", zap.Error(err))
		return state.ToolEnvelope{
			Payload:  [][]hierarchyclient.Node{},
			Metadata: map[string]any{"source": "hierarchy_tool_error", "error": err.Error()},
		}, nil
	}

	return state.ToolEnvelope{
		Payload:  chains,
		Metadata: map[string]any{"source": "hierarchy_service", "num_chains": len(chains)},
	}, nil
}
