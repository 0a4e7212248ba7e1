package tools

import (
	"context"

	"go.uber.org/zap"

	"github.com/netopctl/topology-agent/internal/inventorystore"
	"github.com/netopctl/topology-agent/orchestrator/state"
)

const inventoryCircuitLimit = 500

// InventoryTool looks up circuits and sites between a selected site pair,
// mirroring the original tool's insufficient-sites short-circuit and
// {circuits[], sites[], metadata} shape.
type InventoryTool struct {
	store  inventorystore.Store
	logger *zap.Logger
}

func NewInventoryTool(store inventorystore.Store, logger *zap.Logger) *InventoryTool {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InventoryTool{store: store, logger: logger}
}

func (t *InventoryTool) Name() state.Tool { return state.ToolInventory }

func (t *InventoryTool) Run(ctx context.Context, st *state.RequestState, params map[string]any) (state.ToolEnvelope, error) {
	sites := selectedSites(st, params)
	if t.store == nil || len(sites) < 2 {
		return state.ToolEnvelope{
			Payload: map[string]any{"circuits": []state.Circuit{}, "sites": []inventorystore.Site{}},
			Metadata: map[string]any{
				"source": "inventory_tool",
				"reason": "insufficient selected_sites in ui_context",
			},
		}, nil
	}

	srcSite, dstSite := sites[0], sites[1]
	layer := layerOf(st, params)

	rows, err := t.store.CircuitsBySites(ctx, srcSite, dstSite, layer, inventoryCircuitLimit)
	if err != nil {
		t.logger.Warn("inventory circuit lookup failed", zap.Error(err))
		return state.ToolEnvelope{
			Payload:  map[string]any{"circuits": []state.Circuit{}, "sites": []inventorystore.Site{}},
			Metadata: map[string]any{"source": "inventory_tool_error", "error": err.Error()},
		}, nil
	}

	siteRows, err := t.store.SitesByIDs(ctx, []string{srcSite, dstSite})
	if err != nil {
		t.logger.Warn("inventory site lookup failed", zap.Error(err))
		return state.ToolEnvelope{
			Payload:  map[string]any{"circuits": []state.Circuit{}, "sites": []inventorystore.Site{}},
			Metadata: map[string]any{"source": "inventory_tool_error", "error": err.Error()},
		}, nil
	}

	circuits := make([]state.Circuit, 0, len(rows))
	for _, r := range rows {
		circuits = append(circuits, state.Circuit{
			CircuitID: r.CircuitID,
			SrcSite:   r.SrcSite,
			DstSite:   r.DstSite,
			Layer:     r.Layer,
			Status:    r.Status,
		})
	}

	return state.ToolEnvelope{
		Payload: map[string]any{"circuits": circuits, "sites": siteRows},
		Metadata: map[string]any{
			"source":       "inventory_db",
			"src_site":     srcSite,
			"dst_site":     dstSite,
			"layer":        layer,
			"num_circuits": len(circuits),
		},
	}, nil
}
