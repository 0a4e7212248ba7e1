package tools

import (
	"context"

	"go.uber.org/zap"

	"github.com/netopctl/topology-agent/internal/graphstore"
	"github.com/netopctl/topology-agent/orchestrator/state"
)

// TopologyTool runs shortest-path queries against a graph store. It mirrors
// the original tool's three-way branching: stub when fewer than two sites
// are selected or no store is configured, an error envelope on a driver
// failure, and a populated path on success. It never returns a Go error for
// ordinary tool-domain failures.
type TopologyTool struct {
	store  graphstore.Store // nil means "not configured", same as the original's missing graph_client
	logger *zap.Logger
}

// NewTopologyTool builds a TopologyTool. store may be nil, in which case the
// tool always stubs out, matching deployments that never wired a graph
// database.
func NewTopologyTool(store graphstore.Store, logger *zap.Logger) *TopologyTool {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TopologyTool{store: store, logger: logger}
}

func (t *TopologyTool) Name() state.Tool { return state.ToolTopology }

func (t *TopologyTool) Run(ctx context.Context, st *state.RequestState, params map[string]any) (state.ToolEnvelope, error) {
	sites := selectedSites(st, params)
	layer := layerOf(st, params)
	querySummary := map[string]any{"sites": sites, "layer": layer}

	if t.store == nil || len(sites) < 2 {
		return state.ToolEnvelope{
			Payload: state.Path{},
			Metadata: map[string]any{
				"source":        "topology_tool_stub",
				"reason":        "graph_client not configured or insufficient selected_sites",
				"query_summary": querySummary,
			},
		}, nil
	}

	srcSite, dstSite := sites[0], sites[1]
	hops, err := t.store.ShortestPath(ctx, srcSite, dstSite, layer)
	if err != nil {
		t.logger.Warn("topology store lookup failed",
			zap.String("src_site", srcSite), zap.String("dst_site", dstSite), zap.Error(err))
		return state.ToolEnvelope{
			Payload: []state.Path{},
			Metadata: map[string]any{
				"source":        "topology_tool_graph_error",
				"error":         err.Error(),
				"query_summary": querySummary,
			},
		}, nil
	}

	hopIDs := make([]string, 0, len(hops))
	for _, h := range hops {
		hopIDs = append(hopIDs, h.ElementID)
	}
	path := state.Path{SrcSite: srcSite, DstSite: dstSite, Layer: layer, Hops: hopIDs}

	return state.ToolEnvelope{
		Payload: []state.Path{path},
		Metadata: map[string]any{
			"source":    "topology_graph_db",
			"src_site":  srcSite,
			"dst_site":  dstSite,
			"layer":     layer,
			"num_paths": 1,
		},
	}, nil
}
