package tools

import (
	"github.com/netopctl/topology-agent/orchestrator/state"
)

// stringSlice coerces a params/ui_context value of unknown shape (JSON
// decoding produces []any, literal Go code may pass []string) into a
// []string, dropping anything that isn't a string.
func stringSlice(v any) []string {
	switch vv := v.(type) {
	case []string:
		return vv
	case []any:
		out := make([]string, 0, len(vv))
		for _, e := range vv {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// selectedSites resolves the site pair a tool operates on: the planner's own
// step params take precedence ("sites"), falling back to the UI context's
// selected_sites the way the original tools all did when the planner left
// the field empty.
func selectedSites(st *state.RequestState, params map[string]any) []string {
	if sites := stringSlice(params["sites"]); len(sites) > 0 {
		return sites
	}
	return stringSlice(st.UIContext["selected_sites"])
}

// layerOf resolves the requested topology layer, params over ui_context,
// defaulting to empty (meaning "any layer").
func layerOf(st *state.RequestState, params map[string]any) string {
	if l, ok := params["layer"].(string); ok && l != "" {
		return l
	}
	if l, ok := st.UIContext["layer"].(string); ok {
		return l
	}
	return ""
}
