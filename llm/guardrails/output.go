package guardrails

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// RBACLevel gates which tools a plan is allowed to schedule.
type RBACLevel string

const (
	RBACReadOnly RBACLevel = "read_only"
	RBACOperator RBACLevel = "operator"
)

// restrictedTools lists tools blocked under RBACReadOnly.
var restrictedTools = map[string]bool{
	"reboot_tool":             true,
	"config_push_tool":        true,
	"outage_remediation_tool": true,
}

// OutputConfig controls which output guardrails run.
type OutputConfig struct {
	JSONEnforcement bool
	RBACLevel       RBACLevel
}

var codeFence = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

// OutputFilter enforces JSON-shaped model output and rewrites
// RBAC-restricted tool invocations out of a parsed plan.
type OutputFilter struct{}

// NewOutputFilter constructs an OutputFilter.
func NewOutputFilter() *OutputFilter { return &OutputFilter{} }

// Apply strips markdown fences, trims to the outermost JSON object, parses
// it, rewrites any RBAC-restricted tool steps, and re-serializes
// canonically. On parse failure it returns a JSON error envelope rather than
// the raw text, so callers never see unparsed output when enforcement is on.
func (f *OutputFilter) Apply(raw string, cfg OutputConfig) string {
	if !cfg.JSONEnforcement {
		return raw
	}

	candidate := codeFence.ReplaceAllString(raw, "$1")
	start := strings.Index(candidate, "{")
	end := strings.LastIndex(candidate, "}")
	if start == -1 || end == -1 || end < start {
		return errorEnvelope("LLM failed to produce valid JSON", "no JSON object found")
	}
	candidate = candidate[start : end+1]

	var parsed map[string]any
	if err := json.Unmarshal([]byte(candidate), &parsed); err != nil {
		return errorEnvelope("LLM failed to produce valid JSON", err.Error())
	}

	applyRBAC(parsed, cfg.RBACLevel)

	out, err := json.MarshalIndent(parsed, "", "  ")
	if err != nil {
		return errorEnvelope("LLM failed to produce valid JSON", err.Error())
	}
	return string(out)
}

func errorEnvelope(message, details string) string {
	out, _ := json.MarshalIndent(map[string]string{"error": message, "details": details}, "", "  ")
	return string(out)
}

// applyRBAC mutates parsed["steps"] in place, rewriting any step whose tool
// is restricted under level into tool=unauthorized_tool plus an error field.
func applyRBAC(parsed map[string]any, level RBACLevel) {
	if level == "" {
		level = RBACReadOnly
	}
	if level != RBACReadOnly {
		return
	}
	steps, ok := parsed["steps"].([]any)
	if !ok {
		return
	}
	for _, raw := range steps {
		step, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		toolName, _ := step["tool"].(string)
		if !restrictedTools[toolName] {
			continue
		}
		step["error"] = fmt.Sprintf("UNAUTHORIZED: rbac_level %q cannot execute %s", level, toolName)
		step["tool"] = "unauthorized_tool"
	}
}
