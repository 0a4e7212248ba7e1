// Package state defines the request-scoped record that flows through every
// stage of the topology query orchestrator.
package state

import "time"

// Tool is the closed set of data-retrieval tools the planner may schedule.
type Tool string

const (
	ToolTopology      Tool = "topology_tool"
	ToolInventory     Tool = "inventory_tool"
	ToolOutage        Tool = "outage_tool"
	ToolCommentSearch Tool = "comments_search_tool"
	ToolHierarchy     Tool = "hierarchy_tool"
	ToolMemorySearch  Tool = "memory_search_tool"
)

// KnownTools reports whether t is a member of the closed ToolSet.
func KnownTools(t Tool) bool {
	switch t {
	case ToolTopology, ToolInventory, ToolOutage, ToolCommentSearch, ToolHierarchy, ToolMemorySearch:
		return true
	default:
		return false
	}
}

// Step is a single planned tool invocation. Param values are either literals
// or reference tokens of the shape "$ref:<step_id>.output.<field>", resolved
// by the executor at step-launch time.
type Step struct {
	ID            string         `json:"id"`
	Tool          Tool           `json:"tool"`
	Params        map[string]any `json:"params"`
	DependsOn     []string       `json:"depends_on,omitempty"`
	ParallelGroup string         `json:"parallel_group,omitempty"`
}

// Plan is the planner's typed output: a strategy label, the step DAG, and
// free-form metadata (e.g. fallback reason, originating question).
type Plan struct {
	Strategy    string         `json:"strategy"`
	Description string         `json:"description,omitempty"`
	Steps       []Step         `json:"steps"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Validation records the correlator/validator's assessment of a RequestState.
type Validation struct {
	Status          string   `json:"status"` // "ok" | "partial" | "error"
	NeedsRefinement bool     `json:"needs_refinement"`
	Warnings        []string `json:"warnings,omitempty"`
}

// Path is a topology segment between two sites at a given layer.
type Path struct {
	SrcSite    string   `json:"src_site"`
	DstSite    string   `json:"dst_site"`
	Layer      string   `json:"layer"`
	Hops       []string `json:"hops"`
	Alarms     []Alarm  `json:"alarms,omitempty"`
	IsImpacted bool     `json:"is_impacted"`
}

// Circuit is an inventory record enriched with alarm/impact data.
type Circuit struct {
	CircuitID  string         `json:"circuit_id"`
	SrcSite    string         `json:"src_site"`
	DstSite    string         `json:"dst_site"`
	Layer      string         `json:"layer"`
	Status     string         `json:"status"`
	Alarms     []Alarm        `json:"alarms,omitempty"`
	IsImpacted bool           `json:"is_impacted"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Alarm is an active outage/hardware/facility event keyed by element id.
type Alarm struct {
	AlarmID     string    `json:"alarm_id"`
	ElementID   string    `json:"element_id"`
	ElementType string    `json:"element_type"` // site | device | circuit
	Severity    string    `json:"severity"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
}

// Comment is a hybrid-search result from the comments_search_tool.
type Comment struct {
	CommentID         string         `json:"comment_id"`
	Text              string         `json:"text"`
	VectorDistance    float64        `json:"vector_distance"`
	RRFScore          float64        `json:"rrf_score"`
	CrossEncoderScore float64        `json:"cross_encoder_score"`
	Metadata          map[string]any `json:"metadata,omitempty"`
}

// Summary is the aggregate impact view surfaced to the UI.
type Summary struct {
	TotalCircuits      int    `json:"total_circuits"`
	ImpactedCircuits   int    `json:"impacted_circuits"`
	ImpactedCustomers  int    `json:"impacted_customers"`
	Notes              string `json:"notes,omitempty"`
}

// UIResponse is the final structured payload returned to the caller.
type UIResponse struct {
	ViewType              string         `json:"view_type"`
	Summary               Summary        `json:"summary"`
	Paths                 []Path         `json:"paths"`
	Circuits              []Circuit      `json:"circuits"`
	Comments              []Comment      `json:"comments"`
	Warnings              []string       `json:"warnings"`
	Partial               bool           `json:"partial"`
	NaturalLanguageSummary string        `json:"natural_language_summary"`
	DebugState            map[string]any `json:"debug_state,omitempty"`
}

// RequestState is the mutable, request-scoped record threaded through every
// orchestrator stage. It is owned by exactly one request, mutated only by
// the stage currently holding it, and discarded once the response is
// serialized. It is never shared across requests or goroutines handling
// different requests.
type RequestState struct {
	// Core input.
	UserInput string
	UIContext map[string]any
	SessionID string
	RequestID string

	// Conversation context.
	History        []map[string]any
	SemanticMemory []map[string]any

	// Retry / refinement tracking.
	RetryCount int
	MaxRetries int

	// Planner output.
	Plan          Plan
	PlanRaw       string
	PlanningError string

	// Per-tool outputs.
	TopologyData  ToolEnvelope
	InventoryData ToolEnvelope
	CommentData   ToolEnvelope
	OutageData    ToolEnvelope
	HierarchyData ToolEnvelope
	MemoryData    ToolEnvelope

	// Validation / correlation.
	Validation Validation

	// Final UI payload.
	UIResponse UIResponse
	Partial    bool
}

// ToolEnvelope is the uniform {payload, metadata, error?} shape every tool
// adapter writes to its designated RequestState slot. Envelopes never cause
// a panic or propagate as a Go error from the executor's perspective;
// failures are recorded inline via Error so correlation can mark
// Partial=true.
type ToolEnvelope struct {
	Payload  any            `json:"payload,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// New builds a RequestState with the ingress-stage defaults spec.md assigns
// (history/semantic_memory initialized, max_retries defaulting to 1).
func New(requestID, userInput string, uiContext map[string]any) *RequestState {
	if uiContext == nil {
		uiContext = map[string]any{}
	}
	return &RequestState{
		UserInput:      userInput,
		UIContext:      uiContext,
		RequestID:      requestID,
		History:        []map[string]any{},
		SemanticMemory: []map[string]any{},
		MaxRetries:     1,
	}
}
