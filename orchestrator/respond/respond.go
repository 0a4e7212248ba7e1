// Package respond finalizes the UI response built by the correlator,
// optionally polishing its natural-language summary through the LLM
// gateway, grounded on the original orchestrator's response_node.
package respond

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/netopctl/topology-agent/llm/gateway"
	"github.com/netopctl/topology-agent/llm/guardrails"
	"github.com/netopctl/topology-agent/orchestrator/state"
	"github.com/netopctl/topology-agent/types"
)

const fallbackSummary = "No response summary was generated."

const systemPrompt = `You polish the natural-language summary of a network
topology query result for display to an operator. You are given the
existing summary plus a trimmed view of the underlying data. Rewrite the
summary to be clear and concise without inventing any fact, count, site,
circuit, or alarm not present in the given data. Respond with the
polished summary text only, no markdown, no prose about your process.`

// Responder optionally polishes the correlator's natural language summary.
// A nil gateway means passthrough-only, matching the original's current
// state before a response chain is plugged in.
type Responder struct {
	gateway *gateway.Gateway
	logger  *zap.Logger
}

func New(gw *gateway.Gateway, logger *zap.Logger) *Responder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Responder{gateway: gw, logger: logger}
}

// Run ensures st.UIResponse.NaturalLanguageSummary is present, then tries to
// polish it through the gateway. Any gateway or decoding failure leaves the
// correlator's draft summary untouched; Run never returns an error.
func (r *Responder) Run(ctx context.Context, st *state.RequestState) {
	if st.UIResponse.NaturalLanguageSummary == "" {
		st.UIResponse.NaturalLanguageSummary = fallbackSummary
	}

	if r.gateway == nil {
		return
	}

	trimmed, err := json.Marshal(trimmedView{
		Summary:  st.UIResponse.Summary,
		Warnings: st.UIResponse.Warnings,
		Draft:    st.UIResponse.NaturalLanguageSummary,
	})
	if err != nil {
		r.logger.Warn("respond: trimmed view marshal failed", zap.Error(err))
		return
	}

	resp, err := r.gateway.Complete(ctx, gateway.Request{
		Tier:         guardrails.TierResponse,
		UserID:       st.RequestID,
		RunID:        st.RequestID,
		Application:  "topology-agent",
		NodeName:     "response",
		SystemPrompt: systemPrompt,
		Messages:     []types.Message{types.NewUserMessage(string(trimmed))},
		MaxTokens:    512,
		Temperature:  0.2,
	})
	if err != nil {
		r.logger.Warn("respond: gateway polish call failed, keeping draft summary", zap.Error(err))
		return
	}

	polished := resp.Content
	if polished == "" {
		return
	}
	st.UIResponse.NaturalLanguageSummary = polished
}

// trimmedView is the only data a response-polish call may see: the
// aggregate counts, warnings, and the deterministic draft summary. It
// never includes individual paths/circuits/comments, so the model has no
// raw material to hallucinate new facts from.
type trimmedView struct {
	Summary  state.Summary `json:"summary"`
	Warnings []string      `json:"warnings,omitempty"`
	Draft    string        `json:"draft_summary"`
}
