package tools

import (
	"context"

	"go.uber.org/zap"

	"github.com/netopctl/topology-agent/internal/vectorstore"
	"github.com/netopctl/topology-agent/llm/embedding"
	"github.com/netopctl/topology-agent/orchestrator/state"
)

// MemorySearchTool recalls prior conversation turns from the same session,
// ranked by cosine distance against chat_embeddings. The original tool was a
// pure stub keyed only by session_id; a nil store preserves that behavior,
// while a configured store backs it with the same vector store comment
// search uses.
type MemorySearchTool struct {
	store    vectorstore.Store
	embedder embedding.Provider
	logger   *zap.Logger
}

func NewMemorySearchTool(store vectorstore.Store, embedder embedding.Provider, logger *zap.Logger) *MemorySearchTool {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemorySearchTool{store: store, embedder: embedder, logger: logger}
}

func (t *MemorySearchTool) Name() state.Tool { return state.ToolMemorySearch }

func (t *MemorySearchTool) Run(ctx context.Context, st *state.RequestState, params map[string]any) (state.ToolEnvelope, error) {
	if t.store == nil || t.embedder == nil || st.SessionID == "" {
		return state.ToolEnvelope{
			Payload:  []state.Comment{},
			Metadata: map[string]any{"source": "memory_tool_stub", "session_id": st.SessionID},
		}, nil
	}

	query, _ := params["query"].(string)
	if query == "" {
		query = st.UserInput
	}
	if query == "" {
		return state.ToolEnvelope{
			Payload:  []state.Comment{},
			Metadata: map[string]any{"source": "memory_tool_stub", "session_id": st.SessionID, "reason": "no query"},
		}, nil
	}

	limit := defaultResults
	if n, ok := params["limit"].(int); ok && n > 0 {
		limit = n
	}

	queryVec, err := embedQueryFloat32(ctx, t.embedder, query)
	if err != nil {
		t.logger.Warn("memory query embedding failed", zap.Error(err))
		return state.ToolEnvelope{
			Payload:  []state.Comment{},
			Metadata: map[string]any{"source": "memory_tool_error", "session_id": st.SessionID, "error": err.Error()},
		}, nil
	}

	hits, err := t.store.SearchChatMemory(ctx, st.SessionID, queryVec, limit)
	if err != nil {
		t.logger.Warn("memory search failed", zap.Error(err))
		return state.ToolEnvelope{
			Payload:  []state.Comment{},
			Metadata: map[string]any{"source": "memory_tool_error", "session_id": st.SessionID, "error": err.Error()},
		}, nil
	}

	snippets := make([]state.Comment, 0, len(hits))
	for _, h := range hits {
		snippets = append(snippets, state.Comment{
			CommentID:      h.MessageID,
			Text:           h.Text,
			VectorDistance: h.Distance,
			Metadata:       h.Metadata,
		})
	}

	return state.ToolEnvelope{
		Payload:  snippets,
		Metadata: map[string]any{"source": "memory_semantic_store", "session_id": st.SessionID, "num_snippets": len(snippets)},
	}, nil
}
