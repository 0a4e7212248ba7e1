package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/netopctl/topology-agent/internal/vectorstore"
	"github.com/netopctl/topology-agent/orchestrator/state"
)

func TestMemorySearchTool_StubsWithoutBackend(t *testing.T) {
	tool := NewMemorySearchTool(nil, nil, zap.NewNop())
	st := state.New("r1", "q", nil)
	st.SessionID = "sess-1"
	env, err := tool.Run(context.Background(), st, nil)
	require.NoError(t, err)
	assert.Equal(t, "memory_tool_stub", env.Metadata["source"])
	assert.Equal(t, "sess-1", env.Metadata["session_id"])
}

func TestMemorySearchTool_StubsWithoutSessionID(t *testing.T) {
	tool := NewMemorySearchTool(&fakeVectorStore{}, &fakeEmbedder{dims: 8}, zap.NewNop())
	st := state.New("r2", "q", nil)
	env, err := tool.Run(context.Background(), st, map[string]any{"query": "q"})
	require.NoError(t, err)
	assert.Equal(t, "memory_tool_stub", env.Metadata["source"])
}

func TestMemorySearchTool_ReturnsSessionScopedSnippets(t *testing.T) {
	hits := []vectorstore.ChatHit{
		{ChatEmbedding: vectorstore.ChatEmbedding{SessionID: "sess-1", MessageID: "m1", Text: "earlier you asked about austin"}, Distance: 0.05},
	}
	tool := NewMemorySearchTool(&fakeVectorStore{chatHits: hits}, &fakeEmbedder{dims: 8}, zap.NewNop())
	st := state.New("r3", "what did I ask before", nil)
	st.SessionID = "sess-1"

	env, err := tool.Run(context.Background(), st, map[string]any{"query": "what did I ask before"})
	require.NoError(t, err)

	snippets, ok := env.Payload.([]state.Comment)
	require.True(t, ok)
	require.Len(t, snippets, 1)
	assert.Equal(t, "m1", snippets[0].CommentID)
	assert.Equal(t, "memory_semantic_store", env.Metadata["source"])
}
