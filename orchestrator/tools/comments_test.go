package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/netopctl/topology-agent/internal/vectorstore"
	"github.com/netopctl/topology-agent/llm/embedding"
	"github.com/netopctl/topology-agent/orchestrator/state"
)

type fakeVectorStore struct {
	commentHits []vectorstore.CommentHit
	chatHits    []vectorstore.ChatHit
	err         error
}

func (f *fakeVectorStore) SearchComments(ctx context.Context, q []float32, limit int) ([]vectorstore.CommentHit, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.commentHits, nil
}

func (f *fakeVectorStore) SearchChatMemory(ctx context.Context, sessionID string, q []float32, limit int) ([]vectorstore.ChatHit, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.chatHits, nil
}

// fakeEmbedder returns a fixed-length zero vector regardless of input,
// sufficient for tests that only assert on ranking/fusion logic downstream
// of the embedding call, not on the vector's actual content.
type fakeEmbedder struct{ dims int }

func (f *fakeEmbedder) Embed(ctx context.Context, req *embedding.EmbeddingRequest) (*embedding.EmbeddingResponse, error) {
	return nil, nil
}
func (f *fakeEmbedder) EmbedQuery(ctx context.Context, query string) ([]float64, error) {
	return make([]float64, f.dims), nil
}
func (f *fakeEmbedder) EmbedDocuments(ctx context.Context, docs []string) ([][]float64, error) {
	return nil, nil
}
func (f *fakeEmbedder) Name() string      { return "fake" }
func (f *fakeEmbedder) Dimensions() int   { return f.dims }
func (f *fakeEmbedder) MaxBatchSize() int { return 1 }

func TestCommentsSearchTool_StubsWithoutBackend(t *testing.T) {
	tool := NewCommentsSearchTool(nil, nil, zap.NewNop())
	st := state.New("r1", "outage notes for dallas", nil)
	env, err := tool.Run(context.Background(), st, nil)
	require.NoError(t, err)
	assert.Equal(t, "comments_search_tool_stub", env.Metadata["source"])
}

func TestCommentsSearchTool_FusesVectorAndLexicalRanks(t *testing.T) {
	hits := []vectorstore.CommentHit{
		{CommentEmbedding: vectorstore.CommentEmbedding{CommentID: "c1", Text: "fiber cut near dallas pop aggregation"}, Distance: 0.1},
		{CommentEmbedding: vectorstore.CommentEmbedding{CommentID: "c2", Text: "routine maintenance window completed"}, Distance: 0.2},
	}
	store := &fakeVectorStore{commentHits: hits}
	tool := NewCommentsSearchTool(store, &fakeEmbedder{dims: 8}, zap.NewNop())

	st := state.New("r2", "fiber cut dallas", nil)
	env, err := tool.Run(context.Background(), st, map[string]any{"query": "fiber cut dallas"})
	require.NoError(t, err)

	comments, ok := env.Payload.([]state.Comment)
	require.True(t, ok)
	require.Len(t, comments, 2)
	assert.Equal(t, "c1", comments[0].CommentID, "lexically closer comment should rank first after fusion")
}

func TestCommentsSearchTool_EmptyCandidatesReturnsEmptySlice(t *testing.T) {
	tool := NewCommentsSearchTool(&fakeVectorStore{}, &fakeEmbedder{dims: 8}, zap.NewNop())
	st := state.New("r3", "q", nil)
	env, err := tool.Run(context.Background(), st, map[string]any{"query": "q"})
	require.NoError(t, err)
	assert.Equal(t, 0, env.Metadata["num_candidates"])
}
