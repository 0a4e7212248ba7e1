package tools

import (
	"context"
	"math"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/netopctl/topology-agent/internal/vectorstore"
	"github.com/netopctl/topology-agent/llm/embedding"
	"github.com/netopctl/topology-agent/orchestrator/state"
)

const (
	rrfK           = 60.0 // RRF damping constant; smooths the influence of low ranks
	bm25K1         = 1.2
	bm25B          = 0.75
	candidatePool  = 50 // how many vector hits feed the lexical/rerank stages
	defaultResults = 10
)

// CommentsSearchTool runs a three-stage hybrid search over operator
// commentary: a pgvector nearest-neighbor pass, a BM25 lexical pass over the
// same candidate pool, Reciprocal Rank Fusion of the two rankings, and a
// final context-relevance rerank of the fused top results. The BM25 scoring
// mirrors the package's own contextual-retrieval scorer; RRF and the rerank
// stage are new compositions over it, not a verbatim port of anything in the
// original service (which had no comment search at all).
type CommentsSearchTool struct {
	store    vectorstore.Store
	embedder embedding.Provider
	logger   *zap.Logger
}

func NewCommentsSearchTool(store vectorstore.Store, embedder embedding.Provider, logger *zap.Logger) *CommentsSearchTool {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CommentsSearchTool{store: store, embedder: embedder, logger: logger}
}

func (t *CommentsSearchTool) Name() state.Tool { return state.ToolCommentSearch }

func (t *CommentsSearchTool) Run(ctx context.Context, st *state.RequestState, params map[string]any) (state.ToolEnvelope, error) {
	query, _ := params["query"].(string)
	if query == "" {
		query = st.UserInput
	}
	if query == "" || t.store == nil || t.embedder == nil {
		return state.ToolEnvelope{
			Payload:  []state.Comment{},
			Metadata: map[string]any{"source": "comments_search_tool_stub", "reason": "no query or backend configured"},
		}, nil
	}

	limit := defaultResults
	if n, ok := params["limit"].(int); ok && n > 0 {
		limit = n
	}

	queryVec32, err := embedQueryFloat32(ctx, t.embedder, query)
	if err != nil {
		t.logger.Warn("comment query embedding failed", zap.Error(err))
		return state.ToolEnvelope{
			Payload:  []state.Comment{},
			Metadata: map[string]any{"source": "comments_search_tool_error", "error": err.Error()},
		}, nil
	}

	hits, err := t.store.SearchComments(ctx, queryVec32, candidatePool)
	if err != nil {
		t.logger.Warn("comment vector search failed", zap.Error(err))
		return state.ToolEnvelope{
			Payload:  []state.Comment{},
			Metadata: map[string]any{"source": "comments_search_tool_error", "error": err.Error()},
		}, nil
	}
	if len(hits) == 0 {
		return state.ToolEnvelope{
			Payload:  []state.Comment{},
			Metadata: map[string]any{"source": "comments_search_tool", "num_candidates": 0},
		}, nil
	}

	vecRank := make(map[string]int, len(hits))
	for i, h := range hits {
		vecRank[h.CommentID] = i + 1
	}

	bm25Scores := make(map[string]float64, len(hits))
	docs := make([]string, len(hits))
	for i, h := range hits {
		docs[i] = h.Text
	}
	queryTerms := tokenize(query)
	avgDocLen := averageTokenLen(docs)
	for _, h := range hits {
		bm25Scores[h.CommentID] = bm25Score(queryTerms, tokenize(h.Text), avgDocLen, len(hits))
	}
	bm25Rank := rankDescending(bm25Scores)

	type fused struct {
		hit   vectorstore.CommentHit
		score float64
	}
	fusedResults := make([]fused, 0, len(hits))
	for _, h := range hits {
		rrf := 1/(rrfK+float64(vecRank[h.CommentID])) + 1/(rrfK+float64(bm25Rank[h.CommentID]))
		fusedResults = append(fusedResults, fused{hit: h, score: rrf})
	}
	sort.Slice(fusedResults, func(i, j int) bool { return fusedResults[i].score > fusedResults[j].score })
	const rerankPool = 15 // how many fused results the rerank stage reorders
	if len(fusedResults) > rerankPool {
		fusedResults = fusedResults[:rerankPool]
	}

	comments := make([]state.Comment, 0, len(fusedResults))
	for _, f := range fusedResults {
		crossScore := contextRelevance(queryTerms, tokenize(f.hit.Text), avgDocLen, len(hits))
		comments = append(comments, state.Comment{
			CommentID:         f.hit.CommentID,
			Text:              f.hit.Text,
			VectorDistance:    f.hit.Distance,
			RRFScore:          f.score,
			CrossEncoderScore: crossScore,
			Metadata:          f.hit.Metadata,
		})
	}
	sort.SliceStable(comments, func(i, j int) bool { return comments[i].CrossEncoderScore > comments[j].CrossEncoderScore })
	if len(comments) > limit {
		comments = comments[:limit]
	}

	return state.ToolEnvelope{
		Payload: comments,
		Metadata: map[string]any{
			"source":         "comments_search_tool",
			"num_candidates": len(hits),
			"num_returned":   len(comments),
		},
	}, nil
}

func embedQueryFloat32(ctx context.Context, embedder embedding.Provider, query string) ([]float32, error) {
	vec64, err := embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	vec32 := make([]float32, len(vec64))
	for i, v := range vec64 {
		vec32[i] = float32(v)
	}
	return vec32, nil
}

func tokenize(text string) []string {
	text = strings.ToLower(text)
	words := strings.FieldsFunc(text, func(r rune) bool {
		return !((r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'))
	})
	out := make([]string, 0, len(words))
	for _, w := range words {
		if len(w) > 1 {
			out = append(out, w)
		}
	}
	return out
}

func averageTokenLen(docs []string) float64 {
	if len(docs) == 0 {
		return 1
	}
	total := 0
	for _, d := range docs {
		total += len(tokenize(d))
	}
	avg := float64(total) / float64(len(docs))
	if avg == 0 {
		avg = 1
	}
	return avg
}

// bm25Score scores a document against query terms using the Okapi BM25
// formula, with a simplified IDF that assumes each term appears in roughly
// 10% of the candidate pool (no corpus-wide term statistics are tracked).
func bm25Score(queryTerms, docTerms []string, avgDocLen float64, totalDocs int) float64 {
	if len(queryTerms) == 0 || len(docTerms) == 0 {
		return 0
	}
	tf := make(map[string]int, len(docTerms))
	for _, term := range docTerms {
		tf[term]++
	}
	docLen := float64(len(docTerms))

	score := 0.0
	for _, term := range queryTerms {
		freq := float64(tf[term])
		if freq == 0 {
			continue
		}
		idf := simplifiedIDF(totalDocs)
		tfNorm := (freq * (bm25K1 + 1)) / (freq + bm25K1*(1-bm25B+bm25B*docLen/avgDocLen))
		score += idf * tfNorm
	}
	return score
}

func simplifiedIDF(totalDocs int) float64 {
	n := float64(totalDocs) * 0.1
	if n < 1 {
		n = 1
	}
	return math.Log((float64(totalDocs)-n+0.5)/(n+0.5) + 1)
}

// contextRelevance is the cross-encoder rerank stand-in: the same BM25
// scorer normalized into [0, 1], serving as a cheap proxy for a trained
// reranker model (none of which are reachable from this deployment).
func contextRelevance(queryTerms, docTerms []string, avgDocLen float64, totalDocs int) float64 {
	score := bm25Score(queryTerms, docTerms, avgDocLen, totalDocs)
	maxScore := float64(len(queryTerms)) * math.Log(float64(totalDocs)+1)
	if maxScore == 0 {
		return 0
	}
	normalized := score / maxScore
	if normalized > 1 {
		normalized = 1
	}
	return normalized
}

func rankDescending(scores map[string]float64) map[string]int {
	ids := make([]string, 0, len(scores))
	for id := range scores {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return scores[ids[i]] > scores[ids[j]] })
	ranks := make(map[string]int, len(ids))
	for i, id := range ids {
		ranks[id] = i + 1
	}
	return ranks
}
