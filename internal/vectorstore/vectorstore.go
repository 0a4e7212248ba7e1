// Package vectorstore backs comments_search_tool and memory_search_tool with
// the comment_embeddings/chat_embeddings tables, using pgvector's native
// distance operators through GORM rather than a hand-rolled HTTP client.
package vectorstore

import (
	"context"
	"fmt"
	"time"

	"github.com/pgvector/pgvector-go"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// CommentEmbedding is one row of comment_embeddings (spec.md §6): free-text
// operator commentary plus its embedding, searched by comments_search_tool.
type CommentEmbedding struct {
	CommentID string          `gorm:"column:comment_id;primaryKey" json:"comment_id"`
	Text      string          `gorm:"column:text" json:"text"`
	Embedding pgvector.Vector `gorm:"column:embedding;type:vector(1536)" json:"-"`
	Metadata  JSONMap         `gorm:"column:metadata;type:jsonb;serializer:json" json:"metadata"`
	CreatedAt time.Time       `gorm:"column:created_at" json:"created_at"`
}

func (CommentEmbedding) TableName() string { return "comment_embeddings" }

// ChatEmbedding is one row of chat_embeddings: session-scoped conversation
// turns memory_search_tool ranks by cosine distance.
type ChatEmbedding struct {
	SessionID string          `gorm:"column:session_id;primaryKey" json:"session_id"`
	MessageID string          `gorm:"column:message_id;primaryKey" json:"message_id"`
	Text      string          `gorm:"column:text" json:"text"`
	Embedding pgvector.Vector `gorm:"column:embedding;type:vector(1536)" json:"-"`
	Metadata  JSONMap         `gorm:"column:metadata;type:jsonb;serializer:json" json:"metadata"`
	CreatedAt time.Time       `gorm:"column:created_at" json:"created_at"`
}

func (ChatEmbedding) TableName() string { return "chat_embeddings" }

// JSONMap round-trips a jsonb column as a plain map via GORM's built-in
// serializer tag rather than a hand-rolled Scan/Value pair.
type JSONMap map[string]any

// CommentHit is a comment row paired with its cosine distance to a query
// vector, the raw ingredient comments_search_tool's RRF/BM25/rerank pipeline
// fuses against lexical results.
type CommentHit struct {
	CommentEmbedding
	Distance float64
}

// ChatHit is a chat_embeddings row paired with its cosine distance, scoped
// to one session.
type ChatHit struct {
	ChatEmbedding
	Distance float64
}

// Store is the narrow interface comments_search_tool and memory_search_tool
// depend on.
type Store interface {
	SearchComments(ctx context.Context, queryEmbedding []float32, limit int) ([]CommentHit, error)
	SearchChatMemory(ctx context.Context, sessionID string, queryEmbedding []float32, limit int) ([]ChatHit, error)
}

type gormStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// New builds a Store over an already-connected GORM handle (pgvector
// extension and table migrations are assumed to be provisioned externally,
// per spec.md §6's "drivers themselves are out of scope" Non-goal).
func New(db *gorm.DB, logger *zap.Logger) Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &gormStore{db: db, logger: logger}
}

// SearchComments ranks comment_embeddings by cosine distance (pgvector's
// <=> operator) to queryEmbedding, nearest first.
func (s *gormStore) SearchComments(ctx context.Context, queryEmbedding []float32, limit int) ([]CommentHit, error) {
	var hits []CommentHit
	vec := pgvector.NewVector(queryEmbedding)
	err := s.db.WithContext(ctx).
		Table("comment_embeddings").
		Select("*, embedding <=> ? AS distance", vec).
		Order("distance ASC").
		Limit(limit).
		Scan(&hits).Error
	if err != nil {
		return nil, fmt.Errorf("vectorstore: search comments: %w", err)
	}
	return hits, nil
}

// SearchChatMemory ranks a single session's chat_embeddings by cosine
// distance to queryEmbedding.
func (s *gormStore) SearchChatMemory(ctx context.Context, sessionID string, queryEmbedding []float32, limit int) ([]ChatHit, error) {
	var hits []ChatHit
	vec := pgvector.NewVector(queryEmbedding)
	err := s.db.WithContext(ctx).
		Table("chat_embeddings").
		Select("*, embedding <=> ? AS distance", vec).
		Where("session_id = ?", sessionID).
		Order("distance ASC").
		Limit(limit).
		Scan(&hits).Error
	if err != nil {
		return nil, fmt.Errorf("vectorstore: search chat memory: %w", err)
	}
	return hits, nil
}
