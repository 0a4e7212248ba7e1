// Package usagestore implements the LLM gateway's append-only usage log and
// running cost/token checkpoint, shared process-wide across all requests.
package usagestore

import (
	"context"
	"encoding/json"
	"math"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// LogEntry is one structured accounting record, written once per completed
// LLM call, matching the original service's usage-tracking callback shape.
type LogEntry struct {
	Timestamp        time.Time `json:"timestamp"`
	Application      string    `json:"application"`
	User             string    `json:"user"`
	NodeName         string    `json:"node_name"`
	LLMName          string    `json:"llm_name"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	Cost             float64   `json:"cost"`
	RunID            string    `json:"run_id"`
}

// Checkpoint is the periodically-flushed aggregate snapshot.
type Checkpoint struct {
	Global    Aggregate            `json:"global"`
	Users     map[string]Aggregate `json:"users"`
	Providers map[string]Aggregate `json:"providers"`
}

// Aggregate holds running totals, stored as fixed-point micro-dollars
// internally (costMicros) so concurrent updates stay lock-free.
type Aggregate struct {
	Tokens int64   `json:"tokens"`
	Cost   float64 `json:"cost"`
}

// Store accumulates usage under a single mutex-guarded map of atomic
// counters (one per user/provider) plus a global pair, appends every record
// to a JSONL log file, and optionally mirrors totals into Redis for
// multi-instance deployments. Redis mirroring is best-effort: failures are
// logged, never returned, since accounting must never fail the request that
// triggered it.
type Store struct {
	mu        sync.RWMutex
	users     map[string]*counter
	providers map[string]*counter
	global    counter

	logPath string
	logMu   sync.Mutex

	redis  *redis.Client
	logger *zap.Logger
}

type counter struct {
	tokens     int64
	costMicros int64
}

func (c *counter) add(tokens int, cost float64) {
	atomic.AddInt64(&c.tokens, int64(tokens))
	atomic.AddInt64(&c.costMicros, int64(math.Round(cost*1e6)))
}

func (c *counter) snapshot() Aggregate {
	return Aggregate{
		Tokens: atomic.LoadInt64(&c.tokens),
		Cost:   float64(atomic.LoadInt64(&c.costMicros)) / 1e6,
	}
}

// New builds a Store. redisClient may be nil to disable mirroring.
func New(logPath string, redisClient *redis.Client, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		users:     make(map[string]*counter),
		providers: make(map[string]*counter),
		logPath:   logPath,
		redis:     redisClient,
		logger:    logger,
	}
}

// Record appends entry to the JSONL log and updates the global, per-user,
// and per-provider running totals. It never returns an error to the caller;
// I/O failures are logged and swallowed, matching the gateway's "accounting
// errors never fail the model call" policy.
func (s *Store) Record(ctx context.Context, entry LogEntry) {
	s.global.add(entry.PromptTokens+entry.CompletionTokens, entry.Cost)

	s.mu.Lock()
	userCounter, ok := s.users[entry.User]
	if !ok {
		userCounter = &counter{}
		s.users[entry.User] = userCounter
	}
	providerCounter, ok := s.providers[entry.LLMName]
	if !ok {
		providerCounter = &counter{}
		s.providers[entry.LLMName] = providerCounter
	}
	s.mu.Unlock()

	userCounter.add(entry.PromptTokens+entry.CompletionTokens, entry.Cost)
	providerCounter.add(entry.PromptTokens+entry.CompletionTokens, entry.Cost)

	s.appendLog(entry)
	s.mirrorToRedis(ctx, entry)
}

func (s *Store) appendLog(entry LogEntry) {
	if s.logPath == "" {
		return
	}
	line, err := json.Marshal(entry)
	if err != nil {
		s.logger.Warn("usage log marshal failed", zap.Error(err))
		return
	}

	s.logMu.Lock()
	defer s.logMu.Unlock()

	f, err := os.OpenFile(s.logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		s.logger.Warn("usage log open failed", zap.String("path", s.logPath), zap.Error(err))
		return
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		s.logger.Warn("usage log write failed", zap.Error(err))
	}
}

func (s *Store) mirrorToRedis(ctx context.Context, entry LogEntry) {
	if s.redis == nil {
		return
	}
	totalTokens := float64(entry.PromptTokens + entry.CompletionTokens)
	pipe := s.redis.TxPipeline()
	pipe.IncrByFloat(ctx, "usage:global:tokens", totalTokens)
	pipe.IncrByFloat(ctx, "usage:global:cost", entry.Cost)
	pipe.IncrByFloat(ctx, "usage:user:"+entry.User+":tokens", totalTokens)
	pipe.IncrByFloat(ctx, "usage:user:"+entry.User+":cost", entry.Cost)
	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.Warn("usage redis mirror failed", zap.Error(err))
	}
}

// Checkpoint returns the current in-memory aggregate snapshot, matching the
// {global, users{}, providers{}} persistent-state shape.
func (s *Store) Checkpoint() Checkpoint {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cp := Checkpoint{
		Global:    s.global.snapshot(),
		Users:     make(map[string]Aggregate, len(s.users)),
		Providers: make(map[string]Aggregate, len(s.providers)),
	}
	for k, c := range s.users {
		cp.Users[k] = c.snapshot()
	}
	for k, c := range s.providers {
		cp.Providers[k] = c.snapshot()
	}
	return cp
}

// WriteCheckpoint persists Checkpoint() to path as JSON, for restart-time
// reconciliation. Errors are logged, not returned.
func (s *Store) WriteCheckpoint(path string) {
	data, err := json.MarshalIndent(s.Checkpoint(), "", "  ")
	if err != nil {
		s.logger.Warn("checkpoint marshal failed", zap.Error(err))
		return
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		s.logger.Warn("checkpoint write failed", zap.String("path", path), zap.Error(err))
	}
}
