package query

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/floatchat-io/floatchat/internal/config"
)

// ContextTurn is one remembered exchange in a query session.
type ContextTurn struct {
	Role     string `json:"role"`
	Content  string `json:"content"`
	SQL      string `json:"sql,omitempty"`
	RowCount int    `json:"row_count,omitempty"`
}

// ContextStore keeps short-lived conversation context in Redis so follow-up
// questions can reference earlier turns. A nil Redis client degrades to
// stateless operation: every method becomes a no-op and reads return empty.
type ContextStore struct {
	client   *redis.Client
	maxTurns int
	ttl      time.Duration
	logger   *slog.Logger
}

// NewContextStore creates a ContextStore. The client may be nil.
func NewContextStore(client *redis.Client, logger *slog.Logger) *ContextStore {
	return &ContextStore{
		client:   client,
		maxTurns: config.GetEnvInt("QUERY_CONTEXT_MAX_TURNS", 10),
		ttl:      config.GetEnvDuration("QUERY_CONTEXT_TTL", time.Hour),
		logger:   logger.With("component", "context_store"),
	}
}

func contextKey(sessionID string) string {
	return fmt.Sprintf("query:context:%s", sessionID)
}

// Get returns the remembered turns for a session, oldest first. Redis errors
// are logged and swallowed; context loss must never fail a query.
func (s *ContextStore) Get(ctx context.Context, sessionID string) []ContextTurn {
	if s.client == nil || sessionID == "" {
		return nil
	}

	raw, err := s.client.Get(ctx, contextKey(sessionID)).Bytes()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		s.logger.Warn("context fetch failed", "session_id", sessionID, "error", err)

		return nil
	}

	var turns []ContextTurn
	if err := json.Unmarshal(raw, &turns); err != nil {
		s.logger.Warn("context decode failed", "session_id", sessionID, "error", err)

		return nil
	}

	return turns
}

// Append adds turns to the session context, trims to the configured maximum,
// and refreshes the TTL.
func (s *ContextStore) Append(ctx context.Context, sessionID string, turns ...ContextTurn) {
	if s.client == nil || sessionID == "" || len(turns) == 0 {
		return
	}

	existing := s.Get(ctx, sessionID)
	combined := append(existing, turns...)
	if len(combined) > s.maxTurns {
		combined = combined[len(combined)-s.maxTurns:]
	}

	raw, err := json.Marshal(combined)
	if err != nil {
		s.logger.Warn("context encode failed", "session_id", sessionID, "error", err)

		return
	}

	if err := s.client.Set(ctx, contextKey(sessionID), raw, s.ttl).Err(); err != nil {
		s.logger.Warn("context store failed", "session_id", sessionID, "error", err)
	}
}

// Clear drops the context for a session.
func (s *ContextStore) Clear(ctx context.Context, sessionID string) {
	if s.client == nil || sessionID == "" {
		return
	}

	if err := s.client.Del(ctx, contextKey(sessionID)).Err(); err != nil {
		s.logger.Warn("context clear failed", "session_id", sessionID, "error", err)
	}
}
