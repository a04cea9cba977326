package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Chat sentinel errors.
var (
	ErrSessionNotFound = errors.New("chat session not found")
	ErrMessageNotFound = errors.New("chat message not found")
)

// Chat message roles and statuses.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"

	MessageCompleted           = "completed"
	MessageError               = "error"
	MessagePendingConfirmation = "pending_confirmation"
	MessageConfirmed           = "confirmed"
)

// ChatSession is one conversation thread. Sessions are soft-deleted.
type ChatSession struct {
	ID             uuid.UUID
	UserIdentifier string
	Name           string
	MessageCount   int
	IsActive       bool
	CreatedAt      time.Time
	LastActiveAt   time.Time
}

// ChatMessage is one turn within a session.
type ChatMessage struct {
	ID                  uuid.UUID
	SessionID           uuid.UUID
	Role                string
	Content             string
	NLQuery             string
	GeneratedSQL        string
	ResultMetadata      json.RawMessage
	FollowUpSuggestions []string
	Error               json.RawMessage
	Status              string
	CreatedAt           time.Time
}

// ChatStore persists chat sessions and messages.
type ChatStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewChatStore creates a ChatStore on an established connection.
func NewChatStore(db *sql.DB, logger *slog.Logger) *ChatStore {
	return &ChatStore{
		db:     db,
		logger: logger.With("component", "chat_store"),
	}
}

// CreateSession inserts a new active session and returns it.
func (s *ChatStore) CreateSession(ctx context.Context, userIdentifier, name string) (*ChatSession, error) {
	session := &ChatSession{
		ID:             uuid.New(),
		UserIdentifier: userIdentifier,
		Name:           name,
		IsActive:       true,
	}

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO chat_sessions (session_id, user_identifier, name)
		VALUES ($1, $2, $3)
		RETURNING created_at, last_active_at`,
		session.ID, nullableStr(userIdentifier), nullableStr(name),
	).Scan(&session.CreatedAt, &session.LastActiveAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat session: %w", err)
	}

	return session, nil
}

// GetSession retrieves an active session by ID.
func (s *ChatStore) GetSession(ctx context.Context, id uuid.UUID) (*ChatSession, error) {
	var (
		session ChatSession
		user    sql.NullString
		name    sql.NullString
	)

	err := s.db.QueryRowContext(ctx, `
		SELECT session_id, user_identifier, name, message_count, is_active, created_at, last_active_at
		FROM chat_sessions
		WHERE session_id = $1 AND is_active = TRUE`,
		id,
	).Scan(&session.ID, &user, &name, &session.MessageCount, &session.IsActive,
		&session.CreatedAt, &session.LastActiveAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get chat session: %w", err)
	}

	session.UserIdentifier = user.String
	session.Name = name.String

	return &session, nil
}

// ListSessions returns active sessions ordered by recency, optionally scoped
// to a user identifier.
func (s *ChatStore) ListSessions(ctx context.Context, userIdentifier string, limit int) ([]ChatSession, error) {
	query := `
		SELECT session_id, COALESCE(user_identifier, ''), COALESCE(name, ''),
		       message_count, is_active, created_at, last_active_at
		FROM chat_sessions
		WHERE is_active = TRUE`

	args := []any{}
	if userIdentifier != "" {
		query += ` AND user_identifier = $1`
		args = append(args, userIdentifier)
	}
	query += fmt.Sprintf(` ORDER BY last_active_at DESC LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list chat sessions: %w", err)
	}
	defer rows.Close()

	var sessions []ChatSession
	for rows.Next() {
		var session ChatSession
		if err := rows.Scan(&session.ID, &session.UserIdentifier, &session.Name,
			&session.MessageCount, &session.IsActive, &session.CreatedAt, &session.LastActiveAt); err != nil {
			return nil, fmt.Errorf("failed to scan chat session: %w", err)
		}
		sessions = append(sessions, session)
	}

	return sessions, rows.Err()
}

// RenameSession updates the display name of an active session.
func (s *ChatStore) RenameSession(ctx context.Context, id uuid.UUID, name string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE chat_sessions SET name = $2 WHERE session_id = $1 AND is_active = TRUE`,
		id, name,
	)
	if err != nil {
		return fmt.Errorf("failed to rename chat session: %w", err)
	}

	return s.requireSession(result, id)
}

// DeleteSession soft-deletes a session. Its messages are retained.
func (s *ChatStore) DeleteSession(ctx context.Context, id uuid.UUID) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE chat_sessions SET is_active = FALSE WHERE session_id = $1 AND is_active = TRUE`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to delete chat session: %w", err)
	}

	return s.requireSession(result, id)
}

func (s *ChatStore) requireSession(result sql.Result, id uuid.UUID) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check session update: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}

	return nil
}

// AppendMessage inserts a message and bumps the session's counters.
func (s *ChatStore) AppendMessage(ctx context.Context, msg *ChatMessage) error {
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}

	followUps, err := json.Marshal(msg.FollowUpSuggestions)
	if err != nil {
		return fmt.Errorf("failed to encode follow-up suggestions: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin message transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	err = tx.QueryRowContext(ctx, `
		INSERT INTO chat_messages (message_id, session_id, role, content, nl_query,
			generated_sql, result_metadata, follow_up_suggestions, error, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at`,
		msg.ID, msg.SessionID, msg.Role, msg.Content,
		nullableStr(msg.NLQuery), nullableStr(msg.GeneratedSQL),
		nullableJSON(msg.ResultMetadata), followUps, nullableJSON(msg.Error),
		nullableStr(msg.Status),
	).Scan(&msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append chat message: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE chat_sessions
		SET message_count = message_count + 1, last_active_at = NOW()
		WHERE session_id = $1`,
		msg.SessionID,
	)
	if err != nil {
		return fmt.Errorf("failed to bump session counters: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit message transaction: %w", err)
	}

	return nil
}

// ListMessages returns messages for a session in chronological order. When
// before is non-nil, only messages created before that message are returned;
// limit bounds the page size.
func (s *ChatStore) ListMessages(ctx context.Context, sessionID uuid.UUID, before *uuid.UUID, limit int) ([]ChatMessage, error) {
	query := `
		SELECT message_id, session_id, role, content,
		       COALESCE(nl_query, ''), COALESCE(generated_sql, ''),
		       result_metadata, follow_up_suggestions, error,
		       COALESCE(status, ''), created_at
		FROM chat_messages
		WHERE session_id = $1`

	args := []any{sessionID}
	if before != nil {
		query += fmt.Sprintf(` AND created_at < (SELECT created_at FROM chat_messages WHERE message_id = $%d)`, len(args)+1)
		args = append(args, *before)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list chat messages: %w", err)
	}
	defer rows.Close()

	var messages []ChatMessage
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate chat messages: %w", err)
	}

	// Page was fetched newest-first for the cursor; present oldest-first.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return messages, nil
}

// GetPendingConfirmation returns the most recent message awaiting execution
// confirmation in a session, or ErrMessageNotFound.
func (s *ChatStore) GetPendingConfirmation(ctx context.Context, sessionID uuid.UUID) (*ChatMessage, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT message_id, session_id, role, content,
		       COALESCE(nl_query, ''), COALESCE(generated_sql, ''),
		       result_metadata, follow_up_suggestions, error,
		       COALESCE(status, ''), created_at
		FROM chat_messages
		WHERE session_id = $1 AND status = 'pending_confirmation'
		ORDER BY created_at DESC
		LIMIT 1`,
		sessionID,
	)

	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: no pending confirmation in session %s", ErrMessageNotFound, sessionID)
	}
	if err != nil {
		return nil, err
	}

	return msg, nil
}

// SetMessageStatus updates a message's status, used to mark confirmations.
func (s *ChatStore) SetMessageStatus(ctx context.Context, messageID uuid.UUID, status string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE chat_messages SET status = $2 WHERE message_id = $1`, messageID, status)
	if err != nil {
		return fmt.Errorf("failed to set message status: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check message update: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrMessageNotFound, messageID)
	}

	return nil
}

func scanMessage(row rowScanner) (*ChatMessage, error) {
	var (
		msg       ChatMessage
		metadata  []byte
		followUps []byte
		errJSON   []byte
	)

	err := row.Scan(&msg.ID, &msg.SessionID, &msg.Role, &msg.Content,
		&msg.NLQuery, &msg.GeneratedSQL, &metadata, &followUps, &errJSON,
		&msg.Status, &msg.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}

		return nil, fmt.Errorf("failed to scan chat message: %w", err)
	}

	msg.ResultMetadata = metadata
	msg.Error = errJSON
	if len(followUps) > 0 {
		if err := json.Unmarshal(followUps, &msg.FollowUpSuggestions); err != nil {
			return nil, fmt.Errorf("failed to decode follow-up suggestions: %w", err)
		}
	}

	return &msg, nil
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}

	return []byte(raw)
}
