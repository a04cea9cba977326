package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/floatchat-io/floatchat/internal/query"
	"github.com/floatchat-io/floatchat/internal/storage"
)

const (
	defaultSessionPageLimit = 50
	defaultMessagePageLimit = 50
	maxMessagePageLimit     = 100
)

type (
	// SessionRequest creates or renames a chat session.
	SessionRequest struct {
		UserIdentifier string `json:"user_identifier,omitempty"`
		Name           string `json:"name,omitempty"`
	}

	// SessionResponse is the API representation of a chat session.
	SessionResponse struct {
		SessionID      uuid.UUID `json:"session_id"`
		UserIdentifier string    `json:"user_identifier,omitempty"`
		Name           string    `json:"name"`
		MessageCount   int       `json:"message_count"`
		CreatedAt      time.Time `json:"created_at"`
		LastActiveAt   time.Time `json:"last_active_at"`
	}

	// MessageResponse is the API representation of a chat message.
	MessageResponse struct {
		MessageID           uuid.UUID       `json:"message_id"`
		Role                string          `json:"role"`
		Content             string          `json:"content"`
		NLQuery             string          `json:"nl_query,omitempty"`
		GeneratedSQL        string          `json:"generated_sql,omitempty"`
		ResultMetadata      json.RawMessage `json:"result_metadata,omitempty"`
		FollowUpSuggestions []string        `json:"follow_up_suggestions,omitempty"`
		Error               json.RawMessage `json:"error,omitempty"`
		Status              string          `json:"status"`
		CreatedAt           time.Time       `json:"created_at"`
	}

	// ChatQueryRequest is the body of the streaming chat query endpoint.
	ChatQueryRequest struct {
		Query            string `json:"query"`
		ConfirmExecution bool   `json:"confirm_execution,omitempty"`
	}

	// resultMetadata is persisted on assistant messages and replayed into the
	// results SSE event.
	resultMetadata struct {
		Columns         []string `json:"columns"`
		RowCount        int      `json:"row_count"`
		Truncated       bool     `json:"truncated"`
		ExecutionTimeMS int64    `json:"execution_time_ms"`
		AttemptCount    int      `json:"attempt_count,omitempty"`
	}
)

func sessionResponse(session *storage.ChatSession) SessionResponse {
	return SessionResponse{
		SessionID:      session.ID,
		UserIdentifier: session.UserIdentifier,
		Name:           session.Name,
		MessageCount:   session.MessageCount,
		CreatedAt:      session.CreatedAt,
		LastActiveAt:   session.LastActiveAt,
	}
}

func messageResponse(msg *storage.ChatMessage) MessageResponse {
	return MessageResponse{
		MessageID:           msg.ID,
		Role:                msg.Role,
		Content:             msg.Content,
		NLQuery:             msg.NLQuery,
		GeneratedSQL:        msg.GeneratedSQL,
		ResultMetadata:      msg.ResultMetadata,
		FollowUpSuggestions: msg.FollowUpSuggestions,
		Error:               msg.Error,
		Status:              msg.Status,
		CreatedAt:           msg.CreatedAt,
	}
}

// handleCreateSession creates a new chat session.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req SessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest("Request body must be valid JSON"))

		return
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = "New conversation"
	}

	session, err := s.deps.Chat.CreateSession(r.Context(), req.UserIdentifier, name)
	if err != nil {
		s.logger.Error("Failed to create chat session", slog.String("error", err.Error()))
		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to create session"))

		return
	}

	s.writeJSON(w, r, http.StatusCreated, sessionResponse(session))
}

// handleListSessions lists active sessions, optionally filtered by user.
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", defaultSessionPageLimit)
	if limit < 1 {
		limit = 1
	}

	sessions, err := s.deps.Chat.ListSessions(r.Context(), r.URL.Query().Get("user"), limit)
	if err != nil {
		s.logger.Error("Failed to list chat sessions", slog.String("error", err.Error()))
		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to list sessions"))

		return
	}

	responses := make([]SessionResponse, 0, len(sessions))
	for i := range sessions {
		responses = append(responses, sessionResponse(&sessions[i]))
	}

	s.writeJSON(w, r, http.StatusOK, map[string]any{"sessions": responses})
}

// handleGetSession returns one session.
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := s.parseSessionID(w, r)
	if !ok {
		return
	}

	session, err := s.deps.Chat.GetSession(r.Context(), sessionID)
	if err != nil {
		s.writeSessionError(w, r, sessionID, err)

		return
	}

	s.writeJSON(w, r, http.StatusOK, sessionResponse(session))
}

// handleRenameSession renames a session.
func (s *Server) handleRenameSession(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := s.parseSessionID(w, r)
	if !ok {
		return
	}

	var req SessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest("Request body must be valid JSON"))

		return
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		WriteErrorResponse(w, r, s.logger, BadRequest("Field 'name' is required"))

		return
	}

	if err := s.deps.Chat.RenameSession(r.Context(), sessionID, name); err != nil {
		s.writeSessionError(w, r, sessionID, err)

		return
	}

	session, err := s.deps.Chat.GetSession(r.Context(), sessionID)
	if err != nil {
		s.writeSessionError(w, r, sessionID, err)

		return
	}

	s.writeJSON(w, r, http.StatusOK, sessionResponse(session))
}

// handleDeleteSession soft-deletes a session.
func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := s.parseSessionID(w, r)
	if !ok {
		return
	}

	if err := s.deps.Chat.DeleteSession(r.Context(), sessionID); err != nil {
		s.writeSessionError(w, r, sessionID, err)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleListMessages returns cursor-paginated message history, oldest first.
// The "before" cursor is a message ID; results precede it.
func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := s.parseSessionID(w, r)
	if !ok {
		return
	}

	limit := queryInt(r, "limit", defaultMessagePageLimit)
	if limit < 1 {
		limit = 1
	}
	if limit > maxMessagePageLimit {
		limit = maxMessagePageLimit
	}

	var before *uuid.UUID
	if raw := r.URL.Query().Get("before"); raw != "" {
		cursor, err := uuid.Parse(raw)
		if err != nil {
			WriteErrorResponse(w, r, s.logger, BadRequest("Cursor 'before' must be a valid message UUID"))

			return
		}

		before = &cursor
	}

	messages, err := s.deps.Chat.ListMessages(r.Context(), sessionID, before, limit)
	if err != nil {
		s.writeSessionError(w, r, sessionID, err)

		return
	}

	responses := make([]MessageResponse, 0, len(messages))
	for i := range messages {
		responses = append(responses, messageResponse(&messages[i]))
	}

	s.writeJSON(w, r, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"messages":   responses,
	})
}

// handleSuggestions returns load-time example queries.
func (s *Server) handleSuggestions(w http.ResponseWriter, r *http.Request) {
	var suggestions []string
	if s.deps.Suggestions != nil {
		suggestions = s.deps.Suggestions.LoadTimeSuggestions(r.Context())
	}

	s.writeJSON(w, r, http.StatusOK, map[string]any{"suggestions": suggestions})
}

// handleChatQuery runs the NL query pipeline inside a session, streaming
// progress as SSE events: thinking, interpreting, then either
// awaiting_confirmation or executing/results/suggestions, then done.
func (s *Server) handleChatQuery(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := s.parseSessionID(w, r)
	if !ok {
		return
	}

	ctx := r.Context()

	if _, err := s.deps.Chat.GetSession(ctx, sessionID); err != nil {
		s.writeSessionError(w, r, sessionID, err)

		return
	}

	var req ChatQueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest("Request body must be valid JSON"))

		return
	}

	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		WriteErrorResponse(w, r, s.logger, BadRequest("Field 'query' is required"))

		return
	}

	// Context history must be read before the user turn is appended, or the
	// question would appear in its own history.
	history := s.conversationHistory(ctx, sessionID)

	s.persistUserMessage(ctx, sessionID, req.Query)
	s.rememberTurn(ctx, sessionID.String(), query.ContextTurn{Role: "user", Content: req.Query})

	stream, err := newSSEStream(w)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, InternalServerError("Streaming is not supported on this connection"))

		return
	}

	_ = stream.send(eventThinking, map[string]any{
		"message": "Analyzing your question...",
	})

	region := query.ResolveRegion(req.Query)

	gen, err := s.deps.Generator.GenerateSQL(ctx, req.Query, history, region)
	if err != nil {
		s.streamFailure(ctx, stream, sessionID, req.Query, "", err)

		return
	}

	interpretingPayload := map[string]any{
		"sql":     gen.SQL,
		"message": "Generated a database query for your question.",
	}
	if region != nil {
		interpretingPayload["region"] = region.Name
	}
	_ = stream.send(eventInterpreting, interpretingPayload)

	if !req.ConfirmExecution {
		if estimate := s.deps.Executor.EstimateRows(ctx, gen.SQL); estimate != nil &&
			*estimate > s.config.ConfirmationThreshold {
			s.streamConfirmationGate(ctx, stream, sessionID, req.Query, gen.SQL, *estimate)

			return
		}
	}

	s.streamExecution(ctx, stream, sessionID, req.Query, gen.SQL, gen.AttemptCount)
}

// handleChatConfirm re-executes the SQL stored on the session's pending
// confirmation message, skipping the generation stages.
func (s *Server) handleChatConfirm(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := s.parseSessionID(w, r)
	if !ok {
		return
	}

	ctx := r.Context()

	pending, err := s.deps.Chat.GetPendingConfirmation(ctx, sessionID)
	if err != nil {
		if errors.Is(err, storage.ErrMessageNotFound) {
			WriteErrorResponse(w, r, s.logger, BadRequest("Session has no query awaiting confirmation"))

			return
		}

		s.writeSessionError(w, r, sessionID, err)

		return
	}

	if err := s.deps.Chat.SetMessageStatus(ctx, pending.ID, storage.MessageConfirmed); err != nil {
		s.logger.Error("Failed to confirm message",
			slog.String("message_id", pending.ID.String()), slog.String("error", err.Error()))
		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to confirm query"))

		return
	}

	stream, err := newSSEStream(w)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, InternalServerError("Streaming is not supported on this connection"))

		return
	}

	s.streamExecution(ctx, stream, sessionID, pending.NLQuery, pending.GeneratedSQL, 0)
}

// streamExecution runs the executing/results/suggestions/done tail of the
// SSE stream and persists the assistant message.
func (s *Server) streamExecution(ctx context.Context, stream *sseStream, sessionID uuid.UUID, nlQuery, sqlText string, attemptCount int) {
	_ = stream.send(eventExecuting, map[string]any{
		"message": "Running your query...",
	})

	result, err := s.deps.Executor.Execute(ctx, sqlText)
	if err != nil {
		s.streamFailure(ctx, stream, sessionID, nlQuery, sqlText, err)

		return
	}

	interpretation := s.deps.Generator.Interpret(ctx, nlQuery, result)

	var followUps []string
	if s.deps.Suggestions != nil {
		// Follow-up failures yield an empty list and never block results.
		followUps = s.deps.Suggestions.FollowUps(ctx, nlQuery, interpretation)
	}

	_ = stream.send(eventResults, map[string]any{
		"columns":           result.Columns,
		"rows":              result.Rows,
		"row_count":         result.RowCount,
		"truncated":         result.Truncated,
		"sql":               result.SQL,
		"interpretation":    interpretation,
		"execution_time_ms": result.ExecutionTimeMS,
		"attempt_count":     attemptCount,
	})

	_ = stream.send(eventSuggestions, map[string]any{
		"suggestions": followUps,
	})

	s.persistAssistantResult(ctx, sessionID, nlQuery, interpretation, result, followUps, attemptCount)
	s.rememberTurn(ctx, sessionID.String(), query.ContextTurn{
		Role:     "assistant",
		Content:  interpretation,
		SQL:      result.SQL,
		RowCount: result.RowCount,
	})

	_ = stream.send(eventDone, map[string]any{})
}

// streamConfirmationGate persists a pending_confirmation message and closes
// the stream with awaiting_confirmation followed by done.
func (s *Server) streamConfirmationGate(ctx context.Context, stream *sseStream, sessionID uuid.UUID, nlQuery, sqlText string, estimatedRows int64) {
	msg := &storage.ChatMessage{
		ID:           uuid.New(),
		SessionID:    sessionID,
		Role:         storage.RoleAssistant,
		Content:      "This query may return a large number of rows. Confirm to run it.",
		NLQuery:      nlQuery,
		GeneratedSQL: sqlText,
		Status:       storage.MessagePendingConfirmation,
	}
	if err := s.deps.Chat.AppendMessage(ctx, msg); err != nil {
		s.logger.Error("Failed to persist pending confirmation",
			slog.String("session_id", sessionID.String()), slog.String("error", err.Error()))
	}

	_ = stream.send(eventAwaitingConfirmation, map[string]any{
		"estimated_rows": estimatedRows,
		"sql":            sqlText,
		"message_id":     msg.ID,
		"message":        msg.Content,
	})
	_ = stream.send(eventDone, map[string]any{})
}

// streamFailure emits error followed by done and records the failed turn.
func (s *Server) streamFailure(ctx context.Context, stream *sseStream, sessionID uuid.UUID, nlQuery, sqlText string, cause error) {
	s.logger.Error("Chat query failed",
		slog.String("session_id", sessionID.String()),
		slog.String("error", cause.Error()),
	)

	detail := "Sorry, I could not answer that question."
	if errors.Is(cause, query.ErrGenerationExhausted) {
		detail = "I could not generate a valid database query for that question. Try rephrasing it."
	}

	errPayload, _ := json.Marshal(map[string]string{"message": cause.Error()})

	msg := &storage.ChatMessage{
		ID:           uuid.New(),
		SessionID:    sessionID,
		Role:         storage.RoleAssistant,
		Content:      detail,
		NLQuery:      nlQuery,
		GeneratedSQL: sqlText,
		Error:        errPayload,
		Status:       storage.MessageError,
	}
	if err := s.deps.Chat.AppendMessage(ctx, msg); err != nil {
		s.logger.Error("Failed to persist error message",
			slog.String("session_id", sessionID.String()), slog.String("error", err.Error()))
	}

	_ = stream.send(eventError, map[string]any{"message": detail})
	_ = stream.send(eventDone, map[string]any{})
}

func (s *Server) persistUserMessage(ctx context.Context, sessionID uuid.UUID, nlQuery string) {
	msg := &storage.ChatMessage{
		ID:        uuid.New(),
		SessionID: sessionID,
		Role:      storage.RoleUser,
		Content:   nlQuery,
		NLQuery:   nlQuery,
		Status:    storage.MessageCompleted,
	}
	if err := s.deps.Chat.AppendMessage(ctx, msg); err != nil {
		s.logger.Error("Failed to persist user message",
			slog.String("session_id", sessionID.String()), slog.String("error", err.Error()))
	}
}

func (s *Server) persistAssistantResult(ctx context.Context, sessionID uuid.UUID, nlQuery, interpretation string, result *query.QueryResult, followUps []string, attemptCount int) {
	metadata, err := json.Marshal(resultMetadata{
		Columns:         result.Columns,
		RowCount:        result.RowCount,
		Truncated:       result.Truncated,
		ExecutionTimeMS: result.ExecutionTimeMS,
		AttemptCount:    attemptCount,
	})
	if err != nil {
		s.logger.Error("Failed to encode result metadata", slog.String("error", err.Error()))
	}

	msg := &storage.ChatMessage{
		ID:                  uuid.New(),
		SessionID:           sessionID,
		Role:                storage.RoleAssistant,
		Content:             interpretation,
		NLQuery:             nlQuery,
		GeneratedSQL:        result.SQL,
		ResultMetadata:      metadata,
		FollowUpSuggestions: followUps,
		Status:              storage.MessageCompleted,
	}
	if err := s.deps.Chat.AppendMessage(ctx, msg); err != nil {
		s.logger.Error("Failed to persist assistant message",
			slog.String("session_id", sessionID.String()), slog.String("error", err.Error()))
	}
}

func (s *Server) conversationHistory(ctx context.Context, sessionID uuid.UUID) []query.ContextTurn {
	if s.deps.Conversations == nil {
		return nil
	}

	return s.deps.Conversations.Get(ctx, sessionID.String())
}

func (s *Server) parseSessionID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	sessionID, err := uuid.Parse(r.PathValue("session_id"))
	if err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest("Session ID must be a valid UUID"))

		return uuid.Nil, false
	}

	return sessionID, true
}

func (s *Server) writeSessionError(w http.ResponseWriter, r *http.Request, sessionID uuid.UUID, err error) {
	if errors.Is(err, storage.ErrSessionNotFound) {
		WriteErrorResponse(w, r, s.logger, NotFound("Unknown session ID"))

		return
	}

	s.logger.Error("Chat session operation failed",
		slog.String("session_id", sessionID.String()),
		slog.String("error", err.Error()),
	)
	WriteErrorResponse(w, r, s.logger, InternalServerError("Chat session operation failed"))
}
