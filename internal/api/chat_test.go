package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/floatchat-io/floatchat/internal/query"
	"github.com/floatchat-io/floatchat/internal/storage"
)

type sseEvent struct {
	name string
	data json.RawMessage
}

// parseSSE splits a recorded response body into its event frames.
func parseSSE(t *testing.T, body string) []sseEvent {
	t.Helper()

	var events []sseEvent

	scanner := bufio.NewScanner(strings.NewReader(body))
	var current sseEvent
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			current.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			current.data = json.RawMessage(strings.TrimPrefix(line, "data: "))
			events = append(events, current)
			current = sseEvent{}
		}
	}
	require.NoError(t, scanner.Err())

	return events
}

func eventNames(events []sseEvent) []string {
	names := make([]string, 0, len(events))
	for _, e := range events {
		names = append(names, e.name)
	}

	return names
}

func newChatDeps(chat *stubChatStore) Deps {
	return Deps{
		Chat: chat,
		Generator: &stubGenerator{
			result:       &query.GenerationResult{SQL: "SELECT float_id FROM floats", AttemptCount: 1},
			interpretOut: "Found 2 floats.",
		},
		Executor: &stubExecutor{
			result: &query.QueryResult{
				Columns:         []string{"float_id"},
				Rows:            [][]any{{"5904297"}, {"5904298"}},
				RowCount:        2,
				SQL:             "SELECT float_id FROM floats",
				ExecutionTimeMS: 8,
			},
		},
		Suggestions: &stubSuggestions{
			loadTime:  []string{"Show me temperature profiles near the equator"},
			followUps: []string{"What about salinity?"},
		},
	}
}

func TestCreateSession(t *testing.T) {
	chat := newStubChatStore()
	_, handler := newTestServer(Deps{Chat: chat})

	rec := postJSON(handler, "/api/v1/chat/sessions", `{"user_identifier": "researcher-1"}`)

	require.Equal(t, http.StatusCreated, rec.Code)

	var resp SessionResponse
	require.NoError(t, decodeBody(rec, &resp))
	assert.Equal(t, "New conversation", resp.Name)
	assert.Equal(t, "researcher-1", resp.UserIdentifier)
	assert.Len(t, chat.sessions, 1)
}

func TestGetSession_Unknown(t *testing.T) {
	_, handler := newTestServer(Deps{Chat: newStubChatStore()})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/chat/sessions/"+uuid.NewString(), nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRenameSession(t *testing.T) {
	chat := newStubChatStore()
	session, err := chat.CreateSession(context.Background(), "", "New conversation")
	require.NoError(t, err)

	_, handler := newTestServer(Deps{Chat: chat})

	rec := postPatch(handler, "/api/v1/chat/sessions/"+session.ID.String(), `{"name": "Equator floats"}`)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp SessionResponse
	require.NoError(t, decodeBody(rec, &resp))
	assert.Equal(t, "Equator floats", resp.Name)
}

func TestRenameSession_EmptyName(t *testing.T) {
	chat := newStubChatStore()
	session, err := chat.CreateSession(context.Background(), "", "New conversation")
	require.NoError(t, err)

	_, handler := newTestServer(Deps{Chat: chat})

	rec := postPatch(handler, "/api/v1/chat/sessions/"+session.ID.String(), `{"name": "  "}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteSession(t *testing.T) {
	chat := newStubChatStore()
	session, err := chat.CreateSession(context.Background(), "", "New conversation")
	require.NoError(t, err)

	_, handler := newTestServer(Deps{Chat: chat})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/v1/chat/sessions/"+session.ID.String(), nil))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, chat.sessions)
}

func TestListMessages_InvalidCursor(t *testing.T) {
	chat := newStubChatStore()
	session, err := chat.CreateSession(context.Background(), "", "New conversation")
	require.NoError(t, err)

	_, handler := newTestServer(Deps{Chat: chat})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/api/v1/chat/sessions/"+session.ID.String()+"/messages?before=garbage", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLoadTimeSuggestions(t *testing.T) {
	_, handler := newTestServer(Deps{Suggestions: &stubSuggestions{
		loadTime: []string{"Show nearest floats to Mumbai"},
	}})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/chat/suggestions", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Suggestions []string `json:"suggestions"`
	}
	require.NoError(t, decodeBody(rec, &resp))
	assert.Equal(t, []string{"Show nearest floats to Mumbai"}, resp.Suggestions)
}

func TestChatQuery_StreamsFullPipeline(t *testing.T) {
	chat := newStubChatStore()
	session, err := chat.CreateSession(context.Background(), "", "New conversation")
	require.NoError(t, err)

	_, handler := newTestServer(newChatDeps(chat))

	rec := postJSON(handler, "/api/v1/chat/sessions/"+session.ID.String()+"/query",
		`{"query": "show me some floats"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	events := parseSSE(t, rec.Body.String())
	assert.Equal(t,
		[]string{"thinking", "interpreting", "executing", "results", "suggestions", "done"},
		eventNames(events))

	var results struct {
		RowCount       int    `json:"row_count"`
		SQL            string `json:"sql"`
		Interpretation string `json:"interpretation"`
	}
	require.NoError(t, json.Unmarshal(events[3].data, &results))
	assert.Equal(t, 2, results.RowCount)
	assert.Equal(t, "SELECT float_id FROM floats", results.SQL)
	assert.Equal(t, "Found 2 floats.", results.Interpretation)

	// One user message and one completed assistant message persisted.
	require.Len(t, chat.messages, 2)
	assert.Equal(t, storage.RoleUser, chat.messages[0].Role)
	assert.Equal(t, storage.MessageCompleted, chat.messages[0].Status)
	assert.Equal(t, storage.RoleAssistant, chat.messages[1].Role)
	assert.Equal(t, storage.MessageCompleted, chat.messages[1].Status)
	assert.Equal(t, []string{"What about salinity?"}, chat.messages[1].FollowUpSuggestions)
}

func TestChatQuery_UnknownSession(t *testing.T) {
	_, handler := newTestServer(newChatDeps(newStubChatStore()))

	rec := postJSON(handler, "/api/v1/chat/sessions/"+uuid.NewString()+"/query",
		`{"query": "show me some floats"}`)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestChatQuery_GenerationFailureStreamsError(t *testing.T) {
	chat := newStubChatStore()
	session, err := chat.CreateSession(context.Background(), "", "New conversation")
	require.NoError(t, err)

	deps := newChatDeps(chat)
	deps.Generator = &stubGenerator{err: errors.New("anthropic: overloaded")}

	_, handler := newTestServer(deps)

	rec := postJSON(handler, "/api/v1/chat/sessions/"+session.ID.String()+"/query",
		`{"query": "show me some floats"}`)

	require.Equal(t, http.StatusOK, rec.Code)

	events := parseSSE(t, rec.Body.String())
	assert.Equal(t, []string{"thinking", "error", "done"}, eventNames(events))

	// The failed turn is still persisted: user message plus an assistant
	// message carrying the error payload.
	require.Len(t, chat.messages, 2)
	assert.Equal(t, storage.MessageError, chat.messages[1].Status)
	assert.Contains(t, string(chat.messages[1].Error), "overloaded")
}

func TestChatQuery_ConfirmationGate(t *testing.T) {
	chat := newStubChatStore()
	session, err := chat.CreateSession(context.Background(), "", "New conversation")
	require.NoError(t, err)

	deps := newChatDeps(chat)
	deps.Executor = &stubExecutor{estimate: int64Ptr(500000)}

	_, handler := newTestServer(deps)

	rec := postJSON(handler, "/api/v1/chat/sessions/"+session.ID.String()+"/query",
		`{"query": "every profile ever"}`)

	require.Equal(t, http.StatusOK, rec.Code)

	events := parseSSE(t, rec.Body.String())
	assert.Equal(t,
		[]string{"thinking", "interpreting", "awaiting_confirmation", "done"},
		eventNames(events))

	var gate struct {
		EstimatedRows int64  `json:"estimated_rows"`
		SQL           string `json:"sql"`
	}
	require.NoError(t, json.Unmarshal(events[2].data, &gate))
	assert.Equal(t, int64(500000), gate.EstimatedRows)

	// The gate persists a pending_confirmation assistant message after the
	// user turn.
	require.Len(t, chat.messages, 2)
	assert.Equal(t, storage.MessagePendingConfirmation, chat.messages[1].Status)
	assert.Equal(t, "SELECT float_id FROM floats", chat.messages[1].GeneratedSQL)
}

func TestChatConfirm_NoPendingQuery(t *testing.T) {
	chat := newStubChatStore()
	session, err := chat.CreateSession(context.Background(), "", "New conversation")
	require.NoError(t, err)

	_, handler := newTestServer(newChatDeps(chat))

	rec := postJSON(handler, "/api/v1/chat/sessions/"+session.ID.String()+"/confirm", `{}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChatConfirm_ExecutesPendingQuery(t *testing.T) {
	chat := newStubChatStore()
	session, err := chat.CreateSession(context.Background(), "", "New conversation")
	require.NoError(t, err)

	pending := &storage.ChatMessage{
		ID:           uuid.New(),
		SessionID:    session.ID,
		Role:         storage.RoleAssistant,
		NLQuery:      "every profile ever",
		GeneratedSQL: "SELECT float_id FROM floats",
		Status:       storage.MessagePendingConfirmation,
	}
	chat.pending = pending

	_, handler := newTestServer(newChatDeps(chat))

	rec := postJSON(handler, "/api/v1/chat/sessions/"+session.ID.String()+"/confirm", `{}`)

	require.Equal(t, http.StatusOK, rec.Code)

	events := parseSSE(t, rec.Body.String())
	assert.Equal(t, []string{"executing", "results", "suggestions", "done"}, eventNames(events))

	assert.Equal(t, storage.MessageConfirmed, chat.statuses[pending.ID])
}

func postPatch(handler http.Handler, url, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPatch, url, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	return rec
}
