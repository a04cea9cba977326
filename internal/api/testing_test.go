package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/google/uuid"

	"github.com/floatchat-io/floatchat/internal/ingest"
	"github.com/floatchat-io/floatchat/internal/query"
	"github.com/floatchat-io/floatchat/internal/storage"
)

// newTestServer builds a Server wired to stubs, bypassing the middleware
// chain so tests exercise handlers directly.
func newTestServer(deps Deps) (*Server, http.Handler) {
	cfg := &ServerConfig{
		Port:                  8080,
		Host:                  "127.0.0.1",
		ReadTimeout:           time.Second,
		ShutdownTimeout:       time.Second,
		MaxUploadSizeBytes:    1 << 20,
		ConfirmationThreshold: 10000,
	}

	server := &Server{
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		config: cfg,
		deps:   deps,
	}

	mux := http.NewServeMux()
	server.setupRoutes(mux)

	return server, mux
}

type stubJobStore struct {
	jobs          map[uuid.UUID]*ingest.Job
	created       []*ingest.Job
	failed        []uuid.UUID
	listResult    []ingest.Job
	listTotal     int
	gotStatus     string
	gotLimit      int
	gotOffset     int
	resetErr      error
	createJobErr  error
	markFailedErr error
}

func newStubJobStore() *stubJobStore {
	return &stubJobStore{jobs: make(map[uuid.UUID]*ingest.Job)}
}

func (s *stubJobStore) CreateJob(_ context.Context, job *ingest.Job) error {
	if s.createJobErr != nil {
		return s.createJobErr
	}

	s.created = append(s.created, job)
	s.jobs[job.ID] = job

	return nil
}

func (s *stubJobStore) GetJob(_ context.Context, id uuid.UUID) (*ingest.Job, error) {
	job, ok := s.jobs[id]
	if !ok {
		return nil, ingest.ErrJobNotFound
	}

	return job, nil
}

func (s *stubJobStore) ListJobs(_ context.Context, status string, limit, offset int) ([]ingest.Job, int, error) {
	s.gotStatus = status
	s.gotLimit = limit
	s.gotOffset = offset

	return s.listResult, s.listTotal, nil
}

func (s *stubJobStore) MarkFailed(_ context.Context, id uuid.UUID, _ string, _ []ingest.StageError) error {
	if s.markFailedErr != nil {
		return s.markFailedErr
	}

	s.failed = append(s.failed, id)

	return nil
}

func (s *stubJobStore) ResetForRetry(_ context.Context, id uuid.UUID) (*ingest.Job, error) {
	if s.resetErr != nil {
		return nil, s.resetErr
	}

	job, ok := s.jobs[id]
	if !ok {
		return nil, ingest.ErrJobNotFound
	}

	job.Status = ingest.StatusPending

	return job, nil
}

type stubDatasetStore struct {
	nextID    int64
	created   []string
	rawPaths  map[int64]string
	createErr error
}

func newStubDatasetStore() *stubDatasetStore {
	return &stubDatasetStore{rawPaths: make(map[int64]string)}
}

func (s *stubDatasetStore) CreateDataset(_ context.Context, name, _ string) (int64, error) {
	if s.createErr != nil {
		return 0, s.createErr
	}

	s.created = append(s.created, name)
	s.nextID++

	return s.nextID, nil
}

func (s *stubDatasetStore) SetRawFilePath(_ context.Context, datasetID int64, rawPath, _ string) error {
	s.rawPaths[datasetID] = rawPath

	return nil
}

type stubUploader struct {
	keys      []string
	uploadErr error
}

func (s *stubUploader) Upload(_ context.Context, key string, body io.Reader) error {
	if s.uploadErr != nil {
		return s.uploadErr
	}

	_, _ = io.Copy(io.Discard, body)
	s.keys = append(s.keys, key)

	return nil
}

type stubDispatcher struct {
	messages []ingest.JobMessage
	err      error
}

func (s *stubDispatcher) Dispatch(_ context.Context, msg ingest.JobMessage) error {
	if s.err != nil {
		return s.err
	}

	s.messages = append(s.messages, msg)

	return nil
}

type stubGenerator struct {
	result       *query.GenerationResult
	err          error
	interpretOut string
	gotHistory   []query.ContextTurn
	gotRegion    *query.Region
	gotQuery     string
}

func (s *stubGenerator) GenerateSQL(_ context.Context, nlQuery string, history []query.ContextTurn, region *query.Region) (*query.GenerationResult, error) {
	s.gotQuery = nlQuery
	s.gotHistory = history
	s.gotRegion = region

	return s.result, s.err
}

func (s *stubGenerator) Interpret(_ context.Context, _ string, _ *query.QueryResult) string {
	return s.interpretOut
}

type stubExecutor struct {
	result   *query.QueryResult
	execErr  error
	estimate *int64
	gotSQL   string
}

func (s *stubExecutor) Execute(_ context.Context, sqlText string) (*query.QueryResult, error) {
	s.gotSQL = sqlText
	if s.execErr != nil {
		return nil, s.execErr
	}

	return s.result, nil
}

func (s *stubExecutor) EstimateRows(context.Context, string) *int64 {
	return s.estimate
}

type stubConversations struct {
	history  []query.ContextTurn
	appended []query.ContextTurn
}

func (s *stubConversations) Get(context.Context, string) []query.ContextTurn {
	return s.history
}

func (s *stubConversations) Append(_ context.Context, _ string, turns ...query.ContextTurn) {
	s.appended = append(s.appended, turns...)
}

type stubChatStore struct {
	sessions map[uuid.UUID]*storage.ChatSession
	messages []*storage.ChatMessage
	pending  *storage.ChatMessage
	statuses map[uuid.UUID]string
}

func newStubChatStore() *stubChatStore {
	return &stubChatStore{
		sessions: make(map[uuid.UUID]*storage.ChatSession),
		statuses: make(map[uuid.UUID]string),
	}
}

func (s *stubChatStore) CreateSession(_ context.Context, userIdentifier, name string) (*storage.ChatSession, error) {
	session := &storage.ChatSession{
		ID:             uuid.New(),
		UserIdentifier: userIdentifier,
		Name:           name,
		IsActive:       true,
		CreatedAt:      time.Now(),
		LastActiveAt:   time.Now(),
	}
	s.sessions[session.ID] = session

	return session, nil
}

func (s *stubChatStore) GetSession(_ context.Context, id uuid.UUID) (*storage.ChatSession, error) {
	session, ok := s.sessions[id]
	if !ok {
		return nil, storage.ErrSessionNotFound
	}

	return session, nil
}

func (s *stubChatStore) ListSessions(_ context.Context, _ string, _ int) ([]storage.ChatSession, error) {
	sessions := make([]storage.ChatSession, 0, len(s.sessions))
	for _, session := range s.sessions {
		sessions = append(sessions, *session)
	}

	return sessions, nil
}

func (s *stubChatStore) RenameSession(_ context.Context, id uuid.UUID, name string) error {
	session, ok := s.sessions[id]
	if !ok {
		return storage.ErrSessionNotFound
	}

	session.Name = name

	return nil
}

func (s *stubChatStore) DeleteSession(_ context.Context, id uuid.UUID) error {
	if _, ok := s.sessions[id]; !ok {
		return storage.ErrSessionNotFound
	}

	delete(s.sessions, id)

	return nil
}

func (s *stubChatStore) AppendMessage(_ context.Context, msg *storage.ChatMessage) error {
	s.messages = append(s.messages, msg)

	return nil
}

func (s *stubChatStore) ListMessages(_ context.Context, sessionID uuid.UUID, _ *uuid.UUID, _ int) ([]storage.ChatMessage, error) {
	if _, ok := s.sessions[sessionID]; !ok {
		return nil, storage.ErrSessionNotFound
	}

	messages := make([]storage.ChatMessage, 0, len(s.messages))
	for _, msg := range s.messages {
		if msg.SessionID == sessionID {
			messages = append(messages, *msg)
		}
	}

	return messages, nil
}

func (s *stubChatStore) GetPendingConfirmation(_ context.Context, sessionID uuid.UUID) (*storage.ChatMessage, error) {
	if s.pending == nil || s.pending.SessionID != sessionID {
		return nil, storage.ErrMessageNotFound
	}

	return s.pending, nil
}

func (s *stubChatStore) SetMessageStatus(_ context.Context, messageID uuid.UUID, status string) error {
	s.statuses[messageID] = status

	return nil
}

type stubSuggestions struct {
	loadTime  []string
	followUps []string
}

func (s *stubSuggestions) LoadTimeSuggestions(context.Context) []string {
	return s.loadTime
}

func (s *stubSuggestions) FollowUps(context.Context, string, string) []string {
	return s.followUps
}

func decodeBody(rec *httptest.ResponseRecorder, out any) error {
	return json.Unmarshal(rec.Body.Bytes(), out)
}

func int64Ptr(v int64) *int64 { return &v }
