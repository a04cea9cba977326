package api

import (
	"context"
	"io"

	"github.com/google/uuid"

	"github.com/floatchat-io/floatchat/internal/ingest"
	"github.com/floatchat-io/floatchat/internal/query"
	"github.com/floatchat-io/floatchat/internal/storage"
)

// Consumer-side interfaces for the handlers' collaborators. The concrete
// implementations live in storage, objectstore, ingest, and query.
type (
	// JobStore is the slice of the ingestion job store the API needs.
	JobStore interface {
		CreateJob(ctx context.Context, job *ingest.Job) error
		GetJob(ctx context.Context, id uuid.UUID) (*ingest.Job, error)
		ListJobs(ctx context.Context, statusFilter string, limit, offset int) ([]ingest.Job, int, error)
		MarkFailed(ctx context.Context, id uuid.UUID, errorLog string, stageErrors []ingest.StageError) error
		ResetForRetry(ctx context.Context, id uuid.UUID) (*ingest.Job, error)
	}

	// DatasetStore creates dataset records for uploads.
	DatasetStore interface {
		CreateDataset(ctx context.Context, name, sourceFilename string) (int64, error)
		SetRawFilePath(ctx context.Context, datasetID int64, rawPath, fileHash string) error
	}

	// Uploader stages raw files into the object store.
	Uploader interface {
		Upload(ctx context.Context, key string, body io.Reader) error
	}

	// Dispatcher enqueues ingestion job messages.
	Dispatcher interface {
		Dispatch(ctx context.Context, msg ingest.JobMessage) error
	}

	// SQLGenerator turns a natural-language question into validated SQL and
	// interprets results. Implemented by query.Pipeline.
	SQLGenerator interface {
		GenerateSQL(ctx context.Context, nlQuery string, history []query.ContextTurn, region *query.Region) (*query.GenerationResult, error)
		Interpret(ctx context.Context, nlQuery string, result *query.QueryResult) string
	}

	// SQLExecutor runs validated SQL against the read-only connection.
	// Implemented by query.Executor.
	SQLExecutor interface {
		Execute(ctx context.Context, sqlText string) (*query.QueryResult, error)
		EstimateRows(ctx context.Context, sqlText string) *int64
	}

	// ConversationStore keeps short-lived conversation context per session.
	// Implemented by query.ContextStore.
	ConversationStore interface {
		Get(ctx context.Context, sessionID string) []query.ContextTurn
		Append(ctx context.Context, sessionID string, turns ...query.ContextTurn)
	}

	// ChatStore persists chat sessions and messages. Implemented by
	// storage.ChatStore.
	ChatStore interface {
		CreateSession(ctx context.Context, userIdentifier, name string) (*storage.ChatSession, error)
		GetSession(ctx context.Context, id uuid.UUID) (*storage.ChatSession, error)
		ListSessions(ctx context.Context, userIdentifier string, limit int) ([]storage.ChatSession, error)
		RenameSession(ctx context.Context, id uuid.UUID, name string) error
		DeleteSession(ctx context.Context, id uuid.UUID) error
		AppendMessage(ctx context.Context, msg *storage.ChatMessage) error
		ListMessages(ctx context.Context, sessionID uuid.UUID, before *uuid.UUID, limit int) ([]storage.ChatMessage, error)
		GetPendingConfirmation(ctx context.Context, sessionID uuid.UUID) (*storage.ChatMessage, error)
		SetMessageStatus(ctx context.Context, messageID uuid.UUID, status string) error
	}

	// SuggestionSource produces load-time example queries and follow-ups.
	// Implemented by query.Suggester.
	SuggestionSource interface {
		LoadTimeSuggestions(ctx context.Context) []string
		FollowUps(ctx context.Context, nlQuery, interpretation string) []string
	}

	// HealthCheck probes one backing dependency.
	HealthCheck func(ctx context.Context) error
)
