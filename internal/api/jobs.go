package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/floatchat-io/floatchat/internal/ingest"
)

const (
	defaultJobPageLimit = 20
	maxJobPageLimit     = 100
)

// JobResponse is the API representation of an ingestion job.
type JobResponse struct {
	JobID            uuid.UUID           `json:"job_id"`
	DatasetID        *int64              `json:"dataset_id,omitempty"`
	OriginalFilename string              `json:"original_filename"`
	Status           string              `json:"status"`
	ProgressPct      int                 `json:"progress_pct"`
	ProfilesTotal    *int                `json:"profiles_total,omitempty"`
	ProfilesIngested int                 `json:"profiles_ingested"`
	RetryCount       int                 `json:"retry_count"`
	ErrorLog         string              `json:"error_log,omitempty"`
	Errors           []ingest.StageError `json:"errors,omitempty"`
	StartedAt        *time.Time          `json:"started_at,omitempty"`
	CompletedAt      *time.Time          `json:"completed_at,omitempty"`
	CreatedAt        time.Time           `json:"created_at"`
}

// JobListResponse is the paginated job listing body.
type JobListResponse struct {
	Jobs   []JobResponse `json:"jobs"`
	Total  int           `json:"total"`
	Limit  int           `json:"limit"`
	Offset int           `json:"offset"`
}

func jobResponse(job *ingest.Job) JobResponse {
	return JobResponse{
		JobID:            job.ID,
		DatasetID:        job.DatasetID,
		OriginalFilename: job.OriginalFilename,
		Status:           job.Status,
		ProgressPct:      job.ProgressPct,
		ProfilesTotal:    job.ProfilesTotal,
		ProfilesIngested: job.ProfilesIngested,
		RetryCount:       job.RetryCount,
		ErrorLog:         job.ErrorLog,
		Errors:           job.Errors,
		StartedAt:        job.StartedAt,
		CompletedAt:      job.CompletedAt,
		CreatedAt:        job.CreatedAt,
	}
}

// handleGetJob returns one job's status, progress, and errors.
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := s.parseJobID(w, r)
	if !ok {
		return
	}

	job, err := s.deps.Jobs.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, ingest.ErrJobNotFound) {
			WriteErrorResponse(w, r, s.logger, NotFound("Unknown job ID"))

			return
		}

		s.logger.Error("Failed to load job", slog.String("job_id", jobID.String()), slog.String("error", err.Error()))
		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to load job"))

		return
	}

	s.writeJSON(w, r, http.StatusOK, jobResponse(job))
}

// handleListJobs returns a paginated job listing, optionally filtered by
// status. Limit clamps to 1..100 and defaults to 20.
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	if status != "" && !validJobStatus(status) {
		WriteErrorResponse(w, r, s.logger, BadRequest(
			"Invalid status filter: must be one of pending, running, succeeded, failed"))

		return
	}

	limit := queryInt(r, "limit", defaultJobPageLimit)
	if limit < 1 {
		limit = 1
	}
	if limit > maxJobPageLimit {
		limit = maxJobPageLimit
	}

	offset := queryInt(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	jobs, total, err := s.deps.Jobs.ListJobs(r.Context(), status, limit, offset)
	if err != nil {
		s.logger.Error("Failed to list jobs", slog.String("error", err.Error()))
		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to list jobs"))

		return
	}

	responses := make([]JobResponse, 0, len(jobs))
	for i := range jobs {
		responses = append(responses, jobResponse(&jobs[i]))
	}

	s.writeJSON(w, r, http.StatusOK, JobListResponse{
		Jobs:   responses,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}

// handleRetryJob resets a failed job and re-dispatches it.
func (s *Server) handleRetryJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := s.parseJobID(w, r)
	if !ok {
		return
	}

	ctx := r.Context()

	job, err := s.deps.Jobs.ResetForRetry(ctx, jobID)
	if err != nil {
		switch {
		case errors.Is(err, ingest.ErrJobNotFound):
			WriteErrorResponse(w, r, s.logger, NotFound("Unknown job ID"))
		case errors.Is(err, ingest.ErrJobNotRetryable):
			WriteErrorResponse(w, r, s.logger, BadRequest("Only failed jobs can be retried"))
		default:
			s.logger.Error("Failed to reset job",
				slog.String("job_id", jobID.String()), slog.String("error", err.Error()))
			WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to reset job"))
		}

		return
	}

	var datasetID int64
	if job.DatasetID != nil {
		datasetID = *job.DatasetID
	}

	msg := ingest.JobMessage{
		JobID:            job.ID,
		DatasetID:        datasetID,
		FilePath:         job.RawFilePath,
		OriginalFilename: job.OriginalFilename,
		Kind:             jobKind(job.OriginalFilename),
		Attempt:          job.RetryCount + 1,
	}
	if err := s.deps.Dispatcher.Dispatch(ctx, msg); err != nil {
		s.logger.Error("Failed to re-dispatch job",
			slog.String("job_id", job.ID.String()), slog.String("error", err.Error()))

		stageErr := ingest.StageError{Stage: "dispatch", Error: err.Error()}
		if markErr := s.deps.Jobs.MarkFailed(ctx, job.ID, err.Error(), []ingest.StageError{stageErr}); markErr != nil {
			s.logger.Error("Failed to mark job failed after dispatch error",
				slog.String("job_id", job.ID.String()), slog.String("error", markErr.Error()))
		}

		WriteErrorResponse(w, r, s.logger, ServiceUnavailable("Ingestion queue is unavailable"))

		return
	}

	s.writeJSON(w, r, http.StatusAccepted, jobResponse(job))
}

func (s *Server) parseJobID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	jobID, err := uuid.Parse(r.PathValue("job_id"))
	if err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest("Job ID must be a valid UUID"))

		return uuid.Nil, false
	}

	return jobID, true
}

func validJobStatus(status string) bool {
	switch status {
	case ingest.StatusPending, ingest.StatusRunning, ingest.StatusSucceeded, ingest.StatusFailed:
		return true
	}

	return false
}

// jobKind infers the dispatch kind from the uploaded filename.
func jobKind(filename string) string {
	if kind, ok := allowedUploadExtensions[lowerExt(filename)]; ok {
		return kind
	}

	return ingest.KindFile
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}

	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}

	return value
}
