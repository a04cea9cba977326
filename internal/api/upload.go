package api

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/floatchat-io/floatchat/internal/argo"
	"github.com/floatchat-io/floatchat/internal/ingest"
	"github.com/floatchat-io/floatchat/internal/objectstore"
)

// uploadChunkSize is the copy buffer used while streaming multipart uploads
// to the staging temp file.
const uploadChunkSize = 1 << 20 // 1 MiB

// errUploadTooLarge aborts the staging copy when the size limit is crossed
// mid-stream.
var errUploadTooLarge = errors.New("upload exceeds size limit")

// allowedUploadExtensions are the only accepted upload file types.
var allowedUploadExtensions = map[string]string{
	".nc":  ingest.KindFile,
	".nc4": ingest.KindFile,
	".zip": ingest.KindZip,
}

// UploadResponse is the 202 body returned for accepted uploads.
type UploadResponse struct {
	JobID     uuid.UUID `json:"job_id"`
	DatasetID int64     `json:"dataset_id"`
	Status    string    `json:"status"`
	Message   string    `json:"message"`
}

// handleDatasetUpload accepts a multipart NetCDF or zip upload, stages it in
// the object store, creates the dataset and job records, and dispatches the
// ingestion job. The upload itself is processed asynchronously by the worker.
func (s *Server) handleDatasetUpload(w http.ResponseWriter, r *http.Request) {
	reader, err := r.MultipartReader()
	if err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest("Request must be multipart/form-data with a 'file' part"))

		return
	}

	part, datasetName, err := nextFilePart(reader)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest("Multipart request has no 'file' part"))

		return
	}
	defer part.Close()

	filename := filepath.Base(part.FileName())
	ext := strings.ToLower(filepath.Ext(filename))

	kind, ok := allowedUploadExtensions[ext]
	if !ok {
		WriteErrorResponse(w, r, s.logger, BadRequest(
			fmt.Sprintf("Unsupported file extension %q: accepted extensions are .nc, .nc4, .zip", ext)))

		return
	}

	localPath, err := s.stageUpload(part)
	if err != nil {
		if errors.Is(err, errUploadTooLarge) {
			WriteErrorResponse(w, r, s.logger, PayloadTooLarge(
				fmt.Sprintf("Upload exceeds the %d byte limit", s.config.MaxUploadSizeBytes)))

			return
		}

		s.logger.Error("Failed to stage upload", slog.String("error", err.Error()))
		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to read upload"))

		return
	}
	defer func() { _ = os.Remove(localPath) }()

	ctx := r.Context()

	hash, err := argo.FileSHA256(localPath)
	if err != nil {
		s.logger.Error("Failed to hash upload", slog.String("error", err.Error()))
		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to process upload"))

		return
	}

	name := datasetName
	if name == "" {
		name = strings.TrimSuffix(filename, ext)
	}

	datasetID, err := s.deps.Datasets.CreateDataset(ctx, name, filename)
	if err != nil {
		s.logger.Error("Failed to create dataset", slog.String("error", err.Error()))
		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to create dataset record"))

		return
	}

	key := objectstore.RawKey(datasetID, filename)

	src, err := os.Open(localPath)
	if err != nil {
		s.logger.Error("Failed to reopen staged upload", slog.String("error", err.Error()))
		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to process upload"))

		return
	}
	defer src.Close()

	if err := s.deps.Objects.Upload(ctx, key, src); err != nil {
		s.logger.Error("Failed to store raw file", slog.String("error", err.Error()))
		WriteErrorResponse(w, r, s.logger, ServiceUnavailable("Object storage is unavailable"))

		return
	}

	if err := s.deps.Datasets.SetRawFilePath(ctx, datasetID, key, hash); err != nil {
		s.logger.Error("Failed to record raw file path", slog.String("error", err.Error()))
		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to record upload"))

		return
	}

	job := &ingest.Job{
		ID:               uuid.New(),
		DatasetID:        &datasetID,
		OriginalFilename: filename,
		RawFilePath:      key,
		Status:           ingest.StatusPending,
	}
	if err := s.deps.Jobs.CreateJob(ctx, job); err != nil {
		s.logger.Error("Failed to create job", slog.String("error", err.Error()))
		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to create ingestion job"))

		return
	}

	msg := ingest.JobMessage{
		JobID:            job.ID,
		DatasetID:        datasetID,
		FilePath:         key,
		OriginalFilename: filename,
		Kind:             kind,
		Attempt:          1,
	}
	if err := s.deps.Dispatcher.Dispatch(ctx, msg); err != nil {
		s.logger.Error("Failed to dispatch job",
			slog.String("job_id", job.ID.String()),
			slog.String("error", err.Error()),
		)

		stageErr := ingest.StageError{Stage: "dispatch", Error: err.Error()}
		if markErr := s.deps.Jobs.MarkFailed(ctx, job.ID, err.Error(), []ingest.StageError{stageErr}); markErr != nil {
			s.logger.Error("Failed to mark job failed after dispatch error",
				slog.String("job_id", job.ID.String()),
				slog.String("error", markErr.Error()),
			)
		}

		WriteErrorResponse(w, r, s.logger, ServiceUnavailable("Ingestion queue is unavailable"))

		return
	}

	s.writeJSON(w, r, http.StatusAccepted, UploadResponse{
		JobID:     job.ID,
		DatasetID: datasetID,
		Status:    ingest.StatusPending,
		Message:   fmt.Sprintf("Upload accepted; ingestion of %s is queued", filename),
	})
}

// stageUpload streams the multipart part to a temp file in 1 MiB chunks,
// aborting as soon as the configured size limit is crossed.
func (s *Server) stageUpload(part io.Reader) (string, error) {
	tmp, err := os.CreateTemp("", "floatchat-upload-*")
	if err != nil {
		return "", fmt.Errorf("failed to create staging file: %w", err)
	}

	var written int64

	buf := make([]byte, uploadChunkSize)

	for {
		n, readErr := part.Read(buf)
		if n > 0 {
			written += int64(n)
			if written > s.config.MaxUploadSizeBytes {
				tmp.Close()
				_ = os.Remove(tmp.Name())

				return "", errUploadTooLarge
			}

			if _, writeErr := tmp.Write(buf[:n]); writeErr != nil {
				tmp.Close()
				_ = os.Remove(tmp.Name())

				return "", fmt.Errorf("failed to write staging file: %w", writeErr)
			}
		}

		if readErr == io.EOF {
			break
		}

		if readErr != nil {
			tmp.Close()
			_ = os.Remove(tmp.Name())

			return "", fmt.Errorf("failed to read upload stream: %w", readErr)
		}
	}

	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())

		return "", fmt.Errorf("failed to finalize staging file: %w", err)
	}

	return tmp.Name(), nil
}

func lowerExt(filename string) string {
	return strings.ToLower(filepath.Ext(filename))
}

// maxDatasetNameBytes bounds the optional dataset_name form field.
const maxDatasetNameBytes = 256

// nextFilePart advances the multipart reader to the "file" part, capturing the
// optional "dataset_name" field when it precedes the file.
func nextFilePart(reader *multipart.Reader) (*multipart.Part, string, error) {
	var datasetName string

	for {
		part, err := reader.NextPart()
		if err != nil {
			return nil, "", err
		}

		switch part.FormName() {
		case "file":
			return part, datasetName, nil
		case "dataset_name":
			value, err := io.ReadAll(io.LimitReader(part, maxDatasetNameBytes))
			_ = part.Close()
			if err != nil {
				return nil, "", err
			}
			datasetName = strings.TrimSpace(string(value))
		default:
			_ = part.Close()
		}
	}
}
