package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"

	"github.com/floatchat-io/floatchat/internal/argo"
)

// Pipeline stage names recorded on stage errors.
const (
	StageStage    = "stage"
	StageValidate = "validate"
	StageParse    = "parse"
	StageClean    = "clean"
	StageWrite    = "write"
	StageMetadata = "metadata"
)

// Pipeline runs one ingestion job end to end: stage, validate, parse, clean,
// write, metadata, index.
type Pipeline struct {
	jobs       JobStore
	datasets   DatasetStore
	writer     Writer
	objects    ObjectStore
	dispatcher Dispatcher
	summarizer Summarizer
	indexer    Indexer
	logger     *slog.Logger
}

// PipelineDeps bundles the pipeline's collaborators.
type PipelineDeps struct {
	Jobs       JobStore
	Datasets   DatasetStore
	Writer     Writer
	Objects    ObjectStore
	Dispatcher Dispatcher
	Summarizer Summarizer
	Indexer    Indexer
}

// NewPipeline creates a Pipeline. Summarizer and Indexer may be nil.
func NewPipeline(deps PipelineDeps, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		jobs:       deps.Jobs,
		datasets:   deps.Datasets,
		writer:     deps.Writer,
		objects:    deps.Objects,
		dispatcher: deps.Dispatcher,
		summarizer: deps.Summarizer,
		indexer:    deps.Indexer,
		logger:     logger.With("component", "pipeline"),
	}
}

// Run executes one job to a terminal state. The returned error reflects why
// the job failed; the job record in the store always carries the outcome.
func (p *Pipeline) Run(ctx context.Context, msg *JobMessage) error {
	if msg.Kind == KindZip {
		return p.runZip(ctx, msg)
	}

	return p.runFile(ctx, msg)
}

func (p *Pipeline) runFile(ctx context.Context, msg *JobMessage) error {
	logger := p.logger.With("job_id", msg.JobID, "dataset_id", msg.DatasetID)

	if err := p.jobs.MarkRunning(ctx, msg.JobID); err != nil {
		return fmt.Errorf("failed to start job: %w", err)
	}

	// Stage: pull the raw file out of object storage.
	localPath, err := p.objects.Download(ctx, msg.FilePath)
	if err != nil {
		return p.fail(ctx, msg.JobID, StageStage, err)
	}
	defer func() { _ = os.Remove(localPath) }()

	p.progress(ctx, msg.JobID, ProgressStaged, 0)

	// Validate before the full parse so obviously broken files fail fast.
	if err := argo.ValidateFile(localPath); err != nil {
		return p.fail(ctx, msg.JobID, StageValidate, err)
	}
	p.progress(ctx, msg.JobID, ProgressValidated, 0)

	result, err := argo.ParseFile(localPath)
	if err != nil {
		return p.fail(ctx, msg.JobID, StageParse, err)
	}

	if err := p.jobs.SetProfilesTotal(ctx, msg.JobID, result.ProfileCount()); err != nil {
		logger.Warn("failed to record profile total", "error", err)
	}
	p.progress(ctx, msg.JobID, ProgressParsed, 0)

	stats := argo.Clean(result)
	logger.Info("measurements screened",
		"total", stats.TotalMeasurements, "outliers", stats.FlaggedOutliers)
	p.progress(ctx, msg.JobID, ProgressCleaned, 0)

	// Write interpolates progress between the cleaned and written checkpoints.
	lastPct := ProgressCleaned
	writeStats, err := p.writer.WriteParseResult(ctx, msg.DatasetID, result, func(written, total int) {
		pct := ProgressCleaned + (ProgressWritten-ProgressCleaned)*written/total
		if pct > lastPct {
			lastPct = pct
			p.progress(ctx, msg.JobID, pct, written)
		}
	})
	if err != nil {
		return p.fail(ctx, msg.JobID, StageWrite, err)
	}
	p.progress(ctx, msg.JobID, ProgressWritten, writeStats.ProfilesWritten)

	// Metadata failures degrade the dataset record but do not fail the job;
	// the measurements are already committed.
	if err := p.updateMetadata(ctx, msg); err != nil {
		logger.Warn("metadata update failed", "error", err)
	}
	p.progress(ctx, msg.JobID, ProgressMetadata, writeStats.ProfilesWritten)

	if err := p.jobs.MarkSucceeded(ctx, msg.JobID); err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}

	p.index(msg.DatasetID)

	logger.Info("job succeeded",
		"profiles", writeStats.ProfilesWritten,
		"measurements", writeStats.MeasurementsWritten,
	)

	return nil
}

func (p *Pipeline) updateMetadata(ctx context.Context, msg *JobMessage) error {
	md, err := p.datasets.ComputeMetadata(ctx, msg.DatasetID)
	if err != nil {
		return err
	}

	summary := FallbackSummary(md)
	if p.summarizer != nil {
		if text, err := p.summarizer.Summarize(ctx, md); err == nil {
			summary = text
		}
	}

	if err := p.datasets.UpdateMetadata(ctx, msg.DatasetID, md, summary); err != nil {
		return err
	}

	// Replays of an already-ingested dataset get an audit row.
	if msg.Attempt > 1 {
		notes := fmt.Sprintf("re-ingested on attempt %d", msg.Attempt)
		if err := p.datasets.BumpVersion(ctx, msg.DatasetID, md, notes); err != nil {
			return err
		}
	}

	if err := p.datasets.RefreshViews(ctx); err != nil {
		return err
	}

	return nil
}

// index triggers embedding indexing without blocking or failing the job.
func (p *Pipeline) index(datasetID int64) {
	if p.indexer == nil {
		return
	}

	go func() {
		ctx := context.Background()
		if err := p.indexer.IndexDataset(ctx, datasetID); err != nil {
			p.logger.Warn("dataset indexing failed", "dataset_id", datasetID, "error", err)
		}
		if err := p.indexer.IndexFloats(ctx, datasetID); err != nil {
			p.logger.Warn("float indexing failed", "dataset_id", datasetID, "error", err)
		}
	}()
}

func (p *Pipeline) progress(ctx context.Context, id uuid.UUID, pct, profilesIngested int) {
	if err := p.jobs.UpdateProgress(ctx, id, pct, profilesIngested); err != nil {
		p.logger.Warn("failed to update progress", "job_id", id, "pct", pct, "error", err)
	}
}

// fail records the stage-tagged error on the job and returns it for retry
// classification. Transient errors leave the job failed; a retry resets it.
func (p *Pipeline) fail(ctx context.Context, id uuid.UUID, stage string, cause error) error {
	stageErr := StageError{Stage: stage, Error: cause.Error()}
	if err := p.jobs.MarkFailed(ctx, id, cause.Error(), []StageError{stageErr}); err != nil &&
		!errors.Is(err, ErrInvalidTransition) {
		p.logger.Error("failed to record job failure", "job_id", id, "error", err)
	}

	return fmt.Errorf("%s: %w", stage, cause)
}
