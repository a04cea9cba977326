package ingest

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/floatchat-io/floatchat/internal/argo"
	"github.com/floatchat-io/floatchat/internal/objectstore"
)

// runZip extracts an uploaded archive and fans each NetCDF member out as its
// own dataset and file job. Member failures are recorded on the zip job
// without failing sibling members.
func (p *Pipeline) runZip(ctx context.Context, msg *JobMessage) error {
	logger := p.logger.With("job_id", msg.JobID, "kind", KindZip)

	if err := p.jobs.MarkRunning(ctx, msg.JobID); err != nil {
		return fmt.Errorf("failed to start zip job: %w", err)
	}

	localPath, err := p.objects.Download(ctx, msg.FilePath)
	if err != nil {
		return p.fail(ctx, msg.JobID, StageStage, err)
	}
	defer func() { _ = os.Remove(localPath) }()

	p.progress(ctx, msg.JobID, ProgressStaged, 0)

	reader, err := zip.OpenReader(localPath)
	if err != nil {
		return p.fail(ctx, msg.JobID, StageValidate,
			fmt.Errorf("%w: not a readable zip archive: %v", argo.ErrMalformedFile, err))
	}
	defer reader.Close()

	members := netCDFMembers(&reader.Reader)
	if len(members) == 0 {
		return p.fail(ctx, msg.JobID, StageValidate,
			fmt.Errorf("%w: archive contains no NetCDF files", argo.ErrMalformedFile))
	}

	var memberErrors []StageError
	dispatched := 0

	for i, member := range members {
		if err := p.dispatchMember(ctx, member); err != nil {
			logger.Warn("zip member failed", "member", member.Name, "error", err)
			memberErrors = append(memberErrors, StageError{
				Stage: fmt.Sprintf("member:%s", filepath.Base(member.Name)),
				Error: err.Error(),
			})

			continue
		}
		dispatched++

		pct := ProgressStaged + (ProgressWritten-ProgressStaged)*(i+1)/len(members)
		p.progress(ctx, msg.JobID, pct, 0)
	}

	if dispatched == 0 {
		combined := fmt.Sprintf("all %d archive members failed", len(members))

		return p.fail(ctx, msg.JobID, StageValidate, fmt.Errorf("%w: %s", ErrPermanent, combined))
	}

	if len(memberErrors) > 0 {
		// Partial success: surviving members proceed as their own jobs; the
		// zip job records which members were dropped.
		if err := p.jobs.MarkFailed(ctx, msg.JobID,
			fmt.Sprintf("%d of %d archive members failed", len(memberErrors), len(members)),
			memberErrors); err != nil {
			logger.Error("failed to record member errors", "error", err)
		}

		return nil
	}

	if err := p.jobs.MarkSucceeded(ctx, msg.JobID); err != nil {
		return fmt.Errorf("failed to complete zip job: %w", err)
	}

	logger.Info("archive fanned out", "members", dispatched)

	return nil
}

// netCDFMembers filters the archive down to plausible profile files, skipping
// directories, hidden entries, and non-NetCDF extensions.
func netCDFMembers(reader *zip.Reader) []*zip.File {
	var members []*zip.File
	for _, f := range reader.File {
		if f.FileInfo().IsDir() {
			continue
		}

		base := filepath.Base(f.Name)
		if strings.HasPrefix(base, ".") || strings.HasPrefix(f.Name, "__MACOSX/") {
			continue
		}

		ext := strings.ToLower(filepath.Ext(base))
		if ext == ".nc" || ext == ".nc4" {
			members = append(members, f)
		}
	}

	return members
}

// dispatchMember validates one archive member and stages it as its own
// dataset and job.
func (p *Pipeline) dispatchMember(ctx context.Context, member *zip.File) error {
	base := filepath.Base(member.Name)

	localPath, err := extractMember(member)
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(localPath) }()

	if err := argo.ValidateFile(localPath); err != nil {
		return err
	}

	hash, err := argo.FileSHA256(localPath)
	if err != nil {
		return fmt.Errorf("failed to hash member: %w", err)
	}

	datasetID, err := p.datasets.CreateDataset(ctx, strings.TrimSuffix(base, filepath.Ext(base)), base)
	if err != nil {
		return fmt.Errorf("failed to create dataset: %w", err)
	}

	src, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to reopen member: %w", err)
	}
	defer src.Close()

	key := objectstore.RawKey(datasetID, base)
	if err := p.objects.Upload(ctx, key, src); err != nil {
		return fmt.Errorf("failed to stage member: %w", err)
	}

	if err := p.datasets.SetRawFilePath(ctx, datasetID, key, hash); err != nil {
		return fmt.Errorf("failed to record raw path: %w", err)
	}

	job := &Job{
		ID:               uuid.New(),
		DatasetID:        &datasetID,
		OriginalFilename: base,
		RawFilePath:      key,
		Status:           StatusPending,
	}
	if err := p.jobs.CreateJob(ctx, job); err != nil {
		return fmt.Errorf("failed to create member job: %w", err)
	}

	err = p.dispatcher.Dispatch(ctx, JobMessage{
		JobID:            job.ID,
		DatasetID:        datasetID,
		FilePath:         key,
		OriginalFilename: base,
		Kind:             KindFile,
		Attempt:          1,
	})
	if err != nil {
		if markErr := p.jobs.MarkFailed(ctx, job.ID, err.Error(),
			[]StageError{{Stage: StageStage, Error: err.Error()}}); markErr != nil {
			p.logger.Error("failed to mark member job failed", "job_id", job.ID, "error", markErr)
		}

		return fmt.Errorf("failed to dispatch member job: %w", err)
	}

	return nil
}

// extractMember copies an archive member into a temp file for validation and
// staging. The caller removes the file.
func extractMember(member *zip.File) (string, error) {
	src, err := member.Open()
	if err != nil {
		return "", fmt.Errorf("%w: failed to open archive member: %v", argo.ErrMalformedFile, err)
	}
	defer src.Close()

	tmp, err := os.CreateTemp("", "floatchat-member-*"+filepath.Ext(member.Name))
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}

	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		_ = os.Remove(tmp.Name())

		return "", fmt.Errorf("%w: failed to extract archive member: %v", argo.ErrMalformedFile, err)
	}

	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())

		return "", fmt.Errorf("failed to finalize temp file: %w", err)
	}

	return tmp.Name(), nil
}
