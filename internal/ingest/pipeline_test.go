package ingest

import (
	"archive/zip"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/floatchat-io/floatchat/internal/argo"
)

type stubJobStore struct {
	running     []uuid.UUID
	succeeded   []uuid.UUID
	failed      []uuid.UUID
	failedLog   string
	stageErrors []StageError
	progress    []int
	created     []*Job

	markFailedErr error
}

func (s *stubJobStore) CreateJob(_ context.Context, job *Job) error {
	s.created = append(s.created, job)

	return nil
}

func (s *stubJobStore) GetJob(context.Context, uuid.UUID) (*Job, error) { return nil, ErrJobNotFound }

func (s *stubJobStore) ListJobs(context.Context, string, int, int) ([]Job, int, error) {
	return nil, 0, nil
}

func (s *stubJobStore) MarkRunning(_ context.Context, id uuid.UUID) error {
	s.running = append(s.running, id)

	return nil
}

func (s *stubJobStore) UpdateProgress(_ context.Context, _ uuid.UUID, pct, _ int) error {
	s.progress = append(s.progress, pct)

	return nil
}

func (s *stubJobStore) SetProfilesTotal(context.Context, uuid.UUID, int) error { return nil }

func (s *stubJobStore) MarkSucceeded(_ context.Context, id uuid.UUID) error {
	s.succeeded = append(s.succeeded, id)

	return nil
}

func (s *stubJobStore) MarkFailed(_ context.Context, id uuid.UUID, errorLog string, stageErrors []StageError) error {
	if s.markFailedErr != nil {
		return s.markFailedErr
	}

	s.failed = append(s.failed, id)
	s.failedLog = errorLog
	s.stageErrors = stageErrors

	return nil
}

func (s *stubJobStore) ResetForRetry(context.Context, uuid.UUID) (*Job, error) {
	return nil, ErrJobNotRetryable
}

func (s *stubJobStore) IncrementRetry(context.Context, uuid.UUID) (int, error) { return 0, nil }

func (s *stubJobStore) SweepStale(context.Context, time.Duration, time.Duration) (int, error) {
	return 0, nil
}

type stubDatasetStore struct {
	metadata    *DatasetMetadata
	computeErr  error
	created     []string
	updated     bool
	summary     string
	versions    []string
	refreshed   bool
	rawPaths    map[int64]string
	nextID      int64
	createError error
}

func (s *stubDatasetStore) CreateDataset(_ context.Context, name, _ string) (int64, error) {
	if s.createError != nil {
		return 0, s.createError
	}

	s.created = append(s.created, name)
	s.nextID++

	return s.nextID, nil
}

func (s *stubDatasetStore) SetRawFilePath(_ context.Context, datasetID int64, rawPath, _ string) error {
	if s.rawPaths == nil {
		s.rawPaths = make(map[int64]string)
	}
	s.rawPaths[datasetID] = rawPath

	return nil
}

func (s *stubDatasetStore) ComputeMetadata(context.Context, int64) (*DatasetMetadata, error) {
	if s.computeErr != nil {
		return nil, s.computeErr
	}

	return s.metadata, nil
}

func (s *stubDatasetStore) UpdateMetadata(_ context.Context, _ int64, _ *DatasetMetadata, summary string) error {
	s.updated = true
	s.summary = summary

	return nil
}

func (s *stubDatasetStore) BumpVersion(_ context.Context, _ int64, _ *DatasetMetadata, notes string) error {
	s.versions = append(s.versions, notes)

	return nil
}

func (s *stubDatasetStore) RefreshViews(context.Context) error {
	s.refreshed = true

	return nil
}

type stubObjects struct {
	downloadPath string
	downloadErr  error
	uploads      []string
}

func (s *stubObjects) Upload(_ context.Context, key string, body io.Reader) error {
	_, _ = io.Copy(io.Discard, body)
	s.uploads = append(s.uploads, key)

	return nil
}

func (s *stubObjects) Download(context.Context, string) (string, error) {
	return s.downloadPath, s.downloadErr
}

func (s *stubObjects) Presign(context.Context, string, time.Duration) (string, error) {
	return "", nil
}

type stubDispatcher struct {
	messages []JobMessage
	err      error
}

func (s *stubDispatcher) Dispatch(_ context.Context, msg JobMessage) error {
	if s.err != nil {
		return s.err
	}

	s.messages = append(s.messages, msg)

	return nil
}

func newTestPipeline(jobs *stubJobStore, datasets *stubDatasetStore, objects *stubObjects, dispatcher *stubDispatcher) *Pipeline {
	return NewPipeline(PipelineDeps{
		Jobs:       jobs,
		Datasets:   datasets,
		Objects:    objects,
		Dispatcher: dispatcher,
	}, discardLogger())
}

// writeTempFile drops arbitrary bytes into a temp file and returns its path.
func writeTempFile(t *testing.T, name string, data []byte) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	return path
}

func TestRunFile_DownloadFailureRecordsStageError(t *testing.T) {
	jobs := &stubJobStore{}
	objects := &stubObjects{downloadErr: errors.New("connection refused")}
	p := newTestPipeline(jobs, &stubDatasetStore{}, objects, &stubDispatcher{})

	msg := &JobMessage{JobID: uuid.New(), DatasetID: 1, FilePath: "raw/1/a.nc", Kind: KindFile}
	err := p.Run(context.Background(), msg)

	require.Error(t, err)
	assert.True(t, IsTransient(err))
	require.Len(t, jobs.stageErrors, 1)
	assert.Equal(t, StageStage, jobs.stageErrors[0].Stage)
	assert.Equal(t, []uuid.UUID{msg.JobID}, jobs.running)
	assert.Empty(t, jobs.succeeded)
}

func TestRunFile_MalformedFileFailsValidation(t *testing.T) {
	jobs := &stubJobStore{}
	objects := &stubObjects{downloadPath: writeTempFile(t, "garbage.nc", []byte("not netcdf"))}
	p := newTestPipeline(jobs, &stubDatasetStore{}, objects, &stubDispatcher{})

	msg := &JobMessage{JobID: uuid.New(), DatasetID: 1, FilePath: "raw/1/garbage.nc", Kind: KindFile}
	err := p.Run(context.Background(), msg)

	require.Error(t, err)
	assert.True(t, IsPermanent(err))
	require.Len(t, jobs.stageErrors, 1)
	assert.Equal(t, StageValidate, jobs.stageErrors[0].Stage)
	// Progress reached the staged checkpoint before validation rejected the file.
	assert.Equal(t, []int{ProgressStaged}, jobs.progress)
}

func TestUpdateMetadata_FirstAttemptSkipsVersionBump(t *testing.T) {
	start := time.Date(2023, 3, 1, 0, 0, 0, 0, time.UTC)
	datasets := &stubDatasetStore{metadata: &DatasetMetadata{
		DateRangeStart: &start,
		ProfileCount:   5,
		FloatCount:     2,
		Variables:      []string{"TEMP"},
	}}
	p := newTestPipeline(&stubJobStore{}, datasets, &stubObjects{}, &stubDispatcher{})

	msg := &JobMessage{JobID: uuid.New(), DatasetID: 7, Attempt: 1}
	require.NoError(t, p.updateMetadata(context.Background(), msg))

	assert.True(t, datasets.updated)
	assert.Contains(t, datasets.summary, "5 profiles from 2 floats")
	assert.Empty(t, datasets.versions)
	assert.True(t, datasets.refreshed)
}

func TestUpdateMetadata_ReplayBumpsVersion(t *testing.T) {
	datasets := &stubDatasetStore{metadata: &DatasetMetadata{ProfileCount: 1, FloatCount: 1}}
	p := newTestPipeline(&stubJobStore{}, datasets, &stubObjects{}, &stubDispatcher{})

	msg := &JobMessage{JobID: uuid.New(), DatasetID: 7, Attempt: 2}
	require.NoError(t, p.updateMetadata(context.Background(), msg))

	require.Len(t, datasets.versions, 1)
	assert.Equal(t, "re-ingested on attempt 2", datasets.versions[0])
}

func TestUpdateMetadata_ComputeFailurePropagates(t *testing.T) {
	datasets := &stubDatasetStore{computeErr: errors.New("relation missing")}
	p := newTestPipeline(&stubJobStore{}, datasets, &stubObjects{}, &stubDispatcher{})

	err := p.updateMetadata(context.Background(), &JobMessage{DatasetID: 7})
	require.Error(t, err)
	assert.False(t, datasets.updated)
}

// buildZip writes a zip archive with the given member names and contents.
func buildZip(t *testing.T, members map[string][]byte) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "upload.zip")
	f, err := os.Create(path)
	require.NoError(t, err)

	w := zip.NewWriter(f)
	for name, data := range members {
		member, err := w.Create(name)
		require.NoError(t, err)
		_, err = member.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())

	return path
}

func TestRunZip_UnreadableArchive(t *testing.T) {
	jobs := &stubJobStore{}
	objects := &stubObjects{downloadPath: writeTempFile(t, "broken.zip", []byte("PK garbage"))}
	p := newTestPipeline(jobs, &stubDatasetStore{}, objects, &stubDispatcher{})

	msg := &JobMessage{JobID: uuid.New(), FilePath: "raw/0/broken.zip", Kind: KindZip}
	err := p.Run(context.Background(), msg)

	require.Error(t, err)
	assert.True(t, IsPermanent(err))
	require.Len(t, jobs.stageErrors, 1)
	assert.Equal(t, StageValidate, jobs.stageErrors[0].Stage)
}

func TestRunZip_NoNetCDFMembers(t *testing.T) {
	jobs := &stubJobStore{}
	archive := buildZip(t, map[string][]byte{
		"readme.txt":          []byte("hello"),
		"data/.hidden.nc":     []byte("skip hidden"),
		"__MACOSX/._index.nc": []byte("resource fork"),
	})
	objects := &stubObjects{downloadPath: archive}
	p := newTestPipeline(jobs, &stubDatasetStore{}, objects, &stubDispatcher{})

	msg := &JobMessage{JobID: uuid.New(), FilePath: "raw/0/upload.zip", Kind: KindZip}
	err := p.Run(context.Background(), msg)

	require.Error(t, err)
	assert.ErrorIs(t, err, argo.ErrMalformedFile)
	assert.Contains(t, jobs.failedLog, "no NetCDF files")
}

func TestRunZip_AllMembersInvalid(t *testing.T) {
	jobs := &stubJobStore{}
	archive := buildZip(t, map[string][]byte{
		"profiles/a.nc": []byte("not netcdf"),
		"profiles/b.nc": []byte("also not netcdf"),
	})
	objects := &stubObjects{downloadPath: archive}
	dispatcher := &stubDispatcher{}
	datasets := &stubDatasetStore{}
	p := newTestPipeline(jobs, datasets, objects, dispatcher)

	msg := &JobMessage{JobID: uuid.New(), FilePath: "raw/0/upload.zip", Kind: KindZip}
	err := p.Run(context.Background(), msg)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPermanent)
	// Invalid members never reach dataset creation or dispatch.
	assert.Empty(t, datasets.created)
	assert.Empty(t, dispatcher.messages)
	assert.Contains(t, jobs.failedLog, "all 2 archive members failed")
}

func TestFail_IgnoresInvalidTransition(t *testing.T) {
	jobs := &stubJobStore{markFailedErr: ErrInvalidTransition}
	p := newTestPipeline(jobs, &stubDatasetStore{}, &stubObjects{}, &stubDispatcher{})

	err := p.fail(context.Background(), uuid.New(), StageParse, errors.New("boom"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse: boom")
}

func TestNetCDFMembers_Filtering(t *testing.T) {
	archive := buildZip(t, map[string][]byte{
		"a.nc":          []byte("x"),
		"nested/b.NC4":  []byte("x"),
		"notes.txt":     []byte("x"),
		".DS_Store":     []byte("x"),
		"__MACOSX/c.nc": []byte("x"),
	})

	reader, err := zip.OpenReader(archive)
	require.NoError(t, err)
	defer reader.Close()

	members := netCDFMembers(&reader.Reader)
	names := make([]string, 0, len(members))
	for _, m := range members {
		names = append(names, m.Name)
	}

	assert.ElementsMatch(t, []string{"a.nc", "nested/b.NC4"}, names)
}
