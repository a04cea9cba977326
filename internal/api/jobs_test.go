package api

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/floatchat-io/floatchat/internal/ingest"
)

func TestGetJob(t *testing.T) {
	jobs := newStubJobStore()
	datasetID := int64(7)
	job := &ingest.Job{
		ID:               uuid.New(),
		DatasetID:        &datasetID,
		OriginalFilename: "profiles.nc",
		Status:           ingest.StatusRunning,
		ProgressPct:      ingest.ProgressParsed,
	}
	jobs.jobs[job.ID] = job

	_, handler := newTestServer(Deps{Jobs: jobs})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/datasets/jobs/"+job.ID.String(), nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var resp JobResponse
	require.NoError(t, decodeBody(rec, &resp))
	assert.Equal(t, job.ID, resp.JobID)
	assert.Equal(t, ingest.StatusRunning, resp.Status)
	assert.Equal(t, ingest.ProgressParsed, resp.ProgressPct)
}

func TestGetJob_Unknown(t *testing.T) {
	_, handler := newTestServer(Deps{Jobs: newStubJobStore()})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/datasets/jobs/"+uuid.NewString(), nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetJob_InvalidID(t *testing.T) {
	_, handler := newTestServer(Deps{Jobs: newStubJobStore()})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/datasets/jobs/not-a-uuid", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListJobs_InvalidStatus(t *testing.T) {
	_, handler := newTestServer(Deps{Jobs: newStubJobStore()})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/datasets/jobs?status=exploded", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListJobs_LimitClamping(t *testing.T) {
	tests := []struct {
		name      string
		url       string
		wantLimit int
	}{
		{name: "default", url: "/api/v1/datasets/jobs", wantLimit: 20},
		{name: "clamped high", url: "/api/v1/datasets/jobs?limit=500", wantLimit: 100},
		{name: "clamped low", url: "/api/v1/datasets/jobs?limit=0", wantLimit: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			jobs := newStubJobStore()
			_, handler := newTestServer(Deps{Jobs: jobs})

			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.url, nil))

			require.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, tt.wantLimit, jobs.gotLimit)
		})
	}
}

func TestListJobs_StatusFilterPassedThrough(t *testing.T) {
	jobs := newStubJobStore()
	jobs.listResult = []ingest.Job{{ID: uuid.New(), Status: ingest.StatusFailed}}
	jobs.listTotal = 1

	_, handler := newTestServer(Deps{Jobs: jobs})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/datasets/jobs?status=failed&offset=40", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, ingest.StatusFailed, jobs.gotStatus)
	assert.Equal(t, 40, jobs.gotOffset)

	var resp JobListResponse
	require.NoError(t, decodeBody(rec, &resp))
	assert.Equal(t, 1, resp.Total)
	require.Len(t, resp.Jobs, 1)
	assert.Equal(t, ingest.StatusFailed, resp.Jobs[0].Status)
}

func TestRetryJob(t *testing.T) {
	jobs := newStubJobStore()
	datasetID := int64(3)
	job := &ingest.Job{
		ID:               uuid.New(),
		DatasetID:        &datasetID,
		OriginalFilename: "floats_2023.zip",
		RawFilePath:      "raw/3/floats_2023.zip",
		Status:           ingest.StatusFailed,
		RetryCount:       1,
	}
	jobs.jobs[job.ID] = job

	dispatcher := &stubDispatcher{}
	_, handler := newTestServer(Deps{Jobs: jobs, Dispatcher: dispatcher})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/datasets/jobs/"+job.ID.String()+"/retry", nil))

	require.Equal(t, http.StatusAccepted, rec.Code)

	require.Len(t, dispatcher.messages, 1)
	msg := dispatcher.messages[0]
	assert.Equal(t, job.ID, msg.JobID)
	assert.Equal(t, int64(3), msg.DatasetID)
	assert.Equal(t, "raw/3/floats_2023.zip", msg.FilePath)
	assert.Equal(t, ingest.KindZip, msg.Kind)
	assert.Equal(t, 2, msg.Attempt)
}

func TestRetryJob_NotRetryable(t *testing.T) {
	jobs := newStubJobStore()
	jobs.resetErr = ingest.ErrJobNotRetryable

	_, handler := newTestServer(Deps{Jobs: jobs, Dispatcher: &stubDispatcher{}})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/datasets/jobs/"+uuid.NewString()+"/retry", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRetryJob_Unknown(t *testing.T) {
	_, handler := newTestServer(Deps{Jobs: newStubJobStore(), Dispatcher: &stubDispatcher{}})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/datasets/jobs/"+uuid.NewString()+"/retry", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRetryJob_DispatchFailure(t *testing.T) {
	jobs := newStubJobStore()
	job := &ingest.Job{
		ID:               uuid.New(),
		OriginalFilename: "profiles.nc",
		Status:           ingest.StatusFailed,
	}
	jobs.jobs[job.ID] = job

	dispatcher := &stubDispatcher{err: errors.New("kafka: broker unreachable")}
	_, handler := newTestServer(Deps{Jobs: jobs, Dispatcher: dispatcher})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/datasets/jobs/"+job.ID.String()+"/retry", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Len(t, jobs.failed, 1)
	assert.Equal(t, job.ID, jobs.failed[0])
}
