package api

import (
	"bytes"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/floatchat-io/floatchat/internal/ingest"
	"github.com/floatchat-io/floatchat/internal/objectstore"
)

func multipartUpload(t *testing.T, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()

	return multipartUploadNamed(t, filename, "", content)
}

func multipartUploadNamed(t *testing.T, filename, datasetName string, content []byte) (*bytes.Buffer, string) {
	t.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	if datasetName != "" {
		require.NoError(t, writer.WriteField("dataset_name", datasetName))
	}

	part, err := writer.CreateFormFile("file", filename)
	require.NoError(t, err)

	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	return body, writer.FormDataContentType()
}

func TestDatasetUpload_Accepted(t *testing.T) {
	jobs := newStubJobStore()
	datasets := newStubDatasetStore()
	uploader := &stubUploader{}
	dispatcher := &stubDispatcher{}

	_, handler := newTestServer(Deps{
		Jobs:       jobs,
		Datasets:   datasets,
		Objects:    uploader,
		Dispatcher: dispatcher,
	})

	body, contentType := multipartUpload(t, "argo_profiles.nc", []byte("netcdf bytes"))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/datasets/upload", body)
	req.Header.Set("Content-Type", contentType)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp UploadResponse
	require.NoError(t, decodeBody(rec, &resp))
	assert.Equal(t, ingest.StatusPending, resp.Status)
	assert.Equal(t, int64(1), resp.DatasetID)

	assert.Equal(t, []string{"argo_profiles"}, datasets.created)
	assert.Equal(t, []string{objectstore.RawKey(1, "argo_profiles.nc")}, uploader.keys)

	require.Len(t, jobs.created, 1)
	assert.Equal(t, "argo_profiles.nc", jobs.created[0].OriginalFilename)

	require.Len(t, dispatcher.messages, 1)
	msg := dispatcher.messages[0]
	assert.Equal(t, jobs.created[0].ID, msg.JobID)
	assert.Equal(t, ingest.KindFile, msg.Kind)
	assert.Equal(t, 1, msg.Attempt)
}

func TestDatasetUpload_ZipDispatchesZipKind(t *testing.T) {
	dispatcher := &stubDispatcher{}

	_, handler := newTestServer(Deps{
		Jobs:       newStubJobStore(),
		Datasets:   newStubDatasetStore(),
		Objects:    &stubUploader{},
		Dispatcher: dispatcher,
	})

	body, contentType := multipartUpload(t, "floats_2023.zip", []byte("zip bytes"))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/datasets/upload", body)
	req.Header.Set("Content-Type", contentType)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, dispatcher.messages, 1)
	assert.Equal(t, ingest.KindZip, dispatcher.messages[0].Kind)
}

func TestDatasetUpload_DatasetNameField(t *testing.T) {
	datasets := newStubDatasetStore()

	_, handler := newTestServer(Deps{
		Jobs:       newStubJobStore(),
		Datasets:   datasets,
		Objects:    &stubUploader{},
		Dispatcher: &stubDispatcher{},
	})

	body, contentType := multipartUploadNamed(t, "argo_profiles.nc", "Indian Ocean 2023", []byte("netcdf bytes"))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/datasets/upload", body)
	req.Header.Set("Content-Type", contentType)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []string{"Indian Ocean 2023"}, datasets.created,
		"caller-supplied dataset_name overrides the filename-derived name")
}

func TestDatasetUpload_UnsupportedExtension(t *testing.T) {
	_, handler := newTestServer(Deps{
		Jobs:       newStubJobStore(),
		Datasets:   newStubDatasetStore(),
		Objects:    &stubUploader{},
		Dispatcher: &stubDispatcher{},
	})

	body, contentType := multipartUpload(t, "notes.csv", []byte("a,b,c"))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/datasets/upload", body)
	req.Header.Set("Content-Type", contentType)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
}

func TestDatasetUpload_TooLarge(t *testing.T) {
	datasets := newStubDatasetStore()

	_, handler := newTestServer(Deps{
		Jobs:       newStubJobStore(),
		Datasets:   datasets,
		Objects:    &stubUploader{},
		Dispatcher: &stubDispatcher{},
	})

	// newTestServer caps uploads at 1 MiB.
	oversized := bytes.Repeat([]byte{0x1f}, (1<<20)+1)
	body, contentType := multipartUpload(t, "huge.nc", oversized)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/datasets/upload", body)
	req.Header.Set("Content-Type", contentType)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Empty(t, datasets.created, "oversized upload must not create a dataset")
}

func TestDatasetUpload_NotMultipart(t *testing.T) {
	_, handler := newTestServer(Deps{
		Jobs:       newStubJobStore(),
		Datasets:   newStubDatasetStore(),
		Objects:    &stubUploader{},
		Dispatcher: &stubDispatcher{},
	})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/datasets/upload",
		bytes.NewBufferString(`{"file": "nope"}`))
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDatasetUpload_DispatchFailureMarksJobFailed(t *testing.T) {
	jobs := newStubJobStore()
	dispatcher := &stubDispatcher{err: errors.New("kafka: dial tcp: connection refused")}

	_, handler := newTestServer(Deps{
		Jobs:       jobs,
		Datasets:   newStubDatasetStore(),
		Objects:    &stubUploader{},
		Dispatcher: dispatcher,
	})

	body, contentType := multipartUpload(t, "profiles.nc", []byte("netcdf bytes"))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/datasets/upload", body)
	req.Header.Set("Content-Type", contentType)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	require.Len(t, jobs.created, 1)
	require.Len(t, jobs.failed, 1)
	assert.Equal(t, jobs.created[0].ID, jobs.failed[0])
}
