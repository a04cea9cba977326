package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPing(t *testing.T) {
	_, handler := newTestServer(Deps{})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pong", rec.Body.String())
}

func TestReady(t *testing.T) {
	healthy := func(context.Context) error { return nil }
	failing := func(context.Context) error { return errors.New("pq: connection refused") }

	t.Run("database reachable", func(t *testing.T) {
		_, handler := newTestServer(Deps{HealthChecks: map[string]HealthCheck{
			"database": healthy,
		}})

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("database unreachable", func(t *testing.T) {
		_, handler := newTestServer(Deps{HealthChecks: map[string]HealthCheck{
			"database": failing,
		}})

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("redis does not gate readiness", func(t *testing.T) {
		_, handler := newTestServer(Deps{HealthChecks: map[string]HealthCheck{
			"database": healthy,
			"redis":    failing,
		}})

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestHealth_Degraded(t *testing.T) {
	_, handler := newTestServer(Deps{HealthChecks: map[string]HealthCheck{
		"database":     func(context.Context) error { return nil },
		"object_store": func(context.Context) error { return errors.New("connection timed out") },
	}})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthStatus
	require.NoError(t, decodeBody(rec, &resp))
	assert.Equal(t, "degraded", resp.Status)
	assert.Equal(t, "floatchat", resp.ServiceName)
	assert.Equal(t, "ok", resp.Dependencies["database"])
	assert.Equal(t, "unreachable", resp.Dependencies["object_store"])
}

func TestNotFound_ProblemJSON(t *testing.T) {
	_, handler := newTestServer(Deps{})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/unknown", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
}

func TestBenchmark_NoProviders(t *testing.T) {
	_, handler := newTestServer(Deps{})

	rec := postJSON(handler, "/api/v1/query/benchmark", `{"query": "show floats"}`)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestBenchmark_EmptyQuery(t *testing.T) {
	_, handler := newTestServer(Deps{})

	rec := postJSON(handler, "/api/v1/query/benchmark", `{"query": ""}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
