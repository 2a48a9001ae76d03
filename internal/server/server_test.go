package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askdb-ai/askdb/internal/database"
	"github.com/askdb-ai/askdb/internal/testutil"
)

func newTestServer(t *testing.T, db database.Querier) *Server {
	t.Helper()
	return New(ServerConfig{
		DB:      db,
		Logger:  testutil.TestLogger(),
		Port:    0,
		Version: "test",
	})
}

func newTestDB(t *testing.T) *database.SQLite {
	t.Helper()
	db, err := database.NewSQLite(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(db.Close)
	return db
}

func TestHealthHealthy(t *testing.T) {
	srv := newTestServer(t, newTestDB(t))

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "connected", body["database"])
	assert.Equal(t, "test", body["version"])
}

func TestHealthUnhealthyWhenDatabaseDown(t *testing.T) {
	db, err := database.NewSQLite(context.Background(), ":memory:")
	require.NoError(t, err)
	srv := newTestServer(t, db)
	db.Close()

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "unhealthy", body["status"])
	assert.Equal(t, "disconnected", body["database"])
}

func TestRequestIDAssignedAndEchoed(t *testing.T) {
	srv := newTestServer(t, newTestDB(t))

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "caller-supplied")
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "caller-supplied", rec.Header().Get("X-Request-ID"))
}

func TestRecoveryMiddlewareReturns500(t *testing.T) {
	panicky := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})
	handler := recoveryMiddleware(testutil.TestLogger(), panicky)

	rec := httptest.NewRecorder()
	assert.NotPanics(t, func() {
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestUnknownRouteIs404(t *testing.T) {
	srv := newTestServer(t, newTestDB(t))

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
