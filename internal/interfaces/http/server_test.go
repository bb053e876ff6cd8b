package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitolmirror/capitolmirror/internal/domain"
	"github.com/capitolmirror/capitolmirror/internal/store/memory"
)

func seededServer(t *testing.T) (*Server, *memory.Store) {
	t.Helper()
	st := memory.New()
	ctx := context.Background()
	for _, r := range []*domain.Record{
		{ID: "118-hr-1", Type: domain.FamilyBill, Congress: 118, UpdateDate: "2024-01-10", Version: 1,
			Extras: map[string]any{"title": "First"}},
		{ID: "118-hr-2", Type: domain.FamilyBill, Congress: 118, UpdateDate: "2024-03-10", Version: 1,
			Extras: map[string]any{"title": "Second"}},
	} {
		st.PutItem(ctx, r)
	}
	return NewServer(st, prometheus.NewRegistry()), st
}

func get(t *testing.T, srv *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	return body
}

func TestHealthz(t *testing.T) {
	srv, st := seededServer(t)

	rr := get(t, srv, "/healthz")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", decode(t, rr)["status"])

	st.FailDescribe(errors.New("no table"))
	rr = get(t, srv, "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Equal(t, "degraded", decode(t, rr)["status"])
}

func TestGetRecord(t *testing.T) {
	srv, _ := seededServer(t)

	rr := get(t, srv, "/records/118-hr-1")
	require.Equal(t, http.StatusOK, rr.Code)
	body := decode(t, rr)
	assert.Equal(t, "118-hr-1", body["id"])
	assert.Equal(t, "First", body["title"])

	rr = get(t, srv, "/records/118-hr-404")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestListRecords(t *testing.T) {
	srv, _ := seededServer(t)

	rr := get(t, srv, "/records?type=bill")
	require.Equal(t, http.StatusOK, rr.Code)
	body := decode(t, rr)
	assert.Equal(t, float64(2), body["count"])

	rr = get(t, srv, "/records?type=bill&from=2024-02-01")
	require.Equal(t, http.StatusOK, rr.Code)
	body = decode(t, rr)
	assert.Equal(t, float64(1), body["count"])
	records := body["records"].([]any)
	first := records[0].(map[string]any)
	assert.Equal(t, "118-hr-2", first["id"])
}

func TestListRecordsBadRequests(t *testing.T) {
	srv, _ := seededServer(t)

	assert.Equal(t, http.StatusBadRequest, get(t, srv, "/records?type=senator").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, srv, "/records").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, srv, "/records?type=bill&from=notadate").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := seededServer(t)
	assert.Equal(t, http.StatusOK, get(t, srv, "/metrics").Code)
}
