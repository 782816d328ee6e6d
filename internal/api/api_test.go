package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saelay/trdpstack/internal/api/models"
	"github.com/saelay/trdpstack/internal/config"
	"github.com/saelay/trdpstack/internal/store"
)

func newTestServer(t *testing.T, apiKey string) *Server {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.API.APIKey = apiKey

	db, err := store.Open(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return New(cfg, nil, nil, db)
}

func doJSON(t *testing.T, srv *Server, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	srv.Engine().ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t, "")

	w := doJSON(t, srv, http.MethodGet, "/api/v1/health", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body models.StatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.NotEmpty(t, body.Version)
}

func TestAPIKeyEnforced(t *testing.T) {
	srv := newTestServer(t, "sekrit")

	w := doJSON(t, srv, http.MethodGet, "/api/v1/datasets", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doJSON(t, srv, http.MethodGet, "/api/v1/datasets", nil, map[string]string{"X-API-Key": "sekrit"})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestDatasetCRUD(t *testing.T) {
	srv := newTestServer(t, "")

	ds := models.Dataset{Elements: []models.DatasetElement{
		{Type: 8, Count: 1},
		{Type: 10, Count: 4},
	}}
	w := doJSON(t, srv, http.MethodPut, "/api/v1/datasets/1000", ds, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, srv, http.MethodGet, "/api/v1/datasets/1000", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got models.Dataset
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, uint32(1000), got.ID)
	assert.Len(t, got.Elements, 2)

	w = doJSON(t, srv, http.MethodGet, "/api/v1/datasets", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list []models.Dataset
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Len(t, list, 1)

	w = doJSON(t, srv, http.MethodDelete, "/api/v1/datasets/1000", nil, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = doJSON(t, srv, http.MethodGet, "/api/v1/datasets/1000", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestBindingEndpoints(t *testing.T) {
	srv := newTestServer(t, "")

	// Binding a missing dataset fails.
	w := doJSON(t, srv, http.MethodPost, "/api/v1/comids",
		models.ComIDBinding{ComID: 7, DatasetID: 99}, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	doJSON(t, srv, http.MethodPut, "/api/v1/datasets/99",
		models.Dataset{Elements: []models.DatasetElement{{Type: 10, Count: 1}}}, nil)

	w = doJSON(t, srv, http.MethodPost, "/api/v1/comids",
		models.ComIDBinding{ComID: 7, DatasetID: 99}, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, srv, http.MethodGet, "/api/v1/comids", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list []models.ComIDBinding
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, uint32(7), list[0].ComID)
}

func TestBadDatasetID(t *testing.T) {
	srv := newTestServer(t, "")

	w := doJSON(t, srv, http.MethodGet, "/api/v1/datasets/banana", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, srv, http.MethodPut, "/api/v1/datasets/0", models.Dataset{}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
