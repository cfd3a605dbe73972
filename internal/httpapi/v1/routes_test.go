package v1

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wesgateway/internal/admission"
	"wesgateway/internal/config"
	"wesgateway/internal/db"
	"wesgateway/internal/db/repositories"
	"wesgateway/internal/storage"
	"wesgateway/pkg/models"

	"github.com/spf13/afero"
)

func newTestRouter(t *testing.T, upstreamURL string) (*gin.Engine, *repositories.RunRepo, *repositories.ServiceInfoRepo) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	tdb, err := db.NewTest(t)
	require.NoError(t, err)
	t.Cleanup(func() { tdb.Close() })

	runs := repositories.NewRunRepo(tdb.Conn())
	serviceInfo := repositories.NewServiceInfoRepo(tdb.Conn())
	require.NoError(t, serviceInfo.Set(&models.ServiceInfo{
		Name:                 "wesgateway",
		WorkflowTypeVersions: json.RawMessage(`{"CWL":["v1.0"]}`),
	}))

	memFs := afero.NewMemMapFs()
	require.NoError(t, memFs.MkdirAll("/runs", 0o755))
	ws := storage.NewWorkspace(memFs, "/runs")

	ctrl := admission.New(runs, serviceInfo, ws, nil, nil, admission.Options{
		DBInsertAttempts: 5,
		IDCharset:        "abcdefgh",
		IDLength:         6,
		TimeoutPost:      5 * time.Second,
		TimeoutJob:       time.Hour,
		UpstreamHost:     upstreamURL,
		UpstreamBasePath: "/ga4gh/wes/v1",
	})

	cfg := &config.Config{DefaultPageSize: 20}
	handlers := NewAPIHandlers(runs, serviceInfo, ctrl, cfg)

	router := gin.New()
	group := router.Group("/ga4gh/wes/v1")
	handlers.RegisterRoutes(group)
	return router, runs, serviceInfo
}

func multipartRunRequest(t *testing.T, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	require.NoError(t, w.Close())
	return body, w.FormDataContentType()
}

func TestRoutes_RunWorkflow_RequiresBearerToken(t *testing.T) {
	router, _, _ := newTestRouter(t, "http://unused")

	body, contentType := multipartRunRequest(t, map[string]string{
		"workflow_type":         "CWL",
		"workflow_type_version": "v1.0",
		"workflow_url":          "main.cwl",
		"workflow_params":       `{"a":1}`,
	})
	req := httptest.NewRequest(http.MethodPost, "/ga4gh/wes/v1/runs", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRoutes_RunWorkflow_AndQueryLifecycle(t *testing.T) {
	upstreamSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(struct {
			RunID string `json:"run_id"`
		}{RunID: "engine-run-1"})
	}))
	defer upstreamSrv.Close()

	router, runs, _ := newTestRouter(t, upstreamSrv.URL)

	body, contentType := multipartRunRequest(t, map[string]string{
		"workflow_type":         "CWL",
		"workflow_type_version": "v1.0",
		"workflow_url":          "main.cwl",
		"workflow_params":       `{"a":1}`,
	})
	req := httptest.NewRequest(http.MethodPost, "/ga4gh/wes/v1/runs", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer tok")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var created struct {
		RunID string `json:"run_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotEmpty(t, created.RunID)

	doc, err := runs.GetByRunID(created.RunID)
	require.NoError(t, err)
	require.NotNil(t, doc.WesEndpoint.RunID)
	assert.Equal(t, "engine-run-1", *doc.WesEndpoint.RunID)

	statusReq := httptest.NewRequest(http.MethodGet, "/ga4gh/wes/v1/runs/"+created.RunID+"/status", nil)
	statusReq.Header.Set("Authorization", "Bearer tok")
	statusRec := httptest.NewRecorder()
	router.ServeHTTP(statusRec, statusReq)
	assert.Equal(t, http.StatusOK, statusRec.Code)

	listReq := httptest.NewRequest(http.MethodGet, "/ga4gh/wes/v1/runs", nil)
	listReq.Header.Set("Authorization", "Bearer tok")
	listRec := httptest.NewRecorder()
	router.ServeHTTP(listRec, listReq)
	assert.Equal(t, http.StatusOK, listRec.Code)

	var listed struct {
		Runs []map[string]any `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(listRec.Body.Bytes(), &listed))
	assert.Len(t, listed.Runs, 1)
}

func TestRoutes_GetRunLog_NotFound(t *testing.T) {
	router, _, _ := newTestRouter(t, "http://unused")

	req := httptest.NewRequest(http.MethodGet, "/ga4gh/wes/v1/runs/does-not-exist", nil)
	req.Header.Set("Authorization", "Bearer tok")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRoutes_PostServiceInfo(t *testing.T) {
	router, _, serviceInfo := newTestRouter(t, "http://unused")

	payload := []byte(`{"name":"updated-gateway","description":"d","workflow_type_versions":{"CWL":["v1.0","v1.1"]}}`)
	req := httptest.NewRequest(http.MethodPost, "/ga4gh/wes/v1/service-info", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer tok")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Empty(t, rec.Body.Bytes())

	info, err := serviceInfo.Get()
	require.NoError(t, err)
	assert.Equal(t, "updated-gateway", info.Name)
}

func TestRoutes_GetServiceInfo(t *testing.T) {
	router, _, _ := newTestRouter(t, "http://unused")

	req := httptest.NewRequest(http.MethodGet, "/ga4gh/wes/v1/service-info", nil)
	req.Header.Set("Authorization", "Bearer tok")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var info models.ServiceInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, "wesgateway", info.Name)
	assert.NotNil(t, info.SystemStateCounts)
}
