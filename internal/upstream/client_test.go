package upstream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wesgateway/internal/apierr"
	"wesgateway/internal/runstate"
	"wesgateway/pkg/models"
)

func TestClient_ForwardRun_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/ga4gh/wes/v1/runs", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "CWL", r.FormValue("workflow_type"))
		file, header, err := r.FormFile("workflow_attachment")
		require.NoError(t, err)
		defer file.Close()
		assert.Equal(t, "main.cwl", header.Filename)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(RunID{RunID: "engine-run-1"})
	}))
	defer srv.Close()

	dir := t.TempDir()
	attachmentPath := filepath.Join(dir, "main.cwl")
	require.NoError(t, os.WriteFile(attachmentPath, []byte("cwlVersion: v1.0"), 0o644))

	c := New(srv.URL, "/ga4gh/wes/v1", "tok")
	runID, upErr, err := c.ForwardRun(
		context.Background(),
		models.RunRequest{WorkflowType: "CWL", WorkflowTypeVersion: "v1.0", WorkflowURL: "main.cwl"},
		[]models.Attachment{{Filename: "main.cwl", Path: attachmentPath}},
		0,
	)
	require.NoError(t, err)
	require.Nil(t, upErr)
	assert.Equal(t, "engine-run-1", runID.RunID)
}

func TestClient_ForwardRun_UpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(UpstreamError{Msg: "bad workflow_url", StatusCode: 400})
	}))
	defer srv.Close()

	c := New(srv.URL, "/ga4gh/wes/v1", "tok")
	runID, upErr, err := c.ForwardRun(context.Background(), models.RunRequest{}, nil, 0)
	require.NoError(t, err)
	require.Nil(t, runID)
	require.NotNil(t, upErr)
	assert.Equal(t, 400, upErr.StatusCode)
	assert.Equal(t, "bad workflow_url", upErr.Msg)
}

func TestClient_ForwardRun_TransportFailure(t *testing.T) {
	c := New("http://127.0.0.1:1", "/ga4gh/wes/v1", "tok")
	_, _, err := c.ForwardRun(context.Background(), models.RunRequest{}, nil, 0)
	require.Error(t, err)
	assert.True(t, apierr.IsEngineUnavailable(err))
}

func TestClient_GetRun_DropsRequestField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/ga4gh/wes/v1/runs/engine-run-1", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"run_id":  "engine-run-1",
			"request": map[string]any{"workflow_url": "main.cwl"},
			"state":   "RUNNING",
		})
	}))
	defer srv.Close()

	c := New(srv.URL, "/ga4gh/wes/v1", "tok")
	fields, err := c.GetRun(context.Background(), "engine-run-1")
	require.NoError(t, err)
	assert.Equal(t, "engine-run-1", fields["run_id"])
	assert.Equal(t, "RUNNING", fields["state"])
	_, hasRequest := fields["request"]
	assert.False(t, hasRequest)
}

func TestClient_GetRunStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(RunStatus{RunID: "engine-run-1", State: runstate.Running})
	}))
	defer srv.Close()

	c := New(srv.URL, "/ga4gh/wes/v1", "tok")
	status, err := c.GetRunStatus(context.Background(), "engine-run-1", 0)
	require.NoError(t, err)
	assert.Equal(t, runstate.Running, status.State)
}

func TestClient_GetRunStatus_MalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"run_id": "x"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "/ga4gh/wes/v1", "tok")
	_, err := c.GetRunStatus(context.Background(), "x", 0)
	require.Error(t, err)
	assert.True(t, apierr.IsEngineUnavailable(err))
}

func TestClient_CancelRun(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		_ = json.NewEncoder(w).Encode(RunID{RunID: "engine-run-1"})
	}))
	defer srv.Close()

	c := New(srv.URL, "/ga4gh/wes/v1", "tok")
	runID, err := c.CancelRun(context.Background(), "engine-run-1")
	require.NoError(t, err)
	assert.Equal(t, "engine-run-1", runID.RunID)
}

func TestClient_GetServiceInfo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"workflow_type_versions": map[string]any{"CWL": []string{"v1.0"}}})
	}))
	defer srv.Close()

	c := New(srv.URL, "/ga4gh/wes/v1", "tok")
	info, err := c.GetServiceInfo(context.Background())
	require.NoError(t, err)
	assert.Contains(t, info, "workflow_type_versions")
}
