// Package upstream implements the typed wrapper around the upstream
// execution engine's WES-shaped HTTP API: forward run, fetch status, fetch
// log, cancel, service info.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"wesgateway/internal/apierr"
	"wesgateway/internal/runstate"
	"wesgateway/pkg/models"
)

// Client is a stateful HTTP client bound to one upstream endpoint and
// bearer token, mirroring the short-lived per-request/per-tracker-run
// client the source constructs on every call.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	tracer     trace.Tracer
}

// New builds a Client against host+basePath (each trimmed of surrounding
// slashes before joining), authenticating with token when non-empty.
func New(host, basePath, token string) *Client {
	url := strings.TrimRight(host, "/") + "/" + strings.Trim(basePath, "/")
	return &Client{
		baseURL:    url,
		token:      token,
		httpClient: &http.Client{Timeout: 120 * time.Second},
		tracer:     otel.Tracer("wesgateway-upstream"),
	}
}

// RunID is the upstream's success response to post_run / cancel_run.
type RunID struct {
	RunID string `json:"run_id"`
}

// UpstreamError is the upstream's shared error response shape.
type UpstreamError struct {
	Msg        string `json:"msg"`
	StatusCode int    `json:"status_code"`
}

func (e *UpstreamError) UnmarshalJSON(data []byte) error {
	var raw struct {
		Msg        string          `json:"msg"`
		StatusCode json.RawMessage `json:"status_code"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	e.Msg = raw.Msg
	if len(raw.StatusCode) == 0 {
		return nil
	}
	var asInt int
	if err := json.Unmarshal(raw.StatusCode, &asInt); err == nil {
		e.StatusCode = asInt
		return nil
	}
	var asString string
	if err := json.Unmarshal(raw.StatusCode, &asString); err == nil {
		if n, err := strconv.Atoi(asString); err == nil {
			e.StatusCode = n
		}
	}
	return nil
}

// RunStatus is the upstream's /runs/{id}/status response.
type RunStatus struct {
	RunID string         `json:"run_id"`
	State runstate.State `json:"state"`
}

func (c *Client) setHeaders(req *http.Request, contentType string) {
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

// ForwardRun posts a multipart run request. Each attachment is read from
// its path on disk into an in-memory multipart body, so the whole request,
// attachments included, is buffered before it is sent. It validates the
// decoded response against RunID, falling back to UpstreamError, per §4.2.
func (c *Client) ForwardRun(ctx context.Context, form models.RunRequest, attachments []models.Attachment, timeout time.Duration) (*RunID, *UpstreamError, error) {
	body, contentType, err := encodeRunRequestMultipart(form, attachments)
	if err != nil {
		return nil, nil, apierr.Wrap("forward_run", fmt.Errorf("encode multipart body: %w", err))
	}

	reqCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		reqCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.baseURL+"/runs", body)
	if err != nil {
		return nil, nil, apierr.Wrap("forward_run", err)
	}
	c.setHeaders(req, contentType)

	data, err := c.do(req)
	if err != nil {
		return nil, nil, apierr.Wrapf("forward_run", apierr.ErrEngineUnavailable, "%v", err)
	}

	var runID RunID
	if err := json.Unmarshal(data, &runID); err == nil && runID.RunID != "" {
		return &runID, nil, nil
	}
	var upErr UpstreamError
	if err := json.Unmarshal(data, &upErr); err == nil && upErr.StatusCode != 0 {
		return nil, &upErr, nil
	}
	return nil, nil, apierr.Wrapf("forward_run", apierr.ErrEngineProblem, "response matches neither RunId nor ErrorResponse")
}

// GetRun fetches the full run log. The response is passed through without
// strict schema validation — upstream implementations diverge — except
// that the "request" field is always dropped before the caller mirrors the
// result into run_log (§4.2, §9 "upstream log schema tolerance").
func (c *Client) GetRun(ctx context.Context, remoteRunID string) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/runs/"+remoteRunID, nil)
	if err != nil {
		return nil, apierr.Wrap("get_run", err)
	}
	c.setHeaders(req, "")

	data, err := c.do(req)
	if err != nil {
		return nil, apierr.Wrapf("get_run", apierr.ErrEngineUnavailable, "%v", err)
	}

	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, apierr.Wrapf("get_run", apierr.ErrEngineUnavailable, "decode response: %v", err)
	}
	delete(fields, "request")
	return fields, nil
}

// GetRunStatus fetches status information. On a request error or malformed
// response it returns an error wrapping ErrEngineUnavailable so the caller
// can apply its own bounded-retry policy (§4.4 step 4).
func (c *Client) GetRunStatus(ctx context.Context, remoteRunID string, timeout time.Duration) (*RunStatus, error) {
	reqCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		reqCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.baseURL+"/runs/"+remoteRunID+"/status", nil)
	if err != nil {
		return nil, apierr.Wrap("get_run_status", err)
	}
	c.setHeaders(req, "")

	data, err := c.do(req)
	if err != nil {
		return nil, apierr.Wrapf("get_run_status", apierr.ErrEngineUnavailable, "%v", err)
	}

	var status RunStatus
	if err := json.Unmarshal(data, &status); err != nil || status.State == "" {
		return nil, apierr.Wrapf("get_run_status", apierr.ErrEngineUnavailable, "malformed status response")
	}
	return &status, nil
}

// CancelRun requests cancellation of the run at remoteRunID.
func (c *Client) CancelRun(ctx context.Context, remoteRunID string) (*RunID, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/runs/"+remoteRunID+"/cancel", nil)
	if err != nil {
		return nil, apierr.Wrap("cancel_run", err)
	}
	c.setHeaders(req, "")

	data, err := c.do(req)
	if err != nil {
		return nil, apierr.Wrapf("cancel_run", apierr.ErrEngineUnavailable, "%v", err)
	}

	var runID RunID
	if err := json.Unmarshal(data, &runID); err != nil {
		return nil, apierr.Wrapf("cancel_run", apierr.ErrEngineUnavailable, "malformed cancel response")
	}
	return &runID, nil
}

// GetServiceInfo fetches the upstream's service descriptor.
func (c *Client) GetServiceInfo(ctx context.Context) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/service-info", nil)
	if err != nil {
		return nil, apierr.Wrap("get_service_info", err)
	}
	c.setHeaders(req, "")

	data, err := c.do(req)
	if err != nil {
		return nil, apierr.Wrapf("get_service_info", apierr.ErrEngineUnavailable, "%v", err)
	}

	var info map[string]any
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, apierr.Wrapf("get_service_info", apierr.ErrEngineUnavailable, "decode response: %v", err)
	}
	return info, nil
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

func encodeRunRequestMultipart(form models.RunRequest, attachments []models.Attachment) (io.Reader, string, error) {
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)

	fields := map[string]string{
		"workflow_type":         form.WorkflowType,
		"workflow_type_version": form.WorkflowTypeVersion,
		"workflow_url":          form.WorkflowURL,
	}
	for key, value := range fields {
		if err := w.WriteField(key, value); err != nil {
			return nil, "", err
		}
	}
	if err := w.WriteField("workflow_params", normalizedJSON(form.WorkflowParams)); err != nil {
		return nil, "", err
	}
	if err := w.WriteField("tags", normalizedJSON(form.Tags)); err != nil {
		return nil, "", err
	}
	if err := w.WriteField("workflow_engine_parameters", normalizedJSON(form.WorkflowEngineParameters)); err != nil {
		return nil, "", err
	}

	for _, att := range attachments {
		part, err := w.CreateFormFile("workflow_attachment", att.Filename)
		if err != nil {
			return nil, "", err
		}
		f, err := os.Open(att.Path)
		if err != nil {
			return nil, "", err
		}
		_, err = io.Copy(part, f)
		f.Close()
		if err != nil {
			return nil, "", err
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf, w.FormDataContentType(), nil
}

func normalizedJSON(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "{}"
	}
	return string(raw)
}
