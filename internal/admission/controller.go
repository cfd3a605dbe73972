// Package admission implements the POST /runs controller: validate the
// incoming form, mint a run identity, persist its workspace and document,
// forward the run to the selected upstream engine, and hand it off to the
// background tracker. Grounded on run_workflow and its helpers in
// workflow_runs.py.
package admission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"wesgateway/internal/apierr"
	"wesgateway/internal/db/repositories"
	"wesgateway/internal/logging"
	"wesgateway/internal/queue"
	"wesgateway/internal/runstate"
	"wesgateway/internal/storage"
	"wesgateway/internal/tracking"
	"wesgateway/internal/upstream"
	"wesgateway/pkg/models"
)

// AttachmentInput is one multipart file the caller submitted alongside the
// run request; Reader is consumed exactly once.
type AttachmentInput struct {
	Filename string
	Reader   io.Reader
}

// Options mirrors the controller_config block (foca_config.custom.post_runs)
// the source reads its tunables from.
type Options struct {
	DBInsertAttempts int
	IDCharset        string
	IDLength         int
	TimeoutPost      time.Duration
	TimeoutJob       time.Duration
	UpstreamHost     string
	UpstreamBasePath string
}

// Controller implements run admission.
type Controller struct {
	runs        *repositories.RunRepo
	serviceInfo *repositories.ServiceInfoRepo
	workspace   *storage.Workspace
	queueEngine queue.Engine
	tracker     *tracking.Tracker
	opts        Options

	newClient func(host, basePath, token string) *upstream.Client
}

func New(
	runs *repositories.RunRepo,
	serviceInfo *repositories.ServiceInfoRepo,
	workspace *storage.Workspace,
	queueEngine queue.Engine,
	tracker *tracking.Tracker,
	opts Options,
) *Controller {
	return &Controller{
		runs:        runs,
		serviceInfo: serviceInfo,
		workspace:   workspace,
		queueEngine: queueEngine,
		tracker:     tracker,
		opts:        opts,
		newClient:   upstream.New,
	}
}

// Admit validates and admits a new run, mirroring run_workflow end to end.
// Returns the gateway's local run_id on success.
func (c *Controller) Admit(ctx context.Context, form models.RunRequest, attachments []AttachmentInput, ownerID *string, bearerToken string) (string, error) {
	if err := validateRunRequest(form); err != nil {
		return "", err
	}

	supported, err := c.serviceInfo.SupportsWorkflowType(form.WorkflowType, form.WorkflowTypeVersion)
	if err != nil && !apierr.IsNotFound(err) {
		return "", fmt.Errorf("check workflow type support: %w", err)
	}
	if !supported {
		return "", apierr.Wrapf("admit", apierr.ErrNoSuitableEngine, "no configured engine supports %s %s", form.WorkflowType, form.WorkflowTypeVersion)
	}

	doc, storedFiles, err := c.createRunEnvironment(form, attachments, ownerID)
	if err != nil {
		return "", err
	}

	if err := c.saveAttachments(doc.WorkDir, doc.Attachments, storedFiles); err != nil {
		_ = c.runs.UpdateRunState(doc.TaskID, runstate.SystemError)
		return "", fmt.Errorf("save attachments: %w", err)
	}

	client := c.newClient(c.opts.UpstreamHost, c.opts.UpstreamBasePath, bearerToken)
	runID, upErr, err := client.ForwardRun(ctx, form, doc.Attachments, c.opts.TimeoutPost)
	if err != nil {
		_ = c.runs.UpdateRunState(doc.TaskID, runstate.SystemError)
		return "", err
	}
	if upErr != nil {
		_ = c.runs.UpdateRunState(doc.TaskID, runstate.SystemError)
		return "", classifyUpstreamError(upErr)
	}

	if _, err := c.runs.UpsertFieldsInRootObject(doc.TaskID, "wes_endpoint", map[string]any{"run_id": runID.RunID}); err != nil {
		return "", fmt.Errorf("record upstream run id: %w", err)
	}

	c.dispatchTracker(doc.TaskID, bearerToken)

	return doc.RunLog.RunID, nil
}

// createRunEnvironment mints a run id and task id, creates the workspace
// directory, resolves attachment destination paths, and persists the
// document — retrying up to DBInsertAttempts times on an id collision
// (§4.3 step 4, mirrors _create_run_environment).
func (c *Controller) createRunEnvironment(form models.RunRequest, attachments []AttachmentInput, ownerID *string) (*models.RunDocument, []AttachmentInput, error) {
	for attempt := 1; attempt <= c.opts.DBInsertAttempts; attempt++ {
		runID, err := storage.GenerateRunID(c.opts.IDCharset, c.opts.IDLength)
		if err != nil {
			return nil, nil, fmt.Errorf("generate run id: %w", err)
		}

		workDir, err := c.workspace.CreateRunDir(runID)
		if err != nil {
			if errors.Is(err, os.ErrExist) {
				continue
			}
			if errors.Is(err, storage.ErrStoreNotInitialized) {
				return nil, nil, apierr.Wrap("create_run_environment", apierr.ErrStorageUnavailable)
			}
			return nil, nil, fmt.Errorf("create run directory: %w", err)
		}

		taskID := storage.GenerateTaskID()
		modelAttachments := make([]models.Attachment, len(attachments))
		for i, a := range attachments {
			modelAttachments[i] = models.Attachment{
				Filename: a.Filename,
				Path:     filepath.Join(workDir, storage.SecureFilename(a.Filename, taskID)),
			}
		}

		doc := &models.RunDocument{
			TaskID:      taskID,
			UserID:      ownerID,
			WorkDir:     workDir,
			Attachments: modelAttachments,
			WesEndpoint: models.WesEndpoint{
				Host:     c.opts.UpstreamHost,
				BasePath: c.opts.UpstreamBasePath,
			},
		}
		doc.RunLog.RunID = runID

		if err := c.runs.Insert(doc); err != nil {
			if apierr.IsIdsUnavailable(err) {
				_ = c.workspace.RemoveRunDir(workDir)
				continue
			}
			return nil, nil, err
		}

		return doc, attachments, nil
	}
	return nil, nil, apierr.Wrap("create_run_environment", apierr.ErrIdsUnavailable)
}

// saveAttachments streams each uploaded attachment to the destination path
// createRunEnvironment already resolved for it, matched by index — the two
// must agree exactly, since the forwarded RunRequest's attachment list
// refers to these same paths.
func (c *Controller) saveAttachments(workDir string, resolved []models.Attachment, attachments []AttachmentInput) error {
	for i, a := range attachments {
		filename := filepath.Base(resolved[i].Path)
		if _, _, err := c.workspace.SaveAttachment(workDir, filename, a.Reader); err != nil {
			return err
		}
	}
	return nil
}

// dispatchTracker hands the run off to the background tracker, either via
// the durable queue (production) or inline in a goroutine when no queue is
// configured (single-process/dev deployments).
func (c *Controller) dispatchTracker(taskID, bearerToken string) {
	if c.queueEngine != nil {
		if err := c.queueEngine.PublishDispatch(taskID, bearerToken, c.opts.TimeoutJob); err != nil {
			logging.Error("admission: failed to enqueue tracker dispatch", "task_id", taskID, "error", err)
		}
		return
	}
	if c.tracker == nil {
		logging.Warn("admission: no queue and no inline tracker configured, run will not be tracked", "task_id", taskID)
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.opts.TimeoutJob)
		defer cancel()
		if err := c.tracker.Track(ctx, taskID, bearerToken); err != nil {
			logging.Error("tracker: run failed", "task_id", taskID, "error", err)
		}
	}()
}

func classifyUpstreamError(upErr *upstream.UpstreamError) error {
	switch upErr.StatusCode {
	case 400:
		return apierr.Wrapf("admit", apierr.ErrBadRequest, "%s", upErr.Msg)
	case 401:
		return apierr.Wrapf("admit", apierr.ErrUnauthorized, "%s", upErr.Msg)
	case 403:
		return apierr.Wrapf("admit", apierr.ErrForbidden, "%s", upErr.Msg)
	default:
		return apierr.Wrapf("admit", apierr.ErrEngineProblem, "%s", upErr.Msg)
	}
}

// validateRunRequest checks the required fields and that the JSON-string
// form fields actually decode to JSON objects, mirroring _validate_run_request.
func validateRunRequest(form models.RunRequest) error {
	if form.WorkflowType == "" || form.WorkflowTypeVersion == "" || form.WorkflowURL == "" {
		return apierr.Wrap("validate_run_request", apierr.ErrBadRequest)
	}
	if err := validateJSONObjectField("workflow_params", form.WorkflowParams); err != nil {
		return err
	}
	for name, raw := range map[string]json.RawMessage{
		"tags":                       form.Tags,
		"workflow_engine_parameters": form.WorkflowEngineParameters,
	} {
		if len(raw) == 0 {
			continue
		}
		if err := validateJSONObjectField(name, raw); err != nil {
			return err
		}
	}
	return nil
}

// validateJSONObjectField rejects a missing/empty raw field and anything
// that doesn't decode to a JSON object (§4.3 step 1: "workflow_params must
// be a non-empty object string").
func validateJSONObjectField(name string, raw json.RawMessage) error {
	if len(raw) == 0 {
		return apierr.Wrapf("validate_run_request", apierr.ErrBadRequest, "%s is required", name)
	}
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(`{"type":"object"}`),
		gojsonschema.NewBytesLoader(raw),
	)
	if err != nil || !result.Valid() {
		return apierr.Wrapf("validate_run_request", apierr.ErrBadRequest, "%s must be a JSON object", name)
	}
	return nil
}
