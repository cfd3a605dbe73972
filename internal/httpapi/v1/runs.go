package v1

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"wesgateway/internal/admission"
	"wesgateway/internal/apierr"
	"wesgateway/internal/auth"
	"wesgateway/pkg/models"
)

// runWorkflow implements `POST /runs`, mirroring run_workflow: parse the
// multipart form, hand it to the admission controller, and return the
// gateway's local run_id.
func (h *APIHandlers) runWorkflow(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		respondError(c, apierr.Wrapf("run_workflow", apierr.ErrBadRequest, "%s", err))
		return
	}

	req := models.RunRequest{
		WorkflowType:        c.PostForm("workflow_type"),
		WorkflowTypeVersion: c.PostForm("workflow_type_version"),
		WorkflowURL:         c.PostForm("workflow_url"),
	}
	if v := c.PostForm("workflow_params"); v != "" {
		req.WorkflowParams = json.RawMessage(v)
	}
	if v := c.PostForm("tags"); v != "" {
		req.Tags = json.RawMessage(v)
	}
	if v := c.PostForm("workflow_engine_parameters"); v != "" {
		req.WorkflowEngineParameters = json.RawMessage(v)
	}

	var attachments []admission.AttachmentInput
	var closers []io.Closer
	defer func() {
		for _, cl := range closers {
			_ = cl.Close()
		}
	}()
	if form != nil {
		for _, fh := range form.File["workflow_attachment"] {
			f, err := fh.Open()
			if err != nil {
				respondError(c, apierr.Wrapf("run_workflow", apierr.ErrBadRequest, "%s", err))
				return
			}
			closers = append(closers, f)
			attachments = append(attachments, admission.AttachmentInput{Filename: fh.Filename, Reader: f})
		}
	}

	runID, err := h.admission.Admit(c.Request.Context(), req, attachments, auth.UserID(c), auth.BearerToken(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"run_id": runID})
}
