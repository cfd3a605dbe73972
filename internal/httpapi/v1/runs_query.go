package v1

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"wesgateway/internal/accesscontrol"
	"wesgateway/internal/apierr"
	"wesgateway/internal/auth"
)

// listRuns implements `GET /runs`, mirroring list_runs: page through runs
// newest-first, scoped to the caller's own runs when the bearer token
// carried an identity.
func (h *APIHandlers) listRuns(c *gin.Context) {
	pageSize := h.cfg.DefaultPageSize
	if raw := c.Query("page_size"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			pageSize = n
		}
	}

	runs, nextPageToken, err := h.runs.List(pageSize, c.Query("page_token"), auth.UserID(c))
	if err != nil {
		respondError(c, err)
		return
	}

	out := make([]gin.H, len(runs))
	for i, r := range runs {
		out[i] = gin.H{"run_id": r.RunID, "state": string(r.State)}
	}
	c.JSON(http.StatusOK, gin.H{"next_page_token": nextPageToken, "runs": out})
}

// getRunLog implements `GET /runs/{run_id}`, mirroring get_run_log.
func (h *APIHandlers) getRunLog(c *gin.Context) {
	runID := c.Param("run_id")
	doc, err := h.runs.GetByRunID(runID)
	if err != nil {
		respondError(c, err)
		return
	}
	if err := accesscontrol.Check(doc.Owner(), auth.UserID(c)); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, doc.RunLog)
}

// getRunStatus implements `GET /runs/{run_id}/status`, mirroring
// get_run_status.
func (h *APIHandlers) getRunStatus(c *gin.Context) {
	runID := c.Param("run_id")
	doc, err := h.runs.GetByRunID(runID)
	if err != nil {
		respondError(c, err)
		return
	}
	if err := accesscontrol.Check(doc.Owner(), auth.UserID(c)); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"run_id": runID, "state": string(doc.RunLog.State)})
}

// cancelRun implements `POST /runs/{run_id}/cancel`, mirroring cancel_run:
// forward the cancellation to whichever upstream engine the run was
// admitted to.
func (h *APIHandlers) cancelRun(c *gin.Context) {
	runID := c.Param("run_id")
	doc, err := h.runs.GetByRunID(runID)
	if err != nil {
		respondError(c, err)
		return
	}
	if err := accesscontrol.Check(doc.Owner(), auth.UserID(c)); err != nil {
		respondError(c, err)
		return
	}
	if doc.WesEndpoint.RunID == nil {
		respondError(c, apierr.Wrap("cancel_run", apierr.ErrEngineUnavailable))
		return
	}

	client := h.newClient(doc.WesEndpoint.Host, doc.WesEndpoint.BasePath, auth.BearerToken(c))
	if _, err := client.CancelRun(c.Request.Context(), *doc.WesEndpoint.RunID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"run_id": runID})
}
