package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"wesgateway/internal/apierr"
	"wesgateway/pkg/models"
)

// getServiceInfo implements `GET /service-info`, mirroring get_service_info:
// the configured descriptor, augmented with live per-state run counts.
func (h *APIHandlers) getServiceInfo(c *gin.Context) {
	info, err := h.serviceInfo.Get()
	if err != nil {
		respondError(c, err)
		return
	}

	counts, err := h.runs.CountByState()
	if err != nil {
		respondError(c, err)
		return
	}
	info.SystemStateCounts = counts

	c.JSON(http.StatusOK, info)
}

// postServiceInfo implements `POST /service-info`, mirroring
// set_service_info (§4.6): an idempotent replace-or-insert on the singleton,
// returning 201 with no body.
func (h *APIHandlers) postServiceInfo(c *gin.Context) {
	var info models.ServiceInfo
	if err := c.ShouldBindJSON(&info); err != nil {
		respondError(c, apierr.Wrapf("set_service_info", apierr.ErrBadRequest, "%s", err))
		return
	}

	if err := h.serviceInfo.Set(&info); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusCreated)
}
