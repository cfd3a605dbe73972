// Package v1 registers the gateway's GA4GH WES-shaped route handlers:
// run admission, run queries, and service info.
package v1

import (
	"github.com/gin-gonic/gin"

	"wesgateway/internal/admission"
	"wesgateway/internal/auth"
	"wesgateway/internal/config"
	"wesgateway/internal/db/repositories"
	"wesgateway/internal/upstream"
)

// APIHandlers wires the repositories and collaborators the /ga4gh/wes/v1
// routes depend on.
type APIHandlers struct {
	runs        *repositories.RunRepo
	serviceInfo *repositories.ServiceInfoRepo
	admission   *admission.Controller
	cfg         *config.Config

	newClient func(host, basePath, token string) *upstream.Client
}

func NewAPIHandlers(
	runs *repositories.RunRepo,
	serviceInfo *repositories.ServiceInfoRepo,
	admissionController *admission.Controller,
	cfg *config.Config,
) *APIHandlers {
	return &APIHandlers{
		runs:        runs,
		serviceInfo: serviceInfo,
		admission:   admissionController,
		cfg:         cfg,
		newClient:   upstream.New,
	}
}

// RegisterRoutes mounts the WES surface under group, requiring a bearer
// token on every route (§9 "auth is pass-through, not enforced").
func (h *APIHandlers) RegisterRoutes(group *gin.RouterGroup) {
	group.Use(auth.Middleware())

	group.POST("/runs", h.runWorkflow)
	group.GET("/runs", h.listRuns)
	group.GET("/runs/:run_id", h.getRunLog)
	group.GET("/runs/:run_id/status", h.getRunStatus)
	group.POST("/runs/:run_id/cancel", h.cancelRun)
	group.GET("/service-info", h.getServiceInfo)
	group.POST("/service-info", h.postServiceInfo)
}
