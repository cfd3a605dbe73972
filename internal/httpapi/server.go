// Package httpapi assembles the gateway's gin HTTP server: the WES
// surface under /ga4gh/wes/v1 plus a plain health check.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"wesgateway/internal/admission"
	"wesgateway/internal/config"
	"wesgateway/internal/db/repositories"
	"wesgateway/internal/httpapi/v1"
	"wesgateway/internal/logging"
)

// Server owns the gin engine and the stdlib http.Server wrapping it.
type Server struct {
	cfg        *config.Config
	httpServer *http.Server
}

// New builds a Server wired to the gateway's repositories and admission
// controller. Every route below /ga4gh/wes/v1 requires a bearer token
// (auth.Middleware, registered by v1.RegisterRoutes).
func New(
	cfg *config.Config,
	runs *repositories.RunRepo,
	serviceInfo *repositories.ServiceInfoRepo,
	admissionController *admission.Controller,
) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger())

	router.GET("/health", healthCheck)

	apiHandlers := v1.NewAPIHandlers(runs, serviceInfo, admissionController, cfg)
	wesGroup := router.Group("/ga4gh/wes/v1")
	apiHandlers.RegisterRoutes(wesGroup)

	return &Server{
		cfg: cfg,
		httpServer: &http.Server{
			Addr:    cfg.ListenAddr,
			Handler: router,
		},
	}
}

// Start runs the HTTP server until ctx is canceled, then shuts it down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

func healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": "wesgateway"})
}

func requestLogger() gin.HandlerFunc {
	return gin.LoggerWithFormatter(func(param gin.LogFormatterParams) string {
		logging.With(
			"method", param.Method,
			"path", param.Path,
			"status", param.StatusCode,
			"latency_ms", param.Latency.Milliseconds(),
		).Info("http request")
		return ""
	})
}
