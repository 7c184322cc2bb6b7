package server

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/lissto-dev/updater/internal/api/updates"
	"github.com/lissto-dev/updater/internal/api/versions"
	"github.com/lissto-dev/updater/internal/middleware"
	"github.com/lissto-dev/updater/pkg/config"
	"github.com/lissto-dev/updater/pkg/logging"
	"github.com/lissto-dev/updater/pkg/state"
)

// VersionInfo contains build version information
type VersionInfo struct {
	Version   string `json:"version"`
	BuildTime string `json:"buildTime"`
	GoVersion string `json:"goVersion"`
}

// Dependencies are the collaborators served over HTTP
type Dependencies struct {
	Checker  versions.Checker
	Updater  updates.Updater
	Runtime  *state.Runtime
	Gatherer prometheus.Gatherer
}

// Server represents the API server
type Server struct {
	echo        *echo.Echo
	port        string
	instanceID  string
	publicURL   string
	versionInfo *VersionInfo
}

// New registers all routes on e and returns the server
func New(e *echo.Echo, cfg *config.Config, deps Dependencies, instanceID string, versionInfo *VersionInfo) *Server {
	srv := &Server{
		echo:        e,
		port:        cfg.Server.Port,
		instanceID:  instanceID,
		publicURL:   cfg.Server.PublicURL,
		versionInfo: versionInfo,
	}

	versionHandler := versions.NewHandler(deps.Checker)
	updateHandler := updates.NewHandler(deps.Updater, deps.Runtime)

	// API routes with authentication
	api := e.Group("/api/v1")
	api.Use(middleware.APIKeyMiddleware(cfg.APIKeys))
	// Version header only on authenticated requests to avoid fingerprinting
	api.Use(middleware.VersionMiddleware(versionInfo.Version))

	versions.RegisterRoutes(api.Group("/versions"), versionHandler)
	updates.RegisterRoutes(api.Group("/updates"), updateHandler)
	api.GET("/version", srv.handleVersion)

	// No auth: probes and scrapers
	e.GET("/health", srv.handleHealth)
	if deps.Gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	return srv
}

// handleHealth returns 200, or the public URL and instance ID with ?info=true
func (s *Server) handleHealth(c echo.Context) error {
	if c.QueryParam("info") == "true" {
		info := map[string]string{
			"public_url":  s.publicURL,
			"instance_id": s.instanceID,
		}
		return c.JSON(http.StatusOK, info)
	}
	return c.NoContent(http.StatusOK)
}

func (s *Server) handleVersion(c echo.Context) error {
	return c.JSON(http.StatusOK, s.versionInfo)
}

// Start starts the API server
func (s *Server) Start() error {
	port := ":" + s.port
	logging.Logger.Info("Starting server", zap.String("port", port))
	return s.echo.Start(port)
}

// Shutdown stops accepting requests and waits for in-flight ones
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
