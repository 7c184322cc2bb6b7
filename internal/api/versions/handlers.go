package versions

import (
	"context"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/lissto-dev/updater/internal/middleware"
	"github.com/lissto-dev/updater/pkg/logging"
	"github.com/lissto-dev/updater/pkg/response"
	"github.com/lissto-dev/updater/pkg/version"
)

// Checker runs aggregate version checks
type Checker interface {
	Check(ctx context.Context, req version.CheckRequest) (version.CheckResponse, error)
}

// Handler handles version check requests
type Handler struct {
	checker Checker
}

// NewHandler creates a new version handler
func NewHandler(checker Checker) *Handler {
	return &Handler{checker: checker}
}

// CheckVersion handles POST /versions/check
func (h *Handler) CheckVersion(c echo.Context) error {
	var req version.CheckRequest
	if err := c.Bind(&req); err != nil {
		logging.Logger.Error("Failed to bind request", zap.Error(err))
		return response.FromError(c, version.InvalidInput("invalid request: %v", err))
	}
	if err := c.Validate(&req); err != nil {
		logging.Logger.Error("Request validation failed", zap.Error(err))
		return response.FromError(c, version.InvalidInput("%v", err))
	}

	logging.Logger.Info("Version check request",
		zap.String("user", middleware.UserName(c)),
		zap.String("image_key", req.Image.Key()),
		zap.Int("sources", len(req.Sources)),
		zap.String("ip", c.RealIP()))

	resp, err := h.checker.Check(c.Request().Context(), req)
	if err != nil {
		logging.Logger.Warn("Version check failed",
			zap.String("image_key", req.Image.Key()),
			zap.String("code", string(version.CodeOf(err))),
			zap.Error(err))
		return response.FromError(c, err)
	}

	return response.OK(c, "Version check completed", resp)
}
