package updates

import (
	"context"
	"net/url"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/lissto-dev/updater/internal/middleware"
	"github.com/lissto-dev/updater/pkg/logging"
	"github.com/lissto-dev/updater/pkg/response"
	"github.com/lissto-dev/updater/pkg/state"
	"github.com/lissto-dev/updater/pkg/update"
	"github.com/lissto-dev/updater/pkg/version"
)

// Updater runs the update pipeline
type Updater interface {
	UpdateAndRestart(ctx context.Context, req update.Request) (update.Response, error)
}

// Handler handles update and lock requests
type Handler struct {
	updater Updater
	runtime *state.Runtime
}

// NewHandler creates a new update handler
func NewHandler(updater Updater, runtime *state.Runtime) *Handler {
	return &Handler{
		updater: updater,
		runtime: runtime,
	}
}

// Update handles POST /updates. The image lock is held for the whole pipeline.
func (h *Handler) Update(c echo.Context) error {
	var req update.Request
	if err := c.Bind(&req); err != nil {
		logging.Logger.Error("Failed to bind request", zap.Error(err))
		return response.FromError(c, version.InvalidInput("invalid request: %v", err))
	}
	if err := c.Validate(&req); err != nil {
		logging.Logger.Error("Request validation failed", zap.Error(err))
		return response.FromError(c, version.InvalidInput("%v", err))
	}

	if req.OperationID == "" {
		req.OperationID = "op-" + uuid.NewString()
	}
	imageKey := req.Image.Key()

	logging.Logger.Info("Update request",
		zap.String("user", middleware.UserName(c)),
		zap.String("image_key", imageKey),
		zap.String("operation_id", req.OperationID),
		zap.String("target_version", req.TargetVersion),
		zap.String("ip", c.RealIP()))

	if err := h.runtime.TryLockUpdate(imageKey, req.OperationID); err != nil {
		logging.Logger.Warn("Update rejected",
			zap.String("image_key", imageKey),
			zap.String("operation_id", req.OperationID),
			zap.Error(err))
		return response.FromError(c, err)
	}
	defer h.runtime.UnlockUpdate(imageKey, req.OperationID)

	// a disconnecting client must not abort a half-replaced container
	ctx := context.WithoutCancel(c.Request().Context())
	resp, err := h.updater.UpdateAndRestart(ctx, req)
	if err != nil {
		return response.FromError(c, err)
	}

	message := "Update completed"
	if !resp.Success {
		message = "Update failed"
	}
	return response.OK(c, message, resp)
}

func lockKey(c echo.Context) (string, error) {
	repository, err := url.PathUnescape(c.Param("repository"))
	if err != nil {
		return "", version.InvalidInput("invalid repository: %v", err)
	}
	tag, err := url.PathUnescape(c.Param("tag"))
	if err != nil {
		return "", version.InvalidInput("invalid tag: %v", err)
	}
	if repository == "" || tag == "" {
		return "", version.InvalidInput("repository and tag are required")
	}
	return version.ImageKey(repository, tag), nil
}

// GetLock handles GET /updates/locks/:repository/:tag
func (h *Handler) GetLock(c echo.Context) error {
	imageKey, err := lockKey(c)
	if err != nil {
		return response.FromError(c, err)
	}

	lock, ok := h.runtime.Locks().Get(imageKey)
	if !ok {
		return response.NotFound(c, "No update in progress for "+imageKey)
	}
	return response.OK(c, "", lock)
}

// ReleaseLock handles DELETE /updates/locks/:repository/:tag regardless of the owning operation
func (h *Handler) ReleaseLock(c echo.Context) error {
	imageKey, err := lockKey(c)
	if err != nil {
		return response.FromError(c, err)
	}

	lock, ok := h.runtime.Locks().ForceUnlock(imageKey)
	if !ok {
		return response.NotFound(c, "No update lock for "+imageKey)
	}

	logging.Logger.Warn("Update lock force-released",
		zap.String("image_key", imageKey),
		zap.String("operation_id", lock.OperationID),
		zap.String("user", middleware.UserName(c)))

	return response.OK(c, "Lock released", lock)
}
