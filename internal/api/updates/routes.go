package updates

import (
	"github.com/labstack/echo/v4"

	"github.com/lissto-dev/updater/internal/middleware"
	"github.com/lissto-dev/updater/pkg/auth"
)

// RegisterRoutes registers update routes
func RegisterRoutes(g *echo.Group, handler *Handler) {
	g.POST("", handler.Update, middleware.RequireRole(auth.Operator))
	g.GET("/locks/:repository/:tag", handler.GetLock)
	g.DELETE("/locks/:repository/:tag", handler.ReleaseLock, middleware.RequireRole(auth.Admin))
}
