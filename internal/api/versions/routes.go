package versions

import (
	"github.com/labstack/echo/v4"
)

// RegisterRoutes registers version check routes
func RegisterRoutes(g *echo.Group, handler *Handler) {
	g.POST("/check", handler.CheckVersion)
}
