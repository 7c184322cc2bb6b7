package middleware

import (
	"github.com/labstack/echo/v4"
)

// InstanceIDMiddleware adds the X-Updater-Instance-ID header to all responses
// so clients can tell which updater process answered
func InstanceIDMiddleware(instanceID string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Response().Header().Set("X-Updater-Instance-ID", instanceID)
			return next(c)
		}
	}
}

// VersionMiddleware adds the X-Updater-Version header
func VersionMiddleware(version string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Response().Header().Set("X-Updater-Version", version)
			return next(c)
		}
	}
}
