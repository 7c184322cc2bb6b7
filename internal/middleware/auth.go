package middleware

import (
	"github.com/labstack/echo/v4"
	authpkg "github.com/lissto-dev/updater/pkg/auth"
	"github.com/lissto-dev/updater/pkg/config"
	"github.com/lissto-dev/updater/pkg/logging"
	"github.com/lissto-dev/updater/pkg/response"
)

const userContextKey = "user"

// User represents an authenticated API caller
type User struct {
	Name string       `json:"name"`
	Role authpkg.Role `json:"role"`
}

// APIKeyMiddleware validates the X-API-Key header against the configured keys
func APIKeyMiddleware(apiKeys []config.APIKey) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			apiKey := c.Request().Header.Get("X-API-Key")
			if apiKey == "" {
				return response.Unauthorized(c, "API key required")
			}

			keyData, found := config.FindAPIKeyByKey(apiKeys, apiKey)
			if !found {
				logging.LogDeniedWithIP("invalid API key", "unknown", c.Request().URL.Path, c.RealIP())
				return response.Unauthorized(c, "Invalid API key")
			}

			c.Set(userContextKey, &User{
				Name: keyData.Name,
				Role: authpkg.ParseRole(keyData.Role),
			})
			return next(c)
		}
	}
}

// RequireRole middleware checks if user has sufficient role permissions
func RequireRole(requiredRole authpkg.Role) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			user, ok := GetUserFromContext(c)
			if !ok {
				return response.Unauthorized(c, "User not authenticated")
			}

			if !user.Role.HasPermission(requiredRole) {
				logging.LogDenied("role "+user.Role.String()+" below "+requiredRole.String(), user.Name, c.Request().Method+" "+c.Path())
				return response.Forbidden(c, "Insufficient permissions. Required: "+requiredRole.String())
			}

			return next(c)
		}
	}
}

// GetUserFromContext extracts user from Echo context
func GetUserFromContext(c echo.Context) (*User, bool) {
	user, ok := c.Get(userContextKey).(*User)
	return user, ok && user != nil
}

// UserName returns the authenticated caller's name, or "anonymous"
func UserName(c echo.Context) string {
	if user, ok := GetUserFromContext(c); ok {
		return user.Name
	}
	return "anonymous"
}
