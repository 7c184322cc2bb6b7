package response

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/lissto-dev/updater/pkg/version"
)

// Response represents a standard API response
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Code    string      `json:"code,omitempty"`
}

// Success sends a successful response
func Success(c echo.Context, code int, message string, data interface{}) error {
	return c.JSON(code, Response{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// Error sends an error response
func Error(c echo.Context, code int, message string) error {
	return c.JSON(code, Response{
		Success: false,
		Error:   message,
	})
}

// StatusFor maps a version error code to an HTTP status
func StatusFor(code version.Code) int {
	switch code {
	case version.CodeInvalidInput:
		return http.StatusBadRequest
	case version.CodeUpdateConflict:
		return http.StatusConflict
	case version.CodeSourceTimeout:
		return http.StatusGatewayTimeout
	case version.CodeNoValidSourceResult, version.CodeSourceUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// FromError sends err with the status matching its code. Errors outside the
// version taxonomy become a 500 without leaking their message.
func FromError(c echo.Context, err error) error {
	var vErr *version.Error
	if !errors.As(err, &vErr) {
		return InternalServerError(c, "Internal error")
	}
	return c.JSON(StatusFor(vErr.Code), Response{
		Success: false,
		Error:   vErr.Error(),
		Code:    string(vErr.Code),
	})
}

// OK sends a 200 OK response
func OK(c echo.Context, message string, data interface{}) error {
	return Success(c, http.StatusOK, message, data)
}

// BadRequest sends a 400 Bad Request response
func BadRequest(c echo.Context, message string) error {
	return Error(c, http.StatusBadRequest, message)
}

// Unauthorized sends a 401 Unauthorized response
func Unauthorized(c echo.Context, message string) error {
	return Error(c, http.StatusUnauthorized, message)
}

// Forbidden sends a 403 Forbidden response
func Forbidden(c echo.Context, message string) error {
	return Error(c, http.StatusForbidden, message)
}

// NotFound sends a 404 Not Found response
func NotFound(c echo.Context, message string) error {
	return Error(c, http.StatusNotFound, message)
}

// InternalServerError sends a 500 Internal Server Error response
func InternalServerError(c echo.Context, message string) error {
	return Error(c, http.StatusInternalServerError, message)
}
