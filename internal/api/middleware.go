package api

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// ValidateContentType ensures mutating API requests carry a JSON or YAML
// body. GET, HEAD and DELETE requests pass through untouched.
func ValidateContentType(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		method := c.Request().Method
		if method != http.MethodPost && method != http.MethodPut && method != http.MethodPatch {
			return next(c)
		}
		if !strings.HasPrefix(c.Path(), "/api/") {
			return next(c)
		}
		if c.Request().ContentLength == 0 {
			return next(c)
		}

		contentType := c.Request().Header.Get(echo.HeaderContentType)
		if strings.HasPrefix(contentType, echo.MIMEApplicationJSON) ||
			strings.HasPrefix(contentType, "application/yaml") ||
			strings.HasPrefix(contentType, "text/yaml") {
			return next(c)
		}
		return NewAPIError(http.StatusUnsupportedMediaType,
			"Unsupported media type", "expected application/json or application/yaml")
	}
}

// SecurityHeaders adds standard security headers to all responses.
func SecurityHeaders(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		h := c.Response().Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-XSS-Protection", "1; mode=block")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		return next(c)
	}
}
