package middleware

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// maxHeaderValueSize is the maximum allowed size for any single header value.
const maxHeaderValueSize = 8192 // 8KB

var scriptPatterns = regexp.MustCompile(`(?i)(<script|javascript\s*:|on\w+\s*=)`)

// formulaPrefixes start a formula when a cell is opened in a spreadsheet.
const formulaPrefixes = "=+@"

// Sanitize rejects requests whose path, headers, or query parameters carry
// traversal sequences, null bytes, header injection, script fragments, or
// spreadsheet formulas. Rejections are logged at warn level and answered
// with 400.
func Sanitize(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			path := req.URL.Path
			rawPath := req.URL.RawPath
			if rawPath == "" {
				rawPath = path
			}

			reject := func(reason string) error {
				logger.Warn().
					Str("path", path).
					Str("remote_ip", c.RealIP()).
					Str("reason", reason).
					Msg("request rejected")
				return echo.NewHTTPError(http.StatusBadRequest, reason)
			}

			if containsPathTraversal(path) || containsPathTraversal(rawPath) {
				return reject("path traversal detected")
			}
			if containsNullByte(path) || containsNullByte(rawPath) {
				return reject("null byte in path")
			}
			for _, segment := range strings.Split(path, "/") {
				if isFormula(segment) {
					return reject("spreadsheet formula in path")
				}
			}

			for name, values := range req.Header {
				for _, v := range values {
					if len(v) > maxHeaderValueSize {
						return reject("header value exceeds maximum size: " + name)
					}
					if strings.ContainsAny(v, "\r\n") {
						return reject("header injection detected: " + name)
					}
				}
			}

			for key, values := range req.URL.Query() {
				for _, v := range values {
					if containsNullByte(v) || containsNullByte(key) {
						return reject("null byte in query parameter")
					}
					if scriptPatterns.MatchString(v) || scriptPatterns.MatchString(key) {
						return reject("script injection detected in query parameter")
					}
					if isFormula(v) {
						return reject("spreadsheet formula in query parameter " + key)
					}
				}
			}

			return next(c)
		}
	}
}

// containsPathTraversal checks for path traversal sequences in raw and
// percent-encoded forms.
func containsPathTraversal(s string) bool {
	if strings.Contains(s, "..") {
		return true
	}
	lower := strings.ToLower(s)
	return strings.Contains(lower, "%2e%2e") || strings.Contains(lower, "%252e")
}

// containsNullByte checks for null bytes in raw and percent-encoded forms.
func containsNullByte(s string) bool {
	return strings.ContainsRune(s, '\x00') || strings.Contains(strings.ToLower(s), "%00")
}

func isFormula(s string) bool {
	s = strings.TrimSpace(s)
	return s != "" && strings.ContainsRune(formulaPrefixes, rune(s[0]))
}
