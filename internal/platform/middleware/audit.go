package middleware

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/rtclinic/followup/internal/platform/auth"
)

// AuditEntry records who touched which patient's follow-up data.
type AuditEntry struct {
	UserID     string
	UserRoles  []string
	Resource   string
	MRN        string
	Action     string // read, create, export
	IPAddress  string
	Path       string
	Method     string
	Timestamp  time.Time
	RequestID  string
	StatusCode int
}

// AuditRecorder persists audit entries.
type AuditRecorder interface {
	RecordAccess(entry AuditEntry) error
}

// AuditRecorderFunc is a function adapter for AuditRecorder.
type AuditRecorderFunc func(entry AuditEntry) error

func (f AuditRecorderFunc) RecordAccess(entry AuditEntry) error {
	return f(entry)
}

// Audit logs every /api/v1 request after it completes. When a recorder is
// given it also receives the entry; a recorder failure is logged and never
// fails the request.
func Audit(logger zerolog.Logger, recorders ...AuditRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			path := req.URL.Path
			if !strings.HasPrefix(path, "/api/v1/") {
				return next(c)
			}

			err := next(c)

			ctx := req.Context()
			entry := AuditEntry{
				Timestamp:  time.Now().UTC(),
				UserID:     auth.UserIDFromContext(ctx),
				UserRoles:  auth.RolesFromContext(ctx),
				Resource:   extractResource(path),
				MRN:        extractMRN(c),
				Action:     auditAction(req.Method, path),
				IPAddress:  c.RealIP(),
				Path:       path,
				Method:     req.Method,
				StatusCode: c.Response().Status,
			}
			if err != nil {
				entry.StatusCode = http.StatusInternalServerError
				var he *echo.HTTPError
				if errors.As(err, &he) {
					entry.StatusCode = he.Code
				}
			}
			entry.RequestID, _ = c.Get("request_id").(string)

			for _, r := range recorders {
				if r == nil {
					continue
				}
				if recErr := r.RecordAccess(entry); recErr != nil {
					logger.Error().Err(recErr).
						Str("request_id", entry.RequestID).
						Msg("failed to record audit entry")
				}
			}

			logger.Info().
				Str("type", "audit").
				Str("request_id", entry.RequestID).
				Str("user_id", entry.UserID).
				Strs("user_roles", entry.UserRoles).
				Str("resource", entry.Resource).
				Str("mrn", entry.MRN).
				Str("action", entry.Action).
				Str("method", entry.Method).
				Str("path", entry.Path).
				Str("remote_ip", entry.IPAddress).
				Int("status", entry.StatusCode).
				Msg("data_access")

			return err
		}
	}
}

func auditAction(method, path string) string {
	switch {
	case strings.HasSuffix(path, "/export"):
		return "export"
	case strings.HasSuffix(path, "/calculate"):
		return "calculate"
	case method == http.MethodPost:
		return "create"
	default:
		return "read"
	}
}

// extractResource returns the first path segment below /api/v1/.
func extractResource(path string) string {
	seg := strings.SplitN(strings.TrimPrefix(path, "/api/v1/"), "/", 2)
	if seg[0] == "" {
		return "unknown"
	}
	return seg[0]
}

// extractMRN reads the patient identifier from the :mrn route parameter or
// the mrn query parameter.
func extractMRN(c echo.Context) string {
	for i, name := range c.ParamNames() {
		if name == "mrn" && i < len(c.ParamValues()) {
			return strings.TrimSpace(c.ParamValues()[i])
		}
	}
	return strings.TrimSpace(c.QueryParam("mrn"))
}
