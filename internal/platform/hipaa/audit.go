// Package hipaa persists the PHI access trail produced by the audit
// middleware.
package hipaa

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/rtclinic/followup/internal/platform/middleware"
)

type execer interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// AccessLogger writes audit entries to the phi_access_log table created by
// migrations/002_phi_access_log.sql.
type AccessLogger struct {
	pool    execer
	timeout time.Duration
}

// NewAccessLogger creates an AccessLogger backed by the given pool.
func NewAccessLogger(pool execer) *AccessLogger {
	return &AccessLogger{pool: pool, timeout: 5 * time.Second}
}

const insertAccess = `
	INSERT INTO phi_access_log (
		request_id, user_id, user_roles, action, resource, mrn,
		method, path, status_code, ip_address, accessed_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`

// RecordAccess implements middleware.AuditRecorder.
func (a *AccessLogger) RecordAccess(entry middleware.AuditEntry) error {
	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()

	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	roles := entry.UserRoles
	if roles == nil {
		roles = []string{}
	}

	_, err := a.pool.Exec(ctx, insertAccess,
		entry.RequestID, entry.UserID, roles, entry.Action, entry.Resource, nullable(entry.MRN),
		entry.Method, entry.Path, entry.StatusCode, entry.IPAddress, entry.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("hipaa access log: %w", err)
	}
	return nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
