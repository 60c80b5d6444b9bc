package middleware

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type auditRecorderPG struct {
	pool *pgxpool.Pool
}

// NewAuditRecorderPG returns a recorder that appends entries to the
// access_audit table.
func NewAuditRecorderPG(pool *pgxpool.Pool) AuditRecorder {
	return &auditRecorderPG{pool: pool}
}

func (r *auditRecorderPG) RecordAccess(ctx context.Context, entry AuditEntry) error {
	roles := entry.UserRoles
	if roles == nil {
		roles = []string{}
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO access_audit (request_id, user_id, user_roles, resource, resource_id, action,
			method, path, ip_address, user_agent, status_code, recorded_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		entry.RequestID, entry.UserID, roles, entry.Resource, entry.ResourceID, entry.Action,
		entry.Method, entry.Path, entry.IPAddress, entry.UserAgent, entry.StatusCode, entry.Timestamp)
	if err != nil {
		return fmt.Errorf("insert access audit: %w", err)
	}
	return nil
}
