package storage

import (
	"context"
	"time"

	"orderbot/internal/domain"
)

// LogAudit implements domain.AuditLogger.
func (s *Store) LogAudit(ctx context.Context, entry domain.AuditEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, s.q(
		`INSERT INTO audit_log (action, contact_id, details, created_at) VALUES (?, ?, ?, ?)`),
		entry.Action, entry.ContactID, entry.Details, entry.CreatedAt.UTC())
	if err != nil {
		return depErr("storage.audit.log", err)
	}
	return nil
}

// CountAudit returns how many audit rows carry this action.
func (s *Store) CountAudit(ctx context.Context, action string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, s.q(`SELECT COUNT(*) FROM audit_log WHERE action = ?`), action).Scan(&n); err != nil {
		return 0, depErr("storage.audit.count", err)
	}
	return n, nil
}
