package postgres

import (
	"context"

	"github.com/JonMunkholm/lims/internal/core"
	"github.com/JonMunkholm/lims/internal/store/sqlbuild"
)

// RecordAudit implements core.AuditSink.
func (s *Store) RecordAudit(ctx context.Context, e core.AuditEntry) error {
	if _, err := s.pool.Exec(ctx, sqlbuild.InsertAudit(dialect), sqlbuild.AuditArgs(e)...); err != nil {
		return classify(err)
	}
	return nil
}

// ListAudit implements core.AuditReader.
func (s *Store) ListAudit(ctx context.Context, f core.AuditFilter) ([]core.AuditEntry, error) {
	query, args := sqlbuild.ListAudit(dialect, f)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var entries []core.AuditEntry
	for rows.Next() {
		var (
			e                          core.AuditEntry
			action, severity, entity   string
			importID, fileName, ip, ua *string
			reason                     *string
		)
		if err := rows.Scan(&e.ID, &action, &severity, &entity, &importID, &fileName,
			&ip, &ua, &e.RowsAffected, &reason, &e.CreatedAt); err != nil {
			return nil, classify(err)
		}
		e.Action = core.AuditAction(action)
		e.Severity = core.AuditSeverity(severity)
		e.Entity = core.EntityType(entity)
		e.ImportID = deref(importID)
		e.FileName = deref(fileName)
		e.IPAddress = deref(ip)
		e.UserAgent = deref(ua)
		e.Reason = deref(reason)
		entries = append(entries, e)
	}
	return entries, classify(rows.Err())
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
