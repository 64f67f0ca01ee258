package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/JonMunkholm/lims/internal/core"
	"github.com/JonMunkholm/lims/internal/store/sqlbuild"
)

// RecordAudit implements core.AuditSink.
func (s *Store) RecordAudit(ctx context.Context, e core.AuditEntry) error {
	if _, err := s.db.ExecContext(ctx, sqlbuild.InsertAudit(dialect), bind(sqlbuild.AuditArgs(e))...); err != nil {
		return classify(err)
	}
	return nil
}

// ListAudit implements core.AuditReader.
func (s *Store) ListAudit(ctx context.Context, f core.AuditFilter) ([]core.AuditEntry, error) {
	query, args := sqlbuild.ListAudit(dialect, f)
	rows, err := s.db.QueryContext(ctx, query, bind(args)...)
	if err != nil {
		return nil, classify(err)
	}
	defer func() { _ = rows.Close() }()

	var entries []core.AuditEntry
	for rows.Next() {
		var (
			e                                  core.AuditEntry
			action, severity, entity, created  string
			importID, fileName, ip, ua, reason sql.NullString
		)
		if err := rows.Scan(&e.ID, &action, &severity, &entity, &importID, &fileName,
			&ip, &ua, &e.RowsAffected, &reason, &created); err != nil {
			return nil, classify(err)
		}
		e.Action = core.AuditAction(action)
		e.Severity = core.AuditSeverity(severity)
		e.Entity = core.EntityType(entity)
		e.ImportID = importID.String
		e.FileName = fileName.String
		e.IPAddress = ip.String
		e.UserAgent = ua.String
		e.Reason = reason.String
		if t, err := time.Parse(timeLayout, created); err == nil {
			e.CreatedAt = t
		}
		entries = append(entries, e)
	}
	return entries, classify(rows.Err())
}
