package web

import (
	"net/http"
	"strings"
	"time"

	"github.com/JonMunkholm/lims/internal/core"
)

const auditPageSize = 50

// handleAuditLog returns audit entries, newest first.
//
// Query parameters: action, entity, severity, from and to (YYYY-MM-DD,
// inclusive), page.
func (s *Server) handleAuditLog(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page := parseIntParam(r, "page", 1)

	filter := core.AuditFilter{
		Action:   core.AuditAction(q.Get("action")),
		Severity: core.AuditSeverity(q.Get("severity")),
		Limit:    auditPageSize,
		Offset:   (page - 1) * auditPageSize,
	}
	if v := q.Get("entity"); v != "" {
		entity, err := core.ParseEntityType(v)
		if err != nil {
			s.respondError(w, r, err, http.StatusBadRequest)
			return
		}
		filter.Entity = entity
	}
	if from := q.Get("from"); from != "" {
		if t, err := time.Parse(core.DateLayout, from); err == nil {
			filter.Since = t
		}
	}
	if to := q.Get("to"); to != "" {
		if t, err := time.Parse(core.DateLayout, to); err == nil {
			filter.Until = t.Add(24*time.Hour - time.Nanosecond)
		}
	}

	entries, err := s.service.AuditLog(r.Context(), filter)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	if entries == nil {
		entries = []core.AuditEntry{}
	}

	writeJSON(w, r, http.StatusOK, map[string]any{
		"entries":  entries,
		"page":     page,
		"pageSize": auditPageSize,
	})
}

// handleImportHistory returns recent imports kept in memory, newest first.
func (s *Server) handleImportHistory(w http.ResponseWriter, r *http.Request) {
	var entity core.EntityType
	if v := strings.TrimSpace(r.URL.Query().Get("entity")); v != "" {
		et, err := core.ParseEntityType(v)
		if err != nil {
			s.respondError(w, r, err, http.StatusBadRequest)
			return
		}
		entity = et
	}

	history := s.service.History(entity, parseIntParam(r, "limit", 50))
	if history == nil {
		history = []core.ImportSummary{}
	}
	writeJSON(w, r, http.StatusOK, history)
}

// handleImportStatus returns the current state of the import limiter.
// Used for monitoring and to check if the system can accept more imports.
func (s *Server) handleImportStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, s.service.LimiterStatus())
}
