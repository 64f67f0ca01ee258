package web

import (
	"fmt"
	"net/http"
	"time"

	"github.com/JonMunkholm/lims/internal/logging"
)

// handleHealth reports whether the store is reachable.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.service.Ping(r.Context()); err != nil {
		s.respondError(w, r, err, http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

// handleEntities lists the importable entities with their fields and aliases.
func (s *Server) handleEntities(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, s.service.Entities())
}

// handleTemplate returns a header-only CSV for an entity.
func (s *Server) handleTemplate(w http.ResponseWriter, r *http.Request) {
	entity, ok := s.entityParam(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s_template.csv"`, entity))
	if err := s.service.Template(entity, w); err != nil {
		logging.FromContext(r.Context()).Error("template write failed", "entity", entity, "error", err)
	}
}

// handleExport streams every row of an entity as CSV. The file re-imports
// cleanly: headers are the primary aliases and numbers are kept.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	entity, ok := s.entityParam(w, r)
	if !ok {
		return
	}

	timestamp := time.Now().Format("20060102_150405")
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s_%s.csv"`, entity, timestamp))

	n, err := s.service.Export(r.Context(), entity, w)

	// Can't change status code after writing, just log.
	logger := logging.FromContext(r.Context())
	if err != nil && r.Context().Err() == nil {
		logger.Error("export failed", "entity", entity, "rows", n, "error", err)
		return
	}
	logger.Debug("export finished", "entity", entity, "rows", n)
}

// handlePeekNumber returns the next number for an entity without using it.
func (s *Server) handlePeekNumber(w http.ResponseWriter, r *http.Request) {
	entity, ok := s.entityParam(w, r)
	if !ok {
		return
	}

	n, err := s.service.PeekNumber(r.Context(), entity)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	writeJSON(w, r, http.StatusOK, numberResponse{Entity: string(entity), Number: n})
}

// handleAllocateNumber consumes the next number for an entity, for records
// created outside an import.
func (s *Server) handleAllocateNumber(w http.ResponseWriter, r *http.Request) {
	entity, ok := s.entityParam(w, r)
	if !ok {
		return
	}

	ctx := WithRequestMetadata(r.Context(), r)
	n, err := s.service.AllocateNumber(ctx, entity)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	writeJSON(w, r, http.StatusCreated, numberResponse{Entity: string(entity), Number: n})
}

type numberResponse struct {
	Entity string `json:"entity"`
	Number int64  `json:"number"`
}
