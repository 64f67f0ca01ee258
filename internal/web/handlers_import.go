package web

import (
	"net/http"

	"github.com/JonMunkholm/lims/internal/core"
)

// handlePreview analyzes an uploaded file and reports what an import would
// do. Nothing is written.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	entity, ok := s.entityParam(w, r)
	if !ok {
		return
	}

	up, err := s.readUpload(w, r, entity)
	if err != nil {
		s.respondError(w, r, err, badRequestUnlessTagged(err))
		return
	}
	defer up.file.Close()

	result, err := s.service.Preview(r.Context(), core.ImportRequest{
		Entity:   entity,
		FileName: up.name,
		Body:     up.file,
		Options:  up.options,
	})
	if err != nil {
		s.respondError(w, r, err, badRequestUnlessTagged(err))
		return
	}

	writeJSON(w, r, http.StatusOK, result)
}

// handleImport runs an import. The response body is the import summary in
// every case where the file could be read; the status reports the outcome:
//
//	200  completed
//	400  nothing imported, or too many failed rows
//	409  existing rows found and neither skip nor update chosen
//	503  allocation or connection failure (the failing batch rolled back)
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	entity, ok := s.entityParam(w, r)
	if !ok {
		return
	}

	up, err := s.readUpload(w, r, entity)
	if err != nil {
		s.respondError(w, r, err, badRequestUnlessTagged(err))
		return
	}
	defer up.file.Close()

	ctx := WithRequestMetadata(r.Context(), r)
	result, err := s.service.Execute(ctx, core.ImportRequest{
		Entity:   entity,
		FileName: up.name,
		Body:     up.file,
		Options:  up.options,
	})
	switch {
	case err == nil:
		writeJSON(w, r, http.StatusOK, result)
	case result != nil:
		s.respondImportError(w, r, err, result)
	default:
		s.respondError(w, r, err, badRequestUnlessTagged(err))
	}
}

// badRequestUnlessTagged lets statusFor decide for errors it recognizes and
// treats the rest (form parsing, option conflicts) as client errors.
func badRequestUnlessTagged(err error) int {
	if status := statusFor(err); status != http.StatusInternalServerError {
		return status
	}
	if ie, ok := core.AsError(err); ok && ie.Kind == core.KindInternal {
		return http.StatusInternalServerError
	}
	return http.StatusBadRequest
}
