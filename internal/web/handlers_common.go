package web

import (
	"fmt"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/JonMunkholm/lims/internal/core"
	"github.com/go-chi/chi/v5"
)

// multipartMemory is how much of an upload is buffered in memory before
// spilling to a temp file.
const multipartMemory = 8 << 20

// formOverhead leaves room for the multipart envelope and the flag fields on
// top of the configured file size.
const formOverhead = 1 << 20

// entityParam resolves the {entity} URL parameter. It writes a 404 and
// returns false for unknown entities.
func (s *Server) entityParam(w http.ResponseWriter, r *http.Request) (core.EntityType, bool) {
	entity, err := core.ParseEntityType(chi.URLParam(r, "entity"))
	if err == nil {
		if _, ok := core.Get(entity); ok {
			return entity, true
		}
		err = fmt.Errorf("unknown entity type %q", entity)
	}
	s.respondError(w, r, err, http.StatusNotFound)
	return "", false
}

// upload is a parsed multipart import request.
type upload struct {
	file    multipart.File
	name    string
	options core.ImportOptions
}

// readUpload parses the multipart form: the "file" part plus the import flags.
// The caller closes upload.file.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request, entity core.EntityType) (*upload, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Import.MaxFileSize+formOverhead)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		return nil, err
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, fmt.Errorf("no file provided: %w", err)
	}

	opts, err := parseImportOptions(r, entity)
	if err != nil {
		file.Close()
		return nil, err
	}
	return &upload{file: file, name: header.Filename, options: opts}, nil
}

// parseImportOptions reads the import flags from the form or query string:
//
//	preserve, skipDuplicates, updateDuplicates, scopeToProject  yes/no
//	batchSize                                                   positive integer
//	project                                                     number of the project every row belongs to
//	default.<field>                                             value used where <field> is empty
func parseImportOptions(r *http.Request, entity core.EntityType) (core.ImportOptions, error) {
	var opts core.ImportOptions
	var err error

	if opts.Preserve, err = boolParam(r, "preserve"); err != nil {
		return opts, err
	}
	if opts.SkipDuplicates, err = boolParam(r, "skipDuplicates"); err != nil {
		return opts, err
	}
	if opts.UpdateDuplicates, err = boolParam(r, "updateDuplicates"); err != nil {
		return opts, err
	}
	if opts.ScopeToProject, err = boolParam(r, "scopeToProject"); err != nil {
		return opts, err
	}

	if v := strings.TrimSpace(r.FormValue("batchSize")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return opts, &core.Error{Kind: core.KindValidation, Code: core.CodeInvalidNumber, Field: "batchSize",
				Message: fmt.Sprintf("batchSize must be a positive integer, got %q", v)}
		}
		opts.BatchSize = n
	}

	for key, values := range r.Form {
		field, ok := strings.CutPrefix(key, "default.")
		if !ok || field == "" || len(values) == 0 {
			continue
		}
		if opts.Defaults == nil {
			opts.Defaults = make(map[string]string)
		}
		opts.Defaults[field] = values[0]
	}

	if project := strings.TrimSpace(r.FormValue("project")); project != "" {
		field, ok := projectField(entity)
		if !ok {
			return opts, &core.Error{Kind: core.KindValidation, Code: core.CodeInvalidEnum, Field: "project",
				Message: fmt.Sprintf("%s rows do not belong to a project", entity)}
		}
		if opts.Defaults == nil {
			opts.Defaults = make(map[string]string)
		}
		opts.Defaults[field] = project
	}

	return opts, nil
}

// projectField returns the field of entity that references a project.
func projectField(entity core.EntityType) (string, bool) {
	def, ok := core.Get(entity)
	if !ok {
		return "", false
	}
	for _, ref := range def.References {
		if ref.Entity == core.EntityProject {
			return ref.Field, true
		}
	}
	return "", false
}

// boolParam parses a yes/no flag; absent means false.
func boolParam(r *http.Request, name string) (bool, error) {
	v := r.FormValue(name)
	if strings.TrimSpace(v) == "" {
		return false, nil
	}
	b, ok := core.ParseBool(v)
	if !ok {
		return false, &core.Error{Kind: core.KindValidation, Code: core.CodeInvalidBoolean, Field: name,
			Message: fmt.Sprintf("%s must be yes/no, true/false or 1/0, got %q", name, v)}
	}
	return b, nil
}

// parseIntParam parses an integer query parameter with a default value.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	val := r.URL.Query().Get(name)
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil || i < 1 {
		return defaultVal
	}
	return i
}
