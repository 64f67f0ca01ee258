package core

// templates.go writes CSV files users can fill in or re-import: a header-only
// template per entity, and full exports whose headers are the primary aliases
// so an exported file maps back onto the same fields.

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
)

// Template writes the header row for entity.
func (s *Service) Template(entity EntityType, w io.Writer) error {
	return WriteTemplate(w, entity)
}

// WriteTemplate writes the header row for entity. It needs no store.
func WriteTemplate(w io.Writer, entity EntityType) error {
	def, ok := Get(entity)
	if !ok {
		return fmt.Errorf("unknown entity type %q", entity)
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(templateHeaders(def)); err != nil {
		return fmt.Errorf("write template: %w", err)
	}
	cw.Flush()
	return cw.Error()
}

// templateHeaders omits derived fields, which are never read on import.
func templateHeaders(def TableDefinition) []string {
	var headers []string
	for _, f := range def.ExportFields() {
		if !f.Derived {
			headers = append(headers, f.Label())
		}
	}
	return headers
}

// Export streams every stored row of entity as CSV and returns the number of
// data rows written.
func (s *Service) Export(ctx context.Context, entity EntityType, w io.Writer) (int, error) {
	def, ok := Get(entity)
	if !ok {
		return 0, fmt.Errorf("unknown entity type %q", entity)
	}

	fields := def.ExportFields()
	cw := csv.NewWriter(w)
	if err := cw.Write(def.Headers()); err != nil {
		return 0, fmt.Errorf("write header: %w", err)
	}

	var count int
	record := make([]string, len(fields))
	err := s.store.Export(ctx, def, func(row map[string]string) error {
		for i, f := range fields {
			record[i] = row[f.Name]
		}
		count++
		return cw.Write(record)
	})
	if err != nil {
		return count, fmt.Errorf("export %s: %w", entity, err)
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return count, fmt.Errorf("export %s: %w", entity, err)
	}
	return count, nil
}
