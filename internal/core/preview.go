package core

import (
	"context"
	"fmt"
	"time"
)

// Preview caps.
const (
	DefaultPreviewRows = 50
	maxPreviewErrors   = 20
	maxPreviewSamples  = 10
)

// PreviewSummary contains the counts of a preview.
type PreviewSummary struct {
	TotalRows        int `json:"totalRows"`
	AnalyzedRows     int `json:"analyzedRows"`
	ValidRows        int `json:"validRows"`
	ErrorRows        int `json:"errorRows"`
	NewRows          int `json:"newRows"`
	ExistingRows     int `json:"existingRows"`
	InFileDuplicates int `json:"inFileDuplicates"`
}

// RowSample is one analyzed row as it would be written.
type RowSample struct {
	Line        int               `json:"line"`
	Action      Action            `json:"action"`
	Number      int64             `json:"number,omitempty"`
	DuplicateOf int               `json:"duplicateOf,omitempty"`
	Values      map[string]string `json:"values"`
}

// PreviewResult is the read-only analysis of a file.
type PreviewResult struct {
	Entity     EntityType                 `json:"entity"`
	FileName   string                     `json:"fileName"`
	Mode       string                     `json:"mode"`
	Summary    PreviewSummary             `json:"summary"`
	Mapping    MappingFeedback            `json:"mapping"`
	References map[string]ReferenceCounts `json:"references,omitempty"`
	Errors     []RowError                 `json:"errors"`
	Samples    []RowSample                `json:"samples"`
	Warnings   []string                   `json:"warnings,omitempty"`

	// ExistingKeys samples rows matching stored records.
	ExistingKeys []string `json:"existingKeys,omitempty"`

	// WouldReject is set when existing rows were found and neither skip nor
	// update was chosen: executing would be rejected.
	WouldReject bool `json:"wouldReject"`

	// NextNumber is the number the next created row would get right now.
	// Informational only; concurrent imports may take it first.
	NextNumber int64 `json:"nextNumber"`

	ProcessingTimeMs int64 `json:"processingTimeMs"`
}

// Preview decodes a file and analyzes its first rows without writing
// anything: mapping, validation, reference resolution, duplicate detection and,
// in preserve mode, identifier collisions.
func (s *Service) Preview(ctx context.Context, req ImportRequest) (*PreviewResult, error) {
	def, ok := Get(req.Entity)
	if !ok {
		return nil, fmt.Errorf("unknown entity type %q", req.Entity)
	}
	started := time.Now()
	opts := req.Options

	sheet, err := Decode(req.FileName, req.Body, s.cfg.MaxFileSize)
	if err != nil {
		return nil, err
	}

	limit := s.cfg.PreviewRows
	if limit <= 0 {
		limit = DefaultPreviewRows
	}
	rows := sheet.Rows
	if len(rows) > limit {
		rows = rows[:limit]
	}

	p, err := s.prepare(ctx, def, sheet.Headers, rows, opts)
	if err != nil {
		return nil, err
	}

	if opts.Preserve {
		errs, err := PlanPreserved(ctx, s.store, def, p.records)
		if err != nil {
			return nil, err
		}
		p.records = p.reject(p.records, errs)
	}

	res := &PreviewResult{
		Entity:       def.Info.Entity,
		FileName:     req.FileName,
		Mode:         modeOf(opts),
		Mapping:      p.mapping.Feedback,
		References:   p.refs.Counts,
		Warnings:     p.warnings,
		ExistingKeys: p.resolution.ExistingKeys,
		Summary: PreviewSummary{
			TotalRows:        len(sheet.Rows),
			AnalyzedRows:     len(rows),
			ValidRows:        len(p.records),
			ErrorRows:        len(p.failed),
			NewRows:          p.resolution.New,
			ExistingRows:     p.resolution.Existing,
			InFileDuplicates: p.resolution.InFileDuplicates,
		},
		WouldReject: p.resolution.Existing > 0 && !opts.SkipDuplicates && !opts.UpdateDuplicates,
	}

	var all ImportResult
	p.setErrors(&all, nil)
	res.Errors = all.Errors
	if len(res.Errors) > maxPreviewErrors {
		res.Errors = res.Errors[:maxPreviewErrors]
	}

	for _, rec := range p.records {
		if len(res.Samples) == maxPreviewSamples {
			break
		}
		res.Samples = append(res.Samples, RowSample{
			Line:        rec.Line,
			Action:      rec.Action,
			Number:      rec.Number,
			DuplicateOf: rec.DuplicateOf,
			Values:      rec.Values,
		})
	}

	next, err := s.ids.Peek(ctx, def.Info.Entity)
	if err != nil {
		return nil, err
	}
	res.NextNumber = next
	res.ProcessingTimeMs = time.Since(started).Milliseconds()
	return res, nil
}
